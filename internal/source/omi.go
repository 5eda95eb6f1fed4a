package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// OmiClient fetches conversations (and optionally facts and todos) from the
// wearable companion API. The three endpoints are offset-paged, so the client
// walks them as phases of one cursor space: conversations first, then facts,
// then todos. Cursor format is "<phase>:<offset>"; the initial "" cursor means
// "conversations:0".
type OmiClient struct {
	BaseURL    string
	APIKey     string
	FetchFacts bool
	FetchTodos bool
	client     *http.Client
}

// NewOmiClient creates a new Omi client.
func NewOmiClient(baseURL, apiKey string, fetchFacts, fetchTodos bool) *OmiClient {
	return &OmiClient{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		FetchFacts: fetchFacts,
		FetchTodos: fetchTodos,
		client:     &http.Client{Timeout: 30 * time.Second},
	}
}

// Name returns the source name.
func (c *OmiClient) Name() string {
	return "omi"
}

// phase describes one offset-paged endpoint in the cursor space.
type omiPhase struct {
	name string
	path string
	kind string
}

func (c *OmiClient) phases() []omiPhase {
	phases := []omiPhase{{name: "conversations", path: "/v2/conversations", kind: "conversation"}}
	if c.FetchFacts {
		phases = append(phases, omiPhase{name: "facts", path: "/v2/facts", kind: "fact"})
	}
	if c.FetchTodos {
		phases = append(phases, omiPhase{name: "todos", path: "/v2/action-items", kind: "todo"})
	}
	return phases
}

// FetchPage fetches one page from the current phase. When a phase is
// exhausted (short page), the cursor moves to the start of the next phase so
// the walker keeps going; after the last phase the cursor is "".
func (c *OmiClient) FetchPage(ctx context.Context, since time.Time, cursor string, limit int) (Page, error) {
	phases := c.phases()
	phaseIdx, offset, err := parseOmiCursor(cursor, phases)
	if err != nil {
		return Page{}, err
	}
	phase := phases[phaseIdx]

	items, err := c.fetchPhase(ctx, phase, since, offset, limit)
	if err != nil {
		return Page{}, err
	}

	page := Page{Items: items}
	if len(items) < limit {
		// Phase exhausted; hand the walker the next phase or finish.
		if phaseIdx+1 < len(phases) {
			page.NextCursor = phases[phaseIdx+1].name + ":0"
		}
	} else {
		page.NextCursor = fmt.Sprintf("%s:%d", phase.name, offset+len(items))
	}
	return page, nil
}

func (c *OmiClient) fetchPhase(ctx context.Context, phase omiPhase, since time.Time, offset, limit int) ([]RawRecord, error) {
	u, err := url.Parse(c.BaseURL + phase.path)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base URL %q: %v", ErrBadConfig, c.BaseURL, err)
	}

	q := u.Query()
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	if !since.IsZero() {
		q.Set("since", since.UTC().Format(time.RFC3339))
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.APIKey))
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", phase.name, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("%w: status %d", ErrUnauthorized, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("bad status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", phase.name, err)
	}

	items := make([]RawRecord, 0, len(parsed))
	for _, fields := range parsed {
		items = append(items, RawRecord{Kind: phase.kind, Fields: fields})
	}
	return items, nil
}

func parseOmiCursor(cursor string, phases []omiPhase) (int, int, error) {
	if cursor == "" {
		return 0, 0, nil
	}

	name, offsetStr, ok := strings.Cut(cursor, ":")
	if !ok {
		return 0, 0, fmt.Errorf("malformed cursor %q", cursor)
	}
	offset, err := strconv.Atoi(offsetStr)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed cursor offset %q: %w", cursor, err)
	}
	for i, p := range phases {
		if p.name == name {
			return i, offset, nil
		}
	}
	return 0, 0, fmt.Errorf("unknown cursor phase %q", name)
}
