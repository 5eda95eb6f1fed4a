package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// LimitlessClient fetches lifelog entries from the Limitless API.
// Lifelogs carry a nested content-node tree under "contents".
type LimitlessClient struct {
	BaseURL string
	APIKey  string
	client  *http.Client
}

// NewLimitlessClient creates a new Limitless client.
func NewLimitlessClient(baseURL, apiKey string) *LimitlessClient {
	return &LimitlessClient{
		BaseURL: baseURL,
		APIKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Name returns the source name.
func (c *LimitlessClient) Name() string {
	return "limitless"
}

// limitlessResponse mirrors the envelope the lifelogs endpoint returns.
type limitlessResponse struct {
	Data struct {
		Lifelogs []map[string]any `json:"lifelogs"`
	} `json:"data"`
	Meta struct {
		Lifelogs struct {
			NextCursor string `json:"nextCursor"`
		} `json:"lifelogs"`
	} `json:"meta"`
}

// FetchPage fetches one page of lifelogs updated since the given instant.
func (c *LimitlessClient) FetchPage(ctx context.Context, since time.Time, cursor string, limit int) (Page, error) {
	u, err := url.Parse(fmt.Sprintf("%s/v1/lifelogs", c.BaseURL))
	if err != nil {
		return Page{}, fmt.Errorf("%w: invalid base URL %q: %v", ErrBadConfig, c.BaseURL, err)
	}

	q := u.Query()
	q.Set("limit", fmt.Sprintf("%d", limit))
	q.Set("direction", "asc")
	q.Set("includeMarkdown", "true")
	if !since.IsZero() {
		q.Set("start", since.UTC().Format(time.RFC3339))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Page{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-API-Key", c.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("failed to fetch lifelogs: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return Page{}, fmt.Errorf("%w: status %d", ErrUnauthorized, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return Page{}, fmt.Errorf("bad status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed limitlessResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Page{}, fmt.Errorf("failed to decode response: %w", err)
	}

	page := Page{NextCursor: parsed.Meta.Lifelogs.NextCursor}
	for _, fields := range parsed.Data.Lifelogs {
		page.Items = append(page.Items, RawRecord{Kind: "lifelog", Fields: fields})
	}
	return page, nil
}
