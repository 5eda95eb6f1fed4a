// Package summary turns a day's synced records into a short narrative, the
// text block the calendar's "daily newspaper" view shows above the raw
// records. The narrative is template-filled from rollups and headline
// records; when a language model is configured the digest is rewritten into
// prose. Results are cached per day and invalidated by the sync engine when
// new data lands.
package summary

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"text/template"
	"time"
	"unicode/utf8"

	"lifecal/internal/storage"
)

// LLMClient is the narrow chat interface the generator needs. It is optional;
// a nil client means the templated digest is served as-is.
type LLMClient interface {
	Chat(ctx context.Context, system, user string) (string, error)
}

const rewriteSystemPrompt = `You are the editor of a one-person daily newspaper.
Rewrite the provided digest of one day of personal activity into two or three
short narrative paragraphs of markdown. Keep every fact; invent nothing.`

// maxHeadlines caps how many record titles feed the digest per source.
const maxHeadlines = 5

// digestTemplate renders the raw markdown digest that either becomes the
// narrative directly or is handed to the model for rewriting.
var digestTemplate = template.Must(template.New("digest").Parse(
	`# {{.DayLong}}

{{range .Sections}}## {{.Source}} ({{.Count}} records)
{{range .Headlines}}- {{.}}
{{end}}
{{end}}`))

type digestSection struct {
	Source    string
	Count     int
	Headlines []string
}

type digestData struct {
	DayLong  string
	Sections []digestSection
}

// Generator builds and caches daily narratives.
type Generator struct {
	records storage.RecordStore
	rollups storage.RollupStore
	llm     LLMClient
	logger  *slog.Logger
}

// NewGenerator creates a new Generator. llm may be nil.
func NewGenerator(records storage.RecordStore, rollups storage.RollupStore, llm LLMClient, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{records: records, rollups: rollups, llm: llm, logger: logger}
}

// DailyNarrative returns the narrative markdown for a day, generating and
// caching it on first request. Days with no data get a one-line placeholder
// that is not cached, so data arriving later still produces a real narrative.
func (g *Generator) DailyNarrative(ctx context.Context, day string) (string, error) {
	cached, err := g.rollups.GetSummary(ctx, day)
	if err == nil {
		return cached.Narrative, nil
	}
	if err != storage.ErrNotFound {
		return "", fmt.Errorf("failed to read cached summary: %w", err)
	}

	narrative, hasData, err := g.generate(ctx, day)
	if err != nil {
		return "", err
	}
	if !hasData {
		return narrative, nil
	}

	if err := g.rollups.SaveSummary(ctx, &storage.DailySummary{
		Day:         day,
		Narrative:   narrative,
		GeneratedAt: time.Now().UTC(),
	}); err != nil {
		// Serving an uncached narrative beats failing the request
		g.logger.WarnContext(ctx, "failed to cache day summary", "day", day, "error", err)
	}
	return narrative, nil
}

func (g *Generator) generate(ctx context.Context, day string) (string, bool, error) {
	dayTime, err := time.Parse(storage.DayFormat, day)
	if err != nil {
		return "", false, fmt.Errorf("invalid day %q: %w", day, err)
	}

	rollups, err := g.rollups.ListRange(ctx, day, day)
	if err != nil {
		return "", false, fmt.Errorf("failed to read rollups: %w", err)
	}
	records, err := g.records.ListByDay(ctx, day)
	if err != nil {
		return "", false, fmt.Errorf("failed to read records: %w", err)
	}

	if len(rollups) == 0 && len(records) == 0 {
		return fmt.Sprintf("Nothing synced for %s yet.", day), false, nil
	}

	data := digestData{DayLong: dayTime.Format("Monday, January 2, 2006")}
	headlines := make(map[string][]string)
	for _, rec := range records {
		if len(headlines[rec.Source]) >= maxHeadlines {
			continue
		}
		headlines[rec.Source] = append(headlines[rec.Source], headline(rec))
	}
	for _, rollup := range rollups {
		if !rollup.HasData {
			continue
		}
		data.Sections = append(data.Sections, digestSection{
			Source:    rollup.Source,
			Count:     rollup.RecordCount,
			Headlines: headlines[rollup.Source],
		})
	}

	var buf strings.Builder
	if err := digestTemplate.Execute(&buf, data); err != nil {
		return "", false, fmt.Errorf("failed to render digest: %w", err)
	}
	digest := buf.String()

	if g.llm == nil {
		return digest, true, nil
	}

	rewritten, err := g.llm.Chat(ctx, rewriteSystemPrompt, digest)
	if err != nil {
		// The digest is already a valid narrative; the model is an upgrade,
		// not a dependency
		g.logger.WarnContext(ctx, "narrative rewrite failed, serving digest", "day", day, "error", err)
		return digest, true, nil
	}
	return rewritten, true, nil
}

// headline picks the most readable one-liner a record offers.
func headline(rec *storage.Record) string {
	text := rec.Title
	if text == "" {
		text = rec.Body
	}
	if text == "" {
		text = fmt.Sprintf("%s %s", rec.Kind, rec.ExternalID)
	}
	text = strings.ReplaceAll(text, "\n", " ")
	if len(text) > 120 {
		cut := 117
		// Back up to a rune boundary so the cut never splits a multi-byte rune
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut] + "..."
	}
	return fmt.Sprintf("%s %s", rec.OccurredAt.UTC().Format("15:04"), text)
}
