package sync

import (
	"encoding/json"
	"fmt"
	"time"

	"lifecal/internal/source"
	"lifecal/internal/storage"
)

// Rejection reason codes. Rejections are counted by the engine and logged;
// they never abort a batch.
const (
	ReasonMissingRequiredField = "missing_required_field"
	ReasonInvalidTimestamp     = "invalid_timestamp"
)

// Rejection describes why one raw record was dropped from a batch.
type Rejection struct {
	Source string
	Kind   string
	Reason string
	Detail string
}

// NormalizedChild is a child record extracted from a raw parent, before it
// has a durable parent ID. Children may nest (content-node trees).
type NormalizedChild struct {
	ExternalID string
	Kind       string
	Speaker    string
	Content    string
	SpokeAt    *time.Time
	Payload    map[string]any
	Children   []NormalizedChild
}

// NormalizedRecord is the canonical form of one raw record: a storage.Record
// ready for the reconciler (ID unset) plus its extracted child tree.
type NormalizedRecord struct {
	Record   storage.Record
	Children []NormalizedChild
}

// recordSpec declares, per (source, kind), the ordered candidate key names
// for each logical field. Sources are inconsistent about naming; resolution
// takes the first candidate present. Keeping this declarative keeps the
// normalizer free of per-source branching.
type recordSpec struct {
	externalID   []string
	occurredAt   []string
	occurredEnd  []string
	lastModified []string
	title        []string
	body         []string
	// payloadNums/payloadBools are type-specific payload fields that must
	// never be null in the store: numbers default to 0, booleans to the
	// declared default. A missing confirmation flag defaults to true because
	// the sources in scope treat unconfirmed-but-present data as confirmed.
	payloadNums  []string
	payloadBools map[string]bool
	children     *childSpec
}

// childSpec declares how to extract a record's children.
type childSpec struct {
	containers []string // candidate keys holding the child array
	kind       string
	externalID []string
	speaker    []string
	content    []string
	spokeAt    []string
	nested     []string // candidate keys for a nested child array (trees)
}

var recordSpecs = map[string]map[string]recordSpec{
	"limitless": {
		"lifelog": {
			externalID:   []string{"id", "lifelogId", "_id"},
			occurredAt:   []string{"startTime", "start_time", "timestamp"},
			occurredEnd:  []string{"endTime", "end_time"},
			lastModified: []string{"updatedAt", "updated_at", "lastModified"},
			title:        []string{"title", "heading"},
			body:         []string{"markdown", "summary"},
			children: &childSpec{
				containers: []string{"contents", "content_nodes"},
				kind:       "content_node",
				externalID: []string{"id", "nodeId"},
				speaker:    []string{"speakerName", "speaker_name", "speaker"},
				content:    []string{"content", "text"},
				spokeAt:    []string{"startTime", "start_time"},
				nested:     []string{"children", "nodes"},
			},
		},
	},
	"omi": {
		"conversation": {
			externalID:   []string{"id", "conversation_id", "uuid"},
			occurredAt:   []string{"created_at", "createdAt", "started_at", "start_time"},
			occurredEnd:  []string{"finished_at", "finishedAt", "ended_at"},
			lastModified: []string{"updated_at", "updatedAt"},
			title:        []string{"title", "name"},
			body:         []string{"overview", "summary"},
			payloadBools: map[string]bool{"confirmed": true, "discarded": false},
			children: &childSpec{
				containers: []string{"transcript_segments", "segments", "utterances"},
				kind:       "utterance",
				externalID: []string{"id", "segment_id"},
				speaker:    []string{"speaker", "speaker_name"},
				content:    []string{"text", "content"},
				spokeAt:    []string{"timestamp", "spoke_at"},
			},
		},
		"fact": {
			externalID:   []string{"id"},
			occurredAt:   []string{"created_at", "createdAt"},
			lastModified: []string{"updated_at", "updatedAt"},
			body:         []string{"content", "text"},
			payloadBools: map[string]bool{"confirmed": true},
		},
		"todo": {
			externalID:   []string{"id"},
			occurredAt:   []string{"created_at", "createdAt"},
			lastModified: []string{"updated_at", "completed_at"},
			body:         []string{"description", "content", "text"},
			payloadBools: map[string]bool{"completed": false},
		},
	},
	"weather": {
		"weather": {
			externalID:  []string{"date", "day", "id"},
			occurredAt:  []string{"date", "time"},
			payloadNums: []string{"temperature_max", "temperature_min", "precipitation_sum", "weather_code"},
		},
	},
	"mood": {
		"mood": {
			externalID:   []string{"id"},
			occurredAt:   []string{"felt_at", "feltAt", "timestamp"},
			lastModified: []string{"entered_at", "enteredAt"},
			body:         []string{"note"},
			payloadNums:  []string{"score"},
		},
	},
}

// timeLayouts are tried in order for string-valued timestamps.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Normalizer maps raw source records into canonical records.
type Normalizer struct{}

// NewNormalizer creates a new Normalizer.
func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// Normalize converts one raw record into canonical form, or rejects it.
// A record missing its external ID or carrying an unparsable primary
// timestamp is rejected, never defaulted: a guessed timestamp would land the
// record in the wrong day bucket, which is worse than dropping it.
func (n *Normalizer) Normalize(src string, raw source.RawRecord) (*NormalizedRecord, *Rejection) {
	spec, ok := recordSpecs[src][raw.Kind]
	if !ok {
		return nil, &Rejection{
			Source: src, Kind: raw.Kind,
			Reason: ReasonMissingRequiredField,
			Detail: fmt.Sprintf("no field mapping for %s/%s", src, raw.Kind),
		}
	}

	externalID, ok := firstString(raw.Fields, spec.externalID)
	if !ok || externalID == "" {
		return nil, &Rejection{
			Source: src, Kind: raw.Kind,
			Reason: ReasonMissingRequiredField,
			Detail: "external id absent",
		}
	}

	occurredAt, ok := firstTime(raw.Fields, spec.occurredAt)
	if !ok {
		return nil, &Rejection{
			Source: src, Kind: raw.Kind,
			Reason: ReasonInvalidTimestamp,
			Detail: fmt.Sprintf("record %s has no parsable primary timestamp", externalID),
		}
	}

	rec := storage.Record{
		Source:     src,
		Kind:       raw.Kind,
		ExternalID: externalID,
		OccurredAt: occurredAt,
	}
	if end, ok := firstTime(raw.Fields, spec.occurredEnd); ok {
		rec.OccurredEnd = &end
	}
	if mod, ok := firstTime(raw.Fields, spec.lastModified); ok {
		rec.LastModifiedAt = &mod
	}
	rec.Title, _ = firstString(raw.Fields, spec.title)
	rec.Body, _ = firstString(raw.Fields, spec.body)

	payload := buildPayload(raw.Fields, spec)
	encoded, err := json.Marshal(payload)
	if err != nil {
		// map[string]any from decoded JSON always marshals; guard anyway
		encoded = []byte("{}")
	}
	rec.Payload = string(encoded)

	out := &NormalizedRecord{Record: rec}
	if spec.children != nil {
		out.Children = extractChildren(raw.Fields, spec.children)
	}
	return out, nil
}

// buildPayload collects the type-specific payload: every field not consumed
// by a canonical column, with declared numeric/boolean fields defaulted so
// the schema never sees null where it disallows it.
func buildPayload(fields map[string]any, spec recordSpec) map[string]any {
	consumed := make(map[string]bool)
	for _, keys := range [][]string{spec.externalID, spec.occurredAt, spec.occurredEnd, spec.lastModified, spec.title, spec.body} {
		for _, k := range keys {
			consumed[k] = true
		}
	}
	if spec.children != nil {
		for _, k := range spec.children.containers {
			consumed[k] = true
		}
	}

	payload := make(map[string]any)
	for k, v := range fields {
		if !consumed[k] {
			payload[k] = v
		}
	}
	for _, k := range spec.payloadNums {
		if _, ok := payload[k]; !ok {
			payload[k] = 0
		}
	}
	for k, def := range spec.payloadBools {
		if _, ok := payload[k]; !ok {
			payload[k] = def
		}
	}
	return payload
}

// extractChildren pulls the child array out of a raw record, recursing into
// nested arrays for content trees. Children without a source-given ID get a
// deterministic positional one ("n0.2.1") so redelivery stays a no-op as long
// as the source preserves order, which the sources in scope do.
func extractChildren(fields map[string]any, spec *childSpec) []NormalizedChild {
	var rawChildren []any
	for _, key := range spec.containers {
		if arr, ok := fields[key].([]any); ok {
			rawChildren = arr
			break
		}
	}
	return convertChildren(rawChildren, spec, "n")
}

func convertChildren(raw []any, spec *childSpec, idPrefix string) []NormalizedChild {
	var children []NormalizedChild
	for i, item := range raw {
		node, ok := item.(map[string]any)
		if !ok {
			continue
		}

		child := NormalizedChild{Kind: spec.kind}
		child.ExternalID, ok = firstString(node, spec.externalID)
		if !ok || child.ExternalID == "" {
			child.ExternalID = fmt.Sprintf("%s%d", idPrefix, i)
		}
		child.Speaker, _ = firstString(node, spec.speaker)
		child.Content, _ = firstString(node, spec.content)
		if at, ok := firstTime(node, spec.spokeAt); ok {
			child.SpokeAt = &at
		}

		child.Payload = make(map[string]any)
		consumed := make(map[string]bool)
		for _, keys := range [][]string{spec.externalID, spec.speaker, spec.content, spec.spokeAt, spec.nested} {
			for _, k := range keys {
				consumed[k] = true
			}
		}
		for k, v := range node {
			if !consumed[k] {
				child.Payload[k] = v
			}
		}

		for _, key := range spec.nested {
			if arr, ok := node[key].([]any); ok {
				child.Children = convertChildren(arr, spec, fmt.Sprintf("%s%d.", idPrefix, i))
				break
			}
		}

		children = append(children, child)
	}
	return children
}

// firstString resolves an ordered candidate list to the first present value,
// stringifying numeric IDs the way inconsistent sources require.
func firstString(fields map[string]any, candidates []string) (string, bool) {
	for _, key := range candidates {
		v, ok := fields[key]
		if !ok || v == nil {
			continue
		}
		switch val := v.(type) {
		case string:
			return val, true
		case float64:
			// JSON numbers decode as float64; integral IDs round-trip cleanly
			if val == float64(int64(val)) {
				return fmt.Sprintf("%d", int64(val)), true
			}
			return fmt.Sprintf("%g", val), true
		case int:
			return fmt.Sprintf("%d", val), true
		}
	}
	return "", false
}

// firstTime resolves an ordered candidate list to the first parsable instant.
func firstTime(fields map[string]any, candidates []string) (time.Time, bool) {
	for _, key := range candidates {
		v, ok := fields[key]
		if !ok || v == nil {
			continue
		}
		if t, ok := parseInstant(v); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

// parseInstant parses the timestamp shapes the sources emit: RFC3339 strings,
// plain dates, and unix epochs in seconds or milliseconds.
func parseInstant(v any) (time.Time, bool) {
	switch val := v.(type) {
	case string:
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, val); err == nil {
				return t, true
			}
		}
	case float64:
		if val <= 0 {
			return time.Time{}, false
		}
		// Heuristic: values past the year 5138 in seconds are milliseconds
		if val > 1e11 {
			return time.UnixMilli(int64(val)).UTC(), true
		}
		return time.Unix(int64(val), 0).UTC(), true
	}
	return time.Time{}, false
}
