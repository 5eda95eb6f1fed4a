package sync

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"lifecal/internal/storage"
)

// maxChildDepth bounds content-node nesting. Trees deeper than this are
// assumed malformed and the remainder is skipped.
const maxChildDepth = 32

// MaterializeStats counts one record's child persistence.
type MaterializeStats struct {
	Written int
	Skipped int // failed inserts plus their abandoned subtrees
	NoOps   int // redeliveries that already existed
}

// Materializer persists a record's child tree after the parent row is
// durable. Traversal is depth-first in source order, driven by an explicit
// stack rather than recursion so a malformed or adversarial tree cannot
// exhaust the call stack.
type Materializer struct {
	children storage.ChildStore
	logger   *slog.Logger
}

// NewMaterializer creates a new Materializer.
func NewMaterializer(children storage.ChildStore, logger *slog.Logger) *Materializer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Materializer{children: children, logger: logger}
}

type childFrame struct {
	child         NormalizedChild
	parentChildID string
	order         int
	depth         int
}

// Materialize persists the child tree under an already-committed record.
// A child that fails to persist is logged and skipped together with its
// subtree; siblings and the parent are unaffected. Redelivered children are
// no-ops by the (record, external id) key.
func (m *Materializer) Materialize(ctx context.Context, rec *storage.Record, children []NormalizedChild) MaterializeStats {
	var stats MaterializeStats

	stack := make([]childFrame, 0, len(children))
	push := func(items []NormalizedChild, parentChildID string, depth int) {
		// Reversed so the stack pops in source order
		for i := len(items) - 1; i >= 0; i-- {
			stack = append(stack, childFrame{
				child:         items[i],
				parentChildID: parentChildID,
				order:         i,
				depth:         depth,
			})
		}
	}
	push(children, "", 0)

	for len(stack) > 0 {
		frame := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if frame.depth >= maxChildDepth {
			stats.Skipped += 1 + countTree(frame.child.Children)
			m.logger.WarnContext(ctx, "child tree exceeds depth bound, skipping subtree",
				"record_id", rec.ID, "external_id", frame.child.ExternalID, "depth", frame.depth)
			continue
		}

		payload := "{}"
		if len(frame.child.Payload) > 0 {
			if encoded, err := json.Marshal(frame.child.Payload); err == nil {
				payload = string(encoded)
			}
		}

		row := &storage.ChildRecord{
			ID:            uuid.New().String(),
			RecordID:      rec.ID,
			ParentChildID: frame.parentChildID,
			ExternalID:    frame.child.ExternalID,
			Kind:          frame.child.Kind,
			SiblingOrder:  frame.order,
			Speaker:       frame.child.Speaker,
			Content:       frame.child.Content,
			SpokeAt:       frame.child.SpokeAt,
			Payload:       payload,
		}

		inserted, err := m.children.Insert(ctx, row)
		if err != nil {
			// Skip this subtree; its parent link would dangle otherwise
			stats.Skipped += 1 + countTree(frame.child.Children)
			m.logger.WarnContext(ctx, "failed to persist child record, skipping subtree",
				"record_id", rec.ID, "external_id", frame.child.ExternalID, "error", err)
			continue
		}

		if inserted {
			stats.Written++
			push(frame.child.Children, row.ID, frame.depth+1)
		} else {
			// Redelivery: the row (and its subtree) already exists
			stats.NoOps += 1 + countTree(frame.child.Children)
		}
	}

	return stats
}

func countTree(children []NormalizedChild) int {
	n := len(children)
	for _, c := range children {
		n += countTree(c.Children)
	}
	return n
}
