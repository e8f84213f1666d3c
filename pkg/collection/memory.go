package collection

import (
	"context"
	"encoding/json"

	"github.com/velesdb/velesdb/internal/verror"
)

// Memory is a thin convenience layer over upsert/search scoped to a
// session_id payload field, for conversational-agent recall. Grounded on
// the teacher's pkg/memory recall/reflect shape and pkg/hindsight bank
// pattern, generalized from original_source's
// crates/velesdb-core/src/agent/memory.rs.
type Memory struct {
	Collection *Collection
}

// NewMemory wraps an existing collection as an agent-memory bank. No
// property index is required: RecallSimilar scopes by session_id by
// filtering decoded payloads, not through an index.
func NewMemory(c *Collection) *Memory {
	return &Memory{Collection: c}
}

// Fact is one remembered utterance or observation.
type Fact struct {
	ID     uint64
	Vector []float32
	Text   string
	Extra  map[string]any
}

func decodeFields(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, verror.Wrap("collection.decodeFields", verror.KindInvalidArgument, err)
	}
	return fields, nil
}

// RememberBatch upserts a batch of facts, all tagged with sessionID so
// RecallSimilar can later scope its search to this conversation.
func (m *Memory) RememberBatch(sessionID string, facts []Fact) ([]uint64, error) {
	ids := make([]uint64, 0, len(facts))
	for _, f := range facts {
		fields := map[string]any{"session_id": sessionID, "text": f.Text}
		for k, v := range f.Extra {
			fields[k] = v
		}
		id, err := m.Collection.Upsert(f.ID, f.Vector, fields)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// RecallSimilar returns up to k facts within sessionID, ranked by distance
// to query. It searches the k*8 nearest points of the whole collection and
// keeps those tagged with sessionID, so it returns fewer than k facts when
// fewer of the session's facts fall within that candidate set.
func (m *Memory) RecallSimilar(ctx context.Context, sessionID string, query []float32, k int) ([]Fact, error) {
	ef := k * 4
	if ef < 64 {
		ef = 64
	}
	results, err := m.Collection.Search(ctx, query, k*8, ef)
	if err != nil {
		return nil, err
	}

	out := make([]Fact, 0, k)
	for _, r := range results {
		if len(out) >= k {
			break
		}
		raw, err := m.Collection.payloads.Get(r.ID)
		if err != nil {
			if verror.IsKind(err, verror.KindNotFound) {
				continue
			}
			return nil, err
		}
		fields, err := decodeFields(raw)
		if err != nil {
			return nil, err
		}
		if fields["session_id"] != sessionID {
			continue
		}
		text, _ := fields["text"].(string)
		out = append(out, Fact{ID: r.ID, Text: text, Extra: fields})
	}
	return out, nil
}
