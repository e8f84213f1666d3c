package propindex

import (
	"sync"

	"github.com/velesdb/velesdb/internal/verror"
)

// Kind selects which index structure a field is indexed with, matching the
// Collection API's add_property_index(field, kind) of spec §6.
type Kind int

const (
	KindEquality Kind = iota
	KindRange
	KindTrigram
)

type fieldIndex struct {
	kind     Kind
	equality *EqualityIndex
	numeric  *RangeIndex
	trigram  *TrigramIndex
}

// Manager owns every property index declared for a collection and routes
// Add/Remove calls to the right structure per field.
type Manager struct {
	mu     sync.RWMutex
	fields map[string]*fieldIndex
}

// NewManager returns a manager with no indexed fields.
func NewManager() *Manager {
	return &Manager{fields: make(map[string]*fieldIndex)}
}

// AddFieldIndex declares that field should be indexed as kind. Calling it
// again for an already-declared field is a no-op (idempotent schema setup).
func (m *Manager) AddFieldIndex(field string, kind Kind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.fields[field]; ok {
		return
	}
	fi := &fieldIndex{kind: kind}
	switch kind {
	case KindEquality:
		fi.equality = NewEqualityIndex()
	case KindRange:
		fi.numeric = NewRangeIndex()
	case KindTrigram:
		fi.trigram = NewTrigramIndex()
	}
	m.fields[field] = fi
}

// IndexPoint updates every declared field index for id given its current
// payload field values.
func (m *Manager) IndexPoint(id uint64, fields map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, fi := range m.fields {
		v, ok := fields[name]
		if !ok {
			continue
		}
		switch fi.kind {
		case KindEquality:
			fi.equality.Add(v, id)
		case KindRange:
			if n, ok := asFloat64(v); ok {
				fi.numeric.Add(n, id)
			}
		case KindTrigram:
			if s, ok := v.(string); ok {
				fi.trigram.Index(id, s)
			}
		}
	}
}

// RemovePoint clears id from every declared field index.
func (m *Manager) RemovePoint(id uint64, fields map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, fi := range m.fields {
		v, ok := fields[name]
		if !ok {
			continue
		}
		switch fi.kind {
		case KindEquality:
			fi.equality.Remove(v, id)
		case KindRange:
			if n, ok := asFloat64(v); ok {
				fi.numeric.Remove(n, id)
			}
		case KindTrigram:
			fi.trigram.Remove(id)
		}
	}
}

// Equality returns the equality index for field, or an error if field was
// never declared with KindEquality.
func (m *Manager) Equality(field string) (*EqualityIndex, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fi, ok := m.fields[field]
	if !ok || fi.kind != KindEquality {
		return nil, verror.New("propindex.Equality", verror.KindInvalidArgument, "field not declared as an equality index: "+field)
	}
	return fi.equality, nil
}

// Range returns the range index for field, or an error if field was never
// declared with KindRange.
func (m *Manager) Range(field string) (*RangeIndex, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fi, ok := m.fields[field]
	if !ok || fi.kind != KindRange {
		return nil, verror.New("propindex.Range", verror.KindInvalidArgument, "field not declared as a range index: "+field)
	}
	return fi.numeric, nil
}

// Trigram returns the trigram index for field, or an error if field was
// never declared with KindTrigram.
func (m *Manager) Trigram(field string) (*TrigramIndex, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fi, ok := m.fields[field]
	if !ok || fi.kind != KindTrigram {
		return nil, verror.New("propindex.Trigram", verror.KindInvalidArgument, "field not declared as a trigram index: "+field)
	}
	return fi.trigram, nil
}

func asFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
