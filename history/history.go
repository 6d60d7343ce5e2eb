// Package history implements the process-wide index from memory locations
// to the values ever written there and the function nodes that take an
// interest in them.
//
// Grounded on original_source/funcnode.cc's ModelHistory usages (the
// val_loc_map / loc_may_equal_map bookkeeping every FuncNode keeps a local
// view of is seeded from here) and generalized to a standalone package so
// the learned cross-execution state in spec.md §4.3 has exactly one owner,
// independent of any single FunctionNode.
package history

import (
	"sync"

	"github.com/Ricagraca/c11tester/action"
)

// Subscriber is anything that wants to hear about writes to a location it
// has read from. predtree.FunctionNode implements this.
type Subscriber interface {
	NotifyWrite(loc action.Location, value uint64)
}

// Index is never reset: it accumulates learning across executions, per
// spec.md §4.3 ("Cleared never").
type Index struct {
	mu sync.Mutex

	values     map[action.Location]map[uint64]bool
	interested map[action.Location]map[Subscriber]bool
}

// New returns an empty Index.
func New() *Index {
	return &Index{
		values:     make(map[action.Location]map[uint64]bool),
		interested: make(map[action.Location]map[Subscriber]bool),
	}
}

// RecordWrite registers that value has been observed at loc in some
// execution, and fans the write out to every subscriber already interested
// in loc.
func (h *Index) RecordWrite(loc action.Location, value uint64) {
	h.mu.Lock()
	vs, ok := h.values[loc]
	if !ok {
		vs = make(map[uint64]bool)
		h.values[loc] = vs
	}
	vs[value] = true
	subs := make([]Subscriber, 0, len(h.interested[loc]))
	for s := range h.interested[loc] {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		s.NotifyWrite(loc, value)
	}
}

// RecordInterest registers sub as wanting to know about future writes to
// loc, and returns the values already on record for loc (so the caller can
// seed its own view without racing a concurrent write).
func (h *Index) RecordInterest(loc action.Location, sub Subscriber) []uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	m, ok := h.interested[loc]
	if !ok {
		m = make(map[Subscriber]bool)
		h.interested[loc] = m
	}
	m[sub] = true

	vs := h.values[loc]
	out := make([]uint64, 0, len(vs))
	for v := range vs {
		out = append(out, v)
	}
	return out
}

// ValuesAt returns every value on record for loc.
func (h *Index) ValuesAt(loc action.Location) []uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	vs := h.values[loc]
	out := make([]uint64, 0, len(vs))
	for v := range vs {
		out = append(out, v)
	}
	return out
}
