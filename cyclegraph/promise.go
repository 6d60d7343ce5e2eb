package cyclegraph

import (
	"github.com/google/uuid"

	"github.com/Ricagraca/c11tester/action"
)

// Promise is a speculative commitment by a read: "some future write to loc
// will produce value with a memory order compatible with order." It tracks
// which threads can no longer host the satisfying write, so that
// CheckPromiseFailure can detect when a promise has become unsatisfiable.
type Promise struct {
	// ID is a diagnostic handle, useful for log correlation and dot
	// dumps; it plays no role in promise semantics.
	ID uuid.UUID

	Reader *action.Record
	Loc    action.Location
	Value  uint64
	Order  action.Order

	// candidates is the set of threads that could still host the
	// write satisfying this promise. A promise becomes unsatisfiable
	// when this set empties.
	candidates map[action.ThreadID]bool
}

// NewPromise creates a promise on behalf of reader, initially satisfiable
// by a write from any of liveThreads.
func NewPromise(reader *action.Record, loc action.Location, value uint64, order action.Order, liveThreads []action.ThreadID) *Promise {
	cand := make(map[action.ThreadID]bool, len(liveThreads))
	for _, t := range liveThreads {
		cand[t] = true
	}
	return &Promise{
		ID:         uuid.New(),
		Reader:     reader,
		Loc:        loc,
		Value:      value,
		Order:      order,
		candidates: cand,
	}
}

// EliminateThread records that tid can no longer host the write satisfying
// this promise. It returns true if that was the last remaining candidate,
// i.e. the promise is now unsatisfiable.
func (p *Promise) EliminateThread(tid action.ThreadID) bool {
	delete(p.candidates, tid)
	return len(p.candidates) == 0
}

// IsCompatible reports whether writer could be the write this promise
// speculated about: same location, same value, and an order at least as
// strong as this promise requires (spec.md §9's parameterized nullity mask
// is a separate concern; this is the memory-order compatibility spec.md
// §4.1's merge step calls for).
func (p *Promise) IsCompatible(writer *action.Record) bool {
	if writer.Location != p.Loc || writer.Value != p.Value {
		return false
	}
	if p.Order.IsAcquire() && !(writer.Order.IsRelease() || writer.Order == action.SeqCst) {
		return false
	}
	return true
}
