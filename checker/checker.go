// Package checker is the explicit context value spec.md §9 calls for in
// place of the original design's process-wide checker singleton: the
// user-program shim initializes one Checker and threads it through every
// instrumented call site, instead of reaching into global state.
//
// It exposes the one-method-per-intrinsic surface spec.md §6 describes,
// translating each call into an ActionRecord and feeding it to the
// ExecutionDriver.
package checker

import (
	"fmt"

	"github.com/Ricagraca/c11tester/action"
	"github.com/Ricagraca/c11tester/cyclegraph"
	"github.com/Ricagraca/c11tester/driver"
	"github.com/Ricagraca/c11tester/intern"
)

// Checker wires the cycle graph, the predicate-tree learners, and the
// history index together behind the handful of calls an instrumented
// user program makes.
//
// Reads-from selection — which write a load observes, or whether it
// speculates on one that hasn't retired yet — is the scheduler's job
// (spec.md §6 lists it as an external collaborator); Checker's plain
// On* methods implement the simplest possible policy, last-writer-wins,
// which is enough to drive a single deterministic trace through the
// litmus tests. Callers exploring multiple reads-from candidates use
// OnAtomicLoadPromise / ResolvePromise directly.
type Checker struct {
	Driver   *driver.ExecutionDriver
	interner *intern.Table

	lastWrite map[action.Location]*action.Record
}

// New returns a Checker over an existing driver. interner may be nil, in
// which case every Position comes back as the zero intern.ID (as if the
// action carried no source position).
func New(d *driver.ExecutionDriver, interner *intern.Table) *Checker {
	return &Checker{Driver: d, interner: interner, lastWrite: make(map[action.Location]*action.Record)}
}

func (c *Checker) position(pos string) intern.ID {
	if c.interner == nil || pos == "" {
		return 0
	}
	return c.interner.Intern(pos)
}

// OnAtomicStore retires a write.
func (c *Checker) OnAtomicStore(tid action.ThreadID, loc action.Location, order action.Order, value uint64, pos string) {
	act := &action.Record{Kind: action.AtomicWrite, Order: order, Location: loc, Thread: tid, Value: value, Position: c.position(pos)}
	var edges []*action.Record
	if prev, ok := c.lastWrite[loc]; ok {
		edges = append(edges, prev)
	}
	c.Driver.Retire(act, edges, nil)
	c.lastWrite[loc] = act
}

// OnAtomicLoad retires a read that observes the most recent write to loc
// (or the configured uninitialized value, if none), and returns the
// observed value.
func (c *Checker) OnAtomicLoad(tid action.ThreadID, loc action.Location, order action.Order, pos string) uint64 {
	prev, ok := c.lastWrite[loc]
	value := c.Driver.Config.UninitializedValue
	var edges []*action.Record
	if ok {
		value = prev.Value
		edges = append(edges, prev)
	}
	act := &action.Record{Kind: action.AtomicRead, Order: order, Location: loc, Thread: tid, Value: value, Position: c.position(pos)}
	c.Driver.Retire(act, edges, nil)
	return value
}

// OnAtomicRMW retires a read-modify-write: it observes the current value
// at loc (or uninitialized), publishes newValue, and records the unique
// RMW-successor edge. It returns the value read, mirroring fetch_add's
// C11 return convention.
func (c *Checker) OnAtomicRMW(tid action.ThreadID, loc action.Location, order action.Order, newValue uint64, pos string) uint64 {
	prev, ok := c.lastWrite[loc]
	readValue := c.Driver.Config.UninitializedValue
	var rmwFrom *action.Record
	if ok {
		readValue = prev.Value
		rmwFrom = prev
	}
	act := &action.Record{Kind: action.AtomicRMW, Order: order, Location: loc, Thread: tid, Value: newValue, Position: c.position(pos)}
	c.Driver.Retire(act, nil, rmwFrom)
	c.lastWrite[loc] = act
	return readValue
}

// OnAtomicRMWReadCompare retires a compare-exchange-style RMW: it reads
// the current value; if it equals expect, it publishes newValue and
// returns (current, true); otherwise no write happens and it returns
// (current, false).
func (c *Checker) OnAtomicRMWReadCompare(tid action.ThreadID, loc action.Location, order action.Order, expect, newValue uint64, pos string) (uint64, bool) {
	prev, ok := c.lastWrite[loc]
	current := c.Driver.Config.UninitializedValue
	if ok {
		current = prev.Value
	}

	act := &action.Record{Kind: action.AtomicRMWReadCompare, Order: order, Location: loc, Thread: tid, Value: current, Position: c.position(pos)}
	if current != expect {
		c.Driver.Retire(act, nil, nil)
		return current, false
	}

	act.Value = newValue
	var rmwFrom *action.Record
	if ok {
		rmwFrom = prev
	}
	c.Driver.Retire(act, nil, rmwFrom)
	c.lastWrite[loc] = act
	return current, true
}

// OnAtomicLoadPromise retires a read that speculatively consumes a value
// no write has produced yet in this execution, creating a placeholder
// promise node. The caller (typically a litmus test driving promise
// resolution directly) must later call ResolvePromise once the satisfying
// write retires.
func (c *Checker) OnAtomicLoadPromise(tid action.ThreadID, loc action.Location, order action.Order, value uint64, pos string, liveThreads []action.ThreadID) *cyclegraph.Promise {
	act := &action.Record{Kind: action.AtomicRead, Order: order, Location: loc, Thread: tid, Value: value, Position: c.position(pos)}
	c.Driver.AssignSeq(act)

	p := cyclegraph.NewPromise(act, loc, value, order, liveThreads)
	c.Driver.Graph.GetOrCreatePromiseNode(p)
	if fn := c.Driver.CurrentFunctionNode(tid); fn != nil {
		fn.UpdateTree(tid, act)
	}
	return p
}

// ResolvePromise converts p's placeholder into writer's concrete node (or
// merges it in, if writer already has one), and records writer as loc's
// most recent write. It returns the graph's feasibility verdict; the
// caller is responsible for rolling back on false.
func (c *Checker) ResolvePromise(tid action.ThreadID, p *cyclegraph.Promise, order action.Order, value uint64, pos string) bool {
	writer := &action.Record{Kind: action.AtomicWrite, Order: order, Location: p.Loc, Thread: tid, Value: value, Position: c.position(pos)}
	c.Driver.AssignSeq(writer)

	var mustResolve []*cyclegraph.Promise
	ok := c.Driver.Graph.ResolvePromise(p.Reader, writer, &mustResolve)
	if !ok {
		return false
	}
	c.lastWrite[p.Loc] = writer
	// mustResolve collects any other promises merge() fused into writer
	// along the way (spec.md §4.1's merge step); each one is satisfied by
	// the same writer, so lastWrite and the metric follow suit.
	for _, resolved := range mustResolve {
		c.lastWrite[resolved.Loc] = writer
	}
	if c.Driver.Metrics != nil {
		c.Driver.Metrics.PromisesResolved.Add(float64(1 + len(mustResolve)))
	}
	return true
}

// OnAssert records a user-asserted bug (spec.md §7, taxon 2) if cond is
// false and config.Config.AssertEnabled is set. A failed assertion never
// aborts the execution; it is collected alongside data races and reported
// at the end, same as any other user bug.
func (c *Checker) OnAssert(tid action.ThreadID, cond bool, msg string, pos string) {
	if cond || !c.Driver.Config.AssertEnabled {
		return
	}
	c.Driver.ReportBug(fmt.Sprintf("assertion failed at %s (T%d): %s", pos, tid, msg))
}

// OnThreadCreate retires a thread-create action.
func (c *Checker) OnThreadCreate(tid action.ThreadID) {
	c.Driver.Retire(&action.Record{Kind: action.ThreadCreate, Thread: tid}, nil, nil)
}

// OnThreadJoin retires a thread-join action.
func (c *Checker) OnThreadJoin(tid action.ThreadID) {
	c.Driver.Retire(&action.Record{Kind: action.ThreadJoin, Thread: tid}, nil, nil)
}

// OnThreadYield retires a thread-yield action.
func (c *Checker) OnThreadYield(tid action.ThreadID) {
	c.Driver.Retire(&action.Record{Kind: action.ThreadYield, Thread: tid}, nil, nil)
}

// OnFunctionEntry pushes funcID's function node onto tid's call stack.
func (c *Checker) OnFunctionEntry(tid action.ThreadID, funcID string) {
	c.Driver.OnFunctionEntry(tid, funcID)
}

// OnFunctionExit pops tid's innermost active function node.
func (c *Checker) OnFunctionExit(tid action.ThreadID) {
	c.Driver.OnFunctionExit(tid)
}
