// Package litmus runs small, fully-instrumented concurrent programs end
// to end through checker.Checker and internal/fiber.Scheduler, exercising
// the six concrete scenarios spec.md §8 spells out.
//
// Grounded on go-weave/models' shape (a State struct, a set of goroutines
// registered with a scheduler, and a sched.Trace-style narration), but
// rewired onto this package's own fiber.Scheduler and checker.Checker
// instead of weave.Scheduler/weave.AtomicInt32, since here the values
// themselves are plain ints: every observable access already goes through
// the checker, which is where the atomicity lives.
package litmus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Ricagraca/c11tester/action"
	"github.com/Ricagraca/c11tester/checker"
	"github.com/Ricagraca/c11tester/config"
	"github.com/Ricagraca/c11tester/cyclegraph"
	"github.com/Ricagraca/c11tester/driver"
	"github.com/Ricagraca/c11tester/internal/fiber"
	"github.com/Ricagraca/c11tester/intern"
	"github.com/Ricagraca/c11tester/metrics"
)

// Harness bundles a driver, a checker, and a scheduler for one execution.
// Thread ids are assigned by Sched.Go in registration order, so every
// scenario below registers its goroutines in the order it names T1, T2, ...
type Harness struct {
	Driver  *driver.ExecutionDriver
	Checker *checker.Checker
	Sched   *fiber.Scheduler
}

// NewHarness starts a fresh execution on a fresh driver.
func NewHarness() *Harness {
	d := driver.New(config.Default(), metrics.New(prometheus.NewRegistry()))
	d.BeginExecution()
	return &Harness{
		Driver:  d,
		Checker: checker.New(d, &intern.Table{}),
		Sched:   fiber.New(),
	}
}

// ReleaseAcquire runs scenario 1: T1 stores 1 at x with release; T2 loads
// x with acquire. It returns the value T2 observed.
func ReleaseAcquire(h *Harness) uint64 {
	var observed uint64
	h.Sched.Go(func() {
		h.Checker.OnAtomicStore(0, 0x1, action.Release, 1, "releaseacquire.go:store")
	})
	h.Sched.Go(func() {
		observed = h.Checker.OnAtomicLoad(1, 0x1, action.Acquire, "releaseacquire.go:load")
	})
	h.Sched.Run()
	return observed
}

// StoreBuffering runs scenario 2: T1 stores x=1 then loads y; T2 stores
// y=1 then loads x, both relaxed. It returns (r1, r2).
func StoreBuffering(h *Harness) (uint64, uint64) {
	var r1, r2 uint64
	h.Sched.Go(func() {
		h.Checker.OnAtomicStore(0, 0x10, action.Relaxed, 1, "storebuffering.go:t1store")
		h.Sched.Yield(0)
		r1 = h.Checker.OnAtomicLoad(0, 0x20, action.Relaxed, "storebuffering.go:t1load")
	})
	h.Sched.Go(func() {
		h.Checker.OnAtomicStore(1, 0x20, action.Relaxed, 1, "storebuffering.go:t2store")
		h.Sched.Yield(1)
		r2 = h.Checker.OnAtomicLoad(1, 0x10, action.Relaxed, "storebuffering.go:t2load")
	})
	h.Sched.Run()
	return r1, r2
}

// RMWChain runs scenario 3: T1 and T2 each fetch_add(x, 1) acq_rel,
// x initially 0. It returns the two values each increment observed.
func RMWChain(h *Harness) (uint64, uint64) {
	var v1, v2 uint64
	h.Sched.Go(func() {
		v1 = h.Checker.OnAtomicRMW(0, 0x30, action.AcqRel, 1, "rmwchain.go:t1")
	})
	h.Sched.Go(func() {
		v2 = h.Checker.OnAtomicRMW(1, 0x30, action.AcqRel, 2, "rmwchain.go:t2")
	})
	h.Sched.Run()
	return v1, v2
}

// PromiseResolution runs scenario 4: T1 speculatively reads x=42 before
// any write has retired; T2 then stores 42 at x, resolving the promise in
// place. It returns the promise and whether resolution stayed feasible.
func PromiseResolution(h *Harness) (*cyclegraph.Promise, bool) {
	var p *cyclegraph.Promise
	var ok bool
	h.Sched.Go(func() {
		p = h.Checker.OnAtomicLoadPromise(0, 0x40, action.Relaxed, 42, "promise.go:t1load", []action.ThreadID{1})
	})
	h.Sched.Go(func() {
		ok = h.Checker.ResolvePromise(1, p, action.Relaxed, 42, "promise.go:t2store")
	})
	h.Sched.Run()
	return p, ok
}

// PromiseCycleRejection runs scenario 5: as PromiseResolution, but T2's
// store is additionally required (by program order on a third fiber) to
// come after some action that T1's promise has already been ordered
// before, so resolving the promise closes a cycle. It returns whether
// resolution was accepted; a correct implementation rejects it.
func PromiseCycleRejection(h *Harness) bool {
	downstream := &action.Record{Kind: action.AtomicWrite, Location: 0x50, Thread: 2, Value: 1}
	h.Driver.AssignSeq(downstream)

	var p *cyclegraph.Promise
	h.Sched.Go(func() {
		p = h.Checker.OnAtomicLoadPromise(0, 0x40, action.Relaxed, 42, "promisecycle.go:t1load", []action.ThreadID{1})
	})
	h.Sched.Run()

	// Program order requires the promise before downstream...
	h.Driver.Graph.BeginTxn()
	if !h.Driver.Graph.AddEdgeFromPromise(p, downstream) {
		h.Driver.Graph.Rollback()
		return false
	}
	h.Driver.Graph.Commit()

	writer := &action.Record{Kind: action.AtomicWrite, Location: 0x40, Thread: 1, Value: 42}
	h.Driver.AssignSeq(writer)

	// ...and downstream is ordered before the eventual writer, closing the
	// cycle once the promise is fused into writer's node.
	h.Driver.Graph.BeginTxn()
	if !h.Driver.Graph.AddEdge(downstream, writer) {
		h.Driver.Graph.Rollback()
		return false
	}
	h.Driver.Graph.Commit()

	// ResolvePromise may merge the promise into writer's node, and merge is
	// not undoable (cyclegraph.CycleGraph.merge's own doc comment): a
	// rejected merge leaves the graph permanently infeasible, the same way
	// a cycle discovered after Retire does, so this is not wrapped in a
	// transaction the way the edge additions above are.
	var mustResolve []*cyclegraph.Promise
	return h.Driver.Graph.ResolvePromise(p.Reader, writer, &mustResolve)
}
