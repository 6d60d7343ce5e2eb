package litmus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Scenario 1: under last-writer-wins the release store retires first, so
// T2's acquire load observes it, and the resulting graph has no cycle.
func TestReleaseAcquireObservesTheStore(t *testing.T) {
	h := NewHarness()
	observed := ReleaseAcquire(h)

	assert.Equal(t, uint64(1), observed, "last-writer-wins always orders the store first here")
	assert.False(t, h.Driver.Graph.HasCycles())
}

// Scenario 2: relaxed store buffering, run with each fiber yielding right
// after its own store, so both loads observe the other thread's store
// rather than the initial value. No ordering constraint forces a cycle.
func TestStoreBufferingCrossReadsAreFeasible(t *testing.T) {
	h := NewHarness()
	r1, r2 := StoreBuffering(h)

	assert.Equal(t, uint64(1), r1, "T1's load happens after T2 has already stored y")
	assert.Equal(t, uint64(1), r2, "T2's load happens after T1 has already stored x")
	assert.False(t, h.Driver.Graph.HasCycles())
}

// Scenario 3: the round-robin scheduler serializes T1's fetch_add before
// T2's; the second fetch_add observes the first's published value, and the
// single RMW chain leaves the graph acyclic.
func TestRMWChainProducesOneChain(t *testing.T) {
	h := NewHarness()
	v1, v2 := RMWChain(h)

	assert.Equal(t, uint64(0), v1, "the first fetch_add observes the initial value")
	assert.Equal(t, uint64(1), v2, "the second fetch_add observes the first's published value")
	assert.False(t, h.Driver.Graph.HasCycles())
}

// Scenario 4: T1's promise is resolved in place by T2's matching store,
// with no merge required, and the final read sees the resolved value.
func TestPromiseResolutionFeasible(t *testing.T) {
	h := NewHarness()
	p, ok := PromiseResolution(h)

	require.NotNil(t, p)
	assert.True(t, ok)
	assert.Equal(t, uint64(42), p.Reader.Value, "the promised read consumes the resolved value")
	assert.False(t, h.Driver.Graph.HasCycles())
}

// Scenario 5: an additional program-order constraint makes the promise's
// eventual resolution close a cycle; the driver must reject it.
func TestPromiseCycleRejectionInfeasible(t *testing.T) {
	h := NewHarness()
	accepted := PromiseCycleRejection(h)

	assert.False(t, accepted, "the induced cycle must be rejected")
	// merge is not undoable: unlike a rejected Retire edge, a rejected
	// promise merge leaves the graph permanently infeasible, matching
	// cyclegraph.TestPromiseMergeDetectsCycle.
	assert.True(t, h.Driver.Graph.HasCycles())
}

// Scenario 6: a function whose first read returns non-null then null
// amends the existing NO-PREDICATE child into NULLITY=false and grows a
// NULLITY=true sibling, growing predicate_leaves by exactly one.
func TestPredicateAmendmentGrowsLeavesByOne(t *testing.T) {
	h := NewHarness()
	fn := h.Driver.FunctionNode("lookup")

	// First execution: the read observes a non-null value at 0x70,
	// producing a single NO-PREDICATE child.
	h.Checker.OnAtomicStore(0, 0x70, 0, 5, "predicate.go:seed")
	h.Driver.OnFunctionEntry(0, "lookup")
	h.Checker.OnAtomicLoad(0, 0x70, 0, "predicate.go:read")
	h.Driver.OnFunctionExit(0)

	before := fn.Stats().Leaves

	// Second execution: the same source position now observes a
	// different, uninitialized (null) location, which both flips
	// SingleLocation false and supplies a null read — together the
	// condition amendUnset requires to split the NO-PREDICATE child.
	h.Driver.BeginExecution()
	h.Driver.OnFunctionEntry(0, "lookup")
	h.Checker.OnAtomicLoad(0, 0x71, 0, "predicate.go:read")
	h.Driver.OnFunctionExit(0)

	after := fn.Stats().Leaves
	assert.Equal(t, before+1, after)
}
