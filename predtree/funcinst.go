// Package predtree implements the per-function predicate-tree learner:
// FuncInst interning, the PredicateNode decision tree, and FunctionNode,
// which owns both and the location bookkeeping that feeds predicate
// inference.
//
// Grounded on original_source/funcnode.cc and funcinst.h, following
// spec.md §4.2's algorithmic description where the two diverge (the
// original's snapshot-allocator churn and per-execution reallocation are
// replaced by persistent maps, since FunctionNode state survives across
// executions by design — spec.md §3's Lifecycles note).
package predtree

import (
	"github.com/Ricagraca/c11tester/action"
	"github.com/Ricagraca/c11tester/intern"
)

// FuncInst is the interned, per-source-position representation of one
// atomic operation. Two Records at the same Position intern to the same
// FuncInst unless their Kind differs in a way not explained by the RMW
// family collapsing onto a single primary (funcinst.h's collision list).
type FuncInst struct {
	Position intern.ID
	Kind     action.Kind
	Order    action.Order

	location    action.Location
	locationSet bool

	// SingleLocation starts true and latches false the first time this
	// position is observed at a different memory location in any
	// execution (funcinst.h: "Atomic operations with the same source
	// line number may act at different memory locations").
	SingleLocation bool

	// Collisions holds FuncInsts at the same Position but a
	// non-RMW-family Kind, e.g. a volatile variable's "++" producing
	// both a read and a write FuncInst at one position.
	Collisions []*FuncInst
}

func (fi *FuncInst) observe(act *action.Record) {
	if !fi.locationSet {
		fi.location = act.Location
		fi.locationSet = true
		return
	}
	if fi.location != act.Location {
		fi.SingleLocation = false
	}
}

// sameKindFamily reports whether a and b should intern to the same
// FuncInst. RMW and RMW-read-compare collapse onto one another, matching
// funcnode.cc's get_inst handling of ATOMIC_RMWRCAS.
func sameKindFamily(a, b action.Kind) bool {
	if a == b {
		return true
	}
	isRMW := func(k action.Kind) bool { return k == action.AtomicRMW || k == action.AtomicRMWReadCompare }
	return isRMW(a) && isRMW(b)
}
