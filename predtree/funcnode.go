package predtree

import (
	"math"

	"github.com/Ricagraca/c11tester/action"
	"github.com/Ricagraca/c11tester/history"
	"github.com/Ricagraca/c11tester/intern"
)

// maxDepth is the Depth of the tree's exit marker node. The exit node is
// never a child of any node and never enters a thread's trace, so it takes
// no part in descent or in weight propagation.
const maxDepth = 64

// FunctionNode is the per-function learner: it interns FuncInsts by
// source position, builds and amends the predicate tree, tracks may-equal
// location sets, and scores leaves. All of its state survives across
// executions (spec.md §3); only the per-thread call-stack bookkeeping is
// reset on function entry/exit.
type FunctionNode struct {
	history *history.Index

	insts    map[intern.ID]*FuncInst
	instList []*FuncInst

	root *PredicateNode
	exit *PredicateNode
	next int

	leaves map[*PredicateNode]bool

	writeLocations map[action.Location]bool
	readLocations  map[action.Location]bool
	valLocMap      map[uint64]map[action.Location]bool
	mayEqual       map[action.Location]map[action.Location]bool

	nullMask uint64

	threadStack    map[action.ThreadID][]*PredicateNode
	threadTrace    map[action.ThreadID][]*PredicateNode
	threadVisited  map[action.ThreadID]map[*FuncInst]*PredicateNode
	threadLastRead map[action.ThreadID]map[*FuncInst]uint64
	threadLocInst  map[action.ThreadID]map[action.Location]*FuncInst
}

// New returns an empty FunctionNode wired to the given shared history
// index, with the NULLITY mask parameterized per spec.md §9's second Open
// Question rather than hard-coded to a 32-bit low half.
func New(h *history.Index, nullMask uint64) *FunctionNode {
	root := &PredicateNode{}
	exit := &PredicateNode{Depth: maxDepth}
	return &FunctionNode{
		history:        h,
		insts:          make(map[intern.ID]*FuncInst),
		root:           root,
		exit:           exit,
		next:           1,
		leaves:         map[*PredicateNode]bool{root: true},
		writeLocations: make(map[action.Location]bool),
		readLocations:  make(map[action.Location]bool),
		valLocMap:      make(map[uint64]map[action.Location]bool),
		mayEqual:       make(map[action.Location]map[action.Location]bool),
		nullMask:       nullMask,
		threadStack:    make(map[action.ThreadID][]*PredicateNode),
		threadTrace:    make(map[action.ThreadID][]*PredicateNode),
		threadVisited:  make(map[action.ThreadID]map[*FuncInst]*PredicateNode),
		threadLastRead: make(map[action.ThreadID]map[*FuncInst]uint64),
		threadLocInst:  make(map[action.ThreadID]map[action.Location]*FuncInst),
	}
}

// Root returns the tree's entry node.
func (fn *FunctionNode) Root() *PredicateNode { return fn.root }

// Leaves returns every PredicateNode with no children.
func (fn *FunctionNode) Leaves() []*PredicateNode {
	out := make([]*PredicateNode, 0, len(fn.leaves))
	for l := range fn.leaves {
		out = append(out, l)
	}
	return out
}

// Stats summarizes learned-model size for metrics export.
type Stats struct {
	Insts  int
	Leaves int
}

func (fn *FunctionNode) Stats() Stats {
	return Stats{Insts: len(fn.instList), Leaves: len(fn.leaves)}
}

// GetOrCreateInst interns act into this function's FuncInst table, per
// spec.md §4.2's interning policy. Actions with no source position
// (thread primitives) return nil.
func (fn *FunctionNode) GetOrCreateInst(act *action.Record) *FuncInst {
	if act.Position == 0 {
		return nil
	}
	primary, ok := fn.insts[act.Position]
	if !ok {
		inst := &FuncInst{Position: act.Position, Kind: act.Kind, Order: act.Order, SingleLocation: true}
		inst.observe(act)
		fn.insts[act.Position] = inst
		fn.instList = append(fn.instList, inst)
		return inst
	}
	if sameKindFamily(primary.Kind, act.Kind) {
		primary.observe(act)
		return primary
	}
	for _, c := range primary.Collisions {
		if sameKindFamily(c.Kind, act.Kind) {
			c.observe(act)
			return c
		}
	}
	collision := &FuncInst{Position: act.Position, Kind: act.Kind, Order: act.Order, SingleLocation: true}
	collision.observe(act)
	primary.Collisions = append(primary.Collisions, collision)
	return collision
}

// Enter pushes a fresh call frame for tid: the tree position starts at
// root, and the per-call scratch maps (visited-ids, last-read values,
// loc-read-this-call) are cleared.
func (fn *FunctionNode) Enter(tid action.ThreadID) {
	fn.threadStack[tid] = append(fn.threadStack[tid], fn.root)
	fn.threadTrace[tid] = nil
	fn.threadVisited[tid] = make(map[*FuncInst]*PredicateNode)
	fn.threadLastRead[tid] = make(map[*FuncInst]uint64)
	fn.threadLocInst[tid] = make(map[action.Location]*FuncInst)
}

// Exit pops tid's call frame, sets the exit link the first time this leaf
// is exited from, propagates leaf weights back up the trace, then
// discards the frame's scratch state.
func (fn *FunctionNode) Exit(tid action.ThreadID) {
	curr := fn.currentPosition(tid)
	if curr.Exit == nil {
		curr.Exit = fn.exit
	}
	fn.updateWeights(tid)

	delete(fn.threadStack, tid)
	delete(fn.threadTrace, tid)
	delete(fn.threadVisited, tid)
	delete(fn.threadLastRead, tid)
	delete(fn.threadLocInst, tid)
}

func (fn *FunctionNode) currentPosition(tid action.ThreadID) *PredicateNode {
	s := fn.threadStack[tid]
	return s[len(s)-1]
}

// updateWeights walks tid's trace from the most recently visited node back
// to the entry, per spec.md §4.2's weight formula.
func (fn *FunctionNode) updateWeights(tid action.ThreadID) {
	trace := fn.threadTrace[tid]
	for i := len(trace) - 1; i >= 0; i-- {
		n := trace[i]
		if len(n.Children) == 0 {
			n.Weight = 100 / math.Sqrt(float64(n.Explored+n.Failed+1))
			continue
		}
		var sum float64
		for _, c := range n.Children {
			sum += c.Weight
		}
		n.Weight = (sum / float64(len(n.Children))) * math.Pow(0.9, float64(n.Depth))
	}
}

// UpdateTree is a no-op unless act is a read or write. Writes are recorded
// into write_locations and the shared history index; reads import the
// value/may-equal neighborhood on first sight and then descend the
// predicate tree.
func (fn *FunctionNode) UpdateTree(tid action.ThreadID, act *action.Record) {
	if !act.IsRead() && !act.IsWrite() {
		return
	}
	inst := fn.GetOrCreateInst(act)
	if inst == nil {
		return
	}
	if act.IsWrite() {
		fn.writeLocations[act.Location] = true
		fn.history.RecordWrite(act.Location, act.Value)
		return
	}

	if !fn.readLocations[act.Location] && inst.SingleLocation {
		fn.importLocation(act.Location)
	}
	fn.descend(tid, inst, act)
}

// importLocation registers this node's interest in act.Location with the
// shared history index and links every value already on record there into
// the may-equal graph.
func (fn *FunctionNode) importLocation(loc action.Location) {
	fn.readLocations[loc] = true
	for _, v := range fn.history.RecordInterest(loc, fn) {
		fn.linkValue(loc, v)
	}
}

// NotifyWrite implements history.Subscriber.
func (fn *FunctionNode) NotifyWrite(loc action.Location, value uint64) {
	fn.linkValue(loc, value)
}

func (fn *FunctionNode) linkValue(loc action.Location, value uint64) {
	locs, ok := fn.valLocMap[value]
	if !ok {
		locs = make(map[action.Location]bool)
		fn.valLocMap[value] = locs
	}
	for other := range locs {
		if other != loc {
			fn.addMayEqual(loc, other)
		}
	}
	locs[loc] = true
}

func (fn *FunctionNode) addMayEqual(a, b action.Location) {
	fn.ensureMayEqual(a)[b] = true
	fn.ensureMayEqual(b)[a] = true
}

func (fn *FunctionNode) ensureMayEqual(loc action.Location) map[action.Location]bool {
	m, ok := fn.mayEqual[loc]
	if !ok {
		m = make(map[action.Location]bool)
		fn.mayEqual[loc] = m
	}
	return m
}

// descend drives the predicate tree from tid's current position down one
// level for inst/act, resolving a missing branch in the priority order
// spec.md §4.2 lays out: amend an unset sibling, follow a detected loop,
// or generate new branches from inferred predicates.
func (fn *FunctionNode) descend(tid action.ThreadID, inst *FuncInst, act *action.Record) {
	lastRead := fn.threadLastRead[tid]
	curr := fn.currentPosition(tid)

	for {
		child, unset := fn.followBranch(curr, inst, lastRead, act)
		if child != nil {
			curr = child
			break
		}
		if unset != nil {
			if fn.amendUnset(unset, inst, act) {
				continue
			}
			curr = unset
			break
		}
		if back := fn.checkLoop(tid, curr, inst); back != nil {
			curr = back
			continue
		}
		fn.generatePredicates(curr, inst, fn.inferPredicates(tid, inst, act))
	}
	curr.MarkExplored()

	fn.threadVisited[tid][inst] = curr
	lastRead[inst] = act.Value
	fn.threadLocInst[tid][act.Location] = inst

	stack := fn.threadStack[tid]
	stack[len(stack)-1] = curr
	fn.threadTrace[tid] = append(fn.threadTrace[tid], curr)
}

// followBranch scans curr's children for one discriminating on inst whose
// predicate set matches act. It also reports the unset (NO-PREDICATE)
// child, if any, since at most one is permitted (spec.md §4.2).
func (fn *FunctionNode) followBranch(curr *PredicateNode, inst *FuncInst, lastRead map[*FuncInst]uint64, act *action.Record) (matched, unset *PredicateNode) {
	for _, c := range curr.Children {
		if c.Inst != inst {
			continue
		}
		if c.isUnset() {
			unset = c
			continue
		}
		if c.matches(lastRead, fn.nullMask, act) {
			return c, unset
		}
	}
	return nil, unset
}

// amendUnset specializes an unset child into a NULLITY=false/true pair
// when the current read reveals a reason to: the value is null and the
// inst is not single-location (a null pointer read through a
// possibly-aliased instruction, spec.md §4.2 step 1).
func (fn *FunctionNode) amendUnset(unset *PredicateNode, inst *FuncInst, act *action.Record) bool {
	if (act.Value&fn.nullMask) != 0 || inst.SingleLocation {
		return false
	}
	unset.Exprs = []Expr{{Token: Nullity, Expected: false}}
	sibling := &PredicateNode{
		Inst:   inst,
		Exprs:  []Expr{{Token: Nullity, Expected: true}},
		Parent: unset.Parent,
		Depth:  unset.Depth,
		id:     fn.next,
	}
	fn.next++
	unset.Parent.Children = append(unset.Parent.Children, sibling)
	fn.leaves[sibling] = true
	return true
}

// checkLoop detects a revisit of inst within the current call that
// predates curr in tree-construction order, recording a back-edge rather
// than descending further (spec.md §9 "Backedges in the predicate tree").
func (fn *FunctionNode) checkLoop(tid action.ThreadID, curr *PredicateNode, inst *FuncInst) *PredicateNode {
	old, ok := fn.threadVisited[tid][inst]
	if !ok || old.id > curr.id {
		return nil
	}
	target := old.Parent
	for _, b := range curr.BackEdges {
		if b == target {
			return target
		}
	}
	curr.BackEdges = append(curr.BackEdges, target)
	return target
}

// inferPredicates proposes candidate half-expressions for a read of inst,
// in the priority order spec.md §4.2 describes.
func (fn *FunctionNode) inferPredicates(tid action.ThreadID, inst *FuncInst, act *action.Record) []Expr {
	if last, ok := fn.threadLocInst[tid][act.Location]; ok {
		return []Expr{{Token: Equality, Ref: last}}
	}
	if inst.SingleLocation {
		var halves []Expr
		for neighbor := range fn.mayEqual[act.Location] {
			if last, ok := fn.threadLocInst[tid][neighbor]; ok {
				halves = append(halves, Expr{Token: Equality, Ref: last})
			}
		}
		if len(halves) > 0 {
			return halves
		}
	}
	if (act.Value & fn.nullMask) == 0 {
		return []Expr{{Token: Nullity}}
	}
	return nil
}

// generatePredicates attaches curr's new children for inst: a single
// NO-PREDICATE child if halves is empty, or one child per sign combination
// of halves otherwise. curr stops being a leaf; every new child starts as
// one.
func (fn *FunctionNode) generatePredicates(curr *PredicateNode, inst *FuncInst, halves []Expr) {
	delete(fn.leaves, curr)

	if len(halves) == 0 {
		child := &PredicateNode{Inst: inst, Exprs: []Expr{{Token: NoPredicate, Expected: true}}, Parent: curr, Depth: curr.Depth + 1, id: fn.next}
		fn.next++
		curr.Children = append(curr.Children, child)
		fn.leaves[child] = true
		return
	}

	combos := 1 << uint(len(halves))
	for mask := 0; mask < combos; mask++ {
		exprs := make([]Expr, len(halves))
		for i, h := range halves {
			exprs[i] = Expr{Token: h.Token, Ref: h.Ref, Expected: mask&(1<<uint(i)) != 0}
		}
		child := &PredicateNode{Inst: inst, Exprs: exprs, Parent: curr, Depth: curr.Depth + 1, id: fn.next}
		fn.next++
		curr.Children = append(curr.Children, child)
		fn.leaves[child] = true
	}
}
