// Package cyclegraph implements the modification-order / happens-before
// cycle detector: an incrementally maintained directed graph over memory
// operations that rejects candidate reads-from / modification-order
// assignments that would produce a cycle, supports atomic rollback of
// speculative edge additions, and supports promises — placeholder nodes for
// future writes that a read has speculatively consumed.
//
// Grounded on original_source/cyclegraph.cc, generalized from C++ pointers
// and a custom snapshotting allocator to a Go arena of stable NodeIDs (see
// node.go), and adapted for the dot-graph dump pattern used by
// rtcheck/order.go's LockOrder.WriteToDot.
package cyclegraph

import "github.com/Ricagraca/c11tester/action"

// CycleGraph is the per-execution ordering graph. It is not safe for
// concurrent use: like the rest of the checker core, it has a single
// logical writer (the driver goroutine).
type CycleGraph struct {
	nodes []*cycleNode

	actionToNode    map[*action.Record]NodeID
	promiseByReader map[*action.Record]NodeID

	hasCycles bool
	oldCycles bool

	// rollbackLog records, once per successful edge addition, the node
	// whose forward-edge list grew; rolling back pops one edge off
	// each recorded node, in any order (each entry just means "this
	// node has one edge to undo").
	rollbackLog []NodeID
	// rmwRollbackLog records nodes whose rmwSuccessor was set during
	// the current transaction.
	rmwRollbackLog []NodeID

	// discovered and queueBuf are scratch space reused across
	// checkReachable/CheckPromiseFailure calls to avoid an allocation
	// per query, matching cyclegraph.cc's reused `discovered` hash
	// table.
	discovered map[NodeID]bool
	queueBuf   []NodeID
}

// New returns an empty CycleGraph.
func New() *CycleGraph {
	return &CycleGraph{
		actionToNode:    make(map[*action.Record]NodeID),
		promiseByReader: make(map[*action.Record]NodeID),
		discovered:      make(map[NodeID]bool),
	}
}

// Reset discards all nodes and edges, preparing the graph for a new
// execution. Unlike Rollback, this is not undoable.
func (g *CycleGraph) Reset() {
	g.nodes = g.nodes[:0]
	for k := range g.actionToNode {
		delete(g.actionToNode, k)
	}
	for k := range g.promiseByReader {
		delete(g.promiseByReader, k)
	}
	g.rollbackLog = g.rollbackLog[:0]
	g.rmwRollbackLog = g.rmwRollbackLog[:0]
	g.hasCycles = false
	g.oldCycles = false
}

// HasCycles reports whether the graph, as currently speculated, contains a
// cycle and is therefore infeasible.
func (g *CycleGraph) HasCycles() bool { return g.hasCycles }

func (g *CycleGraph) node(id NodeID) *cycleNode { return g.nodes[id] }

func (g *CycleGraph) newNode() NodeID {
	id := NodeID(len(g.nodes))
	g.nodes = append(g.nodes, &cycleNode{id: id, rmwSuccessor: invalidNode})
	return id
}

// GetNode returns the CycleNode corresponding to act, creating a concrete
// node for it if none exists yet. It does not check act's kind: a read
// passed here (as ExecutionDriver.Retire does for the edge from the write a
// load observed) gets a concrete node of its own.
func (g *CycleGraph) GetNode(act *action.Record) NodeID {
	if id, ok := g.actionToNode[act]; ok {
		return id
	}
	id := g.newNode()
	g.nodes[id].action = act
	g.actionToNode[act] = id
	return id
}

func (g *CycleGraph) actionNode(act *action.Record) (NodeID, bool) {
	id, ok := g.actionToNode[act]
	return id, ok
}

// GetOrCreatePromiseNode returns the placeholder node for a read that
// speculatively consumes a future write, creating it if necessary.
func (g *CycleGraph) GetOrCreatePromiseNode(p *Promise) NodeID {
	if id, ok := g.promiseByReader[p.Reader]; ok {
		return id
	}
	id := g.newNode()
	g.nodes[id].promise = p
	g.promiseByReader[p.Reader] = id
	return id
}

func (g *CycleGraph) promiseNode(reader *action.Record) (NodeID, bool) {
	id, ok := g.promiseByReader[reader]
	return id, ok
}

// AddEdge establishes "from must be ordered before to", creating concrete
// nodes for each action as needed. It is idempotent: adding the same edge
// twice leaves the graph unchanged the second time. If from has an RMW
// successor other than to, an edge is also added from that RMW to to,
// because nothing may interleave between a write and the unique RMW that
// reads from it.
//
// AddEdge always inserts the edge, even when it would create a cycle; the
// return value reports whether the graph is still feasible (no cycle was
// introduced), and the caller is responsible for rolling back if not.
func (g *CycleGraph) AddEdge(from, to *action.Record) bool {
	g.addNodeEdge(g.GetNode(from), g.GetNode(to))
	return !g.hasCycles
}

// AddEdgeToPromise establishes "from must be ordered before p's eventual
// write", for use when the driver discovers an ordering constraint (e.g. a
// later synchronizing action on the reading thread) before the promise is
// resolved. Concrete nodes never distinguish a promise neighbor from a
// concrete one when walking edges, so this is the same addNodeEdge
// primitive as AddEdge, just addressed at a promise's placeholder node
// instead of at a concrete action.
func (g *CycleGraph) AddEdgeToPromise(from *action.Record, p *Promise) bool {
	g.addNodeEdge(g.GetNode(from), g.GetOrCreatePromiseNode(p))
	return !g.hasCycles
}

// AddEdgeFromPromise is AddEdgeToPromise's mirror image: "p's eventual write
// must be ordered before to".
func (g *CycleGraph) AddEdgeFromPromise(p *Promise, to *action.Record) bool {
	g.addNodeEdge(g.GetOrCreatePromiseNode(p), g.GetNode(to))
	return !g.hasCycles
}

// addNodeEdge is the node-level primitive behind AddEdge and the edge
// redistribution performed by AddRMWEdge and merge.
func (g *CycleGraph) addNodeEdge(from, to NodeID) bool {
	if !g.hasCycles {
		g.hasCycles = g.checkReachable(to, from)
	}

	added := g.node(from).addEdge(g, to)
	if added {
		g.rollbackLog = append(g.rollbackLog, from)
	}

	if rmw := g.node(from).rmwSuccessor; rmw != invalidNode && rmw != to {
		if !g.hasCycles {
			g.hasCycles = g.checkReachable(to, rmw)
		}
		if g.node(rmw).addEdge(g, to) {
			g.rollbackLog = append(g.rollbackLog, rmw)
			added = true
		}
	}
	return added
}

// AddRMWEdge asserts that rmw reads from from: no write may occur between
// them, and only one RMW may ever read from a given write. All of from's
// existing forward edges (other than one to rmw itself) are copied onto
// rmw, since anything from must precede, rmw must also precede.
func (g *CycleGraph) AddRMWEdge(from, rmw *action.Record) bool {
	fromNode := g.GetNode(from)
	rmwNode := g.GetNode(rmw)

	if g.node(fromNode).setRMW(rmwNode) {
		// Two RMWs reading from the same write: legal to detect,
		// handled as infeasibility, not a fatal assertion.
		g.hasCycles = true
	} else {
		g.rmwRollbackLog = append(g.rmwRollbackLog, fromNode)
	}

	for _, to := range append([]NodeID(nil), g.node(fromNode).edges...) {
		if to != rmwNode {
			if g.node(rmwNode).addEdge(g, to) {
				g.rollbackLog = append(g.rollbackLog, rmwNode)
			}
		}
	}

	g.addNodeEdge(fromNode, rmwNode)
	return !g.hasCycles
}

// ResolvePromise is called when a concrete write is chosen to satisfy a
// promised read. If a concrete node for writer already exists, it merges
// the promise node into it; otherwise the promise node is re-badged in
// place as writer's concrete node.
func (g *CycleGraph) ResolvePromise(reader, writer *action.Record, mustResolve *[]*Promise) bool {
	pNode, ok := g.promiseNode(reader)
	if !ok {
		panic("cyclegraph: resolve of unregistered promise")
	}
	if wNode, ok := g.actionNode(writer); ok {
		return g.merge(wNode, pNode, mustResolve)
	}

	node := g.node(pNode)
	promise := node.promise
	if !promise.IsCompatible(writer) {
		g.hasCycles = true
		return false
	}
	node.action = writer
	node.promise = nil
	delete(g.promiseByReader, reader)
	g.actionToNode[writer] = pNode
	return true
}

// merge fuses a promise node into a concrete write node. It is not
// undoable: callers must not merge inside a transaction they intend to
// roll back.
func (g *CycleGraph) merge(wNode, pNode NodeID, mustMerge *[]*Promise) bool {
	wn, pn := g.node(wNode), g.node(pNode)
	if wn.isPromise() {
		panic("cyclegraph: merge target is a promise node")
	}
	if !pn.isPromise() {
		panic("cyclegraph: merge source is a concrete node")
	}

	promise := pn.promise
	if !promise.IsCompatible(wn.action) {
		g.hasCycles = true
		return false
	}

	for len(pn.backEdges) > 0 {
		back := pn.removeBackEdge(g)
		if back == wNode {
			continue
		}
		bn := g.node(back)
		if bn.isPromise() {
			if g.checkReachable(wNode, back) {
				*mustMerge = append(*mustMerge, bn.promise)
				if !g.merge(wNode, back, mustMerge) {
					return false
				}
			} else {
				bn.addEdge(g, wNode)
			}
		} else {
			g.addNodeEdge(back, wNode)
		}
	}

	for len(pn.edges) > 0 {
		fwd := pn.removeEdge(g)
		if fwd == wNode {
			continue
		}
		fn := g.node(fwd)
		if fn.isPromise() {
			if g.checkReachable(fwd, wNode) {
				*mustMerge = append(*mustMerge, fn.promise)
				if !g.merge(wNode, fwd, mustMerge) {
					return false
				}
			} else {
				wn.addEdge(g, fwd)
			}
		} else {
			g.addNodeEdge(wNode, fwd)
		}
	}

	delete(g.promiseByReader, promise.Reader)
	return !g.hasCycles
}

// CheckPromiseFailure runs a BFS from fromAct's node over forward edges;
// every concrete node reached has its thread marked as eliminated in
// promise. It returns true iff this leaves the promise unsatisfiable.
func (g *CycleGraph) CheckPromiseFailure(fromAct *action.Record, p *Promise) bool {
	fromNode, ok := g.actionNode(fromAct)
	if !ok {
		panic("cyclegraph: missing node for action")
	}

	g.resetDiscovered()
	queue := append(g.queueBuf[:0], fromNode)
	g.discovered[fromNode] = true

	failed := false
	for i := 0; i < len(queue); i++ {
		n := queue[i]

		node := g.node(n)
		if !node.isPromise() {
			if p.EliminateThread(node.action.Thread) {
				failed = true
			}
		}
		for _, e := range node.edges {
			if !g.discovered[e] {
				g.discovered[e] = true
				queue = append(queue, e)
			}
		}
	}
	g.queueBuf = queue[:0]
	return failed
}

// checkReachable reports whether from can reach to, following forward
// edges (which already include any RMW-derived edges, since addNodeEdge
// materializes those as ordinary edges).
func (g *CycleGraph) checkReachable(from, to NodeID) bool {
	g.resetDiscovered()
	queue := append(g.queueBuf[:0], from)
	g.discovered[from] = true

	for i := 0; i < len(queue); i++ {
		n := queue[i]
		if n == to {
			g.queueBuf = queue[:0]
			return true
		}
		for _, e := range g.node(n).edges {
			if !g.discovered[e] {
				g.discovered[e] = true
				queue = append(queue, e)
			}
		}
	}
	g.queueBuf = queue[:0]
	return false
}

func (g *CycleGraph) resetDiscovered() {
	for k := range g.discovered {
		delete(g.discovered, k)
	}
}

// BeginTxn opens a transaction over which edge additions can be rolled
// back. Transactions do not nest.
func (g *CycleGraph) BeginTxn() {
	if len(g.rollbackLog) != 0 || len(g.rmwRollbackLog) != 0 {
		panic("cyclegraph: BeginTxn with a pending, uncommitted transaction")
	}
	if g.oldCycles != g.hasCycles {
		panic("cyclegraph: inconsistent cycle state at BeginTxn")
	}
}

// Commit keeps the changes made since BeginTxn. After Commit, Rollback is a
// no-op with respect to those changes.
func (g *CycleGraph) Commit() {
	g.rollbackLog = g.rollbackLog[:0]
	g.rmwRollbackLog = g.rmwRollbackLog[:0]
	g.oldCycles = g.hasCycles
}

// Rollback undoes every edge and RMW-successor assignment made since
// BeginTxn, and restores HasCycles to its value at BeginTxn (spec.md §9:
// rollback does undo the has_cycles transition).
func (g *CycleGraph) Rollback() {
	for i := len(g.rollbackLog) - 1; i >= 0; i-- {
		g.node(g.rollbackLog[i]).removeEdge(g)
	}
	for _, n := range g.rmwRollbackLog {
		g.node(n).clearRMW()
	}
	g.hasCycles = g.oldCycles
	g.rollbackLog = g.rollbackLog[:0]
	g.rmwRollbackLog = g.rmwRollbackLog[:0]
}
