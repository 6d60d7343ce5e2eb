package cyclegraph

import "github.com/Ricagraca/c11tester/action"

// NodeID is a stable handle into a CycleGraph's per-execution node arena.
// Nodes are owned by the arena (spec.md §9 "Cyclic ownership") rather than
// referenced directly, so edges can be stored as plain ids.
type NodeID int32

// invalidNode is returned by lookups that find nothing.
const invalidNode NodeID = -1

// cycleNode is a vertex in the cycle graph: either a concrete action or a
// promise placeholder, never both (spec.md §3 invariant). Concrete nodes
// are not limited to writes and RMWs; see CycleGraph.GetNode.
type cycleNode struct {
	id NodeID

	action  *action.Record // non-nil for a concrete node
	promise *Promise       // non-nil for a promise node

	edges     []NodeID // forward (outgoing)
	backEdges []NodeID // incoming, kept in sync with edges

	// rmwSuccessor is the unique RMW that reads from this node, if any.
	rmwSuccessor NodeID
}

func (n *cycleNode) isPromise() bool { return n.promise != nil }

// addEdge adds a forward edge to other, updating other's back edges to
// match. It is idempotent: adding the same edge twice is a no-op and
// reports false the second time.
func (n *cycleNode) addEdge(g *CycleGraph, other NodeID) bool {
	for _, e := range n.edges {
		if e == other {
			return false
		}
	}
	n.edges = append(n.edges, other)
	on := g.node(other)
	on.backEdges = append(on.backEdges, n.id)
	return true
}

// removeEdge pops and returns the most recently added forward edge (and its
// paired back edge), or invalidNode if there are none. Used by rollback and
// by merge to redistribute a promise node's edges.
func (n *cycleNode) removeEdge(g *CycleGraph) NodeID {
	if len(n.edges) == 0 {
		return invalidNode
	}
	last := len(n.edges) - 1
	to := n.edges[last]
	n.edges = n.edges[:last]
	removeNodeID(&g.node(to).backEdges, n.id)
	return to
}

// removeBackEdge pops and returns the most recently added back edge (and
// its paired forward edge), or invalidNode if there are none.
func (n *cycleNode) removeBackEdge(g *CycleGraph) NodeID {
	if len(n.backEdges) == 0 {
		return invalidNode
	}
	last := len(n.backEdges) - 1
	from := n.backEdges[last]
	n.backEdges = n.backEdges[:last]
	removeNodeID(&g.node(from).edges, n.id)
	return from
}

func removeNodeID(v *[]NodeID, id NodeID) bool {
	for i, e := range *v {
		if e == id {
			*v = append((*v)[:i], (*v)[i+1:]...)
			return true
		}
	}
	return false
}

// setRMW marks other as the unique RMW reading from n. It returns true if n
// already had an RMW successor (a legal, caller-checked condition; not an
// assertion failure by itself).
func (n *cycleNode) setRMW(other NodeID) bool {
	if n.rmwSuccessor != invalidNode {
		return true
	}
	n.rmwSuccessor = other
	return false
}

func (n *cycleNode) clearRMW() {
	n.rmwSuccessor = invalidNode
}
