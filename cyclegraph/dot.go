package cyclegraph

import (
	"fmt"
	"io"
)

// WriteDot writes the concrete portion of the graph in the dot language,
// matching spec.md §6's format:
//
//	digraph <name> { Nseq [label="seq, Ttid"]; Na -> Nb; Na -> Nb [style=dotted]; ... }
//
// Dotted edges mark an rmwSuccessor relationship. Promise nodes are not
// dumped, matching original_source/cyclegraph.cc's dumpNodes, which only
// ever registers concrete (ModelAction-backed) nodes in its dump list.
func (g *CycleGraph) WriteDot(w io.Writer, name string) error {
	if _, err := fmt.Fprintf(w, "digraph %s {\n", name); err != nil {
		return err
	}
	for _, n := range g.nodes {
		if n.action == nil {
			continue
		}
		seq := n.action.Seq
		if _, err := fmt.Fprintf(w, "N%d [label=\"%d, T%d\"];\n", seq, seq, n.action.Thread); err != nil {
			return err
		}
		if n.rmwSuccessor != invalidNode {
			rmwAction := g.node(n.rmwSuccessor).action
			if rmwAction != nil {
				if _, err := fmt.Fprintf(w, "N%d -> N%d [style=dotted];\n", seq, rmwAction.Seq); err != nil {
					return err
				}
			}
		}
		for _, e := range n.edges {
			dst := g.node(e).action
			if dst == nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "N%d -> N%d;\n", seq, dst.Seq); err != nil {
				return err
			}
		}
	}
	_, err := fmt.Fprintf(w, "}\n")
	return err
}
