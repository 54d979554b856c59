// Package cfg builds the control-flow graph of a flat instruction stream.
//
// Design: one node per instruction. Register allocation works at instruction
// granularity, so basic blocks would only add a translation layer.
package cfg

import (
	"fmt"

	"github.com/GriffinCanCode/regcolor/pkg/ir"
)

// Graph is the successor/predecessor relation over instruction indices
type Graph struct {
	Insts []ir.Inst
	Succs [][]int
	Preds [][]int
	index map[ir.Inst]int
}

// Build constructs the graph for insts
func Build(insts []ir.Inst) (*Graph, error) {
	g := &Graph{
		Insts: insts,
		Succs: make([][]int, len(insts)),
		Preds: make([][]int, len(insts)),
		index: make(map[ir.Inst]int, len(insts)),
	}

	labels := make(map[string]int)
	for i, in := range insts {
		g.index[in] = i
		if l, ok := in.(*ir.Label); ok {
			if _, dup := labels[l.Name]; dup {
				return nil, fmt.Errorf("duplicate label %s", l.Name)
			}
			labels[l.Name] = i
		}
	}

	for i, in := range insts {
		switch v := in.(type) {
		case *ir.Ret:
			// no successors
		case *ir.Jump:
			target, ok := labels[v.Target]
			if !ok {
				return nil, fmt.Errorf("jump to undefined label %s", v.Target)
			}
			g.addEdge(i, target)
			if v.Conditional() && i+1 < len(insts) {
				g.addEdge(i, i+1)
			}
		default:
			if i+1 < len(insts) {
				g.addEdge(i, i+1)
			}
		}
	}
	return g, nil
}

func (g *Graph) addEdge(from, to int) {
	for _, s := range g.Succs[from] {
		if s == to {
			return
		}
	}
	g.Succs[from] = append(g.Succs[from], to)
	g.Preds[to] = append(g.Preds[to], from)
}

// Index returns the position of in within the graph
func (g *Graph) Index(in ir.Inst) (int, bool) {
	i, ok := g.index[in]
	return i, ok
}

// Len returns the number of nodes
func (g *Graph) Len() int {
	return len(g.Insts)
}
