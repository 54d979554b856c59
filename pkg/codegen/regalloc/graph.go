package regalloc

import (
	"github.com/GriffinCanCode/regcolor/pkg/ir"
	"github.com/GriffinCanCode/regcolor/pkg/liveness"
	"github.com/GriffinCanCode/regcolor/pkg/logger"
	"github.com/GriffinCanCode/regcolor/pkg/target"
)

// edge is an ordered pair of arena indices
type edge struct {
	a, b int
}

// InterferenceGraph represents register interference for one pass
type InterferenceGraph struct {
	machine *target.Machine
	nodes   []node
	index   map[ir.Reg]int

	// adjSet holds both orderings of every edge; adjList only has entries
	// for non-precolored registers
	adjSet  map[edge]struct{}
	adjList [][]int

	moves     []*Move
	moveIndex map[ir.Inst]int
	moveList  [][]int // register -> ascending move indices
}

func newInterferenceGraph(m *target.Machine) *InterferenceGraph {
	return &InterferenceGraph{
		machine:   m,
		index:     make(map[ir.Reg]int),
		adjSet:    make(map[edge]struct{}),
		moveIndex: make(map[ir.Inst]int),
	}
}

// addNode registers r in the arena and returns its index
func (g *InterferenceGraph) addNode(r ir.Reg) int {
	if i, ok := g.index[r]; ok {
		return i
	}
	i := len(g.nodes)
	n := node{reg: r, state: Initial, alias: i, color: -1}
	if !r.Virtual {
		n.state = Precolored
		n.color = g.colorIndex(r.Name)
	}
	g.nodes = append(g.nodes, n)
	g.adjList = append(g.adjList, nil)
	g.moveList = append(g.moveList, nil)
	g.index[r] = i
	return i
}

func (g *InterferenceGraph) colorIndex(name string) int {
	for i, c := range g.machine.Colors {
		if c == name {
			return i
		}
	}
	return -1
}

// addEdge inserts the interference (u, v). Self edges, duplicates and edges
// between two precolored registers are ignored.
func (g *InterferenceGraph) addEdge(u, v int) {
	if u == v || (g.nodes[u].precolored() && g.nodes[v].precolored()) {
		return
	}
	if _, ok := g.adjSet[edge{u, v}]; ok {
		return
	}
	g.adjSet[edge{u, v}] = struct{}{}
	g.adjSet[edge{v, u}] = struct{}{}
	if !g.nodes[u].precolored() {
		g.adjList[u] = append(g.adjList[u], v)
		g.nodes[u].degree++
	}
	if !g.nodes[v].precolored() {
		g.adjList[v] = append(g.adjList[v], u)
		g.nodes[v].degree++
	}
}

func (g *InterferenceGraph) interferes(u, v int) bool {
	_, ok := g.adjSet[edge{u, v}]
	return ok
}

// addMove records a move under both of its operands
func (g *InterferenceGraph) addMove(in ir.Inst, dst, src int) {
	if _, seen := g.moveIndex[in]; seen {
		return
	}
	mi := len(g.moves)
	g.moves = append(g.moves, newMove(in, dst, src))
	g.moveIndex[in] = mi
	g.moveList[dst] = unionSorted(g.moveList[dst], []int{mi})
	g.moveList[src] = unionSorted(g.moveList[src], []int{mi})
}

// BuildInterferenceGraph constructs the graph for insts from a liveness
// analysis of the same stream. temps marks registers introduced by spill
// rewriting.
func BuildInterferenceGraph(an *liveness.Analysis, insts []ir.Inst, m *target.Machine, temps map[ir.Reg]bool) *InterferenceGraph {
	g := newInterferenceGraph(m)

	// Physical registers first so precolored nodes get the low indices
	seen := make(liveness.Set)
	for _, in := range insts {
		for r := range an.Def(in) {
			seen.Add(r)
		}
		for r := range an.Use(in) {
			seen.Add(r)
		}
		for r := range an.LiveOut(in) {
			seen.Add(r)
		}
	}
	for _, r := range seen.Sorted() {
		i := g.addNode(r)
		g.nodes[i].temp = temps[r]
	}

	for _, in := range insts {
		for r := range an.Def(in) {
			g.nodes[g.index[r]].occurs++
		}
		for r := range an.Use(in) {
			g.nodes[g.index[r]].occurs++
		}
	}

	for _, in := range insts {
		live := an.LiveOut(in).Clone()

		if dst, src, ok := ir.MoveRegs(in); ok && m.Tracked(dst) && m.Tracked(src) {
			for r := range an.Use(in) {
				live.Remove(r)
			}
			g.addMove(in, g.index[dst], g.index[src])
		}

		defs := an.Def(in).Sorted()
		for _, d := range defs {
			live.Add(d)
		}
		lives := live.Sorted()
		for _, d := range defs {
			for _, l := range lives {
				g.addEdge(g.index[d], g.index[l])
			}
		}
	}

	logger.Debug("Built interference graph",
		"nodes", len(g.nodes),
		"edges", g.EdgeCount(),
		"moves", len(g.moves))

	return g
}

// EdgeCount returns the number of undirected interference edges
func (g *InterferenceGraph) EdgeCount() int {
	return len(g.adjSet) / 2
}

// Len returns the number of registers in the graph
func (g *InterferenceGraph) Len() int {
	return len(g.nodes)
}

// Registers returns every register in arena order
func (g *InterferenceGraph) Registers() []ir.Reg {
	regs := make([]ir.Reg, len(g.nodes))
	for i := range g.nodes {
		regs[i] = g.nodes[i].reg
	}
	return regs
}

// Interferes reports whether a and b share an edge
func (g *InterferenceGraph) Interferes(a, b ir.Reg) bool {
	ia, okA := g.index[a]
	ib, okB := g.index[b]
	return okA && okB && g.interferes(ia, ib)
}

// Degree returns the stored degree of r
func (g *InterferenceGraph) Degree(r ir.Reg) int {
	if i, ok := g.index[r]; ok {
		return g.nodes[i].degree
	}
	return 0
}

// Neighbors returns the adjacency list of a non-precolored register
func (g *InterferenceGraph) Neighbors(r ir.Reg) []ir.Reg {
	i, ok := g.index[r]
	if !ok {
		return nil
	}
	out := make([]ir.Reg, len(g.adjList[i]))
	for k, j := range g.adjList[i] {
		out[k] = g.nodes[j].reg
	}
	return out
}

// State returns the allocation state of r
func (g *InterferenceGraph) State(r ir.Reg) (State, bool) {
	if i, ok := g.index[r]; ok {
		return g.nodes[i].state, true
	}
	return Initial, false
}

// Moves returns the move instructions of the graph in discovery order
func (g *InterferenceGraph) Moves() []*Move {
	return g.moves
}
