package regalloc

import (
	"fmt"
	"math"

	"github.com/GriffinCanCode/regcolor/pkg/logger"
)

// engine is the worklist state machine of one allocation pass
type engine struct {
	g *InterferenceGraph
	k int

	initial    indexSet
	precolored indexSet
	simplify   indexSet
	freeze     indexSet
	spill      indexSet
	coalesced  indexSet
	colored    indexSet
	spilled    indexSet

	selectStack []int

	moveSets [numMoveCategories]indexSet
}

func newEngine(g *InterferenceGraph) *engine {
	n := len(g.nodes)
	e := &engine{
		g:          g,
		k:          g.machine.K(),
		initial:    newIndexSet(n),
		precolored: newIndexSet(n),
		simplify:   newIndexSet(n),
		freeze:     newIndexSet(n),
		spill:      newIndexSet(n),
		coalesced:  newIndexSet(n),
		colored:    newIndexSet(n),
		spilled:    newIndexSet(n),
	}
	for c := range e.moveSets {
		e.moveSets[c] = newIndexSet(len(g.moves))
	}
	for i := range g.nodes {
		if g.nodes[i].precolored() {
			e.precolored.add(i)
		} else {
			e.initial.add(i)
		}
	}
	for mi, m := range g.moves {
		e.moveSets[m.category].add(mi)
	}
	return e
}

// InvariantError reports a broken worklist or move-set invariant
type InvariantError struct {
	Message string
}

func (e *InvariantError) Error() string { return "regalloc invariant violated: " + e.Message }

func (e *InvariantError) Unwrap() error { return ErrInvariant }

func invariantf(format string, args ...any) *InvariantError {
	return &InvariantError{Message: fmt.Sprintf(format, args...)}
}

// list returns the set that holds registers in state s, nil for the select
// stack
func (e *engine) list(s State) *indexSet {
	switch s {
	case Initial:
		return &e.initial
	case Precolored:
		return &e.precolored
	case Simplify:
		return &e.simplify
	case Freeze:
		return &e.freeze
	case Spill:
		return &e.spill
	case Coalesced:
		return &e.coalesced
	case Colored:
		return &e.colored
	case Spilled:
		return &e.spilled
	}
	return nil
}

// transitionOK lists the state changes the algorithm can make
func transitionOK(from, to State) bool {
	switch from {
	case Initial:
		return to == Simplify || to == Freeze || to == Spill
	case Simplify, Freeze, Spill:
		return to == Simplify || to == Freeze || to == Spill || to == Selected || to == Coalesced
	case Selected:
		return to == Colored || to == Spilled
	}
	return false
}

// setState moves register n from its current worklist into the one for s
func (e *engine) setState(n int, s State) {
	nd := &e.g.nodes[n]
	if !transitionOK(nd.state, s) {
		panic(invariantf("register %s cannot go from %s to %s", nd.reg, nd.state, s))
	}
	if l := e.list(nd.state); l != nil && !l.remove(n) {
		panic(invariantf("register %s is %s but not on that worklist", nd.reg, nd.state))
	}
	nd.state = s
	if l := e.list(s); l != nil && !l.add(n) {
		panic(invariantf("register %s already on the %s worklist", nd.reg, s))
	}
}

// setCategory moves move mi into the set for c
func (e *engine) setCategory(mi int, c MoveCategory) {
	m := e.g.moves[mi]
	if !e.moveSets[m.category].remove(mi) {
		panic(invariantf("move %q is %s but not in that set", m.Inst, m.category))
	}
	m.category = c
	e.moveSets[c].add(mi)
}

// makeWorklist routes every initial register to exactly one worklist
func (e *engine) makeWorklist() {
	for _, n := range e.initial.snapshot() {
		switch {
		case e.g.nodes[n].degree >= e.k:
			e.setState(n, Spill)
		case e.moveRelated(n):
			e.setState(n, Freeze)
		default:
			e.setState(n, Simplify)
		}
	}
}

// done reports whether all four worklists are exhausted
func (e *engine) done() bool {
	return e.simplify.len() == 0 &&
		e.moveSets[MoveWorklist].len() == 0 &&
		e.freeze.len() == 0 &&
		e.spill.len() == 0
}

// step performs one iteration of the main loop
func (e *engine) step() {
	switch {
	case e.simplify.len() > 0:
		e.simplifyOne()
	case e.moveSets[MoveWorklist].len() > 0:
		e.coalesce()
	case e.freeze.len() > 0:
		e.freezeOne()
	case e.spill.len() > 0:
		e.selectSpill()
	}
}

// run iterates the main loop to exhaustion. check, when non-nil, is called
// after every step.
func (e *engine) run(check func() error) error {
	for !e.done() {
		e.step()
		if check != nil {
			if err := check(); err != nil {
				return err
			}
		}
	}
	return nil
}

// adjacent returns the neighbors of n still in the graph: neither on the
// select stack nor coalesced away
func (e *engine) adjacent(n int) []int {
	var out []int
	for _, w := range e.g.adjList[n] {
		switch e.g.nodes[w].state {
		case Selected, Coalesced:
			continue
		}
		out = append(out, w)
	}
	return out
}

// nodeMoves returns the moves of n that may still be coalesced
func (e *engine) nodeMoves(n int) []int {
	var out []int
	for _, mi := range e.g.moveList[n] {
		switch e.g.moves[mi].category {
		case MoveActive, MoveWorklist:
			out = append(out, mi)
		}
	}
	return out
}

func (e *engine) moveRelated(n int) bool {
	for _, mi := range e.g.moveList[n] {
		switch e.g.moves[mi].category {
		case MoveActive, MoveWorklist:
			return true
		}
	}
	return false
}

func (e *engine) simplifyOne() {
	n := e.simplify.items[e.simplify.len()-1]
	e.setState(n, Selected)
	e.selectStack = append(e.selectStack, n)
	for _, m := range e.adjacent(n) {
		e.decrementDegree(m)
	}
}

// decrementDegree removes one edge's worth of degree from m. Crossing the
// K threshold makes m and its neighbors candidates for coalescing again.
func (e *engine) decrementDegree(m int) {
	nd := &e.g.nodes[m]
	if nd.precolored() {
		return
	}
	d := nd.degree
	nd.degree--
	if d != e.k {
		return
	}

	e.enableMoves(append([]int{m}, e.adjacent(m)...))
	if e.moveRelated(m) {
		if nd.state != Freeze {
			e.setState(m, Freeze)
		}
	} else if nd.state != Simplify {
		e.setState(m, Simplify)
	}
}

// enableMoves returns the active moves of nodes to the worklist
func (e *engine) enableMoves(nodes []int) {
	for _, n := range nodes {
		for _, mi := range e.nodeMoves(n) {
			if e.g.moves[mi].category == MoveActive {
				e.setCategory(mi, MoveWorklist)
			}
		}
	}
}

// getAlias resolves n to the representative it was coalesced into,
// compressing the path on the way back
func (e *engine) getAlias(n int) int {
	nodes := e.g.nodes
	root := n
	for nodes[root].state == Coalesced {
		root = nodes[root].alias
	}
	for n != root {
		next := nodes[n].alias
		nodes[n].alias = root
		n = next
	}
	return root
}

func (e *engine) coalesce() {
	mi := e.moveSets[MoveWorklist].first()
	m := e.g.moves[mi]
	x := e.getAlias(m.dst)
	y := e.getAlias(m.src)

	u, v := x, y
	if e.g.nodes[y].precolored() {
		u, v = y, x
	}

	switch {
	case u == v:
		e.setCategory(mi, MoveCoalesced)
		e.addWorklist(u)
	case e.g.nodes[v].precolored() || e.g.interferes(u, v):
		e.setCategory(mi, MoveConstrained)
		e.addWorklist(u)
		e.addWorklist(v)
	case e.safeToCoalesce(u, v):
		e.setCategory(mi, MoveCoalesced)
		e.combine(u, v)
		e.addWorklist(u)
		logger.Debug("Coalesced registers",
			"into", e.g.nodes[u].reg.Name,
			"from", e.g.nodes[v].reg.Name)
	default:
		e.setCategory(mi, MoveActive)
	}
}

// safeToCoalesce applies the George test when u is precolored and the
// Briggs test otherwise
func (e *engine) safeToCoalesce(u, v int) bool {
	if e.g.nodes[u].precolored() {
		for _, t := range e.adjacent(v) {
			if !e.ok(t, u) {
				return false
			}
		}
		return true
	}
	return e.conservative(u, v)
}

// addWorklist moves u to simplify once it is neither move-related nor
// significant
func (e *engine) addWorklist(u int) {
	nd := &e.g.nodes[u]
	if nd.precolored() || e.moveRelated(u) || nd.degree >= e.k {
		return
	}
	if nd.state == Freeze {
		e.setState(u, Simplify)
	}
}

// ok is the George condition for neighbor t of the register merged into r
func (e *engine) ok(t, r int) bool {
	nd := &e.g.nodes[t]
	return nd.degree < e.k || nd.precolored() || e.g.interferes(t, r)
}

// conservative is the Briggs condition: the merged node has fewer than K
// neighbors of significant degree
func (e *engine) conservative(u, v int) bool {
	seen := make(map[int]bool)
	significant := 0
	for _, set := range [][]int{e.adjacent(u), e.adjacent(v)} {
		for _, n := range set {
			if seen[n] {
				continue
			}
			seen[n] = true
			nd := &e.g.nodes[n]
			if nd.precolored() || nd.degree >= e.k {
				significant++
			}
		}
	}
	return significant < e.k
}

// combine merges v into u
func (e *engine) combine(u, v int) {
	e.setState(v, Coalesced)
	e.g.nodes[v].alias = u
	e.g.moveList[u] = unionSorted(e.g.moveList[u], e.g.moveList[v])
	e.enableMoves([]int{v})

	for _, t := range e.adjacent(v) {
		e.g.addEdge(t, u)
		e.decrementDegree(t)
	}

	if nd := &e.g.nodes[u]; nd.degree >= e.k && nd.state == Freeze {
		e.setState(u, Spill)
	}
}

func (e *engine) freezeOne() {
	u := e.freeze.items[e.freeze.len()-1]
	e.setState(u, Simplify)
	e.freezeMoves(u)
}

// freezeMoves gives up on coalescing every move of u
func (e *engine) freezeMoves(u int) {
	for _, mi := range e.nodeMoves(u) {
		m := e.g.moves[mi]
		x, y := e.getAlias(m.dst), e.getAlias(m.src)
		v := y
		if y == e.getAlias(u) {
			v = x
		}

		e.setCategory(mi, MoveFrozen)

		if e.g.nodes[v].state == Freeze && !e.moveRelated(v) {
			e.setState(v, Simplify)
		}
	}
}

// spillCost is the expected cost of spilling n: its def/use count spread
// over its degree. Registers created by spill rewriting are never chosen
// while anything else is available.
func (e *engine) spillCost(n int) float64 {
	nd := &e.g.nodes[n]
	if nd.temp {
		return math.Inf(1)
	}
	if nd.degree == 0 {
		return float64(nd.occurs)
	}
	return float64(nd.occurs) / float64(nd.degree)
}

// selectSpill optimistically moves the cheapest spill candidate to simplify
func (e *engine) selectSpill() {
	best := -1
	bestCost := math.Inf(1)
	for _, n := range e.spill.items {
		c := e.spillCost(n)
		if best < 0 || c < bestCost || (c == bestCost && n < best) {
			best, bestCost = n, c
		}
	}

	logger.Debug("Selected spill candidate",
		"register", e.g.nodes[best].reg.Name,
		"cost", bestCost,
		"degree", e.g.nodes[best].degree)

	e.setState(best, Simplify)
	e.freezeMoves(best)
}
