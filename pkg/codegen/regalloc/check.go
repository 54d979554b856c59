package regalloc

import (
	"fmt"

	"go.uber.org/multierr"
)

// checkGraph verifies edge symmetry and that adjacency lists agree with the
// adjacency set
func (e *engine) checkGraph() error {
	var err error
	g := e.g
	for ed := range g.adjSet {
		if ed.a == ed.b {
			err = multierr.Append(err, invariantf("self edge on %s", g.nodes[ed.a].reg))
		}
		if _, ok := g.adjSet[edge{ed.b, ed.a}]; !ok {
			err = multierr.Append(err, invariantf("edge %s-%s is not symmetric",
				g.nodes[ed.a].reg, g.nodes[ed.b].reg))
		}
	}
	for n := range g.nodes {
		if g.nodes[n].precolored() && len(g.adjList[n]) > 0 {
			err = multierr.Append(err, invariantf("precolored %s has an adjacency list", g.nodes[n].reg))
		}
		for _, w := range g.adjList[n] {
			if !g.interferes(n, w) {
				err = multierr.Append(err, invariantf("%s lists %s without an edge",
					g.nodes[n].reg, g.nodes[w].reg))
			}
		}
	}
	return err
}

// checkWorklists verifies the register partition, degree bookkeeping and
// the move-set partition
func (e *engine) checkWorklists() error {
	var err error
	g := e.g

	onStack := make([]int, len(g.nodes))
	for _, n := range e.selectStack {
		onStack[n]++
	}

	total := len(e.selectStack)
	for _, s := range []State{Initial, Precolored, Simplify, Freeze, Spill, Coalesced, Colored, Spilled} {
		total += e.list(s).len()
	}
	if total != len(g.nodes) {
		err = multierr.Append(err, invariantf("worklists hold %d registers, graph has %d", total, len(g.nodes)))
	}

	for n := range g.nodes {
		nd := &g.nodes[n]
		member := 0
		for _, s := range []State{Initial, Precolored, Simplify, Freeze, Spill, Coalesced, Colored, Spilled} {
			if e.list(s).has(n) {
				member++
				if s != nd.state {
					err = multierr.Append(err, invariantf("%s is %s but on the %s worklist", nd.reg, nd.state, s))
				}
			}
		}
		member += onStack[n]
		if onStack[n] > 0 && nd.state != Selected {
			err = multierr.Append(err, invariantf("%s is on the select stack but %s", nd.reg, nd.state))
		}
		if member != 1 {
			err = multierr.Append(err, invariantf("%s is on %d worklists", nd.reg, member))
		}

		switch nd.state {
		case Simplify, Freeze, Spill:
			if want := len(e.adjacent(n)); nd.degree != want {
				err = multierr.Append(err, invariantf("%s has degree %d, %d live neighbors", nd.reg, nd.degree, want))
			}
		}
		if nd.state == Spill && nd.degree < e.k {
			err = multierr.Append(err, invariantf("%s is a spill candidate with degree %d < K", nd.reg, nd.degree))
		}
		if nd.state == Coalesced && g.nodes[nd.alias].reg == nd.reg {
			err = multierr.Append(err, invariantf("coalesced %s aliases itself", nd.reg))
		}
	}

	for mi, m := range g.moves {
		member := 0
		for c := range e.moveSets {
			if e.moveSets[c].has(mi) {
				member++
				if MoveCategory(c) != m.category {
					err = multierr.Append(err, invariantf("move %q is %s but in the %s set", m.Inst, m.category, MoveCategory(c)))
				}
			}
		}
		if member != 1 {
			err = multierr.Append(err, invariantf("move %q is in %d sets", m.Inst, member))
		}
	}
	return err
}

// checkColoring verifies that no edge joins two registers of the same color,
// coalesced registers included
func (e *engine) checkColoring() error {
	var err error
	g := e.g
	for ed := range g.adjSet {
		if ed.a > ed.b {
			continue
		}
		ca, cb := g.nodes[ed.a].color, g.nodes[ed.b].color
		if ca >= 0 && ca == cb {
			err = multierr.Append(err, fmt.Errorf("%w: %s and %s interfere but share %s",
				ErrInvariant, g.nodes[ed.a].reg, g.nodes[ed.b].reg, g.machine.Colors[ca]))
		}
	}
	for _, n := range e.coalesced.items {
		a := e.getAlias(n)
		for _, w := range g.adjList[n] {
			cw := g.nodes[e.getAlias(w)].color
			if cw >= 0 && cw == g.nodes[a].color && e.getAlias(w) != a {
				err = multierr.Append(err, fmt.Errorf("%w: coalesced %s shares %s with neighbor %s",
					ErrInvariant, g.nodes[n].reg, g.machine.Colors[cw], g.nodes[w].reg))
			}
		}
	}
	return err
}
