// Package liveness implements live-variable analysis over machine instructions.
//
// Design: classic backward dataflow solved with a worklist to a fixpoint.
// Def and use sets include implicit operands and calling-convention effects
// from the target description, restricted to registers the allocator tracks.
package liveness

import (
	"sort"

	"github.com/GriffinCanCode/regcolor/pkg/cfg"
	"github.com/GriffinCanCode/regcolor/pkg/ir"
	"github.com/GriffinCanCode/regcolor/pkg/logger"
	"github.com/GriffinCanCode/regcolor/pkg/target"
)

// Set is a set of registers
type Set map[ir.Reg]struct{}

// NewSet returns a set holding regs
func NewSet(regs ...ir.Reg) Set {
	s := make(Set, len(regs))
	for _, r := range regs {
		s[r] = struct{}{}
	}
	return s
}

// Add inserts r and reports whether it was missing
func (s Set) Add(r ir.Reg) bool {
	if _, ok := s[r]; ok {
		return false
	}
	s[r] = struct{}{}
	return true
}

// Has reports membership
func (s Set) Has(r ir.Reg) bool {
	_, ok := s[r]
	return ok
}

// Remove deletes r
func (s Set) Remove(r ir.Reg) {
	delete(s, r)
}

// Clone returns a copy of s
func (s Set) Clone() Set {
	c := make(Set, len(s))
	for r := range s {
		c[r] = struct{}{}
	}
	return c
}

// Sorted returns the members ordered physical first, then by name
func (s Set) Sorted() []ir.Reg {
	out := make([]ir.Reg, 0, len(s))
	for r := range s {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Virtual != out[j].Virtual {
			return !out[i].Virtual
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Analysis holds per-instruction def, use, live-in and live-out sets
type Analysis struct {
	graph   *cfg.Graph
	machine *target.Machine

	def []Set
	use []Set
	in  []Set
	out []Set
}

// Analyze runs live-variable analysis on g
func Analyze(g *cfg.Graph, m *target.Machine) *Analysis {
	n := g.Len()
	a := &Analysis{
		graph:   g,
		machine: m,
		def:     make([]Set, n),
		use:     make([]Set, n),
		in:      make([]Set, n),
		out:     make([]Set, n),
	}
	for i, in := range g.Insts {
		a.use[i], a.def[i] = a.effects(in)
		a.in[i] = make(Set)
		a.out[i] = make(Set)
	}
	a.solve()

	logger.Debug("Liveness analysis complete", "instructions", n, "target", m.Name)
	return a
}

// effects computes the tracked def and use sets of a single instruction
func (a *Analysis) effects(in ir.Inst) (use, def Set) {
	use, def = make(Set), make(Set)
	uses, defs := ir.Effects(in)

	phys := func(names []string) []ir.Reg {
		regs := make([]ir.Reg, len(names))
		for i, n := range names {
			regs[i] = ir.Phys(n)
		}
		return regs
	}

	switch v := in.(type) {
	case *ir.UnOp:
		if eff, ok := a.machine.Implicit[v.Op]; ok {
			uses = append(uses, phys(eff.Uses)...)
			defs = append(defs, phys(eff.Defs)...)
		}
	case *ir.Nop:
		if eff, ok := a.machine.Implicit[v.Op]; ok {
			uses = append(uses, phys(eff.Uses)...)
			defs = append(defs, phys(eff.Defs)...)
		}
	case *ir.Call:
		n := v.Args
		if n > len(a.machine.ArgRegs) {
			n = len(a.machine.ArgRegs)
		}
		uses = append(uses, phys(a.machine.ArgRegs[:n])...)
		defs = append(defs, phys(a.machine.CallerSaved)...)
	case *ir.Ret:
		uses = append(uses, phys(a.machine.ReturnRegs)...)
	}

	for _, r := range uses {
		if a.machine.Tracked(r) {
			use.Add(r)
		}
	}
	for _, r := range defs {
		if a.machine.Tracked(r) {
			def.Add(r)
		}
	}
	return use, def
}

func (a *Analysis) solve() {
	n := a.graph.Len()
	queued := make([]bool, n)
	work := make([]int, 0, n)
	for i := 0; i < n; i++ {
		work = append(work, i)
		queued[i] = true
	}

	rounds := 0
	for len(work) > 0 {
		i := work[len(work)-1]
		work = work[:len(work)-1]
		queued[i] = false
		rounds++

		out := a.out[i]
		for _, s := range a.graph.Succs[i] {
			for r := range a.in[s] {
				out.Add(r)
			}
		}

		changed := false
		for r := range a.use[i] {
			if a.in[i].Add(r) {
				changed = true
			}
		}
		for r := range out {
			if !a.def[i].Has(r) && a.in[i].Add(r) {
				changed = true
			}
		}

		if changed {
			for _, p := range a.graph.Preds[i] {
				if !queued[p] {
					queued[p] = true
					work = append(work, p)
				}
			}
		}
	}
	logger.Debug("Liveness fixpoint reached", "visits", rounds)
}

func (a *Analysis) idx(in ir.Inst) (int, bool) {
	return a.graph.Index(in)
}

// Def returns the registers written by in
func (a *Analysis) Def(in ir.Inst) Set {
	if i, ok := a.idx(in); ok {
		return a.def[i]
	}
	return nil
}

// Use returns the registers read by in; it may be empty or nil
func (a *Analysis) Use(in ir.Inst) Set {
	if i, ok := a.idx(in); ok {
		return a.use[i]
	}
	return nil
}

// LiveOut returns the registers live after in
func (a *Analysis) LiveOut(in ir.Inst) Set {
	if i, ok := a.idx(in); ok {
		return a.out[i]
	}
	return nil
}

// LiveIn returns the registers live before in
func (a *Analysis) LiveIn(in ir.Inst) Set {
	if i, ok := a.idx(in); ok {
		return a.in[i]
	}
	return nil
}

// Insts returns the analyzed instruction stream
func (a *Analysis) Insts() []ir.Inst {
	return a.graph.Insts
}

// ReplaceUse substitutes repl for old in the use set and operands of in
func (a *Analysis) ReplaceUse(in ir.Inst, old, repl ir.Reg) {
	if i, ok := a.idx(in); ok && a.use[i].Has(old) {
		a.use[i].Remove(old)
		a.use[i].Add(repl)
	}
	ir.ReplaceReg(in, old, repl)
}

// ReplaceDef substitutes repl for old in the def set and operands of in
func (a *Analysis) ReplaceDef(in ir.Inst, old, repl ir.Reg) {
	if i, ok := a.idx(in); ok && a.def[i].Has(old) {
		a.def[i].Remove(old)
		a.def[i].Add(repl)
	}
	ir.ReplaceReg(in, old, repl)
}
