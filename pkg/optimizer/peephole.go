// Package optimizer - Peephole optimization pass
// Recognizes and removes redundant data movement left behind once virtual
// registers have been replaced by their colors
package optimizer

import (
	"github.com/GriffinCanCode/regcolor/pkg/ir"
	"github.com/GriffinCanCode/regcolor/pkg/logger"
)

// PeepholeOptimize applies the peephole patterns to every function of prog
func PeepholeOptimize(prog *ir.Program) *ir.Program {
	logger.Debug("Running peephole optimizer")

	removed := 0
	for _, fn := range prog.Functions {
		before := len(fn.Insts)
		fn.Insts = Peephole(fn.Insts)
		removed += before - len(fn.Insts)
	}

	logger.Info("Peephole optimization complete", "removed", removed)
	return prog
}

// Peephole removes self moves and redundant spill-slot traffic
func Peephole(insts []ir.Inst) []ir.Inst {
	return optimizeInstSequence(RemoveRedundantMoves(insts))
}

// RemoveRedundantMoves drops every movq whose source and destination are the
// same register. Coalesced moves turn into these once colors are substituted.
func RemoveRedundantMoves(insts []ir.Inst) []ir.Inst {
	result := make([]ir.Inst, 0, len(insts))
	for _, in := range insts {
		if dst, src, ok := ir.MoveRegs(in); ok && dst == src {
			logger.Debug("Peephole: eliminated self move", "register", dst.Name)
			continue
		}
		result = append(result, in)
	}
	return result
}

// optimizeInstSequence optimizes a sequence of instructions
func optimizeInstSequence(insts []ir.Inst) []ir.Inst {
	if len(insts) == 0 {
		return insts
	}

	result := make([]ir.Inst, 0, len(insts))
	i := 0

	for i < len(insts) {
		if i+1 < len(insts) && redundantSecond(insts[i], insts[i+1]) {
			result = append(result, insts[i])
			i += 2
			continue
		}
		result = append(result, insts[i])
		i++
	}

	return result
}

// redundantSecond reports whether inst2 repeats a transfer inst1 just did
func redundantSecond(inst1, inst2 ir.Inst) bool {
	a, ok := inst1.(*ir.BinOp)
	if !ok || a.Op != "movq" {
		return false
	}
	b, ok := inst2.(*ir.BinOp)
	if !ok || b.Op != "movq" {
		return false
	}

	// Pattern: movq %r, M; movq M, %r  =>  movq %r, M
	if r, ok := a.Src.(ir.Reg); ok {
		if m, ok := a.Dst.(ir.Mem); ok && m.Base != r && b.Src == ir.Operand(m) && b.Dst == ir.Operand(r) {
			logger.Debug("Peephole: forwarded store to load")
			return true
		}
	}

	// Pattern: movq M, %r; movq %r, M  =>  movq M, %r
	if m, ok := a.Src.(ir.Mem); ok {
		if r, ok := a.Dst.(ir.Reg); ok && m.Base != r && b.Src == ir.Operand(r) && b.Dst == ir.Operand(m) {
			logger.Debug("Peephole: eliminated redundant store")
			return true
		}
	}

	return false
}
