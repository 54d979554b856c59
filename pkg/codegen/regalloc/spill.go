package regalloc

import (
	"github.com/GriffinCanCode/regcolor/pkg/ir"
	"github.com/GriffinCanCode/regcolor/pkg/liveness"
)

// slotSize is the width of one spill slot in bytes
const slotSize = 8

// spillRewriter inserts loads and stores around every use and def of a
// spilled register
type spillRewriter struct {
	sp    ir.Reg
	temps *ir.Temps
	// created collects the temporaries introduced, so the next pass can
	// avoid spilling them again
	created map[ir.Reg]bool
	slots   int
}

// slotMem returns the address of slot at stack depth off
func (s *spillRewriter) slotMem(slot int, off int64) ir.Mem {
	return ir.Mem{Base: s.sp, Disp: off + int64(slot*slotSize)}
}

// newSlot allocates a fresh stack slot
func (s *spillRewriter) newSlot() int {
	slot := s.slots
	s.slots++
	return slot
}

// rewrite returns insts with every register in spilled living in memory.
// Instructions are rewritten in place; the returned slice holds them plus
// the synthesized loads and stores.
func (s *spillRewriter) rewrite(an *liveness.Analysis, insts []ir.Inst, spilled []ir.Reg) []ir.Inst {
	for _, r := range spilled {
		slot := s.newSlot()
		out := make([]ir.Inst, 0, len(insts)+4)

		for _, in := range insts {
			uses := an.Use(in).Has(r)
			defs := an.Def(in).Has(r)
			if !uses && !defs {
				out = append(out, in)
				continue
			}

			tmp := s.temps.Next()
			s.created[tmp] = true

			if uses {
				load := &ir.BinOp{Op: "movq", Src: s.slotMem(slot, ir.StackOffset(in)), Dst: tmp}
				ir.SetStackOffset(load, ir.StackOffset(in))
				out = append(out, load)
				an.ReplaceUse(in, r, tmp)
			}
			if defs {
				an.ReplaceDef(in, r, tmp)
			}
			out = append(out, in)
			if defs {
				after := ir.OffsetAfter(in, s.sp)
				store := &ir.BinOp{Op: "movq", Src: tmp, Dst: s.slotMem(slot, after)}
				ir.SetStackOffset(store, after)
				out = append(out, store)
			}
		}
		insts = out
	}
	return insts
}
