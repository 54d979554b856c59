package ir

// readOnlyDst lists two-operand instructions that only read their destination
var readOnlyDst = map[string]bool{
	"cmpq":  true,
	"testq": true,
}

// writeOnlyDst lists two-operand instructions that overwrite their destination
// without reading it
var writeOnlyDst = map[string]bool{
	"movq":   true,
	"leaq":   true,
	"movzbq": true,
	"movsbq": true,
}

// writeOnlyArg lists one-operand instructions that only write their operand
var writeOnlyArg = map[string]bool{
	"popq": true,
	"sete": true, "setne": true, "setl": true, "setle": true, "setg": true, "setge": true,
}

// readOnlyArg lists one-operand instructions that only read their operand
var readOnlyArg = map[string]bool{
	"pushq": true,
	"idivq": true,
	"divq":  true,
	"mulq":  true,
	"imulq": true,
}

// Effects returns the registers read and written by the explicit operands of
// in. Implicit operands and calling-convention effects are not included; they
// depend on the target.
func Effects(in Inst) (uses, defs []Reg) {
	switch i := in.(type) {
	case *BinOp:
		uses = appendRead(uses, i.Src)
		if r, ok := i.Dst.(Reg); ok {
			if !writeOnlyDst[i.Op] {
				uses = append(uses, r)
			}
			if !readOnlyDst[i.Op] {
				defs = append(defs, r)
			}
		} else {
			uses = appendRead(uses, i.Dst)
		}
	case *UnOp:
		if r, ok := i.Arg.(Reg); ok {
			if !writeOnlyArg[i.Op] {
				uses = append(uses, r)
			}
			if !readOnlyArg[i.Op] {
				defs = append(defs, r)
			}
		} else {
			uses = appendRead(uses, i.Arg)
		}
	}
	return uses, defs
}

// appendRead appends the registers read when op is used as a source
func appendRead(regs []Reg, op Operand) []Reg {
	switch o := op.(type) {
	case Reg:
		return append(regs, o)
	case Mem:
		return append(regs, o.Base)
	}
	return regs
}

// Regs returns every register mentioned in the operands of in
func Regs(in Inst) []Reg {
	var regs []Reg
	for _, op := range operands(in) {
		regs = appendRead(regs, op)
	}
	return regs
}

func operands(in Inst) []Operand {
	switch i := in.(type) {
	case *BinOp:
		return []Operand{i.Src, i.Dst}
	case *UnOp:
		return []Operand{i.Arg}
	}
	return nil
}

// ReplaceReg substitutes repl for every occurrence of old in the operands of in,
// including memory base registers. It reports whether anything changed.
func ReplaceReg(in Inst, old, repl Reg) bool {
	changed := false
	sub := func(op Operand) Operand {
		switch o := op.(type) {
		case Reg:
			if o == old {
				changed = true
				return repl
			}
		case Mem:
			if o.Base == old {
				changed = true
				o.Base = repl
				return o
			}
		}
		return op
	}
	switch i := in.(type) {
	case *BinOp:
		i.Src = sub(i.Src)
		i.Dst = sub(i.Dst)
	case *UnOp:
		i.Arg = sub(i.Arg)
	}
	return changed
}

// StackEffect returns the number of bytes instruction in pushes onto the stack addressed
// by sp. Pops and immediate additions to sp yield negative values.
func StackEffect(in Inst, sp Reg) int64 {
	switch i := in.(type) {
	case *UnOp:
		switch i.Op {
		case "pushq":
			return 8
		case "popq":
			return -8
		}
	case *BinOp:
		if dst, ok := i.Dst.(Reg); !ok || dst != sp {
			return 0
		}
		imm, ok := i.Src.(Imm)
		if !ok {
			return 0
		}
		switch i.Op {
		case "subq":
			return imm.Val
		case "addq":
			return -imm.Val
		}
	}
	return 0
}

// AnnotateStackOffsets records on every instruction the stack depth at which it
// starts executing. Depth is tracked along program order; labels reached by
// jumps are assumed to be entered at the same depth as their fall-through.
func AnnotateStackOffsets(insts []Inst, sp Reg) {
	var off int64
	for _, in := range insts {
		SetStackOffset(in, off)
		off += StackEffect(in, sp)
	}
}

// OffsetAfter returns the stack depth once in has executed
func OffsetAfter(in Inst, sp Reg) int64 {
	return StackOffset(in) + StackEffect(in, sp)
}
