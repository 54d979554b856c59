// Package ir implements the machine-level instruction representation.
//
// Design: AT&T operand order (source first), registers are either virtual
// (unbounded, named by the compiler) or physical (fixed by the target).
// Instructions are compared by pointer identity, so the same text appearing
// twice in a function is still two distinct instructions.
package ir

import (
	"fmt"
	"strings"
)

// Program is a list of functions in source order
type Program struct {
	Functions []*Function
}

// Function is a flat instruction stream
type Function struct {
	Name  string
	Insts []Inst
}

// Lookup returns the function with the given name
func (p *Program) Lookup(name string) (*Function, bool) {
	for _, fn := range p.Functions {
		if fn.Name == name {
			return fn, true
		}
	}
	return nil, false
}

// Annot carries per-instruction annotations computed by later passes
type Annot struct {
	// StackOffset is the number of bytes pushed below the frame base
	// when the instruction starts executing.
	StackOffset int64
}

func (a *Annot) annot() *Annot { return a }

// Inst is a single machine instruction
type Inst interface {
	fmt.Stringer
	annot() *Annot
}

// StackOffset returns the stack-offset annotation of in
func StackOffset(in Inst) int64 {
	return in.annot().StackOffset
}

// SetStackOffset sets the stack-offset annotation of in
func SetStackOffset(in Inst, off int64) {
	in.annot().StackOffset = off
}

// Operands

// Operand is a register, immediate or memory reference
type Operand interface {
	fmt.Stringer
	operand()
}

// Reg is a register operand. The zero value is not a valid register.
type Reg struct {
	Name    string
	Virtual bool
}

func (Reg) operand() {}

func (r Reg) String() string { return "%" + r.Name }

// Virt returns a virtual register
func Virt(name string) Reg { return Reg{Name: name, Virtual: true} }

// Phys returns a physical register
func Phys(name string) Reg { return Reg{Name: name} }

// Imm is an immediate operand
type Imm struct {
	Val int64
}

func (Imm) operand() {}

func (i Imm) String() string { return fmt.Sprintf("$%d", i.Val) }

// Mem is a base+displacement memory reference
type Mem struct {
	Base Reg
	Disp int64
}

func (Mem) operand() {}

func (m Mem) String() string {
	if m.Disp == 0 {
		return fmt.Sprintf("(%s)", m.Base)
	}
	return fmt.Sprintf("%d(%s)", m.Disp, m.Base)
}

// Instructions

// BinOp is a two-operand instruction: Op Src, Dst
type BinOp struct {
	Annot
	Op  string
	Src Operand
	Dst Operand
}

func (b *BinOp) String() string { return fmt.Sprintf("%s %s, %s", b.Op, b.Src, b.Dst) }

// UnOp is a one-operand instruction such as pushq or negq
type UnOp struct {
	Annot
	Op  string
	Arg Operand
}

func (u *UnOp) String() string { return fmt.Sprintf("%s %s", u.Op, u.Arg) }

// Nop is a zero-operand instruction other than ret (cqto, leave, ...)
type Nop struct {
	Annot
	Op string
}

func (n *Nop) String() string { return n.Op }

// Label marks a jump target
type Label struct {
	Annot
	Name string
}

func (l *Label) String() string { return l.Name + ":" }

// Jump is a conditional or unconditional branch to a label
type Jump struct {
	Annot
	Op     string
	Target string
}

func (j *Jump) String() string { return fmt.Sprintf("%s %s", j.Op, j.Target) }

// Conditional reports whether control may fall through the jump
func (j *Jump) Conditional() bool { return j.Op != "jmp" }

// Call transfers control to Target passing Args register arguments
type Call struct {
	Annot
	Target string
	Args   int
}

func (c *Call) String() string {
	if c.Args == 0 {
		return "callq " + c.Target
	}
	return fmt.Sprintf("callq %s, %d", c.Target, c.Args)
}

// Ret returns from the function
type Ret struct {
	Annot
}

func (*Ret) String() string { return "retq" }

// IsMove reports whether in is a register-to-register move
func IsMove(in Inst) bool {
	b, ok := in.(*BinOp)
	if !ok || b.Op != "movq" {
		return false
	}
	_, srcReg := b.Src.(Reg)
	_, dstReg := b.Dst.(Reg)
	return srcReg && dstReg
}

// MoveRegs returns the destination and source of a register-to-register move
func MoveRegs(in Inst) (dst, src Reg, ok bool) {
	if !IsMove(in) {
		return Reg{}, Reg{}, false
	}
	b := in.(*BinOp)
	return b.Dst.(Reg), b.Src.(Reg), true
}

// Format renders an instruction stream one instruction per line,
// labels flush left and everything else indented by a tab
func Format(insts []Inst) string {
	var sb strings.Builder
	for _, in := range insts {
		if _, ok := in.(*Label); !ok {
			sb.WriteByte('\t')
		}
		sb.WriteString(in.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}
