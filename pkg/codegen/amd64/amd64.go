// Package amd64 implements x86-64 assembly emission for allocated functions.
//
// Design: direct text generation from the allocator's result. Virtual
// registers are replaced by their colors, the peephole pass removes the
// self moves coalescing leaves behind, and the callee-saved registers in use
// plus a 16-byte aligned spill frame are set up on entry and released before
// every return.
package amd64

import (
	"fmt"
	"io"
	"strings"

	"github.com/GriffinCanCode/regcolor/pkg/codegen/regalloc"
	"github.com/GriffinCanCode/regcolor/pkg/ir"
	"github.com/GriffinCanCode/regcolor/pkg/logger"
	"github.com/GriffinCanCode/regcolor/pkg/optimizer"
	"github.com/GriffinCanCode/regcolor/pkg/target"
)

// Generator generates x86-64 assembly
type Generator struct {
	w       io.Writer
	machine *target.Machine
}

// NewGenerator creates a generator writing to w. A nil machine means amd64.
func NewGenerator(w io.Writer, m *target.Machine) *Generator {
	if m == nil {
		m = target.AMD64()
	}
	return &Generator{w: w, machine: m}
}

// Generate emits assembly for every allocation result in order
func (g *Generator) Generate(results []*regalloc.Result) error {
	logger.Debug("Generating amd64 assembly", "functions", len(results))

	fmt.Fprintf(g.w, "\t.text\n")

	for _, res := range results {
		logger.Debug("Generating function assembly", "arch", "amd64", "name", res.Function)
		if err := g.Emit(res); err != nil {
			logger.Error("Failed to generate function", "arch", "amd64", "name", res.Function, "error", err)
			return err
		}
	}

	logger.Info("amd64 code generation complete", "functions", len(results))
	return nil
}

// GenerateWithValidation generates and validates assembly
func (g *Generator) GenerateWithValidation(results []*regalloc.Result) (string, error) {
	var buf strings.Builder
	w := g.w
	g.w = &buf
	defer func() { g.w = w }()

	if err := g.Generate(results); err != nil {
		return "", fmt.Errorf("generation failed: %w", err)
	}

	assembly := buf.String()

	if err := NewValidator(g.machine).Validate(assembly); err != nil {
		logger.Error("Assembly validation failed", "error", err)
		return assembly, fmt.Errorf("validation failed: %w", err)
	}

	logger.Info("Assembly generated and validated successfully")
	return assembly, nil
}

// Emit writes one allocated function. Callee-saved registers the allocator
// handed out are pushed on entry and popped before every return.
func (g *Generator) Emit(res *regalloc.Result) error {
	insts, err := Substitute(res.Insts, res.Colors)
	if err != nil {
		return fmt.Errorf("%s: %w", res.Function, err)
	}
	insts = optimizer.Peephole(insts)

	saved := g.calleeSaved(res.Colors)
	frame := frameSize(res, len(saved))
	sp := g.machine.SP()

	fmt.Fprintf(g.w, "\t.globl %s\n", res.Function)
	fmt.Fprintf(g.w, "%s:\n", res.Function)
	for _, r := range saved {
		fmt.Fprintf(g.w, "\tpushq %s\n", r)
	}
	if frame > 0 {
		fmt.Fprintf(g.w, "\tsubq $%d, %s\n", frame, sp)
	}

	for _, in := range insts {
		if _, ok := in.(*ir.Ret); ok {
			if frame > 0 {
				fmt.Fprintf(g.w, "\taddq $%d, %s\n", frame, sp)
			}
			for i := len(saved) - 1; i >= 0; i-- {
				fmt.Fprintf(g.w, "\tpopq %s\n", saved[i])
			}
		}
		if _, ok := in.(*ir.Label); ok {
			fmt.Fprintf(g.w, "%s\n", in)
			continue
		}
		fmt.Fprintf(g.w, "\t%s\n", in)
	}
	return nil
}

// calleeSaved returns the callee-saved registers used as colors, in the
// machine's order
func (g *Generator) calleeSaved(colors regalloc.ColorMap) []ir.Reg {
	used := make(map[string]bool, len(colors))
	for _, c := range colors {
		used[c] = true
	}
	var out []ir.Reg
	for _, r := range g.machine.CalleeSaved {
		if used[r] {
			out = append(out, ir.Phys(r))
		}
	}
	return out
}

// frameSize pads the spill frame so that saves plus frame keep the stack
// pointer 16-byte aligned relative to entry
func frameSize(res *regalloc.Result, saved int) int {
	frame := res.FrameSize()
	if saved%2 == 1 {
		frame += 8
	}
	return frame
}

// Substitute replaces every virtual register in insts by its color. The
// instructions are rewritten in place.
func Substitute(insts []ir.Inst, colors regalloc.ColorMap) ([]ir.Inst, error) {
	for _, in := range insts {
		for _, r := range ir.Regs(in) {
			if !r.Virtual {
				continue
			}
			phys, ok := colors[r.Name]
			if !ok {
				return nil, fmt.Errorf("register %s has no color", r)
			}
			ir.ReplaceReg(in, r, ir.Phys(phys))
		}
	}
	return insts, nil
}
