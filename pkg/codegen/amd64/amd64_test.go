// Package amd64 - Unit tests for x86-64 assembly emission
package amd64

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/GriffinCanCode/regcolor/pkg/codegen/regalloc"
	"github.com/GriffinCanCode/regcolor/pkg/ir"
	"github.com/GriffinCanCode/regcolor/pkg/target"
)

func parseInsts(t *testing.T, src string) []ir.Inst {
	t.Helper()
	m := target.AMD64()
	insts, err := ir.NewParser(m.IsPhys).Parse(src)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	return insts
}

func TestEmitSubstitutesColors(t *testing.T) {
	res := &regalloc.Result{
		Function: "add",
		Insts: parseInsts(t, `
	movq %rdi, %a
	addq %rsi, %a
	movq %a, %rax
	retq
`),
		Colors: regalloc.ColorMap{"a": "rax"},
	}

	var buf bytes.Buffer
	if err := NewGenerator(&buf, nil).Emit(res); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}

	want := "\t.globl add\nadd:\n\tmovq %rdi, %rax\n\taddq %rsi, %rax\n\tretq\n"
	if got := buf.String(); got != want {
		t.Errorf("Emit output mismatch\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestEmitSpillFrame(t *testing.T) {
	res := &regalloc.Result{
		Function: "f",
		Insts: parseInsts(t, `
	movq $1, %a
	movq %a, 8(%rsp)
	cmpq $0, %rdi
	je done
	movq $2, %rax
	retq
done:
	movq $3, %rax
	retq
`),
		Colors: regalloc.ColorMap{"a": "rcx"},
		Slots:  2,
	}

	var buf bytes.Buffer
	if err := NewGenerator(&buf, nil).Emit(res); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	asm := buf.String()

	if !strings.Contains(asm, "\tsubq $16, %rsp\n") {
		t.Errorf("expected frame allocation in:\n%s", asm)
	}
	if got := strings.Count(asm, "\taddq $16, %rsp\n\tretq\n"); got != 2 {
		t.Errorf("expected frame release before both returns, found %d in:\n%s", got, asm)
	}
	if !strings.Contains(asm, "\ndone:\n") {
		t.Errorf("labels should be emitted flush left:\n%s", asm)
	}

	if err := NewValidator(nil).Validate(asm); err != nil {
		t.Errorf("emitted code failed validation: %v", err)
	}
}

func TestEmitMissingColor(t *testing.T) {
	res := &regalloc.Result{
		Function: "f",
		Insts:    parseInsts(t, "movq $1, %a\nmovq %a, %rax\nretq"),
		Colors:   regalloc.ColorMap{},
	}

	var buf bytes.Buffer
	err := NewGenerator(&buf, nil).Emit(res)
	if err == nil {
		t.Fatal("expected error for register without color")
	}
	if !strings.Contains(err.Error(), "%a") {
		t.Errorf("error should name the register, got: %v", err)
	}
}

func TestSubstituteMemoryBase(t *testing.T) {
	insts := parseInsts(t, "movq 8(%p), %v")
	got, err := Substitute(insts, regalloc.ColorMap{"p": "rsi", "v": "rdx"})
	if err != nil {
		t.Fatalf("Substitute failed: %v", err)
	}
	if s := got[0].String(); s != "movq 8(%rsi), %rdx" {
		t.Errorf("got %q", s)
	}
}

func TestGenerateAllocatedProgram(t *testing.T) {
	m := target.AMD64()
	prog, err := ir.NewParser(m.IsPhys).ParseProgram(`
.func sum
	movq %rdi, %x
	movq %rsi, %y
	movq %x, %t
	addq %y, %t
	movq %t, %rax
	retq
.func twice
	movq %rdi, %a
	addq %a, %a
	movq %a, %rax
	retq
`)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	alloc, err := regalloc.NewAllocator(regalloc.Config{Machine: m, Verify: true})
	if err != nil {
		t.Fatalf("NewAllocator failed: %v", err)
	}
	results, err := alloc.AllocateProgram(prog, regalloc.NewRegistry())
	if err != nil {
		t.Fatalf("allocation failed: %v", err)
	}

	var buf bytes.Buffer
	asm, err := NewGenerator(&buf, m).GenerateWithValidation(results)
	if err != nil {
		t.Fatalf("generation failed: %v\n%s", err, asm)
	}

	for _, want := range []string{"\t.text\n", "\t.globl sum\n", "sum:\n", "\t.globl twice\n", "twice:\n"} {
		if !strings.Contains(asm, want) {
			t.Errorf("expected %q in:\n%s", want, asm)
		}
	}
	if strings.Contains(asm, "subq") {
		t.Errorf("no spill frame expected with 14 colors:\n%s", asm)
	}
	if buf.Len() != 0 {
		t.Errorf("GenerateWithValidation should not write to the generator's writer")
	}
}

func TestGenerateSpilledProgramValidates(t *testing.T) {
	m, err := target.AMD64().WithColors(2)
	if err != nil {
		t.Fatal(err)
	}
	insts, err := ir.NewParser(m.IsPhys).Parse(`
	movq $1, %a
	movq $2, %b
	movq $3, %c
	movq %a, (%rdi)
	movq %b, 8(%rdi)
	movq %c, 16(%rdi)
	movq $0, %rax
	retq
`)
	if err != nil {
		t.Fatal(err)
	}

	alloc, err := regalloc.NewAllocator(regalloc.Config{Machine: m, Verify: true})
	if err != nil {
		t.Fatal(err)
	}
	res, err := alloc.Allocate("spills", insts)
	if err != nil {
		t.Fatalf("allocation failed: %v", err)
	}
	if res.Slots == 0 {
		t.Fatalf("expected spill slots with two colors")
	}

	var buf bytes.Buffer
	asm, err := NewGenerator(&buf, m).GenerateWithValidation([]*regalloc.Result{res})
	if err != nil {
		t.Fatalf("generation failed: %v\n%s", err, asm)
	}
	if !strings.Contains(asm, "subq $") {
		t.Errorf("expected spill frame in:\n%s", asm)
	}
}

// entryDepth returns the bytes the emitted code has moved rsp below its
// entry value when it reaches the first line starting with prefix
func entryDepth(t *testing.T, asm, prefix string) int {
	t.Helper()
	depth := 0
	for _, raw := range strings.Split(asm, "\n") {
		line := strings.TrimSpace(raw)
		if strings.HasPrefix(line, prefix) {
			return depth
		}
		var n int
		switch {
		case strings.HasPrefix(line, "pushq "):
			depth += 8
		case strings.HasPrefix(line, "popq "):
			depth -= 8
		case strings.HasSuffix(line, ", %rsp"):
			if _, err := fmt.Sscanf(line, "subq $%d, %%rsp", &n); err == nil {
				depth += n
			} else if _, err := fmt.Sscanf(line, "addq $%d, %%rsp", &n); err == nil {
				depth -= n
			}
		}
	}
	t.Fatalf("no line starting with %q in:\n%s", prefix, asm)
	return 0
}

func TestEmitKeepsCallAlignment(t *testing.T) {
	m, err := target.AMD64().WithColors(1)
	if err != nil {
		t.Fatal(err)
	}
	insts, err := ir.NewParser(m.IsPhys).Parse(`
	movq $1, %a
	callq g, 0
	movq %a, %rax
	retq
`)
	if err != nil {
		t.Fatal(err)
	}

	alloc, err := regalloc.NewAllocator(regalloc.Config{Machine: m, Verify: true})
	if err != nil {
		t.Fatal(err)
	}
	res, err := alloc.Allocate("f", insts)
	if err != nil {
		t.Fatalf("allocation failed: %v", err)
	}
	if res.Slots != 1 {
		t.Fatalf("a lives across the call and should take one slot, got %d", res.Slots)
	}

	var buf bytes.Buffer
	asm, err := NewGenerator(&buf, m).GenerateWithValidation([]*regalloc.Result{res})
	if err != nil {
		t.Fatalf("generation failed: %v\n%s", err, asm)
	}
	if !strings.Contains(asm, "\tsubq $16, %rsp\n") {
		t.Errorf("one slot should reserve 16 bytes:\n%s", asm)
	}
	if d := entryDepth(t, asm, "callq"); d%16 != 0 {
		t.Errorf("callq runs with rsp moved by %d bytes:\n%s", d, asm)
	}
}

func TestEmitSavesCalleeSavedColors(t *testing.T) {
	var src strings.Builder
	for i := 0; i <= 10; i++ {
		fmt.Fprintf(&src, "movq $%d, %%v%d\n", i, i)
	}
	for i := 1; i <= 10; i++ {
		fmt.Fprintf(&src, "addq %%v%d, %%v0\n", i)
	}
	src.WriteString("movq %v0, %rax\nretq\n")

	m := target.AMD64()
	insts, err := ir.NewParser(m.IsPhys).Parse(src.String())
	if err != nil {
		t.Fatal(err)
	}
	alloc, err := regalloc.NewAllocator(regalloc.Config{Machine: m, Verify: true})
	if err != nil {
		t.Fatal(err)
	}
	res, err := alloc.Allocate("wide", insts)
	if err != nil {
		t.Fatalf("allocation failed: %v", err)
	}

	var buf bytes.Buffer
	asm, err := NewGenerator(&buf, m).GenerateWithValidation([]*regalloc.Result{res})
	if err != nil {
		t.Fatalf("generation failed: %v\n%s", err, asm)
	}

	saved := 0
	for _, r := range m.CalleeSaved {
		used := false
		for _, c := range res.Colors {
			used = used || c == r
		}
		if !used {
			continue
		}
		saved++
		push, pop := "\tpushq %"+r+"\n", "\tpopq %"+r+"\n"
		if !strings.Contains(asm, push) || !strings.Contains(asm, pop) {
			t.Errorf("%s is used but not saved and restored:\n%s", r, asm)
			continue
		}
		if strings.Index(asm, push) > strings.Index(asm, "movq $0,") {
			t.Errorf("%s must be saved before the body:\n%s", r, asm)
		}
	}
	// eleven values live at once cannot fit in the nine caller-saved colors
	if saved < 2 {
		t.Fatalf("expected callee-saved colors in use, got %v", res.Colors)
	}
	if d := entryDepth(t, asm, "retq"); d != 0 {
		t.Errorf("return runs %d bytes below entry:\n%s", d, asm)
	}
}

func TestFrameSize(t *testing.T) {
	tests := []struct {
		slots, saved, want int
	}{
		{0, 0, 0},
		{1, 0, 16},
		{2, 0, 16},
		{0, 1, 8},
		{0, 2, 0},
		{1, 1, 24},
		{3, 1, 40},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("slots%d_saved%d", tt.slots, tt.saved), func(t *testing.T) {
			got := frameSize(&regalloc.Result{Slots: tt.slots}, tt.saved)
			if got != tt.want {
				t.Errorf("frameSize = %d, want %d", got, tt.want)
			}
			if (got+8*tt.saved)%16 != 0 {
				t.Errorf("frame %d with %d saves breaks alignment", got, tt.saved)
			}
		})
	}
}
