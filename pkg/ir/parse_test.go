package ir

import (
	"errors"
	"strings"
	"testing"
)

var testPhys = map[string]bool{"rax": true, "rdi": true, "rsp": true}

func newTestParser() *Parser {
	return NewParser(func(name string) bool { return testPhys[name] })
}

func TestParseInstructions(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"move", "movq %a, %b", "movq %a, %b"},
		{"immediate", "movq $-4, %a", "movq $-4, %a"},
		{"hex immediate", "addq $0x10, %rsp", "addq $16, %rsp"},
		{"memory", "movq 8(%rdi), %a", "movq 8(%rdi), %a"},
		{"memory no displacement", "movq %a, (%b)", "movq %a, (%b)"},
		{"unary", "pushq %a", "pushq %a"},
		{"nullary", "cqto", "cqto"},
		{"label", "loop:", "loop:"},
		{"jump", "jne loop", "jne loop"},
		{"call", "call f", "callq f"},
		{"call with args", "callq f, 2", "callq f, 2"},
		{"ret", "ret", "retq"},
		{"comment", "movq %a, %b  # copy", "movq %a, %b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			insts, err := newTestParser().Parse(tt.src)
			if err != nil {
				t.Fatalf("Parse(%q) failed: %v", tt.src, err)
			}
			if len(insts) != 1 {
				t.Fatalf("expected 1 instruction, got %d", len(insts))
			}
			if got := insts[0].String(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseRegisterKinds(t *testing.T) {
	insts, err := newTestParser().Parse("movq %rdi, %x")
	if err != nil {
		t.Fatal(err)
	}
	dst, src, ok := MoveRegs(insts[0])
	if !ok {
		t.Fatal("expected a register move")
	}
	if src.Virtual || !dst.Virtual {
		t.Errorf("rdi should be physical and x virtual: src=%+v dst=%+v", src, dst)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"immediate destination", "movq %a, $1", "immediate value cannot be destination"},
		{"bad operand", "movq a, %b", "invalid operand"},
		{"scaled addressing", "movq (%a,%b,8), %c", "unsupported addressing mode"},
		{"ret operands", "retq %a", "takes no operands"},
		{"too many operands", "addq %a, %b, %c", "too many operands"},
		{"missing function name", ".func", "expected .func <name>"},
		{"extra function tokens", ".func f g", "expected .func <name>"},
		{"duplicate function", ".func f\nretq\n.func f\nretq", "duplicate function f"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestParser().ParseProgram(tt.src)
			var perr *ParseError
			if !errors.As(err, &perr) {
				t.Fatalf("expected *ParseError, got %v", err)
			}
			if !strings.Contains(perr.Message, tt.want) {
				t.Errorf("message %q does not contain %q", perr.Message, tt.want)
			}
		})
	}
}

func TestParseProgram(t *testing.T) {
	prog, err := newTestParser().ParseProgram(`
	movq $1, %rax
	retq
.func helper
	.p2align 4
	movq %rdi, %rax
	retq
`)
	if err != nil {
		t.Fatal(err)
	}
	if len(prog.Functions) != 2 {
		t.Fatalf("expected 2 functions, got %d", len(prog.Functions))
	}
	if prog.Functions[0].Name != "main" || prog.Functions[1].Name != "helper" {
		t.Errorf("function names %q %q", prog.Functions[0].Name, prog.Functions[1].Name)
	}
	fn, ok := prog.Lookup("helper")
	if !ok || len(fn.Insts) != 2 {
		t.Errorf("helper should have 2 instructions")
	}
}

func TestParseProgramFuncToken(t *testing.T) {
	prog, err := newTestParser().ParseProgram(".function x\n.func\tf # entry\nretq\n")
	if err != nil {
		t.Fatal(err)
	}
	if len(prog.Functions) != 1 || prog.Functions[0].Name != "f" {
		t.Fatalf("only .func starts a function, got %+v", prog.Functions)
	}
	if _, ok := prog.Lookup("tion"); ok {
		t.Errorf(".function was read as a .func line")
	}
}

func TestFormat(t *testing.T) {
	insts, err := newTestParser().Parse("top:\nmovq %a, %rax\njmp top")
	if err != nil {
		t.Fatal(err)
	}
	want := "top:\n\tmovq %a, %rax\n\tjmp top\n"
	if got := Format(insts); got != want {
		t.Errorf("Format = %q, want %q", got, want)
	}
}
