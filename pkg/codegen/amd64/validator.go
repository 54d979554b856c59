// Package amd64 - Assembly validation and correctness verification
package amd64

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/GriffinCanCode/regcolor/pkg/logger"
	"github.com/GriffinCanCode/regcolor/pkg/target"
)

// ValidationError represents an assembly validation error
type ValidationError struct {
	Line    int
	Message string
	Code    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("line %d: %s\n  %s", e.Line, e.Message, e.Code)
}

// Validator validates emitted x86-64 assembly
type Validator struct {
	machine *target.Machine
	errors  []ValidationError
	warns   []ValidationError
}

var (
	regPattern    = regexp.MustCompile(`%[A-Za-z_][A-Za-z0-9_.]*`)
	immPattern    = regexp.MustCompile(`\$(-?\d+)`)
	scaledPattern = regexp.MustCompile(`\(%[a-z0-9]+,%[a-z0-9]+,(\d+)\)`)
)

// NewValidator creates a validator for m. A nil machine means amd64.
func NewValidator(m *target.Machine) *Validator {
	if m == nil {
		m = target.AMD64()
	}
	return &Validator{machine: m}
}

// Validate performs comprehensive validation on assembly code
func (v *Validator) Validate(assembly string) error {
	v.errors = v.errors[:0]
	v.warns = v.warns[:0]
	lines := strings.Split(assembly, "\n")

	v.validateSyntax(lines)
	v.validateRegisters(lines)
	v.validateCallingConvention(lines)
	v.validateStackBalance(lines)
	v.validateInstructionValidity(lines)
	v.validateMemoryAddressing(lines)

	if len(v.errors) > 0 {
		return v.formatErrors()
	}

	if len(v.warns) > 0 {
		v.logWarnings()
	}

	return nil
}

// Warnings returns the warnings of the last validation
func (v *Validator) Warnings() []ValidationError {
	return v.warns
}

// validateSyntax checks for basic syntax errors
func (v *Validator) validateSyntax(lines []string) {
	for i, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasSuffix(line, ":") {
			if strings.ContainsAny(line, " \t") {
				v.addError(i+1, "invalid label format (contains spaces)", line)
			}
			continue
		}

		if !isValidInstruction(line) {
			v.addError(i+1, "malformed instruction", line)
		}
	}
}

// validateRegisters flags registers the target does not define. Anything
// left virtual after allocation shows up here.
func (v *Validator) validateRegisters(lines []string) {
	for i, line := range lines {
		for _, reg := range regPattern.FindAllString(line, -1) {
			if !v.machine.IsPhys(reg[1:]) {
				v.addError(i+1, fmt.Sprintf("invalid register: %s", reg), strings.TrimSpace(line))
			}
		}
	}
}

// validateCallingConvention checks that callee-saved registers are saved
// before they are written and restored before returning
func (v *Validator) validateCallingConvention(lines []string) {
	functionName := ""
	savedRegs := make(map[string]bool)
	preserved := make(map[string]bool)

	for i, raw := range lines {
		line := strings.TrimSpace(raw)

		if name, ok := strings.CutPrefix(line, ".globl"); ok {
			functionName = strings.TrimSpace(name)
			savedRegs = make(map[string]bool)
			preserved = make(map[string]bool)
			continue
		}

		op, arg := splitInst(line)
		if dst := writtenReg(op, arg); dst != "" && v.isCalleeSaved(dst) && !preserved[dst] {
			v.addError(i+1, fmt.Sprintf("callee-saved register %s modified without being saved in %s", dst, functionName), line)
		}
		switch op {
		case "pushq":
			if v.isCalleeSaved(arg) {
				savedRegs[arg] = true
				preserved[arg] = true
			}
		case "popq":
			delete(savedRegs, arg)
		case "leave":
			delete(savedRegs, "%"+v.machine.FramePointer)
		case "ret", "retq":
			if len(savedRegs) > 0 {
				v.addError(i+1, fmt.Sprintf("callee-saved registers not restored in %s: %v", functionName, savedRegs), line)
			}
		}
	}
}

// validateStackBalance tracks the bytes pushed below the entry stack pointer
// and requires every return to find it back at zero
func (v *Validator) validateStackBalance(lines []string) {
	sp := "%" + v.machine.StackPointer
	depth := int64(0)
	// frame is the depth an epilogue (frame release and pops directly
	// before a return) started from; code after the return resumes there
	frame := int64(0)
	released := false

	for i, raw := range lines {
		line := strings.TrimSpace(raw)

		if strings.HasPrefix(line, ".globl") {
			depth, frame, released = 0, 0, false
			continue
		}

		op, args := splitInst(line)
		if op == "" {
			continue
		}

		wasReleased := released
		released = false
		switch op {
		case "pushq":
			depth += 8
		case "popq":
			if !wasReleased {
				frame = depth
			}
			depth -= 8
			released = true
		case "subq", "addq":
			if !strings.HasSuffix(args, sp) {
				break
			}
			m := immPattern.FindStringSubmatch(args)
			if m == nil {
				break
			}
			n, _ := strconv.ParseInt(m[1], 10, 64)
			if op == "addq" {
				if !wasReleased {
					frame = depth
				}
				released = true
				n = -n
			}
			depth += n
		case "ret", "retq":
			if depth < 0 {
				v.addError(i+1, "stack underflow detected", line)
			} else if depth > 0 {
				v.addError(i+1, fmt.Sprintf("stack imbalance at return: %d bytes", depth), line)
			}
			if wasReleased {
				depth = frame
			}
		}
	}
}

// validateInstructionValidity checks for invalid instruction combinations
func (v *Validator) validateInstructionValidity(lines []string) {
	for i, raw := range lines {
		line := strings.TrimSpace(raw)
		op, args := splitInst(line)
		if op == "" {
			continue
		}
		parts := splitArgs(args)

		if len(parts) == 2 && strings.HasPrefix(parts[1], "$") {
			v.addError(i+1, "immediate value cannot be destination", line)
		}

		if strings.HasPrefix(op, "mov") && len(parts) == 2 {
			if isMemoryOperand(parts[0]) && isMemoryOperand(parts[1]) {
				v.addError(i+1, "x86-64 doesn't support memory-to-memory moves", line)
			}
		}

		if op == "idivq" || op == "divq" {
			prevOp, _ := splitInst(strings.TrimSpace(prevLine(lines, i)))
			if prevOp != "cqto" {
				v.addWarn(i+1, "division without cqto may cause incorrect results", line)
			}
		}
	}
}

// validateMemoryAddressing checks memory addressing mode correctness
func (v *Validator) validateMemoryAddressing(lines []string) {
	for i, line := range lines {
		for _, match := range scaledPattern.FindAllStringSubmatch(line, -1) {
			switch match[1] {
			case "1", "2", "4", "8":
			default:
				v.addError(i+1, fmt.Sprintf("invalid scale factor: %s (must be 1, 2, 4, or 8)", match[1]), strings.TrimSpace(line))
			}
		}
	}
}

// Helper functions

func (v *Validator) addError(line int, msg, code string) {
	v.errors = append(v.errors, ValidationError{Line: line, Message: msg, Code: code})
}

func (v *Validator) addWarn(line int, msg, code string) {
	v.warns = append(v.warns, ValidationError{Line: line, Message: msg, Code: code})
}

func (v *Validator) formatErrors() error {
	var sb strings.Builder
	sb.WriteString("Assembly validation failed:\n")
	for _, err := range v.errors {
		sb.WriteString("  " + err.Error() + "\n")
	}
	return fmt.Errorf("%s", sb.String())
}

func (v *Validator) logWarnings() {
	for _, warn := range v.warns {
		logger.Warn("Assembly validation warning", "line", warn.Line, "msg", warn.Message)
	}
}

func (v *Validator) isCalleeSaved(reg string) bool {
	for _, r := range v.machine.CalleeSaved {
		if "%"+r == reg {
			return true
		}
	}
	return reg == "%"+v.machine.FramePointer
}

// writtenReg returns the register an instruction overwrites, if any.
// Compares and tests only read; pops restore.
func writtenReg(op, args string) string {
	if op == "" || op == "popq" || strings.HasPrefix(op, "cmp") || strings.HasPrefix(op, "test") {
		return ""
	}
	parts := splitArgs(args)
	var dst string
	switch len(parts) {
	case 2:
		dst = parts[1]
	case 1:
		switch op {
		case "incq", "decq", "negq", "notq":
			dst = parts[0]
		}
	}
	if !strings.HasPrefix(dst, "%") {
		return ""
	}
	return dst
}

func isValidInstruction(line string) bool {
	validInsts := []string{
		"mov", "push", "pop", "add", "sub", "imul", "idiv", "div", "mul", "cqto",
		"cmp", "test", "set", "j", "call", "ret", "lea", "and", "or", "xor",
		"not", "neg", "shl", "shr", "sal", "sar", "inc", "dec", "leave", "enter", "nop",
	}

	for _, inst := range validInsts {
		if strings.HasPrefix(line, inst) {
			return true
		}
	}

	// directives
	return strings.HasPrefix(line, ".")
}

// splitInst splits an instruction line into mnemonic and operand text.
// Directives, labels and blank lines yield an empty mnemonic.
func splitInst(line string) (op, args string) {
	if line == "" || strings.HasPrefix(line, ".") || strings.HasPrefix(line, "#") || strings.HasSuffix(line, ":") {
		return "", ""
	}
	op, args, _ = strings.Cut(line, " ")
	return op, strings.TrimSpace(args)
}

// splitArgs splits operands on commas outside parentheses
func splitArgs(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	depth, start := 0, 0
	for i, c := range s {
		switch c {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	return append(out, strings.TrimSpace(s[start:]))
}

func prevLine(lines []string, i int) string {
	for j := i - 1; j >= 0; j-- {
		if strings.TrimSpace(lines[j]) != "" {
			return lines[j]
		}
	}
	return ""
}

func isMemoryOperand(operand string) bool {
	return strings.Contains(operand, "(") && strings.Contains(operand, ")")
}
