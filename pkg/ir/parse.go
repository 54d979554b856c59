package ir

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
)

// ParseError reports a malformed line of assembly
type ParseError struct {
	Line    int
	Message string
	Code    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %s\n  %s", e.Line, e.Message, e.Code)
}

// Parser reads the AT&T subset understood by the allocator.
// IsPhys decides whether a %name operand denotes a physical register;
// every other register name is virtual.
type Parser struct {
	IsPhys func(name string) bool
}

// NewParser creates a parser for the given physical register predicate
func NewParser(isPhys func(name string) bool) *Parser {
	return &Parser{IsPhys: isPhys}
}

// ParseProgram parses a file holding one or more functions. Each function
// starts with a ".func name" line; instructions before the first .func belong
// to a function named "main".
func (p *Parser) ParseProgram(src string) (*Program, error) {
	prog := &Program{}
	var cur *Function

	sc := bufio.NewScanner(strings.NewReader(src))
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := stripComment(sc.Text())
		if line == "" {
			continue
		}

		if fields := strings.Fields(line); fields[0] == ".func" {
			if len(fields) != 2 {
				return nil, &ParseError{Line: lineNo, Message: "expected .func <name>", Code: line}
			}
			name := fields[1]
			if _, dup := prog.Lookup(name); dup {
				return nil, &ParseError{Line: lineNo, Message: "duplicate function " + name, Code: line}
			}
			cur = &Function{Name: name}
			prog.Functions = append(prog.Functions, cur)
			continue
		}
		if strings.HasPrefix(line, ".") {
			// other directives are dropped; the emitter writes its own
			continue
		}

		in, err := p.parseInst(line)
		if err != nil {
			return nil, &ParseError{Line: lineNo, Message: err.Error(), Code: line}
		}
		if cur == nil {
			cur = &Function{Name: "main"}
			prog.Functions = append(prog.Functions, cur)
		}
		cur.Insts = append(cur.Insts, in)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return prog, nil
}

// Parse parses a single instruction stream
func (p *Parser) Parse(src string) ([]Inst, error) {
	prog, err := p.ParseProgram(src)
	if err != nil {
		return nil, err
	}
	var insts []Inst
	for _, fn := range prog.Functions {
		insts = append(insts, fn.Insts...)
	}
	return insts, nil
}

func stripComment(line string) string {
	if i := strings.IndexByte(line, '#'); i >= 0 {
		line = line[:i]
	}
	return strings.TrimSpace(line)
}

func (p *Parser) parseInst(line string) (Inst, error) {
	if strings.HasSuffix(line, ":") {
		name := strings.TrimSuffix(line, ":")
		if name == "" || strings.ContainsAny(name, " \t") {
			return nil, fmt.Errorf("invalid label")
		}
		return &Label{Name: name}, nil
	}

	op, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	args := splitOperands(rest)

	switch {
	case op == "ret" || op == "retq":
		if len(args) != 0 {
			return nil, fmt.Errorf("%s takes no operands", op)
		}
		return &Ret{}, nil
	case op == "call" || op == "callq":
		return parseCall(args)
	case strings.HasPrefix(op, "j"):
		if len(args) != 1 {
			return nil, fmt.Errorf("%s needs one label", op)
		}
		return &Jump{Op: op, Target: args[0]}, nil
	}

	switch len(args) {
	case 0:
		return &Nop{Op: op}, nil
	case 1:
		arg, err := p.parseOperand(args[0])
		if err != nil {
			return nil, err
		}
		return &UnOp{Op: op, Arg: arg}, nil
	case 2:
		src, err := p.parseOperand(args[0])
		if err != nil {
			return nil, err
		}
		dst, err := p.parseOperand(args[1])
		if err != nil {
			return nil, err
		}
		if _, ok := dst.(Imm); ok {
			return nil, fmt.Errorf("immediate value cannot be destination")
		}
		return &BinOp{Op: op, Src: src, Dst: dst}, nil
	}
	return nil, fmt.Errorf("too many operands")
}

func parseCall(args []string) (Inst, error) {
	switch len(args) {
	case 1:
		return &Call{Target: args[0]}, nil
	case 2:
		n, err := strconv.Atoi(args[1])
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid argument count %q", args[1])
		}
		return &Call{Target: args[0], Args: n}, nil
	}
	return nil, fmt.Errorf("callq needs a target")
}

// splitOperands splits on commas that are not inside parentheses
func splitOperands(s string) []string {
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

func (p *Parser) parseOperand(s string) (Operand, error) {
	switch {
	case strings.HasPrefix(s, "$"):
		v, err := strconv.ParseInt(s[1:], 0, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid immediate %q", s)
		}
		return Imm{Val: v}, nil
	case strings.HasPrefix(s, "%"):
		return p.reg(s[1:])
	case strings.HasSuffix(s, ")"):
		open := strings.IndexByte(s, '(')
		if open < 0 {
			return nil, fmt.Errorf("invalid memory operand %q", s)
		}
		var disp int64
		if open > 0 {
			v, err := strconv.ParseInt(s[:open], 0, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid displacement %q", s[:open])
			}
			disp = v
		}
		inner := s[open+1 : len(s)-1]
		if !strings.HasPrefix(inner, "%") || strings.Contains(inner, ",") {
			return nil, fmt.Errorf("unsupported addressing mode %q", s)
		}
		base, err := p.reg(inner[1:])
		if err != nil {
			return nil, err
		}
		return Mem{Base: base, Disp: disp}, nil
	}
	return nil, fmt.Errorf("invalid operand %q", s)
}

func (p *Parser) reg(name string) (Reg, error) {
	if name == "" {
		return Reg{}, fmt.Errorf("empty register name")
	}
	if p.IsPhys != nil && p.IsPhys(name) {
		return Phys(name), nil
	}
	return Virt(name), nil
}
