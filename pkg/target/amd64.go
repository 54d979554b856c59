package target

// System V AMD64 register conventions
var (
	amd64ArgRegs     = []string{"rdi", "rsi", "rdx", "rcx", "r8", "r9"}
	amd64CallerSaved = []string{"rax", "rcx", "rdx", "rsi", "rdi", "r8", "r9", "r10", "r11"}
	amd64CalleeSaved = []string{"rbx", "r12", "r13", "r14", "r15"}
)

// AMD64 returns the x86-64 description: 14 colors, every general-purpose
// register except rsp and rbp, caller-saved registers tried first
func AMD64() *Machine {
	colors := append([]string(nil), amd64CallerSaved...)
	colors = append(colors, amd64CalleeSaved...)
	m := &Machine{
		Name:         "amd64",
		Colors:       colors,
		StackPointer: "rsp",
		FramePointer: "rbp",
		ArgRegs:      append([]string(nil), amd64ArgRegs...),
		ReturnRegs:   []string{"rax"},
		CallerSaved:  append([]string(nil), amd64CallerSaved...),
		CalleeSaved:  append([]string(nil), amd64CalleeSaved...),
		Implicit: map[string]Effect{
			"cqto":  {Uses: []string{"rax"}, Defs: []string{"rdx"}},
			"idivq": {Uses: []string{"rax", "rdx"}, Defs: []string{"rax", "rdx"}},
			"divq":  {Uses: []string{"rax", "rdx"}, Defs: []string{"rax", "rdx"}},
			"imulq": {Uses: []string{"rax"}, Defs: []string{"rax", "rdx"}},
			"mulq":  {Uses: []string{"rax"}, Defs: []string{"rax", "rdx"}},
		},
	}
	m.index()
	return m
}
