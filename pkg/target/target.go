// Package target describes the machine the allocator colors for.
//
// Design: a machine is plain data - the allocatable color set in preference
// order, the stack pointer used to address spill slots, and the calling
// convention the liveness analysis needs. Built-in descriptions cover amd64;
// anything else is loaded from a TOML file.
package target

import (
	"errors"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/GriffinCanCode/regcolor/pkg/ir"
)

// Effect lists registers an instruction reads or writes implicitly
type Effect struct {
	Uses []string `toml:"uses"`
	Defs []string `toml:"defs"`
}

// Machine is a target architecture description
type Machine struct {
	Name string `toml:"name"`

	// Colors are the allocatable registers in the order colors are tried
	Colors []string `toml:"colors"`

	StackPointer string `toml:"stack_pointer"`
	FramePointer string `toml:"frame_pointer"`

	ArgRegs     []string `toml:"arg_regs"`
	ReturnRegs  []string `toml:"return_regs"`
	CallerSaved []string `toml:"caller_saved"`
	CalleeSaved []string `toml:"callee_saved"`

	// Implicit maps zero- and one-operand mnemonics to their hidden operands
	Implicit map[string]Effect `toml:"implicit"`

	colors map[string]bool
	phys   map[string]bool
}

// ErrInvalidMachine is returned when a machine description is inconsistent
var ErrInvalidMachine = errors.New("invalid machine description")

// K returns the number of available colors
func (m *Machine) K() int {
	return len(m.Colors)
}

// IsColor reports whether name is an allocatable register. The lookup
// tables are built by Validate, WithColors and the built-in constructors, so
// a machine is safe to share once one of them has run.
func (m *Machine) IsColor(name string) bool {
	return m.colors[name]
}

// IsPhys reports whether name is any register the machine knows about
func (m *Machine) IsPhys(name string) bool {
	return m.phys[name]
}

// SP returns the stack pointer register
func (m *Machine) SP() ir.Reg {
	return ir.Phys(m.StackPointer)
}

// Tracked reports whether the allocator has to reason about r: every
// virtual register and every allocatable physical one
func (m *Machine) Tracked(r ir.Reg) bool {
	return r.Virtual || m.IsColor(r.Name)
}

// index rebuilds the register lookup tables from the exported fields
func (m *Machine) index() {
	m.colors = make(map[string]bool, len(m.Colors))
	m.phys = make(map[string]bool)
	for _, c := range m.Colors {
		m.colors[c] = true
		m.phys[c] = true
	}
	for _, list := range [][]string{m.ArgRegs, m.ReturnRegs, m.CallerSaved, m.CalleeSaved} {
		for _, r := range list {
			m.phys[r] = true
		}
	}
	for _, eff := range m.Implicit {
		for _, r := range eff.Uses {
			m.phys[r] = true
		}
		for _, r := range eff.Defs {
			m.phys[r] = true
		}
	}
	if m.StackPointer != "" {
		m.phys[m.StackPointer] = true
	}
	if m.FramePointer != "" {
		m.phys[m.FramePointer] = true
	}
}

// Validate checks the description for internal consistency
func (m *Machine) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidMachine)
	}
	if len(m.Colors) == 0 {
		return fmt.Errorf("%w: %s has no colors", ErrInvalidMachine, m.Name)
	}
	if m.StackPointer == "" {
		return fmt.Errorf("%w: %s has no stack pointer", ErrInvalidMachine, m.Name)
	}
	seen := make(map[string]bool, len(m.Colors))
	for _, c := range m.Colors {
		if seen[c] {
			return fmt.Errorf("%w: %s lists color %s twice", ErrInvalidMachine, m.Name, c)
		}
		seen[c] = true
	}
	if seen[m.StackPointer] {
		return fmt.Errorf("%w: stack pointer %s cannot be allocatable", ErrInvalidMachine, m.StackPointer)
	}
	if m.FramePointer != "" && seen[m.FramePointer] {
		return fmt.Errorf("%w: frame pointer %s cannot be allocatable", ErrInvalidMachine, m.FramePointer)
	}
	m.index()
	return nil
}

// WithColors returns a copy of m restricted to its first n colors
func (m *Machine) WithColors(n int) (*Machine, error) {
	if n < 1 || n > len(m.Colors) {
		return nil, fmt.Errorf("%w: %s supports 1..%d colors, got %d", ErrInvalidMachine, m.Name, len(m.Colors), n)
	}
	cp := *m
	cp.Name = fmt.Sprintf("%s/k%d", m.Name, n)
	cp.Colors = append([]string(nil), m.Colors[:n]...)
	cp.index()
	return &cp, nil
}

// Parse decodes a TOML machine description
func Parse(data []byte) (*Machine, error) {
	var m Machine
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse machine description: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Load reads a TOML machine description from path
func Load(path string) (*Machine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read machine description: %w", err)
	}
	return Parse(data)
}

// Lookup returns a built-in machine by name
func Lookup(name string) (*Machine, error) {
	switch name {
	case "amd64", "x86_64", "x86-64":
		return AMD64(), nil
	}
	return nil, fmt.Errorf("%w: unknown target %q", ErrInvalidMachine, name)
}
