package target

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

const riscTOML = `
name = "toy"
colors = ["r1", "r2", "r3"]
stack_pointer = "sp"
frame_pointer = "fp"
arg_regs = ["r1", "r2"]
return_regs = ["r1"]
caller_saved = ["r1", "r2"]
callee_saved = ["r3"]

[implicit.div]
uses = ["r1"]
defs = ["r1", "r2"]
`

func TestAMD64(t *testing.T) {
	m := AMD64()
	if err := m.Validate(); err != nil {
		t.Fatalf("built-in description invalid: %v", err)
	}
	if m.K() != 14 {
		t.Errorf("K() = %d, want 14", m.K())
	}
	if m.Colors[0] != "rax" {
		t.Errorf("rax should be the preferred color, got %s", m.Colors[0])
	}
	for _, r := range []string{"rsp", "rbp"} {
		if m.IsColor(r) || !m.IsPhys(r) {
			t.Errorf("%s must be physical but not allocatable", r)
		}
	}
	if m.IsPhys("t0") {
		t.Errorf("t0 is not an amd64 register")
	}
}

func TestParse(t *testing.T) {
	m, err := Parse([]byte(riscTOML))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if m.Name != "toy" || m.K() != 3 || m.SP().Name != "sp" {
		t.Errorf("unexpected machine %+v", m)
	}
	if eff := m.Implicit["div"]; len(eff.Defs) != 2 || eff.Uses[0] != "r1" {
		t.Errorf("implicit effects not decoded: %+v", eff)
	}
	if !m.IsPhys("fp") || m.IsColor("fp") {
		t.Errorf("frame pointer classification wrong")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		toml string
	}{
		{"no name", `colors = ["a"]` + "\nstack_pointer = \"sp\""},
		{"no colors", `name = "x"` + "\nstack_pointer = \"sp\""},
		{"no stack pointer", `name = "x"` + "\ncolors = [\"a\"]"},
		{"duplicate color", `name = "x"` + "\ncolors = [\"a\", \"a\"]\nstack_pointer = \"sp\""},
		{"allocatable stack pointer", `name = "x"` + "\ncolors = [\"a\", \"sp\"]\nstack_pointer = \"sp\""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.toml)); !errors.Is(err, ErrInvalidMachine) {
				t.Errorf("expected ErrInvalidMachine, got %v", err)
			}
		})
	}

	if _, err := Parse([]byte("name = ")); err == nil {
		t.Errorf("malformed TOML should fail")
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "toy.toml")
	if err := os.WriteFile(path, []byte(riscTOML), 0644); err != nil {
		t.Fatal(err)
	}
	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if m.Name != "toy" {
		t.Errorf("Name = %q", m.Name)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Errorf("missing file should fail")
	}
}

func TestWithColors(t *testing.T) {
	base := AMD64()
	m, err := base.WithColors(2)
	if err != nil {
		t.Fatal(err)
	}
	if m.K() != 2 || m.Name != "amd64/k2" {
		t.Errorf("got %s with %d colors", m.Name, m.K())
	}
	if m.IsColor("rdx") || !m.IsPhys("rdx") {
		t.Errorf("rdx should stay physical but stop being allocatable")
	}
	if base.K() != 14 {
		t.Errorf("WithColors modified the original")
	}
	for _, n := range []int{0, 15} {
		if _, err := base.WithColors(n); !errors.Is(err, ErrInvalidMachine) {
			t.Errorf("WithColors(%d) = %v, want ErrInvalidMachine", n, err)
		}
	}
}

func TestLookup(t *testing.T) {
	for _, name := range []string{"amd64", "x86_64", "x86-64"} {
		if m, err := Lookup(name); err != nil || m.Name != "amd64" {
			t.Errorf("Lookup(%q) = %v, %v", name, m, err)
		}
	}
	if _, err := Lookup("vax"); !errors.Is(err, ErrInvalidMachine) {
		t.Errorf("unknown target should fail with ErrInvalidMachine, got %v", err)
	}
}

func TestValidateBuildsLookupTables(t *testing.T) {
	m := &Machine{Name: "toy", Colors: []string{"r0", "r1"}, StackPointer: "sp", CalleeSaved: []string{"r2"}}
	if err := m.Validate(); err != nil {
		t.Fatal(err)
	}
	if !m.IsColor("r1") || m.IsColor("r2") || !m.IsPhys("r2") || !m.IsPhys("sp") {
		t.Errorf("lookup tables not built by Validate")
	}

	m.Colors = append(m.Colors, "r2")
	if err := m.Validate(); err != nil {
		t.Fatal(err)
	}
	if !m.IsColor("r2") {
		t.Errorf("Validate should rebuild the tables after the colors change")
	}
}

func TestMachineSharedAcrossGoroutines(t *testing.T) {
	m := AMD64()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, r := range m.Colors {
				if !m.IsColor(r) || !m.IsPhys(r) {
					t.Errorf("%s not recognized", r)
				}
			}
			if m.IsColor("rsp") {
				t.Errorf("rsp must not be allocatable")
			}
		}()
	}
	wg.Wait()
}
