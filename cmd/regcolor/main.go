// Package main implements the regcolor register allocator binary.
//
// Philosophy: read assembly over virtual registers, color it, write it back.
package main

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/xyproto/env/v2"

	"github.com/GriffinCanCode/regcolor/pkg/codegen/amd64"
	"github.com/GriffinCanCode/regcolor/pkg/codegen/regalloc"
	"github.com/GriffinCanCode/regcolor/pkg/ir"
	"github.com/GriffinCanCode/regcolor/pkg/logger"
	"github.com/GriffinCanCode/regcolor/pkg/target"
)

const version = "0.1.0"

func main() {
	if err := logger.InitFromEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	switch cmd {
	case "alloc":
		if err := alloc(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	case "version":
		fmt.Printf("regcolor version %s\n", version)
	case "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`regcolor - Graph coloring register allocation for x86-64 assembly

Usage:
    regcolor alloc [options] <file.s>   Allocate registers and emit assembly
    regcolor version                    Show version
    regcolor help                       Show this help message

Options:
    -o <file>        Output file (default: stdout)
    -target <name>   Built-in target (default: amd64, env REGCOLOR_TARGET)
    -config <file>   TOML machine description, overrides -target
    -k <n>           Use only the first n colors of the target
    -max-passes <n>  Bound on spill rounds per function (default: 64)
    -verify          Check allocator invariants and validate output (env REGCOLOR_VERIFY)
    -dump <file>     Write the per-function color maps as JSON
    -debug           Debug-level text logging to stderr

Environment:
    REGCOLOR_LOG_LEVEL   debug, info, warn or error
    REGCOLOR_LOG_FORMAT  text or json
    REGCOLOR_LOG_FILE    Log to a file instead of stderr
    REGCOLOR_LOG_DIR     JSON logging into <dir>/regcolor.log`)
}

func alloc(args []string) error {
	fs := flag.NewFlagSet("alloc", flag.ContinueOnError)
	out := fs.String("o", "", "output file")
	targetName := fs.String("target", env.Str("REGCOLOR_TARGET", "amd64"), "built-in target")
	configPath := fs.String("config", "", "TOML machine description")
	k := fs.Int("k", 0, "number of colors")
	maxPasses := fs.Int("max-passes", regalloc.DefaultConfig().MaxPasses, "spill round bound")
	verify := fs.Bool("verify", env.Bool("REGCOLOR_VERIFY"), "check invariants")
	dump := fs.String("dump", "", "color map JSON output")
	debug := fs.Bool("debug", false, "debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *debug {
		logger.InitDev()
	}
	if fs.NArg() != 1 {
		return errors.New("expected exactly one input file")
	}
	source := fs.Arg(0)

	m, err := loadMachine(*targetName, *configPath, *k)
	if err != nil {
		return err
	}

	src, err := os.ReadFile(source)
	if err != nil {
		return err
	}
	prog, err := ir.NewParser(m.IsPhys).ParseProgram(string(src))
	if err != nil {
		return fmt.Errorf("%s: %w", source, err)
	}
	logger.Info("Allocating registers", "file", source, "target", m.Name, "functions", len(prog.Functions))

	a, err := regalloc.NewAllocator(regalloc.Config{Machine: m, MaxPasses: *maxPasses, Verify: *verify})
	if err != nil {
		return err
	}
	reg := regalloc.NewRegistry()
	results, err := a.AllocateProgram(prog, reg)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	gen := amd64.NewGenerator(&buf, m)
	if *verify {
		asm, err := gen.GenerateWithValidation(results)
		if err != nil {
			return err
		}
		buf.WriteString(asm)
	} else if err := gen.Generate(results); err != nil {
		return err
	}

	if *dump != "" {
		f, err := os.Create(*dump)
		if err != nil {
			return err
		}
		if err := reg.WriteJSON(f); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
	}

	if *out == "" {
		_, err = os.Stdout.Write(buf.Bytes())
		return err
	}
	return os.WriteFile(*out, buf.Bytes(), 0644)
}

// loadMachine resolves the target from a TOML file or a built-in name and
// optionally restricts its color set
func loadMachine(name, path string, k int) (*target.Machine, error) {
	var m *target.Machine
	var err error
	if path != "" {
		m, err = target.Load(path)
	} else {
		m, err = target.Lookup(name)
	}
	if err != nil {
		return nil, err
	}
	if k > 0 {
		return m.WithColors(k)
	}
	return m, nil
}
