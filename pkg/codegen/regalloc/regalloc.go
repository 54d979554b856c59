// Package regalloc - Graph coloring register allocation
// Design: iterated register coalescing (George & Appel) over an arena of
// register records; worklists hold arena indices. Every pass rebuilds
// liveness and the interference graph, runs the worklist engine to
// exhaustion and colors the select stack. Registers left uncolored are
// rewritten through stack slots and the driver loops until a pass spills
// nothing, or stops when spilling stops making progress.
package regalloc

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"

	"github.com/GriffinCanCode/regcolor/pkg/cfg"
	"github.com/GriffinCanCode/regcolor/pkg/ir"
	"github.com/GriffinCanCode/regcolor/pkg/liveness"
	"github.com/GriffinCanCode/regcolor/pkg/logger"
	"github.com/GriffinCanCode/regcolor/pkg/target"
)

var (
	// ErrNoProgress is returned when spilling stops shrinking the problem
	ErrNoProgress = errors.New("spilling made no progress")

	// ErrInvariant marks a broken worklist, move-set or coloring invariant
	ErrInvariant = errors.New("allocator invariant violated")
)

// AllocError is an allocation failure attributable to one function
type AllocError struct {
	Function string
	Pass     int
	Err      error
}

func (e *AllocError) Error() string {
	return fmt.Sprintf("register allocation failed for %s (pass %d): %v", e.Function, e.Pass, e.Err)
}

func (e *AllocError) Unwrap() error { return e.Err }

// Config holds register allocation configuration
type Config struct {
	Machine *target.Machine

	// MaxPasses bounds the number of spill rounds per function
	MaxPasses int

	// Verify runs the invariant checker after every engine step and checks
	// the final coloring
	Verify bool
}

// DefaultConfig returns an amd64 configuration
func DefaultConfig() Config {
	return Config{
		Machine:   target.AMD64(),
		MaxPasses: 64,
	}
}

// PassStats describes one allocation pass
type PassStats struct {
	Nodes     int
	Edges     int
	Moves     int
	Coalesced int
	Spilled   []string
}

// Result is the outcome of a converged allocation
type Result struct {
	Function string
	Insts    []ir.Inst
	Colors   ColorMap
	Slots    int
	Passes   []PassStats
}

// FrameSize returns the bytes of stack reserved for the spill slots, rounded
// up to a multiple of 16 so calls keep the alignment they had. The padding
// sits above the slots.
func (r *Result) FrameSize() int {
	return (r.Slots*slotSize + 15) &^ 15
}

// SpillCount returns how many registers were spilled over all passes
func (r *Result) SpillCount() int {
	n := 0
	for _, p := range r.Passes {
		n += len(p.Spilled)
	}
	return n
}

// Allocator colors functions for one machine. Spill temporaries are unique
// across every function it allocates.
type Allocator struct {
	cfg   Config
	temps *ir.Temps
}

// NewAllocator creates a graph coloring allocator
func NewAllocator(cfg Config) (*Allocator, error) {
	if cfg.Machine == nil {
		cfg.Machine = target.AMD64()
	}
	if err := cfg.Machine.Validate(); err != nil {
		return nil, err
	}
	if cfg.MaxPasses <= 0 {
		cfg.MaxPasses = DefaultConfig().MaxPasses
	}
	return &Allocator{cfg: cfg, temps: ir.NewTemps("_s")}, nil
}

// Machine returns the target being allocated for
func (a *Allocator) Machine() *target.Machine {
	return a.cfg.Machine
}

// pass is the state of one allocation pass
type pass struct {
	an     *liveness.Analysis
	graph  *InterferenceGraph
	engine *engine
}

// runPass analyzes insts, builds the graph and runs the engine and color
// assignment
func (a *Allocator) runPass(insts []ir.Inst, temps map[ir.Reg]bool) (*pass, error) {
	m := a.cfg.Machine
	ir.AnnotateStackOffsets(insts, m.SP())

	flow, err := cfg.Build(insts)
	if err != nil {
		return nil, fmt.Errorf("control flow: %w", err)
	}
	an := liveness.Analyze(flow, m)
	g := BuildInterferenceGraph(an, insts, m, temps)
	e := newEngine(g)

	var check func() error
	if a.cfg.Verify {
		check = func() error {
			return multierr.Combine(e.checkGraph(), e.checkWorklists())
		}
		if err := check(); err != nil {
			return nil, err
		}
	}

	e.makeWorklist()
	if err := e.run(check); err != nil {
		return nil, err
	}
	e.assignColors()

	if a.cfg.Verify {
		if err := multierr.Combine(e.checkWorklists(), e.checkColoring()); err != nil {
			return nil, err
		}
	}
	return &pass{an: an, graph: g, engine: e}, nil
}

// Allocate colors the registers of function fn. The instructions in insts may
// be modified and the returned stream extends them with spill code.
func (a *Allocator) Allocate(fn string, insts []ir.Inst) (*Result, error) {
	a.temps.Observe(insts)
	rw := &spillRewriter{
		sp:      a.cfg.Machine.SP(),
		temps:   a.temps,
		created: make(map[ir.Reg]bool),
	}
	res := &Result{Function: fn}

	fail := func(n int, err error) (*Result, error) {
		logger.LogAllocFailed(fn, err)
		return nil, &AllocError{Function: fn, Pass: n, Err: err}
	}

	prevSpilled := -1
	for n := 1; ; n++ {
		if n > a.cfg.MaxPasses {
			return fail(n-1, fmt.Errorf("%w: still spilling after %d passes", ErrNoProgress, a.cfg.MaxPasses))
		}

		p, err := a.runPass(insts, rw.created)
		if err != nil {
			return fail(n, err)
		}
		g, e := p.graph, p.engine
		logger.LogPass(fn, n, g.Len(), len(g.moves))

		spilled := e.spilledRegs()
		stats := PassStats{
			Nodes:     g.Len(),
			Edges:     g.EdgeCount(),
			Moves:     len(g.moves),
			Coalesced: e.moveSets[MoveCoalesced].len(),
		}
		for _, r := range spilled {
			stats.Spilled = append(stats.Spilled, r.Name)
		}
		res.Passes = append(res.Passes, stats)

		if len(spilled) == 0 {
			res.Insts = insts
			res.Colors = e.colorMap()
			res.Slots = rw.slots
			logger.LogAllocated(fn, n, rw.slots)
			return res, nil
		}
		logger.LogSpill(fn, n, stats.Spilled)

		// Only spill temporaries left and no fewer of them than last time:
		// rewriting cannot shrink their live ranges any further.
		if onlyTemps(spilled, rw.created) && prevSpilled >= 0 && len(spilled) >= prevSpilled {
			return fail(n, fmt.Errorf("%w: %d spill temporaries still uncolorable", ErrNoProgress, len(spilled)))
		}
		prevSpilled = len(spilled)

		insts = rw.rewrite(p.an, insts, spilled)
	}
}

func onlyTemps(regs []ir.Reg, temps map[ir.Reg]bool) bool {
	for _, r := range regs {
		if !temps[r] {
			return false
		}
	}
	return true
}

// AllocateProgram allocates every function of prog in order and records each
// color map in reg. The first failure stops the run.
func (a *Allocator) AllocateProgram(prog *ir.Program, reg *Registry) ([]*Result, error) {
	results := make([]*Result, 0, len(prog.Functions))
	for _, fn := range prog.Functions {
		res, err := a.Allocate(fn.Name, fn.Insts)
		if err != nil {
			return results, err
		}
		fn.Insts = res.Insts
		if reg != nil {
			if err := reg.Put(fn.Name, res.Colors); err != nil {
				return results, err
			}
		}
		results = append(results, res)
	}
	return results, nil
}
