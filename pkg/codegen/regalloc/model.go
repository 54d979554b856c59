package regalloc

import (
	"fmt"

	"github.com/GriffinCanCode/regcolor/pkg/ir"
)

// State is the allocation state of a register within one pass
type State uint8

const (
	Initial State = iota
	Precolored
	Simplify
	Freeze
	Spill
	Selected
	Colored
	Spilled
	Coalesced
)

var stateNames = [...]string{
	Initial:    "initial",
	Precolored: "precolored",
	Simplify:   "simplify",
	Freeze:     "freeze",
	Spill:      "spill",
	Selected:   "selected",
	Colored:    "colored",
	Spilled:    "spilled",
	Coalesced:  "coalesced",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", s)
}

// node is one register record in the per-pass arena
type node struct {
	reg    ir.Reg
	state  State
	degree int
	alias  int // representative, meaningful once state == Coalesced
	color  int // index into the machine colors, -1 when uncolored
	occurs int // number of defs and uses in the instruction stream
	temp   bool
}

func (n *node) precolored() bool { return n.state == Precolored }

// MoveCategory is the lifecycle state of a move instruction
type MoveCategory uint8

const (
	MoveWorklist MoveCategory = iota
	MoveActive
	MoveFrozen
	MoveCoalesced
	MoveConstrained
	numMoveCategories
)

var moveCategoryNames = [...]string{
	MoveWorklist:    "worklist",
	MoveActive:      "active",
	MoveFrozen:      "frozen",
	MoveCoalesced:   "coalesced",
	MoveConstrained: "constrained",
}

func (c MoveCategory) String() string {
	if c < numMoveCategories {
		return moveCategoryNames[c]
	}
	return fmt.Sprintf("MoveCategory(%d)", c)
}

// Move wraps a register-to-register move instruction. Identity is the
// instruction itself.
type Move struct {
	Inst     ir.Inst
	dst, src int
	category MoveCategory
}

// newMove panics when in is not a register-to-register move: the graph
// builder only calls it after checking, so anything else is a builder bug.
func newMove(in ir.Inst, dst, src int) *Move {
	if !ir.IsMove(in) {
		panic(fmt.Sprintf("regalloc: cannot build move from %q", in))
	}
	return &Move{Inst: in, dst: dst, src: src, category: MoveWorklist}
}

// Category returns the current lifecycle state of the move
func (m *Move) Category() MoveCategory { return m.category }

// indexSet is an insertion-ordered set of small integers with O(1) add,
// remove and membership. Removal swaps the last element into the hole.
type indexSet struct {
	items []int
	pos   []int
}

func newIndexSet(universe int) indexSet {
	pos := make([]int, universe)
	for i := range pos {
		pos[i] = -1
	}
	return indexSet{pos: pos}
}

func (s *indexSet) has(i int) bool { return s.pos[i] >= 0 }

func (s *indexSet) len() int { return len(s.items) }

func (s *indexSet) add(i int) bool {
	if s.pos[i] >= 0 {
		return false
	}
	s.pos[i] = len(s.items)
	s.items = append(s.items, i)
	return true
}

func (s *indexSet) remove(i int) bool {
	p := s.pos[i]
	if p < 0 {
		return false
	}
	last := s.items[len(s.items)-1]
	s.items[p] = last
	s.pos[last] = p
	s.items = s.items[:len(s.items)-1]
	s.pos[i] = -1
	return true
}

// first returns the element at the head of the set
func (s *indexSet) first() int {
	return s.items[0]
}

// snapshot returns a copy safe to iterate while the set changes
func (s *indexSet) snapshot() []int {
	return append([]int(nil), s.items...)
}

// unionSorted merges two ascending slices without duplicates
func unionSorted(a, b []int) []int {
	out := make([]int, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			out = append(out, a[i])
			i++
		case a[i] > b[j]:
			out = append(out, b[j])
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	out = append(out, a[i:]...)
	return append(out, b[j:]...)
}
