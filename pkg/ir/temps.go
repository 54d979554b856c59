package ir

import "fmt"

// Temps hands out fresh virtual registers that do not collide with any name
// already observed
type Temps struct {
	prefix string
	next   int
	used   map[string]bool
}

// NewTemps creates a generator producing names prefix0, prefix1, ...
func NewTemps(prefix string) *Temps {
	return &Temps{prefix: prefix, used: make(map[string]bool)}
}

// Observe records every register name in insts as taken
func (t *Temps) Observe(insts []Inst) {
	for _, in := range insts {
		for _, r := range Regs(in) {
			t.used[r.Name] = true
		}
	}
}

// Next returns a virtual register never returned before and never observed
func (t *Temps) Next() Reg {
	for {
		name := fmt.Sprintf("%s%d", t.prefix, t.next)
		t.next++
		if !t.used[name] {
			t.used[name] = true
			return Virt(name)
		}
	}
}
