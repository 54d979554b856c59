package regalloc

import (
	"github.com/GriffinCanCode/regcolor/pkg/ir"
	"github.com/GriffinCanCode/regcolor/pkg/logger"
)

// ColorMap maps virtual register names to physical register names
type ColorMap map[string]string

// assignColors pops the select stack and gives every register the first color
// none of its colored or precolored neighbors holds
func (e *engine) assignColors() {
	colors := e.g.machine.Colors
	taken := make([]bool, len(colors))

	for len(e.selectStack) > 0 {
		n := e.selectStack[len(e.selectStack)-1]
		e.selectStack = e.selectStack[:len(e.selectStack)-1]

		for i := range taken {
			taken[i] = false
		}
		for _, w := range e.g.adjList[n] {
			a := e.getAlias(w)
			switch e.g.nodes[a].state {
			case Colored, Precolored:
				if c := e.g.nodes[a].color; c >= 0 {
					taken[c] = true
				}
			}
		}

		chosen := -1
		for c := range colors {
			if !taken[c] {
				chosen = c
				break
			}
		}

		if chosen < 0 {
			e.setState(n, Spilled)
			logger.Debug("Spilling register", "register", e.g.nodes[n].reg.Name)
			continue
		}
		e.g.nodes[n].color = chosen
		e.setState(n, Colored)
	}

	for _, n := range e.coalesced.items {
		a := e.getAlias(n)
		switch e.g.nodes[a].state {
		case Colored, Precolored:
			e.g.nodes[n].color = e.g.nodes[a].color
		}
	}
}

// colorMap returns the assignment for every colored or coalesced virtual
// register
func (e *engine) colorMap() ColorMap {
	cm := make(ColorMap)
	colors := e.g.machine.Colors
	for i := range e.g.nodes {
		nd := &e.g.nodes[i]
		if !nd.reg.Virtual || nd.color < 0 {
			continue
		}
		cm[nd.reg.Name] = colors[nd.color]
	}
	return cm
}

// spilledRegs returns the registers that received no color, in arena order
func (e *engine) spilledRegs() []ir.Reg {
	var regs []ir.Reg
	for i := range e.g.nodes {
		if e.g.nodes[i].state == Spilled {
			regs = append(regs, e.g.nodes[i].reg)
		}
	}
	return regs
}
