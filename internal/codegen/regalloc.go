package codegen

import (
	"fmt"

	"github.com/cilium/ebpf/asm"
)

// valuePool hands out the callee-saved value registers R6–R8. Expression
// trees deeper than the pool spill to the frame; the builder reloads
// spilled scalars on demand.
type valuePool struct {
	inUse [3]bool
}

var poolRegs = [3]asm.Register{asm.R6, asm.R7, asm.R8}

// Get allocates a free pool register; ok is false when the pool is
// exhausted and the caller must spill.
func (p *valuePool) Get() (asm.Register, bool) {
	for i, used := range p.inUse {
		if !used {
			p.inUse[i] = true
			return poolRegs[i], true
		}
	}
	return 0, false
}

// Put returns a register to the pool.
func (p *valuePool) Put(r asm.Register) error {
	for i, pr := range poolRegs {
		if pr == r {
			if !p.inUse[i] {
				return fmt.Errorf("register %v freed twice", r)
			}
			p.inUse[i] = false
			return nil
		}
	}
	return fmt.Errorf("register %v is not a pool register", r)
}

// Reset releases every register, for reuse across programs.
func (p *valuePool) Reset() {
	p.inUse = [3]bool{}
}
