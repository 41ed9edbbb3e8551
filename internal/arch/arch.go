// Package arch supplies the per-architecture register layout of the probe
// context: offsets (in 8-byte words) of argument, return-value, program
// counter and stack pointer registers within the register snapshot, plus
// the named-register table backing the reg() call.
package arch

import (
	"fmt"
	"runtime"
)

// Arch describes one supported target architecture.
type Arch struct {
	Name string

	argOffsets     []int
	retOffset      int
	pcOffset       int
	spOffset       int
	argStackOffset int
	registers      map[string]int
}

// MaxArgs is the number of register-passed arguments exposed as argN.
const MaxArgs = 6

var x8664 = &Arch{
	Name: "x86_64",
	// Offsets into struct pt_regs, in 8-byte words:
	// r15 r14 r13 r12 rbp rbx r11 r10 r9 r8 rax rcx rdx rsi rdi
	// orig_rax rip cs eflags rsp ss
	argOffsets:     []int{14, 13, 12, 11, 9, 8},
	retOffset:      10,
	pcOffset:       16,
	spOffset:       19,
	argStackOffset: 1,
	registers: map[string]int{
		"r15": 0, "r14": 1, "r13": 2, "r12": 3, "bp": 4, "bx": 5,
		"r11": 6, "r10": 7, "r9": 8, "r8": 9, "ax": 10, "cx": 11,
		"dx": 12, "si": 13, "di": 14, "orig_ax": 15, "ip": 16,
		"cs": 17, "flags": 18, "sp": 19, "ss": 20,
	},
}

var arm64 = &Arch{
	Name: "arm64",
	// struct user_pt_regs: regs[31], sp, pc, pstate.
	argOffsets:     []int{0, 1, 2, 3, 4, 5},
	retOffset:      0,
	pcOffset:       32,
	spOffset:       31,
	argStackOffset: 0,
	registers: func() map[string]int {
		m := make(map[string]int, 34)
		for i := 0; i <= 30; i++ {
			m[fmt.Sprintf("r%d", i)] = i
		}
		m["sp"] = 31
		m["pc"] = 32
		m["pstate"] = 33
		return m
	}(),
}

var byName = map[string]*Arch{
	"x86_64": x8664,
	"amd64":  x8664,
	"arm64":  arm64,
}

// Host returns the architecture of the running machine.
func Host() (*Arch, error) {
	return Lookup(runtime.GOARCH)
}

// Lookup returns the named architecture.
func Lookup(name string) (*Arch, error) {
	if a, ok := byName[name]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("unsupported architecture %q", name)
}

// ArgOffset returns the byte offset of register argument n within the
// context.
func (a *Arch) ArgOffset(n int) (int, error) {
	if n < 0 || n >= len(a.argOffsets) {
		return 0, fmt.Errorf("%s: no register for argument %d", a.Name, n)
	}
	return a.argOffsets[n] * 8, nil
}

// RetOffset returns the byte offset of the return value register.
func (a *Arch) RetOffset() int { return a.retOffset * 8 }

// PCOffset returns the byte offset of the program counter.
func (a *Arch) PCOffset() int { return a.pcOffset * 8 }

// SPOffset returns the byte offset of the stack pointer.
func (a *Arch) SPOffset() int { return a.spOffset * 8 }

// ArgStackOffset returns the word distance from the stack pointer to the
// first stack-passed argument.
func (a *Arch) ArgStackOffset() int { return a.argStackOffset }

// RegisterOffset returns the byte offset of a named register, for reg().
func (a *Arch) RegisterOffset(name string) (int, error) {
	if off, ok := a.registers[name]; ok {
		return off * 8, nil
	}
	return 0, fmt.Errorf("%s: unknown register %q", a.Name, name)
}
