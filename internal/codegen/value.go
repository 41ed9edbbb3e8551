// Package codegen lowers a type-checked AST into BPF bytecode: one
// program per (probe × wildcard match × USDT location), each a function
// of a single opaque context pointer returning 64-bit zero.
//
// The lowering convention mirrors the sandbox calling contract: R0–R5
// are call/scratch registers owned by the builder primitives, R6–R8 form
// the value register pool, R9 holds the saved context pointer and R10 is
// the frame pointer. Every produced expression value is either a 64-bit
// scalar (constant or pool register) or a pointer to a frame slot.
package codegen

import "github.com/cilium/ebpf/asm"

// ValueKind discriminates Value.
type ValueKind int

const (
	// ValNone marks the absence of a value (calls that lower to pure
	// effects, e.g. aggregations).
	ValNone ValueKind = iota
	// ValConst is a compile-time 64-bit constant.
	ValConst
	// ValReg is a scalar live in a pool register.
	ValReg
	// ValStack is a value materialized in a frame slot. Scalar stack
	// values are spilled 64-bit scalars; the rest are composites whose
	// value is the slot address.
	ValStack
)

// Value is the result of lowering one expression.
type Value struct {
	Kind   ValueKind
	Imm    int64
	Reg    asm.Register
	Slot   Slot
	Scalar bool

	// Owned marks a stack value whose slot this Value is responsible for
	// releasing: the parent lowerer either consumes it (builder.dispose) or
	// adopts it to extend the lifetime across its own scope.
	Owned bool
}

// IsNone reports whether the value is absent.
func (v Value) IsNone() bool { return v.Kind == ValNone }

// None is the absent value.
func None() Value { return Value{Kind: ValNone} }

// Const wraps a compile-time constant.
func Const(n int64) Value { return Value{Kind: ValConst, Imm: n} }

// InReg wraps a pool register scalar.
func InReg(r asm.Register) Value { return Value{Kind: ValReg, Reg: r} }

// OnStack wraps an owned composite frame slot.
func OnStack(s Slot) Value { return Value{Kind: ValStack, Slot: s, Owned: true} }

// Borrowed wraps a composite frame slot someone else releases.
func Borrowed(s Slot) Value { return Value{Kind: ValStack, Slot: s} }

// Disarm transfers slot ownership to the caller and returns the value
// without it, the explicit form of the original deleter hand-off.
func (v *Value) Disarm() Value {
	out := *v
	v.Owned = false
	return out
}
