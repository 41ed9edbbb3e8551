package codegen

import (
	"github.com/cilium/ebpf/asm"
)

// The bucketing helpers are marked always-inline in spirit: every call
// site expands a private copy with uniquified labels so the verifier
// sees straight-line code, and one canonical copy of each helper is
// registered in the module's reserved helpers section the first time it
// is referenced.

// jmpImm64 is jmpImm for immediates that may not fit 32 bits.
func (b *builder) jmpImm64(op asm.JumpOp, dst asm.Register, value int64, target string) {
	if value == int64(int32(value)) {
		b.jmpImm(op, dst, int32(value), target)
		return
	}
	b.emit(asm.LoadImm(asm.R1, value, asm.DWord))
	b.jmpReg(op, dst, asm.R1, target)
}

// emitLog2 expands the power-of-two bucket index computation over the
// consumed value: 0 for negatives, 1 for zero, and 2 upwards for the
// five-step unrolled binary search over bits 31..1.
func (b *builder) emitLog2(val Value) (Value, error) {
	n, err := b.toReg(val)
	if err != nil {
		return None(), err
	}
	res, err := b.allocReg()
	if err != nil {
		return None(), err
	}
	done := b.newLabel("log2.done")

	b.emit(asm.Mov.Imm(res, 0))
	b.jmpImm(asm.JSLT, n, 0, done)
	b.emit(asm.Mov.Imm(res, 1))
	b.jmpImm(asm.JEq, n, 0, done)
	b.emit(asm.Mov.Imm(res, 2))
	for i := 4; i >= 0; i-- {
		skip := b.newLabel("log2.skip")
		shift := int32(1) << uint(i)
		threshold := int32(1) << uint(shift)
		b.jmpImm(asm.JLT, n, threshold, skip)
		b.emit(asm.RSh.Imm(n, shift))
		b.emit(asm.Add.Imm(res, shift))
		b.label(skip)
	}
	b.label(done)
	if err := b.pool.Put(n); err != nil {
		return None(), err
	}
	return InReg(res), nil
}

// emitLinear expands the linear bucket index computation: 0 below the
// range, 1+(max-min)/step above it, 1+(value-min)/step inside. The
// bounds and step are integer literals, so the out-of-range bucket is a
// compile-time constant. The boundary checks are signed so negative
// values land in bucket 0; the bucket division itself is unsigned.
func (b *builder) emitLinear(val Value, min, max, step int64) (Value, error) {
	v, err := b.toReg(val)
	if err != nil {
		return None(), err
	}
	res, err := b.allocReg()
	if err != nil {
		return None(), err
	}
	done := b.newLabel("lhist.done")
	inRange := b.newLabel("lhist.in_range")

	b.emit(asm.Mov.Imm(res, 0))
	b.jmpImm64(asm.JSLT, v, min, done)
	b.jmpImm64(asm.JSLE, v, max, inRange)
	b.emit(asm.LoadImm(res, 1+(max-min)/step, asm.DWord))
	b.ja(done)
	b.label(inRange)
	b.emit(asm.LoadImm(asm.R1, min, asm.DWord))
	b.emit(asm.Sub.Reg(v, asm.R1))
	b.emit(asm.LoadImm(asm.R1, step, asm.DWord))
	b.emit(asm.Div.Reg(v, asm.R1))
	b.emit(asm.Mov.Reg(res, v))
	b.emit(asm.Add.Imm(res, 1))
	b.label(done)
	if err := b.pool.Put(v); err != nil {
		return None(), err
	}
	return InReg(res), nil
}

// Helper is one synthesized function carried in the module's helpers
// section.
type Helper struct {
	Name  string
	Insns asm.Instructions
}

// log2Helper builds the canonical standalone copy: argument in R1,
// result in R0.
func log2Helper() (Helper, error) {
	b := newBuilder(&counters{}, nil)
	done := "log2.done"

	b.emit(asm.Mov.Imm(asm.R0, 0))
	b.jmpImm(asm.JSLT, asm.R1, 0, done)
	b.emit(asm.Mov.Imm(asm.R0, 1))
	b.jmpImm(asm.JEq, asm.R1, 0, done)
	b.emit(asm.Mov.Imm(asm.R0, 2))
	for i := 4; i >= 0; i-- {
		skip := b.newLabel("log2.skip")
		shift := int32(1) << uint(i)
		threshold := int32(1) << uint(shift)
		b.jmpImm(asm.JLT, asm.R1, threshold, skip)
		b.emit(asm.RSh.Imm(asm.R1, shift))
		b.emit(asm.Add.Imm(asm.R0, shift))
		b.label(skip)
	}
	b.label(done)
	b.emit(asm.Return())
	insns, err := b.finalize()
	if err != nil {
		return Helper{}, err
	}
	return Helper{Name: "log2", Insns: insns}, nil
}

// linearHelper builds the canonical standalone copy: value, min, max and
// step in R1–R4, result in R0.
func linearHelper() (Helper, error) {
	b := newBuilder(&counters{}, nil)
	done := "linear.done"
	inRange := "linear.in_range"

	b.emit(asm.Mov.Imm(asm.R0, 0))
	b.jmpReg(asm.JSLT, asm.R1, asm.R2, done)
	b.jmpReg(asm.JSLE, asm.R1, asm.R3, inRange)
	b.emit(asm.Mov.Reg(asm.R0, asm.R3))
	b.emit(asm.Sub.Reg(asm.R0, asm.R2))
	b.emit(asm.Div.Reg(asm.R0, asm.R4))
	b.emit(asm.Add.Imm(asm.R0, 1))
	b.ja(done)
	b.label(inRange)
	b.emit(asm.Mov.Reg(asm.R0, asm.R1))
	b.emit(asm.Sub.Reg(asm.R0, asm.R2))
	b.emit(asm.Div.Reg(asm.R0, asm.R4))
	b.emit(asm.Add.Imm(asm.R0, 1))
	b.label(done)
	b.emit(asm.Return())
	insns, err := b.finalize()
	if err != nil {
		return Helper{}, err
	}
	return Helper{Name: "linear", Insns: insns}, nil
}
