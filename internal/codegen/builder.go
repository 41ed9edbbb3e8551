package codegen

import (
	"fmt"

	"github.com/cilium/ebpf/asm"

	"github.com/tracegen/tracegen/internal/ast"
)

// Register conventions for generated programs.
const (
	// ctxReg holds the context pointer for the whole program; it is
	// saved from R1 in the prologue and never reused. All context reads
	// are direct exact-width loads off this register so later stages can
	// never narrow or cache them.
	ctxReg = asm.R9
)

// counters are the per-call-site id counters. They advance monotonically
// within one program and are snapshotted/restored by the driver around
// each wildcard match so every program's id tables stay compact.
type counters struct {
	printfID      int
	systemID      int
	catID         int
	timeID        int
	strftimeID    int
	joinID        int
	nonMapPrintID int
	helperErrorID int
}

type patch struct {
	idx   int
	label string
}

// ctxLoad records one context access for the volatile-load audit.
type ctxLoad struct {
	idx  int
	off  int16
	size asm.Size
}

// builder is the typed emission façade for one generated program: it
// wraps raw instruction emission with frame-slot accounting, symbolic
// labels, foreign-memory reads, map access and the async output channel.
type builder struct {
	insns    []asm.Instruction
	pending  []string
	labelPos map[string]int
	patches  []patch
	dead     bool

	Frame Frame
	pool  valuePool

	labelSeq int
	counters *counters
	res      *ast.Resources

	ctxLoads []ctxLoad
}

func newBuilder(c *counters, res *ast.Resources) *builder {
	return &builder{
		labelPos: make(map[string]int),
		counters: c,
		res:      res,
	}
}

// emit appends one instruction, binding any pending labels to it.
// Instructions emitted in a dead zone (after an unconditional terminator,
// before the next label) are dropped; they can never execute and the
// verifier rejects unreachable code.
func (b *builder) emit(ins asm.Instruction) {
	if b.dead {
		return
	}
	for _, l := range b.pending {
		b.labelPos[l] = len(b.insns)
	}
	b.pending = b.pending[:0]
	b.insns = append(b.insns, ins)
}

// label binds name to the next emitted instruction. Binding a label ends
// any dead zone: a label is a live entry point.
func (b *builder) label(name string) {
	b.dead = false
	b.pending = append(b.pending, name)
}

// newLabel returns a fresh program-unique label.
func (b *builder) newLabel(prefix string) string {
	b.labelSeq++
	return fmt.Sprintf("%s.%d", prefix, b.labelSeq)
}

// beginDead starts a dead zone after an unconditional terminator.
func (b *builder) beginDead() {
	if len(b.pending) == 0 {
		b.dead = true
	}
}

func (b *builder) jmp(ins asm.Instruction, target string) {
	if b.dead {
		return
	}
	b.emit(ins)
	b.patches = append(b.patches, patch{idx: len(b.insns) - 1, label: target})
}

// ja emits an unconditional jump to the label.
func (b *builder) ja(target string) {
	b.jmp(asm.Ja.Label(target), target)
}

// jmpImm emits a conditional jump comparing dst against an immediate.
func (b *builder) jmpImm(op asm.JumpOp, dst asm.Register, value int32, target string) {
	b.jmp(op.Imm(dst, value, target), target)
}

// jmpReg emits a conditional jump comparing two registers.
func (b *builder) jmpReg(op asm.JumpOp, dst, src asm.Register, target string) {
	b.jmp(op.Reg(dst, src, target), target)
}

// retZero emits the canonical program epilogue and opens a dead zone.
func (b *builder) retZero() {
	b.emit(asm.Mov.Imm(asm.R0, 0))
	b.emit(asm.Return())
	b.beginDead()
}

// finalize resolves label references into PC-relative jump offsets and
// returns the finished instruction stream.
func (b *builder) finalize() (asm.Instructions, error) {
	if len(b.pending) > 0 {
		return nil, bug("labels %v bound past the last instruction", b.pending)
	}
	words := make([]int, len(b.insns)+1)
	for i := range b.insns {
		w := 1
		if b.insns[i].OpCode.IsDWordLoad() {
			w = 2
		}
		words[i+1] = words[i] + w
	}
	for _, p := range b.patches {
		tgt, ok := b.labelPos[p.label]
		if !ok {
			return nil, bug("jump to unbound label %q", p.label)
		}
		if tgt >= len(b.insns) {
			return nil, bug("label %q has no instruction", p.label)
		}
		ins := &b.insns[p.idx]
		ins.Offset = int16(words[tgt] - words[p.idx] - 1)
		*ins = ins.WithReference("")
	}
	return asm.Instructions(b.insns), nil
}

// dispose releases whatever resources a produced value holds.
func (b *builder) dispose(v Value) error {
	switch v.Kind {
	case ValReg:
		return b.pool.Put(v.Reg)
	case ValStack:
		if v.Owned {
			return b.Frame.Release(v.Slot)
		}
	}
	return nil
}

// allocReg takes a register from the value pool.
func (b *builder) allocReg() (asm.Register, error) {
	r, ok := b.pool.Get()
	if !ok {
		return 0, bug("value register pool exhausted")
	}
	return r, nil
}

// spill moves a register-held scalar into a frame slot, freeing the
// register. Used to bound pool pressure across nested lowering.
func (b *builder) spill(v *Value) error {
	if v.Kind != ValReg {
		return nil
	}
	slot, err := b.Frame.Alloc(8, "spill")
	if err != nil {
		return err
	}
	b.emit(asm.StoreMem(asm.R10, slot.Off, v.Reg, asm.DWord))
	if err := b.pool.Put(v.Reg); err != nil {
		return err
	}
	*v = Value{Kind: ValStack, Slot: slot, Scalar: true, Owned: true}
	return nil
}

// loadScratch materializes v into the given scratch register (R0–R5)
// without touching the value pool. Composite stack values materialize as
// their address.
func (b *builder) loadScratch(r asm.Register, v Value) error {
	switch v.Kind {
	case ValConst:
		b.emit(asm.LoadImm(r, v.Imm, asm.DWord))
	case ValReg:
		b.emit(asm.Mov.Reg(r, v.Reg))
	case ValStack:
		if v.Scalar {
			b.emit(asm.LoadMem(r, asm.R10, v.Slot.Off, asm.DWord))
		} else {
			b.emit(asm.Mov.Reg(r, asm.R10))
			b.emit(asm.Add.Imm(r, int32(v.Slot.Off)))
		}
	default:
		return bug("loadScratch of empty value")
	}
	return nil
}

// toReg materializes a scalar value into a pool register. The caller
// owns the result and must dispose it; v itself is consumed. Composite
// stack values are refused: their slot must outlive the materialized
// address, so callers take the address explicitly and keep ownership.
func (b *builder) toReg(v Value) (asm.Register, error) {
	if v.Kind == ValReg {
		return v.Reg, nil
	}
	r, err := b.allocReg()
	if err != nil {
		return 0, err
	}
	switch v.Kind {
	case ValConst:
		b.emit(asm.LoadImm(r, v.Imm, asm.DWord))
	case ValStack:
		if !v.Scalar {
			return 0, bug("toReg of a composite stack value")
		}
		b.emit(asm.LoadMem(r, asm.R10, v.Slot.Off, asm.DWord))
		if err := b.dispose(v); err != nil {
			return 0, err
		}
	default:
		return 0, bug("toReg of empty value")
	}
	return r, nil
}

// addrReg materializes the address of a composite stack value into a
// pool register. The slot stays owned by v.
func (b *builder) addrReg(v Value) (asm.Register, error) {
	if v.Kind != ValStack || v.Scalar {
		return 0, bug("addrReg of a non-composite value")
	}
	r, err := b.allocReg()
	if err != nil {
		return 0, err
	}
	b.emit(asm.Mov.Reg(r, asm.R10))
	b.emit(asm.Add.Imm(r, int32(v.Slot.Off)))
	return r, nil
}

// slotAddr loads the address of a frame slot into a scratch register.
func (b *builder) slotAddr(r asm.Register, s Slot) {
	b.emit(asm.Mov.Reg(r, asm.R10))
	b.emit(asm.Add.Imm(r, int32(s.Off)))
}

// signExtend sign-extends the low `bytes` of r to 64 bits.
func (b *builder) signExtend(r asm.Register, bytes int) {
	if bytes >= 8 {
		return
	}
	shift := int32(64 - bytes*8)
	b.emit(asm.LSh.Imm(r, shift))
	b.emit(asm.ArSh.Imm(r, shift))
}

// zeroExtend clears the high bits beyond the low `bytes` of r.
func (b *builder) zeroExtend(r asm.Register, bytes int) {
	if bytes >= 8 {
		return
	}
	shift := int32(64 - bytes*8)
	b.emit(asm.LSh.Imm(r, shift))
	b.emit(asm.RSh.Imm(r, shift))
}

func sizeForBytes(n int) (asm.Size, bool) {
	switch n {
	case 1:
		return asm.Byte, true
	case 2:
		return asm.Half, true
	case 4:
		return asm.Word, true
	case 8:
		return asm.DWord, true
	}
	return asm.DWord, false
}

// memset fills n bytes of the slot with the given byte value.
func (b *builder) memset(s Slot, value byte, n int) {
	pattern := int64(value) | int64(value)<<8 | int64(value)<<16 | int64(value)<<24
	off := s.Off
	for n >= 8 {
		// A DWord store immediate sign-extends its 32-bit operand; only
		// all-zero and all-one patterns survive that, so split instead.
		b.emit(asm.StoreImm(asm.R10, off, pattern, asm.Word))
		b.emit(asm.StoreImm(asm.R10, off+4, pattern, asm.Word))
		off += 8
		n -= 8
	}
	for _, c := range []struct {
		bytes int
		size  asm.Size
	}{{4, asm.Word}, {2, asm.Half}, {1, asm.Byte}} {
		for n >= c.bytes {
			mask := int64(1)<<(uint(c.bytes)*8) - 1
			b.emit(asm.StoreImm(asm.R10, off, pattern&mask, c.size))
			off += int16(c.bytes)
			n -= c.bytes
		}
	}
}

// memcpy copies n bytes between frame slots through R0.
func (b *builder) memcpy(dst, src Slot, n int) {
	b.copyMem(dst.Off, asm.R10, src.Off, n)
}

// memcpyFromPtr copies n bytes from the memory region addressed by src
// (for example a map value pointer) into a frame slot.
func (b *builder) memcpyFromPtr(dst Slot, src asm.Register, n int) {
	if src == asm.R0 {
		b.emit(asm.Mov.Reg(asm.R1, asm.R0))
		src = asm.R1
	}
	b.copyMem(dst.Off, src, 0, n)
}

func (b *builder) copyMem(dstOff int16, src asm.Register, srcOff int16, n int) {
	for _, c := range []struct {
		bytes int
		size  asm.Size
	}{{8, asm.DWord}, {4, asm.Word}, {2, asm.Half}, {1, asm.Byte}} {
		for n >= c.bytes {
			b.emit(asm.LoadMem(asm.R0, src, srcOff, c.size))
			b.emit(asm.StoreMem(asm.R10, dstOff, asm.R0, c.size))
			srcOff += int16(c.bytes)
			dstOff += int16(c.bytes)
			n -= c.bytes
		}
	}
}

// memcpyVolatileFrom copies n bytes out of the context record into a
// frame slot. Each load is issued directly against the context pointer
// at exact width and recorded in the context-access audit.
func (b *builder) memcpyVolatileFrom(dst Slot, base asm.Register, ctxOff int, n int) {
	dstOff := dst.Off
	for _, c := range []struct {
		bytes int
		size  asm.Size
	}{{8, asm.DWord}, {4, asm.Word}, {2, asm.Half}, {1, asm.Byte}} {
		for n >= c.bytes {
			b.recordCtxLoad(int16(ctxOff), c.size)
			b.emit(asm.LoadMem(asm.R0, base, int16(ctxOff), c.size))
			b.emit(asm.StoreMem(asm.R10, dstOff, asm.R0, c.size))
			ctxOff += c.bytes
			dstOff += int16(c.bytes)
			n -= c.bytes
		}
	}
}

func (b *builder) recordCtxLoad(off int16, size asm.Size) {
	if !b.dead {
		b.ctxLoads = append(b.ctxLoads, ctxLoad{idx: len(b.insns), off: off, size: size})
	}
}

// loadCtx reads one field of the context record into a pool register,
// sign- or zero-extending to 64 bits.
func (b *builder) loadCtx(off int, size asm.Size, signed bool) (Value, error) {
	return b.loadCtxFrom(ctxReg, off, size, signed)
}

// loadCtxFrom is loadCtx with an explicit base register, for nested
// context records whose base pointer was propagated through field
// accesses.
func (b *builder) loadCtxFrom(base asm.Register, off int, size asm.Size, signed bool) (Value, error) {
	r, err := b.allocReg()
	if err != nil {
		return None(), err
	}
	b.recordCtxLoad(int16(off), size)
	b.emit(asm.LoadMem(r, base, int16(off), size))
	if signed {
		b.signExtend(r, size.Sizeof())
	}
	return InReg(r), nil
}

// probeReadFn selects the foreign-memory read helper for an address space.
func probeReadFn(as ast.AddrSpace, str bool) asm.BuiltinFunc {
	if as == ast.AddrSpaceUser {
		if str {
			return asm.FnProbeReadUserStr
		}
		return asm.FnProbeReadUser
	}
	if str {
		return asm.FnProbeReadKernelStr
	}
	return asm.FnProbeReadKernel
}

// probeRead reads n bytes of foreign memory at src into dst. Runtime
// failures zero the destination; the per-site helper error id advances
// either way.
func (b *builder) probeRead(dst Slot, n Value, src Value, as ast.AddrSpace) error {
	b.slotAddr(asm.R1, dst)
	if err := b.loadScratch(asm.R2, n); err != nil {
		return err
	}
	if err := b.loadScratch(asm.R3, src); err != nil {
		return err
	}
	b.emit(probeReadFn(as, false).Call())
	b.counters.helperErrorID++
	return nil
}

// probeReadStr reads a NUL-terminated string of at most maxLen bytes.
func (b *builder) probeReadStr(dst Slot, maxLen Value, src Value, as ast.AddrSpace) error {
	b.slotAddr(asm.R1, dst)
	if err := b.loadScratch(asm.R2, maxLen); err != nil {
		return err
	}
	if err := b.loadScratch(asm.R3, src); err != nil {
		return err
	}
	b.emit(probeReadFn(as, true).Call())
	b.counters.helperErrorID++
	return nil
}

// probeReadStrToPtr is probeReadStr with a register destination (used by
// join, which writes into the shared per-CPU scratch buffer).
func (b *builder) probeReadStrToPtr(dst asm.Register, dstAdd int32, maxLen int, src Value, as ast.AddrSpace) error {
	b.emit(asm.Mov.Reg(asm.R1, dst))
	if dstAdd != 0 {
		b.emit(asm.Add.Imm(asm.R1, dstAdd))
	}
	b.emit(asm.Mov.Imm(asm.R2, int32(maxLen)))
	if err := b.loadScratch(asm.R3, src); err != nil {
		return err
	}
	b.emit(probeReadFn(as, true).Call())
	b.counters.helperErrorID++
	return nil
}

// mapLookup looks the key up in the map and produces the value: a pool
// register for integers (sign-extended from the fixed 64-bit map cell)
// or a fresh frame slot for composites. A missed lookup reads as zero.
func (b *builder) mapLookup(mi *ast.MapInfo, key Slot, valueType *ast.SizedType) (Value, error) {
	b.emit(asm.LoadMapPtr(asm.R1, mi.FD))
	b.slotAddr(asm.R2, key)
	b.emit(asm.FnMapLookupElem.Call())
	b.counters.helperErrorID++

	hit := b.newLabel("lookup.hit")
	done := b.newLabel("lookup.done")

	if valueType.NeedsMemcpy() {
		dst, err := b.Frame.Alloc(valueType.Size, "lookup_val")
		if err != nil {
			return None(), err
		}
		b.jmpImm(asm.JNE, asm.R0, 0, hit)
		b.memset(dst, 0, valueType.Size)
		b.ja(done)
		b.label(hit)
		b.memcpyFromPtr(dst, asm.R0, valueType.Size)
		b.label(done)
		return OnStack(dst), nil
	}

	r, err := b.allocReg()
	if err != nil {
		return None(), err
	}
	b.jmpImm(asm.JNE, asm.R0, 0, hit)
	b.emit(asm.Mov.Imm(r, 0))
	b.ja(done)
	b.label(hit)
	b.emit(asm.LoadMem(r, asm.R0, 0, asm.DWord))
	b.label(done)
	return InReg(r), nil
}

// mapUpdate writes the value slot into the map under the key slot.
func (b *builder) mapUpdate(mi *ast.MapInfo, key, value Slot) {
	b.emit(asm.LoadMapPtr(asm.R1, mi.FD))
	b.slotAddr(asm.R2, key)
	b.slotAddr(asm.R3, value)
	b.emit(asm.Mov.Imm(asm.R4, 0)) // BPF_ANY
	b.emit(asm.FnMapUpdateElem.Call())
	b.counters.helperErrorID++
}

// mapDelete removes the key from the map.
func (b *builder) mapDelete(mi *ast.MapInfo, key Slot) {
	b.emit(asm.LoadMapPtr(asm.R1, mi.FD))
	b.slotAddr(asm.R2, key)
	b.emit(asm.FnMapDeleteElem.Call())
	b.counters.helperErrorID++
}

// perfEventOutput emits size bytes of the slot as one async record on
// the current CPU's ring.
func (b *builder) perfEventOutput(buf Slot, size int) {
	const currentCPU = int64(0xffffffff) // BPF_F_CURRENT_CPU
	b.emit(asm.Mov.Reg(asm.R1, ctxReg))
	b.emit(asm.LoadMapPtr(asm.R2, b.res.PerfEventMapFD))
	b.emit(asm.LoadImm(asm.R3, currentCPU, asm.DWord))
	b.slotAddr(asm.R4, buf)
	b.emit(asm.Mov.Imm(asm.R5, int32(size)))
	b.emit(asm.FnPerfEventOutput.Call())
	b.counters.helperErrorID++
}

// perfEventOutputPtr emits from a register-addressed buffer (join's
// shared scratch).
func (b *builder) perfEventOutputPtr(buf asm.Register, size int) {
	const currentCPU = int64(0xffffffff)
	b.emit(asm.Mov.Reg(asm.R4, buf))
	b.emit(asm.Mov.Reg(asm.R1, ctxReg))
	b.emit(asm.LoadMapPtr(asm.R2, b.res.PerfEventMapFD))
	b.emit(asm.LoadImm(asm.R3, currentCPU, asm.DWord))
	b.emit(asm.Mov.Imm(asm.R5, int32(size)))
	b.emit(asm.FnPerfEventOutput.Call())
	b.counters.helperErrorID++
}

// callScalar invokes a zero-argument context helper and moves the result
// into a pool register.
func (b *builder) callScalar(fn asm.BuiltinFunc) (Value, error) {
	b.emit(fn.Call())
	r, err := b.allocReg()
	if err != nil {
		return None(), err
	}
	b.emit(asm.Mov.Reg(r, asm.R0))
	return InReg(r), nil
}

// getNs returns current nanoseconds, preferring the boot clock when the
// kernel has it.
func (b *builder) getNs(preferBoot bool) (Value, error) {
	if preferBoot {
		return b.callScalar(asm.FnKtimeGetBootNs)
	}
	return b.callScalar(asm.FnKtimeGetNs)
}

func (b *builder) getPidTgid() (Value, error) { return b.callScalar(asm.FnGetCurrentPidTgid) }
func (b *builder) getUidGid() (Value, error)  { return b.callScalar(asm.FnGetCurrentUidGid) }
func (b *builder) getCpu() (Value, error)     { return b.callScalar(asm.FnGetSmpProcessorId) }
func (b *builder) getCgroup() (Value, error)  { return b.callScalar(asm.FnGetCurrentCgroupId) }
func (b *builder) getCurtask() (Value, error) { return b.callScalar(asm.FnGetCurrentTask) }
func (b *builder) getRandom() (Value, error)  { return b.callScalar(asm.FnGetPrandomU32) }

// getCurrentComm fills the slot with the current task comm.
func (b *builder) getCurrentComm(dst Slot, size int) {
	b.slotAddr(asm.R1, dst)
	b.emit(asm.Mov.Imm(asm.R2, int32(size)))
	b.emit(asm.FnGetCurrentComm.Call())
	b.counters.helperErrorID++
}

// getStackID captures a stack trace into the stack map and produces its
// id.
func (b *builder) getStackID(user bool, limit int) (Value, error) {
	const userStackFlag = int32(1 << 8) // BPF_F_USER_STACK
	flags := int32(limit & 0xff)
	if user {
		flags |= userStackFlag
	}
	b.emit(asm.Mov.Reg(asm.R1, ctxReg))
	b.emit(asm.LoadMapPtr(asm.R2, b.res.StackMapFD))
	b.emit(asm.Mov.Imm(asm.R3, flags))
	b.emit(asm.FnGetStackid.Call())
	b.counters.helperErrorID++
	r, err := b.allocReg()
	if err != nil {
		return None(), err
	}
	b.emit(asm.Mov.Reg(r, asm.R0))
	return InReg(r), nil
}

// getJoinMap produces the per-CPU scratch buffer pointer for join, which
// may be null.
func (b *builder) getJoinMap() (Value, error) {
	zero, err := b.Frame.Alloc(4, "join_key")
	if err != nil {
		return None(), err
	}
	b.emit(asm.StoreImm(asm.R10, zero.Off, 0, asm.Word))
	b.emit(asm.LoadMapPtr(asm.R1, b.res.JoinMapFD))
	b.slotAddr(asm.R2, zero)
	b.emit(asm.FnMapLookupElem.Call())
	b.counters.helperErrorID++
	if err := b.Frame.Release(zero); err != nil {
		return None(), err
	}
	r, err := b.allocReg()
	if err != nil {
		return None(), err
	}
	b.emit(asm.Mov.Reg(r, asm.R0))
	return InReg(r), nil
}

// sendSignal delivers a signal to the current task.
func (b *builder) sendSignal(sig Value) error {
	if err := b.loadScratch(asm.R1, sig); err != nil {
		return err
	}
	b.emit(asm.FnSendSignal.Call())
	b.counters.helperErrorID++
	return nil
}

// overrideReturn rewrites the probed function's return value.
func (b *builder) overrideReturn(rc Value) error {
	b.emit(asm.Mov.Reg(asm.R1, ctxReg))
	if err := b.loadScratch(asm.R2, rc); err != nil {
		return err
	}
	b.emit(asm.FnOverrideReturn.Call())
	b.counters.helperErrorID++
	return nil
}

// strcmpLiteral compares the string in the slot against a literal over
// at most n bytes, byte-wise, without materializing the literal. The
// result is 1 when equal if inverse is set, otherwise 1 when different.
func (b *builder) strcmpLiteral(s Slot, literal string, n int, inverse bool) (Value, error) {
	r, err := b.allocReg()
	if err != nil {
		return None(), err
	}
	differ := b.newLabel("strcmp.ne")
	done := b.newLabel("strcmp.done")

	// Comparing every literal byte plus the terminating NUL catches both
	// shorter and longer stored strings.
	if n > s.Size {
		n = s.Size
	}
	for i := 0; i < n; i++ {
		var want int32
		if i < len(literal) {
			want = int32(literal[i])
		}
		b.emit(asm.LoadMem(asm.R0, asm.R10, s.Off+int16(i), asm.Byte))
		b.jmpImm(asm.JNE, asm.R0, want, differ)
	}
	eq, ne := int32(0), int32(1)
	if inverse {
		eq, ne = 1, 0
	}
	b.emit(asm.Mov.Imm(r, eq))
	b.ja(done)
	b.label(differ)
	b.emit(asm.Mov.Imm(r, ne))
	b.label(done)
	return InReg(r), nil
}

// strncmp compares two stack strings byte-wise up to n bytes, stopping
// early at a shared NUL.
func (b *builder) strncmp(left, right Slot, n int, inverse bool) (Value, error) {
	r, err := b.allocReg()
	if err != nil {
		return None(), err
	}
	differ := b.newLabel("strncmp.ne")
	match := b.newLabel("strncmp.eq")
	done := b.newLabel("strncmp.done")

	if n > left.Size {
		n = left.Size
	}
	if n > right.Size {
		n = right.Size
	}
	for i := 0; i < n; i++ {
		b.emit(asm.LoadMem(asm.R0, asm.R10, left.Off+int16(i), asm.Byte))
		b.emit(asm.LoadMem(asm.R1, asm.R10, right.Off+int16(i), asm.Byte))
		b.jmpReg(asm.JNE, asm.R0, asm.R1, differ)
		// Bytes agree; a NUL here terminates both strings.
		b.jmpImm(asm.JEq, asm.R0, 0, match)
	}
	b.label(match)
	eq, ne := int32(0), int32(1)
	if inverse {
		eq, ne = 1, 0
	}
	b.emit(asm.Mov.Imm(r, eq))
	b.ja(done)
	b.label(differ)
	b.emit(asm.Mov.Imm(r, ne))
	b.label(done)
	return InReg(r), nil
}
