package codegen

import (
	"github.com/cilium/ebpf/asm"

	"github.com/tracegen/tracegen/internal/ast"
)

// fieldAccess lowers struct member and tuple element reads. The policy
// depends on where the record lives: already in sandbox memory
// (internal), behind the context pointer (volatile, exact-width loads),
// or behind an external pointer (probe-read, lazy for embedded records).
func (g *Gen) fieldAccess(acc *ast.FieldAccess) (Value, error) {
	b := g.b
	t := acc.Expr.Type()

	v, err := g.expr(acc.Expr)
	if err != nil {
		return None(), err
	}

	if t.IsTupleTy() {
		off := 0
		for i := 0; i < acc.Index && i < len(t.Elems); i++ {
			off += t.Elems[i].Size
		}
		et := t.Elems[acc.Index]
		if et.OnStack() || et.NeedsMemcpy() {
			// Forward a view into the tuple buffer, extending its
			// lifetime to this value.
			out := Value{Kind: ValStack, Slot: subSlot(v.Slot, off, et.Size), Owned: v.Owned}
			return out, nil
		}
		size, ok := sizeForBytes(et.Size)
		if !ok {
			size = asm.DWord
		}
		r, err := b.allocReg()
		if err != nil {
			return None(), err
		}
		b.emit(asm.LoadMem(r, asm.R10, v.Slot.Off+int16(off), size))
		if et.Signed {
			b.signExtend(r, et.Size)
		}
		if err := b.dispose(v); err != nil {
			return None(), err
		}
		return InReg(r), nil
	}

	castName := t.Name
	if t.IsTparg {
		castName = g.tpStruct
	}
	cstruct, ok := g.res.Structs[castName]
	if !ok {
		return None(), bug("struct %s missing from the resources table", castName)
	}
	field, ok := cstruct.Fields[acc.Field]
	if !ok {
		return None(), bug("struct %s has no field %s", castName, acc.Field)
	}

	if t.IsInternal {
		return g.internalField(v, &field)
	}
	if t.IsCtx {
		return g.ctxField(v, &field)
	}
	return g.externalField(v, &field, t.AddrSpace)
}

// internalField reads from a record already in sandbox memory, e.g. a
// map value copied onto the stack.
func (g *Gen) internalField(v Value, field *ast.Field) (Value, error) {
	b := g.b
	if v.Kind != ValStack {
		return None(), bug("internal record not on stack")
	}
	switch {
	case field.Type.IsRecordTy():
		dst, err := b.Frame.Alloc(field.Type.Size, "internal_"+field.Name)
		if err != nil {
			return None(), err
		}
		b.copyMem(dst.Off, asm.R10, v.Slot.Off+int16(field.Offset), field.Type.Size)
		if err := b.dispose(v); err != nil {
			return None(), err
		}
		return OnStack(dst), nil
	case field.Type.IsStringTy() || field.Type.IsBufferTy():
		out := Value{
			Kind:  ValStack,
			Slot:  subSlot(v.Slot, field.Offset, field.Type.Size),
			Owned: v.Owned,
		}
		return out, nil
	default:
		size, ok := sizeForBytes(field.Type.Size)
		if !ok {
			size = asm.DWord
		}
		r, err := b.allocReg()
		if err != nil {
			return None(), err
		}
		b.emit(asm.LoadMem(r, asm.R10, v.Slot.Off+int16(field.Offset), size))
		if field.Type.Signed {
			b.signExtend(r, field.Type.Size)
		}
		if err := b.dispose(v); err != nil {
			return None(), err
		}
		return InReg(r), nil
	}
}

// ctxField reads from the probe register record. Every load goes
// straight to the context pointer at the field's exact width.
func (g *Gen) ctxField(v Value, field *ast.Field) (Value, error) {
	b := g.b
	base, err := b.toReg(v)
	if err != nil {
		return None(), err
	}
	releaseBase := func() error { return b.pool.Put(base) }

	switch {
	case field.Type.IsRecordTy() || field.Type.IsArrayTy():
		// Embedded aggregate: propagate the pointer, dereference lazily.
		b.emit(asm.Add.Imm(base, int32(field.Offset)))
		return InReg(base), nil

	case field.Type.IsStringTy() || field.Type.IsBufferTy():
		dst, err := b.Frame.Alloc(field.Type.Size, "ctx_"+field.Name)
		if err != nil {
			return None(), err
		}
		b.memcpyVolatileFrom(dst, base, field.Offset, field.Type.Size)
		if err := releaseBase(); err != nil {
			return None(), err
		}
		return OnStack(dst), nil

	case field.Bitfield != nil:
		size, ok := sizeForBytes(field.Type.Size)
		if !ok {
			size = asm.DWord
		}
		raw, err := b.loadCtxFrom(base, field.Offset, size, false)
		if err != nil {
			return None(), err
		}
		if err := releaseBase(); err != nil {
			return None(), err
		}
		g.applyBitfield(raw.Reg, field.Bitfield)
		return raw, nil

	default:
		size, ok := sizeForBytes(field.Type.Size)
		if !ok {
			size = asm.DWord
		}
		out, err := b.loadCtxFrom(base, field.Offset, size, field.Type.Signed)
		if err != nil {
			return None(), err
		}
		if err := releaseBase(); err != nil {
			return None(), err
		}
		return out, nil
	}
}

func (g *Gen) applyBitfield(r asm.Register, bf *ast.Bitfield) {
	b := g.b
	if bf.AccessRShift > 0 {
		b.emit(asm.RSh.Imm(r, int32(bf.AccessRShift)))
	}
	if bf.Mask == uint64(int64(int32(bf.Mask))) {
		b.emit(asm.And.Imm(r, int32(bf.Mask)))
	} else {
		b.emit(asm.LoadImm(asm.R1, int64(bf.Mask), asm.DWord))
		b.emit(asm.And.Reg(r, asm.R1))
	}
}

// externalField reads through a foreign pointer.
func (g *Gen) externalField(v Value, field *ast.Field, as ast.AddrSpace) (Value, error) {
	b := g.b
	base, err := b.toReg(v)
	if err != nil {
		return None(), err
	}
	if field.Offset != 0 {
		b.emit(asm.Add.Imm(base, int32(field.Offset)))
	}

	switch {
	case field.Type.IsRecordTy() || field.Type.IsArrayTy():
		// Keep the pointer; the next access dereferences.
		return InReg(base), nil

	case field.Type.IsStringTy() || field.Type.IsBufferTy():
		dst, err := b.Frame.Alloc(field.Type.Size, field.Name)
		if err != nil {
			return None(), err
		}
		if err := b.probeRead(dst, Const(int64(field.Type.Size)), InReg(base), as); err != nil {
			return None(), err
		}
		if err := b.pool.Put(base); err != nil {
			return None(), err
		}
		return OnStack(dst), nil

	case field.Bitfield != nil:
		dst, err := b.Frame.Alloc(8, field.Name)
		if err != nil {
			return None(), err
		}
		// Zeroed so the tail bytes of a narrow read are defined.
		b.memset(dst, 0, 8)
		if err := b.probeRead(dst, Const(int64(field.Bitfield.ReadBytes)), InReg(base), as); err != nil {
			return None(), err
		}
		b.emit(asm.LoadMem(base, asm.R10, dst.Off, asm.DWord))
		if err := b.Frame.Release(dst); err != nil {
			return None(), err
		}
		g.applyBitfield(base, field.Bitfield)
		return InReg(base), nil

	default:
		dst, err := b.Frame.Alloc(8, field.Name)
		if err != nil {
			return None(), err
		}
		b.memset(dst, 0, 8)
		if err := b.probeRead(dst, Const(int64(field.Type.Size)), InReg(base), as); err != nil {
			return None(), err
		}
		b.emit(asm.LoadMem(base, asm.R10, dst.Off, asm.DWord))
		if field.Type.Signed {
			b.signExtend(base, field.Type.Size)
		}
		if err := b.Frame.Release(dst); err != nil {
			return None(), err
		}
		return InReg(base), nil
	}
}

// arrayAccess lowers indexing: scale by element size, then apply the
// same internal/context/external policy as field access.
func (g *Gen) arrayAccess(arr *ast.ArrayAccess) (Value, error) {
	b := g.b
	t := arr.Expr.Type()
	if t.Elem == nil {
		return None(), bug("array access over %s", t)
	}
	elem := *t.Elem
	esize := elem.Size

	av, err := g.expr(arr.Expr)
	if err != nil {
		return None(), err
	}
	onStack := av.Kind == ValStack && !av.Scalar
	var base asm.Register
	if onStack {
		base, err = b.addrReg(av)
	} else {
		base, err = b.toReg(av)
	}
	if err != nil {
		return None(), err
	}

	iv, err := g.expr(arr.Index)
	if err != nil {
		return None(), err
	}
	if iv.Kind == ValConst {
		off := iv.Imm * int64(esize)
		if off != 0 {
			b.emit(asm.Add.Imm(base, int32(off)))
		}
	} else {
		ir, err := b.toReg(iv)
		if err != nil {
			return None(), err
		}
		b.emit(asm.Mul.Imm(ir, int32(esize)))
		b.emit(asm.Add.Reg(base, ir))
		if err := b.pool.Put(ir); err != nil {
			return None(), err
		}
	}

	scalar := elem.IsIntTy() || elem.IsPtrTy()
	size, ok := sizeForBytes(esize)
	if !ok {
		size = asm.DWord
	}

	switch {
	case scalar && t.IsCtx:
		out, err := b.loadCtxFrom(base, 0, size, elem.Signed)
		if err != nil {
			return None(), err
		}
		if err := b.pool.Put(base); err != nil {
			return None(), err
		}
		return out, nil

	case scalar && onStack:
		b.emit(asm.LoadMem(base, base, 0, size))
		if elem.Signed {
			b.signExtend(base, esize)
		}
		if err := b.dispose(av); err != nil {
			return None(), err
		}
		return InReg(base), nil

	case scalar:
		dst, err := b.Frame.Alloc(8, "array_access")
		if err != nil {
			return None(), err
		}
		b.memset(dst, 0, 8)
		if err := b.probeRead(dst, Const(int64(esize)), InReg(base), t.AddrSpace); err != nil {
			return None(), err
		}
		b.emit(asm.LoadMem(base, asm.R10, dst.Off, asm.DWord))
		if elem.Signed {
			b.signExtend(base, esize)
		}
		if err := b.Frame.Release(dst); err != nil {
			return None(), err
		}
		return InReg(base), nil

	default:
		dst, err := b.Frame.Alloc(esize, "array_access")
		if err != nil {
			return None(), err
		}
		if onStack {
			b.memcpyFromPtr(dst, base, esize)
			if err := b.dispose(av); err != nil {
				return None(), err
			}
		} else if err := b.probeRead(dst, Const(int64(esize)), InReg(base), t.AddrSpace); err != nil {
			return None(), err
		}
		if err := b.pool.Put(base); err != nil {
			return None(), err
		}
		return OnStack(dst), nil
	}
}
