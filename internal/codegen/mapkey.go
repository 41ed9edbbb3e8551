package codegen

import (
	"github.com/cilium/ebpf/asm"

	"github.com/tracegen/tracegen/internal/ast"
)

// mapKey materializes a map's key on the stack. Three shapes: the
// keyless form (a 64-bit zero), a single key (reusing an
// already-on-stack operand), and a multi-key byte buffer with each field
// at its running offset.
func (g *Gen) mapKey(m *ast.Map) (Value, error) {
	b := g.b
	switch len(m.Keys) {
	case 0:
		key, err := b.Frame.Alloc(8, m.Ident+"_key")
		if err != nil {
			return None(), err
		}
		b.emit(asm.StoreImm(asm.R10, key.Off, 0, asm.DWord))
		return OnStack(key), nil

	case 1:
		e := m.Keys[0]
		v, err := g.expr(e)
		if err != nil {
			return None(), err
		}
		if v.Kind == ValStack && !v.Scalar {
			// The key is already in stack memory; hand the slot over.
			return v, nil
		}
		key, err := b.Frame.Alloc(keyAlloc(e.Type().Size), m.Ident+"_key")
		if err != nil {
			return None(), err
		}
		if err := b.storeScalar(key, 0, v, asm.DWord); err != nil {
			return None(), err
		}
		if err := b.dispose(v); err != nil {
			return None(), err
		}
		return OnStack(key), nil
	}

	size := 0
	for _, e := range m.Keys {
		size += e.Type().Size
	}
	key, err := b.Frame.Alloc(keyAlloc(size), m.Ident+"_key")
	if err != nil {
		return None(), err
	}
	if err := g.layoutKeyFields(key, m.Keys, 0); err != nil {
		return None(), err
	}
	return OnStack(key), nil
}

// mapKeyWithBucket builds the aggregation key shape: the plain key (or
// nothing, for the keyless form) followed by one trailing 64-bit slot
// holding the bucket or statistic index.
func (g *Gen) mapKeyWithBucket(m *ast.Map, bucket Value) (Value, error) {
	b := g.b
	size := 8
	for _, e := range m.Keys {
		size += e.Type().Size
	}
	if len(m.Keys) == 0 {
		size = 8
	}
	key, err := b.Frame.Alloc(keyAlloc(size), m.Ident+"_key")
	if err != nil {
		return None(), err
	}
	off := 0
	if len(m.Keys) > 0 {
		if err := g.layoutKeyFields(key, m.Keys, 0); err != nil {
			return None(), err
		}
		off = size - 8
	}
	if err := b.storeScalar(key, int16(off), bucket, asm.DWord); err != nil {
		return None(), err
	}
	if err := b.dispose(bucket); err != nil {
		return None(), err
	}
	return OnStack(key), nil
}

// layoutKeyFields writes each key expression at its running offset:
// memcpy for composites, a 64-bit promoted store for scalars.
func (g *Gen) layoutKeyFields(key Slot, keys []ast.Expression, off int) error {
	b := g.b
	for _, e := range keys {
		v, err := g.expr(e)
		if err != nil {
			return err
		}
		et := e.Type()
		if v.Kind == ValStack && !v.Scalar {
			b.copyMem(key.Off+int16(off), asm.R10, v.Slot.Off, et.Size)
		} else if err := b.storeScalar(key, int16(off), v, asm.DWord); err != nil {
			return err
		}
		if err := b.dispose(v); err != nil {
			return err
		}
		off += et.Size
	}
	return nil
}

// keyAlloc pads a key allocation so the promoted 64-bit store of a
// trailing narrow field stays inside the reservation.
func keyAlloc(size int) int {
	if size < 8 {
		return 8
	}
	return size
}
