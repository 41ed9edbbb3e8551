package codegen

import (
	"encoding/binary"

	"github.com/cilium/ebpf/asm"

	"github.com/tracegen/tracegen/internal/ast"
)

// storeBytes writes literal bytes into a frame slot at the given offset,
// in word-sized store-immediate chunks.
func (b *builder) storeBytes(s Slot, off int16, data []byte) {
	i := 0
	for len(data)-i >= 4 {
		v := binary.LittleEndian.Uint32(data[i:])
		b.emit(asm.StoreImm(asm.R10, s.Off+off+int16(i), int64(int32(v)), asm.Word))
		i += 4
	}
	for len(data)-i >= 2 {
		v := binary.LittleEndian.Uint16(data[i:])
		b.emit(asm.StoreImm(asm.R10, s.Off+off+int16(i), int64(v), asm.Half))
		i += 2
	}
	for i < len(data) {
		b.emit(asm.StoreImm(asm.R10, s.Off+off+int16(i), int64(data[i]), asm.Byte))
		i++
	}
}

// storeScalar writes a scalar value into a frame slot at the given
// offset and width. Constants that fit in 32 bits are stored as
// immediates; anything else goes through scratch R0.
func (b *builder) storeScalar(s Slot, off int16, v Value, size asm.Size) error {
	if v.Kind == ValConst && v.Imm == int64(int32(v.Imm)) {
		b.emit(asm.StoreImm(asm.R10, s.Off+off, v.Imm, size))
		return nil
	}
	if err := b.loadScratch(asm.R0, v); err != nil {
		return err
	}
	b.emit(asm.StoreMem(asm.R10, s.Off+off, asm.R0, size))
	return nil
}

// storeValue places one lowered value at an offset inside a slot:
// composites copy, scalars store at the type's width.
func (b *builder) storeValue(s Slot, off int16, v Value, typ *ast.SizedType) error {
	if v.Kind == ValStack && !v.Scalar {
		b.copyMem(s.Off+off, asm.R10, v.Slot.Off, typ.Size)
		return nil
	}
	size, ok := sizeForBytes(typ.Size)
	if !ok {
		size = asm.DWord
	}
	return b.storeScalar(s, off, v, size)
}

// subSlot returns a view into a composite slot. Releasing the view
// releases the backing allocation.
func subSlot(parent Slot, off, size int) Slot {
	return Slot{Off: parent.Off + int16(off), Size: size, id: parent.id}
}
