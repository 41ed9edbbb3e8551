package ast

import (
	"fmt"

	"github.com/cilium/ebpf/btf"
)

// StructFromBTF resolves a kernel struct definition into the analyzer's
// record shape. The runtime uses this to populate Resources.Structs for
// records the script casts to, without shipping kernel headers.
func StructFromBTF(spec *btf.Spec, name string) (*Struct, error) {
	var st *btf.Struct
	if err := spec.TypeByName(name, &st); err != nil {
		return nil, fmt.Errorf("resolve struct %q: %w", name, err)
	}
	out := &Struct{
		Size:   int(st.Size),
		Fields: make(map[string]Field, len(st.Members)),
	}
	for _, m := range st.Members {
		ft, err := typeFromBTF(m.Type)
		if err != nil {
			return nil, fmt.Errorf("struct %q member %q: %w", name, m.Name, err)
		}
		f := Field{
			Name:   m.Name,
			Offset: int(m.Offset.Bytes()),
			Type:   ft,
		}
		if m.BitfieldSize > 0 {
			ft.IsBitfield = true
			f.Type = ft
			f.Bitfield = &Bitfield{
				ReadBytes:    ft.Size,
				AccessRShift: int(m.Offset % 8),
				Mask:         (uint64(1) << uint(m.BitfieldSize)) - 1,
			}
			f.Offset = int(m.Offset / 8)
		}
		out.Fields[m.Name] = f
	}
	return out, nil
}

func typeFromBTF(t btf.Type) (SizedType, error) {
	t = btf.UnderlyingType(t)
	switch v := t.(type) {
	case *btf.Int:
		return IntN(int(v.Size), v.Encoding&btf.Signed != 0), nil
	case *btf.Pointer:
		inner, err := typeFromBTF(v.Target)
		if err != nil {
			// Opaque pointee; an 8-byte kernel pointer is still usable.
			inner = UInt64()
		}
		return PointerTo(inner, AddrSpaceKernel), nil
	case *btf.Array:
		elem, err := typeFromBTF(v.Type)
		if err != nil {
			return SizedType{}, err
		}
		if elem.Kind == KindInt && elem.Size == 1 {
			return StringOf(int(v.Nelems)), nil
		}
		return ArrayOf(elem, int(v.Nelems)), nil
	case *btf.Struct:
		return RecordOf(v.Name, int(v.Size)), nil
	case *btf.Union:
		return RecordOf(v.Name, int(v.Size)), nil
	case *btf.Enum:
		return IntN(int(v.Size), v.Signed), nil
	default:
		return SizedType{}, fmt.Errorf("unsupported btf type %s", t)
	}
}
