package asyncevent

import "github.com/tracegen/tracegen/internal/ast"

// align returns the natural alignment of one packed argument: integers
// and pointers align to their width, byte blobs to 1.
func align(t *ast.SizedType) int {
	switch t.Kind {
	case ast.KindInt, ast.KindPtr, ast.KindUserSym:
		if t.Size >= 8 {
			return 8
		}
		return t.Size
	}
	return 1
}

func alignUp(off, a int) int {
	if a <= 1 {
		return off
	}
	return (off + a - 1) / a * a
}

// LayoutFormat lays out one format-call record: a leading 64-bit action
// word followed by the arguments at naturally aligned offsets. Offsets
// are written back into the fields (that is how the runtime's decoder
// learns them) and the padded total record size is returned.
func LayoutFormat(args []ast.Field) int {
	off := 8
	maxAlign := 8
	for i := range args {
		a := align(&args[i].Type)
		if a > maxAlign {
			maxAlign = a
		}
		off = alignUp(off, a)
		args[i].Offset = off
		off += args[i].Type.Size
	}
	return alignUp(off, maxAlign)
}
