package ast

import "fmt"

// Kind enumerates the value categories a SizedType can describe.
type Kind int

const (
	KindNone Kind = iota
	KindInt
	KindPtr
	KindString
	KindBuffer
	KindRecord
	KindTuple
	KindArray
	KindUserSym
)

// String returns the lower-case kind name.
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindInt:
		return "int"
	case KindPtr:
		return "ptr"
	case KindString:
		return "string"
	case KindBuffer:
		return "buffer"
	case KindRecord:
		return "record"
	case KindTuple:
		return "tuple"
	case KindArray:
		return "array"
	case KindUserSym:
		return "usym"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// AddrSpace tags which address space a pointer-shaped value refers to.
type AddrSpace int

const (
	AddrSpaceNone AddrSpace = iota
	AddrSpaceKernel
	AddrSpaceUser
)

// StackType carries the parameters of a kstack/ustack request.
type StackType struct {
	Limit int
}

// SizedType describes the type of an expression: its kind, byte size,
// signedness, address space and the analyzer-assigned flags that steer
// lowering.
type SizedType struct {
	Kind   Kind
	Size   int
	Signed bool

	// Elem is the pointee for KindPtr and the element type for KindArray.
	Elem *SizedType
	// Count is the element count for KindArray.
	Count int
	// Name is the record name for KindRecord.
	Name string
	// Elems are the element types for KindTuple.
	Elems []SizedType

	AddrSpace AddrSpace
	Stack     StackType

	IsCtx      bool
	IsTparg    bool
	IsInternal bool
	IsKfarg    bool
	IsBitfield bool
	IsLiteral  bool
	IsMap      bool
	IsVariable bool
}

// Constructors for the common shapes.

// UInt64 returns an unsigned 64-bit integer type.
func UInt64() SizedType { return SizedType{Kind: KindInt, Size: 8} }

// Int64 returns a signed 64-bit integer type.
func Int64() SizedType { return SizedType{Kind: KindInt, Size: 8, Signed: true} }

// IntN returns an integer type of the given byte size and signedness.
func IntN(size int, signed bool) SizedType {
	return SizedType{Kind: KindInt, Size: size, Signed: signed}
}

// StringOf returns a string type of n bytes including the trailing NUL.
func StringOf(n int) SizedType { return SizedType{Kind: KindString, Size: n} }

// BufferOf returns a buffer type of n bytes.
func BufferOf(n int) SizedType { return SizedType{Kind: KindBuffer, Size: n} }

// RecordOf returns a record type for the named struct.
func RecordOf(name string, size int) SizedType {
	return SizedType{Kind: KindRecord, Size: size, Name: name}
}

// PointerTo returns a pointer type with the given pointee.
func PointerTo(elem SizedType, as AddrSpace) SizedType {
	return SizedType{Kind: KindPtr, Size: 8, Elem: &elem, AddrSpace: as}
}

// ArrayOf returns an array type of count elements.
func ArrayOf(elem SizedType, count int) SizedType {
	return SizedType{Kind: KindArray, Size: elem.Size * count, Elem: &elem, Count: count}
}

// TupleOf returns a tuple type; the size is the sum of element sizes.
func TupleOf(elems ...SizedType) SizedType {
	size := 0
	for _, e := range elems {
		size += e.Size
	}
	return SizedType{Kind: KindTuple, Size: size, Elems: elems}
}

// Predicates.

func (t *SizedType) IsIntTy() bool    { return t.Kind == KindInt }
func (t *SizedType) IsPtrTy() bool    { return t.Kind == KindPtr }
func (t *SizedType) IsStringTy() bool { return t.Kind == KindString }
func (t *SizedType) IsBufferTy() bool { return t.Kind == KindBuffer }
func (t *SizedType) IsRecordTy() bool { return t.Kind == KindRecord }
func (t *SizedType) IsTupleTy() bool  { return t.Kind == KindTuple }
func (t *SizedType) IsArrayTy() bool  { return t.Kind == KindArray }
func (t *SizedType) IsNoneTy() bool   { return t.Kind == KindNone }

// OnStack reports whether a value of this type is always materialized in
// stack memory rather than held in a register.
func (t *SizedType) OnStack() bool {
	switch t.Kind {
	case KindString, KindBuffer, KindTuple, KindUserSym:
		return true
	case KindRecord, KindArray:
		return t.IsInternal
	}
	return false
}

// NeedsMemcpy reports whether assignment of this type copies memory.
func (t *SizedType) NeedsMemcpy() bool {
	switch t.Kind {
	case KindString, KindBuffer, KindRecord, KindTuple, KindArray, KindUserSym:
		return true
	}
	return false
}

func (t SizedType) String() string {
	switch t.Kind {
	case KindInt:
		sign := "u"
		if t.Signed {
			sign = ""
		}
		return fmt.Sprintf("%sint%d", sign, t.Size*8)
	case KindPtr:
		return fmt.Sprintf("*%s", t.Elem)
	case KindString:
		return fmt.Sprintf("string[%d]", t.Size)
	case KindBuffer:
		return fmt.Sprintf("buffer[%d]", t.Size)
	case KindRecord:
		return t.Name
	case KindArray:
		return fmt.Sprintf("%s[%d]", t.Elem, t.Count)
	case KindTuple:
		return fmt.Sprintf("tuple[%d]", len(t.Elems))
	}
	return t.Kind.String()
}
