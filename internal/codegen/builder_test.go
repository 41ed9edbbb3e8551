package codegen

import (
	"testing"

	"github.com/cilium/ebpf/asm"
	"github.com/stretchr/testify/require"

	"github.com/tracegen/tracegen/internal/ast"
)

func TestFinalizeResolvesForwardAndBackwardJumps(t *testing.T) {
	b := newBuilder(&counters{}, nil)
	b.label("top")
	b.emit(asm.Mov.Imm(asm.R0, 1))
	b.jmpImm(asm.JEq, asm.R0, 0, "out")
	b.ja("top")
	b.label("out")
	b.emit(asm.Return())
	insns, err := b.finalize()
	require.NoError(t, err)

	require.Len(t, insns, 4)
	require.Equal(t, int16(1), insns[1].Offset, "forward jump skips the back-edge")
	require.Equal(t, int16(-3), insns[2].Offset, "back edge returns to the top")
	for _, ins := range insns {
		require.Empty(t, ins.Reference(), "references must be resolved away")
	}
}

func TestFinalizeRejectsUnboundLabel(t *testing.T) {
	b := newBuilder(&counters{}, nil)
	b.jmpImm(asm.JEq, asm.R0, 0, "nowhere")
	b.emit(asm.Return())
	_, err := b.finalize()
	require.Error(t, err)
}

func TestFinalizeAccountsForDWordLoads(t *testing.T) {
	b := newBuilder(&counters{}, nil)
	b.jmpImm(asm.JEq, asm.R0, 0, "out")
	b.emit(asm.LoadImm(asm.R1, 1<<40, asm.DWord)) // two words
	b.label("out")
	b.emit(asm.Return())
	insns, err := b.finalize()
	require.NoError(t, err)
	require.Equal(t, int16(2), insns[0].Offset, "a dword load occupies two instruction words")
}

func TestDeadZoneDropsInstructions(t *testing.T) {
	b := newBuilder(&counters{}, nil)
	b.retZero()
	b.emit(asm.Mov.Imm(asm.R3, 7)) // unreachable
	b.label("alive")
	b.emit(asm.Return())
	insns, err := b.finalize()
	require.NoError(t, err)
	require.Len(t, insns, 3, "unreachable instruction must be dropped")
}

func TestMemsetCoversOddSizes(t *testing.T) {
	b := newBuilder(&counters{}, nil)
	s, err := b.Frame.Alloc(13, "buf")
	require.NoError(t, err)
	b.memset(s, 0, 13)
	require.NoError(t, b.Frame.Release(s))

	var covered int64
	stores := map[asm.OpCode]int64{
		asm.StoreImm(asm.R10, 0, 0, asm.Word).OpCode: 4,
		asm.StoreImm(asm.R10, 0, 0, asm.Half).OpCode: 2,
		asm.StoreImm(asm.R10, 0, 0, asm.Byte).OpCode: 1,
	}
	for _, ins := range b.insns {
		n, ok := stores[ins.OpCode]
		require.True(t, ok, "memset may only emit store-immediates, got %v", ins.OpCode)
		require.Zero(t, ins.Constant)
		covered += n
	}
	require.Equal(t, int64(13), covered)
}

func TestStrcmpLiteralComparesInline(t *testing.T) {
	b := newBuilder(&counters{}, nil)
	s, err := b.Frame.Alloc(16, "str")
	require.NoError(t, err)
	v, err := b.strcmpLiteral(s, "hi", 3, true)
	require.NoError(t, err)
	require.Equal(t, ValReg, v.Kind)
	require.NoError(t, b.dispose(v))
	require.NoError(t, b.Frame.Release(s))
	b.emit(asm.Return())

	insns, err := b.finalize()
	require.NoError(t, err)

	jne := asm.JNE.Imm(asm.R0, 0, "x").OpCode
	var wants []int64
	for _, ins := range insns {
		if ins.OpCode == jne {
			wants = append(wants, ins.Constant)
		}
	}
	require.Equal(t, []int64{'h', 'i', 0}, wants)
}

func TestMapLookupMissYieldsZero(t *testing.T) {
	b := newBuilder(&counters{}, nil)
	key, err := b.Frame.Alloc(8, "key")
	require.NoError(t, err)
	vt := ast.UInt64()
	v, err := b.mapLookup(&ast.MapInfo{FD: 3}, key, &vt)
	require.NoError(t, err)
	require.Equal(t, ValReg, v.Kind)
	require.NoError(t, b.dispose(v))
	require.NoError(t, b.Frame.Release(key))
	b.emit(asm.Return())
	insns, err := b.finalize()
	require.NoError(t, err)

	require.NotEmpty(t, callsOf(insns, asm.FnMapLookupElem))
	// The miss arm moves zero into the result register.
	jne := asm.JNE.Imm(asm.R0, 0, "x").OpCode
	movImm := asm.Mov.Imm(asm.R0, 0).OpCode
	found := false
	for i, ins := range insns {
		if ins.OpCode == jne && i+1 < len(insns) &&
			insns[i+1].OpCode == movImm && insns[i+1].Dst == v.Reg && insns[i+1].Constant == 0 {
			found = true
		}
	}
	require.True(t, found, "lookup must branch on the null result into a zero move")
}
