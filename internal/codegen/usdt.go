package codegen

import (
	"github.com/cilium/ebpf/asm"

	"github.com/tracegen/tracegen/internal/ast"
	"github.com/tracegen/tracegen/internal/resolver"
)

// usdtReadArg reads argN of a USDT probe using the note metadata of the
// current location. Argument encodings differ per location, which is why
// the driver fans out one program per location.
func (g *Gen) usdtReadArg(n int, typ *ast.SizedType) (Value, error) {
	b := g.b
	if g.curUSDT == nil {
		return None(), bug("usdt argument read outside a usdt probe")
	}
	if g.usdtLocIdx >= len(g.curUSDT.Locations) {
		return None(), bug("usdt location %d out of range", g.usdtLocIdx)
	}
	loc := g.curUSDT.Locations[g.usdtLocIdx]
	if n >= len(loc.Args) {
		return None(), bug("usdt probe has no argument %d", n)
	}
	arg := loc.Args[n]

	switch arg.Kind {
	case resolver.USDTArgConstant:
		return Const(arg.Constant), nil

	case resolver.USDTArgRegister:
		off, err := g.arch.RegisterOffset(arg.Register)
		if err != nil {
			return None(), &CompileError{Kind: ErrInternalBug, Construct: "usdt arg register", Err: err}
		}
		v, err := b.loadCtx(off, asm.DWord, false)
		if err != nil {
			return None(), err
		}
		if arg.Signed {
			b.signExtend(v.Reg, arg.Size)
		} else {
			b.zeroExtend(v.Reg, arg.Size)
		}
		return v, nil

	default: // memory: *(reg + offset)
		off, err := g.arch.RegisterOffset(arg.Register)
		if err != nil {
			return None(), &CompileError{Kind: ErrInternalBug, Construct: "usdt arg register", Err: err}
		}
		base, err := b.loadCtx(off, asm.DWord, false)
		if err != nil {
			return None(), err
		}
		if arg.Offset != 0 {
			b.emit(asm.Add.Imm(base.Reg, int32(arg.Offset)))
		}
		dst, err := b.Frame.Alloc(8, "usdt_arg")
		if err != nil {
			return None(), err
		}
		b.memset(dst, 0, 8)
		if err := b.probeRead(dst, Const(int64(arg.Size)), base, ast.AddrSpaceUser); err != nil {
			return None(), err
		}
		b.emit(asm.LoadMem(base.Reg, asm.R10, dst.Off, asm.DWord))
		if arg.Signed {
			b.signExtend(base.Reg, arg.Size)
		}
		if err := b.Frame.Release(dst); err != nil {
			return None(), err
		}
		return base, nil
	}
}
