package codegen

import (
	"strconv"

	"github.com/cilium/ebpf/asm"

	"github.com/tracegen/tracegen/internal/ast"
)

// expr lowers one expression and returns its value. The caller owns the
// result: it must dispose it, or adopt its slot to extend the lifetime
// across its own scope.
func (g *Gen) expr(e ast.Expression) (Value, error) {
	switch n := e.(type) {
	case *ast.Integer:
		return Const(n.Value), nil
	case *ast.String:
		return g.stringLiteral(n.Value, n.Typ.Size)
	case *ast.PositionalParameter:
		return g.positional(n)
	case *ast.Identifier:
		if v, ok := g.res.Enums[n.Ident]; ok {
			return Const(v), nil
		}
		return None(), compileErr(ErrUnknownIdentifier, "%q", n.Ident)
	case *ast.Builtin:
		return g.builtin(n)
	case *ast.Call:
		return g.call(n)
	case *ast.Map:
		return g.mapRead(n)
	case *ast.Variable:
		return g.variable(n)
	case *ast.Binop:
		return g.binop(n)
	case *ast.Unop:
		return g.unop(n)
	case *ast.Ternary:
		return g.ternary(n)
	case *ast.FieldAccess:
		return g.fieldAccess(n)
	case *ast.ArrayAccess:
		return g.arrayAccess(n)
	case *ast.Cast:
		return g.cast(n)
	case *ast.Tuple:
		return g.tuple(n)
	}
	return None(), bug("expression %T has no lowering", e)
}

// stringLiteral materializes a NUL-extended string on the stack.
func (g *Gen) stringLiteral(s string, size int) (Value, error) {
	if size < 1 {
		size = len(s) + 1
	}
	buf, err := g.b.Frame.Alloc(size, "str")
	if err != nil {
		return None(), err
	}
	if len(s) > size-1 {
		s = s[:size-1]
	}
	g.b.memset(buf, 0, size)
	g.b.storeBytes(buf, 0, []byte(s))
	return OnStack(buf), nil
}

func (g *Gen) positional(p *ast.PositionalParameter) (Value, error) {
	switch p.Kind {
	case ast.PositionalCount:
		return Const(int64(len(g.res.Params))), nil
	case ast.PositionalIndex:
		pstr := g.res.Param(p.N)
		if n, err := strconv.ParseInt(pstr, 0, 64); err == nil && !p.IsInStr {
			return Const(n), nil
		}
		return g.stringLiteral(pstr, len(pstr)+1)
	}
	return None(), bug("positional parameter kind %d", p.Kind)
}

// mapRead lowers a map lookup expression.
func (g *Gen) mapRead(m *ast.Map) (Value, error) {
	mi, err := g.mapInfo(m.Ident)
	if err != nil {
		return None(), err
	}
	key, err := g.mapKey(m)
	if err != nil {
		return None(), err
	}
	val, err := g.b.mapLookup(mi, key.Slot, &m.Typ)
	if err != nil {
		return None(), err
	}
	if err := g.b.dispose(key); err != nil {
		return None(), err
	}
	return val, nil
}

func (g *Gen) variable(v *ast.Variable) (Value, error) {
	vs, ok := g.vars[v.Ident]
	if !ok {
		return None(), bug("variable %s read before assignment", v.Ident)
	}
	if vs.typ.NeedsMemcpy() {
		return Borrowed(vs.slot), nil
	}
	r, err := g.b.allocReg()
	if err != nil {
		return None(), err
	}
	g.b.emit(asm.LoadMem(r, asm.R10, vs.slot.Off, asm.DWord))
	return InReg(r), nil
}

func (g *Gen) cast(c *ast.Cast) (Value, error) {
	v, err := g.expr(c.Expr)
	if err != nil {
		return None(), err
	}
	if !c.Typ.IsIntTy() {
		return v, nil
	}
	if v.Kind == ValConst {
		return Const(truncateConst(v.Imm, c.Typ.Size, c.Typ.Signed)), nil
	}
	r, err := g.b.toReg(v)
	if err != nil {
		return None(), err
	}
	if c.Typ.Signed {
		g.b.signExtend(r, c.Typ.Size)
	} else {
		g.b.zeroExtend(r, c.Typ.Size)
	}
	return InReg(r), nil
}

func truncateConst(v int64, size int, signed bool) int64 {
	if size >= 8 {
		return v
	}
	bits := uint(size) * 8
	u := uint64(v) & (1<<bits - 1)
	if signed && u&(1<<(bits-1)) != 0 {
		return int64(u | ^uint64(0)<<bits)
	}
	return int64(u)
}

// tuple lays the elements out packed on a fresh stack slot.
func (g *Gen) tuple(t *ast.Tuple) (Value, error) {
	buf, err := g.b.Frame.Alloc(t.Typ.Size, "tuple")
	if err != nil {
		return None(), err
	}
	off := 0
	for _, elem := range t.Elems {
		v, err := g.expr(elem)
		if err != nil {
			return None(), err
		}
		et := elem.Type()
		if err := g.b.storeValue(buf, int16(off), v, et); err != nil {
			return None(), err
		}
		if err := g.b.dispose(v); err != nil {
			return None(), err
		}
		off += et.Size
	}
	return OnStack(buf), nil
}

// builtin lowers one builtin value reference.
func (g *Gen) builtin(bi *ast.Builtin) (Value, error) {
	b := g.b
	switch {
	case bi.Ident == "nsecs":
		return b.getNs(g.cfg.KernelHasBootNs)

	case bi.Ident == "elapsed":
		key, err := b.Frame.Alloc(8, "elapsed_key")
		if err != nil {
			return None(), err
		}
		b.emit(asm.StoreImm(asm.R10, key.Off, 0, asm.DWord))
		elapsed := &ast.MapInfo{FD: g.res.ElapsedMapFD, ID: g.res.ElapsedMapID}
		vt := ast.UInt64()
		start, err := b.mapLookup(elapsed, key, &vt)
		if err != nil {
			return None(), err
		}
		if err := b.Frame.Release(key); err != nil {
			return None(), err
		}
		now, err := b.getNs(g.cfg.KernelHasBootNs)
		if err != nil {
			return None(), err
		}
		// now - start, in the register holding now.
		if err := b.loadScratch(asm.R1, start); err != nil {
			return None(), err
		}
		b.emit(asm.Sub.Reg(now.Reg, asm.R1))
		if err := b.dispose(start); err != nil {
			return None(), err
		}
		return now, nil

	case bi.Ident == "pid":
		v, err := b.getPidTgid()
		if err != nil {
			return None(), err
		}
		b.emit(asm.RSh.Imm(v.Reg, 32))
		return v, nil
	case bi.Ident == "tid":
		v, err := b.getPidTgid()
		if err != nil {
			return None(), err
		}
		b.zeroExtend(v.Reg, 4)
		return v, nil

	case bi.Ident == "uid" || bi.Ident == "username":
		v, err := b.getUidGid()
		if err != nil {
			return None(), err
		}
		b.zeroExtend(v.Reg, 4)
		return v, nil
	case bi.Ident == "gid":
		v, err := b.getUidGid()
		if err != nil {
			return None(), err
		}
		b.emit(asm.RSh.Imm(v.Reg, 32))
		return v, nil

	case bi.Ident == "cpu":
		return b.getCpu()
	case bi.Ident == "cgroup":
		return b.getCgroup()
	case bi.Ident == "curtask":
		return b.getCurtask()
	case bi.Ident == "rand":
		return b.getRandom()

	case bi.Ident == "comm":
		buf, err := b.Frame.Alloc(bi.Typ.Size, "comm")
		if err != nil {
			return None(), err
		}
		// Zero first; older kernels do not pad the comm helper's output.
		b.memset(buf, 0, bi.Typ.Size)
		b.getCurrentComm(buf, bi.Typ.Size)
		return OnStack(buf), nil

	case bi.Ident == "kstack" || bi.Ident == "ustack":
		return g.stackID(bi.Ident == "ustack", bi.Typ.Stack.Limit)

	case isArgBuiltin(bi.Ident) || bi.Ident == "retval" || bi.Ident == "func":
		return g.argBuiltin(bi)

	case isSargBuiltin(bi.Ident):
		return g.sargBuiltin(bi)

	case bi.Ident == "probe":
		return Const(g.probeID()), nil

	case bi.Ident == "args" || bi.Ident == "ctx":
		r, err := b.allocReg()
		if err != nil {
			return None(), err
		}
		b.emit(asm.Mov.Reg(r, ctxReg))
		return InReg(r), nil

	case bi.Ident == "cpid":
		if g.res.CPID < 1 {
			return None(), bug("invalid cpid %d", g.res.CPID)
		}
		return Const(int64(g.res.CPID)), nil
	}
	return None(), compileErr(ErrUnknownBuiltin, "%q", bi.Ident)
}

func isArgBuiltin(ident string) bool {
	return len(ident) == 4 && ident[:3] == "arg" && ident[3] >= '0' && ident[3] <= '9'
}

func isSargBuiltin(ident string) bool {
	return len(ident) == 5 && ident[:4] == "sarg" && ident[4] >= '0' && ident[4] <= '9'
}

// stackID captures a stack and, for user stacks, packs the id with the
// pid: kernel addresses are shared between processes, user mappings are
// not.
func (g *Gen) stackID(user bool, limit int) (Value, error) {
	b := g.b
	v, err := b.getStackID(user, limit)
	if err != nil {
		return None(), err
	}
	if user {
		b.emit(asm.FnGetCurrentPidTgid.Call())
		b.emit(asm.LSh.Imm(asm.R0, 32))
		b.emit(asm.Or.Reg(v.Reg, asm.R0))
	}
	return v, nil
}

// argBuiltin reads argN, retval or func from the context.
func (g *Gen) argBuiltin(bi *ast.Builtin) (Value, error) {
	b := g.b
	if bi.Typ.IsKfarg {
		// Typed kfunc context: arguments at fixed 8-byte slots.
		size, ok := sizeForBytes(bi.Typ.Size)
		if !ok {
			size = asm.DWord
		}
		return b.loadCtx(bi.ArgIndex*8, size, bi.Typ.Signed)
	}

	var off int
	switch bi.Ident {
	case "retval":
		off = g.arch.RetOffset()
	case "func":
		off = g.arch.PCOffset()
	default:
		argNum := int(bi.Ident[3] - '0')
		if g.curAP != nil && g.curAP.Provider == "usdt" {
			return g.usdtReadArg(argNum, &bi.Typ)
		}
		var err error
		off, err = g.arch.ArgOffset(argNum)
		if err != nil {
			return None(), compileErr(ErrInternalBug, "%s: %v", bi.Ident, err)
		}
	}
	v, err := b.loadCtx(off, asm.DWord, false)
	if err != nil {
		return None(), err
	}
	if bi.Typ.Kind == ast.KindUserSym {
		defer func() {
			_ = b.dispose(v)
		}()
		packed, err := g.usymPack(v)
		if err != nil {
			return None(), err
		}
		return packed, nil
	}
	return v, nil
}

// sargBuiltin reads the Nth stack-passed argument: an 8-byte probe-read
// at sp + (N + argStackOffset)*8.
func (g *Gen) sargBuiltin(bi *ast.Builtin) (Value, error) {
	b := g.b
	argNum := int(bi.Ident[4] - '0')
	sp, err := b.loadCtx(g.arch.SPOffset(), asm.DWord, false)
	if err != nil {
		return None(), err
	}
	b.emit(asm.Add.Imm(sp.Reg, int32((argNum+g.arch.ArgStackOffset())*8)))
	dst, err := b.Frame.Alloc(8, bi.Ident)
	if err != nil {
		return None(), err
	}
	if err := b.probeRead(dst, Const(8), sp, bi.Typ.AddrSpace); err != nil {
		return None(), err
	}
	b.emit(asm.LoadMem(sp.Reg, asm.R10, dst.Off, asm.DWord))
	if err := b.Frame.Release(dst); err != nil {
		return None(), err
	}
	return sp, nil
}

// usymPack wraps a user-space address with the current pid so the
// runtime can resolve it against the right mappings.
func (g *Gen) usymPack(addr Value) (Value, error) {
	b := g.b
	buf, err := b.Frame.Alloc(16, "usym")
	if err != nil {
		return None(), err
	}
	if err := b.storeScalar(buf, 0, addr, asm.DWord); err != nil {
		return None(), err
	}
	b.emit(asm.FnGetCurrentPidTgid.Call())
	b.emit(asm.RSh.Imm(asm.R0, 32))
	b.emit(asm.StoreMem(asm.R10, buf.Off+8, asm.R0, asm.DWord))
	return OnStack(buf), nil
}

// binop lowers a binary operation.
func (g *Gen) binop(n *ast.Binop) (Value, error) {
	switch n.Op {
	case ast.OpLAnd:
		return g.logical(n, true)
	case ast.OpLOr:
		return g.logical(n, false)
	}
	lt := n.Left.Type()
	if lt.IsStringTy() {
		return g.stringCompare(n)
	}
	if lt.IsBufferTy() {
		return g.bufferCompare(n)
	}
	return g.intBinop(n)
}

// logical lowers && and || with explicit short-circuit control flow: the
// right operand is never evaluated when the left decides the result.
func (g *Gen) logical(n *ast.Binop, isAnd bool) (Value, error) {
	b := g.b
	short := b.newLabel("logical.short")
	merge := b.newLabel("logical.merge")
	result, err := b.Frame.Alloc(8, "logical_result")
	if err != nil {
		return None(), err
	}

	shortVal, longVal := int64(1), int64(0)
	if isAnd {
		shortVal, longVal = 0, 1
	}

	lv, err := g.expr(n.Left)
	if err != nil {
		return None(), err
	}
	lr, err := b.toReg(lv)
	if err != nil {
		return None(), err
	}
	if isAnd {
		b.jmpImm(asm.JEq, lr, 0, short)
	} else {
		b.jmpImm(asm.JNE, lr, 0, short)
	}
	if err := b.pool.Put(lr); err != nil {
		return None(), err
	}

	rv, err := g.expr(n.Right)
	if err != nil {
		return None(), err
	}
	rr, err := b.toReg(rv)
	if err != nil {
		return None(), err
	}
	if isAnd {
		b.jmpImm(asm.JEq, rr, 0, short)
	} else {
		b.jmpImm(asm.JNE, rr, 0, short)
	}
	if err := b.pool.Put(rr); err != nil {
		return None(), err
	}

	b.emit(asm.StoreImm(asm.R10, result.Off, longVal, asm.DWord))
	b.ja(merge)
	b.label(short)
	b.emit(asm.StoreImm(asm.R10, result.Off, shortVal, asm.DWord))
	b.label(merge)

	out, err := b.allocReg()
	if err != nil {
		return None(), err
	}
	b.emit(asm.LoadMem(out, asm.R10, result.Off, asm.DWord))
	if err := b.Frame.Release(result); err != nil {
		return None(), err
	}
	return InReg(out), nil
}

// stringCompare lowers == and != over strings. A literal operand is
// compared inline without materializing it on the stack.
func (g *Gen) stringCompare(n *ast.Binop) (Value, error) {
	if n.Op != ast.OpEq && n.Op != ast.OpNe {
		return None(), compileErr(ErrUnsupportedBinop, "%q on strings", n.Op)
	}
	inverse := n.Op == ast.OpEq

	if lit, ok := n.Right.(*ast.String); ok {
		return g.strcmpAgainst(n.Left, lit.Value, len(lit.Value)+1, inverse)
	}
	if lit, ok := n.Left.(*ast.String); ok {
		return g.strcmpAgainst(n.Right, lit.Value, len(lit.Value)+1, inverse)
	}

	rv, err := g.expr(n.Right)
	if err != nil {
		return None(), err
	}
	lv, err := g.expr(n.Left)
	if err != nil {
		return None(), err
	}
	minLen := n.Left.Type().Size
	if r := n.Right.Type().Size; r < minLen {
		minLen = r
	}
	out, err := g.b.strncmp(lv.Slot, rv.Slot, minLen+1, inverse)
	if err != nil {
		return None(), err
	}
	if err := g.b.dispose(lv); err != nil {
		return None(), err
	}
	if err := g.b.dispose(rv); err != nil {
		return None(), err
	}
	return out, nil
}

func (g *Gen) strcmpAgainst(e ast.Expression, literal string, n int, inverse bool) (Value, error) {
	v, err := g.expr(e)
	if err != nil {
		return None(), err
	}
	if v.Kind != ValStack {
		return None(), bug("string operand not on stack")
	}
	out, err := g.b.strcmpLiteral(v.Slot, literal, n, inverse)
	if err != nil {
		return None(), err
	}
	if err := g.b.dispose(v); err != nil {
		return None(), err
	}
	return out, nil
}

// bufferCompare lowers == and != over fixed-length buffers.
func (g *Gen) bufferCompare(n *ast.Binop) (Value, error) {
	if n.Op != ast.OpEq && n.Op != ast.OpNe {
		return None(), compileErr(ErrUnsupportedBinop, "%q on buffers", n.Op)
	}
	inverse := n.Op == ast.OpEq
	rv, err := g.expr(n.Right)
	if err != nil {
		return None(), err
	}
	lv, err := g.expr(n.Left)
	if err != nil {
		return None(), err
	}
	minLen := n.Left.Type().Size
	if r := n.Right.Type().Size; r < minLen {
		minLen = r
	}
	out, err := g.b.strncmp(lv.Slot, rv.Slot, minLen, inverse)
	if err != nil {
		return None(), err
	}
	if err := g.b.dispose(lv); err != nil {
		return None(), err
	}
	if err := g.b.dispose(rv); err != nil {
		return None(), err
	}
	return out, nil
}

var cmpOps = map[ast.BinOp]struct{ s, u asm.JumpOp }{
	ast.OpEq: {asm.JEq, asm.JEq},
	ast.OpNe: {asm.JNE, asm.JNE},
	ast.OpLe: {asm.JSLE, asm.JLE},
	ast.OpGe: {asm.JSGE, asm.JGE},
	ast.OpLt: {asm.JSLT, asm.JLT},
	ast.OpGt: {asm.JSGT, asm.JGT},
}

var aluOps = map[ast.BinOp]asm.ALUOp{
	ast.OpLeft:  asm.LSh,
	ast.OpRight: asm.RSh,
	ast.OpPlus:  asm.Add,
	ast.OpMinus: asm.Sub,
	ast.OpMul:   asm.Mul,
	ast.OpDiv:   asm.Div,
	// The sandbox has no signed division; modulo is always unsigned and
	// the analyzer warns when that matters.
	ast.OpMod:  asm.Mod,
	ast.OpBAnd: asm.And,
	ast.OpBOr:  asm.Or,
	ast.OpBXor: asm.Xor,
}

// intBinop lowers an integer binary operation: both sides promoted to 64
// bits, comparisons picking the signed variant only when both sides are
// signed.
func (g *Gen) intBinop(n *ast.Binop) (Value, error) {
	b := g.b
	lv, err := g.expr(n.Left)
	if err != nil {
		return None(), err
	}
	// Park the left value on the stack so the right subtree gets the
	// whole register pool.
	if err := b.spill(&lv); err != nil {
		return None(), err
	}
	rv, err := g.expr(n.Right)
	if err != nil {
		return None(), err
	}
	lr, err := b.toReg(lv)
	if err != nil {
		return None(), err
	}

	if cmp, ok := cmpOps[n.Op]; ok {
		op := cmp.u
		if n.Left.Type().Signed && n.Right.Type().Signed {
			op = cmp.s
		}
		isTrue := b.newLabel("cmp.true")
		done := b.newLabel("cmp.done")
		if rv.Kind == ValConst {
			b.jmpImm64(op, lr, rv.Imm, isTrue)
		} else {
			rr, err := b.toReg(rv)
			if err != nil {
				return None(), err
			}
			b.jmpReg(op, lr, rr, isTrue)
			if err := b.pool.Put(rr); err != nil {
				return None(), err
			}
		}
		b.emit(asm.Mov.Imm(lr, 0))
		b.ja(done)
		b.label(isTrue)
		b.emit(asm.Mov.Imm(lr, 1))
		b.label(done)
		return InReg(lr), nil
	}

	alu, ok := aluOps[n.Op]
	if !ok {
		return None(), compileErr(ErrUnsupportedBinop, "%q", n.Op)
	}
	if rv.Kind == ValConst && rv.Imm == int64(int32(rv.Imm)) {
		b.emit(alu.Imm(lr, int32(rv.Imm)))
		return InReg(lr), nil
	}
	rr, err := b.toReg(rv)
	if err != nil {
		return None(), err
	}
	b.emit(alu.Reg(lr, rr))
	if err := b.pool.Put(rr); err != nil {
		return None(), err
	}
	return InReg(lr), nil
}

// unop lowers a unary operation.
func (g *Gen) unop(n *ast.Unop) (Value, error) {
	b := g.b
	switch n.Op {
	case ast.OpIncrement, ast.OpDecrement:
		return g.incDec(n)
	case ast.OpLNot:
		v, err := g.expr(n.Expr)
		if err != nil {
			return None(), err
		}
		r, err := b.toReg(v)
		if err != nil {
			return None(), err
		}
		isZero := b.newLabel("lnot.zero")
		done := b.newLabel("lnot.done")
		b.jmpImm(asm.JEq, r, 0, isZero)
		b.emit(asm.Mov.Imm(r, 0))
		b.ja(done)
		b.label(isZero)
		b.emit(asm.Mov.Imm(r, 1))
		b.label(done)
		return InReg(r), nil
	case ast.OpBNot:
		v, err := g.expr(n.Expr)
		if err != nil {
			return None(), err
		}
		if v.Kind == ValConst {
			return Const(^v.Imm), nil
		}
		r, err := b.toReg(v)
		if err != nil {
			return None(), err
		}
		b.emit(asm.Xor.Imm(r, -1))
		return InReg(r), nil
	case ast.OpNeg:
		v, err := g.expr(n.Expr)
		if err != nil {
			return None(), err
		}
		if v.Kind == ValConst {
			return Const(-v.Imm), nil
		}
		r, err := b.toReg(v)
		if err != nil {
			return None(), err
		}
		b.emit(asm.Xor.Imm(r, -1))
		b.emit(asm.Add.Imm(r, 1))
		return InReg(r), nil
	case ast.OpDeref:
		return g.deref(n)
	}
	return None(), bug("unary operator %q has no lowering", n.Op)
}

// incDec lowers ++ and -- as a read-modify-write against a map slot or a
// variable.
func (g *Gen) incDec(n *ast.Unop) (Value, error) {
	b := g.b
	delta := int32(1)
	if n.Op == ast.OpDecrement {
		delta = -1
	}

	if m, ok := n.Expr.(*ast.Map); ok {
		mi, err := g.mapInfo(m.Ident)
		if err != nil {
			return None(), err
		}
		key, err := g.mapKey(m)
		if err != nil {
			return None(), err
		}
		vt := ast.UInt64()
		old, err := b.mapLookup(mi, key.Slot, &vt)
		if err != nil {
			return None(), err
		}
		newval, err := b.Frame.Alloc(8, m.Ident+"_newval")
		if err != nil {
			return None(), err
		}
		b.emit(asm.Mov.Reg(asm.R0, old.Reg))
		b.emit(asm.Add.Imm(asm.R0, delta))
		b.emit(asm.StoreMem(asm.R10, newval.Off, asm.R0, asm.DWord))
		b.mapUpdate(mi, key.Slot, newval)
		if err := b.dispose(key); err != nil {
			return None(), err
		}
		if !n.IsPostOp {
			b.emit(asm.LoadMem(old.Reg, asm.R10, newval.Off, asm.DWord))
		}
		if err := b.Frame.Release(newval); err != nil {
			return None(), err
		}
		return old, nil
	}

	if vr, ok := n.Expr.(*ast.Variable); ok {
		vs, exists := g.vars[vr.Ident]
		if !exists {
			return None(), bug("variable %s modified before assignment", vr.Ident)
		}
		r, err := b.allocReg()
		if err != nil {
			return None(), err
		}
		b.emit(asm.LoadMem(r, asm.R10, vs.slot.Off, asm.DWord))
		if n.IsPostOp {
			b.emit(asm.Mov.Reg(asm.R0, r))
			b.emit(asm.Add.Imm(asm.R0, delta))
			b.emit(asm.StoreMem(asm.R10, vs.slot.Off, asm.R0, asm.DWord))
		} else {
			b.emit(asm.Add.Imm(r, delta))
			b.emit(asm.StoreMem(asm.R10, vs.slot.Off, r, asm.DWord))
		}
		return InReg(r), nil
	}
	return None(), bug("%q applied to a non-lvalue", n.Op)
}

// deref issues a probe-read of the pointee's width and produces the
// loaded integer.
func (g *Gen) deref(n *ast.Unop) (Value, error) {
	b := g.b
	t := n.Expr.Type()
	size := t.Size
	if t.IsPtrTy() && t.Elem != nil {
		size = t.Elem.Size
	}
	v, err := g.expr(n.Expr)
	if err != nil {
		return None(), err
	}
	dst, err := b.Frame.Alloc(8, "deref")
	if err != nil {
		return None(), err
	}
	b.memset(dst, 0, 8)
	if err := b.probeRead(dst, Const(int64(size)), v, t.AddrSpace); err != nil {
		return None(), err
	}
	if err := b.dispose(v); err != nil {
		return None(), err
	}
	r, err := b.allocReg()
	if err != nil {
		return None(), err
	}
	b.emit(asm.LoadMem(r, asm.R10, dst.Off, asm.DWord))
	if n.Typ.Signed {
		b.signExtend(r, size)
	}
	if err := b.Frame.Release(dst); err != nil {
		return None(), err
	}
	return InReg(r), nil
}

// ternary lowers cond ? left : right with a stack-carried result.
func (g *Gen) ternary(n *ast.Ternary) (Value, error) {
	b := g.b
	rightL := b.newLabel("ternary.right")
	done := b.newLabel("ternary.done")

	cv, err := g.expr(n.Cond)
	if err != nil {
		return None(), err
	}
	cr, err := b.toReg(cv)
	if err != nil {
		return None(), err
	}
	b.jmpImm(asm.JEq, cr, 0, rightL)
	if err := b.pool.Put(cr); err != nil {
		return None(), err
	}

	switch {
	case n.Typ.IsIntTy():
		result, err := b.Frame.Alloc(8, "ternary_result")
		if err != nil {
			return None(), err
		}
		for i, branch := range []ast.Expression{n.Left, n.Right} {
			v, err := g.expr(branch)
			if err != nil {
				return None(), err
			}
			if err := b.storeScalar(result, 0, v, asm.DWord); err != nil {
				return None(), err
			}
			if err := b.dispose(v); err != nil {
				return None(), err
			}
			if i == 0 {
				b.ja(done)
				b.label(rightL)
			}
		}
		b.label(done)
		r, err := b.allocReg()
		if err != nil {
			return None(), err
		}
		b.emit(asm.LoadMem(r, asm.R10, result.Off, asm.DWord))
		if err := b.Frame.Release(result); err != nil {
			return None(), err
		}
		return InReg(r), nil

	case n.Typ.IsStringTy():
		buf, err := b.Frame.Alloc(n.Typ.Size, "ternary_buf")
		if err != nil {
			return None(), err
		}
		for i, branch := range []ast.Expression{n.Left, n.Right} {
			v, err := g.expr(branch)
			if err != nil {
				return None(), err
			}
			if v.Kind != ValStack {
				return None(), bug("string ternary branch not on stack")
			}
			size := n.Typ.Size
			if v.Slot.Size < size {
				size = v.Slot.Size
			}
			b.memcpy(buf, v.Slot, size)
			if err := b.dispose(v); err != nil {
				return None(), err
			}
			if i == 0 {
				b.ja(done)
				b.label(rightL)
			}
		}
		b.label(done)
		return OnStack(buf), nil

	default:
		// Side effects only.
		for i, branch := range []ast.Expression{n.Left, n.Right} {
			v, err := g.expr(branch)
			if err != nil {
				return None(), err
			}
			if err := b.dispose(v); err != nil {
				return None(), err
			}
			if i == 0 {
				b.ja(done)
				b.label(rightL)
			}
		}
		b.label(done)
		return None(), nil
	}
}
