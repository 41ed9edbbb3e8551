package codegen

import (
	"strings"

	"github.com/cilium/ebpf/asm"
	"golang.org/x/sys/unix"

	"github.com/tracegen/tracegen/internal/ast"
	"github.com/tracegen/tracegen/internal/asyncevent"
)

// call dispatches one builtin function call.
func (g *Gen) call(c *ast.Call) (Value, error) {
	switch c.Func {
	case "count":
		return g.aggCount(c)
	case "sum":
		return g.aggSum(c)
	case "min":
		return g.aggMinMax(c, true)
	case "max":
		return g.aggMinMax(c, false)
	case "avg", "stats":
		return g.aggAvgStats(c)
	case "hist":
		return g.aggHist(c)
	case "lhist":
		return g.aggLhist(c)
	case "delete":
		return g.callDelete(c)
	case "str":
		return g.callStr(c)
	case "buf":
		return g.callBuf(c)
	case "kaddr":
		name, err := literalString(c, 0)
		if err != nil {
			return None(), err
		}
		return Const(int64(g.cfg.Resolver.ResolveKname(name))), nil
	case "uaddr":
		return g.callUaddr(c)
	case "cgroupid":
		path, err := literalString(c, 0)
		if err != nil {
			return None(), err
		}
		id, err := g.cfg.Resolver.ResolveCgroupid(path)
		if err != nil {
			return None(), &CompileError{Kind: ErrSymbolResolution, Construct: "cgroupid(" + path + ")", Err: err}
		}
		return Const(int64(id)), nil
	case "join":
		return g.callJoin(c)
	case "ksym":
		// Pass through: the runtime resolves and formats the address.
		return g.expr(c.Args[0])
	case "usym":
		v, err := g.expr(c.Args[0])
		if err != nil {
			return None(), err
		}
		packed, err := g.usymPack(v)
		if err != nil {
			return None(), err
		}
		if err := g.b.dispose(v); err != nil {
			return None(), err
		}
		return packed, nil
	case "ntop":
		return g.callNtop(c)
	case "reg":
		name, err := literalString(c, 0)
		if err != nil {
			return None(), err
		}
		off, err := g.arch.RegisterOffset(name)
		if err != nil {
			return None(), &CompileError{Kind: ErrInternalBug, Construct: "reg(" + name + ")", Err: err}
		}
		return g.b.loadCtx(off, asm.DWord, false)
	case "printf":
		return g.formatCall(c, &g.counters.printfID, g.res.PrintfArgs, asyncevent.Printf)
	case "system":
		return g.formatCall(c, &g.counters.systemID, g.res.SystemArgs, asyncevent.Syscall)
	case "cat":
		return g.formatCall(c, &g.counters.catID, g.res.CatArgs, asyncevent.Cat)
	case "exit":
		return g.callExit()
	case "print":
		if m, ok := c.Args[0].(*ast.Map); ok {
			return g.printMap(c, m)
		}
		return g.printNonMap(c)
	case "clear":
		return g.mapEvent(c, asyncevent.Clear)
	case "zero":
		return g.mapEvent(c, asyncevent.Zero)
	case "time":
		return g.callTime()
	case "strftime":
		return g.callStrftime(c)
	case "kstack", "ustack":
		return g.stackID(c.Func == "ustack", c.Typ.Stack.Limit)
	case "signal":
		return g.callSignal(c)
	case "sizeof":
		return Const(int64(c.Args[0].Type().Size)), nil
	case "strncmp":
		return g.callStrncmp(c)
	case "override":
		v, err := g.expr(c.Args[0])
		if err != nil {
			return None(), err
		}
		if err := g.b.overrideReturn(v); err != nil {
			return None(), err
		}
		if err := g.b.dispose(v); err != nil {
			return None(), err
		}
		return None(), nil
	case "kptr", "uptr":
		// Address-space tagging only; the value passes through.
		return g.expr(c.Args[0])
	}
	return None(), compileErr(ErrUnknownCall, "%q", c.Func)
}

func literalString(c *ast.Call, i int) (string, error) {
	if i >= len(c.Args) {
		return "", bug("%s: missing argument %d", c.Func, i)
	}
	s, ok := c.Args[i].(*ast.String)
	if !ok {
		return "", bug("%s: argument %d is not a string literal", c.Func, i)
	}
	return s.Value, nil
}

func literalInt(c *ast.Call, i int) (int64, error) {
	if i >= len(c.Args) {
		return 0, bug("%s: missing argument %d", c.Func, i)
	}
	n, ok := c.Args[i].(*ast.Integer)
	if !ok {
		return 0, bug("%s: argument %d is not an integer literal", c.Func, i)
	}
	return n.Value, nil
}

func (g *Gen) aggMap(c *ast.Call) (*ast.Map, *ast.MapInfo, error) {
	if c.Map == nil {
		return nil, nil, bug("%s: aggregation without a map", c.Func)
	}
	mi, err := g.mapInfo(c.Map.Ident)
	if err != nil {
		return nil, nil, err
	}
	return c.Map, mi, nil
}

// aggCount lowers count(): map[key] = (map[key] or 0) + 1.
func (g *Gen) aggCount(c *ast.Call) (Value, error) {
	b := g.b
	m, mi, err := g.aggMap(c)
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
	newval, err := b.Frame.Alloc(8, m.Ident+"_val")
	if err != nil {
		return None(), err
	}
	b.emit(asm.Add.Imm(old.Reg, 1))
	b.emit(asm.StoreMem(asm.R10, newval.Off, old.Reg, asm.DWord))
	b.mapUpdate(mi, key.Slot, newval)
	if err := b.dispose(old); err != nil {
		return None(), err
	}
	if err := b.dispose(key); err != nil {
		return None(), err
	}
	if err := b.Frame.Release(newval); err != nil {
		return None(), err
	}
	return None(), nil
}

// aggSum lowers sum(v): map[key] += v, the value integer-cast to 64 bits
// with the source operand's signedness.
func (g *Gen) aggSum(c *ast.Call) (Value, error) {
	b := g.b
	m, mi, err := g.aggMap(c)
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
	newval, err := b.Frame.Alloc(8, m.Ident+"_val")
	if err != nil {
		return None(), err
	}
	v, err := g.expr(c.Args[0])
	if err != nil {
		return None(), err
	}
	if err := b.loadScratch(asm.R0, v); err != nil {
		return None(), err
	}
	b.emit(asm.Add.Reg(old.Reg, asm.R0))
	b.emit(asm.StoreMem(asm.R10, newval.Off, old.Reg, asm.DWord))
	b.mapUpdate(mi, key.Slot, newval)
	for _, val := range []Value{v, old, key} {
		if err := b.dispose(val); err != nil {
			return None(), err
		}
	}
	if err := b.Frame.Release(newval); err != nil {
		return None(), err
	}
	return None(), nil
}

// aggMinMax lowers min() and max(). min stores 0xffffffff-v so that a
// signed-ge compare against an uninitialized zero slot always writes on
// first occurrence; the runtime undoes the inversion when printing.
func (g *Gen) aggMinMax(c *ast.Call, isMin bool) (Value, error) {
	b := g.b
	m, mi, err := g.aggMap(c)
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
	newval, err := b.Frame.Alloc(8, m.Ident+"_val")
	if err != nil {
		return None(), err
	}
	v, err := g.expr(c.Args[0])
	if err != nil {
		return None(), err
	}
	vr, err := b.toReg(v)
	if err != nil {
		return None(), err
	}
	if isMin {
		b.emit(asm.LoadImm(asm.R0, 0xffffffff, asm.DWord))
		b.emit(asm.Sub.Reg(asm.R0, vr))
		b.emit(asm.Mov.Reg(vr, asm.R0))
	}
	skip := b.newLabel(c.Func + ".lt")
	b.jmpReg(asm.JSLT, vr, old.Reg, skip)
	b.emit(asm.StoreMem(asm.R10, newval.Off, vr, asm.DWord))
	b.mapUpdate(mi, key.Slot, newval)
	b.label(skip)
	// Releases sit on the joined path so both exits balance.
	if err := b.pool.Put(vr); err != nil {
		return None(), err
	}
	for _, val := range []Value{old, key} {
		if err := b.dispose(val); err != nil {
			return None(), err
		}
	}
	if err := b.Frame.Release(newval); err != nil {
		return None(), err
	}
	return None(), nil
}

// aggAvgStats lowers avg() and stats(): two slots keyed (key,0) for the
// count and (key,1) for the running total; the division happens at print
// time.
func (g *Gen) aggAvgStats(c *ast.Call) (Value, error) {
	b := g.b
	m, mi, err := g.aggMap(c)
	if err != nil {
		return None(), err
	}
	vt := ast.UInt64()

	countKey, err := g.mapKeyWithBucket(m, Const(0))
	if err != nil {
		return None(), err
	}
	countOld, err := b.mapLookup(mi, countKey.Slot, &vt)
	if err != nil {
		return None(), err
	}
	countNew, err := b.Frame.Alloc(8, m.Ident+"_num")
	if err != nil {
		return None(), err
	}
	b.emit(asm.Add.Imm(countOld.Reg, 1))
	b.emit(asm.StoreMem(asm.R10, countNew.Off, countOld.Reg, asm.DWord))
	b.mapUpdate(mi, countKey.Slot, countNew)
	for _, val := range []Value{countOld, countKey} {
		if err := b.dispose(val); err != nil {
			return None(), err
		}
	}
	if err := b.Frame.Release(countNew); err != nil {
		return None(), err
	}

	totalKey, err := g.mapKeyWithBucket(m, Const(1))
	if err != nil {
		return None(), err
	}
	totalOld, err := b.mapLookup(mi, totalKey.Slot, &vt)
	if err != nil {
		return None(), err
	}
	totalNew, err := b.Frame.Alloc(8, m.Ident+"_val")
	if err != nil {
		return None(), err
	}
	v, err := g.expr(c.Args[0])
	if err != nil {
		return None(), err
	}
	if err := b.loadScratch(asm.R0, v); err != nil {
		return None(), err
	}
	b.emit(asm.Add.Reg(totalOld.Reg, asm.R0))
	b.emit(asm.StoreMem(asm.R10, totalNew.Off, totalOld.Reg, asm.DWord))
	b.mapUpdate(mi, totalKey.Slot, totalNew)
	for _, val := range []Value{v, totalOld, totalKey} {
		if err := b.dispose(val); err != nil {
			return None(), err
		}
	}
	if err := b.Frame.Release(totalNew); err != nil {
		return None(), err
	}
	return None(), nil
}

// bumpBucket increments map[(key, bucket)] by one.
func (g *Gen) bumpBucket(m *ast.Map, mi *ast.MapInfo, bucket Value) error {
	b := g.b
	key, err := g.mapKeyWithBucket(m, bucket)
	if err != nil {
		return err
	}
	vt := ast.UInt64()
	old, err := b.mapLookup(mi, key.Slot, &vt)
	if err != nil {
		return err
	}
	newval, err := b.Frame.Alloc(8, m.Ident+"_val")
	if err != nil {
		return err
	}
	b.emit(asm.Add.Imm(old.Reg, 1))
	b.emit(asm.StoreMem(asm.R10, newval.Off, old.Reg, asm.DWord))
	b.mapUpdate(mi, key.Slot, newval)
	for _, val := range []Value{old, key} {
		if err := b.dispose(val); err != nil {
			return err
		}
	}
	return b.Frame.Release(newval)
}

// aggHist lowers hist(v): bucket by log2 and bump.
func (g *Gen) aggHist(c *ast.Call) (Value, error) {
	if err := g.ensureLog2(); err != nil {
		return None(), err
	}
	m, mi, err := g.aggMap(c)
	if err != nil {
		return None(), err
	}
	v, err := g.expr(c.Args[0])
	if err != nil {
		return None(), err
	}
	bucket, err := g.b.emitLog2(v)
	if err != nil {
		return None(), err
	}
	if err := g.bumpBucket(m, mi, bucket); err != nil {
		return None(), err
	}
	return None(), nil
}

// aggLhist lowers lhist(v, min, max, step); the bounds are integer
// literals, enforced upstream.
func (g *Gen) aggLhist(c *ast.Call) (Value, error) {
	if err := g.ensureLinear(); err != nil {
		return None(), err
	}
	m, mi, err := g.aggMap(c)
	if err != nil {
		return None(), err
	}
	min, err := literalInt(c, 1)
	if err != nil {
		return None(), err
	}
	max, err := literalInt(c, 2)
	if err != nil {
		return None(), err
	}
	step, err := literalInt(c, 3)
	if err != nil {
		return None(), err
	}
	v, err := g.expr(c.Args[0])
	if err != nil {
		return None(), err
	}
	bucket, err := g.b.emitLinear(v, min, max, step)
	if err != nil {
		return None(), err
	}
	if err := g.bumpBucket(m, mi, bucket); err != nil {
		return None(), err
	}
	return None(), nil
}

func (g *Gen) callDelete(c *ast.Call) (Value, error) {
	m, ok := c.Args[0].(*ast.Map)
	if !ok {
		return None(), bug("delete: argument is not a map")
	}
	mi, err := g.mapInfo(m.Ident)
	if err != nil {
		return None(), err
	}
	key, err := g.mapKey(m)
	if err != nil {
		return None(), err
	}
	g.b.mapDelete(mi, key.Slot)
	if err := g.b.dispose(key); err != nil {
		return None(), err
	}
	return None(), nil
}

// callStr lowers str(ptr [, len]): a probe-read string clamped to the
// configured string length.
func (g *Gen) callStr(c *ast.Call) (Value, error) {
	b := g.b
	strLen := g.res.StrLen

	var length Value
	if len(c.Args) > 1 {
		lv, err := g.expr(c.Args[1])
		if err != nil {
			return None(), err
		}
		r, err := b.toReg(lv)
		if err != nil {
			return None(), err
		}
		// One extra byte accommodates the read's terminating NUL, then
		// clamp (unsigned) to the configured cap.
		b.emit(asm.Add.Imm(r, 1))
		ok := b.newLabel("str.len_ok")
		b.jmpImm(asm.JLE, r, int32(strLen), ok)
		b.emit(asm.Mov.Imm(r, int32(strLen)))
		b.label(ok)
		length = InReg(r)
	} else {
		length = Const(int64(strLen))
	}

	buf, err := b.Frame.Alloc(strLen, "str")
	if err != nil {
		return None(), err
	}
	b.memset(buf, 0, strLen)
	src, err := g.expr(c.Args[0])
	if err != nil {
		return None(), err
	}
	if err := b.probeReadStr(buf, length, src, c.Args[0].Type().AddrSpace); err != nil {
		return None(), err
	}
	for _, val := range []Value{src, length} {
		if err := b.dispose(val); err != nil {
			return None(), err
		}
	}
	return OnStack(buf), nil
}

// callBuf lowers buf(ptr [, len]): a length-prefixed byte capture.
func (g *Gen) callBuf(c *ast.Call) (Value, error) {
	b := g.b
	fixed := g.res.StrLen
	argT := c.Args[0].Type()
	if len(c.Args) > 1 {
		if lit, ok := c.Args[1].(*ast.Integer); ok {
			fixed = int(lit.Value)
		}
	} else if argT.IsArrayTy() {
		fixed = argT.Size
	}

	var length Value
	if len(c.Args) > 1 {
		lv, err := g.expr(c.Args[1])
		if err != nil {
			return None(), err
		}
		if lv.Kind == ValConst {
			n := lv.Imm
			if n > int64(fixed) {
				n = int64(fixed)
			}
			length = Const(n)
		} else {
			r, err := b.toReg(lv)
			if err != nil {
				return None(), err
			}
			ok := b.newLabel("buf.len_ok")
			b.jmpImm(asm.JLE, r, int32(fixed), ok)
			b.emit(asm.Mov.Imm(r, int32(fixed)))
			b.label(ok)
			length = InReg(r)
		}
	} else {
		length = Const(int64(fixed))
	}

	buf, err := b.Frame.Alloc(1+fixed, "buffer")
	if err != nil {
		return None(), err
	}
	if err := b.storeScalar(buf, 0, length, asm.Byte); err != nil {
		return None(), err
	}
	data := subSlot(buf, 1, fixed)
	b.memset(data, 0, fixed)

	src, err := g.expr(c.Args[0])
	if err != nil {
		return None(), err
	}
	if src.Kind == ValStack && !src.Scalar {
		b.copyMem(data.Off, asm.R10, src.Slot.Off, fixed)
	} else if err := b.probeRead(data, length, src, argT.AddrSpace); err != nil {
		return None(), err
	}
	for _, val := range []Value{src, length} {
		if err := b.dispose(val); err != nil {
			return None(), err
		}
	}
	return OnStack(buf), nil
}

func (g *Gen) callUaddr(c *ast.Call) (Value, error) {
	name, err := literalString(c, 0)
	if err != nil {
		return None(), err
	}
	target := ""
	if g.curAP != nil {
		target = g.curAP.Target
	}
	sym, err := g.cfg.Resolver.ResolveUname(name, target)
	if err != nil || sym.Address == 0 {
		return None(), &CompileError{
			Kind:      ErrSymbolResolution,
			Construct: "could not resolve symbol: " + target + ":" + name,
			Err:       err,
		}
	}
	return Const(int64(sym.Address)), nil
}

// callJoin lowers join(argv): fetch the per-CPU scratch buffer, read
// each argv[i] pointer and its string into successive fixed-size slots,
// then emit the whole block as one record.
func (g *Gen) callJoin(c *ast.Call) (Value, error) {
	b := g.b
	argT := c.Args[0].Type()
	as := argT.AddrSpace
	argnum := g.res.JoinArgNum
	argsize := g.res.JoinArgSize

	argv, err := g.expr(c.Args[0])
	if err != nil {
		return None(), err
	}
	ar, err := b.toReg(argv)
	if err != nil {
		return None(), err
	}

	pd, err := b.getJoinMap()
	if err != nil {
		return None(), err
	}
	skip := b.newLabel("join.zero")
	b.jmpImm(asm.JEq, pd.Reg, 0, skip)

	b.emit(asm.StoreImm(pd.Reg, 0, int64(asyncevent.Join), asm.DWord))
	b.emit(asm.StoreImm(pd.Reg, 8, int64(g.counters.joinID), asm.DWord))
	g.counters.joinID++

	elem, err := b.Frame.Alloc(8, "join_elem")
	if err != nil {
		return None(), err
	}
	for i := 0; i < argnum; i++ {
		// Read the argv[i] pointer, then the string it points at.
		b.slotAddr(asm.R1, elem)
		b.emit(asm.Mov.Imm(asm.R2, 8))
		b.emit(asm.Mov.Reg(asm.R3, ar))
		if i > 0 {
			b.emit(asm.Add.Imm(asm.R3, int32(8*i)))
		}
		b.emit(probeReadFn(as, false).Call())
		g.counters.helperErrorID++

		src := Value{Kind: ValStack, Slot: elem, Scalar: true}
		if err := b.probeReadStrToPtr(pd.Reg, int32(asyncevent.JoinHeaderSize+i*argsize), argsize, src, as); err != nil {
			return None(), err
		}
	}
	b.perfEventOutputPtr(pd.Reg, asyncevent.JoinHeaderSize+argnum*argsize)
	b.label(skip)

	if err := b.Frame.Release(elem); err != nil {
		return None(), err
	}
	if err := b.dispose(pd); err != nil {
		return None(), err
	}
	if err := b.pool.Put(ar); err != nil {
		return None(), err
	}
	return None(), nil
}

// callNtop lowers ntop([af,] addr) into an {af, u8[16]} record on the
// stack; the runtime renders the text form.
func (g *Gen) callNtop(c *ast.Call) (Value, error) {
	b := g.b
	buf, err := b.Frame.Alloc(24, "inet")
	if err != nil {
		return None(), err
	}

	inetArg := c.Args[0]
	if len(c.Args) == 1 {
		af := int64(unix.AF_INET6)
		if t := inetArg.Type(); t.IsIntTy() || t.Size == 4 {
			af = unix.AF_INET
		}
		b.emit(asm.StoreImm(asm.R10, buf.Off, af, asm.DWord))
	} else {
		afv, err := g.expr(c.Args[0])
		if err != nil {
			return None(), err
		}
		if err := b.storeScalar(buf, 0, afv, asm.DWord); err != nil {
			return None(), err
		}
		if err := b.dispose(afv); err != nil {
			return None(), err
		}
		inetArg = c.Args[1]
	}

	data := subSlot(buf, 8, 16)
	b.memset(data, 0, 16)

	v, err := g.expr(inetArg)
	if err != nil {
		return None(), err
	}
	t := inetArg.Type()
	switch {
	case t.IsArrayTy() && v.Kind == ValStack && !v.Scalar:
		b.copyMem(data.Off, asm.R10, v.Slot.Off, t.Size)
	case t.IsArrayTy():
		if err := b.probeRead(data, Const(int64(t.Size)), v, t.AddrSpace); err != nil {
			return None(), err
		}
	default:
		if err := b.storeScalar(buf, 8, v, asm.Word); err != nil {
			return None(), err
		}
	}
	if err := b.dispose(v); err != nil {
		return None(), err
	}
	return OnStack(buf), nil
}

// formatCall packs the typed arguments of printf/system/cat into the
// per-call-site record and emits it. The argument offsets land in the
// shared args table, which is how the runtime's decoder learns them.
func (g *Gen) formatCall(c *ast.Call, id *int, table [][]ast.Field, base asyncevent.Action) (Value, error) {
	b := g.b
	if *id >= len(table) {
		return None(), bug("%s: call site %d missing from the args table", c.Func, *id)
	}
	args := table[*id]
	size := asyncevent.LayoutFormat(args)

	buf, err := b.Frame.Alloc(size, c.Func+"_args")
	if err != nil {
		return None(), err
	}
	// The record is not packed, so zero the padding.
	b.memset(buf, 0, size)
	b.emit(asm.StoreImm(asm.R10, buf.Off, int64(base)+int64(*id), asm.DWord))

	for i := 1; i < len(c.Args) && i-1 < len(args); i++ {
		arg := c.Args[i]
		f := args[i-1]
		v, err := g.expr(arg)
		if err != nil {
			return None(), err
		}
		if v.Kind == ValStack && !v.Scalar {
			b.copyMem(buf.Off+int16(f.Offset), asm.R10, v.Slot.Off, f.Type.Size)
		} else {
			width, ok := sizeForBytes(f.Type.Size)
			if !ok {
				width = asm.DWord
			}
			if err := b.storeScalar(buf, int16(f.Offset), v, width); err != nil {
				return None(), err
			}
		}
		if err := b.dispose(v); err != nil {
			return None(), err
		}
	}
	*id++
	b.perfEventOutput(buf, size)
	if err := b.Frame.Release(buf); err != nil {
		return None(), err
	}
	return None(), nil
}

// callExit emits the exit record and returns immediately; anything after
// it in the source block is unreachable.
func (g *Gen) callExit() (Value, error) {
	b := g.b
	buf, err := b.Frame.Alloc(asyncevent.ExitSize, "perfdata")
	if err != nil {
		return None(), err
	}
	b.emit(asm.StoreImm(asm.R10, buf.Off, int64(asyncevent.Exit), asm.DWord))
	b.perfEventOutput(buf, asyncevent.ExitSize)
	if err := b.Frame.Release(buf); err != nil {
		return None(), err
	}
	b.retZero()
	return None(), nil
}

// printMap emits {action, map_id, top, div}; the runtime walks the map.
func (g *Gen) printMap(c *ast.Call, m *ast.Map) (Value, error) {
	b := g.b
	mi, err := g.mapInfo(m.Ident)
	if err != nil {
		return None(), err
	}
	buf, err := b.Frame.Alloc(asyncevent.PrintMapSize, "print_"+m.Ident)
	if err != nil {
		return None(), err
	}
	b.emit(asm.StoreImm(asm.R10, buf.Off, int64(asyncevent.Print), asm.DWord))
	b.emit(asm.StoreImm(asm.R10, buf.Off+8, int64(mi.ID), asm.DWord))
	for i := 1; i < 3; i++ {
		off := int16(8 + 8*i)
		if i < len(c.Args) {
			v, err := g.expr(c.Args[i])
			if err != nil {
				return None(), err
			}
			if err := b.storeScalar(buf, off, v, asm.DWord); err != nil {
				return None(), err
			}
			if err := b.dispose(v); err != nil {
				return None(), err
			}
		} else {
			b.emit(asm.StoreImm(asm.R10, buf.Off+off, 0, asm.DWord))
		}
	}
	b.perfEventOutput(buf, asyncevent.PrintMapSize)
	if err := b.Frame.Release(buf); err != nil {
		return None(), err
	}
	return None(), nil
}

// printNonMap emits {action, id, content[size]} with the value inlined.
func (g *Gen) printNonMap(c *ast.Call) (Value, error) {
	b := g.b
	arg := c.Args[0]
	v, err := g.expr(arg)
	if err != nil {
		return None(), err
	}
	size := asyncevent.PrintNonMapHeaderSize + arg.Type().Size
	buf, err := b.Frame.Alloc(size, "print_non_map")
	if err != nil {
		return None(), err
	}
	b.emit(asm.StoreImm(asm.R10, buf.Off, int64(asyncevent.PrintNonMap), asm.DWord))
	b.emit(asm.StoreImm(asm.R10, buf.Off+8, int64(g.counters.nonMapPrintID), asm.DWord))
	content := subSlot(buf, asyncevent.PrintNonMapHeaderSize, arg.Type().Size)
	b.memset(content, 0, arg.Type().Size)
	if v.Kind == ValStack && !v.Scalar {
		b.copyMem(content.Off, asm.R10, v.Slot.Off, arg.Type().Size)
	} else if err := b.storeScalar(buf, int16(asyncevent.PrintNonMapHeaderSize), v, asm.DWord); err != nil {
		return None(), err
	}
	g.counters.nonMapPrintID++
	b.perfEventOutput(buf, size)
	if err := b.dispose(v); err != nil {
		return None(), err
	}
	if err := b.Frame.Release(buf); err != nil {
		return None(), err
	}
	return None(), nil
}

// mapEvent emits {action, map_id} for clear and zero.
func (g *Gen) mapEvent(c *ast.Call, action asyncevent.Action) (Value, error) {
	b := g.b
	m, ok := c.Args[0].(*ast.Map)
	if !ok {
		return None(), bug("%s: argument is not a map", c.Func)
	}
	mi, err := g.mapInfo(m.Ident)
	if err != nil {
		return None(), err
	}
	buf, err := b.Frame.Alloc(asyncevent.MapEventSize, c.Func+"_"+m.Ident)
	if err != nil {
		return None(), err
	}
	b.emit(asm.StoreImm(asm.R10, buf.Off, int64(action), asm.DWord))
	b.emit(asm.StoreImm(asm.R10, buf.Off+8, int64(mi.ID), asm.DWord))
	b.perfEventOutput(buf, asyncevent.MapEventSize)
	if err := b.Frame.Release(buf); err != nil {
		return None(), err
	}
	return None(), nil
}

// callTime emits {action, fmt_id}; the runtime formats wall-clock time.
func (g *Gen) callTime() (Value, error) {
	b := g.b
	buf, err := b.Frame.Alloc(asyncevent.TimeSize, "time_t")
	if err != nil {
		return None(), err
	}
	b.emit(asm.StoreImm(asm.R10, buf.Off, int64(asyncevent.Time), asm.DWord))
	b.emit(asm.StoreImm(asm.R10, buf.Off+8, int64(g.counters.timeID), asm.DWord))
	g.counters.timeID++
	b.perfEventOutput(buf, asyncevent.TimeSize)
	if err := b.Frame.Release(buf); err != nil {
		return None(), err
	}
	return None(), nil
}

// callStrftime emits {action, fmt_id, ts}.
func (g *Gen) callStrftime(c *ast.Call) (Value, error) {
	b := g.b
	buf, err := b.Frame.Alloc(asyncevent.StrftimeSize, "strftime_args")
	if err != nil {
		return None(), err
	}
	b.emit(asm.StoreImm(asm.R10, buf.Off, int64(asyncevent.Strftime), asm.DWord))
	b.emit(asm.StoreImm(asm.R10, buf.Off+8, int64(g.counters.strftimeID), asm.DWord))
	g.counters.strftimeID++
	ts, err := g.expr(c.Args[1])
	if err != nil {
		return None(), err
	}
	if err := b.storeScalar(buf, 16, ts, asm.DWord); err != nil {
		return None(), err
	}
	if err := b.dispose(ts); err != nil {
		return None(), err
	}
	b.perfEventOutput(buf, asyncevent.StrftimeSize)
	if err := b.Frame.Release(buf); err != nil {
		return None(), err
	}
	return None(), nil
}

// callSignal delivers a signal named or numbered at the call site.
func (g *Gen) callSignal(c *ast.Call) (Value, error) {
	b := g.b
	if s, ok := c.Args[0].(*ast.String); ok {
		sig := signalNum(s.Value)
		if sig < 1 {
			return None(), bug("invalid signal %q", s.Value)
		}
		if err := b.sendSignal(Const(int64(sig))); err != nil {
			return None(), err
		}
		return None(), nil
	}
	v, err := g.expr(c.Args[0])
	if err != nil {
		return None(), err
	}
	if err := b.sendSignal(v); err != nil {
		return None(), err
	}
	if err := b.dispose(v); err != nil {
		return None(), err
	}
	return None(), nil
}

// signalNum resolves "KILL" or "SIGKILL" to the signal number.
func signalNum(name string) int {
	name = strings.ToUpper(name)
	if !strings.HasPrefix(name, "SIG") {
		name = "SIG" + name
	}
	return int(unix.SignalNum(name))
}

// callStrncmp lowers strncmp(a, b, n) with the literal-avoiding variants.
func (g *Gen) callStrncmp(c *ast.Call) (Value, error) {
	n, err := literalInt(c, 2)
	if err != nil {
		return None(), err
	}
	if lit, ok := c.Args[1].(*ast.String); ok {
		return g.strcmpAgainst(c.Args[0], lit.Value, int(n), false)
	}
	if lit, ok := c.Args[0].(*ast.String); ok {
		return g.strcmpAgainst(c.Args[1], lit.Value, int(n), false)
	}
	rv, err := g.expr(c.Args[1])
	if err != nil {
		return None(), err
	}
	lv, err := g.expr(c.Args[0])
	if err != nil {
		return None(), err
	}
	out, err := g.b.strncmp(lv.Slot, rv.Slot, int(n), false)
	if err != nil {
		return None(), err
	}
	for _, val := range []Value{lv, rv} {
		if err := g.b.dispose(val); err != nil {
			return None(), err
		}
	}
	return out, nil
}
