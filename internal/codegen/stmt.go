package codegen

import (
	"github.com/cilium/ebpf/asm"

	"github.com/tracegen/tracegen/internal/ast"
)

func (g *Gen) stmts(list []ast.Statement) error {
	for _, s := range list {
		if err := g.stmt(s); err != nil {
			return err
		}
	}
	return nil
}

// stmt lowers one statement.
func (g *Gen) stmt(s ast.Statement) error {
	switch n := s.(type) {
	case *ast.ExprStatement:
		v, err := g.expr(n.Expr)
		if err != nil {
			return err
		}
		return g.b.dispose(v)
	case *ast.AssignVar:
		return g.assignVar(n)
	case *ast.AssignMap:
		return g.assignMap(n)
	case *ast.If:
		return g.ifStmt(n)
	case *ast.While:
		return g.whileStmt(n)
	case *ast.Unroll:
		for i := 0; i < n.N; i++ {
			if err := g.stmts(n.Stmts); err != nil {
				return err
			}
		}
		return nil
	case *ast.Jump:
		return g.jump(n)
	}
	return bug("statement %T has no lowering", s)
}

// assignVar stores into a scratch variable, creating its pinned slot on
// first write.
func (g *Gen) assignVar(n *ast.AssignVar) error {
	b := g.b
	v, err := g.expr(n.Expr)
	if err != nil {
		return err
	}
	vs, ok := g.vars[n.Var.Ident]
	if !ok {
		size := n.Var.Typ.Size
		if size < 8 {
			size = 8
		}
		slot, err := b.Frame.Alloc(size, n.Var.Ident)
		if err != nil {
			return err
		}
		b.memset(slot, 0, size)
		b.Frame.Pin(slot)
		vs = varSlot{slot: slot, typ: n.Var.Typ}
		g.vars[n.Var.Ident] = vs
	}
	if n.Var.Typ.NeedsMemcpy() {
		if v.Kind != ValStack || v.Scalar {
			return bug("composite assignment to %s from a scalar", n.Var.Ident)
		}
		size := vs.slot.Size
		if v.Slot.Size < size {
			size = v.Slot.Size
		}
		b.memcpy(vs.slot, v.Slot, size)
	} else if err := b.storeScalar(vs.slot, 0, v, asm.DWord); err != nil {
		return err
	}
	return b.dispose(v)
}

// assignMap writes the right-hand side into a map slot. Aggregation
// calls have already done the write themselves and produce no value.
func (g *Gen) assignMap(n *ast.AssignMap) error {
	b := g.b
	v, err := g.expr(n.Expr)
	if err != nil {
		return err
	}
	if v.IsNone() {
		return nil
	}
	mi, err := g.mapInfo(n.Map.Ident)
	if err != nil {
		return err
	}
	key, err := g.mapKey(n.Map)
	if err != nil {
		return err
	}

	var val Slot
	selfAlloc := false
	et := n.Expr.Type()
	switch {
	case v.Kind == ValStack && !v.Scalar:
		val = v.Slot

	case n.Map.Typ.IsRecordTy():
		// The value is an external pointer; pull the record in before
		// storing it.
		dst, err := b.Frame.Alloc(n.Map.Typ.Size, n.Map.Ident+"_val")
		if err != nil {
			return err
		}
		if err := b.probeRead(dst, Const(int64(n.Map.Typ.Size)), v, et.AddrSpace); err != nil {
			return err
		}
		val, selfAlloc = dst, true

	default:
		// Integers widen to the fixed 64-bit map cell; pointers store
		// their value.
		dst, err := b.Frame.Alloc(8, n.Map.Ident+"_val")
		if err != nil {
			return err
		}
		if err := b.storeScalar(dst, 0, v, asm.DWord); err != nil {
			return err
		}
		val, selfAlloc = dst, true
	}

	b.mapUpdate(mi, key.Slot, val)
	if err := b.dispose(key); err != nil {
		return err
	}
	if err := b.dispose(v); err != nil {
		return err
	}
	if selfAlloc {
		return b.Frame.Release(val)
	}
	return nil
}

// ifStmt lowers if/else as the 3- or 4-block diamond.
func (g *Gen) ifStmt(n *ast.If) error {
	b := g.b
	end := b.newLabel("if.end")
	elseL := end
	if len(n.Else) > 0 {
		elseL = b.newLabel("if.else")
	}

	cv, err := g.expr(n.Cond)
	if err != nil {
		return err
	}
	cr, err := b.toReg(cv)
	if err != nil {
		return err
	}
	b.jmpImm(asm.JEq, cr, 0, elseL)
	if err := b.pool.Put(cr); err != nil {
		return err
	}

	if err := g.stmts(n.Stmts); err != nil {
		return err
	}
	b.ja(end)
	if len(n.Else) > 0 {
		b.label(elseL)
		if err := g.stmts(n.Else); err != nil {
			return err
		}
	}
	b.label(end)
	return nil
}

// whileStmt lowers while with cond/body/end blocks; break and continue
// resolve against the innermost loop.
func (g *Gen) whileStmt(n *ast.While) error {
	b := g.b
	cond := b.newLabel("while.cond")
	end := b.newLabel("while.end")

	g.loops = append(g.loops, loopLabels{continueTo: cond, breakTo: end})
	defer func() { g.loops = g.loops[:len(g.loops)-1] }()

	b.label(cond)
	cv, err := g.expr(n.Cond)
	if err != nil {
		return err
	}
	cr, err := b.toReg(cv)
	if err != nil {
		return err
	}
	b.jmpImm(asm.JEq, cr, 0, end)
	if err := b.pool.Put(cr); err != nil {
		return err
	}

	if err := g.stmts(n.Stmts); err != nil {
		return err
	}
	b.ja(cond)
	b.label(end)
	return nil
}

// jump lowers return, break and continue. Trailing statements in the
// block are unreachable and fall into the builder's dead zone.
func (g *Gen) jump(n *ast.Jump) error {
	b := g.b
	switch n.Kind {
	case ast.JumpReturn:
		b.retZero()
		return nil
	case ast.JumpBreak:
		if len(g.loops) == 0 {
			return bug("break outside a loop")
		}
		b.ja(g.loops[len(g.loops)-1].breakTo)
		b.beginDead()
		return nil
	case ast.JumpContinue:
		if len(g.loops) == 0 {
			return bug("continue outside a loop")
		}
		b.ja(g.loops[len(g.loops)-1].continueTo)
		b.beginDead()
		return nil
	}
	return bug("jump kind %d", n.Kind)
}

// predicate gates the probe body: a zero condition returns immediately.
func (g *Gen) predicate(pred ast.Expression) error {
	b := g.b
	v, err := g.expr(pred)
	if err != nil {
		return err
	}
	cr, err := b.toReg(v)
	if err != nil {
		return err
	}
	body := b.newLabel("pred.true")
	b.jmpImm(asm.JNE, cr, 0, body)
	if err := b.pool.Put(cr); err != nil {
		return err
	}
	b.retZero()
	b.label(body)
	return nil
}
