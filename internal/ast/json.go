package ast

import (
	"encoding/json"
	"fmt"
)

// The document codec accepts a type-checked program serialized by the
// front-end: a tagged-node tree plus the analyzer's resource tables.
// Only decoding is supported; the generator never writes ASTs back.

// Document is the compile input: the program and the dictionaries the
// analyzer resolved for it.
type Document struct {
	Program   *Program
	Resources *Resources
}

type jsonDocument struct {
	Probes    []jsonProbe    `json:"probes"`
	Resources *jsonResources `json:"resources"`
}

type jsonProbe struct {
	Pred          *jsonNode         `json:"pred,omitempty"`
	Stmts         []jsonNode        `json:"stmts"`
	AttachPoints  []jsonAttachPoint `json:"attach_points"`
	NeedExpansion bool              `json:"need_expansion,omitempty"`
}

type jsonAttachPoint struct {
	Provider string `json:"provider"`
	Target   string `json:"target,omitempty"`
	Ns       string `json:"ns,omitempty"`
	Func     string `json:"func,omitempty"`
}

type jsonNode struct {
	Kind string `json:"kind"`

	Int      int64  `json:"int,omitempty"`
	Str      string `json:"str,omitempty"`
	Ident    string `json:"ident,omitempty"`
	Func     string `json:"func,omitempty"`
	Op       string `json:"op,omitempty"`
	N        int    `json:"n,omitempty"`
	IsPostOp bool   `json:"is_post_op,omitempty"`
	IsInStr  bool   `json:"is_in_str,omitempty"`
	IsCount  bool   `json:"is_count,omitempty"`
	Index    int    `json:"index,omitempty"`
	ArgIndex int    `json:"arg_index,omitempty"`
	Field    string `json:"field,omitempty"`

	Expr      *jsonNode  `json:"expr,omitempty"`
	Left      *jsonNode  `json:"left,omitempty"`
	Right     *jsonNode  `json:"right,omitempty"`
	Cond      *jsonNode  `json:"cond,omitempty"`
	IndexExpr *jsonNode  `json:"index_expr,omitempty"`
	Map       *jsonNode  `json:"map,omitempty"`
	Var       *jsonNode  `json:"var,omitempty"`
	Args      []jsonNode `json:"args,omitempty"`
	Keys      []jsonNode `json:"keys,omitempty"`
	Elems     []jsonNode `json:"elems,omitempty"`
	Stmts     []jsonNode `json:"stmts,omitempty"`
	Else      []jsonNode `json:"else,omitempty"`

	Type *jsonType `json:"type,omitempty"`
}

type jsonType struct {
	Kind      string     `json:"kind"`
	Size      int        `json:"size,omitempty"`
	Signed    bool       `json:"signed,omitempty"`
	Count     int        `json:"count,omitempty"`
	Name      string     `json:"name,omitempty"`
	Elem      *jsonType  `json:"elem,omitempty"`
	Elems     []jsonType `json:"elems,omitempty"`
	AddrSpace string     `json:"addrspace,omitempty"`
	Stack     *jsonStack `json:"stack,omitempty"`
	Flags     []string   `json:"flags,omitempty"`
}

type jsonStack struct {
	Limit int `json:"limit"`
}

type jsonResources struct {
	Enums   map[string]int64      `json:"enums,omitempty"`
	Structs map[string]jsonStruct `json:"structs,omitempty"`
	Maps    map[string]jsonMap    `json:"maps,omitempty"`

	PrintfArgs [][]jsonField `json:"printf_args,omitempty"`
	SystemArgs [][]jsonField `json:"system_args,omitempty"`
	CatArgs    [][]jsonField `json:"cat_args,omitempty"`

	Params []string `json:"params,omitempty"`

	StrLen      int `json:"strlen,omitempty"`
	JoinArgNum  int `json:"join_argnum,omitempty"`
	JoinArgSize int `json:"join_argsize,omitempty"`

	CPID           int `json:"cpid,omitempty"`
	ElapsedMapFD   int `json:"elapsed_map_fd,omitempty"`
	ElapsedMapID   int `json:"elapsed_map_id,omitempty"`
	PerfEventMapFD int `json:"perf_event_map_fd,omitempty"`
	StackMapFD     int `json:"stack_map_fd,omitempty"`
	JoinMapFD      int `json:"join_map_fd,omitempty"`
}

type jsonStruct struct {
	Size   int         `json:"size"`
	Fields []jsonField `json:"fields"`
}

type jsonField struct {
	Name     string        `json:"name"`
	Offset   int           `json:"offset,omitempty"`
	Type     jsonType      `json:"type"`
	Bitfield *jsonBitfield `json:"bitfield,omitempty"`
}

type jsonBitfield struct {
	ReadBytes    int    `json:"read_bytes"`
	AccessRShift int    `json:"access_rshift"`
	Mask         uint64 `json:"mask"`
}

type jsonMap struct {
	ID        int      `json:"id"`
	FD        int      `json:"fd"`
	ValueType jsonType `json:"value_type"`
	KeySize   int      `json:"key_size,omitempty"`
}

// DecodeDocument parses a serialized compile input.
func DecodeDocument(data []byte) (*Document, error) {
	var doc jsonDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	prog := &Program{}
	for i, jp := range doc.Probes {
		p := &Probe{NeedExpansion: jp.NeedExpansion}
		if jp.Pred != nil {
			pred, err := decodeExpr(jp.Pred)
			if err != nil {
				return nil, fmt.Errorf("probe %d predicate: %w", i, err)
			}
			p.Pred = pred
		}
		for _, js := range jp.Stmts {
			js := js
			s, err := decodeStmt(&js)
			if err != nil {
				return nil, fmt.Errorf("probe %d: %w", i, err)
			}
			p.Stmts = append(p.Stmts, s)
		}
		for _, ja := range jp.AttachPoints {
			p.AttachPoints = append(p.AttachPoints, &AttachPoint{
				Provider: ja.Provider,
				Target:   ja.Target,
				Ns:       ja.Ns,
				Func:     ja.Func,
			})
		}
		prog.Probes = append(prog.Probes, p)
	}
	res, err := decodeResources(doc.Resources)
	if err != nil {
		return nil, err
	}
	return &Document{Program: prog, Resources: res}, nil
}

func decodeResources(jr *jsonResources) (*Resources, error) {
	res := &Resources{
		Enums:   map[string]int64{},
		Structs: map[string]*Struct{},
		Maps:    map[string]*MapInfo{},
		StrLen:  64,
	}
	if jr == nil {
		return res, nil
	}
	for k, v := range jr.Enums {
		res.Enums[k] = v
	}
	for name, js := range jr.Structs {
		st := &Struct{Size: js.Size, Fields: map[string]Field{}}
		for _, jf := range js.Fields {
			f := Field{Name: jf.Name, Offset: jf.Offset, Type: decodeType(&jf.Type)}
			if jf.Bitfield != nil {
				f.Bitfield = &Bitfield{
					ReadBytes:    jf.Bitfield.ReadBytes,
					AccessRShift: jf.Bitfield.AccessRShift,
					Mask:         jf.Bitfield.Mask,
				}
			}
			st.Fields[jf.Name] = f
		}
		res.Structs[name] = st
	}
	for name, jm := range jr.Maps {
		res.Maps[name] = &MapInfo{
			ID:        jm.ID,
			FD:        jm.FD,
			ValueType: decodeType(&jm.ValueType),
			KeySize:   jm.KeySize,
		}
	}
	res.PrintfArgs = decodeArgTables(jr.PrintfArgs)
	res.SystemArgs = decodeArgTables(jr.SystemArgs)
	res.CatArgs = decodeArgTables(jr.CatArgs)
	res.Params = jr.Params
	if jr.StrLen > 0 {
		res.StrLen = jr.StrLen
	}
	res.JoinArgNum = jr.JoinArgNum
	res.JoinArgSize = jr.JoinArgSize
	res.CPID = jr.CPID
	res.ElapsedMapFD = jr.ElapsedMapFD
	res.ElapsedMapID = jr.ElapsedMapID
	res.PerfEventMapFD = jr.PerfEventMapFD
	res.StackMapFD = jr.StackMapFD
	res.JoinMapFD = jr.JoinMapFD
	return res, nil
}

func decodeArgTables(in [][]jsonField) [][]Field {
	if in == nil {
		return nil
	}
	out := make([][]Field, len(in))
	for i, fields := range in {
		out[i] = make([]Field, len(fields))
		for j, jf := range fields {
			out[i][j] = Field{Name: jf.Name, Offset: jf.Offset, Type: decodeType(&jf.Type)}
		}
	}
	return out
}

var typeKinds = map[string]Kind{
	"none": KindNone, "int": KindInt, "ptr": KindPtr, "string": KindString,
	"buffer": KindBuffer, "record": KindRecord, "tuple": KindTuple,
	"array": KindArray, "usym": KindUserSym,
}

func decodeType(jt *jsonType) SizedType {
	if jt == nil {
		return SizedType{}
	}
	t := SizedType{
		Kind:   typeKinds[jt.Kind],
		Size:   jt.Size,
		Signed: jt.Signed,
		Count:  jt.Count,
		Name:   jt.Name,
	}
	if jt.Elem != nil {
		elem := decodeType(jt.Elem)
		t.Elem = &elem
	}
	for i := range jt.Elems {
		t.Elems = append(t.Elems, decodeType(&jt.Elems[i]))
	}
	switch jt.AddrSpace {
	case "kernel":
		t.AddrSpace = AddrSpaceKernel
	case "user":
		t.AddrSpace = AddrSpaceUser
	}
	if jt.Stack != nil {
		t.Stack = StackType{Limit: jt.Stack.Limit}
	}
	for _, f := range jt.Flags {
		switch f {
		case "ctx":
			t.IsCtx = true
		case "tparg":
			t.IsTparg = true
		case "internal":
			t.IsInternal = true
		case "kfarg":
			t.IsKfarg = true
		case "bitfield":
			t.IsBitfield = true
		case "literal":
			t.IsLiteral = true
		case "map":
			t.IsMap = true
		case "variable":
			t.IsVariable = true
		}
	}
	return t
}

var binops = map[string]BinOp{
	"==": OpEq, "!=": OpNe, "<=": OpLe, ">=": OpGe, "<": OpLt, ">": OpGt,
	"<<": OpLeft, ">>": OpRight, "+": OpPlus, "-": OpMinus, "*": OpMul,
	"/": OpDiv, "%": OpMod, "&": OpBAnd, "|": OpBOr, "^": OpBXor,
	"&&": OpLAnd, "||": OpLOr,
}

var unops = map[string]UnOp{
	"!": OpLNot, "~": OpBNot, "-": OpNeg,
	"++": OpIncrement, "--": OpDecrement, "*": OpDeref,
}

func decodeExpr(jn *jsonNode) (Expression, error) {
	typ := decodeType(jn.Type)
	switch jn.Kind {
	case "integer":
		return &Integer{Value: jn.Int, Typ: typ}, nil
	case "string":
		return &String{Value: jn.Str, Typ: typ}, nil
	case "positional":
		kind := PositionalIndex
		if jn.IsCount {
			kind = PositionalCount
		}
		return &PositionalParameter{Kind: kind, N: jn.N, IsInStr: jn.IsInStr, Typ: typ}, nil
	case "identifier":
		return &Identifier{Ident: jn.Ident, Typ: typ}, nil
	case "builtin":
		return &Builtin{Ident: jn.Ident, ArgIndex: jn.ArgIndex, Typ: typ}, nil
	case "call":
		c := &Call{Func: jn.Func, Typ: typ}
		for i := range jn.Args {
			arg, err := decodeExpr(&jn.Args[i])
			if err != nil {
				return nil, err
			}
			c.Args = append(c.Args, arg)
		}
		if jn.Map != nil {
			m, err := decodeExpr(jn.Map)
			if err != nil {
				return nil, err
			}
			mp, ok := m.(*Map)
			if !ok {
				return nil, fmt.Errorf("call %s: map operand is %T", jn.Func, m)
			}
			c.Map = mp
		}
		return c, nil
	case "map":
		m := &Map{Ident: jn.Ident, Typ: typ}
		for i := range jn.Keys {
			k, err := decodeExpr(&jn.Keys[i])
			if err != nil {
				return nil, err
			}
			m.Keys = append(m.Keys, k)
		}
		return m, nil
	case "variable":
		return &Variable{Ident: jn.Ident, Typ: typ}, nil
	case "binop":
		op, ok := binops[jn.Op]
		if !ok {
			return nil, fmt.Errorf("unknown binary operator %q", jn.Op)
		}
		left, err := decodeExpr(jn.Left)
		if err != nil {
			return nil, err
		}
		right, err := decodeExpr(jn.Right)
		if err != nil {
			return nil, err
		}
		return &Binop{Op: op, Left: left, Right: right, Typ: typ}, nil
	case "unop":
		op, ok := unops[jn.Op]
		if !ok {
			return nil, fmt.Errorf("unknown unary operator %q", jn.Op)
		}
		inner, err := decodeExpr(jn.Expr)
		if err != nil {
			return nil, err
		}
		return &Unop{Op: op, Expr: inner, IsPostOp: jn.IsPostOp, Typ: typ}, nil
	case "ternary":
		cond, err := decodeExpr(jn.Cond)
		if err != nil {
			return nil, err
		}
		left, err := decodeExpr(jn.Left)
		if err != nil {
			return nil, err
		}
		right, err := decodeExpr(jn.Right)
		if err != nil {
			return nil, err
		}
		return &Ternary{Cond: cond, Left: left, Right: right, Typ: typ}, nil
	case "field_access":
		inner, err := decodeExpr(jn.Expr)
		if err != nil {
			return nil, err
		}
		return &FieldAccess{Expr: inner, Field: jn.Field, Index: jn.Index, Typ: typ}, nil
	case "array_access":
		inner, err := decodeExpr(jn.Expr)
		if err != nil {
			return nil, err
		}
		idx, err := decodeExpr(jn.IndexExpr)
		if err != nil {
			return nil, err
		}
		return &ArrayAccess{Expr: inner, Index: idx, Typ: typ}, nil
	case "cast":
		inner, err := decodeExpr(jn.Expr)
		if err != nil {
			return nil, err
		}
		return &Cast{Expr: inner, Typ: typ}, nil
	case "tuple":
		t := &Tuple{Typ: typ}
		for i := range jn.Elems {
			e, err := decodeExpr(&jn.Elems[i])
			if err != nil {
				return nil, err
			}
			t.Elems = append(t.Elems, e)
		}
		return t, nil
	}
	return nil, fmt.Errorf("unknown expression kind %q", jn.Kind)
}

func decodeStmts(in []jsonNode) ([]Statement, error) {
	var out []Statement
	for i := range in {
		s, err := decodeStmt(&in[i])
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func decodeStmt(jn *jsonNode) (Statement, error) {
	switch jn.Kind {
	case "expr_statement":
		e, err := decodeExpr(jn.Expr)
		if err != nil {
			return nil, err
		}
		return &ExprStatement{Expr: e}, nil
	case "assign_var":
		v, err := decodeExpr(jn.Var)
		if err != nil {
			return nil, err
		}
		vr, ok := v.(*Variable)
		if !ok {
			return nil, fmt.Errorf("assign_var target is %T", v)
		}
		e, err := decodeExpr(jn.Expr)
		if err != nil {
			return nil, err
		}
		return &AssignVar{Var: vr, Expr: e}, nil
	case "assign_map":
		m, err := decodeExpr(jn.Map)
		if err != nil {
			return nil, err
		}
		mp, ok := m.(*Map)
		if !ok {
			return nil, fmt.Errorf("assign_map target is %T", m)
		}
		e, err := decodeExpr(jn.Expr)
		if err != nil {
			return nil, err
		}
		return &AssignMap{Map: mp, Expr: e}, nil
	case "if":
		cond, err := decodeExpr(jn.Cond)
		if err != nil {
			return nil, err
		}
		stmts, err := decodeStmts(jn.Stmts)
		if err != nil {
			return nil, err
		}
		elseStmts, err := decodeStmts(jn.Else)
		if err != nil {
			return nil, err
		}
		return &If{Cond: cond, Stmts: stmts, Else: elseStmts}, nil
	case "while":
		cond, err := decodeExpr(jn.Cond)
		if err != nil {
			return nil, err
		}
		stmts, err := decodeStmts(jn.Stmts)
		if err != nil {
			return nil, err
		}
		return &While{Cond: cond, Stmts: stmts}, nil
	case "unroll":
		stmts, err := decodeStmts(jn.Stmts)
		if err != nil {
			return nil, err
		}
		return &Unroll{N: jn.N, Stmts: stmts}, nil
	case "jump":
		switch jn.Ident {
		case "return":
			return &Jump{Kind: JumpReturn}, nil
		case "break":
			return &Jump{Kind: JumpBreak}, nil
		case "continue":
			return &Jump{Kind: JumpContinue}, nil
		}
		return nil, fmt.Errorf("unknown jump %q", jn.Ident)
	}
	return nil, fmt.Errorf("unknown statement kind %q", jn.Kind)
}
