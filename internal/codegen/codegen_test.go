package codegen

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/cilium/ebpf/asm"
	"github.com/stretchr/testify/require"

	"github.com/tracegen/tracegen/internal/arch"
	"github.com/tracegen/tracegen/internal/ast"
	"github.com/tracegen/tracegen/internal/asyncevent"
	"github.com/tracegen/tracegen/internal/resolver"
)

func testArch(t *testing.T) *arch.Arch {
	t.Helper()
	a, err := arch.Lookup("x86_64")
	require.NoError(t, err)
	return a
}

func testResources() *ast.Resources {
	return &ast.Resources{
		Enums:   map[string]int64{},
		Structs: map[string]*ast.Struct{},
		Maps: map[string]*ast.MapInfo{
			"@": {ID: 1, FD: 10, ValueType: ast.UInt64()},
			"@h": {ID: 2, FD: 11, ValueType: ast.UInt64()},
			"@lat": {ID: 3, FD: 12, ValueType: ast.UInt64()},
			"@start": {ID: 4, FD: 13, ValueType: ast.UInt64()},
		},
		StrLen:         64,
		JoinArgNum:     16,
		JoinArgSize:    1024,
		PerfEventMapFD: 20,
		StackMapFD:     21,
		JoinMapFD:      22,
		ElapsedMapFD:   23,
	}
}

func generate(t *testing.T, prog *ast.Program, res *ast.Resources, rsv resolver.Resolver) *Module {
	t.Helper()
	if rsv == nil {
		rsv = resolver.NewFake()
	}
	g, err := New(prog, Config{Resources: res, Resolver: rsv, Arch: testArch(t)})
	require.NoError(t, err)
	m, err := g.Generate()
	require.NoError(t, err)
	return m
}

// AST shorthands.

func intLit(n int64) *ast.Integer {
	return &ast.Integer{Value: n, Typ: ast.Int64()}
}

func strLit(s string) *ast.String {
	t := ast.StringOf(len(s) + 1)
	t.IsLiteral = true
	return &ast.String{Value: s, Typ: t}
}

func commBuiltin() *ast.Builtin {
	return &ast.Builtin{Ident: "comm", Typ: ast.StringOf(16)}
}

func builtinU64(name string) *ast.Builtin {
	return &ast.Builtin{Ident: name, Typ: ast.UInt64()}
}

func mapNode(ident string, keys ...ast.Expression) *ast.Map {
	return &ast.Map{Ident: ident, Keys: keys, Typ: ast.UInt64()}
}

func aggCall(fn string, m *ast.Map, args ...ast.Expression) *ast.Call {
	return &ast.Call{Func: fn, Map: m, Args: args, Typ: ast.SizedType{Kind: ast.KindNone}}
}

func kprobe(fn string, pred ast.Expression, stmts ...ast.Statement) *ast.Probe {
	return &ast.Probe{
		Pred:         pred,
		Stmts:        stmts,
		AttachPoints: []*ast.AttachPoint{{Provider: "kprobe", Func: fn}},
	}
}

// Instruction stream helpers.

func callsOf(insns asm.Instructions, fn asm.BuiltinFunc) []int {
	var out []int
	for i, ins := range insns {
		if ins.IsBuiltinCall() && ins.Constant == int64(fn) {
			out = append(out, i)
		}
	}
	return out
}

func returnsOf(insns asm.Instructions) []int {
	ret := asm.Return()
	var out []int
	for i, ins := range insns {
		if ins.OpCode == ret.OpCode {
			out = append(out, i)
		}
	}
	return out
}

func storedConstants(insns asm.Instructions) []int64 {
	stOp := asm.StoreImm(asm.R10, 0, 0, asm.DWord).OpCode
	var out []int64
	for _, ins := range insns {
		if ins.OpCode == stOp {
			out = append(out, ins.Constant)
		}
	}
	return out
}

func marshalProgram(t *testing.T, p *Program) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, p.Insns.Marshal(&buf, binary.LittleEndian))
	return buf.Bytes()
}

func requireBalanced(t *testing.T, p *Program) {
	t.Helper()
	require.Equal(t, p.FrameAllocs, p.FrameReleases,
		"section %s: %d allocations vs %d releases", p.SectionName, p.FrameAllocs, p.FrameReleases)
}

// Scenario 1: kprobe:do_nanosleep { @[comm] = count(); }
func TestCountByComm(t *testing.T) {
	prog := &ast.Program{Probes: []*ast.Probe{
		kprobe("do_nanosleep", nil,
			&ast.AssignMap{
				Map:  mapNode("@", commBuiltin()),
				Expr: aggCall("count", mapNode("@", commBuiltin())),
			}),
	}}
	m := generate(t, prog, testResources(), nil)

	require.Len(t, m.Programs, 1)
	p := m.Programs[0]
	require.Equal(t, "s_kprobe:do_nanosleep_1", p.SectionName)

	require.NotEmpty(t, callsOf(p.Insns, asm.FnGetCurrentComm), "key is the comm buffer")
	require.NotEmpty(t, callsOf(p.Insns, asm.FnMapLookupElem))
	require.NotEmpty(t, callsOf(p.Insns, asm.FnMapUpdateElem))
	requireBalanced(t, p)
}

func TestDeterminism(t *testing.T) {
	build := func() []byte {
		prog := &ast.Program{Probes: []*ast.Probe{
			kprobe("do_nanosleep", nil,
				&ast.AssignMap{
					Map:  mapNode("@", commBuiltin()),
					Expr: aggCall("count", mapNode("@", commBuiltin())),
				}),
		}}
		m := generate(t, prog, testResources(), nil)
		return marshalProgram(t, m.Programs[0])
	}
	require.Equal(t, build(), build(), "same AST and dictionaries must emit identical bytes")
}

// Scenario 2: kprobe:f { @h = hist(arg0); }
func TestHistEmitsLog2Helper(t *testing.T) {
	prog := &ast.Program{Probes: []*ast.Probe{
		kprobe("f", nil,
			&ast.AssignMap{
				Map:  mapNode("@h"),
				Expr: aggCall("hist", mapNode("@h"), builtinU64("arg0")),
			}),
	}}
	m := generate(t, prog, testResources(), nil)

	require.True(t, m.HasHelper("log2"), "hist must synthesize the log2 helper")
	require.False(t, m.HasHelper("linear"))
	p := m.Programs[0]
	require.NotEmpty(t, callsOf(p.Insns, asm.FnMapUpdateElem))
	requireBalanced(t, p)
}

func TestLhistEmitsLinearHelper(t *testing.T) {
	prog := &ast.Program{Probes: []*ast.Probe{
		kprobe("f", nil,
			&ast.AssignMap{
				Map: mapNode("@h"),
				Expr: aggCall("lhist", mapNode("@h"),
					builtinU64("arg0"), intLit(0), intLit(100), intLit(10)),
			}),
	}}
	m := generate(t, prog, testResources(), nil)
	require.True(t, m.HasHelper("linear"))
	requireBalanced(t, m.Programs[0])
}

// Scenario 3: kprobe:f { if (pid == 42) { printf("hi %d\n", tid); } }
func TestPrintfRecordsArgOffsets(t *testing.T) {
	res := testResources()
	res.PrintfArgs = [][]ast.Field{{{Name: "arg0", Type: ast.Int64()}}}

	prog := &ast.Program{Probes: []*ast.Probe{
		kprobe("f", nil,
			&ast.If{
				Cond: &ast.Binop{Op: ast.OpEq, Left: builtinU64("pid"), Right: intLit(42), Typ: ast.UInt64()},
				Stmts: []ast.Statement{
					&ast.ExprStatement{Expr: &ast.Call{
						Func: "printf",
						Args: []ast.Expression{strLit("hi %d\n"), builtinU64("tid")},
					}},
				},
			}),
	}}
	m := generate(t, prog, res, nil)

	require.Equal(t, 8, res.PrintfArgs[0][0].Offset, "first printf argument sits after the id word")
	p := m.Programs[0]
	require.NotEmpty(t, callsOf(p.Insns, asm.FnPerfEventOutput))
	require.Contains(t, storedConstants(p.Insns), int64(asyncevent.Printf)+0,
		"first printf call site carries id 0")
	requireBalanced(t, p)
}

// Scenario 4: uprobe:/bin/sh:readline { $s = str(arg0); if ($s == "exit") { exit(); } }
func TestStrCompareAndExit(t *testing.T) {
	strType := ast.StringOf(64)
	readVar := func() *ast.Variable { return &ast.Variable{Ident: "$s", Typ: strType} }
	arg0 := &ast.Builtin{Ident: "arg0", Typ: ast.PointerTo(ast.IntN(1, false), ast.AddrSpaceUser)}

	prog := &ast.Program{Probes: []*ast.Probe{{
		AttachPoints: []*ast.AttachPoint{{Provider: "uprobe", Target: "/bin/sh", Func: "readline"}},
		Stmts: []ast.Statement{
			&ast.AssignVar{
				Var:  readVar(),
				Expr: &ast.Call{Func: "str", Args: []ast.Expression{arg0}, Typ: strType},
			},
			&ast.If{
				Cond: &ast.Binop{Op: ast.OpEq, Left: readVar(), Right: strLit("exit"), Typ: ast.UInt64()},
				Stmts: []ast.Statement{
					&ast.ExprStatement{Expr: &ast.Call{Func: "exit"}},
				},
			},
		},
	}}}
	m := generate(t, prog, testResources(), nil)

	p := m.Programs[0]
	require.NotEmpty(t, callsOf(p.Insns, asm.FnProbeReadUserStr), "str() on a user pointer")

	// The literal is compared inline, never copied to the stack: the
	// byte values of "exit" appear as jump immediates, not stores.
	jneOp := asm.JNE.Imm(asm.R0, 0, "x").OpCode
	var cmpBytes []int64
	for _, ins := range p.Insns {
		if ins.OpCode == jneOp {
			cmpBytes = append(cmpBytes, ins.Constant)
		}
	}
	require.Subset(t, cmpBytes, []int64{'e', 'x', 'i', 't', 0})
	for _, c := range storedConstants(p.Insns) {
		require.NotEqual(t, int64('e')|int64('x')<<8|int64('i')<<16|int64('t')<<24, c,
			"literal must not be materialized on the stack")
	}

	// exit() emits its record and returns; the rest of the if body is
	// unreachable, while the path where the condition is false still
	// reaches the epilogue: the early return plus the epilogue's return.
	require.Contains(t, storedConstants(p.Insns), int64(asyncevent.Exit))
	require.Len(t, returnsOf(p.Insns), 2)
	requireBalanced(t, p)
}

func TestExitDropsDeadStatements(t *testing.T) {
	prog := &ast.Program{Probes: []*ast.Probe{
		kprobe("f", nil,
			&ast.ExprStatement{Expr: &ast.Call{Func: "exit"}},
			&ast.ExprStatement{Expr: &ast.Call{
				Func: "printf",
				Args: []ast.Expression{strLit("unreachable")},
			}},
		),
	}}
	res := testResources()
	res.PrintfArgs = [][]ast.Field{{}}
	m := generate(t, prog, res, nil)

	p := m.Programs[0]
	require.Len(t, callsOf(p.Insns, asm.FnPerfEventOutput), 1,
		"only the exit record may be emitted; the printf after exit is dead")
	require.Len(t, returnsOf(p.Insns), 1)
	requireBalanced(t, p)
}

// Scenario 5: usdt fan-out with two locations.
func TestUSDTLocationFanout(t *testing.T) {
	fake := resolver.NewFake()
	fake.Matches["usdt:libfoo:probe1"] = []string{"libfoo:ns:probe1"}
	fake.USDTs["libfoo:ns:probe1"] = &resolver.USDT{
		Locations: []resolver.USDTLocation{
			{Args: []resolver.USDTArg{{Kind: resolver.USDTArgRegister, Size: 8, Register: "di"}}},
			{Args: []resolver.USDTArg{{Kind: resolver.USDTArgMemory, Size: 8, Register: "bp", Offset: -8}}},
		},
	}

	prog := &ast.Program{Probes: []*ast.Probe{{
		AttachPoints: []*ast.AttachPoint{{Provider: "usdt", Target: "libfoo", Func: "probe1"}},
		Stmts: []ast.Statement{
			&ast.AssignMap{
				Map:  mapNode("@", builtinU64("arg0")),
				Expr: aggCall("count", mapNode("@", builtinU64("arg0"))),
			},
		},
	}}}
	m := generate(t, prog, testResources(), fake)

	require.Len(t, m.Programs, 2)
	require.Equal(t, "s_usdt:libfoo:ns:probe1_loc0_1", m.Programs[0].SectionName)
	require.Equal(t, "s_usdt:libfoo:ns:probe1_loc1_2", m.Programs[1].SectionName)

	// Location 1 dereferences memory, location 0 does not.
	require.Empty(t, callsOf(m.Programs[0].Insns, asm.FnProbeReadUser))
	require.NotEmpty(t, callsOf(m.Programs[1].Insns, asm.FnProbeReadUser))
	for _, p := range m.Programs {
		requireBalanced(t, p)
	}
}

// Per-probe id reset across wildcard matches.
func TestWildcardCounterReset(t *testing.T) {
	fake := resolver.NewFake()
	fake.Matches["kprobe:do_*"] = []string{"do_sys_open", "do_nanosleep"}

	res := testResources()
	res.PrintfArgs = [][]ast.Field{{}}

	prog := &ast.Program{Probes: []*ast.Probe{{
		NeedExpansion: true,
		AttachPoints:  []*ast.AttachPoint{{Provider: "kprobe", Func: "do_*"}},
		Stmts: []ast.Statement{
			&ast.ExprStatement{Expr: &ast.Call{
				Func: "printf",
				Args: []ast.Expression{strLit("x")},
			}},
		},
	}}}
	m := generate(t, prog, res, fake)

	require.Len(t, m.Programs, 2)
	require.Equal(t, "s_kprobe:do_sys_open_1", m.Programs[0].SectionName)
	require.Equal(t, "s_kprobe:do_nanosleep_2", m.Programs[1].SectionName)
	for _, p := range m.Programs {
		require.Contains(t, storedConstants(p.Insns), int64(asyncevent.Printf)+0,
			"each wildcard match restarts printf ids at the snapshot")
	}
	require.Equal(t,
		marshalProgram(t, m.Programs[0]),
		marshalProgram(t, m.Programs[1]),
		"identical bodies with reset counters lower identically")
}

// Short-circuit: the right operand only runs behind the guard jump.
func TestLogicalShortCircuit(t *testing.T) {
	// 0 && ++@ — the map's read-modify-write is the observable effect.
	prog := &ast.Program{Probes: []*ast.Probe{
		kprobe("f", nil,
			&ast.ExprStatement{Expr: &ast.Binop{
				Op:   ast.OpLAnd,
				Left: intLit(0),
				Right: &ast.Unop{
					Op:   ast.OpIncrement,
					Expr: mapNode("@"),
					Typ:  ast.UInt64(),
				},
				Typ: ast.UInt64(),
			}},
		),
	}}
	m := generate(t, prog, testResources(), nil)
	p := m.Programs[0]

	update := callsOf(p.Insns, asm.FnMapUpdateElem)
	require.NotEmpty(t, update, "the right operand is still lowered")

	jeqOp := asm.JEq.Imm(asm.R0, 0, "x").OpCode
	firstGuard := -1
	for i, ins := range p.Insns {
		if ins.OpCode == jeqOp {
			firstGuard = i
			break
		}
	}
	require.GreaterOrEqual(t, firstGuard, 0)
	require.Less(t, firstGuard, update[0],
		"the guard jump must precede the right operand's effects")
	requireBalanced(t, p)
}

func TestMinUsesInvertedCompare(t *testing.T) {
	prog := &ast.Program{Probes: []*ast.Probe{
		kprobe("f", nil,
			&ast.AssignMap{
				Map:  mapNode("@"),
				Expr: aggCall("min", mapNode("@"), builtinU64("arg0")),
			}),
	}}
	m := generate(t, prog, testResources(), nil)
	p := m.Programs[0]

	foundInvert := false
	for _, ins := range p.Insns {
		if ins.OpCode.IsDWordLoad() && ins.Constant == 0xffffffff {
			foundInvert = true
		}
	}
	require.True(t, foundInvert, "min stores 0xffffffff - v")

	jslt := asm.JSLT.Reg(asm.R0, asm.R1, "x").OpCode
	guarded := false
	for _, ins := range p.Insns {
		if ins.OpCode == jslt {
			guarded = true
		}
	}
	require.True(t, guarded, "the update is guarded by a signed compare")
	requireBalanced(t, p)
}

func TestMaxGuardsUpdate(t *testing.T) {
	prog := &ast.Program{Probes: []*ast.Probe{
		kprobe("f", nil,
			&ast.AssignMap{
				Map:  mapNode("@"),
				Expr: aggCall("max", mapNode("@"), builtinU64("arg0")),
			}),
	}}
	m := generate(t, prog, testResources(), nil)
	p := m.Programs[0]
	for _, ins := range p.Insns {
		if ins.OpCode.IsDWordLoad() && ins.Constant == 0xffffffff {
			t.Fatal("max must not invert the value")
		}
	}
	require.NotEmpty(t, callsOf(p.Insns, asm.FnMapUpdateElem))
	requireBalanced(t, p)
}

// Scenario 6: BEGIN stamps a slot, a kprobe reads it back into a hist.
func TestBeginAndElapsedStyleFlow(t *testing.T) {
	prog := &ast.Program{Probes: []*ast.Probe{
		{
			NeedExpansion: true,
			AttachPoints:  []*ast.AttachPoint{{Provider: "BEGIN"}},
			Stmts: []ast.Statement{
				&ast.AssignMap{Map: mapNode("@start"), Expr: builtinU64("nsecs")},
			},
		},
		kprobe("f", nil,
			&ast.AssignVar{
				Var: &ast.Variable{Ident: "$d", Typ: ast.UInt64()},
				Expr: &ast.Binop{
					Op:    ast.OpMinus,
					Left:  builtinU64("nsecs"),
					Right: mapNode("@start"),
					Typ:   ast.UInt64(),
				},
			},
			&ast.AssignMap{
				Map: mapNode("@lat"),
				Expr: aggCall("hist", mapNode("@lat"),
					&ast.Variable{Ident: "$d", Typ: ast.UInt64()}),
			}),
	}}
	m := generate(t, prog, testResources(), nil)

	require.Len(t, m.Programs, 2)
	require.Equal(t, "s_BEGIN_1", m.Programs[0].SectionName)
	require.Equal(t, "s_kprobe:f_1", m.Programs[1].SectionName)
	require.NotEmpty(t, callsOf(m.Programs[0].Insns, asm.FnKtimeGetNs))
	require.NotEmpty(t, callsOf(m.Programs[1].Insns, asm.FnMapLookupElem))
	require.True(t, m.HasHelper("log2"))
}

// Every context access is a direct exact-width load off the saved
// context register.
func TestVolatileContextLoads(t *testing.T) {
	prog := &ast.Program{Probes: []*ast.Probe{
		kprobe("f", nil,
			&ast.AssignMap{
				Map:  mapNode("@", builtinU64("arg0"), builtinU64("retval")),
				Expr: aggCall("count", mapNode("@", builtinU64("arg0"), builtinU64("retval"))),
			}),
	}}
	m := generate(t, prog, testResources(), nil)
	p := m.Programs[0]

	require.Len(t, p.CtxAccesses, 2)
	for _, acc := range p.CtxAccesses {
		ins := p.Insns[acc.InsnIndex]
		require.Equal(t, asm.R9, ins.Src, "context loads read the saved context register")
		require.Equal(t, 8, acc.Size, "register snapshot cells are 8 bytes wide")
	}
	// arg0 is rdi, retval is rax on x86-64.
	require.Equal(t, int16(14*8), p.CtxAccesses[0].Off)
	require.Equal(t, int16(10*8), p.CtxAccesses[1].Off)
}

func TestPredicateReturnsEarly(t *testing.T) {
	prog := &ast.Program{Probes: []*ast.Probe{
		kprobe("f",
			&ast.Binop{Op: ast.OpEq, Left: builtinU64("pid"), Right: intLit(1), Typ: ast.UInt64()},
			&ast.AssignMap{
				Map:  mapNode("@"),
				Expr: aggCall("count", mapNode("@")),
			}),
	}}
	m := generate(t, prog, testResources(), nil)
	p := m.Programs[0]
	require.Len(t, returnsOf(p.Insns), 2, "predicate-false return plus the epilogue")
	requireBalanced(t, p)
}

func TestWhileBreakContinue(t *testing.T) {
	i := func() *ast.Variable { return &ast.Variable{Ident: "$i", Typ: ast.UInt64()} }
	prog := &ast.Program{Probes: []*ast.Probe{
		kprobe("f", nil,
			&ast.AssignVar{Var: i(), Expr: intLit(0)},
			&ast.While{
				Cond: &ast.Binop{Op: ast.OpLt, Left: i(), Right: intLit(10), Typ: ast.UInt64()},
				Stmts: []ast.Statement{
					&ast.ExprStatement{Expr: &ast.Unop{Op: ast.OpIncrement, Expr: i(), Typ: ast.UInt64()}},
					&ast.If{
						Cond:  &ast.Binop{Op: ast.OpEq, Left: i(), Right: intLit(5), Typ: ast.UInt64()},
						Stmts: []ast.Statement{&ast.Jump{Kind: ast.JumpBreak}},
					},
					&ast.Jump{Kind: ast.JumpContinue},
				},
			}),
	}}
	m := generate(t, prog, testResources(), nil)
	requireBalanced(t, m.Programs[0])
}

func TestUnrollReplicates(t *testing.T) {
	res := testResources()
	res.PrintfArgs = [][]ast.Field{{}, {}, {}}
	prog := &ast.Program{Probes: []*ast.Probe{
		kprobe("f", nil,
			&ast.Unroll{
				N: 3,
				Stmts: []ast.Statement{
					&ast.ExprStatement{Expr: &ast.Call{
						Func: "printf",
						Args: []ast.Expression{strLit("x")},
					}},
				},
			}),
	}}
	m := generate(t, prog, res, nil)
	p := m.Programs[0]
	require.Len(t, callsOf(p.Insns, asm.FnPerfEventOutput), 3)
	got := storedConstants(p.Insns)
	for id := int64(0); id < 3; id++ {
		require.Contains(t, got, int64(asyncevent.Printf)+id,
			"each unrolled iteration is its own printf call site")
	}
}

func TestUnknownIdentifierIsFatal(t *testing.T) {
	prog := &ast.Program{Probes: []*ast.Probe{
		kprobe("f", nil,
			&ast.ExprStatement{Expr: &ast.Identifier{Ident: "NOSUCH", Typ: ast.UInt64()}}),
	}}
	g, err := New(prog, Config{Resources: testResources(), Resolver: resolver.NewFake(), Arch: testArch(t)})
	require.NoError(t, err)
	_, err = g.Generate()
	require.Error(t, err)
	var cerr *CompileError
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, ErrUnknownIdentifier, cerr.Kind)
}

func TestUaddrFailureIsFatal(t *testing.T) {
	prog := &ast.Program{Probes: []*ast.Probe{{
		AttachPoints: []*ast.AttachPoint{{Provider: "uprobe", Target: "/bin/sh", Func: "f"}},
		Stmts: []ast.Statement{
			&ast.ExprStatement{Expr: &ast.Call{
				Func: "uaddr",
				Args: []ast.Expression{strLit("missing_symbol")},
				Typ:  ast.UInt64(),
			}},
		},
	}}}
	g, err := New(prog, Config{Resources: testResources(), Resolver: resolver.NewFake(), Arch: testArch(t)})
	require.NoError(t, err)
	_, err = g.Generate()
	var cerr *CompileError
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, ErrSymbolResolution, cerr.Kind)
}

func TestClearEmitsMapEvent(t *testing.T) {
	prog := &ast.Program{Probes: []*ast.Probe{
		kprobe("f", nil,
			&ast.ExprStatement{Expr: &ast.Call{
				Func: "clear",
				Args: []ast.Expression{mapNode("@")},
			}}),
	}}
	m := generate(t, prog, testResources(), nil)
	p := m.Programs[0]
	consts := storedConstants(p.Insns)
	require.Contains(t, consts, int64(asyncevent.Clear))
	require.Contains(t, consts, int64(1), "the map id rides in the record")
	requireBalanced(t, p)
}

func TestProbeBuiltinInternsNames(t *testing.T) {
	fake := resolver.NewFake()
	fake.Matches["kprobe:do_*"] = []string{"do_a", "do_b"}
	prog := &ast.Program{Probes: []*ast.Probe{{
		NeedExpansion: true,
		AttachPoints:  []*ast.AttachPoint{{Provider: "kprobe", Func: "do_*"}},
		Stmts: []ast.Statement{
			&ast.AssignMap{
				Map:  mapNode("@", &ast.Builtin{Ident: "probe", Typ: ast.UInt64()}),
				Expr: aggCall("count", mapNode("@", &ast.Builtin{Ident: "probe", Typ: ast.UInt64()})),
			},
		},
	}}}
	m := generate(t, prog, testResources(), fake)
	require.Len(t, m.Programs, 2)
	require.NotEqual(t,
		marshalProgram(t, m.Programs[0]),
		marshalProgram(t, m.Programs[1]),
		"the probe id differs per match, so the programs differ")
}
