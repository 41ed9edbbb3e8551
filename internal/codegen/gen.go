package codegen

import (
	"fmt"
	"strings"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/asm"

	"github.com/tracegen/tracegen/internal/arch"
	"github.com/tracegen/tracegen/internal/ast"
	"github.com/tracegen/tracegen/internal/resolver"
)

// Config carries everything the generator needs besides the AST.
type Config struct {
	Resources *ast.Resources
	Resolver  resolver.Resolver

	// Arch selects the target register layout; nil means the host.
	Arch *arch.Arch

	// Pid scopes USDT note lookup to a running process, 0 for none.
	Pid int

	// KernelHasBootNs selects the boot clock for nsecs when available.
	KernelHasBootNs bool
}

// CtxAccess is one audited context load of a finished program.
type CtxAccess struct {
	InsnIndex int
	Off       int16
	Size      int
}

// Program is one emitted sandbox program.
type Program struct {
	Name        string
	SectionName string
	Type        ebpf.ProgramType
	Insns       asm.Instructions

	// StackUsage is the audited high-water frame usage in bytes.
	StackUsage int
	// CtxAccesses lists every load issued against the context pointer.
	CtxAccesses []CtxAccess
	// FrameAllocs and FrameReleases are the audited lifetime counts.
	FrameAllocs   int
	FrameReleases int
}

// Module is the collection of generated programs plus the lazily
// synthesized helpers.
type Module struct {
	Programs []*Program
	Helpers  []Helper
}

// HasHelper reports whether a named helper was synthesized.
func (m *Module) HasHelper(name string) bool {
	for _, h := range m.Helpers {
		if h.Name == name {
			return true
		}
	}
	return false
}

// Program returns the program with the given section name.
func (m *Module) Program(section string) *Program {
	for _, p := range m.Programs {
		if p.SectionName == section {
			return p
		}
	}
	return nil
}

// ProgramSpecs converts the module into loadable program specs. Map
// references are already bound to the runtime's map fds.
func (m *Module) ProgramSpecs() []*ebpf.ProgramSpec {
	specs := make([]*ebpf.ProgramSpec, 0, len(m.Programs))
	for _, p := range m.Programs {
		specs = append(specs, &ebpf.ProgramSpec{
			Name:         sanitizeName(p.Name),
			SectionName:  p.SectionName,
			Type:         p.Type,
			License:      "GPL",
			Instructions: p.Insns,
		})
	}
	return specs
}

func sanitizeName(name string) string {
	var b strings.Builder
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z',
			c >= '0' && c <= '9', c == '_':
			b.WriteRune(c)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

type varSlot struct {
	slot Slot
	typ  ast.SizedType
}

type loopLabels struct {
	continueTo string
	breakTo    string
}

// Gen lowers one AST into a Module. A Gen is single-use and
// single-threaded: the recursive lowerers share one builder cursor.
type Gen struct {
	root *ast.Program
	cfg  Config
	res  *ast.Resources
	arch *arch.Arch

	b        *builder
	vars     map[string]varSlot
	loops    []loopLabels
	counters counters

	probefull  string
	curAP      *ast.AttachPoint
	curUSDT    *resolver.USDT
	usdtLocIdx int
	tpStruct   string

	nextProbeIndex map[string]int
	probeIDs       []string

	module *Module
}

// New prepares a generator for the given program.
func New(root *ast.Program, cfg Config) (*Gen, error) {
	if cfg.Resources == nil {
		return nil, fmt.Errorf("codegen: nil resources")
	}
	if cfg.Resolver == nil {
		return nil, fmt.Errorf("codegen: nil resolver")
	}
	a := cfg.Arch
	if a == nil {
		host, err := arch.Host()
		if err != nil {
			return nil, err
		}
		a = host
	}
	return &Gen{
		root:           root,
		cfg:            cfg,
		res:            cfg.Resources,
		arch:           a,
		nextProbeIndex: make(map[string]int),
		module:         &Module{},
	}, nil
}

// Generate walks every probe and returns the finished module.
func (g *Gen) Generate() (*Module, error) {
	for _, probe := range g.root.Probes {
		if err := g.probe(probe); err != nil {
			return nil, err
		}
	}
	return g.module, nil
}

// ensureLog2 registers the canonical log2 helper once.
func (g *Gen) ensureLog2() error {
	if g.module.HasHelper("log2") {
		return nil
	}
	h, err := log2Helper()
	if err != nil {
		return err
	}
	g.module.Helpers = append(g.module.Helpers, h)
	return nil
}

// ensureLinear registers the canonical linear helper once.
func (g *Gen) ensureLinear() error {
	if g.module.HasHelper("linear") {
		return nil
	}
	h, err := linearHelper()
	if err != nil {
		return err
	}
	g.module.Helpers = append(g.module.Helpers, h)
	return nil
}

// probeID interns the resolved probe name and returns its id.
func (g *Gen) probeID() int64 {
	for i, name := range g.probeIDs {
		if name == g.probefull {
			return int64(i)
		}
	}
	g.probeIDs = append(g.probeIDs, g.probefull)
	return int64(len(g.probeIDs) - 1)
}

// mapInfo resolves a script map against the analyzer dictionary.
func (g *Gen) mapInfo(ident string) (*ast.MapInfo, error) {
	mi, ok := g.res.Maps[ident]
	if !ok {
		return nil, bug("map %s missing from the resources table", ident)
	}
	return mi, nil
}
