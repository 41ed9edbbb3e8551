package codegen

import (
	"fmt"
	"strings"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/asm"

	"github.com/tracegen/tracegen/internal/ast"
	"github.com/tracegen/tracegen/internal/diag"
)

// probe drives emission for one probe: either a single program named by
// the probe's canonical name, or one program per wildcard match (and per
// USDT location), with the per-call-site counters snapshotted before and
// restored between matches so each program's id tables start at the same
// baseline.
func (g *Gen) probe(p *ast.Probe) error {
	if len(p.AttachPoints) == 0 {
		return bug("probe without attach points")
	}

	needExpansion := p.NeedExpansion
	// USDT argument encodings are per-location; expansion is forced.
	if p.AttachPoints[0].Provider == "usdt" {
		needExpansion = true
	}

	if !needExpansion {
		g.curAP = p.AttachPoints[0]
		g.probefull = p.Name()
		g.tpStruct = ""
		if g.curAP.Provider == "tracepoint" {
			g.tpStruct = tracepointStructName(g.curAP.Target, g.curAP.Func)
		}
		err := g.emitProgram(p, g.probefull)
		g.curAP = nil
		return err
	}

	snapshot := g.counters
	for _, ap := range p.AttachPoints {
		g.curAP = ap

		var matches []string
		if ap.Provider == "BEGIN" || ap.Provider == "END" {
			matches = []string{ap.Provider}
		} else {
			var err error
			matches, err = g.cfg.Resolver.FindWildcardMatches(ap)
			if err != nil {
				return &diag.Error{
					Stage:     diag.StageExpand,
					Construct: ap.Name(),
					Err:       err,
					Hint:      "the attach point matched nothing on this system",
				}
			}
		}

		g.tpStruct = ""
		for _, match := range matches {
			g.counters = snapshot

			if ap.Provider == "usdt" {
				if err := g.emitUSDTMatch(p, ap, match, snapshot); err != nil {
					return err
				}
				continue
			}

			switch {
			case ap.Provider == "BEGIN" || ap.Provider == "END":
				g.probefull = ap.Provider
			case ap.Provider == "tracepoint" || ap.Provider == "uprobe" ||
				ap.Provider == "uretprobe":
				category, fn := splitFirst(match)
				g.probefull = ap.NameWith(category, fn)
				if ap.Provider == "tracepoint" {
					g.tpStruct = tracepointStructName(category, fn)
				}
			default:
				g.probefull = ap.NameWith(match)
			}
			if err := g.emitProgram(p, g.probefull); err != nil {
				return err
			}
		}
	}
	g.curAP = nil
	return nil
}

// emitUSDTMatch fans a USDT match out into one program per note
// location, resetting the counters to the match baseline each time.
func (g *Gen) emitUSDTMatch(p *ast.Probe, ap *ast.AttachPoint, match string, snapshot counters) error {
	target, rest := splitFirst(match)
	ns, fn := splitFirst(rest)
	g.probefull = ap.NameWith(target, ns, fn)

	usdt, err := g.cfg.Resolver.FindUSDT(g.cfg.Pid, target, ns, fn)
	if err != nil {
		return &diag.Error{
			Stage:     diag.StageExpand,
			Construct: g.probefull,
			Err:       fmt.Errorf("failed to find usdt probe: %w", err),
		}
	}
	g.curUSDT = usdt
	defer func() { g.curUSDT = nil }()

	for i := 0; i < usdt.NumLocations(); i++ {
		g.counters = snapshot
		g.usdtLocIdx = i
		section := fmt.Sprintf("%s_loc%d", g.probefull, i)
		if err := g.emitProgram(p, section); err != nil {
			return err
		}
	}
	return nil
}

// emitProgram lowers the probe body into one finished program. The base
// name carries any expansion suffixes; the section index is a per-probe-
// name monotonic counter, which is what makes section strings unique.
func (g *Gen) emitProgram(p *ast.Probe, base string) error {
	index := g.nextIndexForProbe(p.Name())
	b := newBuilder(&g.counters, g.res)
	g.b = b
	g.vars = make(map[string]varSlot)
	g.loops = nil

	// Prologue: park the context pointer for the program's lifetime.
	b.emit(asm.Mov.Reg(ctxReg, asm.R1))

	if p.Pred != nil {
		if err := g.predicate(p.Pred); err != nil {
			return g.lowerErr(err)
		}
	}
	if err := g.stmts(p.Stmts); err != nil {
		return g.lowerErr(err)
	}
	b.retZero()

	insns, err := b.finalize()
	if err != nil {
		return g.lowerErr(err)
	}
	stack, err := b.Frame.Finish()
	if err != nil {
		return g.lowerErr(err)
	}
	allocs, releases := b.Frame.Balance()

	accesses := make([]CtxAccess, 0, len(b.ctxLoads))
	for _, cl := range b.ctxLoads {
		accesses = append(accesses, CtxAccess{InsnIndex: cl.idx, Off: cl.off, Size: cl.size.Sizeof()})
	}

	g.module.Programs = append(g.module.Programs, &Program{
		Name:          base,
		SectionName:   sectionName(base, index),
		Type:          progTypeFor(g.curAP.Provider),
		Insns:         insns,
		StackUsage:    stack,
		CtxAccesses:   accesses,
		FrameAllocs:   allocs,
		FrameReleases: releases,
	})
	return nil
}

func (g *Gen) lowerErr(err error) error {
	return &diag.Error{
		Stage:     diag.StageLower,
		Construct: g.probefull,
		Err:       err,
	}
}

// nextIndexForProbe returns the 1-based monotonic index for a probe name.
func (g *Gen) nextIndexForProbe(name string) int {
	if g.nextProbeIndex[name] == 0 {
		g.nextProbeIndex[name] = 1
	}
	index := g.nextProbeIndex[name]
	g.nextProbeIndex[name]++
	return index
}

// sectionName builds the loader-facing section string.
func sectionName(base string, index int) string {
	return fmt.Sprintf("s_%s_%d", base, index)
}

// splitFirst splits "a:b:c" into "a" and "b:c".
func splitFirst(s string) (string, string) {
	if i := strings.IndexByte(s, ':'); i >= 0 {
		return s[:i], s[i+1:]
	}
	return s, ""
}

// tracepointStructName is the record name the analyzer registers for a
// tracepoint's format struct.
func tracepointStructName(category, fn string) string {
	return "_tracepoint_" + category + "_" + fn
}

// progTypeFor maps an attach point provider to the program type the
// loader needs.
func progTypeFor(provider string) ebpf.ProgramType {
	switch provider {
	case "tracepoint":
		return ebpf.TracePoint
	case "profile", "interval", "software", "hardware":
		return ebpf.PerfEvent
	case "kfunc", "kretfunc":
		return ebpf.Tracing
	default:
		// kprobe, kretprobe, uprobe, uretprobe, usdt, BEGIN, END.
		return ebpf.Kprobe
	}
}
