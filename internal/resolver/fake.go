package resolver

import (
	"fmt"

	"github.com/tracegen/tracegen/internal/ast"
)

// Fake is a canned Resolver for tests and offline compilation.
type Fake struct {
	Knames  map[string]uint64
	Unames  map[string]Symbol
	Cgroups map[string]uint64
	Matches map[string][]string
	USDTs   map[string]*USDT
}

// NewFake returns an empty Fake. Until populated, symbol, cgroup and
// USDT lookups miss (ResolveKname returns 0), and wildcard expansion
// returns the attach point itself as its only match.
func NewFake() *Fake {
	return &Fake{
		Knames:  make(map[string]uint64),
		Unames:  make(map[string]Symbol),
		Cgroups: make(map[string]uint64),
		Matches: make(map[string][]string),
		USDTs:   make(map[string]*USDT),
	}
}

func (f *Fake) ResolveKname(name string) uint64 { return f.Knames[name] }

func (f *Fake) ResolveUname(name, target string) (Symbol, error) {
	sym, ok := f.Unames[target+":"+name]
	if !ok || sym.Address == 0 {
		return Symbol{}, fmt.Errorf("no such symbol %q in %q", name, target)
	}
	return sym, nil
}

func (f *Fake) ResolveCgroupid(path string) (uint64, error) {
	id, ok := f.Cgroups[path]
	if !ok {
		return 0, fmt.Errorf("no cgroup at %q", path)
	}
	return id, nil
}

func (f *Fake) FindWildcardMatches(ap *ast.AttachPoint) ([]string, error) {
	if m, ok := f.Matches[ap.Name()]; ok {
		return m, nil
	}
	// Non-wildcard attach points match themselves.
	switch ap.Provider {
	case "tracepoint", "uprobe", "uretprobe":
		return []string{ap.Target + ":" + ap.Func}, nil
	case "usdt":
		return []string{ap.Target + ":" + ap.Ns + ":" + ap.Func}, nil
	}
	return []string{ap.Func}, nil
}

func (f *Fake) FindUSDT(pid int, target, ns, fn string) (*USDT, error) {
	u, ok := f.USDTs[target+":"+ns+":"+fn]
	if !ok {
		return nil, fmt.Errorf("no usdt probe %s:%s in %s", ns, fn, target)
	}
	return u, nil
}
