package resolver

import (
	"testing"

	"github.com/tracegen/tracegen/internal/ast"
)

func TestFakeLookups(t *testing.T) {
	f := NewFake()
	f.Knames["do_nanosleep"] = 0xffffffff81000000
	f.Unames["/bin/sh:main"] = Symbol{Address: 0x400000}
	f.Cgroups["/sys/fs/cgroup/test"] = 42

	if got := f.ResolveKname("do_nanosleep"); got != 0xffffffff81000000 {
		t.Errorf("ResolveKname = %#x", got)
	}
	if got := f.ResolveKname("missing"); got != 0 {
		t.Errorf("missing kname = %#x, want 0", got)
	}

	sym, err := f.ResolveUname("main", "/bin/sh")
	if err != nil || sym.Address != 0x400000 {
		t.Errorf("ResolveUname = %#x, %v", sym.Address, err)
	}
	if _, err := f.ResolveUname("missing", "/bin/sh"); err == nil {
		t.Error("missing uname must fail")
	}

	id, err := f.ResolveCgroupid("/sys/fs/cgroup/test")
	if err != nil || id != 42 {
		t.Errorf("ResolveCgroupid = %d, %v", id, err)
	}
}

func TestFakeWildcardDefaults(t *testing.T) {
	f := NewFake()

	matches, err := f.FindWildcardMatches(&ast.AttachPoint{Provider: "kprobe", Func: "do_nanosleep"})
	if err != nil || len(matches) != 1 || matches[0] != "do_nanosleep" {
		t.Errorf("kprobe self-match = %v, %v", matches, err)
	}

	matches, err = f.FindWildcardMatches(&ast.AttachPoint{
		Provider: "tracepoint", Target: "syscalls", Func: "sys_enter_open",
	})
	if err != nil || matches[0] != "syscalls:sys_enter_open" {
		t.Errorf("tracepoint self-match = %v, %v", matches, err)
	}

	f.Matches["kprobe:do_*"] = []string{"do_a", "do_b"}
	matches, _ = f.FindWildcardMatches(&ast.AttachPoint{Provider: "kprobe", Func: "do_*"})
	if len(matches) != 2 {
		t.Errorf("canned matches = %v", matches)
	}
}

func TestFakeUSDT(t *testing.T) {
	f := NewFake()
	f.USDTs["libfoo:ns:p"] = &USDT{Locations: []USDTLocation{{}, {}}}
	u, err := f.FindUSDT(0, "libfoo", "ns", "p")
	if err != nil || u.NumLocations() != 2 {
		t.Errorf("FindUSDT = %v, %v", u, err)
	}
	if _, err := f.FindUSDT(0, "libfoo", "ns", "missing"); err == nil {
		t.Error("missing usdt must fail")
	}
}
