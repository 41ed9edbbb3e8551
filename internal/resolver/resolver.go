// Package resolver declares the contracts the code generator needs from
// its host: symbol-to-address resolution, wildcard expansion against the
// live kernel or target binary, and USDT note lookup. The generator never
// touches the live system itself; the runtime supplies an implementation
// and tests use the fake in this package.
package resolver

import "github.com/tracegen/tracegen/internal/ast"

// Symbol is a resolved user-space symbol.
type Symbol struct {
	Address uint64
	Size    uint64
}

// USDTArgKind tells the argument reader how one USDT argument is encoded
// at a given probe location.
type USDTArgKind int

const (
	// USDTArgConstant is a literal baked into the note.
	USDTArgConstant USDTArgKind = iota
	// USDTArgRegister is a value live in a register.
	USDTArgRegister
	// USDTArgMemory dereferences register + offset.
	USDTArgMemory
)

// USDTArg is one argument of one USDT probe location.
type USDTArg struct {
	Kind     USDTArgKind
	Size     int
	Signed   bool
	Register string
	Offset   int64
	Constant int64
}

// USDTLocation is one concrete instantiation of a USDT probe in a binary.
// A probe inlined into several callers has several locations, and the
// argument encodings usually differ between them.
type USDTLocation struct {
	Address uint64
	Args    []USDTArg
}

// USDT is the note metadata for one (target, namespace, function) probe.
type USDT struct {
	Path      string
	Provider  string
	Name      string
	Locations []USDTLocation
}

// NumLocations returns the location fan-out count.
func (u *USDT) NumLocations() int { return len(u.Locations) }

// Resolver is the host-side lookup surface.
type Resolver interface {
	// ResolveKname resolves a kernel symbol to its address; unknown
	// symbols resolve to 0, matching kernel-side kallsyms semantics.
	ResolveKname(name string) uint64

	// ResolveUname resolves a symbol in the given user binary.
	ResolveUname(name, target string) (Symbol, error)

	// ResolveCgroupid resolves a cgroup path to its id.
	ResolveCgroupid(path string) (uint64, error)

	// FindWildcardMatches expands a (possibly wildcarded) attach point
	// into the set of concrete match names, in stable order.
	FindWildcardMatches(ap *ast.AttachPoint) ([]string, error)

	// FindUSDT looks up USDT note metadata for a concrete probe.
	FindUSDT(pid int, target, ns, fn string) (*USDT, error)
}
