// Package doctor implements the `tracegen doctor` subcommand, which
// checks that the environment can host the programs this generator
// emits: a supported register layout and the kernel surfaces the
// runtime needs to load and attach them.
package doctor

import (
	"fmt"
	"io"
	"os"

	"github.com/tracegen/tracegen/internal/arch"
)

// Config holds settings for the doctor check.
type Config struct {
	Stdout io.Writer
	Stderr io.Writer

	// ArchName overrides host architecture detection.
	ArchName string
}

// statFile is the function used to probe kernel surfaces; swapped in
// tests.
var statFile = os.Stat

// Run prints environment findings and returns an error when the target
// cannot work at all.
func Run(cfg Config) error {
	if cfg.Stdout == nil {
		cfg.Stdout = io.Discard
	}
	if cfg.Stderr == nil {
		cfg.Stderr = io.Discard
	}

	fmt.Fprintln(cfg.Stdout, "tracegen doctor")

	var a *arch.Arch
	var err error
	if cfg.ArchName != "" {
		a, err = arch.Lookup(cfg.ArchName)
	} else {
		a, err = arch.Host()
	}
	if err != nil {
		fmt.Fprintf(cfg.Stderr, "  architecture:  %v\n", err)
		return err
	}
	fmt.Fprintf(cfg.Stdout, "  architecture:  %s\n", a.Name)

	checks := []struct {
		label string
		path  string
		note  string
	}{
		{"bpf filesystem", "/sys/fs/bpf", "map pinning unavailable"},
		{"tracefs", "/sys/kernel/debug/tracing", "probe attachment may need debugfs mounted"},
		{"perf events", "/proc/sys/kernel/perf_event_paranoid", "async event ring unavailable"},
		{"kallsyms", "/proc/kallsyms", "kernel symbol resolution unavailable"},
	}

	var warnings int
	for _, c := range checks {
		if _, err := statFile(c.path); err != nil {
			fmt.Fprintf(cfg.Stdout, "  %-14s (not found, %s)\n", c.label+":", c.note)
			warnings++
			continue
		}
		fmt.Fprintf(cfg.Stdout, "  %-14s %s\n", c.label+":", c.path)
	}

	if warnings > 0 {
		fmt.Fprintf(cfg.Stdout, "%d warning(s); objects can still be emitted offline\n", warnings)
	} else {
		fmt.Fprintln(cfg.Stdout, "all checks passed")
	}
	return nil
}
