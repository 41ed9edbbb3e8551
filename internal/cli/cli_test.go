package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tracegen/tracegen/internal/objfile"
)

const compileDoc = `{
  "probes": [
    {
      "stmts": [
        {
          "kind": "assign_map",
          "map": {"kind": "map", "ident": "@", "keys": [
            {"kind": "builtin", "ident": "comm", "type": {"kind": "string", "size": 16}}
          ], "type": {"kind": "int", "size": 8}},
          "expr": {
            "kind": "call", "func": "count",
            "map": {"kind": "map", "ident": "@", "keys": [
              {"kind": "builtin", "ident": "comm", "type": {"kind": "string", "size": 16}}
            ], "type": {"kind": "int", "size": 8}},
            "type": {"kind": "none"}
          }
        }
      ],
      "attach_points": [{"provider": "kprobe", "func": "do_nanosleep"}]
    }
  ],
  "resources": {
    "maps": {"@": {"id": 1, "fd": 7, "value_type": {"kind": "int", "size": 8}}},
    "strlen": 64,
    "perf_event_map_fd": 9
  }
}`

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := Execute(context.Background(), args, &stdout, &stderr)
	return stdout.String(), stderr.String(), err
}

func TestVersion(t *testing.T) {
	out, _, err := run(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "tracegen") {
		t.Errorf("version output = %q", out)
	}
}

func TestCompileEndToEnd(t *testing.T) {
	dir := t.TempDir()
	doc := filepath.Join(dir, "prog.json")
	if err := os.WriteFile(doc, []byte(compileDoc), 0o600); err != nil {
		t.Fatal(err)
	}
	obj := filepath.Join(dir, "prog.o")

	out, _, err := run(t, "compile", doc, "-o", obj, "--arch", "x86_64")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "1 programs") {
		t.Errorf("output = %q", out)
	}
	if err := objfile.Validate(obj); err != nil {
		t.Errorf("emitted object invalid: %v", err)
	}
}

func TestCompileMissingDocument(t *testing.T) {
	_, _, err := run(t, "compile", "/nonexistent.json", "-o", filepath.Join(t.TempDir(), "x.o"))
	if err == nil {
		t.Error("missing document must fail")
	}
}

func TestCompileRequiresOutput(t *testing.T) {
	_, _, err := run(t, "compile", "whatever.json")
	if err == nil {
		t.Error("missing --output must fail")
	}
}
