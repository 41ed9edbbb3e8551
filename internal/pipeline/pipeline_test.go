package pipeline

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/tracegen/tracegen/internal/arch"
	"github.com/tracegen/tracegen/internal/ast"
	"github.com/tracegen/tracegen/internal/diag"
	"github.com/tracegen/tracegen/internal/objfile"
	"github.com/tracegen/tracegen/internal/resolver"
)

func testProgram() (*ast.Program, *ast.Resources) {
	m := func() *ast.Map {
		return &ast.Map{Ident: "@", Typ: ast.UInt64()}
	}
	prog := &ast.Program{Probes: []*ast.Probe{{
		AttachPoints: []*ast.AttachPoint{{Provider: "kprobe", Func: "do_nanosleep"}},
		Stmts: []ast.Statement{
			&ast.AssignMap{
				Map:  m(),
				Expr: &ast.Call{Func: "count", Map: m(), Typ: ast.SizedType{Kind: ast.KindNone}},
			},
		},
	}}}
	res := &ast.Resources{
		Enums:          map[string]int64{},
		Structs:        map[string]*ast.Struct{},
		Maps:           map[string]*ast.MapInfo{"@": {ID: 1, FD: 5, ValueType: ast.UInt64()}},
		StrLen:         64,
		PerfEventMapFD: 6,
	}
	return prog, res
}

func TestRunProducesValidObject(t *testing.T) {
	prog, res := testProgram()
	out := filepath.Join(t.TempDir(), "out.o")

	target, err := arch.Lookup("x86_64")
	if err != nil {
		t.Fatal(err)
	}
	artifacts, err := Run(context.Background(), Config{
		Program:   prog,
		Resources: res,
		Resolver:  resolver.NewFake(),
		Output:    out,
		Arch:      target,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(artifacts.Module.Programs) != 1 {
		t.Fatalf("programs = %d, want 1", len(artifacts.Module.Programs))
	}
	if err := objfile.Validate(out); err != nil {
		t.Errorf("object invalid: %v", err)
	}
}

func TestRunValidatesConfig(t *testing.T) {
	prog, res := testProgram()
	tests := []struct {
		name string
		cfg  Config
	}{
		{"no program", Config{Resources: res, Resolver: resolver.NewFake(), Output: "x.o"}},
		{"no resources", Config{Program: prog, Resolver: resolver.NewFake(), Output: "x.o"}},
		{"no resolver", Config{Program: prog, Resources: res, Output: "x.o"}},
		{"no output", Config{Program: prog, Resources: res, Resolver: resolver.NewFake()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Run(context.Background(), tt.cfg)
			if err == nil {
				t.Fatal("want error")
			}
			if !diag.IsStage(err, diag.StageInput) {
				t.Errorf("error = %v, want input-stage diag", err)
			}
		})
	}
}
