// Package pipeline orchestrates a compile: lower the type-checked AST
// into sandbox programs, write the object file, and validate the result.
package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/tracegen/tracegen/internal/arch"
	"github.com/tracegen/tracegen/internal/ast"
	"github.com/tracegen/tracegen/internal/codegen"
	"github.com/tracegen/tracegen/internal/diag"
	"github.com/tracegen/tracegen/internal/objfile"
	"github.com/tracegen/tracegen/internal/resolver"
)

// Config holds all settings for one compile run.
type Config struct {
	Program   *ast.Program
	Resources *ast.Resources
	Resolver  resolver.Resolver

	Output          string
	Arch            *arch.Arch
	Pid             int
	KernelHasBootNs bool

	Logger *zap.Logger
}

// Artifacts records the products of a compile run.
type Artifacts struct {
	Module    *codegen.Module
	OutputObj string
}

// Run executes the pipeline: lower → emit → validate.
func Run(ctx context.Context, cfg Config) (*Artifacts, error) {
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	gen, err := codegen.New(cfg.Program, codegen.Config{
		Resources:       cfg.Resources,
		Resolver:        cfg.Resolver,
		Arch:            cfg.Arch,
		Pid:             cfg.Pid,
		KernelHasBootNs: cfg.KernelHasBootNs,
	})
	if err != nil {
		return nil, &diag.Error{Stage: diag.StageInput, Err: err}
	}

	module, err := gen.Generate()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	log.Info("lowered program",
		zap.Int("programs", len(module.Programs)),
		zap.Int("helpers", len(module.Helpers)))
	for _, p := range module.Programs {
		log.Debug("emitted program",
			zap.String("section", p.SectionName),
			zap.Int("instructions", len(p.Insns)),
			zap.Int("stack_bytes", p.StackUsage))
	}

	if err := objfile.Write(cfg.Output, module); err != nil {
		return nil, err
	}
	if err := objfile.Validate(cfg.Output); err != nil {
		return nil, err
	}
	log.Info("wrote object", zap.String("path", cfg.Output))

	return &Artifacts{Module: module, OutputObj: cfg.Output}, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Program == nil {
		return &diag.Error{Stage: diag.StageInput, Err: fmt.Errorf("no program"),
			Hint: "the front-end must hand over a type-checked AST"}
	}
	if cfg.Resources == nil {
		return &diag.Error{Stage: diag.StageInput, Err: fmt.Errorf("no resources"),
			Hint: "the analyzer's dictionaries are required for lowering"}
	}
	if cfg.Resolver == nil {
		return &diag.Error{Stage: diag.StageInput, Err: fmt.Errorf("no resolver")}
	}
	if cfg.Output == "" {
		return &diag.Error{Stage: diag.StageInput, Err: fmt.Errorf("no output path")}
	}
	return nil
}
