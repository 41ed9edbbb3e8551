package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tracegen/tracegen/internal/arch"
	"github.com/tracegen/tracegen/internal/ast"
	"github.com/tracegen/tracegen/internal/pipeline"
	"github.com/tracegen/tracegen/internal/resolver"
)

type compileOptions struct {
	output    string
	archName  string
	pid       int
	bootNs    bool
	resolvers string
	verbose   bool
}

func newCompileCmd() *cobra.Command {
	opts := &compileOptions{}
	cmd := &cobra.Command{
		Use:   "compile <document.json>",
		Short: "lower a type-checked AST document into a BPF object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(cmd, args[0], opts)
		},
	}
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "object file to write (required)")
	cmd.Flags().StringVar(&opts.archName, "arch", "", "target architecture (default: host)")
	cmd.Flags().IntVar(&opts.pid, "pid", 0, "pid for usdt note lookup")
	cmd.Flags().BoolVar(&opts.bootNs, "boot-ns", false, "kernel has the boot clock helper")
	cmd.Flags().StringVar(&opts.resolvers, "resolver", "", "canned resolver table (json)")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "log per-program details")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func runCompile(cmd *cobra.Command, docPath string, opts *compileOptions) error {
	data, err := os.ReadFile(docPath)
	if err != nil {
		return fmt.Errorf("read document: %w", err)
	}
	doc, err := ast.DecodeDocument(data)
	if err != nil {
		return err
	}

	res := resolver.NewFake()
	if opts.resolvers != "" {
		rdata, err := os.ReadFile(opts.resolvers)
		if err != nil {
			return fmt.Errorf("read resolver table: %w", err)
		}
		if err := json.Unmarshal(rdata, res); err != nil {
			return fmt.Errorf("parse resolver table: %w", err)
		}
	}

	var target *arch.Arch
	if opts.archName != "" {
		target, err = arch.Lookup(opts.archName)
		if err != nil {
			return err
		}
	}

	log, err := newLogger(opts.verbose)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	artifacts, err := pipeline.Run(cmd.Context(), pipeline.Config{
		Program:         doc.Program,
		Resources:       doc.Resources,
		Resolver:        res,
		Output:          opts.output,
		Arch:            target,
		Pid:             opts.pid,
		KernelHasBootNs: opts.bootNs,
		Logger:          log,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d programs)\n",
		artifacts.OutputObj, len(artifacts.Module.Programs))
	return nil
}

func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}
