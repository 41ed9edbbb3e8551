// Package cli implements the tracegen command-line interface.
package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tracegen/tracegen/internal/doctor"
)

// Version is set at build time via ldflags:
//
//	go build -ldflags "-X github.com/tracegen/tracegen/internal/cli.Version=v0.1.0"
var Version = "(dev)"

// Execute runs the command tree.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "tracegen",
		Short:         "compile type-checked tracing scripts into BPF objects",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.AddCommand(newCompileCmd())
	root.AddCommand(&cobra.Command{
		Use:   "doctor",
		Short: "check the environment for probe support",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return doctor.Run(doctor.Config{
				Stdout: cmd.OutOrStdout(),
				Stderr: cmd.ErrOrStderr(),
			})
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "tracegen %s\n", Version)
		},
	})
	return root
}
