/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// NewRootCommand builds the ballast command tree
func NewRootCommand(cli *CLI) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ballast",
		Short: "Declarative reconciliation for serverless load balancer topologies",
		Long: Highlight("ballast <command> [flags]") + "\n\n" +
			"ballast reconciles a declared resource topology against observed\n" +
			"state: it builds the dependency graph, diffs each resource, and\n" +
			"applies the resulting change set with dependency-aware parallel\n" +
			"execution.\n",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return cli.setupLogger()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.CompletionOptions.DisableDefaultCmd = true

	cmd.PersistentFlags().StringVar(&cli.statePath, "state", "ballast.state.json", "Path to the JSON state file")
	cmd.PersistentFlags().StringVar(&cli.postgresDSN, "state-postgres", "", "PostgreSQL DSN for the state store (overrides --state)")
	cmd.PersistentFlags().StringVar(&cli.project, "project", "local", "Project name for provider-assigned identifiers")
	cmd.PersistentFlags().IntVarP(&cli.verbosity, "verbosity", "v", 0, "Log verbosity (higher is noisier)")
	cmd.PersistentFlags().BoolVar(&cli.debug, "debug", false, "Log for humans instead of machines")

	cmd.AddCommand(
		NewPlanCommand(cli),
		NewApplyCommand(cli),
		NewValidateCommand(cli),
		NewVersionCommand(cli),
	)
	return cmd
}

// Execute runs the CLI and returns the process exit code
func Execute(ctx context.Context) int {
	if _, exists := os.LookupEnv("NO_COLOR"); exists {
		color.NoColor = true
	}

	cli := NewCLI(os.Stdout, os.Stderr)
	root := NewRootCommand(cli)

	if err := root.ExecuteContext(ctx); err != nil {
		if msg := err.Error(); msg != "" {
			fmt.Fprintln(cli.Err, color.RedString("Error:"), msg)
		}
		var xe *exitError
		if errors.As(err, &xe) {
			return xe.code
		}
		return ExitError
	}
	return ExitOK
}
