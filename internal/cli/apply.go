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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chazu/ballast/pkg/engine"
	"github.com/chazu/ballast/pkg/manifest"
	"github.com/chazu/ballast/pkg/metrics"
	"github.com/chazu/ballast/pkg/plan"
	"github.com/chazu/ballast/pkg/state"
)

// ApplyOptions holds the options for the apply command
type ApplyOptions struct {
	File     string
	Simulate bool
	Config   engine.Config
}

func NewApplyCommand(cli *CLI) *cobra.Command {
	opts := ApplyOptions{Config: engine.DefaultConfig()}

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Reconcile the declared topology",
		Long: Highlight("ballast apply -f topology.yaml") + "\n\n" +
			"Plan the declared topology, then execute the change set with\n" +
			"dependency-aware parallel execution. The built-in provider is\n" +
			"emulated; its live objects are reconstructed from recorded state.\n" +
			"With --simulate the run uses a sandbox copy of the state and\n" +
			"leaves nothing behind.\n",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			specs, err := manifest.Load(opts.File)
			if err != nil {
				return exitWith(ExitPlanningError, err)
			}

			store, closeStore, err := cli.openStore(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			var target state.Store = store
			if opts.Simulate {
				sandbox, err := sandboxStore(ctx, store)
				if err != nil {
					return err
				}
				target = sandbox
			}

			registry, err := cli.emulatedProvider(ctx, target)
			if err != nil {
				return err
			}

			p, err := plan.Compute(ctx, specs, target)
			if err != nil {
				return exitWith(ExitPlanningError, err)
			}
			recordPlanMetrics(p)

			if !p.Changes.HasChanges() {
				cli.Println("No changes. Topology is up to date.")
				return nil
			}

			renderChangeSet(cli.Out, p.Changes)
			if opts.Simulate {
				cli.Println()
				cli.Println("Simulating against a sandbox copy of state; nothing is recorded.")
			}
			cli.Println()

			exec := engine.NewExecutor(registry, target, opts.Config, cli.Log)
			report, err := exec.Execute(ctx, p)
			if err != nil {
				return err
			}
			renderReport(cli.Out, report)

			if records, err := target.List(ctx); err == nil {
				metrics.SetManagedResources(len(records))
			}

			if !report.Converged() {
				return exitWith(ExitPartialFailure,
					fmt.Errorf("apply did not converge: %d failed, %d skipped",
						report.Summary.Failed, report.Summary.Skipped))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.File, "file", "f", "topology.yaml", "Topology document to apply")
	cmd.Flags().BoolVar(&opts.Simulate, "simulate", false, "Run against a sandbox copy of state")
	cmd.Flags().IntVar(&opts.Config.MaxConcurrency, "concurrency", opts.Config.MaxConcurrency, "Maximum operations in flight")
	cmd.Flags().IntVar(&opts.Config.MaxRetries, "max-retries", opts.Config.MaxRetries, "Retries per operation after the first attempt")
	cmd.Flags().DurationVar(&opts.Config.RetryBackoffBase, "retry-base", opts.Config.RetryBackoffBase, "Initial retry delay")
	cmd.Flags().DurationVar(&opts.Config.RetryBackoffMax, "retry-max", opts.Config.RetryBackoffMax, "Retry delay cap")
	return cmd
}
