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
	"github.com/spf13/cobra"

	"github.com/chazu/ballast/pkg/manifest"
	"github.com/chazu/ballast/pkg/metrics"
	"github.com/chazu/ballast/pkg/plan"
)

// PlanOptions holds the options for the plan command
type PlanOptions struct {
	File string
}

func NewPlanCommand(cli *CLI) *cobra.Command {
	opts := PlanOptions{}

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show what an apply would change",
		Long: Highlight("ballast plan -f topology.yaml") + "\n\n" +
			"Build the dependency graph for the declared topology, diff every\n" +
			"resource against observed state, and print the ordered change set\n" +
			"without touching anything.\n",
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

			p, err := plan.Compute(ctx, specs, store)
			if err != nil {
				return exitWith(ExitPlanningError, err)
			}
			cli.Log.V(1).Info("Plan computed", "plan", p.ID, "operations", len(p.Changes.Operations))
			recordPlanMetrics(p)

			renderChangeSet(cli.Out, p.Changes)
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.File, "file", "f", "topology.yaml", "Topology document to plan")
	return cmd
}

func recordPlanMetrics(p *plan.Plan) {
	summary := p.Changes.Summarize()
	metrics.SetPlanOperations("create", summary.Create)
	metrics.SetPlanOperations("update", summary.Update)
	metrics.SetPlanOperations("replace", summary.Replace)
	metrics.SetPlanOperations("delete", summary.Delete)
	metrics.SetPlanOperations("noop", summary.NoOp)
}
