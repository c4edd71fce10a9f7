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

	"github.com/chazu/ballast/pkg/graph"
	"github.com/chazu/ballast/pkg/manifest"
)

// ValidateOptions holds the options for the validate command
type ValidateOptions struct {
	File string
}

func NewValidateCommand(cli *CLI) *cobra.Command {
	opts := ValidateOptions{}

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a topology document without planning",
		Long: Highlight("ballast validate -f topology.yaml") + "\n\n" +
			"Parse the topology, validate every resource against its schema,\n" +
			"resolve references, and detect cycles. Nothing is read from or\n" +
			"written to the state store.\n",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			specs, err := manifest.Load(opts.File)
			if err != nil {
				return exitWith(ExitPlanningError, err)
			}

			g, err := graph.Build(specs)
			if err != nil {
				return exitWith(ExitPlanningError, err)
			}

			refs := 0
			for _, id := range g.GetOrder() {
				refs += len(g.GetReferences(id))
			}
			cli.Printf("Topology valid: %d resources, %d references.\n", g.Size(), refs)
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.File, "file", "f", "topology.yaml", "Topology document to validate")
	return cmd
}
