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
)

// Build metadata, overridden at link time:
//
//	-ldflags "-X github.com/chazu/ballast/internal/cli.Version=..."
var (
	Version   = "dev"
	GitCommit = "none"
	BuildDate = "unknown"
)

func NewVersionCommand(cli *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cli.Printf("ballast %s (commit %s, built %s)\n", Version, GitCommit, BuildDate)
		},
	}
}
