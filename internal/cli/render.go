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
	"io"
	"time"

	"github.com/fatih/color"

	"github.com/chazu/ballast/pkg/engine"
	"github.com/chazu/ballast/pkg/plan"
	"github.com/chazu/ballast/pkg/resource"
)

var (
	createColor  = color.New(color.FgGreen)
	updateColor  = color.New(color.FgYellow)
	deleteColor  = color.New(color.FgRed)
	replaceColor = color.New(color.FgMagenta)
	skipColor    = color.New(color.Faint)
)

// renderChangeSet prints the pending actions Terraform-style: one line
// per change with a +/~/-/± marker, replacements folded into a single ±
// line, converged resources summarized at the end.
func renderChangeSet(w io.Writer, cs *plan.ChangeSet) {
	replaced := make(map[resource.ID]bool)
	changes := 0

	for _, op := range cs.Operations {
		switch {
		case op.Kind == plan.OpNoOp:
			continue
		case op.Kind == plan.OpDelete && op.PartOfReplace:
			replaceColor.Fprintf(w, "  ± replace %s", op.Target)
			fmt.Fprintf(w, "  (%s)\n", op.Reason)
			replaced[op.Target] = true
			changes++
		case op.Kind == plan.OpCreate && op.PartOfReplace && replaced[op.Target]:
			continue
		case op.Kind == plan.OpCreate:
			createColor.Fprintf(w, "  + create  %s", op.Target)
			fmt.Fprintf(w, "  (%s)\n", op.Reason)
			changes++
		case op.Kind == plan.OpUpdate:
			updateColor.Fprintf(w, "  ~ update  %s", op.Target)
			fmt.Fprintf(w, "  (%s)\n", op.Reason)
			changes++
		case op.Kind == plan.OpDelete:
			deleteColor.Fprintf(w, "  - delete  %s", op.Target)
			fmt.Fprintf(w, "  (%s)\n", op.Reason)
			changes++
		}
	}

	if changes == 0 {
		fmt.Fprintln(w, "No changes. Topology is up to date.")
		return
	}
	fmt.Fprintf(w, "\nPlan: %s.\n", cs.Summarize())
}

// renderReport prints per-operation outcomes and the run summary
func renderReport(w io.Writer, report *engine.Report) {
	for _, res := range report.Results {
		if res.Kind == plan.OpNoOp {
			continue
		}
		switch res.State {
		case engine.OpSucceeded:
			createColor.Fprintf(w, "  ok      ")
			fmt.Fprintf(w, "%-7s %s  (%s)\n", res.Kind, res.Target, res.Duration.Round(time.Millisecond))
		case engine.OpFailed:
			deleteColor.Fprintf(w, "  failed  ")
			fmt.Fprintf(w, "%-7s %s: %s\n", res.Kind, res.Target, res.Error)
		case engine.OpSkipped:
			skipColor.Fprintf(w, "  skipped %-7s %s: %s\n", res.Kind, res.Target, res.Reason)
		}
	}

	summary := report.Summary
	fmt.Fprintf(w, "\nApply %s: %d succeeded, %d failed, %d skipped (%s).\n",
		statusWord(report),
		summary.Succeeded, summary.Failed, summary.Skipped,
		summary.Elapsed().Round(time.Millisecond))
}

func statusWord(report *engine.Report) string {
	if report.Canceled {
		return deleteColor.Sprint("canceled")
	}
	if report.Converged() {
		return createColor.Sprint("complete")
	}
	return deleteColor.Sprint("partially failed")
}
