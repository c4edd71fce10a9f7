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
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/chazu/ballast/pkg/driver"
	"github.com/chazu/ballast/pkg/state"
)

// Exit codes
const (
	// ExitOK means the topology converged or the plan was produced cleanly
	ExitOK = 0
	// ExitError means a generic failure (bad flags, unreadable files)
	ExitError = 1
	// ExitPlanningError means validation, duplicate identity, unresolved
	// reference, or cycle detection rejected the topology before any
	// provider call
	ExitPlanningError = 2
	// ExitPartialFailure means the apply ran but at least one operation
	// failed or was skipped
	ExitPartialFailure = 3
)

// exitError carries a process exit code alongside the failure
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func exitWith(code int, err error) error {
	return &exitError{code: code, err: err}
}

// CLI is shared command state: output streams, the logger, and the
// persistent store/provider flags.
type CLI struct {
	Out io.Writer
	Err io.Writer
	Log logr.Logger

	statePath   string
	postgresDSN string
	project     string
	verbosity   int
	debug       bool
}

// NewCLI creates command state writing to the given streams
func NewCLI(out, errOut io.Writer) *CLI {
	return &CLI{
		Out: out,
		Err: errOut,
		Log: logr.Discard(),
	}
}

// Printf writes formatted output to the command's stdout
func (c *CLI) Printf(format string, a ...any) {
	fmt.Fprintf(c.Out, format, a...)
}

// Println writes a line to the command's stdout
func (c *CLI) Println(a ...any) {
	fmt.Fprintln(c.Out, a...)
}

// setupLogger builds the zap-backed logger after flags are parsed.
// Verbosity maps to logr V-levels; --debug switches to the human console
// encoder.
func (c *CLI) setupLogger() error {
	cfg := zap.NewProductionConfig()
	if c.debug {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zapcore.Level(-c.verbosity))

	z, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	c.Log = zapr.NewLogger(z)
	return nil
}

// openStore opens the configured state backend. The returned closer is
// non-nil only for backends that hold connections.
func (c *CLI) openStore(ctx context.Context) (state.Store, func(), error) {
	if c.postgresDSN != "" {
		pg, err := state.OpenPostgres(ctx, c.postgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return pg, func() { _ = pg.Close() }, nil
	}

	fs, err := state.NewFile(c.statePath)
	if err != nil {
		return nil, nil, err
	}
	return fs, func() {}, nil
}

// emulatedProvider builds the built-in emulated provider, reconstructing
// its live objects from the recorded observed state so updates and
// deletes find their targets. Real cloud drivers plug in through
// driver.Registry when ballast is embedded.
func (c *CLI) emulatedProvider(ctx context.Context, store state.Store) (*driver.Registry, error) {
	fake := driver.NewFake(c.project)
	records, err := store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading state: %w", err)
	}
	for _, rec := range records {
		fake.Seed(rec.ID, rec.LiveAttributes)
	}
	return fake.Registry(), nil
}

// sandboxStore copies every record into a fresh in-memory store so a
// simulated apply never touches durable state. The copies restart their
// serial lineage; consistency inside the sandbox is what matters.
func sandboxStore(ctx context.Context, src state.Store) (*state.Memory, error) {
	records, err := src.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading state: %w", err)
	}
	mem := state.NewMemory()
	for _, rec := range records {
		cp := rec.Clone()
		cp.Serial = 1
		if err := mem.Put(ctx, cp); err != nil {
			return nil, fmt.Errorf("seeding sandbox state: %w", err)
		}
	}
	return mem, nil
}

// Highlight renders emphasized CLI text
func Highlight(format string, a ...any) string {
	return color.New(color.Bold).Sprintf(format, a...)
}
