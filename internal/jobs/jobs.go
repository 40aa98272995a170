// Package jobs holds the automation job runners. A job definition in the
// registry names a job type; this package maps the type to the code that
// actually runs, given the definition's opaque config.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// Result is the outcome a runner reports. The zero exit code means success
// by convention; diagnostics go in Output.
type Result struct {
	ExitCode int
	Output   string
}

// Runner executes one job type. Implementations own their timeouts; the
// executor does not impose one. A returned error marks the run as failed
// with the error text captured, the same as a non-zero ExitCode.
type Runner interface {
	Run(ctx context.Context, cfg json.RawMessage, logger zerolog.Logger) (Result, error)
}

// Registry maps job type names to runners.
type Registry struct {
	mu      sync.RWMutex
	runners map[string]Runner
}

func NewRegistry() *Registry {
	return &Registry{runners: make(map[string]Runner)}
}

// Register adds a runner under the given job type, replacing any previous one.
func (r *Registry) Register(jobType string, runner Runner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runners[jobType] = runner
}

// Get returns the runner for a job type.
func (r *Registry) Get(jobType string) (Runner, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	runner, ok := r.runners[jobType]
	return runner, ok
}

// Types returns the registered job types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.runners))
	for t := range r.runners {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, cfg json.RawMessage, logger zerolog.Logger) (Result, error)

func (f RunnerFunc) Run(ctx context.Context, cfg json.RawMessage, logger zerolog.Logger) (Result, error) {
	return f(ctx, cfg, logger)
}

// decodeConfig unmarshals a job config into v. A nil config decodes into the
// zero value so jobs with defaults for everything need no config at all.
func decodeConfig(cfg json.RawMessage, v any) error {
	if len(cfg) == 0 {
		return nil
	}
	if err := json.Unmarshal(cfg, v); err != nil {
		return fmt.Errorf("decode job config: %w", err)
	}
	return nil
}
