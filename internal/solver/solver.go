// Package solver holds the registry of interchangeable convolution solvers
// and the contract each one implements: cheap applicability filtering, a
// tunable performance config, and deterministic construction of the
// dispatchable kernel plan.
package solver

import (
	"context"
	"time"

	"github.com/perflab/kerntune/internal/device"
	"github.com/perflab/kerntune/internal/logger"
	"github.com/perflab/kerntune/internal/perfdb"
	"github.com/perflab/kerntune/internal/problem"
	"github.com/perflab/kerntune/internal/search"
)

// PerfConfig is a solver-owned bundle of tunable parameters. The alias
// keeps one config contract between the registry and the generic search.
type PerfConfig = search.Config

// TuningOptions bounds the autotune search.
type TuningOptions struct {
	MaxCandidates int
	TimeBudget    time.Duration
}

// Context carries the per-process collaborators solvers work against. It is
// the execution environment, not a cancellation context.
type Context struct {
	Handle *device.Handle
	DB     perfdb.Database
	Log    logger.Logger
	Tuning TuningOptions
}

func (c *Context) logger() logger.Logger { return logger.OrDiscard(c.Log) }

// Solution is the dispatchable plan built from a valid config: kernel
// launch geometry plus an invoker that runs it once on a handle. Building
// a solution performs no device execution itself.
type Solution struct {
	SolverID  string
	Kernel    device.Kernel
	Workspace int64

	Invoke func(ctx context.Context, h *device.Handle, args any) (time.Duration, error)
}

// Solver is one candidate implementation strategy for a convolution.
// Implementations are stateless; all per-problem state lives in the
// PerfConfig.
type Solver interface {
	ID() string

	// IsApplicable is a cheap, side-effect-free structural filter run for
	// every candidate solver before any benchmarking.
	IsApplicable(c *Context, p *problem.Description) bool

	// DefaultConfig returns the heuristic seed config, independent of any
	// search.
	DefaultConfig(p *problem.Description) PerfConfig

	// IsValidConfig reports whether cfg is legal and executable for p.
	IsValidConfig(p *problem.Description, cfg PerfConfig) bool

	// ParseConfig deserializes a config from its database text form.
	ParseConfig(s string) (PerfConfig, error)

	// Solution builds the kernel plan for a valid config.
	Solution(c *Context, p *problem.Description, cfg PerfConfig) (Solution, error)
}

// TunableSolver is a Solver whose config space is worth searching.
type TunableSolver interface {
	Solver

	// Search runs the generic autotune loop scoped to this solver and
	// returns the winning config.
	Search(ctx context.Context, c *Context, p *problem.Description) (PerfConfig, error)
}

// genericSearch wires a solver into the search package and runs it. Every
// tunable solver's Search delegates here.
func genericSearch(ctx context.Context, s Solver, c *Context, p *problem.Description) (PerfConfig, error) {
	fp := problem.Fingerprint{Arch: c.Handle.Arch(), Desc: *p}
	return search.GenericSearch(ctx, &searchAdapter{s: s, c: c}, p, search.Options{
		DB:            c.DB,
		Fingerprint:   fp,
		MaxCandidates: c.Tuning.MaxCandidates,
		TimeBudget:    c.Tuning.TimeBudget,
		Log:           c.logger(),
	})
}

// searchAdapter presents a Solver as a search.Searchable. Benchmarking one
// candidate builds its solution, dispatches it once on the stream, and
// synchronizes before reporting the measured time.
type searchAdapter struct {
	s Solver
	c *Context
}

func (a *searchAdapter) ID() string { return a.s.ID() }

func (a *searchAdapter) DefaultConfig(p *problem.Description) search.Config {
	return a.s.DefaultConfig(p)
}

func (a *searchAdapter) ParseConfig(s string) (search.Config, error) {
	return a.s.ParseConfig(s)
}

func (a *searchAdapter) BenchmarkConfig(ctx context.Context, p *problem.Description, cfg search.Config) (time.Duration, error) {
	sol, err := a.s.Solution(a.c, p, cfg)
	if err != nil {
		return 0, err
	}
	elapsed, err := sol.Invoke(ctx, a.c.Handle, nil)
	if err != nil {
		return 0, err
	}
	if err := a.c.Handle.Synchronize(ctx); err != nil {
		return 0, err
	}
	return elapsed, nil
}

// alignUp rounds num up to the next multiple of align.
func alignUp(num, align int) int {
	return (num + align - 1) / align * align
}
