// Package search implements the generic autotune loop: enumerate a
// solver's performance-config space, benchmark each candidate on the
// device, and return the fastest one. Searching is the fallback path; a
// valid cached entry in the performance database short-circuits it.
package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/perflab/kerntune/internal/logger"
	"github.com/perflab/kerntune/internal/perfdb"
	"github.com/perflab/kerntune/internal/problem"
)

// ErrNoValidCandidate means every enumerated candidate was invalid or
// failed to benchmark. Distinct from "no solver applicable": the caller is
// expected to fall back to the unbenchmarked default config.
var ErrNoValidCandidate = errors.New("search: no valid candidate")

// Config is one point in a solver's tunable-parameter space. SetNextValue
// advances the receiver to the next candidate in a deterministic order and
// reports false once the space is exhausted. String must serialize every
// field a valid config round-trips through the database.
type Config interface {
	IsValid(p *problem.Description) bool
	SetNextValue(p *problem.Description) bool
	String() string
}

// Searchable is what the generic search needs from a tunable solver.
// BenchmarkConfig builds the candidate's solution, dispatches it once on
// the device stream, synchronizes, and returns the measured time.
type Searchable interface {
	ID() string
	DefaultConfig(p *problem.Description) Config
	ParseConfig(s string) (Config, error)
	BenchmarkConfig(ctx context.Context, p *problem.Description, cfg Config) (time.Duration, error)
}

// Options bounds and wires one search invocation.
type Options struct {
	// DB, when set, is consulted for a cached winner before enumerating
	// and receives the new winner afterwards.
	DB          perfdb.Database
	Fingerprint problem.Fingerprint

	// MaxCandidates caps how many candidates are benchmarked; zero means
	// the whole space. TimeBudget caps the wall time of the loop; zero
	// means unlimited. A truncated search still returns its best so far.
	MaxCandidates int
	TimeBudget    time.Duration

	Log logger.Logger
}

// GenericSearch finds the fastest valid config of s for p. Ties keep the
// earliest-found candidate, so results are deterministic for deterministic
// benchmark times. The winner is persisted before returning.
func GenericSearch(ctx context.Context, s Searchable, p *problem.Description, opts Options) (Config, error) {
	log := logger.OrDiscard(opts.Log).With("solver", s.ID())
	key := opts.Fingerprint.Key()

	if opts.DB != nil {
		if serialized, ok := opts.DB.Load(key, s.ID()); ok {
			cfg, err := s.ParseConfig(serialized)
			if err == nil && cfg.IsValid(p) {
				log.Debug("perfdb hit", "key", key, "config", serialized)
				return cfg, nil
			}
			log.Warn("perfdb entry stale, re-searching", "key", key, "config", serialized)
		}
	}

	var (
		bestSerialized string
		bestTime       time.Duration
		haveBest       bool
		benchmarked    int
		skipped        int
		failed         int
	)
	start := time.Now()
	cfg := s.DefaultConfig(p)
	for {
		if opts.TimeBudget > 0 && time.Since(start) > opts.TimeBudget {
			log.Info("search time budget reached", "benchmarked", benchmarked)
			break
		}
		if opts.MaxCandidates > 0 && benchmarked >= opts.MaxCandidates {
			log.Info("search candidate budget reached", "benchmarked", benchmarked)
			break
		}

		if !cfg.IsValid(p) {
			skipped++
		} else {
			elapsed, err := s.BenchmarkConfig(ctx, p, cfg)
			benchmarked++
			if err != nil {
				// A candidate failing to build or execute is excluded,
				// not fatal to the search.
				failed++
				log.Debug("candidate failed", "config", cfg.String(), "err", err)
			} else if !haveBest || elapsed < bestTime {
				bestSerialized = cfg.String()
				bestTime = elapsed
				haveBest = true
				log.Debug("new best candidate", "config", bestSerialized, "time", elapsed)
			}
		}

		if err := ctx.Err(); err != nil {
			break
		}
		if !cfg.SetNextValue(p) {
			break
		}
	}

	if !haveBest {
		return nil, fmt.Errorf("%w: solver %s, %d skipped, %d failed",
			ErrNoValidCandidate, s.ID(), skipped, failed)
	}

	winner, err := s.ParseConfig(bestSerialized)
	if err != nil {
		return nil, fmt.Errorf("search: winner %q does not round-trip: %w", bestSerialized, err)
	}

	if opts.DB != nil {
		if err := opts.DB.Store(key, s.ID(), bestSerialized); err != nil {
			// Read-only tier: the winner is still usable this process.
			log.Warn("could not persist winner", "key", key, "err", err)
		}
	}
	log.Info("search done",
		"key", key, "winner", bestSerialized, "time", bestTime,
		"benchmarked", benchmarked, "skipped", skipped, "failed", failed,
		"elapsed", time.Since(start))
	return winner, nil
}
