package solver

import (
	"context"
	"errors"
	"fmt"

	"github.com/perflab/kerntune/internal/problem"
	"github.com/perflab/kerntune/internal/search"
)

// ErrNoApplicableSolver means every registered solver declined the problem.
var ErrNoApplicableSolver = errors.New("solver: no applicable solver")

// Registry holds the candidate solvers for convolution, in priority order.
type Registry struct {
	solvers []Solver
}

func NewRegistry(solvers ...Solver) *Registry {
	return &Registry{solvers: solvers}
}

// DefaultRegistry returns the built-in solver set in priority order.
func DefaultRegistry() *Registry {
	return NewRegistry(
		&GemmGroupedFwd{},
		&Winograd3x3Fwd{},
		&DirectFwd{},
	)
}

// Solvers returns the candidate list with env-disabled solvers dropped.
func (r *Registry) Solvers() []Solver {
	out := make([]Solver, 0, len(r.solvers))
	for _, s := range r.solvers {
		if solverDisabled(s.ID()) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// FindSolution picks the best implementation for p: the first applicable
// solver with a valid cached config wins outright; otherwise the first
// applicable tunable solver is searched and its winner used. If every
// search fails to produce a valid candidate, the first applicable solver's
// default config is used unbenchmarked — a degraded-but-correct kernel
// beats no kernel.
func (r *Registry) FindSolution(ctx context.Context, c *Context, p *problem.Description) (Solution, error) {
	if err := p.Validate(); err != nil {
		return Solution{}, err
	}
	log := c.logger()
	fp := problem.Fingerprint{Arch: c.Handle.Arch(), Desc: *p}
	key := fp.Key()

	var fallback Solver
	for _, s := range r.Solvers() {
		if !s.IsApplicable(c, p) {
			log.Debug("solver not applicable", "solver", s.ID(), "key", key)
			continue
		}
		if fallback == nil {
			fallback = s
		}

		if c.DB != nil {
			if serialized, ok := c.DB.Load(key, s.ID()); ok {
				cfg, err := s.ParseConfig(serialized)
				if err == nil && s.IsValidConfig(p, cfg) {
					log.Debug("using cached config", "solver", s.ID(), "config", serialized)
					return s.Solution(c, p, cfg)
				}
				log.Warn("ignoring stale perfdb entry",
					"solver", s.ID(), "key", key, "config", serialized)
			}
		}

		ts, tunable := s.(TunableSolver)
		if !tunable || autotuneDisabled() {
			return s.Solution(c, p, s.DefaultConfig(p))
		}

		cfg, err := ts.Search(ctx, c, p)
		if err != nil {
			if errors.Is(err, search.ErrNoValidCandidate) {
				log.Warn("search found no valid candidate", "solver", s.ID(), "key", key)
				continue
			}
			return Solution{}, fmt.Errorf("solver %s: %w", s.ID(), err)
		}
		r.flushDB(c)
		return s.Solution(c, p, cfg)
	}

	if fallback != nil {
		log.Warn("falling back to unbenchmarked default config",
			"solver", fallback.ID(), "key", key)
		return fallback.Solution(c, p, fallback.DefaultConfig(p))
	}
	return Solution{}, fmt.Errorf("%w: %s", ErrNoApplicableSolver, key)
}

// flushDB syncs the database to disk when the backing variant supports it.
func (r *Registry) flushDB(c *Context) {
	type flusher interface{ Flush() error }
	if f, ok := c.DB.(flusher); ok {
		if err := f.Flush(); err != nil {
			c.logger().Warn("perfdb flush failed", "err", err)
		}
	}
}
