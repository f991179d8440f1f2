package search

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/perflab/kerntune/internal/logger"
	"github.com/perflab/kerntune/internal/perfdb"
	"github.com/perflab/kerntune/internal/problem"
)

type stubCandidate struct {
	name    string
	valid   bool
	fail    bool
	elapsed time.Duration
}

type stubConfig struct {
	idx   int
	cands []stubCandidate
}

func (c *stubConfig) IsValid(p *problem.Description) bool { return c.cands[c.idx].valid }

func (c *stubConfig) SetNextValue(p *problem.Description) bool {
	if c.idx+1 < len(c.cands) {
		c.idx++
		return true
	}
	return false
}

func (c *stubConfig) String() string { return c.cands[c.idx].name }

type stubSolver struct {
	cands      []stubCandidate
	benchmarks int
}

func (s *stubSolver) ID() string { return "StubSolver" }

func (s *stubSolver) DefaultConfig(p *problem.Description) Config {
	return &stubConfig{cands: s.cands}
}

func (s *stubSolver) ParseConfig(str string) (Config, error) {
	for i, c := range s.cands {
		if c.name == str {
			return &stubConfig{idx: i, cands: s.cands}, nil
		}
	}
	return nil, fmt.Errorf("unknown config %q", str)
}

func (s *stubSolver) BenchmarkConfig(ctx context.Context, p *problem.Description, cfg Config) (time.Duration, error) {
	s.benchmarks++
	cand := s.cands[cfg.(*stubConfig).idx]
	if cand.fail {
		return 0, errors.New("launch failed")
	}
	return cand.elapsed, nil
}

func testProblem() *problem.Description {
	return &problem.Description{
		Batch: 1, InChannels: 3, InHeight: 224, InWidth: 224,
		OutChannels: 64, FilterH: 3, FilterW: 3,
		PadH: 1, PadW: 1, StrideH: 1, StrideW: 1,
		DilationH: 1, DilationW: 1, Groups: 1,
		InType: problem.F32, WeightsType: problem.F32, OutType: problem.F32,
		Layout: problem.NHWC, Direction: problem.Forward,
	}
}

func testFingerprint() problem.Fingerprint {
	return problem.Fingerprint{Arch: "gfxA", Desc: *testProblem()}
}

func ms(d float64) time.Duration { return time.Duration(d * float64(time.Millisecond)) }

func TestSearchPicksFastestAndPersists(t *testing.T) {
	t.Parallel()

	s := &stubSolver{cands: []stubCandidate{
		{name: "slow", valid: true, elapsed: ms(5.0)},
		{name: "fast", valid: true, elapsed: ms(3.2)},
	}}
	db := perfdb.NewRamDB(filepath.Join(t.TempDir(), "u.db"), logger.Discard())
	fp := testFingerprint()

	cfg, err := GenericSearch(context.Background(), s, testProblem(), Options{
		DB:          db,
		Fingerprint: fp,
		Log:         logger.Discard(),
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if cfg.String() != "fast" {
		t.Fatalf("winner: got %q want %q", cfg.String(), "fast")
	}
	stored, ok := db.Load(fp.Key(), "StubSolver")
	if !ok || stored != "fast" {
		t.Fatalf("persisted winner: got %q,%v", stored, ok)
	}
}

func TestSearchNeverReturnsInvalidConfig(t *testing.T) {
	t.Parallel()

	s := &stubSolver{cands: []stubCandidate{
		{name: "bad1", valid: false, elapsed: ms(0.1)},
		{name: "good", valid: true, elapsed: ms(4)},
		{name: "bad2", valid: false, elapsed: ms(0.1)},
	}}
	cfg, err := GenericSearch(context.Background(), s, testProblem(), Options{
		Fingerprint: testFingerprint(),
		Log:         logger.Discard(),
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if !cfg.IsValid(testProblem()) {
		t.Fatalf("search returned invalid config %q", cfg.String())
	}
	if cfg.String() != "good" {
		t.Fatalf("winner: got %q", cfg.String())
	}
	// Invalid candidates were never benchmarked.
	if s.benchmarks != 1 {
		t.Fatalf("benchmark count: got %d want 1", s.benchmarks)
	}
}

func TestSearchStableTieBreak(t *testing.T) {
	t.Parallel()

	for run := 0; run < 3; run++ {
		s := &stubSolver{cands: []stubCandidate{
			{name: "first", valid: true, elapsed: ms(2)},
			{name: "second", valid: true, elapsed: ms(2)},
			{name: "third", valid: true, elapsed: ms(2)},
		}}
		cfg, err := GenericSearch(context.Background(), s, testProblem(), Options{
			Fingerprint: testFingerprint(),
			Log:         logger.Discard(),
		})
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if cfg.String() != "first" {
			t.Fatalf("tie-break unstable: got %q want %q", cfg.String(), "first")
		}
	}
}

func TestSearchExcludesFailingCandidates(t *testing.T) {
	t.Parallel()

	s := &stubSolver{cands: []stubCandidate{
		{name: "crashes", valid: true, fail: true},
		{name: "works", valid: true, elapsed: ms(7)},
	}}
	cfg, err := GenericSearch(context.Background(), s, testProblem(), Options{
		Fingerprint: testFingerprint(),
		Log:         logger.Discard(),
	})
	if err != nil {
		t.Fatalf("search should survive candidate failure: %v", err)
	}
	if cfg.String() != "works" {
		t.Fatalf("winner: got %q", cfg.String())
	}
}

func TestSearchNoValidCandidate(t *testing.T) {
	t.Parallel()

	s := &stubSolver{cands: []stubCandidate{
		{name: "bad", valid: false},
		{name: "crashes", valid: true, fail: true},
	}}
	_, err := GenericSearch(context.Background(), s, testProblem(), Options{
		Fingerprint: testFingerprint(),
		Log:         logger.Discard(),
	})
	if !errors.Is(err, ErrNoValidCandidate) {
		t.Fatalf("expected ErrNoValidCandidate, got %v", err)
	}
}

func TestSearchCandidateBudgetKeepsBestSoFar(t *testing.T) {
	t.Parallel()

	s := &stubSolver{cands: []stubCandidate{
		{name: "a", valid: true, elapsed: ms(9)},
		{name: "b", valid: true, elapsed: ms(4)},
		{name: "unreached", valid: true, elapsed: ms(1)},
	}}
	cfg, err := GenericSearch(context.Background(), s, testProblem(), Options{
		Fingerprint:   testFingerprint(),
		MaxCandidates: 2,
		Log:           logger.Discard(),
	})
	if err != nil {
		t.Fatalf("truncated search should return best so far: %v", err)
	}
	if cfg.String() != "b" {
		t.Fatalf("winner: got %q want %q", cfg.String(), "b")
	}
	if s.benchmarks != 2 {
		t.Fatalf("benchmark count: got %d want 2", s.benchmarks)
	}
}

func TestSearchCacheHitShortCircuits(t *testing.T) {
	t.Parallel()

	s := &stubSolver{cands: []stubCandidate{
		{name: "slow", valid: true, elapsed: ms(5)},
		{name: "fast", valid: true, elapsed: ms(3)},
	}}
	db := perfdb.NewRamDB(filepath.Join(t.TempDir(), "u.db"), logger.Discard())
	fp := testFingerprint()
	if err := db.Store(fp.Key(), "StubSolver", "slow"); err != nil {
		t.Fatalf("seed db: %v", err)
	}

	cfg, err := GenericSearch(context.Background(), s, testProblem(), Options{
		DB:          db,
		Fingerprint: fp,
		Log:         logger.Discard(),
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if cfg.String() != "slow" {
		t.Fatalf("cached config ignored: got %q", cfg.String())
	}
	if s.benchmarks != 0 {
		t.Fatalf("cache hit should skip benchmarking, ran %d", s.benchmarks)
	}
}

func TestSearchStaleCacheEntryTriggersResearch(t *testing.T) {
	t.Parallel()

	s := &stubSolver{cands: []stubCandidate{
		{name: "ok", valid: true, elapsed: ms(2)},
	}}
	db := perfdb.NewRamDB(filepath.Join(t.TempDir(), "u.db"), logger.Discard())
	fp := testFingerprint()
	if err := db.Store(fp.Key(), "StubSolver", "no-longer-exists"); err != nil {
		t.Fatalf("seed db: %v", err)
	}

	cfg, err := GenericSearch(context.Background(), s, testProblem(), Options{
		DB:          db,
		Fingerprint: fp,
		Log:         logger.Discard(),
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if cfg.String() != "ok" {
		t.Fatalf("winner: got %q", cfg.String())
	}
	if stored, _ := db.Load(fp.Key(), "StubSolver"); stored != "ok" {
		t.Fatalf("stale entry not replaced: %q", stored)
	}
}

func TestSearchReadonlyDbStillReturnsWinner(t *testing.T) {
	t.Parallel()

	s := &stubSolver{cands: []stubCandidate{
		{name: "ok", valid: true, elapsed: ms(2)},
	}}
	db, err := perfdb.LoadReadonlyRamDB(filepath.Join(t.TempDir(), "missing.db"), logger.Discard())
	if err != nil {
		t.Fatalf("load readonly: %v", err)
	}

	cfg, err := GenericSearch(context.Background(), s, testProblem(), Options{
		DB:          db,
		Fingerprint: testFingerprint(),
		Log:         logger.Discard(),
	})
	if err != nil {
		t.Fatalf("search against read-only db: %v", err)
	}
	if cfg.String() != "ok" {
		t.Fatalf("winner: got %q", cfg.String())
	}
}

func TestSearchIdempotent(t *testing.T) {
	t.Parallel()

	mk := func() *stubSolver {
		return &stubSolver{cands: []stubCandidate{
			{name: "a", valid: true, elapsed: ms(5)},
			{name: "b", valid: true, elapsed: ms(3.2)},
			{name: "c", valid: true, elapsed: ms(3.2)},
		}}
	}
	var winners []string
	for i := 0; i < 5; i++ {
		cfg, err := GenericSearch(context.Background(), mk(), testProblem(), Options{
			Fingerprint: testFingerprint(),
			Log:         logger.Discard(),
		})
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		winners = append(winners, cfg.String())
	}
	for _, w := range winners {
		if w != "b" {
			t.Fatalf("search not idempotent: winners %v", winners)
		}
	}
}
