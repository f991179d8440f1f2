package solver

import (
	"testing"

	"github.com/perflab/kerntune/internal/problem"
)

// gemmProblem is large enough that several gemm instances fit.
func gemmProblem() *problem.Description {
	return &problem.Description{
		Batch: 1, InChannels: 64, InHeight: 64, InWidth: 64,
		OutChannels: 256, FilterH: 1, FilterW: 1,
		StrideH: 1, StrideW: 1, DilationH: 1, DilationW: 1, Groups: 1,
		InType: problem.F32, WeightsType: problem.F32, OutType: problem.F32,
		Layout: problem.NHWC, Direction: problem.Forward,
	}
}

func TestGemmConfigEnumeration(t *testing.T) {
	t.Parallel()

	p := gemmProblem()
	s := &GemmGroupedFwd{}
	cfg := s.DefaultConfig(p).(*GemmGroupedFwdConfig)
	if !cfg.IsValid(p) {
		t.Fatalf("default config invalid: %q", cfg.String())
	}

	seen := map[string]bool{cfg.String(): true}
	for cfg.SetNextValue(p) {
		if seen[cfg.String()] {
			t.Fatalf("enumeration revisited %q", cfg.String())
		}
		seen[cfg.String()] = true
		if !cfg.IsValid(p) {
			t.Fatalf("enumerated invalid config %q", cfg.String())
		}
	}
	// F32 at gemmM=4096, gemmN=256 fits every F32 instance.
	if len(seen) != 5 {
		t.Fatalf("candidate count: got %d want 5 (%v)", len(seen), seen)
	}
}

func TestGemmConfigRoundTrip(t *testing.T) {
	t.Parallel()

	p := gemmProblem()
	s := &GemmGroupedFwd{}
	orig := s.DefaultConfig(p)

	parsed, err := s.ParseConfig(orig.String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.String() != orig.String() {
		t.Fatalf("round trip: got %q want %q", parsed.String(), orig.String())
	}
	if !s.IsValidConfig(p, parsed) {
		t.Fatalf("round-tripped config invalid")
	}

	if _, err := s.ParseConfig(""); err == nil {
		t.Fatalf("expected error for empty config")
	}
	stale, err := s.ParseConfig("gemm_gfwd_gone")
	if err != nil {
		t.Fatalf("parse stale id: %v", err)
	}
	if s.IsValidConfig(p, stale) {
		t.Fatalf("unknown instance id should be invalid")
	}
}

func TestDirectConfigOdometer(t *testing.T) {
	t.Parallel()

	p := gemmProblem()
	p.FilterH, p.FilterW = 3, 3
	p.PadH, p.PadW = 1, 1

	cfg := &DirectFwdConfig{TileW: directTileWs[0], TileH: directTileHs[0], Unroll: directUnrolls[0]}
	count := 1
	seen := map[string]bool{cfg.String(): true}
	for cfg.SetNextValue(p) {
		if seen[cfg.String()] {
			t.Fatalf("odometer revisited %q", cfg.String())
		}
		seen[cfg.String()] = true
		count++
	}
	want := len(directTileWs) * len(directTileHs) * len(directUnrolls)
	if count != want {
		t.Fatalf("space size: got %d want %d", count, want)
	}
}

func TestDirectConfigRoundTripAndValidity(t *testing.T) {
	t.Parallel()

	p := gemmProblem()
	p.FilterH, p.FilterW = 3, 3
	p.PadH, p.PadW = 1, 1
	s := &DirectFwd{}

	cfg := &DirectFwdConfig{TileW: 32, TileH: 4, Unroll: 2}
	parsed, err := s.ParseConfig(cfg.String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	got := parsed.(*DirectFwdConfig)
	if *got != *cfg {
		t.Fatalf("round trip: got %+v want %+v", got, cfg)
	}

	if (&DirectFwdConfig{TileW: 13, TileH: 4, Unroll: 1}).IsValid(p) {
		t.Fatalf("off-table tile width accepted")
	}
	if (&DirectFwdConfig{TileW: 64, TileH: 8, Unroll: 1}).IsValid(p) {
		t.Fatalf("oversized workgroup accepted")
	}
	// 1x1 filter cannot use unroll 4.
	one := gemmProblem()
	if (&DirectFwdConfig{TileW: 16, TileH: 2, Unroll: 4}).IsValid(one) {
		t.Fatalf("unroll larger than filter accepted")
	}

	if _, err := s.ParseConfig("not-a-config"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestDirectDefaultConfigHeuristic(t *testing.T) {
	t.Parallel()

	s := &DirectFwd{}
	wide := gemmProblem()
	wide.InWidth = 128
	if cfg := s.DefaultConfig(wide).(*DirectFwdConfig); cfg.TileW != 32 {
		t.Fatalf("wide default: got TileW %d want 32", cfg.TileW)
	}
	narrow := gemmProblem()
	narrow.InWidth = 8
	if cfg := s.DefaultConfig(narrow).(*DirectFwdConfig); cfg.TileW != 8 {
		t.Fatalf("narrow default: got TileW %d want 8", cfg.TileW)
	}
}

func TestWinogradConfigFixed(t *testing.T) {
	t.Parallel()

	s := &Winograd3x3Fwd{}
	p := gemmProblem()
	cfg := s.DefaultConfig(p)
	if !cfg.IsValid(p) {
		t.Fatalf("fixed config must always be valid")
	}
	if cfg.SetNextValue(p) {
		t.Fatalf("fixed config has no search space")
	}
	parsed, err := s.ParseConfig(cfg.String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.String() != winogradConfigTag {
		t.Fatalf("round trip: got %q", parsed.String())
	}
	if _, err := s.ParseConfig("F(4x4,3x3)"); err == nil {
		t.Fatalf("expected error for unknown transform")
	}
}

func TestEnvNameConversion(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"GemmGroupedFwd": "GEMM_GROUPED_FWD",
		"DirectFwd":      "DIRECT_FWD",
		"Winograd3x3Fwd": "WINOGRAD3X3_FWD",
	}
	for id, want := range cases {
		if got := envName(id); got != want {
			t.Fatalf("envName(%q): got %q want %q", id, got, want)
		}
	}
}

func TestEnvEnabled(t *testing.T) {
	t.Parallel()

	for _, v := range []string{"1", "true", "YES", " on "} {
		if !envEnabled(v) {
			t.Fatalf("envEnabled(%q) = false", v)
		}
	}
	for _, v := range []string{"", "0", "false", "off", "junk"} {
		if envEnabled(v) {
			t.Fatalf("envEnabled(%q) = true", v)
		}
	}
}
