package main

import (
	"testing"

	"github.com/perflab/kerntune/internal/problem"
)

func TestParsePair(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		h, w int
	}{
		{"3x3", 3, 3},
		{"1x2", 1, 2},
		{"5", 5, 5},
	}
	for _, tc := range cases {
		h, w, err := parsePair(tc.in)
		if err != nil {
			t.Fatalf("parsePair(%q): %v", tc.in, err)
		}
		if h != tc.h || w != tc.w {
			t.Fatalf("parsePair(%q): got %dx%d want %dx%d", tc.in, h, w, tc.h, tc.w)
		}
	}

	for _, in := range []string{"", "x", "3x", "ax3"} {
		if _, _, err := parsePair(in); err == nil {
			t.Fatalf("parsePair(%q): expected error", in)
		}
	}
}

func TestBuildProblem(t *testing.T) {
	t.Parallel()

	desc, err := buildProblem(2, 64, 56, 56, 128,
		"3x3", "1x1", "1x1", "1x1", 1, "f16", "nhwc", "fwd")
	if err != nil {
		t.Fatalf("buildProblem: %v", err)
	}
	if desc.FilterH != 3 || desc.PadW != 1 || desc.InType != problem.F16 {
		t.Fatalf("unexpected description: %+v", desc)
	}
	if desc.Layout != problem.NHWC || desc.Direction != problem.Forward {
		t.Fatalf("unexpected layout/direction: %+v", desc)
	}

	if _, err := buildProblem(0, 64, 56, 56, 128,
		"3x3", "1x1", "1x1", "1x1", 1, "f32", "nchw", "fwd"); err == nil {
		t.Fatalf("expected validation error for zero batch")
	}
	if _, err := buildProblem(1, 64, 56, 56, 128,
		"3x3", "1x1", "1x1", "1x1", 3, "f32", "nchw", "fwd"); err == nil {
		t.Fatalf("expected validation error for indivisible groups")
	}
}
