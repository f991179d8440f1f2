package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/perflab/kerntune/internal/device"
	"github.com/perflab/kerntune/internal/problem"
	"github.com/perflab/kerntune/internal/solver"
)

func tuneCmd() *cli.Command {
	var (
		batch       int
		inChannels  int
		inHeight    int
		inWidth     int
		outChannels int
		filter      string
		stride      string
		pad         string
		dilation    string
		groups      int
		dtype       string
		layout      string
		direction   string

		maxCandidates int
		timeBudget    time.Duration
		compiler      string
	)

	return &cli.Command{
		Name:  "tune",
		Usage: "Search for the fastest kernel for one convolution and record it",
		Flags: append(append([]cli.Flag{
			&cli.IntFlag{Name: "batch", Aliases: []string{"n"}, Usage: "batch size", Value: 1, Destination: &batch},
			&cli.IntFlag{Name: "in-channels", Aliases: []string{"c"}, Usage: "input channels", Required: true, Destination: &inChannels},
			&cli.IntFlag{Name: "height", Aliases: []string{"H"}, Usage: "input height", Required: true, Destination: &inHeight},
			&cli.IntFlag{Name: "width", Aliases: []string{"W"}, Usage: "input width", Required: true, Destination: &inWidth},
			&cli.IntFlag{Name: "out-channels", Aliases: []string{"k"}, Usage: "output channels", Required: true, Destination: &outChannels},
			&cli.StringFlag{Name: "filter", Usage: "filter size HxW", Value: "3x3", Destination: &filter},
			&cli.StringFlag{Name: "stride", Usage: "stride HxW", Value: "1x1", Destination: &stride},
			&cli.StringFlag{Name: "pad", Usage: "padding HxW", Value: "0x0", Destination: &pad},
			&cli.StringFlag{Name: "dilation", Usage: "dilation HxW", Value: "1x1", Destination: &dilation},
			&cli.IntFlag{Name: "groups", Aliases: []string{"g"}, Usage: "group count", Value: 1, Destination: &groups},
			&cli.StringFlag{Name: "dtype", Usage: "data type (f32, f16, bf16, i8)", Value: "f32", Destination: &dtype},
			&cli.StringFlag{Name: "layout", Usage: "tensor layout (nchw, nhwc)", Value: "nchw", Destination: &layout},
			&cli.StringFlag{Name: "direction", Usage: "convolution direction (fwd, bd, bw)", Value: "fwd", Destination: &direction},
			&cli.IntFlag{Name: "max-candidates", Usage: "cap benchmarked candidates per solver (0 = whole space)", Destination: &maxCandidates},
			&cli.DurationFlag{Name: "time-budget", Usage: "wall-time cap for the search (0 = unlimited)", Destination: &timeBudget},
			&cli.StringFlag{Name: "compiler", Usage: "external kernel compiler command", Destination: &compiler},
		}, commonDbFlags()...), loggingFlags()...),
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg := LoadConfig()
			applyCommonConfig(c, cfg)
			applyTuneConfig(c, cfg, &maxCandidates, &timeBudget)
			log := newLogger()

			desc, err := buildProblem(batch, inChannels, inHeight, inWidth, outChannels,
				filter, stride, pad, dilation, groups, dtype, layout, direction)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			db, err := openTiered(log)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			opts := []device.Option{device.WithLogger(log)}
			if compiler != "" {
				opts = append(opts, device.WithCompiler(compiler, "", nil))
			}
			handle := device.NewHandle(resolveArch(), device.HostComputeUnits(), nil, opts...)

			sctx := &solver.Context{
				Handle: handle,
				DB:     db,
				Log:    log,
				Tuning: solver.TuningOptions{
					MaxCandidates: maxCandidates,
					TimeBudget:    timeBudget,
				},
			}
			sol, err := solver.DefaultRegistry().FindSolution(ctx, sctx, &desc)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			key := problem.Fingerprint{Arch: handle.Arch(), Desc: desc}.Key()
			fmt.Printf("fingerprint: %s\n", key)
			fmt.Printf("solver:      %s\n", sol.SolverID)
			if cfgStr, ok := db.Load(key, sol.SolverID); ok {
				fmt.Printf("config:      %s\n", cfgStr)
			}
			fmt.Printf("kernel:      %s (%s)\n", sol.Kernel.Name, sol.Kernel.File)
			fmt.Printf("local size:  %v\n", sol.Kernel.LocalSize)
			fmt.Printf("grid size:   %v\n", sol.Kernel.GridSize)
			if len(sol.Kernel.BuildFlags) > 0 {
				fmt.Printf("build flags: %s\n", strings.Join(sol.Kernel.BuildFlags, " "))
			}
			if sol.Workspace > 0 {
				fmt.Printf("workspace:   %d bytes\n", sol.Workspace)
			}
			return nil
		},
	}
}

func buildProblem(batch, inChannels, inHeight, inWidth, outChannels int,
	filter, stride, pad, dilation string, groups int,
	dtype, layout, direction string,
) (problem.Description, error) {
	fh, fw, err := parsePair(filter)
	if err != nil {
		return problem.Description{}, fmt.Errorf("filter: %w", err)
	}
	sh, sw, err := parsePair(stride)
	if err != nil {
		return problem.Description{}, fmt.Errorf("stride: %w", err)
	}
	ph, pw, err := parsePair(pad)
	if err != nil {
		return problem.Description{}, fmt.Errorf("pad: %w", err)
	}
	dh, dw, err := parsePair(dilation)
	if err != nil {
		return problem.Description{}, fmt.Errorf("dilation: %w", err)
	}
	dt, err := problem.ParseDataType(dtype)
	if err != nil {
		return problem.Description{}, err
	}
	lo, err := problem.ParseLayout(layout)
	if err != nil {
		return problem.Description{}, err
	}
	dir, err := problem.ParseDirection(direction)
	if err != nil {
		return problem.Description{}, err
	}

	desc := problem.Description{
		Batch: batch, InChannels: inChannels, InHeight: inHeight, InWidth: inWidth,
		OutChannels: outChannels, FilterH: fh, FilterW: fw,
		PadH: ph, PadW: pw, StrideH: sh, StrideW: sw,
		DilationH: dh, DilationW: dw, Groups: groups,
		InType: dt, WeightsType: dt, OutType: dt,
		Layout: lo, Direction: dir,
	}
	if err := desc.Validate(); err != nil {
		return problem.Description{}, err
	}
	return desc, nil
}

// parsePair parses "HxW" dimension pairs; a single number means square.
func parsePair(s string) (h, w int, err error) {
	head, tail, found := strings.Cut(s, "x")
	h, err = strconv.Atoi(head)
	if err != nil {
		return 0, 0, fmt.Errorf("bad dimension pair %q", s)
	}
	if !found {
		return h, h, nil
	}
	w, err = strconv.Atoi(tail)
	if err != nil {
		return 0, 0, fmt.Errorf("bad dimension pair %q", s)
	}
	return h, w, nil
}
