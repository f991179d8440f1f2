package solver

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/perflab/kerntune/internal/device"
	"github.com/perflab/kerntune/internal/problem"
)

// DirectFwd tiles the output plane and computes each tile directly. It has
// the widest applicability of the built-in solvers and serves as the last
// resort in the registry order.
type DirectFwd struct{}

var (
	directTileWs  = []int{8, 16, 32, 64}
	directTileHs  = []int{2, 4, 8}
	directUnrolls = []int{1, 2, 4}
)

// maxWorkgroupSize bounds TileW*TileH for one workgroup.
const maxWorkgroupSize = 256

// DirectFwdConfig is a numeric tile-shape search space, serialized as
// "TileW,TileH,Unroll".
type DirectFwdConfig struct {
	TileW  int
	TileH  int
	Unroll int
}

func (c *DirectFwdConfig) IsValid(p *problem.Description) bool {
	if !slices.Contains(directTileWs, c.TileW) ||
		!slices.Contains(directTileHs, c.TileH) ||
		!slices.Contains(directUnrolls, c.Unroll) {
		return false
	}
	if c.TileW*c.TileH > maxWorkgroupSize {
		return false
	}
	return c.Unroll <= p.FilterH*p.FilterW
}

// SetNextValue steps the config like an odometer: unroll fastest, then
// tile height, then tile width.
func (c *DirectFwdConfig) SetNextValue(p *problem.Description) bool {
	iW := slices.Index(directTileWs, c.TileW)
	iH := slices.Index(directTileHs, c.TileH)
	iU := slices.Index(directUnrolls, c.Unroll)
	if iW < 0 || iH < 0 || iU < 0 {
		*c = DirectFwdConfig{TileW: directTileWs[0], TileH: directTileHs[0], Unroll: directUnrolls[0]}
		return true
	}
	iU++
	if iU == len(directUnrolls) {
		iU = 0
		iH++
	}
	if iH == len(directTileHs) {
		iH = 0
		iW++
	}
	if iW == len(directTileWs) {
		return false
	}
	c.TileW = directTileWs[iW]
	c.TileH = directTileHs[iH]
	c.Unroll = directUnrolls[iU]
	return true
}

func (c *DirectFwdConfig) String() string {
	return fmt.Sprintf("%d,%d,%d", c.TileW, c.TileH, c.Unroll)
}

func (s *DirectFwd) ID() string { return "DirectFwd" }

func (s *DirectFwd) IsApplicable(c *Context, p *problem.Description) bool {
	if p.Direction != problem.Forward {
		return false
	}
	if p.Groups != 1 {
		return false
	}
	if !p.IsSameType() {
		return false
	}
	if p.FilterH > 11 || p.FilterW > 11 {
		return false
	}
	return p.PadH < p.FilterH && p.PadW < p.FilterW
}

func (s *DirectFwd) DefaultConfig(p *problem.Description) PerfConfig {
	cfg := &DirectFwdConfig{TileW: 16, TileH: 4, Unroll: 1}
	switch {
	case p.OutWidth() >= 64:
		cfg.TileW = 32
	case p.OutWidth() < 16:
		cfg.TileW = 8
	}
	return cfg
}

func (s *DirectFwd) IsValidConfig(p *problem.Description, cfg PerfConfig) bool {
	return cfg.IsValid(p)
}

func (s *DirectFwd) ParseConfig(str string) (PerfConfig, error) {
	cfg := &DirectFwdConfig{}
	if _, err := fmt.Sscanf(str, "%d,%d,%d", &cfg.TileW, &cfg.TileH, &cfg.Unroll); err != nil {
		return nil, fmt.Errorf("solver: bad DirectFwd config %q: %w", str, err)
	}
	return cfg, nil
}

func (s *DirectFwd) Search(ctx context.Context, c *Context, p *problem.Description) (PerfConfig, error) {
	return genericSearch(ctx, s, c, p)
}

func (s *DirectFwd) Solution(c *Context, p *problem.Description, cfg PerfConfig) (Solution, error) {
	dc, ok := cfg.(*DirectFwdConfig)
	if !ok {
		return Solution{}, fmt.Errorf("solver: DirectFwd given %T config", cfg)
	}

	name := "ConvDirectFwdNCHW"
	if p.Layout == problem.NHWC {
		name = "ConvDirectFwdNHWC"
	}
	kernel := device.Kernel{
		Name: name,
		File: "kerntune_conv_direct_fwd.cpp",
		BuildFlags: []string{
			fmt.Sprintf("-DTILE_W=%d", dc.TileW),
			fmt.Sprintf("-DTILE_H=%d", dc.TileH),
			fmt.Sprintf("-DUNROLL=%d", dc.Unroll),
			dtypeFlag(p.InType),
		},
		LocalSize: [3]int{dc.TileW, dc.TileH, 1},
		GridSize: [3]int{
			alignUp(p.OutWidth(), dc.TileW),
			alignUp(p.OutHeight(), dc.TileH),
			p.Batch * p.OutChannels,
		},
	}
	return Solution{
		SolverID: s.ID(),
		Kernel:   kernel,
		Invoke: func(ctx context.Context, h *device.Handle, args any) (time.Duration, error) {
			return h.Run(ctx, kernel, args)
		},
	}, nil
}
