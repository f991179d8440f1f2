package solver

import (
	"context"
	"fmt"
	"time"

	"github.com/perflab/kerntune/internal/device"
	"github.com/perflab/kerntune/internal/problem"
)

// gemmInstance is one precompiled implicit-GEMM kernel variant. The
// instance table plays the role of a device-op factory: applicability and
// search both walk it, and the performance config identifies a winner by
// instance id.
type gemmInstance struct {
	id        string
	tileM     int
	tileN     int
	blockSize int
	types     []problem.DataType
}

var gemmFwdInstances = []gemmInstance{
	{"gemm_gfwd_256x128x2", 256, 128, 256, []problem.DataType{problem.F32, problem.F16}},
	{"gemm_gfwd_128x256x2", 128, 256, 256, []problem.DataType{problem.F32, problem.F16}},
	{"gemm_gfwd_128x128x4", 128, 128, 256, []problem.DataType{problem.F32, problem.F16, problem.BF16}},
	{"gemm_gfwd_128x64x4", 128, 64, 128, []problem.DataType{problem.F32, problem.F16, problem.BF16}},
	{"gemm_gfwd_64x64x8", 64, 64, 64, []problem.DataType{problem.F32, problem.F16}},
	{"gemm_gfwd_32x32x8", 32, 32, 64, []problem.DataType{problem.F16}},
}

func findGemmInstance(id string) (gemmInstance, bool) {
	for _, inst := range gemmFwdInstances {
		if inst.id == id {
			return inst, true
		}
	}
	return gemmInstance{}, false
}

// supports reports whether the instance can run the problem: dtype match
// and a GEMM large enough to fill the tile.
func (inst gemmInstance) supports(p *problem.Description) bool {
	ok := false
	for _, t := range inst.types {
		if t == p.InType {
			ok = true
			break
		}
	}
	if !ok {
		return false
	}
	gemmM := p.Batch * p.OutHeight() * p.OutWidth()
	gemmN := p.OutChannels / p.Groups
	return gemmM >= inst.tileM && gemmN >= inst.tileN
}

// GemmGroupedFwdConfig enumerates the instances valid for one problem. The
// serialized form is just the chosen instance id.
type GemmGroupedFwdConfig struct {
	index        int
	kernelID     string
	validKernels []string
}

func (c *GemmGroupedFwdConfig) heuristicInit(p *problem.Description) {
	c.validKernels = c.validKernels[:0]
	for _, inst := range gemmFwdInstances {
		if inst.supports(p) {
			c.validKernels = append(c.validKernels, inst.id)
		}
	}
	c.index = 0
	if len(c.validKernels) > 0 {
		c.kernelID = c.validKernels[0]
	} else {
		c.kernelID = ""
	}
}

func (c *GemmGroupedFwdConfig) IsValid(p *problem.Description) bool {
	inst, ok := findGemmInstance(c.kernelID)
	return ok && inst.supports(p)
}

func (c *GemmGroupedFwdConfig) SetNextValue(p *problem.Description) bool {
	if len(c.validKernels) == 0 {
		c.heuristicInit(p)
		return len(c.validKernels) > 0
	}
	if c.index+1 < len(c.validKernels) {
		c.index++
		c.kernelID = c.validKernels[c.index]
		return true
	}
	return false
}

func (c *GemmGroupedFwdConfig) String() string { return c.kernelID }

// GemmGroupedFwd is the grouped implicit-GEMM forward solver. It is the
// preferred choice on the architectures its instance set was built for.
type GemmGroupedFwd struct{}

var gemmFwdArchs = map[string]bool{
	"gfx908": true,
	"gfx90a": true,
}

func (s *GemmGroupedFwd) ID() string { return "GemmGroupedFwd" }

func (s *GemmGroupedFwd) IsApplicable(c *Context, p *problem.Description) bool {
	if !gemmFwdArchs[c.Handle.Arch()] {
		return false
	}
	if p.Direction != problem.Forward {
		return false
	}
	if p.Layout != problem.NHWC {
		return false
	}
	if !p.IsSameType() {
		return false
	}
	if !p.IsUnitStride() {
		return false
	}
	for _, inst := range gemmFwdInstances {
		if inst.supports(p) {
			return true
		}
	}
	return false
}

func (s *GemmGroupedFwd) DefaultConfig(p *problem.Description) PerfConfig {
	cfg := &GemmGroupedFwdConfig{}
	cfg.heuristicInit(p)
	return cfg
}

func (s *GemmGroupedFwd) IsValidConfig(p *problem.Description, cfg PerfConfig) bool {
	return cfg.IsValid(p)
}

func (s *GemmGroupedFwd) ParseConfig(str string) (PerfConfig, error) {
	if str == "" {
		return nil, fmt.Errorf("solver: empty GemmGroupedFwd config")
	}
	return &GemmGroupedFwdConfig{kernelID: str}, nil
}

func (s *GemmGroupedFwd) Search(ctx context.Context, c *Context, p *problem.Description) (PerfConfig, error) {
	return genericSearch(ctx, s, c, p)
}

func (s *GemmGroupedFwd) Solution(c *Context, p *problem.Description, cfg PerfConfig) (Solution, error) {
	gc, ok := cfg.(*GemmGroupedFwdConfig)
	if !ok {
		return Solution{}, fmt.Errorf("solver: GemmGroupedFwd given %T config", cfg)
	}
	inst, found := findGemmInstance(gc.kernelID)
	if !found {
		return Solution{}, fmt.Errorf("solver: unknown gemm instance %q", gc.kernelID)
	}

	gemmM := p.Batch * p.OutHeight() * p.OutWidth()
	gemmN := p.OutChannels / p.Groups
	tilesM := alignUp(gemmM, inst.tileM) / inst.tileM
	tilesN := alignUp(gemmN, inst.tileN) / inst.tileN

	kernel := device.Kernel{
		Name: inst.id,
		File: "kerntune_gemm_grouped_fwd.cpp",
		BuildFlags: []string{
			fmt.Sprintf("-DTILE_M=%d", inst.tileM),
			fmt.Sprintf("-DTILE_N=%d", inst.tileN),
			dtypeFlag(p.InType),
		},
		LocalSize: [3]int{inst.blockSize, 1, 1},
		GridSize:  [3]int{tilesM * tilesN * p.Groups * inst.blockSize, 1, 1},
	}
	return Solution{
		SolverID: s.ID(),
		Kernel:   kernel,
		Invoke: func(ctx context.Context, h *device.Handle, args any) (time.Duration, error) {
			return h.Run(ctx, kernel, args)
		},
	}, nil
}

func dtypeFlag(t problem.DataType) string {
	switch t {
	case problem.F16:
		return "-DKERNTUNE_USE_FP16=1"
	case problem.BF16:
		return "-DKERNTUNE_USE_BFP16=1"
	case problem.I8:
		return "-DKERNTUNE_USE_INT8=1"
	default:
		return "-DKERNTUNE_USE_FP32=1"
	}
}
