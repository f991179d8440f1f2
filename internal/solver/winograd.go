package solver

import (
	"context"
	"fmt"
	"time"

	"github.com/perflab/kerntune/internal/device"
	"github.com/perflab/kerntune/internal/problem"
)

const (
	winogradLocalSize = 256

	// Below this output size the transform overhead outweighs the saved
	// multiplies and DirectFwd wins anyway.
	winogradMinOutputElements = 1 << 20
)

// Winograd3x3Fwd computes 3x3 unit-stride forward convolutions with the
// F(2x2, 3x3) Winograd transform. There is nothing to tune: the transform
// is fixed, so the solver is not a TunableSolver and goes straight from
// applicability to solution.
type Winograd3x3Fwd struct{}

// winogradConfig is the fixed transform tag. It exists so the solver still
// satisfies the common config contract.
type winogradConfig struct{}

const winogradConfigTag = "F(2x2,3x3)"

func (winogradConfig) IsValid(p *problem.Description) bool      { return true }
func (winogradConfig) SetNextValue(p *problem.Description) bool { return false }
func (winogradConfig) String() string                           { return winogradConfigTag }

func (s *Winograd3x3Fwd) ID() string { return "Winograd3x3Fwd" }

func (s *Winograd3x3Fwd) IsApplicable(c *Context, p *problem.Description) bool {
	if p.Direction != problem.Forward {
		return false
	}
	if p.FilterH != 3 || p.FilterW != 3 {
		return false
	}
	if !p.IsUnitStride() || !p.IsUnitDilation() {
		return false
	}
	if p.Groups != 1 {
		return false
	}
	if !p.IsSameType() || (p.InType != problem.F32 && p.InType != problem.F16) {
		return false
	}
	if p.PadH > 1 || p.PadW > 1 {
		return false
	}
	return p.OutputElements() >= winogradMinOutputElements
}

func (s *Winograd3x3Fwd) DefaultConfig(p *problem.Description) PerfConfig {
	return winogradConfig{}
}

func (s *Winograd3x3Fwd) IsValidConfig(p *problem.Description, cfg PerfConfig) bool {
	return cfg.IsValid(p)
}

func (s *Winograd3x3Fwd) ParseConfig(str string) (PerfConfig, error) {
	if str != "" && str != winogradConfigTag {
		return nil, fmt.Errorf("solver: bad Winograd3x3Fwd config %q", str)
	}
	return winogradConfig{}, nil
}

func (s *Winograd3x3Fwd) Solution(c *Context, p *problem.Description, cfg PerfConfig) (Solution, error) {
	if _, ok := cfg.(winogradConfig); !ok {
		return Solution{}, fmt.Errorf("solver: Winograd3x3Fwd given %T config", cfg)
	}

	// One workitem per 2x2 output tile; scale the grid with the device
	// but never beyond the tile count.
	tiles := ((p.OutHeight() + 1) / 2) * ((p.OutWidth() + 1) / 2) * p.Batch * p.OutChannels
	gridX := alignUp(tiles, winogradLocalSize)
	maxGrid := c.Handle.MaxComputeUnits() * 8 * winogradLocalSize
	if maxGrid > 0 && gridX > maxGrid {
		gridX = maxGrid
	}

	kernel := device.Kernel{
		Name: "ConvWinograd3x3Fwd",
		File: "kerntune_conv_winograd_3x3.cpp",
		BuildFlags: []string{
			dtypeFlag(p.InType),
		},
		LocalSize: [3]int{winogradLocalSize, 1, 1},
		GridSize:  [3]int{gridX, 1, 1},
	}
	return Solution{
		SolverID: s.ID(),
		Kernel:   kernel,
		Invoke: func(ctx context.Context, h *device.Handle, args any) (time.Duration, error) {
			return h.Run(ctx, kernel, args)
		},
	}, nil
}
