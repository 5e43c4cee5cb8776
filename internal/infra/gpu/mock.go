package gpu

import (
	"context"
	"fmt"

	"github.com/power-mode/power-mode/internal/domain"
)

// ─── Mock GPU (for testing without nvidia-smi) ──────────────────────────────

// MockGPU implements domain.GpuController in memory.
type MockGPU struct {
	Present bool
	Limit   float64
	Bounds  domain.GPULimits
	Draw    float64
	SetErr  error // returned by SetPowerLimit when non-nil
	Sets    int   // SetPowerLimit calls
}

var _ domain.GpuController = (*MockGPU)(nil)

// NewMockGPU creates a present GPU capped at 115 W within [5, 150].
func NewMockGPU() *MockGPU {
	return &MockGPU{
		Present: true,
		Limit:   115,
		Bounds:  domain.GPULimits{MinWatts: 5, MaxWatts: 150, DefaultWatts: 115},
		Draw:    42.17,
	}
}

func (g *MockGPU) Available() bool { return g.Present }

func (g *MockGPU) PowerLimit(context.Context) (float64, error) {
	if !g.Present {
		return 0, domain.ErrGpuUnavailable
	}
	return g.Limit, nil
}

func (g *MockGPU) Limits(context.Context) (domain.GPULimits, error) {
	if !g.Present {
		return domain.GPULimits{}, domain.ErrGpuUnavailable
	}
	return g.Bounds, nil
}

func (g *MockGPU) SetPowerLimit(_ context.Context, watts float64) error {
	g.Sets++
	if !g.Present {
		return domain.ErrGpuUnavailable
	}
	if g.SetErr != nil {
		return fmt.Errorf("%w: %v", domain.ErrGpuUnavailable, g.SetErr)
	}
	g.Limit = watts
	return nil
}

func (g *MockGPU) PowerDraw(context.Context) (float64, error) {
	if !g.Present {
		return 0, domain.ErrGpuUnavailable
	}
	return g.Draw, nil
}
