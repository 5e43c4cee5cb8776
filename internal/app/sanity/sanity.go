// Package sanity checks a mode against hardware-reported bounds before any
// hardware is touched.
package sanity

import (
	"fmt"
	"slices"
	"strings"

	"github.com/power-mode/power-mode/internal/domain"
)

// Validate runs every check in a fixed order and returns the first
// failure as an *InvalidModeError. gpu is nil when the GPU tool could not
// report limits; the GPU check is then skipped and the GPU write will be
// skipped too.
func Validate(m domain.Mode, cpu domain.CPULimits, gpu *domain.GPULimits) error {
	if err := m.Check(); err != nil {
		return err
	}

	reject := func(format string, args ...any) error {
		return &domain.InvalidModeError{Mode: m.Name, Reason: fmt.Sprintf(format, args...)}
	}

	// Frequency bounds.
	hwMin, hwMax := cpu.MinFreqKHz/1000, cpu.MaxFreqKHz/1000
	if m.CPU.MinFreqMHz < hwMin {
		return reject("cpu.min_freq_mhz %d is below the hardware minimum %d MHz", m.CPU.MinFreqMHz, hwMin)
	}
	if m.CPU.MaxFreqMHz > hwMax {
		return reject("cpu.max_freq_mhz %d is above the hardware maximum %d MHz", m.CPU.MaxFreqMHz, hwMax)
	}

	// Governor.
	if !slices.Contains(cpu.Governors, m.CPU.Governor) {
		return reject("governor %q is not available (have: %s)", m.CPU.Governor, strings.Join(cpu.Governors, ", "))
	}

	// Online mask.
	var unknown []int
	for _, id := range m.CPU.OnlineCores {
		if !cpu.Cores.Contains(id) {
			unknown = append(unknown, id)
		}
	}
	if len(unknown) > 0 {
		return reject("cpu.online_cores names cores this machine does not have: %s", domain.NewCoreSet(unknown...))
	}
	for _, id := range cpu.AlwaysOnline {
		if !m.WantsOnline(id) {
			return reject("core %d cannot be taken offline on this machine", id)
		}
	}
	if len(cpu.Affinity) > 0 && !intersects(cpu.Affinity, m.CPU.OnlineCores) {
		return reject("no core this process may run on (%s) would stay online", cpu.Affinity)
	}

	// GPU power limit.
	if m.GPU.HasPowerLimit() && gpu != nil {
		w := *m.GPU.PowerLimitWatts
		if w < gpu.MinWatts || w > gpu.MaxWatts {
			return reject("gpu.power_limit_watts %g is outside [%g, %g]", w, gpu.MinWatts, gpu.MaxWatts)
		}
	}

	return nil
}

func intersects(a, b domain.CoreSet) bool {
	for _, id := range a {
		if b.Contains(id) {
			return true
		}
	}
	return false
}
