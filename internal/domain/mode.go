// Package domain holds the pure types of power-mode: modes, hardware
// snapshots, backups and power readings. Nothing here touches the host.
package domain

import (
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
)

// Common cpufreq governors. The authoritative list is whatever the
// hardware reports in scaling_available_governors.
const (
	GovernorPerformance  = "performance"
	GovernorPowersave    = "powersave"
	GovernorSchedutil    = "schedutil"
	GovernorOndemand     = "ondemand"
	GovernorConservative = "conservative"
	GovernorUserspace    = "userspace"
)

// Mode is a named, user-authored target configuration. Modes are loaded
// once per invocation and never mutated afterwards.
type Mode struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	CPU         CPUMode `json:"cpu"`
	GPU         GPUMode `json:"gpu"`
}

// CPUMode is the CPU half of a Mode.
type CPUMode struct {
	Governor    string  `json:"governor"`
	MinFreqMHz  int     `json:"min_freq_mhz"`
	MaxFreqMHz  int     `json:"max_freq_mhz"`
	OnlineCores CoreSet `json:"online_cores"`
}

// GPUMode is the GPU half of a Mode. A nil PowerLimitWatts leaves the
// GPU untouched.
type GPUMode struct {
	PowerLimitWatts *float64 `json:"power_limit_watts,omitempty"`
}

// HasPowerLimit reports whether the mode asks for a GPU power cap.
func (g GPUMode) HasPowerLimit() bool {
	return g.PowerLimitWatts != nil
}

// WantsOnline reports whether core id is online in this mode.
func (m Mode) WantsOnline(id int) bool {
	return m.CPU.OnlineCores.Contains(id)
}

// Check enforces the structural invariants every Mode must satisfy,
// independent of the hardware it will be applied to.
func (m Mode) Check() error {
	if m.Name == "" {
		return &InvalidModeError{Reason: "mode has no name"}
	}
	if m.CPU.Governor == "" {
		return &InvalidModeError{Mode: m.Name, Reason: "cpu.governor is empty"}
	}
	if m.CPU.MinFreqMHz <= 0 || m.CPU.MaxFreqMHz <= 0 {
		return &InvalidModeError{Mode: m.Name, Reason: "cpu frequencies must be positive"}
	}
	if m.CPU.MinFreqMHz > m.CPU.MaxFreqMHz {
		return &InvalidModeError{Mode: m.Name, Reason: fmt.Sprintf(
			"cpu.min_freq_mhz (%d) exceeds cpu.max_freq_mhz (%d)", m.CPU.MinFreqMHz, m.CPU.MaxFreqMHz)}
	}
	if len(m.CPU.OnlineCores) == 0 {
		return &InvalidModeError{Mode: m.Name, Reason: "cpu.online_cores is empty"}
	}
	if !m.CPU.OnlineCores.Contains(0) {
		return &InvalidModeError{Mode: m.Name, Reason: "cpu.online_cores must include core 0"}
	}
	if m.GPU.PowerLimitWatts != nil && *m.GPU.PowerLimitWatts <= 0 {
		return &InvalidModeError{Mode: m.Name, Reason: "gpu.power_limit_watts must be positive"}
	}
	return nil
}

// CoreSet is a sorted, duplicate-free set of core ids.
type CoreSet []int

// NewCoreSet sorts and de-duplicates ids.
func NewCoreSet(ids ...int) CoreSet {
	s := slices.Clone(ids)
	sort.Ints(s)
	return CoreSet(slices.Compact(s))
}

// Contains reports whether id is in the set.
func (s CoreSet) Contains(id int) bool {
	_, ok := slices.BinarySearch(s, id)
	return ok
}

// String renders the set in kernel cpulist form ("0-3,8").
func (s CoreSet) String() string {
	if len(s) == 0 {
		return ""
	}
	var b strings.Builder
	start, prev := s[0], s[0]
	flush := func() {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		if start == prev {
			b.WriteString(strconv.Itoa(start))
		} else {
			fmt.Fprintf(&b, "%d-%d", start, prev)
		}
	}
	for _, id := range s[1:] {
		if id == prev+1 {
			prev = id
			continue
		}
		flush()
		start, prev = id, id
	}
	flush()
	return b.String()
}

// MaxCoreID is the highest cpu id accepted in a cpulist, matching the
// kernel's largest NR_CPUS.
const MaxCoreID = 8191

// ParseCPUList parses the kernel cpulist format used by
// /sys/devices/system/cpu/{online,possible,present}: "0-3,8,10-11".
func ParseCPUList(s string) (CoreSet, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return CoreSet{}, nil
	}
	var ids []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		lo, hi, isRange := strings.Cut(part, "-")
		first, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil || first < 0 || first > MaxCoreID {
			return nil, fmt.Errorf("invalid cpu id %q in %q", lo, s)
		}
		last := first
		if isRange {
			last, err = strconv.Atoi(strings.TrimSpace(hi))
			if err != nil || last < first || last > MaxCoreID {
				return nil, fmt.Errorf("invalid cpu range %q in %q", part, s)
			}
		}
		for id := first; id <= last; id++ {
			ids = append(ids, id)
		}
	}
	return NewCoreSet(ids...), nil
}
