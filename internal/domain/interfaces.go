package domain

import "context"

// ─── Capability Interfaces ──────────────────────────────────────────────────
// Infrastructure implements these; the application layer depends on them.

// CPULimits are the hardware-reported sanity bounds for CPU values.
type CPULimits struct {
	Cores        CoreSet  // every known core id, no gaps
	MinFreqKHz   int      // cpuinfo_min_freq (largest across cores)
	MaxFreqKHz   int      // cpuinfo_max_freq (smallest across cores)
	Governors    []string // scaling_available_governors common to all cores
	AlwaysOnline CoreSet  // cores the platform does not allow to be offlined
	Affinity     CoreSet  // CPUs this process may run on
}

// GPULimits are the power-limit bounds reported by the GPU tool.
type GPULimits struct {
	MinWatts     float64
	MaxWatts     float64
	DefaultWatts float64
}

// CPUController reads and writes per-core frequency, governor and online
// state.
type CPUController interface {
	// Cores returns every known core id.
	Cores() (CoreSet, error)

	// Limits returns the hardware sanity bounds.
	Limits() (CPULimits, error)

	// ReadCore returns the state of one core. For an offline core it
	// returns a CoreOffline state together with an ErrIOUnavailable error,
	// since its frequency surface is absent.
	ReadCore(id int) (CoreState, error)

	// WriteCore drives one core to desired. An offline target only writes
	// the online switch; an online target brings the core online first
	// and then writes governor and frequencies. Failures wrap
	// ErrPermissionDenied, ErrIOUnavailable or ErrOutOfRange.
	WriteCore(id int, desired CoreState) error
}

// GpuController is the GPU power-cap capability. Every failure wraps
// ErrGpuUnavailable.
type GpuController interface {
	Available() bool
	PowerLimit(ctx context.Context) (float64, error)
	Limits(ctx context.Context) (GPULimits, error)
	SetPowerLimit(ctx context.Context, watts float64) error
	PowerDraw(ctx context.Context) (float64, error)
}

// BackupStore is the durable single-slot Backup record.
type BackupStore interface {
	Persist(b Backup) error
	Load() (Backup, error)
}

// Journal records the outcome of every mutating command.
type Journal interface {
	Record(ctx context.Context, t Transition) error
}

// PowerMeter reads instantaneous power draw without touching hardware
// state.
type PowerMeter interface {
	Read(ctx context.Context, source PowerSource) (*PowerReading, error)
	OnACPower() (bool, error)
}
