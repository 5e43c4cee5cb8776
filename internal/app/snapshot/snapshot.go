// Package snapshot captures the controllable hardware state and restores
// it from a Backup.
package snapshot

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/power-mode/power-mode/internal/domain"
)

// ACSensor reports whether mains power is connected.
type ACSensor interface {
	OnACPower() (bool, error)
}

// Options are the optional collaborators of a Snapshotter.
type Options struct {
	AC        ACSensor // nil leaves HardwareState.OnACPower unset
	MachineID string   // recorded in every Backup
	Now       func() time.Time
}

// Snapshotter builds HardwareState captures and replays them.
type Snapshotter struct {
	cpu  domain.CPUController
	gpu  domain.GpuController
	opts Options
	log  logrus.FieldLogger
}

// New creates a Snapshotter. gpu may be nil.
func New(cpu domain.CPUController, gpu domain.GpuController, opts Options, log logrus.FieldLogger) *Snapshotter {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Snapshotter{
		cpu:  cpu,
		gpu:  gpu,
		opts: opts,
		log:  log.WithField("component", "snapshot"),
	}
}

// Capture reads every known core and the GPU limit. A core that cannot be
// read is recorded as offline or unknown rather than failing the capture;
// only an unreadable core list is an error.
func (s *Snapshotter) Capture(ctx context.Context) (domain.HardwareState, error) {
	ids, err := s.cpu.Cores()
	if err != nil {
		return domain.HardwareState{}, fmt.Errorf("list cores: %w", err)
	}

	state := domain.HardwareState{
		CapturedAt: s.opts.Now(),
		Cores:      make([]domain.CoreState, 0, len(ids)),
	}
	for _, id := range ids {
		st, err := s.cpu.ReadCore(id)
		switch {
		case err == nil:
		case st.Status == domain.CoreOffline:
			// No cpufreq surface while offline.
		default:
			s.log.WithError(err).WithField("cpu", id).Warn("Core state unreadable, recording as unknown")
			st = domain.CoreState{ID: id, Status: domain.CoreUnknown}
		}
		state.Cores = append(state.Cores, st)
	}

	if s.gpu != nil && s.gpu.Available() {
		state.GPU.Available = true
		if w, err := s.gpu.PowerLimit(ctx); err == nil {
			state.GPU.PowerLimitWatts = &w
		} else {
			s.log.WithError(err).Warn("GPU power limit unreadable")
		}
	}

	if s.opts.AC != nil {
		if onAC, err := s.opts.AC.OnACPower(); err == nil {
			state.OnACPower = &onAC
		}
	}

	return state, nil
}

// NewBackup captures the current state as a Backup triggered by mode.
func (s *Snapshotter) NewBackup(ctx context.Context, mode string) (domain.Backup, error) {
	state, err := s.Capture(ctx)
	if err != nil {
		return domain.Backup{}, err
	}
	return domain.Backup{
		ID:        uuid.NewString(),
		Mode:      mode,
		CreatedAt: state.CapturedAt,
		MachineID: s.opts.MachineID,
		State:     state,
	}, nil
}

// RestoreReport describes a completed restore.
type RestoreReport struct {
	Applied int               // cores written successfully
	Skipped domain.CoreSet    // cores recorded as unknown
	Failed  domain.CoreSet    // cores whose write failed
	GPU     domain.GPUOutcome // GPU half, reported separately
}

// Restore drives every surface recorded in b back to its recorded value.
// Cores recorded online are restored first in ascending order, then cores
// recorded offline are taken offline, so the machine always keeps an
// online core. Every surface is attempted; failures are collected into a
// *PartialRestoreError naming each core.
func (s *Snapshotter) Restore(ctx context.Context, b domain.Backup) (RestoreReport, error) {
	if s.opts.MachineID != "" && b.MachineID != "" && b.MachineID != s.opts.MachineID {
		s.log.WithFields(logrus.Fields{
			"backup_machine": b.MachineID,
			"this_machine":   s.opts.MachineID,
		}).Warn("Backup was taken on a different machine")
	}

	var report RestoreReport
	var causes []error
	var failed []int
	var skipped []int

	restore := func(st domain.CoreState) {
		if err := s.cpu.WriteCore(st.ID, st); err != nil {
			s.log.WithError(err).WithField("cpu", st.ID).Warn("Restore failed for core")
			failed = append(failed, st.ID)
			causes = append(causes, err)
			return
		}
		report.Applied++
	}

	for _, st := range b.State.Cores {
		switch st.Status {
		case domain.CoreOnline:
			restore(st)
		case domain.CoreUnknown:
			skipped = append(skipped, st.ID)
		}
	}
	for _, st := range b.State.Cores {
		if st.Status == domain.CoreOffline {
			restore(domain.CoreState{ID: st.ID, Status: domain.CoreOffline})
		}
	}
	report.Failed = domain.NewCoreSet(failed...)
	report.Skipped = domain.NewCoreSet(skipped...)

	report.GPU = s.restoreGPU(ctx, b.State.GPU)

	if len(failed) > 0 {
		return report, &domain.PartialRestoreError{
			Applied:     report.Applied,
			FailedCores: report.Failed,
			Causes:      causes,
		}
	}
	return report, nil
}

func (s *Snapshotter) restoreGPU(ctx context.Context, g domain.GPUState) domain.GPUOutcome {
	if g.PowerLimitWatts == nil {
		return domain.GPUUnchanged
	}
	if s.gpu == nil || !s.gpu.Available() {
		return domain.GPUSkipped
	}
	if err := s.gpu.SetPowerLimit(ctx, *g.PowerLimitWatts); err != nil {
		s.log.WithError(err).Warn("GPU power limit restore failed")
		return domain.GPUFailed
	}
	return domain.GPUApplied
}
