// Package applier drives a mode transition: validate, snapshot, write,
// verify, and roll back on failure. It also owns the other two mutating
// flows, restoring the backup and saving a manual one.
package applier

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/power-mode/power-mode/internal/app/sanity"
	"github.com/power-mode/power-mode/internal/app/snapshot"
	"github.com/power-mode/power-mode/internal/domain"
)

// gpuTolerance is how far a read-back GPU limit may drift from the
// requested one; the tool reports two decimals.
const gpuTolerance = 0.5

// Applier runs mutating transitions. Callers hold the process lock.
type Applier struct {
	cpu     domain.CPUController
	gpu     domain.GpuController
	snap    *snapshot.Snapshotter
	store   domain.BackupStore
	journal domain.Journal
	log     logrus.FieldLogger
	now     func() time.Time
}

// New creates an Applier. gpu and journal may be nil.
func New(
	cpu domain.CPUController,
	gpu domain.GpuController,
	snap *snapshot.Snapshotter,
	store domain.BackupStore,
	journal domain.Journal,
	log logrus.FieldLogger,
) *Applier {
	return &Applier{
		cpu:     cpu,
		gpu:     gpu,
		snap:    snap,
		store:   store,
		journal: journal,
		log:     log.WithField("component", "applier"),
		now:     time.Now,
	}
}

// Result describes a finished Apply.
type Result struct {
	ID       string
	Mode     string
	State    domain.ApplyState   // terminal state
	Path     []domain.ApplyState // every state visited, in order
	Backup   *domain.Backup      // nil when rejected before snapshotting
	Written  int                 // successful core writes
	GPU      domain.GPUOutcome
	GPUErr   error
	Err      error                   // why the transition did not apply
	Rollback *snapshot.RestoreReport // set when a rollback ran
}

// run carries the state of one Apply.
type run struct {
	a   *Applier
	res *Result
	log logrus.FieldLogger
}

func (r *run) enter(to domain.ApplyState) {
	from := domain.StateIdle
	if n := len(r.res.Path); n > 0 {
		from = r.res.Path[n-1]
	}
	r.res.Path = append(r.res.Path, to)
	r.res.State = to
	r.log.WithFields(logrus.Fields{"from": from, "to": to}).Debug("Transition")
}

// Apply transitions the machine to m. The returned error is nil only when
// the final state is Applied; a GPU failure alone never fails Apply.
func (a *Applier) Apply(ctx context.Context, m domain.Mode) (Result, error) {
	started := a.now()
	res := &Result{
		ID:   uuid.NewString(),
		Mode: m.Name,
		Path: []domain.ApplyState{domain.StateIdle},
		GPU:  domain.GPUUnchanged,
	}
	r := &run{a: a, res: res, log: a.log.WithFields(logrus.Fields{"mode": m.Name, "transition": res.ID})}

	err := r.apply(ctx, m)
	res.Err = err
	a.record(ctx, domain.Transition{
		ID:         res.ID,
		Kind:       domain.KindApply,
		Mode:       m.Name,
		Outcome:    string(res.State),
		GPU:        res.GPU,
		Error:      errString(err),
		StartedAt:  started,
		FinishedAt: a.now(),
	})
	return *res, err
}

func (r *run) apply(ctx context.Context, m domain.Mode) error {
	a := r.a

	// ── Validating ──
	r.enter(domain.StateValidating)
	limits, err := a.cpu.Limits()
	if err != nil {
		r.enter(domain.StateRejected)
		return fmt.Errorf("read cpu limits: %w", err)
	}
	var gpuLimits *domain.GPULimits
	if m.GPU.HasPowerLimit() && a.gpuAvailable() {
		if gl, err := a.gpu.Limits(ctx); err == nil {
			gpuLimits = &gl
		} else {
			r.log.WithError(err).Warn("GPU limits unreadable, skipping GPU range check")
		}
	}
	if err := sanity.Validate(m, limits, gpuLimits); err != nil {
		r.enter(domain.StateRejected)
		return err
	}

	// ── Snapshotting ──
	r.enter(domain.StateSnapshotting)
	backup, err := a.snap.NewBackup(ctx, m.Name)
	if err != nil {
		r.enter(domain.StateRejected)
		return fmt.Errorf("capture: %w", err)
	}
	if err := a.store.Persist(backup); err != nil {
		r.enter(domain.StateRejected)
		return err
	}
	r.res.Backup = &backup
	r.log.WithField("backup", backup.ID).Debug("Backup persisted")

	// ── Writing ──
	r.enter(domain.StateWriting)
	for _, id := range limits.Cores {
		if err := a.cpu.WriteCore(id, domain.DesiredCore(m, id)); err != nil {
			return r.rollback(ctx, backup, err)
		}
		r.res.Written++
	}
	r.res.GPU, r.res.GPUErr = a.writeGPU(ctx, m)
	if r.res.GPUErr != nil {
		r.log.WithError(r.res.GPUErr).Warn("GPU power limit not applied")
	}

	// ── Verifying ──
	r.enter(domain.StateVerifying)
	if err := a.verifyCPU(m, limits.Cores); err != nil {
		return r.rollback(ctx, backup, err)
	}
	if r.res.GPU == domain.GPUApplied {
		if err := a.verifyGPU(ctx, *m.GPU.PowerLimitWatts); err != nil {
			r.log.WithError(err).Warn("GPU power limit did not verify")
			r.res.GPU, r.res.GPUErr = domain.GPUFailed, err
		}
	}

	r.enter(domain.StateApplied)
	r.log.WithFields(logrus.Fields{"cores": r.res.Written, "gpu": r.res.GPU}).Info("Mode applied")
	return nil
}

// rollback restores backup after a fatal CPU failure.
func (r *run) rollback(ctx context.Context, backup domain.Backup, cause error) error {
	r.log.WithError(cause).Warn("Transition failed, rolling back")

	report, rerr := r.a.snap.Restore(ctx, backup)
	r.res.Rollback = &report
	r.enter(domain.StateRolledBack)

	err := fmt.Errorf("mode %q rolled back: %w", r.res.Mode, cause)
	if rerr != nil {
		r.log.WithError(rerr).Error("Rollback incomplete")
		return errors.Join(err, rerr)
	}
	return err
}

func (a *Applier) gpuAvailable() bool {
	return a.gpu != nil && a.gpu.Available()
}

func (a *Applier) writeGPU(ctx context.Context, m domain.Mode) (domain.GPUOutcome, error) {
	if !m.GPU.HasPowerLimit() {
		return domain.GPUUnchanged, nil
	}
	if !a.gpuAvailable() {
		return domain.GPUSkipped, fmt.Errorf("%w: GPU tool not available", domain.ErrGpuUnavailable)
	}
	if err := a.gpu.SetPowerLimit(ctx, *m.GPU.PowerLimitWatts); err != nil {
		return domain.GPUFailed, err
	}
	return domain.GPUApplied, nil
}

// verifyCPU reads every core back and compares it with the mode.
// Frequencies are compared in MHz.
func (a *Applier) verifyCPU(m domain.Mode, cores domain.CoreSet) error {
	for _, id := range cores {
		want := domain.DesiredCore(m, id)
		got, err := a.cpu.ReadCore(id)

		if !want.Online() {
			if got.Status != domain.CoreOffline {
				return &domain.CoreError{Core: id, Surface: "online",
					Err: fmt.Errorf("%w: core still online", domain.ErrIOUnavailable)}
			}
			continue
		}
		if err != nil {
			return err
		}
		if got.Governor != want.Governor ||
			got.MinFreqMHz() != m.CPU.MinFreqMHz ||
			got.MaxFreqMHz() != m.CPU.MaxFreqMHz {
			return &domain.CoreError{Core: id, Surface: "verify", Err: fmt.Errorf(
				"%w: reads back %s %d-%d MHz, want %s %d-%d MHz", domain.ErrOutOfRange,
				got.Governor, got.MinFreqMHz(), got.MaxFreqMHz(),
				want.Governor, m.CPU.MinFreqMHz, m.CPU.MaxFreqMHz)}
		}
	}
	return nil
}

func (a *Applier) verifyGPU(ctx context.Context, want float64) error {
	got, err := a.gpu.PowerLimit(ctx)
	if err != nil {
		return err
	}
	if math.Abs(got-want) > gpuTolerance {
		return fmt.Errorf("%w: power limit reads back %.2f W, want %.2f W", domain.ErrGpuUnavailable, got, want)
	}
	return nil
}

// ─── Restore and Dump ───────────────────────────────────────────────────────

// Restore loads the stored backup and drives the machine back to it. With
// no backup it fails with ErrNoBackupFound before touching hardware.
func (a *Applier) Restore(ctx context.Context) (domain.Backup, snapshot.RestoreReport, error) {
	started := a.now()
	backup, err := a.store.Load()
	if err != nil {
		return domain.Backup{}, snapshot.RestoreReport{}, err
	}

	log := a.log.WithField("backup", backup.ID)
	log.WithField("mode", backup.Mode).Info("Restoring backup")

	report, err := a.snap.Restore(ctx, backup)

	outcome := domain.OutcomeRestored
	var pre *domain.PartialRestoreError
	switch {
	case errors.As(err, &pre) && pre.Applied > 0:
		outcome = domain.OutcomePartial
	case err != nil:
		outcome = domain.OutcomeFailed
	}
	a.record(ctx, domain.Transition{
		ID:         uuid.NewString(),
		Kind:       domain.KindRestore,
		Mode:       backup.Mode,
		Outcome:    outcome,
		GPU:        report.GPU,
		Error:      errString(err),
		StartedAt:  started,
		FinishedAt: a.now(),
	})
	return backup, report, err
}

// Dump captures the current state and stores it as the backup.
func (a *Applier) Dump(ctx context.Context) (domain.Backup, error) {
	started := a.now()
	backup, err := a.snap.NewBackup(ctx, domain.ManualBackupMode)
	if err != nil {
		return domain.Backup{}, fmt.Errorf("capture: %w", err)
	}
	if err := a.store.Persist(backup); err != nil {
		return domain.Backup{}, err
	}
	a.record(ctx, domain.Transition{
		ID:         backup.ID,
		Kind:       domain.KindDump,
		Mode:       domain.ManualBackupMode,
		Outcome:    domain.OutcomeSaved,
		StartedAt:  started,
		FinishedAt: a.now(),
	})
	return backup, nil
}

func (a *Applier) record(ctx context.Context, t domain.Transition) {
	if a.journal == nil {
		return
	}
	if err := a.journal.Record(ctx, t); err != nil {
		a.log.WithError(err).Warn("Could not record transition in journal")
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
