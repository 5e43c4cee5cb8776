package snapshot

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/power-mode/power-mode/internal/domain"
	"github.com/power-mode/power-mode/internal/infra/gpu"
	"github.com/power-mode/power-mode/internal/infra/sysfs"
)

type fixedAC bool

func (a fixedAC) OnACPower() (bool, error) { return bool(a), nil }

var fixedNow = time.Date(2026, 6, 1, 8, 30, 0, 0, time.UTC)

func newTestSnapshotter(t *testing.T, cpu domain.CPUController, g domain.GpuController) *Snapshotter {
	t.Helper()
	logger, _ := test.NewNullLogger()
	return New(cpu, g, Options{
		AC:        fixedAC(false),
		MachineID: "host-a",
		Now:       func() time.Time { return fixedNow },
	}, logger)
}

func TestCapture(t *testing.T) {
	cpu := sysfs.NewMockCPU(4)
	cpu.SetCore(domain.CoreState{ID: 2, Status: domain.CoreOffline})
	cpu.FailReads(3, domain.ErrPermissionDenied)
	g := gpu.NewMockGPU()

	s := newTestSnapshotter(t, cpu, g)
	state, err := s.Capture(context.Background())
	require.NoError(t, err)

	require.Len(t, state.Cores, 4)
	for i, c := range state.Cores {
		assert.Equal(t, i, c.ID, "cores must be in ascending order without gaps")
	}
	assert.Equal(t, domain.CoreOnline, state.Cores[0].Status)
	assert.Equal(t, 4800000, state.Cores[1].MaxFreqKHz)
	assert.Equal(t, domain.CoreOffline, state.Cores[2].Status)
	assert.Equal(t, domain.CoreUnknown, state.Cores[3].Status)

	require.NotNil(t, state.GPU.PowerLimitWatts)
	assert.Equal(t, 115.0, *state.GPU.PowerLimitWatts)
	require.NotNil(t, state.OnACPower)
	assert.False(t, *state.OnACPower)
	assert.Equal(t, fixedNow, state.CapturedAt)
}

func TestCapture_NoGPU(t *testing.T) {
	s := newTestSnapshotter(t, sysfs.NewMockCPU(2), nil)
	state, err := s.Capture(context.Background())
	require.NoError(t, err)
	assert.False(t, state.GPU.Available)
	assert.Nil(t, state.GPU.PowerLimitWatts)
}

func TestNewBackup(t *testing.T) {
	s := newTestSnapshotter(t, sysfs.NewMockCPU(2), gpu.NewMockGPU())
	b, err := s.NewBackup(context.Background(), "turbo")
	require.NoError(t, err)

	assert.NotEmpty(t, b.ID)
	assert.Equal(t, "turbo", b.Mode)
	assert.Equal(t, "host-a", b.MachineID)
	assert.Equal(t, fixedNow, b.CreatedAt)
	assert.Len(t, b.State.Cores, 2)
}

func TestRestore_RoundTrip(t *testing.T) {
	cpu := sysfs.NewMockCPU(4)
	cpu.SetCore(domain.CoreState{ID: 3, Status: domain.CoreOffline})
	g := gpu.NewMockGPU()
	s := newTestSnapshotter(t, cpu, g)
	ctx := context.Background()

	b, err := s.NewBackup(ctx, "eco")
	require.NoError(t, err)
	before := cpu.State()

	// Disturb every surface.
	for id := 1; id < 3; id++ {
		require.NoError(t, cpu.WriteCore(id, domain.CoreState{ID: id, Status: domain.CoreOffline}))
	}
	require.NoError(t, cpu.WriteCore(0, domain.CoreState{ID: 0, Status: domain.CoreOnline, Governor: "performance", MinFreqKHz: 2000000, MaxFreqKHz: 4800000}))
	require.NoError(t, cpu.WriteCore(3, domain.CoreState{ID: 3, Status: domain.CoreOnline, Governor: "performance", MinFreqKHz: 2000000, MaxFreqKHz: 4800000}))
	require.NoError(t, g.SetPowerLimit(ctx, 60))

	report, err := s.Restore(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, 4, report.Applied)
	assert.Equal(t, domain.GPUApplied, report.GPU)

	if diff := cmp.Diff(before, cpu.State()); diff != "" {
		t.Errorf("state after restore mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 115.0, g.Limit)
}

func TestRestore_OnlineBeforeOffline(t *testing.T) {
	var order []string
	cpu := &recordingCPU{MockCPU: sysfs.NewMockCPU(3), order: &order}
	s := newTestSnapshotter(t, cpu, nil)

	b := domain.Backup{State: domain.HardwareState{Cores: []domain.CoreState{
		{ID: 0, Status: domain.CoreOnline, Governor: "powersave", MinFreqKHz: 400000, MaxFreqKHz: 1000000},
		{ID: 1, Status: domain.CoreOffline},
		{ID: 2, Status: domain.CoreOnline, Governor: "powersave", MinFreqKHz: 400000, MaxFreqKHz: 1000000},
	}}}

	_, err := s.Restore(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, []string{"0:online", "2:online", "1:offline"}, order)
}

func TestRestore_SkipsUnknown(t *testing.T) {
	cpu := sysfs.NewMockCPU(3)
	s := newTestSnapshotter(t, cpu, nil)

	b := domain.Backup{State: domain.HardwareState{Cores: []domain.CoreState{
		{ID: 0, Status: domain.CoreOnline, Governor: "schedutil", MinFreqKHz: 400000, MaxFreqKHz: 4800000},
		{ID: 1, Status: domain.CoreUnknown},
		{ID: 2, Status: domain.CoreOnline, Governor: "schedutil", MinFreqKHz: 400000, MaxFreqKHz: 4800000},
	}}}

	report, err := s.Restore(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Applied)
	assert.Equal(t, domain.CoreSet{1}, report.Skipped)
	assert.Equal(t, domain.GPUUnchanged, report.GPU)
	assert.Equal(t, 2, cpu.Writes())
}

func TestRestore_Partial(t *testing.T) {
	cpu := sysfs.NewMockCPU(4)
	s := newTestSnapshotter(t, cpu, nil)
	ctx := context.Background()

	b, err := s.NewBackup(ctx, "eco")
	require.NoError(t, err)

	cpu.FailWrites(1, domain.ErrPermissionDenied)
	cpu.FailWrites(3, domain.ErrIOUnavailable)

	report, err := s.Restore(ctx, b)
	require.ErrorIs(t, err, domain.ErrPartialRestore)
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)
	assert.ErrorIs(t, err, domain.ErrIOUnavailable)

	var pre *domain.PartialRestoreError
	require.True(t, errors.As(err, &pre))
	assert.Equal(t, []int{1, 3}, pre.FailedCores)
	assert.Equal(t, 2, pre.Applied)
	assert.Equal(t, 2, report.Applied)
	assert.Equal(t, 4, cpu.Writes(), "every surface is attempted")
}

func TestRestore_GPUFailureIsSeparate(t *testing.T) {
	cpu := sysfs.NewMockCPU(2)
	g := gpu.NewMockGPU()
	s := newTestSnapshotter(t, cpu, g)
	ctx := context.Background()

	b, err := s.NewBackup(ctx, "eco")
	require.NoError(t, err)
	g.SetErr = errors.New("exit status 4")

	report, err := s.Restore(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, domain.GPUFailed, report.GPU)

	g.Present = false
	report, err = s.Restore(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, domain.GPUSkipped, report.GPU)
}

// recordingCPU logs the order of writes.
type recordingCPU struct {
	*sysfs.MockCPU
	order *[]string
}

func (r *recordingCPU) WriteCore(id int, desired domain.CoreState) error {
	*r.order = append(*r.order, domainLabel(id, desired))
	return r.MockCPU.WriteCore(id, desired)
}

func domainLabel(id int, st domain.CoreState) string {
	return fmt.Sprintf("%d:%s", id, st.Status)
}
