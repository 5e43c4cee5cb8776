package session

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/power-mode/power-mode/internal/config"
	"github.com/power-mode/power-mode/internal/domain"
	"github.com/power-mode/power-mode/internal/infra/gpu"
	"github.com/power-mode/power-mode/internal/infra/resource"
	"github.com/power-mode/power-mode/internal/infra/sqlite"
	"github.com/power-mode/power-mode/internal/infra/sysfs"
)

const modesTOML = `
[eco]
[eco.cpu]
governor = "powersave"
min_freq_mhz = 400
max_freq_mhz = 2000
online_cores = "0-1"
`

func newTestSession(t *testing.T) *Session {
	t.Helper()
	cfg := config.DefaultConfig(t.TempDir())
	log, err := NewLogger(cfg.Log, false, &bytes.Buffer{})
	require.NoError(t, err)
	s := Assemble(cfg, log, Parts{
		CPU:   sysfs.NewMockCPU(4),
		GPU:   gpu.NewMockGPU(),
		Power: resource.NewMockPowerMeter(&domain.PowerReading{Watts: 9.5, Source: domain.SourceBattery}),
	})
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNew(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("POWER_MODE_SYSFS_ROOT", t.TempDir())
	t.Setenv("POWER_MODE_GPU_ENABLED", "false")

	s, err := New(Options{Dir: dir, Stderr: &bytes.Buffer{}})
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, dir, s.Config.Dir)
	assert.NotNil(t, s.CPU)
	assert.NotNil(t, s.Snap)
	assert.False(t, s.GPU.Available())
	assert.Equal(t, filepath.Join(dir, "backup.json"), s.Store.Path())
}

func TestNew_BadConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte("[log]\nlevel = \"loud\""), 0o644))

	_, err := New(Options{Dir: dir, Stderr: &bytes.Buffer{}})
	assert.ErrorIs(t, err, domain.ErrConfig)
}

func TestModes_LoadedOnce(t *testing.T) {
	s := newTestSession(t)

	_, err := s.Modes()
	assert.ErrorIs(t, err, domain.ErrConfig, "missing modes file")

	require.NoError(t, os.WriteFile(s.Config.ModesFile, []byte(modesTOML), 0o644))
	c, err := s.Modes()
	require.NoError(t, err)
	assert.Equal(t, []string{"eco"}, c.Names())

	require.NoError(t, os.Remove(s.Config.ModesFile))
	again, err := s.Modes()
	require.NoError(t, err)
	assert.Same(t, c, again)
}

func TestJournal_ActiveMode(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()

	mode, err := s.ActiveMode(ctx)
	require.NoError(t, err)
	assert.Empty(t, mode)
	assert.NoFileExists(t, filepath.Join(s.Config.JournalDir, sqlite.FileName))

	require.NoError(t, os.WriteFile(s.Config.ModesFile, []byte(modesTOML), 0o644))
	c, err := s.Modes()
	require.NoError(t, err)
	m, err := c.Lookup("eco")
	require.NoError(t, err)

	res, err := s.Applier().Apply(ctx, m)
	require.NoError(t, err)
	assert.Equal(t, domain.StateApplied, res.State)

	mode, err = s.ActiveMode(ctx)
	require.NoError(t, err)
	assert.Equal(t, "eco", mode)

	// A later invocation opens the journal the first one created.
	require.NoError(t, s.Close())
	mode, err = s.ActiveMode(ctx)
	require.NoError(t, err)
	assert.Equal(t, "eco", mode)
}

func TestLock_Exclusive(t *testing.T) {
	s := newTestSession(t)

	l, err := s.Lock()
	require.NoError(t, err)
	defer l.Release()

	_, err = s.Lock()
	assert.True(t, errors.Is(err, domain.ErrLocked), "second lock: %v", err)
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.LogConfig
		verbose bool
		want    logrus.Level
		json    bool
	}{
		{"default", config.LogConfig{Level: "info", Format: "text"}, false, logrus.InfoLevel, false},
		{"verbose wins", config.LogConfig{Level: "warn", Format: "text"}, true, logrus.DebugLevel, false},
		{"upper case", config.LogConfig{Level: "ERROR", Format: "json"}, false, logrus.ErrorLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			log, err := NewLogger(tt.cfg, tt.verbose, &buf)
			require.NoError(t, err)
			assert.Equal(t, tt.want, log.GetLevel())
			_, isJSON := log.Formatter.(*logrus.JSONFormatter)
			assert.Equal(t, tt.json, isJSON)
		})
	}

	_, err := NewLogger(config.LogConfig{Level: "loud"}, false, nil)
	assert.ErrorIs(t, err, domain.ErrConfig)
}
