package backup

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/power-mode/power-mode/internal/domain"
)

func sampleBackup() domain.Backup {
	limit := 115.0
	onAC := false
	return domain.Backup{
		ID:        "b-1",
		Mode:      "powersave",
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		MachineID: "abc123",
		State: domain.HardwareState{
			CapturedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
			Cores: []domain.CoreState{
				{ID: 0, Status: domain.CoreOnline, Governor: "schedutil", MinFreqKHz: 400000, MaxFreqKHz: 4800000},
				{ID: 1, Status: domain.CoreOffline},
				{ID: 2, Status: domain.CoreUnknown},
			},
			GPU:       domain.GPUState{Available: true, PowerLimitWatts: &limit},
			OnACPower: &onAC,
		},
	}
}

func TestStore_PersistLoad(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "state", "backup.json"))

	want := sampleBackup()
	require.NoError(t, s.Persist(want))

	got, err := s.Load()
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Load() mismatch (-want +got):\n%s", diff)
	}

	info, err := os.Stat(s.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestStore_PersistReplaces(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(filepath.Join(dir, "backup.json"))

	first := sampleBackup()
	require.NoError(t, s.Persist(first))

	second := sampleBackup()
	second.ID = "b-2"
	second.Mode = "performance"
	require.NoError(t, s.Persist(second))

	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, "b-2", got.ID)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestStore_LoadMissing(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "backup.json"))
	_, err := s.Load()
	assert.ErrorIs(t, err, domain.ErrNoBackupFound)
}

func TestStore_LoadCorrupt(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"truncated", `{"id": "b-1", "state": {`},
		{"no cores", `{"id": "b-1", "state": {"cores": []}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "backup.json")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o600))

			_, err := NewStore(path).Load()
			assert.ErrorIs(t, err, domain.ErrStorage)
		})
	}
}

func TestStore_PersistUnwritable(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))

	// The parent "directory" is a regular file.
	s := NewStore(filepath.Join(blocker, "backup.json"))
	err := s.Persist(sampleBackup())
	assert.ErrorIs(t, err, domain.ErrStorage)
}

func TestLock_Exclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "power-mode.lock")

	l1, err := Acquire(path)
	require.NoError(t, err)

	_, err = Acquire(path)
	assert.ErrorIs(t, err, domain.ErrLocked)

	require.NoError(t, l1.Release())

	l2, err := Acquire(path)
	require.NoError(t, err)
	require.NoError(t, l2.Release())
}

func TestLock_ReleaseNil(t *testing.T) {
	var l *Lock
	assert.NoError(t, l.Release())
}
