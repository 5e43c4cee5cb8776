// Package backup keeps the single most recent pre-transition hardware
// snapshot on disk and serializes mutating invocations with a file lock.
package backup

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/power-mode/power-mode/internal/domain"
)

// Store is a JSON file holding exactly one domain.Backup. Persist replaces
// the file atomically, so a crash leaves either the old or the new record.
type Store struct {
	path string
}

var _ domain.BackupStore = (*Store)(nil)

// NewStore creates a store at path. The file is created on first Persist.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the backup file location.
func (s *Store) Path() string { return s.path }

// Persist durably replaces the stored backup with b.
func (s *Store) Persist(b domain.Backup) error {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode backup: %v", domain.ErrStorage, err)
	}
	if err := writeFileAtomic(s.path, data, 0o600); err != nil {
		return fmt.Errorf("%w: write backup %s: %v", domain.ErrStorage, s.path, err)
	}
	return nil
}

// Load reads the stored backup. It fails with ErrNoBackupFound when no
// backup has been persisted yet.
func (s *Store) Load() (domain.Backup, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.Backup{}, fmt.Errorf("%w: %s", domain.ErrNoBackupFound, s.path)
	}
	if err != nil {
		return domain.Backup{}, fmt.Errorf("%w: read backup: %v", domain.ErrStorage, err)
	}
	var b domain.Backup
	if err := json.Unmarshal(data, &b); err != nil {
		return domain.Backup{}, fmt.Errorf("%w: parse backup %s: %v", domain.ErrStorage, s.path, err)
	}
	if len(b.State.Cores) == 0 {
		return domain.Backup{}, fmt.Errorf("%w: backup %s has no cores", domain.ErrStorage, s.path)
	}
	return b, nil
}

// writeFileAtomic writes data to a temp file in the target directory,
// syncs it, renames it over path and syncs the directory.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	cleanup := func() { os.Remove(tmp) }

	if _, err := f.Write(data); err != nil {
		f.Close()
		cleanup()
		return err
	}
	if err := f.Chmod(perm); err != nil {
		f.Close()
		cleanup()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		cleanup()
		return err
	}
	if err := f.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		cleanup()
		return err
	}

	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
