package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors carry no infrastructure dependency. Callers classify
// failures with errors.Is against these values.

var (
	// Configuration and user input
	ErrConfig       = errors.New("invalid mode configuration")
	ErrModeNotFound = errors.New("mode not found")
	ErrInvalidMode  = errors.New("invalid mode")

	// Hardware surfaces
	ErrPermissionDenied  = errors.New("permission denied writing hardware control")
	ErrIOUnavailable     = errors.New("hardware control surface unavailable")
	ErrOutOfRange        = errors.New("value rejected by hardware as out of range")
	ErrGpuUnavailable    = errors.New("gpu power control unavailable")
	ErrSensorUnavailable = errors.New("power sensor unavailable")

	// Backup and rollback
	ErrPartialRestore = errors.New("restore incomplete")
	ErrStorage        = errors.New("backup storage failure")
	ErrNoBackupFound  = errors.New("no backup found")

	// Invocation
	ErrNotPrivileged = errors.New("this command requires root privileges")
	ErrLocked        = errors.New("another power-mode transition is in progress")
)

// InvalidModeError explains why a mode was rejected before any write.
type InvalidModeError struct {
	Mode   string
	Reason string
}

func (e *InvalidModeError) Error() string {
	if e.Mode == "" {
		return fmt.Sprintf("invalid mode: %s", e.Reason)
	}
	return fmt.Sprintf("invalid mode %q: %s", e.Mode, e.Reason)
}

func (e *InvalidModeError) Unwrap() error { return ErrInvalidMode }

// CoreError ties a hardware failure to the core and surface that failed.
type CoreError struct {
	Core    int
	Surface string
	Err     error
}

func (e *CoreError) Error() string {
	return fmt.Sprintf("cpu%d %s: %v", e.Core, e.Surface, e.Err)
}

func (e *CoreError) Unwrap() error { return e.Err }

// PartialRestoreError lists every core a restore could not bring back.
type PartialRestoreError struct {
	Applied     int
	FailedCores []int
	Causes      []error
}

func (e *PartialRestoreError) Error() string {
	ids := make([]string, len(e.FailedCores))
	for i, id := range e.FailedCores {
		ids[i] = fmt.Sprintf("cpu%d", id)
	}
	return fmt.Sprintf("restore incomplete: %d surfaces restored, failed: %s",
		e.Applied, strings.Join(ids, ", "))
}

func (e *PartialRestoreError) Unwrap() []error {
	return append([]error{ErrPartialRestore}, e.Causes...)
}
