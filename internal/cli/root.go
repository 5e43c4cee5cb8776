// Package cli implements the power-mode command-line interface using Cobra.
// Each subcommand lives in its own file and registers itself from init().
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/power-mode/power-mode/internal/domain"
	"github.com/power-mode/power-mode/internal/infra/backup"
	"github.com/power-mode/power-mode/internal/session"
)

// Exit codes.
const (
	ExitOK         = 0
	ExitUsage      = 1 // bad config, unknown or invalid mode, no backup
	ExitHardware   = 2 // hardware or storage failure, rolled back
	ExitPrivileged = 3 // root required
)

var (
	flagDir     string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "power-mode",
	Short: "Switch CPU and GPU power profiles",
	Long: `power-mode applies named power profiles to this machine: CPU governor,
frequency range and online cores, plus an optional NVIDIA GPU power limit.

Every apply first saves the current hardware state, so restore-backup can
always return the machine to where it was.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDir, "dir", "",
		"config and state directory (default $POWER_MODE_HOME or ~/.config/power-mode)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")
}

// openSession builds the per-invocation session.
var openSession = func(cmd *cobra.Command) (*session.Session, error) {
	return session.New(session.Options{
		Dir:     flagDir,
		Verbose: flagVerbose,
		Stderr:  cmd.ErrOrStderr(),
	})
}

// geteuid is swapped in tests.
var geteuid = os.Geteuid

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(ExitCode(err))
	}
}

// ExitCode maps an error returned by a command to the process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, domain.ErrNotPrivileged):
		return ExitPrivileged
	case errors.Is(err, domain.ErrConfig),
		errors.Is(err, domain.ErrModeNotFound),
		errors.Is(err, domain.ErrInvalidMode),
		errors.Is(err, domain.ErrNoBackupFound),
		errors.Is(err, domain.ErrLocked):
		return ExitUsage
	case errors.Is(err, domain.ErrIOUnavailable),
		errors.Is(err, domain.ErrPermissionDenied),
		errors.Is(err, domain.ErrOutOfRange),
		errors.Is(err, domain.ErrPartialRestore),
		errors.Is(err, domain.ErrStorage),
		errors.Is(err, domain.ErrSensorUnavailable),
		errors.Is(err, domain.ErrGpuUnavailable):
		return ExitHardware
	}
	return ExitUsage
}

// requireRoot fails mutating commands early when not run as root.
func requireRoot(cmd *cobra.Command) error {
	if geteuid() != 0 {
		return fmt.Errorf("%w: run 'sudo power-mode %s'", domain.ErrNotPrivileged, cmd.Name())
	}
	return nil
}

// locked runs fn while holding the transition lock.
func locked(s *session.Session, fn func() error) error {
	l, err := s.Lock()
	if err != nil {
		return err
	}
	defer func(l *backup.Lock) {
		if err := l.Release(); err != nil {
			s.Log.WithError(err).Warn("Could not release lock")
		}
	}(l)
	return fn()
}
