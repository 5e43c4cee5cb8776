// Package session wires one power-mode invocation: configuration, logger,
// hardware accessors, the backup store and the transition journal.
// Expensive or privileged pieces are opened lazily so read-only commands
// such as get-power touch as little as possible.
package session

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/sirupsen/logrus"

	"github.com/power-mode/power-mode/internal/app/applier"
	"github.com/power-mode/power-mode/internal/app/modes"
	"github.com/power-mode/power-mode/internal/app/snapshot"
	"github.com/power-mode/power-mode/internal/config"
	"github.com/power-mode/power-mode/internal/domain"
	"github.com/power-mode/power-mode/internal/infra/backup"
	"github.com/power-mode/power-mode/internal/infra/gpu"
	"github.com/power-mode/power-mode/internal/infra/resource"
	"github.com/power-mode/power-mode/internal/infra/sqlite"
	"github.com/power-mode/power-mode/internal/infra/sysfs"
)

// Options are the command-line inputs to a session.
type Options struct {
	Dir     string    // --dir; empty resolves via config.Home
	Verbose bool      // --verbose forces debug logging
	Stderr  io.Writer // log destination, os.Stderr when nil
}

// Parts are the hardware-facing collaborators of a session.
type Parts struct {
	CPU       domain.CPUController
	GPU       domain.GpuController
	Power     domain.PowerMeter
	MachineID string
}

// Session is the state shared by the commands of one invocation.
type Session struct {
	Config config.Config
	Log    *logrus.Logger
	CPU    domain.CPUController
	GPU    domain.GpuController
	Power  domain.PowerMeter
	Store  *backup.Store
	Snap   *snapshot.Snapshotter

	modes   *modes.Collection
	journal *sqlite.DB
}

// New loads configuration and builds the real sysfs and nvidia-smi
// accessors.
func New(opts Options) (*Session, error) {
	cfg, err := config.Load(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log, err := NewLogger(cfg.Log, opts.Verbose, opts.Stderr)
	if err != nil {
		return nil, err
	}

	cpu, err := sysfs.NewCPU(cfg.SysfsRoot, log)
	if err != nil {
		return nil, fmt.Errorf("cpu accessor: %w", err)
	}
	nv := gpu.NewNvidiaSMI(gpu.Options{
		Command: cfg.GPU.Command,
		Index:   cfg.GPU.Index,
		Timeout: cfg.GPU.Timeout,
		Enabled: cfg.GPU.Enabled,
	}, log)

	parts := Parts{CPU: cpu, GPU: nv, MachineID: machineID(log)}
	if pm, err := resource.NewPowerMonitor(cfg.SysfsRoot, nv, log); err != nil {
		log.WithError(err).Debug("power monitor unavailable")
	} else {
		parts.Power = pm
	}
	return Assemble(cfg, log, parts), nil
}

// Assemble builds a Session around already constructed parts. Tests use it
// with mock accessors.
func Assemble(cfg config.Config, log *logrus.Logger, parts Parts) *Session {
	var ac snapshot.ACSensor
	if parts.Power != nil {
		ac = parts.Power
	}
	return &Session{
		Config: cfg,
		Log:    log,
		CPU:    parts.CPU,
		GPU:    parts.GPU,
		Power:  parts.Power,
		Store:  backup.NewStore(cfg.BackupFile),
		Snap: snapshot.New(parts.CPU, parts.GPU, snapshot.Options{
			AC:        ac,
			MachineID: parts.MachineID,
		}, log),
	}
}

// Modes loads the mode collection on first use.
func (s *Session) Modes() (*modes.Collection, error) {
	if s.modes != nil {
		return s.modes, nil
	}
	c, err := modes.Load(s.Config.ModesFile)
	if err != nil {
		return nil, err
	}
	s.modes = c
	return c, nil
}

// Journal opens the transition journal on first use.
func (s *Session) Journal() (*sqlite.DB, error) {
	if s.journal != nil {
		return s.journal, nil
	}
	db, err := sqlite.Open(s.Config.JournalDir)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	s.journal = db
	return db, nil
}

// HasJournal reports whether a journal is open or exists on disk.
func (s *Session) HasJournal() bool {
	return s.journal != nil || sqlite.Exists(s.Config.JournalDir)
}

// Applier returns a Mode Applier journaling into this session. A journal
// that cannot be opened is logged and skipped; it never blocks a
// transition.
func (s *Session) Applier() *applier.Applier {
	var j domain.Journal
	if db, err := s.Journal(); err != nil {
		s.Log.WithError(err).Warn("journal unavailable, transition will not be recorded")
	} else {
		j = db
	}
	return applier.New(s.CPU, s.GPU, s.Snap, s.Store, j, s.Log)
}

// Lock takes the advisory lock serializing mutating commands.
func (s *Session) Lock() (*backup.Lock, error) {
	return backup.Acquire(s.Config.LockFile)
}

// ActiveMode returns the journaled active mode, or "" when none. It does
// not create the journal: before the first transition there is nothing
// to report.
func (s *Session) ActiveMode(ctx context.Context) (string, error) {
	if !s.HasJournal() {
		return "", nil
	}
	db, err := s.Journal()
	if err != nil {
		return "", err
	}
	return db.ActiveMode(ctx)
}

// Close releases the journal.
func (s *Session) Close() error {
	if s.journal == nil {
		return nil
	}
	err := s.journal.Close()
	s.journal = nil
	return err
}

// NewLogger builds the invocation logger. verbose overrides the
// configured level with debug.
func NewLogger(cfg config.LogConfig, verbose bool, w io.Writer) (*logrus.Logger, error) {
	if w == nil {
		w = os.Stderr
	}
	log := logrus.New()
	log.SetOutput(w)

	level, err := logrus.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return nil, fmt.Errorf("%w: log.level: %v", domain.ErrConfig, err)
	}
	if verbose {
		level = logrus.DebugLevel
	}
	log.SetLevel(level)

	switch cfg.Format {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	}
	return log, nil
}

// machineID identifies the host a Backup was taken on.
func machineID(log logrus.FieldLogger) string {
	id, err := host.HostID()
	if err != nil {
		log.WithError(err).Debug("host id unavailable")
		return ""
	}
	return id
}
