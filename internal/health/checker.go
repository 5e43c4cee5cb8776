// Package health provides the preflight checks run by `power-mode doctor`.
// Each check exercises one hardware surface or local store the other
// commands depend on, without mutating anything.
package health

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/power-mode/power-mode/internal/domain"
)

// Check defines a single preflight check. A failing Optional check is
// reported but does not make the host unhealthy.
type Check struct {
	Name     string
	Optional bool
	CheckFn  func(ctx context.Context) (string, error)
}

// Status represents the result of a check.
type Status struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Optional  bool      `json:"optional,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Pinger is satisfied by the journal database.
type Pinger interface {
	Ping() error
}

// Deps are the collaborators the standard checks exercise. Nil fields skip
// their check.
type Deps struct {
	CPU      domain.CPUController
	GPU      domain.GpuController
	Power    domain.PowerMeter
	Modes    func() ([]string, error)
	StateDir string
	Journal  func() (Pinger, error)
}

// Checker runs a fixed list of checks once.
type Checker struct {
	checks   []Check
	statuses []Status
	now      func() time.Time
}

// NewChecker creates a checker with the standard checks for d.
func NewChecker(d Deps) *Checker {
	c := &Checker{now: time.Now}
	if d.CPU != nil {
		c.checks = append(c.checks, Check{Name: "cpufreq", CheckFn: cpuCheck(d.CPU)})
	}
	if d.Modes != nil {
		c.checks = append(c.checks, Check{Name: "modes", CheckFn: modesCheck(d.Modes)})
	}
	if d.StateDir != "" {
		c.checks = append(c.checks, Check{Name: "state_dir", CheckFn: func(context.Context) (string, error) {
			return d.StateDir, checkStateDir(d.StateDir)
		}})
	}
	if d.Journal != nil {
		c.checks = append(c.checks, Check{Name: "journal", CheckFn: func(context.Context) (string, error) {
			db, err := d.Journal()
			if err != nil {
				return "", err
			}
			return "", db.Ping()
		}})
	}
	if d.Power != nil {
		c.checks = append(c.checks, Check{Name: "power_supply", Optional: true, CheckFn: powerCheck(d.Power)})
	}
	if d.GPU != nil {
		c.checks = append(c.checks, Check{Name: "gpu_tool", Optional: true, CheckFn: gpuCheck(d.GPU)})
	}
	return c
}

// Add appends a custom check.
func (c *Checker) Add(check Check) {
	c.checks = append(c.checks, check)
}

// Run executes every check in order and returns the results.
func (c *Checker) Run(ctx context.Context) []Status {
	statuses := make([]Status, len(c.checks))
	for i, check := range c.checks {
		s := Status{
			Name:      check.Name,
			Optional:  check.Optional,
			CheckedAt: c.now(),
		}
		detail, err := check.CheckFn(ctx)
		s.Detail = detail
		if err != nil {
			s.Error = err.Error()
		} else {
			s.Healthy = true
		}
		statuses[i] = s
	}
	c.statuses = statuses
	return c.Statuses()
}

// Statuses returns the results of the last Run.
func (c *Checker) Statuses() []Status {
	result := make([]Status, len(c.statuses))
	copy(result, c.statuses)
	return result
}

// IsHealthy returns true if every required check passed.
func (c *Checker) IsHealthy() bool {
	for _, s := range c.statuses {
		if !s.Healthy && !s.Optional {
			return false
		}
	}
	return true
}

// ─── Check Implementations ──────────────────────────────────────────────────

func cpuCheck(cpu domain.CPUController) func(context.Context) (string, error) {
	return func(context.Context) (string, error) {
		l, err := cpu.Limits()
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d cores, %d-%d MHz, governors: %s",
			len(l.Cores), l.MinFreqKHz/1000, l.MaxFreqKHz/1000, strings.Join(l.Governors, " ")), nil
	}
}

func modesCheck(load func() ([]string, error)) func(context.Context) (string, error) {
	return func(context.Context) (string, error) {
		names, err := load()
		if err != nil {
			return "", err
		}
		if len(names) == 0 {
			return "", fmt.Errorf("%w: no modes defined", domain.ErrConfig)
		}
		return strings.Join(names, ", "), nil
	}
}

func powerCheck(pm domain.PowerMeter) func(context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		onAC, err := pm.OnACPower()
		if err != nil && !errors.Is(err, domain.ErrSensorUnavailable) {
			return "", err
		}
		r, rerr := pm.Read(ctx, domain.SourceBattery)
		switch {
		case rerr != nil:
			return "", rerr
		case r == nil:
			return "on AC power", nil
		case err == nil && !onAC:
			return "discharging at " + r.String(), nil
		}
		return r.String(), nil
	}
}

func gpuCheck(g domain.GpuController) func(context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		if !g.Available() {
			return "", fmt.Errorf("%w: tool not found or disabled", domain.ErrGpuUnavailable)
		}
		l, err := g.Limits(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("power limit range %.0f-%.0f W", l.MinWatts, l.MaxWatts), nil
	}
}

func checkStateDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("check state dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return fmt.Errorf("state dir not writable: %w", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}
