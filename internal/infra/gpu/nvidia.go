// Package gpu implements the GPU power-cap capability on top of the
// nvidia-smi command-line tool.
package gpu

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/power-mode/power-mode/internal/domain"
)

// Runner executes name with args and returns its standard output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Options configures an NvidiaSMI controller.
type Options struct {
	Command string        // executable name or path, default "nvidia-smi"
	Index   int           // GPU index passed with -i
	Timeout time.Duration // per-invocation limit
	Enabled bool          // false disables every GPU surface
}

// NvidiaSMI implements domain.GpuController.
type NvidiaSMI struct {
	opts      Options
	run       Runner
	lookPath  func(string) (string, error)
	log       logrus.FieldLogger
	available *bool
}

var _ domain.GpuController = (*NvidiaSMI)(nil)

// NewNvidiaSMI creates a controller. Availability is checked lazily.
func NewNvidiaSMI(opts Options, log logrus.FieldLogger) *NvidiaSMI {
	if opts.Command == "" {
		opts.Command = "nvidia-smi"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	return &NvidiaSMI{
		opts:     opts,
		run:      execRunner,
		lookPath: exec.LookPath,
		log:      log.WithField("component", "gpu"),
	}
}

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return out, fmt.Errorf("%w: %s", err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return out, err
	}
	return out, nil
}

// Available reports whether the GPU tool is enabled and on PATH.
func (n *NvidiaSMI) Available() bool {
	if n.available != nil {
		return *n.available
	}
	ok := n.opts.Enabled
	if ok {
		if _, err := n.lookPath(n.opts.Command); err != nil {
			n.log.WithError(err).Debug("GPU tool not found")
			ok = false
		}
	}
	n.available = &ok
	return ok
}

// PowerLimit returns the currently enforced power limit in watts.
func (n *NvidiaSMI) PowerLimit(ctx context.Context) (float64, error) {
	vals, err := n.query(ctx, "power.limit")
	if err != nil {
		return 0, err
	}
	return vals[0], nil
}

// Limits returns the min, max and default power limits in watts.
func (n *NvidiaSMI) Limits(ctx context.Context) (domain.GPULimits, error) {
	vals, err := n.query(ctx, "power.min_limit", "power.max_limit", "power.default_limit")
	if err != nil {
		return domain.GPULimits{}, err
	}
	return domain.GPULimits{
		MinWatts:     vals[0],
		MaxWatts:     vals[1],
		DefaultWatts: vals[2],
	}, nil
}

// PowerDraw returns the instantaneous board power draw in watts.
func (n *NvidiaSMI) PowerDraw(ctx context.Context) (float64, error) {
	vals, err := n.query(ctx, "power.draw")
	if err != nil {
		return 0, err
	}
	return vals[0], nil
}

// SetPowerLimit sets the board power limit in watts.
func (n *NvidiaSMI) SetPowerLimit(ctx context.Context, watts float64) error {
	if !n.Available() {
		return fmt.Errorf("%w: %s not available", domain.ErrGpuUnavailable, n.opts.Command)
	}
	w := strconv.FormatFloat(watts, 'f', -1, 64)
	n.log.WithField("watts", w).Debug("Setting GPU power limit")

	_, err := n.exec(ctx, "-i", strconv.Itoa(n.opts.Index), "-pl", w)
	return err
}

// query runs a --query-gpu invocation and parses one float per field.
func (n *NvidiaSMI) query(ctx context.Context, fields ...string) ([]float64, error) {
	if !n.Available() {
		return nil, fmt.Errorf("%w: %s not available", domain.ErrGpuUnavailable, n.opts.Command)
	}
	out, err := n.exec(ctx,
		"--query-gpu="+strings.Join(fields, ","),
		"--format=csv,noheader,nounits",
		"-i", strconv.Itoa(n.opts.Index),
	)
	if err != nil {
		return nil, err
	}
	return parseCSVLine(string(out), len(fields))
}

func (n *NvidiaSMI) exec(ctx context.Context, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, n.opts.Timeout)
	defer cancel()

	out, err := n.run(ctx, n.opts.Command, args...)
	if ctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("%w: %s timed out after %s", domain.ErrGpuUnavailable, n.opts.Command, n.opts.Timeout)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", domain.ErrGpuUnavailable, n.opts.Command, strings.Join(args, " "), err)
	}
	return out, nil
}

// parseCSVLine parses the first line of csv,noheader,nounits output.
// "[N/A]" and "[Not Supported]" mark a field the board does not report.
func parseCSVLine(out string, want int) ([]float64, error) {
	line, _, _ := strings.Cut(strings.TrimSpace(out), "\n")
	parts := strings.Split(line, ",")
	if len(parts) != want {
		return nil, fmt.Errorf("%w: expected %d fields, got %q", domain.ErrGpuUnavailable, want, line)
	}
	vals := make([]float64, want)
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if strings.HasPrefix(p, "[") {
			return nil, fmt.Errorf("%w: value %s", domain.ErrGpuUnavailable, p)
		}
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: unparsable value %q", domain.ErrGpuUnavailable, p)
		}
		vals[i] = v
	}
	return vals, nil
}
