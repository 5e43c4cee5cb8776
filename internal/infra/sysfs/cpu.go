// Package sysfs provides the CPU hardware accessor: typed reads and writes
// over /sys/devices/system/cpu/cpuN/{online,cpufreq/*}.
package sysfs

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/prometheus/procfs/sysfs"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/power-mode/power-mode/internal/domain"
)

const (
	onlineFile      = "online"
	governorFile    = "cpufreq/scaling_governor"
	scalingMinFile  = "cpufreq/scaling_min_freq"
	scalingMaxFile  = "cpufreq/scaling_max_freq"
	cpuinfoMinFile  = "cpufreq/cpuinfo_min_freq"
	cpuinfoMaxFile  = "cpufreq/cpuinfo_max_freq"
	governorsFile   = "cpufreq/scaling_available_governors"
	presentCPUsFile = "present"
)

// CPU implements domain.CPUController against a sysfs mount.
type CPU struct {
	root     string // e.g. /sys
	fs       sysfs.FS
	log      logrus.FieldLogger
	affinity func() (domain.CoreSet, error)
}

var _ domain.CPUController = (*CPU)(nil)

// NewCPU creates an accessor rooted at the sysfs mount point root.
func NewCPU(root string, log logrus.FieldLogger) (*CPU, error) {
	sfs, err := sysfs.NewFS(root)
	if err != nil {
		return nil, fmt.Errorf("%w: open sysfs at %s: %v", domain.ErrIOUnavailable, root, err)
	}
	return &CPU{
		root:     root,
		fs:       sfs,
		log:      log.WithField("component", "sysfs"),
		affinity: processAffinity,
	}, nil
}

func (c *CPU) cpuDir() string {
	return filepath.Join(c.root, "devices", "system", "cpu")
}

func (c *CPU) corePath(id int, file string) string {
	return filepath.Join(c.cpuDir(), "cpu"+strconv.Itoa(id), file)
}

// Cores returns every known core id. The kernel's "present" list is
// preferred; the cpuN directories are the fallback.
func (c *CPU) Cores() (domain.CoreSet, error) {
	if data, err := os.ReadFile(filepath.Join(c.cpuDir(), presentCPUsFile)); err == nil {
		return domain.ParseCPUList(string(data))
	}

	dirs, err := filepath.Glob(filepath.Join(c.cpuDir(), "cpu[0-9]*"))
	if err != nil {
		return nil, err
	}
	var ids []int
	for _, d := range dirs {
		id, err := strconv.Atoi(strings.TrimPrefix(filepath.Base(d), "cpu"))
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no cpus under %s", domain.ErrIOUnavailable, c.cpuDir())
	}
	return domain.NewCoreSet(ids...), nil
}

// coreBounds are the cpufreq sanity bounds one core reports. Zero means
// the core did not report that bound.
type coreBounds struct {
	minKHz    int
	maxKHz    int
	governors []string
}

// Limits reads cpuinfo bounds and available governors for every core
// that currently exposes cpufreq, and intersects them.
func (c *CPU) Limits() (domain.CPULimits, error) {
	cores, err := c.Cores()
	if err != nil {
		return domain.CPULimits{}, err
	}

	bounds, err := c.bounds(cores)
	if err != nil {
		return domain.CPULimits{}, err
	}

	limits := domain.CPULimits{
		Cores:      cores,
		MinFreqKHz: 0,
		MaxFreqKHz: math.MaxInt,
	}
	for i, b := range bounds {
		if b.minKHz > 0 {
			limits.MinFreqKHz = max(limits.MinFreqKHz, b.minKHz)
		}
		if b.maxKHz > 0 {
			limits.MaxFreqKHz = min(limits.MaxFreqKHz, b.maxKHz)
		}
		if i == 0 {
			limits.Governors = b.governors
		} else {
			limits.Governors = slices.DeleteFunc(limits.Governors, func(g string) bool {
				return !slices.Contains(b.governors, g)
			})
		}
	}
	if len(bounds) == 0 || limits.MaxFreqKHz == math.MaxInt {
		return domain.CPULimits{}, fmt.Errorf("%w: no cpufreq bounds reported", domain.ErrIOUnavailable)
	}

	var pinned []int
	for _, id := range cores {
		if _, err := os.Stat(c.corePath(id, onlineFile)); errors.Is(err, fs.ErrNotExist) {
			pinned = append(pinned, id)
		}
	}
	limits.AlwaysOnline = domain.NewCoreSet(pinned...)

	if c.affinity != nil {
		aff, err := c.affinity()
		if err != nil {
			c.log.WithError(err).Debug("Could not read process affinity")
		}
		limits.Affinity = aff
	}

	c.log.WithFields(logrus.Fields{
		"cores":     cores.String(),
		"min_khz":   limits.MinFreqKHz,
		"max_khz":   limits.MaxFreqKHz,
		"governors": strings.Join(limits.Governors, " "),
	}).Debug("Read cpufreq limits")
	return limits, nil
}

// bounds collects per-core cpufreq bounds. procfs parses every cpufreq
// attribute, including stats files the kernel refuses to render on some
// hosts (trans_table fails with EFBIG past one page), so a failure there
// falls back to reading only the bound and governor files.
func (c *CPU) bounds(cores domain.CoreSet) ([]coreBounds, error) {
	stats, err := c.fs.SystemCpufreq()
	if err == nil {
		var out []coreBounds
		for _, s := range stats {
			if s.Name == "" {
				continue
			}
			b := coreBounds{governors: strings.Fields(s.AvailableGovernors)}
			if s.CpuinfoMinimumFrequency != nil {
				b.minKHz = int(*s.CpuinfoMinimumFrequency)
			}
			if s.CpuinfoMaximumFrequency != nil {
				b.maxKHz = int(*s.CpuinfoMaximumFrequency)
			}
			out = append(out, b)
		}
		return out, nil
	}
	c.log.WithError(err).Debug("procfs cpufreq read failed, reading bounds per core")

	var out []coreBounds
	for _, id := range cores {
		online, err := c.readOnline(id)
		if err != nil || !online {
			continue
		}
		if _, err := os.Stat(c.corePath(id, "cpufreq")); err != nil {
			continue
		}
		minKHz, err := c.readInt(id, cpuinfoMinFile)
		if err != nil {
			return nil, err
		}
		maxKHz, err := c.readInt(id, cpuinfoMaxFile)
		if err != nil {
			return nil, err
		}
		govs, err := c.readString(id, governorsFile)
		if err != nil {
			return nil, err
		}
		out = append(out, coreBounds{minKHz: minKHz, maxKHz: maxKHz, governors: strings.Fields(govs)})
	}
	return out, nil
}

// ReadCore implements domain.CPUController.
func (c *CPU) ReadCore(id int) (domain.CoreState, error) {
	st := domain.CoreState{ID: id, Status: domain.CoreUnknown}

	online, err := c.readOnline(id)
	if err != nil {
		return st, err
	}
	if !online {
		st.Status = domain.CoreOffline
		return st, &domain.CoreError{Core: id, Surface: "cpufreq", Err: fmt.Errorf("%w: core is offline", domain.ErrIOUnavailable)}
	}

	gov, err := c.readString(id, governorFile)
	if err != nil {
		return st, err
	}
	minKHz, err := c.readInt(id, scalingMinFile)
	if err != nil {
		return st, err
	}
	maxKHz, err := c.readInt(id, scalingMaxFile)
	if err != nil {
		return st, err
	}

	return domain.CoreState{
		ID:         id,
		Status:     domain.CoreOnline,
		Governor:   gov,
		MinFreqKHz: minKHz,
		MaxFreqKHz: maxKHz,
	}, nil
}

// WriteCore implements domain.CPUController.
func (c *CPU) WriteCore(id int, desired domain.CoreState) error {
	hasSwitch := c.hasOnlineSwitch(id)

	if !desired.Online() {
		if !hasSwitch {
			return &domain.CoreError{Core: id, Surface: onlineFile,
				Err: fmt.Errorf("%w: core cannot be taken offline", domain.ErrIOUnavailable)}
		}
		return c.write(id, onlineFile, "0")
	}

	if hasSwitch {
		online, err := c.readOnline(id)
		if err != nil {
			return err
		}
		if !online {
			if err := c.write(id, onlineFile, "1"); err != nil {
				return err
			}
		}
	}

	if err := c.write(id, governorFile, desired.Governor); err != nil {
		return err
	}

	// The kernel rejects scaling_min_freq above the current
	// scaling_max_freq, so raise the ceiling first when moving up.
	curMax, err := c.readInt(id, scalingMaxFile)
	if err != nil {
		return err
	}
	order := []struct {
		file string
		khz  int
	}{
		{scalingMinFile, desired.MinFreqKHz},
		{scalingMaxFile, desired.MaxFreqKHz},
	}
	if desired.MinFreqKHz > curMax {
		order[0], order[1] = order[1], order[0]
	}
	for _, w := range order {
		if err := c.write(id, w.file, strconv.Itoa(w.khz)); err != nil {
			return err
		}
	}
	return nil
}

func (c *CPU) hasOnlineSwitch(id int) bool {
	_, err := os.Stat(c.corePath(id, onlineFile))
	return err == nil
}

// readOnline reports the core's online flag. Cores without an online
// switch (typically cpu0) are always online.
func (c *CPU) readOnline(id int) (bool, error) {
	if _, err := os.Stat(filepath.Join(c.cpuDir(), "cpu"+strconv.Itoa(id))); err != nil {
		return false, &domain.CoreError{Core: id, Surface: "cpu", Err: classify(err)}
	}
	data, err := os.ReadFile(c.corePath(id, onlineFile))
	if errors.Is(err, fs.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, &domain.CoreError{Core: id, Surface: onlineFile, Err: classify(err)}
	}
	return strings.TrimSpace(string(data)) == "1", nil
}

func (c *CPU) readString(id int, file string) (string, error) {
	data, err := os.ReadFile(c.corePath(id, file))
	if err != nil {
		return "", &domain.CoreError{Core: id, Surface: file, Err: classify(err)}
	}
	return strings.TrimSpace(string(data)), nil
}

func (c *CPU) readInt(id int, file string) (int, error) {
	s, err := c.readString(id, file)
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, &domain.CoreError{Core: id, Surface: file,
			Err: fmt.Errorf("%w: unparsable value %q", domain.ErrIOUnavailable, s)}
	}
	return v, nil
}

// write stores value into an existing control file. sysfs attributes are
// never created, so a missing file surfaces as ErrIOUnavailable.
func (c *CPU) write(id int, file, value string) error {
	c.log.WithFields(logrus.Fields{
		"cpu":     id,
		"surface": file,
		"value":   value,
	}).Debug("Writing cpu control")

	f, err := os.OpenFile(c.corePath(id, file), os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return &domain.CoreError{Core: id, Surface: file, Err: classify(err)}
	}
	if _, err := f.WriteString(value); err != nil {
		f.Close()
		return &domain.CoreError{Core: id, Surface: file, Err: classify(err)}
	}
	if err := f.Close(); err != nil {
		return &domain.CoreError{Core: id, Surface: file, Err: classify(err)}
	}
	return nil
}

// classify maps an OS error from a control file onto the domain taxonomy.
func classify(err error) error {
	var sentinel error
	switch {
	case errors.Is(err, fs.ErrPermission):
		sentinel = domain.ErrPermissionDenied
	case errors.Is(err, unix.EINVAL), errors.Is(err, unix.ERANGE):
		sentinel = domain.ErrOutOfRange
	default:
		sentinel = domain.ErrIOUnavailable
	}
	return fmt.Errorf("%w: %v", sentinel, err)
}
