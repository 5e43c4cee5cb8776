// Package modes loads the user-authored mode collection. The collection is
// read once at startup and never mutated.
package modes

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/power-mode/power-mode/internal/domain"
)

// Collection is the ordered set of modes from one file.
type Collection struct {
	modes  []domain.Mode
	byName map[string]int
}

type modeTable struct {
	Description string    `toml:"description"`
	CPU         cpuTable  `toml:"cpu"`
	GPU         *gpuTable `toml:"gpu"`
}

type cpuTable struct {
	Governor    string   `toml:"governor"`
	MinFreqMHz  int      `toml:"min_freq_mhz"`
	MaxFreqMHz  int      `toml:"max_freq_mhz"`
	OnlineCores coreList `toml:"online_cores"`
}

type gpuTable struct {
	PowerLimitWatts *float64 `toml:"power_limit_watts"`
}

// coreList accepts either a cpulist string ("0-3,6") or an integer array.
type coreList domain.CoreSet

func (c *coreList) UnmarshalTOML(v any) error {
	switch v := v.(type) {
	case string:
		set, err := domain.ParseCPUList(v)
		if err != nil {
			return err
		}
		*c = coreList(set)
	case []any:
		ids := make([]int, 0, len(v))
		for _, e := range v {
			id, ok := e.(int64)
			if !ok || id < 0 {
				return fmt.Errorf("online_cores: %v is not a core id", e)
			}
			ids = append(ids, int(id))
		}
		*c = coreList(domain.NewCoreSet(ids...))
	default:
		return fmt.Errorf("online_cores: want cpulist string or array, got %T", v)
	}
	return nil
}

var requiredCPUKeys = []string{"governor", "min_freq_mhz", "max_freq_mhz", "online_cores"}

// Load reads the collection at path. A missing or malformed file fails
// with ErrConfig.
func Load(path string) (*Collection, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: mode file %s does not exist", domain.ErrConfig, path)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: open mode file: %v", domain.ErrConfig, err)
	}
	defer f.Close()

	c, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Parse decodes a collection. Every mode is checked; one bad mode fails the
// whole load.
func Parse(r io.Reader) (*Collection, error) {
	var raw map[string]modeTable
	md, err := toml.NewDecoder(r).Decode(&raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfig, err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%w: unknown keys: %s", domain.ErrConfig, strings.Join(keys, ", "))
	}

	c := &Collection{byName: make(map[string]int, len(raw))}
	for _, key := range md.Keys() {
		name := key[0]
		if _, seen := c.byName[name]; seen {
			continue
		}

		for _, req := range requiredCPUKeys {
			if !md.IsDefined(name, "cpu", req) {
				return nil, fmt.Errorf("%w: mode %q: missing cpu.%s", domain.ErrConfig, name, req)
			}
		}

		t := raw[name]
		m := domain.Mode{
			Name:        name,
			Description: t.Description,
			CPU: domain.CPUMode{
				Governor:    t.CPU.Governor,
				MinFreqMHz:  t.CPU.MinFreqMHz,
				MaxFreqMHz:  t.CPU.MaxFreqMHz,
				OnlineCores: domain.CoreSet(t.CPU.OnlineCores),
			},
		}
		if t.GPU != nil {
			m.GPU.PowerLimitWatts = t.GPU.PowerLimitWatts
		}
		if err := m.Check(); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrConfig, err)
		}

		c.byName[name] = len(c.modes)
		c.modes = append(c.modes, m)
	}
	return c, nil
}

// Names returns mode names in authored order.
func (c *Collection) Names() []string {
	names := make([]string, len(c.modes))
	for i, m := range c.modes {
		names[i] = m.Name
	}
	return names
}

// All returns the modes in authored order.
func (c *Collection) All() []domain.Mode {
	out := make([]domain.Mode, len(c.modes))
	copy(out, c.modes)
	return out
}

// Len returns the number of modes.
func (c *Collection) Len() int { return len(c.modes) }

// Lookup returns the mode called name.
func (c *Collection) Lookup(name string) (domain.Mode, error) {
	i, ok := c.byName[name]
	if !ok {
		return domain.Mode{}, fmt.Errorf("%w: %q (available: %s)", domain.ErrModeNotFound, name, strings.Join(c.Names(), ", "))
	}
	return c.modes[i], nil
}
