// Package config loads the power-mode tool configuration: where the mode
// collection, backup and journal live, which sysfs tree to drive and how
// to reach the GPU tool.
package config

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/power-mode/power-mode/internal/domain"
)

// EnvPrefix prefixes every environment override, e.g. POWER_MODE_GPU_TIMEOUT.
const EnvPrefix = "POWER_MODE"

// HomeEnv overrides the base directory.
const HomeEnv = EnvPrefix + "_HOME"

// Config holds all tool configuration.
type Config struct {
	Dir        string        `mapstructure:"-"`
	ModesFile  string        `mapstructure:"modes_file"`
	BackupFile string        `mapstructure:"backup_file"`
	JournalDir string        `mapstructure:"journal_dir"`
	LockFile   string        `mapstructure:"lock_file"`
	SysfsRoot  string        `mapstructure:"sysfs_root"`
	GPU        GPUConfig     `mapstructure:"gpu"`
	Log        LogConfig     `mapstructure:"log"`
	Metrics    MetricsConfig `mapstructure:"metrics"`
}

// GPUConfig controls the nvidia-smi backed GPU controller.
type GPUConfig struct {
	Command string        `mapstructure:"command"`
	Index   int           `mapstructure:"index"`
	Timeout time.Duration `mapstructure:"timeout"`
	Enabled bool          `mapstructure:"enabled"`
}

// LogConfig controls logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig controls the Prometheus textfile written by get-power.
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

// DefaultConfig returns the configuration used when no config.toml exists.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:        dir,
		ModesFile:  filepath.Join(dir, "modes.toml"),
		BackupFile: filepath.Join(dir, "backup.json"),
		JournalDir: dir,
		LockFile:   filepath.Join(dir, "power-mode.lock"),
		SysfsRoot:  "/sys",
		GPU: GPUConfig{
			Command: "nvidia-smi",
			Timeout: 5 * time.Second,
			Enabled: true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads dir/config.toml, falling back to defaults, and applies
// POWER_MODE_* environment overrides. An empty dir resolves via Home.
func Load(dir string) (Config, error) {
	if dir == "" {
		dir = Home()
	}
	def := DefaultConfig(dir)

	v := viper.New()
	v.SetConfigFile(filepath.Join(dir, "config.toml"))
	v.SetConfigType("toml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, def)

	if err := v.ReadInConfig(); err != nil {
		// No config file yet, use defaults
		if !errors.Is(err, os.ErrNotExist) {
			return def, fmt.Errorf("%w: parse config: %v", domain.ErrConfig, err)
		}
	}

	cfg := def
	if err := v.Unmarshal(&cfg); err != nil {
		return def, fmt.Errorf("%w: decode config: %v", domain.ErrConfig, err)
	}
	cfg.Dir = dir

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects values no component can work with.
func (c Config) Validate() error {
	switch {
	case c.ModesFile == "":
		return fmt.Errorf("%w: modes_file is empty", domain.ErrConfig)
	case c.BackupFile == "":
		return fmt.Errorf("%w: backup_file is empty", domain.ErrConfig)
	case c.SysfsRoot == "":
		return fmt.Errorf("%w: sysfs_root is empty", domain.ErrConfig)
	case c.GPU.Index < 0:
		return fmt.Errorf("%w: gpu.index must not be negative", domain.ErrConfig)
	case c.GPU.Timeout <= 0:
		return fmt.Errorf("%w: gpu.timeout must be positive", domain.ErrConfig)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log.format %q (want text or json)", domain.ErrConfig, c.Log.Format)
	}
	return nil
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("modes_file", c.ModesFile)
	v.SetDefault("backup_file", c.BackupFile)
	v.SetDefault("journal_dir", c.JournalDir)
	v.SetDefault("lock_file", c.LockFile)
	v.SetDefault("sysfs_root", c.SysfsRoot)
	v.SetDefault("gpu.command", c.GPU.Command)
	v.SetDefault("gpu.index", c.GPU.Index)
	v.SetDefault("gpu.timeout", c.GPU.Timeout)
	v.SetDefault("gpu.enabled", c.GPU.Enabled)
	v.SetDefault("log.level", c.Log.Level)
	v.SetDefault("log.format", c.Log.Format)
	v.SetDefault("metrics.textfile", c.Metrics.Textfile)
}

// Home returns the power-mode base directory: POWER_MODE_HOME, else
// ~/.config/power-mode of the invoking user. Under sudo that is the
// home of SUDO_USER, not root's.
func Home() string {
	if env := os.Getenv(HomeEnv); env != "" {
		return env
	}
	return filepath.Join(userHome(), ".config", "power-mode")
}

func userHome() string {
	if name := os.Getenv("SUDO_USER"); name != "" && name != "root" {
		if u, err := user.Lookup(name); err == nil && u.HomeDir != "" {
			return u.HomeDir
		}
	}
	home, _ := os.UserHomeDir()
	return home
}
