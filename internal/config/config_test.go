package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/power-mode/power-mode/internal/domain"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("/etc/pm")

	if cfg.ModesFile != "/etc/pm/modes.toml" {
		t.Errorf("ModesFile = %q, want %q", cfg.ModesFile, "/etc/pm/modes.toml")
	}
	if cfg.BackupFile != "/etc/pm/backup.json" {
		t.Errorf("BackupFile = %q, want %q", cfg.BackupFile, "/etc/pm/backup.json")
	}
	if cfg.SysfsRoot != "/sys" {
		t.Errorf("SysfsRoot = %q, want %q", cfg.SysfsRoot, "/sys")
	}
	if cfg.GPU.Command != "nvidia-smi" {
		t.Errorf("GPU.Command = %q, want %q", cfg.GPU.Command, "nvidia-smi")
	}
	if cfg.GPU.Timeout != 5*time.Second {
		t.Errorf("GPU.Timeout = %v, want 5s", cfg.GPU.Timeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error: %v", err)
	}
}

func TestLoad_NoFile(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	want := DefaultConfig(dir)
	if cfg != want {
		t.Errorf("Load() = %+v, want defaults %+v", cfg, want)
	}
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	body := `
modes_file = "/opt/modes.toml"
sysfs_root = "/tmp/fakesys"

[gpu]
index = 1
timeout = "2s"
enabled = false

[log]
format = "json"
`
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.ModesFile != "/opt/modes.toml" {
		t.Errorf("ModesFile = %q, want %q", cfg.ModesFile, "/opt/modes.toml")
	}
	if cfg.SysfsRoot != "/tmp/fakesys" {
		t.Errorf("SysfsRoot = %q, want %q", cfg.SysfsRoot, "/tmp/fakesys")
	}
	if cfg.GPU.Index != 1 || cfg.GPU.Timeout != 2*time.Second || cfg.GPU.Enabled {
		t.Errorf("GPU = %+v, want index 1, 2s, disabled", cfg.GPU)
	}
	if cfg.GPU.Command != "nvidia-smi" {
		t.Errorf("GPU.Command = %q, want default", cfg.GPU.Command)
	}
	if cfg.Log.Format != "json" || cfg.Log.Level != "info" {
		t.Errorf("Log = %+v, want json/info", cfg.Log)
	}
	if cfg.BackupFile != filepath.Join(dir, "backup.json") {
		t.Errorf("BackupFile = %q, want default under dir", cfg.BackupFile)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("POWER_MODE_SYSFS_ROOT", "/srv/sys")
	t.Setenv("POWER_MODE_GPU_TIMEOUT", "750ms")
	t.Setenv("POWER_MODE_METRICS_TEXTFILE", "/var/lib/node_exporter/power.prom")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.SysfsRoot != "/srv/sys" {
		t.Errorf("SysfsRoot = %q, want %q", cfg.SysfsRoot, "/srv/sys")
	}
	if cfg.GPU.Timeout != 750*time.Millisecond {
		t.Errorf("GPU.Timeout = %v, want 750ms", cfg.GPU.Timeout)
	}
	if cfg.Metrics.Textfile != "/var/lib/node_exporter/power.prom" {
		t.Errorf("Metrics.Textfile = %q", cfg.Metrics.Textfile)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed", "modes_file = [unterminated"},
		{"bad format", "[log]\nformat = \"xml\""},
		{"negative index", "[gpu]\nindex = -1"},
		{"zero timeout", "[gpu]\ntimeout = \"0s\""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(tt.body), 0o644); err != nil {
				t.Fatal(err)
			}
			_, err := Load(dir)
			if !errors.Is(err, domain.ErrConfig) {
				t.Errorf("Load() error = %v, want ErrConfig", err)
			}
		})
	}
}

func TestHome(t *testing.T) {
	t.Run("env override", func(t *testing.T) {
		t.Setenv(HomeEnv, "/custom/pm")
		if got := Home(); got != "/custom/pm" {
			t.Errorf("Home() = %q, want %q", got, "/custom/pm")
		}
	})

	t.Run("user home", func(t *testing.T) {
		home := t.TempDir()
		t.Setenv(HomeEnv, "")
		t.Setenv("SUDO_USER", "")
		t.Setenv("HOME", home)
		want := filepath.Join(home, ".config", "power-mode")
		if got := Home(); got != want {
			t.Errorf("Home() = %q, want %q", got, want)
		}
	})

	t.Run("unknown sudo user falls back", func(t *testing.T) {
		home := t.TempDir()
		t.Setenv(HomeEnv, "")
		t.Setenv("SUDO_USER", "no-such-user-power-mode")
		t.Setenv("HOME", home)
		want := filepath.Join(home, ".config", "power-mode")
		if got := Home(); got != want {
			t.Errorf("Home() = %q, want %q", got, want)
		}
	})
}
