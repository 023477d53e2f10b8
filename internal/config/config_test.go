package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := Defaults()
	cfg.DefaultProfile = "work"
	cfg.Server.UserID = "u-1"
	cfg.Outbox.MaxAttempts = 5
	if err := Save(path, &cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultProfile != "work" {
		t.Errorf("DefaultProfile = %q, want %q", loaded.DefaultProfile, "work")
	}
	if loaded.Server.UserID != "u-1" {
		t.Errorf("UserID = %q, want u-1", loaded.Server.UserID)
	}
	if loaded.Outbox.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", loaded.Outbox.MaxAttempts)
	}
	if loaded.Realtime.BackoffMax.Duration != 30*time.Second {
		t.Errorf("BackoffMax = %v, want 30s", loaded.Realtime.BackoffMax.Duration)
	}
}

func TestLoadDurationsAndDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
default_profile = "main"

[realtime]
connect_timeout = "3s"
backoff_floor = "2s"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Realtime.ConnectTimeout.Duration != 3*time.Second {
		t.Errorf("ConnectTimeout = %v, want 3s", cfg.Realtime.ConnectTimeout.Duration)
	}
	if cfg.Realtime.BackoffFloor.Duration != 2*time.Second {
		t.Errorf("BackoffFloor = %v, want 2s", cfg.Realtime.BackoffFloor.Duration)
	}
	if cfg.Display.TimeLayout != "15:04" {
		t.Errorf("TimeLayout = %q, want default 15:04", cfg.Display.TimeLayout)
	}
	if cfg.Outbox.FlushInterval.Duration != 5*time.Second {
		t.Errorf("FlushInterval = %v, want default 5s", cfg.Outbox.FlushInterval.Duration)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want default info", cfg.LogLevel)
	}
}

// TestBackoffFloorClamped verifies a config cannot disable the reconnect floor.
func TestBackoffFloorClamped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := "[realtime]\nbackoff_floor = \"0s\"\nbackoff_max = \"10ms\"\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Realtime.BackoffFloor.Duration != MinBackoffFloor {
		t.Errorf("BackoffFloor = %v, want %v", cfg.Realtime.BackoffFloor.Duration, MinBackoffFloor)
	}
	if cfg.Realtime.BackoffMax.Duration < cfg.Realtime.BackoffFloor.Duration {
		t.Errorf("BackoffMax %v below floor %v", cfg.Realtime.BackoffMax.Duration, cfg.Realtime.BackoffFloor.Duration)
	}
}

func TestLoadBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[realtime]\nconnect_timeout = \"soon\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for unparsable duration")
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestLoadOrDefaultMissing(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}
	if cfg.Realtime.BackoffFloor.Duration != time.Second {
		t.Errorf("BackoffFloor = %v, want default 1s", cfg.Realtime.BackoffFloor.Duration)
	}
}

func TestLocationFallback(t *testing.T) {
	cfg := Defaults()
	cfg.Display.Timezone = "Not/AZone"
	if cfg.Location() != time.Local {
		t.Error("invalid timezone should fall back to time.Local")
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := Defaults()
	if err := Save(path, &cfg); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}
