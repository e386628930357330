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

	cfg := Default()
	cfg.DefaultSession = "work"
	cfg.Server.BaseURL = "https://chat.example.org/api/v1"
	cfg.Reconcile.DedupWindow = Duration{3 * time.Second}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultSession != "work" {
		t.Errorf("DefaultSession = %q, want %q", loaded.DefaultSession, "work")
	}
	if loaded.Server.BaseURL != "https://chat.example.org/api/v1" {
		t.Errorf("BaseURL = %q", loaded.Server.BaseURL)
	}
	if loaded.Reconcile.DedupWindow.Duration != 3*time.Second {
		t.Errorf("DedupWindow = %v, want 3s", loaded.Reconcile.DedupWindow.Duration)
	}
}

func TestLoadMissingUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.toml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Connection.BaseDelay.Duration != time.Second {
		t.Errorf("BaseDelay = %v, want 1s", cfg.Connection.BaseDelay.Duration)
	}
	if cfg.Reconcile.DedupWindow.Duration != 10*time.Second {
		t.Errorf("DedupWindow = %v, want 10s", cfg.Reconcile.DedupWindow.Duration)
	}
	if cfg.Notify.Capacity != 32 {
		t.Errorf("Capacity = %d, want 32", cfg.Notify.Capacity)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("CLINCHAT_SERVER_BASE_URL", "https://override.example.org")
	t.Setenv("CLINCHAT_PRESENCE_POLL_INTERVAL", "30s")

	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.toml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.BaseURL != "https://override.example.org" {
		t.Errorf("BaseURL = %q, want env override", cfg.Server.BaseURL)
	}
	if cfg.Presence.PollInterval.Duration != 30*time.Second {
		t.Errorf("PollInterval = %v, want 30s", cfg.Presence.PollInterval.Duration)
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, Default()); err != nil {
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
