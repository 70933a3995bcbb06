// Copyright 2026 The Nucleus Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Scheduler.PriorityLevels != 4 {
		t.Errorf("expected priority_levels=4, got %d", cfg.Scheduler.PriorityLevels)
	}
	if cfg.Scheduler.TickInterval != Duration(time.Millisecond) {
		t.Errorf("expected tick_interval=1ms, got %s", cfg.Scheduler.TickInterval)
	}
	if !cfg.Trace.Enabled {
		t.Error("expected tracing enabled by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoad_RequiresNucleusConfig(t *testing.T) {
	orig := os.Getenv("NUCLEUS_CONFIG")
	defer os.Setenv("NUCLEUS_CONFIG", orig)
	os.Unsetenv("NUCLEUS_CONFIG")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when NUCLEUS_CONFIG not set, got nil")
	}
	if !strings.Contains(err.Error(), "NUCLEUS_CONFIG environment variable not set") {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestLoadFile_MergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nucleus.yaml")
	content := `
scheduler:
  priority_levels: 8
  tick_interval: 5ms
trace:
  deterministic: true
diag:
  socket_path: ""
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Scheduler.PriorityLevels != 8 {
		t.Errorf("expected priority_levels=8, got %d", cfg.Scheduler.PriorityLevels)
	}
	if cfg.Scheduler.TickInterval != Duration(5*time.Millisecond) {
		t.Errorf("expected tick_interval=5ms, got %s", cfg.Scheduler.TickInterval)
	}
	if !cfg.Trace.Deterministic {
		t.Error("expected deterministic tracing")
	}
	// Untouched sections keep their defaults.
	if cfg.IPC.MaxChannels != 1024 {
		t.Errorf("expected default max_channels=1024, got %d", cfg.IPC.MaxChannels)
	}
	if cfg.Diag.SocketPath != "" {
		t.Errorf("expected empty socket_path, got %q", cfg.Diag.SocketPath)
	}
}

func TestLoadFile_RejectsBadValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nucleus.yaml")
	content := "scheduler:\n  priority_levels: 99\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected validation error for 99 priority levels")
	}
}

func TestLoadFile_MissingFile(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
