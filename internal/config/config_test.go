// RepSync - Offline-First Workout Session Sync and Live Training Coordination
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/repsync

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("REPSYNC_USER_ID", "u1")
	t.Setenv("REPSYNC_USER_USERNAME", "sam")
	t.Setenv("REPSYNC_USER_PERSON", "sam")
	t.Setenv("REPSYNC_SERVER_BASE_URL", "https://train.example.com")
	t.Setenv("REPSYNC_REALTIME_URL", "wss://train.example.com/ws")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadFile("")
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.Realtime.BackoffFloor != 1*time.Second {
		t.Errorf("backoff floor default = %v", cfg.Realtime.BackoffFloor)
	}
	if cfg.Realtime.BackoffCeiling != 30*time.Second {
		t.Errorf("backoff ceiling default = %v", cfg.Realtime.BackoffCeiling)
	}
	if !cfg.Storage.SyncWrites {
		t.Error("sync writes should default to on")
	}
	if cfg.Sync.HistoryLimit != 50 {
		t.Errorf("history limit default = %d", cfg.Sync.HistoryLimit)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	setRequiredEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "sync:\n  history_limit: 10\napi:\n  listen_addr: 127.0.0.1:9999\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("REPSYNC_SYNC_HISTORY_LIMIT", "25")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Sync.HistoryLimit != 25 {
		t.Errorf("env should override file: got %d", cfg.Sync.HistoryLimit)
	}
	if cfg.API.ListenAddr != "127.0.0.1:9999" {
		t.Errorf("file should override default: got %s", cfg.API.ListenAddr)
	}
}

func TestValidateRejectsMissingUser(t *testing.T) {
	t.Setenv("REPSYNC_SERVER_BASE_URL", "https://train.example.com")
	t.Setenv("REPSYNC_REALTIME_URL", "wss://train.example.com/ws")

	if _, err := LoadFile(""); err == nil {
		t.Fatal("expected validation error for missing user identity")
	}
}

func TestValidateRejectsBadBackoff(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("REPSYNC_REALTIME_BACKOFF_CEILING", "500ms")

	if _, err := LoadFile(""); err == nil {
		t.Fatal("expected validation error for ceiling below floor")
	}
}

func TestEnvTransform(t *testing.T) {
	tests := map[string]string{
		"REPSYNC_SERVER_BASE_URL":     "server.base_url",
		"REPSYNC_LOG_LEVEL":           "log.level",
		"REPSYNC_SYNC_HISTORY_LIMIT":  "sync.history_limit",
		"REPSYNC_REALTIME_PING_INTERVAL": "realtime.ping_interval",
	}
	for in, want := range tests {
		if got := envTransform(in); got != want {
			t.Errorf("envTransform(%q) = %q, want %q", in, got, want)
		}
	}
}
