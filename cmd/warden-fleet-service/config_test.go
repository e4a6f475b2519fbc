// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigYAML(t *testing.T) {
	path := writeConfig(t, "warden.yaml", `
socket_path: /run/warden/fleet.sock
backend: legacy
relational_path: /var/lib/warden/fleet.db
legacy_path: /var/lib/warden/fleet.bolt
pool_size: 8
audit_log: /var/log/warden/audit.cbor
interrogate_lifetime: 10m
log_level: debug
restricted_callers:
  analyst:
    labels: [canary, staging]
    owners: [alice]
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Backend != "legacy" || cfg.PoolSize != 8 || cfg.LogLevel != "debug" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.interrogateLifetime() != int64(10*time.Minute) {
		t.Errorf("lifetime = %d, want 10m", cfg.interrogateLifetime())
	}
	restriction := cfg.RestrictedCallers["analyst"].Restriction()
	if len(restriction.Names) != 2 || restriction.Names[0] != "canary" {
		t.Errorf("restriction names = %v", restriction.Names)
	}
	if len(restriction.Owners) != 1 || restriction.Owners[0] != "alice" {
		t.Errorf("restriction owners = %v", restriction.Owners)
	}
}

func TestLoadConfigJSONC(t *testing.T) {
	path := writeConfig(t, "warden.jsonc", `{
	// the socket clients connect to
	"socket_path": "/run/warden/fleet.sock",
	"relational_path": "/var/lib/warden/fleet.db", // trailing comma below
}`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.SocketPath != "/run/warden/fleet.sock" {
		t.Errorf("socket_path = %q", cfg.SocketPath)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, "warden.yaml", `
socket_path: /run/warden/fleet.sock
relational_path: /var/lib/warden/fleet.db
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Backend != "relational" {
		t.Errorf("default backend = %q", cfg.Backend)
	}
	if cfg.PoolSize != 4 {
		t.Errorf("default pool_size = %d", cfg.PoolSize)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("default log_level = %q", cfg.LogLevel)
	}
	if cfg.interrogateLifetime() != int64(3*time.Minute) {
		t.Errorf("default lifetime = %d", cfg.interrogateLifetime())
	}
}

func TestLoadConfigErrors(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    string
	}{
		{
			"missing socket path",
			"relational_path: /var/lib/warden/fleet.db\n",
			"socket_path is required",
		},
		{
			"unknown backend",
			"socket_path: /run/warden/fleet.sock\nbackend: flat-files\n",
			"backend must be",
		},
		{
			"relational backend without path",
			"socket_path: /run/warden/fleet.sock\n",
			"relational_path is required",
		},
		{
			"legacy backend without path",
			"socket_path: /run/warden/fleet.sock\nbackend: legacy\n",
			"legacy_path is required",
		},
		{
			"bad lifetime",
			"socket_path: /run/warden/fleet.sock\nrelational_path: /tmp/db\ninterrogate_lifetime: soon\n",
			"interrogate_lifetime",
		},
		{
			"bad log level",
			"socket_path: /run/warden/fleet.sock\nrelational_path: /tmp/db\nlog_level: loud\n",
			"unknown log_level",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, "warden.yaml", tc.content)
			_, err := LoadConfig(path)
			if err == nil {
				t.Fatal("invalid config accepted")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("missing file accepted")
	}
}
