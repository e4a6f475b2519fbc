// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/thehotelbravo/warden/lib/search"
)

// Config is the service configuration. Authored as YAML, or as JSONC
// (JSON with comments and trailing commas) when the file ends in
// .json or .jsonc.
type Config struct {
	// SocketPath is where the CBOR socket listens. Required.
	SocketPath string `yaml:"socket_path"`

	// Backend selects the primary store: "relational" or "legacy".
	Backend string `yaml:"backend"`

	// RelationalPath is the SQLite database file. Required when the
	// relational backend is primary or mirrored.
	RelationalPath string `yaml:"relational_path"`

	// LegacyPath is the hierarchical database file. Required when
	// the legacy backend is primary or mirrored.
	LegacyPath string `yaml:"legacy_path"`

	// PoolSize is the SQLite connection pool size. Defaults to 4.
	PoolSize int `yaml:"pool_size"`

	// AuditLog is the path of the append-only audit event log.
	// Empty means audit events go to the structured logger instead.
	AuditLog string `yaml:"audit_log"`

	// GeoIPDatabase is an optional MaxMind City database used to
	// annotate external client addresses.
	GeoIPDatabase string `yaml:"geoip_database"`

	// InterrogateLifetime is how long a triggered interrogation
	// reports running before it is considered finished. Duration
	// string, default "3m".
	InterrogateLifetime string `yaml:"interrogate_lifetime"`

	// LogLevel is debug, info, warn, or error. Default info.
	LogLevel string `yaml:"log_level"`

	// RestrictedCallers maps a requestor name to the label allowlist
	// its searches are confined to. Requestors absent from this map
	// cannot use restricted search at all.
	RestrictedCallers map[string]AllowlistConfig `yaml:"restricted_callers"`
}

// AllowlistConfig is one caller's label allowlist.
type AllowlistConfig struct {
	Labels []string `yaml:"labels"`
	Owners []string `yaml:"owners"`
}

// Restriction converts the allowlist to its search-layer form.
func (a AllowlistConfig) Restriction() search.Restriction {
	return search.Restriction{Names: a.Labels, Owners: a.Owners}
}

// LoadConfig reads and validates the config file at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	// JSONC is stripped to plain JSON, which YAML parses natively,
	// so both formats share one decode path.
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		data = jsonc.ToJSON(data)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks required fields and fills defaults.
func (c *Config) Validate() error {
	if c.SocketPath == "" {
		return fmt.Errorf("socket_path is required")
	}
	switch c.Backend {
	case "":
		c.Backend = "relational"
	case "relational", "legacy":
	default:
		return fmt.Errorf("backend must be \"relational\" or \"legacy\", got %q", c.Backend)
	}
	if c.Backend == "relational" && c.RelationalPath == "" {
		return fmt.Errorf("relational_path is required for the relational backend")
	}
	if c.Backend == "legacy" && c.LegacyPath == "" {
		return fmt.Errorf("legacy_path is required for the legacy backend")
	}
	if c.PoolSize <= 0 {
		c.PoolSize = 4
	}
	if c.InterrogateLifetime == "" {
		c.InterrogateLifetime = "3m"
	}
	if _, err := time.ParseDuration(c.InterrogateLifetime); err != nil {
		return fmt.Errorf("interrogate_lifetime: %w", err)
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	return nil
}

// interrogateLifetime returns the validated lifetime in nanoseconds.
func (c *Config) interrogateLifetime() int64 {
	lifetime, err := time.ParseDuration(c.InterrogateLifetime)
	if err != nil {
		// Validate already rejected this.
		panic(err)
	}
	return int64(lifetime)
}
