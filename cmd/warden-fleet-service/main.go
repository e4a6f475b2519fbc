// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/thehotelbravo/warden/lib/audit"
	"github.com/thehotelbravo/warden/lib/clock"
	"github.com/thehotelbravo/warden/lib/flow"
	"github.com/thehotelbravo/warden/lib/geoip"
	"github.com/thehotelbravo/warden/lib/labels"
	"github.com/thehotelbravo/warden/lib/process"
	"github.com/thehotelbravo/warden/lib/search"
	"github.com/thehotelbravo/warden/lib/service"
	"github.com/thehotelbravo/warden/lib/store"
	"github.com/thehotelbravo/warden/lib/store/boltstore"
	"github.com/thehotelbravo/warden/lib/store/relstore"
	"github.com/thehotelbravo/warden/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath  string
		showVersion bool
	)
	pflag.StringVar(&configPath, "config", "", "path to the service config file")
	pflag.BoolVar(&showVersion, "version", false, "print version information and exit")
	pflag.Parse()

	if showVersion {
		version.Print("warden-fleet-service")
		return nil
	}
	if configPath == "" {
		return fmt.Errorf("--config is required")
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.LogLevel)
	realClock := clock.Real()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	primary, secondary, err := openStores(cfg, logger)
	if err != nil {
		return err
	}
	defer primary.Close()
	if secondary != nil {
		defer secondary.Close()
	}

	resolver, err := geoip.New(cfg.GeoIPDatabase)
	if err != nil {
		return err
	}
	defer resolver.Close()

	auditSink, closeAudit, err := openAuditSink(cfg, logger)
	if err != nil {
		return err
	}
	defer closeAudit()

	restricted := make(map[string]search.Restriction, len(cfg.RestrictedCallers))
	for requestor, allowlist := range cfg.RestrictedCallers {
		restricted[requestor] = allowlist.Restriction()
	}

	fleetService := &FleetService{
		store:      primary,
		labels:     labels.New(primary, secondary, logger),
		engine:     search.New(primary),
		trigger:    flow.NewMemoryTrigger(realClock, cfg.interrogateLifetime()),
		resolver:   resolver,
		auditSink:  auditSink,
		restricted: restricted,
		clock:      realClock,
		logger:     logger,
		startedAt:  realClock.Now(),
	}

	socketServer := service.NewSocketServer(cfg.SocketPath, logger)
	fleetService.registerActions(socketServer)

	socketDone := make(chan error, 1)
	go func() {
		socketDone <- socketServer.Serve(ctx)
	}()

	logger.Info("fleet service running",
		"socket", cfg.SocketPath,
		"backend", primary.Backend(),
		"mirroring", secondary != nil,
	)

	<-ctx.Done()
	logger.Info("shutting down")

	// Wait for the socket server to drain active connections.
	if err := <-socketDone; err != nil {
		logger.Error("socket server error", "error", err)
	}
	return nil
}

// openStores opens the primary backend and, when the other backend's
// path is also configured, the secondary used for mirrored label
// writes.
func openStores(cfg *Config, logger *slog.Logger) (primary, secondary store.Store, err error) {
	var relational, legacy store.Store

	if cfg.RelationalPath != "" {
		relational, err = relstore.Open(relstore.Config{
			Path:     cfg.RelationalPath,
			PoolSize: cfg.PoolSize,
			Logger:   logger,
		})
		if err != nil {
			return nil, nil, err
		}
	}
	if cfg.LegacyPath != "" {
		legacy, err = boltstore.Open(boltstore.Config{
			Path:   cfg.LegacyPath,
			Logger: logger,
		})
		if err != nil {
			if relational != nil {
				relational.Close()
			}
			return nil, nil, err
		}
	}

	if cfg.Backend == "relational" {
		return relational, legacy, nil
	}
	return legacy, relational, nil
}

// openAuditSink returns the configured sink and its cleanup.
func openAuditSink(cfg *Config, logger *slog.Logger) (audit.Sink, func(), error) {
	if cfg.AuditLog == "" {
		return audit.LogSink{Logger: logger}, func() {}, nil
	}
	sink, err := audit.OpenFileSink(cfg.AuditLog)
	if err != nil {
		return nil, nil, err
	}
	return sink, func() {
		if err := sink.Close(); err != nil {
			logger.Error("closing audit log", "error", err)
		}
	}, nil
}

func newLogger(level string) *slog.Logger {
	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slogLevel}))
}
