// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/thehotelbravo/warden/lib/audit"
	"github.com/thehotelbravo/warden/lib/clock"
	"github.com/thehotelbravo/warden/lib/codec"
	"github.com/thehotelbravo/warden/lib/flow"
	"github.com/thehotelbravo/warden/lib/geoip"
	"github.com/thehotelbravo/warden/lib/labels"
	"github.com/thehotelbravo/warden/lib/search"
	"github.com/thehotelbravo/warden/lib/service"
	"github.com/thehotelbravo/warden/lib/store"
)

// Default lookback windows for time-ranged reads when the request
// leaves the range unset.
const (
	versionsLookback  = 3 * time.Minute
	loadStatsLookback = 30 * time.Minute
)

// maxActionRequests caps the pending action listing per client.
const maxActionRequests = 1000

// FleetService holds the wired components behind the socket actions.
type FleetService struct {
	store      store.Store
	labels     *labels.Manager
	engine     *search.Engine
	trigger    flow.Trigger
	resolver   *geoip.Resolver
	auditSink  audit.Sink
	restricted map[string]search.Restriction
	clock      clock.Clock
	logger     *slog.Logger
	startedAt  time.Time
}

// registerActions wires every socket action to its handler.
func (s *FleetService) registerActions(server *service.SocketServer) {
	server.Handle("clients/search", s.handleSearch)
	server.Handle("clients/restricted-search", s.handleRestrictedSearch)
	server.Handle("clients/get", s.handleGet)
	server.Handle("clients/versions", s.handleVersions)
	server.Handle("clients/version-times", s.handleVersionTimes)
	server.Handle("clients/interrogate", s.handleInterrogate)
	server.Handle("clients/interrogate-state", s.handleInterrogateState)
	server.Handle("clients/last-ip", s.handleLastIP)
	server.Handle("clients/crashes", s.handleCrashes)
	server.Handle("clients/labels/add", s.handleAddLabels)
	server.Handle("clients/labels/remove", s.handleRemoveLabels)
	server.Handle("clients/labels", s.handleListLabels)
	server.Handle("clients/kb-fields", s.handleKbFields)
	server.Handle("clients/action-requests", s.handleActionRequests)
	server.Handle("clients/load-stats", s.handleLoadStats)
	server.Handle("clients/ingest", s.handleIngest)
	server.Handle("status", s.handleStatus)
}

// decode unmarshals a raw request into the action's request type.
func decode[T any](raw []byte) (T, error) {
	var request T
	if err := codec.Unmarshal(raw, &request); err != nil {
		return request, fmt.Errorf("invalid request: %w", err)
	}
	return request, nil
}
