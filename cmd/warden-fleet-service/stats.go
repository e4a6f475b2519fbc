// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"

	"github.com/thehotelbravo/warden/lib/loadstats"
	"github.com/thehotelbravo/warden/lib/schema/fleet"
)

func (s *FleetService) handleLoadStats(ctx context.Context, raw []byte) (any, error) {
	request, err := decode[fleet.LoadStatsRequest](raw)
	if err != nil {
		return nil, err
	}
	if request.ClientID.IsZero() {
		return nil, fmt.Errorf("missing required field: client_id")
	}
	metric, err := fleet.ParseMetric(request.Metric)
	if err != nil {
		return nil, err
	}

	end := request.End
	if end == 0 {
		end = s.clock.Now().UnixNano()
	}
	start := request.Start
	if start == 0 {
		start = end - int64(loadStatsLookback)
	}
	if start > end {
		return nil, fmt.Errorf("start %d is after end %d", start, end)
	}

	snapshots, err := s.store.StatHistory(ctx, request.ClientID, start, end)
	if err != nil {
		return nil, err
	}
	points, err := loadstats.Build(snapshots, metric, start, end)
	if err != nil {
		return nil, err
	}
	return fleet.LoadStatsResponse{Points: points}, nil
}

func (s *FleetService) handleIngest(ctx context.Context, raw []byte) (any, error) {
	request, err := decode[fleet.IngestRequest](raw)
	if err != nil {
		return nil, err
	}
	if request.Snapshot == nil && request.Stats == nil && request.Crash == nil {
		return nil, fmt.Errorf("ingest request carries nothing")
	}

	if request.Snapshot != nil {
		if request.Snapshot.ClientID.IsZero() {
			return nil, fmt.Errorf("snapshot: missing client_id")
		}
		if request.Snapshot.Timestamp == 0 {
			request.Snapshot.Timestamp = s.clock.Now().UnixNano()
		}
		if err := s.store.WriteSnapshot(ctx, request.Snapshot); err != nil {
			return nil, err
		}
	}
	if request.Stats != nil {
		if request.Stats.ClientID.IsZero() {
			return nil, fmt.Errorf("stats: missing client_id")
		}
		if request.Stats.Timestamp == 0 {
			request.Stats.Timestamp = s.clock.Now().UnixNano()
		}
		if err := s.store.WriteStats(ctx, request.Stats); err != nil {
			return nil, err
		}
	}
	if request.Crash != nil {
		if request.Crash.ClientID.IsZero() {
			return nil, fmt.Errorf("crash: missing client_id")
		}
		if request.Crash.Timestamp == 0 {
			request.Crash.Timestamp = s.clock.Now().UnixNano()
		}
		if err := s.store.WriteCrash(ctx, request.Crash); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func (s *FleetService) handleStatus(ctx context.Context, raw []byte) (any, error) {
	ids, err := s.store.AllClientIDs(ctx)
	if err != nil {
		return nil, err
	}
	return fleet.StatusResponse{
		Backend:     s.store.Backend(),
		ClientCount: len(ids),
		UptimeNanos: s.clock.Now().Sub(s.startedAt).Nanoseconds(),
	}, nil
}
