// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/thehotelbravo/warden/lib/clientid"
	"github.com/thehotelbravo/warden/lib/flow"
	"github.com/thehotelbravo/warden/lib/schema/fleet"
	"github.com/thehotelbravo/warden/lib/store"
)

func (s *FleetService) handleSearch(ctx context.Context, raw []byte) (any, error) {
	request, err := decode[fleet.SearchClientsRequest](raw)
	if err != nil {
		return nil, err
	}
	if request.Offset < 0 || request.Count < 0 {
		return nil, fmt.Errorf("offset and count must be non-negative")
	}

	ids, err := s.engine.Search(ctx, request.Query, request.Offset, request.Count)
	if err != nil {
		return nil, err
	}
	return s.assembleSearchResponse(ctx, ids)
}

func (s *FleetService) handleRestrictedSearch(ctx context.Context, raw []byte) (any, error) {
	request, err := decode[fleet.RestrictedSearchRequest](raw)
	if err != nil {
		return nil, err
	}
	if request.Requestor == "" {
		return nil, fmt.Errorf("missing required field: requestor")
	}
	if request.Offset < 0 || request.Count < 0 {
		return nil, fmt.Errorf("offset and count must be non-negative")
	}
	restriction, ok := s.restricted[request.Requestor]
	if !ok {
		return nil, fmt.Errorf("requestor %q has no search allowlist", request.Requestor)
	}

	ids, err := s.engine.RestrictedSearch(ctx, request.Query, restriction, request.Offset, request.Count)
	if err != nil {
		return nil, err
	}
	return s.assembleSearchResponse(ctx, ids)
}

// assembleSearchResponse reads full records for a page of search
// results, preserving the page's ordering.
func (s *FleetService) assembleSearchResponse(ctx context.Context, ids []clientid.ID) (any, error) {
	infos, err := s.store.MultiClientInfo(ctx, ids)
	if err != nil {
		return nil, err
	}
	clients := make([]fleet.ClientInfo, 0, len(ids))
	for _, id := range ids {
		if info, ok := infos[id]; ok {
			clients = append(clients, info)
		}
	}
	return fleet.SearchClientsResponse{Clients: clients}, nil
}

func (s *FleetService) handleGet(ctx context.Context, raw []byte) (any, error) {
	request, err := decode[fleet.GetClientRequest](raw)
	if err != nil {
		return nil, err
	}
	if request.ClientID.IsZero() {
		return nil, fmt.Errorf("missing required field: client_id")
	}

	var info fleet.ClientInfo
	if request.Timestamp != nil {
		info, err = s.store.ClientInfoAt(ctx, request.ClientID, *request.Timestamp)
	} else {
		info, err = s.store.ClientInfo(ctx, request.ClientID)
	}
	if err != nil {
		return nil, err
	}
	return fleet.GetClientResponse{Client: info}, nil
}

func (s *FleetService) handleVersions(ctx context.Context, raw []byte) (any, error) {
	request, err := decode[fleet.VersionsRequest](raw)
	if err != nil {
		return nil, err
	}
	if request.ClientID.IsZero() {
		return nil, fmt.Errorf("missing required field: client_id")
	}

	end := request.End
	if end == 0 {
		end = s.clock.Now().UnixNano()
	}
	start := request.Start
	if start == 0 {
		start = end - int64(versionsLookback)
	}
	if start > end {
		return nil, fmt.Errorf("start %d is after end %d", start, end)
	}

	snapshots, err := s.store.SnapshotHistory(ctx, request.ClientID, start, end)
	if err != nil {
		return nil, err
	}
	if request.ChangesOnly {
		snapshots, err = dropUnchanged(snapshots)
		if err != nil {
			return nil, err
		}
	}
	return fleet.VersionsResponse{Snapshots: snapshots}, nil
}

// dropUnchanged removes snapshots whose content digest matches their
// chronological predecessor's. Input and output are newest first.
func dropUnchanged(snapshots []fleet.ClientSnapshot) ([]fleet.ClientSnapshot, error) {
	if len(snapshots) == 0 {
		return snapshots, nil
	}

	digests := make([][32]byte, len(snapshots))
	for i := range snapshots {
		digest, err := store.SnapshotDigest(&snapshots[i])
		if err != nil {
			return nil, err
		}
		digests[i] = digest
	}

	// Walk oldest to newest; the oldest snapshot always survives. A
	// snapshot whose digest equals its chronological predecessor's
	// carries no new content.
	kept := make([]fleet.ClientSnapshot, 0, len(snapshots))
	for i := len(snapshots) - 1; i >= 0; i-- {
		if i < len(snapshots)-1 && digests[i] == digests[i+1] {
			continue
		}
		kept = append(kept, snapshots[i])
	}

	// Restore newest-first ordering.
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	return kept, nil
}

func (s *FleetService) handleVersionTimes(ctx context.Context, raw []byte) (any, error) {
	request, err := decode[fleet.VersionTimesRequest](raw)
	if err != nil {
		return nil, err
	}
	if request.ClientID.IsZero() {
		return nil, fmt.Errorf("missing required field: client_id")
	}

	snapshots, err := s.store.SnapshotHistory(ctx, request.ClientID, 0, s.clock.Now().UnixNano())
	if err != nil {
		return nil, err
	}
	times := make([]int64, 0, len(snapshots))
	for _, snapshot := range snapshots {
		times = append(times, snapshot.Timestamp)
	}
	return fleet.VersionTimesResponse{Times: times}, nil
}

func (s *FleetService) handleInterrogate(ctx context.Context, raw []byte) (any, error) {
	request, err := decode[fleet.InterrogateRequest](raw)
	if err != nil {
		return nil, err
	}
	if request.ClientID.IsZero() {
		return nil, fmt.Errorf("missing required field: client_id")
	}
	// The client must exist on the primary backend before we queue
	// work against it.
	if _, err := s.store.ClientInfo(ctx, request.ClientID); err != nil {
		return nil, err
	}

	operationID, err := s.trigger.StartInterrogate(ctx, request.ClientID, request.Requestor)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "interrogation started",
		"client", request.ClientID, "operation", operationID, "requestor", request.Requestor)
	return fleet.InterrogateResponse{OperationID: operationID}, nil
}

func (s *FleetService) handleInterrogateState(ctx context.Context, raw []byte) (any, error) {
	request, err := decode[fleet.InterrogateStateRequest](raw)
	if err != nil {
		return nil, err
	}
	if request.OperationID == "" {
		return nil, fmt.Errorf("missing required field: operation_id")
	}

	state, err := s.trigger.OperationState(ctx, request.OperationID)
	if errors.Is(err, flow.ErrOperationNotFound) {
		return nil, fmt.Errorf("operation %q not found", request.OperationID)
	}
	if err != nil {
		return nil, err
	}
	return fleet.InterrogateStateResponse{State: state}, nil
}

func (s *FleetService) handleLastIP(ctx context.Context, raw []byte) (any, error) {
	request, err := decode[fleet.LastIPRequest](raw)
	if err != nil {
		return nil, err
	}
	if request.ClientID.IsZero() {
		return nil, fmt.Errorf("missing required field: client_id")
	}

	metadata, err := s.store.Metadata(ctx, request.ClientID)
	if err != nil {
		return nil, err
	}
	status, info := s.resolver.Resolve(metadata.LastIP)
	return fleet.LastIPResponse{IP: metadata.LastIP, Status: status, Info: info}, nil
}

func (s *FleetService) handleCrashes(ctx context.Context, raw []byte) (any, error) {
	request, err := decode[fleet.CrashesRequest](raw)
	if err != nil {
		return nil, err
	}
	if request.ClientID.IsZero() {
		return nil, fmt.Errorf("missing required field: client_id")
	}
	if request.Offset < 0 || request.Count < 0 {
		return nil, fmt.Errorf("offset and count must be non-negative")
	}

	crashes, err := s.store.Crashes(ctx, request.ClientID)
	if err != nil {
		return nil, err
	}
	total := len(crashes)

	if request.Offset >= len(crashes) {
		crashes = nil
	} else {
		crashes = crashes[request.Offset:]
		if request.Count > 0 && request.Count < len(crashes) {
			crashes = crashes[:request.Count]
		}
	}
	return fleet.CrashesResponse{Crashes: crashes, TotalCount: total}, nil
}

func (s *FleetService) handleKbFields(ctx context.Context, raw []byte) (any, error) {
	return fleet.KbFieldsResponse{Fields: fleet.KbFieldNames()}, nil
}

func (s *FleetService) handleActionRequests(ctx context.Context, raw []byte) (any, error) {
	request, err := decode[fleet.ActionRequestsRequest](raw)
	if err != nil {
		return nil, err
	}
	if request.ClientID.IsZero() {
		return nil, fmt.Errorf("missing required field: client_id")
	}

	requests, err := s.store.ActionRequests(ctx, request.ClientID)
	if err != nil {
		return nil, err
	}
	if len(requests) > maxActionRequests {
		requests = requests[:maxActionRequests]
	}
	return fleet.ActionRequestsResponse{Requests: requests}, nil
}
