// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/thehotelbravo/warden/lib/audit"
	"github.com/thehotelbravo/warden/lib/schema/fleet"
)

func (s *FleetService) handleAddLabels(ctx context.Context, raw []byte) (any, error) {
	request, err := decode[fleet.AddLabelsRequest](raw)
	if err != nil {
		return nil, err
	}
	if err := checkMutationRequest(len(request.ClientIDs), request.Labels, request.Requestor); err != nil {
		return nil, err
	}

	recorder := audit.NewRecorder(s.auditSink, s.clock)
	// The recorder flushes exactly once even with this backstop, so
	// an early return still publishes what was recorded.
	defer recorder.Flush(ctx)

	results := s.labels.Add(ctx, recorder, request.Requestor, request.ClientIDs, request.Labels)
	if err := recorder.Flush(ctx); err != nil {
		return nil, err
	}
	return fleet.MutateLabelsResponse{Results: results}, nil
}

func (s *FleetService) handleRemoveLabels(ctx context.Context, raw []byte) (any, error) {
	request, err := decode[fleet.RemoveLabelsRequest](raw)
	if err != nil {
		return nil, err
	}
	if err := checkMutationRequest(len(request.ClientIDs), request.Labels, request.Requestor); err != nil {
		return nil, err
	}

	recorder := audit.NewRecorder(s.auditSink, s.clock)
	defer recorder.Flush(ctx)

	results := s.labels.Remove(ctx, recorder, request.Requestor, request.ClientIDs, request.Labels)
	if err := recorder.Flush(ctx); err != nil {
		return nil, err
	}
	return fleet.MutateLabelsResponse{Results: results}, nil
}

func checkMutationRequest(clientCount int, labels []string, requestor string) error {
	if clientCount == 0 {
		return fmt.Errorf("missing required field: client_ids")
	}
	if len(labels) == 0 {
		return fmt.Errorf("missing required field: labels")
	}
	for _, label := range labels {
		if strings.TrimSpace(label) == "" {
			return fmt.Errorf("label names must be non-empty")
		}
	}
	if requestor == "" {
		return fmt.Errorf("missing required field: requestor")
	}
	if requestor == fleet.SystemOwner {
		return fmt.Errorf("requestor %q is reserved", requestor)
	}
	return nil
}

func (s *FleetService) handleListLabels(ctx context.Context, raw []byte) (any, error) {
	names, err := s.store.AllLabelNames(ctx)
	if err != nil {
		return nil, err
	}
	return fleet.ListLabelsResponse{Names: names}, nil
}
