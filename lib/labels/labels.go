// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package labels coordinates label mutations across the two storage
// backends during the migration era. Every mutation lands on the
// primary backend; the mirror write to the secondary backend is
// best-effort and its result is reported per client as a tagged
// outcome instead of being silently swallowed. A batch never stops at
// a failing client.
package labels

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/thehotelbravo/warden/lib/audit"
	"github.com/thehotelbravo/warden/lib/clientid"
	"github.com/thehotelbravo/warden/lib/schema/fleet"
	"github.com/thehotelbravo/warden/lib/store"
)

// Manager applies label mutations. The secondary store is nil once
// the migration has finished and the mirror write is no longer
// needed.
type Manager struct {
	primary   store.Store
	secondary store.Store
	logger    *slog.Logger
}

// New returns a manager writing to primary and mirroring to
// secondary. secondary may be nil.
func New(primary, secondary store.Store, logger *slog.Logger) *Manager {
	return &Manager{primary: primary, secondary: secondary, logger: logger}
}

// Add attaches the named labels, owned by requestor, to every client
// in the batch. One result per client, in input order. Successful
// primary writes record an audit event on the recorder; the caller
// owns the flush.
func (m *Manager) Add(ctx context.Context, recorder *audit.Recorder, requestor string, ids []clientid.ID, names []string) []fleet.LabelMutationResult {
	return m.mutate(ctx, ids, fleet.AuditClientAddLabel, recorder, requestor, names,
		func(s store.Store, id clientid.ID) error {
			return s.AddLabels(ctx, id, requestor, names)
		})
}

// Remove detaches the named labels from every client in the batch.
// System-owned labels survive removal; that protection lives in the
// stores. One result per client, in input order.
func (m *Manager) Remove(ctx context.Context, recorder *audit.Recorder, requestor string, ids []clientid.ID, names []string) []fleet.LabelMutationResult {
	return m.mutate(ctx, ids, fleet.AuditClientRemoveLabel, recorder, requestor, names,
		func(s store.Store, id clientid.ID) error {
			return s.RemoveLabels(ctx, id, names)
		})
}

func (m *Manager) mutate(ctx context.Context, ids []clientid.ID, action string, recorder *audit.Recorder, requestor string, names []string, apply func(store.Store, clientid.ID) error) []fleet.LabelMutationResult {
	description := strings.Join(names, ",")
	results := make([]fleet.LabelMutationResult, 0, len(ids))

	for _, id := range ids {
		result := fleet.LabelMutationResult{ClientID: id}

		if err := apply(m.primary, id); err != nil {
			m.logger.ErrorContext(ctx, "label mutation failed",
				"action", action, "client", id, "error", err)
			result.Outcome = fleet.OutcomeFailed
			result.Error = err.Error()
			results = append(results, result)
			continue
		}
		recorder.Record(requestor, action, id, description)

		result.Outcome, result.Error = m.mirror(ctx, action, id, apply)
		results = append(results, result)
	}
	return results
}

// mirror applies the mutation to the secondary backend and classifies
// the result. With no secondary configured the client counts as
// migrated outright.
func (m *Manager) mirror(ctx context.Context, action string, id clientid.ID, apply func(store.Store, clientid.ID) error) (outcome, message string) {
	if m.secondary == nil {
		return fleet.OutcomeMigrated, ""
	}
	err := apply(m.secondary, id)
	switch {
	case err == nil:
		return fleet.OutcomeMigrated, ""
	case errors.Is(err, store.ErrClientNotFound):
		return fleet.OutcomeNotYetMigrated, ""
	default:
		m.logger.WarnContext(ctx, "secondary label mutation failed",
			"action", action, "client", id, "error", err)
		return fleet.OutcomeFailed, err.Error()
	}
}
