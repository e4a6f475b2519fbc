// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package store defines the backend-agnostic storage contract for
// client records, labels, the keyword index, stat telemetry, crashes,
// and pending action requests.
//
// Two implementations exist: relstore (the relational SQLite backend)
// and boltstore (the legacy hierarchical bbolt backend). They must be
// behaviorally equivalent for identical stored data — same field
// population rules, same ordering, same missing-field handling. That
// equivalence is a contract surface: the storetest package holds the
// conformance suite both backends run.
//
// The store performs no locking of its own; it relies on the engine's
// atomic per-record read/write and treats each method call as one
// logical operation.
package store

import (
	"context"
	"errors"

	"github.com/zeebo/blake3"

	"github.com/thehotelbravo/warden/lib/clientid"
	"github.com/thehotelbravo/warden/lib/codec"
	"github.com/thehotelbravo/warden/lib/schema/fleet"
)

// ErrClientNotFound is returned when a backend has no record of the
// requested client. During the migration era the relational backend
// legitimately lacks records the legacy backend has; callers must
// treat this error as meaningful state, never swallow it.
var ErrClientNotFound = errors.New("store: client not found")

// Store is the dual-backend storage contract.
type Store interface {
	// Backend names the implementation ("relational" or "legacy").
	Backend() string

	// Close releases the underlying engine.
	Close() error

	// WriteSnapshot appends a snapshot to the client's history,
	// merges the snapshot's keywords into the index, and updates
	// first-seen/last-seen metadata. Attribute keywords are additive:
	// a client keeps tokens from earlier snapshots.
	WriteSnapshot(ctx context.Context, snapshot *fleet.ClientSnapshot) error

	// ClientInfo assembles the canonical record from the latest
	// snapshot, metadata, and current labels.
	ClientInfo(ctx context.Context, id clientid.ID) (fleet.ClientInfo, error)

	// ClientInfoAt is ClientInfo with the snapshot in effect at asOf:
	// the newest snapshot whose timestamp is <= asOf.
	ClientInfoAt(ctx context.Context, id clientid.ID, asOf int64) (fleet.ClientInfo, error)

	// MultiClientInfo reads several clients at once. Unknown clients
	// are absent from the result, not an error.
	MultiClientInfo(ctx context.Context, ids []clientid.ID) (map[clientid.ID]fleet.ClientInfo, error)

	// SnapshotHistory returns snapshots with start <= timestamp <=
	// end, most recent first.
	SnapshotHistory(ctx context.Context, id clientid.ID, start, end int64) ([]fleet.ClientSnapshot, error)

	// AllClientIDs returns every known client, ascending.
	AllClientIDs(ctx context.Context) ([]clientid.ID, error)

	// Metadata returns server-side bookkeeping for the client.
	Metadata(ctx context.Context, id clientid.ID) (fleet.ClientMetadata, error)

	// SetMetadata replaces the client's metadata record.
	SetMetadata(ctx context.Context, id clientid.ID, metadata fleet.ClientMetadata) error

	// AddLabels stores (name, owner) labels for the client and
	// inserts the "label:<name>" index postings. Labels owned by
	// fleet.SystemOwner are stamped System. Duplicate pairs are
	// no-ops. Returns ErrClientNotFound when this backend has no
	// record of the client.
	AddLabels(ctx context.Context, id clientid.ID, owner string, names []string) error

	// RemoveLabels removes non-system labels with the given names
	// from the client, across owners. A "label:<name>" posting is
	// removed only when no label with that name remains on the
	// client (a surviving system label keeps the posting alive).
	// Returns ErrClientNotFound for a client the store has no record
	// of, so mirrored removals can distinguish a not-yet-migrated
	// client from a successful no-op.
	RemoveLabels(ctx context.Context, id clientid.ID, names []string) error

	// Labels returns the client's label set, sorted by (name, owner).
	Labels(ctx context.Context, id clientid.ID) ([]fleet.Label, error)

	// AllLabelNames returns the distinct label names in use across
	// all clients, sorted.
	AllLabelNames(ctx context.Context) ([]string, error)

	// LookupKeywords intersects the postings of the given keywords
	// and returns the matching clients in ascending order. The empty
	// keyword set resolves to all clients — fixed behavior, identical
	// across backends.
	LookupKeywords(ctx context.Context, keywords []string) ([]clientid.ID, error)

	// WriteStats appends a stat snapshot to the client's telemetry.
	WriteStats(ctx context.Context, stats *fleet.StatSnapshot) error

	// StatHistory returns stat snapshots with start <= timestamp <=
	// end, ascending.
	StatHistory(ctx context.Context, id clientid.ID, start, end int64) ([]fleet.StatSnapshot, error)

	// WriteCrash records a crash report and updates the client's
	// last-crash metadata.
	WriteCrash(ctx context.Context, crash *fleet.ClientCrash) error

	// Crashes returns the client's crash reports, newest first.
	Crashes(ctx context.Context, id clientid.ID) ([]fleet.ClientCrash, error)

	// WriteActionRequest queues an action request for the client.
	WriteActionRequest(ctx context.Context, id clientid.ID, request fleet.ActionRequest) error

	// ActionRequests returns pending action requests ordered by task
	// ID.
	ActionRequests(ctx context.Context, id clientid.ID) ([]fleet.ActionRequest, error)
}

// SnapshotDigest returns the content digest of a snapshot, ignoring
// its timestamp. Two interrogations that produced identical machine
// state have equal digests; the versions listing uses this for its
// changes-only mode.
func SnapshotDigest(snapshot *fleet.ClientSnapshot) ([32]byte, error) {
	stripped := *snapshot
	stripped.Timestamp = 0
	data, err := codec.Marshal(&stripped)
	if err != nil {
		return [32]byte{}, err
	}
	return blake3.Sum256(data), nil
}
