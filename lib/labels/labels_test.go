// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package labels

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/thehotelbravo/warden/lib/audit"
	"github.com/thehotelbravo/warden/lib/clientid"
	"github.com/thehotelbravo/warden/lib/clock"
	"github.com/thehotelbravo/warden/lib/schema/fleet"
	"github.com/thehotelbravo/warden/lib/store"
	"github.com/thehotelbravo/warden/lib/store/boltstore"
	"github.com/thehotelbravo/warden/lib/store/relstore"
	"github.com/thehotelbravo/warden/lib/testutil"
)

func openStores(t *testing.T) (primary, secondary store.Store) {
	t.Helper()
	rel, err := relstore.Open(relstore.Config{
		Path:   filepath.Join(t.TempDir(), "fleet.db"),
		Logger: testutil.Logger(),
	})
	if err != nil {
		t.Fatalf("open relational store: %v", err)
	}
	t.Cleanup(func() { rel.Close() })

	legacy, err := boltstore.Open(boltstore.Config{
		Path:   filepath.Join(t.TempDir(), "fleet.bolt"),
		Logger: testutil.Logger(),
	})
	if err != nil {
		t.Fatalf("open legacy store: %v", err)
	}
	t.Cleanup(func() { legacy.Close() })
	return rel, legacy
}

func writeClient(t *testing.T, s store.Store, id clientid.ID) {
	t.Helper()
	snapshot := &fleet.ClientSnapshot{ClientID: id, Timestamp: 1000, Hostname: "web-1"}
	if err := s.WriteSnapshot(context.Background(), snapshot); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}
}

type captureSink struct {
	events []fleet.AuditEvent
}

func (s *captureSink) Publish(_ context.Context, events []fleet.AuditEvent) error {
	s.events = append(s.events, events...)
	return nil
}

func newRecorder(sink audit.Sink) *audit.Recorder {
	return audit.NewRecorder(sink, clock.Fake(time.Unix(500, 0)))
}

func TestAddMirrorsToSecondary(t *testing.T) {
	ctx := context.Background()
	primary, secondary := openStores(t)
	manager := New(primary, secondary, testutil.Logger())

	id := clientid.MustParse("C.1000000000000001")
	writeClient(t, primary, id)
	writeClient(t, secondary, id)

	sink := &captureSink{}
	recorder := newRecorder(sink)
	results := manager.Add(ctx, recorder, "alice", []clientid.ID{id}, []string{"canary", "staging"})
	if err := recorder.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}

	if len(results) != 1 || results[0].Outcome != fleet.OutcomeMigrated {
		t.Fatalf("results = %+v, want one migrated", results)
	}
	for _, s := range []store.Store{primary, secondary} {
		labels, err := s.Labels(ctx, id)
		if err != nil {
			t.Fatalf("%s labels: %v", s.Backend(), err)
		}
		if len(labels) != 2 {
			t.Errorf("%s has %d labels, want 2", s.Backend(), len(labels))
		}
	}
	if len(sink.events) != 1 {
		t.Fatalf("published %d audit events, want 1", len(sink.events))
	}
	event := sink.events[0]
	if event.Action != fleet.AuditClientAddLabel || event.Requestor != "alice" || event.Description != "canary,staging" {
		t.Errorf("audit event = %+v", event)
	}
}

func TestAddNotYetMigrated(t *testing.T) {
	ctx := context.Background()
	primary, secondary := openStores(t)
	manager := New(primary, secondary, testutil.Logger())

	// The client exists only on the primary backend.
	id := clientid.MustParse("C.1000000000000002")
	writeClient(t, primary, id)

	recorder := newRecorder(audit.Discard{})
	results := manager.Add(ctx, recorder, "alice", []clientid.ID{id}, []string{"canary"})

	if len(results) != 1 || results[0].Outcome != fleet.OutcomeNotYetMigrated {
		t.Fatalf("results = %+v, want not-yet-migrated", results)
	}
	// The primary write still happened and was audited.
	labels, err := primary.Labels(ctx, id)
	if err != nil || len(labels) != 1 {
		t.Errorf("primary labels = %v, %v", labels, err)
	}
	if recorder.Len() != 1 {
		t.Errorf("recorded %d audit events, want 1", recorder.Len())
	}
}

func TestRemoveNotYetMigrated(t *testing.T) {
	ctx := context.Background()
	primary, secondary := openStores(t)
	manager := New(primary, secondary, testutil.Logger())

	// The client exists only on the primary backend.
	id := clientid.MustParse("C.1000000000000006")
	writeClient(t, primary, id)
	if err := primary.AddLabels(ctx, id, "alice", []string{"canary"}); err != nil {
		t.Fatalf("add label: %v", err)
	}

	recorder := newRecorder(audit.Discard{})
	results := manager.Remove(ctx, recorder, "alice", []clientid.ID{id}, []string{"canary"})

	if len(results) != 1 || results[0].Outcome != fleet.OutcomeNotYetMigrated {
		t.Fatalf("results = %+v, want not-yet-migrated", results)
	}
	// The primary removal still happened and was audited.
	labels, err := primary.Labels(ctx, id)
	if err != nil || len(labels) != 0 {
		t.Errorf("primary labels = %v, %v, want none", labels, err)
	}
	if recorder.Len() != 1 {
		t.Errorf("recorded %d audit events, want 1", recorder.Len())
	}
}

func TestBatchContinuesPastFailure(t *testing.T) {
	ctx := context.Background()
	primary, secondary := openStores(t)
	manager := New(primary, secondary, testutil.Logger())

	// The first client is unknown everywhere; the second is fully
	// migrated. The batch must process both.
	unknown := clientid.MustParse("C.00000000000000ee")
	known := clientid.MustParse("C.1000000000000003")
	writeClient(t, primary, known)
	writeClient(t, secondary, known)

	sink := &captureSink{}
	recorder := newRecorder(sink)
	results := manager.Add(ctx, recorder, "alice", []clientid.ID{unknown, known}, []string{"canary"})
	if err := recorder.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}

	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Outcome != fleet.OutcomeFailed || results[0].Error == "" {
		t.Errorf("unknown client result = %+v, want failed with message", results[0])
	}
	if results[1].Outcome != fleet.OutcomeMigrated {
		t.Errorf("known client result = %+v, want migrated", results[1])
	}
	// Only the successful client is audited.
	if len(sink.events) != 1 || sink.events[0].Client != known {
		t.Errorf("audit events = %+v", sink.events)
	}
}

func TestRemoveSkipsSystemLabels(t *testing.T) {
	ctx := context.Background()
	primary, secondary := openStores(t)
	manager := New(primary, secondary, testutil.Logger())

	id := clientid.MustParse("C.1000000000000004")
	writeClient(t, primary, id)
	writeClient(t, secondary, id)
	if err := primary.AddLabels(ctx, id, fleet.SystemOwner, []string{"managed"}); err != nil {
		t.Fatalf("add system label: %v", err)
	}
	if err := primary.AddLabels(ctx, id, "alice", []string{"managed", "canary"}); err != nil {
		t.Fatalf("add user labels: %v", err)
	}

	recorder := newRecorder(audit.Discard{})
	results := manager.Remove(ctx, recorder, "alice", []clientid.ID{id}, []string{"managed", "canary"})
	if results[0].Outcome != fleet.OutcomeMigrated {
		t.Fatalf("result = %+v", results[0])
	}

	labels, err := primary.Labels(ctx, id)
	if err != nil {
		t.Fatalf("labels: %v", err)
	}
	if len(labels) != 1 || !labels[0].System || labels[0].Name != "managed" {
		t.Errorf("surviving labels = %+v, want only the system label", labels)
	}
}

func TestNoSecondaryIsMigrated(t *testing.T) {
	ctx := context.Background()
	primary, _ := openStores(t)
	manager := New(primary, nil, testutil.Logger())

	id := clientid.MustParse("C.1000000000000005")
	writeClient(t, primary, id)

	recorder := newRecorder(audit.Discard{})
	results := manager.Add(ctx, recorder, "alice", []clientid.ID{id}, []string{"canary"})
	if results[0].Outcome != fleet.OutcomeMigrated {
		t.Errorf("result without secondary = %+v, want migrated", results[0])
	}
}
