// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package storetest holds the backend conformance suite. Both storage
// backends must pass it unchanged: identical stored data must produce
// identical reads, orderings, and missing-record behavior, so that
// search and label results never depend on which backend served them.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/thehotelbravo/warden/lib/clientid"
	"github.com/thehotelbravo/warden/lib/keyword"
	"github.com/thehotelbravo/warden/lib/schema/fleet"
	"github.com/thehotelbravo/warden/lib/store"
)

// Factory creates a fresh, empty store for one subtest. Cleanup runs
// via t.Cleanup inside the factory.
type Factory func(t *testing.T) store.Store

// Run executes the conformance suite against the factory's backend.
func Run(t *testing.T, factory Factory) {
	t.Run("SnapshotRoundTrip", func(t *testing.T) { testSnapshotRoundTrip(t, factory) })
	t.Run("ClientInfoAt", func(t *testing.T) { testClientInfoAt(t, factory) })
	t.Run("MultiClientInfoSkipsUnknown", func(t *testing.T) { testMultiClientInfo(t, factory) })
	t.Run("SnapshotHistoryOrdering", func(t *testing.T) { testSnapshotHistory(t, factory) })
	t.Run("MetadataLifecycle", func(t *testing.T) { testMetadata(t, factory) })
	t.Run("LabelLifecycle", func(t *testing.T) { testLabels(t, factory) })
	t.Run("SystemLabelProtection", func(t *testing.T) { testSystemLabels(t, factory) })
	t.Run("LabelPostingMaintenance", func(t *testing.T) { testLabelPostings(t, factory) })
	t.Run("AddLabelsUnknownClient", func(t *testing.T) { testAddLabelsUnknown(t, factory) })
	t.Run("RemoveLabelsUnknownClient", func(t *testing.T) { testRemoveLabelsUnknown(t, factory) })
	t.Run("KeywordIntersection", func(t *testing.T) { testKeywordIntersection(t, factory) })
	t.Run("EmptyKeywordSetMatchesAll", func(t *testing.T) { testEmptyKeywords(t, factory) })
	t.Run("KeywordsAreAdditive", func(t *testing.T) { testKeywordsAdditive(t, factory) })
	t.Run("StatHistory", func(t *testing.T) { testStatHistory(t, factory) })
	t.Run("StatsRegisterClient", func(t *testing.T) { testStatsRegisterClient(t, factory) })
	t.Run("CrashLifecycle", func(t *testing.T) { testCrashes(t, factory) })
	t.Run("ActionRequests", func(t *testing.T) { testActionRequests(t, factory) })
	t.Run("MissingClientErrors", func(t *testing.T) { testMissingClient(t, factory) })
}

// idComparer lets cmp compare the opaque client ID type.
var idComparer = cmp.Comparer(func(a, b clientid.ID) bool { return a == b })

func mustID(t *testing.T, raw string) clientid.ID {
	t.Helper()
	id, err := clientid.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return id
}

// snapshot builds a realistic snapshot for client n at the given
// timestamp. Content varies with n so digests differ across clients.
func snapshot(n int, timestamp int64) *fleet.ClientSnapshot {
	id := clientid.MustParse(fmt.Sprintf("C.%016x", 0x1000000000000000+n))
	return &fleet.ClientSnapshot{
		ClientID:  id,
		Timestamp: timestamp,
		Hostname:  fmt.Sprintf("web-%d", n),
		FQDN:      fmt.Sprintf("web-%d.prod.example.com", n),
		System:    "Linux",
		OSRelease: "Ubuntu",
		OSVersion: "24.04",
		Users: []fleet.User{
			{Username: fmt.Sprintf("operator%d", n), FullName: "On-Call Operator", HomeDir: "/home/operator"},
		},
		Interfaces: []fleet.NetworkInterface{
			{Name: "eth0", MAC: fmt.Sprintf("aa:bb:cc:dd:ee:%02x", n), Addresses: []string{"10.0.0.7"}},
		},
	}
}

func testSnapshotRoundTrip(t *testing.T, factory Factory) {
	ctx := context.Background()
	s := factory(t)

	want := snapshot(1, 5000)
	if err := s.WriteSnapshot(ctx, want); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}

	info, err := s.ClientInfo(ctx, want.ClientID)
	if err != nil {
		t.Fatalf("client info: %v", err)
	}
	if diff := cmp.Diff(want, info.Snapshot, idComparer); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
	if info.Metadata.FirstSeenAt == nil || *info.Metadata.FirstSeenAt != 5000 {
		t.Errorf("FirstSeenAt = %v, want 5000", info.Metadata.FirstSeenAt)
	}
	if info.Metadata.LastSeenAt == nil || *info.Metadata.LastSeenAt != 5000 {
		t.Errorf("LastSeenAt = %v, want 5000", info.Metadata.LastSeenAt)
	}

	// A later snapshot advances last-seen but keeps first-seen.
	later := snapshot(1, 9000)
	if err := s.WriteSnapshot(ctx, later); err != nil {
		t.Fatalf("write later snapshot: %v", err)
	}
	info, err = s.ClientInfo(ctx, want.ClientID)
	if err != nil {
		t.Fatalf("client info after second write: %v", err)
	}
	if info.Snapshot.Timestamp != 9000 {
		t.Errorf("latest snapshot timestamp = %d, want 9000", info.Snapshot.Timestamp)
	}
	if *info.Metadata.FirstSeenAt != 5000 {
		t.Errorf("FirstSeenAt moved to %d after later write", *info.Metadata.FirstSeenAt)
	}
	if *info.Metadata.LastSeenAt != 9000 {
		t.Errorf("LastSeenAt = %d, want 9000", *info.Metadata.LastSeenAt)
	}
}

func testClientInfoAt(t *testing.T, factory Factory) {
	ctx := context.Background()
	s := factory(t)

	id := snapshot(1, 0).ClientID
	for _, ts := range []int64{1000, 2000, 3000} {
		if err := s.WriteSnapshot(ctx, snapshot(1, ts)); err != nil {
			t.Fatalf("write snapshot at %d: %v", ts, err)
		}
	}

	cases := []struct {
		name string
		asOf int64
		want int64
	}{
		{"exact match", 2000, 2000},
		{"between snapshots", 2500, 2000},
		{"after newest", 9999, 3000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			info, err := s.ClientInfoAt(ctx, id, tc.asOf)
			if err != nil {
				t.Fatalf("client info at %d: %v", tc.asOf, err)
			}
			if info.Snapshot == nil || info.Snapshot.Timestamp != tc.want {
				t.Errorf("snapshot at %d = %v, want timestamp %d", tc.asOf, info.Snapshot, tc.want)
			}
		})
	}

	// Before the first snapshot there is nothing to serve, but the
	// client itself is known.
	info, err := s.ClientInfoAt(ctx, id, 500)
	if err != nil {
		t.Fatalf("client info before first snapshot: %v", err)
	}
	if info.Snapshot != nil {
		t.Errorf("snapshot before first write = %+v, want nil", info.Snapshot)
	}
}

func testMultiClientInfo(t *testing.T, factory Factory) {
	ctx := context.Background()
	s := factory(t)

	for n := 1; n <= 3; n++ {
		if err := s.WriteSnapshot(ctx, snapshot(n, 1000)); err != nil {
			t.Fatalf("write snapshot %d: %v", n, err)
		}
	}
	known := snapshot(2, 0).ClientID
	unknown := mustID(t, "C.00000000000000ff")

	result, err := s.MultiClientInfo(ctx, []clientid.ID{known, unknown})
	if err != nil {
		t.Fatalf("multi client info: %v", err)
	}
	if len(result) != 1 {
		t.Fatalf("got %d results, want 1", len(result))
	}
	if _, ok := result[known]; !ok {
		t.Errorf("known client missing from result")
	}
}

func testSnapshotHistory(t *testing.T, factory Factory) {
	ctx := context.Background()
	s := factory(t)

	id := snapshot(1, 0).ClientID
	for _, ts := range []int64{1000, 2000, 3000, 4000} {
		if err := s.WriteSnapshot(ctx, snapshot(1, ts)); err != nil {
			t.Fatalf("write snapshot at %d: %v", ts, err)
		}
	}

	history, err := s.SnapshotHistory(ctx, id, 2000, 3500)
	if err != nil {
		t.Fatalf("snapshot history: %v", err)
	}
	var got []int64
	for _, snap := range history {
		got = append(got, snap.Timestamp)
	}
	if diff := cmp.Diff([]int64{3000, 2000}, got); diff != "" {
		t.Errorf("history timestamps (-want +got):\n%s", diff)
	}
}

func testMetadata(t *testing.T, factory Factory) {
	ctx := context.Background()
	s := factory(t)

	id := mustID(t, "C.1000000000000001")
	booted := int64(42)
	want := fleet.ClientMetadata{
		LastBootedAt: &booted,
		LastIP:       "203.0.113.9",
	}
	if err := s.SetMetadata(ctx, id, want); err != nil {
		t.Fatalf("set metadata: %v", err)
	}
	got, err := s.Metadata(ctx, id)
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("metadata mismatch (-want +got):\n%s", diff)
	}
}

func testLabels(t *testing.T, factory Factory) {
	ctx := context.Background()
	s := factory(t)

	id := snapshot(1, 0).ClientID
	if err := s.WriteSnapshot(ctx, snapshot(1, 1000)); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}

	if err := s.AddLabels(ctx, id, "alice", []string{"staging", "canary"}); err != nil {
		t.Fatalf("add labels: %v", err)
	}
	// Duplicate add is a no-op.
	if err := s.AddLabels(ctx, id, "alice", []string{"canary"}); err != nil {
		t.Fatalf("re-add label: %v", err)
	}
	if err := s.AddLabels(ctx, id, "bob", []string{"canary"}); err != nil {
		t.Fatalf("add label second owner: %v", err)
	}

	labels, err := s.Labels(ctx, id)
	if err != nil {
		t.Fatalf("labels: %v", err)
	}
	want := []fleet.Label{
		{Name: "canary", Owner: "alice"},
		{Name: "canary", Owner: "bob"},
		{Name: "staging", Owner: "alice"},
	}
	if diff := cmp.Diff(want, labels); diff != "" {
		t.Errorf("labels (-want +got):\n%s", diff)
	}

	names, err := s.AllLabelNames(ctx)
	if err != nil {
		t.Fatalf("all label names: %v", err)
	}
	if diff := cmp.Diff([]string{"canary", "staging"}, names); diff != "" {
		t.Errorf("label names (-want +got):\n%s", diff)
	}

	if err := s.RemoveLabels(ctx, id, []string{"canary"}); err != nil {
		t.Fatalf("remove labels: %v", err)
	}
	labels, err = s.Labels(ctx, id)
	if err != nil {
		t.Fatalf("labels after removal: %v", err)
	}
	want = []fleet.Label{{Name: "staging", Owner: "alice"}}
	if diff := cmp.Diff(want, labels); diff != "" {
		t.Errorf("labels after removal (-want +got):\n%s", diff)
	}
}

func testSystemLabels(t *testing.T, factory Factory) {
	ctx := context.Background()
	s := factory(t)

	id := snapshot(1, 0).ClientID
	if err := s.WriteSnapshot(ctx, snapshot(1, 1000)); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}
	if err := s.AddLabels(ctx, id, fleet.SystemOwner, []string{"fleet-managed"}); err != nil {
		t.Fatalf("add system label: %v", err)
	}
	labels, err := s.Labels(ctx, id)
	if err != nil {
		t.Fatalf("labels: %v", err)
	}
	if len(labels) != 1 || !labels[0].System {
		t.Fatalf("system label not stamped: %+v", labels)
	}

	// Removal must not touch system labels.
	if err := s.RemoveLabels(ctx, id, []string{"fleet-managed"}); err != nil {
		t.Fatalf("remove labels: %v", err)
	}
	labels, err = s.Labels(ctx, id)
	if err != nil {
		t.Fatalf("labels after removal: %v", err)
	}
	if len(labels) != 1 {
		t.Errorf("system label removed: %+v", labels)
	}
	// Its posting survives too.
	ids, err := s.LookupKeywords(ctx, []string{keyword.ForLabel("fleet-managed")})
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if len(ids) != 1 {
		t.Errorf("system label posting gone, lookup returned %v", ids)
	}
}

func testLabelPostings(t *testing.T, factory Factory) {
	ctx := context.Background()
	s := factory(t)

	id := snapshot(1, 0).ClientID
	if err := s.WriteSnapshot(ctx, snapshot(1, 1000)); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}
	if err := s.AddLabels(ctx, id, "alice", []string{"canary"}); err != nil {
		t.Fatalf("add alice label: %v", err)
	}
	if err := s.AddLabels(ctx, id, "bob", []string{"canary"}); err != nil {
		t.Fatalf("add bob label: %v", err)
	}

	token := keyword.ForLabel("canary")

	// Removing the name deletes both owners' labels at once, so the
	// posting goes with them.
	if err := s.RemoveLabels(ctx, id, []string{"canary"}); err != nil {
		t.Fatalf("remove: %v", err)
	}
	ids, err := s.LookupKeywords(ctx, []string{token})
	if err != nil {
		t.Fatalf("lookup after removal: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("posting survived with no labels left: %v", ids)
	}
}

func testAddLabelsUnknown(t *testing.T, factory Factory) {
	ctx := context.Background()
	s := factory(t)

	err := s.AddLabels(ctx, mustID(t, "C.00000000000000aa"), "alice", []string{"canary"})
	if !errors.Is(err, store.ErrClientNotFound) {
		t.Errorf("AddLabels on unknown client = %v, want ErrClientNotFound", err)
	}
}

func testRemoveLabelsUnknown(t *testing.T, factory Factory) {
	ctx := context.Background()
	s := factory(t)

	err := s.RemoveLabels(ctx, mustID(t, "C.00000000000000aa"), []string{"canary"})
	if !errors.Is(err, store.ErrClientNotFound) {
		t.Errorf("RemoveLabels on unknown client = %v, want ErrClientNotFound", err)
	}
}

func testKeywordIntersection(t *testing.T, factory Factory) {
	ctx := context.Background()
	s := factory(t)

	// Client 1 and 2 share the OS keywords; hostnames differ.
	for n := 1; n <= 2; n++ {
		if err := s.WriteSnapshot(ctx, snapshot(n, 1000)); err != nil {
			t.Fatalf("write snapshot %d: %v", n, err)
		}
	}

	ids, err := s.LookupKeywords(ctx, []string{"linux", "web-1"})
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if len(ids) != 1 || ids[0] != snapshot(1, 0).ClientID {
		t.Errorf("intersection = %v, want exactly client 1", ids)
	}

	// A keyword with no postings empties the intersection.
	ids, err = s.LookupKeywords(ctx, []string{"linux", "no-such-token"})
	if err != nil {
		t.Fatalf("lookup with unknown token: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("intersection with unknown token = %v, want empty", ids)
	}

	// Shared keyword alone matches both, ascending.
	ids, err = s.LookupKeywords(ctx, []string{"linux"})
	if err != nil {
		t.Fatalf("lookup shared token: %v", err)
	}
	want := []clientid.ID{snapshot(1, 0).ClientID, snapshot(2, 0).ClientID}
	if diff := cmp.Diff(want, ids, idComparer); diff != "" {
		t.Errorf("shared lookup (-want +got):\n%s", diff)
	}
}

func testEmptyKeywords(t *testing.T, factory Factory) {
	ctx := context.Background()
	s := factory(t)

	for n := 3; n >= 1; n-- {
		if err := s.WriteSnapshot(ctx, snapshot(n, 1000)); err != nil {
			t.Fatalf("write snapshot %d: %v", n, err)
		}
	}
	ids, err := s.LookupKeywords(ctx, nil)
	if err != nil {
		t.Fatalf("lookup with no keywords: %v", err)
	}
	all, err := s.AllClientIDs(ctx)
	if err != nil {
		t.Fatalf("all client ids: %v", err)
	}
	if len(ids) != 3 || len(all) != 3 {
		t.Fatalf("got %d lookup results and %d clients, want 3 and 3", len(ids), len(all))
	}
	for i := range ids {
		if ids[i] != all[i] {
			t.Errorf("position %d: lookup %s != all %s", i, ids[i], all[i])
		}
		if i > 0 && !ids[i-1].Less(ids[i]) {
			t.Errorf("ids out of ascending order at %d: %s, %s", i, ids[i-1], ids[i])
		}
	}
}

func testKeywordsAdditive(t *testing.T, factory Factory) {
	ctx := context.Background()
	s := factory(t)

	first := snapshot(1, 1000)
	if err := s.WriteSnapshot(ctx, first); err != nil {
		t.Fatalf("write first snapshot: %v", err)
	}

	// The client is renamed; the old hostname token must keep
	// matching.
	renamed := snapshot(1, 2000)
	renamed.Hostname = "db-1"
	renamed.FQDN = "db-1.prod.example.com"
	if err := s.WriteSnapshot(ctx, renamed); err != nil {
		t.Fatalf("write renamed snapshot: %v", err)
	}

	for _, token := range []string{"web-1", "db-1"} {
		ids, err := s.LookupKeywords(ctx, []string{token})
		if err != nil {
			t.Fatalf("lookup %q: %v", token, err)
		}
		if len(ids) != 1 {
			t.Errorf("lookup %q = %v, want the client", token, ids)
		}
	}
}

func testStatHistory(t *testing.T, factory Factory) {
	ctx := context.Background()
	s := factory(t)

	id := snapshot(1, 0).ClientID
	for _, ts := range []int64{1000, 2000, 3000} {
		stats := &fleet.StatSnapshot{
			ClientID:      id,
			Timestamp:     ts,
			MemoryPercent: float64(ts) / 100,
			CPUSamples: []fleet.CPUSample{
				{Timestamp: ts, Percent: 42.5},
			},
		}
		if err := s.WriteStats(ctx, stats); err != nil {
			t.Fatalf("write stats at %d: %v", ts, err)
		}
	}

	history, err := s.StatHistory(ctx, id, 1500, 3000)
	if err != nil {
		t.Fatalf("stat history: %v", err)
	}
	var got []int64
	for _, snap := range history {
		got = append(got, snap.Timestamp)
	}
	if diff := cmp.Diff([]int64{2000, 3000}, got); diff != "" {
		t.Errorf("stat timestamps (-want +got):\n%s", diff)
	}
	if len(history) > 0 && len(history[0].CPUSamples) != 1 {
		t.Errorf("CPU samples lost in round trip: %+v", history[0])
	}
}

// A client whose first contact is a stats upload has no snapshot yet,
// but it must still count as known: listed, readable, and labelable.
func testStatsRegisterClient(t *testing.T, factory Factory) {
	ctx := context.Background()
	s := factory(t)

	id := mustID(t, "C.1000000000000009")
	stats := &fleet.StatSnapshot{
		ClientID:      id,
		Timestamp:     1000,
		MemoryPercent: 12.5,
	}
	if err := s.WriteStats(ctx, stats); err != nil {
		t.Fatalf("write stats: %v", err)
	}

	all, err := s.AllClientIDs(ctx)
	if err != nil {
		t.Fatalf("all client ids: %v", err)
	}
	if len(all) != 1 || all[0] != id {
		t.Errorf("AllClientIDs = %v, want just %s", all, id)
	}

	info, err := s.ClientInfo(ctx, id)
	if err != nil {
		t.Fatalf("client info: %v", err)
	}
	if info.Snapshot != nil {
		t.Errorf("snapshot for stats-only client = %+v, want nil", info.Snapshot)
	}

	if err := s.AddLabels(ctx, id, "alice", []string{"canary"}); err != nil {
		t.Errorf("add label to stats-only client: %v", err)
	}

	ids, err := s.LookupKeywords(ctx, nil)
	if err != nil {
		t.Fatalf("lookup with no keywords: %v", err)
	}
	if len(ids) != 1 || ids[0] != id {
		t.Errorf("empty-keyword lookup = %v, want just %s", ids, id)
	}
}

func testCrashes(t *testing.T, factory Factory) {
	ctx := context.Background()
	s := factory(t)

	id := snapshot(1, 0).ClientID
	for _, ts := range []int64{1000, 3000, 2000} {
		crash := &fleet.ClientCrash{
			ClientID:  id,
			Timestamp: ts,
			Type:      "agent",
			Message:   "unhandled panic",
		}
		if err := s.WriteCrash(ctx, crash); err != nil {
			t.Fatalf("write crash at %d: %v", ts, err)
		}
	}

	crashes, err := s.Crashes(ctx, id)
	if err != nil {
		t.Fatalf("crashes: %v", err)
	}
	var got []int64
	for _, crash := range crashes {
		got = append(got, crash.Timestamp)
	}
	if diff := cmp.Diff([]int64{3000, 2000, 1000}, got); diff != "" {
		t.Errorf("crash timestamps (-want +got):\n%s", diff)
	}

	metadata, err := s.Metadata(ctx, id)
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if metadata.LastCrashAt == nil || *metadata.LastCrashAt != 3000 {
		t.Errorf("LastCrashAt = %v, want 3000", metadata.LastCrashAt)
	}
}

func testActionRequests(t *testing.T, factory Factory) {
	ctx := context.Background()
	s := factory(t)

	id := snapshot(1, 0).ClientID
	for _, taskID := range []uint64{30, 10, 20} {
		request := fleet.ActionRequest{
			TaskID:    taskID,
			SessionID: fmt.Sprintf("session-%d", taskID),
			Action:    "ListProcesses",
		}
		if err := s.WriteActionRequest(ctx, id, request); err != nil {
			t.Fatalf("write action request %d: %v", taskID, err)
		}
	}

	requests, err := s.ActionRequests(ctx, id)
	if err != nil {
		t.Fatalf("action requests: %v", err)
	}
	var got []uint64
	for _, request := range requests {
		got = append(got, request.TaskID)
	}
	if diff := cmp.Diff([]uint64{10, 20, 30}, got); diff != "" {
		t.Errorf("task order (-want +got):\n%s", diff)
	}
}

func testMissingClient(t *testing.T, factory Factory) {
	ctx := context.Background()
	s := factory(t)

	id := mustID(t, "C.00000000000000bb")
	if _, err := s.ClientInfo(ctx, id); !errors.Is(err, store.ErrClientNotFound) {
		t.Errorf("ClientInfo = %v, want ErrClientNotFound", err)
	}
	if _, err := s.Metadata(ctx, id); !errors.Is(err, store.ErrClientNotFound) {
		t.Errorf("Metadata = %v, want ErrClientNotFound", err)
	}

	// Collection reads on an unknown client are empty, not errors.
	if crashes, err := s.Crashes(ctx, id); err != nil || len(crashes) != 0 {
		t.Errorf("Crashes = %v, %v, want empty", crashes, err)
	}
	if history, err := s.SnapshotHistory(ctx, id, 0, 1<<62); err != nil || len(history) != 0 {
		t.Errorf("SnapshotHistory = %v, %v, want empty", history, err)
	}
}
