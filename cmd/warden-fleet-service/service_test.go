// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/thehotelbravo/warden/lib/clientid"
	"github.com/thehotelbravo/warden/lib/clock"
	"github.com/thehotelbravo/warden/lib/codec"
	"github.com/thehotelbravo/warden/lib/flow"
	"github.com/thehotelbravo/warden/lib/geoip"
	"github.com/thehotelbravo/warden/lib/labels"
	"github.com/thehotelbravo/warden/lib/schema/fleet"
	"github.com/thehotelbravo/warden/lib/search"
	"github.com/thehotelbravo/warden/lib/store"
	"github.com/thehotelbravo/warden/lib/store/boltstore"
	"github.com/thehotelbravo/warden/lib/store/relstore"
	"github.com/thehotelbravo/warden/lib/testutil"
)

type captureSink struct {
	events []fleet.AuditEvent
}

func (s *captureSink) Publish(_ context.Context, events []fleet.AuditEvent) error {
	s.events = append(s.events, events...)
	return nil
}

type testHarness struct {
	service   *FleetService
	store     store.Store
	secondary store.Store
	clock     *clock.FakeClock
	sink      *captureSink
}

// newHarness wires a FleetService on the given primary backend, with
// the other backend as mirror.
func newHarness(t *testing.T, backend string) *testHarness {
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

	primary, secondary := store.Store(rel), store.Store(legacy)
	if backend == "legacy" {
		primary, secondary = secondary, primary
	}

	resolver, err := geoip.New("")
	if err != nil {
		t.Fatalf("geoip: %v", err)
	}
	t.Cleanup(func() { resolver.Close() })

	fake := clock.Fake(time.Unix(100000, 0))
	sink := &captureSink{}
	harness := &testHarness{
		store:     primary,
		secondary: secondary,
		clock:     fake,
		sink:      sink,
	}
	harness.service = &FleetService{
		store:     primary,
		labels:    labels.New(primary, secondary, testutil.Logger()),
		engine:    search.New(primary),
		trigger:   flow.NewMemoryTrigger(fake, int64(3*time.Minute)),
		resolver:  resolver,
		auditSink: sink,
		restricted: map[string]search.Restriction{
			"analyst": {Names: []string{"canary"}, Owners: []string{"alice"}},
		},
		clock:     fake,
		logger:    testutil.Logger(),
		startedAt: fake.Now(),
	}
	return harness
}

// call invokes a handler with payload marshaled the way the socket
// layer would deliver it, decoding the result into response.
func call(t *testing.T, handler func(context.Context, []byte) (any, error), payload, response any) error {
	t.Helper()
	raw, err := codec.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	result, err := handler(context.Background(), raw)
	if err != nil {
		return err
	}
	if response != nil && result != nil {
		data, err := codec.Marshal(result)
		if err != nil {
			t.Fatalf("marshal result: %v", err)
		}
		if err := codec.Unmarshal(data, response); err != nil {
			t.Fatalf("unmarshal result: %v", err)
		}
	}
	return nil
}

func (h *testHarness) writeClient(t *testing.T, n int, hostname string) clientid.ID {
	t.Helper()
	snapshot := &fleet.ClientSnapshot{
		ClientID:  clientID(n),
		Timestamp: h.clock.Now().UnixNano(),
		Hostname:  hostname,
		System:    "Linux",
	}
	if err := h.store.WriteSnapshot(context.Background(), snapshot); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}
	return clientID(n)
}

func clientID(n int) clientid.ID {
	return clientid.MustParse(fmt.Sprintf("C.%016x", 0x3000000000000000+n))
}

func backends(t *testing.T, test func(*testing.T, *testHarness)) {
	for _, backend := range []string{"relational", "legacy"} {
		t.Run(backend, func(t *testing.T) {
			test(t, newHarness(t, backend))
		})
	}
}

func TestSearchReturnsFullRecords(t *testing.T) {
	backends(t, func(t *testing.T, h *testHarness) {
		h.writeClient(t, 1, "web-1")
		h.writeClient(t, 2, "web-2")

		var response fleet.SearchClientsResponse
		err := call(t, h.service.handleSearch, fleet.SearchClientsRequest{Query: "linux"}, &response)
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if len(response.Clients) != 2 {
			t.Fatalf("got %d clients, want 2", len(response.Clients))
		}
		if response.Clients[0].Snapshot == nil || response.Clients[0].Snapshot.Hostname != "web-1" {
			t.Errorf("first result = %+v", response.Clients[0])
		}
		if response.Clients[1].Snapshot.Hostname != "web-2" {
			t.Errorf("second result = %+v", response.Clients[1])
		}
	})
}

func TestSearchPaginates(t *testing.T) {
	backends(t, func(t *testing.T, h *testHarness) {
		for n := 1; n <= 5; n++ {
			h.writeClient(t, n, "web")
		}
		var response fleet.SearchClientsResponse
		err := call(t, h.service.handleSearch, fleet.SearchClientsRequest{Query: "web", Offset: 2, Count: 2}, &response)
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if len(response.Clients) != 2 {
			t.Fatalf("page size = %d, want 2", len(response.Clients))
		}
		if response.Clients[0].ClientID != clientID(3) {
			t.Errorf("page starts at %s, want client 3", response.Clients[0].ClientID)
		}
	})
}

func TestRestrictedSearchRequiresAllowlist(t *testing.T) {
	backends(t, func(t *testing.T, h *testHarness) {
		h.writeClient(t, 1, "web-1")
		err := call(t, h.service.handleRestrictedSearch,
			fleet.RestrictedSearchRequest{Query: "linux", Requestor: "stranger"}, nil)
		if err == nil {
			t.Fatal("restricted search for unlisted requestor succeeded")
		}
	})
}

func TestRestrictedSearchVerifiesOwner(t *testing.T) {
	backends(t, func(t *testing.T, h *testHarness) {
		ctx := context.Background()
		allowed := h.writeClient(t, 1, "web-1")
		decoy := h.writeClient(t, 2, "web-2")
		if err := h.store.AddLabels(ctx, allowed, "alice", []string{"canary"}); err != nil {
			t.Fatalf("add label: %v", err)
		}
		if err := h.store.AddLabels(ctx, decoy, "mallory", []string{"canary"}); err != nil {
			t.Fatalf("add decoy label: %v", err)
		}

		var response fleet.SearchClientsResponse
		err := call(t, h.service.handleRestrictedSearch,
			fleet.RestrictedSearchRequest{Query: "linux", Requestor: "analyst"}, &response)
		if err != nil {
			t.Fatalf("restricted search: %v", err)
		}
		if len(response.Clients) != 1 || response.Clients[0].ClientID != allowed {
			t.Errorf("restricted results = %+v, want only the alice-labeled client", response.Clients)
		}
	})
}

func TestGetClientAtTimestamp(t *testing.T) {
	backends(t, func(t *testing.T, h *testHarness) {
		id := h.writeClient(t, 1, "old-name")
		earlier := h.clock.Now().UnixNano()
		h.clock.Advance(time.Hour)
		h.writeClient(t, 1, "new-name")

		var response fleet.GetClientResponse
		err := call(t, h.service.handleGet, fleet.GetClientRequest{ClientID: id, Timestamp: &earlier}, &response)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if response.Client.Snapshot.Hostname != "old-name" {
			t.Errorf("snapshot at %d = %q, want old-name", earlier, response.Client.Snapshot.Hostname)
		}

		err = call(t, h.service.handleGet, fleet.GetClientRequest{ClientID: id}, &response)
		if err != nil {
			t.Fatalf("get latest: %v", err)
		}
		if response.Client.Snapshot.Hostname != "new-name" {
			t.Errorf("latest snapshot = %q, want new-name", response.Client.Snapshot.Hostname)
		}
	})
}

func TestGetUnknownClient(t *testing.T) {
	backends(t, func(t *testing.T, h *testHarness) {
		err := call(t, h.service.handleGet,
			fleet.GetClientRequest{ClientID: clientid.MustParse("C.00000000000000aa")}, nil)
		if err == nil {
			t.Fatal("get for unknown client succeeded")
		}
	})
}

func TestVersionsDefaultWindow(t *testing.T) {
	backends(t, func(t *testing.T, h *testHarness) {
		id := h.writeClient(t, 1, "web-1")
		// Outside the 3-minute lookback once the clock advances.
		h.clock.Advance(10 * time.Minute)
		h.writeClient(t, 1, "web-1-renamed")

		var response fleet.VersionsResponse
		err := call(t, h.service.handleVersions, fleet.VersionsRequest{ClientID: id}, &response)
		if err != nil {
			t.Fatalf("versions: %v", err)
		}
		if len(response.Snapshots) != 1 {
			t.Fatalf("default window returned %d snapshots, want 1", len(response.Snapshots))
		}
		if response.Snapshots[0].Hostname != "web-1-renamed" {
			t.Errorf("snapshot = %+v", response.Snapshots[0])
		}
	})
}

func TestVersionsChangesOnly(t *testing.T) {
	backends(t, func(t *testing.T, h *testHarness) {
		// Identical, identical, changed, identical: three versions
		// survive changes-only (the first occurrence of each run).
		id := h.writeClient(t, 1, "web-1")
		h.clock.Advance(time.Second)
		h.writeClient(t, 1, "web-1")
		h.clock.Advance(time.Second)
		h.writeClient(t, 1, "renamed")
		h.clock.Advance(time.Second)
		h.writeClient(t, 1, "renamed")

		request := fleet.VersionsRequest{ClientID: id, Start: 1, End: h.clock.Now().UnixNano(), ChangesOnly: true}
		var response fleet.VersionsResponse
		if err := call(t, h.service.handleVersions, request, &response); err != nil {
			t.Fatalf("versions: %v", err)
		}
		if len(response.Snapshots) != 2 {
			t.Fatalf("changes-only returned %d snapshots, want 2", len(response.Snapshots))
		}
		// Newest first: the rename survives, then the original.
		if response.Snapshots[0].Hostname != "renamed" || response.Snapshots[1].Hostname != "web-1" {
			t.Errorf("snapshots = %q, %q", response.Snapshots[0].Hostname, response.Snapshots[1].Hostname)
		}
	})
}

func TestVersionTimes(t *testing.T) {
	backends(t, func(t *testing.T, h *testHarness) {
		id := h.writeClient(t, 1, "web-1")
		first := h.clock.Now().UnixNano()
		h.clock.Advance(time.Minute)
		h.writeClient(t, 1, "web-1")
		second := h.clock.Now().UnixNano()

		var response fleet.VersionTimesResponse
		if err := call(t, h.service.handleVersionTimes, fleet.VersionTimesRequest{ClientID: id}, &response); err != nil {
			t.Fatalf("version times: %v", err)
		}
		if len(response.Times) != 2 || response.Times[0] != second || response.Times[1] != first {
			t.Errorf("times = %v, want [%d %d]", response.Times, second, first)
		}
	})
}

func TestInterrogateLifecycle(t *testing.T) {
	backends(t, func(t *testing.T, h *testHarness) {
		id := h.writeClient(t, 1, "web-1")

		var started fleet.InterrogateResponse
		err := call(t, h.service.handleInterrogate,
			fleet.InterrogateRequest{ClientID: id, Requestor: "alice"}, &started)
		if err != nil {
			t.Fatalf("interrogate: %v", err)
		}

		var state fleet.InterrogateStateResponse
		err = call(t, h.service.handleInterrogateState,
			fleet.InterrogateStateRequest{OperationID: started.OperationID}, &state)
		if err != nil {
			t.Fatalf("state: %v", err)
		}
		if state.State != fleet.OperationRunning {
			t.Errorf("state = %q, want running", state.State)
		}

		h.clock.Advance(5 * time.Minute)
		err = call(t, h.service.handleInterrogateState,
			fleet.InterrogateStateRequest{OperationID: started.OperationID}, &state)
		if err != nil {
			t.Fatalf("state after advance: %v", err)
		}
		if state.State != fleet.OperationFinished {
			t.Errorf("state = %q, want finished", state.State)
		}
	})
}

func TestInterrogateUnknownClient(t *testing.T) {
	backends(t, func(t *testing.T, h *testHarness) {
		err := call(t, h.service.handleInterrogate,
			fleet.InterrogateRequest{ClientID: clientid.MustParse("C.00000000000000aa")}, nil)
		if err == nil {
			t.Fatal("interrogate of unknown client succeeded")
		}
	})
}

func TestLastIP(t *testing.T) {
	backends(t, func(t *testing.T, h *testHarness) {
		ctx := context.Background()
		id := h.writeClient(t, 1, "web-1")
		metadata, err := h.store.Metadata(ctx, id)
		if err != nil {
			t.Fatalf("metadata: %v", err)
		}
		metadata.LastIP = "10.0.0.9"
		if err := h.store.SetMetadata(ctx, id, metadata); err != nil {
			t.Fatalf("set metadata: %v", err)
		}

		var response fleet.LastIPResponse
		if err := call(t, h.service.handleLastIP, fleet.LastIPRequest{ClientID: id}, &response); err != nil {
			t.Fatalf("last ip: %v", err)
		}
		if response.IP != "10.0.0.9" || response.Status != geoip.StatusInternal {
			t.Errorf("response = %+v", response)
		}
	})
}

func TestLastIPUnknown(t *testing.T) {
	backends(t, func(t *testing.T, h *testHarness) {
		id := h.writeClient(t, 1, "web-1")
		var response fleet.LastIPResponse
		if err := call(t, h.service.handleLastIP, fleet.LastIPRequest{ClientID: id}, &response); err != nil {
			t.Fatalf("last ip: %v", err)
		}
		if response.Status != geoip.StatusUnknown || response.IP != "" {
			t.Errorf("response = %+v, want unknown with no address", response)
		}
	})
}

func TestCrashesPagination(t *testing.T) {
	backends(t, func(t *testing.T, h *testHarness) {
		ctx := context.Background()
		id := h.writeClient(t, 1, "web-1")
		for i := 1; i <= 5; i++ {
			crash := &fleet.ClientCrash{
				ClientID:  id,
				Timestamp: int64(i * 1000),
				Type:      "agent",
			}
			if err := h.store.WriteCrash(ctx, crash); err != nil {
				t.Fatalf("write crash: %v", err)
			}
		}

		var response fleet.CrashesResponse
		err := call(t, h.service.handleCrashes, fleet.CrashesRequest{ClientID: id, Offset: 1, Count: 2}, &response)
		if err != nil {
			t.Fatalf("crashes: %v", err)
		}
		if response.TotalCount != 5 {
			t.Errorf("total = %d, want 5", response.TotalCount)
		}
		if len(response.Crashes) != 2 || response.Crashes[0].Timestamp != 4000 || response.Crashes[1].Timestamp != 3000 {
			t.Errorf("page = %+v", response.Crashes)
		}
	})
}

func TestAddAndRemoveLabels(t *testing.T) {
	backends(t, func(t *testing.T, h *testHarness) {
		ctx := context.Background()
		id := h.writeClient(t, 1, "web-1")
		// Present on the mirror too, so the outcome is migrated.
		snapshot := &fleet.ClientSnapshot{ClientID: id, Timestamp: 1000, Hostname: "web-1"}
		if err := h.secondary.WriteSnapshot(ctx, snapshot); err != nil {
			t.Fatalf("mirror snapshot: %v", err)
		}

		var response fleet.MutateLabelsResponse
		err := call(t, h.service.handleAddLabels, fleet.AddLabelsRequest{
			ClientIDs: []clientid.ID{id},
			Labels:    []string{"canary"},
			Requestor: "alice",
		}, &response)
		if err != nil {
			t.Fatalf("add labels: %v", err)
		}
		if len(response.Results) != 1 || response.Results[0].Outcome != fleet.OutcomeMigrated {
			t.Fatalf("results = %+v", response.Results)
		}
		if len(h.sink.events) != 1 || h.sink.events[0].Action != fleet.AuditClientAddLabel {
			t.Errorf("audit events = %+v", h.sink.events)
		}

		var names fleet.ListLabelsResponse
		if err := call(t, h.service.handleListLabels, struct{}{}, &names); err != nil {
			t.Fatalf("list labels: %v", err)
		}
		if len(names.Names) != 1 || names.Names[0] != "canary" {
			t.Errorf("names = %v", names.Names)
		}

		err = call(t, h.service.handleRemoveLabels, fleet.RemoveLabelsRequest{
			ClientIDs: []clientid.ID{id},
			Labels:    []string{"canary"},
			Requestor: "alice",
		}, &response)
		if err != nil {
			t.Fatalf("remove labels: %v", err)
		}
		if len(h.sink.events) != 2 || h.sink.events[1].Action != fleet.AuditClientRemoveLabel {
			t.Errorf("audit events after removal = %+v", h.sink.events)
		}

		labelsLeft, err := h.store.Labels(ctx, id)
		if err != nil {
			t.Fatalf("labels: %v", err)
		}
		if len(labelsLeft) != 0 {
			t.Errorf("labels remain: %+v", labelsLeft)
		}
	})
}

func TestMutationValidation(t *testing.T) {
	backends(t, func(t *testing.T, h *testHarness) {
		id := h.writeClient(t, 1, "web-1")
		cases := []struct {
			name    string
			request fleet.AddLabelsRequest
		}{
			{"no clients", fleet.AddLabelsRequest{Labels: []string{"x"}, Requestor: "alice"}},
			{"no labels", fleet.AddLabelsRequest{ClientIDs: []clientid.ID{id}, Requestor: "alice"}},
			{"blank label", fleet.AddLabelsRequest{ClientIDs: []clientid.ID{id}, Labels: []string{"  "}, Requestor: "alice"}},
			{"no requestor", fleet.AddLabelsRequest{ClientIDs: []clientid.ID{id}, Labels: []string{"x"}}},
			{"system requestor", fleet.AddLabelsRequest{ClientIDs: []clientid.ID{id}, Labels: []string{"x"}, Requestor: fleet.SystemOwner}},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				if err := call(t, h.service.handleAddLabels, tc.request, nil); err == nil {
					t.Error("invalid request accepted")
				}
			})
		}
	})
}

func TestKbFields(t *testing.T) {
	backends(t, func(t *testing.T, h *testHarness) {
		var response fleet.KbFieldsResponse
		if err := call(t, h.service.handleKbFields, struct{}{}, &response); err != nil {
			t.Fatalf("kb fields: %v", err)
		}
		if len(response.Fields) == 0 {
			t.Fatal("no knowledge base fields")
		}
		for i := 1; i < len(response.Fields); i++ {
			if response.Fields[i-1] >= response.Fields[i] {
				t.Errorf("fields not sorted at %d: %q, %q", i, response.Fields[i-1], response.Fields[i])
			}
		}
	})
}

func TestActionRequests(t *testing.T) {
	backends(t, func(t *testing.T, h *testHarness) {
		ctx := context.Background()
		id := h.writeClient(t, 1, "web-1")
		for task := uint64(1); task <= 3; task++ {
			request := fleet.ActionRequest{TaskID: task, Action: "ListProcesses"}
			if err := h.store.WriteActionRequest(ctx, id, request); err != nil {
				t.Fatalf("write action request: %v", err)
			}
		}

		var response fleet.ActionRequestsResponse
		if err := call(t, h.service.handleActionRequests, fleet.ActionRequestsRequest{ClientID: id}, &response); err != nil {
			t.Fatalf("action requests: %v", err)
		}
		if len(response.Requests) != 3 || response.Requests[0].TaskID != 1 {
			t.Errorf("requests = %+v", response.Requests)
		}
	})
}

func TestLoadStats(t *testing.T) {
	backends(t, func(t *testing.T, h *testHarness) {
		ctx := context.Background()
		id := h.writeClient(t, 1, "web-1")
		base := h.clock.Now().UnixNano()
		for i := int64(0); i < 3; i++ {
			stats := &fleet.StatSnapshot{
				ClientID:      id,
				Timestamp:     base - int64(time.Minute) + i*int64(time.Second),
				MemoryPercent: float64(10 * (i + 1)),
			}
			if err := h.store.WriteStats(ctx, stats); err != nil {
				t.Fatalf("write stats: %v", err)
			}
		}

		var response fleet.LoadStatsResponse
		request := fleet.LoadStatsRequest{ClientID: id, Metric: string(fleet.MetricMemoryPercent)}
		if err := call(t, h.service.handleLoadStats, request, &response); err != nil {
			t.Fatalf("load stats: %v", err)
		}
		if len(response.Points) != 3 {
			t.Fatalf("got %d points, want 3", len(response.Points))
		}
		if response.Points[0].Value != 10 || response.Points[2].Value != 30 {
			t.Errorf("points = %+v", response.Points)
		}
	})
}

func TestLoadStatsUnknownMetric(t *testing.T) {
	backends(t, func(t *testing.T, h *testHarness) {
		id := h.writeClient(t, 1, "web-1")
		request := fleet.LoadStatsRequest{ClientID: id, Metric: "bogus"}
		if err := call(t, h.service.handleLoadStats, request, nil); err == nil {
			t.Fatal("unknown metric accepted")
		}
	})
}

func TestIngestAndStatus(t *testing.T) {
	backends(t, func(t *testing.T, h *testHarness) {
		id := clientid.MustParse("C.4000000000000001")
		snapshot := &fleet.ClientSnapshot{
			ClientID: id,
			Hostname: "ingested",
		}
		crash := &fleet.ClientCrash{
			ClientID: id,
			Type:     "agent",
			Message:  "unhandled panic",
		}
		err := call(t, h.service.handleIngest, fleet.IngestRequest{Snapshot: snapshot, Crash: crash}, nil)
		if err != nil {
			t.Fatalf("ingest: %v", err)
		}

		var status fleet.StatusResponse
		if err := call(t, h.service.handleStatus, struct{}{}, &status); err != nil {
			t.Fatalf("status: %v", err)
		}
		if status.ClientCount != 1 {
			t.Errorf("client count = %d, want 1", status.ClientCount)
		}
		if status.Backend != h.store.Backend() {
			t.Errorf("backend = %q, want %q", status.Backend, h.store.Backend())
		}

		// The ingest stamped the service clock's time.
		info, err := h.store.ClientInfo(context.Background(), id)
		if err != nil {
			t.Fatalf("client info: %v", err)
		}
		if info.Snapshot.Timestamp != h.clock.Now().UnixNano() {
			t.Errorf("snapshot timestamp = %d, want clock time", info.Snapshot.Timestamp)
		}
		if info.Metadata.LastCrashAt == nil {
			t.Error("crash did not update metadata")
		}
	})
}

func TestIngestRejectsBadClientID(t *testing.T) {
	backends(t, func(t *testing.T, h *testHarness) {
		// A malformed wire ID fails request decoding.
		payload := map[string]any{"snapshot": map[string]any{"client_id": "not-a-client"}}
		if err := call(t, h.service.handleIngest, payload, nil); err == nil {
			t.Fatal("malformed client ID accepted")
		}
		// A missing ID decodes to the zero value and is rejected by the
		// handler.
		if err := call(t, h.service.handleIngest, fleet.IngestRequest{Snapshot: &fleet.ClientSnapshot{}}, nil); err == nil {
			t.Fatal("missing client ID accepted")
		}
	})
}

func TestIngestRejectsEmptyRequest(t *testing.T) {
	backends(t, func(t *testing.T, h *testHarness) {
		if err := call(t, h.service.handleIngest, fleet.IngestRequest{}, nil); err == nil {
			t.Fatal("empty ingest accepted")
		}
	})
}
