// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package fleet

import (
	"github.com/thehotelbravo/warden/lib/clientid"
	"github.com/thehotelbravo/warden/lib/timeseries"
)

// SearchClientsRequest is the CBOR request for "clients/search".
// Query is a space-separated keyword list with shell-style quoting; a
// "label:<name>" token restricts to clients bearing that label name.
// An empty query matches all clients.
type SearchClientsRequest struct {
	Query string `cbor:"query,omitempty"`

	// Offset is the number of qualifying results to skip. Must be
	// >= 0.
	Offset int `cbor:"offset,omitempty"`

	// Count is the maximum number of results to return; 0 means no
	// limit. Must be >= 0.
	Count int `cbor:"count,omitempty"`
}

// SearchClientsResponse lists matching clients in ascending
// identifier order.
type SearchClientsResponse struct {
	Clients []ClientInfo `cbor:"clients"`
}

// RestrictedSearchRequest is the CBOR request for
// "clients/restricted-search". The requestor names the configured
// label allowlist the results are verified against; requestors
// without an allowlist are rejected.
type RestrictedSearchRequest struct {
	Query     string `cbor:"query,omitempty"`
	Offset    int    `cbor:"offset,omitempty"`
	Count     int    `cbor:"count,omitempty"`
	Requestor string `cbor:"requestor"`
}

// GetClientRequest is the CBOR request for "clients/get".
type GetClientRequest struct {
	ClientID clientid.ID `cbor:"client_id"`

	// Timestamp selects the snapshot in effect at this point in time
	// (Unix nanos). Nil means the latest snapshot.
	Timestamp *int64 `cbor:"timestamp,omitempty"`
}

// GetClientResponse carries the canonical client record.
type GetClientResponse struct {
	Client ClientInfo `cbor:"client"`
}

// VersionsRequest is the CBOR request for "clients/versions".
type VersionsRequest struct {
	ClientID clientid.ID `cbor:"client_id"`

	// Start and End bound the history range (Unix nanos). Zero End
	// defaults to now; zero Start defaults to the versions lookback
	// window before End.
	Start int64 `cbor:"start,omitempty"`
	End   int64 `cbor:"end,omitempty"`

	// ChangesOnly drops snapshots whose content is identical to
	// their predecessor.
	ChangesOnly bool `cbor:"changes_only,omitempty"`
}

// VersionsResponse lists the client's snapshots in the range, most
// recent first.
type VersionsResponse struct {
	Snapshots []ClientSnapshot `cbor:"snapshots"`
}

// VersionTimesRequest is the CBOR request for "clients/version-times".
type VersionTimesRequest struct {
	ClientID clientid.ID `cbor:"client_id"`
}

// VersionTimesResponse lists snapshot timestamps, most recent first.
type VersionTimesResponse struct {
	Times []int64 `cbor:"times"`
}

// InterrogateRequest is the CBOR request for "clients/interrogate".
type InterrogateRequest struct {
	ClientID  clientid.ID `cbor:"client_id"`
	Requestor string      `cbor:"requestor,omitempty"`
}

// InterrogateResponse carries the opaque operation ID of the started
// interrogation.
type InterrogateResponse struct {
	OperationID string `cbor:"operation_id"`
}

// Interrogation operation states.
const (
	OperationRunning  = "running"
	OperationFinished = "finished"
)

// InterrogateStateRequest is the CBOR request for
// "clients/interrogate-state".
type InterrogateStateRequest struct {
	OperationID string `cbor:"operation_id"`
}

// InterrogateStateResponse reports the operation state, one of
// OperationRunning or OperationFinished.
type InterrogateStateResponse struct {
	State string `cbor:"state"`
}

// LastIPRequest is the CBOR request for "clients/last-ip".
type LastIPRequest struct {
	ClientID clientid.ID `cbor:"client_id"`
}

// LastIPResponse reports the address the client last communicated
// from, with its geolocation classification.
type LastIPResponse struct {
	// IP is the address in string form, empty when unknown.
	IP string `cbor:"ip,omitempty"`

	// Status is the geoip classification: "internal", "external", or
	// "unknown".
	Status string `cbor:"status"`

	// Info is a human-readable location summary for external
	// addresses, empty otherwise.
	Info string `cbor:"info,omitempty"`
}

// CrashesRequest is the CBOR request for "clients/crashes".
type CrashesRequest struct {
	ClientID clientid.ID `cbor:"client_id"`

	Offset int `cbor:"offset,omitempty"`
	Count  int `cbor:"count,omitempty"`
}

// CrashesResponse lists the requested page of crashes, newest first,
// with the total crash count before pagination.
type CrashesResponse struct {
	Crashes    []ClientCrash `cbor:"crashes"`
	TotalCount int           `cbor:"total_count"`
}

// AddLabelsRequest is the CBOR request for "clients/labels/add". The
// labels are assigned under the requestor as owner.
type AddLabelsRequest struct {
	ClientIDs []clientid.ID `cbor:"client_ids"`
	Labels    []string      `cbor:"labels"`
	Requestor string        `cbor:"requestor"`
}

// RemoveLabelsRequest is the CBOR request for
// "clients/labels/remove". Removal targets caller-assigned labels
// with the given names; system labels of the same name are untouched.
type RemoveLabelsRequest struct {
	ClientIDs []clientid.ID `cbor:"client_ids"`
	Labels    []string      `cbor:"labels"`
	Requestor string        `cbor:"requestor"`
}

// Migration outcomes for the secondary-store leg of a label
// mutation.
const (
	OutcomeMigrated       = "migrated"
	OutcomeNotYetMigrated = "not-yet-migrated"
	OutcomeFailed         = "failed"
)

// LabelMutationResult reports the outcome of one client's label
// mutation within a batch.
type LabelMutationResult struct {
	ClientID clientid.ID `cbor:"client_id"`

	// Outcome is one of the Outcome* constants, describing the
	// secondary-store leg of the dual write.
	Outcome string `cbor:"outcome"`

	// Error carries the failure detail when Outcome is
	// OutcomeFailed.
	Error string `cbor:"error,omitempty"`
}

// MutateLabelsResponse is the CBOR response for both label mutation
// actions.
type MutateLabelsResponse struct {
	Results []LabelMutationResult `cbor:"results"`
}

// ListLabelsResponse lists the distinct label names in use across the
// fleet, sorted.
type ListLabelsResponse struct {
	Names []string `cbor:"names"`
}

// KbFieldsResponse lists the knowledge base field names.
type KbFieldsResponse struct {
	Fields []string `cbor:"fields"`
}

// ActionRequestsRequest is the CBOR request for
// "clients/action-requests".
type ActionRequestsRequest struct {
	ClientID clientid.ID `cbor:"client_id"`
}

// ActionRequestsResponse lists the client's pending action requests.
type ActionRequestsResponse struct {
	Requests []ActionRequest `cbor:"requests"`
}

// LoadStatsRequest is the CBOR request for "clients/load-stats".
type LoadStatsRequest struct {
	ClientID clientid.ID `cbor:"client_id"`

	// Metric is the selector string; see the Metric constants.
	Metric string `cbor:"metric"`

	// Start and End bound the sample range (Unix nanos). Zero End
	// defaults to now; zero Start defaults to the load-stats lookback
	// window before End.
	Start int64 `cbor:"start,omitempty"`
	End   int64 `cbor:"end,omitempty"`
}

// LoadStatsResponse carries the extracted series, ascending by
// timestamp, at most the downsampling cap in length.
type LoadStatsResponse struct {
	Points []timeseries.Point `cbor:"points"`
}

// IngestRequest is the CBOR request for "clients/ingest": the intake
// path for snapshots, stat snapshots, and crash reports. Any subset
// of the fields may be set.
type IngestRequest struct {
	Snapshot *ClientSnapshot `cbor:"snapshot,omitempty"`
	Stats    *StatSnapshot   `cbor:"stats,omitempty"`
	Crash    *ClientCrash    `cbor:"crash,omitempty"`
}

// StatusResponse is the CBOR response for "status".
type StatusResponse struct {
	Backend     string `cbor:"backend"`
	ClientCount int    `cbor:"client_count"`
	UptimeNanos int64  `cbor:"uptime_nanos"`
}
