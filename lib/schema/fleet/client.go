// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package fleet

import (
	"github.com/thehotelbravo/warden/lib/clientid"
)

// ClientSnapshot is one recorded interrogation of a managed endpoint:
// everything the agent reported about the machine at a point in time.
// Snapshots are immutable once written; a client's history is the
// ordered sequence of its snapshots.
type ClientSnapshot struct {
	ClientID clientid.ID `cbor:"client_id"`

	// Timestamp is when this snapshot was recorded (Unix nanos).
	Timestamp int64 `cbor:"timestamp"`

	Hostname string `cbor:"hostname,omitempty"`
	FQDN     string `cbor:"fqdn,omitempty"`

	// OS identification as reported by the agent.
	System        string `cbor:"system,omitempty"`
	OSRelease     string `cbor:"os_release,omitempty"`
	OSVersion     string `cbor:"os_version,omitempty"`
	KernelVersion string `cbor:"kernel_version,omitempty"`
	Architecture  string `cbor:"architecture,omitempty"`

	// AgentVersion is the version string of the endpoint agent.
	AgentVersion string `cbor:"agent_version,omitempty"`

	// MemoryTotal is the machine's physical memory in bytes.
	MemoryTotal uint64 `cbor:"memory_total,omitempty"`

	// Users are the machine's known accounts, sorted by username.
	Users []User `cbor:"users,omitempty"`

	// Interfaces are the machine's network interfaces.
	Interfaces []NetworkInterface `cbor:"interfaces,omitempty"`

	// KnowledgeBase is the structured machine profile collected by
	// interrogation. Nil when interrogation has not completed.
	KnowledgeBase *KnowledgeBase `cbor:"knowledge_base,omitempty"`
}

// User is one account on a managed endpoint.
type User struct {
	Username string `cbor:"username"`
	FullName string `cbor:"full_name,omitempty"`
	HomeDir  string `cbor:"home_dir,omitempty"`
}

// NetworkInterface is one network interface on a managed endpoint.
type NetworkInterface struct {
	Name string `cbor:"name"`

	// MAC is the hardware address in colon-separated lowercase hex,
	// e.g. "aa:bb:cc:dd:ee:ff".
	MAC string `cbor:"mac,omitempty"`

	// Addresses are the interface's IP addresses in string form.
	Addresses []string `cbor:"addresses,omitempty"`
}

// ClientMetadata is the server-side bookkeeping for a client. All
// timestamp fields are optional: nil means never recorded. Zero is a
// valid recorded timestamp and is never used to mean "unset".
type ClientMetadata struct {
	FirstSeenAt  *int64 `cbor:"first_seen_at,omitempty"`
	LastSeenAt   *int64 `cbor:"last_seen_at,omitempty"`
	LastBootedAt *int64 `cbor:"last_booted_at,omitempty"`
	LastClock    *int64 `cbor:"last_clock,omitempty"`
	LastCrashAt  *int64 `cbor:"last_crash_at,omitempty"`

	// LastIP is the address the client last communicated from, empty
	// when unknown.
	LastIP string `cbor:"last_ip,omitempty"`
}

// ClientInfo is the canonical client record assembled by the record
// reader: the relevant snapshot plus metadata and the current label
// set. Both storage backends produce identical ClientInfo values for
// identical stored data.
type ClientInfo struct {
	ClientID clientid.ID `cbor:"client_id"`

	// Snapshot is the latest snapshot, or the snapshot at the
	// requested point in time for historical reads. Nil when the
	// client is known only by metadata.
	Snapshot *ClientSnapshot `cbor:"snapshot,omitempty"`

	Metadata ClientMetadata `cbor:"metadata"`

	// Labels is the client's current label set.
	Labels []Label `cbor:"labels,omitempty"`
}

// ClientCrash records one agent crash report.
type ClientCrash struct {
	ClientID  clientid.ID `cbor:"client_id"`
	Timestamp int64       `cbor:"timestamp"`
	Type      string      `cbor:"type,omitempty"`
	Message   string      `cbor:"message,omitempty"`

	// AgentVersion is the agent version that crashed.
	AgentVersion string `cbor:"agent_version,omitempty"`
}

// ActionRequest is one task queued for a client and not yet
// acknowledged.
type ActionRequest struct {
	TaskID uint64 `cbor:"task_id"`

	// SessionID ties the request to the operation that scheduled it.
	SessionID string `cbor:"session_id,omitempty"`

	// Action names the client action to execute.
	Action string `cbor:"action"`

	// Deadline is when the request expires (Unix nanos).
	Deadline int64 `cbor:"deadline,omitempty"`
}
