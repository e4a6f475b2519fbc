// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package fleet

import (
	"github.com/thehotelbravo/warden/lib/clientid"
)

// Audit actions recorded for client mutations.
const (
	AuditClientAddLabel    = "client.add-label"
	AuditClientRemoveLabel = "client.remove-label"
)

// AuditEvent is one structured mutation record handed to the audit
// sink. A batch mutation produces one event per successfully mutated
// client; the batch's events are published together, exactly once,
// regardless of how far into the batch a failure occurred.
type AuditEvent struct {
	// Timestamp is when the mutation happened (Unix nanos).
	Timestamp int64 `cbor:"timestamp"`

	// Requestor is the caller on whose behalf the mutation ran.
	Requestor string `cbor:"requestor"`

	// Action is one of the Audit* constants.
	Action string `cbor:"action"`

	// Client is the mutated client.
	Client clientid.ID `cbor:"client"`

	// Description summarizes the mutation, e.g. the owner-qualified
	// label names touched.
	Description string `cbor:"description,omitempty"`
}
