// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package fleet

// SystemOwner is the reserved owner under which Warden itself assigns
// labels. Stores stamp the System flag on labels written for this
// owner; call sites check the flag, never the owner string.
const SystemOwner = "warden"

// Label is a (name, owner) tag on a client. A client's label set has
// no duplicate (name, owner) pairs.
type Label struct {
	// Name is the label text, also exposed to search as the keyword
	// "label:<name>".
	Name string `cbor:"name"`

	// Owner identifies who assigned the label.
	Owner string `cbor:"owner"`

	// System marks labels assigned under SystemOwner. System labels
	// are exempt from caller-initiated removal.
	System bool `cbor:"system,omitempty"`
}
