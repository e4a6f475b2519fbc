// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package clientid defines the validated identifier for a managed
// endpoint. A client ID is the fixed prefix "C." followed by exactly
// 16 lowercase hex digits, e.g. "C.1a2b3c4d5e6f7a8b".
//
// Validation happens at construction: Parse rejects malformed input,
// and every other part of the system treats an ID value as already
// valid. Code never builds an ID from arbitrary text without going
// through Parse.
package clientid

import (
	"fmt"
	"sort"
)

// Prefix is the fixed leading marker of every client ID.
const Prefix = "C."

// hexSuffixLength is the fixed number of hex digits after the prefix.
const hexSuffixLength = 16

// ID is a validated client identifier. The zero value is invalid;
// obtain values through Parse or MustParse.
type ID struct {
	value string
}

// Parse validates raw against the client ID grammar and returns the
// ID. Malformed input is a construction-time error, never a later
// lookup failure.
func Parse(raw string) (ID, error) {
	if len(raw) != len(Prefix)+hexSuffixLength {
		return ID{}, fmt.Errorf("clientid: invalid client id %q: want %q plus %d hex digits", raw, Prefix, hexSuffixLength)
	}
	if raw[:len(Prefix)] != Prefix {
		return ID{}, fmt.Errorf("clientid: invalid client id %q: missing %q prefix", raw, Prefix)
	}
	for _, c := range raw[len(Prefix):] {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return ID{}, fmt.Errorf("clientid: invalid client id %q: suffix must be lowercase hex", raw)
		}
	}
	return ID{value: raw}, nil
}

// MustParse is Parse for statically known inputs. Panics on error.
func MustParse(raw string) ID {
	id, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return id
}

// String returns the canonical string form.
func (id ID) String() string { return id.value }

// IsZero reports whether the ID is the invalid zero value.
func (id ID) IsZero() bool { return id.value == "" }

// Less reports whether id sorts before other in the fixed total order
// used for search results (identifier string order).
func (id ID) Less(other ID) bool { return id.value < other.value }

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.value), nil
}

// UnmarshalText implements encoding.TextUnmarshaler, validating the
// input. An empty input yields the zero ID so that optional fields
// round-trip.
func (id *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*id = ID{}
		return nil
	}
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Sort orders ids ascending in place by the fixed total order.
func Sort(ids []ID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
}
