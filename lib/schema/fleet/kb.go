// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package fleet

import "sort"

// KnowledgeBase is the structured machine profile collected by client
// interrogation. It backs variable expansion in collection flows, so
// its field names are part of the public surface (see KbFieldNames).
type KnowledgeBase struct {
	OS        string `cbor:"os,omitempty"`
	OSRelease string `cbor:"os_release,omitempty"`
	FQDN      string `cbor:"fqdn,omitempty"`
	TimeZone  string `cbor:"time_zone,omitempty"`
	Domain    string `cbor:"domain,omitempty"`

	// Users mirrors the snapshot's account list; kept here as well
	// because flow variable expansion resolves per-user fields
	// through the knowledge base.
	Users []User `cbor:"users,omitempty"`
}

// KbFieldNames returns the sorted names of the knowledge base fields
// available to flow variable expansion.
func KbFieldNames() []string {
	fields := []string{
		"os",
		"os_release",
		"fqdn",
		"time_zone",
		"domain",
		"users.username",
		"users.full_name",
		"users.home_dir",
	}
	sort.Strings(fields)
	return fields
}
