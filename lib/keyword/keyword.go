// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package keyword derives the search tokens indexed for a client.
// The inverted index maps each token to the set of clients it was
// derived from; search intersects the postings of the query's tokens.
//
// Tokens are lowercase. Label names surface in the index under the
// "label:" prefix so that queries can target labels without colliding
// with attribute-derived tokens.
package keyword

import (
	"strings"

	"github.com/thehotelbravo/warden/lib/schema/fleet"
)

// LabelPrefix marks tokens derived from label names.
const LabelPrefix = "label:"

// ForLabel returns the index token for a label name.
func ForLabel(name string) string {
	return LabelPrefix + strings.ToLower(name)
}

// FromSnapshot extracts the attribute-derived tokens for a client
// snapshot: the client ID itself, hostname and its dot-separated
// fragments, FQDN, usernames, MAC addresses (colon-separated and
// bare forms), and the OS identification strings. Label tokens are
// not included here; the label store maintains those on mutation.
func FromSnapshot(snapshot *fleet.ClientSnapshot) []string {
	seen := make(map[string]struct{})
	add := func(token string) {
		token = strings.ToLower(strings.TrimSpace(token))
		if token == "" {
			return
		}
		seen[token] = struct{}{}
	}

	add(snapshot.ClientID.String())

	add(snapshot.Hostname)
	for _, fragment := range strings.Split(snapshot.Hostname, ".") {
		add(fragment)
	}
	add(snapshot.FQDN)
	for _, fragment := range strings.Split(snapshot.FQDN, ".") {
		add(fragment)
	}

	add(snapshot.System)
	add(snapshot.OSRelease)
	add(snapshot.OSVersion)
	add(snapshot.KernelVersion)
	add(snapshot.Architecture)

	for _, user := range snapshot.Users {
		add(user.Username)
	}

	for _, iface := range snapshot.Interfaces {
		if iface.MAC == "" {
			continue
		}
		add(iface.MAC)
		add(strings.ReplaceAll(iface.MAC, ":", ""))
	}

	tokens := make([]string, 0, len(seen))
	for token := range seen {
		tokens = append(tokens, token)
	}
	return tokens
}

// Normalize lowercases a query token the same way index tokens are
// lowercased, so lookups are case-insensitive.
func Normalize(token string) string {
	return strings.ToLower(strings.TrimSpace(token))
}
