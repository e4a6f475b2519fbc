// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package search resolves client search queries against the keyword
// index. A query is a whitespace-separated keyword list with
// shell-style quoting; matching clients are those posted under every
// keyword. The restricted engine additionally verifies each candidate
// against a label allowlist before it may appear in results, so that
// a caller cleared only for part of the fleet can never page beyond
// it.
package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/thehotelbravo/warden/lib/clientid"
	"github.com/thehotelbravo/warden/lib/keyword"
	"github.com/thehotelbravo/warden/lib/store"
)

// Engine runs searches against a single backend.
type Engine struct {
	store store.Store
}

// New returns an engine reading from the given backend.
func New(s store.Store) *Engine {
	return &Engine{store: s}
}

// Search resolves the query and returns the matching clients in
// ascending ID order, paginated. The empty query matches the whole
// fleet. count 0 means "everything from offset on".
func (e *Engine) Search(ctx context.Context, query string, offset, count int) ([]clientid.ID, error) {
	keywords, err := ParseQuery(query)
	if err != nil {
		return nil, err
	}
	ids, err := e.store.LookupKeywords(ctx, keywords)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	clientid.Sort(ids)
	return paginate(ids, offset, count), nil
}

// Restriction is the label allowlist for a restricted caller. A
// client is visible when it carries at least one label whose name is
// in Names and whose owner is in Owners.
type Restriction struct {
	Names  []string
	Owners []string
}

// RestrictedSearch resolves the query within the caller's label
// allowlist. Candidates come from a coarse per-name index lookup
// (label posting intersected with the query keywords) unioned across
// the allowed names; each candidate is then re-verified against the
// client's actual label records, owners included, because the index
// alone cannot distinguish owners. Pagination applies only to
// verified results.
func (e *Engine) RestrictedSearch(ctx context.Context, query string, restriction Restriction, offset, count int) ([]clientid.ID, error) {
	keywords, err := ParseQuery(query)
	if err != nil {
		return nil, err
	}

	candidates := make(map[clientid.ID]struct{})
	for _, name := range restriction.Names {
		tokens := append([]string{keyword.ForLabel(name)}, keywords...)
		ids, err := e.store.LookupKeywords(ctx, tokens)
		if err != nil {
			return nil, fmt.Errorf("search: restricted lookup %q: %w", name, err)
		}
		for _, id := range ids {
			candidates[id] = struct{}{}
		}
	}

	ordered := make([]clientid.ID, 0, len(candidates))
	for id := range candidates {
		ordered = append(ordered, id)
	}
	clientid.Sort(ordered)

	allowedNames := stringSet(restriction.Names)
	allowedOwners := stringSet(restriction.Owners)

	var verified []clientid.ID
	for _, id := range ordered {
		labels, err := e.store.Labels(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("search: verifying %s: %w", id, err)
		}
		for _, label := range labels {
			if _, nameOK := allowedNames[label.Name]; !nameOK {
				continue
			}
			if _, ownerOK := allowedOwners[label.Owner]; !ownerOK {
				continue
			}
			verified = append(verified, id)
			break
		}
	}
	return paginate(verified, offset, count), nil
}

func stringSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, value := range values {
		set[value] = struct{}{}
	}
	return set
}

// paginate slices ids at [offset, offset+count). count 0 means no
// upper bound. Out-of-range offsets yield nil, never panic.
func paginate(ids []clientid.ID, offset, count int) []clientid.ID {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(ids) {
		return nil
	}
	ids = ids[offset:]
	if count > 0 && count < len(ids) {
		ids = ids[:count]
	}
	return ids
}

// ParseQuery splits a query into normalized keywords using
// shell-style rules: whitespace separates tokens, single and double
// quotes group, backslash escapes the next character outside single
// quotes. An unterminated quote is an error.
func ParseQuery(query string) ([]string, error) {
	var (
		tokens  []string
		current strings.Builder
		inToken bool
	)
	const noQuote = rune(0)
	quote := noQuote
	escaped := false

	for _, r := range query {
		switch {
		case escaped:
			current.WriteRune(r)
			escaped = false
		case quote == '\'':
			if r == '\'' {
				quote = noQuote
			} else {
				current.WriteRune(r)
			}
		case r == '\\':
			escaped = true
			inToken = true
		case quote == '"':
			if r == '"' {
				quote = noQuote
			} else {
				current.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			inToken = true
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			if inToken {
				tokens = append(tokens, keyword.Normalize(current.String()))
				current.Reset()
				inToken = false
			}
		default:
			current.WriteRune(r)
			inToken = true
		}
	}
	if escaped {
		return nil, fmt.Errorf("search: query %q ends in an escape", query)
	}
	if quote != noQuote {
		return nil, fmt.Errorf("search: unterminated quote in query %q", query)
	}
	if inToken {
		tokens = append(tokens, keyword.Normalize(current.String()))
	}
	return tokens, nil
}
