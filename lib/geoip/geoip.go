// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package geoip classifies client IP addresses and, when a MaxMind
// City database is configured, annotates external addresses with a
// coarse location. Classification never requires the database; a
// resolver without one still answers internal/external/unknown.
package geoip

import (
	"fmt"
	"net"
	"strings"

	"github.com/oschwald/geoip2-golang"
)

// Address classification statuses.
const (
	StatusUnknown  = "unknown"
	StatusInternal = "internal"
	StatusExternal = "external"
)

// Resolver classifies IP addresses. The zero value is unusable; use
// New.
type Resolver struct {
	reader *geoip2.Reader
}

// New returns a resolver. databasePath may be empty, in which case
// external addresses carry no location annotation.
func New(databasePath string) (*Resolver, error) {
	if databasePath == "" {
		return &Resolver{}, nil
	}
	reader, err := geoip2.Open(databasePath)
	if err != nil {
		return nil, fmt.Errorf("geoip: open %s: %w", databasePath, err)
	}
	return &Resolver{reader: reader}, nil
}

// Close releases the database, if any.
func (r *Resolver) Close() error {
	if r.reader == nil {
		return nil
	}
	return r.reader.Close()
}

// Resolve classifies raw and returns (status, info). Unparseable or
// empty input is unknown. Private, loopback, and link-local ranges
// are internal. Everything else is external; with a database loaded,
// info holds "City, Country" (either part may be missing).
func (r *Resolver) Resolve(raw string) (status, info string) {
	ip := net.ParseIP(strings.TrimSpace(raw))
	if ip == nil {
		return StatusUnknown, ""
	}
	if ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return StatusInternal, ""
	}
	if r.reader == nil {
		return StatusExternal, ""
	}

	record, err := r.reader.City(ip)
	if err != nil {
		return StatusExternal, ""
	}
	var parts []string
	if name := record.City.Names["en"]; name != "" {
		parts = append(parts, name)
	}
	if name := record.Country.Names["en"]; name != "" {
		parts = append(parts, name)
	}
	return StatusExternal, strings.Join(parts, ", ")
}
