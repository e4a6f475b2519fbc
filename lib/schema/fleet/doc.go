// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package fleet defines the wire and content types of the Warden
// fleet service: client snapshots and metadata, labels, agent
// telemetry stat snapshots, the resource metric selectors, audit
// events, and the request/response structs for every socket action.
//
// Timestamps are int64 Unix nanoseconds. Optional timestamps (the
// client metadata fields) are pointers: nil means the source never
// recorded the value, which is distinct from a recorded zero.
package fleet
