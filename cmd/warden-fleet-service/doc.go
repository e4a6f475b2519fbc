// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// warden-fleet-service answers fleet queries over a CBOR Unix socket:
// keyword search over the client index (including the restricted,
// allowlist-verified variant), client record and version reads, label
// mutations mirrored across both storage backends, crash and load
// statistics retrieval, interrogation triggering, and snapshot
// ingest.
//
// The service reads from one primary backend — the relational SQLite
// store or the legacy hierarchical store — selected in the config
// file. When both backends are configured, label mutations are
// mirrored to the secondary and each client's migration outcome is
// reported to the caller.
package main
