// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for Warden packages.
// This package has no Warden-internal dependencies.
package testutil

import "log/slog"

// Logger returns a silent structured logger for tests. Production
// constructors require a logger; tests should not emit operational
// noise.
func Logger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
