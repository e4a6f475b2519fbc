// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Warden-fleetctl is a one-shot client for the warden-fleet-service
// unix socket. It sends a single action and prints the response as
// JSON, enabling shell scripts and operators to query the fleet
// without a persistent client.
package main
