// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package flow starts long-running client operations and tracks their
// state. The fleet service only ever needs the interrogation flow: a
// full re-collection of a client's machine state. The actual
// collection runs elsewhere; this package hands out operation IDs and
// answers state polls.
package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/thehotelbravo/warden/lib/clientid"
	"github.com/thehotelbravo/warden/lib/clock"
	"github.com/thehotelbravo/warden/lib/schema/fleet"
)

// ErrOperationNotFound is returned when a state poll names an
// operation this service never started (or one that already expired).
var ErrOperationNotFound = errors.New("flow: operation not found")

// Trigger starts interrogations and answers state polls.
type Trigger interface {
	// StartInterrogate launches an interrogation of the client on
	// behalf of requestor and returns the operation ID to poll.
	StartInterrogate(ctx context.Context, id clientid.ID, requestor string) (string, error)

	// OperationState reports fleet.OperationRunning or
	// fleet.OperationFinished, or ErrOperationNotFound.
	OperationState(ctx context.Context, operationID string) (string, error)
}

type operation struct {
	client   clientid.ID
	deadline int64
}

// MemoryTrigger tracks operations in memory. An operation counts as
// running until its deadline passes; the collection result lands in
// the store through the regular ingest path, so the trigger itself
// never has to observe completion.
type MemoryTrigger struct {
	clock    clock.Clock
	lifetime int64

	mu         sync.Mutex
	sequence   uint64
	operations map[string]operation
}

// NewMemoryTrigger returns a trigger whose operations run for
// lifetimeNanos before reporting finished.
func NewMemoryTrigger(clk clock.Clock, lifetimeNanos int64) *MemoryTrigger {
	return &MemoryTrigger{
		clock:      clk,
		lifetime:   lifetimeNanos,
		operations: make(map[string]operation),
	}
}

// StartInterrogate implements Trigger.
func (t *MemoryTrigger) StartInterrogate(ctx context.Context, id clientid.ID, requestor string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sequence++
	operationID := fmt.Sprintf("%s/interrogate/%d", id, t.sequence)
	t.operations[operationID] = operation{
		client:   id,
		deadline: t.clock.Now().UnixNano() + t.lifetime,
	}
	return operationID, nil
}

// OperationState implements Trigger.
func (t *MemoryTrigger) OperationState(ctx context.Context, operationID string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	op, ok := t.operations[operationID]
	if !ok {
		return "", fmt.Errorf("%q: %w", operationID, ErrOperationNotFound)
	}
	if t.clock.Now().UnixNano() >= op.deadline {
		return fleet.OperationFinished, nil
	}
	return fleet.OperationRunning, nil
}
