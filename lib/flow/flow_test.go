// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package flow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/thehotelbravo/warden/lib/clientid"
	"github.com/thehotelbravo/warden/lib/clock"
	"github.com/thehotelbravo/warden/lib/schema/fleet"
)

func TestInterrogateLifecycle(t *testing.T) {
	ctx := context.Background()
	fake := clock.Fake(time.Unix(1000, 0))
	trigger := NewMemoryTrigger(fake, int64(time.Minute))

	id := clientid.MustParse("C.1000000000000001")
	operationID, err := trigger.StartInterrogate(ctx, id, "alice")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if operationID == "" {
		t.Fatal("empty operation ID")
	}

	state, err := trigger.OperationState(ctx, operationID)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state != fleet.OperationRunning {
		t.Errorf("state = %q, want running", state)
	}

	fake.Advance(2 * time.Minute)
	state, err = trigger.OperationState(ctx, operationID)
	if err != nil {
		t.Fatalf("state after deadline: %v", err)
	}
	if state != fleet.OperationFinished {
		t.Errorf("state = %q, want finished", state)
	}
}

func TestOperationIDsAreUnique(t *testing.T) {
	ctx := context.Background()
	trigger := NewMemoryTrigger(clock.Fake(time.Unix(0, 0)), int64(time.Minute))

	id := clientid.MustParse("C.1000000000000001")
	first, _ := trigger.StartInterrogate(ctx, id, "alice")
	second, _ := trigger.StartInterrogate(ctx, id, "alice")
	if first == second {
		t.Errorf("duplicate operation IDs: %q", first)
	}
}

func TestUnknownOperation(t *testing.T) {
	trigger := NewMemoryTrigger(clock.Fake(time.Unix(0, 0)), int64(time.Minute))
	if _, err := trigger.OperationState(context.Background(), "C.1/interrogate/999"); !errors.Is(err, ErrOperationNotFound) {
		t.Errorf("err = %v, want ErrOperationNotFound", err)
	}
}
