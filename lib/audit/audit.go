// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package audit publishes audit events for label mutations. Handlers
// record events into a per-request Recorder while processing a batch
// and flush it once on the way out; the flush is idempotent so it can
// sit in a defer and still be called explicitly to observe the error.
package audit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/thehotelbravo/warden/lib/clientid"
	"github.com/thehotelbravo/warden/lib/clock"
	"github.com/thehotelbravo/warden/lib/codec"
	"github.com/thehotelbravo/warden/lib/schema/fleet"
)

// Sink receives flushed event batches. Implementations must tolerate
// empty batches.
type Sink interface {
	Publish(ctx context.Context, events []fleet.AuditEvent) error
}

// Recorder accumulates the audit events of one request. Not safe for
// concurrent use; each request owns its recorder.
type Recorder struct {
	sink    Sink
	clock   clock.Clock
	events  []fleet.AuditEvent
	flushed bool
}

// NewRecorder returns a recorder publishing to sink. Timestamps come
// from clk.
func NewRecorder(sink Sink, clk clock.Clock) *Recorder {
	return &Recorder{sink: sink, clock: clk}
}

// Record appends one event. Events recorded after Flush are dropped;
// a request must not keep mutating after it has published.
func (r *Recorder) Record(requestor, action string, client clientid.ID, description string) {
	if r.flushed {
		return
	}
	r.events = append(r.events, fleet.AuditEvent{
		Timestamp:   r.clock.Now().UnixNano(),
		Requestor:   requestor,
		Action:      action,
		Client:      client,
		Description: description,
	})
}

// Len reports the number of recorded, unflushed events.
func (r *Recorder) Len() int { return len(r.events) }

// Flush publishes the accumulated events exactly once. Later calls
// are no-ops returning nil, so a defer after an explicit call cannot
// double-publish. Publishing an empty batch is skipped entirely.
func (r *Recorder) Flush(ctx context.Context) error {
	if r.flushed {
		return nil
	}
	r.flushed = true
	if len(r.events) == 0 {
		return nil
	}
	if err := r.sink.Publish(ctx, r.events); err != nil {
		return fmt.Errorf("audit: publish %d events: %w", len(r.events), err)
	}
	return nil
}

// FileSink appends events to a CBOR stream on disk. Safe for
// concurrent publishers.
type FileSink struct {
	mu      sync.Mutex
	file    *os.File
	encoder *codec.Encoder
}

// OpenFileSink opens (or creates) the audit log at path in append
// mode.
func OpenFileSink(path string) (*FileSink, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	return &FileSink{file: file, encoder: codec.NewEncoder(file)}, nil
}

// Publish implements Sink.
func (s *FileSink) Publish(ctx context.Context, events []fleet.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range events {
		if err := s.encoder.Encode(&events[i]); err != nil {
			return fmt.Errorf("audit: encode event: %w", err)
		}
	}
	return s.file.Sync()
}

// Close closes the underlying file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

// ReadFile decodes every event in an audit log written by FileSink.
func ReadFile(path string) ([]fleet.AuditEvent, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	defer file.Close()

	decoder := codec.NewDecoder(file)
	var events []fleet.AuditEvent
	for {
		var event fleet.AuditEvent
		err := decoder.Decode(&event)
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return nil, fmt.Errorf("audit: decode %s: %w", path, err)
		}
		events = append(events, event)
	}
}

// LogSink writes events to a structured logger. Used when no audit
// log path is configured, so mutations still leave a trace.
type LogSink struct {
	Logger *slog.Logger
}

// Publish implements Sink.
func (s LogSink) Publish(ctx context.Context, events []fleet.AuditEvent) error {
	for _, event := range events {
		s.Logger.InfoContext(ctx, "audit event",
			"action", event.Action,
			"client", event.Client,
			"requestor", event.Requestor,
			"description", event.Description)
	}
	return nil
}

// Discard drops all events. Test use only.
type Discard struct{}

// Publish implements Sink.
func (Discard) Publish(context.Context, []fleet.AuditEvent) error { return nil }
