// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package fleet

import (
	"errors"
	"fmt"

	"github.com/thehotelbravo/warden/lib/clientid"
)

// ErrUnknownMetric is returned by ParseMetric for an unrecognized
// selector. Handlers map it to an invalid-argument failure; it never
// degrades to an empty series.
var ErrUnknownMetric = errors.New("fleet: unknown metric")

// StatSnapshot is one recorded interval of agent resource telemetry.
// The nested sample lists carry their own timestamps; the snapshot
// scalars (network and memory) are valid for the snapshot's primary
// timestamp.
type StatSnapshot struct {
	ClientID clientid.ID `cbor:"client_id"`

	// Timestamp is the snapshot's primary timestamp (Unix nanos).
	Timestamp int64 `cbor:"timestamp"`

	CPUSamples []CPUSample `cbor:"cpu_samples,omitempty"`
	IOSamples  []IOSample  `cbor:"io_samples,omitempty"`

	// Snapshot-level scalars.
	BytesSent     int64   `cbor:"bytes_sent,omitempty"`
	BytesReceived int64   `cbor:"bytes_received,omitempty"`
	MemoryPercent float64 `cbor:"memory_percent,omitempty"`
	MemoryRSS     int64   `cbor:"memory_rss,omitempty"`
	MemoryVMS     int64   `cbor:"memory_vms,omitempty"`
}

// CPUSample is one CPU usage measurement within a stat snapshot.
type CPUSample struct {
	Timestamp int64 `cbor:"timestamp"`

	Percent    float64 `cbor:"percent,omitempty"`
	UserTime   float64 `cbor:"user_time,omitempty"`
	SystemTime float64 `cbor:"system_time,omitempty"`
}

// IOSample is one I/O counter reading within a stat snapshot. The
// counters are cumulative since agent start.
type IOSample struct {
	Timestamp int64 `cbor:"timestamp"`

	ReadBytes  int64 `cbor:"read_bytes,omitempty"`
	WriteBytes int64 `cbor:"write_bytes,omitempty"`
	ReadOps    int64 `cbor:"read_ops,omitempty"`
	WriteOps   int64 `cbor:"write_ops,omitempty"`
}

// Metric selects one resource-usage series extracted from stat
// snapshots.
type Metric string

const (
	MetricCPUPercent           Metric = "cpu_percent"
	MetricCPUSystem            Metric = "cpu_system"
	MetricCPUUser              Metric = "cpu_user"
	MetricIOReadBytes          Metric = "io_read_bytes"
	MetricIOWriteBytes         Metric = "io_write_bytes"
	MetricIOReadOps            Metric = "io_read_ops"
	MetricIOWriteOps           Metric = "io_write_ops"
	MetricNetworkBytesReceived Metric = "network_bytes_received"
	MetricNetworkBytesSent     Metric = "network_bytes_sent"
	MetricMemoryPercent        Metric = "memory_percent"
	MetricMemoryRSS            Metric = "memory_rss_size"
	MetricMemoryVMS            Metric = "memory_vms_size"
)

// MetricClass is the static gauge/counter classification of a metric
// selector. Classification never changes at runtime.
type MetricClass uint8

const (
	// ClassGauge marks instantaneous-value metrics. Gauge series are
	// never repaired or accumulated.
	ClassGauge MetricClass = 0

	// ClassCounter marks cumulative metrics. Counter series are
	// repaired to be non-decreasing to absorb agent restarts.
	ClassCounter MetricClass = 1
)

// metricClasses is the complete selector table. A selector absent
// from this table does not exist.
var metricClasses = map[Metric]MetricClass{
	MetricCPUPercent:           ClassGauge,
	MetricCPUSystem:            ClassCounter,
	MetricCPUUser:              ClassCounter,
	MetricIOReadBytes:          ClassCounter,
	MetricIOWriteBytes:         ClassCounter,
	MetricIOReadOps:            ClassCounter,
	MetricIOWriteOps:           ClassCounter,
	MetricNetworkBytesReceived: ClassCounter,
	MetricNetworkBytesSent:     ClassCounter,
	MetricMemoryPercent:        ClassGauge,
	MetricMemoryRSS:            ClassGauge,
	MetricMemoryVMS:            ClassGauge,
}

// ParseMetric validates a selector string. An unrecognized selector
// is a hard error, never silently mapped to an empty series.
func ParseMetric(raw string) (Metric, error) {
	metric := Metric(raw)
	if _, ok := metricClasses[metric]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownMetric, raw)
	}
	return metric, nil
}

// Class returns the selector's static classification. Panics on a
// selector that did not come from ParseMetric or the constants above.
func (m Metric) Class() MetricClass {
	class, ok := metricClasses[m]
	if !ok {
		panic(fmt.Sprintf("fleet: Class on unknown metric %q", string(m)))
	}
	return class
}

// Metrics returns all known selectors, for listings and tests.
func Metrics() []Metric {
	all := make([]Metric, 0, len(metricClasses))
	for m := range metricClasses {
		all = append(all, m)
	}
	return all
}
