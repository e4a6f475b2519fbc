// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package loadstats extracts bounded resource-usage time series from
// stored stat snapshots: per-sample or per-snapshot extraction for
// the selected metric, merge+sort of overlapping snapshots, counter
// reset repair, and downsampling to at most MaxPoints points.
package loadstats

import (
	"fmt"

	"github.com/thehotelbravo/warden/lib/schema/fleet"
	"github.com/thehotelbravo/warden/lib/timeseries"
)

// MaxPoints is the downsampling cap: a built series never exceeds
// this many points.
const MaxPoints = 100

// Build turns stat snapshots covering [start, end] into the series
// for the given metric selector. Snapshot order does not matter:
// snapshots may overlap in time and their samples are merged and
// sorted before any processing.
//
// Counter-class series are repaired to be non-decreasing before
// downsampling. When the extracted point count exceeds MaxPoints the
// series is normalized into buckets of width max(1ns,
// (end-start)/MaxPoints).
func Build(snapshots []fleet.StatSnapshot, metric fleet.Metric, start, end int64) ([]timeseries.Point, error) {
	metric, err := fleet.ParseMetric(string(metric))
	if err != nil {
		return nil, fmt.Errorf("loadstats: %w", err)
	}

	var series timeseries.Series

	for i := range snapshots {
		if err := extract(&series, &snapshots[i], metric); err != nil {
			return nil, err
		}
	}

	// Samples from overlapping snapshots arrive interleaved; sort
	// before repair and downsampling.
	series.Sort()

	class := metric.Class()
	if class == fleet.ClassCounter {
		series.MakeIncreasing()
	}

	if series.Len() > MaxPoints {
		bucketWidth := max((end-start)/MaxPoints, 1)

		mode := timeseries.ModeGauge
		if class == fleet.ClassCounter {
			mode = timeseries.ModeCounter
		}
		if err := series.Normalize(bucketWidth, start, end, mode); err != nil {
			return nil, fmt.Errorf("loadstats: %w", err)
		}
	}

	return series.Points(), nil
}

// extract appends the snapshot's points for the metric: one point per
// nested sample for the per-sample selectors, exactly one point per
// snapshot for the snapshot-level selectors.
func extract(series *timeseries.Series, snapshot *fleet.StatSnapshot, metric fleet.Metric) error {
	switch metric {
	case fleet.MetricCPUPercent:
		for _, s := range snapshot.CPUSamples {
			series.Append(s.Timestamp, s.Percent)
		}
	case fleet.MetricCPUSystem:
		for _, s := range snapshot.CPUSamples {
			series.Append(s.Timestamp, s.SystemTime)
		}
	case fleet.MetricCPUUser:
		for _, s := range snapshot.CPUSamples {
			series.Append(s.Timestamp, s.UserTime)
		}
	case fleet.MetricIOReadBytes:
		for _, s := range snapshot.IOSamples {
			series.Append(s.Timestamp, float64(s.ReadBytes))
		}
	case fleet.MetricIOWriteBytes:
		for _, s := range snapshot.IOSamples {
			series.Append(s.Timestamp, float64(s.WriteBytes))
		}
	case fleet.MetricIOReadOps:
		for _, s := range snapshot.IOSamples {
			series.Append(s.Timestamp, float64(s.ReadOps))
		}
	case fleet.MetricIOWriteOps:
		for _, s := range snapshot.IOSamples {
			series.Append(s.Timestamp, float64(s.WriteOps))
		}
	case fleet.MetricNetworkBytesReceived:
		series.Append(snapshot.Timestamp, float64(snapshot.BytesReceived))
	case fleet.MetricNetworkBytesSent:
		series.Append(snapshot.Timestamp, float64(snapshot.BytesSent))
	case fleet.MetricMemoryPercent:
		series.Append(snapshot.Timestamp, snapshot.MemoryPercent)
	case fleet.MetricMemoryRSS:
		series.Append(snapshot.Timestamp, float64(snapshot.MemoryRSS))
	case fleet.MetricMemoryVMS:
		series.Append(snapshot.Timestamp, float64(snapshot.MemoryVMS))
	default:
		return fmt.Errorf("loadstats: %w: %q", fleet.ErrUnknownMetric, string(metric))
	}
	return nil
}
