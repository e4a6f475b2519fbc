// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package timeseries provides the ordered (timestamp, value) series
// used by the load-stats pipeline: merge of unsorted points, counter
// reset repair, and bucketed downsampling to a bounded point count.
//
// A Series is built fresh per request and owned by that request; the
// package performs no synchronization.
package timeseries

import (
	"fmt"
	"sort"
)

// Point is one (timestamp, value) measurement. Timestamp is Unix
// nanoseconds.
type Point struct {
	Timestamp int64   `cbor:"timestamp"`
	Value     float64 `cbor:"value"`
}

// Mode selects the per-bucket aggregation used by Normalize.
type Mode uint8

const (
	// ModeGauge emits the mean of each bucket's values: the
	// representative instantaneous value over the bucket.
	ModeGauge Mode = 0

	// ModeCounter emits the maximum of each bucket's values. For a
	// repaired (non-decreasing) cumulative series the maximum is the
	// bucket's closing value, which keeps the downsampled series
	// consistent with cumulative semantics.
	ModeCounter Mode = 1
)

// Series is an ordered sequence of points. After Sort the points are
// ascending by timestamp; points with equal timestamps keep their
// insertion order.
type Series struct {
	points []Point
}

// Append adds one point to the end of the series.
func (s *Series) Append(timestamp int64, value float64) {
	s.points = append(s.points, Point{Timestamp: timestamp, Value: value})
}

// MultiAppend adds points to the end of the series.
func (s *Series) MultiAppend(points []Point) {
	s.points = append(s.points, points...)
}

// Len returns the number of points.
func (s *Series) Len() int { return len(s.points) }

// Points returns the underlying point slice. The caller must not
// modify it while continuing to use the series.
func (s *Series) Points() []Point { return s.points }

// Sort orders the points ascending by timestamp. The sort is stable:
// points with equal timestamps keep their insertion order.
func (s *Series) Sort() {
	sort.SliceStable(s.points, func(i, j int) bool {
		return s.points[i].Timestamp < s.points[j].Timestamp
	})
}

// MakeIncreasing repairs counter resets by walking the series in
// order with a running maximum and lifting every point below the
// maximum up to it. [5 3 3 7 2 9] becomes [5 5 5 7 7 9]. The series
// must already be sorted.
func (s *Series) MakeIncreasing() {
	var runningMax float64
	for i := range s.points {
		if i == 0 || s.points[i].Value > runningMax {
			runningMax = s.points[i].Value
		} else {
			s.points[i].Value = runningMax
		}
	}
}

// Normalize downsamples the series into equal-width buckets spanning
// [start, end). Each non-empty bucket yields one point at the bucket
// start: the mean of the bucket's values in ModeGauge, the maximum in
// ModeCounter. Points outside [start, end) are discarded. The series
// must already be sorted.
//
// The transform is deterministic and idempotent: normalizing its own
// output with the same parameters reproduces it.
func (s *Series) Normalize(bucketWidth int64, start, end int64, mode Mode) error {
	if bucketWidth <= 0 {
		return fmt.Errorf("timeseries: bucket width must be positive, got %d", bucketWidth)
	}
	if end < start {
		return fmt.Errorf("timeseries: end %d before start %d", end, start)
	}

	original := s.points
	s.points = nil

	i := 0
	// Skip points before the window.
	for i < len(original) && original[i].Timestamp < start {
		i++
	}

	for bucketStart := start; bucketStart < end; bucketStart += bucketWidth {
		bucketEnd := min(bucketStart+bucketWidth, end)

		var sum, maxValue float64
		count := 0
		for i < len(original) && original[i].Timestamp < bucketEnd {
			value := original[i].Value
			sum += value
			if count == 0 || value > maxValue {
				maxValue = value
			}
			count++
			i++
		}
		if count == 0 {
			continue
		}

		switch mode {
		case ModeGauge:
			s.Append(bucketStart, sum/float64(count))
		case ModeCounter:
			s.Append(bucketStart, maxValue)
		default:
			return fmt.Errorf("timeseries: unknown normalize mode %d", mode)
		}
	}

	return nil
}
