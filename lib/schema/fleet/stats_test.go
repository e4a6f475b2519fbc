// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package fleet

import (
	"errors"
	"testing"
)

func TestParseMetricKnownSelectors(t *testing.T) {
	for _, metric := range Metrics() {
		parsed, err := ParseMetric(string(metric))
		if err != nil {
			t.Errorf("ParseMetric(%q): %v", metric, err)
		}
		if parsed != metric {
			t.Errorf("ParseMetric(%q) = %q", metric, parsed)
		}
	}
}

func TestParseMetricUnknownSelector(t *testing.T) {
	_, err := ParseMetric("disk_temperature")
	if err == nil {
		t.Fatal("unknown selector accepted")
	}
	if !errors.Is(err, ErrUnknownMetric) {
		t.Errorf("error = %v, want ErrUnknownMetric", err)
	}
}

func TestMetricClassification(t *testing.T) {
	gauges := map[Metric]bool{
		MetricCPUPercent:    true,
		MetricMemoryPercent: true,
		MetricMemoryRSS:     true,
		MetricMemoryVMS:     true,
	}
	for _, metric := range Metrics() {
		want := ClassCounter
		if gauges[metric] {
			want = ClassGauge
		}
		if got := metric.Class(); got != want {
			t.Errorf("%s.Class() = %d, want %d", metric, got, want)
		}
	}
}

func TestKbFieldNamesSorted(t *testing.T) {
	fields := KbFieldNames()
	if len(fields) == 0 {
		t.Fatal("no knowledge base fields")
	}
	for i := 1; i < len(fields); i++ {
		if fields[i-1] >= fields[i] {
			t.Errorf("fields not strictly sorted at %d: %q >= %q", i, fields[i-1], fields[i])
		}
	}
}
