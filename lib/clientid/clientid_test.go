// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package clientid

import (
	"testing"

	"github.com/thehotelbravo/warden/lib/codec"
)

func TestParseValid(t *testing.T) {
	id, err := Parse("C.1a2b3c4d5e6f7a8b")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := id.String(); got != "C.1a2b3c4d5e6f7a8b" {
		t.Errorf("String() = %q", got)
	}
	if id.IsZero() {
		t.Error("valid ID reported IsZero")
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"missing prefix", "1a2b3c4d5e6f7a8bXX"},
		{"wrong prefix", "X.1a2b3c4d5e6f7a8b"},
		{"short suffix", "C.1a2b3c4d5e6f7a8"},
		{"long suffix", "C.1a2b3c4d5e6f7a8b0"},
		{"uppercase hex", "C.1A2B3C4D5E6F7A8B"},
		{"non-hex suffix", "C.1a2b3c4d5e6f7a8z"},
		{"arbitrary text", "host.example.com"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Parse(tc.raw); err == nil {
				t.Errorf("Parse(%q) succeeded, want error", tc.raw)
			}
		})
	}
}

func TestSortOrdersAscending(t *testing.T) {
	ids := []ID{
		MustParse("C.000000000000000c"),
		MustParse("C.000000000000000a"),
		MustParse("C.000000000000000b"),
	}
	Sort(ids)
	want := []string{"C.000000000000000a", "C.000000000000000b", "C.000000000000000c"}
	for i, w := range want {
		if ids[i].String() != w {
			t.Errorf("ids[%d] = %s, want %s", i, ids[i], w)
		}
	}
}

func TestCBORRoundTrip(t *testing.T) {
	in := MustParse("C.1a2b3c4d5e6f7a8b")
	data, err := codec.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var out ID
	if err := codec.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out != in {
		t.Errorf("round trip: got %v, want %v", out, in)
	}
}

func TestUnmarshalTextRejectsInvalid(t *testing.T) {
	var id ID
	if err := id.UnmarshalText([]byte("C.nothexnothexnotx")); err == nil {
		t.Error("UnmarshalText accepted invalid id")
	}
}
