// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package geoip

import "testing"

func TestResolveWithoutDatabase(t *testing.T) {
	resolver, err := New("")
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	defer resolver.Close()

	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"empty", "", StatusUnknown},
		{"garbage", "not-an-ip", StatusUnknown},
		{"rfc1918 ten", "10.1.2.3", StatusInternal},
		{"rfc1918 oneninetwo", "192.168.0.5", StatusInternal},
		{"loopback", "127.0.0.1", StatusInternal},
		{"link local", "169.254.10.10", StatusInternal},
		{"public v4", "203.0.113.9", StatusExternal},
		{"public v6", "2001:db8::1", StatusExternal},
		{"surrounding whitespace", "  203.0.113.9\n", StatusExternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, info := resolver.Resolve(tc.raw)
			if status != tc.want {
				t.Errorf("Resolve(%q) status = %q, want %q", tc.raw, status, tc.want)
			}
			if info != "" {
				t.Errorf("Resolve(%q) info = %q, want empty without a database", tc.raw, info)
			}
		})
	}
}

func TestMissingDatabaseErrors(t *testing.T) {
	if _, err := New("/nonexistent/GeoLite2-City.mmdb"); err == nil {
		t.Fatal("New with missing database succeeded")
	}
}
