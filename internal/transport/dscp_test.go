// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Quic License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package transport

import "testing"

func TestParseDSCP(t *testing.T) {
	tests := []struct {
		name string
		want int
	}{
		{"", 0},
		{"EF", 46},
		{"ef", 46},
		{" af41 ", 34},
		{"AF11", 10},
		{"AF23", 22},
		{"AF43", 38},
		{"CS0", 0},
		{"CS1", 8},
		{"cs7", 56},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDSCP(tt.name)
			if err != nil {
				t.Fatalf("ParseDSCP(%q): %v", tt.name, err)
			}
			if got != tt.want {
				t.Errorf("ParseDSCP(%q): expected %d, got %d", tt.name, tt.want, got)
			}
		})
	}
}

func TestParseDSCP_Invalid(t *testing.T) {
	for _, name := range []string{"NOPE", "CS8", "AF51", "AF14", "AF01", "AF1", "EF1", "C S1"} {
		if _, err := ParseDSCP(name); err == nil {
			t.Errorf("ParseDSCP(%q): expected error, got nil", name)
		}
	}
}
