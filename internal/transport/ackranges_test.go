// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Quic License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package transport

import (
	"math/rand"
	"reflect"
	"sort"
	"testing"

	"github.com/nishisan-dev/n-quic/internal/wire"
)

func trackerWith(pns ...uint32) *AckTracker {
	a := NewAckTracker()
	for _, pn := range pns {
		a.Record(pn)
	}
	return a
}

func sortedSet(pns []uint32) []uint32 {
	seen := make(map[uint32]bool)
	var out []uint32
	for _, pn := range pns {
		if !seen[pn] {
			seen[pn] = true
			out = append(out, pn)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func TestBuildAckFrame_RangeEncoding(t *testing.T) {
	a := trackerWith(1, 2, 3, 6, 7, 8, 9, 13, 14, 15, 18, 19)

	f := a.BuildAckFrame(0)
	if f == nil {
		t.Fatal("expected frame, got nil")
	}

	if f.LargestAcked != 19 {
		t.Errorf("expected largest_acked 19, got %d", f.LargestAcked)
	}
	if f.FirstRange != 1 {
		t.Errorf("expected first_range 1, got %d", f.FirstRange)
	}
	wantRanges := []wire.AckRange{{Gap: 2, Length: 3}, {Gap: 3, Length: 4}, {Gap: 2, Length: 3}}
	if !reflect.DeepEqual(f.Ranges, wantRanges) {
		t.Errorf("expected ranges %v, got %v", wantRanges, f.Ranges)
	}
}

func TestBuildAckFrame_Shapes(t *testing.T) {
	tests := []struct {
		name       string
		pns        []uint32
		largest    uint32
		firstRange uint32
		ranges     int
	}{
		{"single pn", []uint32{5}, 5, 0, 0},
		{"one run", []uint32{3, 4, 5, 6}, 6, 3, 0},
		{"two runs", []uint32{0, 1, 5, 6}, 6, 1, 1},
		{"starts at zero", []uint32{0}, 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := trackerWith(tt.pns...).BuildAckFrame(0)
			if f == nil {
				t.Fatal("expected frame, got nil")
			}
			if f.LargestAcked != tt.largest {
				t.Errorf("expected largest %d, got %d", tt.largest, f.LargestAcked)
			}
			if f.FirstRange != tt.firstRange {
				t.Errorf("expected first_range %d, got %d", tt.firstRange, f.FirstRange)
			}
			if len(f.Ranges) != tt.ranges {
				t.Errorf("expected %d ranges, got %d", tt.ranges, len(f.Ranges))
			}
		})
	}
}

func TestBuildAckFrame_Empty(t *testing.T) {
	if f := NewAckTracker().BuildAckFrame(0); f != nil {
		t.Errorf("expected nil frame for empty set, got %+v", f)
	}
}

func TestDecodeAckRanges_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		pns  []uint32
	}{
		{"single", []uint32{7}},
		{"one run", []uint32{0, 1, 2, 3}},
		{"interleaved", []uint32{1, 2, 3, 6, 7, 8, 9, 13, 14, 15, 18, 19}},
		{"isolated pns", []uint32{0, 2, 4, 6, 8}},
		{"large values", []uint32{4294967290, 4294967291, 4294967295}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := trackerWith(tt.pns...).BuildAckFrame(0)
			got := sortedSet(DecodeAckRanges(f))
			want := sortedSet(tt.pns)
			if !reflect.DeepEqual(got, want) {
				t.Errorf("expected %v, got %v", want, got)
			}
		})
	}
}

func TestDecodeAckRanges_RandomSets(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 200; i++ {
		set := make(map[uint32]bool)
		n := 1 + rng.Intn(60)
		for j := 0; j < n; j++ {
			set[uint32(rng.Intn(500))] = true
		}

		var pns []uint32
		for pn := range set {
			pns = append(pns, pn)
		}

		f := trackerWith(pns...).BuildAckFrame(0)
		got := sortedSet(DecodeAckRanges(f))
		want := sortedSet(pns)
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("iteration %d: expected %v, got %v", i, want, got)
		}
	}
}

func TestDecodeAckRanges_S5Shape(t *testing.T) {
	f := &wire.AckFrame{LargestAcked: 6, FirstRange: 3, Ranges: []wire.AckRange{{Gap: 1, Length: 2}}}

	got := sortedSet(DecodeAckRanges(f))
	want := []uint32{0, 1, 3, 4, 5, 6}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestDecodeAckRanges_Malformed(t *testing.T) {
	// first_range maior que largest levaria a underflow.
	if got := DecodeAckRanges(&wire.AckFrame{LargestAcked: 2, FirstRange: 5}); got != nil {
		t.Errorf("expected nil, got %v", got)
	}

	// Range cujo gap atravessa o zero para a decodificação no ponto.
	f := &wire.AckFrame{LargestAcked: 3, FirstRange: 1, Ranges: []wire.AckRange{{Gap: 5, Length: 2}}}
	got := sortedSet(DecodeAckRanges(f))
	want := []uint32{2, 3}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestAckTracker_RecordRemove(t *testing.T) {
	a := NewAckTracker()
	a.Record(1)
	a.Record(2)
	a.Record(2) // duplicata

	if a.Len() != 2 {
		t.Errorf("expected 2 pending, got %d", a.Len())
	}

	a.Remove(1)
	a.Remove(99) // inexistente: noop

	if a.Len() != 1 || a.Empty() {
		t.Errorf("expected 1 pending, got %d", a.Len())
	}

	a.Remove(2)
	if !a.Empty() {
		t.Error("expected empty tracker")
	}
}
