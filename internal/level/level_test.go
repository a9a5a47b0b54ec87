// Readnest - Social Reading Platform Client for Go
// Copyright 2026 Readnest Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/readnest/readnest-go

package level

import "testing"

func TestDeriveBoundaries(t *testing.T) {
	cases := []struct {
		exp  int64
		want int
	}{
		{0, 1},
		{1, 1},
		{99, 1},
		{100, 2}, // inclusive lower bound
		{101, 2},
		{299, 2},
		{300, 3},
		{599, 3},
		{600, 4},
		{999, 4},
		{1000, 5},
		{1499, 5},
		{1500, 6},
		{2099, 6},
		{2100, 7},
		{2799, 7},
		{2800, 8},
		{3599, 8},
		{3600, 9},
		{4499, 9},
		{4500, 10},
	}

	for _, c := range cases {
		if got := Derive(c.exp); got.Level != c.want {
			t.Errorf("Derive(%d).Level = %d, want %d", c.exp, got.Level, c.want)
		}
	}
}

func TestDeriveClampsAtMaxLevel(t *testing.T) {
	for _, exp := range []int64{4500, 4501, 100000, 1 << 40} {
		got := Derive(exp)
		if got.Level != MaxLevel {
			t.Errorf("Derive(%d).Level = %d, want %d", exp, got.Level, MaxLevel)
		}
		if got.Title != "Ancient Tree" || got.Region != "Canopy" {
			t.Errorf("Derive(%d) = %+v, want top-row title and region", exp, got)
		}
	}
}

func TestDeriveNegativeClampsToZero(t *testing.T) {
	want := Derive(0)
	for _, exp := range []int64{-1, -100, -1 << 40} {
		if got := Derive(exp); got != want {
			t.Errorf("Derive(%d) = %+v, want %+v", exp, got, want)
		}
	}
}

func TestDeriveMonotonic(t *testing.T) {
	prev := 0
	for exp := int64(0); exp <= 5000; exp++ {
		r := Derive(exp)
		if r.Level < 1 || r.Level > MaxLevel {
			t.Fatalf("Derive(%d).Level = %d out of range [1,%d]", exp, r.Level, MaxLevel)
		}
		if r.Level < prev {
			t.Fatalf("Derive(%d).Level = %d decreased from %d", exp, r.Level, prev)
		}
		prev = r.Level
	}
}

func TestDeriveIsPure(t *testing.T) {
	for _, exp := range []int64{0, 100, 2100, 9999} {
		first := Derive(exp)
		for i := 0; i < 3; i++ {
			if got := Derive(exp); got != first {
				t.Errorf("Derive(%d) not idempotent: %+v != %+v", exp, got, first)
			}
		}
	}
}

func TestTitleAndRegionChangeTogether(t *testing.T) {
	// A title change without a region change (or vice versa) would mean the
	// derived fields can drift apart.
	prev := Derive(0)
	for exp := int64(1); exp <= 5000; exp++ {
		cur := Derive(exp)
		if (cur.Title != prev.Title) != (cur.Region != prev.Region) {
			t.Fatalf("at exp=%d title/region changed independently: %+v -> %+v", exp, prev, cur)
		}
		if (cur.Level != prev.Level) != (cur.Title != prev.Title) {
			t.Fatalf("at exp=%d level/title changed independently: %+v -> %+v", exp, prev, cur)
		}
		prev = cur
	}
}

func TestNextThreshold(t *testing.T) {
	cases := []struct {
		exp    int64
		want   int64
		wantOK bool
	}{
		{0, 100, true},
		{99, 100, true},
		{100, 300, true},
		{4499, 4500, true},
		{4500, 0, false},
		{1 << 40, 0, false},
		{-5, 100, true},
	}

	for _, c := range cases {
		got, ok := NextThreshold(c.exp)
		if got != c.want || ok != c.wantOK {
			t.Errorf("NextThreshold(%d) = (%d, %v), want (%d, %v)", c.exp, got, ok, c.want, c.wantOK)
		}
	}
}

func TestThresholdsReturnsCopy(t *testing.T) {
	a := Thresholds()
	a[0].Title = "mutated"
	b := Thresholds()
	if b[0].Title == "mutated" {
		t.Error("Thresholds() exposed internal table for mutation")
	}
}
