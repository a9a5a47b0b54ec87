// Readnest - Social Reading Platform Client for Go
// Copyright 2026 Readnest Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/readnest/readnest-go

// Package level maps cumulative experience points to the discrete reader
// level shown throughout the client.
//
// The mapping is a fixed table of ten ascending thresholds. Derivation is a
// pure function: identical input always yields identical output, with no
// dependency on session state. Callers must never store a level independently
// of the experience value it was derived from.
package level

// Rank is the derived gamification state for an experience total.
type Rank struct {
	Level  int    `json:"level"`
	Title  string `json:"title"`
	Region string `json:"region"`
}

// Threshold is one row of the level table. MinExp is the inclusive lower
// bound of the experience range that maps to Level.
type Threshold struct {
	MinExp int64  `json:"minExp"`
	Level  int    `json:"level"`
	Title  string `json:"title"`
	Region string `json:"region"`
}

// MaxLevel is the highest attainable level. Experience has no upper cap;
// everything at or beyond the last threshold clamps to MaxLevel.
const MaxLevel = 10

// thresholds is static configuration, ordered ascending by MinExp.
// Never mutated at runtime.
var thresholds = [MaxLevel]Threshold{
	{0, 1, "Seedling Reader", "Meadow"},
	{100, 2, "Sprout Reader", "Grove"},
	{300, 3, "Sapling Reader", "Thicket"},
	{600, 4, "Budding Reader", "Woodland"},
	{1000, 5, "Blooming Reader", "Forest"},
	{1500, 6, "Steady Reader", "Deep Forest"},
	{2100, 7, "Devoted Reader", "Highland"},
	{2800, 8, "Voracious Reader", "Mist Valley"},
	{3600, 9, "Sage Reader", "Summit"},
	{4500, 10, "Ancient Tree", "Canopy"},
}

// Derive returns the rank for a cumulative experience total.
//
// The selected row is the one with the greatest MinExp less than or equal to
// exp (lower bounds are inclusive). Negative input is clamped to zero so that
// derivation stays total and deterministic.
func Derive(exp int64) Rank {
	if exp < 0 {
		exp = 0
	}

	// Linear scan from the top; the table is ten rows.
	for i := len(thresholds) - 1; i >= 0; i-- {
		if exp >= thresholds[i].MinExp {
			t := thresholds[i]
			return Rank{Level: t.Level, Title: t.Title, Region: t.Region}
		}
	}

	// Unreachable: the first row has MinExp 0.
	t := thresholds[0]
	return Rank{Level: t.Level, Title: t.Title, Region: t.Region}
}

// Thresholds returns a copy of the level table, for display surfaces that
// render progress toward the next level.
func Thresholds() []Threshold {
	out := make([]Threshold, len(thresholds))
	copy(out, thresholds[:])
	return out
}

// NextThreshold returns the experience lower bound of the next level, and
// false when exp is already at or beyond the final threshold.
func NextThreshold(exp int64) (int64, bool) {
	if exp < 0 {
		exp = 0
	}
	for i := range thresholds {
		if exp < thresholds[i].MinExp {
			return thresholds[i].MinExp, true
		}
	}
	return 0, false
}
