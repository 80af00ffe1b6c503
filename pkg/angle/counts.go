// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package angle

// PositionScale is the number of logical position units per full motor
// revolution. Positions are clamped to [-1, 1], a quarter revolution each way
// from zero, so counts further than that from zero do not round trip.
const PositionScale = 4

// CountConverter maps between raw motor counts and a logical position
// relative to a zero offset.
type CountConverter struct {
	counts Range
	cpr    float64
	zero   float64
}

// NewCountConverter creates a converter for a motor with the given counts per
// mechanical revolution and zero offset
func NewCountConverter(countsPerRevolution, zero float64) *CountConverter {
	return &CountConverter{
		counts: New(countsPerRevolution),
		cpr:    countsPerRevolution,
		zero:   zero,
	}
}

// CountsToPosition converts motor counts (normalized if out of range) to a
// logical position
func (c *CountConverter) CountsToPosition(counts float64) float64 {
	counts = c.counts.NormalizeHalf(counts - c.zero)
	return counts / c.cpr * PositionScale
}

// PositionToCounts converts a logical position, clamped to [-1, 1], back to
// motor counts in [0, countsPerRevolution)
func (c *CountConverter) PositionToCounts(pos float64) float64 {
	if pos > 1 {
		pos = 1
	} else if pos < -1 {
		pos = -1
	}
	return c.counts.Normalize(pos/PositionScale*c.cpr + c.zero)
}
