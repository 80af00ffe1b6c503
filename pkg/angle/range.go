// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package angle provides modular arithmetic and vector averaging over a
// configurable circular range (2π radians, 360 degrees, 16384 sensor counts).
package angle

import (
	"errors"
	"math"
)

// Tau is one full turn in radians
const Tau = 2 * math.Pi

// epsilon matches the smallest difference between 1 and the next float64
const epsilon = 2.220446049250313e-16

// ErrAmbiguousAverage is returned when the resultant vector of an average is
// too short to have a meaningful direction, such as the average of [0, π].
var ErrAmbiguousAverage = errors.New("average angle is ambiguous")

// Range is a circular interval [0, Size). The zero value is not usable; use
// New or Radians.
type Range struct {
	size  float64
	scale float64

	// Strict makes Average report ambiguous averages as errors instead of NaN
	Strict bool
}

// New returns a range of the given size
func New(size float64) Range {
	return Range{size: size, scale: size / Tau}
}

// Radians returns the range [0, 2π)
func Radians() Range {
	return New(Tau)
}

// Size returns the length of the range
func (r Range) Size() float64 {
	return r.size
}

// Mod returns the positive modulus of x by m
func Mod(x, m float64) float64 {
	return math.Mod(math.Mod(x, m)+m, m)
}

// Normalize maps an arbitrary angle into [0, size)
func (r Range) Normalize(a float64) float64 {
	return Mod(a, r.size)
}

// NormalizeHalf maps an arbitrary angle into [-size/2, size/2)
func (r Range) NormalizeHalf(a float64) float64 {
	half := r.size / 2
	return Mod(a+half, r.size) - half
}

// Average returns the direction of the sum of unit vectors at each angle,
// in [-size/2, size/2]. An ambiguous average returns NaN, or NaN and
// ErrAmbiguousAverage when the range is Strict.
func (r Range) Average(angles []float64) (float64, error) {
	var x, y float64
	for _, a := range angles {
		s, c := math.Sincos(a / r.scale)
		y += s
		x += c
	}

	if x*x+y*y < epsilon {
		if r.Strict {
			return math.NaN(), ErrAmbiguousAverage
		}
		return math.NaN(), nil
	}

	return math.Atan2(y, x) * r.scale, nil
}

// Mean is Average without the error, for callers that treat NaN as "skip"
func (r Range) Mean(angles []float64) float64 {
	v, _ := r.Average(angles)
	return v
}

// Distance returns the signed shortest distance from a to b
func (r Range) Distance(a, b float64) float64 {
	return r.NormalizeHalf(b - a)
}
