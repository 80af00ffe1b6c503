// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package filters holds the small numeric filters used around the motor
// link: clamps, a first order exponential filter and a leaky energy
// integrator used for thermal cutoff.
package filters

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidArgument is returned for out-of-range filter parameters and
// non-finite inputs
var ErrInvalidArgument = errors.New("invalid argument")

// ClampRange keeps x within [min, max]. Bounds given in the wrong order are
// swapped.
func ClampRange(x, min, max float64) float64 {
	if min > max {
		min, max = max, min
	}
	if x > max {
		return max
	}
	if x < min {
		return min
	}
	return x
}

// ClampSymmetric keeps x within [-r, r]
func ClampSymmetric(x, r float64) float64 {
	return ClampRange(x, r, -r)
}

// ClampPositive keeps x within [0, max]
func ClampPositive(x, max float64) float64 {
	return ClampRange(x, 0, max)
}

// ExponentialFilter is a first order low pass filter. The first sample
// seeds the output.
type ExponentialFilter struct {
	lambda  float64
	current float64
	primed  bool
}

// NewExponentialFilter creates a filter with smoothing factor lambda in [0, 1]
func NewExponentialFilter(lambda float64) (*ExponentialFilter, error) {
	if math.IsNaN(lambda) || lambda < 0 || lambda > 1 {
		return nil, fmt.Errorf("exponential filter lambda %v outside [0, 1]: %w", lambda, ErrInvalidArgument)
	}
	return &ExponentialFilter{lambda: lambda}, nil
}

// Feed adds a sample and returns the filtered value
func (f *ExponentialFilter) Feed(v float64) (float64, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return f.current, fmt.Errorf("exponential filter got %v: %w", v, ErrInvalidArgument)
	}
	if !f.primed {
		f.current = v
		f.primed = true
	} else {
		f.current = f.lambda*v + (1-f.lambda)*f.current
	}
	return f.current, nil
}

// Value returns the current output
func (f *ExponentialFilter) Value() float64 {
	return f.current
}
