// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package calibration captures, replays and processes sensor calibration
// sweeps.
package calibration

import (
	"math"
	"time"
)

// DataPoint is one calibration sample
type DataPoint struct {
	Alpha       uint16
	X, Y, Z     int16
	Current     int16
	Temperature uint16
	AS, BS, CS  uint16
	AIN0        uint16
	VG          uint8
}

// Sweep is a sparse step-indexed sample array. Steps never written are
// absent, which is distinct from a zero sample.
type Sweep struct {
	points  []DataPoint
	present []bool
}

// NewSweep creates an empty sweep with room for n steps
func NewSweep(n int) *Sweep {
	return &Sweep{
		points:  make([]DataPoint, 0, n),
		present: make([]bool, 0, n),
	}
}

// Set records the sample for a step, growing the sweep as needed
func (s *Sweep) Set(step int, p DataPoint) {
	if step < 0 {
		return
	}
	if n := step + 1 - len(s.points); n > 0 {
		s.points = append(s.points, make([]DataPoint, n)...)
		s.present = append(s.present, make([]bool, n)...)
	}
	s.points[step] = p
	s.present[step] = true
}

// Get returns the sample for a step and whether one was recorded
func (s *Sweep) Get(step int) (DataPoint, bool) {
	if s == nil || step < 0 || step >= len(s.points) || !s.present[step] {
		return DataPoint{}, false
	}
	return s.points[step], true
}

// Len is one past the highest recorded step
func (s *Sweep) Len() int {
	if s == nil {
		return 0
	}
	return len(s.points)
}

// Count is the number of recorded steps
func (s *Sweep) Count() int {
	if s == nil {
		return 0
	}
	n := 0
	for _, ok := range s.present {
		if ok {
			n++
		}
	}
	return n
}

// Alphas returns the alpha readings with NaN marking absent steps
func (s *Sweep) Alphas() []float64 {
	out := make([]float64, s.Len())
	for i := range out {
		if p, ok := s.Get(i); ok {
			out[i] = float64(p.Alpha)
		} else {
			out[i] = math.NaN()
		}
	}
	return out
}

// DataFormat is a complete raw capture
type DataFormat struct {
	Forward *Sweep
	Reverse *Sweep
	Time    time.Time
}
