// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package filters

import (
	"fmt"
	"math"
	"sync"
	"time"
)

const (
	// EnergyDecayInterval is how often the accumulated energy leaks
	EnergyDecayInterval = 100 * time.Millisecond

	// maxEnergyStep caps the dt of a single sample so a long gap (a freshly
	// attached motor) doesn't dump a huge step into the integral
	maxEnergyStep = time.Second
)

// EnergyAccumulator approximates the heat put into a motor winding by
// integrating amplitude² over time while leaking a fixed fraction every
// EnergyDecayInterval. It is driven by an explicit clock so that the leak
// runs from the caller's loop rather than a background timer.
type EnergyAccumulator struct {
	mu         sync.Mutex
	resistance float64
	current    float64
	lastFeed   time.Time
	lastDecay  time.Time
	now        func() time.Time
}

// NewEnergyAccumulator creates an accumulator that keeps resistance (0 < r < 1)
// of its energy each decay interval
func NewEnergyAccumulator(resistance float64) (*EnergyAccumulator, error) {
	return newEnergyAccumulator(resistance, time.Now)
}

func newEnergyAccumulator(resistance float64, now func() time.Time) (*EnergyAccumulator, error) {
	if !(resistance > 0 && resistance < 1) {
		return nil, fmt.Errorf("energy resistance %v outside (0, 1): %w", resistance, ErrInvalidArgument)
	}
	t := now()
	return &EnergyAccumulator{
		resistance: resistance,
		lastFeed:   t,
		lastDecay:  t,
		now:        now,
	}, nil
}

// decay applies every whole interval that has elapsed. Caller holds mu.
func (e *EnergyAccumulator) decay(t time.Time) {
	n := int(t.Sub(e.lastDecay) / EnergyDecayInterval)
	if n <= 0 {
		return
	}
	e.current *= math.Pow(e.resistance, float64(n))
	e.lastDecay = e.lastDecay.Add(time.Duration(n) * EnergyDecayInterval)
}

// Feed integrates one amplitude sample and returns the accumulated energy
func (e *EnergyAccumulator) Feed(amplitude float64) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if math.IsNaN(amplitude) || math.IsInf(amplitude, 0) {
		return e.current, fmt.Errorf("energy accumulator got %v: %w", amplitude, ErrInvalidArgument)
	}

	t := e.now()
	e.decay(t)

	dt := t.Sub(e.lastFeed)
	if dt > maxEnergyStep {
		dt = maxEnergyStep
	}
	e.lastFeed = t

	e.current += amplitude * amplitude * float64(dt.Milliseconds())
	return e.current, nil
}

// Value returns the accumulated energy after applying any pending decay
func (e *EnergyAccumulator) Value() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.decay(e.now())
	return e.current
}

// Reset zeroes the accumulated energy
func (e *EnergyAccumulator) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.current = 0
	t := e.now()
	e.lastDecay = t
	e.lastFeed = t
}
