// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package calibration

import (
	"sync"
	"time"
)

// BudgetConfig tunes the retry budget. The defaults are empirical.
type BudgetConfig struct {
	Threshold float64
	Decay     float64
	Interval  time.Duration
}

// DefaultBudgetConfig allows 5 errors, forgiving 0.1 every 100ms
func DefaultBudgetConfig() BudgetConfig {
	return BudgetConfig{
		Threshold: 5,
		Decay:     0.1,
		Interval:  100 * time.Millisecond,
	}
}

// Budget is a leaky bucket of retryable errors. Decay is applied from the
// clock whenever the level is observed, so it runs alongside a blocked
// caller without its own goroutine.
type Budget struct {
	cfg BudgetConfig
	now func() time.Time

	mu    sync.Mutex
	level float64
	last  time.Time
}

// NewBudget creates an empty budget
func NewBudget(cfg BudgetConfig) *Budget {
	return newBudget(cfg, time.Now)
}

func newBudget(cfg BudgetConfig, now func() time.Time) *Budget {
	return &Budget{cfg: cfg, now: now, last: now()}
}

func (b *Budget) decay() {
	t := b.now()
	if b.cfg.Interval <= 0 {
		b.last = t
		return
	}
	ticks := int(t.Sub(b.last) / b.cfg.Interval)
	if ticks <= 0 {
		return
	}
	b.last = b.last.Add(time.Duration(ticks) * b.cfg.Interval)
	b.level -= float64(ticks) * b.cfg.Decay
	if b.level < 0 {
		b.level = 0
	}
}

// Level returns the current error level
func (b *Budget) Level() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.decay()
	return b.level
}

// Fail records one error. It returns ErrBudgetExhausted once the level
// reaches the threshold.
func (b *Budget) Fail() (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.decay()
	b.level++
	if b.level >= b.cfg.Threshold {
		return b.level, ErrBudgetExhausted
	}
	return b.level, nil
}

// Reset empties the budget
func (b *Budget) Reset() {
	b.mu.Lock()
	b.level = 0
	b.last = b.now()
	b.mu.Unlock()
}
