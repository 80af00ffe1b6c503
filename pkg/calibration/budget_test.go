// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package calibration

import (
	"errors"
	"math"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1700000000, 0)}
}

func TestBudget_FourFailuresThenSuccess(t *testing.T) {
	clk := newFakeClock()
	b := newBudget(DefaultBudgetConfig(), clk.now)

	for i := 0; i < 4; i++ {
		if _, err := b.Fail(); err != nil {
			t.Fatalf("Fail() #%d error = %v", i+1, err)
		}
		clk.advance(10 * time.Millisecond)
	}
	if lvl := b.Level(); lvl > 5 {
		t.Errorf("Level() = %v, want <= 5", lvl)
	}
}

func TestBudget_SixFastFailures(t *testing.T) {
	clk := newFakeClock()
	b := newBudget(DefaultBudgetConfig(), clk.now)

	var err error
	for i := 0; i < 6 && err == nil; i++ {
		_, err = b.Fail()
		clk.advance(time.Millisecond)
	}
	if !errors.Is(err, ErrBudgetExhausted) {
		t.Errorf("Fail() error = %v, want ErrBudgetExhausted", err)
	}
}

func TestBudget_Decay(t *testing.T) {
	clk := newFakeClock()
	b := newBudget(DefaultBudgetConfig(), clk.now)

	b.Fail()
	b.Fail()

	tests := []struct {
		advance time.Duration
		want    float64
	}{
		{50 * time.Millisecond, 2},
		{50 * time.Millisecond, 1.9},
		{time.Second, 0.9},
		{10 * time.Second, 0},
	}

	for _, tt := range tests {
		clk.advance(tt.advance)
		if got := b.Level(); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("Level() after +%v = %v, want %v", tt.advance, got, tt.want)
		}
	}
}

func TestBudget_DecayAllowsSustainedSlowErrors(t *testing.T) {
	clk := newFakeClock()
	b := newBudget(DefaultBudgetConfig(), clk.now)

	// one error per second is forgiven as fast as it arrives
	for i := 0; i < 50; i++ {
		if _, err := b.Fail(); err != nil {
			t.Fatalf("Fail() #%d error = %v", i+1, err)
		}
		clk.advance(time.Second)
	}
}

func TestBudget_Reset(t *testing.T) {
	b := newBudget(DefaultBudgetConfig(), newFakeClock().now)
	b.Fail()
	b.Reset()
	if lvl := b.Level(); lvl != 0 {
		t.Errorf("Level() after Reset() = %v, want 0", lvl)
	}
}
