// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package angle

import (
	"errors"
	"math"
	"math/rand"
	"testing"
)

// ============================================================
// Normalize Tests
// ============================================================

func TestNormalize(t *testing.T) {
	r := New(360)
	tests := []struct {
		in   float64
		want float64
	}{
		{0, 0},
		{359, 359},
		{360, 0},
		{-1, 359},
		{725, 5},
		{-725, 355},
	}

	for _, tt := range tests {
		if got := r.Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeHalf(t *testing.T) {
	r := New(360)
	tests := []struct {
		in   float64
		want float64
	}{
		{0, 0},
		{179, 179},
		{180, -180},
		{-180, -180},
		{270, -90},
		{-270, 90},
	}

	for _, tt := range tests {
		if got := r.NormalizeHalf(tt.in); got != tt.want {
			t.Errorf("NormalizeHalf(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNormalize_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, size := range []float64{Tau, 360, 16384, 3840} {
		r := New(size)
		for i := 0; i < 1000; i++ {
			x := math.Round((rng.Float64() - 0.5) * 1e6)
			n := r.Normalize(x)
			if n < 0 || n >= size {
				t.Fatalf("Normalize(%v) = %v, outside [0, %v)", x, n, size)
			}
			if shifted := r.Normalize(x + size); math.Abs(shifted-n) > 1e-9 {
				t.Fatalf("Normalize(%v + %v) = %v, want %v", x, size, shifted, n)
			}
			h := r.NormalizeHalf(x)
			if h < -size/2 || h >= size/2 {
				t.Fatalf("NormalizeHalf(%v) = %v, outside [%v, %v)", x, h, -size/2, size/2)
			}
		}
	}
}

// ============================================================
// Average Tests
// ============================================================

func TestAverage_Ambiguous(t *testing.T) {
	r := Radians()
	got, err := r.Average([]float64{0, math.Pi})
	if err != nil {
		t.Errorf("Average() error = %v, want nil for non-strict range", err)
	}
	if !math.IsNaN(got) {
		t.Errorf("Average([0, π]) = %v, want NaN", got)
	}

	r.Strict = true
	got, err = r.Average([]float64{0, math.Pi})
	if !errors.Is(err, ErrAmbiguousAverage) {
		t.Errorf("Average() error = %v, want ErrAmbiguousAverage", err)
	}
	if !math.IsNaN(got) {
		t.Errorf("Average([0, π]) = %v, want NaN", got)
	}
}

func TestAverage_Empty(t *testing.T) {
	if got := New(360).Mean(nil); !math.IsNaN(got) {
		t.Errorf("Mean(nil) = %v, want NaN", got)
	}
}

func TestAverage_Single(t *testing.T) {
	r := New(16384)
	for _, a := range []float64{0, 1, 100, 8191, 8192, 16383} {
		got := r.Normalize(r.Mean([]float64{a}))
		if math.Abs(r.Distance(got, a)) > 1e-6 {
			t.Errorf("Mean([%v]) = %v, want %v", a, got, a)
		}
	}
}

func TestAverage_Wraparound(t *testing.T) {
	r := New(360)
	tests := []struct {
		name   string
		angles []float64
		want   float64
	}{
		{"across zero", []float64{350, 10}, 0},
		{"symmetric", []float64{80, 100}, 90},
		{"three near top", []float64{355, 0, 5}, 0},
		{"negative input", []float64{-10, 10}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.Mean(tt.angles)
			if math.Abs(r.Distance(got, tt.want)) > 1e-9 {
				t.Errorf("Mean(%v) = %v, want %v", tt.angles, got, tt.want)
			}
		})
	}
}

// ============================================================
// Count Converter Tests
// ============================================================

func TestCountConverter_RoundTrip(t *testing.T) {
	const cpr = 3840
	for _, zero := range []float64{0, 100, 3800} {
		c := NewCountConverter(cpr, zero)
		for d := -cpr / 4; d <= cpr/4; d++ {
			counts := New(cpr).Normalize(zero + float64(d))
			got := c.PositionToCounts(c.CountsToPosition(counts))
			if math.Abs(New(cpr).Distance(got, counts)) > 1e-9 {
				t.Fatalf("zero=%v: round trip of %v = %v", zero, counts, got)
			}
		}
	}
}

func TestCountConverter_Clamp(t *testing.T) {
	c := NewCountConverter(3840, 0)
	if got := c.PositionToCounts(5); got != 960 {
		t.Errorf("PositionToCounts(5) = %v, want 960", got)
	}
	if got := c.PositionToCounts(-5); got != 2880 {
		t.Errorf("PositionToCounts(-5) = %v, want 2880", got)
	}
	if got := c.CountsToPosition(960); got != 1 {
		t.Errorf("CountsToPosition(960) = %v, want 1", got)
	}
}
