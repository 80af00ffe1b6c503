// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package calibration

import (
	"math"
	"math/rand"
	"testing"

	"github.com/Thermoquad/gyrostat/pkg/angle"
)

// ============================================================
// Smoothing
// ============================================================

func TestSmooth_StaysInNeighborhood(t *testing.T) {
	raw := []float64{10, 12, 11, 13, 10, 12, 11, 13, 10, 12, 11, 13, 10, 12}
	out := Smooth(raw, angle.New(1024))

	for i, v := range out {
		if v < 10 || v > 13 {
			t.Errorf("Smooth()[%d] = %v, want within [10, 13]", i, v)
		}
	}
}

func TestSmooth_WrapsAtArrayBoundary(t *testing.T) {
	// values cluster around 0, straddling the modulus
	raw := []float64{1022, 1, 1023, 2, 1021, 3, 0, 1022, 1, 1023, 2, 1021}
	out := Smooth(raw, angle.New(1024))

	r := angle.New(1024)
	for i, v := range out {
		if d := math.Abs(r.NormalizeHalf(v)); d > 4 {
			t.Errorf("Smooth()[%d] = %v, want within 4 of 0", i, v)
		}
	}
}

func TestSmooth_SkipsMissingSamples(t *testing.T) {
	nan := math.NaN()
	raw := []float64{100, nan, nan, 102, nan, 104, nan, nan, 106, nan, 108, nan}
	out := Smooth(raw, angle.New(1024))

	for i, v := range out {
		if math.IsNaN(v) {
			t.Errorf("Smooth()[%d] = NaN, want a value", i)
		}
		if v < 100 || v > 108 {
			t.Errorf("Smooth()[%d] = %v, want within [100, 108]", i, v)
		}
	}
}

func TestSmooth_AllMissing(t *testing.T) {
	nan := math.NaN()
	out := Smooth([]float64{nan, nan, nan}, angle.New(1024))
	for i, v := range out {
		if !math.IsNaN(v) {
			t.Errorf("Smooth()[%d] = %v, want NaN", i, v)
		}
	}
}

// ============================================================
// Inversion
// ============================================================

func linear(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i)
	}
	return out
}

func TestProcess_LinearIsMonotonic(t *testing.T) {
	const modulus = 3 * 256 * 5
	p := Process(linear(modulus), linear(modulus), modulus)

	descents := 0
	for i := 1; i < TableSize; i++ {
		if p.InverseTable[i] < p.InverseTable[i-1] {
			descents++
		}
	}
	if descents > 1 {
		t.Errorf("InverseTable decreases %d times, want at most one wrap", descents)
	}

	for _, b := range []int{1000, 2048, 3000} {
		want := float64(b) * modulus / TableSize
		if got := float64(p.InverseTable[b]); math.Abs(got-want) > 2 {
			t.Errorf("InverseTable[%d] = %v, want about %v", b, got, want)
		}
	}
}

func TestProcess_TableRange(t *testing.T) {
	const cpr = 15 * 768
	rng := rand.New(rand.NewSource(1))

	fwd := make([]float64, cpr)
	rev := make([]float64, cpr)
	for i := range fwd {
		base := float64(i) * SensorModulus / cpr
		fwd[i] = angle.Mod(base+rng.Float64()*20, SensorModulus)
		rev[i] = angle.Mod(base-rng.Float64()*20, SensorModulus)
	}

	p := ProcessWith(fwd, rev, ProcessOptions{SampleModulus: SensorModulus, CountsPerRevolution: cpr})
	if len(p.InverseTable) != TableSize {
		t.Fatalf("len(InverseTable) = %d, want %d", len(p.InverseTable), TableSize)
	}
	for i, v := range p.InverseTable {
		if int(v) >= cpr {
			t.Fatalf("InverseTable[%d] = %d, want < %d", i, v, cpr)
		}
	}
	if len(p.Middle) != cpr {
		t.Errorf("len(Middle) = %d, want %d", len(p.Middle), cpr)
	}
}

func TestProcess_SparseSweep(t *testing.T) {
	const modulus = 3840
	fwd := linear(modulus)
	rev := linear(modulus)
	for i := range fwd {
		if i%3 != 0 {
			fwd[i] = math.NaN()
		}
		if i%5 != 0 {
			rev[i] = math.NaN()
		}
	}

	p := Process(fwd, rev, modulus)
	for i, v := range p.InverseTable {
		if int(v) >= modulus {
			t.Fatalf("InverseTable[%d] = %d, want < %d", i, v, modulus)
		}
	}
}

func TestProcess_EmptyCaptureTerminates(t *testing.T) {
	p := Process(nil, nil, 3840)
	for i, v := range p.InverseTable {
		if v != 0 {
			t.Fatalf("InverseTable[%d] = %d, want 0", i, v)
		}
	}
}

func TestProcessCapture(t *testing.T) {
	const cpr = 3 * 768
	data := &DataFormat{Forward: NewSweep(cpr), Reverse: NewSweep(cpr)}
	for i := 0; i < cpr; i++ {
		a := uint16(i * SensorModulus / cpr)
		data.Forward.Set(i, DataPoint{Alpha: a})
		data.Reverse.Set(i, DataPoint{Alpha: a})
	}

	p := ProcessCapture(data, cpr)
	if got := p.InverseTable[TableSize/2]; math.Abs(float64(got)-cpr/2) > 2 {
		t.Errorf("InverseTable[%d] = %d, want about %d", TableSize/2, got, cpr/2)
	}
}
