// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package calibration

import (
	"math"

	"github.com/Thermoquad/gyrostat/pkg/angle"
)

const (
	// TableSize is the number of lookup table entries, the sensor's 14-bit
	// domain downsampled 4:1
	TableSize = 4096

	// SensorModulus is the range of a raw alpha reading
	SensorModulus = 1 << 14

	// a neighborhood always spans at least minRadius on each side and
	// keeps growing until it holds minPoints samples
	minRadius = 5
	minPoints = 4
)

// Processed holds the smoothed sweeps and the lookup table derived from them
type Processed struct {
	ForwardData []float64
	ReverseData []float64
	Middle      []float64

	// InverseTable maps a sensor bucket to a drive step within one
	// revolution
	InverseTable [TableSize]uint16
}

// ProcessOptions separates the sample domain from the drive domain
type ProcessOptions struct {
	// SampleModulus is the range of the raw samples
	SampleModulus float64
	// CountsPerRevolution is the range of the lookup table values
	CountsPerRevolution int
}

// Process smooths, averages and inverts a capture using one modulus for
// both the samples and the table
func Process(forward, reverse []float64, modulus float64) *Processed {
	return ProcessWith(forward, reverse, ProcessOptions{
		SampleModulus:       modulus,
		CountsPerRevolution: int(modulus),
	})
}

// ProcessWith smooths, averages and inverts a capture. NaN samples are
// absent steps.
func ProcessWith(forward, reverse []float64, opts ProcessOptions) *Processed {
	samples := angle.New(opts.SampleModulus)

	p := &Processed{
		ForwardData: Smooth(forward, samples),
		ReverseData: Smooth(reverse, samples),
	}
	p.Middle = midline(p.ForwardData, p.ReverseData, samples)
	p.InverseTable = invert(p.Middle, samples, angle.New(float64(opts.CountsPerRevolution)))
	return p
}

// ProcessCapture runs ProcessWith over the alpha readings of a capture
func ProcessCapture(data *DataFormat, countsPerRevolution int) *Processed {
	return ProcessWith(data.Forward.Alphas(), data.Reverse.Alphas(), ProcessOptions{
		SampleModulus:       SensorModulus,
		CountsPerRevolution: countsPerRevolution,
	})
}

// neighborhood gathers values around center from a circular array of n
// slots, growing the radius until the minimum span and point count are met
// or the whole array has been scanned
func neighborhood(n, center int, values func(i int) []float64) []float64 {
	window := append([]float64(nil), values(center)...)
	for j := 1; j <= n/2 && (j <= minRadius || len(window) < minPoints); j++ {
		lo := mod(center-j, n)
		hi := mod(center+j, n)
		window = append(window, values(lo)...)
		if hi != lo {
			window = append(window, values(hi)...)
		}
	}
	return window
}

func mod(i, n int) int {
	return ((i % n) + n) % n
}

// Smooth replaces every sample with the circular average of its
// neighborhood. The array wraps, so index -1 is the last element.
func Smooth(raw []float64, r angle.Range) []float64 {
	n := len(raw)
	out := make([]float64, n)
	at := func(i int) []float64 {
		if math.IsNaN(raw[i]) {
			return nil
		}
		return raw[i : i+1]
	}
	for i := range raw {
		out[i] = normalized(r, r.Mean(neighborhood(n, i, at)))
	}
	return out
}

func normalized(r angle.Range, v float64) float64 {
	if math.IsNaN(v) {
		return v
	}
	return r.Normalize(v)
}

// midline averages the two sweep directions step by step
func midline(forward, reverse []float64, r angle.Range) []float64 {
	n := max(len(forward), len(reverse))
	out := make([]float64, n)
	pair := make([]float64, 0, 2)
	for i := range out {
		pair = pair[:0]
		if i < len(forward) && !math.IsNaN(forward[i]) {
			pair = append(pair, forward[i])
		}
		if i < len(reverse) && !math.IsNaN(reverse[i]) {
			pair = append(pair, reverse[i])
		}
		out[i] = normalized(r, r.Mean(pair))
	}
	return out
}

// invert builds the sensor bucket to drive step table. Each bucket
// averages the steps whose midline falls in it or its neighbors.
func invert(middle []float64, samples, counts angle.Range) [TableSize]uint16 {
	buckets := make([][]float64, TableSize)
	for i, v := range middle {
		if math.IsNaN(v) {
			continue
		}
		b := int(samples.Normalize(math.Round(v)) * TableSize / samples.Size())
		if b >= TableSize {
			b = TableSize - 1
		}
		buckets[b] = append(buckets[b], float64(i))
	}

	var table [TableSize]uint16
	at := func(b int) []float64 { return buckets[b] }
	for b := range table {
		steps := neighborhood(TableSize, b, at)
		v := counts.Mean(steps)
		if math.IsNaN(v) {
			if len(steps) == 0 {
				continue
			}
			v = steps[0]
		}
		table[b] = uint16(counts.Normalize(math.Round(v)))
	}
	return table
}
