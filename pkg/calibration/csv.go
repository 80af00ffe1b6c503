// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package calibration

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MaxCaptureSteps bounds the step index of a capture row. Homing caps a
// revolution at 65535 counts, so real captures stay far below it.
const MaxCaptureSteps = 1 << 20

// CSVColumns names the fields of a capture row
var CSVColumns = []string{
	"step", "alpha", "dir", "x", "y", "z",
	"current", "cpuTemp", "AS", "BS", "CS", "ain0", "VG",
}

// CaptureWriter streams capture rows as they are recorded. The trailing
// row is the completion time in epoch milliseconds.
type CaptureWriter struct {
	mu  sync.Mutex
	w   *csv.Writer
	err error
}

// NewCaptureWriter creates a writer over w
func NewCaptureWriter(w io.Writer) *CaptureWriter {
	return &CaptureWriter{w: csv.NewWriter(w)}
}

// Record writes one sample row. It has the signature WithRecorder expects.
func (c *CaptureWriter) Record(step, dir int, p DataPoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return
	}
	c.err = c.w.Write(captureRow(step, dir, p))
}

// Finish writes the completion timestamp and flushes
func (c *CaptureWriter) Finish(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	if err := c.w.Write([]string{strconv.FormatInt(t.UnixMilli(), 10)}); err != nil {
		return err
	}
	c.w.Flush()
	return c.w.Error()
}

func captureRow(step, dir int, p DataPoint) []string {
	itoa := strconv.Itoa
	return []string{
		itoa(step), itoa(int(p.Alpha)), itoa(dir),
		itoa(int(p.X)), itoa(int(p.Y)), itoa(int(p.Z)),
		itoa(int(p.Current)), itoa(int(p.Temperature)),
		itoa(int(p.AS)), itoa(int(p.BS)), itoa(int(p.CS)),
		itoa(int(p.AIN0)), itoa(int(p.VG)),
	}
}

// WriteCSV writes a whole capture, forward sweep first
func WriteCSV(w io.Writer, data *DataFormat) error {
	cw := NewCaptureWriter(w)
	for _, s := range []struct {
		sweep *Sweep
		dir   int
	}{{data.Forward, 1}, {data.Reverse, -1}} {
		for i := 0; i < s.sweep.Len(); i++ {
			if p, ok := s.sweep.Get(i); ok {
				cw.Record(i, s.dir, p)
			}
		}
	}
	return cw.Finish(data.Time)
}

// ReadCSV loads a capture. A header row is skipped, empty fields read as
// zero and the XYZ columns are sign extended from 14 bits. Without a
// timestamp row the capture time is now.
func ReadCSV(r io.Reader) (*DataFormat, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	data := &DataFormat{
		Forward: NewSweep(0),
		Reverse: NewSweep(0),
		Time:    time.Now(),
	}

	for line := 1; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			return data, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCapture, err)
		}

		if len(rec) < 3 {
			ms, err := strconv.ParseFloat(strings.TrimSpace(rec[0]), 64)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: bad timestamp %q", ErrInvalidCapture, line, rec[0])
			}
			data.Time = time.UnixMilli(int64(ms))
			continue
		}

		step, err := strconv.ParseFloat(strings.TrimSpace(rec[0]), 64)
		if err != nil {
			// header
			continue
		}
		if math.IsNaN(step) || math.IsInf(step, 0) || step >= MaxCaptureSteps {
			return nil, fmt.Errorf("%w: line %d: step %q out of range", ErrInvalidCapture, line, rec[0])
		}

		v := make([]float64, len(CSVColumns))
		for i := 1; i < len(v) && i < len(rec); i++ {
			f := strings.TrimSpace(rec[i])
			if f == "" {
				continue
			}
			if v[i], err = strconv.ParseFloat(f, 64); err != nil {
				return nil, fmt.Errorf("%w: line %d: column %s: %q", ErrInvalidCapture, line, CSVColumns[i], f)
			}
		}

		p := DataPoint{
			Alpha:       uint16(v[1]),
			X:           signExtend14(int(v[3])),
			Y:           signExtend14(int(v[4])),
			Z:           signExtend14(int(v[5])),
			Current:     int16(v[6]),
			Temperature: uint16(v[7]),
			AS:          uint16(v[8]),
			BS:          uint16(v[9]),
			CS:          uint16(v[10]),
			AIN0:        uint16(v[11]),
			VG:          uint8(v[12]),
		}
		if v[2] > 0 {
			data.Forward.Set(int(math.Round(step)), p)
		} else {
			data.Reverse.Set(int(math.Round(step)), p)
		}
	}
}

func signExtend14(v int) int16 {
	if v&0x2000 != 0 {
		return int16(v | ^0x3FFF)
	}
	return int16(v & 0x3FFF)
}
