// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// SerialEnumerator finds controllers that expose the report stream over a
// USB CDC bridge instead of HID
type SerialEnumerator struct {
	VendorID  uint16
	ProductID uint16
	BaudRate  int
}

// NewSerialEnumerator matches the controller's vendor and product IDs
func NewSerialEnumerator(baudRate int) *SerialEnumerator {
	return &SerialEnumerator{VendorID: VendorID, ProductID: ProductID, BaudRate: baudRate}
}

// Candidates lists USB serial ports whose IDs match
func (e *SerialEnumerator) Candidates() ([]Candidate, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}

	var found []Candidate
	for _, port := range ports {
		if !port.IsUSB {
			continue
		}
		vid, err1 := strconv.ParseUint(port.VID, 16, 16)
		pid, err2 := strconv.ParseUint(port.PID, 16, 16)
		if err1 != nil || err2 != nil {
			continue
		}
		if uint16(vid) != e.VendorID || uint16(pid) != e.ProductID {
			continue
		}
		found = append(found, Candidate{
			Path:      port.Name,
			Serial:    strings.TrimSpace(port.SerialNumber),
			VendorID:  uint16(vid),
			ProductID: uint16(pid),
		})
	}
	return found, nil
}

// Open opens the port 8N1 at the configured baud rate
func (e *SerialEnumerator) Open(c Candidate) (Device, error) {
	mode := &serial.Mode{
		BaudRate: e.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(c.Path, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", c.Path, err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("reset %s: %w", c.Path, err)
	}
	return NewStreamDevice(port), nil
}

// ReadTimeoutSetter is implemented by ports that support read deadlines
type ReadTimeoutSetter interface {
	SetReadTimeout(t time.Duration) error
}

// Stream is the byte transport under a StreamDevice
type Stream interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// StreamDevice carries framed reports over a byte stream
type StreamDevice struct {
	stream  Stream
	decoder *FrameDecoder
	buf     []byte
	pending []byte
	timeout time.Duration
}

// NewStreamDevice wraps a byte stream. Streams that implement
// ReadTimeoutSetter get per-read deadlines.
func NewStreamDevice(s Stream) *StreamDevice {
	return &StreamDevice{
		stream:  s,
		decoder: NewFrameDecoder(),
		buf:     make([]byte, 256),
	}
}

// ReadReport returns the next valid frame's report. Corrupt frames are
// skipped; the caller sees them only as a missing report.
func (d *StreamDevice) ReadReport(p []byte, timeout time.Duration) (int, error) {
	if ts, ok := d.stream.(ReadTimeoutSetter); ok && timeout != d.timeout {
		if err := ts.SetReadTimeout(timeout); err != nil {
			return 0, err
		}
		d.timeout = timeout
	}

	deadline := time.Now().Add(timeout)
	for {
		for len(d.pending) > 0 {
			b := d.pending[0]
			d.pending = d.pending[1:]
			report, err := d.decoder.DecodeByte(b)
			if err != nil || report == nil {
				continue
			}
			return copy(p, report), nil
		}

		if time.Now().After(deadline) {
			return 0, ErrReadTimeout
		}

		n, err := d.stream.Read(d.buf)
		if err != nil {
			return 0, err
		}
		if n == 0 {
			// go.bug.st/serial returns 0, nil when the read timeout expires
			return 0, ErrReadTimeout
		}
		d.pending = d.buf[:n]
	}
}

// WriteReport frames and sends one report
func (d *StreamDevice) WriteReport(p []byte) error {
	frame := EncodeFrame(p)
	n, err := d.stream.Write(frame)
	if err != nil {
		return err
	}
	if n != len(frame) {
		return errors.New("short write")
	}
	return nil
}

func (d *StreamDevice) Close() error {
	return d.stream.Close()
}
