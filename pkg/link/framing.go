// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"errors"
	"fmt"

	"github.com/sigurn/crc16"
)

// Serial bridge framing. Reports are wrapped as
// START | stuffed(report | crc16 big-endian) | END.
const (
	StartByte byte = 0x7E
	EndByte   byte = 0x7F
	EscByte   byte = 0x7D
	EscXor    byte = 0x20

	maxFrameSize = ReportSize + 2
)

var frameCRC = crc16.MakeTable(crc16.CRC16_CCITT_FALSE)

// ErrFrameCRC is returned by the frame decoder on a checksum mismatch
var ErrFrameCRC = errors.New("frame CRC mismatch")

// EncodeFrame wraps a report for the serial bridge
func EncodeFrame(report []byte) []byte {
	crc := crc16.Checksum(report, frameCRC)
	data := make([]byte, 0, len(report)+2)
	data = append(data, report...)
	data = append(data, byte(crc>>8), byte(crc))

	frame := make([]byte, 0, len(data)*2+2)
	frame = append(frame, StartByte)
	frame = append(frame, stuffBytes(data)...)
	return append(frame, EndByte)
}

// stuffBytes escapes START, END and ESC as ESC, b^EscXor
func stuffBytes(data []byte) []byte {
	result := make([]byte, 0, len(data)*2)
	for _, b := range data {
		if b == StartByte || b == EndByte || b == EscByte {
			result = append(result, EscByte, b^EscXor)
		} else {
			result = append(result, b)
		}
	}
	return result
}

const (
	frameIdle = iota
	frameBody
)

// FrameDecoder reassembles frames from a byte stream
type FrameDecoder struct {
	state      int
	buffer     []byte
	escapeNext bool
}

// NewFrameDecoder creates a decoder waiting for a START byte
func NewFrameDecoder() *FrameDecoder {
	return &FrameDecoder{buffer: make([]byte, 0, maxFrameSize)}
}

// Reset drops any partial frame
func (d *FrameDecoder) Reset() {
	d.state = frameIdle
	d.buffer = d.buffer[:0]
	d.escapeNext = false
}

// DecodeByte feeds one byte. It returns the report once a complete frame
// with a valid CRC has been seen, nil while incomplete, or an error for a
// corrupt frame.
func (d *FrameDecoder) DecodeByte(b byte) ([]byte, error) {
	switch {
	case b == StartByte:
		d.Reset()
		d.state = frameBody
		return nil, nil

	case d.state == frameIdle:
		return nil, nil

	case b == EndByte:
		defer d.Reset()
		if d.escapeNext {
			return nil, fmt.Errorf("incomplete escape sequence at end of frame")
		}
		if len(d.buffer) < 2 {
			return nil, fmt.Errorf("frame too short: %d bytes", len(d.buffer))
		}
		n := len(d.buffer) - 2
		got := uint16(d.buffer[n])<<8 | uint16(d.buffer[n+1])
		if want := crc16.Checksum(d.buffer[:n], frameCRC); got != want {
			return nil, fmt.Errorf("%w: expected 0x%04X, got 0x%04X", ErrFrameCRC, want, got)
		}
		report := make([]byte, n)
		copy(report, d.buffer[:n])
		return report, nil

	case b == EscByte && !d.escapeNext:
		d.escapeNext = true
		return nil, nil
	}

	if d.escapeNext {
		b ^= EscXor
		d.escapeNext = false
	}
	if len(d.buffer) >= maxFrameSize {
		d.Reset()
		return nil, fmt.Errorf("buffer overflow: frame exceeds %d bytes", maxFrameSize)
	}
	d.buffer = append(d.buffer, b)
	return nil, nil
}
