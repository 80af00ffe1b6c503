// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package mlx

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrInvalidOpcode is returned for an opcode the sensor never sends
	ErrInvalidOpcode = errors.New("invalid opcode")

	// ErrProtocolDirection is returned when a master-only opcode shows up
	// in a response
	ErrProtocolDirection = errors.New("opcode not valid in response direction")

	// ErrPacketLength is returned when a frame isn't PacketSize bytes
	ErrPacketLength = errors.New("invalid packet length")
)

const angleMask = 0x3FFF

// Packet is a decoded sensor response. The CRC result travels with the
// packet; deciding what to do with a bad checksum is up to the caller.
type Packet struct {
	raw      [PacketSize]byte
	crcValid bool
}

// Decode parses an 8-byte sensor response
func Decode(b []byte) (*Packet, error) {
	if len(b) != PacketSize {
		return nil, fmt.Errorf("%w: %d bytes (expected %d)", ErrPacketLength, len(b), PacketSize)
	}

	p := &Packet{}
	copy(p.raw[:], b)
	p.crcValid = CalculateCRC(b[:7]) == b[7]

	if p.Marker() == MarkerOpcode {
		op := p.Opcode()
		if outgoing[op] {
			return p, fmt.Errorf("%w: 0x%02X", ErrProtocolDirection, uint8(op))
		}
		if !incoming[op] {
			return p, fmt.Errorf("%w: 0x%02X", ErrInvalidOpcode, uint8(op))
		}
	}

	return p, nil
}

// Bytes returns the raw frame
func (p *Packet) Bytes() []byte {
	return p.raw[:]
}

// CRCValid reports whether byte 7 matches the checksum of bytes 0..6
func (p *Packet) CRCValid() bool {
	return p.crcValid
}

// Marker returns the frame shape
func (p *Packet) Marker() Marker {
	return Marker(p.raw[6] >> 6)
}

// Opcode returns the control opcode. Only meaningful for MarkerOpcode.
func (p *Packet) Opcode() Opcode {
	return Opcode(p.raw[6] & 0x3F)
}

// Roll returns the rolling counter of data frames
func (p *Packet) Roll() uint8 {
	return p.raw[6] & 0x3F
}

func (p *Packet) word(i int) uint16 {
	return binary.LittleEndian.Uint16(p.raw[2*i:])
}

// signed14 sign extends the low 14 bits of a word
func signed14(w uint16) int16 {
	return int16(w<<2) >> 2
}

// Alpha returns the 14-bit angle of Alpha and AlphaBeta frames
func (p *Packet) Alpha() uint16 {
	return p.word(0) & angleMask
}

// Beta returns the second 14-bit angle of AlphaBeta frames
func (p *Packet) Beta() uint16 {
	return p.word(1) & angleMask
}

// Diagnostic returns the E1:E0 status bits above the first data word
func (p *Packet) Diagnostic() uint8 {
	return p.raw[1] >> 6
}

// VG returns the virtual gain byte of Alpha and AlphaBeta frames
func (p *Packet) VG() uint8 {
	return p.raw[4]
}

// X returns the signed X field component of an XYZ frame
func (p *Packet) X() int16 {
	return signed14(p.word(0))
}

// Y returns the signed Y field component of an XYZ frame
func (p *Packet) Y() int16 {
	return signed14(p.word(1))
}

// Z returns the signed Z field component of an XYZ frame
func (p *Packet) Z() int16 {
	return signed14(p.word(2))
}

// ErrorCode returns the reason carried by an error frame
func (p *Packet) ErrorCode() ErrorCode {
	return ErrorCode(p.raw[0])
}

// WriteStatus returns the result of an EEPROM write
func (p *Packet) WriteStatus() WriteStatus {
	return WriteStatus(p.raw[0])
}

// Data0 returns the first word of a memory read answer
func (p *Packet) Data0() uint16 {
	return p.word(0)
}

// Data1 returns the second word of a memory read answer
func (p *Packet) Data1() uint16 {
	return p.word(1)
}

// ChallengeKey returns the key of an EEPROM write challenge or the echo of
// a NOP answer
func (p *Packet) ChallengeKey() uint16 {
	return p.word(1)
}

// InvertedKey returns the complemented echo of a NOP answer
func (p *Packet) InvertedKey() uint16 {
	return p.word(2)
}

// Counter returns the oscillator counter value
func (p *Packet) Counter() uint16 {
	return p.word(0) & 0x7FFF
}

// Diagnostics returns the 22 diagnostic status bits and the analog
// diagnostic counter of a diagnostics answer
func (p *Packet) Diagnostics() (bits uint32, count uint8) {
	bits = uint32(p.raw[0]) | uint32(p.raw[1])<<8 | uint32(p.raw[2]&0x3F)<<16
	return bits, p.raw[3]
}

// Versions returns the hardware and firmware versions of a ready message
func (p *Packet) Versions() (hw, fw uint8) {
	return p.raw[0], p.raw[1]
}

// IsError reports whether the packet is an error frame
func (p *Packet) IsError() bool {
	return p.Marker() == MarkerOpcode && p.Opcode() == OpErrorFrame
}

// IsNTT reports whether the packet is a nothing-to-transmit frame
func (p *Packet) IsNTT() bool {
	return p.Marker() == MarkerOpcode && p.Opcode() == OpNothingToTransmit
}

// Response builds a well-formed sensor response for the given marker/opcode
// byte and payload words. The simulator and tests use it to produce frames.
func Response(marker Marker, opcodeOrRoll uint8, words [3]uint16) [PacketSize]byte {
	var b [PacketSize]byte
	for i, w := range words {
		binary.LittleEndian.PutUint16(b[2*i:], w)
	}
	b[6] = byte(marker)<<6 | opcodeOrRoll&0x3F
	b[7] = CalculateCRC(b[:7])
	return b
}

// AlphaResponse builds an Alpha frame
func AlphaResponse(alpha uint16, vg uint8, roll uint8) [PacketSize]byte {
	return Response(MarkerAlpha, roll, [3]uint16{alpha & angleMask, 0, uint16(vg)})
}

// XYZResponse builds an XYZ frame from signed 14-bit components
func XYZResponse(x, y, z int16, roll uint8) [PacketSize]byte {
	return Response(MarkerXYZ, roll, [3]uint16{
		uint16(x) & angleMask,
		uint16(y) & angleMask,
		uint16(z) & angleMask,
	})
}

// OpcodeResponse builds a control frame
func OpcodeResponse(op Opcode, words [3]uint16) [PacketSize]byte {
	return Response(MarkerOpcode, uint8(op), words)
}
