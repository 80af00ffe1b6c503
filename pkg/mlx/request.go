// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package mlx

import "encoding/binary"

// Request is an outgoing sensor frame. Payload words land little-endian at
// bytes 0-1, 2-3 and 4-5; Data8 bytes, when set, overwrite individual bytes
// after the words are written.
type Request struct {
	Opcode Opcode
	Marker Marker
	Data16 [3]uint16
	Data8  map[int]uint8
}

// Unsigned returns the 7-byte frame without CRC, for links that let the
// controller append the checksum
func (r Request) Unsigned() [PacketSize - 1]byte {
	var b [PacketSize - 1]byte
	for i, w := range r.Data16 {
		binary.LittleEndian.PutUint16(b[2*i:], w)
	}
	for i, v := range r.Data8 {
		if i >= 0 && i < 6 {
			b[i] = v
		}
	}
	b[6] = byte(r.Marker)<<6 | byte(r.Opcode)&0x3F
	return b
}

// Bytes returns the complete 8-byte frame with CRC
func (r Request) Bytes() [PacketSize]byte {
	var b [PacketSize]byte
	u := r.Unsigned()
	copy(b[:], u[:])
	b[7] = CalculateCRC(u[:])
	return b
}

// GetAlpha requests an Alpha frame on the next exchange. The second payload
// word is the GET timeout; 0xFFFF is the maximum.
func GetAlpha() Request {
	return Request{Opcode: OpGet1, Marker: MarkerAlpha, Data16: [3]uint16{0, 0xFFFF, 0}}
}

// GetAlphaBeta requests an AlphaBeta frame
func GetAlphaBeta() Request {
	return Request{Opcode: OpGet1, Marker: MarkerAlphaBeta, Data16: [3]uint16{0, 0xFFFF, 0}}
}

// GetXYZ requests a raw field vector frame
func GetXYZ() Request {
	return Request{Opcode: OpGet1, Marker: MarkerXYZ, Data16: [3]uint16{0, 0xFFFF, 0}}
}

// NOP clocks out the previous result without starting a new conversion. The
// sensor echoes key in its answer.
func NOP(key uint16) Request {
	return Request{Opcode: OpNOPChallenge, Marker: MarkerOpcode, Data16: [3]uint16{0, key, 0}}
}

// MemoryRead reads two 16-bit words at the given addresses
func MemoryRead(addr0, addr1 uint16) Request {
	return Request{Opcode: OpMemoryRead, Marker: MarkerOpcode, Data16: [3]uint16{addr0, addr1, 0}}
}

// EEPROMWrite starts an EEPROM write of value at addr using the location's key
func EEPROMWrite(addr uint8, key, value uint16) Request {
	return Request{
		Opcode: OpEEPROMWrite,
		Marker: MarkerOpcode,
		Data16: [3]uint16{uint16(addr) << 8, key, value},
	}
}

// EEReadChallenge asks for the challenge of a pending EEPROM write
func EEReadChallenge() Request {
	return Request{Opcode: OpEEReadChallenge, Marker: MarkerOpcode}
}

// EEChallengeAnswer answers an EEPROM write challenge
func EEChallengeAnswer(challenge uint16) Request {
	echo := challenge ^ challengeXor
	return Request{
		Opcode: OpEEChallengeAns,
		Marker: MarkerOpcode,
		Data16: [3]uint16{0, echo, ^echo},
	}
}

// DiagnosticDetails requests the diagnostic status bits
func DiagnosticDetails() Request {
	return Request{Opcode: OpDiagnosticDetails, Marker: MarkerOpcode}
}

// OscCounterStart starts the oscillator calibration counter
func OscCounterStart() Request {
	return Request{Opcode: OpOscCounterStart, Marker: MarkerOpcode}
}

// OscCounterStop stops the oscillator counter and returns its value
func OscCounterStop() Request {
	return Request{Opcode: OpOscCounterStop, Marker: MarkerOpcode}
}

// Reboot restarts the sensor
func Reboot() Request {
	return Request{Opcode: OpReboot, Marker: MarkerOpcode}
}

// Standby puts the sensor into standby
func Standby() Request {
	return Request{Opcode: OpStandby, Marker: MarkerOpcode}
}
