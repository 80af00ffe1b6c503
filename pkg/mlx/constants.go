// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package mlx

// PacketSize is the length of a sensor frame including its CRC byte
const PacketSize = 8

// Marker occupies the top two bits of byte 6 and selects the frame shape
type Marker uint8

const (
	MarkerAlpha     Marker = 0
	MarkerAlphaBeta Marker = 1
	MarkerXYZ       Marker = 2
	MarkerOpcode    Marker = 3
)

// Opcode is the low six bits of byte 6 on control frames
type Opcode uint8

// Outgoing (master → sensor) opcodes
const (
	OpGet1              Opcode = 0x13
	OpGet2              Opcode = 0x14
	OpGet3              Opcode = 0x15
	OpMemoryRead        Opcode = 0x01
	OpEEPROMWrite       Opcode = 0x03
	OpEEChallengeAns    Opcode = 0x05
	OpEEReadChallenge   Opcode = 0x0F
	OpNOPChallenge      Opcode = 0x10
	OpDiagnosticDetails Opcode = 0x16
	OpOscCounterStart   Opcode = 0x18
	OpOscCounterStop    Opcode = 0x1A
	OpReboot            Opcode = 0x2F
	OpStandby           Opcode = 0x31
)

// Incoming (sensor → master) opcodes
const (
	OpMemoryReadAnswer     Opcode = 0x02
	OpEEPROMWriteChallenge Opcode = 0x04
	OpEEPROMWriteStatus    Opcode = 0x0E
	OpChallengeNOPAnswer   Opcode = 0x11
	OpDiagnosticsAnswer    Opcode = 0x17
	OpOscCounterStartAck   Opcode = 0x19
	OpOscCounterStopAck    Opcode = 0x1B
	OpEEReadAnswer         Opcode = 0x28
	OpReadyMessage         Opcode = 0x2C
	OpGet3Ready            Opcode = 0x2D
	OpStandbyAck           Opcode = 0x32
	OpErrorFrame           Opcode = 0x3D
	OpNothingToTransmit    Opcode = 0x3E
)

// ErrorCode is carried in byte 0 of an error frame
type ErrorCode uint8

const (
	ErrorIncorrectBitCount ErrorCode = 1
	ErrorIncorrectCRC      ErrorCode = 2
	ErrorNTT               ErrorCode = 3
	ErrorOpcodeNotValid    ErrorCode = 4
)

// WriteStatus is carried in byte 0 of an EEPROM write status frame
type WriteStatus uint8

const (
	WriteSuccess       WriteStatus = 1
	WriteEraseFail     WriteStatus = 2
	WriteEEPROMCRCFail WriteStatus = 4
	WriteKeyInvalid    WriteStatus = 6
	WriteChallengeFail WriteStatus = 7
	WriteOddAddress    WriteStatus = 8
)

// challengeXor is mixed into an EEPROM write challenge to form the answer
const challengeXor = 0x1234

// outgoing lists opcodes only a master may send
var outgoing = map[Opcode]bool{
	OpGet1:              true,
	OpGet2:              true,
	OpGet3:              true,
	OpMemoryRead:        true,
	OpEEPROMWrite:       true,
	OpEEChallengeAns:    true,
	OpEEReadChallenge:   true,
	OpNOPChallenge:      true,
	OpDiagnosticDetails: true,
	OpOscCounterStart:   true,
	OpOscCounterStop:    true,
	OpReboot:            true,
	OpStandby:           true,
}

// incoming lists opcodes a sensor may answer with
var incoming = map[Opcode]bool{
	OpMemoryReadAnswer:     true,
	OpEEPROMWriteChallenge: true,
	OpEEPROMWriteStatus:    true,
	OpChallengeNOPAnswer:   true,
	OpDiagnosticsAnswer:    true,
	OpOscCounterStartAck:   true,
	OpOscCounterStopAck:    true,
	OpEEReadAnswer:         true,
	OpReadyMessage:         true,
	OpGet3Ready:            true,
	OpStandbyAck:           true,
	OpErrorFrame:           true,
	OpNothingToTransmit:    true,
}
