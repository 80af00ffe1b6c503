// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package mlx

import "fmt"

// FormatPacket formats a sensor packet into a human-readable string
func FormatPacket(p *Packet) string {
	crc := "ok"
	if !p.CRCValid() {
		crc = "BAD"
	}

	switch p.Marker() {
	case MarkerAlpha:
		return fmt.Sprintf("ALPHA alpha=%d vg=%d diag=%d roll=%d crc=%s",
			p.Alpha(), p.VG(), p.Diagnostic(), p.Roll(), crc)
	case MarkerAlphaBeta:
		return fmt.Sprintf("ALPHA_BETA alpha=%d beta=%d vg=%d roll=%d crc=%s",
			p.Alpha(), p.Beta(), p.VG(), p.Roll(), crc)
	case MarkerXYZ:
		return fmt.Sprintf("XYZ x=%d y=%d z=%d roll=%d crc=%s",
			p.X(), p.Y(), p.Z(), p.Roll(), crc)
	}

	op := p.Opcode()
	name := FormatOpcode(op)
	switch op {
	case OpErrorFrame:
		return fmt.Sprintf("%s error=%s crc=%s", name, FormatErrorCode(p.ErrorCode()), crc)
	case OpMemoryReadAnswer:
		return fmt.Sprintf("%s data0=0x%04X data1=0x%04X crc=%s", name, p.Data0(), p.Data1(), crc)
	case OpEEPROMWriteChallenge:
		return fmt.Sprintf("%s key=0x%04X crc=%s", name, p.ChallengeKey(), crc)
	case OpChallengeNOPAnswer:
		return fmt.Sprintf("%s key=0x%04X inverted=0x%04X crc=%s", name, p.ChallengeKey(), p.InvertedKey(), crc)
	case OpEEPROMWriteStatus:
		return fmt.Sprintf("%s status=%s crc=%s", name, FormatWriteStatus(p.WriteStatus()), crc)
	case OpOscCounterStopAck:
		return fmt.Sprintf("%s counter=%d crc=%s", name, p.Counter(), crc)
	case OpDiagnosticsAnswer:
		bits, count := p.Diagnostics()
		return fmt.Sprintf("%s bits=0x%06X count=%d crc=%s", name, bits, count, crc)
	case OpReadyMessage:
		hw, fw := p.Versions()
		return fmt.Sprintf("%s hw=%d fw=%d crc=%s", name, hw, fw, crc)
	}
	return fmt.Sprintf("%s crc=%s", name, crc)
}

// FormatOpcode returns the human-readable name for an opcode
func FormatOpcode(op Opcode) string {
	switch op {
	case OpGet1:
		return "GET1"
	case OpGet2:
		return "GET2"
	case OpGet3:
		return "GET3"
	case OpMemoryRead:
		return "MEMORY_READ"
	case OpEEPROMWrite:
		return "EEPROM_WRITE"
	case OpEEChallengeAns:
		return "EE_CHALLENGE_ANS"
	case OpEEReadChallenge:
		return "EE_READ_CHALLENGE"
	case OpNOPChallenge:
		return "NOP_CHALLENGE"
	case OpDiagnosticDetails:
		return "DIAGNOSTIC_DETAILS"
	case OpOscCounterStart:
		return "OSC_COUNTER_START"
	case OpOscCounterStop:
		return "OSC_COUNTER_STOP"
	case OpReboot:
		return "REBOOT"
	case OpStandby:
		return "STANDBY"
	case OpMemoryReadAnswer:
		return "MEMORY_READ_ANSWER"
	case OpEEPROMWriteChallenge:
		return "EEPROM_WRITE_CHALLENGE"
	case OpEEPROMWriteStatus:
		return "EEPROM_WRITE_STATUS"
	case OpChallengeNOPAnswer:
		return "CHALLENGE_NOP_ANSWER"
	case OpDiagnosticsAnswer:
		return "DIAGNOSTICS_ANSWER"
	case OpOscCounterStartAck:
		return "OSC_COUNTER_START_ACK"
	case OpOscCounterStopAck:
		return "OSC_COUNTER_STOP_ACK"
	case OpEEReadAnswer:
		return "EE_READ_ANSWER"
	case OpReadyMessage:
		return "READY"
	case OpGet3Ready:
		return "GET3_READY"
	case OpStandbyAck:
		return "STANDBY_ACK"
	case OpErrorFrame:
		return "ERROR_FRAME"
	case OpNothingToTransmit:
		return "NTT"
	default:
		return fmt.Sprintf("UNKNOWN_0x%02X", uint8(op))
	}
}

// FormatMarker returns the human-readable name for a marker
func FormatMarker(m Marker) string {
	switch m {
	case MarkerAlpha:
		return "ALPHA"
	case MarkerAlphaBeta:
		return "ALPHA_BETA"
	case MarkerXYZ:
		return "XYZ"
	default:
		return "OPCODE"
	}
}

// FormatErrorCode returns the human-readable name for an error frame code
func FormatErrorCode(c ErrorCode) string {
	switch c {
	case ErrorIncorrectBitCount:
		return "INCORRECT_BIT_COUNT"
	case ErrorIncorrectCRC:
		return "INCORRECT_CRC"
	case ErrorNTT:
		return "NTT"
	case ErrorOpcodeNotValid:
		return "OPCODE_NOT_VALID"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(c))
	}
}

// FormatWriteStatus returns the human-readable name for an EEPROM write status
func FormatWriteStatus(s WriteStatus) string {
	switch s {
	case WriteSuccess:
		return "SUCCESS"
	case WriteEraseFail:
		return "ERASE_WRITE_FAIL"
	case WriteEEPROMCRCFail:
		return "EEPROM_CRC_FAIL"
	case WriteKeyInvalid:
		return "KEY_INVALID"
	case WriteChallengeFail:
		return "CHALLENGE_FAIL"
	case WriteOddAddress:
		return "ODD_ADDRESS"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(s))
	}
}
