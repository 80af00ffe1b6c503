// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/gyrostat/pkg/mlx"
)

// ReportSize is the length of both IN and OUT reports
const ReportSize = 29

// USB identity of the motor controller
const (
	VendorID  uint16 = 0xDEAD
	ProductID uint16 = 0xBEEF
)

// ErrReportLength is returned for an IN report of the wrong size
var ErrReportLength = errors.New("invalid report length")

// ControllerState is the controller's top level mode
type ControllerState uint8

const (
	StateFault ControllerState = iota
	StateMLXSetup
	StateManual
	StateCalibration
	StatePush
	StateServo
)

// ControllerFault is the reason for the last fault
type ControllerFault uint8

const (
	FaultInit ControllerFault = iota
	FaultInvalidCommand
	FaultOverCurrent
	FaultOverTemperature
)

const (
	rawAngleMask   = 0x3FFF
	calibratedFlag = 0x8000
)

// ReadData is one decoded IN report
type ReadData struct {
	State       ControllerState
	Fault       ControllerFault
	Position    uint16
	Velocity    int16
	RawAngle    uint16
	Calibrated  bool
	CPUTemp     uint16
	Current     int16
	AIN0        uint16
	AS          uint16
	BS          uint16
	CS          uint16
	MLXResponse [mlx.PacketSize]byte
	LocalMLXCRC bool

	Timestamp time.Time
}

// ParseReadData decodes a 29-byte IN report. All fields are little-endian.
func ParseReadData(b []byte) (ReadData, error) {
	if len(b) != ReportSize {
		return ReadData{}, fmt.Errorf("%w: %d bytes (expected %d)", ErrReportLength, len(b), ReportSize)
	}

	le := binary.LittleEndian
	angle := le.Uint16(b[6:])

	r := ReadData{
		State:       ControllerState(b[0]),
		Fault:       ControllerFault(b[1]),
		Position:    le.Uint16(b[2:]),
		Velocity:    int16(le.Uint16(b[4:])),
		RawAngle:    angle & rawAngleMask,
		Calibrated:  angle&calibratedFlag != 0,
		CPUTemp:     le.Uint16(b[8:]),
		Current:     int16(le.Uint16(b[10:])),
		AIN0:        le.Uint16(b[12:]),
		AS:          le.Uint16(b[14:]),
		BS:          le.Uint16(b[16:]),
		CS:          le.Uint16(b[18:]),
		LocalMLXCRC: b[28] != 0,
		Timestamp:   time.Now(),
	}
	copy(r.MLXResponse[:], b[20:28])

	return r, nil
}

// Bytes encodes the report back to its wire form
func (r *ReadData) Bytes() []byte {
	b := make([]byte, ReportSize)
	le := binary.LittleEndian

	angle := r.RawAngle & rawAngleMask
	if r.Calibrated {
		angle |= calibratedFlag
	}

	b[0] = byte(r.State)
	b[1] = byte(r.Fault)
	le.PutUint16(b[2:], r.Position)
	le.PutUint16(b[4:], uint16(r.Velocity))
	le.PutUint16(b[6:], angle)
	le.PutUint16(b[8:], r.CPUTemp)
	le.PutUint16(b[10:], uint16(r.Current))
	le.PutUint16(b[12:], r.AIN0)
	le.PutUint16(b[14:], r.AS)
	le.PutUint16(b[16:], r.BS)
	le.PutUint16(b[18:], r.CS)
	copy(b[20:28], r.MLXResponse[:])
	if r.LocalMLXCRC {
		b[28] = 1
	}
	return b
}

// IsManual reports whether the controller accepts debug and sensor commands
func (r *ReadData) IsManual() bool {
	return r.State == StateManual
}

// IsFault reports whether the controller is faulted
func (r *ReadData) IsFault() bool {
	return r.State == StateFault
}

// Sensor decodes the tunneled sensor response
func (r *ReadData) Sensor() (*mlx.Packet, error) {
	return mlx.Decode(r.MLXResponse[:])
}
