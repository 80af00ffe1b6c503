// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/Thermoquad/gyrostat/pkg/filters"
	"github.com/Thermoquad/gyrostat/pkg/mlx"
)

// interfaceNumber is written as the first byte of every OUT report; the
// controller's HID interface is always 0
const interfaceNumber = 0

// ErrInvalidCommand is returned for a command that cannot be encoded
var ErrInvalidCommand = errors.New("invalid command")

// Mode is the OUT report discriminant
type Mode uint8

const (
	ModeMLX Mode = iota
	ModeThreePhase
	ModeCalibration
	ModePush
	ModeServo
	ModeClearFault
)

// Command is one of the OUT report shapes
type Command interface {
	Mode() Mode
	put(payload []byte) error
}

// MLXCommand tunnels a sensor frame. A 7-byte frame, or CRC set, asks the
// controller to compute the sensor CRC itself.
type MLXCommand struct {
	Data []byte
	CRC  bool
}

// Sensor wraps a sensor request as a complete 8-byte frame
func Sensor(r mlx.Request) MLXCommand {
	b := r.Bytes()
	return MLXCommand{Data: b[:]}
}

func (MLXCommand) Mode() Mode { return ModeMLX }

func (c MLXCommand) put(p []byte) error {
	if len(c.Data) != mlx.PacketSize && len(c.Data) != mlx.PacketSize-1 {
		return fmt.Errorf("%w: sensor frame is %d bytes (expected 7 or 8)", ErrInvalidCommand, len(c.Data))
	}
	copy(p, c.Data)
	if c.CRC || len(c.Data) == mlx.PacketSize-1 {
		p[mlx.PacketSize] = 1
	}
	return nil
}

// ThreePhaseCommand sets raw phase outputs
type ThreePhaseCommand struct {
	A, B, C uint16
}

func (ThreePhaseCommand) Mode() Mode { return ModeThreePhase }

func (c ThreePhaseCommand) put(p []byte) error {
	binary.LittleEndian.PutUint16(p[0:], c.A)
	binary.LittleEndian.PutUint16(p[2:], c.B)
	binary.LittleEndian.PutUint16(p[4:], c.C)
	return nil
}

// CalibrationCommand drives the rotor to an electrical angle at a fixed
// amplitude
type CalibrationCommand struct {
	Angle     uint16
	Amplitude uint8
}

func (CalibrationCommand) Mode() Mode { return ModeCalibration }

func (c CalibrationCommand) put(p []byte) error {
	binary.LittleEndian.PutUint16(p[0:], c.Angle)
	p[2] = c.Amplitude
	return nil
}

// PushCommand applies a signed constant drive
type PushCommand struct {
	Command int16
}

func (PushCommand) Mode() Mode { return ModePush }

func (c PushCommand) put(p []byte) error {
	binary.LittleEndian.PutUint16(p[0:], uint16(c.Command))
	return nil
}

// ServoMode selects what a ServoCommand value means
type ServoMode uint8

const (
	ServoPWM      ServoMode = 1
	ServoPosition ServoMode = 2
	ServoVelocity ServoMode = 3
	ServoSpare    ServoMode = 4
	ServoKP       ServoMode = 11
	ServoKI       ServoMode = 12
	ServoKD       ServoMode = 13
)

// ServoAmplitude is the same firmware mode as ServoPWM
const ServoAmplitude = ServoPWM

// ServoCommand drives the controller's internal servo loop
type ServoCommand struct {
	Servo   ServoMode
	Command int32
}

func (ServoCommand) Mode() Mode { return ModeServo }

// Value returns the command clamped for its sub-mode. Gains are unsigned
// bytes; PWM is a signed byte magnitude; targets are passed through.
func (c ServoCommand) Value() int32 {
	v := float64(c.Command)
	switch c.Servo {
	case ServoKP, ServoKI, ServoKD:
		v = filters.ClampRange(v, 0, 255)
	case ServoPWM:
		v = filters.ClampSymmetric(v, 255)
	}
	return int32(v)
}

func (c ServoCommand) put(p []byte) error {
	switch c.Servo {
	case ServoPWM, ServoPosition, ServoVelocity, ServoSpare, ServoKP, ServoKI, ServoKD:
	default:
		return fmt.Errorf("%w: servo mode %d", ErrInvalidCommand, c.Servo)
	}
	p[0] = byte(c.Servo)
	binary.LittleEndian.PutUint32(p[1:], uint32(c.Value()))
	return nil
}

// ClearFaultCommand returns a faulted controller to its idle state
type ClearFaultCommand struct{}

func (ClearFaultCommand) Mode() Mode { return ModeClearFault }

func (ClearFaultCommand) put([]byte) error { return nil }

// EncodeCommand builds the OUT report for a command
func EncodeCommand(c Command) ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: nil command", ErrInvalidCommand)
	}
	b := make([]byte, ReportSize)
	b[0] = interfaceNumber
	b[1] = byte(c.Mode())
	if err := c.put(b[2:]); err != nil {
		return nil, err
	}
	return b, nil
}

// DecodeCommand parses an OUT report. The serial bridge and the simulator
// use it to act on commands.
func DecodeCommand(b []byte) (Command, error) {
	if len(b) != ReportSize {
		return nil, fmt.Errorf("%w: %d bytes (expected %d)", ErrReportLength, len(b), ReportSize)
	}
	p := b[2:]
	le := binary.LittleEndian

	switch Mode(b[1]) {
	case ModeMLX:
		data := make([]byte, mlx.PacketSize)
		copy(data, p[:mlx.PacketSize])
		return MLXCommand{Data: data, CRC: p[mlx.PacketSize] != 0}, nil
	case ModeThreePhase:
		return ThreePhaseCommand{A: le.Uint16(p[0:]), B: le.Uint16(p[2:]), C: le.Uint16(p[4:])}, nil
	case ModeCalibration:
		return CalibrationCommand{Angle: le.Uint16(p[0:]), Amplitude: p[2]}, nil
	case ModePush:
		return PushCommand{Command: int16(le.Uint16(p[0:]))}, nil
	case ModeServo:
		return ServoCommand{Servo: ServoMode(p[0]), Command: int32(le.Uint32(p[1:]))}, nil
	case ModeClearFault:
		return ClearFaultCommand{}, nil
	default:
		return nil, fmt.Errorf("%w: mode %d", ErrInvalidCommand, b[1])
	}
}
