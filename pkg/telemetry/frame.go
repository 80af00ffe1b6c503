// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package telemetry publishes controller reports and calibration progress
// as CBOR frames to WebSocket clients and an MQTT broker.
package telemetry

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/Thermoquad/gyrostat/pkg/calibration"
	"github.com/Thermoquad/gyrostat/pkg/link"
	"github.com/Thermoquad/gyrostat/pkg/motor"
)

// MsgType identifies a frame
type MsgType uint8

const (
	MsgReport           MsgType = 0x01
	MsgLinkStatus       MsgType = 0x02
	MsgCalibrationEvent MsgType = 0x10
	MsgCalibrationDone  MsgType = 0x11
	MsgCalibrationError MsgType = 0x12
	MsgMotorStatus      MsgType = 0x20
)

// Name is the MQTT subtopic of a frame type
func (t MsgType) Name() string {
	switch t {
	case MsgReport:
		return "report"
	case MsgLinkStatus:
		return "status"
	case MsgCalibrationEvent:
		return "calibration/event"
	case MsgCalibrationDone:
		return "calibration/done"
	case MsgCalibrationError:
		return "calibration/error"
	case MsgMotorStatus:
		return "motor"
	}
	return fmt.Sprintf("unknown/%02x", uint8(t))
}

// Payload map keys
const (
	KeySerial = iota
	KeyState
	KeyFault
	KeyPosition
	KeyVelocity
	KeyRawAngle
	KeyCalibrated
	KeyCPUTemp
	KeyCurrent
	KeyAIN0
	KeyAS
	KeyBS
	KeyCS
	KeySensor
	KeySensorCRC
	KeyTimestamp
	KeyStatus
	KeyEvent
	KeyStep
	KeyDir
	KeyEnd
	KeyAmplitude
	KeyAlpha
	KeyX
	KeyY
	KeyZ
	KeyCycles
	KeyForwardCount
	KeyReverseCount
	KeyError
	KeyEnabled
	KeyEnergy
	KeyAmps
	KeyLogicalPosition
	KeyShutdown
)

var keyNames = [...]string{
	KeySerial:          "serial",
	KeyState:           "state",
	KeyFault:           "fault",
	KeyPosition:        "position",
	KeyVelocity:        "velocity",
	KeyRawAngle:        "angle",
	KeyCalibrated:      "calibrated",
	KeyCPUTemp:         "cpu_temp",
	KeyCurrent:         "current",
	KeyAIN0:            "ain0",
	KeyAS:              "as",
	KeyBS:              "bs",
	KeyCS:              "cs",
	KeySensor:          "sensor",
	KeySensorCRC:       "sensor_crc",
	KeyTimestamp:       "time",
	KeyStatus:          "status",
	KeyEvent:           "event",
	KeyStep:            "step",
	KeyDir:             "dir",
	KeyEnd:             "end",
	KeyAmplitude:       "amplitude",
	KeyAlpha:           "alpha",
	KeyX:               "x",
	KeyY:               "y",
	KeyZ:               "z",
	KeyCycles:          "cycles",
	KeyForwardCount:    "forward",
	KeyReverseCount:    "reverse",
	KeyError:           "error",
	KeyEnabled:         "enabled",
	KeyEnergy:          "energy",
	KeyAmps:            "amps",
	KeyLogicalPosition: "logical_position",
	KeyShutdown:        "shutdown",
}

// KeyName returns the display name of a payload key
func KeyName(k int) string {
	if k >= 0 && k < len(keyNames) {
		return keyNames[k]
	}
	return fmt.Sprintf("%d", k)
}

// ErrFrame means a frame could not be decoded
var ErrFrame = errors.New("invalid telemetry frame")

// Frame is one encoded message: the CBOR array [type, payload map]
type Frame struct {
	Type MsgType
	Data []byte
}

// Encode builds a frame from a payload map
func Encode(t MsgType, payload map[int]interface{}) (Frame, error) {
	var msg interface{} = []interface{}{uint64(t), payload}
	if len(payload) == 0 {
		msg = []interface{}{uint64(t), nil}
	}
	data, err := cbor.Marshal(msg)
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s frame: %w", t.Name(), err)
	}
	return Frame{Type: t, Data: data}, nil
}

// Decode parses frame bytes back into a type and payload map
func Decode(data []byte) (MsgType, map[int]interface{}, error) {
	var msg []interface{}
	if err := cbor.Unmarshal(data, &msg); err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrFrame, err)
	}
	if len(msg) != 2 {
		return 0, nil, fmt.Errorf("%w: expected 2-element array, got %d", ErrFrame, len(msg))
	}

	v, ok := msg[0].(uint64)
	if !ok || v > 255 {
		return 0, nil, fmt.Errorf("%w: bad message type %v", ErrFrame, msg[0])
	}
	if msg[1] == nil {
		return MsgType(v), nil, nil
	}

	raw, ok := msg[1].(map[interface{}]interface{})
	if !ok {
		return 0, nil, fmt.Errorf("%w: expected map payload, got %T", ErrFrame, msg[1])
	}
	payload := make(map[int]interface{}, len(raw))
	for key, val := range raw {
		switch k := key.(type) {
		case uint64:
			payload[int(k)] = val
		case int64:
			payload[int(k)] = val
		default:
			return 0, nil, fmt.Errorf("%w: non-integer key %T", ErrFrame, key)
		}
	}
	return MsgType(v), payload, nil
}

// ReportFrame encodes one controller report
func ReportFrame(serial string, rd link.ReadData) (Frame, error) {
	return Encode(MsgReport, map[int]interface{}{
		KeySerial:     serial,
		KeyState:      uint8(rd.State),
		KeyFault:      uint8(rd.Fault),
		KeyPosition:   rd.Position,
		KeyVelocity:   rd.Velocity,
		KeyRawAngle:   rd.RawAngle,
		KeyCalibrated: rd.Calibrated,
		KeyCPUTemp:    rd.CPUTemp,
		KeyCurrent:    rd.Current,
		KeyAIN0:       rd.AIN0,
		KeyAS:         rd.AS,
		KeyBS:         rd.BS,
		KeyCS:         rd.CS,
		KeySensor:     rd.MLXResponse[:],
		KeySensorCRC:  rd.LocalMLXCRC,
		KeyTimestamp:  rd.Timestamp.UnixMilli(),
	})
}

// StatusFrame encodes a link attach or detach
func StatusFrame(serial string, s link.Status) (Frame, error) {
	return Encode(MsgLinkStatus, map[int]interface{}{
		KeySerial: serial,
		KeyStatus: s.String(),
	})
}

// EventFrame encodes a calibration yield point. Done events carry the
// sample counts instead of the capture.
func EventFrame(serial string, ev calibration.Event) (Frame, error) {
	p := map[int]interface{}{
		KeySerial: serial,
		KeyEvent:  ev.Kind.String(),
	}
	switch ev.Kind {
	case calibration.EventCyclesWait, calibration.EventCycles:
		p[KeyCycles] = ev.Cycles
	case calibration.EventAlpha:
		p[KeyStep], p[KeyDir], p[KeyEnd] = ev.Step, ev.Dir, ev.End
		p[KeyAmplitude], p[KeyAlpha] = ev.Amplitude, ev.Alpha
	case calibration.EventXYZ:
		p[KeyStep], p[KeyDir] = ev.Step, ev.Dir
		p[KeyX], p[KeyY], p[KeyZ] = ev.X, ev.Y, ev.Z
	case calibration.EventDataUnit:
		p[KeyStep], p[KeyDir] = ev.Step, ev.Dir
		p[KeyAlpha], p[KeyCurrent], p[KeyCPUTemp] = ev.Point.Alpha, ev.Point.Current, ev.Point.Temperature
	case calibration.EventAlphaWait, calibration.EventXYZWait:
		p[KeyStep], p[KeyDir] = ev.Step, ev.Dir
	case calibration.EventDone:
		if ev.Data != nil {
			p[KeyForwardCount] = ev.Data.Forward.Count()
			p[KeyReverseCount] = ev.Data.Reverse.Count()
			p[KeyTimestamp] = ev.Data.Time.UnixMilli()
		}
		return Encode(MsgCalibrationDone, p)
	}
	return Encode(MsgCalibrationEvent, p)
}

// ErrorFrame encodes a failed calibration run
func ErrorFrame(serial string, err error) (Frame, error) {
	return Encode(MsgCalibrationError, map[int]interface{}{
		KeySerial: serial,
		KeyError:  err.Error(),
	})
}

// MotorFrame encodes a façade status snapshot
func MotorFrame(serial string, s motor.Status) (Frame, error) {
	return Encode(MsgMotorStatus, map[int]interface{}{
		KeySerial:          serial,
		KeyEnabled:         s.Enabled,
		KeyLogicalPosition: s.Position,
		KeyAmps:            s.Current,
		KeyEnergy:          s.Energy,
		KeyShutdown:        s.Shutdown,
	})
}
