// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"fmt"

	"github.com/Thermoquad/gyrostat/pkg/mlx"
)

// FormatReport formats a report into a human-readable string
func FormatReport(r *ReadData) string {
	timestamp := r.Timestamp.Format("15:04:05.000")
	cal := ""
	if r.Calibrated {
		cal = " calibrated"
	}

	result := fmt.Sprintf("[%s] %s pos=%d vel=%d angle=%d%s temp=%d current=%d\n",
		timestamp, FormatState(r.State), r.Position, r.Velocity, r.RawAngle, cal, r.CPUTemp, r.Current)
	result += fmt.Sprintf("  phases A=%d B=%d C=%d ain0=%d", r.AS, r.BS, r.CS, r.AIN0)

	if r.IsFault() {
		result += fmt.Sprintf(" fault=%s", FormatFault(r.Fault))
	}
	result += "\n"

	if r.IsManual() {
		p, err := r.Sensor()
		if err != nil {
			result += fmt.Sprintf("  sensor: %v (% X)\n", err, r.MLXResponse)
		} else {
			result += fmt.Sprintf("  sensor: %s\n", mlx.FormatPacket(p))
		}
	}

	return result
}

// FormatState returns the human-readable name for a controller state
func FormatState(s ControllerState) string {
	switch s {
	case StateFault:
		return "FAULT"
	case StateMLXSetup:
		return "MLX_SETUP"
	case StateManual:
		return "MANUAL"
	case StateCalibration:
		return "CALIBRATION"
	case StatePush:
		return "PUSH"
	case StateServo:
		return "SERVO"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(s))
	}
}

// FormatFault returns the human-readable name for a controller fault
func FormatFault(f ControllerFault) string {
	switch f {
	case FaultInit:
		return "INIT"
	case FaultInvalidCommand:
		return "INVALID_COMMAND"
	case FaultOverCurrent:
		return "OVER_CURRENT"
	case FaultOverTemperature:
		return "OVER_TEMPERATURE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(f))
	}
}

// FormatMode returns the human-readable name for a command mode
func FormatMode(m Mode) string {
	switch m {
	case ModeMLX:
		return "MLX"
	case ModeThreePhase:
		return "THREE_PHASE"
	case ModeCalibration:
		return "CALIBRATION"
	case ModePush:
		return "PUSH"
	case ModeServo:
		return "SERVO"
	case ModeClearFault:
		return "CLEAR_FAULT"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(m))
	}
}

// FormatCommand formats a command into a human-readable string
func FormatCommand(c Command) string {
	switch v := c.(type) {
	case MLXCommand:
		if len(v.Data) < mlx.PacketSize-1 {
			return fmt.Sprintf("MLX % X", v.Data)
		}
		op := mlx.Opcode(v.Data[6] & 0x3F)
		marker := mlx.Marker(v.Data[6] >> 6)
		return fmt.Sprintf("MLX %s/%s % X", mlx.FormatOpcode(op), mlx.FormatMarker(marker), v.Data)
	case ThreePhaseCommand:
		return fmt.Sprintf("THREE_PHASE A=%d B=%d C=%d", v.A, v.B, v.C)
	case CalibrationCommand:
		return fmt.Sprintf("CALIBRATION angle=%d amplitude=%d", v.Angle, v.Amplitude)
	case PushCommand:
		return fmt.Sprintf("PUSH %d", v.Command)
	case ServoCommand:
		return fmt.Sprintf("SERVO mode=%d command=%d", v.Servo, v.Value())
	case ClearFaultCommand:
		return "CLEAR_FAULT"
	default:
		return "UNKNOWN"
	}
}
