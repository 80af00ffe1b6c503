// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import "fmt"

// Limits beyond which a report is flagged as anomalous
const (
	// MaxVelocity rejects glitched velocity readings
	MaxVelocity = 5000

	// MaxCPUTemp is the controller's thermal shutdown threshold in raw ADC
	// counts
	MaxCPUTemp = 380
)

// AnomalyType represents different types of report anomalies
type AnomalyType int

const (
	AnomalyLengthMismatch AnomalyType = iota
	AnomalyInvalidState
	AnomalyFault
	AnomalyHighVelocity
	AnomalyHighTemp
	AnomalySensorCRC
	AnomalySensorDecode
)

// ValidationError represents a report validation failure
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// ValidateReport checks a decoded report for anomalies
// Returns a slice of validation errors (empty if the report looks sane)
func ValidateReport(r *ReadData) []ValidationError {
	errors := []ValidationError{}

	if r.State > StateServo {
		errors = append(errors, ValidationError{
			Type:    AnomalyInvalidState,
			Message: fmt.Sprintf("Invalid state=%d (max %d)", r.State, StateServo),
			Details: map[string]interface{}{"state": r.State, "max": StateServo},
		})
	}

	if r.IsFault() {
		errors = append(errors, ValidationError{
			Type:    AnomalyFault,
			Message: fmt.Sprintf("Controller fault: %s", FormatFault(r.Fault)),
			Details: map[string]interface{}{"fault": r.Fault},
		})
	}

	if v := int(r.Velocity); v > MaxVelocity || v < -MaxVelocity {
		errors = append(errors, ValidationError{
			Type:    AnomalyHighVelocity,
			Message: fmt.Sprintf("Velocity glitch (%d, max %d)", v, MaxVelocity),
			Details: map[string]interface{}{"velocity": v, "max": MaxVelocity},
		})
	}

	if r.CPUTemp > MaxCPUTemp {
		errors = append(errors, ValidationError{
			Type:    AnomalyHighTemp,
			Message: fmt.Sprintf("CPU temperature %d over threshold %d", r.CPUTemp, MaxCPUTemp),
			Details: map[string]interface{}{"cpu_temp": r.CPUTemp, "max": MaxCPUTemp},
		})
	}

	// Sensor checks only mean something while the controller is tunneling
	if r.IsManual() {
		p, err := r.Sensor()
		switch {
		case err != nil:
			errors = append(errors, ValidationError{
				Type:    AnomalySensorDecode,
				Message: fmt.Sprintf("Sensor decode: %v", err),
				Details: map[string]interface{}{"raw": r.MLXResponse},
			})
		case !p.CRCValid():
			errors = append(errors, ValidationError{
				Type:    AnomalySensorCRC,
				Message: "Sensor CRC mismatch",
				Details: map[string]interface{}{"raw": r.MLXResponse},
			})
		}
	}

	return errors
}
