// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package calibration

import "errors"

var (
	// ErrCyclesNotDetected means homing never saw position zero
	ErrCyclesNotDetected = errors.New("could not detect cycles")

	// ErrMotorFault means the controller entered its fault state
	ErrMotorFault = errors.New("motor fault")

	// ErrWrongState means the controller left manual mode
	ErrWrongState = errors.New("wrong controller state")

	// ErrMissingResponse means no report arrived within the response timeout
	ErrMissingResponse = errors.New("missing response")

	// ErrUnexpectedPacket means the sensor answered with the wrong packet
	// shape or an outbound-only opcode
	ErrUnexpectedPacket = errors.New("unexpected sensor packet")

	// ErrBudgetExhausted means retryable errors arrived faster than the
	// budget forgives them
	ErrBudgetExhausted = errors.New("error budget exhausted")

	// ErrDeviceMissing means the controller is gone or rejected a write
	ErrDeviceMissing = errors.New("device missing")

	// ErrFinished is returned by Next after the run completed or failed
	ErrFinished = errors.New("calibration finished")

	// ErrInvalidCapture means a capture file could not be parsed
	ErrInvalidCapture = errors.New("invalid capture")
)
