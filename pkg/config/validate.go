// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"errors"
	"fmt"
	"math"
	"time"
)

type check func(*Config) error

// checks run in order; every failure is reported
var checks = []check{
	checkBackend,
	checkDeviceTiming,
	checkCycles,
	checkSweep,
	checkBudget,
	checkMotor,
	checkOutput,
}

// Validate checks every field and joins all failures
func (c *Config) Validate() error {
	var errs []error
	for _, fn := range checks {
		if err := fn(c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func invalid(field string, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalid, field, fmt.Sprintf(format, args...))
}

func positive(field string, d time.Duration) error {
	if d <= 0 {
		return invalid(field, "must be positive, got %v", d)
	}
	return nil
}

func checkBackend(c *Config) error {
	switch c.Device.Backend {
	case BackendHID, BackendSerial, BackendSim:
	default:
		return invalid("device.backend", "unknown backend %q", c.Device.Backend)
	}
	if c.Device.Backend == BackendSerial && c.Device.BaudRate <= 0 {
		return invalid("device.baud_rate", "must be positive, got %d", c.Device.BaudRate)
	}
	return nil
}

func checkDeviceTiming(c *Config) error {
	return errors.Join(
		positive("device.poll_interval", c.Device.PollInterval),
		positive("device.read_timeout", c.Device.ReadTimeout),
	)
}

// checkCycles keeps homing targets inside a 16-bit drive angle
func checkCycles(c *Config) error {
	cc := c.Calibration
	if cc.CountsPerCycle <= 0 {
		return invalid("calibration.counts_per_cycle", "must be positive, got %d", cc.CountsPerCycle)
	}
	if cc.MaxCycles < 1 || cc.MaxCycles > 255 {
		return invalid("calibration.max_cycles", "must be within [1, 255], got %d", cc.MaxCycles)
	}
	if c.Device.SimCycles < 1 || c.Device.SimCycles*cc.CountsPerCycle > math.MaxUint16 {
		return invalid("device.sim_cycles", "%d cycles of %d counts overflow a drive angle", c.Device.SimCycles, cc.CountsPerCycle)
	}
	return nil
}

func checkSweep(c *Config) error {
	cc := c.Calibration
	var errs []error
	if cc.Revolutions < 1 {
		errs = append(errs, invalid("calibration.revolutions", "must be at least 1, got %d", cc.Revolutions))
	}
	if cc.MaxAmplitude < 1 || cc.MaxAmplitude > 255 {
		errs = append(errs, invalid("calibration.max_amplitude", "must be within [1, 255], got %d", cc.MaxAmplitude))
	}
	if cc.StepSize < 1 {
		errs = append(errs, invalid("calibration.step_size", "must be at least 1, got %d", cc.StepSize))
	}
	if cc.AlphaDelay < 0 || cc.XYZDelay < 0 {
		errs = append(errs, invalid("calibration.alpha_delay/xyz_delay", "must not be negative"))
	}
	errs = append(errs, positive("calibration.response_timeout", cc.ResponseTimeout))
	if cc.SampleModulus <= 0 {
		errs = append(errs, invalid("calibration.sample_modulus", "must be positive, got %d", cc.SampleModulus))
	}
	return errors.Join(errs...)
}

func checkBudget(c *Config) error {
	cc := c.Calibration
	var errs []error
	if cc.ErrorThreshold < 1 {
		errs = append(errs, invalid("calibration.error_threshold", "must be at least 1, got %v", cc.ErrorThreshold))
	}
	if cc.ErrorDecay < 0 {
		errs = append(errs, invalid("calibration.error_decay", "must not be negative, got %v", cc.ErrorDecay))
	}
	errs = append(errs, positive("calibration.decay_interval", cc.DecayInterval))
	return errors.Join(errs...)
}

func checkMotor(c *Config) error {
	m := c.Motor
	var errs []error
	if m.CountsPerRevolution <= 0 || m.CountsPerRevolution > math.MaxUint16 {
		errs = append(errs, invalid("motor.counts_per_revolution", "must be within [1, 65535], got %d", m.CountsPerRevolution))
	}
	if !(m.EnergyResistance > 0 && m.EnergyResistance < 1) {
		errs = append(errs, invalid("motor.energy_resistance", "must be within (0, 1), got %v", m.EnergyResistance))
	}
	if m.EnergyThreshold <= 0 {
		errs = append(errs, invalid("motor.energy_threshold", "must be positive, got %v", m.EnergyThreshold))
	}
	if m.MaxVelocity <= 0 {
		errs = append(errs, invalid("motor.max_velocity", "must be positive, got %d", m.MaxVelocity))
	}
	return errors.Join(errs...)
}

func checkOutput(c *Config) error {
	if c.Output.HexLineLen < 1 || c.Output.HexLineLen > 255 {
		return invalid("output.hex_line_length", "must be within [1, 255], got %d", c.Output.HexLineLen)
	}
	return nil
}
