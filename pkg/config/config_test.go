// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gyrostat.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestDefault_Valid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("Default().Validate() error = %v", err)
	}
}

func TestLoad_EmptyPath(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Calibration.ErrorThreshold != 5 {
		t.Errorf("ErrorThreshold = %v, want 5", cfg.Calibration.ErrorThreshold)
	}
}

func TestLoad_PartialOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
device:
  backend: sim
  vendor_id: 0x1234
calibration:
  revolutions: 1
  response_timeout: 250ms
  require_crc: false
motor:
  forward: false
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"backend", cfg.Device.Backend, BackendSim},
		{"vendor", cfg.Device.VendorID, uint16(0x1234)},
		{"product default", cfg.Device.ProductID, uint16(0xBEEF)},
		{"revolutions", cfg.Calibration.Revolutions, 1},
		{"timeout", cfg.Calibration.ResponseTimeout, 250 * time.Millisecond},
		{"crc", cfg.Calibration.RequireCRC, false},
		{"amplitude default", cfg.Calibration.MaxAmplitude, 65},
		{"forward", cfg.Motor.Forward, false},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}

	seq := cfg.Sequencer()
	if seq.RequireCRC || seq.Revolutions != 1 || seq.Budget.Decay != 0.1 {
		t.Errorf("Sequencer() = %+v", seq)
	}
	if cfg.MotorSettings().Forward {
		t.Error("MotorSettings().Forward = true")
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"backend", "device:\n  backend: bluetooth\n", "device.backend"},
		{"amplitude", "calibration:\n  max_amplitude: 300\n", "calibration.max_amplitude"},
		{"cycles", "calibration:\n  max_cycles: 0\n", "calibration.max_cycles"},
		{"resistance", "motor:\n  energy_resistance: 1.5\n", "motor.energy_resistance"},
		{"budget", "calibration:\n  error_threshold: 0\n", "calibration.error_threshold"},
		{"timeout", "calibration:\n  response_timeout: 0s\n", "calibration.response_timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("Load() error = %v, want ErrInvalid", err)
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("Load() error = %v, want mention of %s", err, tt.field)
			}
		})
	}
}

func TestValidate_ReportsEveryFailure(t *testing.T) {
	cfg := Default()
	cfg.Calibration.Revolutions = 0
	cfg.Motor.MaxVelocity = 0

	err := cfg.Validate()
	for _, field := range []string{"calibration.revolutions", "motor.max_velocity"} {
		if err == nil || !strings.Contains(err.Error(), field) {
			t.Errorf("Validate() error = %v, want mention of %s", err, field)
		}
	}
}

func TestLoad_Malformed(t *testing.T) {
	if _, err := Load(writeConfig(t, "device: [")); err == nil {
		t.Error("Load() of malformed YAML succeeded")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() of missing file succeeded")
	}
}

func TestMarshal_RoundTrip(t *testing.T) {
	out, err := Default().Marshal()
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	cfg, err := Load(writeConfig(t, string(out)))
	if err != nil {
		t.Fatalf("Load() of marshalled defaults error = %v", err)
	}
	if cfg.Calibration.AlphaDelay != 2*time.Millisecond {
		t.Errorf("AlphaDelay = %v, want 2ms", cfg.Calibration.AlphaDelay)
	}
}
