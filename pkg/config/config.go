// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads gyrostat.yaml. Every field has a default so a
// missing or partial file is valid.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Thermoquad/gyrostat/pkg/block"
	"github.com/Thermoquad/gyrostat/pkg/calibration"
	"github.com/Thermoquad/gyrostat/pkg/link"
	"github.com/Thermoquad/gyrostat/pkg/motor"
)

// ErrInvalid is wrapped by every validation failure
var ErrInvalid = errors.New("invalid configuration")

// Backend names a link implementation
const (
	BackendHID    = "hid"
	BackendSerial = "serial"
	BackendSim    = "sim"
)

// ─── Sections ───────────────────────────────────────────────────────────

type DeviceConfig struct {
	Backend        string        `yaml:"backend"`
	VendorID       uint16        `yaml:"vendor_id"`
	ProductID      uint16        `yaml:"product_id"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	BaudRate       int           `yaml:"baud_rate"`
	SimCycles      int           `yaml:"sim_cycles"`
	SimReportEvery time.Duration `yaml:"sim_report_interval"`
}

type CalibrationConfig struct {
	CountsPerCycle  int           `yaml:"counts_per_cycle"`
	Revolutions     int           `yaml:"revolutions"`
	MaxAmplitude    int           `yaml:"max_amplitude"`
	StepSize        int           `yaml:"step_size"`
	AlphaDelay      time.Duration `yaml:"alpha_delay"`
	XYZDelay        time.Duration `yaml:"xyz_delay"`
	ResponseTimeout time.Duration `yaml:"response_timeout"`
	MaxCycles       int           `yaml:"max_cycles"`
	RequireCRC      bool          `yaml:"require_crc"`
	ErrorThreshold  float64       `yaml:"error_threshold"`
	ErrorDecay      float64       `yaml:"error_decay"`
	DecayInterval   time.Duration `yaml:"decay_interval"`
	SampleModulus   int           `yaml:"sample_modulus"`
}

type MotorConfig struct {
	CountsPerRevolution  int     `yaml:"counts_per_revolution"`
	Zero                 float64 `yaml:"zero"`
	Forward              bool    `yaml:"forward"`
	TemperatureThreshold uint16  `yaml:"temperature_threshold"`
	EnergyThreshold      float64 `yaml:"energy_threshold"`
	EnergyResistance     float64 `yaml:"energy_resistance"`
	MaxVelocity          int     `yaml:"max_velocity"`
}

type OutputConfig struct {
	Directory  string `yaml:"directory"`
	HexBase    uint32 `yaml:"hex_base"`
	HexLineLen int    `yaml:"hex_line_length"`
}

type TelemetryConfig struct {
	WebSocketListen string `yaml:"websocket_listen"`
	MQTTBroker      string `yaml:"mqtt_broker"`
	MQTTTopic       string `yaml:"mqtt_topic"`
	MQTTClientID    string `yaml:"mqtt_client_id"`
}

// Config is the top-level structure of gyrostat.yaml
type Config struct {
	Device      DeviceConfig      `yaml:"device"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Motor       MotorConfig       `yaml:"motor"`
	Output      OutputConfig      `yaml:"output"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

// ─── Defaults and loading ───────────────────────────────────────────────

// Default returns the production configuration
func Default() *Config {
	cal := calibration.DefaultConfig()
	mot := motor.DefaultConfig()
	return &Config{
		Device: DeviceConfig{
			Backend:        BackendHID,
			VendorID:       link.VendorID,
			ProductID:      link.ProductID,
			PollInterval:   500 * time.Millisecond,
			ReadTimeout:    100 * time.Millisecond,
			BaudRate:       115200,
			SimCycles:      15,
			SimReportEvery: time.Millisecond,
		},
		Calibration: CalibrationConfig{
			CountsPerCycle:  cal.CountsPerCycle,
			Revolutions:     cal.Revolutions,
			MaxAmplitude:    cal.MaxAmplitude,
			StepSize:        cal.StepSize,
			AlphaDelay:      cal.AlphaDelay,
			XYZDelay:        cal.XYZDelay,
			ResponseTimeout: cal.ResponseTimeout,
			MaxCycles:       cal.MaxCycles,
			RequireCRC:      cal.RequireCRC,
			ErrorThreshold:  cal.Budget.Threshold,
			ErrorDecay:      cal.Budget.Decay,
			DecayInterval:   cal.Budget.Interval,
			SampleModulus:   calibration.SensorModulus,
		},
		Motor: MotorConfig{
			CountsPerRevolution:  mot.CountsPerRevolution,
			Zero:                 mot.Zero,
			Forward:              mot.Forward,
			TemperatureThreshold: mot.TemperatureThreshold,
			EnergyThreshold:      mot.EnergyThreshold,
			EnergyResistance:     mot.EnergyResistance,
			MaxVelocity:          mot.MaxVelocity,
		},
		Output: OutputConfig{
			Directory:  ".",
			HexBase:    block.DefaultBase,
			HexLineLen: block.DefaultLineLength,
		},
		Telemetry: TelemetryConfig{
			MQTTTopic:    "gyrostat",
			MQTTClientID: "gyrostat",
		},
	}
}

// Load reads a YAML file over the defaults and validates the result. An
// empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Marshal renders the configuration as YAML
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// ─── Conversion ─────────────────────────────────────────────────────────

// Sequencer returns the calibration sequencer settings
func (c *Config) Sequencer() calibration.Config {
	cc := c.Calibration
	return calibration.Config{
		CountsPerCycle:  cc.CountsPerCycle,
		Revolutions:     cc.Revolutions,
		MaxAmplitude:    cc.MaxAmplitude,
		StepSize:        cc.StepSize,
		AlphaDelay:      cc.AlphaDelay,
		XYZDelay:        cc.XYZDelay,
		ResponseTimeout: cc.ResponseTimeout,
		MaxCycles:       cc.MaxCycles,
		RequireCRC:      cc.RequireCRC,
		Budget: calibration.BudgetConfig{
			Threshold: cc.ErrorThreshold,
			Decay:     cc.ErrorDecay,
			Interval:  cc.DecayInterval,
		},
	}
}

// MotorSettings returns the façade settings
func (c *Config) MotorSettings() motor.Config {
	m := motor.DefaultConfig()
	m.CountsPerRevolution = c.Motor.CountsPerRevolution
	m.Zero = c.Motor.Zero
	m.Forward = c.Motor.Forward
	m.TemperatureThreshold = c.Motor.TemperatureThreshold
	m.EnergyThreshold = c.Motor.EnergyThreshold
	m.EnergyResistance = c.Motor.EnergyResistance
	m.MaxVelocity = c.Motor.MaxVelocity
	return m
}
