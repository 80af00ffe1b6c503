// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package motor wraps a controller link with motor level operations and
// the thermal and energy interlocks that guard them.
package motor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"sync"
	"time"

	"github.com/Thermoquad/gyrostat/pkg/angle"
	"github.com/Thermoquad/gyrostat/pkg/filters"
	"github.com/Thermoquad/gyrostat/pkg/link"
)

// CountsPerRevolution is the drive resolution of the production motor
const CountsPerRevolution = 3 * 256 * 15

// Current sense front end
const (
	vRef      = 2.56
	maxADC    = 1023
	senseGain = 20
	rSense    = 0.05
)

// stopAttempts bounds how often Stop retries a busy link
const stopAttempts = 20

// Writer is the part of a transport the façade commands through
type Writer interface {
	Write(ctx context.Context, c link.Command) error
}

// Config holds the motor geometry and interlock limits
type Config struct {
	CountsPerRevolution int
	// Zero is the count at logical position 0
	Zero float64
	// Forward false mirrors positions and commands
	Forward bool

	TemperatureThreshold uint16
	EnergyThreshold      float64
	EnergyResistance     float64
	MaxVelocity          int

	SkipLogInterval time.Duration
}

// DefaultConfig returns the production limits
func DefaultConfig() Config {
	return Config{
		CountsPerRevolution:  CountsPerRevolution,
		Forward:              true,
		TemperatureThreshold: link.MaxCPUTemp,
		EnergyThreshold:      2e7,
		EnergyResistance:     0.9,
		MaxVelocity:          link.MaxVelocity,
		SkipLogInterval:      time.Second,
	}
}

// PIDConstant names a servo gain
type PIDConstant int

const (
	KP PIDConstant = iota
	KI
	KD
)

func (c PIDConstant) servoMode() (link.ServoMode, error) {
	switch c {
	case KP:
		return link.ServoKP, nil
	case KI:
		return link.ServoKI, nil
	case KD:
		return link.ServoKD, nil
	}
	return 0, fmt.Errorf("%w: PID constant %d", filters.ErrInvalidArgument, int(c))
}

func (c PIDConstant) String() string {
	switch c {
	case KP:
		return "kP"
	case KI:
		return "kI"
	case KD:
		return "kD"
	}
	return fmt.Sprintf("PIDConstant(%d)", int(c))
}

// CommandMode is the last command kind the motor accepted
type CommandMode string

const (
	ModeNone     CommandMode = ""
	ModeConstant CommandMode = "constant"
	ModePosition CommandMode = "position"
)

// Status is a snapshot of the motor
type Status struct {
	Enabled bool

	Mode    CommandMode
	Command float64

	// Constants holds the gains the controller has acknowledged
	Constants map[PIDConstant]int32

	Data     link.ReadData
	Position float64
	Current  float64
	Energy   float64

	// Shutdown is the reason for the last emergency stop
	Shutdown string
	Skipped  uint64
}

// Option configures a Motor
type Option func(*Motor)

// WithLogger sets the logger for interlock and skip messages
func WithLogger(l *log.Logger) Option {
	return func(m *Motor) { m.logger = l }
}

// Motor is the command façade for one controller
type Motor struct {
	w       Writer
	cfg     Config
	serial  string
	logger  *log.Logger
	conv    *angle.CountConverter
	energy  *filters.EnergyAccumulator
	dir     float64
	skipped uint64

	mu        sync.Mutex
	enabled   bool
	status    Status
	lastPush  float64
	skipTotal uint64
}

// New creates a disabled motor
func New(w Writer, serial string, cfg Config, opts ...Option) (*Motor, error) {
	energy, err := filters.NewEnergyAccumulator(cfg.EnergyResistance)
	if err != nil {
		return nil, err
	}
	if cfg.CountsPerRevolution <= 0 {
		return nil, fmt.Errorf("%w: counts per revolution %d", filters.ErrInvalidArgument, cfg.CountsPerRevolution)
	}

	m := &Motor{
		w:      w,
		cfg:    cfg,
		serial: serial,
		logger: log.New(io.Discard, "", 0),
		conv:   angle.NewCountConverter(float64(cfg.CountsPerRevolution), cfg.Zero),
		energy: energy,
		dir:    1,
		status: Status{Constants: map[PIDConstant]int32{}},
	}
	if !cfg.Forward {
		m.dir = -1
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Enable allows commands
func (m *Motor) Enable() {
	m.mu.Lock()
	m.enabled = true
	m.mu.Unlock()
}

// Disable stops the motor and rejects further commands
func (m *Motor) Disable(ctx context.Context) error {
	err := m.Stop(ctx)
	m.mu.Lock()
	m.enabled = false
	m.mu.Unlock()
	return err
}

// Enabled reports whether commands are accepted
func (m *Motor) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

// Push applies a constant drive command. It returns false when the motor
// is disabled or a nonzero command was dropped because the link was busy.
func (m *Motor) Push(ctx context.Context, command int16) (bool, error) {
	if !m.Enabled() {
		return false, nil
	}

	value := int16(filters.ClampRange(m.dir*float64(command), math.MinInt16, math.MaxInt16))
	err := m.w.Write(ctx, link.PushCommand{Command: value})
	if errors.Is(err, link.ErrBusy) && command != 0 {
		m.skip()
		return false, nil
	}
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	m.lastPush = float64(value)
	m.status.Mode = ModeConstant
	m.status.Command = float64(value)
	m.mu.Unlock()
	return true, nil
}

// Stop pushes a zero command. A busy link is retried since a stop must not
// be dropped.
func (m *Motor) Stop(ctx context.Context) error {
	var err error
	for i := 0; i < stopAttempts; i++ {
		var ok bool
		ok, err = m.Push(ctx, 0)
		if ok || (err == nil && !m.Enabled()) {
			return nil
		}
		if !errors.Is(err, link.ErrBusy) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
	return err
}

// ClearFault returns a faulted controller to manual mode. It is allowed
// while disabled.
func (m *Motor) ClearFault(ctx context.Context) error {
	return m.w.Write(ctx, link.ClearFaultCommand{})
}

// SetConstant sends one servo gain. The value is recorded once the
// controller accepted the write.
func (m *Motor) SetConstant(ctx context.Context, c PIDConstant, value int32) (bool, error) {
	if !m.Enabled() {
		return false, nil
	}
	mode, err := c.servoMode()
	if err != nil {
		return false, err
	}

	cmd := link.ServoCommand{Servo: mode, Command: value}
	if err := m.w.Write(ctx, cmd); err != nil {
		if errors.Is(err, link.ErrBusy) {
			m.skip()
			return false, nil
		}
		return false, err
	}

	m.mu.Lock()
	m.status.Constants[c] = cmd.Value()
	m.mu.Unlock()
	return true, nil
}

// GoToPosition commands the controller's servo to a logical position in
// [-1, 1]
func (m *Motor) GoToPosition(ctx context.Context, pos float64) (bool, error) {
	if !m.Enabled() {
		return false, nil
	}

	counts := m.conv.PositionToCounts(pos * m.dir)
	cmd := link.ServoCommand{Servo: link.ServoPosition, Command: int32(math.Round(counts))}
	if err := m.w.Write(ctx, cmd); err != nil {
		if errors.Is(err, link.ErrBusy) {
			m.skip()
			return false, nil
		}
		return false, err
	}

	m.mu.Lock()
	m.status.Mode = ModePosition
	m.status.Command = float64(cmd.Command)
	m.mu.Unlock()
	return true, nil
}

func (m *Motor) skip() {
	m.mu.Lock()
	m.skipped++
	m.skipTotal++
	m.mu.Unlock()
}

// Status returns a snapshot
func (m *Motor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.status
	s.Enabled = m.enabled
	s.Skipped = m.skipTotal
	s.Constants = make(map[PIDConstant]int32, len(m.status.Constants))
	for k, v := range m.status.Constants {
		s.Constants[k] = v
	}
	return s
}

// Amps converts a current sense reading to amperes
func Amps(current int16) float64 {
	return float64(current) * vRef / (maxADC * senseGain * rSense)
}

// HandleReport updates the status from one report and trips the
// interlocks. Reports with an implausible velocity are ignored.
func (m *Motor) HandleReport(ctx context.Context, rd link.ReadData) {
	if math.Abs(float64(rd.Velocity)) > float64(m.cfg.MaxVelocity) {
		return
	}

	m.mu.Lock()
	amplitude := m.lastPush
	m.mu.Unlock()

	energy, err := m.energy.Feed(amplitude)
	if err != nil {
		m.logger.Printf("%s: energy integrator: %v", m.serial, err)
	}

	overTemp := rd.CPUTemp > m.cfg.TemperatureThreshold
	if (overTemp || energy > m.cfg.EnergyThreshold) && m.Enabled() {
		reason := "accumulation"
		if overTemp {
			reason = "temp"
		}
		if err := m.Stop(ctx); err != nil {
			m.logger.Printf("%s: stop failed: %v", m.serial, err)
		}
		m.logger.Printf("%s: Emergency shutdown. Over %s", m.serial, reason)

		m.mu.Lock()
		m.enabled = false
		m.status.Shutdown = reason
		m.mu.Unlock()
	}

	m.mu.Lock()
	m.status.Data = rd
	m.status.Position = m.conv.CountsToPosition(float64(rd.Position)) * m.dir
	m.status.Current = Amps(rd.Current)
	m.status.Energy = energy
	m.mu.Unlock()
}

// Run feeds reports to HandleReport and logs skipped commands periodically
// until ctx is done or reports is closed
func (m *Motor) Run(ctx context.Context, reports <-chan link.ReadData) error {
	interval := m.cfg.SkipLogInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rd, ok := <-reports:
			if !ok {
				return nil
			}
			m.HandleReport(ctx, rd)
		case <-ticker.C:
			m.mu.Lock()
			n := m.skipped
			m.skipped = 0
			m.mu.Unlock()
			if n > 0 {
				m.logger.Printf("%s skipped %d commands", m.serial, n)
			}
		}
	}
}
