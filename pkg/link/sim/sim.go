// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package sim is an in-process motor controller with an attached angle
// sensor. It implements link.Enumerator and link.Device so every command can
// run without hardware.
package sim

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/Thermoquad/gyrostat/pkg/angle"
	"github.com/Thermoquad/gyrostat/pkg/link"
	"github.com/Thermoquad/gyrostat/pkg/mlx"
)

// ErrUnplugged is returned by a device whose controller was unplugged
var ErrUnplugged = errors.New("simulated controller unplugged")

const sensorCounts = 16384

// Config describes the simulated hardware
type Config struct {
	Serial              string
	CyclesPerRevolution int
	CountsPerCycle      int

	// SensorOffset is the sensor reading at rotor position zero
	SensorOffset float64

	// Nonlinearity is the amplitude, in sensor counts, of a once per
	// revolution error in the sensor reading
	Nonlinearity float64

	// Backlash shifts the rotor behind the commanded angle, in drive steps,
	// opposite to the direction of motion
	Backlash float64

	// ReportInterval is the IN report period
	ReportInterval time.Duration
}

// DefaultConfig returns a 15 cycle motor with a slightly nonlinear sensor
func DefaultConfig(serial string) Config {
	return Config{
		Serial:              serial,
		CyclesPerRevolution: 15,
		CountsPerCycle:      768,
		SensorOffset:        3000,
		Nonlinearity:        40,
		Backlash:            2,
		ReportInterval:      time.Millisecond,
	}
}

// Controller is one simulated motor controller
type Controller struct {
	cfg Config
	cpr int

	mu        sync.Mutex
	attached  bool
	state     link.ControllerState
	fault     link.ControllerFault
	position  uint16
	rotor     float64
	lastAngle int
	lastDir   float64
	amplitude uint8
	cpuTemp   uint16
	roll      uint8

	response    [mlx.PacketSize]byte
	pending     func() [mlx.PacketSize]byte
	crcFailures int
	ntts        int
	errorFrames int
	memory      map[uint16]uint16

	commands []link.Command
}

// New creates an attached controller in manual state
func New(cfg Config) *Controller {
	if cfg.ReportInterval <= 0 {
		cfg.ReportInterval = time.Millisecond
	}
	return &Controller{
		cfg:      cfg,
		cpr:      cfg.CyclesPerRevolution * cfg.CountsPerCycle,
		attached: true,
		state:    link.StateManual,
		cpuTemp:  250,
		lastDir:  1,
		response: mlx.OpcodeResponse(mlx.OpReadyMessage, [3]uint16{1, 1, 0}),
		memory:   map[uint16]uint16{},
	}
}

// Serial returns the controller's serial number
func (c *Controller) Serial() string { return c.cfg.Serial }

// Unplug detaches the controller; open devices start failing
func (c *Controller) Unplug() {
	c.mu.Lock()
	c.attached = false
	c.mu.Unlock()
}

// Plug re-attaches the controller
func (c *Controller) Plug() {
	c.mu.Lock()
	c.attached = true
	c.mu.Unlock()
}

// Attached reports whether the controller is plugged in
func (c *Controller) Attached() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attached
}

// InjectCRCFailures corrupts the checksum of the next n sensor responses
func (c *Controller) InjectCRCFailures(n int) {
	c.mu.Lock()
	c.crcFailures += n
	c.mu.Unlock()
}

// InjectNTT replaces the next n sensor responses with nothing-to-transmit
func (c *Controller) InjectNTT(n int) {
	c.mu.Lock()
	c.ntts += n
	c.mu.Unlock()
}

// InjectErrorFrames replaces the next n sensor responses with error frames
func (c *Controller) InjectErrorFrames(n int) {
	c.mu.Lock()
	c.errorFrames += n
	c.mu.Unlock()
}

// SetFault faults the controller
func (c *Controller) SetFault(f link.ControllerFault) {
	c.mu.Lock()
	c.state = link.StateFault
	c.fault = f
	c.mu.Unlock()
}

// SetState forces the controller state
func (c *Controller) SetState(s link.ControllerState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// SetTemperature sets the reported CPU temperature
func (c *Controller) SetTemperature(t uint16) {
	c.mu.Lock()
	c.cpuTemp = t
	c.mu.Unlock()
}

// SetMemory sets a sensor memory word returned by memory reads
func (c *Controller) SetMemory(addr, value uint16) {
	c.mu.Lock()
	c.memory[addr] = value
	c.mu.Unlock()
}

// Commands returns every command received so far
func (c *Controller) Commands() []link.Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]link.Command(nil), c.commands...)
}

// Report returns the IN report the controller would send now
func (c *Controller) Report() link.ReadData {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.report()
}

func (c *Controller) report() link.ReadData {
	amp := float64(c.amplitude)
	e := angle.Tau * c.rotor / float64(c.cfg.CountsPerCycle)
	phase := func(shift float64) uint16 {
		return uint16(512 + amp*math.Sin(e+shift))
	}
	return link.ReadData{
		State:       c.state,
		Fault:       c.fault,
		Position:    c.position,
		RawAngle:    uint16(c.alpha()),
		CPUTemp:     c.cpuTemp,
		Current:     int16(amp * 10),
		AS:          phase(0),
		BS:          phase(angle.Tau / 3),
		CS:          phase(2 * angle.Tau / 3),
		MLXResponse: c.response,
		LocalMLXCRC: true,
		Timestamp:   time.Now(),
	}
}

// mechanical returns the rotor position as a fraction of a revolution
func (c *Controller) mechanical() float64 {
	lag := -c.lastDir * c.cfg.Backlash
	return angle.Mod(c.rotor+lag, float64(c.cpr)) / float64(c.cpr)
}

// alpha is the sensor reading for the current rotor position
func (c *Controller) alpha() int {
	m := c.mechanical()
	v := c.cfg.SensorOffset + m*sensorCounts + c.cfg.Nonlinearity*math.Sin(angle.Tau*m)
	return int(math.Round(angle.Mod(v, sensorCounts))) % sensorCounts
}

// Apply executes one command as the firmware would
func (c *Controller) Apply(cmd link.Command) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commands = append(c.commands, cmd)

	switch v := cmd.(type) {
	case link.ClearFaultCommand:
		c.state = link.StateManual
		c.fault = link.FaultInit
	case link.CalibrationCommand:
		if c.state != link.StateManual {
			return
		}
		c.drive(int(v.Angle), v.Amplitude)
	case link.PushCommand:
		if c.state == link.StateFault {
			return
		}
		c.state = link.StatePush
		c.amplitude = uint8(math.Min(math.Abs(float64(v.Command)), 255))
	case link.ServoCommand:
		if c.state == link.StateFault {
			return
		}
		c.state = link.StateServo
		if v.Servo == link.ServoPosition {
			c.position = uint16(angle.Mod(float64(v.Command), float64(c.cpr)))
		}
	case link.MLXCommand:
		if c.state != link.StateManual {
			return
		}
		c.exchange(v.Data)
	}
}

// drive moves the rotor to the commanded electrical angle along the
// shortest path. Amplitude 0 holds the rotor but still latches the
// commanded position.
func (c *Controller) drive(a int, amp uint8) {
	cycle := angle.New(float64(c.cfg.CountsPerCycle))
	if amp > 0 {
		d := cycle.NormalizeHalf(float64(a - c.lastAngle))
		c.rotor += d
		if d > 0 {
			c.lastDir = 1
		} else if d < 0 {
			c.lastDir = -1
		}
	}
	c.lastAngle = a
	c.amplitude = amp
	c.position = uint16(a % c.cpr)
}

// exchange clocks one sensor frame. The sensor answers the previous
// request, so the response visible now belongs to the command before.
func (c *Controller) exchange(frame []byte) {
	var next [mlx.PacketSize]byte
	if c.pending != nil {
		next = c.pending()
	} else {
		next = mlx.OpcodeResponse(mlx.OpNothingToTransmit, [3]uint16{})
	}

	switch {
	case c.ntts > 0:
		c.ntts--
		next = mlx.OpcodeResponse(mlx.OpNothingToTransmit, [3]uint16{})
	case c.errorFrames > 0:
		c.errorFrames--
		next = mlx.OpcodeResponse(mlx.OpErrorFrame, [3]uint16{uint16(mlx.ErrorIncorrectCRC), 0, 0})
	case c.crcFailures > 0:
		c.crcFailures--
		next[7] ^= 0xA5
	}
	c.response = next

	c.pending = c.answer(frame)
}

// answer returns how the sensor will respond to a request on the next
// exchange. GET conversions sample the rotor now.
func (c *Controller) answer(frame []byte) func() [mlx.PacketSize]byte {
	if len(frame) < mlx.PacketSize-1 {
		return nil
	}
	marker := mlx.Marker(frame[6] >> 6)
	op := mlx.Opcode(frame[6] & 0x3F)
	word := func(i int) uint16 { return uint16(frame[2*i]) | uint16(frame[2*i+1])<<8 }

	c.roll = (c.roll + 1) & 0x3F
	roll := c.roll

	switch op {
	case mlx.OpGet1, mlx.OpGet2, mlx.OpGet3:
		a := uint16(c.alpha())
		m := angle.Tau * c.mechanical()
		x := int16(3000 * math.Cos(m))
		y := int16(3000 * math.Sin(m))
		switch marker {
		case mlx.MarkerXYZ:
			return func() [mlx.PacketSize]byte { return mlx.XYZResponse(x, y, 150, roll) }
		case mlx.MarkerAlphaBeta:
			return func() [mlx.PacketSize]byte {
				return mlx.Response(mlx.MarkerAlphaBeta, roll, [3]uint16{a, a, 40})
			}
		default:
			return func() [mlx.PacketSize]byte { return mlx.AlphaResponse(a, 40, roll) }
		}
	case mlx.OpNOPChallenge:
		key := word(1)
		return func() [mlx.PacketSize]byte {
			return mlx.OpcodeResponse(mlx.OpChallengeNOPAnswer, [3]uint16{0, key, ^key})
		}
	case mlx.OpMemoryRead:
		d0, d1 := c.memory[word(0)], c.memory[word(1)]
		return func() [mlx.PacketSize]byte {
			return mlx.OpcodeResponse(mlx.OpMemoryReadAnswer, [3]uint16{d0, d1, 0})
		}
	case mlx.OpEEPROMWrite, mlx.OpEEReadChallenge:
		return func() [mlx.PacketSize]byte {
			return mlx.OpcodeResponse(mlx.OpEEPROMWriteChallenge, [3]uint16{0, 0x4321, 0})
		}
	case mlx.OpEEChallengeAns:
		return func() [mlx.PacketSize]byte { return mlx.OpcodeResponse(mlx.OpEEReadAnswer, [3]uint16{}) }
	case mlx.OpDiagnosticDetails:
		return func() [mlx.PacketSize]byte { return mlx.OpcodeResponse(mlx.OpDiagnosticsAnswer, [3]uint16{}) }
	case mlx.OpOscCounterStart:
		return func() [mlx.PacketSize]byte { return mlx.OpcodeResponse(mlx.OpOscCounterStartAck, [3]uint16{}) }
	case mlx.OpOscCounterStop:
		return func() [mlx.PacketSize]byte {
			return mlx.OpcodeResponse(mlx.OpOscCounterStopAck, [3]uint16{0x1234, 0, 0})
		}
	case mlx.OpReboot:
		return func() [mlx.PacketSize]byte {
			return mlx.OpcodeResponse(mlx.OpReadyMessage, [3]uint16{1, 1, 0})
		}
	case mlx.OpStandby:
		return func() [mlx.PacketSize]byte { return mlx.OpcodeResponse(mlx.OpStandbyAck, [3]uint16{}) }
	}
	return func() [mlx.PacketSize]byte {
		return mlx.OpcodeResponse(mlx.OpErrorFrame, [3]uint16{uint16(mlx.ErrorOpcodeNotValid), 0, 0})
	}
}
