// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package calibration

import (
	"context"
	"fmt"
	"io"
	"log"
	"math"
	"time"

	"github.com/pkg/errors"

	"github.com/Thermoquad/gyrostat/pkg/angle"
	"github.com/Thermoquad/gyrostat/pkg/link"
	"github.com/Thermoquad/gyrostat/pkg/mlx"
)

// CountsPerCycle is the number of drive steps in one electrical cycle
const CountsPerCycle = 3 * 256

// Link is the part of a transport the sequencer drives
type Link interface {
	Write(ctx context.Context, c link.Command) error
	Read(ctx context.Context) (link.ReadData, error)
}

// Config controls a calibration run
type Config struct {
	CountsPerCycle int
	Revolutions    int
	MaxAmplitude   int
	StepSize       int

	// AlphaDelay is the sensor conversion time between GET requests
	AlphaDelay time.Duration
	// XYZDelay is the minimum time from the XYZ request to its NOP
	XYZDelay        time.Duration
	ResponseTimeout time.Duration
	MaxCycles       int

	// RequireCRC retries responses whose CRC fails. When false they are
	// used as received.
	RequireCRC bool

	Budget BudgetConfig
}

// DefaultConfig returns the settings used for production calibration
func DefaultConfig() Config {
	return Config{
		CountsPerCycle:  CountsPerCycle,
		Revolutions:     3,
		MaxAmplitude:    65,
		StepSize:        1,
		AlphaDelay:      2 * time.Millisecond,
		XYZDelay:        time.Millisecond,
		ResponseTimeout: time.Second,
		MaxCycles:       255,
		RequireCRC:      true,
		Budget:          DefaultBudgetConfig(),
	}
}

// EventKind identifies a sequencer yield point
type EventKind int

const (
	EventCyclesWait EventKind = iota
	EventCycles
	EventAlphaWait
	EventAlpha
	EventXYZWait
	EventXYZ
	EventDataUnit
	EventDone
)

func (k EventKind) String() string {
	switch k {
	case EventCyclesWait:
		return "CyclesWait"
	case EventCycles:
		return "Cycles"
	case EventAlphaWait:
		return "MLXResponseAlphaWait"
	case EventAlpha:
		return "MLXResponseAlpha"
	case EventXYZWait:
		return "MLXResponseXYZWait"
	case EventXYZ:
		return "MLXResponseXYZ"
	case EventDataUnit:
		return "DataUnit"
	case EventDone:
		return "Done"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is what the sequencer reports at a yield point. Fields not
// meaningful for the kind are zero.
type Event struct {
	Kind EventKind

	// Cycles is the homing cycle count so far, final on EventCycles
	Cycles int

	Step      int
	Dir       int
	End       int
	Amplitude int

	Alpha   uint16
	X, Y, Z int16

	// Point is the recorded sample on EventDataUnit
	Point DataPoint

	// Data is the finished capture on EventDone
	Data *DataFormat
}

// Adjustment changes a running sweep. Zero fields leave the setting alone.
type Adjustment struct {
	// Amplitude sets both the drive amplitude and its ramp limit
	Amplitude int
	// Speed sets the number of drive steps advanced per sample
	Speed int
	// Reset discards recorded samples and restarts the sweep
	Reset bool
}

// Option configures a Sequencer
type Option func(*Sequencer)

// WithLogger sets the progress and diagnostic logger
func WithLogger(l *log.Logger) Option {
	return func(s *Sequencer) { s.logger = l }
}

// WithRecorder sets a callback run for every recorded sample
func WithRecorder(fn func(step, dir int, p DataPoint)) Option {
	return func(s *Sequencer) { s.record = fn }
}

type phase int

const (
	phaseHome phase = iota
	phaseRequest
	phaseAlpha
	phaseXYZRequest
	phaseXYZ
	phaseRecord
	phaseAdvance
	phaseDrive
	phaseFinished
)

// Sequencer runs a calibration sweep. Each call to Next runs until the next
// yield point; the caller drives it and may push adjustments at any time.
type Sequencer struct {
	link   Link
	cfg    Config
	logger *log.Logger
	record func(step, dir int, p DataPoint)
	budget *Budget
	adjust chan Adjustment
	now    func() time.Time

	phase  phase
	cycles int
	cpr    int
	end    int

	step      int
	dir       int
	stepSize  int
	amplitude int
	maxAmp    int

	point   DataPoint
	xyzAt   time.Time
	lastLog int

	forward *Sweep
	reverse *Sweep

	err error
}

// NewSequencer creates a sequencer. Nothing is sent until the first Next.
func NewSequencer(l Link, cfg Config, opts ...Option) *Sequencer {
	if cfg.StepSize <= 0 {
		cfg.StepSize = 1
	}
	if cfg.CountsPerCycle <= 0 {
		cfg.CountsPerCycle = CountsPerCycle
	}
	if cfg.Budget.Threshold <= 0 {
		cfg.Budget = DefaultBudgetConfig()
	}
	s := &Sequencer{
		link:     l,
		cfg:      cfg,
		logger:   log.New(io.Discard, "", 0),
		adjust:   make(chan Adjustment, 16),
		now:      time.Now,
		dir:      1,
		stepSize: cfg.StepSize,
		maxAmp:   cfg.MaxAmplitude,
		lastLog:  math.MinInt,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.budget = newBudget(cfg.Budget, s.now)
	return s
}

// Adjust queues an adjustment for the next yield point. It never blocks;
// adjustments beyond the queue depth are dropped and false is returned.
func (s *Sequencer) Adjust(a Adjustment) bool {
	select {
	case s.adjust <- a:
		return true
	default:
		return false
	}
}

// Budget exposes the retry budget
func (s *Sequencer) Budget() *Budget { return s.budget }

// Next runs the sweep to the next yield point. After EventDone or an error
// every further call returns ErrFinished or that error.
func (s *Sequencer) Next(ctx context.Context) (Event, error) {
	if s.err != nil {
		return Event{}, s.err
	}
	if s.phase == phaseFinished {
		return Event{}, ErrFinished
	}
	s.applyAdjustments()

	for {
		ev, yield, err := s.advance(ctx)
		if err != nil {
			s.err = err
			s.phase = phaseFinished
			return Event{}, err
		}
		if yield {
			return ev, nil
		}
	}
}

// Run drives the sequencer to completion, calling fn at every yield point
func (s *Sequencer) Run(ctx context.Context, fn func(Event)) (*DataFormat, error) {
	for {
		ev, err := s.Next(ctx)
		if err != nil {
			return nil, err
		}
		if fn != nil {
			fn(ev)
		}
		if ev.Kind == EventDone {
			return ev.Data, nil
		}
	}
}

func (s *Sequencer) applyAdjustments() {
	for {
		select {
		case a := <-s.adjust:
			if a.Amplitude > 0 {
				s.amplitude = a.Amplitude
				s.maxAmp = a.Amplitude
			}
			if a.Speed > 0 {
				s.stepSize = a.Speed
			}
			if a.Reset && s.cpr > 0 {
				s.logger.Printf("Restarting sweep")
				s.startSweep()
				s.phase = phaseDrive
			}
		default:
			return
		}
	}
}

// advance performs one phase. yield reports whether ev should be returned.
func (s *Sequencer) advance(ctx context.Context) (ev Event, yield bool, err error) {
	switch s.phase {
	case phaseHome:
		return s.home(ctx)
	case phaseRequest:
		return Event{}, false, s.request(ctx)
	case phaseAlpha:
		return s.awaitAlpha(ctx)
	case phaseXYZRequest:
		return Event{}, false, s.requestXYZ(ctx)
	case phaseXYZ:
		return s.awaitXYZ(ctx)
	case phaseRecord:
		return s.recordPoint()
	case phaseAdvance:
		return s.advanceStep(ctx)
	case phaseDrive:
		return Event{}, false, s.drive(ctx)
	}
	return Event{}, false, ErrFinished
}

// home steps whole cycles at zero amplitude until the controller's
// position wraps to zero
func (s *Sequencer) home(ctx context.Context) (Event, bool, error) {
	s.cycles++
	target := s.cycles * s.cfg.CountsPerCycle
	if s.cycles > s.cfg.MaxCycles || target > math.MaxUint16 {
		return Event{}, false, errors.Wrapf(ErrCyclesNotDetected, "no zero position within %d cycles", s.cycles-1)
	}

	if err := s.write(ctx, link.CalibrationCommand{Angle: uint16(target)}); err != nil {
		return Event{}, false, err
	}
	if _, err := s.read(ctx); err != nil {
		return Event{}, false, err
	}
	rd, err := s.read(ctx)
	if err != nil {
		return Event{}, false, err
	}
	if err := checkState(&rd); err != nil {
		return Event{}, false, err
	}

	if rd.Position != 0 {
		return Event{Kind: EventCyclesWait, Cycles: s.cycles}, true, nil
	}

	s.cpr = s.cycles * s.cfg.CountsPerCycle
	s.end = s.cpr * s.cfg.Revolutions
	s.startSweep()
	s.logger.Printf("Found %d cycles per revolution", s.cycles)
	return Event{Kind: EventCycles, Cycles: s.cycles}, true, nil
}

// startSweep begins below zero so the mechanics settle before recording
func (s *Sequencer) startSweep() {
	s.forward = NewSweep(s.end)
	s.reverse = NewSweep(s.end)
	s.step = -s.cfg.CountsPerCycle
	s.dir = 1
	s.phase = phaseRequest
}

func checkState(rd *link.ReadData) error {
	if rd.IsFault() {
		return errors.Wrapf(ErrMotorFault, "fault %s", link.FormatFault(rd.Fault))
	}
	if !rd.IsManual() {
		return errors.Wrapf(ErrWrongState, "state %s", link.FormatState(rd.State))
	}
	return nil
}

// request asks for an alpha conversion and then for XYZ, which clocks the
// alpha answer into the controller's buffer
func (s *Sequencer) request(ctx context.Context) error {
	if err := s.write(ctx, link.Sensor(mlx.GetAlpha())); err != nil {
		return err
	}
	if err := sleep(ctx, s.cfg.AlphaDelay); err != nil {
		return err
	}
	if err := s.write(ctx, link.Sensor(mlx.GetXYZ())); err != nil {
		return err
	}
	s.xyzAt = s.now().Add(s.cfg.XYZDelay)

	// the first report may predate the exchange
	if _, err := s.read(ctx); err != nil {
		return err
	}
	s.phase = phaseAlpha
	return nil
}

func (s *Sequencer) requestXYZ(ctx context.Context) error {
	if err := sleep(ctx, s.xyzAt.Sub(s.now())); err != nil {
		return err
	}
	if err := s.write(ctx, link.Sensor(mlx.NOP(0))); err != nil {
		return err
	}
	if _, err := s.read(ctx); err != nil {
		return err
	}
	s.phase = phaseXYZ
	return nil
}

// sensorReport reads until the controller holds a sensor response. ok is
// false when the caller should yield a wait event and poll again.
func (s *Sequencer) sensorReport(ctx context.Context) (rd link.ReadData, ok bool, err error) {
	rd, err = s.read(ctx)
	if err != nil {
		return rd, false, err
	}
	if err := checkState(&rd); err != nil {
		return rd, false, err
	}
	return rd, rd.LocalMLXCRC, nil
}

// classify applies the retry policy to a sensor response. retry reports
// that the error was absorbed by the budget and the exchange should be
// repeated.
func (s *Sequencer) classify(rd *link.ReadData, want mlx.Marker) (p *mlx.Packet, retry bool, err error) {
	p, err = rd.Sensor()
	switch {
	case errors.Is(err, mlx.ErrProtocolDirection):
		return nil, false, errors.Wrapf(ErrUnexpectedPacket, "%v: %s", err, mlx.FormatPacket(p))
	case err != nil:
		return nil, true, s.suppress(fmt.Sprintf("MLX data parsing error: %v", err))
	case s.cfg.RequireCRC && !p.CRCValid():
		return nil, true, s.suppress("MLX CRC failure")
	case p.IsError():
		return nil, true, s.suppress("Error frame: " + mlx.FormatErrorCode(p.ErrorCode()))
	case p.IsNTT():
		return nil, true, s.suppress("NTT")
	case p.Marker() != want:
		return nil, false, errors.Wrapf(ErrUnexpectedPacket, "want %s, got %s", mlx.FormatMarker(want), mlx.FormatPacket(p))
	}
	return p, false, nil
}

// suppress charges one error to the budget, failing once it is spent
func (s *Sequencer) suppress(msg string) error {
	level, err := s.budget.Fail()
	if err != nil {
		return errors.Wrapf(err, "step %d: %s", s.step, msg)
	}
	s.logger.Printf("Error suppressed: %s (level %.1f)", msg, level)
	return nil
}

func (s *Sequencer) awaitAlpha(ctx context.Context) (Event, bool, error) {
	rd, ok, err := s.sensorReport(ctx)
	if err != nil {
		return Event{}, false, err
	}
	if !ok {
		return Event{Kind: EventAlphaWait, Step: s.step, Dir: s.dir}, true, nil
	}

	p, retry, err := s.classify(&rd, mlx.MarkerAlpha)
	if err != nil {
		return Event{}, false, err
	}
	if retry {
		s.phase = phaseRequest
		return Event{}, false, nil
	}

	s.point = DataPoint{
		Alpha:       p.Alpha(),
		VG:          p.VG(),
		Current:     rd.Current,
		Temperature: rd.CPUTemp,
		AS:          rd.AS,
		BS:          rd.BS,
		CS:          rd.CS,
		AIN0:        rd.AIN0,
	}
	s.phase = phaseXYZRequest
	return Event{
		Kind:      EventAlpha,
		Step:      s.step,
		Dir:       s.dir,
		Alpha:     s.point.Alpha,
		End:       s.end,
		Amplitude: s.amplitude,
	}, true, nil
}

func (s *Sequencer) awaitXYZ(ctx context.Context) (Event, bool, error) {
	rd, ok, err := s.sensorReport(ctx)
	if err != nil {
		return Event{}, false, err
	}
	if !ok {
		return Event{Kind: EventXYZWait, Step: s.step, Dir: s.dir}, true, nil
	}

	p, retry, err := s.classify(&rd, mlx.MarkerXYZ)
	if err != nil {
		return Event{}, false, err
	}
	if retry {
		s.phase = phaseRequest
		return Event{}, false, nil
	}

	s.point.X, s.point.Y, s.point.Z = p.X(), p.Y(), p.Z()
	s.phase = phaseRecord
	return Event{
		Kind: EventXYZ,
		Step: s.step,
		Dir:  s.dir,
		X:    s.point.X,
		Y:    s.point.Y,
		Z:    s.point.Z,
	}, true, nil
}

// recordPoint keeps samples inside [0, end); the rest is settling motion
func (s *Sequencer) recordPoint() (Event, bool, error) {
	s.phase = phaseAdvance
	if s.step < 0 || s.step >= s.end {
		return Event{}, false, nil
	}

	if s.dir > 0 {
		s.forward.Set(s.step, s.point)
	} else {
		s.reverse.Set(s.step, s.point)
	}
	if s.record != nil {
		s.record(s.step, s.dir, s.point)
	}
	return Event{Kind: EventDataUnit, Step: s.step, Dir: s.dir, Point: s.point}, true, nil
}

func (s *Sequencer) advanceStep(ctx context.Context) (Event, bool, error) {
	if s.dir > 0 && s.step > s.end+s.cfg.CountsPerCycle/2 {
		s.logger.Printf("Reversing")
		s.dir = -1
	}

	if s.dir < 0 && s.step <= 0 {
		if err := s.write(ctx, link.CalibrationCommand{}); err != nil {
			return Event{}, false, err
		}
		s.phase = phaseFinished
		data := &DataFormat{Forward: s.forward, Reverse: s.reverse, Time: s.now()}
		return Event{Kind: EventDone, Data: data}, true, nil
	}

	s.step += s.dir * s.stepSize
	if s.amplitude < s.maxAmp {
		s.amplitude++
	}

	s.logProgress()
	return Event{}, false, s.drive(ctx)
}

// drive moves the rotor to the current step, then samples it
func (s *Sequencer) drive(ctx context.Context) error {
	a := angle.New(float64(s.cfg.CountsPerCycle)).Normalize(float64(s.step))
	cmd := link.CalibrationCommand{Angle: uint16(a), Amplitude: uint8(s.amplitude)}
	if err := s.write(ctx, cmd); err != nil {
		return err
	}
	s.phase = phaseRequest
	return nil
}

// logProgress logs at logarithmically spaced steps
func (s *Sequencer) logProgress() {
	x := float64(s.cfg.CountsPerCycle + 50 + s.step)
	if x <= 0 {
		x = 1
	}
	period := int(math.Round(math.Log(x) / math.Log(1.25)))
	if period == s.lastLog {
		return
	}
	s.lastLog = period

	done := float64(s.step) / float64(s.end) / 2
	if s.dir < 0 {
		done = 1 - done
	}
	s.logger.Printf("%5.1f%% At step %d alpha %d temp %d current %d VG %d",
		done*100, s.step, s.point.Alpha, s.point.Temperature, s.point.Current, s.point.VG)
}

func (s *Sequencer) write(ctx context.Context, c link.Command) error {
	err := s.link.Write(ctx, c)
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		return errors.Wrapf(ErrDeviceMissing, "step %d: %v", s.step, err)
	}
}

// read returns the next report, bounded by the response timeout
func (s *Sequencer) read(ctx context.Context) (link.ReadData, error) {
	rctx, cancel := context.WithTimeout(ctx, s.cfg.ResponseTimeout)
	defer cancel()

	rd, err := s.link.Read(rctx)
	switch {
	case err == nil:
		return rd, nil
	case ctx.Err() != nil:
		return rd, ctx.Err()
	case errors.Is(err, context.DeadlineExceeded):
		return rd, errors.Wrapf(ErrMissingResponse, "step %d: no report in %v", s.step, s.cfg.ResponseTimeout)
	default:
		return rd, errors.Wrapf(ErrDeviceMissing, "step %d: %v", s.step, err)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
