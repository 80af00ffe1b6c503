// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package calibration

import (
	"bytes"
	"context"
	"errors"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/Thermoquad/gyrostat/pkg/link"
	"github.com/Thermoquad/gyrostat/pkg/link/sim"
	"github.com/Thermoquad/gyrostat/pkg/mlx"
)

// Small motor so a full sweep runs in a few thousand exchanges
const (
	testCountsPerCycle = 48
	testCycles         = 3
	testEnd            = testCountsPerCycle * testCycles
)

func withClock(now func() time.Time) Option {
	return func(s *Sequencer) { s.now = now }
}

// directLink exchanges commands with a simulated controller synchronously
type directLink struct {
	ctrl *sim.Controller

	// corruptAlpha spoils the CRC of this many alpha responses
	corruptAlpha int
	corrupt      bool

	// silent makes every read time out
	silent bool
}

func (l *directLink) Write(ctx context.Context, c link.Command) error {
	l.ctrl.Apply(c)
	l.corrupt = false
	if m, ok := c.(link.MLXCommand); ok && len(m.Data) >= 7 {
		if mlx.Marker(m.Data[6]>>6) == mlx.MarkerXYZ && l.corruptAlpha > 0 {
			l.corruptAlpha--
			l.corrupt = true
		}
	}
	return nil
}

func (l *directLink) Read(ctx context.Context) (link.ReadData, error) {
	if l.silent {
		<-ctx.Done()
		return link.ReadData{}, ctx.Err()
	}
	rd := l.ctrl.Report()
	if l.corrupt {
		rd.MLXResponse[7] ^= 0xFF
	}
	return rd, nil
}

func testController() *sim.Controller {
	cfg := sim.DefaultConfig("TEST")
	cfg.CountsPerCycle = testCountsPerCycle
	cfg.CyclesPerRevolution = testCycles
	return sim.New(cfg)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.CountsPerCycle = testCountsPerCycle
	cfg.Revolutions = 1
	cfg.MaxAmplitude = 20
	cfg.AlphaDelay = 0
	cfg.XYZDelay = 0
	cfg.ResponseTimeout = 50 * time.Millisecond
	return cfg
}

// frozen returns a clock that never advances, so the budget never decays
func frozen() func() time.Time {
	t := time.Unix(1700000000, 0)
	return func() time.Time { return t }
}

func newTestSequencer(l Link, cfg Config, opts ...Option) *Sequencer {
	return NewSequencer(l, cfg, append([]Option{withClock(frozen())}, opts...)...)
}

// ============================================================
// Homing
// ============================================================

func TestSequencer_Homing(t *testing.T) {
	l := &directLink{ctrl: testController()}
	seq := newTestSequencer(l, testConfig())
	ctx := context.Background()

	var waits int
	for {
		ev, err := seq.Next(ctx)
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		if ev.Kind == EventCyclesWait {
			waits++
			continue
		}
		if ev.Kind != EventCycles {
			t.Fatalf("Next() kind = %v, want Cycles", ev.Kind)
		}
		if ev.Cycles != testCycles {
			t.Errorf("Cycles = %d, want %d", ev.Cycles, testCycles)
		}
		break
	}
	if waits != testCycles-1 {
		t.Errorf("CyclesWait events = %d, want %d", waits, testCycles-1)
	}
}

func TestSequencer_CyclesNotDetected(t *testing.T) {
	l := &directLink{ctrl: testController()}
	cfg := testConfig()
	cfg.MaxCycles = testCycles - 1

	_, err := newTestSequencer(l, cfg).Run(context.Background(), nil)
	if !errors.Is(err, ErrCyclesNotDetected) {
		t.Errorf("Run() error = %v, want ErrCyclesNotDetected", err)
	}
}

func TestSequencer_FatalStates(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*sim.Controller)
		want  error
	}{
		{"fault", func(c *sim.Controller) { c.SetFault(link.FaultOverCurrent) }, ErrMotorFault},
		{"push", func(c *sim.Controller) { c.SetState(link.StatePush) }, ErrWrongState},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := testController()
			tt.setup(ctrl)
			_, err := newTestSequencer(&directLink{ctrl: ctrl}, testConfig()).Run(context.Background(), nil)
			if !errors.Is(err, tt.want) {
				t.Errorf("Run() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSequencer_MissingResponse(t *testing.T) {
	l := &directLink{ctrl: testController(), silent: true}
	seq := newTestSequencer(l, testConfig())

	_, err := seq.Next(context.Background())
	if !errors.Is(err, ErrMissingResponse) {
		t.Fatalf("Next() error = %v, want ErrMissingResponse", err)
	}

	// the failure is sticky
	if _, err2 := seq.Next(context.Background()); !errors.Is(err2, ErrMissingResponse) {
		t.Errorf("Next() after failure error = %v, want the same error", err2)
	}
}

func TestSequencer_Cancelled(t *testing.T) {
	l := &directLink{ctrl: testController(), silent: true}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestSequencer(l, testConfig()).Next(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Next() error = %v, want context.Canceled", err)
	}
}

// ============================================================
// Sweep
// ============================================================

func TestSequencer_FullSweep(t *testing.T) {
	ctrl := testController()
	var buf bytes.Buffer
	seq := newTestSequencer(&directLink{ctrl: ctrl}, testConfig(), WithLogger(log.New(&buf, "", 0)))

	kinds := map[EventKind]int{}
	data, err := seq.Run(context.Background(), func(ev Event) { kinds[ev.Kind]++ })
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := data.Forward.Count(); got != testEnd {
		t.Errorf("Forward.Count() = %d, want %d", got, testEnd)
	}
	if got := data.Reverse.Count(); got != testEnd {
		t.Errorf("Reverse.Count() = %d, want %d", got, testEnd)
	}
	if kinds[EventDataUnit] != 2*testEnd {
		t.Errorf("DataUnit events = %d, want %d", kinds[EventDataUnit], 2*testEnd)
	}
	if kinds[EventDone] != 1 {
		t.Errorf("Done events = %d, want 1", kinds[EventDone])
	}
	if !strings.Contains(buf.String(), "Reversing") {
		t.Errorf("log missing Reversing:\n%s", buf.String())
	}

	cmds := ctrl.Commands()
	last, ok := cmds[len(cmds)-1].(link.CalibrationCommand)
	if !ok || last != (link.CalibrationCommand{}) {
		t.Errorf("last command = %v, want zero calibration command", link.FormatCommand(cmds[len(cmds)-1]))
	}

	if _, err := seq.Next(context.Background()); !errors.Is(err, ErrFinished) {
		t.Errorf("Next() after Done error = %v, want ErrFinished", err)
	}
}

func TestSequencer_DriveCommands(t *testing.T) {
	ctrl := testController()
	if _, err := newTestSequencer(&directLink{ctrl: ctrl}, testConfig()).Run(context.Background(), nil); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	prev := -1
	homing := true
	for _, c := range ctrl.Commands() {
		cc, ok := c.(link.CalibrationCommand)
		if !ok {
			continue
		}
		if homing && cc.Amplitude == 0 && int(cc.Angle)%testCountsPerCycle == 0 && cc.Angle != 0 {
			continue
		}
		homing = false
		if int(cc.Angle) >= testCountsPerCycle {
			t.Fatalf("drive angle %d outside one cycle", cc.Angle)
		}
		if int(cc.Amplitude) < prev && cc.Amplitude != 0 {
			t.Fatalf("amplitude fell from %d to %d", prev, cc.Amplitude)
		}
		if cc.Amplitude > 20 {
			t.Fatalf("amplitude %d above maximum 20", cc.Amplitude)
		}
		prev = int(cc.Amplitude)
	}
	if prev != 0 {
		t.Errorf("final amplitude = %d, want 0", prev)
	}
}

func TestSequencer_RetryBudget(t *testing.T) {
	tests := []struct {
		name     string
		failures int
		wantErr  bool
	}{
		{"four failures recover", 4, false},
		{"six failures exhaust budget", 6, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := &directLink{ctrl: testController(), corruptAlpha: tt.failures}
			var buf bytes.Buffer
			seq := newTestSequencer(l, testConfig(), WithLogger(log.New(&buf, "", 0)))

			data, err := seq.Run(context.Background(), nil)
			if tt.wantErr {
				if !errors.Is(err, ErrBudgetExhausted) {
					t.Errorf("Run() error = %v, want ErrBudgetExhausted", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if got := strings.Count(buf.String(), "Error suppressed"); got != tt.failures {
				t.Errorf("suppressed errors logged = %d, want %d", got, tt.failures)
			}
			if data.Forward.Count() != testEnd {
				t.Errorf("Forward.Count() = %d, want %d", data.Forward.Count(), testEnd)
			}
		})
	}
}

func TestSequencer_InjectedSensorErrors(t *testing.T) {
	ctrl := testController()
	seq := newTestSequencer(&directLink{ctrl: ctrl}, testConfig())
	ctx := context.Background()

	for {
		ev, err := seq.Next(ctx)
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		if ev.Kind == EventCycles {
			break
		}
	}

	ctrl.InjectNTT(1)
	ctrl.InjectErrorFrames(1)
	if _, err := seq.Run(ctx, nil); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if lvl := seq.Budget().Level(); lvl < 1 || lvl >= 5 {
		t.Errorf("Budget().Level() = %v, want errors charged but below threshold", lvl)
	}
}

func TestSequencer_CRCPolicy(t *testing.T) {
	l := &directLink{ctrl: testController(), corruptAlpha: 10}
	cfg := testConfig()
	cfg.RequireCRC = false
	seq := newTestSequencer(l, cfg)

	if _, err := seq.Run(context.Background(), nil); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if lvl := seq.Budget().Level(); lvl != 0 {
		t.Errorf("Budget().Level() = %v, want 0", lvl)
	}
}

// ============================================================
// Adjustments
// ============================================================

func TestSequencer_AdjustAmplitude(t *testing.T) {
	ctrl := testController()
	seq := newTestSequencer(&directLink{ctrl: ctrl}, testConfig())
	seq.Adjust(Adjustment{Amplitude: 7})

	if _, err := seq.Run(context.Background(), nil); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	for _, c := range ctrl.Commands() {
		if cc, ok := c.(link.CalibrationCommand); ok && cc.Amplitude != 0 && cc.Amplitude != 7 {
			t.Fatalf("drive amplitude = %d, want 7", cc.Amplitude)
		}
	}
}

func TestSequencer_AdjustSpeed(t *testing.T) {
	seq := newTestSequencer(&directLink{ctrl: testController()}, testConfig())
	seq.Adjust(Adjustment{Speed: 2})

	data, err := seq.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := data.Forward.Count(); got != testEnd/2 {
		t.Errorf("Forward.Count() = %d, want %d", got, testEnd/2)
	}
	if _, ok := data.Forward.Get(1); ok {
		t.Error("odd step recorded at speed 2")
	}
}

func TestSequencer_AdjustReset(t *testing.T) {
	ctrl := testController()
	seq := newTestSequencer(&directLink{ctrl: ctrl}, testConfig())
	ctx := context.Background()

	for {
		ev, err := seq.Next(ctx)
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		if ev.Kind == EventDataUnit && ev.Step == 10 {
			break
		}
	}

	sent := len(ctrl.Commands())
	seq.Adjust(Adjustment{Reset: true})
	ev, err := seq.Next(ctx)
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if ev.Step != -testCountsPerCycle {
		t.Errorf("first step after reset = %d, want %d", ev.Step, -testCountsPerCycle)
	}

	// the rotor is driven back to the restart step before it is sampled
	after := ctrl.Commands()[sent:]
	if len(after) == 0 {
		t.Fatal("no commands sent after reset")
	}
	cc, ok := after[0].(link.CalibrationCommand)
	if !ok {
		t.Fatalf("first command after reset = %T, want CalibrationCommand", after[0])
	}
	if cc.Angle != 0 || cc.Amplitude == 0 {
		t.Errorf("restart drive = angle %d amplitude %d, want angle 0 with drive applied", cc.Angle, cc.Amplitude)
	}

	data, err := seq.Run(ctx, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if data.Forward.Count() != testEnd {
		t.Errorf("Forward.Count() = %d, want %d", data.Forward.Count(), testEnd)
	}
}

func TestSequencer_Recorder(t *testing.T) {
	var rows int
	seq := newTestSequencer(&directLink{ctrl: testController()}, testConfig(),
		WithRecorder(func(step, dir int, p DataPoint) { rows++ }))

	if _, err := seq.Run(context.Background(), nil); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if rows != 2*testEnd {
		t.Errorf("recorded rows = %d, want %d", rows, 2*testEnd)
	}
}
