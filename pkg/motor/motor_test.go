// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package motor

import (
	"bytes"
	"context"
	"errors"
	"log"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Thermoquad/gyrostat/pkg/link"
	"github.com/Thermoquad/gyrostat/pkg/link/sim"
)

type fakeWriter struct {
	mu   sync.Mutex
	busy int
	err  error
	sent []link.Command
}

func (w *fakeWriter) Write(ctx context.Context, c link.Command) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.busy > 0 {
		w.busy--
		return link.ErrBusy
	}
	if w.err != nil {
		return w.err
	}
	w.sent = append(w.sent, c)
	return nil
}

func (w *fakeWriter) last() link.Command {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.sent) == 0 {
		return nil
	}
	return w.sent[len(w.sent)-1]
}

func newTestMotor(t *testing.T, cfg Config) (*Motor, *fakeWriter, *bytes.Buffer) {
	t.Helper()
	w := &fakeWriter{}
	var buf bytes.Buffer
	m, err := New(w, "M1", cfg, WithLogger(log.New(&buf, "", 0)))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return m, w, &buf
}

// ============================================================
// Commands
// ============================================================

func TestPush_Disabled(t *testing.T) {
	m, w, _ := newTestMotor(t, DefaultConfig())
	ok, err := m.Push(context.Background(), 10)
	if ok || err != nil {
		t.Errorf("Push() = %v, %v, want false, nil", ok, err)
	}
	if w.last() != nil {
		t.Errorf("sent %v while disabled", w.last())
	}
}

func TestPush_Direction(t *testing.T) {
	tests := []struct {
		forward bool
		command int16
		want    int16
	}{
		{true, 40, 40},
		{false, 40, -40},
		{true, math.MinInt16, math.MinInt16},
		{false, math.MinInt16, math.MaxInt16},
		{false, math.MaxInt16, -math.MaxInt16},
	}

	for _, tt := range tests {
		cfg := DefaultConfig()
		cfg.Forward = tt.forward
		m, w, _ := newTestMotor(t, cfg)
		m.Enable()

		if ok, err := m.Push(context.Background(), tt.command); !ok || err != nil {
			t.Fatalf("Push(%d) = %v, %v", tt.command, ok, err)
		}
		if got := w.last(); got != (link.PushCommand{Command: tt.want}) {
			t.Errorf("forward=%v Push(%d) sent %v, want push %d", tt.forward, tt.command, got, tt.want)
		}
		if s := m.Status(); s.Mode != ModeConstant || s.Command != float64(tt.want) {
			t.Errorf("Status() mode/command = %v/%v", s.Mode, s.Command)
		}
	}
}

func TestPush_BusyIsSkipped(t *testing.T) {
	m, w, _ := newTestMotor(t, DefaultConfig())
	m.Enable()
	w.busy = 1

	ok, err := m.Push(context.Background(), 10)
	if ok || err != nil {
		t.Errorf("Push() = %v, %v, want false, nil", ok, err)
	}
	if s := m.Status(); s.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", s.Skipped)
	}
}

func TestStop_RetriesBusy(t *testing.T) {
	m, w, _ := newTestMotor(t, DefaultConfig())
	m.Enable()
	w.busy = 3

	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if got := w.last(); got != (link.PushCommand{}) {
		t.Errorf("sent %v, want zero push", got)
	}
}

func TestDisable(t *testing.T) {
	m, w, _ := newTestMotor(t, DefaultConfig())
	m.Enable()

	if err := m.Disable(context.Background()); err != nil {
		t.Fatalf("Disable() error = %v", err)
	}
	if m.Enabled() {
		t.Error("Enabled() = true after Disable()")
	}
	if got := w.last(); got != (link.PushCommand{}) {
		t.Errorf("Disable() sent %v, want zero push", got)
	}
}

func TestClearFault_WhileDisabled(t *testing.T) {
	m, w, _ := newTestMotor(t, DefaultConfig())
	if err := m.ClearFault(context.Background()); err != nil {
		t.Fatalf("ClearFault() error = %v", err)
	}
	if _, ok := w.last().(link.ClearFaultCommand); !ok {
		t.Errorf("sent %v, want clear fault", w.last())
	}
}

func TestSetConstant(t *testing.T) {
	m, w, _ := newTestMotor(t, DefaultConfig())
	m.Enable()

	tests := []struct {
		c    PIDConstant
		v    int32
		mode link.ServoMode
		want int32
	}{
		{KP, 40, link.ServoKP, 40},
		{KI, 300, link.ServoKI, 255},
		{KD, -5, link.ServoKD, 0},
	}

	for _, tt := range tests {
		t.Run(tt.c.String(), func(t *testing.T) {
			if ok, err := m.SetConstant(context.Background(), tt.c, tt.v); !ok || err != nil {
				t.Fatalf("SetConstant() = %v, %v", ok, err)
			}
			got, ok := w.last().(link.ServoCommand)
			if !ok || got.Servo != tt.mode || got.Command != tt.v {
				t.Errorf("sent %v, want servo mode %d value %d", w.last(), tt.mode, tt.v)
			}
			if c := m.Status().Constants[tt.c]; c != tt.want {
				t.Errorf("Constants[%v] = %d, want %d", tt.c, c, tt.want)
			}
		})
	}

	if _, err := m.SetConstant(context.Background(), PIDConstant(9), 1); err == nil {
		t.Error("SetConstant() with unknown constant succeeded")
	}
}

func TestGoToPosition(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Zero = 1000
	m, w, _ := newTestMotor(t, cfg)
	m.Enable()

	if ok, err := m.GoToPosition(context.Background(), 0); !ok || err != nil {
		t.Fatalf("GoToPosition() = %v, %v", ok, err)
	}
	got, ok := w.last().(link.ServoCommand)
	if !ok || got.Servo != link.ServoPosition || got.Command != 1000 {
		t.Errorf("sent %v, want servo position 1000", w.last())
	}
}

func TestWriteErrorPropagates(t *testing.T) {
	m, w, _ := newTestMotor(t, DefaultConfig())
	m.Enable()
	w.err = link.ErrDisconnected

	if _, err := m.Push(context.Background(), 5); !errors.Is(err, link.ErrDisconnected) {
		t.Errorf("Push() error = %v, want ErrDisconnected", err)
	}
}

// ============================================================
// Reports and interlocks
// ============================================================

func TestHandleReport_Processed(t *testing.T) {
	m, _, _ := newTestMotor(t, DefaultConfig())
	m.HandleReport(context.Background(), link.ReadData{Position: 0, Current: 1023, CPUTemp: 200})

	s := m.Status()
	if math.Abs(s.Current-2.56) > 1e-9 {
		t.Errorf("Current = %v, want 2.56", s.Current)
	}
	if s.Data.CPUTemp != 200 {
		t.Errorf("Data.CPUTemp = %d, want 200", s.Data.CPUTemp)
	}
}

func TestHandleReport_VelocityGlitch(t *testing.T) {
	m, _, _ := newTestMotor(t, DefaultConfig())
	m.HandleReport(context.Background(), link.ReadData{Velocity: 6000, CPUTemp: 999})

	if s := m.Status(); s.Data.CPUTemp != 0 {
		t.Errorf("glitched report was applied: %+v", s.Data)
	}
}

func TestHandleReport_OverTemperature(t *testing.T) {
	m, w, buf := newTestMotor(t, DefaultConfig())
	m.Enable()

	m.HandleReport(context.Background(), link.ReadData{CPUTemp: 381})

	if m.Enabled() {
		t.Error("Enabled() = true after over temperature")
	}
	if got := w.last(); got != (link.PushCommand{}) {
		t.Errorf("sent %v, want zero push", got)
	}
	if s := m.Status(); s.Shutdown != "temp" {
		t.Errorf("Shutdown = %q, want temp", s.Shutdown)
	}
	if !strings.Contains(buf.String(), "Emergency shutdown. Over temp") {
		t.Errorf("log = %q", buf.String())
	}
}

func TestHandleReport_OverEnergy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnergyThreshold = 1
	m, _, _ := newTestMotor(t, cfg)
	m.Enable()

	if ok, _ := m.Push(context.Background(), 200); !ok {
		t.Fatal("Push() rejected")
	}
	ctx := context.Background()
	m.HandleReport(ctx, link.ReadData{CPUTemp: 200})
	time.Sleep(5 * time.Millisecond)
	m.HandleReport(ctx, link.ReadData{CPUTemp: 200})

	if m.Enabled() {
		t.Error("Enabled() = true after energy limit")
	}
	if s := m.Status(); s.Shutdown != "accumulation" {
		t.Errorf("Shutdown = %q, want accumulation", s.Shutdown)
	}
}

func TestRun_LogsSkipped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SkipLogInterval = 5 * time.Millisecond
	m, w, buf := newTestMotor(t, cfg)
	m.Enable()
	w.busy = 2
	m.Push(context.Background(), 1)
	m.Push(context.Background(), 1)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	m.Run(ctx, make(chan link.ReadData))

	if !strings.Contains(buf.String(), "M1 skipped 2 commands") {
		t.Errorf("log = %q", buf.String())
	}
}

// ============================================================
// Simulator
// ============================================================

func TestMotorOverSimulator(t *testing.T) {
	ctrl := sim.New(sim.DefaultConfig("M1"))
	tr := link.New(sim.NewEnumerator(ctrl), "M1")
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tr.Open(ctx); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	m, err := New(tr, "M1", DefaultConfig())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	m.Enable()

	if ok, err := m.Push(ctx, 30); !ok || err != nil {
		t.Fatalf("Push() = %v, %v", ok, err)
	}
	rd, err := tr.Read(ctx)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if rd.State != link.StatePush {
		t.Errorf("State = %s, want push", link.FormatState(rd.State))
	}

	ctrl.SetTemperature(400)
	rd, err = tr.Read(ctx)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	m.HandleReport(ctx, rd)
	if m.Enabled() {
		t.Error("motor still enabled after simulated over temperature")
	}
}
