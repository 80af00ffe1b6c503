// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/Thermoquad/gyrostat/pkg/calibration"
	"github.com/Thermoquad/gyrostat/pkg/telemetry"
)

const (
	amplitudeStep = 5
	maxAmplitude  = 255
	maxSpeed      = 32
)

// tuiLogWriter routes sequencer log lines into the TUI event log. Lines
// written before the program starts are held until it does.
type tuiLogWriter struct {
	mu      sync.Mutex
	p       *tea.Program
	pending []string
}

func (w *tuiLogWriter) Write(b []byte) (int, error) {
	line := strings.TrimRight(string(b), "\n")
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.p == nil {
		w.pending = append(w.pending, line)
		return len(b), nil
	}
	go w.p.Send(logLineMsg(line))
	return len(b), nil
}

func (w *tuiLogWriter) attach(p *tea.Program) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.p = p
	for _, line := range w.pending {
		go p.Send(logLineMsg(line))
	}
	w.pending = nil
}

// Messages
type logLineMsg string
type calEventMsg calibration.Event
type calDoneMsg struct{ err error }

// calibrateModel is the Bubble Tea model for the calibration TUI
type calibrateModel struct {
	seq    *calibration.Sequencer
	serial string
	cancel context.CancelFunc

	spinner spinner.Model
	last    calibration.Event
	cycles  int
	cpr     int

	amplitude int
	speed     int
	samples   int
	budget    float64

	log eventLog

	done     bool
	err      error
	width    int
	height   int
	quitting bool
}

func initialCalibrateModel(seq *calibration.Sequencer, serial string, cancel context.CancelFunc) calibrateModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = valueStyle

	sc := sequencerConfig()
	return calibrateModel{
		seq:       seq,
		serial:    serial,
		cancel:    cancel,
		spinner:   sp,
		amplitude: sc.MaxAmplitude,
		speed:     sc.StepSize,
		log:       newEventLog(100),
		width:     80,
		height:    24,
	}
}

func (m calibrateModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tea.EnterAltScreen)
}

func (m calibrateModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case logLineMsg:
		m.log.add(string(msg), false)

	case calEventMsg:
		ev := calibration.Event(msg)
		m.last = ev
		m.budget = m.seq.Budget().Level()
		switch ev.Kind {
		case calibration.EventCyclesWait:
			m.cycles = ev.Cycles
		case calibration.EventCycles:
			m.cycles = ev.Cycles
			m.cpr = ev.Cycles * cfg.Calibration.CountsPerCycle
			m.log.add(fmt.Sprintf("Detected %d cycles per revolution", ev.Cycles), false)
		case calibration.EventDataUnit:
			m.samples++
		case calibration.EventAlphaWait, calibration.EventXYZWait:
			m.log.add(fmt.Sprintf("%s at step %d", ev.Kind, ev.Step), true)
		}

	case calDoneMsg:
		m.done = true
		m.err = msg.err
		return m, tea.Quit
	}

	return m, nil
}

func (m calibrateModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		m.cancel()
		return m, nil

	case "+", "=":
		m.amplitude = min(m.amplitude+amplitudeStep, maxAmplitude)
		m.seq.Adjust(calibration.Adjustment{Amplitude: m.amplitude})
		m.log.add(fmt.Sprintf("Amplitude %d", m.amplitude), false)

	case "-":
		m.amplitude = max(m.amplitude-amplitudeStep, 1)
		m.seq.Adjust(calibration.Adjustment{Amplitude: m.amplitude})
		m.log.add(fmt.Sprintf("Amplitude %d", m.amplitude), false)

	case "]":
		m.speed = min(m.speed+1, maxSpeed)
		m.seq.Adjust(calibration.Adjustment{Speed: m.speed})
		m.log.add(fmt.Sprintf("Speed %d", m.speed), false)

	case "[":
		m.speed = max(m.speed-1, 1)
		m.seq.Adjust(calibration.Adjustment{Speed: m.speed})
		m.log.add(fmt.Sprintf("Speed %d", m.speed), false)

	case "r":
		m.samples = 0
		m.seq.Adjust(calibration.Adjustment{Reset: true})
		m.log.add("Reset requested", false)
	}
	return m, nil
}

func (m calibrateModel) View() string {
	if m.quitting && !m.done {
		return "Aborting calibration...\n"
	}

	var s strings.Builder
	s.WriteString(titleStyle.Render("GYROSTAT - CALIBRATION"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("Controller: %s (%s) | +/- amplitude | [/] speed | r reset | q abort",
		m.serial, cfg.Device.Backend)))
	s.WriteString("\n\n")

	s.WriteString(m.spinner.View() + " " + valueStyle.Render(m.phase()))
	s.WriteString("\n\n")

	var body strings.Builder
	body.WriteString(fmt.Sprintf("%s %s   %s %s\n",
		labelStyle.Render("Cycles:"), valueStyle.Render(fmt.Sprintf("%d", m.cycles)),
		labelStyle.Render("Counts/rev:"), valueStyle.Render(fmt.Sprintf("%d", m.cpr)),
	))
	body.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		labelStyle.Render("Step:"), valueStyle.Render(fmt.Sprintf("%d / %d", m.last.Step, m.last.End)),
		labelStyle.Render("Direction:"), valueStyle.Render(direction(m.last.Dir)),
		labelStyle.Render("Samples:"), valueStyle.Render(fmt.Sprintf("%d", m.samples)),
	))
	body.WriteString(fmt.Sprintf("%s %s   %s %s\n",
		labelStyle.Render("Amplitude:"), valueStyle.Render(fmt.Sprintf("%d (max %d)", m.last.Amplitude, m.amplitude)),
		labelStyle.Render("Speed:"), valueStyle.Render(fmt.Sprintf("%d", m.speed)),
	))
	body.WriteString(fmt.Sprintf("%s %s   %s %s",
		labelStyle.Render("Alpha:"), valueStyle.Render(fmt.Sprintf("%d", m.last.Alpha)),
		labelStyle.Render("XYZ:"), valueStyle.Render(fmt.Sprintf("%d, %d, %d", m.last.X, m.last.Y, m.last.Z)),
	))
	budget := valueStyle
	if m.budget >= 1 {
		budget = warningStyle
	}
	body.WriteString(fmt.Sprintf("   %s %s",
		labelStyle.Render("Error level:"), budget.Render(fmt.Sprintf("%.1f", m.budget)),
	))

	s.WriteString(boxStyle.Render(body.String()))
	s.WriteString("\n\n")

	s.WriteString(labelStyle.Render("Recent Events:"))
	s.WriteString("\n")
	s.WriteString(boxStyle.Width(m.width - 4).Render(m.log.render(m.height - 18)))
	return s.String()
}

func (m calibrateModel) phase() string {
	switch {
	case m.err != nil:
		return "Failed: " + m.err.Error()
	case m.done:
		return "Done"
	case m.cpr == 0:
		return fmt.Sprintf("Homing (%d cycles)", m.cycles)
	case m.last.Dir < 0:
		return "Reverse sweep"
	}
	return "Forward sweep"
}

func direction(d int) string {
	if d < 0 {
		return "reverse"
	}
	return "forward"
}

func runCalibrateTUI(ctx context.Context, seq *calibration.Sequencer, serial string, sinks *telemetry.Fanout, logs *tuiLogWriter) (calibrationResult, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(initialCalibrateModel(seq, serial, cancel), tea.WithAltScreen())
	logs.attach(p)

	var result calibrationResult
	var runErr error
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		cpc := cfg.Calibration.CountsPerCycle
		_, runErr = seq.Run(runCtx, func(ev calibration.Event) {
			result.observe(ev, cpc)
			sinks.Publish(telemetry.EventFrame(serial, ev))
			p.Send(calEventMsg(ev))
		})
		p.Send(calDoneMsg{runErr})
	}()

	if _, err := p.Run(); err != nil {
		cancel()
		<-finished
		return result, fmt.Errorf("TUI error: %v", err)
	}
	cancel()
	<-finished
	return result, runErr
}
