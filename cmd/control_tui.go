// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/gyrostat/pkg/link"
	"github.com/Thermoquad/gyrostat/pkg/motor"
	"github.com/Thermoquad/gyrostat/pkg/telemetry"
)

// Focus states
const (
	focusTargetList = iota
	focusValueInput
)

// target is one thing the operator can command
type target struct {
	name   string
	desc   string
	kind   targetKind
	gain   motor.PIDConstant
	holder string
}

type targetKind int

const (
	targetPush targetKind = iota
	targetPosition
	targetGain
)

// Implement list.Item interface
func (t target) Title() string       { return t.name }
func (t target) Description() string { return t.desc }
func (t target) FilterValue() string { return t.name }

var controlTargets = []list.Item{
	target{name: "Constant drive", desc: "push -32768..32767", kind: targetPush, holder: "2000"},
	target{name: "Position", desc: "servo to -1..1", kind: targetPosition, holder: "0.5"},
	target{name: "kP", desc: "proportional gain 0..255", kind: targetGain, gain: motor.KP, holder: "40"},
	target{name: "kI", desc: "integral gain 0..255", kind: targetGain, gain: motor.KI, holder: "0"},
	target{name: "kD", desc: "derivative gain 0..255", kind: targetGain, gain: motor.KD, holder: "0"},
}

// controlModel is the Bubble Tea model for the control TUI
type controlModel struct {
	ctx       context.Context
	motor     *motor.Motor
	transport *link.Transport
	sinks     *telemetry.Fanout

	targets      list.Model
	valueInput   textinput.Model
	focusedField int

	status    motor.Status
	connected bool
	log       eventLog

	width    int
	height   int
	quitting bool
}

func initialControlModel(ctx context.Context, m *motor.Motor, tr *link.Transport, sinks *telemetry.Fanout) controlModel {
	ti := textinput.New()
	ti.Placeholder = "2000"
	ti.CharLimit = 8
	ti.Width = 10

	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.SetHeight(2)
	targets := list.New(controlTargets, delegate, 30, 12)
	targets.Title = "Command"
	targets.SetShowStatusBar(false)
	targets.SetShowHelp(false)
	targets.SetFilteringEnabled(false)

	return controlModel{
		ctx:          ctx,
		motor:        m,
		transport:    tr,
		sinks:        sinks,
		targets:      targets,
		valueInput:   ti,
		focusedField: focusTargetList,
		status:       m.Status(),
		connected:    tr.Connected(),
		log:          newEventLog(100),
		width:        80,
		height:       24,
	}
}

func (m controlModel) Init() tea.Cmd {
	return tickCmd()
}

func (m controlModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		m.status = m.motor.Status()
		m.sinks.Publish(telemetry.MotorFrame(m.transport.Serial(), m.status))
		return m, tickCmd()

	case linkStatusMsg:
		m.connected = link.Status(msg) == link.StatusConnected
		if m.connected {
			m.log.add("Controller connected", false)
		} else {
			m.log.add("Controller lost - waiting for reconnect...", true)
		}

	case linkErrorMsg:
		m.log.add(fmt.Sprintf("LINK ERROR: %v", msg.err), true)

	case reportMsg:
		prev := m.status.Shutdown
		m.status = m.motor.Status()
		if m.status.Shutdown != "" && prev == "" {
			m.log.add(fmt.Sprintf("Emergency shutdown: over %s", m.status.Shutdown), true)
		}
	}

	return m, nil
}

func (m controlModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m.quit()
	case "tab":
		if m.focusedField == focusTargetList {
			m.focusedField = focusValueInput
			if t, ok := m.targets.SelectedItem().(target); ok {
				m.valueInput.Placeholder = t.holder
			}
			return m, m.valueInput.Focus()
		}
		m.focusedField = focusTargetList
		m.valueInput.Blur()
		return m, nil
	}

	if m.focusedField == focusValueInput {
		if msg.String() == "enter" {
			m.send(strings.TrimSpace(m.valueInput.Value()))
			m.valueInput.SetValue("")
			return m, nil
		}
		var cmd tea.Cmd
		m.valueInput, cmd = m.valueInput.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "q":
		return m.quit()
	case " ":
		if err := m.motor.Stop(m.ctx); err != nil {
			m.log.add(fmt.Sprintf("Stop failed: %v", err), true)
		} else {
			m.log.add("Stopped", false)
		}
		return m, nil
	case "e":
		if m.motor.Enabled() {
			if err := m.motor.Disable(m.ctx); err != nil {
				m.log.add(fmt.Sprintf("Disable failed: %v", err), true)
			}
			m.log.add("Commands disabled", false)
		} else {
			m.motor.Enable()
			m.log.add("Commands enabled", false)
		}
		m.status = m.motor.Status()
		return m, nil
	case "c":
		if err := m.motor.ClearFault(m.ctx); err != nil {
			m.log.add(fmt.Sprintf("Clear fault failed: %v", err), true)
		} else {
			m.log.add("Fault cleared", false)
		}
		return m, nil
	case "enter":
		m.focusedField = focusValueInput
		return m, m.valueInput.Focus()
	}

	var cmd tea.Cmd
	m.targets, cmd = m.targets.Update(msg)
	return m, cmd
}

// send issues the selected command with the typed value
func (m *controlModel) send(value string) {
	t, ok := m.targets.SelectedItem().(target)
	if !ok || value == "" {
		return
	}

	var sent bool
	var err error
	switch t.kind {
	case targetPush:
		var v int64
		if v, err = strconv.ParseInt(value, 10, 16); err == nil {
			sent, err = m.motor.Push(m.ctx, int16(v))
		}
	case targetPosition:
		var v float64
		if v, err = strconv.ParseFloat(value, 64); err == nil {
			if v < -1 || v > 1 {
				err = fmt.Errorf("position %v outside -1..1", v)
			} else {
				sent, err = m.motor.GoToPosition(m.ctx, v)
			}
		}
	case targetGain:
		var v int64
		if v, err = strconv.ParseInt(value, 10, 32); err == nil {
			sent, err = m.motor.SetConstant(m.ctx, t.gain, int32(v))
		}
	}

	switch {
	case err != nil:
		m.log.add(fmt.Sprintf("%s: %v", t.name, err), true)
	case !sent && !m.motor.Enabled():
		m.log.add(fmt.Sprintf("%s: commands disabled (press e)", t.name), true)
	case !sent:
		m.log.add(fmt.Sprintf("%s: skipped, link busy", t.name), true)
	default:
		m.log.add(fmt.Sprintf("%s = %s", t.name, value), false)
	}
	m.status = m.motor.Status()
}

func (m controlModel) quit() (tea.Model, tea.Cmd) {
	m.quitting = true
	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	m.motor.Stop(stopCtx)
	return m, tea.Quit
}

func (m controlModel) View() string {
	if m.quitting {
		return "Stopping motor...\n"
	}

	var s strings.Builder
	s.WriteString(titleStyle.Render("GYROSTAT - CONTROL"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("Controller: %s (%s) | tab focus | space stop | e enable | c clear fault | q quit",
		m.transport.Serial(), cfg.Device.Backend)))
	s.WriteString("\n\n")

	switch {
	case !m.connected:
		s.WriteString(warningStyle.Render("⏳ Waiting for controller..."))
	case m.status.Shutdown != "":
		s.WriteString(errorStyle.Render("✗ Emergency shutdown: over " + m.status.Shutdown))
	case m.status.Enabled:
		s.WriteString(valueStyle.Render("✓ Enabled"))
	default:
		s.WriteString(warningStyle.Render("Disabled"))
	}
	s.WriteString("\n\n")

	var panel strings.Builder
	panel.WriteString(fmt.Sprintf("%s %s   %s %s\n",
		labelStyle.Render("Mode:"), valueStyle.Render(orNone(string(m.status.Mode))),
		labelStyle.Render("Command:"), valueStyle.Render(fmt.Sprintf("%.0f", m.status.Command)),
	))
	panel.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		labelStyle.Render("Position:"), valueStyle.Render(fmt.Sprintf("%+.4f", m.status.Position)),
		labelStyle.Render("Current:"), valueStyle.Render(fmt.Sprintf("%.2f A", m.status.Current)),
		labelStyle.Render("Energy:"), valueStyle.Render(fmt.Sprintf("%.0f", m.status.Energy)),
	))
	var gains []string
	for _, c := range []motor.PIDConstant{motor.KP, motor.KI, motor.KD} {
		if v, ok := m.status.Constants[c]; ok {
			gains = append(gains, fmt.Sprintf("%s=%d", c, v))
		}
	}
	panel.WriteString(fmt.Sprintf("%s %s   %s %s\n",
		labelStyle.Render("Gains:"), valueStyle.Render(orNone(strings.Join(gains, " "))),
		labelStyle.Render("Skipped:"), warningStyle.Render(fmt.Sprintf("%d", m.status.Skipped)),
	))
	input := m.valueInput.View()
	if m.focusedField == focusValueInput {
		input = labelStyle.Render("> ") + input
	}
	panel.WriteString(fmt.Sprintf("%s %s", labelStyle.Render("Value:"), input))

	s.WriteString(boxStyle.Render(m.targets.View()))
	s.WriteString("\n")
	s.WriteString(boxStyle.Render(panel.String()))
	s.WriteString("\n\n")

	s.WriteString(labelStyle.Render("Recent Events:"))
	s.WriteString("\n")
	s.WriteString(boxStyle.Width(m.width - 4).Render(m.log.render(m.height - 30)))
	return s.String()
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

func runControlTUI(cmd *cobra.Command, args []string) error {
	if !interactive() {
		return fmt.Errorf("control needs a terminal; use a subcommand (push, position, stop, clear-fault, pid)")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	tr, closeTransport, err := openTransport(ctx)
	if err != nil {
		return err
	}
	defer closeTransport()

	sinks, err := openSinks(ctx)
	if err != nil {
		return err
	}
	defer sinks.Close()

	m, err := motor.New(tr, tr.Serial(), cfg.MotorSettings(), motor.WithLogger(logger()))
	if err != nil {
		return err
	}

	p := tea.NewProgram(initialControlModel(ctx, m, tr, sinks), tea.WithAltScreen())

	pumpCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go pumpTransport(pumpCtx, tr, p, sinks, func(rd link.ReadData) {
		m.HandleReport(pumpCtx, rd)
	})

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %v", err)
	}
	return nil
}
