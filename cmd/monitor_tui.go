// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/gyrostat/pkg/link"
	"github.com/Thermoquad/gyrostat/pkg/motor"
	"github.com/Thermoquad/gyrostat/pkg/telemetry"
)

// Event log entry
type logEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for information
}

// eventLog keeps the most recent entries
type eventLog struct {
	entries []logEntry
	max     int
}

func newEventLog(max int) eventLog {
	return eventLog{entries: make([]logEntry, 0), max: max}
}

func (l *eventLog) add(message string, isError bool) {
	l.entries = append(l.entries, logEntry{timestamp: time.Now(), message: message, isError: isError})
	if len(l.entries) > l.max {
		l.entries = l.entries[len(l.entries)-l.max:]
	}
}

// render draws the last height entries
func (l *eventLog) render(height int) string {
	if height < 5 {
		height = 5
	}
	start := len(l.entries) - height
	if start < 0 {
		start = 0
	}

	var b strings.Builder
	if len(l.entries) == 0 {
		b.WriteString(headerStyle.Render("  (no events yet)"))
		return b.String()
	}
	for _, entry := range l.entries[start:] {
		timestamp := entry.timestamp.Format("01/02/06 15:04:05.000")
		if entry.isError {
			b.WriteString(fmt.Sprintf("%s %s\n", headerStyle.Render(timestamp), errorStyle.Render("✗ "+entry.message)))
		} else {
			b.WriteString(fmt.Sprintf("%s %s\n", headerStyle.Render(timestamp), warningStyle.Render("ℹ "+entry.message)))
		}
	}
	return b.String()
}

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")).
			Bold(true)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

// Messages shared by the TUIs
type tickMsg time.Time
type reportMsg link.ReadData
type linkStatusMsg link.Status
type linkErrorMsg struct{ err error }

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// monitorModel is the Bubble Tea model for the monitor TUI
type monitorModel struct {
	transport *link.Transport
	showAll   bool

	stats     link.Statistics
	latest    *link.ReadData
	connected bool
	log       eventLog

	width    int
	height   int
	quitting bool
}

func initialMonitorModel(tr *link.Transport, showAll bool) monitorModel {
	return monitorModel{
		transport: tr,
		showAll:   showAll,
		stats:     tr.Stats(),
		connected: tr.Connected(),
		log:       newEventLog(100),
		width:     80,
		height:    24,
	}
}

func (m monitorModel) Init() tea.Cmd {
	return tea.Batch(tickCmd(), tea.EnterAltScreen)
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		m.stats = m.transport.Stats()
		m.stats.CalculateRates()
		return m, tickCmd()

	case linkStatusMsg:
		m.connected = link.Status(msg) == link.StatusConnected
		m.log.add(fmt.Sprintf("Controller %s %s", m.transport.Serial(), link.Status(msg)), !m.connected)

	case linkErrorMsg:
		m.log.add(fmt.Sprintf("LINK ERROR: %v", msg.err), true)

	case reportMsg:
		rd := link.ReadData(msg)
		m.latest = &rd
		anomalies := link.ValidateReport(&rd)
		for _, a := range anomalies {
			m.log.add(fmt.Sprintf("%s: %s", link.FormatState(rd.State), a.Message), true)
		}
		if len(anomalies) == 0 && m.showAll {
			m.log.add(fmt.Sprintf("%s pos=%d (valid)", link.FormatState(rd.State), rd.Position), false)
		}
	}

	return m, nil
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder
	s.WriteString(titleStyle.Render("GYROSTAT - MONITOR"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("Controller: %s (%s) | Mode: %s | Press 'q' to quit",
		m.transport.Serial(), cfg.Device.Backend, func() string {
			if m.showAll {
				return "All reports"
			}
			return "Anomalies only"
		}())))
	s.WriteString("\n\n")

	if m.connected {
		s.WriteString(valueStyle.Render("✓ Connected"))
	} else {
		s.WriteString(warningStyle.Render("⏳ Waiting for controller..."))
	}
	s.WriteString("\n\n")

	s.WriteString(boxStyle.Render(renderStats(&m.stats)))
	s.WriteString("\n\n")

	if m.latest != nil {
		s.WriteString(labelStyle.Render("Latest Report:"))
		s.WriteString("\n")
		s.WriteString(boxStyle.Render(renderReport(m.latest)))
		s.WriteString("\n\n")
	}

	s.WriteString(labelStyle.Render("Recent Events:"))
	s.WriteString("\n")
	s.WriteString(boxStyle.Width(m.width - 4).Render(m.log.render(m.height - 22)))

	return s.String()
}

func renderStats(st *link.Statistics) string {
	errs := st.MalformedReports + st.AnomalousReports
	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		labelStyle.Render("Total:"), valueStyle.Render(fmt.Sprintf("%d", st.TotalReports)),
		labelStyle.Render("Valid:"), valueStyle.Render(fmt.Sprintf("%d", st.ValidReports)),
		labelStyle.Render("Anomalous:"), errorStyle.Render(fmt.Sprintf("%d", errs)),
	))
	if st.SensorCRCErrors > 0 || st.SensorErrors > 0 || st.SensorNTT > 0 {
		b.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
			labelStyle.Render("Sensor CRC:"), errorStyle.Render(fmt.Sprintf("%d", st.SensorCRCErrors)),
			labelStyle.Render("Error Frames:"), errorStyle.Render(fmt.Sprintf("%d", st.SensorErrors)),
			labelStyle.Render("NTT:"), warningStyle.Render(fmt.Sprintf("%d", st.SensorNTT)),
		))
	}
	b.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s",
		labelStyle.Render("Report Rate:"), valueStyle.Render(fmt.Sprintf("%.1f/s", st.ReportRate)),
		labelStyle.Render("Writes:"), valueStyle.Render(fmt.Sprintf("%d", st.WritesSent)),
		labelStyle.Render("Skipped:"), warningStyle.Render(fmt.Sprintf("%d", st.WritesSkipped)),
	))
	return b.String()
}

func renderReport(rd *link.ReadData) string {
	state := valueStyle.Render(link.FormatState(rd.State))
	if rd.IsFault() {
		state = errorStyle.Render(link.FormatState(rd.State) + " " + link.FormatFault(rd.Fault))
	}
	cal := "no"
	if rd.Calibrated {
		cal = "yes"
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s %s   %s %s\n",
		labelStyle.Render("State:"), state,
		labelStyle.Render("Calibrated:"), valueStyle.Render(cal),
	))
	b.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		labelStyle.Render("Position:"), valueStyle.Render(fmt.Sprintf("%d", rd.Position)),
		labelStyle.Render("Velocity:"), valueStyle.Render(fmt.Sprintf("%d", rd.Velocity)),
		labelStyle.Render("Angle:"), valueStyle.Render(fmt.Sprintf("%d", rd.RawAngle)),
	))
	b.WriteString(fmt.Sprintf("%s %s   %s %s",
		labelStyle.Render("CPU Temp:"), valueStyle.Render(fmt.Sprintf("%d", rd.CPUTemp)),
		labelStyle.Render("Current:"), valueStyle.Render(fmt.Sprintf("%.2f A", motor.Amps(rd.Current))),
	))
	return b.String()
}

func runMonitorTUI(ctx context.Context, tr *link.Transport, sinks *telemetry.Fanout) error {
	p := tea.NewProgram(initialMonitorModel(tr, showAll), tea.WithAltScreen(), tea.WithContext(ctx))

	pumpCtx, stop := context.WithCancel(ctx)
	defer stop()
	go pumpTransport(pumpCtx, tr, p, sinks, nil)

	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("TUI error: %v", err)
	}
	return nil
}
