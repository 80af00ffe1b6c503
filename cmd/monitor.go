// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/gyrostat/pkg/link"
	"github.com/Thermoquad/gyrostat/pkg/telemetry"
)

var (
	showAll       bool
	statsInterval int
	useTUI        bool
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Monitor controller reports, anomalies and link statistics",
	Long: `Stream reports from a motor controller and validate each one.

Anomalies are highlighted as they arrive:
  - Controller faults
  - Velocity glitches and over temperature readings
  - Sensor frames with a bad CRC, error frames and NTT frames

By default only anomalies are displayed. Use --show-all to print every
report. Periodic statistics summaries are printed in text mode.

Reports can be republished as CBOR frames to WebSocket clients
(--ws-listen) and an MQTT broker (--mqtt).`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all reports (not just anomalies)")
	monitorCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics summary interval (seconds)")
	monitorCmd.Flags().BoolVar(&useTUI, "tui", true, "Use terminal UI when stdout is a terminal")
	addTelemetryFlags(monitorCmd)
}

func addTelemetryFlags(c *cobra.Command) {
	c.Flags().StringVar(&wsListen, "ws-listen", "", "Serve telemetry frames over WebSocket on this address (e.g. :8080)")
	c.Flags().StringVar(&mqttBroker, "mqtt", "", "Publish telemetry frames to this MQTT broker (e.g. tcp://localhost:1883)")
	c.Flags().StringVar(&mqttTopic, "mqtt-topic", "", "MQTT topic root")
}

func runMonitor(cmd *cobra.Command, args []string) error {
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

	if useTUI && interactive() {
		return runMonitorTUI(ctx, tr, sinks)
	}
	return runMonitorText(ctx, tr, sinks)
}

func runMonitorText(ctx context.Context, tr *link.Transport, sinks *telemetry.Fanout) error {
	fmt.Printf("Gyrostat - Report Monitor\n")
	fmt.Printf("Controller: %s (%s backend)\n", tr.Serial(), cfg.Device.Backend)
	fmt.Printf("Mode: %s\n", map[bool]string{true: "All reports", false: "Anomalies only"}[showAll])
	fmt.Printf("Press Ctrl+C to exit\n\n")

	ticker := time.NewTicker(time.Duration(statsInterval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			stats := tr.Stats()
			fmt.Print("\n" + stats.String())
			return nil

		case <-ticker.C:
			stats := tr.Stats()
			fmt.Print(stats.String() + "\n")

		case s := <-tr.Status():
			fmt.Printf("[%s] controller %s %s\n", time.Now().Format("15:04:05.000"), tr.Serial(), s)
			sinks.Publish(telemetry.StatusFrame(tr.Serial(), s))

		case err := <-tr.Errors():
			printLinkError(err)

		case rd := <-tr.Data():
			sinks.Publish(telemetry.ReportFrame(tr.Serial(), rd))
			anomalies := link.ValidateReport(&rd)
			if len(anomalies) > 0 {
				printAnomalies(&rd, anomalies)
			} else if showAll {
				fmt.Print(link.FormatReport(&rd))
			}
		}
	}
}

// printLinkError prints a link error in highlighted format
func printLinkError(err error) {
	timestamp := time.Now().Format("15:04:05.000")
	fmt.Printf("[%s] \033[1;31mLINK ERROR:\033[0m %v\n\n", timestamp, err)
}

// printAnomalies prints a report together with what is wrong with it
func printAnomalies(rd *link.ReadData, anomalies []link.ValidationError) {
	timestamp := rd.Timestamp.Format("15:04:05.000")
	fmt.Printf("[%s] \033[1;33mANOMALY:\033[0m %s\n", timestamp, link.FormatState(rd.State))
	for i, a := range anomalies {
		fmt.Printf("  Issue %d: \033[1;31m%s\033[0m\n", i+1, a.Error())
	}
	fmt.Print(link.FormatReport(rd))
	fmt.Println()
}

// pumpTransport forwards transport events into a running TUI program and
// republishes them to the telemetry sinks
func pumpTransport(ctx context.Context, tr *link.Transport, p *tea.Program, sinks *telemetry.Fanout, onReport func(link.ReadData)) {
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-tr.Status():
			sinks.Publish(telemetry.StatusFrame(tr.Serial(), s))
			p.Send(linkStatusMsg(s))
		case err := <-tr.Errors():
			p.Send(linkErrorMsg{err})
		case rd := <-tr.Data():
			sinks.Publish(telemetry.ReportFrame(tr.Serial(), rd))
			if onReport != nil {
				onReport(rd)
			}
			p.Send(reportMsg(rd))
		}
	}
}
