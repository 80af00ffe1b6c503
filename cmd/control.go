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

	"github.com/spf13/cobra"

	"github.com/Thermoquad/gyrostat/pkg/link"
	"github.com/Thermoquad/gyrostat/pkg/motor"
	"github.com/Thermoquad/gyrostat/pkg/telemetry"
)

var controlHold time.Duration

var controlCmd = &cobra.Command{
	Use:   "control",
	Short: "Drive a calibrated motor",
	Long: `Drive a calibrated motor controller.

Without a subcommand an interactive terminal UI is started:
  tab     switch between constant drive and position mode
  enter   send the typed value
  space   stop (zero drive)
  e       enable or disable commands
  c       clear a controller fault
  q       quit (the motor is stopped first)

The over temperature and energy interlocks stop the motor and disable
commands until it is re-enabled.

Subcommands send one command, print the next report and exit. With --hold
the command keeps the link open for that long with the interlocks armed
and stops the motor before exiting.`,
	RunE: runControlTUI,
}

var pushCmd = &cobra.Command{
	Use:   "push <command>",
	Short: "Apply a constant drive (-32768..32767)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := strconv.ParseInt(args[0], 10, 16)
		if err != nil {
			return fmt.Errorf("invalid drive command %q: %w", args[0], err)
		}
		return withMotor(cmd.Context(), func(ctx context.Context, m *motor.Motor) (bool, error) {
			return m.Push(ctx, int16(v))
		})
	},
}

var positionCmd = &cobra.Command{
	Use:   "position <position>",
	Short: "Servo to a logical position (-1..1)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pos, err := strconv.ParseFloat(args[0], 64)
		if err != nil || pos < -1 || pos > 1 {
			return fmt.Errorf("invalid position %q (expected -1..1)", args[0])
		}
		return withMotor(cmd.Context(), func(ctx context.Context, m *motor.Motor) (bool, error) {
			return m.GoToPosition(ctx, pos)
		})
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the motor",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMotor(cmd.Context(), func(ctx context.Context, m *motor.Motor) (bool, error) {
			return true, m.Stop(ctx)
		})
	},
}

var clearFaultCmd = &cobra.Command{
	Use:   "clear-fault",
	Short: "Return a faulted controller to manual mode",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMotor(cmd.Context(), func(ctx context.Context, m *motor.Motor) (bool, error) {
			return true, m.ClearFault(ctx)
		})
	},
}

var pidCmd = &cobra.Command{
	Use:   "pid <kp|ki|kd> <value>",
	Short: "Set a servo gain (0..255)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := parsePIDConstant(args[0])
		if err != nil {
			return err
		}
		v, err := strconv.ParseInt(args[1], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid gain %q: %w", args[1], err)
		}
		return withMotor(cmd.Context(), func(ctx context.Context, m *motor.Motor) (bool, error) {
			return m.SetConstant(ctx, c, int32(v))
		})
	},
}

func init() {
	rootCmd.AddCommand(controlCmd)
	controlCmd.AddCommand(pushCmd, positionCmd, stopCmd, clearFaultCmd, pidCmd)
	controlCmd.PersistentFlags().DurationVar(&controlHold, "hold", 0, "Keep the link open this long after a one-shot command")
	addTelemetryFlags(controlCmd)
}

func parsePIDConstant(s string) (motor.PIDConstant, error) {
	switch strings.ToLower(s) {
	case "kp", "p":
		return motor.KP, nil
	case "ki", "i":
		return motor.KI, nil
	case "kd", "d":
		return motor.KD, nil
	}
	return 0, fmt.Errorf("unknown PID constant %q (expected kp, ki or kd)", s)
}

// withMotor attaches to the controller, runs one façade command and prints
// the report that follows it
func withMotor(parent context.Context, fn func(ctx context.Context, m *motor.Motor) (bool, error)) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt)
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
	m.Enable()

	sent, err := fn(ctx, m)
	if err != nil {
		return err
	}
	if !sent {
		return fmt.Errorf("command not sent: %w", link.ErrBusy)
	}

	rd, err := tr.Read(ctx)
	if err != nil {
		return err
	}
	m.HandleReport(ctx, rd)
	sinks.Publish(telemetry.MotorFrame(tr.Serial(), m.Status()))
	fmt.Print(link.FormatReport(&rd))

	if controlHold <= 0 {
		return nil
	}

	holdCtx, cancel := context.WithTimeout(ctx, controlHold)
	defer cancel()
	go m.Run(holdCtx, tr.Data())
	<-holdCtx.Done()

	status := m.Status()
	if status.Shutdown != "" {
		fmt.Fprintf(os.Stderr, "Emergency shutdown: over %s\n", status.Shutdown)
	}

	stopCtx, cancelStop := context.WithTimeout(context.Background(), time.Second)
	defer cancelStop()
	return m.Stop(stopCtx)
}
