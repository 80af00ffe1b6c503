// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/gyrostat/pkg/block"
	"github.com/Thermoquad/gyrostat/pkg/calibration"
	"github.com/Thermoquad/gyrostat/pkg/telemetry"
)

var (
	outDir      string
	revolutions int
	amplitude   int
	calTUI      bool
)

var calibrateCmd = &cobra.Command{
	Use:   "calibrate",
	Short: "Calibrate the sensor of a motor controller",
	Long: `Run a calibration sweep and produce a calibration block.

The controller is homed to count its electrical cycles per revolution, then
the rotor is stepped forward past one full revolution and back again while
the sensor angle is recorded at every step. The capture is written to
<serial>-<time>.csv as it is recorded. Once both sweeps finish the capture
is smoothed and inverted into a lookup table, which is written as an Intel
HEX calibration block to <serial>-<time>.hex.

In the terminal UI:
  +/-   raise or lower the drive amplitude
  ]/[   step faster or slower
  r     discard samples and restart the sweep
  q     abort

The controller must be in manual mode. Clear a fault with
'gyrostat control clear-fault' first.`,
	RunE: runCalibrate,
}

func init() {
	rootCmd.AddCommand(calibrateCmd)
	calibrateCmd.Flags().StringVarP(&outDir, "out", "o", "", "Output directory (default from config)")
	calibrateCmd.Flags().IntVar(&revolutions, "revolutions", 0, "Homing revolutions (default from config)")
	calibrateCmd.Flags().IntVar(&amplitude, "amplitude", 0, "Maximum drive amplitude (default from config)")
	calibrateCmd.Flags().BoolVar(&calTUI, "tui", true, "Use terminal UI when stdout is a terminal")
	addTelemetryFlags(calibrateCmd)
}

// calibrationOutput names the files of one run
type calibrationOutput struct {
	CSV string
	Hex string
}

func newCalibrationOutput(dir, serial string, t time.Time) calibrationOutput {
	base := filepath.Join(dir, fmt.Sprintf("%s-%s", serial, t.Format("20060102-150405")))
	return calibrationOutput{CSV: base + ".csv", Hex: base + ".hex"}
}

// sequencerConfig applies command line overrides to the configured sweep
func sequencerConfig() calibration.Config {
	sc := cfg.Sequencer()
	if revolutions > 0 {
		sc.Revolutions = revolutions
	}
	if amplitude > 0 {
		sc.MaxAmplitude = amplitude
	}
	return sc
}

func runCalibrate(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	dir := firstNonEmpty(outDir, cfg.Output.Directory)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

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

	out := newCalibrationOutput(dir, tr.Serial(), time.Now())
	f, err := os.Create(out.CSV)
	if err != nil {
		return err
	}
	defer f.Close()
	capture := calibration.NewCaptureWriter(f)

	var seqLog *log.Logger
	var tuiLog *tuiLogWriter
	useTUI := calTUI && interactive()
	if useTUI {
		tuiLog = &tuiLogWriter{}
		seqLog = log.New(tuiLog, "", 0)
	} else {
		seqLog = log.New(os.Stdout, "", log.Ltime)
	}
	seq := calibration.NewSequencer(tr, sequencerConfig(),
		calibration.WithLogger(seqLog),
		calibration.WithRecorder(capture.Record),
	)

	var result calibrationResult
	if useTUI {
		result, err = runCalibrateTUI(ctx, seq, tr.Serial(), sinks, tuiLog)
	} else {
		result, err = runCalibrateText(ctx, seq, tr.Serial(), sinks)
	}
	if err != nil {
		sinks.Publish(telemetry.ErrorFrame(tr.Serial(), err))
		return explainCalibrationError(err)
	}

	if err := capture.Finish(result.data.Time); err != nil {
		return fmt.Errorf("write capture: %w", err)
	}
	fmt.Printf("Capture: %s (%d forward, %d reverse samples)\n",
		out.CSV, result.data.Forward.Count(), result.data.Reverse.Count())

	warn, err := writeCalibrationBlock(out.Hex, result.data, result.countsPerRevolution, tr.Serial())
	if err != nil {
		return err
	}
	if warn != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", warn)
	}
	fmt.Printf("Calibration block: %s\n", out.Hex)
	return nil
}

// calibrationResult is what a finished sweep hands to block generation
type calibrationResult struct {
	data                *calibration.DataFormat
	countsPerRevolution int
}

// observe tracks the drive geometry from the event stream
func (r *calibrationResult) observe(ev calibration.Event, countsPerCycle int) {
	switch ev.Kind {
	case calibration.EventCycles:
		r.countsPerRevolution = ev.Cycles * countsPerCycle
	case calibration.EventDone:
		r.data = ev.Data
	}
}

func runCalibrateText(ctx context.Context, seq *calibration.Sequencer, serial string, sinks *telemetry.Fanout) (calibrationResult, error) {
	fmt.Printf("Gyrostat - Calibration\n")
	fmt.Printf("Controller: %s (%s backend)\n", serial, cfg.Device.Backend)
	fmt.Printf("Press Ctrl+C to abort\n\n")

	var result calibrationResult
	cpc := cfg.Calibration.CountsPerCycle
	_, err := seq.Run(ctx, func(ev calibration.Event) {
		result.observe(ev, cpc)
		sinks.Publish(telemetry.EventFrame(serial, ev))
		if ev.Kind == calibration.EventCycles {
			fmt.Printf("Detected %d cycles per revolution (%d counts)\n", ev.Cycles, result.countsPerRevolution)
		}
	})
	return result, err
}

// explainCalibrationError adds operator guidance to sequencer failures
func explainCalibrationError(err error) error {
	switch {
	case errors.Is(err, calibration.ErrMotorFault):
		return fmt.Errorf("%w (run 'gyrostat control clear-fault' and retry)", err)
	case errors.Is(err, calibration.ErrWrongState):
		return fmt.Errorf("%w (the controller must be in manual mode)", err)
	case errors.Is(err, calibration.ErrCyclesNotDetected):
		return fmt.Errorf("%w (check the motor is free to turn and the amplitude is high enough)", err)
	case errors.Is(err, calibration.ErrBudgetExhausted):
		return fmt.Errorf("%w (too many sensor errors; check the sensor wiring)", err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("calibration aborted")
	}
	return err
}

// countsPerRevolution derives the drive counts of a loaded capture. A sweep
// spans revs revolutions, so one revolution is the sweep length divided by
// revs, rounded up to whole electrical cycles.
func countsPerRevolution(data *calibration.DataFormat, countsPerCycle, revs int) int {
	if revs < 1 {
		revs = 1
	}
	n := max(data.Forward.Len(), data.Reverse.Len())
	span := revs * countsPerCycle
	cycles := (n + span - 1) / span
	return cycles * countsPerCycle
}

// writeCalibrationBlock processes a capture and writes the block as HEX.
// warn reports a serial number that had to be shortened.
func writeCalibrationBlock(path string, data *calibration.DataFormat, cpr int, serial string) (warn, err error) {
	processed := calibration.ProcessWith(data.Forward.Alphas(), data.Reverse.Alphas(), calibration.ProcessOptions{
		SampleModulus:       float64(cfg.Calibration.SampleModulus),
		CountsPerRevolution: cpr,
	})

	raw, warn := block.Encode(block.Block{
		Table:  processed.InverseTable,
		Time:   data.Time,
		Serial: block.DefaultSerial(serial),
	})

	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := block.WriteHex(f, raw, cfg.Output.HexBase, byte(cfg.Output.HexLineLen)); err != nil {
		return nil, fmt.Errorf("write %s: %w", path, err)
	}
	return warn, f.Close()
}
