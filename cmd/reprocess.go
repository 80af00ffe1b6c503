// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/gyrostat/pkg/calibration"
)

var (
	reprocessSerial      string
	reprocessCycles      int
	reprocessRevolutions int
	reprocessOut         string
)

var reprocessCmd = &cobra.Command{
	Use:   "reprocess <capture.csv>",
	Short: "Build a calibration block from a saved capture",
	Long: `Load a capture written by 'gyrostat calibrate' and rebuild its
calibration block without touching the controller.

Counts per revolution are inferred from the sweep length divided by the
number of revolutions swept (--revolutions, default from config), rounded up
to whole electrical cycles, unless --cycles is given. The block keeps the
capture's completion time.`,
	Args: cobra.ExactArgs(1),
	RunE: runReprocess,
}

func init() {
	rootCmd.AddCommand(reprocessCmd)
	reprocessCmd.Flags().StringVar(&reprocessSerial, "block-serial", "", "Serial number stored in the block (default: random)")
	reprocessCmd.Flags().IntVar(&reprocessCycles, "cycles", 0, "Electrical cycles per revolution (default: inferred)")
	reprocessCmd.Flags().IntVar(&reprocessRevolutions, "revolutions", 0, "Revolutions covered by each sweep (default from config)")
	reprocessCmd.Flags().StringVarP(&reprocessOut, "out", "o", "", "Output HEX file (default: capture name with .hex)")
}

func runReprocess(cmd *cobra.Command, args []string) error {
	in := args[0]
	f, err := os.Open(in)
	if err != nil {
		return err
	}
	defer f.Close()

	data, err := calibration.ReadCSV(f)
	if err != nil {
		return fmt.Errorf("%s: %w", in, err)
	}
	if data.Forward.Count() == 0 && data.Reverse.Count() == 0 {
		return fmt.Errorf("%s: %w: no samples", in, calibration.ErrInvalidCapture)
	}

	cpc := cfg.Calibration.CountsPerCycle
	revs := cfg.Calibration.Revolutions
	if reprocessRevolutions > 0 {
		revs = reprocessRevolutions
	}
	cpr := countsPerRevolution(data, cpc, revs)
	if reprocessCycles > 0 {
		cpr = reprocessCycles * cpc
	}

	out := reprocessOut
	if out == "" {
		out = strings.TrimSuffix(in, ".csv") + ".hex"
	}

	warn, err := writeCalibrationBlock(out, data, cpr, reprocessSerial)
	if err != nil {
		return err
	}
	if warn != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", warn)
	}
	fmt.Printf("Capture: %s (%d forward, %d reverse samples, %d counts/rev)\n",
		in, data.Forward.Count(), data.Reverse.Count(), cpr)
	fmt.Printf("Calibration block: %s\n", out)
	return nil
}
