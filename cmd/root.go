// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/gyrostat/pkg/config"
)

var (
	// Device selection flags
	configPath string
	serialFlag string
	backend    string
	baudRate   int
	verbose    bool

	// cfg is loaded before any command runs
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "gyrostat",
	Short: "Brushless motor controller calibration and control",
	Long: `Gyrostat - A CLI tool for calibrating and driving USB motor controllers
with an MLX90363 magnetic position sensor.

Calibration sweeps the rotor through every electrical step in both
directions, records the sensor angle at each step, and produces a
calibration block (Intel HEX) that the controller firmware uses to
commutate from the sensor reading.

Backends:
  HID:    --backend hid (default) talks to the controller over USB HID
  Serial: --backend serial [--baud 115200] talks through a USB serial bridge
  Sim:    --backend sim uses a built-in simulated controller

Settings default to the built-in production values and may be overridden
in a YAML file passed with --config.`,
	Version:       "0.3.0",
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("backend") {
			cfg.Device.Backend = backend
		}
		if cmd.Flags().Changed("baud") {
			cfg.Device.BaudRate = baudRate
		}
		return cfg.Validate()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVarP(&serialFlag, "serial", "s", "", "Controller serial number (default: first found)")
	rootCmd.PersistentFlags().StringVar(&backend, "backend", config.BackendHID, "Link backend: hid, serial or sim")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial backend only)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log link and sequencer diagnostics to stderr")
}

// logger returns the diagnostic logger selected by --verbose
func logger() *log.Logger {
	if verbose {
		return log.New(os.Stderr, "", log.Ltime|log.Lmicroseconds)
	}
	return log.New(io.Discard, "", 0)
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
