// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Gyrostat - Motor Controller Calibration Tool
//
// A CLI tool for calibrating the magnetic position sensor of USB brushless
// motor controllers and driving them once calibrated.

package main

import (
	"os"

	"github.com/Thermoquad/gyrostat/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
