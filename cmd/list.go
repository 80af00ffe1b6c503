// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/gyrostat/pkg/link"
)

var (
	listWatch    bool
	listInterval time.Duration
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List attached motor controllers",
	Long: `List motor controllers attached through the selected backend.

With --watch the command keeps running and prints each controller as it is
plugged in, until interrupted.

Exit codes:
  0 - At least one controller found (or --watch interrupted)
  1 - No controller found`,
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().BoolVarP(&listWatch, "watch", "w", false, "Keep watching for newly attached controllers")
	listCmd.Flags().DurationVar(&listInterval, "interval", 500*time.Millisecond, "Polling interval for --watch")
}

func formatCandidate(c link.Candidate) string {
	return fmt.Sprintf("%-24s %04X:%04X  %s", c.Serial, c.VendorID, c.ProductID, c.Path)
}

func runList(cmd *cobra.Command, args []string) error {
	enum, err := newEnumerator(cfg)
	if err != nil {
		return err
	}

	if listWatch {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		fmt.Printf("Watching for controllers (%s backend), Ctrl+C to stop\n", cfg.Device.Backend)
		err := link.Watch(ctx, enum, listInterval, func(c link.Candidate) {
			fmt.Printf("[%s] %s\n", time.Now().Format("15:04:05.000"), formatCandidate(c))
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	candidates, err := enum.Candidates()
	if err != nil {
		return fmt.Errorf("enumerate controllers: %w", err)
	}
	if len(candidates) == 0 {
		fmt.Fprintln(os.Stderr, "No controllers found")
		os.Exit(1)
	}
	for _, c := range candidates {
		fmt.Println(formatCandidate(c))
	}
	return nil
}
