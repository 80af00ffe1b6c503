// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/gyrostat/pkg/block"
)

var blockBase uint32

var blockInfoCmd = &cobra.Command{
	Use:   "block-info <block.hex>",
	Short: "Verify and describe a calibration block",
	Long: `Read an Intel HEX calibration block, verify both of its checksums and
print the identification page and a summary of the lookup table.

Exit codes:
  0 - Block is valid
  1 - Block is missing, corrupt or of an unknown version`,
	Args: cobra.ExactArgs(1),
	RunE: runBlockInfo,
}

func init() {
	rootCmd.AddCommand(blockInfoCmd)
	blockInfoCmd.Flags().Uint32Var(&blockBase, "base", 0, "Block load address (default from config)")
}

func runBlockInfo(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	base := cfg.Output.HexBase
	if blockBase != 0 {
		base = blockBase
	}
	return describeBlock(os.Stdout, f, base)
}

func describeBlock(w io.Writer, r io.Reader, base uint32) error {
	raw, err := block.ReadHex(r, base)
	if err != nil {
		return err
	}
	b, err := block.Decode(raw)
	if err != nil {
		return err
	}

	lo, hi := b.Table[0], b.Table[0]
	for _, v := range b.Table {
		lo, hi = min(lo, v), max(hi, v)
	}

	fmt.Fprintf(w, "Base:      0x%04X (%d bytes)\n", base, block.Size)
	fmt.Fprintf(w, "Version:   %d\n", block.Version)
	fmt.Fprintf(w, "Time:      %s\n", b.Time.Format("2006-01-02 15:04:05.000 MST"))
	fmt.Fprintf(w, "Serial:    %s\n", b.Serial)
	fmt.Fprintf(w, "Table:     %d entries, range %d..%d\n", len(b.Table), lo, hi)
	fmt.Fprintf(w, "Checksums: OK\n")
	return nil
}
