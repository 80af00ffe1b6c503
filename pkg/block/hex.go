// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package block

import (
	"errors"
	"fmt"
	"io"

	"github.com/marcinbor85/gohex"
)

// DefaultBase is the flash address of the calibration block
const DefaultBase = 0x4F80

// DefaultLineLength is the number of data bytes per HEX record
const DefaultLineLength = 16

// ErrNoBlock means a HEX image holds no data at the block address
var ErrNoBlock = errors.New("no calibration block in image")

// WriteHex writes a block as an Intel HEX image placed at base
func WriteHex(w io.Writer, data []byte, base uint32, lineLength byte) error {
	if lineLength == 0 {
		lineLength = DefaultLineLength
	}
	mem := gohex.NewMemory()
	if err := mem.AddBinary(base, data); err != nil {
		return fmt.Errorf("place block at 0x%04X: %w", base, err)
	}
	return mem.DumpIntelHex(w, lineLength)
}

// ReadHex extracts the block at base from an Intel HEX image
func ReadHex(r io.Reader, base uint32) ([]byte, error) {
	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(r); err != nil {
		return nil, fmt.Errorf("parse HEX: %w", err)
	}

	covered := 0
	for _, seg := range mem.GetDataSegments() {
		lo := max(seg.Address, base)
		hi := min(seg.Address+uint32(len(seg.Data)), base+Size)
		if hi > lo {
			covered += int(hi - lo)
		}
	}
	if covered == 0 {
		return nil, fmt.Errorf("%w: 0x%04X", ErrNoBlock, base)
	}
	return mem.ToBinary(base, Size, 0xFF), nil
}
