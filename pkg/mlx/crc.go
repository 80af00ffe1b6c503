// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package mlx

import "github.com/sigurn/crc8"

// crcParams is CRC-8 with polynomial 0x2F, seed 0xFF and inverted output
var crcParams = crc8.Params{
	Poly:   0x2F,
	Init:   0xFF,
	RefIn:  false,
	RefOut: false,
	XorOut: 0xFF,
	Check:  0xDF,
	Name:   "CRC-8/AUTOSAR",
}

var crcTable = crc8.MakeTable(crcParams)

// CalculateCRC computes the sensor frame checksum over bytes 0..6
func CalculateCRC(data []byte) uint8 {
	return crc8.Checksum(data, crcTable)
}
