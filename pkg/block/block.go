// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package block builds and verifies the calibration block flashed next to
// the controller firmware: a 4096 entry lookup table followed by a 128 byte
// ID page.
package block

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sigurn/crc16"
	"golang.org/x/text/encoding/unicode"
)

// Layout
const (
	TableEntries = 4096
	TableBytes   = TableEntries * 2
	IDSize       = 128
	Size         = TableBytes + IDSize

	// Version is the ID page layout revision
	Version = 0x00

	offTableCRC  = 0
	offVersion   = 2
	offTime      = 3
	offStrLen    = 11
	offStrType   = 12
	offSerial    = 13
	offTrailer   = IDSize - 2
	descString   = 0x03
	serialBytes  = offTrailer - offSerial
	maxSerialLen = serialBytes / 2
)

var (
	// ErrSize means the input is not a whole block
	ErrSize = errors.New("invalid block size")

	// ErrTableCRC means the lookup table does not match its checksum
	ErrTableCRC = errors.New("lookup table CRC mismatch")

	// ErrIDCRC means the ID page does not match its trailing checksum
	ErrIDCRC = errors.New("ID page CRC mismatch")

	// ErrVersion means the ID page layout is unknown
	ErrVersion = errors.New("unsupported ID page version")

	// ErrDescriptor means the serial string descriptor is malformed
	ErrDescriptor = errors.New("invalid serial descriptor")

	// ErrSerialTruncated matches SerialTruncatedError
	ErrSerialTruncated = errors.New("serial number truncated")
)

// SerialTruncatedError is a warning: the block is valid but holds only
// the part of the serial that fit.
type SerialTruncatedError struct {
	Serial  string
	Written string
}

func (e *SerialTruncatedError) Error() string {
	return fmt.Sprintf("serial number truncated: %q stored as %q", e.Serial, e.Written)
}

// Is lets errors.Is match ErrSerialTruncated
func (e *SerialTruncatedError) Is(target error) bool {
	return target == ErrSerialTruncated
}

// crc is CRC-16 with the reflected 0x8005 polynomial and 0xFFFF start
var crc = crc16.MakeTable(crc16.CRC16_MODBUS)

// Checksum returns the block CRC16 of data
func Checksum(data []byte) uint16 {
	return crc16.Checksum(data, crc)
}

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// Block is the decoded content of a calibration block
type Block struct {
	Table  [TableEntries]uint16
	Time   time.Time
	Serial string
}

// DefaultSerial returns serial, or a time based UUID when it is empty or
// "None"
func DefaultSerial(serial string) string {
	s := strings.TrimSpace(serial)
	if s != "" && s != "None" {
		return serial
	}
	id, err := uuid.NewUUID()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Encode serializes b. The returned bytes are always a valid block; warn is
// a *SerialTruncatedError when the serial did not fit.
func Encode(b Block) (out []byte, warn error) {
	out = make([]byte, Size)
	table := out[:TableBytes]
	id := out[TableBytes:]

	for i, v := range b.Table {
		binary.LittleEndian.PutUint16(table[2*i:], v)
	}

	binary.LittleEndian.PutUint16(id[offTableCRC:], Checksum(table))
	id[offVersion] = Version
	binary.LittleEndian.PutUint64(id[offTime:], uint64(b.Time.UnixMilli()))

	units, written := encodeSerial(b.Serial)
	n := copy(id[offSerial:offTrailer], units)
	id[offStrLen] = byte(n + 2)
	id[offStrType] = descString

	binary.LittleEndian.PutUint16(id[offTrailer:], Checksum(id[:offTrailer]))

	if written != b.Serial {
		warn = &SerialTruncatedError{Serial: b.Serial, Written: written}
	}
	return out, warn
}

// encodeSerial returns the UTF-16LE bytes that fit the ID page and the
// string they decode to. A surrogate pair is never split.
func encodeSerial(s string) ([]byte, string) {
	enc, err := utf16le.NewEncoder().Bytes([]byte(s))
	if err != nil {
		enc = nil
	}
	if len(enc) > 2*maxSerialLen {
		enc = enc[:2*maxSerialLen]
		last := binary.LittleEndian.Uint16(enc[len(enc)-2:])
		if last >= 0xD800 && last < 0xDC00 {
			enc = enc[:len(enc)-2]
		}
	}
	dec, err := utf16le.NewDecoder().Bytes(enc)
	if err != nil {
		return enc, ""
	}
	return enc, string(dec)
}

// Decode parses and verifies a block
func Decode(data []byte) (*Block, error) {
	if err := Verify(data); err != nil {
		return nil, err
	}
	id := data[TableBytes:]

	if id[offVersion] != Version {
		return nil, fmt.Errorf("%w: %d", ErrVersion, id[offVersion])
	}
	n := int(id[offStrLen]) - 2
	if id[offStrType] != descString || n < 0 || n > serialBytes || n%2 != 0 {
		return nil, fmt.Errorf("%w: type 0x%02X length %d", ErrDescriptor, id[offStrType], id[offStrLen])
	}
	serial, err := utf16le.NewDecoder().Bytes(id[offSerial : offSerial+n])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDescriptor, err)
	}

	b := &Block{
		Time:   time.UnixMilli(int64(binary.LittleEndian.Uint64(id[offTime:]))),
		Serial: string(serial),
	}
	for i := range b.Table {
		b.Table[i] = binary.LittleEndian.Uint16(data[2*i:])
	}
	return b, nil
}

// Verify checks the block size and both checksums
func Verify(data []byte) error {
	if len(data) != Size {
		return fmt.Errorf("%w: %d bytes (expected %d)", ErrSize, len(data), Size)
	}
	table := data[:TableBytes]
	id := data[TableBytes:]

	if got, want := Checksum(table), binary.LittleEndian.Uint16(id[offTableCRC:]); got != want {
		return fmt.Errorf("%w: computed 0x%04X, stored 0x%04X", ErrTableCRC, got, want)
	}
	if got, want := Checksum(id[:offTrailer]), binary.LittleEndian.Uint16(id[offTrailer:]); got != want {
		return fmt.Errorf("%w: computed 0x%04X, stored 0x%04X", ErrIDCRC, got, want)
	}
	return nil
}
