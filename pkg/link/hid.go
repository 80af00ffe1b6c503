// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sstallion/go-hid"
)

var hidInit sync.Once

// HIDEnumerator finds controllers through the host HID API
type HIDEnumerator struct {
	VendorID  uint16
	ProductID uint16
}

// NewHIDEnumerator matches the controller's vendor and product IDs
func NewHIDEnumerator() *HIDEnumerator {
	return &HIDEnumerator{VendorID: VendorID, ProductID: ProductID}
}

func initHID() (err error) {
	hidInit.Do(func() {
		err = hid.Init()
	})
	return err
}

// Candidates lists attached controllers with their serial numbers. The
// controller exposes a single HID interface, so one path is one device.
func (e *HIDEnumerator) Candidates() ([]Candidate, error) {
	if err := initHID(); err != nil {
		return nil, fmt.Errorf("hid init: %w", err)
	}

	var found []Candidate
	err := hid.Enumerate(e.VendorID, e.ProductID, func(info *hid.DeviceInfo) error {
		found = append(found, Candidate{
			Path:      info.Path,
			Serial:    cleanSerial(info.SerialNbr),
			VendorID:  info.VendorID,
			ProductID: info.ProductID,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("hid enumerate: %w", err)
	}
	return found, nil
}

// Open opens a candidate by path
func (e *HIDEnumerator) Open(c Candidate) (Device, error) {
	if err := initHID(); err != nil {
		return nil, fmt.Errorf("hid init: %w", err)
	}
	dev, err := hid.OpenPath(c.Path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", c.Path, err)
	}
	return &hidDevice{dev: dev}, nil
}

// cleanSerial strips the NUL padding some descriptors carry
func cleanSerial(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\x00", ""))
}

// hidHandle is the part of *hid.Device the link uses
type hidHandle interface {
	ReadWithTimeout(p []byte, timeout time.Duration) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

type hidDevice struct {
	dev hidHandle
}

func (d *hidDevice) ReadReport(p []byte, timeout time.Duration) (int, error) {
	n, err := d.dev.ReadWithTimeout(p, timeout)
	if errors.Is(err, hid.ErrTimeout) {
		return 0, ErrReadTimeout
	}
	return n, err
}

// WriteReport sends an OUT report. hidapi consumes the first byte as the
// report number, so a zero report number is prepended and the whole report,
// interface byte included, reaches the controller.
func (d *hidDevice) WriteReport(p []byte) error {
	buf := make([]byte, 0, len(p)+1)
	buf = append(buf, 0)
	buf = append(buf, p...)
	_, err := d.dev.Write(buf)
	return err
}

func (d *hidDevice) Close() error {
	return d.dev.Close()
}
