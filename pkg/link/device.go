// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Open when no attached controller has the
	// requested serial number
	ErrNotFound = errors.New("device not found")

	// ErrBusy is returned by Write while another write is in flight
	ErrBusy = errors.New("write already in flight")

	// ErrDisconnected is returned when the controller is not attached
	ErrDisconnected = errors.New("device disconnected")

	// ErrClosed is returned after the transport has been closed
	ErrClosed = errors.New("transport closed")

	// ErrReadTimeout is returned by Device.ReadReport when no report
	// arrived within the timeout
	ErrReadTimeout = errors.New("read timeout")
)

// Candidate is an attached controller seen during enumeration, before any
// transport owns it
type Candidate struct {
	Path      string
	Serial    string
	VendorID  uint16
	ProductID uint16
}

// Device is an open controller link
type Device interface {
	// ReadReport reads one IN report into p, waiting at most timeout.
	// It returns ErrReadTimeout when nothing arrived.
	ReadReport(p []byte, timeout time.Duration) (int, error)

	// WriteReport sends one OUT report
	WriteReport(p []byte) error

	Close() error
}

// Enumerator lists and opens controllers
type Enumerator interface {
	Candidates() ([]Candidate, error)
	Open(c Candidate) (Device, error)
}
