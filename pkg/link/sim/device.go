// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sim

import (
	"sync"
	"time"

	"github.com/Thermoquad/gyrostat/pkg/link"
)

// Enumerator lists the simulated controllers that are plugged in
type Enumerator struct {
	controllers []*Controller
}

// NewEnumerator creates an enumerator over the given controllers
func NewEnumerator(controllers ...*Controller) *Enumerator {
	return &Enumerator{controllers: controllers}
}

// Candidates implements link.Enumerator
func (e *Enumerator) Candidates() ([]link.Candidate, error) {
	var out []link.Candidate
	for _, c := range e.controllers {
		if !c.Attached() {
			continue
		}
		out = append(out, link.Candidate{
			Path:      "sim:" + c.Serial(),
			Serial:    c.Serial(),
			VendorID:  link.VendorID,
			ProductID: link.ProductID,
		})
	}
	return out, nil
}

// Open implements link.Enumerator
func (e *Enumerator) Open(cand link.Candidate) (link.Device, error) {
	for _, c := range e.controllers {
		if c.Serial() == cand.Serial && c.Attached() {
			return &Device{ctrl: c, closed: make(chan struct{})}, nil
		}
	}
	return nil, link.ErrNotFound
}

// Device is an open link to a simulated controller
type Device struct {
	ctrl      *Controller
	closed    chan struct{}
	closeOnce sync.Once
	last      time.Time
}

// ReadReport implements link.Device. Reports are produced every
// ReportInterval.
func (d *Device) ReadReport(p []byte, timeout time.Duration) (int, error) {
	interval := d.ctrl.cfg.ReportInterval
	wait := time.Until(d.last.Add(interval))
	if wait > timeout {
		time.Sleep(timeout)
		return 0, link.ErrReadTimeout
	}
	if wait > 0 {
		select {
		case <-time.After(wait):
		case <-d.closed:
			return 0, link.ErrClosed
		}
	}
	if !d.ctrl.Attached() {
		return 0, ErrUnplugged
	}
	d.last = time.Now()
	r := d.ctrl.Report()
	return copy(p, r.Bytes()), nil
}

// WriteReport implements link.Device
func (d *Device) WriteReport(p []byte) error {
	if !d.ctrl.Attached() {
		return ErrUnplugged
	}
	cmd, err := link.DecodeCommand(p)
	if err != nil {
		return err
	}
	d.ctrl.Apply(cmd)
	return nil
}

// Close implements link.Device
func (d *Device) Close() error {
	d.closeOnce.Do(func() { close(d.closed) })
	return nil
}
