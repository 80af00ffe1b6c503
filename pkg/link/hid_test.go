// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/sstallion/go-hid"
)

type fakeHIDHandle struct {
	writes  [][]byte
	readErr error
	closed  bool
}

func (h *fakeHIDHandle) ReadWithTimeout(p []byte, timeout time.Duration) (int, error) {
	return 0, h.readErr
}

func (h *fakeHIDHandle) Write(p []byte) (int, error) {
	h.writes = append(h.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (h *fakeHIDHandle) Close() error {
	h.closed = true
	return nil
}

// ============================================================
// HID Backend Tests
// ============================================================

func TestHIDDevice_WriteKeepsInterfaceByte(t *testing.T) {
	h := &fakeHIDHandle{}
	dev := &hidDevice{dev: h}

	report, err := EncodeCommand(PushCommand{Command: -100})
	if err != nil {
		t.Fatalf("EncodeCommand() error = %v", err)
	}
	if err := dev.WriteReport(report); err != nil {
		t.Fatalf("WriteReport() error = %v", err)
	}

	if len(h.writes) != 1 {
		t.Fatalf("writes = %d, want 1", len(h.writes))
	}
	got := h.writes[0]
	if len(got) != ReportSize+1 {
		t.Fatalf("write length = %d, want %d", len(got), ReportSize+1)
	}
	if got[0] != 0 {
		t.Errorf("report number = %d, want 0", got[0])
	}
	// hidapi strips the report number; the controller sees the rest
	wire := got[1:]
	if !bytes.Equal(wire, report) {
		t.Errorf("wire report = % X, want % X", wire, report)
	}
	if wire[0] != interfaceNumber || Mode(wire[1]) != ModePush {
		t.Errorf("interface/mode = %d/%d, want %d/%d", wire[0], wire[1], interfaceNumber, ModePush)
	}
	if len(report) != ReportSize || report[0] != interfaceNumber {
		t.Errorf("WriteReport() modified the caller's report: % X", report)
	}
}

func TestHIDDevice_ReadTimeout(t *testing.T) {
	dev := &hidDevice{dev: &fakeHIDHandle{readErr: hid.ErrTimeout}}
	buf := make([]byte, ReportSize)
	if _, err := dev.ReadReport(buf, time.Millisecond); !errors.Is(err, ErrReadTimeout) {
		t.Errorf("ReadReport() error = %v, want ErrReadTimeout", err)
	}

	gone := errors.New("device gone")
	dev = &hidDevice{dev: &fakeHIDHandle{readErr: gone}}
	if _, err := dev.ReadReport(buf, time.Millisecond); !errors.Is(err, gone) {
		t.Errorf("ReadReport() error = %v, want %v", err, gone)
	}
}
