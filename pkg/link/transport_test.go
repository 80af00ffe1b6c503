// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"
)

// ============================================================
// Fake Devices
// ============================================================

type fakeDevice struct {
	reports   chan []byte
	writes    chan []byte
	gate      chan struct{}
	gone      chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
	goneOnce  sync.Once
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		reports: make(chan []byte, 16),
		writes:  make(chan []byte, 16),
		gone:    make(chan struct{}),
		closed:  make(chan struct{}),
	}
}

func (d *fakeDevice) ReadReport(p []byte, timeout time.Duration) (int, error) {
	select {
	case r := <-d.reports:
		return copy(p, r), nil
	case <-d.gone:
		return 0, io.EOF
	case <-time.After(timeout):
		return 0, ErrReadTimeout
	}
}

func (d *fakeDevice) WriteReport(p []byte) error {
	if d.gate != nil {
		<-d.gate
	}
	d.writes <- append([]byte(nil), p...)
	return nil
}

func (d *fakeDevice) Close() error {
	d.closeOnce.Do(func() { close(d.closed) })
	return nil
}

func (d *fakeDevice) unplug() {
	d.goneOnce.Do(func() { close(d.gone) })
}

type fakeEnum struct {
	mu      sync.Mutex
	serials []string
	opened  []*fakeDevice
}

func (e *fakeEnum) Candidates() ([]Candidate, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []Candidate
	for _, s := range e.serials {
		out = append(out, Candidate{Path: "/fake/" + s, Serial: s, VendorID: VendorID, ProductID: ProductID})
	}
	return out, nil
}

func (e *fakeEnum) Open(c Candidate) (Device, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	d := newFakeDevice()
	e.opened = append(e.opened, d)
	return d, nil
}

func (e *fakeEnum) setSerials(s ...string) {
	e.mu.Lock()
	e.serials = s
	e.mu.Unlock()
}

func (e *fakeEnum) device(i int) *fakeDevice {
	e.mu.Lock()
	defer e.mu.Unlock()
	if i >= len(e.opened) {
		return nil
	}
	return e.opened[i]
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func openTransport(t *testing.T) (*Transport, *fakeDevice) {
	enum := &fakeEnum{serials: []string{"other", "MOTOR1"}}
	tr := New(enum, "MOTOR1", WithReadTimeout(10*time.Millisecond))
	if err := tr.Open(testContext(t)); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { tr.Close() })
	return tr, enum.device(0)
}

// readAsync starts a Read and gives it time to start waiting
func readAsync(ctx context.Context, tr *Transport) <-chan error {
	out := make(chan error, 1)
	go func() {
		_, err := tr.Read(ctx)
		out <- err
	}()
	time.Sleep(20 * time.Millisecond)
	return out
}

// ============================================================
// Transport Tests
// ============================================================

func TestTransport_OpenNotFound(t *testing.T) {
	tr := New(&fakeEnum{serials: []string{"A"}}, "B")
	defer tr.Close()
	if err := tr.Open(testContext(t)); !errors.Is(err, ErrNotFound) {
		t.Errorf("Open() error = %v, want ErrNotFound", err)
	}
}

func TestTransport_StatusOnAttach(t *testing.T) {
	tr, _ := openTransport(t)
	select {
	case s := <-tr.Status():
		if s != StatusConnected {
			t.Errorf("Status = %v, want connected", s)
		}
	case <-time.After(time.Second):
		t.Fatal("no status event")
	}
	if !tr.Connected() {
		t.Error("Connected() = false after Open")
	}
}

func TestTransport_ReadNextReport(t *testing.T) {
	tr, dev := openTransport(t)
	ctx := testContext(t)

	want := sampleReport()
	done := make(chan ReadData, 1)
	go func() {
		rd, err := tr.Read(ctx)
		if err != nil {
			t.Errorf("Read() error = %v", err)
		}
		done <- rd
	}()
	time.Sleep(20 * time.Millisecond)
	dev.reports <- want.Bytes()

	select {
	case got := <-done:
		if got.Position != want.Position || got.RawAngle != want.RawAngle {
			t.Errorf("Read() = %+v, want %+v", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Read() did not return")
	}

	select {
	case rd := <-tr.Data():
		if rd.Position != want.Position {
			t.Errorf("Data() position = %d, want %d", rd.Position, want.Position)
		}
	case <-time.After(time.Second):
		t.Fatal("no data event")
	}
}

func TestTransport_DiscardsWrongLength(t *testing.T) {
	tr, dev := openTransport(t)
	ctx := testContext(t)

	good := sampleReport()
	result := make(chan ReadData, 1)
	go func() {
		rd, _ := tr.Read(ctx)
		result <- rd
	}()
	time.Sleep(20 * time.Millisecond)
	dev.reports <- make([]byte, 12)
	dev.reports <- good.Bytes()

	select {
	case rd := <-result:
		if rd.Position != good.Position {
			t.Errorf("Read() position = %d, want %d", rd.Position, good.Position)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Read() did not return")
	}

	select {
	case err := <-tr.Errors():
		if !errors.Is(err, ErrReportLength) {
			t.Errorf("Errors() = %v, want ErrReportLength", err)
		}
	case <-time.After(time.Second):
		t.Fatal("no error event for malformed report")
	}
	if s := tr.Stats(); s.MalformedReports != 1 {
		t.Errorf("MalformedReports = %d, want 1", s.MalformedReports)
	}
}

func TestTransport_WriteBusy(t *testing.T) {
	tr, dev := openTransport(t)
	ctx := testContext(t)
	dev.gate = make(chan struct{})

	first := make(chan error, 1)
	go func() { first <- tr.Write(ctx, PushCommand{Command: 10}) }()

	// Wait until the first write holds the busy flag
	deadline := time.Now().Add(time.Second)
	for !tr.busy.Load() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if err := tr.Write(ctx, PushCommand{Command: 20}); !errors.Is(err, ErrBusy) {
		t.Errorf("concurrent Write() error = %v, want ErrBusy", err)
	}

	close(dev.gate)
	if err := <-first; err != nil {
		t.Errorf("first Write() error = %v", err)
	}

	got := <-dev.writes
	cmd, err := DecodeCommand(got)
	if err != nil || cmd != (PushCommand{Command: 10}) {
		t.Errorf("written command = %#v (%v), want push 10", cmd, err)
	}
	if s := tr.Stats(); s.WritesSkipped != 1 || s.WritesSent != 1 {
		t.Errorf("WritesSent/Skipped = %d/%d, want 1/1", s.WritesSent, s.WritesSkipped)
	}
}

func TestTransport_WriteDisconnected(t *testing.T) {
	tr := New(&fakeEnum{}, "X")
	defer tr.Close()
	if err := tr.Write(testContext(t), ClearFaultCommand{}); !errors.Is(err, ErrDisconnected) {
		t.Errorf("Write() error = %v, want ErrDisconnected", err)
	}
	if _, err := tr.Read(testContext(t)); !errors.Is(err, ErrDisconnected) {
		t.Errorf("Read() error = %v, want ErrDisconnected", err)
	}
}

func TestTransport_DetachWakesRead(t *testing.T) {
	tr, dev := openTransport(t)
	<-tr.Status()

	pending := readAsync(testContext(t), tr)
	dev.unplug()

	select {
	case err := <-pending:
		if !errors.Is(err, ErrDisconnected) {
			t.Errorf("Read() error = %v, want ErrDisconnected", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Read() not woken by detach")
	}

	select {
	case s := <-tr.Status():
		if s != StatusMissing {
			t.Errorf("Status = %v, want missing", s)
		}
	case <-time.After(time.Second):
		t.Fatal("no missing status")
	}

	select {
	case <-dev.closed:
	case <-time.After(time.Second):
		t.Error("device not closed after detach")
	}
}

func TestTransport_RunReattaches(t *testing.T) {
	enum := &fakeEnum{}
	tr := New(enum, "M", WithPollInterval(5*time.Millisecond), WithReadTimeout(5*time.Millisecond))
	ctx, cancel := context.WithCancel(testContext(t))
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- tr.Run(ctx) }()

	enum.setSerials("M")
	waitStatus(t, tr, StatusConnected)

	enum.device(0).unplug()
	waitStatus(t, tr, StatusMissing)
	waitStatus(t, tr, StatusConnected)

	if enum.device(1) == nil {
		t.Fatal("transport did not reopen the controller")
	}

	tr.Close()
	select {
	case err := <-runErr:
		if err != nil {
			t.Errorf("Run() error = %v, want nil after Close", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after Close")
	}
}

func waitStatus(t *testing.T, tr *Transport, want Status) {
	t.Helper()
	select {
	case s := <-tr.Status():
		if s != want {
			t.Fatalf("Status = %v, want %v", s, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %v", want)
	}
}

func TestTransport_CloseWakesRead(t *testing.T) {
	tr, _ := openTransport(t)
	pending := readAsync(testContext(t), tr)
	tr.Close()

	select {
	case err := <-pending:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("Read() error = %v, want ErrClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Read() not woken by Close")
	}

	if _, err := tr.Read(testContext(t)); !errors.Is(err, ErrClosed) {
		t.Errorf("Read() after Close error = %v, want ErrClosed", err)
	}
}

// slowEnum holds Open until released so a Close can land mid-attach
type slowEnum struct {
	fakeEnum
	opening chan struct{}
	release chan struct{}
}

func (e *slowEnum) Open(c Candidate) (Device, error) {
	close(e.opening)
	<-e.release
	return e.fakeEnum.Open(c)
}

func TestTransport_CloseDuringOpen(t *testing.T) {
	enum := &slowEnum{
		fakeEnum: fakeEnum{serials: []string{"M"}},
		opening:  make(chan struct{}),
		release:  make(chan struct{}),
	}
	tr := New(enum, "M", WithReadTimeout(5*time.Millisecond))

	openErr := make(chan error, 1)
	go func() { openErr <- tr.Open(testContext(t)) }()

	<-enum.opening
	tr.Close()
	close(enum.release)

	select {
	case err := <-openErr:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("Open() error = %v, want ErrClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Open() did not return")
	}

	if tr.Connected() {
		t.Error("Connected() = true after Close")
	}
	select {
	case <-enum.device(0).closed:
	default:
		t.Error("device opened after Close was not released")
	}
	select {
	case s := <-tr.Status():
		t.Errorf("Status = %v after Close, want none", s)
	default:
	}
	tr.Close()
}

func TestTransport_ReadContextTimeout(t *testing.T) {
	tr, _ := openTransport(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := tr.Read(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Read() error = %v, want DeadlineExceeded", err)
	}
}

func TestWatch(t *testing.T) {
	enum := &fakeEnum{serials: []string{"A"}}
	ctx, cancel := context.WithCancel(context.Background())

	seen := make(chan string, 8)
	go Watch(ctx, enum, 5*time.Millisecond, func(c Candidate) { seen <- c.Serial })

	if s := <-seen; s != "A" {
		t.Errorf("first = %q, want A", s)
	}
	enum.setSerials("A", "B")
	if s := <-seen; s != "B" {
		t.Errorf("second = %q, want B", s)
	}
	cancel()
}
