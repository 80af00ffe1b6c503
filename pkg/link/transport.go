// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"context"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// Status is the attachment state of a transport's controller
type Status int

const (
	StatusMissing Status = iota
	StatusConnected
)

func (s Status) String() string {
	if s == StatusConnected {
		return "connected"
	}
	return "missing"
}

const (
	defaultPollInterval = 500 * time.Millisecond
	defaultReadTimeout  = 100 * time.Millisecond
	eventBuffer         = 64
)

// Option configures a Transport
type Option func(*Transport)

// WithLogger sets the diagnostic logger
func WithLogger(l *log.Logger) Option {
	return func(t *Transport) { t.log = l }
}

// WithPollInterval sets how often Run looks for the controller while it is
// missing
func WithPollInterval(d time.Duration) Option {
	return func(t *Transport) { t.pollInterval = d }
}

// WithReadTimeout sets how long a single device read blocks. It bounds how
// quickly Close takes effect.
func WithReadTimeout(d time.Duration) Option {
	return func(t *Transport) { t.readTimeout = d }
}

// Transport owns the link to one controller, identified by serial number.
// At most one write may be in flight; a second concurrent Write fails with
// ErrBusy instead of queueing, so the controller never acts on a stale
// command.
type Transport struct {
	enum   Enumerator
	serial string

	log          *log.Logger
	pollInterval time.Duration
	readTimeout  time.Duration

	mu     sync.Mutex
	dev    Device
	latest ReadData
	seq    uint64
	notify chan struct{}
	closed bool

	// devMu guards the device handle's lifetime against in-flight writes
	devMu sync.Mutex
	busy  atomic.Bool

	data   chan ReadData
	status chan Status
	errs   chan error

	done      chan struct{}
	closeOnce sync.Once
	readers   sync.WaitGroup

	stats *Statistics
}

// New creates a transport for the controller with the given serial number.
// Nothing is opened until Open or Run.
func New(enum Enumerator, serial string, opts ...Option) *Transport {
	t := &Transport{
		enum:         enum,
		serial:       serial,
		log:          log.New(io.Discard, "", 0),
		pollInterval: defaultPollInterval,
		readTimeout:  defaultReadTimeout,
		notify:       make(chan struct{}),
		data:         make(chan ReadData, eventBuffer),
		status:       make(chan Status, eventBuffer),
		errs:         make(chan error, eventBuffer),
		done:         make(chan struct{}),
		stats:        NewStatistics(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Serial returns the serial number this transport is bound to
func (t *Transport) Serial() string {
	return t.serial
}

// Data delivers every decoded report. Reports are dropped if the channel
// is full.
func (t *Transport) Data() <-chan ReadData { return t.data }

// Status delivers attach and detach transitions
func (t *Transport) Status() <-chan Status { return t.status }

// Errors delivers non-fatal link errors such as malformed reports
func (t *Transport) Errors() <-chan error { return t.errs }

// Connected reports whether a controller is currently attached
func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dev != nil
}

// Stats returns a snapshot of link statistics
func (t *Transport) Stats() Statistics {
	t.mu.Lock()
	defer t.mu.Unlock()
	return *t.stats
}

// Open looks for the controller once and attaches to it
func (t *Transport) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	closed, attached := t.closed, t.dev != nil
	t.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if attached {
		return nil
	}

	candidates, err := t.enum.Candidates()
	if err != nil {
		return errors.Wrap(err, "enumerate controllers")
	}
	for _, c := range candidates {
		if c.Serial != t.serial {
			continue
		}
		dev, err := t.enum.Open(c)
		if err != nil {
			return errors.Wrapf(err, "open controller %s", t.serial)
		}
		return t.attach(dev)
	}
	return errors.Wrapf(ErrNotFound, "serial %q", t.serial)
}

// Run keeps the transport attached until ctx is done or Close is called.
// While the controller is missing it polls the enumerator; after a detach
// it re-arms for the next attach of the same serial.
func (t *Transport) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	for {
		if !t.Connected() {
			err := t.Open(ctx)
			switch {
			case err == nil:
			case errors.Is(err, ErrClosed):
				return nil
			case errors.Is(err, ErrNotFound):
			case ctx.Err() != nil:
				return ctx.Err()
			default:
				t.emitError(err)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.done:
			return nil
		case <-ticker.C:
		}
	}
}

// attach takes ownership of a freshly opened device. The reader is
// registered under mu so Close either sees it or attach sees closed.
func (t *Transport) attach(dev Device) error {
	t.mu.Lock()
	if t.closed || t.dev != nil {
		closed := t.closed
		t.mu.Unlock()
		dev.Close()
		if closed {
			return ErrClosed
		}
		return nil
	}
	t.dev = dev
	t.readers.Add(1)
	t.mu.Unlock()

	t.log.Printf("Attaching: %s", t.serial)
	t.emitStatus(StatusConnected)

	go t.readLoop(dev)
	return nil
}

// detach releases a device after its reader has stopped
func (t *Transport) detach(dev Device, cause error) {
	t.devMu.Lock()
	dev.Close()
	t.devMu.Unlock()

	t.mu.Lock()
	if t.dev == dev {
		t.dev = nil
	}
	t.wake()
	closed := t.closed
	t.mu.Unlock()

	if closed {
		return
	}
	t.log.Printf("Detach %s: %v", t.serial, cause)
	t.emitStatus(StatusMissing)
}

func (t *Transport) readLoop(dev Device) {
	defer t.readers.Done()

	buf := make([]byte, ReportSize+1)
	for {
		select {
		case <-t.done:
			t.detach(dev, ErrClosed)
			return
		default:
		}

		n, err := dev.ReadReport(buf, t.readTimeout)
		if errors.Is(err, ErrReadTimeout) {
			continue
		}
		if err != nil {
			t.detach(dev, err)
			return
		}

		rd, err := ParseReadData(buf[:n])
		if err != nil {
			t.log.Printf("Discarding report: %v", err)
			t.mu.Lock()
			t.stats.Update(nil, err, nil)
			t.mu.Unlock()
			t.emitError(err)
			continue
		}
		t.publish(rd)
	}
}

func (t *Transport) publish(rd ReadData) {
	t.mu.Lock()
	t.latest = rd
	t.seq++
	t.stats.Update(&rd, nil, ValidateReport(&rd))
	t.wake()
	t.mu.Unlock()

	select {
	case t.data <- rd:
	default:
	}
}

// wake releases every pending Read. Caller holds mu.
func (t *Transport) wake() {
	close(t.notify)
	t.notify = make(chan struct{})
}

// Read waits for the next report that arrives after the call
func (t *Transport) Read(ctx context.Context) (ReadData, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ReadData{}, ErrClosed
	}
	if t.dev == nil {
		t.mu.Unlock()
		return ReadData{}, ErrDisconnected
	}
	seq, ch := t.seq, t.notify
	t.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return ReadData{}, ctx.Err()
		case <-ch:
		}

		t.mu.Lock()
		switch {
		case t.closed:
			t.mu.Unlock()
			return ReadData{}, ErrClosed
		case t.seq != seq:
			rd := t.latest
			t.mu.Unlock()
			return rd, nil
		case t.dev == nil:
			t.mu.Unlock()
			return ReadData{}, ErrDisconnected
		}
		ch = t.notify
		t.mu.Unlock()
	}
}

// Write sends one command. It returns ErrBusy if another write is in
// flight and ErrDisconnected if the controller is not attached; neither
// is queued.
func (t *Transport) Write(ctx context.Context, c Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	report, err := EncodeCommand(c)
	if err != nil {
		return err
	}

	if !t.busy.CompareAndSwap(false, true) {
		t.mu.Lock()
		t.stats.WritesSkipped++
		t.mu.Unlock()
		return ErrBusy
	}
	defer t.busy.Store(false)

	t.devMu.Lock()
	defer t.devMu.Unlock()

	t.mu.Lock()
	dev, closed := t.dev, t.closed
	t.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if dev == nil {
		return ErrDisconnected
	}

	if err := dev.WriteReport(report); err != nil {
		t.emitError(err)
		return errors.Wrapf(err, "write %s", FormatMode(c.Mode()))
	}

	t.mu.Lock()
	t.stats.WritesSent++
	t.mu.Unlock()
	return nil
}

// Close stops the reader, releases the device and wakes pending reads with
// ErrClosed
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		t.wake()
		t.mu.Unlock()
		close(t.done)
	})
	t.readers.Wait()
	return nil
}

func (t *Transport) emitStatus(s Status) {
	select {
	case t.status <- s:
	default:
	}
}

func (t *Transport) emitError(err error) {
	select {
	case t.errs <- err:
	default:
	}
}
