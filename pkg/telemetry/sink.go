// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package telemetry

import (
	"errors"
	"io"
	"log"
)

// Sink receives encoded frames
type Sink interface {
	Send(f Frame) error
	Close() error
}

// Fanout sends every frame to all of its sinks
type Fanout struct {
	sinks  []Sink
	logger *log.Logger
}

// NewFanout creates a fanout. A nil logger discards send failures.
func NewFanout(logger *log.Logger, sinks ...Sink) *Fanout {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Fanout{sinks: sinks, logger: logger}
}

// Add registers another sink
func (f *Fanout) Add(s Sink) {
	f.sinks = append(f.sinks, s)
}

// Len is the number of sinks
func (f *Fanout) Len() int { return len(f.sinks) }

// Send delivers to every sink, logging and joining failures
func (f *Fanout) Send(fr Frame) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Send(fr); err != nil {
			f.logger.Printf("telemetry: %s: %v", fr.Type.Name(), err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Publish encodes and sends in one step; encode failures are logged
func (f *Fanout) Publish(fr Frame, err error) {
	if err != nil {
		f.logger.Printf("telemetry: %v", err)
		return
	}
	f.Send(fr)
}

// Close closes every sink
func (f *Fanout) Close() error {
	var errs []error
	for _, s := range f.sinks {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}
