// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/term"

	"github.com/Thermoquad/gyrostat/pkg/config"
	"github.com/Thermoquad/gyrostat/pkg/link"
	"github.com/Thermoquad/gyrostat/pkg/link/sim"
	"github.com/Thermoquad/gyrostat/pkg/telemetry"
)

// simSerial is the serial number of the built-in simulated controller
const simSerial = "SIM0001"

// attachTimeout bounds how long a command waits for its controller
const attachTimeout = 5 * time.Second

// newEnumerator builds the device enumerator for the configured backend
func newEnumerator(c *config.Config) (link.Enumerator, error) {
	switch c.Device.Backend {
	case config.BackendHID:
		e := link.NewHIDEnumerator()
		e.VendorID, e.ProductID = c.Device.VendorID, c.Device.ProductID
		return e, nil
	case config.BackendSerial:
		e := link.NewSerialEnumerator(c.Device.BaudRate)
		e.VendorID, e.ProductID = c.Device.VendorID, c.Device.ProductID
		return e, nil
	case config.BackendSim:
		sc := sim.DefaultConfig(simSerial)
		sc.CyclesPerRevolution = c.Device.SimCycles
		sc.CountsPerCycle = c.Calibration.CountsPerCycle
		sc.ReportInterval = c.Device.SimReportEvery
		return sim.NewEnumerator(sim.New(sc)), nil
	}
	return nil, fmt.Errorf("unknown backend %q", c.Device.Backend)
}

// resolveSerial returns the --serial flag, or the first attached controller
func resolveSerial(enum link.Enumerator) (string, error) {
	if serialFlag != "" {
		return serialFlag, nil
	}
	candidates, err := enum.Candidates()
	if err != nil {
		return "", fmt.Errorf("enumerate controllers: %w", err)
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("no controller found (backend %s)", cfg.Device.Backend)
	}
	return candidates[0].Serial, nil
}

// openTransport attaches to the selected controller and keeps it attached
// in the background. The returned function closes the transport.
func openTransport(ctx context.Context) (*link.Transport, func(), error) {
	enum, err := newEnumerator(cfg)
	if err != nil {
		return nil, nil, err
	}
	serial, err := resolveSerial(enum)
	if err != nil {
		return nil, nil, err
	}

	tr := link.New(enum, serial,
		link.WithLogger(logger()),
		link.WithPollInterval(cfg.Device.PollInterval),
		link.WithReadTimeout(cfg.Device.ReadTimeout),
	)

	attach, cancel := context.WithTimeout(ctx, attachTimeout)
	defer cancel()
	for {
		err = tr.Open(attach)
		if err == nil {
			break
		}
		if attach.Err() != nil {
			tr.Close()
			return nil, nil, fmt.Errorf("controller %s: %w", serial, err)
		}
		time.Sleep(cfg.Device.PollInterval)
	}

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		tr.Run(runCtx)
	}()

	return tr, func() {
		stop()
		tr.Close()
		<-done
	}, nil
}

// Telemetry flags shared by monitor, calibrate and control
var (
	wsListen   string
	mqttBroker string
	mqttTopic  string
)

// openSinks starts the telemetry outputs selected by flags or config.
// With none selected the fanout is empty and Send is a no-op.
func openSinks(ctx context.Context) (*telemetry.Fanout, error) {
	fan := telemetry.NewFanout(logger())

	listen := firstNonEmpty(wsListen, cfg.Telemetry.WebSocketListen)
	if listen != "" {
		hub := telemetry.NewHub(logger())
		go func() {
			if err := hub.ListenAndServe(ctx, listen, "/telemetry"); err != nil {
				fmt.Fprintf(os.Stderr, "telemetry hub: %v\n", err)
			}
		}()
		fan.Add(hub)
	}

	broker := firstNonEmpty(mqttBroker, cfg.Telemetry.MQTTBroker)
	if broker != "" {
		sink, err := telemetry.DialMQTT(telemetry.MQTTConfig{
			Broker:   broker,
			ClientID: cfg.Telemetry.MQTTClientID,
			Topic:    firstNonEmpty(mqttTopic, cfg.Telemetry.MQTTTopic),
		})
		if err != nil {
			fan.Close()
			return nil, err
		}
		fan.Add(sink)
	}
	return fan, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// dialTelemetry connects to a telemetry hub with optional HTTP Basic auth
func dialTelemetry(ctx context.Context, hubURL, username, password string, skipSSLVerify bool) (*websocket.Conn, error) {
	u, err := url.Parse(hubURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %v", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: skipSSLVerify}
	}

	headers := http.Header{}
	if username != "" && password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	dial, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	conn, resp, err := dialer.DialContext(dial, hubURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %v", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %v", err)
	}
	return conn, nil
}

// getPassword reads GYROSTAT_PASSWORD or prompts without echo
func getPassword() (string, error) {
	if pw := os.Getenv("GYROSTAT_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %v", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}
	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// interactive reports whether stdout is a terminal that can host a TUI
func interactive() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}
