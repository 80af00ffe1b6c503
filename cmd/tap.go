// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/gyrostat/pkg/telemetry"
)

var (
	tapUsername    string
	tapNoSSLVerify bool
	tapDuration    time.Duration
)

var tapCmd = &cobra.Command{
	Use:   "tap <ws://host:port/telemetry>",
	Short: "Print frames from a telemetry hub",
	Long: `Connect to the WebSocket telemetry hub of another gyrostat process
(started with --ws-listen) and print each frame as it arrives.

For hubs behind an authenticating proxy, --username enables HTTP Basic
auth. The password is read from the GYROSTAT_PASSWORD environment
variable, or prompted interactively if not set.

Exit codes:
  0 - Hub closed the connection or --duration elapsed
  1 - Connection failed`,
	Args: cobra.ExactArgs(1),
	// tap never touches a controller, so it skips config loading
	PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	RunE:              runTap,
}

func init() {
	rootCmd.AddCommand(tapCmd)
	tapCmd.Flags().StringVar(&tapUsername, "username", "", "Username for HTTP Basic auth")
	tapCmd.Flags().BoolVar(&tapNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")
	tapCmd.Flags().DurationVar(&tapDuration, "duration", 0, "Stop after this long (default: run until interrupted)")
}

func runTap(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	password := ""
	if tapUsername != "" {
		var err error
		if password, err = getPassword(); err != nil {
			return err
		}
	}

	conn, err := dialTelemetry(ctx, args[0], tapUsername, password, tapNoSSLVerify)
	if err != nil {
		return err
	}
	defer conn.Close()

	go func() {
		var timeout <-chan time.Time
		if tapDuration > 0 {
			timeout = time.After(tapDuration)
		}
		select {
		case <-ctx.Done():
		case <-timeout:
		}
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}()

	return tapFrames(conn, os.Stdout)
}

// tapFrames prints frames until the connection closes
func tapFrames(conn *websocket.Conn, w io.Writer) error {
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			if strings.Contains(err.Error(), "use of closed network connection") {
				return nil
			}
			return err
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		fmt.Fprintln(w, formatFrame(data))
	}
}

// formatFrame renders a frame as "[time] name key=value ..."
func formatFrame(data []byte) string {
	timestamp := time.Now().Format("15:04:05.000")
	typ, payload, err := telemetry.Decode(data)
	if err != nil {
		return fmt.Sprintf("[%s] \033[1;31mDECODE ERROR:\033[0m %v", timestamp, err)
	}

	keys := make([]int, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", timestamp, typ.Name())
	for _, k := range keys {
		switch v := payload[k].(type) {
		case []byte:
			fmt.Fprintf(&b, " %s=% X", telemetry.KeyName(k), v)
		default:
			fmt.Fprintf(&b, " %s=%v", telemetry.KeyName(k), v)
		}
	}
	return b.String()
}
