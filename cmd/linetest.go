// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/Thermoquad/sm2mbridge/pkg/sm2m"
	"github.com/spf13/cobra"
)

var (
	lineTestTimeout int
	lineTestLayout  string
)

var lineTestCmd = &cobra.Command{
	Use:   "line_test",
	Short: "Test connection by waiting for a valid line snapshot",
	Long: `Wait for a valid tunnel frame on the connection until timeout.

This command connects to a serial port or WebSocket (or listens for one) and
waits for any valid line snapshot. It ignores bytes outside a frame and waits
for a complete frame passing the CRC check.

Exit codes:
  0 - Snapshot received before timeout
  1 - Timeout reached without receiving a valid snapshot
  2 - Connection error

Useful for testing connectivity to a bus interface before running adapter or
emulate.`,
	RunE: runLineTest,
}

func init() {
	rootCmd.AddCommand(lineTestCmd)
	lineTestCmd.Flags().IntVar(&lineTestTimeout, "timeout", 10, "Timeout in seconds to wait for a snapshot")
	lineTestCmd.Flags().StringVar(&lineTestLayout, "layout", "input", "Register layout used to describe the snapshot (input or output)")
}

func runLineTest(cmd *cobra.Command, args []string) error {
	layout, _, err := parseLayout(lineTestLayout)
	if err != nil {
		return err
	}

	timeout := time.Duration(lineTestTimeout) * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	conn, connInfo, err := OpenConnection(ctx, cfg.Transport)
	if err != nil {
		if ctx.Err() != nil {
			fmt.Fprintf(os.Stderr, "TIMEOUT: No connection within %d seconds\n", lineTestTimeout)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("SM2M Bridge - Line Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n", lineTestTimeout)
	fmt.Printf("Waiting for valid line snapshot...\n\n")

	decoder := sm2m.NewTunnelDecoder()
	buf := make([]byte, 128)

	linesChan := make(chan sm2m.Lines, 1)
	errChan := make(chan error, 1)

	go func() {
		invalidFrames := 0
		for {
			n, err := conn.Read(buf)
			if err != nil {
				errChan <- err
				return
			}

			for i := 0; i < n; i++ {
				raw, ok, decodeErr := decoder.DecodeByte(buf[i])
				if decodeErr != nil {
					invalidFrames++
					continue
				}
				if ok {
					if invalidFrames > 0 {
						fmt.Printf("(dropped %d invalid frames before sync)\n", invalidFrames)
					}
					linesChan <- raw
					return
				}
			}
		}
	}()

	select {
	case raw := <-linesChan:
		word, ctrl := layout.Decode(raw)
		fmt.Printf("SUCCESS: Received valid snapshot\n")
		fmt.Printf("  %s\n", sm2m.FormatLines(layout, raw))
		fmt.Printf("  Word: 0x%04X\n", word)
		fmt.Printf("  Control: %s\n", ctrl)
		os.Exit(0)

	case err := <-errChan:
		fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
		os.Exit(2)

	case <-ctx.Done():
		fmt.Fprintf(os.Stderr, "TIMEOUT: No valid snapshot received within %d seconds\n", lineTestTimeout)
		os.Exit(1)
	}

	return nil
}
