// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/Thermoquad/sm2mbridge/pkg/sm2m"
	"github.com/spf13/cobra"
)

var rawLogLayout string

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display tunnelled bus snapshots in human-readable format",
	Long: `Continuously decode and display line snapshots as they arrive on the
tunnel, with timestamp, decoded register and the transfer or reply it carries.

Use --layout input when listening to a host (the snapshots are what a device
would latch) and --layout output when listening to a device.

Supports serial, WebSocket and listening WebSocket connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().StringVar(&rawLogLayout, "layout", "input", "Register layout of the snapshots (input or output)")
}

func parseLayout(name string) (sm2m.Layout, bool, error) {
	switch name {
	case "input", "in":
		return sm2m.InputRevB, true, nil
	case "output", "out":
		return sm2m.OutputRevB, false, nil
	default:
		return sm2m.Layout{}, false, fmt.Errorf("unknown layout %q (expected input or output)", name)
	}
}

func runRawLog(cmd *cobra.Command, args []string) error {
	layout, input, err := parseLayout(rawLogLayout)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, connInfo, err := OpenConnection(ctx, cfg.Transport)
	if err != nil {
		return err
	}
	defer conn.Close()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	fmt.Printf("SM2M Bridge - Raw Line Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	decoder := sm2m.NewTunnelDecoder()
	stats := sm2m.NewStatistics()
	buf := make([]byte, 128)

	for {
		n, err := conn.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				fmt.Printf("\nTunnel frames: %d, CRC errors: %d, framing errors: %d\n",
					stats.TunnelFrames, stats.CRCErrors, stats.FrameErrors)
				return nil
			}
			// For WebSocket connections, a read error usually means
			// the connection is permanently closed - exit gracefully
			if errors.Is(err, ErrConnectionClosed) {
				log.Printf("Connection closed")
				return nil
			}
			log.Printf("Read error: %v", err)
			continue
		}

		for i := 0; i < n; i++ {
			raw, ok, err := decoder.DecodeByte(buf[i])
			if err != nil {
				stats.UpdateTunnel(err)
				fmt.Printf("[ERROR] %v\n", err)
				continue
			}
			if !ok {
				continue
			}
			stats.UpdateTunnel(nil)

			word, ctrl := layout.Decode(raw)
			fmt.Printf("[%s] %s\n", time.Now().Format("15:04:05.000"), sm2m.FormatLines(layout, raw))
			if input {
				fmt.Printf("  transfer: %s\n", sm2m.FormatCommand(word, ctrl))
			} else {
				fmt.Printf("  reply: %s\n", sm2m.ParseReply(word, ctrl))
			}
		}
	}
}
