// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Thermoquad/sm2mbridge/pkg/adapter"
	"github.com/Thermoquad/sm2mbridge/pkg/bus"
	"github.com/Thermoquad/sm2mbridge/pkg/logging"
	"github.com/Thermoquad/sm2mbridge/pkg/sm2m"
	"github.com/Thermoquad/sm2mbridge/pkg/status"
	"github.com/Thermoquad/sm2mbridge/pkg/storage"
	"github.com/spf13/cobra"
)

var (
	adapterRoot   string
	adapterTrace  string
	adapterBackup bool
	statsInterval int
)

var adapterCmd = &cobra.Command{
	Use:   "adapter",
	Short: "Run the device adapter on a line tunnel",
	Long: `Answer SM2M bus transfers arriving over a line tunnel and store records in
a directory standing in for the SD card.

Every rising LATCH from the host is handled on the tunnel reader goroutine:
one input transfer is decoded, the session state machine runs, and exactly
one reply is driven back.

The directory is polled for presence; while it is missing the adapter
reports SDMMC_DETACHED to CHECK_STATUS. When a status section is configured
the adapter state is mirrored to a Modbus TCP register block.

Supports serial, WebSocket client and WebSocket listen connections.`,
	RunE: runAdapter,
}

func init() {
	rootCmd.AddCommand(adapterCmd)
	adapterCmd.Flags().StringVar(&adapterRoot, "root", "", "Directory standing in for the SD card (overrides storage.root)")
	adapterCmd.Flags().StringVar(&adapterTrace, "trace", "", "Record every handshake to a CBOR trace file")
	adapterCmd.Flags().BoolVar(&adapterBackup, "backup", false, "Copy records to <name>.bak before replacing them")
	adapterCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds, 0 disables)")
}

func runAdapter(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cmd.Flags().Changed("root") {
		cfg.Storage.Root = adapterRoot
	}
	if cmd.Flags().Changed("trace") {
		cfg.Trace.Path = adapterTrace
	}
	if cmd.Flags().Changed("backup") {
		cfg.Adapter.WithBackup = adapterBackup
	}

	backing := storage.NewDirBacking(cfg.Storage.Root)
	a, panel, err := newAdapter(cfg, backing)
	if err != nil {
		return err
	}
	trace, err := openTrace(a, cfg.Trace.Path)
	if err != nil {
		return err
	}
	defer trace.Close()

	var mirror *status.ModbusWriter
	if s := cfg.Status; s != nil {
		mirror, err = status.NewModbusWriter(s.Endpoint, s.Timeout())
		if err != nil {
			return fmt.Errorf("status mirror: %w", err)
		}
		defer mirror.Close()
	}

	conn, connInfo, err := OpenConnection(ctx, cfg.Transport)
	if err != nil {
		return err
	}
	defer conn.Close()

	tunnel := bus.NewTunnel(conn, sm2m.InputRevB, sm2m.LineLatch)
	dev := bus.NewTransport(tunnel, sm2m.InputRevB, sm2m.OutputRevB)
	tunnel.OnEdge(func() { a.Service(dev) })

	fmt.Printf("sm2mbridge - Adapter\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Storage: %s (buffer %d bytes, digits %s, backup %t)\n",
		backing.Root(), cfg.Adapter.BufferSize, cfg.Adapter.DigitOrder, cfg.Adapter.WithBackup)
	if cfg.Trace.Path != "" {
		fmt.Printf("Trace: %s\n", cfg.Trace.Path)
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	var wg sync.WaitGroup
	run := func(fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}

	poller := storage.NewPoller(backing, cfg.Storage.PollInterval(), func(attached bool) {
		if attached {
			fmt.Printf("[%s] medium attached\n", time.Now().Format("15:04:05.000"))
		} else {
			fmt.Printf("[%s] medium DETACHED\n", time.Now().Format("15:04:05.000"))
		}
	})
	poller.Poll()
	run(poller.Run)

	if s := cfg.Status; s != nil {
		pub := status.NewPublisher(statusSource(a, poller), mirror, s.UnitID, s.Register, s.Interval())
		run(pub.Run)
		fmt.Printf("Status: %s unit %d register %d\n\n", s.Endpoint, s.UnitID, s.Register)
	}

	if statsInterval > 0 {
		run(func(ctx context.Context) error {
			ticker := time.NewTicker(time.Duration(statsInterval) * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
					snap := a.Snapshot()
					fmt.Printf("mode=%s %s flushes=%d\n", snap.Mode, formatPanel(panel.State()), snap.Flushes)
					fmt.Print(a.Statistics())
				}
			}
		})
	}

	err = tunnel.Serve(ctx)
	stop()
	wg.Wait()

	fmt.Println()
	fmt.Print(a.Statistics())
	ts := tunnel.Statistics()
	fmt.Printf("Tunnel: %d frames, %d CRC errors, %d frame errors\n", ts.TunnelFrames, ts.CRCErrors, ts.FrameErrors)

	if err != nil && !errors.Is(err, context.Canceled) {
		logging.LogError(logging.ComponentTunnel, "tunnel stopped", "error", err)
		return err
	}
	return nil
}

// statusSource reports the adapter state with medium presence taken from the
// poller's last result.
func statusSource(a *adapter.Adapter, poller *storage.Poller) func() status.Snapshot {
	return func() status.Snapshot {
		snap := a.Snapshot()
		snap.Attached = poller.Attached()
		return status.FromAdapter(snap)
	}
}
