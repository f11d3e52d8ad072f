// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Thermoquad/sm2mbridge/pkg/bus"
	"github.com/Thermoquad/sm2mbridge/pkg/emulator"
	"github.com/Thermoquad/sm2mbridge/pkg/sm2m"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

var (
	emulateRead     bool
	emulateAddress  uint16
	emulateWords    int
	emulateSessions int
	emulateDebug    bool
	emulateAutoInc  bool
	emulateTUI      bool
	emulateTimeout  int
)

var emulateCmd = &cobra.Command{
	Use:   "emulate",
	Short: "Drive an adapter as the legacy host",
	Long: `Run write or read sessions against a device over a line tunnel.

A session is RESET, CHECK_STATUS, ADDRESS, then WRITE with the data words (an
incrementing pattern) or READ with one continuation word per data word, and
finally STOP. Each step waits for the device reply.

In free-run mode (default) the next command is sent as soon as READY or ERROR
rises. With --debug the session advances one step per Enter key press. An
ERROR reply halts the session.

--tui opens the operator console instead.`,
	RunE: runEmulate,
}

func init() {
	rootCmd.AddCommand(emulateCmd)
	emulateCmd.Flags().BoolVar(&emulateRead, "read", false, "Read session (default is write)")
	emulateCmd.Flags().Uint16Var(&emulateAddress, "address", 1, "Record address (0-63)")
	emulateCmd.Flags().IntVar(&emulateWords, "words", 0, "Words per session (default from config)")
	emulateCmd.Flags().IntVar(&emulateSessions, "sessions", 1, "Number of sessions to run")
	emulateCmd.Flags().BoolVar(&emulateDebug, "debug", false, "Advance one step per Enter key press")
	emulateCmd.Flags().BoolVar(&emulateAutoInc, "auto-increment", false, "Use the next address for every session")
	emulateCmd.Flags().BoolVar(&emulateTUI, "tui", false, "Open the operator console")
	emulateCmd.Flags().IntVar(&emulateTimeout, "timeout", 5, "Reply timeout in seconds (free-run)")
}

// faultLamp prints fault lamp transitions
type faultLamp struct{}

func (faultLamp) Set(on bool) {
	if on {
		fmt.Printf("[%s] \033[1;31mFAULT\033[0m lamp on\n", time.Now().Format("15:04:05.000"))
	}
}

func runEmulate(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	flags := cmd.Flags()
	if flags.Changed("address") {
		cfg.Emulator.Address = emulateAddress
	}
	if flags.Changed("words") {
		cfg.Emulator.Words = emulateWords
	}
	if flags.Changed("auto-increment") {
		cfg.Emulator.AutoIncrement = emulateAutoInc
	}
	if flags.Changed("debug") {
		cfg.Emulator.Debug = emulateDebug
	}
	if cfg.Emulator.Address > sm2m.MaxAddress {
		return fmt.Errorf("address %d exceeds %d", cfg.Emulator.Address, sm2m.MaxAddress)
	}

	conn, connInfo, err := OpenConnection(ctx, cfg.Transport)
	if err != nil {
		return err
	}
	defer conn.Close()

	tunnel := bus.NewTunnel(conn, sm2m.OutputRevB, sm2m.LineReady|sm2m.LineError)
	host := bus.NewHostPort(tunnel, sm2m.InputRevB, sm2m.OutputRevB)

	serveErr := make(chan error, 1)
	go func() { serveErr <- tunnel.Serve(ctx) }()

	if emulateTUI {
		m := initialEmulateModel(host, tunnel, connInfo)
		p := tea.NewProgram(m, tea.WithAltScreen())
		m.console.program = p
		if _, err := p.Run(); err != nil {
			return fmt.Errorf("TUI error: %v", err)
		}
		return nil
	}

	emu := emulator.New(host, emulator.Options{
		AutoIncrement: cfg.Emulator.AutoIncrement,
		Fault:         faultLamp{},
		Debug:         cfg.Emulator.Debug,
	})

	fmt.Printf("sm2mbridge - Emulator\n")
	fmt.Printf("Connection: %s\n", connInfo)
	if cfg.Emulator.Debug {
		fmt.Printf("Debug mode: press Enter to step, Ctrl+C to exit\n\n")
	} else {
		fmt.Printf("Press Ctrl+C to exit\n\n")
	}

	var trigger <-chan struct{}
	if cfg.Emulator.Debug {
		trigger = stdinTrigger(ctx)
	}

	for i := 0; i < emulateSessions; i++ {
		if emulateRead {
			emu.StartRead(cfg.Emulator.Address, cfg.Emulator.Words)
		} else {
			emu.StartWrite(cfg.Emulator.Address, cfg.Emulator.Words)
		}
		address, _, total := emu.Progress()
		direction := "write"
		if emulateRead {
			direction = "read"
		}
		fmt.Printf("Session %d: %s %d words at address %d\n", i+1, direction, total, address)

		start := time.Now()
		if cfg.Emulator.Debug {
			err = emu.RunDebug(ctx, trigger)
		} else {
			err = runFreeRun(ctx, emu, tunnel)
		}

		select {
		case serr := <-serveErr:
			if serr != nil && !errors.Is(serr, context.Canceled) {
				return fmt.Errorf("tunnel: %w", serr)
			}
		default:
		}

		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("session %d: %w", i+1, err)
		}

		elapsed := time.Since(start)
		fmt.Printf("  done in %s (%.0f words/s)\n", elapsed.Round(time.Millisecond), float64(total)/elapsed.Seconds())
		if emulateRead {
			printWords(emu.Received())
		}
	}

	ts := tunnel.Statistics()
	fmt.Printf("\nTunnel: %d frames, %d CRC errors, %d frame errors\n", ts.TunnelFrames, ts.CRCErrors, ts.FrameErrors)
	return nil
}

// runFreeRun runs the session with a per-reply timeout
func runFreeRun(ctx context.Context, emu *emulator.Emulator, waiter bus.ReplyWaiter) error {
	return emu.RunFreeRun(ctx, timeoutWaiter{waiter, time.Duration(emulateTimeout) * time.Second})
}

// timeoutWaiter bounds every WaitReply
type timeoutWaiter struct {
	waiter  bus.ReplyWaiter
	timeout time.Duration
}

func (t timeoutWaiter) WaitReply(ctx context.Context) error {
	if t.timeout <= 0 {
		return t.waiter.WaitReply(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.waiter.WaitReply(ctx)
}

// stdinTrigger fires once per line read from stdin
func stdinTrigger(ctx context.Context) <-chan struct{} {
	trigger := make(chan struct{})
	go func() {
		defer close(trigger)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case trigger <- struct{}{}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return trigger
}

// printWords hex dumps received words, eight per line
func printWords(words []uint16) {
	for i, w := range words {
		if i%8 == 0 {
			if i > 0 {
				fmt.Println()
			}
			fmt.Printf("  %04d:", i)
		}
		fmt.Printf(" %04X", w)
	}
	if len(words) > 0 {
		fmt.Println()
	}
}
