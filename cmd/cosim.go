// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/Thermoquad/sm2mbridge/pkg/bus"
	"github.com/Thermoquad/sm2mbridge/pkg/emulator"
	"github.com/Thermoquad/sm2mbridge/pkg/sm2m"
	"github.com/Thermoquad/sm2mbridge/pkg/storage"
	"github.com/spf13/cobra"
)

var (
	cosimWords   int
	cosimAddress uint16
	cosimDir     string
	cosimSeed    int64
	cosimRandom  bool
)

var cosimCmd = &cobra.Command{
	Use:   "cosim",
	Short: "Run the emulator against the adapter in process",
	Long: `Join the host emulator and the device adapter on an in-memory bus, write a
record, read it back and compare.

Records go to an in-memory card unless --dir names a directory. The adapter
settings (buffer size, digit order, backup) come from the configuration.

Exit status is non-zero when the read back differs from what was written or
the adapter reported an error.`,
	RunE: runCosim,
}

func init() {
	rootCmd.AddCommand(cosimCmd)
	cosimCmd.Flags().IntVar(&cosimWords, "words", 4096, "Words to write and read back")
	cosimCmd.Flags().Uint16Var(&cosimAddress, "address", 1, "Record address (0-63)")
	cosimCmd.Flags().StringVar(&cosimDir, "dir", "", "Store records in this directory instead of memory")
	cosimCmd.Flags().BoolVar(&cosimRandom, "random", false, "Random data instead of an incrementing pattern")
	cosimCmd.Flags().Int64Var(&cosimSeed, "seed", 0, "Seed for --random (0 uses the clock)")
}

func runCosim(cmd *cobra.Command, args []string) error {
	if cosimAddress > sm2m.MaxAddress {
		return fmt.Errorf("address %d exceeds %d", cosimAddress, sm2m.MaxAddress)
	}

	var backing storage.Backing = storage.NewMemoryBacking()
	if cosimDir != "" {
		backing = storage.NewDirBacking(cosimDir)
	}
	a, _, err := newAdapter(cfg, backing)
	if err != nil {
		return err
	}
	trace, err := openTrace(a, cfg.Trace.Path)
	if err != nil {
		return err
	}
	defer trace.Close()

	wire := bus.NewWire(sm2m.InputRevB, sm2m.OutputRevB)
	dev := bus.NewTransport(wire.Device(), sm2m.InputRevB, sm2m.OutputRevB)
	wire.OnLatch(func() { a.Service(dev) })
	host := bus.NewHostPort(wire.Host(), sm2m.InputRevB, sm2m.OutputRevB)

	pattern := emulator.Incrementing
	if cosimRandom {
		seed := cosimSeed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		fmt.Printf("Seed: %d\n", seed)
		rng := rand.New(rand.NewSource(seed))
		data := make([]uint16, cosimWords)
		for i := range data {
			data[i] = uint16(rng.Intn(0x10000))
		}
		pattern = func(i int) uint16 { return data[i] }
	}

	emu := emulator.New(host, emulator.Options{Pattern: pattern, Debug: cfg.Emulator.Debug})
	ctx := context.Background()

	fmt.Printf("sm2mbridge - Co-simulation\n")
	fmt.Printf("Record: address %d, %d words, buffer %d bytes\n\n", cosimAddress, cosimWords, cfg.Adapter.BufferSize)

	start := time.Now()
	emu.StartWrite(cosimAddress, cosimWords)
	if err := emu.RunFreeRun(ctx, wire); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	fmt.Printf("Write: %s\n", time.Since(start).Round(time.Microsecond))

	start = time.Now()
	emu.StartRead(cosimAddress, cosimWords)
	if err := emu.RunFreeRun(ctx, wire); err != nil {
		return fmt.Errorf("read session: %w", err)
	}
	fmt.Printf("Read:  %s\n\n", time.Since(start).Round(time.Microsecond))

	received := emu.Received()
	if len(received) != cosimWords {
		return fmt.Errorf("read back %d words, wrote %d", len(received), cosimWords)
	}
	mismatches := 0
	for i, got := range received {
		if want := pattern(i); got != want {
			if mismatches < 10 {
				fmt.Printf("  word %d: got 0x%04X, want 0x%04X\n", i, got, want)
			}
			mismatches++
		}
	}

	latches, replies := wire.Counts()
	snap := a.Snapshot()
	fmt.Print(a.Statistics())
	fmt.Printf("Latches: %d, replies: %d, flushes: %d\n", latches, replies, snap.Flushes)

	switch {
	case mismatches > 0:
		return fmt.Errorf("%d of %d words differ", mismatches, cosimWords)
	case latches != replies:
		return fmt.Errorf("%d latches but %d replies", latches, replies)
	case snap.Errors > 0:
		return fmt.Errorf("adapter reported %d errors", snap.Errors)
	}
	fmt.Println("PASS")
	return nil
}
