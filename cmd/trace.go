// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Thermoquad/sm2mbridge/pkg/sm2m"
	"github.com/spf13/cobra"
)

var (
	traceErrorsOnly bool
	traceSummary    bool
)

var traceCmd = &cobra.Command{
	Use:   "trace FILE",
	Short: "Display a recorded handshake trace",
	Long: `Print every handshake recorded by "adapter --trace" (or the trace.path
setting) with its input transfer, reply and the adapter mode afterwards.

A summary of handshake counts by event and reply, with error replies broken
down by opcode, follows the records.`,
	Args: cobra.ExactArgs(1),
	RunE: runTrace,
}

func init() {
	rootCmd.AddCommand(traceCmd)
	traceCmd.Flags().BoolVar(&traceErrorsOnly, "errors", false, "Show only handshakes answered with ERROR")
	traceCmd.Flags().BoolVar(&traceSummary, "summary", false, "Show only the summary")
}

func runTrace(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open trace: %v", err)
	}
	defer f.Close()

	stats := sm2m.NewStatistics()
	reader := sm2m.NewTraceReader(f)
	var first, last sm2m.TraceRecord

	for {
		rec, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if stats.Handshakes == 0 {
			first = rec
		}
		last = rec

		stats.Update(rec.Input(), rec.Output())
		if traceSummary || (traceErrorsOnly && rec.Reply != sm2m.ReplyError) {
			continue
		}
		fmt.Println(sm2m.FormatTraceRecord(rec))
	}

	if stats.Handshakes == 0 {
		fmt.Println("(empty trace)")
		return nil
	}

	// Rates follow the recorded span, not the time spent reading.
	stats.StartTime = first.Timestamp()
	stats.LastUpdateTime = last.Timestamp()
	fmt.Println()
	fmt.Printf("Recorded %s to %s\n",
		first.Timestamp().Format("2006-01-02 15:04:05.000"), last.Timestamp().Format("15:04:05.000"))
	fmt.Print(stats.String())
	return nil
}
