// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sm2m

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// Statistics tracks handshake counts and rates
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	Handshakes uint64
	Resets     uint64
	Stops      uint64
	Words      uint64
	Acks       uint64
	DataWords  uint64
	Errors     uint64
	ByOpcode   map[Opcode]uint64

	// Tunnel decoding
	TunnelFrames uint64
	CRCErrors    uint64
	FrameErrors  uint64

	// Rates (calculated)
	HandshakeRate float64 // handshakes/sec
	ErrorRate     float64 // error replies/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
		ByOpcode:       make(map[Opcode]uint64),
	}
}

// Update counts one handshake
func (s *Statistics) Update(in InputEvent, out OutputFrame) {
	s.Handshakes++

	switch in.Kind {
	case EventReset:
		s.Resets++
	case EventStop:
		s.Stops++
	default:
		s.Words++
	}

	switch out.Kind {
	case ReplyError:
		s.Errors++
		s.ByOpcode[out.Opcode()]++
	case ReplyData:
		s.DataWords++
	default:
		s.Acks++
	}

	s.LastUpdateTime = time.Now()
}

// UpdateTunnel counts one tunnel decode result. A nil error is a good frame.
func (s *Statistics) UpdateTunnel(err error) {
	switch {
	case err == nil:
		s.TunnelFrames++
	case errors.Is(err, ErrTunnelCRC):
		s.CRCErrors++
	default:
		s.FrameErrors++
	}
}

// CalculateRates calculates handshake and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.HandshakeRate = float64(s.Handshakes) / elapsed
		s.ErrorRate = float64(s.Errors) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	var errorPercent float64
	if s.Handshakes > 0 {
		errorPercent = float64(s.Errors) * 100.0 / float64(s.Handshakes)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Handshakes:      %8d\n", s.Handshakes)
	result += fmt.Sprintf("  Resets:        %8d\n", s.Resets)
	result += fmt.Sprintf("  Stops:         %8d\n", s.Stops)
	result += fmt.Sprintf("  Words:         %8d\n", s.Words)
	result += fmt.Sprintf("Acks:            %8d\n", s.Acks)
	result += fmt.Sprintf("Data Replies:    %8d\n", s.DataWords)
	result += fmt.Sprintf("Error Replies:   %8d (%.1f%%)\n", s.Errors, errorPercent)

	if len(s.ByOpcode) > 0 {
		ops := make([]Opcode, 0, len(s.ByOpcode))
		for op := range s.ByOpcode {
			ops = append(ops, op)
		}
		sort.Slice(ops, func(i, j int) bool { return ops[i] < ops[j] })
		for _, op := range ops {
			result += fmt.Sprintf("  %2d %-26s %5d\n", uint16(op), op, s.ByOpcode[op])
		}
	}

	if s.TunnelFrames > 0 || s.CRCErrors > 0 || s.FrameErrors > 0 {
		result += fmt.Sprintf("Tunnel Frames:   %8d\n", s.TunnelFrames)
		if s.CRCErrors > 0 {
			result += fmt.Sprintf("CRC Errors:      %8d\n", s.CRCErrors)
		}
		if s.FrameErrors > 0 {
			result += fmt.Sprintf("Frame Errors:    %8d\n", s.FrameErrors)
		}
	}

	result += fmt.Sprintf("Handshake Rate:  %8.1f /sec\n", s.HandshakeRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}
