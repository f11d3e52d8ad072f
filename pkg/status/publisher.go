// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package status

import (
	"context"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/Thermoquad/sm2mbridge/pkg/logging"
)

// DefaultInterval is the publish period when none is configured.
const DefaultInterval = time.Second

// Publisher periodically mirrors a snapshot source into a register block.
//
// The block is written whole. A tick whose snapshot matches the last
// delivered one writes nothing; a failed write forces the next tick to
// deliver again.
type Publisher struct {
	source   func() Snapshot
	writer   RegisterWriter
	unitID   uint8
	register uint16
	interval time.Duration
	now      func() time.Time

	delivered  bool
	last       []uint16
	errorSince time.Time
}

// NewPublisher creates a publisher writing to unitID starting at register.
func NewPublisher(source func() Snapshot, w RegisterWriter, unitID uint8, register uint16, interval time.Duration) *Publisher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Publisher{
		source:   source,
		writer:   w,
		unitID:   unitID,
		register: register,
		interval: interval,
		now:      time.Now,
	}
}

// Publish takes one snapshot and writes it if it changed.
func (p *Publisher) Publish() error {
	s := p.source()
	s.SecondsInError = p.secondsInError(s.Health)
	regs := Encode(s)

	if p.delivered && slices.Equal(regs, p.last) {
		return nil
	}

	if err := p.writer.WriteRegisters(p.unitID, p.register, regs); err != nil {
		p.delivered = false
		return fmt.Errorf("status writer: block write failed: %w", err)
	}

	p.delivered = true
	p.last = regs
	logging.LogDebug(logging.ComponentStatus, "status published",
		"health", s.Health, "mode", s.Mode.String(), "handshakes", s.Handshakes)
	return nil
}

// Run publishes every interval until ctx is cancelled. Write failures are
// logged and retried on the next tick.
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if err := p.Publish(); err != nil {
			logging.LogWarn(logging.ComponentStatus, "status publish failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// secondsInError counts how long health has been bad, saturating at the
// register width.
func (p *Publisher) secondsInError(health uint16) uint16 {
	if health == HealthOK || health == HealthUnknown {
		p.errorSince = time.Time{}
		return 0
	}
	now := p.now()
	if p.errorSince.IsZero() {
		p.errorSince = now
	}
	secs := now.Sub(p.errorSince) / time.Second
	if secs > math.MaxUint16 {
		return math.MaxUint16
	}
	return uint16(secs)
}
