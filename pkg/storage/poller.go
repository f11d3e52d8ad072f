// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package storage

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/Thermoquad/sm2mbridge/pkg/logging"
)

// DefaultPollInterval is the attachment polling period.
const DefaultPollInterval = 250 * time.Millisecond

// Detector reports medium presence.
type Detector interface {
	IsAttached() bool
}

// Poller watches medium presence and reports transitions.
type Poller struct {
	detector Detector
	interval time.Duration
	onChange func(attached bool)
	attached atomic.Bool
	started  atomic.Bool
}

// NewPoller creates a poller. onChange may be nil; it is called on every
// transition and once for the initial state.
func NewPoller(d Detector, interval time.Duration, onChange func(attached bool)) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{detector: d, interval: interval, onChange: onChange}
}

// Attached returns the last polled state.
func (p *Poller) Attached() bool {
	return p.attached.Load()
}

// Poll checks presence once and returns the current state.
func (p *Poller) Poll() bool {
	now := p.detector.IsAttached()
	prev := p.attached.Swap(now)
	first := !p.started.Swap(true)

	if first || prev != now {
		if now {
			logging.LogInfo(logging.ComponentStorage, "medium attached")
		} else {
			logging.LogWarn(logging.ComponentStorage, "medium detached")
		}
		if p.onChange != nil {
			p.onChange(now)
		}
	}
	return now
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	p.Poll()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.Poll()
		}
	}
}
