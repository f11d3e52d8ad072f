// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/Thermoquad/sm2mbridge/pkg/logging"
	"github.com/Thermoquad/sm2mbridge/pkg/sm2m"
)

// Tunnel carries register snapshots over a byte stream such as a serial
// port or a WebSocket. Each WriteLines sends one framed snapshot. Serve
// decodes snapshots from the far side and fires on rising edges of the
// watched lines.
type Tunnel struct {
	rw     io.ReadWriter
	remote sm2m.Layout
	watch  sm2m.Control

	mutex   sync.Mutex
	lines   sm2m.Lines
	onEdge  func()
	stats   *sm2m.Statistics
	writeMu sync.Mutex

	edges chan struct{}
}

// NewTunnel creates a tunnel. remote is the layout of the snapshots the far
// side sends and watch the lines whose assertion counts as an edge.
func NewTunnel(rw io.ReadWriter, remote sm2m.Layout, watch sm2m.Control) *Tunnel {
	return &Tunnel{
		rw:     rw,
		remote: remote,
		watch:  watch,
		lines:  remote.Idle(),
		stats:  sm2m.NewStatistics(),
		edges:  make(chan struct{}, 1),
	}
}

// OnEdge registers a handler run on the Serve goroutine for every edge.
func (t *Tunnel) OnEdge(fn func()) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.onEdge = fn
}

// ReadLines returns the last snapshot received.
func (t *Tunnel) ReadLines() sm2m.Lines {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.lines
}

// WriteLines sends one snapshot.
func (t *Tunnel) WriteLines(l sm2m.Lines) {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := t.rw.Write(sm2m.EncodeLines(l)); err != nil {
		logging.LogError(logging.ComponentTunnel, "write failed", "error", err)
	}
}

// WaitReply blocks until an edge arrives or ctx is done.
func (t *Tunnel) WaitReply(ctx context.Context) error {
	select {
	case <-t.edges:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ClearReply drops an edge that no WaitReply has consumed.
func (t *Tunnel) ClearReply() {
	select {
	case <-t.edges:
	default:
	}
}

// Statistics returns a copy of the frame counters.
func (t *Tunnel) Statistics() sm2m.Statistics {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	s := *t.stats
	s.ByOpcode = nil
	return s
}

// Serve reads snapshots until ctx is cancelled or the stream fails. When
// the stream is an io.Closer it is closed on cancellation to unblock the
// read.
func (t *Tunnel) Serve(ctx context.Context) error {
	if c, ok := t.rw.(io.Closer); ok {
		stop := context.AfterFunc(ctx, func() { c.Close() })
		defer stop()
	}

	dec := sm2m.NewTunnelDecoder()
	buf := make([]byte, 256)
	for {
		n, err := t.rw.Read(buf)
		for _, b := range buf[:n] {
			l, ok, derr := dec.DecodeByte(b)
			if derr != nil {
				t.count(derr)
				logging.LogWarn(logging.ComponentTunnel, "bad frame", "error", derr)
				continue
			}
			if ok {
				t.receive(l)
				t.count(nil)
			}
		}

		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("tunnel read: %w", err)
		}
	}
}

func (t *Tunnel) count(err error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.stats.UpdateTunnel(err)
}

func (t *Tunnel) receive(l sm2m.Lines) {
	t.mutex.Lock()
	_, prev := t.remote.Decode(t.lines)
	_, next := t.remote.Decode(l)
	t.lines = l
	handler := t.onEdge
	t.mutex.Unlock()

	if prev&t.watch != 0 || next&t.watch == 0 {
		return
	}

	select {
	case t.edges <- struct{}{}:
	default:
	}
	if handler != nil {
		handler()
	}
}
