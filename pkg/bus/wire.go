// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bus

import (
	"context"
	"sync"

	"github.com/Thermoquad/sm2mbridge/pkg/sm2m"
)

// Wire is an in-memory bus joining a host and a device in one process.
//
// A rising LATCH on the host register runs the latch handler synchronously,
// the way the board raises an interrupt. A rising READY or ERROR on the
// device register is recorded as a pending reply for WaitReply, so a host
// driver never re-enters itself from inside a handshake.
type Wire struct {
	mutex   sync.Mutex
	input   sm2m.Lines // host to device
	output  sm2m.Lines // device to host
	in      sm2m.Layout
	out     sm2m.Layout
	onLatch func()
	pending bool
	latches uint64
	replies uint64
}

// NewWire creates a wire with both registers idle.
func NewWire(in, out sm2m.Layout) *Wire {
	return &Wire{
		input:  in.Idle(),
		output: out.Idle(),
		in:     in,
		out:    out,
	}
}

// OnLatch registers the device interrupt handler.
func (w *Wire) OnLatch(fn func()) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	w.onLatch = fn
}

// Host returns the host side of the wire.
func (w *Wire) Host() Lines {
	return wireHost{w}
}

// Device returns the device side of the wire.
func (w *Wire) Device() Lines {
	return wireDevice{w}
}

// WaitReply consumes a pending reply edge. The wire is synchronous, so when
// nothing is pending nothing will arrive and ErrNoReply is returned.
func (w *Wire) WaitReply(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if !w.pending {
		return ErrNoReply
	}
	w.pending = false
	return nil
}

// ClearReply drops a pending reply edge.
func (w *Wire) ClearReply() {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	w.pending = false
}

// Counts returns the number of latch and reply edges seen.
func (w *Wire) Counts() (latches, replies uint64) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.latches, w.replies
}

func (w *Wire) writeInput(l sm2m.Lines) {
	w.mutex.Lock()
	_, prev := w.in.Decode(w.input)
	_, next := w.in.Decode(l)
	w.input = l
	handler := w.onLatch
	rising := !prev.Has(sm2m.LineLatch) && next.Has(sm2m.LineLatch)
	if rising {
		w.latches++
	}
	w.mutex.Unlock()

	if rising && handler != nil {
		handler()
	}
}

func (w *Wire) writeOutput(l sm2m.Lines) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	_, prev := w.out.Decode(w.output)
	_, next := w.out.Decode(l)
	w.output = l

	strobes := sm2m.LineReady | sm2m.LineError
	if prev&strobes == 0 && next&strobes != 0 {
		w.pending = true
		w.replies++
	}
}

func (w *Wire) readInput() sm2m.Lines {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.input
}

func (w *Wire) readOutput() sm2m.Lines {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.output
}

type wireHost struct{ w *Wire }

func (h wireHost) ReadLines() sm2m.Lines   { return h.w.readOutput() }
func (h wireHost) WriteLines(l sm2m.Lines) { h.w.writeInput(l) }

type wireDevice struct{ w *Wire }

func (d wireDevice) ReadLines() sm2m.Lines   { return d.w.readInput() }
func (d wireDevice) WriteLines(l sm2m.Lines) { d.w.writeOutput(l) }
