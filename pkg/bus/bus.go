// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package bus moves SM2M transfers over a pair of line registers.
//
// A Lines value gives one side of the connector: ReadLines returns the
// register driven by the far side and WriteLines drives the near side. The
// device uses a Transport, the host emulator a HostPort.
package bus

import (
	"context"
	"errors"

	"github.com/Thermoquad/sm2mbridge/pkg/sm2m"
)

// Lines is the raw register access of one side of the bus.
type Lines interface {
	ReadLines() sm2m.Lines
	WriteLines(sm2m.Lines)
}

// ReplyWaiter blocks until the device raises READY or ERROR.
type ReplyWaiter interface {
	WaitReply(ctx context.Context) error
}

// ErrNoReply is returned by a synchronous bus when no reply edge is pending.
var ErrNoReply = errors.New("no reply pending")

// Transport is the device end of the bus.
type Transport struct {
	pins Lines
	in   sm2m.Layout
	out  sm2m.Layout
}

// NewTransport wraps pins and drives the idle state, which the host reads
// as an acknowledgment.
func NewTransport(pins Lines, in, out sm2m.Layout) *Transport {
	t := &Transport{pins: pins, in: in, out: out}
	pins.WriteLines(out.Idle())
	return t
}

// Receive decodes the latched input register into one event.
func (t *Transport) Receive() sm2m.InputEvent {
	word, ctrl := t.in.Decode(t.pins.ReadLines())
	return sm2m.Classify(word, ctrl)
}

// Send drives the payload with the strobes released, then raises READY or
// ERROR with the payload unchanged.
func (t *Transport) Send(f sm2m.OutputFrame) {
	word, strobe := f.Lines()
	t.pins.WriteLines(t.out.Encode(word, 0))
	t.pins.WriteLines(t.out.Encode(word, strobe))
}

// HostPort is the host end of the bus.
type HostPort struct {
	pins Lines
	in   sm2m.Layout
	out  sm2m.Layout
}

// NewHostPort wraps pins and releases every host line.
func NewHostPort(pins Lines, in, out sm2m.Layout) *HostPort {
	h := &HostPort{pins: pins, in: in, out: out}
	pins.WriteLines(in.Idle())
	return h
}

// replyClearer is implemented by pins that remember reply edges for a
// ReplyWaiter. Edges seen before a new command belong to the previous one.
type replyClearer interface {
	ClearReply()
}

// Command drives word and ctrl with LATCH released, then raises LATCH. Any
// reply edge still pending on the pins is discarded first.
func (h *HostPort) Command(word uint16, ctrl sm2m.Control) {
	if c, ok := h.pins.(replyClearer); ok {
		c.ClearReply()
	}
	ctrl &^= sm2m.LineLatch
	h.pins.WriteLines(h.in.Encode(word, ctrl))
	h.pins.WriteLines(h.in.Encode(word, ctrl|sm2m.LineLatch))
}

// Word latches a data or command word.
func (h *HostPort) Word(word uint16) {
	h.Command(word, 0)
}

// Reset latches a transfer with RESET asserted.
func (h *HostPort) Reset() {
	h.Command(0, sm2m.LineReset)
}

// Stop latches a transfer with END asserted.
func (h *HostPort) Stop() {
	h.Command(0, sm2m.LineEnd)
}

// Reply decodes the device output register.
func (h *HostPort) Reply() sm2m.Reply {
	return sm2m.ParseReply(h.out.Decode(h.pins.ReadLines()))
}
