// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sm2m

import "strings"

// Lines is a raw snapshot of the connector register. Bit value 1 is an
// electrical high level.
type Lines uint32

// Control is a set of logical (asserted) control lines.
type Control uint8

// Control lines
const (
	LineReset Control = 1 << iota
	LineLatch
	LineEnd
	LineSet
	LineReady
	LineError
)

var controlNames = []struct {
	line Control
	name string
}{
	{LineReset, "RESET"},
	{LineLatch, "LATCH"},
	{LineEnd, "END"},
	{LineSet, "SET"},
	{LineReady, "READY"},
	{LineError, "ERROR"},
}

// Has reports whether every line in l is asserted in c.
func (c Control) Has(l Control) bool {
	return c&l == l
}

// String returns the asserted lines joined by '|', or "-" when idle.
func (c Control) String() string {
	if c == 0 {
		return "-"
	}
	parts := make([]string, 0, len(controlNames))
	for _, n := range controlNames {
		if c.Has(n.line) {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// Layout is the bit-position mapping of one board revision and direction.
// Data[i] is the register bit carrying data bit i. Lines that the direction
// does not carry are set to NoBit.
type Layout struct {
	Name  string
	Data  [16]uint8
	Reset uint8
	Latch uint8
	End   uint8
	Set   uint8
	Ready uint8
	Error uint8
}

func identityData() [16]uint8 {
	var d [16]uint8
	for i := range d {
		d[i] = uint8(i)
	}
	return d
}

// InputRevB is the host-to-device direction of the rev B connector board:
// DI_0..DI_15 at bits 0..15, CTRLI_0 (SET) 16, RSTI 18, DTSI (LATCH) 19,
// DTEI (END) 21.
var InputRevB = Layout{
	Name:  "input-revb",
	Data:  identityData(),
	Reset: 18,
	Latch: 19,
	End:   21,
	Set:   16,
	Ready: NoBit,
	Error: NoBit,
}

// OutputRevB is the device-to-host direction of the rev B connector board:
// DO_0..DO_15 at bits 0..15, RDY 18, ERRO 20, RSTE 21, SETE 22, DTEO 23.
var OutputRevB = Layout{
	Name:  "output-revb",
	Data:  identityData(),
	Reset: 21,
	Latch: NoBit,
	End:   23,
	Set:   22,
	Ready: 18,
	Error: 20,
}

func (l *Layout) controlBits() [6]struct {
	line Control
	bit  uint8
} {
	return [6]struct {
		line Control
		bit  uint8
	}{
		{LineReset, l.Reset},
		{LineLatch, l.Latch},
		{LineEnd, l.End},
		{LineSet, l.Set},
		{LineReady, l.Ready},
		{LineError, l.Error},
	}
}

// Decode converts a raw register snapshot into the logical word and the set of
// asserted control lines. Any bit pattern is accepted.
func (l Layout) Decode(raw Lines) (uint16, Control) {
	levels := ^uint32(raw) // asserted = low

	var word uint16
	for i, pos := range l.Data {
		if pos < 32 && levels>>pos&1 == 1 {
			word |= 1 << i
		}
	}

	var ctrl Control
	for _, cb := range l.controlBits() {
		if cb.bit < 32 && levels>>cb.bit&1 == 1 {
			ctrl |= cb.line
		}
	}

	return word, ctrl
}

// Encode converts a logical word and control set into register levels.
// Lines the layout does not carry are dropped; unused bits idle high.
func (l Layout) Encode(word uint16, ctrl Control) Lines {
	var levels uint32
	for i, pos := range l.Data {
		if pos < 32 && word>>i&1 == 1 {
			levels |= 1 << pos
		}
	}

	for _, cb := range l.controlBits() {
		if cb.bit < 32 && ctrl.Has(cb.line) {
			levels |= 1 << cb.bit
		}
	}

	return Lines(^levels)
}

// Idle returns the register levels with nothing asserted.
func (l Layout) Idle() Lines {
	return l.Encode(0, 0)
}
