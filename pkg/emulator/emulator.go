// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package emulator drives the host side of the SM2M bus: it stands in for
// the legacy machine and runs complete write or read sessions against a
// device.
//
// The emulator is a step machine. Every Step looks at the reply to the
// previous command and then latches the next one, so a session can be walked
// by hand (one Step per operator trigger) or run free (one Step per reply
// edge).
package emulator

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Thermoquad/sm2mbridge/pkg/logging"
	"github.com/Thermoquad/sm2mbridge/pkg/sm2m"
)

// State is the session position of the emulator.
type State uint8

// Session states
const (
	StateReady State = iota
	StateResetSent
	StateCheckStatusSent
	StateAddressSent
	StateReadSent
	StateWriteSent
	StateStopSent
	StateDone
	StateHalted
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "READY"
	case StateResetSent:
		return "RESET_SENT"
	case StateCheckStatusSent:
		return "CHECK_STATUS_SENT"
	case StateAddressSent:
		return "ADDRESS_SENT"
	case StateReadSent:
		return "READ_SENT"
	case StateWriteSent:
		return "WRITE_SENT"
	case StateStopSent:
		return "STOP_SENT"
	case StateDone:
		return "DONE"
	case StateHalted:
		return "HALTED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(s))
	}
}

// Direction selects what a session does after addressing.
type Direction uint8

// Session directions
const (
	DirWrite Direction = iota
	DirRead
)

func (d Direction) String() string {
	if d == DirRead {
		return "read"
	}
	return "write"
}

// ErrHalted is returned by the drivers when the device reported an error.
var ErrHalted = errors.New("session halted by device error")

// Port is the host end of the bus. *bus.HostPort implements it.
type Port interface {
	Word(word uint16)
	Reset()
	Stop()
	Reply() sm2m.Reply
}

// Lamp is the fault indicator.
type Lamp interface {
	Set(on bool)
}

// Pattern yields the i-th data word of a write session.
type Pattern func(i int) uint16

// Incrementing is the default write pattern: 0, 1, 2, ...
func Incrementing(i int) uint16 {
	return uint16(i)
}

// Options configures an Emulator.
type Options struct {
	// Pattern generates write data. Nil selects Incrementing.
	Pattern Pattern
	// AutoIncrement moves every session after the first to the address
	// following the previous one.
	AutoIncrement bool
	// Fault is lit while a session is halted. Nil disables it.
	Fault Lamp
	// Debug logs every step at info level.
	Debug bool
}

// Emulator is the host session state machine. It is safe for concurrent use
// by a driver goroutine and an operator console.
type Emulator struct {
	mutex sync.Mutex
	port  Port
	opts  Options

	state     State
	dir       Direction
	address   uint16
	words     int
	sent      int
	sessions  int
	received  []uint16
	faulted   bool
	lastError sm2m.Opcode
	debug     bool
}

// New creates an idle emulator on port.
func New(port Port, opts Options) *Emulator {
	if opts.Pattern == nil {
		opts.Pattern = Incrementing
	}
	return &Emulator{
		port:  port,
		opts:  opts,
		state: StateReady,
		debug: opts.Debug,
	}
}

// StartWrite begins a session writing words pattern words to address and
// latches the opening RESET.
func (e *Emulator) StartWrite(address uint16, words int) {
	e.start(DirWrite, address, words)
}

// StartRead begins a session reading words words from address and latches
// the opening RESET.
func (e *Emulator) StartRead(address uint16, words int) {
	e.start(DirRead, address, words)
}

func (e *Emulator) start(dir Direction, address uint16, words int) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	switch {
	case e.opts.AutoIncrement && e.sessions > 0:
		address = e.address + 1
		if address > sm2m.MaxAddress {
			address = 0
		}
	case address > sm2m.MaxAddress:
		logging.LogWarn(logging.ComponentEmulator, "address out of range, clamped",
			"address", address, "max", sm2m.MaxAddress)
		address = sm2m.MaxAddress
	}
	if words < 0 {
		words = 0
	}

	e.dir = dir
	e.address = address
	e.words = words
	e.sent = 0
	e.sessions++
	e.received = e.received[:0]
	e.lastError = 0
	e.setFault(false)
	e.state = StateReady

	e.logf("start %s session: address=%d words=%d", dir, address, words)
	e.step()
}

// Step interprets the reply to the last command and latches the next one.
// It returns the state after the step.
func (e *Emulator) Step() State {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.step()
	return e.state
}

// Reset abandons the session: RESET is latched, the fault lamp goes out and
// the emulator returns to Ready.
func (e *Emulator) Reset() {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.logf("send RESET (manual)")
	e.port.Reset()
	e.setFault(false)
	e.lastError = 0
	e.state = StateReady
}

// Stop ends the session early by latching STOP.
func (e *Emulator) Stop() {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.logf("send STOP (manual)")
	e.port.Stop()
	e.state = StateStopSent
}

// SetDebug switches step logging between debug and info level.
func (e *Emulator) SetDebug(on bool) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.debug = on
}

// Debug reports whether step logging is at info level.
func (e *Emulator) Debug() bool {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.debug
}

// State returns the current session state.
func (e *Emulator) State() State {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.state
}

// Finished reports whether the session is done or halted.
func (e *Emulator) Finished() bool {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.finished()
}

func (e *Emulator) finished() bool {
	return e.state == StateDone || e.state == StateHalted
}

// Err returns ErrHalted wrapped with the device opcode when the last session
// halted, nil otherwise.
func (e *Emulator) Err() error {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.err()
}

func (e *Emulator) err() error {
	if e.state != StateHalted {
		return nil
	}
	return fmt.Errorf("%w: %d %s", ErrHalted, uint16(e.lastError), e.lastError)
}

// Received returns a copy of the words collected by the current read
// session.
func (e *Emulator) Received() []uint16 {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	out := make([]uint16, len(e.received))
	copy(out, e.received)
	return out
}

// Progress returns the session address and how many of its words have been
// transferred.
func (e *Emulator) Progress() (address uint16, done, total int) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.address, e.sent, e.words
}

// Faulted reports whether the fault lamp is lit.
func (e *Emulator) Faulted() bool {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.faulted
}

func (e *Emulator) step() {
	switch e.state {
	case StateReady:
		e.logf("send RESET")
		e.state = StateResetSent
		e.port.Reset()

	case StateResetSent:
		if !e.accept() {
			return
		}
		e.logf("received READY, send CHECK_STATUS")
		e.state = StateCheckStatusSent
		e.port.Word(sm2m.WordCheckStatus)

	case StateCheckStatusSent:
		if !e.accept() {
			return
		}
		e.logf("received READY, send ADDRESS %d", e.address)
		e.state = StateAddressSent
		e.port.Word(sm2m.AddressWord(e.address))

	case StateAddressSent:
		if !e.accept() {
			return
		}
		if e.dir == DirRead {
			e.logf("received READY, send READ")
			e.state = StateReadSent
			e.port.Word(sm2m.WordRead)
		} else {
			e.logf("received READY, send WRITE")
			e.state = StateWriteSent
			e.port.Word(sm2m.WordWrite)
		}

	case StateWriteSent:
		if !e.accept() {
			return
		}
		if e.sent >= e.words {
			e.logf("received READY, send STOP")
			e.state = StateStopSent
			e.port.Stop()
			return
		}
		data := e.opts.Pattern(e.sent)
		e.sent++
		e.logf("received READY, send data %d/%d: 0x%04X", e.sent, e.words, data)
		e.port.Word(data)

	case StateReadSent:
		reply, ok := e.reply()
		if !ok {
			return
		}
		if e.sent > 0 {
			e.received = append(e.received, reply.Payload)
		}
		if e.sent >= e.words {
			e.logf("received READY(0x%04X), send STOP", reply.Payload)
			e.state = StateStopSent
			e.port.Stop()
			return
		}
		e.sent++
		e.logf("received READY(0x%04X), send READ %d/%d", reply.Payload, e.sent, e.words)
		e.port.Word(sm2m.WordRead)

	case StateStopSent:
		if !e.accept() {
			return
		}
		e.logf("session completed")
		e.state = StateDone

	case StateDone, StateHalted:
		// Nothing to send until the next start.
	}
}

func (e *Emulator) accept() bool {
	_, ok := e.reply()
	return ok
}

// reply reads the device output. An error reply halts the session; a bus
// with neither strobe raised leaves the state unchanged.
func (e *Emulator) reply() (sm2m.Reply, bool) {
	r := e.port.Reply()
	switch {
	case r.IsError():
		e.lastError = r.Opcode()
		e.state = StateHalted
		e.setFault(true)
		logging.LogWarn(logging.ComponentEmulator, "device reported error",
			"opcode", uint16(r.Opcode()), "name", r.Opcode().String(), "address", e.address)
		return r, false
	case r.IsReady():
		return r, true
	default:
		e.logf("no reply on the bus, state %s unchanged", e.state)
		return r, false
	}
}

func (e *Emulator) setFault(on bool) {
	e.faulted = on
	if e.opts.Fault != nil {
		e.opts.Fault.Set(on)
	}
}

func (e *Emulator) logf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if e.debug {
		logging.LogInfo(logging.ComponentEmulator, msg, "state", e.state.String())
	} else {
		logging.LogDebug(logging.ComponentEmulator, msg, "state", e.state.String())
	}
}
