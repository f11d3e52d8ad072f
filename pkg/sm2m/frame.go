// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sm2m

import "fmt"

// CommandKind identifies a decoded host command
type CommandKind uint8

// Command kinds
const (
	CmdCheckStatus CommandKind = iota
	CmdWrite
	CmdRead
	CmdAddress
	CmdData
)

// Command is a host word decoded in Ready or Address mode
type Command struct {
	Kind  CommandKind
	Value uint16 // address for CmdAddress, raw word for CmdData
}

// DecodeCommand decodes a word received while the device is in Ready or
// Address mode. Words outside the command table decode as CmdData.
func DecodeCommand(word uint16) Command {
	switch {
	case word == WordCheckStatus:
		return Command{Kind: CmdCheckStatus}
	case word == WordWrite:
		return Command{Kind: CmdWrite}
	case word == WordRead:
		return Command{Kind: CmdRead}
	case word&addressTag == addressTag:
		return Command{Kind: CmdAddress, Value: word >> AddressShift}
	default:
		return Command{Kind: CmdData, Value: word}
	}
}

// AddressWord encodes an address command. Addresses above MaxAddress are
// truncated to the six bits the bus can carry.
func AddressWord(address uint16) uint16 {
	return address<<AddressShift | addressTag
}

// Word returns the bus word that decodes back to c.
func (c Command) Word() uint16 {
	switch c.Kind {
	case CmdCheckStatus:
		return WordCheckStatus
	case CmdWrite:
		return WordWrite
	case CmdRead:
		return WordRead
	case CmdAddress:
		return AddressWord(c.Value)
	default:
		return c.Value
	}
}

func (c Command) String() string {
	switch c.Kind {
	case CmdCheckStatus:
		return "CHECK_STATUS"
	case CmdWrite:
		return "WRITE"
	case CmdRead:
		return "READ"
	case CmdAddress:
		return fmt.Sprintf("ADDRESS(%d)", c.Value)
	default:
		return fmt.Sprintf("DATA(0x%04X)", c.Value)
	}
}

// EventKind classifies one latched transfer
type EventKind uint8

// Event kinds
const (
	EventData EventKind = iota
	EventReset
	EventStop
)

// InputEvent is one transfer received by the device
type InputEvent struct {
	Kind EventKind
	Word uint16
}

// Classify turns a decoded word and control set into an InputEvent.
// RESET takes priority over END, and both pre-empt the word.
func Classify(word uint16, ctrl Control) InputEvent {
	switch {
	case ctrl.Has(LineReset):
		return InputEvent{Kind: EventReset}
	case ctrl.Has(LineEnd):
		return InputEvent{Kind: EventStop}
	default:
		return InputEvent{Kind: EventData, Word: word}
	}
}

// ResetEvent, StopEvent and DataEvent build input events
func ResetEvent() InputEvent { return InputEvent{Kind: EventReset} }

func StopEvent() InputEvent { return InputEvent{Kind: EventStop} }

func DataEvent(word uint16) InputEvent { return InputEvent{Kind: EventData, Word: word} }

func (e InputEvent) String() string {
	switch e.Kind {
	case EventReset:
		return "RESET"
	case EventStop:
		return "STOP"
	default:
		return fmt.Sprintf("WORD(0x%04X)", e.Word)
	}
}

// ReplyKind identifies a device reply
type ReplyKind uint8

// Reply kinds
const (
	ReplyAck ReplyKind = iota
	ReplyError
	ReplyData
)

// OutputFrame is the single reply the device produces per InputEvent
type OutputFrame struct {
	Kind    ReplyKind
	Payload uint16
}

// Ack returns an acknowledgment frame.
func Ack() OutputFrame {
	return OutputFrame{Kind: ReplyAck}
}

// ErrorFrame returns an error frame carrying op.
func ErrorFrame(op Opcode) OutputFrame {
	return OutputFrame{Kind: ReplyError, Payload: uint16(op)}
}

// DataFrame returns a data frame carrying word.
func DataFrame(word uint16) OutputFrame {
	return OutputFrame{Kind: ReplyData, Payload: word}
}

// Lines returns the payload and the strobe line to drive for f.
func (f OutputFrame) Lines() (uint16, Control) {
	switch f.Kind {
	case ReplyError:
		return f.Payload, LineError
	case ReplyData:
		return f.Payload, LineReady
	default:
		return 0, LineReady
	}
}

// Opcode returns the error opcode of an error frame.
func (f OutputFrame) Opcode() Opcode {
	if f.Kind != ReplyError {
		return 0
	}
	return Opcode(f.Payload)
}

func (f OutputFrame) String() string {
	switch f.Kind {
	case ReplyError:
		return fmt.Sprintf("ERROR(%d %s)", f.Payload, Opcode(f.Payload))
	case ReplyData:
		return fmt.Sprintf("DATA(0x%04X)", f.Payload)
	default:
		return "ACK"
	}
}

// Reply is a device reply as the host sees it on the wire. Ack and Data both
// raise READY, so the host tells them apart by its own session state.
type Reply struct {
	Strobe  Control
	Payload uint16
}

// ParseReply builds a Reply from the decoded device output lines.
func ParseReply(word uint16, ctrl Control) Reply {
	return Reply{Strobe: ctrl & (LineReady | LineError), Payload: word}
}

// IsError reports whether the device raised ERROR.
func (r Reply) IsError() bool {
	return r.Strobe.Has(LineError)
}

// IsReady reports whether the device raised READY without ERROR.
func (r Reply) IsReady() bool {
	return r.Strobe.Has(LineReady) && !r.IsError()
}

// Opcode returns the error opcode carried by an error reply.
func (r Reply) Opcode() Opcode {
	if !r.IsError() {
		return 0
	}
	return Opcode(r.Payload)
}

func (r Reply) String() string {
	switch {
	case r.IsError():
		return fmt.Sprintf("ERROR(%d %s)", r.Payload, Opcode(r.Payload))
	case r.IsReady():
		return fmt.Sprintf("READY(0x%04X)", r.Payload)
	default:
		return "NONE"
	}
}
