// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package adapter

import (
	"fmt"

	"github.com/Thermoquad/sm2mbridge/pkg/sm2m"
)

// Mode is the session state of the adapter. Each variant carries only the
// data that is valid in that state.
type Mode interface {
	Kind() ModeKind
	String() string
}

// ModeKind is the numeric tag of a Mode, as published in the status block
type ModeKind uint16

// Mode kinds
const (
	KindReady ModeKind = iota
	KindAddress
	KindRead
	KindWrite
	KindError
)

func (k ModeKind) String() string {
	switch k {
	case KindReady:
		return "READY"
	case KindAddress:
		return "ADDRESS"
	case KindRead:
		return "READ"
	case KindWrite:
		return "WRITE"
	case KindError:
		return "ERROR"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint16(k))
	}
}

// ModeReady waits for CheckStatus or Address.
type ModeReady struct{}

// ModeAddress has a record selected and waits for Read or Write.
type ModeAddress struct {
	Record string
}

// ModeRead streams a record. Offset is the record position of the next
// refill.
type ModeRead struct {
	Record string
	Offset int64
}

// ModeWrite accumulates words for a record.
type ModeWrite struct {
	Record string
}

// ModeError repeats Opcode until the host resets.
type ModeError struct {
	Opcode sm2m.Opcode
}

func (ModeReady) Kind() ModeKind   { return KindReady }
func (ModeAddress) Kind() ModeKind { return KindAddress }
func (ModeRead) Kind() ModeKind    { return KindRead }
func (ModeWrite) Kind() ModeKind   { return KindWrite }
func (ModeError) Kind() ModeKind   { return KindError }

func (ModeReady) String() string     { return "ready" }
func (m ModeAddress) String() string { return fmt.Sprintf("address(%s)", m.Record) }
func (m ModeRead) String() string    { return fmt.Sprintf("read(%s@%d)", m.Record, m.Offset) }
func (m ModeWrite) String() string   { return fmt.Sprintf("write(%s)", m.Record) }
func (m ModeError) String() string   { return fmt.Sprintf("error(%d)", uint16(m.Opcode)) }
