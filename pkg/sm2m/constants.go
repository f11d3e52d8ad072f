// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package sm2m implements the signal codec and wire protocol of the SM2M
// parallel bus.
//
// A bus transfer is one 16-bit word plus a set of control lines. Every line is
// active low: an asserted line reads as electrical 0, an idle line as 1. This
// package translates between the logical view ({word, lines}) and the raw
// register view, decodes host commands and device replies, and provides the
// line tunnel framing, handshake trace and statistics used by the tooling.
package sm2m

// Command words recognised while the device is in Ready or Address mode
const (
	WordCheckStatus uint16 = 0x0000
	WordWrite       uint16 = 0x0001
	WordRead        uint16 = 0x0002
)

// Address command encoding: low two bits set, address in bits 10..15
const (
	addressTag   uint16 = 0x0003
	AddressShift        = 10
	MaxAddress   uint16 = 0xFFFF >> AddressShift
)

// Line tunnel framing bytes
const (
	StartByte = 0x7E
	EndByte   = 0x7F
	EscByte   = 0x7D
	EscXor    = 0x20
)

// Line tunnel frame sizes
const (
	linesSize       = 4
	tunnelDataSize  = linesSize + 2 // lines + CRC
	MaxTunnelFrame  = 2 + tunnelDataSize*2
	maxRecordDigits = 5
)

// CRC-16-CCITT configuration
const (
	crcPolynomial = 0x1021
	crcInitial    = 0xFFFF
)

// NoBit marks a control line that is not wired in a Layout.
const NoBit uint8 = 0xFF
