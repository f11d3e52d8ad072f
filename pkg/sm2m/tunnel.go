// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sm2m

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Tunnel decoding errors
var (
	ErrTunnelCRC      = errors.New("tunnel frame CRC mismatch")
	ErrTunnelLength   = errors.New("tunnel frame has wrong length")
	ErrTunnelOverflow = errors.New("tunnel frame overflow")
)

// CalculateCRC computes the CRC-16-CCITT checksum of data
func CalculateCRC(data []byte) uint16 {
	crc := uint16(crcInitial)
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ crcPolynomial
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// EncodeLines frames a register snapshot for the line tunnel:
// START, stuffed(lines LE, CRC BE), END.
func EncodeLines(l Lines) []byte {
	data := make([]byte, linesSize, tunnelDataSize)
	binary.LittleEndian.PutUint32(data, uint32(l))

	crc := CalculateCRC(data)
	data = append(data, byte(crc>>8), byte(crc&0xFF))

	frame := make([]byte, 0, MaxTunnelFrame)
	frame = append(frame, StartByte)
	frame = append(frame, stuffBytes(data)...)
	frame = append(frame, EndByte)
	return frame
}

// stuffBytes escapes framing bytes as ESC, b^EscXor.
func stuffBytes(data []byte) []byte {
	out := make([]byte, 0, len(data)*2)
	for _, b := range data {
		if b == StartByte || b == EndByte || b == EscByte {
			out = append(out, EscByte, b^EscXor)
		} else {
			out = append(out, b)
		}
	}
	return out
}

// TunnelDecoder reassembles line snapshots from a tunnel byte stream
type TunnelDecoder struct {
	inFrame    bool
	escapeNext bool
	buf        [tunnelDataSize]byte
	n          int
}

// NewTunnelDecoder creates a decoder waiting for a START byte.
func NewTunnelDecoder() *TunnelDecoder {
	return &TunnelDecoder{}
}

// Reset drops any partial frame.
func (d *TunnelDecoder) Reset() {
	d.inFrame = false
	d.escapeNext = false
	d.n = 0
}

// DecodeByte feeds one byte. It returns the snapshot and true when b
// completes a valid frame. Bytes outside a frame are ignored. A bad frame
// is dropped and reported; decoding resumes at the next START.
func (d *TunnelDecoder) DecodeByte(b byte) (Lines, bool, error) {
	if !d.escapeNext {
		switch b {
		case StartByte:
			d.Reset()
			d.inFrame = true
			return 0, false, nil
		case EndByte:
			if !d.inFrame {
				return 0, false, nil
			}
			return d.finish()
		case EscByte:
			if d.inFrame {
				d.escapeNext = true
			}
			return 0, false, nil
		}
	}

	if !d.inFrame {
		return 0, false, nil
	}

	if d.escapeNext {
		b ^= EscXor
		d.escapeNext = false
	}

	if d.n >= len(d.buf) {
		d.Reset()
		return 0, false, ErrTunnelOverflow
	}
	d.buf[d.n] = b
	d.n++
	return 0, false, nil
}

func (d *TunnelDecoder) finish() (Lines, bool, error) {
	defer d.Reset()

	if d.n != tunnelDataSize {
		return 0, false, fmt.Errorf("%w: %d bytes", ErrTunnelLength, d.n)
	}

	want := uint16(d.buf[linesSize])<<8 | uint16(d.buf[linesSize+1])
	got := CalculateCRC(d.buf[:linesSize])
	if want != got {
		return 0, false, fmt.Errorf("%w: expected 0x%04X, got 0x%04X", ErrTunnelCRC, got, want)
	}

	return Lines(binary.LittleEndian.Uint32(d.buf[:linesSize])), true, nil
}
