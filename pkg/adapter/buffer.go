// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package adapter

import (
	"encoding/binary"
	"fmt"
)

// Buffer sizes
const (
	DefaultBufferSize = 10 * 1024
	MinBufferSize     = 2
)

// Buffer holds pending write bytes, or a read-ahead window with a cursor.
// The capacity is even so words never straddle a refill.
type Buffer struct {
	data   []byte
	n      int
	cursor int
}

// NewBuffer allocates a buffer of capacity bytes.
func NewBuffer(capacity int) (*Buffer, error) {
	if capacity < MinBufferSize || capacity%2 != 0 {
		return nil, fmt.Errorf("buffer size must be even and at least %d, got %d", MinBufferSize, capacity)
	}
	return &Buffer{data: make([]byte, capacity)}, nil
}

// Cap returns the capacity in bytes.
func (b *Buffer) Cap() int { return len(b.data) }

// Len returns the number of bytes held.
func (b *Buffer) Len() int { return b.n }

// Full reports whether no more bytes fit.
func (b *Buffer) Full() bool { return b.n >= len(b.data) }

// Bytes returns the bytes held. The slice is only valid until the next
// mutation.
func (b *Buffer) Bytes() []byte { return b.data[:b.n] }

// Clear empties the buffer and rewinds the cursor.
func (b *Buffer) Clear() {
	b.n = 0
	b.cursor = 0
}

// PushWord appends w little-endian. The caller flushes a full buffer first.
func (b *Buffer) PushWord(w uint16) {
	binary.LittleEndian.PutUint16(b.data[b.n:], w)
	b.n += 2
}

// Exhausted reports whether the read cursor has consumed the window.
func (b *Buffer) Exhausted() bool { return b.cursor >= b.n }

// PopWord returns the next little-endian word of the window.
func (b *Buffer) PopWord() uint16 {
	w := binary.LittleEndian.Uint16(b.data[b.cursor:])
	b.cursor += 2
	return w
}

// Fill zeroes the window and reads into it until it is full or read returns
// no bytes. It returns the number of bytes actually read. The window always
// spans the whole capacity afterwards, so words past the end of a record
// read as zero.
func (b *Buffer) Fill(read func([]byte) (int, error)) (int, error) {
	clear(b.data)
	b.n = len(b.data)
	b.cursor = 0

	total := 0
	for total < len(b.data) {
		n, err := read(b.data[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			break
		}
	}
	return total, nil
}
