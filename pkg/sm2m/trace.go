// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sm2m

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// TraceRecord is one recorded handshake. Records are stored as a CBOR
// sequence with integer keys.
type TraceRecord struct {
	Seq     uint64    `cbor:"1,keyasint"`
	Time    int64     `cbor:"2,keyasint"` // unix nanoseconds
	Event   EventKind `cbor:"3,keyasint"`
	Word    uint16    `cbor:"4,keyasint,omitempty"`
	Reply   ReplyKind `cbor:"5,keyasint"`
	Payload uint16    `cbor:"6,keyasint,omitempty"`
	Mode    string    `cbor:"7,keyasint"` // mode after the handshake
}

// NewTraceRecord builds a record for one handshake.
func NewTraceRecord(seq uint64, at time.Time, in InputEvent, out OutputFrame, mode string) TraceRecord {
	return TraceRecord{
		Seq:     seq,
		Time:    at.UnixNano(),
		Event:   in.Kind,
		Word:    in.Word,
		Reply:   out.Kind,
		Payload: out.Payload,
		Mode:    mode,
	}
}

// Input returns the recorded input event.
func (r TraceRecord) Input() InputEvent {
	return InputEvent{Kind: r.Event, Word: r.Word}
}

// Output returns the recorded reply.
func (r TraceRecord) Output() OutputFrame {
	return OutputFrame{Kind: r.Reply, Payload: r.Payload}
}

// Timestamp returns the record time.
func (r TraceRecord) Timestamp() time.Time {
	return time.Unix(0, r.Time)
}

// TraceWriter appends records to a CBOR sequence
type TraceWriter struct {
	enc *cbor.Encoder
	seq uint64
}

// NewTraceWriter creates a writer over w.
func NewTraceWriter(w io.Writer) *TraceWriter {
	return &TraceWriter{enc: cbor.NewEncoder(w)}
}

// Record writes one handshake, assigning the next sequence number.
func (t *TraceWriter) Record(in InputEvent, out OutputFrame, mode string) error {
	t.seq++
	rec := NewTraceRecord(t.seq, time.Now(), in, out, mode)
	if err := t.enc.Encode(rec); err != nil {
		return fmt.Errorf("failed to encode trace record %d: %w", rec.Seq, err)
	}
	return nil
}

// TraceReader reads records from a CBOR sequence
type TraceReader struct {
	dec *cbor.Decoder
}

// NewTraceReader creates a reader over r.
func NewTraceReader(r io.Reader) *TraceReader {
	return &TraceReader{dec: cbor.NewDecoder(r)}
}

// Next returns the next record, or io.EOF at the end of the trace.
func (t *TraceReader) Next() (TraceRecord, error) {
	var rec TraceRecord
	if err := t.dec.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			return TraceRecord{}, io.EOF
		}
		return TraceRecord{}, fmt.Errorf("failed to decode trace record: %w", err)
	}
	return rec, nil
}

// ReadTrace reads every record from r.
func ReadTrace(r io.Reader) ([]TraceRecord, error) {
	tr := NewTraceReader(r)
	var out []TraceRecord
	for {
		rec, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}
