// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package status

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/Thermoquad/sm2mbridge/pkg/adapter"
	"github.com/Thermoquad/sm2mbridge/pkg/sm2m"
)

type write struct {
	unitID uint8
	addr   uint16
	regs   []uint16
}

type fakeWriter struct {
	mu     sync.Mutex
	writes []write
	fail   error
}

func (f *fakeWriter) WriteRegisters(unitID uint8, addr uint16, regs []uint16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.writes = append(f.writes, write{unitID, addr, append([]uint16(nil), regs...)})
	return nil
}

func (f *fakeWriter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

// ============================================================
// Snapshot and Encode
// ============================================================

func TestFromAdapter(t *testing.T) {
	tests := []struct {
		name   string
		in     adapter.Snapshot
		health uint16
		mode   adapter.ModeKind
	}{
		{"ready", adapter.Snapshot{Mode: adapter.ModeReady{}, Attached: true}, HealthOK, adapter.KindReady},
		{"writing", adapter.Snapshot{Mode: adapter.ModeWrite{Record: "1"}, Attached: true}, HealthOK, adapter.KindWrite},
		{"error", adapter.Snapshot{Mode: adapter.ModeError{Opcode: sm2m.OpFileNotFound}, Attached: true}, HealthError, adapter.KindError},
		{"detached", adapter.Snapshot{Mode: adapter.ModeError{Opcode: sm2m.OpSdmmcDetached}}, HealthDetached, adapter.KindError},
		{"nil mode", adapter.Snapshot{Attached: true}, HealthOK, adapter.KindReady},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := FromAdapter(tt.in)
			if s.Health != tt.health || s.Mode != tt.mode {
				t.Errorf("health=%d mode=%s, want health=%d mode=%s", s.Health, s.Mode, tt.health, tt.mode)
			}
		})
	}
}

func TestEncode(t *testing.T) {
	s := Snapshot{
		Health:         HealthError,
		Mode:           adapter.KindError,
		LastOpcode:     27,
		Handshakes:     0x00012345,
		Errors:         7,
		Attached:       true,
		SecondsInError: 42,
	}
	want := []uint16{2, 4, 27, 0x0001, 0x2345, 0, 7, 1, 42, 0}
	if got := Encode(s); !reflect.DeepEqual(got, want) {
		t.Errorf("Encode = %v, want %v", got, want)
	}
	if got := len(Encode(Snapshot{})); got != BlockSize {
		t.Errorf("block size = %d", got)
	}
}

// ============================================================
// Publisher
// ============================================================

func TestPublisher_WritesOnlyChanges(t *testing.T) {
	w := &fakeWriter{}
	snap := Snapshot{Health: HealthOK, Attached: true}
	p := NewPublisher(func() Snapshot { return snap }, w, 5, 100, time.Second)

	for i := 0; i < 3; i++ {
		if err := p.Publish(); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	if w.count() != 1 {
		t.Fatalf("writes = %d, want 1", w.count())
	}
	if got := w.writes[0]; got.unitID != 5 || got.addr != 100 || len(got.regs) != BlockSize {
		t.Errorf("write = %+v", got)
	}

	snap.Handshakes = 3
	if err := p.Publish(); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if w.count() != 2 {
		t.Errorf("writes = %d after change, want 2", w.count())
	}
}

func TestPublisher_FailureForcesRewrite(t *testing.T) {
	w := &fakeWriter{fail: errors.New("connection reset")}
	p := NewPublisher(func() Snapshot { return Snapshot{Health: HealthOK} }, w, 1, 0, 0)

	if err := p.Publish(); err == nil {
		t.Fatal("expected error")
	}
	w.fail = nil
	if err := p.Publish(); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if w.count() != 1 {
		t.Errorf("writes = %d, want 1", w.count())
	}
}

func TestPublisher_SecondsInError(t *testing.T) {
	w := &fakeWriter{}
	health := HealthError
	p := NewPublisher(func() Snapshot { return Snapshot{Health: health} }, w, 1, 0, time.Second)

	clock := time.Unix(1000, 0)
	p.now = func() time.Time { return clock }

	steps := []struct {
		advance time.Duration
		health  uint16
		want    uint16
	}{
		{0, HealthError, 0},
		{3 * time.Second, HealthError, 3},
		{2 * time.Second, HealthDetached, 5},
		{time.Second, HealthOK, 0},
		{time.Second, HealthError, 0},
		{48 * time.Hour, HealthError, 65535},
	}
	for i, s := range steps {
		clock = clock.Add(s.advance)
		health = s.health
		if err := p.Publish(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		last := w.writes[len(w.writes)-1].regs
		if last[SlotSecondsInError] != s.want {
			t.Errorf("step %d: seconds in error = %d, want %d", i, last[SlotSecondsInError], s.want)
		}
	}
}

func TestPublisher_Run(t *testing.T) {
	w := &fakeWriter{}
	n := uint32(0)
	var mu sync.Mutex
	source := func() Snapshot {
		mu.Lock()
		defer mu.Unlock()
		n++
		return Snapshot{Health: HealthOK, Handshakes: n}
	}
	p := NewPublisher(source, w, 1, 0, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	if err := p.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run = %v, want deadline exceeded", err)
	}
	if w.count() < 2 {
		t.Errorf("writes = %d, want at least 2", w.count())
	}
}

// ============================================================
// Modbus writer
// ============================================================

// serveWriteMultiple answers one Modbus TCP function 16 request and returns
// the request PDU.
func serveWriteMultiple(t *testing.T, ln net.Listener, got chan<- []byte) {
	conn, err := ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	header := make([]byte, 7)
	if _, err := io.ReadFull(conn, header); err != nil {
		t.Errorf("read header: %v", err)
		return
	}
	length := binary.BigEndian.Uint16(header[4:6])
	pdu := make([]byte, length-1)
	if _, err := io.ReadFull(conn, pdu); err != nil {
		t.Errorf("read pdu: %v", err)
		return
	}
	got <- append([]byte{header[6]}, pdu...)

	resp := make([]byte, 12)
	copy(resp[0:4], header[0:4])
	binary.BigEndian.PutUint16(resp[4:6], 6)
	resp[6] = header[6]
	copy(resp[7:12], pdu[0:5])
	if _, err := conn.Write(resp); err != nil {
		t.Errorf("write response: %v", err)
	}
}

func TestModbusWriter(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("no loopback listener: %v", err)
	}
	defer ln.Close()

	got := make(chan []byte, 1)
	go serveWriteMultiple(t, ln, got)

	w, err := NewModbusWriter(ln.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("NewModbusWriter: %v", err)
	}
	defer w.Close()

	if err := w.WriteRegisters(9, 200, []uint16{0x0102, 0xA0B0}); err != nil {
		t.Fatalf("WriteRegisters: %v", err)
	}

	req := <-got
	want := []byte{
		9,          // unit
		0x10,       // write multiple registers
		0x00, 0xC8, // address 200
		0x00, 0x02, // quantity
		0x04,       // byte count
		0x01, 0x02, 0xA0, 0xB0,
	}
	if !reflect.DeepEqual(req, want) {
		t.Errorf("request = % X, want % X", req, want)
	}
}

func TestNewModbusWriter_NoEndpoint(t *testing.T) {
	if _, err := NewModbusWriter("", time.Second); err == nil {
		t.Fatal("expected error")
	}
}
