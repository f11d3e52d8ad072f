// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package adapter

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/Thermoquad/sm2mbridge/pkg/bus"
	"github.com/Thermoquad/sm2mbridge/pkg/sm2m"
	"github.com/Thermoquad/sm2mbridge/pkg/storage"
)

func newTestAdapter(t *testing.T, opts Options) (*Adapter, *storage.MemoryBacking, *Panel) {
	t.Helper()
	backing := storage.NewMemoryBacking()
	panel := NewPanel()
	opts.Indicators = panel
	opts.Display = panel
	a, err := New(backing, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a, backing, panel
}

func word(w uint16) sm2m.InputEvent { return sm2m.DataEvent(w) }

func address(n uint16) sm2m.InputEvent { return sm2m.DataEvent(sm2m.AddressWord(n)) }

// expect feeds events and fails unless every reply matches.
func expect(t *testing.T, a *Adapter, events []sm2m.InputEvent, want []sm2m.OutputFrame) {
	t.Helper()
	for i, ev := range events {
		got := a.Handle(ev)
		if got != want[i] {
			t.Fatalf("event %d %s: reply %s, want %s (mode %s)", i, ev, got, want[i], a.Mode())
		}
	}
}

// writeRecord runs a full write session and expects only acknowledgments.
func writeRecord(t *testing.T, a *Adapter, addr uint16, data []uint16) {
	t.Helper()
	events := []sm2m.InputEvent{sm2m.ResetEvent(), word(sm2m.WordCheckStatus), address(addr), word(sm2m.WordWrite)}
	for _, w := range data {
		events = append(events, word(w))
	}
	events = append(events, sm2m.StopEvent())

	want := make([]sm2m.OutputFrame, len(events))
	for i := range want {
		want[i] = sm2m.Ack()
	}
	expect(t, a, events, want)
}

// readRecord runs a read session of n words and returns the data replies.
func readRecord(t *testing.T, a *Adapter, addr uint16, n int) []uint16 {
	t.Helper()
	expect(t, a,
		[]sm2m.InputEvent{sm2m.ResetEvent(), address(addr), word(sm2m.WordRead)},
		[]sm2m.OutputFrame{sm2m.Ack(), sm2m.Ack(), sm2m.Ack()})

	out := make([]uint16, 0, n)
	for i := 0; i < n; i++ {
		r := a.Handle(word(sm2m.WordRead))
		if r.Kind != sm2m.ReplyData {
			t.Fatalf("read word %d: reply %s", i, r)
		}
		out = append(out, r.Payload)
	}
	if r := a.Handle(sm2m.StopEvent()); r != sm2m.Ack() {
		t.Fatalf("stop after read: %s", r)
	}
	return out
}

// ============================================================
// Ready Mode
// ============================================================

func TestReady_CheckStatus(t *testing.T) {
	a, backing, panel := newTestAdapter(t, Options{})

	if r := a.Handle(word(sm2m.WordCheckStatus)); r != sm2m.Ack() {
		t.Fatalf("attached CheckStatus = %s", r)
	}

	backing.SetAttached(false)
	if r := a.Handle(word(sm2m.WordCheckStatus)); r != sm2m.ErrorFrame(sm2m.OpSdmmcDetached) {
		t.Fatalf("detached CheckStatus = %s", r)
	}
	if _, ok := a.Mode().(ModeError); !ok {
		t.Errorf("mode = %s, want error", a.Mode())
	}
	if st := panel.State(); !st.SystemError || st.Display != 1 {
		t.Errorf("panel = %+v", st)
	}
}

func TestReady_Commands(t *testing.T) {
	tests := []struct {
		name     string
		word     uint16
		want     sm2m.OutputFrame
		wantMode Mode
	}{
		{"check status", 0x0000, sm2m.Ack(), ModeReady{}},
		{"address 1", 0x0403, sm2m.Ack(), ModeAddress{Record: "1"}},
		{"address 12 legacy order", sm2m.AddressWord(12), sm2m.Ack(), ModeAddress{Record: "21"}},
		{"write without address", 0x0001, sm2m.ErrorFrame(sm2m.OpUnhandledReadyCommand), ModeError{Opcode: sm2m.OpUnhandledReadyCommand}},
		{"read without address", 0x0002, sm2m.ErrorFrame(sm2m.OpUnhandledReadyCommand), ModeError{Opcode: sm2m.OpUnhandledReadyCommand}},
		{"plain data", 0x1234, sm2m.ErrorFrame(sm2m.OpUnhandledReadyCommand), ModeError{Opcode: sm2m.OpUnhandledReadyCommand}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, _, _ := newTestAdapter(t, Options{})
			if got := a.Handle(word(tt.word)); got != tt.want {
				t.Errorf("reply = %s, want %s", got, tt.want)
			}
			if got := a.Mode(); got != tt.wantMode {
				t.Errorf("mode = %s, want %s", got, tt.wantMode)
			}
		})
	}
}

func TestReady_NaturalDigitOrder(t *testing.T) {
	a, _, _ := newTestAdapter(t, Options{DigitOrder: sm2m.DigitsNatural})
	a.Handle(address(12))
	if got := a.Mode(); got != (ModeAddress{Record: "12"}) {
		t.Errorf("mode = %s", got)
	}
}

// ============================================================
// Address Mode
// ============================================================

func TestAddress_UnhandledCommands(t *testing.T) {
	for _, w := range []uint16{sm2m.WordCheckStatus, sm2m.AddressWord(3), 0x1234} {
		a, _, _ := newTestAdapter(t, Options{})
		a.Handle(address(5))
		if r := a.Handle(word(w)); r != sm2m.ErrorFrame(sm2m.OpUnhandledAddressCommand) {
			t.Errorf("Address + 0x%04X = %s", w, r)
		}
	}
}

func TestAddress_ReadMissingRecord(t *testing.T) {
	a, _, panel := newTestAdapter(t, Options{})
	a.Handle(address(9))
	if r := a.Handle(word(sm2m.WordRead)); r != sm2m.ErrorFrame(sm2m.OpFileNotFound) {
		t.Fatalf("reply = %s, want FILE_NOT_FOUND", r)
	}
	if panel.State().Read {
		t.Error("read indicator on after failed open")
	}
}

func TestAddress_WriteReplacesRecord(t *testing.T) {
	a, backing, panel := newTestAdapter(t, Options{})
	backing.Put("3", []byte{0xAA, 0xBB})

	a.Handle(address(3))
	if r := a.Handle(word(sm2m.WordWrite)); r != sm2m.Ack() {
		t.Fatalf("reply = %s", r)
	}
	if _, ok := backing.Contents("3"); ok {
		t.Error("old record not deleted")
	}
	if _, ok := backing.Contents("3.bak"); ok {
		t.Error("backup written without WithBackup")
	}
	if !panel.State().Write {
		t.Error("write indicator off")
	}
}

func TestAddress_WriteWithBackup(t *testing.T) {
	a, backing, _ := newTestAdapter(t, Options{WithBackup: true})

	old := make([]byte, 150) // spans several copy chunks
	for i := range old {
		old[i] = byte(i)
	}
	backing.Put("7", old)
	backing.Put("7.bak", []byte("stale"))

	writeRecord(t, a, 7, []uint16{0x0102})

	bak, ok := backing.Contents("7.bak")
	if !ok || !bytes.Equal(bak, old) {
		t.Errorf("backup = % X, want previous content", bak)
	}
	cur, _ := backing.Contents("7")
	if !bytes.Equal(cur, []byte{0x02, 0x01}) {
		t.Errorf("record = % X", cur)
	}
	if backing.OpenHandles() != 0 {
		t.Errorf("%d handles leaked", backing.OpenHandles())
	}
}

// ============================================================
// Write and Read Modes
// ============================================================

func TestWrite_LittleEndianAndDataWords(t *testing.T) {
	a, backing, _ := newTestAdapter(t, Options{})
	// command-looking words are plain data in Write mode
	writeRecord(t, a, 1, []uint16{0x1234, 0x0000, 0x0001, 0x0002, 0x0403})

	got, _ := backing.Contents("1")
	want := []byte{0x34, 0x12, 0x00, 0x00, 0x01, 0x00, 0x02, 0x00, 0x03, 0x04}
	if !bytes.Equal(got, want) {
		t.Errorf("record = % X, want % X", got, want)
	}
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		size   int
		nwords int
	}{
		{"single word", 16, 1},
		{"exactly one buffer", 16, 8},
		{"spans buffers", 16, 37},
		{"default buffer", 0, 6000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, _, _ := newTestAdapter(t, Options{BufferSize: tt.size})
			data := make([]uint16, tt.nwords)
			for i := range data {
				data[i] = uint16(i*7919 + 3)
			}

			writeRecord(t, a, 42, data)
			got := readRecord(t, a, 42, tt.nwords)
			for i := range data {
				if got[i] != data[i] {
					t.Fatalf("word %d = 0x%04X, want 0x%04X", i, got[i], data[i])
				}
			}
		})
	}
}

func TestRead_PastEndIsZero(t *testing.T) {
	a, backing, _ := newTestAdapter(t, Options{BufferSize: 4})
	backing.Put("2", []byte{0x01, 0x00, 0x02, 0x00, 0x03, 0x00})

	got := readRecord(t, a, 2, 6)
	want := []uint16{1, 2, 3, 0, 0, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("words = %v, want %v", got, want)
		}
	}
}

func TestRead_OffsetAdvancesByBytesRead(t *testing.T) {
	a, backing, _ := newTestAdapter(t, Options{BufferSize: 4})
	backing.Put("2", []byte{1, 0, 2, 0, 3, 0})

	a.Handle(address(2))
	a.Handle(word(sm2m.WordRead))
	if m := a.Mode().(ModeRead); m.Offset != 4 {
		t.Fatalf("offset after prefetch = %d", m.Offset)
	}
	a.Handle(word(sm2m.WordRead))
	a.Handle(word(sm2m.WordRead))
	a.Handle(word(sm2m.WordRead)) // refill reads the last 2 bytes
	if m := a.Mode().(ModeRead); m.Offset != 6 {
		t.Errorf("offset after refill = %d", m.Offset)
	}
}

func TestRead_DataWordIsContinuation(t *testing.T) {
	a, backing, _ := newTestAdapter(t, Options{})
	backing.Put("1", []byte{0xCD, 0xAB})
	a.Handle(address(1))
	a.Handle(word(sm2m.WordRead))
	if r := a.Handle(word(0x1234)); r != sm2m.DataFrame(0xABCD) {
		t.Errorf("reply = %s", r)
	}
}

// ============================================================
// Buffer Boundary
// ============================================================

func TestBufferBoundary(t *testing.T) {
	const size = 8
	tests := []struct {
		name         string
		nwords       int
		beforeStop   int
		afterStop    int
		recordLength int
	}{
		{"below capacity", 3, 0, 1, 6},
		{"exactly capacity", size / 2, 1, 1, size},
		{"capacity plus one word", size/2 + 1, 1, 2, size + 2},
		{"two buffers", size, 2, 2, 2 * size},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, backing, _ := newTestAdapter(t, Options{BufferSize: size})
			expect(t, a,
				[]sm2m.InputEvent{address(1), word(sm2m.WordWrite)},
				[]sm2m.OutputFrame{sm2m.Ack(), sm2m.Ack()})

			for i := 0; i < tt.nwords; i++ {
				if r := a.Handle(word(uint16(i))); r != sm2m.Ack() {
					t.Fatalf("word %d: %s", i, r)
				}
			}
			if got := backing.Calls(storage.OpWrite); got != tt.beforeStop {
				t.Errorf("flushes before stop = %d, want %d", got, tt.beforeStop)
			}

			if r := a.Handle(sm2m.StopEvent()); r != sm2m.Ack() {
				t.Fatalf("stop: %s", r)
			}
			if got := backing.Calls(storage.OpWrite); got != tt.afterStop {
				t.Errorf("flushes after stop = %d, want %d", got, tt.afterStop)
			}
			if snap := a.Snapshot(); snap.Flushes != uint64(tt.afterStop) {
				t.Errorf("snapshot flushes = %d", snap.Flushes)
			}

			rec, _ := backing.Contents("1")
			if len(rec) != tt.recordLength {
				t.Errorf("record length = %d, want %d", len(rec), tt.recordLength)
			}
		})
	}
}

// ============================================================
// Reset, Stop and Error Latch
// ============================================================

// enter drives a fresh adapter into the named mode.
func enter(t *testing.T, mode string) (*Adapter, *storage.MemoryBacking, *Panel) {
	a, backing, panel := newTestAdapter(t, Options{BufferSize: 8})
	backing.Put("1", []byte{1, 2, 3, 4})
	switch mode {
	case "ready":
	case "address":
		a.Handle(address(1))
	case "read":
		a.Handle(address(1))
		a.Handle(word(sm2m.WordRead))
		a.Handle(word(sm2m.WordRead))
	case "write":
		a.Handle(address(1))
		a.Handle(word(sm2m.WordWrite))
		a.Handle(word(0xAAAA))
	case "error":
		a.Handle(word(sm2m.WordWrite))
	}
	return a, backing, panel
}

func TestReset_FromEveryMode(t *testing.T) {
	for _, mode := range []string{"ready", "address", "read", "write", "error"} {
		t.Run(mode, func(t *testing.T) {
			a, _, panel := enter(t, mode)
			for i := 0; i < 2; i++ {
				if r := a.Handle(sm2m.ResetEvent()); r != sm2m.Ack() {
					t.Fatalf("reset %d = %s", i, r)
				}
				if got := a.Mode(); got != (ModeReady{}) {
					t.Errorf("mode = %s", got)
				}
				if a.buf.Len() != 0 || !a.buf.Exhausted() {
					t.Errorf("buffer not cleared: len %d", a.buf.Len())
				}
				if st := panel.State(); st != (PanelState{}) {
					t.Errorf("panel = %+v", st)
				}
			}
		})
	}
}

func TestReset_DiscardsPendingWrite(t *testing.T) {
	a, backing, _ := enter(t, "write")
	a.Handle(sm2m.ResetEvent())
	if rec, _ := backing.Contents("1"); len(rec) != 0 {
		t.Errorf("reset flushed % X", rec)
	}
}

func TestStop_FromEveryMode(t *testing.T) {
	for _, mode := range []string{"ready", "address", "read", "write", "error"} {
		t.Run(mode, func(t *testing.T) {
			a, _, panel := enter(t, mode)
			if r := a.Handle(sm2m.StopEvent()); r != sm2m.Ack() {
				t.Fatalf("stop = %s", r)
			}
			if got := a.Mode(); got != (ModeReady{}) {
				t.Errorf("mode = %s", got)
			}
			if st := panel.State(); st != (PanelState{}) {
				t.Errorf("panel = %+v", st)
			}
		})
	}
}

func TestStop_FlushFailureLatches(t *testing.T) {
	a, backing, panel := enter(t, "write")
	backing.SetCapacity(1)

	r := a.Handle(sm2m.StopEvent())
	if r != sm2m.ErrorFrame(sm2m.OpNotEnoughSpace) {
		t.Fatalf("stop = %s, want NOT_ENOUGH_SPACE", r)
	}
	st := panel.State()
	if st.Write || !st.SystemError || st.Display != uint8(sm2m.OpNotEnoughSpace) {
		t.Errorf("panel = %+v", st)
	}
	for i := 0; i < 3; i++ {
		if r := a.Handle(word(0)); r != sm2m.ErrorFrame(sm2m.OpNotEnoughSpace) {
			t.Fatalf("event %d = %s", i, r)
		}
	}
}

func TestWrite_FlushFailureMidSession(t *testing.T) {
	a, backing, _ := newTestAdapter(t, Options{BufferSize: 4})
	backing.SetFault(storage.OpWrite, errors.New("card timeout"))

	expect(t, a,
		[]sm2m.InputEvent{address(1), word(sm2m.WordWrite), word(1), word(2), word(3)},
		[]sm2m.OutputFrame{sm2m.Ack(), sm2m.Ack(), sm2m.Ack(), sm2m.ErrorFrame(sm2m.OpTransport), sm2m.ErrorFrame(sm2m.OpTransport)})
}

func TestErrorLatch(t *testing.T) {
	events := []sm2m.InputEvent{
		word(sm2m.WordCheckStatus),
		word(sm2m.WordWrite),
		word(sm2m.WordRead),
		address(4),
		word(0x1234),
	}

	a, _, panel := enter(t, "error")
	want := sm2m.ErrorFrame(sm2m.OpUnhandledReadyCommand)
	for i, ev := range events {
		if r := a.Handle(ev); r != want {
			t.Fatalf("event %d (%s) = %s, want %s", i, ev, r, want)
		}
	}
	if !panel.State().SystemError {
		t.Error("system error indicator off while latched")
	}

	a.Handle(sm2m.ResetEvent())
	if r := a.Handle(word(sm2m.WordCheckStatus)); r != sm2m.Ack() {
		t.Errorf("after reset = %s", r)
	}
}

func TestDisplay_ShowsLowSixBits(t *testing.T) {
	a, backing, panel := newTestAdapter(t, Options{})
	backing.SetAttached(false)
	a.Handle(address(1))
	a.Handle(word(sm2m.WordRead))
	if got := panel.State().Display; got != uint8(sm2m.OpSdmmcDetached) {
		t.Errorf("display = %d", got)
	}

	a.Handle(sm2m.ResetEvent())
	a.failOp(sm2m.Opcode(0x47))
	if got := panel.State().Display; got != 0x07 {
		t.Errorf("display = 0x%02X, want 0x07", got)
	}
}

// ============================================================
// Manual Reset, Snapshot, Trace
// ============================================================

func TestManualReset(t *testing.T) {
	a, backing, panel := enter(t, "write")
	a.ManualReset()
	if got := a.Mode(); got != (ModeReady{}) {
		t.Errorf("mode = %s", got)
	}
	if panel.State().Write {
		t.Error("write indicator still on")
	}
	if backing.Calls(storage.OpWrite) != 0 {
		t.Error("manual reset flushed")
	}
}

func TestSnapshot(t *testing.T) {
	a, backing, _ := newTestAdapter(t, Options{})
	a.Handle(sm2m.ResetEvent())
	a.Handle(word(sm2m.WordWrite))
	a.Handle(word(0))

	snap := a.Snapshot()
	if snap.Handshakes != 3 || snap.Errors != 2 {
		t.Errorf("counts = %+v", snap)
	}
	if snap.LastOpcode != sm2m.OpUnhandledReadyCommand || snap.Mode.Kind() != KindError {
		t.Errorf("snapshot = %+v", snap)
	}
	if !snap.Attached {
		t.Error("attached = false")
	}
	backing.SetAttached(false)
	if a.Snapshot().Attached {
		t.Error("attached = true after detach")
	}
}

func TestWithTrace(t *testing.T) {
	var buf bytes.Buffer
	a, _, _ := newTestAdapter(t, Options{})
	a.WithTrace(&buf)

	writeRecord(t, a, 2, []uint16{9, 8})
	records, err := sm2m.ReadTrace(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 7 {
		t.Fatalf("records = %d, want 7", len(records))
	}
	if records[2].Mode != "address(2)" || records[3].Mode != "write(2)" || records[6].Mode != "ready" {
		t.Errorf("modes: %s %s %s", records[2].Mode, records[3].Mode, records[6].Mode)
	}
}

func TestNew_RejectsOddBuffer(t *testing.T) {
	if _, err := New(storage.NewMemoryBacking(), Options{BufferSize: 7}); err == nil {
		t.Error("odd buffer size accepted")
	}
	if _, err := New(nil, Options{}); err == nil {
		t.Error("nil backing accepted")
	}
}

func TestOpcodeOf(t *testing.T) {
	tests := []struct {
		err  error
		want sm2m.Opcode
	}{
		{storage.ErrDetached, sm2m.OpSdmmcDetached},
		{storage.ErrNotFound, sm2m.OpFileNotFound},
		{storage.ErrNoSpace, sm2m.OpNotEnoughSpace},
		{storage.ErrReadOnly, sm2m.OpReadOnly},
		{storage.ErrTooManyOpen, sm2m.OpTooManyOpenFiles},
		{storage.ErrInvalidOffset, sm2m.OpInvalidOffset},
		{errors.New("bus glitch"), sm2m.OpTransport},
	}
	for _, tt := range tests {
		if got := OpcodeOf(tt.err); got != tt.want {
			t.Errorf("OpcodeOf(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

// ============================================================
// One In, One Out
// ============================================================

func TestOneInOneOut_OverWire(t *testing.T) {
	seed := time.Now().UnixNano()
	t.Logf("Seed: %d", seed)
	rng := rand.New(rand.NewSource(seed))

	wire := bus.NewWire(sm2m.InputRevB, sm2m.OutputRevB)
	dev := bus.NewTransport(wire.Device(), sm2m.InputRevB, sm2m.OutputRevB)
	host := bus.NewHostPort(wire.Host(), sm2m.InputRevB, sm2m.OutputRevB)

	a, backing, _ := newTestAdapter(t, Options{BufferSize: 8})
	backing.Put("1", []byte{1, 2, 3})
	wire.OnLatch(func() { a.Service(dev) })

	vocabulary := []uint16{0x0000, 0x0001, 0x0002, 0x0403, 0x1234, 0xFFFF}
	for i := 0; i < 2000; i++ {
		switch rng.Intn(10) {
		case 0:
			host.Reset()
		case 1:
			host.Stop()
		default:
			host.Word(vocabulary[rng.Intn(len(vocabulary))])
		}
		latches, replies := wire.Counts()
		if latches != replies {
			t.Fatalf("after %d transfers: %d latches, %d replies", i+1, latches, replies)
		}
	}
	if snap := a.Snapshot(); snap.Handshakes != 2000 {
		t.Errorf("handshakes = %d", snap.Handshakes)
	}
}
