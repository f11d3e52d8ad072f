// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package adapter implements the device side of the SM2M bus: the session
// state machine that turns host transfers into record reads and writes.
//
// Every call to Handle consumes one input event and returns exactly one
// reply. Storage failures never escape; they latch the adapter into an error
// mode that repeats the opcode until the host resets.
package adapter

import (
	"fmt"
	"io"
	"sync"

	"github.com/Thermoquad/sm2mbridge/pkg/logging"
	"github.com/Thermoquad/sm2mbridge/pkg/sm2m"
	"github.com/Thermoquad/sm2mbridge/pkg/storage"
)

// backupChunk is the copy granularity when a record is backed up.
const backupChunk = 64

// Options configures an Adapter.
type Options struct {
	// BufferSize is the write and read-ahead window in bytes. Zero selects
	// DefaultBufferSize.
	BufferSize int
	// WithBackup copies an existing record to <name>.bak before a write
	// replaces it.
	WithBackup bool
	// DigitOrder selects how addresses become record names.
	DigitOrder sm2m.DigitOrder
	// Indicators receives lamp changes. Nil disables them.
	Indicators Indicators
	// Display receives the latched opcode. Nil disables it.
	Display Display
}

// Transport is the device end of the bus as seen by Service.
type Transport interface {
	Receive() sm2m.InputEvent
	Send(sm2m.OutputFrame)
}

// Snapshot is a consistent view of the adapter for status reporting.
type Snapshot struct {
	Mode       Mode
	LastOpcode sm2m.Opcode
	Handshakes uint64
	Errors     uint64
	Flushes    uint64
	Attached   bool
}

// Adapter is the device protocol state machine. It is safe for concurrent
// use: a handshake, a manual reset and a snapshot never interleave.
type Adapter struct {
	mutex      sync.Mutex
	backing    storage.Backing
	opts       Options
	indicators Indicators
	display    Display

	mode       Mode
	buf        *Buffer
	lastOpcode sm2m.Opcode
	flushes    uint64
	stats      *sm2m.Statistics
	trace      *sm2m.TraceWriter
}

// New creates an adapter in Ready mode.
func New(backing storage.Backing, opts Options) (*Adapter, error) {
	if backing == nil {
		return nil, fmt.Errorf("adapter requires a storage backing")
	}
	if opts.BufferSize == 0 {
		opts.BufferSize = DefaultBufferSize
	}
	buf, err := NewBuffer(opts.BufferSize)
	if err != nil {
		return nil, err
	}

	a := &Adapter{
		backing:    backing,
		opts:       opts,
		indicators: opts.Indicators,
		display:    opts.Display,
		mode:       ModeReady{},
		buf:        buf,
		stats:      sm2m.NewStatistics(),
	}
	if a.indicators == nil {
		a.indicators = nopIndicators{}
	}
	if a.display == nil {
		a.display = nopIndicators{}
	}
	return a, nil
}

// WithTrace records every handshake to w as a CBOR sequence.
func (a *Adapter) WithTrace(w io.Writer) *Adapter {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	if w == nil {
		a.trace = nil
	} else {
		a.trace = sm2m.NewTraceWriter(w)
	}
	return a
}

// Service runs one receive, handle, send cycle. It is the latch interrupt
// body.
func (a *Adapter) Service(t Transport) {
	t.Send(a.Handle(t.Receive()))
}

// Handle consumes one input event and returns the reply.
func (a *Adapter) Handle(ev sm2m.InputEvent) sm2m.OutputFrame {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	before := a.mode
	out := a.handle(ev)

	a.stats.Update(ev, out)
	if a.trace != nil {
		if err := a.trace.Record(ev, out, a.mode.String()); err != nil {
			logging.LogWarn(logging.ComponentAdapter, "trace write failed", "error", err)
		}
	}
	logging.LogDebug(logging.ComponentAdapter, "handshake",
		"event", ev.String(), "reply", out.String(), "from", before.String(), "to", a.mode.String())
	return out
}

// ManualReset returns the adapter to Ready without touching the bus.
func (a *Adapter) ManualReset() {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	logging.LogInfo(logging.ComponentAdapter, "manual reset", "from", a.mode.String())
	a.reset()
}

// Mode returns the current mode.
func (a *Adapter) Mode() Mode {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.mode
}

// Snapshot returns the current state for status reporting.
func (a *Adapter) Snapshot() Snapshot {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return Snapshot{
		Mode:       a.mode,
		LastOpcode: a.lastOpcode,
		Handshakes: a.stats.Handshakes,
		Errors:     a.stats.Errors,
		Flushes:    a.flushes,
		Attached:   a.backing.IsAttached(),
	}
}

// Statistics returns the handshake summary.
func (a *Adapter) Statistics() string {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.stats.String()
}

func (a *Adapter) handle(ev sm2m.InputEvent) sm2m.OutputFrame {
	switch ev.Kind {
	case sm2m.EventReset:
		return a.reset()
	case sm2m.EventStop:
		return a.stop()
	}

	switch m := a.mode.(type) {
	case ModeReady:
		return a.ready(ev.Word)
	case ModeAddress:
		return a.address(m, ev.Word)
	case ModeRead:
		return a.read(m)
	case ModeWrite:
		return a.write(m, ev.Word)
	case ModeError:
		return sm2m.ErrorFrame(m.Opcode)
	default:
		return a.failOp(sm2m.OpBadState)
	}
}

func (a *Adapter) reset() sm2m.OutputFrame {
	a.buf.Clear()
	a.mode = ModeReady{}
	a.indicators.SystemError(false)
	a.indicators.Write(false)
	a.indicators.Read(false)
	a.display.Show(0)
	return sm2m.Ack()
}

// stop flushes a pending write, then resets. A failed flush is reported
// instead of the acknowledgment and latches.
func (a *Adapter) stop() sm2m.OutputFrame {
	if m, ok := a.mode.(ModeWrite); ok && a.buf.Len() > 0 {
		if err := a.flush(m.Record); err != nil {
			a.buf.Clear()
			a.indicators.Write(false)
			a.indicators.Read(false)
			return a.fail(err)
		}
	}
	return a.reset()
}

func (a *Adapter) ready(word uint16) sm2m.OutputFrame {
	cmd := sm2m.DecodeCommand(word)
	switch cmd.Kind {
	case sm2m.CmdCheckStatus:
		if !a.backing.IsAttached() {
			return a.failOp(sm2m.OpSdmmcDetached)
		}
		return sm2m.Ack()
	case sm2m.CmdAddress:
		a.mode = ModeAddress{Record: sm2m.RecordName(cmd.Value, a.opts.DigitOrder)}
		return sm2m.Ack()
	default:
		return a.failOp(sm2m.OpUnhandledReadyCommand)
	}
}

func (a *Adapter) address(m ModeAddress, word uint16) sm2m.OutputFrame {
	switch sm2m.DecodeCommand(word).Kind {
	case sm2m.CmdRead:
		n, err := a.fill(m.Record, 0)
		if err != nil {
			return a.fail(err)
		}
		a.mode = ModeRead{Record: m.Record, Offset: int64(n)}
		a.indicators.Read(true)
		return sm2m.Ack()
	case sm2m.CmdWrite:
		if err := a.replace(m.Record); err != nil {
			return a.fail(err)
		}
		a.buf.Clear()
		a.mode = ModeWrite{Record: m.Record}
		a.indicators.Write(true)
		return sm2m.Ack()
	default:
		return a.failOp(sm2m.OpUnhandledAddressCommand)
	}
}

func (a *Adapter) read(m ModeRead) sm2m.OutputFrame {
	if a.buf.Exhausted() {
		n, err := a.fill(m.Record, m.Offset)
		if err != nil {
			return a.fail(err)
		}
		m.Offset += int64(n)
		a.mode = m
	}
	return sm2m.DataFrame(a.buf.PopWord())
}

func (a *Adapter) write(m ModeWrite, word uint16) sm2m.OutputFrame {
	a.buf.PushWord(word)
	if a.buf.Full() {
		if err := a.flush(m.Record); err != nil {
			return a.fail(err)
		}
	}
	return sm2m.Ack()
}

func (a *Adapter) fail(err error) sm2m.OutputFrame {
	op := OpcodeOf(err)
	logging.LogWarn(logging.ComponentAdapter, "storage error", "opcode", op.String(), "error", err)
	return a.failOp(op)
}

func (a *Adapter) failOp(op sm2m.Opcode) sm2m.OutputFrame {
	a.mode = ModeError{Opcode: op}
	a.lastOpcode = op
	a.indicators.SystemError(true)
	a.display.Show(uint8(op) & DisplayMask)
	return sm2m.ErrorFrame(op)
}

// fill loads the read window of name starting at offset.
func (a *Adapter) fill(name string, offset int64) (int, error) {
	h, err := a.backing.OpenRead(name)
	if err != nil {
		return 0, err
	}
	defer a.closeHandle(h)

	if offset > 0 {
		if err := a.backing.Seek(h, offset); err != nil {
			return 0, err
		}
	}
	return a.buf.Fill(func(p []byte) (int, error) {
		return a.backing.Read(h, p)
	})
}

// flush appends the pending bytes to name and empties the buffer.
func (a *Adapter) flush(name string) error {
	h, err := a.backing.OpenAppend(name)
	if err != nil {
		return err
	}
	pending := a.buf.Bytes()
	n, err := a.backing.Write(h, pending)
	if cerr := a.backing.Close(h); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	if n != len(pending) {
		return fmt.Errorf("%w: short write %d of %d", storage.ErrWriteFailed, n, len(pending))
	}

	a.flushes++
	a.buf.Clear()
	return nil
}

// replace removes an existing record before a write, backing it up first
// when configured.
func (a *Adapter) replace(name string) error {
	exists, err := a.backing.Exists(name)
	if err != nil || !exists {
		return err
	}
	if a.opts.WithBackup {
		if err := a.backup(name); err != nil {
			return err
		}
	}
	_, err = a.backing.Delete(name)
	return err
}

func (a *Adapter) backup(name string) error {
	bak := sm2m.BackupName(name)
	if _, err := a.backing.Delete(bak); err != nil {
		return err
	}

	src, err := a.backing.OpenRead(name)
	if err != nil {
		return err
	}
	defer a.closeHandle(src)

	dst, err := a.backing.OpenAppend(bak)
	if err != nil {
		return err
	}
	defer a.closeHandle(dst)

	chunk := make([]byte, backupChunk)
	for {
		n, err := a.backing.Read(src, chunk)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		if _, err := a.backing.Write(dst, chunk[:n]); err != nil {
			return err
		}
	}
}

func (a *Adapter) closeHandle(h storage.Handle) {
	if err := a.backing.Close(h); err != nil {
		logging.LogWarn(logging.ComponentAdapter, "close failed", "handle", int(h), "error", err)
	}
}
