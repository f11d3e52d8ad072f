// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package storage

import (
	"fmt"
	"sort"
	"sync"
)

// Op names a Backing operation for fault injection and call counting.
type Op string

// Backing operations
const (
	OpExists     Op = "exists"
	OpOpenRead   Op = "open_read"
	OpOpenAppend Op = "open_append"
	OpDelete     Op = "delete"
	OpRead       Op = "read"
	OpWrite      Op = "write"
	OpSeek       Op = "seek"
	OpClose      Op = "close"
)

// DefaultMaxOpen matches the open-file limit of the card filesystem.
const DefaultMaxOpen = 4

type memHandle struct {
	name   string
	pos    int64
	append bool
}

// MemoryBacking is an in-memory Backing used by tests and co-simulation.
type MemoryBacking struct {
	mutex    sync.Mutex
	files    map[string][]byte
	handles  map[Handle]*memHandle
	next     Handle
	attached bool
	readOnly bool
	capacity int // 0 means unlimited
	maxOpen  int
	faults   map[Op]error
	calls    map[Op]int
}

// NewMemoryBacking creates an empty, attached backing.
func NewMemoryBacking() *MemoryBacking {
	return &MemoryBacking{
		files:    make(map[string][]byte),
		handles:  make(map[Handle]*memHandle),
		next:     1,
		attached: true,
		maxOpen:  DefaultMaxOpen,
		faults:   make(map[Op]error),
		calls:    make(map[Op]int),
	}
}

// SetAttached simulates inserting or removing the medium.
func (m *MemoryBacking) SetAttached(attached bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.attached = attached
	if !attached {
		m.handles = make(map[Handle]*memHandle)
	}
}

// SetReadOnly sets the write-protect flag.
func (m *MemoryBacking) SetReadOnly(readOnly bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.readOnly = readOnly
}

// SetCapacity limits the total stored bytes. Zero removes the limit.
func (m *MemoryBacking) SetCapacity(bytes int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.capacity = bytes
}

// SetFault makes every call of op fail with err. A nil err clears the fault.
func (m *MemoryBacking) SetFault(op Op, err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if err == nil {
		delete(m.faults, op)
		return
	}
	m.faults[op] = err
}

// Calls returns how many times op was invoked.
func (m *MemoryBacking) Calls(op Op) int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.calls[op]
}

// Put stores a record, replacing any existing content.
func (m *MemoryBacking) Put(name string, data []byte) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.files[name] = append([]byte(nil), data...)
}

// Contents returns a copy of a record.
func (m *MemoryBacking) Contents(name string) ([]byte, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	data, ok := m.files[name]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

// Names returns the stored record names in sorted order.
func (m *MemoryBacking) Names() []string {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	names := make([]string, 0, len(m.files))
	for name := range m.files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// OpenHandles returns the number of handles not yet closed.
func (m *MemoryBacking) OpenHandles() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return len(m.handles)
}

// IsAttached reports whether the medium is present.
func (m *MemoryBacking) IsAttached() bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.attached
}

// begin counts the call and returns the injected fault or detach error.
// Callers hold the mutex.
func (m *MemoryBacking) begin(op Op) error {
	m.calls[op]++
	if !m.attached {
		return ErrDetached
	}
	if err := m.faults[op]; err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (m *MemoryBacking) handle(h Handle) (*memHandle, error) {
	mh, ok := m.handles[h]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrInvalidHandle, h)
	}
	return mh, nil
}

func (m *MemoryBacking) isOpen(name string) bool {
	for _, mh := range m.handles {
		if mh.name == name {
			return true
		}
	}
	return false
}

func (m *MemoryBacking) used() int {
	total := 0
	for _, data := range m.files {
		total += len(data)
	}
	return total
}

func (m *MemoryBacking) open(name string, appendMode bool) (Handle, error) {
	if err := ValidateName(name); err != nil {
		return 0, err
	}
	if len(m.handles) >= m.maxOpen {
		return 0, ErrTooManyOpen
	}
	h := m.next
	m.next++
	m.handles[h] = &memHandle{name: name, append: appendMode}
	return h, nil
}

// Exists reports whether a record is present.
func (m *MemoryBacking) Exists(name string) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if err := m.begin(OpExists); err != nil {
		return false, err
	}
	_, ok := m.files[name]
	return ok, nil
}

// OpenRead opens an existing record for reading.
func (m *MemoryBacking) OpenRead(name string) (Handle, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if err := m.begin(OpOpenRead); err != nil {
		return 0, err
	}
	if _, ok := m.files[name]; !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return m.open(name, false)
}

// OpenAppend opens a record for appending, creating it if missing.
func (m *MemoryBacking) OpenAppend(name string) (Handle, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if err := m.begin(OpOpenAppend); err != nil {
		return 0, err
	}
	if m.readOnly {
		return 0, ErrReadOnly
	}
	h, err := m.open(name, true)
	if err != nil {
		return 0, err
	}
	if _, ok := m.files[name]; !ok {
		m.files[name] = nil
	}
	return h, nil
}

// Delete removes a record.
func (m *MemoryBacking) Delete(name string) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if err := m.begin(OpDelete); err != nil {
		return false, err
	}
	if _, ok := m.files[name]; !ok {
		return false, nil
	}
	if m.readOnly {
		return false, ErrReadOnly
	}
	if m.isOpen(name) {
		return false, fmt.Errorf("%w: %s", ErrRecordOpen, name)
	}
	delete(m.files, name)
	return true, nil
}

// Read fills buf from the handle position.
func (m *MemoryBacking) Read(h Handle, buf []byte) (int, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if err := m.begin(OpRead); err != nil {
		return 0, err
	}
	mh, err := m.handle(h)
	if err != nil {
		return 0, err
	}
	if mh.append {
		return 0, fmt.Errorf("%w: read on append handle", ErrUnsupported)
	}
	data := m.files[mh.name]
	if mh.pos >= int64(len(data)) {
		return 0, nil
	}
	n := copy(buf, data[mh.pos:])
	mh.pos += int64(n)
	return n, nil
}

// Write appends buf to the record.
func (m *MemoryBacking) Write(h Handle, buf []byte) (int, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if err := m.begin(OpWrite); err != nil {
		return 0, err
	}
	mh, err := m.handle(h)
	if err != nil {
		return 0, err
	}
	if !mh.append {
		return 0, fmt.Errorf("%w: write on read handle", ErrUnsupported)
	}

	n := len(buf)
	if m.capacity > 0 {
		if free := m.capacity - m.used(); free < n {
			n = max(free, 0)
		}
	}
	m.files[mh.name] = append(m.files[mh.name], buf[:n]...)
	if n < len(buf) {
		return n, ErrNoSpace
	}
	return n, nil
}

// Seek moves the read position.
func (m *MemoryBacking) Seek(h Handle, offset int64) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if err := m.begin(OpSeek); err != nil {
		return err
	}
	mh, err := m.handle(h)
	if err != nil {
		return err
	}
	if offset < 0 || offset > int64(len(m.files[mh.name])) {
		return fmt.Errorf("%w: %d", ErrInvalidOffset, offset)
	}
	mh.pos = offset
	return nil
}

// Close releases a handle.
func (m *MemoryBacking) Close(h Handle) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.calls[OpClose]++
	if err := m.faults[OpClose]; err != nil {
		delete(m.handles, h)
		return fmt.Errorf("%s: %w", OpClose, err)
	}
	if _, err := m.handle(h); err != nil {
		return err
	}
	delete(m.handles, h)
	return nil
}
