// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package storage

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
)

// ============================================================
// Shared Backing Behaviour
// ============================================================

func backings(t *testing.T) map[string]Backing {
	return map[string]Backing{
		"memory": NewMemoryBacking(),
		"dir":    NewDirBacking(t.TempDir()),
		"memfs":  memFsBacking(t),
	}
}

func memFsBacking(t *testing.T) *DirBacking {
	t.Helper()
	fsys := afero.NewMemMapFs()
	if err := fsys.MkdirAll("/card", 0o755); err != nil {
		t.Fatal(err)
	}
	return NewFsBacking(fsys, "/card")
}

func readAll(t *testing.T, b Backing, name string) []byte {
	t.Helper()
	h, err := b.OpenRead(name)
	if err != nil {
		t.Fatalf("OpenRead(%s): %v", name, err)
	}
	defer b.Close(h)

	var out []byte
	buf := make([]byte, 7)
	for {
		n, err := b.Read(h, buf)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		if n == 0 {
			return out
		}
		out = append(out, buf[:n]...)
	}
}

func TestBacking_AppendReadDelete(t *testing.T) {
	for name, b := range backings(t) {
		t.Run(name, func(t *testing.T) {
			if ok, err := b.Exists("21"); err != nil || ok {
				t.Fatalf("Exists on empty = %v, %v", ok, err)
			}

			for _, chunk := range [][]byte{[]byte("hello "), []byte("world")} {
				h, err := b.OpenAppend("21")
				if err != nil {
					t.Fatalf("OpenAppend: %v", err)
				}
				if n, err := b.Write(h, chunk); err != nil || n != len(chunk) {
					t.Fatalf("Write = %d, %v", n, err)
				}
				if err := b.Close(h); err != nil {
					t.Fatalf("Close: %v", err)
				}
			}

			if got := readAll(t, b, "21"); string(got) != "hello world" {
				t.Errorf("content = %q", got)
			}

			deleted, err := b.Delete("21")
			if err != nil || !deleted {
				t.Fatalf("Delete = %v, %v", deleted, err)
			}
			deleted, err = b.Delete("21")
			if err != nil || deleted {
				t.Errorf("second Delete = %v, %v", deleted, err)
			}
		})
	}
}

func TestBacking_SeekAndEnd(t *testing.T) {
	for name, b := range backings(t) {
		t.Run(name, func(t *testing.T) {
			h, err := b.OpenAppend("5")
			if err != nil {
				t.Fatal(err)
			}
			b.Write(h, []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9})
			b.Close(h)

			h, err = b.OpenRead("5")
			if err != nil {
				t.Fatal(err)
			}
			defer b.Close(h)

			if err := b.Seek(h, 6); err != nil {
				t.Fatalf("Seek: %v", err)
			}
			buf := make([]byte, 8)
			n, err := b.Read(h, buf)
			if err != nil || !bytes.Equal(buf[:n], []byte{6, 7, 8, 9}) {
				t.Errorf("Read after seek = % X, %v", buf[:n], err)
			}
			n, err = b.Read(h, buf)
			if n != 0 || err != nil {
				t.Errorf("Read at end = %d, %v; want 0, nil", n, err)
			}
		})
	}
}

func TestBacking_OpenReadMissing(t *testing.T) {
	for name, b := range backings(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := b.OpenRead("404"); !errors.Is(err, ErrNotFound) {
				t.Errorf("OpenRead missing = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestBacking_InvalidNames(t *testing.T) {
	for name, b := range backings(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := b.OpenAppend("../x"); !errors.Is(err, ErrInvalidName) {
				t.Errorf("path traversal = %v", err)
			}
			if _, err := b.OpenAppend("123456789"); !errors.Is(err, ErrNameTooLong) {
				t.Errorf("long name = %v", err)
			}
		})
	}
}

func TestBacking_TooManyOpen(t *testing.T) {
	for name, b := range backings(t) {
		t.Run(name, func(t *testing.T) {
			var handles []Handle
			for i := 0; i < DefaultMaxOpen; i++ {
				h, err := b.OpenAppend(string(rune('1' + i)))
				if err != nil {
					t.Fatalf("open %d: %v", i, err)
				}
				handles = append(handles, h)
			}
			if _, err := b.OpenAppend("9"); !errors.Is(err, ErrTooManyOpen) {
				t.Errorf("extra open = %v, want ErrTooManyOpen", err)
			}
			for _, h := range handles {
				b.Close(h)
			}
			if _, err := b.Read(handles[0], make([]byte, 1)); !errors.Is(err, ErrInvalidHandle) {
				t.Errorf("read on closed handle = %v", err)
			}
		})
	}
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name string
		want error
	}{
		{"0", nil},
		{"53556", nil},
		{"53556.bak", nil},
		{"", ErrEmptyName},
		{".bak", ErrInvalidName},
		{"1.", ErrInvalidName},
		{"1.2.3", ErrInvalidName},
		{"a b", ErrInvalidName},
		{"123456789", ErrNameTooLong},
		{"1.back", ErrNameTooLong},
	}
	for _, tt := range tests {
		err := ValidateName(tt.name)
		if tt.want == nil && err != nil {
			t.Errorf("ValidateName(%q) = %v", tt.name, err)
		}
		if tt.want != nil && !errors.Is(err, tt.want) {
			t.Errorf("ValidateName(%q) = %v, want %v", tt.name, err, tt.want)
		}
	}
}

// ============================================================
// Memory Backing
// ============================================================

func TestMemoryBacking_Detach(t *testing.T) {
	m := NewMemoryBacking()
	m.Put("1", []byte{1})
	h, err := m.OpenRead("1")
	if err != nil {
		t.Fatal(err)
	}

	m.SetAttached(false)
	if m.IsAttached() {
		t.Fatal("still attached")
	}
	if _, err := m.Exists("1"); !errors.Is(err, ErrDetached) {
		t.Errorf("Exists while detached = %v", err)
	}
	if _, err := m.Read(h, make([]byte, 1)); !errors.Is(err, ErrDetached) {
		t.Errorf("Read while detached = %v", err)
	}

	m.SetAttached(true)
	if m.OpenHandles() != 0 {
		t.Errorf("handles survived detach: %d", m.OpenHandles())
	}
	if data, ok := m.Contents("1"); !ok || !bytes.Equal(data, []byte{1}) {
		t.Errorf("content lost: %v %v", data, ok)
	}
}

func TestMemoryBacking_Faults(t *testing.T) {
	m := NewMemoryBacking()
	boom := errors.New("boom")
	m.SetFault(OpWrite, boom)

	h, err := m.OpenAppend("1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Write(h, []byte{1}); !errors.Is(err, boom) {
		t.Errorf("Write = %v, want injected fault", err)
	}
	m.SetFault(OpWrite, nil)
	if _, err := m.Write(h, []byte{1}); err != nil {
		t.Errorf("Write after clearing fault = %v", err)
	}
	if m.Calls(OpWrite) != 2 || m.Calls(OpOpenAppend) != 1 {
		t.Errorf("calls: write=%d open=%d", m.Calls(OpWrite), m.Calls(OpOpenAppend))
	}
}

func TestMemoryBacking_Capacity(t *testing.T) {
	m := NewMemoryBacking()
	m.SetCapacity(4)
	h, _ := m.OpenAppend("1")
	n, err := m.Write(h, []byte{1, 2, 3, 4, 5, 6})
	if n != 4 || !errors.Is(err, ErrNoSpace) {
		t.Errorf("Write = %d, %v; want 4, ErrNoSpace", n, err)
	}
}

func TestMemoryBacking_ReadOnlyAndOpenDelete(t *testing.T) {
	m := NewMemoryBacking()
	m.Put("1", []byte{1})
	h, _ := m.OpenRead("1")
	if _, err := m.Delete("1"); !errors.Is(err, ErrRecordOpen) {
		t.Errorf("Delete open record = %v", err)
	}
	m.Close(h)

	m.SetReadOnly(true)
	if _, err := m.OpenAppend("2"); !errors.Is(err, ErrReadOnly) {
		t.Errorf("OpenAppend read-only = %v", err)
	}
	if _, err := m.Delete("1"); !errors.Is(err, ErrReadOnly) {
		t.Errorf("Delete read-only = %v", err)
	}
	if names := m.Names(); len(names) != 1 || names[0] != "1" {
		t.Errorf("Names = %v", names)
	}
}

// ============================================================
// Directory Backing
// ============================================================

func TestDirBacking_Attachment(t *testing.T) {
	root := filepath.Join(t.TempDir(), "card")
	d := NewDirBacking(root)
	if d.IsAttached() {
		t.Fatal("attached before mount")
	}
	if _, err := d.Exists("1"); !errors.Is(err, ErrDetached) {
		t.Errorf("Exists unmounted = %v", err)
	}
	if err := os.Mkdir(root, 0o755); err != nil {
		t.Fatal(err)
	}
	if !d.IsAttached() {
		t.Fatal("not attached after mount")
	}
}

func TestDirBacking_WritesFiles(t *testing.T) {
	d := NewDirBacking(t.TempDir())
	h, err := d.OpenAppend("21")
	if err != nil {
		t.Fatal(err)
	}
	d.Write(h, []byte("abc"))
	d.Close(h)

	data, err := os.ReadFile(filepath.Join(d.Root(), "21"))
	if err != nil || string(data) != "abc" {
		t.Errorf("file content = %q, %v", data, err)
	}
}

func TestFsBacking_Unmount(t *testing.T) {
	fsys := afero.NewMemMapFs()
	d := NewFsBacking(fsys, "/card")
	if d.IsAttached() {
		t.Fatal("attached before mount")
	}
	if err := fsys.MkdirAll("/card", 0o755); err != nil {
		t.Fatal(err)
	}
	if !d.IsAttached() {
		t.Fatal("not attached after mount")
	}

	h, err := d.OpenAppend("7")
	if err != nil {
		t.Fatal(err)
	}
	d.Write(h, []byte{1, 2})
	d.Close(h)
	if data, err := afero.ReadFile(fsys, "/card/7"); err != nil || !bytes.Equal(data, []byte{1, 2}) {
		t.Errorf("file content = % X, %v", data, err)
	}

	if err := fsys.RemoveAll("/card"); err != nil {
		t.Fatal(err)
	}
	if _, err := d.OpenRead("7"); !errors.Is(err, ErrDetached) {
		t.Errorf("OpenRead after unmount = %v, want ErrDetached", err)
	}
}

// ============================================================
// Poller
// ============================================================

type flipDetector struct {
	mutex    sync.Mutex
	attached bool
}

func (f *flipDetector) IsAttached() bool {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.attached
}

func (f *flipDetector) set(v bool) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.attached = v
}

func TestPoller_ReportsTransitions(t *testing.T) {
	det := &flipDetector{attached: true}
	var changes []bool
	p := NewPoller(det, time.Millisecond, func(a bool) { changes = append(changes, a) })

	p.Poll()
	p.Poll()
	det.set(false)
	p.Poll()
	p.Poll()
	det.set(true)
	p.Poll()

	want := []bool{true, false, true}
	if len(changes) != len(want) {
		t.Fatalf("changes = %v, want %v", changes, want)
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Fatalf("changes = %v, want %v", changes, want)
		}
	}
	if !p.Attached() {
		t.Error("Attached() = false")
	}
}

func TestPoller_RunStopsOnCancel(t *testing.T) {
	det := &flipDetector{attached: true}
	seen := make(chan bool, 16)
	p := NewPoller(det, time.Millisecond, func(a bool) {
		select {
		case seen <- a:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	if a := <-seen; !a {
		t.Fatal("initial state not reported")
	}
	det.set(false)
	select {
	case a := <-seen:
		if a {
			t.Error("expected detach")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("detach not observed")
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run = %v", err)
	}
}
