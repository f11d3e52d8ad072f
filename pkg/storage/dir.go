// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/spf13/afero"
)

// DirBacking stores records as files in a directory, typically the mount
// point of the card on a bench rig. The medium counts as attached while the
// directory exists.
type DirBacking struct {
	fs      afero.Fs
	root    string
	mutex   sync.Mutex
	handles map[Handle]afero.File
	next    Handle
	maxOpen int
}

// NewDirBacking creates a backing rooted at dir on the host filesystem. The
// directory does not need to exist yet.
func NewDirBacking(dir string) *DirBacking {
	return NewFsBacking(afero.NewOsFs(), dir)
}

// NewFsBacking creates a backing rooted at dir on fsys.
func NewFsBacking(fsys afero.Fs, dir string) *DirBacking {
	return &DirBacking{
		fs:      fsys,
		root:    dir,
		handles: make(map[Handle]afero.File),
		next:    1,
		maxOpen: DefaultMaxOpen,
	}
}

// Root returns the backing directory.
func (d *DirBacking) Root() string {
	return d.root
}

// IsAttached reports whether the directory exists.
func (d *DirBacking) IsAttached() bool {
	info, err := d.fs.Stat(d.root)
	return err == nil && info.IsDir()
}

func (d *DirBacking) path(name string) (string, error) {
	if !d.IsAttached() {
		return "", ErrDetached
	}
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return filepath.Join(d.root, name), nil
}

// mapError translates filesystem errors into storage errors.
func mapError(op Op, name string, err error) error {
	if err == nil {
		return nil
	}
	var kind error
	switch {
	case errors.Is(err, fs.ErrNotExist):
		kind = ErrNotFound
	case errors.Is(err, fs.ErrExist):
		kind = ErrAlreadyExists
	case errors.Is(err, fs.ErrPermission), errors.Is(err, syscall.EROFS):
		kind = ErrReadOnly
	case errors.Is(err, syscall.ENOSPC):
		kind = ErrNoSpace
	case errors.Is(err, syscall.EMFILE), errors.Is(err, syscall.ENFILE):
		kind = ErrTooManyOpen
	case errors.Is(err, syscall.ENAMETOOLONG):
		kind = ErrNameTooLong
	case op == OpRead:
		kind = ErrReadFailed
	case op == OpWrite:
		kind = ErrWriteFailed
	default:
		return fmt.Errorf("%s %s: %w", op, name, err)
	}
	return fmt.Errorf("%s %s: %w: %v", op, name, kind, err)
}

func (d *DirBacking) register(f afero.File) (Handle, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if len(d.handles) >= d.maxOpen {
		f.Close()
		return 0, ErrTooManyOpen
	}
	h := d.next
	d.next++
	d.handles[h] = f
	return h, nil
}

func (d *DirBacking) file(h Handle) (afero.File, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	f, ok := d.handles[h]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrInvalidHandle, h)
	}
	return f, nil
}

// Exists reports whether a record is present.
func (d *DirBacking) Exists(name string) (bool, error) {
	p, err := d.path(name)
	if err != nil {
		return false, err
	}
	_, err = d.fs.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, mapError(OpExists, name, err)
	}
	return true, nil
}

// OpenRead opens an existing record for reading.
func (d *DirBacking) OpenRead(name string) (Handle, error) {
	p, err := d.path(name)
	if err != nil {
		return 0, err
	}
	f, err := d.fs.Open(p)
	if err != nil {
		return 0, mapError(OpOpenRead, name, err)
	}
	return d.register(f)
}

// OpenAppend opens a record for appending, creating it if missing.
func (d *DirBacking) OpenAppend(name string) (Handle, error) {
	p, err := d.path(name)
	if err != nil {
		return 0, err
	}
	f, err := d.fs.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return 0, mapError(OpOpenAppend, name, err)
	}
	return d.register(f)
}

// Delete removes a record.
func (d *DirBacking) Delete(name string) (bool, error) {
	p, err := d.path(name)
	if err != nil {
		return false, err
	}
	err = d.fs.Remove(p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, mapError(OpDelete, name, err)
	}
	return true, nil
}

// Read fills buf from the current position.
func (d *DirBacking) Read(h Handle, buf []byte) (int, error) {
	f, err := d.file(h)
	if err != nil {
		return 0, err
	}
	n, err := f.Read(buf)
	if errors.Is(err, io.EOF) {
		return n, nil
	}
	return n, mapError(OpRead, f.Name(), err)
}

// Write appends buf to the record.
func (d *DirBacking) Write(h Handle, buf []byte) (int, error) {
	f, err := d.file(h)
	if err != nil {
		return 0, err
	}
	n, err := f.Write(buf)
	return n, mapError(OpWrite, f.Name(), err)
}

// Seek moves the read position.
func (d *DirBacking) Seek(h Handle, offset int64) error {
	f, err := d.file(h)
	if err != nil {
		return err
	}
	if offset < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidOffset, offset)
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return mapError(OpSeek, f.Name(), err)
	}
	return nil
}

// Close releases a handle.
func (d *DirBacking) Close(h Handle) error {
	d.mutex.Lock()
	f, ok := d.handles[h]
	delete(d.handles, h)
	d.mutex.Unlock()

	if !ok {
		return fmt.Errorf("%w: %d", ErrInvalidHandle, h)
	}
	return mapError(OpClose, f.Name(), f.Close())
}
