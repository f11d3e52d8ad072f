// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package storage defines the record store consumed by the adapter and ships
// an in-memory backing and a directory backing.
package storage

import "errors"

// Handle identifies an open record. Handles are only meaningful to the
// backing that issued them.
type Handle int

// Backing is the record store behind the adapter. Record names are short
// decimal strings, optionally with a ".bak" suffix.
type Backing interface {
	// IsAttached reports whether the medium is present.
	IsAttached() bool

	// Exists reports whether a record is present.
	Exists(name string) (bool, error)

	// OpenRead opens an existing record for reading from offset 0.
	OpenRead(name string) (Handle, error)

	// OpenAppend opens a record for appending, creating it if missing.
	OpenAppend(name string) (Handle, error)

	// Delete removes a record. It reports false if the record was missing.
	Delete(name string) (bool, error)

	// Read fills buf from the current position. It returns 0, nil at the
	// end of the record.
	Read(h Handle, buf []byte) (int, error)

	// Write appends buf and returns the number of bytes written.
	Write(h Handle, buf []byte) (int, error)

	// Seek moves the read position to an absolute offset.
	Seek(h Handle, offset int64) error

	// Close releases a handle.
	Close(h Handle) error
}

// Storage errors. Backings wrap these so callers can classify failures with
// errors.Is.
var (
	ErrDetached      = errors.New("medium detached")
	ErrNotFound      = errors.New("record not found")
	ErrAlreadyExists = errors.New("record already exists")
	ErrInvalidName   = errors.New("invalid record name")
	ErrNameTooLong   = errors.New("record name too long")
	ErrEmptyName     = errors.New("empty record name")
	ErrTooManyOpen   = errors.New("too many open records")
	ErrRecordOpen    = errors.New("record is open")
	ErrInvalidHandle = errors.New("invalid handle")
	ErrInvalidOffset = errors.New("invalid offset")
	ErrReadOnly      = errors.New("medium is read-only")
	ErrNoSpace       = errors.New("not enough space")
	ErrReadFailed    = errors.New("read failed")
	ErrWriteFailed   = errors.New("write failed")
	ErrUnsupported   = errors.New("unsupported operation")
)
