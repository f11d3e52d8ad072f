// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package adapter

import (
	"errors"
	"io"

	"github.com/Thermoquad/sm2mbridge/pkg/sm2m"
	"github.com/Thermoquad/sm2mbridge/pkg/storage"
)

var opcodeTable = []struct {
	err error
	op  sm2m.Opcode
}{
	{storage.ErrDetached, sm2m.OpSdmmcDetached},
	{storage.ErrNotFound, sm2m.OpFileNotFound},
	{storage.ErrAlreadyExists, sm2m.OpFileAlreadyExists},
	{storage.ErrEmptyName, sm2m.OpFilenameEmpty},
	{storage.ErrInvalidName, sm2m.OpFilenameInvalidChar},
	{storage.ErrNameTooLong, sm2m.OpFilenameTooLong},
	{storage.ErrTooManyOpen, sm2m.OpTooManyOpenFiles},
	{storage.ErrRecordOpen, sm2m.OpFileIsOpen},
	{storage.ErrInvalidHandle, sm2m.OpBadState},
	{storage.ErrInvalidOffset, sm2m.OpInvalidOffset},
	{storage.ErrReadOnly, sm2m.OpReadOnly},
	{storage.ErrNoSpace, sm2m.OpNotEnoughSpace},
	{storage.ErrReadFailed, sm2m.OpReadError},
	{storage.ErrWriteFailed, sm2m.OpWriteError},
	{storage.ErrUnsupported, sm2m.OpUnsupported},
	{io.ErrUnexpectedEOF, sm2m.OpEndOfFile},
}

// OpcodeOf classifies a storage error. Errors outside the storage taxonomy
// map to OpTransport.
func OpcodeOf(err error) sm2m.Opcode {
	for _, e := range opcodeTable {
		if errors.Is(err, e.err) {
			return e.op
		}
	}
	return sm2m.OpTransport
}
