// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sm2m

import "fmt"

// Opcode is an error code sent on the wire with the ERROR line. Values are
// interpreted by deployed hosts and must never be renumbered.
type Opcode uint16

// Protocol opcodes
const (
	OpSdmmcDetached    Opcode = 1
	OpUnknownCommand   Opcode = 2
	OpUnhandledCommand Opcode = 3
)

// Card transport opcodes
const (
	OpTransport          Opcode = 4
	OpCantEnableCRC      Opcode = 5
	OpTimeoutReadBuffer  Opcode = 6
	OpTimeoutWaitNotBusy Opcode = 7
	OpTimeoutCommand     Opcode = 8
	OpTimeoutACommand    Opcode = 9
	OpCmd58Error         Opcode = 10
	OpRegisterReadError  Opcode = 11
	OpCrcError           Opcode = 12
	OpReadError          Opcode = 13
	OpWriteError         Opcode = 14
	OpBadState           Opcode = 15
	OpCardNotFound       Opcode = 16
	OpGpioError          Opcode = 17
)

// Filesystem opcodes
const (
	OpFormatError             Opcode = 18
	OpNoSuchVolume            Opcode = 19
	OpFilenameInvalidChar     Opcode = 20
	OpFilenameEmpty           Opcode = 21
	OpFilenameTooLong         Opcode = 22
	OpFilenameMisplacedPeriod Opcode = 23
	OpFilenameUtf8            Opcode = 24
	OpTooManyOpenDirs         Opcode = 25
	OpTooManyOpenFiles        Opcode = 26
	OpFileNotFound            Opcode = 27
	OpFileAlreadyOpen         Opcode = 28
	OpDirAlreadyOpen          Opcode = 29
	OpOpenedDirAsFile         Opcode = 30
	OpDeleteDirAsFile         Opcode = 31
	OpFileIsOpen              Opcode = 32
	OpUnsupported             Opcode = 33
	OpEndOfFile               Opcode = 34
	OpBadCluster              Opcode = 35
	OpConversionError         Opcode = 36
	OpNotEnoughSpace          Opcode = 37
	OpAllocationError         Opcode = 38
	OpJumpedFree              Opcode = 39
	OpReadOnly                Opcode = 40
	OpFileAlreadyExists       Opcode = 41
	OpBadBlockSize            Opcode = 42
	OpNotInBlock              Opcode = 43
	OpInvalidOffset           Opcode = 44
)

// Per-state protocol opcodes
const (
	OpUnhandledReadyCommand   Opcode = 45
	OpUnhandledAddressCommand Opcode = 46
)

var opcodeNames = map[Opcode]string{
	OpSdmmcDetached:           "SDMMC_DETACHED",
	OpUnknownCommand:          "UNKNOWN_COMMAND",
	OpUnhandledCommand:        "UNHANDLED_COMMAND",
	OpTransport:               "TRANSPORT",
	OpCantEnableCRC:           "CANT_ENABLE_CRC",
	OpTimeoutReadBuffer:       "TIMEOUT_READ_BUFFER",
	OpTimeoutWaitNotBusy:      "TIMEOUT_WAIT_NOT_BUSY",
	OpTimeoutCommand:          "TIMEOUT_COMMAND",
	OpTimeoutACommand:         "TIMEOUT_ACOMMAND",
	OpCmd58Error:              "CMD58_ERROR",
	OpRegisterReadError:       "REGISTER_READ_ERROR",
	OpCrcError:                "CRC_ERROR",
	OpReadError:               "READ_ERROR",
	OpWriteError:              "WRITE_ERROR",
	OpBadState:                "BAD_STATE",
	OpCardNotFound:            "CARD_NOT_FOUND",
	OpGpioError:               "GPIO_ERROR",
	OpFormatError:             "FORMAT_ERROR",
	OpNoSuchVolume:            "NO_SUCH_VOLUME",
	OpFilenameInvalidChar:     "FILENAME_INVALID_CHAR",
	OpFilenameEmpty:           "FILENAME_EMPTY",
	OpFilenameTooLong:         "FILENAME_TOO_LONG",
	OpFilenameMisplacedPeriod: "FILENAME_MISPLACED_PERIOD",
	OpFilenameUtf8:            "FILENAME_UTF8",
	OpTooManyOpenDirs:         "TOO_MANY_OPEN_DIRS",
	OpTooManyOpenFiles:        "TOO_MANY_OPEN_FILES",
	OpFileNotFound:            "FILE_NOT_FOUND",
	OpFileAlreadyOpen:         "FILE_ALREADY_OPEN",
	OpDirAlreadyOpen:          "DIR_ALREADY_OPEN",
	OpOpenedDirAsFile:         "OPENED_DIR_AS_FILE",
	OpDeleteDirAsFile:         "DELETE_DIR_AS_FILE",
	OpFileIsOpen:              "FILE_IS_OPEN",
	OpUnsupported:             "UNSUPPORTED",
	OpEndOfFile:               "END_OF_FILE",
	OpBadCluster:              "BAD_CLUSTER",
	OpConversionError:         "CONVERSION_ERROR",
	OpNotEnoughSpace:          "NOT_ENOUGH_SPACE",
	OpAllocationError:         "ALLOCATION_ERROR",
	OpJumpedFree:              "JUMPED_FREE",
	OpReadOnly:                "READ_ONLY",
	OpFileAlreadyExists:       "FILE_ALREADY_EXISTS",
	OpBadBlockSize:            "BAD_BLOCK_SIZE",
	OpNotInBlock:              "NOT_IN_BLOCK",
	OpInvalidOffset:           "INVALID_OFFSET",
	OpUnhandledReadyCommand:   "UNHANDLED_READY_COMMAND",
	OpUnhandledAddressCommand: "UNHANDLED_ADDRESS_COMMAND",
}

// String returns the opcode name, or UNKNOWN_0xNNNN for unassigned values.
func (o Opcode) String() string {
	if name, ok := opcodeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN_0x%04X", uint16(o))
}

// Known reports whether o is an assigned opcode.
func (o Opcode) Known() bool {
	_, ok := opcodeNames[o]
	return ok
}
