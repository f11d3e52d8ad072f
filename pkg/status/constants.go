// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package status

// Status block layout constants.
// These values define the published register map and MUST NOT be
// configurable.

// ---- BLOCK GEOMETRY ----

// BlockSize is the number of holding registers in the status block.
const BlockSize = 10

// ---- SLOT INDICES ----

const (
	SlotHealth         = 0
	SlotMode           = 1
	SlotLastOpcode     = 2
	SlotHandshakesHigh = 3
	SlotHandshakesLow  = 4
	SlotErrorsHigh     = 5
	SlotErrorsLow      = 6
	SlotAttached       = 7
	SlotSecondsInError = 8
	SlotReserved       = 9
)

// ---- HEALTH CODES ----

const (
	HealthUnknown  uint16 = 0
	HealthOK       uint16 = 1
	HealthError    uint16 = 2 // adapter latched an error
	HealthDetached uint16 = 3 // no medium
)
