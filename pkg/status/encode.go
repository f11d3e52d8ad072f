// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package status

// Encode converts a Snapshot into a full status block.
// Counters are split high word first.
// No IO. No side effects.
func Encode(s Snapshot) []uint16 {
	regs := make([]uint16, BlockSize)

	regs[SlotHealth] = s.Health
	regs[SlotMode] = uint16(s.Mode)
	regs[SlotLastOpcode] = s.LastOpcode
	regs[SlotHandshakesHigh] = uint16(s.Handshakes >> 16)
	regs[SlotHandshakesLow] = uint16(s.Handshakes)
	regs[SlotErrorsHigh] = uint16(s.Errors >> 16)
	regs[SlotErrorsLow] = uint16(s.Errors)
	if s.Attached {
		regs[SlotAttached] = 1
	}
	regs[SlotSecondsInError] = s.SecondsInError

	return regs
}
