// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sm2m

import (
	"fmt"
	"strings"
)

// FormatTraceRecord formats a trace record as a single line
func FormatTraceRecord(r TraceRecord) string {
	timestamp := r.Timestamp().Format("15:04:05.000")
	return fmt.Sprintf("[%s] #%-6d %-14s -> %-28s mode=%s",
		timestamp, r.Seq, r.Input(), r.Output(), r.Mode)
}

// FormatLines formats a raw register snapshot decoded with layout
func FormatLines(layout Layout, raw Lines) string {
	word, ctrl := layout.Decode(raw)
	return fmt.Sprintf("%s raw=0x%08X bits=%s word=0x%04X ctrl=%s",
		layout.Name, uint32(raw), formatBits(raw), word, ctrl)
}

// FormatCommand describes what a device in Ready or Address mode would make
// of a decoded transfer.
func FormatCommand(word uint16, ctrl Control) string {
	ev := Classify(word, ctrl)
	if ev.Kind != EventData {
		return ev.String()
	}
	return DecodeCommand(word).String()
}

// formatBits groups the register in bytes, most significant first.
func formatBits(raw Lines) string {
	var sb strings.Builder
	for i := 31; i >= 0; i-- {
		if raw>>uint(i)&1 == 1 {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
		if i > 0 && i%8 == 0 {
			sb.WriteByte('_')
		}
	}
	return sb.String()
}
