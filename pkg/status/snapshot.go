// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package status

import (
	"github.com/Thermoquad/sm2mbridge/pkg/adapter"
)

// Snapshot is exactly what the publisher delivers. It carries no history
// beyond the counters.
type Snapshot struct {
	Health         uint16
	Mode           adapter.ModeKind
	LastOpcode     uint16
	Handshakes     uint32
	Errors         uint32
	Attached       bool
	SecondsInError uint16
}

// FromAdapter derives a status snapshot from the adapter state.
func FromAdapter(a adapter.Snapshot) Snapshot {
	s := Snapshot{
		Mode:       adapter.KindReady,
		LastOpcode: uint16(a.LastOpcode),
		Handshakes: uint32(a.Handshakes),
		Errors:     uint32(a.Errors),
		Attached:   a.Attached,
	}
	if a.Mode != nil {
		s.Mode = a.Mode.Kind()
	}

	switch {
	case !a.Attached:
		s.Health = HealthDetached
	case s.Mode == adapter.KindError:
		s.Health = HealthError
	default:
		s.Health = HealthOK
	}
	return s
}
