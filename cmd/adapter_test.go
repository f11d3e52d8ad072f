// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"testing"

	"github.com/Thermoquad/sm2mbridge/pkg/adapter"
	"github.com/Thermoquad/sm2mbridge/pkg/status"
	"github.com/Thermoquad/sm2mbridge/pkg/storage"
)

// ============================================================
// Status source
// ============================================================

func TestStatusSource_UsesPolledPresence(t *testing.T) {
	backing := storage.NewMemoryBacking()
	a, err := adapter.New(backing, adapter.Options{})
	if err != nil {
		t.Fatalf("adapter.New: %v", err)
	}
	poller := storage.NewPoller(backing, 0, nil)
	source := statusSource(a, poller)

	if s := source(); s.Attached || s.Health != status.HealthDetached {
		t.Errorf("before first poll: attached=%v health=%d, want detached", s.Attached, s.Health)
	}

	poller.Poll()
	if s := source(); !s.Attached || s.Health != status.HealthOK {
		t.Errorf("after poll: attached=%v health=%d, want ok", s.Attached, s.Health)
	}

	// presence changes are only seen on the next poll
	backing.SetAttached(false)
	if s := source(); !s.Attached {
		t.Error("source queried the backing directly")
	}
	poller.Poll()
	if s := source(); s.Attached || s.Health != status.HealthDetached {
		t.Errorf("after detach poll: attached=%v health=%d, want detached", s.Attached, s.Health)
	}
}
