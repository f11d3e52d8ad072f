// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package emulator

import (
	"context"
	"fmt"

	"github.com/Thermoquad/sm2mbridge/pkg/bus"
)

// RunDebug walks the current session one Step per trigger. It returns when
// the session finishes, the trigger channel closes or ctx is cancelled.
func (e *Emulator) RunDebug(ctx context.Context, trigger <-chan struct{}) error {
	for !e.Finished() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-trigger:
			if !ok {
				return nil
			}
			e.Step()
		}
	}
	return e.Err()
}

// RunFreeRun steps the current session once per reply edge reported by
// waiter until it finishes. The session must already be started, which
// latches the RESET whose reply is the first edge.
func (e *Emulator) RunFreeRun(ctx context.Context, waiter bus.ReplyWaiter) error {
	for !e.Finished() {
		if err := waiter.WaitReply(ctx); err != nil {
			return fmt.Errorf("waiting for reply in state %s: %w", e.State(), err)
		}
		e.Step()
	}
	return e.Err()
}
