// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"errors"
	"fmt"

	"github.com/Thermoquad/sm2mbridge/pkg/logging"
	"github.com/Thermoquad/sm2mbridge/pkg/sm2m"
)

// Buffer size limits accepted from the configuration file.
const (
	MinBufferSize = 1024
	MaxBufferSize = 64 * 1024
)

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config: nil configuration")
	}

	// ------------------------------------------------------------
	// ADAPTER
	// ------------------------------------------------------------

	if n := cfg.Adapter.BufferSize; n != 0 {
		if n < MinBufferSize || n > MaxBufferSize {
			return fmt.Errorf(
				"adapter: buffer_size %d out of range %d-%d",
				n, MinBufferSize, MaxBufferSize,
			)
		}
		if n%2 != 0 {
			return fmt.Errorf("adapter: buffer_size %d must be even", n)
		}
	}

	if _, err := sm2m.ParseDigitOrder(cfg.Adapter.DigitOrder); err != nil {
		return fmt.Errorf("adapter: %w", err)
	}

	// ------------------------------------------------------------
	// STORAGE
	// ------------------------------------------------------------

	if cfg.Storage.PollIntervalMs < 0 {
		return fmt.Errorf("storage: poll_interval_ms %d must not be negative", cfg.Storage.PollIntervalMs)
	}

	// ------------------------------------------------------------
	// TRANSPORT
	// ------------------------------------------------------------

	t := cfg.Transport
	set := 0
	for _, s := range []string{t.Port, t.URL, t.Listen} {
		if s != "" {
			set++
		}
	}
	if set > 1 {
		return errors.New("transport: only one of port, url and listen may be set")
	}
	if t.Baud < 0 {
		return fmt.Errorf("transport: baud %d must not be negative", t.Baud)
	}

	// ------------------------------------------------------------
	// EMULATOR
	// ------------------------------------------------------------

	if cfg.Emulator.Address > sm2m.MaxAddress {
		return fmt.Errorf(
			"emulator: address %d exceeds %d",
			cfg.Emulator.Address, sm2m.MaxAddress,
		)
	}
	if cfg.Emulator.Words < 0 {
		return fmt.Errorf("emulator: words %d must not be negative", cfg.Emulator.Words)
	}

	// ------------------------------------------------------------
	// STATUS (OPT-IN)
	// ------------------------------------------------------------

	if s := cfg.Status; s != nil {
		if s.Endpoint == "" {
			return errors.New("status: endpoint is required when status is configured")
		}
		if s.IntervalMs < 0 || s.TimeoutMs < 0 {
			return errors.New("status: interval_ms and timeout_ms must not be negative")
		}
	}

	// ------------------------------------------------------------
	// LOG
	// ------------------------------------------------------------

	if _, err := logging.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	if _, err := logging.ParseFormat(cfg.Log.Format); err != nil {
		return fmt.Errorf("log: %w", err)
	}

	return nil
}
