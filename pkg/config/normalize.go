// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"github.com/Thermoquad/sm2mbridge/pkg/adapter"
	"github.com/Thermoquad/sm2mbridge/pkg/storage"
)

// Defaults applied by Normalize.
const (
	DefaultBaud             = 115200
	DefaultStorageRoot      = "."
	DefaultEmulatorWords    = 1024
	DefaultStatusIntervalMs = 1000
	DefaultStatusTimeoutMs  = 1000
	DefaultLogLevel         = "warn"
	DefaultLogFormat        = "text"
)

// Normalize applies post-validation defaults.
// It is allowed to mutate configuration.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	if cfg.Adapter.BufferSize == 0 {
		cfg.Adapter.BufferSize = adapter.DefaultBufferSize
	}
	if cfg.Adapter.DigitOrder == "" {
		cfg.Adapter.DigitOrder = "legacy"
	}

	if cfg.Storage.Root == "" {
		cfg.Storage.Root = DefaultStorageRoot
	}
	if cfg.Storage.PollIntervalMs == 0 {
		cfg.Storage.PollIntervalMs = int(storage.DefaultPollInterval.Milliseconds())
	}

	if cfg.Transport.Baud == 0 {
		cfg.Transport.Baud = DefaultBaud
	}

	if cfg.Emulator.Words == 0 {
		cfg.Emulator.Words = DefaultEmulatorWords
	}

	if s := cfg.Status; s != nil {
		if s.IntervalMs == 0 {
			s.IntervalMs = DefaultStatusIntervalMs
		}
		if s.TimeoutMs == 0 {
			s.TimeoutMs = DefaultStatusTimeoutMs
		}
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
}
