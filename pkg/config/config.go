// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads the bridge configuration file.
//
// The flow is Load, then Validate (declarative, never mutates), then
// Normalize (fills defaults). Command line flags are applied by the caller
// after Normalize.
package config

import "time"

type Config struct {
	Adapter   AdapterConfig   `yaml:"adapter"`
	Storage   StorageConfig   `yaml:"storage"`
	Transport TransportConfig `yaml:"transport"`
	Emulator  EmulatorConfig  `yaml:"emulator"`
	Status    *StatusConfig   `yaml:"status"` // opt-in
	Log       LogConfig       `yaml:"log"`
	Trace     TraceConfig     `yaml:"trace"`
}

// ---- ADAPTER ----

type AdapterConfig struct {
	BufferSize int    `yaml:"buffer_size"` // bytes, even
	WithBackup bool   `yaml:"with_backup"`
	DigitOrder string `yaml:"digit_order"` // legacy | natural
}

// ---- STORAGE ----

type StorageConfig struct {
	Root           string `yaml:"root"`
	PollIntervalMs int    `yaml:"poll_interval_ms"`
}

// PollInterval returns the attachment poll period.
func (s StorageConfig) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalMs) * time.Millisecond
}

// ---- TRANSPORT ----

// TransportConfig selects the line tunnel. At most one of Port, URL and
// Listen may be set.
type TransportConfig struct {
	Port        string `yaml:"port"`
	Baud        int    `yaml:"baud"`
	URL         string `yaml:"url"`
	Listen      string `yaml:"listen"`
	Username    string `yaml:"username"`
	NoSSLVerify bool   `yaml:"no_ssl_verify"`
}

// ---- EMULATOR ----

type EmulatorConfig struct {
	Address       uint16 `yaml:"address"`
	Words         int    `yaml:"words"`
	AutoIncrement bool   `yaml:"auto_increment"`
	Debug         bool   `yaml:"debug"`
}

// ---- STATUS ----

type StatusConfig struct {
	Endpoint   string `yaml:"endpoint"`
	UnitID     uint8  `yaml:"unit_id"`
	Register   uint16 `yaml:"register"`
	IntervalMs int    `yaml:"interval_ms"`
	TimeoutMs  int    `yaml:"timeout_ms"`
}

// Interval returns the publish period.
func (s StatusConfig) Interval() time.Duration {
	return time.Duration(s.IntervalMs) * time.Millisecond
}

// Timeout returns the Modbus request timeout.
func (s StatusConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutMs) * time.Millisecond
}

// ---- LOG / TRACE ----

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type TraceConfig struct {
	Path string `yaml:"path"`
}
