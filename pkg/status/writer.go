// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package status

import (
	"errors"
	"sync"
	"time"

	"github.com/goburrow/modbus"
)

// RegisterWriter delivers holding registers to a unit.
type RegisterWriter interface {
	WriteRegisters(unitID uint8, addr uint16, regs []uint16) error
}

// ModbusWriter is a single Modbus TCP connection. It serializes requests
// because the unit id lives on the shared handler.
type ModbusWriter struct {
	mu      sync.Mutex
	handler *modbus.TCPClientHandler
	client  modbus.Client
}

// NewModbusWriter connects to endpoint (host:port).
func NewModbusWriter(endpoint string, timeout time.Duration) (*ModbusWriter, error) {
	if endpoint == "" {
		return nil, errors.New("status modbus: endpoint required")
	}

	h := modbus.NewTCPClientHandler(endpoint)
	h.Timeout = timeout

	if err := h.Connect(); err != nil {
		return nil, err
	}

	return &ModbusWriter{
		handler: h,
		client:  modbus.NewClient(h),
	}, nil
}

// Close drops the connection.
func (w *ModbusWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.handler.Close()
}

// WriteRegisters writes regs starting at addr with function code 16.
func (w *ModbusWriter) WriteRegisters(unitID uint8, addr uint16, regs []uint16) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.handler.SlaveId = unitID

	_, err := w.client.WriteMultipleRegisters(addr, uint16(len(regs)), packRegisters(regs))
	return err
}

// packRegisters lays registers out big-endian as Modbus requires.
func packRegisters(regs []uint16) []byte {
	out := make([]byte, len(regs)*2)
	for i, r := range regs {
		out[2*i] = byte(r >> 8)
		out[2*i+1] = byte(r)
	}
	return out
}
