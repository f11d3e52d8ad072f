// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package adapter

import "sync"

// Indicators are the activity lamps of the adapter.
type Indicators interface {
	SystemError(on bool)
	Write(on bool)
	Read(on bool)
}

// Display shows the low six bits of the latched opcode. Zero blanks it.
type Display interface {
	Show(code uint8)
}

// DisplayMask selects the opcode bits a Display can show.
const DisplayMask = 0x3F

type nopIndicators struct{}

func (nopIndicators) SystemError(bool) {}
func (nopIndicators) Write(bool)       {}
func (nopIndicators) Read(bool)        {}
func (nopIndicators) Show(uint8)       {}

// PanelState is a snapshot of a Panel
type PanelState struct {
	SystemError bool
	Write       bool
	Read        bool
	Display     uint8
}

// Panel records indicator and display state in memory. It backs the status
// mirror and the console.
type Panel struct {
	mutex sync.Mutex
	state PanelState
}

// NewPanel creates a panel with everything off.
func NewPanel() *Panel {
	return &Panel{}
}

func (p *Panel) SystemError(on bool) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.state.SystemError = on
}

func (p *Panel) Write(on bool) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.state.Write = on
}

func (p *Panel) Read(on bool) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.state.Read = on
}

func (p *Panel) Show(code uint8) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.state.Display = code & DisplayMask
}

// State returns the current panel state.
func (p *Panel) State() PanelState {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.state
}
