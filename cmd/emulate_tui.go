// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Thermoquad/sm2mbridge/pkg/bus"
	"github.com/Thermoquad/sm2mbridge/pkg/emulator"
	"github.com/Thermoquad/sm2mbridge/pkg/sm2m"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

const (
	consoleRefresh = 100 * time.Millisecond
	maxWords       = 1 << 20
)

// Focus states
const (
	focusAddressInput = iota
	focusWordsInput
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// eventLogEntry is one line of the console event log
type eventLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for information
}

// consoleLamp forwards fault lamp changes to the program
type consoleLamp struct {
	console *emulateConsole
}

func (l consoleLamp) Set(on bool) {
	if l.console.program != nil {
		go l.console.program.Send(faultMsg(on))
	}
}

// emulateConsole holds what every copy of the model shares
type emulateConsole struct {
	program *tea.Program
	ctx     context.Context
	cancel  context.CancelFunc
}

// emulateModel is the Bubble Tea model for the operator console
type emulateModel struct {
	console  *emulateConsole
	emu      *emulator.Emulator
	tunnel   *bus.Tunnel
	connInfo string

	// Session parameters
	addressInput textinput.Model
	wordsInput   textinput.Model
	focusedField int

	// Session control
	freeRun   bool
	running   bool
	lastState emulator.State
	fault     bool

	// Event log
	eventLog      []eventLogEntry
	maxLogEntries int

	// UI state
	width    int
	height   int
	quitting bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type consoleTickMsg time.Time

type sessionDoneMsg struct {
	err error
}

type faultMsg bool

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func digitsOnly(s string) error {
	for _, r := range s {
		if r < '0' || r > '9' {
			return errors.New("digits only")
		}
	}
	return nil
}

func initialEmulateModel(host *bus.HostPort, tunnel *bus.Tunnel, connInfo string) emulateModel {
	ctx, cancel := context.WithCancel(context.Background())
	console := &emulateConsole{ctx: ctx, cancel: cancel}

	ai := textinput.New()
	ai.Placeholder = "1"
	ai.CharLimit = 2
	ai.Width = 6
	ai.Validate = digitsOnly
	ai.SetValue(strconv.Itoa(int(cfg.Emulator.Address)))
	ai.Focus()

	wi := textinput.New()
	wi.Placeholder = "1024"
	wi.CharLimit = 7
	wi.Width = 10
	wi.Validate = digitsOnly
	wi.SetValue(strconv.Itoa(cfg.Emulator.Words))

	emu := emulator.New(host, emulator.Options{
		AutoIncrement: cfg.Emulator.AutoIncrement,
		Fault:         consoleLamp{console},
		Debug:         cfg.Emulator.Debug,
	})

	return emulateModel{
		console:       console,
		emu:           emu,
		tunnel:        tunnel,
		connInfo:      connInfo,
		addressInput:  ai,
		wordsInput:    wi,
		focusedField:  focusAddressInput,
		freeRun:       !cfg.Emulator.Debug,
		lastState:     emulator.StateReady,
		eventLog:      make([]eventLogEntry, 0),
		maxLogEntries: 100,
		width:         80,
		height:        24,
	}
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m emulateModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, consoleTickCmd())
}

func consoleTickCmd() tea.Cmd {
	return tea.Tick(consoleRefresh, func(t time.Time) tea.Msg {
		return consoleTickMsg(t)
	})
}

func (m emulateModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case consoleTickMsg:
		m.trackState()
		return m, consoleTickCmd()

	case faultMsg:
		m.fault = bool(msg)

	case sessionDoneMsg:
		m.running = false
		m.trackState()
		switch {
		case msg.err == nil:
			m.addLogEntry(m.sessionSummary(), false)
		case errors.Is(msg.err, context.Canceled):
		default:
			m.addLogEntry(msg.err.Error(), true)
		}
	}

	return m, nil
}

func (m *emulateModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		m.console.cancel()
		return m, tea.Quit

	case "tab", "shift+tab":
		return m.toggleFocus(), nil

	case "w":
		return m.start(emulator.DirWrite)

	case "r":
		return m.start(emulator.DirRead)

	case " ", "n":
		if m.running {
			return m, nil
		}
		m.emu.Step()
		m.trackState()
		return m, nil

	case "x":
		m.emu.Stop()
		m.addLogEntry("STOP sent", false)
		return m, nil

	case "z":
		m.emu.Reset()
		m.fault = false
		m.addLogEntry("RESET sent, session abandoned", false)
		return m, nil

	case "d":
		on := !m.emu.Debug()
		m.emu.SetDebug(on)
		m.addLogEntry(fmt.Sprintf("step logging %s", onOff(on)), false)
		return m, nil

	case "f":
		if m.running {
			return m, nil
		}
		m.freeRun = !m.freeRun
		if m.freeRun {
			m.addLogEntry("free-run mode", false)
		} else {
			m.addLogEntry("single-step mode (space steps)", false)
		}
		return m, nil
	}

	// Pass through to focused input
	var cmd tea.Cmd
	if m.focusedField == focusAddressInput {
		m.addressInput, cmd = m.addressInput.Update(msg)
	} else {
		m.wordsInput, cmd = m.wordsInput.Update(msg)
	}
	return m, cmd
}

func (m *emulateModel) toggleFocus() *emulateModel {
	if m.focusedField == focusAddressInput {
		m.focusedField = focusWordsInput
		m.addressInput.Blur()
		m.wordsInput.Focus()
	} else {
		m.focusedField = focusAddressInput
		m.wordsInput.Blur()
		m.addressInput.Focus()
	}
	return m
}

// start parses the inputs and begins a session
func (m *emulateModel) start(dir emulator.Direction) (tea.Model, tea.Cmd) {
	if m.running {
		m.addLogEntry("session already running", true)
		return m, nil
	}

	address, err := strconv.Atoi(m.addressInput.Value())
	if err != nil || address < 0 || address > int(sm2m.MaxAddress) {
		m.addLogEntry(fmt.Sprintf("address must be 0-%d", sm2m.MaxAddress), true)
		return m, nil
	}
	words, err := strconv.Atoi(m.wordsInput.Value())
	if err != nil || words < 0 || words > maxWords {
		m.addLogEntry(fmt.Sprintf("words must be 0-%d", maxWords), true)
		return m, nil
	}

	if dir == emulator.DirRead {
		m.emu.StartRead(uint16(address), words)
	} else {
		m.emu.StartWrite(uint16(address), words)
	}
	m.fault = false
	actual, _, _ := m.emu.Progress()
	m.addLogEntry(fmt.Sprintf("start %s of %d words at address %d", dir, words, actual), false)
	m.trackState()

	if !m.freeRun {
		return m, nil
	}

	m.running = true
	emu, waiter, ctx := m.emu, m.tunnel, m.console.ctx
	return m, func() tea.Msg {
		return sessionDoneMsg{err: emu.RunFreeRun(ctx, waiter)}
	}
}

// trackState logs state transitions seen since the last call
func (m *emulateModel) trackState() {
	state := m.emu.State()
	if state == m.lastState {
		return
	}
	m.lastState = state
	if state == emulator.StateHalted {
		m.addLogEntry(fmt.Sprintf("halted: %v", m.emu.Err()), true)
		return
	}
	if !m.freeRun {
		m.addLogEntry(fmt.Sprintf("state %s", state), false)
	}
}

func (m *emulateModel) sessionSummary() string {
	address, done, total := m.emu.Progress()
	summary := fmt.Sprintf("session complete: address %d, %d/%d words", address, done, total)
	if received := m.emu.Received(); len(received) > 0 {
		n := len(received)
		if n > 4 {
			n = 4
		}
		var words []string
		for _, w := range received[:n] {
			words = append(words, fmt.Sprintf("%04X", w))
		}
		summary += fmt.Sprintf(", first words %s", strings.Join(words, " "))
	}
	return summary
}

func (m *emulateModel) addLogEntry(message string, isError bool) {
	m.eventLog = append(m.eventLog, eventLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})
	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

//////////////////////////////////////////////////////////////
// View
//////////////////////////////////////////////////////////////

func (m emulateModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	statsLabelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	statsValueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	// Header
	s.WriteString(titleStyle.Render("SM2M EMULATOR"))
	s.WriteString(" ")
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | q=quit Tab=switch", m.connInfo)))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(" w=write r=read space=step x=stop z=reset d=logging f=free-run"))
	s.WriteString("\n\n")

	// Session panel
	var panel strings.Builder
	panel.WriteString(fmt.Sprintf("%s %s   %s %s\n",
		statsLabelStyle.Render("Address:"), m.addressInput.View(),
		statsLabelStyle.Render("Words:"), m.wordsInput.View()))

	state := m.emu.State()
	stateStyle := statsValueStyle
	if state == emulator.StateHalted {
		stateStyle = errorStyle
	}
	address, done, total := m.emu.Progress()
	mode := "single-step"
	if m.freeRun {
		mode = "free-run"
	}
	panel.WriteString(fmt.Sprintf("%s %s  %s %s  %s %s\n",
		statsLabelStyle.Render("State:"), stateStyle.Render(state.String()),
		statsLabelStyle.Render("Record:"), statsValueStyle.Render(strconv.Itoa(int(address))),
		statsLabelStyle.Render("Progress:"), statsValueStyle.Render(fmt.Sprintf("%d/%d", done, total))))

	fault := statsValueStyle.Render("off")
	if m.fault {
		fault = errorStyle.Render("ON")
	}
	running := ""
	if m.running {
		running = warningStyle.Render("  RUNNING")
	}
	panel.WriteString(fmt.Sprintf("%s %s  %s %s  %s %s%s",
		statsLabelStyle.Render("Fault:"), fault,
		statsLabelStyle.Render("Mode:"), statsValueStyle.Render(mode),
		statsLabelStyle.Render("Logging:"), statsValueStyle.Render(onOff(m.emu.Debug())),
		running))
	s.WriteString(boxStyle.Width(m.width - 4).Render(panel.String()))
	s.WriteString("\n")

	// Tunnel statistics
	ts := m.tunnel.Statistics()
	stats := fmt.Sprintf("%s %s  %s %s  %s %s",
		statsLabelStyle.Render("Frames:"), statsValueStyle.Render(strconv.FormatUint(ts.TunnelFrames, 10)),
		statsLabelStyle.Render("CRC errors:"), countStyle(ts.CRCErrors, statsValueStyle, errorStyle),
		statsLabelStyle.Render("Frame errors:"), countStyle(ts.FrameErrors, statsValueStyle, errorStyle))
	s.WriteString(boxStyle.Width(m.width - 4).Render(stats))
	s.WriteString("\n")

	s.WriteString(m.renderEventLog(statsLabelStyle, warningStyle, boxStyle))

	return s.String()
}

func countStyle(n uint64, ok, bad lipgloss.Style) string {
	if n > 0 {
		return bad.Render(strconv.FormatUint(n, 10))
	}
	return ok.Render("0")
}

func (m emulateModel) renderEventLog(statsLabelStyle, warningStyle, boxStyle lipgloss.Style) string {
	var s strings.Builder
	s.WriteString(statsLabelStyle.Render("EVENTS"))
	s.WriteString("\n")

	headerStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyleLocal := lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)

	// Calculate available height for log
	logHeight := m.height - 16
	if logHeight < 4 {
		logHeight = 4
	}
	startIdx := len(m.eventLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	if len(m.eventLog) == 0 {
		s.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.eventLog); i++ {
			entry := m.eventLog[i]
			timestamp := entry.timestamp.Format("15:04:05.000")
			icon := "i"
			style := warningStyle
			if entry.isError {
				icon = "x"
				style = errorStyleLocal
			}
			s.WriteString(fmt.Sprintf("%s %s %s\n",
				headerStyle.Render(timestamp),
				style.Render(icon),
				entry.message))
		}
	}

	return boxStyle.Width(m.width - 4).Render(s.String())
}
