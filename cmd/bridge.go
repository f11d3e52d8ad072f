// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Thermoquad/sm2mbridge/pkg/adapter"
	"github.com/Thermoquad/sm2mbridge/pkg/config"
	"github.com/Thermoquad/sm2mbridge/pkg/sm2m"
	"github.com/Thermoquad/sm2mbridge/pkg/storage"
)

// newAdapter builds an adapter over backing from the adapter settings. The
// returned panel mirrors its lamps.
func newAdapter(c *config.Config, backing storage.Backing) (*adapter.Adapter, *adapter.Panel, error) {
	order, err := sm2m.ParseDigitOrder(c.Adapter.DigitOrder)
	if err != nil {
		return nil, nil, err
	}

	panel := adapter.NewPanel()
	a, err := adapter.New(backing, adapter.Options{
		BufferSize: c.Adapter.BufferSize,
		WithBackup: c.Adapter.WithBackup,
		DigitOrder: order,
		Indicators: panel,
		Display:    panel,
	})
	if err != nil {
		return nil, nil, err
	}
	return a, panel, nil
}

// openTrace attaches a CBOR trace file to a when path is set. The returned
// closer is never nil.
func openTrace(a *adapter.Adapter, path string) (io.Closer, error) {
	if path == "" {
		return io.NopCloser(nil), nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace file: %v", err)
	}
	a.WithTrace(f)
	return f, nil
}

// formatPanel renders the adapter lamps on one line
func formatPanel(p adapter.PanelState) string {
	lamp := func(name string, on bool) string {
		if on {
			return "[" + name + "]"
		}
		return " " + strings.ToLower(name) + " "
	}
	return fmt.Sprintf("%s%s%s display=%02d",
		lamp("ERR", p.SystemError), lamp("WR", p.Write), lamp("RD", p.Read), p.Display)
}
