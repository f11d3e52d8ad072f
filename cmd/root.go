// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/Thermoquad/sm2mbridge/pkg/config"
	"github.com/Thermoquad/sm2mbridge/pkg/logging"
	"github.com/spf13/cobra"
)

var (
	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool
	wsListen      string

	// Configuration and logging flags
	configPath string
	verbose    bool
	logFormat  string

	// cfg is the validated, normalized configuration with flags applied
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "sm2mbridge",
	Short: "SM2M parallel bus to SD card bridge",
	Long: `sm2mbridge - device adapter and host emulator for the SM2M parallel bus.

The adapter answers SM2M bus transfers from a legacy machine and stores the
transferred records as files on an SD card (or any directory). The emulator
stands in for the legacy machine for bench testing.

Bench rigs sample the bus lines on a small MCU and forward register snapshots
as a line tunnel over a serial port or a WebSocket.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 115200]
  WebSocket: --url ws://host/path [--username user]
  Listen:    --listen :8080 (accept one WebSocket tunnel)

Settings can also come from a YAML file (--config). Flags override the file.

For WebSocket authentication, the password is read from the SM2M_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:           "0.3.0",
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", config.DefaultBaud, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")
	rootCmd.PersistentFlags().StringVar(&wsListen, "listen", "", "Accept one WebSocket tunnel on this address")

	// Configuration and logging flags
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format (text or json)")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig builds cfg from the optional file and the command line, then
// configures logging.
func loadConfig(cmd *cobra.Command, args []string) error {
	c := &config.Config{}
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		c = loaded
	}

	applyFlags(cmd, c)

	if err := config.Validate(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	config.Normalize(c)

	level, err := logging.ParseLevel(c.Log.Level)
	if err != nil {
		return err
	}
	if verbose {
		level = slog.LevelDebug
	}
	format, err := logging.ParseFormat(c.Log.Format)
	if err != nil {
		return err
	}
	logging.Configure(os.Stderr, format)
	logging.SetLevel(level)

	cfg = c
	return nil
}

// applyFlags overrides file settings with flags given on the command line.
// Selecting one transport clears the others.
func applyFlags(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()

	switch {
	case flags.Changed("port"):
		c.Transport.Port, c.Transport.URL, c.Transport.Listen = portName, "", ""
	case flags.Changed("url"):
		c.Transport.Port, c.Transport.URL, c.Transport.Listen = "", wsURL, ""
	case flags.Changed("listen"):
		c.Transport.Port, c.Transport.URL, c.Transport.Listen = "", "", wsListen
	}
	if flags.Changed("baud") {
		c.Transport.Baud = baudRate
	}
	if flags.Changed("username") {
		c.Transport.Username = wsUsername
	}
	if flags.Changed("no-ssl-verify") {
		c.Transport.NoSSLVerify = wsNoSSLVerify
	}
	if flags.Changed("log-format") {
		c.Log.Format = logFormat
	}
}
