// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// SM2M Bridge - legacy parallel bus to SD card storage
//
// A CLI tool that serves record reads and writes from an SM2M host as an
// emulated storage device, drives a device as an emulated host, and decodes
// bus traffic in human-readable format.

package main

import (
	"os"

	"github.com/Thermoquad/sm2mbridge/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
