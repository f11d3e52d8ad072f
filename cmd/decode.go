// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Thermoquad/sm2mbridge/pkg/sm2m"
	"github.com/spf13/cobra"
)

var (
	decodeOutput bool
	decodeWord   bool
)

var decodeCmd = &cobra.Command{
	Use:   "decode VALUE...",
	Short: "Decode raw bus registers or command words",
	Long: `Decode raw 32-bit register values as captured from the bus.

By default values are host-driven input registers and are shown with the
transfer a device would see. With --output they are device-driven output
registers and are shown as replies. With --word they are 16-bit logical words
and are shown as commands.

Values are hexadecimal (0x prefix optional) or decimal with a 0d prefix.

Examples:
  sm2mbridge decode FFFFFFFF
  sm2mbridge decode --output 0xFFFBFFFF
  sm2mbridge decode --word 0x0403 0x0002`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDecode,
}

func init() {
	rootCmd.AddCommand(decodeCmd)
	decodeCmd.Flags().BoolVar(&decodeOutput, "output", false, "Values are device output registers")
	decodeCmd.Flags().BoolVar(&decodeWord, "word", false, "Values are logical command words")
}

func runDecode(cmd *cobra.Command, args []string) error {
	for _, arg := range args {
		v, err := parseValue(arg)
		if err != nil {
			return err
		}

		switch {
		case decodeWord:
			if v > 0xFFFF {
				return fmt.Errorf("%s: word exceeds 16 bits", arg)
			}
			fmt.Printf("0x%04X  %s\n", v, sm2m.FormatCommand(uint16(v), 0))

		case decodeOutput:
			raw := sm2m.Lines(v)
			fmt.Println(sm2m.FormatLines(sm2m.OutputRevB, raw))
			fmt.Printf("  reply: %s\n", sm2m.ParseReply(sm2m.OutputRevB.Decode(raw)))

		default:
			raw := sm2m.Lines(v)
			word, ctrl := sm2m.InputRevB.Decode(raw)
			fmt.Println(sm2m.FormatLines(sm2m.InputRevB, raw))
			fmt.Printf("  transfer: %s\n", sm2m.FormatCommand(word, ctrl))
		}
	}
	return nil
}

// parseValue parses hexadecimal or 0d-prefixed decimal
func parseValue(s string) (uint32, error) {
	s = strings.TrimSpace(s)
	base := 16
	switch {
	case strings.HasPrefix(s, "0x"), strings.HasPrefix(s, "0X"):
		s = s[2:]
	case strings.HasPrefix(s, "0d"):
		s, base = s[2:], 10
	}
	s = strings.ReplaceAll(s, "_", "")

	v, err := strconv.ParseUint(s, base, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q: %v", s, err)
	}
	return uint32(v), nil
}
