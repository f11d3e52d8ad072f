// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sm2m

import (
	"fmt"
	"strings"
)

// DigitOrder selects how an address is spelled as a record name
type DigitOrder uint8

// Digit orders
const (
	// DigitsLegacy writes the least significant digit first (address 12 is
	// record "21"). Cards written by deployed adapters use this order.
	DigitsLegacy DigitOrder = iota
	// DigitsNatural writes the conventional decimal form.
	DigitsNatural
)

// ParseDigitOrder parses "legacy" or "natural". An empty string selects
// DigitsLegacy.
func ParseDigitOrder(s string) (DigitOrder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "legacy":
		return DigitsLegacy, nil
	case "natural":
		return DigitsNatural, nil
	default:
		return 0, fmt.Errorf("unknown digit order %q", s)
	}
}

func (d DigitOrder) String() string {
	if d == DigitsNatural {
		return "natural"
	}
	return "legacy"
}

// RecordName spells address as a record (file) name. The result is never
// empty and never longer than five characters.
func RecordName(address uint16, order DigitOrder) string {
	if address == 0 {
		return "0"
	}

	var digits [maxRecordDigits]byte
	n := 0
	for v := address; v > 0; v /= 10 {
		digits[n] = '0' + byte(v%10)
		n++
	}

	if order == DigitsNatural {
		for i, j := 0, n-1; i < j; i, j = i+1, j-1 {
			digits[i], digits[j] = digits[j], digits[i]
		}
	}

	return string(digits[:n])
}

// BackupName returns the name a record is copied to before it is replaced.
func BackupName(name string) string {
	return name + ".bak"
}
