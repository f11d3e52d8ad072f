// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package storage

import (
	"fmt"
	"strings"
)

// ValidateName checks a record name against the 8.3 rules of the card
// filesystem.
func ValidateName(name string) error {
	if name == "" {
		return ErrEmptyName
	}

	base, ext, hasExt := strings.Cut(name, ".")
	if base == "" || strings.Contains(ext, ".") || (hasExt && ext == "") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if len(base) > 8 || len(ext) > 3 {
		return fmt.Errorf("%w: %q", ErrNameTooLong, name)
	}

	for _, r := range base + ext {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_', r == '-':
		default:
			return fmt.Errorf("%w: %q", ErrInvalidName, name)
		}
	}
	return nil
}
