// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation for item names.
//
// Item names arrive from data files, databases and the command line and are
// used as map keys, SQL parameters and terminal output. The same rules apply
// everywhere.
package validation

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxItemNameLength is the longest item name, in runes.
const MaxItemNameLength = 255

// ErrInvalidItemName is wrapped by every item name failure.
var ErrInvalidItemName = errors.New("invalid item name")

// ValidateItemName checks a single item name.
//
// Valid names:
//   - are not blank after trimming whitespace
//   - are valid UTF-8
//   - are at most MaxItemNameLength runes
//   - contain no control characters (newlines, tabs, NUL)
//
// Surrounding whitespace is allowed here; SanitizeItemName removes it.
func ValidateItemName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidItemName)
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("%w: %q is not valid UTF-8", ErrInvalidItemName, name)
	}
	if n := utf8.RuneCountInString(name); n > MaxItemNameLength {
		return fmt.Errorf("%w: %d runes exceeds %d", ErrInvalidItemName, n, MaxItemNameLength)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: %q contains control character %U", ErrInvalidItemName, name, r)
		}
	}
	return nil
}

// ValidateItemNames validates multiple names.
// Returns an error listing all invalid names if any fail validation.
func ValidateItemNames(names []string) error {
	var invalid []string
	for _, n := range names {
		if err := ValidateItemName(n); err != nil {
			invalid = append(invalid, fmt.Sprintf("%q", n))
		}
	}
	if len(invalid) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidItemName, strings.Join(invalid, ", "))
	}
	return nil
}

// SanitizeItemName trims surrounding whitespace and validates the result.
//
//	item, err := validation.SanitizeItemName(args[0])
//	if err != nil {
//	    return err
//	}
func SanitizeItemName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if err := ValidateItemName(trimmed); err != nil {
		return "", err
	}
	return trimmed, nil
}
