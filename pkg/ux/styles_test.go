// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrinter_PlainOutput(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, false)

	p.Title("Crafting path")
	p.Status(IconSuccess, "reachable")
	p.Field("depth", 2)
	p.Box("船", "木 + 蒸汽")

	assert.Equal(t,
		"Crafting path\n"+
			"✓ reachable\n"+
			"depth:"+strings.Repeat(" ", 13)+"2\n"+
			"船\n木 + 蒸汽\n",
		buf.String())
	assert.False(t, p.Color())
}

func TestPrinter_ColorKeepsText(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, true)
	p.Status(IconError, "unreachable")
	assert.Contains(t, buf.String(), "unreachable")
	assert.Contains(t, buf.String(), string(IconError))
}

func TestColorEnabled(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "out.txt"))
	require.NoError(t, err)
	defer f.Close()

	assert.False(t, ColorEnabled(f), "regular files are not terminals")
	assert.False(t, ColorEnabled(nil))

	t.Setenv("NO_COLOR", "1")
	assert.False(t, ColorEnabled(os.Stdout))
}
