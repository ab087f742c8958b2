// Copyright 2026 The Galaxy Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"testing"

	"github.com/galaxy-foundation/galaxy/render"
)

func TestRunRejectsUnknownCommand(t *testing.T) {
	if err := run([]string{"reboot"}); err == nil {
		t.Fatal("unknown command accepted")
	}
	for _, name := range commandOrder {
		if _, ok := commands[name]; !ok {
			t.Errorf("usage lists %q but no such command exists", name)
		}
	}
	if len(commandOrder) != len(commands) {
		t.Errorf("usage lists %d commands, %d exist", len(commandOrder), len(commands))
	}
}

func TestViewRequiresState(t *testing.T) {
	if err := run([]string{"view", "--address", "127.0.0.1:1"}); err == nil {
		t.Fatal("view without --state accepted")
	}
}

func TestCoveredCountsOpaquePixels(t *testing.T) {
	framebuffer := render.NewFramebuffer(4, 2, 3)
	framebuffer.AddPixels(3, 0, []render.Pixel{
		{X: 0, Y: 0, R: 1, O: 1},
		{X: 3, Y: 1, G: 1, O: 0.5},
		{X: 2, Y: 0, B: 1},
	})
	framebuffer.AddPixels(4, 0, []render.Pixel{{X: 1, Y: 1, O: 1}})
	if got := covered(framebuffer); got != 2 {
		t.Errorf("covered = %d, want 2", got)
	}
}
