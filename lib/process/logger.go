// Copyright 2026 The Galaxy Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/galaxy-foundation/galaxy/lib/eventlog"
)

// NewLogger returns a JSON slog logger writing to w at the named level
// ("debug", "info", "warn", "error"). Every record carries the rank so
// interleaved output from several ranks stays attributable.
func NewLogger(w io.Writer, level string, rank int) (*slog.Logger, error) {
	return NewRecordingLogger(w, level, rank, nil)
}

// NewRecordingLogger is NewLogger that also keeps every emitted record
// in events when events is not nil.
func NewRecordingLogger(w io.Writer, level string, rank int, events *eventlog.Ring) (*slog.Logger, error) {
	var slogLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		slogLevel = slog.LevelDebug
	case "info", "":
		slogLevel = slog.LevelInfo
	case "warn", "warning":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", level)
	}
	var handler slog.Handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slogLevel})
	if events != nil {
		handler = eventlog.NewHandler(handler, events)
	}
	return slog.New(handler).With("rank", rank), nil
}
