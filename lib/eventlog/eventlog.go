// Copyright 2026 The Galaxy Authors
// SPDX-License-Identifier: Apache-2.0

// Package eventlog keeps the most recent log records of a rank in a
// fixed-size ring so they can be dumped on request. Handler tees
// records into a Ring on their way to the process's regular handler.
package eventlog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// DefaultCapacity is the number of events a ring keeps by default.
const DefaultCapacity = 1024

// Event is one recorded log record with its attributes flattened to
// dotted keys.
type Event struct {
	Time    time.Time
	Level   slog.Level
	Message string
	Attrs   []slog.Attr
}

// Ring is a fixed-size circular buffer of events. New events overwrite
// the oldest once it is full. All methods are safe for concurrent use.
type Ring struct {
	mutex  sync.Mutex
	events []Event
	// next is the slot the next event is written to.
	next int
	// total counts every event ever added.
	total uint64
}

// NewRing returns a ring holding up to capacity events. A capacity of
// zero or less means DefaultCapacity.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{events: make([]Event, capacity)}
}

// Add records event, overwriting the oldest if the ring is full.
func (ring *Ring) Add(event Event) {
	ring.mutex.Lock()
	defer ring.mutex.Unlock()
	ring.events[ring.next] = event
	ring.next = (ring.next + 1) % len(ring.events)
	ring.total++
}

// Total returns the number of events ever added.
func (ring *Ring) Total() uint64 {
	ring.mutex.Lock()
	defer ring.mutex.Unlock()
	return ring.total
}

// Recent returns the retained events, oldest first.
func (ring *Ring) Recent() []Event {
	ring.mutex.Lock()
	defer ring.mutex.Unlock()
	stored := min(ring.total, uint64(len(ring.events)))
	result := make([]Event, 0, stored)
	start := (ring.next - int(stored) + len(ring.events)) % len(ring.events)
	for i := range int(stored) {
		result = append(result, ring.events[(start+i)%len(ring.events)])
	}
	return result
}

// Dump writes the retained events to w, one line each, oldest first,
// and returns the number written.
func (ring *Ring) Dump(w io.Writer) (int, error) {
	events := ring.Recent()
	for i, event := range events {
		var line strings.Builder
		fmt.Fprintf(&line, "%s %s %q", event.Time.Format(time.RFC3339Nano), event.Level, event.Message)
		for _, attr := range event.Attrs {
			fmt.Fprintf(&line, " %s=%v", attr.Key, attr.Value)
		}
		line.WriteByte('\n')
		if _, err := io.WriteString(w, line.String()); err != nil {
			return i, fmt.Errorf("dumping events: %w", err)
		}
	}
	return len(events), nil
}

// Handler is a slog.Handler that records every record it handles into
// a Ring and then passes it to the next handler.
type Handler struct {
	next   slog.Handler
	ring   *Ring
	attrs  []slog.Attr
	prefix string
}

// NewHandler returns a handler recording into ring in front of next.
func NewHandler(next slog.Handler, ring *Ring) *Handler {
	return &Handler{next: next, ring: ring}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, record slog.Record) error {
	attrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+record.NumAttrs())
	copy(attrs, h.attrs)
	record.Attrs(func(attr slog.Attr) bool {
		attrs = appendFlat(attrs, h.prefix, attr)
		return true
	})
	h.ring.Add(Event{Time: record.Time, Level: record.Level, Message: record.Message, Attrs: attrs})
	return h.next.Handle(ctx, record)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.next = h.next.WithAttrs(attrs)
	clone.attrs = make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(clone.attrs, h.attrs)
	for _, attr := range attrs {
		clone.attrs = appendFlat(clone.attrs, h.prefix, attr)
	}
	return &clone
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.next = h.next.WithGroup(name)
	clone.prefix = h.prefix + name + "."
	return &clone
}

// appendFlat appends attr to attrs with group members spelled out as
// prefixed keys.
func appendFlat(attrs []slog.Attr, prefix string, attr slog.Attr) []slog.Attr {
	attr.Value = attr.Value.Resolve()
	if attr.Value.Kind() != slog.KindGroup {
		if attr.Key == "" {
			return attrs
		}
		return append(attrs, slog.Attr{Key: prefix + attr.Key, Value: attr.Value})
	}
	if attr.Key != "" {
		prefix += attr.Key + "."
	}
	for _, member := range attr.Value.Group() {
		attrs = appendFlat(attrs, prefix, member)
	}
	return attrs
}
