// Copyright 2026 The Galaxy Authors
// SPDX-License-Identifier: Apache-2.0

package scene

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// FrameState is the lifecycle position of a frame number.
type FrameState int

const (
	// FrameUnknown is a frame newer than any started frame.
	FrameUnknown FrameState = iota

	// FrameActive accepts contributions.
	FrameActive

	// FrameComplete received every rank's completion report.
	FrameComplete

	// FrameRetired was superseded before it completed.
	FrameRetired
)

func (s FrameState) String() string {
	switch s {
	case FrameUnknown:
		return "unknown"
	case FrameActive:
		return "active"
	case FrameComplete:
		return "complete"
	case FrameRetired:
		return "retired"
	default:
		return fmt.Sprintf("FrameState(%d)", int(s))
	}
}

// FrameCount is the number of pixel contributions recorded for a frame.
type FrameCount struct {
	Frame int32 `cbor:"frame"`
	Count int64 `cbor:"count"`
}

// FrameTracker records the state of every frame number on one rank. It
// is safe for concurrent use.
type FrameTracker struct {
	mu sync.RWMutex

	// newest is the highest frame ever started, -1 before the first.
	newest   int32
	active   map[int32]struct{}
	complete map[int32]struct{}

	// reports counts completion reports per active frame.
	reports map[int32]int

	// settled channels close when their frame leaves the active state.
	settled map[int32]chan struct{}

	contributions map[int32]int64
}

// NewFrameTracker returns a tracker with no frames started.
func NewFrameTracker() *FrameTracker {
	return &FrameTracker{
		newest:        -1,
		active:        make(map[int32]struct{}),
		complete:      make(map[int32]struct{}),
		reports:       make(map[int32]int),
		settled:       make(map[int32]chan struct{}),
		contributions: make(map[int32]int64),
	}
}

// Start activates frame and retires every older active frame. Starting
// the newest frame again is a no-op; starting a frame older than the
// newest is an error, because older frames are retired or complete.
func (t *FrameTracker) Start(frame int32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if frame == t.newest {
		return nil
	}
	if frame < t.newest {
		return fmt.Errorf("start frame %d: frame %d already started", frame, t.newest)
	}
	for older := range t.active {
		t.settle(older)
	}
	// Waiters on skipped frame numbers see them retired.
	for waited, ch := range t.settled {
		if waited < frame {
			close(ch)
			delete(t.settled, waited)
		}
	}
	t.newest = frame
	t.active[frame] = struct{}{}
	return nil
}

// settle removes frame from the active set and wakes its waiters. The
// caller holds t.mu.
func (t *FrameTracker) settle(frame int32) {
	delete(t.active, frame)
	delete(t.reports, frame)
	if ch, ok := t.settled[frame]; ok {
		close(ch)
		delete(t.settled, frame)
	}
}

// Complete marks an active frame complete. It reports whether the frame
// was active.
func (t *FrameTracker) Complete(frame int32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.completeLocked(frame)
}

func (t *FrameTracker) completeLocked(frame int32) bool {
	if _, ok := t.active[frame]; !ok {
		return false
	}
	t.settle(frame)
	t.complete[frame] = struct{}{}
	return true
}

// ReportDone records that one rank finished its share of frame. When
// expected reports have arrived the frame is complete and ReportDone
// returns true. Reports for frames that are no longer active are
// ignored.
func (t *FrameTracker) ReportDone(frame int32, expected int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.active[frame]; !ok {
		return false
	}
	t.reports[frame]++
	if t.reports[frame] < expected {
		return false
	}
	return t.completeLocked(frame)
}

// IsActive reports whether frame accepts contributions.
func (t *FrameTracker) IsActive(frame int32) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.active[frame]
	return ok
}

// State returns the state of frame.
func (t *FrameTracker) State(frame int32) FrameState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.stateLocked(frame)
}

func (t *FrameTracker) stateLocked(frame int32) FrameState {
	if _, ok := t.active[frame]; ok {
		return FrameActive
	}
	if _, ok := t.complete[frame]; ok {
		return FrameComplete
	}
	if frame <= t.newest {
		return FrameRetired
	}
	return FrameUnknown
}

// Newest returns the highest started frame, or -1.
func (t *FrameTracker) Newest() int32 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.newest
}

// Next returns the number after the newest started frame. Frame
// numbers handed out by Next start at 1.
func (t *FrameTracker) Next() int32 {
	return max(t.Newest(), 0) + 1
}

// Wait blocks until frame is complete or retired and returns its final
// state. A frame that has not been started yet is waited for too.
func (t *FrameTracker) Wait(ctx context.Context, frame int32) (FrameState, error) {
	t.mu.Lock()
	state := t.stateLocked(frame)
	if state == FrameComplete || state == FrameRetired {
		t.mu.Unlock()
		return state, nil
	}
	ch, ok := t.settled[frame]
	if !ok {
		ch = make(chan struct{})
		t.settled[frame] = ch
	}
	t.mu.Unlock()

	select {
	case <-ch:
		return t.State(frame), nil
	case <-ctx.Done():
		return FrameUnknown, ctx.Err()
	}
}

// AddContributions adds n to the contribution count of frame.
func (t *FrameTracker) AddContributions(frame int32, n int) {
	t.mu.Lock()
	t.contributions[frame] += int64(n)
	t.mu.Unlock()
}

// Contributions returns the per-frame contribution counts in frame
// order.
func (t *FrameTracker) Contributions() []FrameCount {
	t.mu.RLock()
	counts := make([]FrameCount, 0, len(t.contributions))
	for frame, count := range t.contributions {
		counts = append(counts, FrameCount{Frame: frame, Count: count})
	}
	t.mu.RUnlock()
	sort.Slice(counts, func(i, j int) bool { return counts[i].Frame < counts[j].Frame })
	return counts
}
