// Copyright 2026 The Galaxy Authors
// SPDX-License-Identifier: Apache-2.0

package scene

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/galaxy-foundation/galaxy/lib/testutil"
)

func TestFrameTrackerLifecycle(t *testing.T) {
	tracker := NewFrameTracker()
	if tracker.IsActive(0) {
		t.Fatal("frame 0 active before any start")
	}
	if err := tracker.Start(0); err != nil {
		t.Fatalf("Start(0): %v", err)
	}
	if !tracker.IsActive(0) {
		t.Fatal("frame 0 not active after Start")
	}
	if !tracker.Complete(0) {
		t.Fatal("Complete(0) reported frame 0 inactive")
	}
	if got := tracker.State(0); got != FrameComplete {
		t.Errorf("State(0) = %s, want complete", got)
	}
	if tracker.Complete(0) {
		t.Error("second Complete(0) succeeded")
	}
}

func TestStartRetiresOlderFrames(t *testing.T) {
	tracker := NewFrameTracker()
	tracker.Start(1)
	tracker.Start(2)
	if tracker.IsActive(1) {
		t.Error("frame 1 still active after frame 2 started")
	}
	if got := tracker.State(1); got != FrameRetired {
		t.Errorf("State(1) = %s, want retired", got)
	}
	if !tracker.IsActive(2) {
		t.Error("frame 2 not active")
	}
	if got := tracker.State(7); got != FrameUnknown {
		t.Errorf("State(7) = %s, want unknown", got)
	}
}

func TestNextStartsAtOne(t *testing.T) {
	tracker := NewFrameTracker()
	if got := tracker.Next(); got != 1 {
		t.Fatalf("Next() before any start = %d, want 1", got)
	}
	tracker.Start(0)
	if got := tracker.Next(); got != 1 {
		t.Errorf("Next() after frame 0 = %d, want 1", got)
	}
	tracker.Start(tracker.Next())
	tracker.Start(9)
	if got := tracker.Next(); got != 10 {
		t.Errorf("Next() after frame 9 = %d, want 10", got)
	}
}

func TestRetiredFrameNeverReactivates(t *testing.T) {
	tracker := NewFrameTracker()
	tracker.Start(4)
	tracker.Start(5)
	if err := tracker.Start(4); err == nil {
		t.Fatal("restarting retired frame 4 succeeded")
	}
	if tracker.IsActive(4) {
		t.Fatal("frame 4 active after restart attempt")
	}
	if tracker.Complete(4) {
		t.Fatal("retired frame 4 completed")
	}
	if tracker.ReportDone(4, 1) {
		t.Fatal("completion report revived retired frame 4")
	}
	if got := tracker.State(4); got != FrameRetired {
		t.Errorf("State(4) = %s, want retired", got)
	}
	// Starting the newest frame again is harmless.
	if err := tracker.Start(5); err != nil || !tracker.IsActive(5) {
		t.Errorf("Start(5) again = %v, active %v", err, tracker.IsActive(5))
	}
}

func TestReportDoneCompletesAfterEveryRank(t *testing.T) {
	tracker := NewFrameTracker()
	tracker.Start(3)
	for rank := range 2 {
		if tracker.ReportDone(3, 3) {
			t.Fatalf("frame complete after %d of 3 reports", rank+1)
		}
	}
	if !tracker.ReportDone(3, 3) {
		t.Fatal("frame not complete after 3 of 3 reports")
	}
	if got := tracker.State(3); got != FrameComplete {
		t.Errorf("State(3) = %s, want complete", got)
	}
}

func TestWaitReturnsFinalState(t *testing.T) {
	tracker := NewFrameTracker()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tracker.Start(0)
	completed := make(chan FrameState, 1)
	go func() {
		state, _ := tracker.Wait(ctx, 0)
		completed <- state
	}()
	retired := make(chan FrameState, 1)
	go func() {
		// Frame 1 is never started: frame 2 supersedes it.
		state, _ := tracker.Wait(ctx, 1)
		retired <- state
	}()

	// Let both waiters register.
	time.Sleep(10 * time.Millisecond)
	tracker.ReportDone(0, 1)
	if got := testutil.RequireReceive(t, completed, 5*time.Second); got != FrameComplete {
		t.Errorf("Wait(0) = %s, want complete", got)
	}
	tracker.Start(2)
	if got := testutil.RequireReceive(t, retired, 5*time.Second); got != FrameRetired {
		t.Errorf("Wait(1) = %s, want retired", got)
	}

	// Waiting on an already settled frame returns at once.
	if state, err := tracker.Wait(ctx, 0); err != nil || state != FrameComplete {
		t.Errorf("Wait(0) after completion = %s, %v", state, err)
	}
}

func TestWaitHonorsContext(t *testing.T) {
	tracker := NewFrameTracker()
	tracker.Start(0)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := tracker.Wait(ctx, 0); err == nil {
		t.Fatal("Wait returned without the frame settling")
	}
}

func TestContributionsBeyondFixedTable(t *testing.T) {
	tracker := NewFrameTracker()
	tracker.AddContributions(2500, 10)
	tracker.AddContributions(3, 4)
	tracker.AddContributions(2500, 5)

	counts := tracker.Contributions()
	want := []FrameCount{{Frame: 3, Count: 4}, {Frame: 2500, Count: 15}}
	if len(counts) != len(want) {
		t.Fatalf("Contributions = %+v, want %+v", counts, want)
	}
	for i := range want {
		if counts[i] != want[i] {
			t.Errorf("Contributions[%d] = %+v, want %+v", i, counts[i], want[i])
		}
	}
}

func TestFrameTrackerConcurrentStartAndQuery(t *testing.T) {
	tracker := NewFrameTracker()
	var wg sync.WaitGroup
	stop := make(chan struct{})

	// Readers check that once a frame is seen inactive after a newer
	// frame started, it stays inactive.
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			random := rand.New(rand.NewSource(1))
			for {
				select {
				case <-stop:
					return
				default:
				}
				newest := tracker.Newest()
				if newest <= 0 {
					continue
				}
				old := int32(random.Intn(int(newest)))
				if tracker.IsActive(old) {
					t.Errorf("frame %d active while frame %d was started", old, newest)
					return
				}
				tracker.AddContributions(old, 1)
			}
		}()
	}
	for frame := range int32(200) {
		tracker.Start(frame)
	}
	close(stop)
	wg.Wait()
}
