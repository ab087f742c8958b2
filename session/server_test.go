// Copyright 2026 The Galaxy Authors
// SPDX-License-Identifier: Apache-2.0

package session_test

import (
	"context"
	"net"
	"os"
	"testing"
	"time"

	"github.com/galaxy-foundation/galaxy/lib/clock"
	"github.com/galaxy-foundation/galaxy/lib/testutil"
	"github.com/galaxy-foundation/galaxy/rank"
	"github.com/galaxy-foundation/galaxy/rank/ranktest"
	"github.com/galaxy-foundation/galaxy/scene"
	"github.com/galaxy-foundation/galaxy/session"
)

func TestServerRunsSessionsInTurn(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	backend := newFakeBackend()
	server := session.NewServer(listener, session.Config{
		Backend: backend,
		Tracker: scene.NewFrameTracker(),
		Clock:   clock.Fake(time.Unix(0, 0)),
		Logger:  ranktest.Logger(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx) }()

	for round := range 2 {
		conn, err := net.Dial("tcp", server.Addr().String())
		if err != nil {
			t.Fatalf("round %d: dial: %v", round, err)
		}
		if err := session.WriteControl(conn, session.Control{Op: session.OpStart, Width: 4, Height: 4, StateFile: "s.json"}); err != nil {
			t.Fatal(err)
		}
		frame := testutil.RequireReceive(t, backend.frames, wait, "waiting for the first frame")
		if want := int32(round + 1); frame.Number != want {
			t.Errorf("round %d: first frame = %d, want %d", round, frame.Number, want)
		}
		if err := session.WriteControl(conn, session.Control{Op: session.OpQuit}); err != nil {
			t.Fatal(err)
		}
		// The server closes the connection when the session ends.
		if _, err := conn.Read(make([]byte, 1)); err == nil {
			t.Errorf("round %d: connection still open after QUIT", round)
		}
		conn.Close()
	}

	cancel()
	if err := testutil.RequireReceive(t, done, wait, "waiting for Serve"); err != nil {
		t.Errorf("Serve = %v", err)
	}
}

func TestNodeBackendStreamsClusterPixels(t *testing.T) {
	cluster := ranktest.Start(t, 3, rank.Config{})
	owner := cluster.Nodes[0]
	stateDir := t.TempDir()
	if err := writeFile(stateDir+"/state.json", ranktest.Document); err != nil {
		t.Fatal(err)
	}
	backend := session.NewNodeBackend(owner)
	backend.StateDir = stateDir

	client, server := net.Pipe()
	s := session.New(server, session.Config{
		Backend: backend,
		Tracker: owner.Tracker,
		Clock:   clock.Fake(time.Unix(0, 0)),
		Logger:  ranktest.Logger(),
	})
	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()
	t.Cleanup(func() {
		client.Close()
		testutil.RequireReceive(t, done, wait, "session end")
	})

	if err := session.WriteControl(client, session.Control{Op: session.OpStart, Width: 8, Height: 8, StateFile: "state.json"}); err != nil {
		t.Fatal(err)
	}
	// Rows 2 to 5 of the 8x8 image see the box; each arrives as one
	// batch from whichever rank traced it.
	rows := map[int32]bool{}
	deadline := time.Now().Add(wait)
	client.SetReadDeadline(deadline)
	for len(rows) < 4 {
		frame, pixels, err := session.ReadPixels(client)
		if err != nil {
			t.Fatalf("ReadPixels after %d rows: %v", len(rows), err)
		}
		if frame != 1 {
			t.Fatalf("pixels for frame %d, want 1", frame)
		}
		for _, pixel := range pixels {
			rows[pixel.Y] = true
		}
	}
	state, err := owner.Tracker.Wait(ranktest.Context(t), 1)
	if err != nil || state != scene.FrameComplete {
		t.Errorf("frame 1 = %s, %v; want complete", state, err)
	}
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}
