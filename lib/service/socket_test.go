// Copyright 2026 The Galaxy Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/galaxy-foundation/galaxy/lib/codec"
	"github.com/galaxy-foundation/galaxy/lib/testutil"
)

// sendRequest connects to a Unix socket, sends a CBOR request, and
// returns the decoded response envelope.
func sendRequest(t *testing.T, socketPath string, request any) Response {
	t.Helper()

	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		t.Fatalf("connecting to socket: %v", err)
	}
	defer conn.Close()

	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		t.Fatalf("writing request: %v", err)
	}
	if unixConn, ok := conn.(*net.UnixConn); ok {
		unixConn.CloseWrite()
	}

	var response Response
	if err := codec.NewDecoder(conn).Decode(&response); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return response
}

func decodeData(t *testing.T, response Response, target any) {
	t.Helper()
	if len(response.Data) == 0 {
		t.Fatal("response has no data")
	}
	if err := codec.Unmarshal(response.Data, target); err != nil {
		t.Fatalf("decoding response data: %v", err)
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startServer serves on a fresh socket until the test ends.
func startServer(t *testing.T, register func(*SocketServer)) *SocketServer {
	t.Helper()
	server := NewSocketServer(filepath.Join(testutil.SocketDir(t), "admin.sock"), testLogger())
	register(server)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := testutil.RequireReceive(t, done, 5*time.Second, "waiting for Serve"); err != nil {
			t.Errorf("Serve returned error: %v", err)
		}
	})
	testutil.RequireClosed(t, server.Ready(), 5*time.Second, "waiting for socket")
	return server
}

func TestSocketServerStatus(t *testing.T) {
	server := startServer(t, func(server *SocketServer) {
		server.Handle("status", func(ctx context.Context, raw []byte) (any, error) {
			return map[string]any{"rank": 0, "size": 3}, nil
		})
	})

	response := sendRequest(t, server.SocketPath(), map[string]string{"action": "status"})
	if !response.OK {
		t.Fatalf("expected ok=true, got error %q", response.Error)
	}

	var data map[string]any
	decodeData(t, response, &data)
	if data["size"] != uint64(3) {
		t.Errorf("expected size=3, got %v (%T)", data["size"], data["size"])
	}
}

func TestSocketServerUnknownAction(t *testing.T) {
	server := startServer(t, func(*SocketServer) {})

	response := sendRequest(t, server.SocketPath(), map[string]string{"action": "nonexistent"})
	if response.OK {
		t.Fatal("expected ok=false for unknown action")
	}
	if response.Error != `unknown action "nonexistent"` {
		t.Errorf("unexpected error: %q", response.Error)
	}
}

func TestSocketServerMissingAction(t *testing.T) {
	server := startServer(t, func(*SocketServer) {})

	response := sendRequest(t, server.SocketPath(), map[string]string{"frame": "1"})
	if response.OK || response.Error != "missing required field: action" {
		t.Errorf("unexpected response: %+v", response)
	}
}

func TestSocketServerInvalidCBOR(t *testing.T) {
	server := startServer(t, func(*SocketServer) {})

	conn, err := net.DialTimeout("unix", server.SocketPath(), 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	// 0xff is a CBOR "break" with nothing to break.
	if _, err := conn.Write([]byte{0xff}); err != nil {
		t.Fatal(err)
	}
	conn.(*net.UnixConn).CloseWrite()

	var response Response
	if err := codec.NewDecoder(conn).Decode(&response); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if response.OK {
		t.Error("expected ok=false for invalid CBOR")
	}
}

func TestSocketServerHandlerError(t *testing.T) {
	server := startServer(t, func(server *SocketServer) {
		server.Handle("fail", func(ctx context.Context, raw []byte) (any, error) {
			return nil, errors.New("frame 7 is not active")
		})
	})

	response := sendRequest(t, server.SocketPath(), map[string]string{"action": "fail"})
	if response.OK || response.Error != "frame 7 is not active" {
		t.Errorf("unexpected response: %+v", response)
	}
}

func TestSocketServerNilResult(t *testing.T) {
	server := startServer(t, func(server *SocketServer) {
		server.Handle("noop", func(ctx context.Context, raw []byte) (any, error) {
			return nil, nil
		})
	})

	response := sendRequest(t, server.SocketPath(), map[string]string{"action": "noop"})
	if !response.OK {
		t.Fatalf("expected ok=true, got %q", response.Error)
	}
	if len(response.Data) != 0 {
		t.Errorf("expected no data, got %d bytes", len(response.Data))
	}
}

func TestSocketServerHandlerSeesRequestFields(t *testing.T) {
	server := startServer(t, func(server *SocketServer) {
		server.Handle("echo", func(ctx context.Context, raw []byte) (any, error) {
			var request struct {
				Frame int32 `cbor:"frame"`
			}
			if err := codec.Unmarshal(raw, &request); err != nil {
				return nil, err
			}
			return request.Frame * 2, nil
		})
	})

	response := sendRequest(t, server.SocketPath(), map[string]any{"action": "echo", "frame": 21})
	var doubled int32
	decodeData(t, response, &doubled)
	if doubled != 42 {
		t.Errorf("echo = %d, want 42", doubled)
	}
}

func TestSocketServerConcurrentRequests(t *testing.T) {
	release := make(chan struct{})
	var entered sync.WaitGroup
	entered.Add(4)
	server := startServer(t, func(server *SocketServer) {
		server.Handle("wait", func(ctx context.Context, raw []byte) (any, error) {
			entered.Done()
			<-release
			return "done", nil
		})
	})

	var wg sync.WaitGroup
	results := make(chan Response, 4)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- sendRequest(t, server.SocketPath(), map[string]string{"action": "wait"})
		}()
	}
	// Every handler is running at once before any is released.
	entered.Wait()
	close(release)
	wg.Wait()
	close(results)
	for response := range results {
		if !response.OK {
			t.Errorf("unexpected failure: %q", response.Error)
		}
	}
}

func TestSocketServerGracefulShutdown(t *testing.T) {
	server := NewSocketServer(filepath.Join(testutil.SocketDir(t), "admin.sock"), testLogger())
	started := make(chan struct{})
	server.Handle("slow", func(ctx context.Context, raw []byte) (any, error) {
		close(started)
		time.Sleep(50 * time.Millisecond)
		return "finished", nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx) }()
	testutil.RequireClosed(t, server.Ready(), 5*time.Second, "waiting for socket")

	responses := make(chan Response, 1)
	go func() {
		responses <- sendRequest(t, server.SocketPath(), map[string]string{"action": "slow"})
	}()
	testutil.RequireClosed(t, started, 5*time.Second, "waiting for handler")
	cancel()

	response := testutil.RequireReceive(t, responses, 5*time.Second, "waiting for in-flight response")
	if !response.OK {
		t.Errorf("in-flight request failed: %q", response.Error)
	}
	if err := testutil.RequireReceive(t, done, 5*time.Second, "waiting for Serve"); err != nil {
		t.Errorf("Serve returned error: %v", err)
	}
	if _, err := net.Dial("unix", server.SocketPath()); err == nil {
		t.Error("socket still accepts connections after shutdown")
	}
}

func TestSocketServerDuplicateHandlerPanics(t *testing.T) {
	server := NewSocketServer("/unused", testLogger())
	server.Handle("ping", func(ctx context.Context, raw []byte) (any, error) { return nil, nil })

	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate handler")
		}
	}()
	server.Handle("ping", func(ctx context.Context, raw []byte) (any, error) { return nil, nil })
}

func TestSocketServerActionsSorted(t *testing.T) {
	server := NewSocketServer("/unused", testLogger())
	for _, action := range []string{"status", "frames", "ping"} {
		server.Handle(action, func(ctx context.Context, raw []byte) (any, error) { return nil, nil })
	}
	if got := server.Actions(); !slices.Equal(got, []string{"frames", "ping", "status"}) {
		t.Errorf("Actions() = %v", got)
	}
}
