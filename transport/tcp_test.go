// Copyright 2026 The Galaxy Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/galaxy-foundation/galaxy/lib/compress"
)

// connectMesh starts size ranks on loopback listeners and connects them
// concurrently. digests[i] is rank i's registration digest.
func connectMesh(t *testing.T, digests [][]byte, tag compress.Tag) ([]*TCPEndpoint, []error) {
	t.Helper()
	size := len(digests)
	listeners := make([]net.Listener, size)
	peers := make([]string, size)
	for rank := range size {
		listener, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatalf("listen: %v", err)
		}
		listeners[rank] = listener
		peers[rank] = listener.Addr().String()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	endpoints := make([]*TCPEndpoint, size)
	errs := make([]error, size)
	var wg sync.WaitGroup
	for rank := range size {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			endpoints[rank], errs[rank] = ConnectTCP(ctx, listeners[rank], TCPConfig{
				Rank:              rank,
				Peers:             peers,
				Digest:            digests[rank],
				Compression:       tag,
				CompressThreshold: 64,
				DialTimeout:       5 * time.Second,
				Logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
			})
		}(rank)
	}
	wg.Wait()
	t.Cleanup(func() {
		for _, endpoint := range endpoints {
			if endpoint != nil {
				endpoint.Close()
			}
		}
	})
	return endpoints, errs
}

func TestTCPMeshDelivers(t *testing.T) {
	digest := []byte("registry-digest")
	endpoints, errs := connectMesh(t, [][]byte{digest, digest, digest}, compress.None)
	for rank, err := range errs {
		if err != nil {
			t.Fatalf("rank %d: ConnectTCP: %v", rank, err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Every rank sends to every rank, including itself.
	for from, endpoint := range endpoints {
		for to := range endpoints {
			frame := Frame{Kind: KindWork, Type: 3, Sequence: uint64(from*10 + to), Payload: []byte{byte(from), byte(to)}}
			if err := endpoint.Send(ctx, to, frame); err != nil {
				t.Fatalf("rank %d Send to %d: %v", from, to, err)
			}
		}
	}
	for to, endpoint := range endpoints {
		seen := make(map[int32]bool)
		for range endpoints {
			frame, err := endpoint.Recv(ctx)
			if err != nil {
				t.Fatalf("rank %d Recv: %v", to, err)
			}
			if frame.Sequence != uint64(int(frame.Sender)*10+to) {
				t.Errorf("rank %d got sequence %d from rank %d", to, frame.Sequence, frame.Sender)
			}
			if !bytes.Equal(frame.Payload, []byte{byte(frame.Sender), byte(to)}) {
				t.Errorf("rank %d got payload %v from rank %d", to, frame.Payload, frame.Sender)
			}
			seen[frame.Sender] = true
		}
		if len(seen) != len(endpoints) {
			t.Errorf("rank %d heard from %d ranks, want %d", to, len(seen), len(endpoints))
		}
	}
}

func TestTCPMeshCompressesLargePayloads(t *testing.T) {
	for _, tag := range []compress.Tag{compress.LZ4, compress.BG4LZ4} {
		t.Run(tag.String(), func(t *testing.T) {
			digest := []byte("d")
			endpoints, errs := connectMesh(t, [][]byte{digest, digest}, tag)
			for rank, err := range errs {
				if err != nil {
					t.Fatalf("rank %d: ConnectTCP: %v", rank, err)
				}
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			// Pixel-like payload: repeated small 4-byte values.
			payload := make([]byte, 4096)
			for i := range payload {
				if i%4 == 0 {
					payload[i] = byte(i / 64)
				}
			}
			if err := endpoints[1].Send(ctx, 0, Frame{Kind: KindWork, Payload: payload}); err != nil {
				t.Fatalf("Send: %v", err)
			}
			frame, err := endpoints[0].Recv(ctx)
			if err != nil {
				t.Fatalf("Recv: %v", err)
			}
			if !bytes.Equal(frame.Payload, payload) {
				t.Fatal("payload changed in transit")
			}
		})
	}
}

func TestTCPMeshRejectsDigestMismatch(t *testing.T) {
	_, errs := connectMesh(t, [][]byte{[]byte("one"), []byte("two")}, compress.None)
	for rank, err := range errs {
		if !errors.Is(err, ErrHandshake) {
			t.Errorf("rank %d: ConnectTCP error = %v, want ErrHandshake", rank, err)
		}
	}
}

func TestTCPPeerFailureBreaksRecv(t *testing.T) {
	digest := []byte("d")
	endpoints, errs := connectMesh(t, [][]byte{digest, digest}, compress.None)
	for rank, err := range errs {
		if err != nil {
			t.Fatalf("rank %d: ConnectTCP: %v", rank, err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	endpoints[1].Close()
	_, err := endpoints[0].Recv(ctx)
	if err == nil || errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Recv after peer close = %v, want connection failure", err)
	}
}

func TestFrameHeaderLayout(t *testing.T) {
	var buffer [headerSize]byte
	header{kind: KindAck, flags: compress.LZ4, typ: 0x01020304, sender: 2, sequence: 9, length: 5}.encode(&buffer)
	want := []byte{
		2, 1,
		4, 3, 2, 1,
		2, 0, 0, 0,
		9, 0, 0, 0, 0, 0, 0, 0,
		5, 0, 0, 0,
	}
	if !bytes.Equal(buffer[:], want) {
		t.Fatalf("header = %v, want %v", buffer[:], want)
	}
	if got := decodeHeader(&buffer); got.typ != 0x01020304 || got.sender != 2 || got.sequence != 9 || got.length != 5 {
		t.Errorf("decodeHeader = %+v", got)
	}
}
