// Copyright 2026 The Galaxy Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/galaxy-foundation/galaxy/lib/codec"
	"github.com/galaxy-foundation/galaxy/lib/compress"
	"github.com/galaxy-foundation/galaxy/lib/netutil"
)

// TCPConfig describes one rank's place in a TCP mesh.
type TCPConfig struct {
	// Rank is this process's rank.
	Rank int

	// Peers holds the listen address of every rank, indexed by rank.
	// The entry for Rank itself is not dialed.
	Peers []string

	// Digest fingerprints the work-message registration order. Every
	// rank in the mesh must present the same digest.
	Digest []byte

	// Compression is applied to payloads larger than CompressThreshold
	// bytes. compress.None disables compression.
	Compression       compress.Tag
	CompressThreshold int

	// DialTimeout bounds how long this rank waits for lower ranks to
	// start listening and for higher ranks to connect. Zero means only
	// the context deadline applies.
	DialTimeout time.Duration

	Logger *slog.Logger
}

// hello is the CBOR handshake each side of a mesh connection sends
// before any frame.
type hello struct {
	Rank   int    `cbor:"rank"`
	Size   int    `cbor:"size"`
	Digest []byte `cbor:"digest"`
}

// TCPEndpoint is one rank of a TCP full mesh. Rank i dials every rank
// below it and accepts a connection from every rank above it, so each
// pair of ranks shares exactly one connection.
type TCPEndpoint struct {
	config   TCPConfig
	listener net.Listener
	logger   *slog.Logger
	box      *mailbox

	// peers is indexed by rank; the entry for this rank is nil.
	peers []*peerConn

	closeOnce sync.Once
	closed    chan struct{}
	readers   sync.WaitGroup
}

var _ Endpoint = (*TCPEndpoint)(nil)

type peerConn struct {
	rank    int
	conn    net.Conn
	writeMu sync.Mutex
}

// ConnectTCP builds the mesh for config.Rank. listener must already be
// bound to config.Peers[config.Rank] (or to the address peers will use
// to reach it). ConnectTCP returns once a connection to every other rank
// has completed its handshake; the endpoint owns listener from then on.
func ConnectTCP(ctx context.Context, listener net.Listener, config TCPConfig) (*TCPEndpoint, error) {
	size := len(config.Peers)
	if config.Rank < 0 || config.Rank >= size {
		return nil, fmt.Errorf("rank %d outside mesh of %d peers", config.Rank, size)
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	endpoint := &TCPEndpoint{
		config:   config,
		listener: listener,
		logger:   logger.With("rank", config.Rank),
		box:      newMailbox(),
		peers:    make([]*peerConn, size),
		closed:   make(chan struct{}),
	}

	if config.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.DialTimeout)
		defer cancel()
	}

	// Closing the listener is the only way to interrupt Accept.
	stopAccept := context.AfterFunc(ctx, func() { listener.Close() })
	defer stopAccept()

	var (
		mu       sync.Mutex
		firstErr error
		wg       sync.WaitGroup
	)
	record := func(peer *peerConn, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return
		}
		endpoint.peers[peer.rank] = peer
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for accepted := config.Rank + 1; accepted < size; accepted++ {
			conn, err := listener.Accept()
			if err != nil {
				record(nil, fmt.Errorf("accept peer connection: %w", contextError(ctx, err)))
				return
			}
			peer, err := endpoint.handshake(conn, -1)
			if err != nil {
				conn.Close()
				record(nil, err)
				return
			}
			record(peer, nil)
		}
	}()

	for rank := 0; rank < config.Rank; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			conn, err := dialPeer(ctx, config.Peers[rank])
			if err != nil {
				record(nil, fmt.Errorf("dial rank %d at %s: %w", rank, config.Peers[rank], err))
				return
			}
			peer, err := endpoint.handshake(conn, rank)
			if err != nil {
				conn.Close()
				record(nil, err)
				return
			}
			record(peer, nil)
		}(rank)
	}

	wg.Wait()
	if firstErr == nil {
		for rank, peer := range endpoint.peers {
			if rank != config.Rank && peer == nil {
				firstErr = fmt.Errorf("no connection to rank %d", rank)
				break
			}
		}
	}
	if firstErr != nil {
		for _, peer := range endpoint.peers {
			if peer != nil {
				peer.conn.Close()
			}
		}
		listener.Close()
		return nil, firstErr
	}

	for _, peer := range endpoint.peers {
		if peer == nil {
			continue
		}
		endpoint.readers.Add(1)
		go endpoint.readLoop(peer)
	}
	endpoint.logger.Info("rank mesh connected", "size", size)
	return endpoint, nil
}

// dialPeer retries until the peer is listening or ctx is done. Ranks
// start in any order, so connection refused is expected for a while.
func dialPeer(ctx context.Context, address string) (net.Conn, error) {
	var dialer net.Dialer
	delay := 20 * time.Millisecond
	for {
		conn, err := dialer.DialContext(ctx, "tcp", address)
		if err == nil {
			return conn, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
		case <-time.After(delay):
		}
		if delay < 500*time.Millisecond {
			delay *= 2
		}
	}
}

// handshake exchanges hellos on conn. expectRank is the rank that was
// dialed, or -1 on the accepting side, where the peer must be a higher
// rank.
func (e *TCPEndpoint) handshake(conn net.Conn, expectRank int) (*peerConn, error) {
	size := len(e.config.Peers)
	deadline := time.Now().Add(10 * time.Second)
	if e.config.DialTimeout > 0 {
		deadline = time.Now().Add(e.config.DialTimeout)
	}
	conn.SetDeadline(deadline)
	defer conn.SetDeadline(time.Time{})

	local, err := codec.Marshal(hello{Rank: e.config.Rank, Size: size, Digest: e.config.Digest})
	if err != nil {
		return nil, fmt.Errorf("encode hello: %w", err)
	}
	if err := netutil.WriteFrame(conn, local); err != nil {
		return nil, fmt.Errorf("send hello: %w", err)
	}
	data, err := netutil.ReadFrame(conn)
	if err != nil {
		return nil, fmt.Errorf("receive hello from %s: %w", conn.RemoteAddr(), err)
	}
	var remote hello
	if err := codec.Unmarshal(data, &remote); err != nil {
		return nil, fmt.Errorf("decode hello from %s: %w", conn.RemoteAddr(), err)
	}

	switch {
	case remote.Size != size:
		return nil, fmt.Errorf("%w: peer %d reports %d ranks, this rank has %d",
			ErrHandshake, remote.Rank, remote.Size, size)
	case expectRank >= 0 && remote.Rank != expectRank:
		return nil, fmt.Errorf("%w: dialed rank %d, peer reports rank %d",
			ErrHandshake, expectRank, remote.Rank)
	case expectRank < 0 && (remote.Rank <= e.config.Rank || remote.Rank >= size):
		return nil, fmt.Errorf("%w: unexpected connection from rank %d", ErrHandshake, remote.Rank)
	case !bytes.Equal(remote.Digest, e.config.Digest):
		return nil, fmt.Errorf("%w: rank %d registered different message types", ErrHandshake, remote.Rank)
	}
	return &peerConn{rank: remote.Rank, conn: conn}, nil
}

func (e *TCPEndpoint) readLoop(peer *peerConn) {
	defer e.readers.Done()
	for {
		frame, err := readFrame(peer.conn)
		if err != nil {
			select {
			case <-e.closed:
				return
			default:
			}
			e.logger.Error("rank connection failed", "peer", peer.rank, "error", err)
			e.box.fail(fmt.Errorf("connection to rank %d: %w", peer.rank, err))
			return
		}
		if int(frame.Sender) != peer.rank {
			e.box.fail(fmt.Errorf("connection to rank %d carried a frame from rank %d", peer.rank, frame.Sender))
			return
		}
		if err := e.box.push(frame); err != nil {
			return
		}
	}
}

func (e *TCPEndpoint) Rank() int { return e.config.Rank }

func (e *TCPEndpoint) Size() int { return len(e.config.Peers) }

// Addr returns the listener's address.
func (e *TCPEndpoint) Addr() net.Addr { return e.listener.Addr() }

func (e *TCPEndpoint) Send(ctx context.Context, to int, frame Frame) error {
	if to < 0 || to >= len(e.peers) {
		return fmt.Errorf("send to rank %d: outside mesh of %d ranks", to, len(e.peers))
	}
	select {
	case <-e.closed:
		return ErrClosed
	default:
	}
	frame.Sender = int32(e.config.Rank)
	if to == e.config.Rank {
		frame.Payload = append([]byte(nil), frame.Payload...)
		return e.box.push(frame)
	}

	body, tag, err := encodePayload(frame.Payload, e.config.Compression, e.config.CompressThreshold)
	if err != nil {
		return fmt.Errorf("compress %s frame for rank %d: %w", frame.Kind, to, err)
	}
	var buffer [headerSize]byte
	header{
		kind:     frame.Kind,
		flags:    tag,
		typ:      frame.Type,
		sender:   frame.Sender,
		sequence: frame.Sequence,
		length:   uint32(len(body)),
	}.encode(&buffer)

	peer := e.peers[to]
	peer.writeMu.Lock()
	defer peer.writeMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		peer.conn.SetWriteDeadline(deadline)
		defer peer.conn.SetWriteDeadline(time.Time{})
	}
	buffers := net.Buffers{buffer[:], body}
	if _, err := buffers.WriteTo(peer.conn); err != nil {
		return fmt.Errorf("send %s frame to rank %d: %w", frame.Kind, to, err)
	}
	return nil
}

func (e *TCPEndpoint) Recv(ctx context.Context) (Frame, error) {
	return e.box.pop(ctx)
}

// Close closes every peer connection and the listener, then waits for
// the reader goroutines to exit.
func (e *TCPEndpoint) Close() error {
	e.closeOnce.Do(func() {
		close(e.closed)
		e.box.fail(ErrClosed)
		for _, peer := range e.peers {
			if peer != nil {
				peer.conn.Close()
			}
		}
		e.listener.Close()
	})
	e.readers.Wait()
	return nil
}

func contextError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, net.ErrClosed) {
		return ctxErr
	}
	return err
}
