// Copyright 2026 The Galaxy Authors
// SPDX-License-Identifier: Apache-2.0

package work

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/galaxy-foundation/galaxy/lib/clock"
	"github.com/galaxy-foundation/galaxy/lib/wire"
	"github.com/galaxy-foundation/galaxy/transport"
)

// Delivery flags carried in the top bits of a work frame's type field.
const (
	flagCollective  uint32 = 1 << 31
	flagAcknowledge uint32 = 1 << 30
	flagRelayed     uint32 = 1 << 29
	typeMask        uint32 = maxTypes - 1
)

// RootRank orders collective broadcasts. Every collective work frame
// reaches the other ranks through it, so all ranks dispatch collective
// messages in the same order and never wait in two different barriers.
const RootRank = 0

var (
	// ErrActionFailed wraps an Action error reported back to a
	// broadcaster through a completion barrier.
	ErrActionFailed = errors.New("action failed")

	// ErrStopped is returned to callers blocked on a channel whose
	// Serve loop has returned without a transport or protocol error.
	ErrStopped = errors.New("work: channel stopped")
)

// Config describes the rank a Channel serves.
type Config struct {
	Rank int
	Size int

	// Clock times Ping round trips. Nil means the real clock.
	Clock clock.Clock

	Logger *slog.Logger
}

// BroadcastOptions selects the synchronization of a broadcast.
type BroadcastOptions struct {
	// Collective lets the Action call Message.Barrier to wait for the
	// Action on every other rank to reach the same point.
	Collective bool

	// Barrier blocks Broadcast until every rank's Action has returned.
	Barrier bool
}

// Stats counts a channel's traffic.
type Stats struct {
	Sent       uint64 `cbor:"sent"`
	Received   uint64 `cbor:"received"`
	Dispatched uint64 `cbor:"dispatched"`
	Failed     uint64 `cbor:"failed"`
	Dropped    uint64 `cbor:"dropped"`
	Queued     int    `cbor:"queued"`
}

// Channel is one rank's message channel.
type Channel struct {
	types  *Registry
	rank   int
	size   int
	clock  clock.Clock
	logger *slog.Logger

	endpointMu sync.RWMutex
	endpoint   transport.Endpoint

	sequence atomic.Uint64
	queue    *frameQueue

	// collectiveMu serializes the fan-out of collective frames on the
	// root rank.
	collectiveMu sync.Mutex

	mu       sync.Mutex
	acks     map[uint64]*ackWait
	arrivals map[arrivalKey]*arrival
	pings    map[uint64]chan struct{}

	stopOnce sync.Once
	stopped  chan struct{}
	stopErr  error

	sent       atomic.Uint64
	received   atomic.Uint64
	dispatched atomic.Uint64
	failed     atomic.Uint64
	dropped    atomic.Uint64
}

type ackWait struct {
	remaining int
	errs      []error
	done      chan struct{}
}

type arrivalKey struct {
	origin   int
	sequence uint64
}

type arrival struct {
	count int
	done  chan struct{}
}

// NewChannel returns a channel for config.Rank. Register message types
// on it, then Attach an endpoint and run Serve.
func NewChannel(config Config) *Channel {
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Channel{
		types:    NewRegistry(),
		rank:     config.Rank,
		size:     config.Size,
		clock:    config.Clock,
		logger:   config.Logger,
		queue:    newFrameQueue(),
		acks:     make(map[uint64]*ackWait),
		arrivals: make(map[arrivalKey]*arrival),
		pings:    make(map[uint64]chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Rank returns this channel's rank.
func (c *Channel) Rank() int { return c.rank }

// Size returns the number of ranks.
func (c *Channel) Size() int { return c.size }

// Types returns the channel's type registry.
func (c *Channel) Types() *Registry { return c.types }

// Logger returns the channel's logger.
func (c *Channel) Logger() *slog.Logger { return c.logger }

// Register adds a message type. See Registry.Register.
func (c *Channel) Register(name string, action ActionFunc) *Type {
	return c.types.Register(name, action)
}

// Attach connects the channel to the rank network and freezes type
// registration. It fails if the endpoint disagrees with the configured
// rank or size, or if an endpoint is already attached.
func (c *Channel) Attach(endpoint transport.Endpoint) error {
	if endpoint.Rank() != c.rank || endpoint.Size() != c.size {
		return fmt.Errorf("endpoint is rank %d of %d, channel is rank %d of %d",
			endpoint.Rank(), endpoint.Size(), c.rank, c.size)
	}
	c.endpointMu.Lock()
	defer c.endpointMu.Unlock()
	if c.endpoint != nil {
		return errors.New("work: channel already has an endpoint")
	}
	c.types.freeze()
	c.endpoint = endpoint
	return nil
}

func (c *Channel) attached() (transport.Endpoint, error) {
	c.endpointMu.RLock()
	defer c.endpointMu.RUnlock()
	if c.endpoint == nil {
		return nil, ErrNotAttached
	}
	return c.endpoint, nil
}

// Stats returns a snapshot of the channel counters.
func (c *Channel) Stats() Stats {
	return Stats{
		Sent:       c.sent.Load(),
		Received:   c.received.Load(),
		Dispatched: c.dispatched.Load(),
		Failed:     c.failed.Load(),
		Dropped:    c.dropped.Load(),
		Queued:     c.queue.len(),
	}
}

// Send delivers msg to rank and releases it. Nothing reports whether
// the Action ran. Sending to this channel's own rank queues the message
// for local dispatch.
func (c *Channel) Send(ctx context.Context, msg *Message, rank int) error {
	defer msg.Release()
	endpoint, err := c.attached()
	if err != nil {
		return err
	}
	frame := transport.Frame{
		Kind:     transport.KindWork,
		Type:     msg.typ.index,
		Sequence: c.sequence.Add(1),
		Payload:  msg.Payload(),
	}
	if err := endpoint.Send(ctx, rank, frame); err != nil {
		return fmt.Errorf("%w: send %s to rank %d: %w", ErrTransportFailure, msg.typ.name, rank, err)
	}
	c.sent.Add(1)
	return nil
}

// Drop releases a message that will not be sent and counts it.
func (c *Channel) Drop(msg *Message) {
	msg.Release()
	c.dropped.Add(1)
}

// Broadcast delivers msg to every rank, including this one, and
// releases it. With options.Barrier it returns only after every rank's
// Action has returned, joining any Action errors (each wrapping
// ErrActionFailed). Broadcast with Barrier must not be called from an
// Action: the local Action could never run.
//
// A collective broadcast from a rank other than RootRank travels to the
// root first and is fanned out from there, so concurrent collective
// broadcasts from any ranks are dispatched in one order everywhere.
func (c *Channel) Broadcast(ctx context.Context, msg *Message, options BroadcastOptions) error {
	defer msg.Release()
	endpoint, err := c.attached()
	if err != nil {
		return err
	}

	sequence := c.sequence.Add(1)
	typ := msg.typ.index
	if options.Collective {
		typ |= flagCollective
	}
	var wait *ackWait
	if options.Barrier {
		typ |= flagAcknowledge
		wait = &ackWait{remaining: c.size, done: make(chan struct{})}
		c.mu.Lock()
		c.acks[sequence] = wait
		c.mu.Unlock()
		defer func() {
			c.mu.Lock()
			delete(c.acks, sequence)
			c.mu.Unlock()
		}()
	}

	frame := transport.Frame{
		Kind:     transport.KindWork,
		Type:     typ,
		Sequence: sequence,
		Payload:  msg.Payload(),
	}
	if options.Collective && c.rank != RootRank {
		frame.Kind = transport.KindRelay
		if err := endpoint.Send(ctx, RootRank, frame); err != nil {
			return fmt.Errorf("%w: relay %s to rank %d: %w", ErrTransportFailure, msg.typ.name, RootRank, err)
		}
		c.sent.Add(1)
	} else if err := c.fanOut(ctx, endpoint, frame); err != nil {
		return fmt.Errorf("%w: broadcast %s %w", ErrTransportFailure, msg.typ.name, err)
	}
	if wait == nil {
		return nil
	}

	select {
	case <-wait.done:
		c.mu.Lock()
		errs := wait.errs
		c.mu.Unlock()
		return errors.Join(errs...)
	case <-c.stopped:
		return c.stopErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// fanOut sends frame to every rank in rank order.
func (c *Channel) fanOut(ctx context.Context, endpoint transport.Endpoint, frame transport.Frame) error {
	if frame.Type&flagCollective != 0 {
		c.collectiveMu.Lock()
		defer c.collectiveMu.Unlock()
	}
	for rank := range c.size {
		if err := endpoint.Send(ctx, rank, frame); err != nil {
			return fmt.Errorf("to rank %d: %w", rank, err)
		}
		c.sent.Add(1)
	}
	return nil
}

// relay fans out a collective frame another rank sent to the root. The
// broadcaster's rank travels ahead of the payload; the sequence stays
// the broadcaster's so acknowledgements and barrier arrivals match.
func (c *Channel) relay(ctx context.Context, endpoint transport.Endpoint, frame transport.Frame) error {
	if c.rank != RootRank || frame.Type&flagCollective == 0 {
		return fmt.Errorf("%w: rank %d relayed a frame to rank %d", ErrProtocolViolation, frame.Sender, c.rank)
	}
	writer := wire.NewWriter(make([]byte, 0, 4+len(frame.Payload)))
	writer.PutInt32(frame.Sender)
	writer.PutRaw(frame.Payload)
	relayed := transport.Frame{
		Kind:     transport.KindWork,
		Type:     frame.Type | flagRelayed,
		Sequence: frame.Sequence,
		Payload:  writer.Bytes(),
	}
	if err := c.fanOut(ctx, endpoint, relayed); err != nil {
		return fmt.Errorf("%w: relay from rank %d %w", ErrTransportFailure, frame.Sender, err)
	}
	return nil
}

// Ping measures the round trip to rank.
func (c *Channel) Ping(ctx context.Context, rank int) (time.Duration, error) {
	endpoint, err := c.attached()
	if err != nil {
		return 0, err
	}
	sequence := c.sequence.Add(1)
	pong := make(chan struct{})
	c.mu.Lock()
	c.pings[sequence] = pong
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pings, sequence)
		c.mu.Unlock()
	}()

	start := c.clock.Now()
	if err := endpoint.Send(ctx, rank, transport.Frame{Kind: transport.KindPing, Sequence: sequence}); err != nil {
		return 0, fmt.Errorf("%w: ping rank %d: %w", ErrTransportFailure, rank, err)
	}
	select {
	case <-pong:
		return clock.Since(c.clock, start), nil
	case <-c.stopped:
		return 0, c.stopErr
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Serve receives and dispatches messages until ctx is done or the
// channel fails. It returns nil after cancellation, an error wrapping
// ErrTransportFailure when the endpoint fails, and an error wrapping
// ErrProtocolViolation when a peer sends an uninterpretable frame.
func (c *Channel) Serve(ctx context.Context) error {
	endpoint, err := c.attached()
	if err != nil {
		return err
	}
	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan error, 2)
	go func() { results <- c.receiveLoop(loopCtx, endpoint) }()
	go func() { results <- c.dispatchLoop(loopCtx, endpoint) }()

	err = <-results
	cancel()
	<-results

	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		err = nil
	}
	c.stop(err)
	if err != nil {
		c.logger.Error("work channel stopped", "error", err)
	}
	return err
}

func (c *Channel) stop(err error) {
	c.stopOnce.Do(func() {
		if err == nil {
			err = ErrStopped
		}
		c.stopErr = err
		close(c.stopped)
	})
}

// Done is closed when Serve has returned.
func (c *Channel) Done() <-chan struct{} { return c.stopped }

func (c *Channel) receiveLoop(ctx context.Context, endpoint transport.Endpoint) error {
	for {
		frame, err := endpoint.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: rank %d receive: %w", ErrTransportFailure, c.rank, err)
		}
		c.received.Add(1)

		switch frame.Kind {
		case transport.KindWork:
			index := frame.Type & typeMask
			if _, ok := c.types.Lookup(index); !ok {
				return fmt.Errorf("%w: rank %d sent unregistered message type %d",
					ErrProtocolViolation, frame.Sender, index)
			}
			c.queue.push(frame)
		case transport.KindRelay:
			if _, ok := c.types.Lookup(frame.Type & typeMask); !ok {
				return fmt.Errorf("%w: rank %d relayed unregistered message type %d",
					ErrProtocolViolation, frame.Sender, frame.Type&typeMask)
			}
			if err := c.relay(ctx, endpoint, frame); err != nil {
				return err
			}
		case transport.KindAck:
			c.handleAck(frame)
		case transport.KindArrive:
			c.handleArrive(frame)
		case transport.KindPing:
			pong := transport.Frame{Kind: transport.KindPong, Sequence: frame.Sequence}
			if err := endpoint.Send(ctx, int(frame.Sender), pong); err != nil {
				return fmt.Errorf("%w: pong to rank %d: %w", ErrTransportFailure, frame.Sender, err)
			}
		case transport.KindPong:
			c.mu.Lock()
			if pong, ok := c.pings[frame.Sequence]; ok {
				close(pong)
				delete(c.pings, frame.Sequence)
			}
			c.mu.Unlock()
		default:
			return fmt.Errorf("%w: rank %d sent frame kind %d", ErrProtocolViolation, frame.Sender, frame.Kind)
		}
	}
}

func (c *Channel) handleAck(frame transport.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	wait, ok := c.acks[frame.Sequence]
	if !ok {
		// The broadcaster gave up waiting.
		return
	}
	if len(frame.Payload) > 0 {
		wait.errs = append(wait.errs, fmt.Errorf("rank %d: %w: %s", frame.Sender, ErrActionFailed, frame.Payload))
	}
	wait.remaining--
	if wait.remaining == 0 {
		close(wait.done)
	}
}

func (c *Channel) arrivalFor(key arrivalKey) *arrival {
	entry, ok := c.arrivals[key]
	if !ok {
		entry = &arrival{done: make(chan struct{})}
		c.arrivals[key] = entry
	}
	return entry
}

func (c *Channel) handleArrive(frame transport.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry := c.arrivalFor(arrivalKey{origin: int(frame.Type), sequence: frame.Sequence})
	entry.count++
	if entry.count == c.size {
		close(entry.done)
	}
}

func (c *Channel) barrier(ctx context.Context, origin int, sequence uint64) error {
	endpoint, err := c.attached()
	if err != nil {
		return err
	}
	key := arrivalKey{origin: origin, sequence: sequence}
	c.mu.Lock()
	entry := c.arrivalFor(key)
	c.mu.Unlock()

	frame := transport.Frame{Kind: transport.KindArrive, Type: uint32(origin), Sequence: sequence}
	for rank := range c.size {
		if err := endpoint.Send(ctx, rank, frame); err != nil {
			return fmt.Errorf("%w: barrier arrival to rank %d: %w", ErrTransportFailure, rank, err)
		}
	}
	select {
	case <-entry.done:
		c.mu.Lock()
		delete(c.arrivals, key)
		c.mu.Unlock()
		return nil
	case <-c.stopped:
		return c.stopErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Channel) dispatchLoop(ctx context.Context, endpoint transport.Endpoint) error {
	for {
		frame, err := c.queue.pop(ctx)
		if err != nil {
			return err
		}
		if err := c.dispatch(ctx, endpoint, frame); err != nil {
			return err
		}
	}
}

func (c *Channel) dispatch(ctx context.Context, endpoint transport.Endpoint, frame transport.Frame) error {
	t, _ := c.types.Lookup(frame.Type & typeMask)
	sender, payload := int(frame.Sender), frame.Payload
	if frame.Type&flagRelayed != 0 {
		reader := wire.NewReader(frame.Payload)
		origin := int(reader.Int32())
		if reader.Err() != nil || origin < 0 || origin >= c.size {
			return fmt.Errorf("%w: relayed %s from rank %d names no broadcaster", ErrProtocolViolation, t.name, frame.Sender)
		}
		sender, payload = origin, reader.Rest()
	}
	msg := &Message{
		typ:        t,
		received:   payload,
		sender:     sender,
		sequence:   frame.Sequence,
		collective: frame.Type&flagCollective != 0,
		channel:    c,
	}
	retain, actionErr := t.action(ctx, msg)
	c.dispatched.Add(1)
	if actionErr != nil {
		c.failed.Add(1)
		c.logger.Error("message action failed",
			"type", t.name, "sender", msg.sender, "error", actionErr)
	}

	if frame.Type&flagAcknowledge != 0 {
		ack := transport.Frame{Kind: transport.KindAck, Sequence: frame.Sequence}
		if actionErr != nil {
			ack.Payload = []byte(actionErr.Error())
		}
		if err := endpoint.Send(ctx, msg.sender, ack); err != nil {
			return fmt.Errorf("%w: acknowledge %s to rank %d: %w", ErrTransportFailure, t.name, msg.sender, err)
		}
	}
	if !retain {
		msg.Release()
	}
	if errors.Is(actionErr, ErrProtocolViolation) {
		return fmt.Errorf("%s from rank %d: %w", t.name, msg.sender, actionErr)
	}
	return nil
}
