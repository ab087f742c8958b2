// Copyright 2026 The Galaxy Authors
// SPDX-License-Identifier: Apache-2.0

package work

import (
	"context"
	"sync"

	"github.com/galaxy-foundation/galaxy/transport"
)

// frameQueue is the unbounded hand-off from the receive goroutine to
// the dispatch goroutine. It must never block the receiver, which has to
// keep draining acknowledgements while an Action waits on a barrier.
type frameQueue struct {
	mu     sync.Mutex
	frames []transport.Frame
	ready  chan struct{}
}

func newFrameQueue() *frameQueue {
	return &frameQueue{ready: make(chan struct{}, 1)}
}

func (q *frameQueue) push(frame transport.Frame) {
	q.mu.Lock()
	q.frames = append(q.frames, frame)
	q.mu.Unlock()
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *frameQueue) pop(ctx context.Context) (transport.Frame, error) {
	for {
		q.mu.Lock()
		if len(q.frames) > 0 {
			frame := q.frames[0]
			q.frames[0] = transport.Frame{}
			q.frames = q.frames[1:]
			q.mu.Unlock()
			return frame, nil
		}
		q.mu.Unlock()
		select {
		case <-ctx.Done():
			return transport.Frame{}, ctx.Err()
		case <-q.ready:
		}
	}
}

func (q *frameQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}
