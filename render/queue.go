// Copyright 2026 The Galaxy Authors
// SPDX-License-Identifier: Apache-2.0

package render

import (
	"context"
	"sync"
)

// listQueue is the rank's ray queue. Pushes come from the channel's
// dispatch goroutine and never block.
type listQueue struct {
	mu    sync.Mutex
	lists []*RayList
	ready chan struct{}
}

func newListQueue() *listQueue {
	return &listQueue{ready: make(chan struct{}, 1)}
}

func (q *listQueue) push(list *RayList) {
	q.mu.Lock()
	q.lists = append(q.lists, list)
	q.mu.Unlock()
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *listQueue) pop(ctx context.Context) (*RayList, error) {
	for {
		q.mu.Lock()
		if len(q.lists) > 0 {
			list := q.lists[0]
			q.lists[0] = nil
			q.lists = q.lists[1:]
			q.mu.Unlock()
			return list, nil
		}
		q.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.ready:
		}
	}
}
