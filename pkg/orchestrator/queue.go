// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package orchestrator

import (
	"container/heap"
	"context"
	"sync"

	"github.com/teradata-labs/jacquard/pkg/signal"
	"github.com/teradata-labs/jacquard/pkg/types"
)

// queueItem pairs a signal with its enqueue sequence number. The
// sequence keeps dequeue order FIFO among equal priorities.
type queueItem struct {
	sig signal.Signal
	seq uint64
}

// signalHeap orders by descending priority, then ascending sequence.
type signalHeap []queueItem

func (h signalHeap) Len() int { return len(h) }

func (h signalHeap) Less(i, j int) bool {
	if h[i].sig.Priority != h[j].sig.Priority {
		return h[i].sig.Priority > h[j].sig.Priority
	}
	return h[i].seq < h[j].seq
}

func (h signalHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *signalHeap) Push(x any) { *h = append(*h, x.(queueItem)) }

func (h *signalHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// QueueStats is a point-in-time view of queue counters.
type QueueStats struct {
	Depth    int    `json:"depth"`
	Enqueued uint64 `json:"enqueued"`
	Dequeued uint64 `json:"dequeued"`
	MaxDepth int    `json:"maxDepth"`
}

// Queue is the orchestrator's signal queue: strict priority, FIFO
// within equal priority. Dequeue blocks until a signal arrives, the
// context ends, or the queue closes.
type Queue struct {
	mu     sync.Mutex
	items  signalHeap
	seq    uint64
	closed bool
	wake   chan struct{}
	stats  QueueStats
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{wake: make(chan struct{}, 1)}
}

// Enqueue adds a signal.
func (q *Queue) Enqueue(sig signal.Signal) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return types.ErrQueueClosed
	}
	heap.Push(&q.items, queueItem{sig: sig, seq: q.seq})
	q.seq++
	q.stats.Enqueued++
	if len(q.items) > q.stats.MaxDepth {
		q.stats.MaxDepth = len(q.items)
	}
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// Dequeue removes and returns the highest-priority signal, blocking
// while the queue is empty.
func (q *Queue) Dequeue(ctx context.Context) (signal.Signal, error) {
	for {
		q.mu.Lock()
		if q.items.Len() > 0 {
			item := heap.Pop(&q.items).(queueItem)
			q.stats.Dequeued++
			q.mu.Unlock()
			return item.sig, nil
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return signal.Signal{}, types.ErrQueueClosed
		}
		select {
		case <-ctx.Done():
			return signal.Signal{}, ctx.Err()
		case <-q.wake:
		}
	}
}

// Len reports the current depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Stats returns the queue counters.
func (q *Queue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.stats
	s.Depth = q.items.Len()
	return s
}

// Close rejects further enqueues. Signals already queued can still be
// drained; Dequeue on an empty closed queue returns ErrQueueClosed.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}
