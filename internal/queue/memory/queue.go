// Package memory provides the bounded in-process queue that feeds lookup workers.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/snp-citation-crawler/internal/citation"
)

// ErrClosed is returned by Dequeue once the queue is closed and drained.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded in-memory queue of identifiers with context-aware operations.
type Queue struct {
	ch      chan citation.Identifier
	closeMu sync.Mutex
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		ch: make(chan citation.Identifier, capacity),
	}
}

// Enqueue pushes an identifier, blocking while the queue is full.
func (q *Queue) Enqueue(ctx context.Context, id citation.Identifier) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- id:
		return nil
	}
}

// Dequeue pops the next identifier, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (citation.Identifier, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case id, ok := <-q.ch:
		if !ok {
			return "", ErrClosed
		}
		return id, nil
	}
}

// Close stops producers; consumers drain what is left and then see ErrClosed.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
