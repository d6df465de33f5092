package hub

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrQueueFull is returned when the prompt queue is at capacity
	ErrQueueFull = errors.New("prompt queue full")

	// ErrQueueClosed is returned when enqueueing to a closed queue
	ErrQueueClosed = errors.New("prompt queue closed")
)

// PromptQueue is a bounded FIFO of pending user prompts for one session.
// One producer side (any attached client, serialized by the session) and
// one consumer (the session's turn runner).
type PromptQueue struct {
	mu     sync.Mutex
	ch     chan string
	closed bool
}

// NewPromptQueue creates a queue with the given capacity (minimum 1)
func NewPromptQueue(capacity int) *PromptQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &PromptQueue{ch: make(chan string, capacity)}
}

// Enqueue appends a prompt without blocking. Returns ErrQueueFull when at
// capacity and ErrQueueClosed after Close.
func (q *PromptQueue) Enqueue(prompt string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- prompt:
		return nil
	default:
		return ErrQueueFull
	}
}

// Dequeue blocks until a prompt is available, the queue is closed, or
// ctx is cancelled.
func (q *PromptQueue) Dequeue(ctx context.Context) (string, error) {
	select {
	case prompt, ok := <-q.ch:
		if !ok {
			return "", ErrQueueClosed
		}
		return prompt, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Close wakes all waiters. Idempotent.
func (q *PromptQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}

// Len returns the number of queued prompts
func (q *PromptQueue) Len() int {
	return len(q.ch)
}
