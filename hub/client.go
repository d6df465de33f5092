package hub

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
)

// clientSendBuffer is the per-client outbound buffer size. A subscriber
// that falls this far behind is dropped rather than stalling the others.
const clientSendBuffer = 256

// Client is the hub-side handle for one WebSocket connection. Sessions
// hold these in their subscriber sets; the transport layer drains Outbox.
type Client struct {
	ID string

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// NewClient creates a client with a fresh id and outbound buffer
func NewClient() *Client {
	return &Client{
		ID:   uuid.New().String(),
		send: make(chan []byte, clientSendBuffer),
	}
}

// Outbox returns the channel the transport writer drains
func (c *Client) Outbox() <-chan []byte {
	return c.send
}

// TrySend queues data without blocking. Returns false when the client is
// closed or its buffer is full.
func (c *Client) TrySend(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// SendFrame marshals v and queues it. Returns false on marshal failure,
// a full buffer, or a closed client.
func (c *Client) SendFrame(v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		return false
	}
	return c.TrySend(data)
}

// Close closes the outbound channel. Idempotent and safe against
// concurrent TrySend.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}
