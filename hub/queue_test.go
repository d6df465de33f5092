package hub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromptQueue_FIFO(t *testing.T) {
	q := NewPromptQueue(3)

	require.NoError(t, q.Enqueue("one"))
	require.NoError(t, q.Enqueue("two"))
	assert.Equal(t, 2, q.Len())

	ctx := context.Background()
	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "one", got)

	got, err = q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "two", got)
	assert.Equal(t, 0, q.Len())
}

func TestPromptQueue_Full(t *testing.T) {
	q := NewPromptQueue(2)

	require.NoError(t, q.Enqueue("one"))
	require.NoError(t, q.Enqueue("two"))
	assert.ErrorIs(t, q.Enqueue("three"), ErrQueueFull)

	// draining one slot makes room again
	_, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.NoError(t, q.Enqueue("three"))
}

func TestPromptQueue_Close(t *testing.T) {
	q := NewPromptQueue(2)
	require.NoError(t, q.Enqueue("pending"))

	q.Close()
	q.Close() // idempotent

	assert.ErrorIs(t, q.Enqueue("late"), ErrQueueClosed)

	// prompts enqueued before Close still drain
	got, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "pending", got)

	_, err = q.Dequeue(context.Background())
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestPromptQueue_DequeueRespectsContext(t *testing.T) {
	q := NewPromptQueue(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_TrySendAfterClose(t *testing.T) {
	c := NewClient()

	require.True(t, c.TrySend([]byte("a")))

	c.Close()
	c.Close() // idempotent

	assert.False(t, c.TrySend([]byte("b")))
	assert.False(t, c.SendFrame(map[string]string{"type": "x"}))

	// buffered data survives close; channel is closed after drain
	data, ok := <-c.Outbox()
	require.True(t, ok)
	assert.Equal(t, []byte("a"), data)
	_, ok = <-c.Outbox()
	assert.False(t, ok)
}

func TestClient_BufferOverflow(t *testing.T) {
	c := NewClient()

	for i := 0; i < clientSendBuffer; i++ {
		require.True(t, c.TrySend([]byte("x")))
	}
	assert.False(t, c.TrySend([]byte("overflow")))
}
