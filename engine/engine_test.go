package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubEngine replays a fixed event sequence
type stubEngine struct {
	events []Event
	err    error
}

func (s *stubEngine) Stream(ctx context.Context, prompt string, opts Options) (<-chan Event, <-chan error) {
	events := make(chan Event, len(s.events))
	errs := make(chan error, 1)
	for _, ev := range s.events {
		events <- ev
	}
	if s.err != nil {
		errs <- s.err
	}
	close(events)
	close(errs)
	return events, errs
}

func TestQuery_PrefersResultText(t *testing.T) {
	e := &stubEngine{events: []Event{
		AssistantEvent{Text: "partial "},
		AssistantEvent{Text: "answer"},
		ResultEvent{Subtype: "success", Result: "final answer"},
	}}

	got, err := Query(context.Background(), e, "q", Options{})
	require.NoError(t, err)
	assert.Equal(t, "final answer", got)
}

func TestQuery_FallsBackToAssistantText(t *testing.T) {
	e := &stubEngine{events: []Event{
		AssistantEvent{Text: "partial "},
		AssistantEvent{Text: "answer"},
		ResultEvent{Subtype: "success"},
	}}

	got, err := Query(context.Background(), e, "q", Options{})
	require.NoError(t, err)
	assert.Equal(t, "partial answer", got)
}

func TestQuery_PropagatesError(t *testing.T) {
	e := &stubEngine{err: &EngineError{Message: "spawn failed"}}

	_, err := Query(context.Background(), e, "q", Options{})
	var engErr *EngineError
	assert.ErrorAs(t, err, &engErr)
}
