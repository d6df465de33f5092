package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/xiaoyuanzhu-com/ccsdk-gateway/db"
	"github.com/xiaoyuanzhu-com/ccsdk-gateway/engine"
	"github.com/xiaoyuanzhu-com/ccsdk-gateway/log"
)

// ErrSessionGone is returned when submitting to a reclaimed session
var ErrSessionGone = errors.New("session has been reclaimed")

// promptQueueCapacity bounds how many prompts may wait behind a running
// turn. Small on purpose: queueing preserves user intent without
// unbounded accumulation.
const promptQueueCapacity = 8

type sessionState int

const (
	stateIdle sessionState = iota
	stateRunning
	stateReclaimed
)

// Session is the per-conversation state machine. All turn execution runs
// in a single runner goroutine fed by the prompt queue; external callers
// only enqueue prompts, signal the abort handle, or mutate the subscriber
// set.
type Session struct {
	ID string

	store *db.DB
	eng   engine.Engine
	opts  engine.Options
	queue *PromptQueue

	// baseCtx is the hub's lifetime; cancelling it aborts the runner
	baseCtx context.Context

	// onIdle is invoked after a turn completes with no prompts queued,
	// so the hub can consider the session for reclamation
	onIdle func(sessionID string)

	mu           sync.Mutex
	subscribers  map[string]*Client
	state        sessionState
	abort        context.CancelFunc
	resumeToken  string
	createdAt    int64
	lastActivity int64
	messageCount int
}

func newSession(id string, store *db.DB, eng engine.Engine, opts engine.Options, baseCtx context.Context, row *db.Session) *Session {
	s := &Session{
		ID:          id,
		store:       store,
		eng:         eng,
		opts:        opts,
		queue:       NewPromptQueue(promptQueueCapacity),
		baseCtx:     baseCtx,
		subscribers: make(map[string]*Client),
	}
	if row != nil {
		s.resumeToken = row.EngineSessionID
		s.createdAt = row.CreatedAt
		s.lastActivity = row.LastActivity
		s.messageCount = row.MessageCount
	}
	return s
}

// Info returns a snapshot of the session's in-memory state
func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionInfo{
		ID:           s.ID,
		MessageCount: s.messageCount,
		IsActive:     s.state == stateRunning,
		CreatedAt:    s.createdAt,
		LastActivity: s.lastActivity,
	}
}

// SubscriberCount returns the number of attached clients
func (s *Session) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscribers)
}

// IsIdle reports whether no turn is running and nothing is queued
func (s *Session) IsIdle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateIdle && s.queue.Len() == 0
}

// Submit persists the user prompt and appends it to the queue. The runner
// picks it up immediately when idle, or after the current turn completes.
func (s *Session) Submit(prompt string) error {
	s.mu.Lock()
	if s.state == stateReclaimed {
		s.mu.Unlock()
		return ErrSessionGone
	}
	s.mu.Unlock()

	// Persist-at-submit: the user row is written before the prompt is
	// queued, so the runner can never interleave turn events ahead of it.
	// The engine's echo of the prompt is absorbed without persisting,
	// keeping message_count equal to the row count.
	now := db.NowMillis()
	rowID := s.persist(db.NewMessage{Type: "user", Content: prompt, Timestamp: now})

	if err := s.queue.Enqueue(prompt); err != nil {
		s.rollbackMessage(rowID)
		if errors.Is(err, ErrQueueClosed) {
			return ErrSessionGone
		}
		return err
	}

	if err := s.store.UpdateSession(s.ID, db.SessionPatch{LastActivity: &now}); err != nil {
		log.Error().Err(err).Str("sessionId", s.ID).Msg("failed to touch session")
	}
	return nil
}

// rollbackMessage removes a user row whose prompt was rejected by the queue
func (s *Session) rollbackMessage(id int64) {
	if id == 0 {
		return
	}
	if err := s.store.DeleteMessage(id, s.ID); err != nil {
		log.Error().Err(err).Str("sessionId", s.ID).Msg("failed to remove rejected prompt row")
		return
	}
	s.mu.Lock()
	s.messageCount--
	s.mu.Unlock()
}

// Subscribe adds the client to the subscriber set and sends it a
// session_info snapshot. Idempotent for an already-subscribed client.
func (s *Session) Subscribe(c *Client) error {
	s.mu.Lock()
	if s.state == stateReclaimed {
		s.mu.Unlock()
		return ErrSessionGone
	}
	s.subscribers[c.ID] = c
	info := SessionInfo{
		ID:           s.ID,
		MessageCount: s.messageCount,
		IsActive:     s.state == stateRunning,
		CreatedAt:    s.createdAt,
		LastActivity: s.lastActivity,
	}
	s.mu.Unlock()

	c.SendFrame(NewSessionInfoFrame(info))
	return nil
}

// Unsubscribe removes a client from the subscriber set
func (s *Session) Unsubscribe(clientID string) {
	s.mu.Lock()
	delete(s.subscribers, clientID)
	s.mu.Unlock()
}

// Cancel signals the abort handle of the running turn and tells
// subscribers a cancellation is in flight. No-op when idle.
func (s *Session) Cancel() {
	s.mu.Lock()
	if s.state != stateRunning || s.abort == nil {
		s.mu.Unlock()
		return
	}
	abort := s.abort
	s.mu.Unlock()

	s.broadcast(NewCancellingFrame(s.ID))
	abort()
}

// EndConversation aborts any running turn and clears the engine resume
// token. Persisted history is untouched; the next Submit starts a fresh
// engine conversation.
func (s *Session) EndConversation() {
	s.mu.Lock()
	abort := s.abort
	s.resumeToken = ""
	s.mu.Unlock()

	if abort != nil {
		abort()
	}

	// Clear the persisted token too, so a reclaimed-and-rehydrated session
	// does not resume the ended conversation
	active := false
	now := db.NowMillis()
	empty := ""
	if err := s.store.UpdateSession(s.ID, db.SessionPatch{IsActive: &active, LastActivity: &now, EngineSessionID: &empty}); err != nil {
		log.Error().Err(err).Str("sessionId", s.ID).Msg("failed to mark session inactive")
	}
}

// Cleanup tears down the in-memory session: aborts a running turn, closes
// the queue (stopping the runner), and clears subscribers. Persisted rows
// survive. After Cleanup, Submit fails with ErrSessionGone.
func (s *Session) Cleanup() {
	s.mu.Lock()
	if s.state == stateReclaimed {
		s.mu.Unlock()
		return
	}
	abort := s.abort
	s.state = stateReclaimed
	s.subscribers = make(map[string]*Client)
	s.mu.Unlock()

	if abort != nil {
		abort()
	}
	s.queue.Close()

	active := false
	if err := s.store.UpdateSession(s.ID, db.SessionPatch{IsActive: &active}); err != nil {
		log.Error().Err(err).Str("sessionId", s.ID).Msg("failed to persist reclaimed state")
	}
}

// run is the turn runner: the single goroutine that executes turns for
// this session, in prompt arrival order.
func (s *Session) run() {
	for {
		prompt, err := s.queue.Dequeue(s.baseCtx)
		if err != nil {
			return
		}
		s.runTurn(prompt)

		s.mu.Lock()
		drained := s.queue.Len() == 0
		reclaimed := s.state == stateReclaimed
		noSubscribers := len(s.subscribers) == 0
		s.mu.Unlock()

		if drained && !reclaimed {
			active := false
			now := db.NowMillis()
			if err := s.store.UpdateSession(s.ID, db.SessionPatch{IsActive: &active, LastActivity: &now}); err != nil {
				log.Error().Err(err).Str("sessionId", s.ID).Msg("failed to mark session idle")
			}
			if noSubscribers && s.onIdle != nil {
				s.onIdle(s.ID)
			}
		}
	}
}

// runTurn executes one streaming turn against the engine
func (s *Session) runTurn(prompt string) {
	ctx, cancel := context.WithCancel(s.baseCtx)
	defer cancel()

	s.mu.Lock()
	if s.state == stateReclaimed {
		s.mu.Unlock()
		return
	}
	s.state = stateRunning
	s.abort = cancel
	opts := s.opts
	opts.ResumeToken = s.resumeToken
	s.mu.Unlock()

	// The runner owns the is_active flag: set at turn start, cleared when
	// the queue drains. Submit never touches it, so the transitions can't
	// interleave out of order.
	active := true
	if err := s.store.UpdateSession(s.ID, db.SessionPatch{IsActive: &active}); err != nil {
		log.Error().Err(err).Str("sessionId", s.ID).Msg("failed to mark session active")
	}

	defer func() {
		s.mu.Lock()
		s.abort = nil
		if s.state == stateRunning {
			s.state = stateIdle
		}
		s.lastActivity = db.NowMillis()
		s.mu.Unlock()
	}()

	events, errs := s.eng.Stream(ctx, prompt, opts)
	for ev := range events {
		s.handleEvent(ev)
	}

	switch err := <-errs; {
	case err == nil:
		// normal termination via the result event
	case errors.Is(err, engine.ErrCancelled):
		s.broadcast(NewCancelledFrame(s.ID))
	default:
		log.Error().Err(err).Str("sessionId", s.ID).Msg("engine stream failed")
		s.persist(db.NewMessage{Type: "error", Content: err.Error()})
		s.broadcast(NewErrorFrame(s.ID, err.Error()))
	}
}

// handleEvent maps one engine event to a wire frame, persists the
// corresponding row, and fans out to subscribers, in that order.
// Persistence failures are logged inside persist and never block fan-out.
func (s *Session) handleEvent(ev engine.Event) {
	switch ev := ev.(type) {
	case engine.SystemEvent:
		if ev.Subtype == "init" && ev.EngineSessionID != "" {
			s.captureResumeToken(ev.EngineSessionID)
		}
		s.persist(db.NewMessage{Type: "system", Subtype: ev.Subtype})
		s.broadcast(NewSystemFrame(s.ID, ev.Subtype, ev.Data))

	case engine.AssistantEvent:
		s.persist(db.NewMessage{Type: "assistant", Subtype: "text", Content: ev.Text})
		s.broadcast(NewAssistantMessageFrame(s.ID, ev.Text))

	case engine.ToolUseEvent:
		input, _ := json.Marshal(ev.ToolInput)
		s.persist(db.NewMessage{Type: "tool_use", Subtype: ev.ToolName, Content: string(input)})
		s.broadcast(NewToolUseFrame(s.ID, ev.ToolName, ev.ToolID, ev.ToolInput))

	case engine.ToolResultEvent:
		s.persist(db.NewMessage{Type: "tool_result", Content: ev.Content})
		s.broadcast(NewToolResultFrame(s.ID, ev.ToolUseID, ev.Content, ev.IsError))

	case engine.ResultEvent:
		s.persist(db.NewMessage{
			Type:     "result",
			Subtype:  ev.Subtype,
			Content:  ev.Result,
			Cost:     ev.TotalCostUSD,
			Duration: ev.DurationMs,
		})
		frame := ResultFrame{
			Type:      "result",
			Success:   !ev.IsError,
			Result:    ev.Result,
			Cost:      ev.TotalCostUSD,
			Duration:  ev.DurationMs,
			SessionID: s.ID,
		}
		if ev.IsError {
			frame.Error = ev.Result
		}
		s.broadcast(frame)

	case engine.UserEvent:
		// engine echo of the prompt; already persisted at submit time

	default:
		log.Warn().Str("kind", ev.Kind()).Msg("dropping unknown engine event")
	}
}

// captureResumeToken stores the engine session id for subsequent turns
func (s *Session) captureResumeToken(token string) {
	s.mu.Lock()
	s.resumeToken = token
	s.mu.Unlock()

	if err := s.store.UpdateSession(s.ID, db.SessionPatch{EngineSessionID: &token}); err != nil {
		log.Error().Err(err).Str("sessionId", s.ID).Msg("failed to persist engine session id")
	}
}

// persist writes one message row and mirrors the counters in memory.
// Returns the row id, or 0 when the write failed (failures are logged and
// never block the caller).
func (s *Session) persist(msg db.NewMessage) int64 {
	msg.SessionID = s.ID
	if msg.Timestamp == 0 {
		msg.Timestamp = db.NowMillis()
	}
	id, err := s.store.AppendMessage(msg)
	if err != nil {
		log.Error().Err(err).Str("sessionId", s.ID).Str("type", msg.Type).Msg("failed to persist message")
		return 0
	}
	s.mu.Lock()
	s.messageCount++
	s.lastActivity = msg.Timestamp
	s.mu.Unlock()
	return id
}

// broadcast fans a frame out to every current subscriber. A subscriber
// whose buffer is full is dropped from the set; one slow client never
// affects the others.
func (s *Session) broadcast(frame any) {
	data, err := json.Marshal(frame)
	if err != nil {
		log.Error().Err(err).Str("sessionId", s.ID).Msg("failed to marshal frame")
		return
	}

	s.mu.Lock()
	subs := make(map[string]*Client, len(s.subscribers))
	for id, c := range s.subscribers {
		subs[id] = c
	}
	s.mu.Unlock()

	for id, c := range subs {
		if !c.TrySend(data) {
			log.Warn().Str("sessionId", s.ID).Str("clientId", id).Msg("dropping slow subscriber")
			s.Unsubscribe(id)
			c.Close()
		}
	}
}
