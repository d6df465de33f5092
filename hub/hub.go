package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xiaoyuanzhu-com/ccsdk-gateway/db"
	"github.com/xiaoyuanzhu-com/ccsdk-gateway/engine"
	"github.com/xiaoyuanzhu-com/ccsdk-gateway/log"
)

// Options configures the hub
type Options struct {
	// Engine holds the default options applied to every turn
	Engine engine.Options

	// IdleGrace is how long an idle, subscriber-less session stays in
	// memory before reclamation
	IdleGrace time.Duration
}

// Hub is the process-wide registry of in-memory sessions
type Hub struct {
	store *db.DB
	eng   engine.Engine
	opts  Options

	mu       sync.RWMutex
	sessions map[string]*Session
	timers   map[string]*time.Timer

	// Lifetime for all turn runners
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a hub. Sessions are created lazily via GetOrCreate.
func New(store *db.DB, eng engine.Engine, opts Options) *Hub {
	if opts.IdleGrace <= 0 {
		opts.IdleGrace = 60 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		store:    store,
		eng:      eng,
		opts:     opts,
		sessions: make(map[string]*Session),
		timers:   make(map[string]*time.Timer),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// GetOrCreate returns the in-memory session with the given id, creating
// and registering one if needed. An empty id asks for a fresh session.
// When the id names a persisted but reclaimed session, its row is
// rehydrated so the engine conversation can resume.
func (h *Hub) GetOrCreate(id string) (*Session, error) {
	if id != "" {
		h.mu.RLock()
		s, ok := h.sessions[id]
		h.mu.RUnlock()
		if ok {
			return s, nil
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if id == "" {
		id = uuid.New().String()
	} else if s, ok := h.sessions[id]; ok {
		return s, nil
	}

	row, err := h.store.GetSession(id)
	if errors.Is(err, db.ErrSessionNotFound) {
		row, err = h.store.CreateSession(id, db.NowMillis(), json.RawMessage("{}"))
	}
	if err != nil {
		return nil, err
	}

	s := newSession(id, h.store, h.eng, h.opts.Engine, h.ctx, row)
	s.onIdle = h.scheduleIdleCheck
	h.sessions[id] = s

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		s.run()
	}()

	log.Info().Str("sessionId", id).Msg("session registered")
	return s, nil
}

// Get looks up an in-memory session without creating one
func (h *Hub) Get(id string) (*Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[id]
	return s, ok
}

// List returns a snapshot of all in-memory sessions, most recent first
func (h *Hub) List() []SessionInfo {
	h.mu.RLock()
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].LastActivity > infos[j].LastActivity
	})
	return infos
}

// Subscribe attaches a client to a session and cancels any pending
// reclamation for it.
func (h *Hub) Subscribe(s *Session, c *Client) error {
	h.cancelIdleCheck(s.ID)
	return s.Subscribe(c)
}

// Unsubscribe detaches a client and schedules an idle check
func (h *Hub) Unsubscribe(s *Session, clientID string) {
	s.Unsubscribe(clientID)
	h.maybeScheduleIdleCheck(s)
}

// OnClientDisconnect detaches the client from its current session, if any
func (h *Hub) OnClientDisconnect(c *Client, sessionID string) {
	if sessionID == "" {
		return
	}
	if s, ok := h.Get(sessionID); ok {
		h.Unsubscribe(s, c.ID)
	}
}

// maybeScheduleIdleCheck starts the reclamation grace timer when the
// session has no subscribers and no work in flight
func (h *Hub) maybeScheduleIdleCheck(s *Session) {
	if s.SubscriberCount() == 0 && s.IsIdle() {
		h.scheduleIdleCheck(s.ID)
	}
}

// scheduleIdleCheck arms (or re-arms) the grace timer for a session
func (h *Hub) scheduleIdleCheck(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[id]; !ok {
		return
	}
	if t, ok := h.timers[id]; ok {
		t.Stop()
	}
	h.timers[id] = time.AfterFunc(h.opts.IdleGrace, func() {
		h.reclaim(id)
	})
}

// cancelIdleCheck stops a pending reclamation, e.g. on re-subscription
func (h *Hub) cancelIdleCheck(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok := h.timers[id]; ok {
		t.Stop()
		delete(h.timers, id)
	}
}

// reclaim frees a session's in-memory state if it is still idle and
// subscriber-less when the grace timer fires. Persisted rows survive.
func (h *Hub) reclaim(id string) {
	h.mu.Lock()
	s, ok := h.sessions[id]
	if !ok {
		delete(h.timers, id)
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()

	// Re-subscription or a new turn during the grace window cancels
	// reclamation
	if s.SubscriberCount() > 0 || !s.IsIdle() {
		h.cancelIdleCheck(id)
		return
	}

	s.Cleanup()

	h.mu.Lock()
	delete(h.sessions, id)
	delete(h.timers, id)
	h.mu.Unlock()

	log.Info().Str("sessionId", id).Msg("idle session reclaimed")
}

// Remove drops a session from the registry after cleaning it up.
// Used by the admin delete endpoint.
func (h *Hub) Remove(id string) {
	h.mu.Lock()
	s, ok := h.sessions[id]
	if t, tok := h.timers[id]; tok {
		t.Stop()
		delete(h.timers, id)
	}
	delete(h.sessions, id)
	h.mu.Unlock()

	if ok {
		s.Cleanup()
	}
}

// Shutdown cancels every running turn, closes all queues, and waits for
// the runners to drain, bounded by ctx.
func (h *Hub) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down session hub")

	h.cancel()

	h.mu.Lock()
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	for id, t := range h.timers {
		t.Stop()
		delete(h.timers, id)
	}
	h.sessions = make(map[string]*Session)
	h.mu.Unlock()

	for _, s := range sessions {
		s.Cleanup()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("session hub shutdown complete")
		return nil
	case <-ctx.Done():
		log.Warn().Msg("session hub shutdown timed out")
		return ctx.Err()
	}
}
