package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaoyuanzhu-com/ccsdk-gateway/config"
	"github.com/xiaoyuanzhu-com/ccsdk-gateway/db"
	"github.com/xiaoyuanzhu-com/ccsdk-gateway/engine"
	"github.com/xiaoyuanzhu-com/ccsdk-gateway/hub"
)

// scriptedEngine replays the same canned turn for every prompt
type scriptedEngine struct {
	events func(prompt string) []engine.Event
	err    error
}

func (s *scriptedEngine) Stream(ctx context.Context, prompt string, opts engine.Options) (<-chan engine.Event, <-chan error) {
	var evs []engine.Event
	if s.events != nil {
		evs = s.events(prompt)
	}
	events := make(chan engine.Event, len(evs)+1)
	errs := make(chan error, 1)
	for _, ev := range evs {
		events <- ev
	}
	if s.err != nil {
		errs <- s.err
	}
	close(events)
	close(errs)
	return events, errs
}

type testEnv struct {
	router *gin.Engine
	store  *db.DB
	hub    *hub.Hub
	cfg    *config.Config
}

func newTestEnv(t *testing.T, eng engine.Engine) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dbPath := filepath.Join(t.TempDir(), "api.db")
	store, err := db.Open(db.Config{Path: dbPath})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := &config.Config{
		Model:          "sonnet",
		MaxTurns:       10,
		PermissionMode: "default",
		DBPath:         dbPath,
		IdleGrace:      time.Minute,
		WSIdleTimeout:  5 * time.Second,
	}

	h := hub.New(store, eng, hub.Options{
		Engine:    engine.Options{Model: cfg.Model, MaxTurns: cfg.MaxTurns},
		IdleGrace: cfg.IdleGrace,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		h.Shutdown(ctx)
	})

	handlers := NewHandlers(store, h, eng, cfg)
	router := gin.New()
	SetupRoutes(router, handlers)

	return &testEnv{router: router, store: store, hub: h, cfg: cfg}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var parsed map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &parsed))
	}
	return w, parsed
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, &scriptedEngine{})

	w, body := env.do(t, http.MethodGet, "/api/ccsdk/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 0, body["activeSessions"])
	assert.NotZero(t, body["timestamp"])
}

func TestGetConfig(t *testing.T) {
	env := newTestEnv(t, &scriptedEngine{})

	w, body := env.do(t, http.MethodGet, "/api/ccsdk/config", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "sonnet", body["model"])
	assert.EqualValues(t, 10, body["maxTurns"])
	assert.Equal(t, "default", body["permissionMode"])
}

func TestQuery(t *testing.T) {
	env := newTestEnv(t, &scriptedEngine{events: func(prompt string) []engine.Event {
		return []engine.Event{
			engine.AssistantEvent{Text: "pong"},
			engine.ResultEvent{Subtype: "success", Result: "pong"},
		}
	}})

	w, body := env.do(t, http.MethodPost, "/api/ccsdk/query", `{"prompt":"ping"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pong", body["result"])
}

func TestQuery_MissingPrompt(t *testing.T) {
	env := newTestEnv(t, &scriptedEngine{})

	w, _ := env.do(t, http.MethodPost, "/api/ccsdk/query", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQuery_EngineFailure(t *testing.T) {
	env := newTestEnv(t, &scriptedEngine{err: &engine.EngineError{Message: "no binary"}})

	w, _ := env.do(t, http.MethodPost, "/api/ccsdk/query", `{"prompt":"ping"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestListDBSessions(t *testing.T) {
	env := newTestEnv(t, &scriptedEngine{})

	w, body := env.do(t, http.MethodGet, "/api/ccsdk/db/sessions", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, body["count"])
	assert.NotNil(t, body["sessions"])

	_, err := env.store.CreateSession("s1", 1000, nil)
	require.NoError(t, err)

	w, body = env.do(t, http.MethodGet, "/api/ccsdk/db/sessions", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, body["count"])
}

func TestGetDBSession(t *testing.T) {
	env := newTestEnv(t, &scriptedEngine{})
	_, err := env.store.CreateSession("s1", 1000, nil)
	require.NoError(t, err)

	w, body := env.do(t, http.MethodGet, "/api/ccsdk/db/sessions/s1", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "s1", body["id"])

	w, _ = env.do(t, http.MethodGet, "/api/ccsdk/db/sessions/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetDBSessionMessages(t *testing.T) {
	env := newTestEnv(t, &scriptedEngine{})
	_, err := env.store.CreateSession("s1", 1000, nil)
	require.NoError(t, err)
	_, err = env.store.AppendMessage(db.NewMessage{SessionID: "s1", Type: "user", Content: "hi", Timestamp: 2000})
	require.NoError(t, err)

	w, body := env.do(t, http.MethodGet, "/api/ccsdk/db/sessions/s1/messages", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, body["count"])
}

func TestDeleteDBSession(t *testing.T) {
	env := newTestEnv(t, &scriptedEngine{})
	_, err := env.store.CreateSession("s1", 1000, nil)
	require.NoError(t, err)

	w, body := env.do(t, http.MethodDelete, "/api/ccsdk/db/sessions/s1", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["success"])

	w, _ = env.do(t, http.MethodDelete, "/api/ccsdk/db/sessions/s1", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetDBStats(t *testing.T) {
	env := newTestEnv(t, &scriptedEngine{})
	_, err := env.store.CreateSession("s1", 1000, nil)
	require.NoError(t, err)

	w, body := env.do(t, http.MethodGet, "/api/ccsdk/db/stats", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, body["totalSessions"])
}

func TestSearchMessages(t *testing.T) {
	env := newTestEnv(t, &scriptedEngine{})

	w, _ := env.do(t, http.MethodGet, "/api/ccsdk/db/search", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	_, err := env.store.CreateSession("s1", 1000, nil)
	require.NoError(t, err)
	_, err = env.store.AppendMessage(db.NewMessage{SessionID: "s1", Type: "assistant", Content: "needle in haystack", Timestamp: 2000})
	require.NoError(t, err)

	w, body := env.do(t, http.MethodGet, "/api/ccsdk/db/search?q=needle", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, body["count"])
}

func TestCleanupDB(t *testing.T) {
	env := newTestEnv(t, &scriptedEngine{})

	// empty body means default retention
	w, body := env.do(t, http.MethodPost, "/api/ccsdk/db/cleanup", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["success"])

	w, _ = env.do(t, http.MethodPost, "/api/ccsdk/db/cleanup", `{"days":-1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBackupDB(t *testing.T) {
	env := newTestEnv(t, &scriptedEngine{})
	_, err := env.store.CreateSession("s1", 1000, nil)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "snapshot.db")
	w, body := env.do(t, http.MethodPost, "/api/ccsdk/db/backup", `{"path":"`+path+`"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, path, body["path"])

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestListSessions_Live(t *testing.T) {
	env := newTestEnv(t, &scriptedEngine{})
	_, err := env.hub.GetOrCreate("live-1")
	require.NoError(t, err)

	w, body := env.do(t, http.MethodGet, "/api/ccsdk/sessions", "")
	assert.Equal(t, http.StatusOK, w.Code)
	sessions := body["sessions"].([]any)
	require.Len(t, sessions, 1)
	assert.Equal(t, "live-1", sessions[0].(map[string]any)["id"])
}
