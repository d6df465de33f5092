package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xiaoyuanzhu-com/ccsdk-gateway/config"
	"github.com/xiaoyuanzhu-com/ccsdk-gateway/db"
	"github.com/xiaoyuanzhu-com/ccsdk-gateway/engine"
	"github.com/xiaoyuanzhu-com/ccsdk-gateway/hub"
	"github.com/xiaoyuanzhu-com/ccsdk-gateway/log"
)

// Handlers holds the dependencies for all REST and WebSocket handlers
type Handlers struct {
	store *db.DB
	hub   *hub.Hub
	eng   engine.Engine
	cfg   *config.Config

	liveClients atomic.Int64
}

// NewHandlers wires the REST/WS surface to its collaborators
func NewHandlers(store *db.DB, h *hub.Hub, eng engine.Engine, cfg *config.Config) *Handlers {
	return &Handlers{store: store, hub: h, eng: eng, cfg: cfg}
}

// defaultEngineOptions builds the effective engine options from config
func (h *Handlers) defaultEngineOptions() engine.Options {
	return engine.Options{
		Model:          h.cfg.Model,
		MaxTurns:       h.cfg.MaxTurns,
		Cwd:            h.cfg.Cwd,
		PermissionMode: h.cfg.PermissionMode,
	}
}

// ListSessions handles GET /sessions — in-memory session snapshots
func (h *Handlers) ListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": h.hub.List()})
}

// Query handles POST /query — a one-shot, non-streaming prompt
func (h *Handlers) Query(c *gin.Context) {
	var body struct {
		Prompt string `json:"prompt" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "prompt is required"})
		return
	}

	result, err := engine.Query(c.Request.Context(), h.eng, body.Prompt, h.defaultEngineOptions())
	if err != nil {
		log.Error().Err(err).Msg("one-shot query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Query failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"result": result})
}

// GetConfig handles GET /config — effective default engine options
func (h *Handlers) GetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"model":          h.cfg.Model,
		"maxTurns":       h.cfg.MaxTurns,
		"cwd":            h.cfg.Cwd,
		"permissionMode": h.cfg.PermissionMode,
	})
}

// Health handles GET /health
func (h *Handlers) Health(c *gin.Context) {
	active := 0
	for _, info := range h.hub.List() {
		if info.IsActive {
			active++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"activeSessions": active,
		"timestamp":      time.Now().UnixMilli(),
	})
}

// ListDBSessions handles GET /db/sessions — persisted sessions
func (h *Handlers) ListDBSessions(c *gin.Context) {
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)

	sessions, err := h.store.ListSessions(limit, offset)
	if err != nil {
		log.Error().Err(err).Msg("failed to list sessions")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list sessions"})
		return
	}
	if sessions == nil {
		sessions = []db.Session{}
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions, "count": len(sessions)})
}

// ListActiveDBSessions handles GET /db/sessions/active
func (h *Handlers) ListActiveDBSessions(c *gin.Context) {
	sessions, err := h.store.ListActiveSessions()
	if err != nil {
		log.Error().Err(err).Msg("failed to list active sessions")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list active sessions"})
		return
	}
	if sessions == nil {
		sessions = []db.Session{}
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions, "count": len(sessions)})
}

// GetDBSession handles GET /db/sessions/:id
func (h *Handlers) GetDBSession(c *gin.Context) {
	session, err := h.store.GetSession(c.Param("id"))
	if err != nil {
		if errors.Is(err, db.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
			return
		}
		log.Error().Err(err).Msg("failed to get session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get session"})
		return
	}
	c.JSON(http.StatusOK, session)
}

// GetDBSessionMessages handles GET /db/sessions/:id/messages
func (h *Handlers) GetDBSessionMessages(c *gin.Context) {
	sessionID := c.Param("id")
	limit := intQuery(c, "limit", 100)

	messages, err := h.store.ListMessages(sessionID, limit)
	if err != nil {
		log.Error().Err(err).Str("sessionId", sessionID).Msg("failed to list messages")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list messages"})
		return
	}
	if messages == nil {
		messages = []db.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages, "count": len(messages)})
}

// DeleteDBSession handles DELETE /db/sessions/:id — removes the row,
// cascading to messages, and drops any in-memory state
func (h *Handlers) DeleteDBSession(c *gin.Context) {
	sessionID := c.Param("id")

	h.hub.Remove(sessionID)

	if err := h.store.DeleteSession(sessionID); err != nil {
		if errors.Is(err, db.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
			return
		}
		log.Error().Err(err).Str("sessionId", sessionID).Msg("failed to delete session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// GetDBStats handles GET /db/stats
func (h *Handlers) GetDBStats(c *gin.Context) {
	stats, err := h.store.GetStats()
	if err != nil {
		log.Error().Err(err).Msg("failed to compute stats")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// SearchMessages handles GET /db/search?q=&limit=
func (h *Handlers) SearchMessages(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Query parameter 'q' is required"})
		return
	}
	limit := intQuery(c, "limit", 50)

	results, err := h.store.SearchMessages(query, limit)
	if err != nil {
		log.Error().Err(err).Msg("search failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Search failed"})
		return
	}
	if results == nil {
		results = []db.SearchResult{}
	}
	c.JSON(http.StatusOK, gin.H{"results": results, "count": len(results)})
}

// CleanupDB handles POST /db/cleanup — deletes inactive sessions older
// than the given number of days
func (h *Handlers) CleanupDB(c *gin.Context) {
	var body struct {
		Days *int `json:"days"`
	}
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	days := 30
	if body.Days != nil {
		if *body.Days <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "days must be positive"})
			return
		}
		days = *body.Days
	}

	deleted, err := h.store.CleanupOldSessions(days)
	if err != nil {
		log.Error().Err(err).Msg("cleanup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Cleanup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "deleted": deleted})
}

// BackupDB handles POST /db/backup — snapshots the database to a file
func (h *Handlers) BackupDB(c *gin.Context) {
	var body struct {
		Path string `json:"path"`
	}
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	path := body.Path
	if path == "" {
		path = h.cfg.DBPath + ".backup"
	}

	if err := h.store.Backup(path); err != nil {
		log.Error().Err(err).Str("path", path).Msg("backup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Backup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "path": path})
}

func intQuery(c *gin.Context, name string, defaultValue int) int {
	if raw := c.Query(name); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v >= 0 {
			return v
		}
	}
	return defaultValue
}
