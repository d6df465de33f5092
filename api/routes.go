package api

import (
	"github.com/gin-gonic/gin"
)

// SetupRoutes configures all API routes under /api/ccsdk
func SetupRoutes(r *gin.Engine, h *Handlers) {
	api := r.Group("/api/ccsdk")

	// Live gateway surface
	api.GET("/sessions", h.ListSessions)
	api.POST("/query", h.Query)
	api.GET("/config", h.GetConfig)
	api.GET("/health", h.Health)

	// Persisted history surface
	api.GET("/db/sessions", h.ListDBSessions)
	api.GET("/db/sessions/active", h.ListActiveDBSessions)
	api.GET("/db/sessions/:id", h.GetDBSession)
	api.GET("/db/sessions/:id/messages", h.GetDBSessionMessages)
	api.DELETE("/db/sessions/:id", h.DeleteDBSession)
	api.GET("/db/stats", h.GetDBStats)
	api.GET("/db/search", h.SearchMessages)
	api.POST("/db/cleanup", h.CleanupDB)
	api.POST("/db/backup", h.BackupDB)

	// WebSocket endpoint
	api.GET("/ws", h.WebSocket)
}
