package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"

	"github.com/xiaoyuanzhu-com/ccsdk-gateway/api"
	"github.com/xiaoyuanzhu-com/ccsdk-gateway/config"
	"github.com/xiaoyuanzhu-com/ccsdk-gateway/db"
	"github.com/xiaoyuanzhu-com/ccsdk-gateway/engine"
	"github.com/xiaoyuanzhu-com/ccsdk-gateway/hub"
	"github.com/xiaoyuanzhu-com/ccsdk-gateway/log"
)

// Server owns and coordinates all application components
type Server struct {
	cfg *config.Config

	// Components (owned by server)
	database *db.DB
	eng      engine.Engine
	sessions *hub.Hub
	handlers *api.Handlers

	// HTTP
	router *gin.Engine
	http   *http.Server
}

// New creates a server with all components initialized
func New(cfg *config.Config) (*Server, error) {
	s := &Server{cfg: cfg}

	// 1. Open database
	log.Info().Msg("initializing database")
	database, err := db.Open(db.Config{
		Path:       cfg.DBPath,
		LogQueries: cfg.DBLogQueries,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	s.database = database

	// 2. Engine adapter
	s.eng = engine.NewCLIEngine("")

	// 3. Session hub
	log.Info().Msg("initializing session hub")
	s.sessions = hub.New(database, s.eng, hub.Options{
		Engine: engine.Options{
			Model:          cfg.Model,
			MaxTurns:       cfg.MaxTurns,
			Cwd:            cfg.Cwd,
			PermissionMode: cfg.PermissionMode,
		},
		IdleGrace: cfg.IdleGrace,
	})

	// 4. HTTP surface
	s.handlers = api.NewHandlers(database, s.sessions, s.eng, cfg)
	s.setupRouter()

	log.Info().Msg("server initialized successfully")
	return s, nil
}

// Hub exposes the session hub, mainly for tests
func (s *Server) Hub() *hub.Hub {
	return s.sessions
}

// setupRouter creates and configures the Gin router
func (s *Server) setupRouter() {
	if !s.cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()

	// Middleware
	s.router.Use(gin.Recovery())
	s.router.Use(log.GinLogger())

	if s.cfg.IsDevelopment() {
		s.router.Use(corsMiddleware())
	}

	// Gzip compression (skip the WebSocket endpoint - protocol upgrade)
	s.router.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{
		"/api/ccsdk/ws",
	})))

	s.router.SetTrustedProxies(nil)

	api.SetupRoutes(s.router, s.handlers)
}

// corsMiddleware handles CORS for development environments
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, PATCH, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Start starts the HTTP server (blocks)
func (s *Server) Start() error {
	s.http = &http.Server{
		Addr:     fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:  s.router,
		ErrorLog: log.StdErrorLogger(), // route Go's internal HTTP errors through zerolog
	}

	log.Info().
		Str("addr", s.http.Addr).
		Str("env", s.cfg.Env).
		Msg("HTTP server starting")

	return s.http.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down server")

	// 1. Stop the hub first: cancels running turns and lets in-flight
	// persistence drain. WebSocket handlers observe their connections
	// closing as the HTTP server shuts down.
	if err := s.sessions.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("hub shutdown error")
	}

	// Give hijacked connections a moment to close cleanly
	time.Sleep(100 * time.Millisecond)

	// 2. Shutdown HTTP server (stop accepting new requests, wait for
	// existing ones)
	if s.http != nil {
		if err := s.http.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("http server shutdown error")
		}
	}

	// 3. Close database last
	if s.database != nil {
		if err := s.database.Close(); err != nil {
			log.Error().Err(err).Msg("database close error")
			return err
		}
	}

	log.Info().Msg("server shutdown complete")
	return nil
}
