package db

import "encoding/json"

// Session is the durable record of a conversation
type Session struct {
	ID              string          `json:"id"`
	EngineSessionID string          `json:"engineSessionId,omitempty"`
	CreatedAt       int64           `json:"createdAt"`
	LastActivity    int64           `json:"lastActivity"`
	MessageCount    int             `json:"messageCount"`
	IsActive        bool            `json:"isActive"`
	Metadata        json.RawMessage `json:"metadata,omitempty"`
}

// Message is one event within a session
type Message struct {
	ID        int64           `json:"id"`
	SessionID string          `json:"sessionId"`
	Type      string          `json:"type"`
	Subtype   string          `json:"subtype,omitempty"`
	Content   string          `json:"content,omitempty"`
	Timestamp int64           `json:"timestamp"`
	Cost      *float64        `json:"cost,omitempty"`
	Duration  *int64          `json:"duration,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

// SearchResult is a message joined with its session for search responses
type SearchResult struct {
	Message
	SessionCreatedAt int64 `json:"sessionCreatedAt"`
}

// Client is a persisted record of a WebSocket connection
type Client struct {
	ID               string `json:"id"`
	ConnectedAt      int64  `json:"connectedAt"`
	DisconnectedAt   *int64 `json:"disconnectedAt,omitempty"`
	CurrentSessionID string `json:"currentSessionId,omitempty"`
}

// SessionPatch is a partial update of a session row.
// Nil fields are left unchanged.
type SessionPatch struct {
	EngineSessionID *string
	LastActivity    *int64
	MessageCount    *int
	IsActive        *bool
	Metadata        json.RawMessage
}

// Stats summarizes the persisted state of the store
type Stats struct {
	TotalSessions  int            `json:"totalSessions"`
	ActiveSessions int            `json:"activeSessions"`
	TotalMessages  int            `json:"totalMessages"`
	TotalCostUSD   float64        `json:"totalCostUsd"`
	MessagesByType map[string]int `json:"messagesByType"`
}
