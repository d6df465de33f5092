package engine

import (
	"context"
	"strings"
)

// MCPServer describes one MCP server the engine may connect to
type MCPServer struct {
	Type    string            `json:"type,omitempty"` // "stdio", "sse", "http"
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	URL     string            `json:"url,omitempty"`
}

// Options configures one streaming turn
type Options struct {
	// ResumeToken continues a previous engine conversation. Empty for
	// the first turn of a session.
	ResumeToken string

	Model              string
	MaxTurns           int
	Cwd                string
	AllowedTools       []string
	SystemPromptSuffix string
	PermissionMode     string // default | acceptEdits | bypassPermissions | plan
	MCPServers         map[string]MCPServer
}

// Engine starts streaming turns against the external code assistant.
//
// Stream returns a lazy, finite sequence of events on the first channel.
// When the stream ends, both channels are closed; the error channel carries
// at most one value: ErrCancelled if ctx was cancelled, or an *EngineError
// if the underlying process failed. The engine never retries silently.
type Engine interface {
	Stream(ctx context.Context, prompt string, opts Options) (<-chan Event, <-chan error)
}

// Query runs a single non-streaming turn and returns the result text.
// Used by the one-shot REST endpoint.
func Query(ctx context.Context, e Engine, prompt string, opts Options) (string, error) {
	events, errs := e.Stream(ctx, prompt, opts)

	var parts []string
	var result *ResultEvent
	for ev := range events {
		switch ev := ev.(type) {
		case AssistantEvent:
			parts = append(parts, ev.Text)
		case ResultEvent:
			result = &ev
		}
	}
	if err := <-errs; err != nil {
		return "", err
	}
	if result != nil && result.Result != "" {
		return result.Result, nil
	}
	return strings.Join(parts, ""), nil
}
