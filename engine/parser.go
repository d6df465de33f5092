package engine

import (
	"encoding/json"
	"fmt"
	"strings"
)

// parseLine parses one stream-json line from the CLI into zero or more
// normalized events. A single assistant message can carry several content
// blocks (text segments and tool invocations), so the result is a slice.
// Unknown message types yield (nil, nil) and are dropped by the caller.
func parseLine(data []byte) ([]Event, error) {
	if len(data) == 0 {
		return nil, nil
	}

	var base struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, &ParseError{Message: "failed to parse message type", Data: data, Cause: err}
	}

	switch base.Type {
	case "system":
		return parseSystem(data)
	case "assistant":
		return parseAssistant(data)
	case "user":
		return parseUser(data)
	case "result":
		return parseResult(data)
	default:
		// stream_event, control frames, anything newer than this parser
		return nil, nil
	}
}

func parseSystem(data []byte) ([]Event, error) {
	var raw struct {
		Subtype        string         `json:"subtype"`
		SessionID      string         `json:"session_id"`
		Model          string         `json:"model"`
		Cwd            string         `json:"cwd"`
		Tools          []string       `json:"tools"`
		PermissionMode string         `json:"permissionMode"`
		MCPServers     []struct {
			Name string `json:"name"`
		} `json:"mcp_servers"`
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &ParseError{Message: "failed to parse system message", Data: data, Cause: err}
	}

	ev := SystemEvent{
		Subtype:         raw.Subtype,
		EngineSessionID: raw.SessionID,
		Model:           raw.Model,
		Cwd:             raw.Cwd,
		Tools:           raw.Tools,
		PermissionMode:  raw.PermissionMode,
		Data:            raw.Data,
	}
	for _, s := range raw.MCPServers {
		ev.MCPServers = append(ev.MCPServers, s.Name)
	}
	return []Event{ev}, nil
}

func parseAssistant(data []byte) ([]Event, error) {
	var raw struct {
		Message struct {
			Model   string `json:"model"`
			Content []struct {
				Type  string         `json:"type"`
				Text  string         `json:"text"`
				ID    string         `json:"id"`
				Name  string         `json:"name"`
				Input map[string]any `json:"input"`
			} `json:"content"`
		} `json:"message"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &ParseError{Message: "failed to parse assistant message", Data: data, Cause: err}
	}

	var events []Event
	for _, block := range raw.Message.Content {
		switch block.Type {
		case "text":
			if block.Text != "" {
				events = append(events, AssistantEvent{Text: block.Text, Model: raw.Message.Model})
			}
		case "tool_use":
			events = append(events, ToolUseEvent{
				ToolName:  block.Name,
				ToolID:    block.ID,
				ToolInput: block.Input,
			})
		}
	}
	return events, nil
}

// parseUser handles both prompt echoes (string content) and tool results,
// which the CLI delivers as user messages with tool_result content blocks.
func parseUser(data []byte) ([]Event, error) {
	var raw struct {
		Message struct {
			Content json.RawMessage `json:"content"`
		} `json:"message"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &ParseError{Message: "failed to parse user message", Data: data, Cause: err}
	}

	// String content is an echo of the user's prompt
	var text string
	if err := json.Unmarshal(raw.Message.Content, &text); err == nil {
		return []Event{UserEvent{Content: text}}, nil
	}

	var blocks []struct {
		Type      string          `json:"type"`
		Text      string          `json:"text"`
		ToolUseID string          `json:"tool_use_id"`
		Content   json.RawMessage `json:"content"`
		IsError   bool            `json:"is_error"`
	}
	if err := json.Unmarshal(raw.Message.Content, &blocks); err != nil {
		return nil, &ParseError{Message: "unexpected user message content", Data: data, Cause: err}
	}

	var events []Event
	for _, block := range blocks {
		switch block.Type {
		case "text":
			events = append(events, UserEvent{Content: block.Text})
		case "tool_result":
			events = append(events, ToolResultEvent{
				ToolUseID: block.ToolUseID,
				Content:   flattenContent(block.Content),
				IsError:   block.IsError,
			})
		}
	}
	return events, nil
}

func parseResult(data []byte) ([]Event, error) {
	var raw struct {
		Subtype      string   `json:"subtype"`
		IsError      bool     `json:"is_error"`
		Result       string   `json:"result"`
		TotalCostUSD *float64 `json:"total_cost_usd"`
		DurationMs   *int64   `json:"duration_ms"`
		NumTurns     int      `json:"num_turns"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &ParseError{Message: "failed to parse result message", Data: data, Cause: err}
	}
	return []Event{ResultEvent{
		Subtype:      raw.Subtype,
		IsError:      raw.IsError,
		Result:       raw.Result,
		TotalCostUSD: raw.TotalCostUSD,
		DurationMs:   raw.DurationMs,
		NumTurns:     raw.NumTurns,
	}}, nil
}

// flattenContent renders tool_result content (string or block list) as text
func flattenContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var parts []string
		for _, b := range blocks {
			if b.Type == "text" && b.Text != "" {
				parts = append(parts, b.Text)
			}
		}
		return strings.Join(parts, "\n")
	}
	return fmt.Sprintf("%s", raw)
}
