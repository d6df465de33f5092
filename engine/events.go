package engine

// Event kinds emitted by an Engine stream
const (
	KindSystem     = "system"
	KindAssistant  = "assistant"
	KindToolUse    = "tool_use"
	KindToolResult = "tool_result"
	KindResult     = "result"
	KindUser       = "user"
)

// Event is the interface for all normalized engine events.
// The underlying engine's wire shapes are mapped onto exactly this set;
// anything else is dropped with a logged warning.
type Event interface {
	Kind() string
}

// SystemEvent represents internal engine events. The first event of every
// turn is a SystemEvent with Subtype "init".
type SystemEvent struct {
	Subtype         string
	EngineSessionID string
	Model           string
	Cwd             string
	Tools           []string
	MCPServers      []string
	PermissionMode  string
	Data            map[string]any
}

func (SystemEvent) Kind() string { return KindSystem }

// AssistantEvent is one text segment of the assistant's reply
type AssistantEvent struct {
	Text  string
	Model string
}

func (AssistantEvent) Kind() string { return KindAssistant }

// ToolUseEvent is emitted when the assistant invokes a tool
type ToolUseEvent struct {
	ToolName  string
	ToolID    string
	ToolInput map[string]any
}

func (ToolUseEvent) Kind() string { return KindToolUse }

// ToolResultEvent carries the outcome of a tool invocation
type ToolResultEvent struct {
	ToolUseID string
	Content   string
	IsError   bool
}

func (ToolResultEvent) Kind() string { return KindToolResult }

// ResultEvent terminates a turn. Exactly one is emitted per stream.
type ResultEvent struct {
	Subtype      string // "success" or "error_*"
	IsError      bool
	Result       string
	TotalCostUSD *float64
	DurationMs   *int64
	NumTurns     int
}

func (ResultEvent) Kind() string { return KindResult }

// UserEvent is the engine's echo of the user's prompt. The session layer
// absorbs these without re-broadcasting.
type UserEvent struct {
	Content string
}

func (UserEvent) Kind() string { return KindUser }
