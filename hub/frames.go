package hub

// Wire frame schemas for the WebSocket protocol. All frames are JSON text;
// outbound frames carry a "type" discriminator set by their constructors.

// Inbound frame types
const (
	FrameChat        = "chat"
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FrameCancel      = "cancel"
	FrameSystemInfo  = "system_info"
)

// InboundFrame is the union of all client-to-server frames
type InboundFrame struct {
	Type            string `json:"type"`
	Content         string `json:"content,omitempty"`
	SessionID       string `json:"sessionId,omitempty"`
	NewConversation bool   `json:"newConversation,omitempty"`
}

// SessionInfo is the snapshot shape shared by WS frames and REST responses.
// Timestamps are epoch milliseconds.
type SessionInfo struct {
	ID           string `json:"id"`
	MessageCount int    `json:"messageCount"`
	IsActive     bool   `json:"isActive"`
	CreatedAt    int64  `json:"createdAt"`
	LastActivity int64  `json:"lastActivity"`
}

type ConnectedFrame struct {
	Type              string        `json:"type"`
	Message           string        `json:"message"`
	AvailableSessions []SessionInfo `json:"availableSessions"`
}

func NewConnectedFrame(message string, sessions []SessionInfo) ConnectedFrame {
	if sessions == nil {
		sessions = []SessionInfo{}
	}
	return ConnectedFrame{Type: "connected", Message: message, AvailableSessions: sessions}
}

type SessionInfoFrame struct {
	Type string      `json:"type"`
	Data SessionInfo `json:"data"`
}

func NewSessionInfoFrame(info SessionInfo) SessionInfoFrame {
	return SessionInfoFrame{Type: "session_info", Data: info}
}

type SubscriptionFrame struct {
	Type      string `json:"type"` // "subscribed" or "unsubscribed"
	SessionID string `json:"sessionId"`
}

func NewSubscribedFrame(sessionID string) SubscriptionFrame {
	return SubscriptionFrame{Type: "subscribed", SessionID: sessionID}
}

func NewUnsubscribedFrame(sessionID string) SubscriptionFrame {
	return SubscriptionFrame{Type: "unsubscribed", SessionID: sessionID}
}

type AssistantMessageFrame struct {
	Type      string `json:"type"`
	Content   string `json:"content"`
	SessionID string `json:"sessionId"`
}

func NewAssistantMessageFrame(sessionID, content string) AssistantMessageFrame {
	return AssistantMessageFrame{Type: "assistant_message", Content: content, SessionID: sessionID}
}

type ToolUseFrame struct {
	Type      string         `json:"type"`
	ToolName  string         `json:"toolName"`
	ToolID    string         `json:"toolId"`
	ToolInput map[string]any `json:"toolInput,omitempty"`
	SessionID string         `json:"sessionId"`
}

func NewToolUseFrame(sessionID, toolName, toolID string, input map[string]any) ToolUseFrame {
	return ToolUseFrame{Type: "tool_use", ToolName: toolName, ToolID: toolID, ToolInput: input, SessionID: sessionID}
}

type ToolResultFrame struct {
	Type      string `json:"type"`
	ToolUseID string `json:"toolUseId"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"isError"`
	SessionID string `json:"sessionId"`
}

func NewToolResultFrame(sessionID, toolUseID, content string, isError bool) ToolResultFrame {
	return ToolResultFrame{Type: "tool_result", ToolUseID: toolUseID, Content: content, IsError: isError, SessionID: sessionID}
}

type SystemFrame struct {
	Type      string         `json:"type"`
	Subtype   string         `json:"subtype"`
	SessionID string         `json:"sessionId"`
	Data      map[string]any `json:"data,omitempty"`
}

func NewSystemFrame(sessionID, subtype string, data map[string]any) SystemFrame {
	return SystemFrame{Type: "system", Subtype: subtype, SessionID: sessionID, Data: data}
}

type ResultFrame struct {
	Type      string   `json:"type"`
	Success   bool     `json:"success"`
	Result    string   `json:"result,omitempty"`
	Cost      *float64 `json:"cost,omitempty"`
	Duration  *int64   `json:"duration,omitempty"`
	Error     string   `json:"error,omitempty"`
	SessionID string   `json:"sessionId"`
}

type CancelFrame struct {
	Type      string `json:"type"` // "cancelling" or "cancelled"
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

func NewCancellingFrame(sessionID string) CancelFrame {
	return CancelFrame{Type: "cancelling", SessionID: sessionID, Message: "Cancelling current turn"}
}

func NewCancelledFrame(sessionID string) CancelFrame {
	return CancelFrame{Type: "cancelled", SessionID: sessionID, Message: "Turn cancelled"}
}

type ErrorFrame struct {
	Type      string `json:"type"`
	Error     string `json:"error"`
	SessionID string `json:"sessionId,omitempty"`
}

func NewErrorFrame(sessionID, message string) ErrorFrame {
	return ErrorFrame{Type: "error", Error: message, SessionID: sessionID}
}

type SystemInfoFrame struct {
	Type        string        `json:"type"`
	Sessions    []SessionInfo `json:"sessions"`
	ClientCount int           `json:"clientCount"`
}

func NewSystemInfoFrame(sessions []SessionInfo, clientCount int) SystemInfoFrame {
	if sessions == nil {
		sessions = []SessionInfo{}
	}
	return SystemInfoFrame{Type: "system_info", Sessions: sessions, ClientCount: clientCount}
}
