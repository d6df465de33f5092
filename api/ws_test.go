package api

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaoyuanzhu-com/ccsdk-gateway/engine"
)

func dialWS(t *testing.T, env *testEnv) (*websocket.Conn, context.Context) {
	t.Helper()
	srv := httptest.NewServer(env.router)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ccsdk/ws"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })

	return conn, ctx
}

func readWSFrame(t *testing.T, ctx context.Context, conn *websocket.Conn) map[string]any {
	t.Helper()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var frame map[string]any
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

func readWSFrameOfType(t *testing.T, ctx context.Context, conn *websocket.Conn, frameType string) map[string]any {
	t.Helper()
	for i := 0; i < 20; i++ {
		frame := readWSFrame(t, ctx, conn)
		if frame["type"] == frameType {
			return frame
		}
	}
	t.Fatalf("never received %q frame", frameType)
	return nil
}

func writeWSFrame(t *testing.T, ctx context.Context, conn *websocket.Conn, frame any) {
	t.Helper()
	data, err := json.Marshal(frame)
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
}

func TestWebSocket_ChatRoundTrip(t *testing.T) {
	env := newTestEnv(t, &scriptedEngine{events: func(prompt string) []engine.Event {
		return []engine.Event{
			engine.SystemEvent{Subtype: "init", EngineSessionID: "eng-ws"},
			engine.AssistantEvent{Text: "echo: " + prompt},
			engine.ResultEvent{Subtype: "success", Result: "echo: " + prompt},
		}
	}})
	conn, ctx := dialWS(t, env)

	frame := readWSFrame(t, ctx, conn)
	assert.Equal(t, "connected", frame["type"])

	writeWSFrame(t, ctx, conn, map[string]any{"type": "chat", "content": "hello"})

	// chat auto-subscribes, so the snapshot arrives first
	info := readWSFrameOfType(t, ctx, conn, "session_info")
	sessionID := info["data"].(map[string]any)["id"].(string)
	require.NotEmpty(t, sessionID)

	frame = readWSFrameOfType(t, ctx, conn, "assistant_message")
	assert.Equal(t, "echo: hello", frame["content"])
	assert.Equal(t, sessionID, frame["sessionId"])

	frame = readWSFrameOfType(t, ctx, conn, "result")
	assert.Equal(t, true, frame["success"])

	// follow-up on the same session resumes the engine conversation
	writeWSFrame(t, ctx, conn, map[string]any{"type": "chat", "content": "again", "sessionId": sessionID})
	frame = readWSFrameOfType(t, ctx, conn, "assistant_message")
	assert.Equal(t, "echo: again", frame["content"])
}

func TestWebSocket_ChatRequiresContent(t *testing.T) {
	env := newTestEnv(t, &scriptedEngine{})
	conn, ctx := dialWS(t, env)
	readWSFrame(t, ctx, conn) // connected

	writeWSFrame(t, ctx, conn, map[string]any{"type": "chat"})

	frame := readWSFrameOfType(t, ctx, conn, "error")
	assert.Contains(t, frame["error"], "content is required")
}

func TestWebSocket_SubscribeUnknownSession(t *testing.T) {
	env := newTestEnv(t, &scriptedEngine{})
	conn, ctx := dialWS(t, env)
	readWSFrame(t, ctx, conn) // connected

	writeWSFrame(t, ctx, conn, map[string]any{"type": "subscribe", "sessionId": "missing"})

	frame := readWSFrameOfType(t, ctx, conn, "error")
	assert.Equal(t, "Session not found", frame["error"])
}

func TestWebSocket_SubscribeAndUnsubscribe(t *testing.T) {
	env := newTestEnv(t, &scriptedEngine{})
	_, err := env.hub.GetOrCreate("s1")
	require.NoError(t, err)

	conn, ctx := dialWS(t, env)
	readWSFrame(t, ctx, conn) // connected

	writeWSFrame(t, ctx, conn, map[string]any{"type": "subscribe", "sessionId": "s1"})
	frame := readWSFrameOfType(t, ctx, conn, "subscribed")
	assert.Equal(t, "s1", frame["sessionId"])

	writeWSFrame(t, ctx, conn, map[string]any{"type": "unsubscribe", "sessionId": "s1"})
	frame = readWSFrameOfType(t, ctx, conn, "unsubscribed")
	assert.Equal(t, "s1", frame["sessionId"])
}

func TestWebSocket_SystemInfo(t *testing.T) {
	env := newTestEnv(t, &scriptedEngine{})
	_, err := env.hub.GetOrCreate("s1")
	require.NoError(t, err)

	conn, ctx := dialWS(t, env)
	readWSFrame(t, ctx, conn) // connected

	writeWSFrame(t, ctx, conn, map[string]any{"type": "system_info"})

	frame := readWSFrameOfType(t, ctx, conn, "system_info")
	assert.EqualValues(t, 1, frame["clientCount"])
	sessions := frame["sessions"].([]any)
	require.Len(t, sessions, 1)
}

func TestWebSocket_UnknownFrameType(t *testing.T) {
	env := newTestEnv(t, &scriptedEngine{})
	conn, ctx := dialWS(t, env)
	readWSFrame(t, ctx, conn) // connected

	writeWSFrame(t, ctx, conn, map[string]any{"type": "bogus"})

	frame := readWSFrameOfType(t, ctx, conn, "error")
	assert.Equal(t, "Unknown message type", frame["error"])
}

func TestWebSocket_InvalidJSON(t *testing.T) {
	env := newTestEnv(t, &scriptedEngine{})
	conn, ctx := dialWS(t, env)
	readWSFrame(t, ctx, conn) // connected

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte("{nope")))

	frame := readWSFrameOfType(t, ctx, conn, "error")
	assert.Equal(t, "Invalid JSON", frame["error"])
}
