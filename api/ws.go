package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"github.com/xiaoyuanzhu-com/ccsdk-gateway/db"
	"github.com/xiaoyuanzhu-com/ccsdk-gateway/hub"
	"github.com/xiaoyuanzhu-com/ccsdk-gateway/log"
)

// WebSocket handles the bidirectional frame protocol at /api/ccsdk/ws
func (h *Handlers) WebSocket(c *gin.Context) {
	// Get the underlying http.ResponseWriter from Gin's wrapper.
	// Gin wraps the response writer to track state, but WebSocket needs
	// the raw writer for hijacking.
	var w http.ResponseWriter = c.Writer
	if unwrapper, ok := c.Writer.(interface{ Unwrap() http.ResponseWriter }); ok {
		w = unwrapper.Unwrap()
	}

	log.MarkHijacked(c)

	conn, err := websocket.Accept(w, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // origin checks are handled at a higher layer
	})
	if err != nil {
		log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Abort Gin context to prevent middleware from writing headers on the
	// hijacked connection
	c.Abort()

	// Gin's request context doesn't cancel when the WebSocket closes, so
	// manage our own
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	client := hub.NewClient()
	if err := h.store.RegisterClient(client.ID, db.NowMillis()); err != nil {
		log.Error().Err(err).Str("clientId", client.ID).Msg("failed to register client")
	}
	h.liveClients.Add(1)

	// The session this client is currently subscribed to, at most one
	currentSessionID := ""

	defer func() {
		h.liveClients.Add(-1)
		h.hub.OnClientDisconnect(client, currentSessionID)
		if err := h.store.MarkClientDisconnected(client.ID, db.NowMillis()); err != nil {
			log.Error().Err(err).Str("clientId", client.ID).Msg("failed to mark client disconnected")
		}
		client.Close()
	}()

	log.Debug().Str("clientId", client.ID).Msg("WebSocket client connected")

	client.SendFrame(hub.NewConnectedFrame("Connected to session gateway", h.hub.List()))

	// Writer goroutine: drain the client's outbox to the socket
	sendDone := make(chan struct{})
	go func() {
		defer close(sendDone)
		for {
			select {
			case <-ctx.Done():
				return
			case data, ok := <-client.Outbox():
				if !ok {
					// dropped as a slow subscriber
					conn.Close(websocket.StatusPolicyViolation, "write buffer overflow")
					cancel()
					return
				}
				if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
					if ctx.Err() == nil {
						log.Debug().Err(err).Str("clientId", client.ID).Msg("WebSocket write failed")
					}
					cancel()
					return
				}
			}
		}
	}()

	// Ping goroutine keeps the connection alive
	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()

	pingDone := make(chan struct{})
	go func() {
		defer close(pingDone)
		for {
			select {
			case <-ctx.Done():
				return
			case <-pingTicker.C:
				if err := conn.Ping(ctx); err != nil {
					return
				}
			}
		}
	}()

	// Read loop with idle timeout
	for {
		readCtx, readCancel := context.WithTimeout(ctx, h.cfg.WSIdleTimeout)
		msgType, data, err := conn.Read(readCtx)
		readCancel()
		if err != nil {
			closeStatus := websocket.CloseStatus(err)
			switch {
			case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
				log.Info().Str("clientId", client.ID).Msg("WebSocket idle timeout")
				conn.Close(websocket.StatusGoingAway, "idle timeout")
			case closeStatus == websocket.StatusGoingAway ||
				closeStatus == websocket.StatusNormalClosure ||
				closeStatus == websocket.StatusNoStatusRcvd:
				log.Debug().Str("clientId", client.ID).Int("closeStatus", int(closeStatus)).Msg("WebSocket closed normally")
			default:
				log.Debug().Err(err).Str("clientId", client.ID).Msg("WebSocket read error")
			}
			cancel()
			break
		}

		if msgType != websocket.MessageText {
			continue
		}

		var frame hub.InboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			client.SendFrame(hub.NewErrorFrame("", "Invalid JSON"))
			continue
		}

		h.dispatchFrame(client, frame, &currentSessionID)
	}

	<-sendDone
	<-pingDone
}

// dispatchFrame routes one inbound frame. currentSessionID tracks the
// connection's single subscription and is owned by the read loop.
func (h *Handlers) dispatchFrame(client *hub.Client, frame hub.InboundFrame, currentSessionID *string) {
	switch frame.Type {
	case hub.FrameChat:
		h.handleChat(client, frame, currentSessionID)

	case hub.FrameSubscribe:
		s, ok := h.hub.Get(frame.SessionID)
		if !ok {
			client.SendFrame(hub.NewErrorFrame(frame.SessionID, "Session not found"))
			return
		}
		h.switchSubscription(client, s, currentSessionID)
		client.SendFrame(hub.NewSubscribedFrame(s.ID))

	case hub.FrameUnsubscribe:
		if s, ok := h.hub.Get(frame.SessionID); ok {
			h.hub.Unsubscribe(s, client.ID)
		}
		if *currentSessionID == frame.SessionID {
			*currentSessionID = ""
			h.storeClientSession(client.ID, "")
		}
		client.SendFrame(hub.NewUnsubscribedFrame(frame.SessionID))

	case hub.FrameCancel:
		// NotFound no-ops silently on cancel
		if s, ok := h.hub.Get(frame.SessionID); ok {
			s.Cancel()
		}

	case hub.FrameSystemInfo:
		client.SendFrame(hub.NewSystemInfoFrame(h.hub.List(), int(h.liveClients.Load())))

	default:
		client.SendFrame(hub.NewErrorFrame("", "Unknown message type"))
	}
}

// handleChat resolves the target session, auto-subscribes the sender, and
// submits the prompt
func (h *Handlers) handleChat(client *hub.Client, frame hub.InboundFrame, currentSessionID *string) {
	if frame.Content == "" {
		client.SendFrame(hub.NewErrorFrame(frame.SessionID, "Message content is required"))
		return
	}

	s, err := h.hub.GetOrCreate(frame.SessionID)
	if err != nil {
		log.Error().Err(err).Str("sessionId", frame.SessionID).Msg("failed to resolve session")
		client.SendFrame(hub.NewErrorFrame(frame.SessionID, "Failed to resolve session"))
		return
	}

	if frame.NewConversation {
		s.EndConversation()
	}

	if *currentSessionID != s.ID {
		h.switchSubscription(client, s, currentSessionID)
	}

	if err := s.Submit(frame.Content); err != nil {
		switch {
		case errors.Is(err, hub.ErrQueueFull):
			client.SendFrame(hub.NewErrorFrame(s.ID, "Too many queued prompts"))
		case errors.Is(err, hub.ErrSessionGone):
			client.SendFrame(hub.NewErrorFrame(s.ID, "Session is gone"))
		default:
			log.Error().Err(err).Str("sessionId", s.ID).Msg("failed to submit prompt")
			client.SendFrame(hub.NewErrorFrame(s.ID, "Failed to submit prompt"))
		}
	}
}

// switchSubscription moves the client's single subscription to s
func (h *Handlers) switchSubscription(client *hub.Client, s *hub.Session, currentSessionID *string) {
	if *currentSessionID != "" && *currentSessionID != s.ID {
		if prev, ok := h.hub.Get(*currentSessionID); ok {
			h.hub.Unsubscribe(prev, client.ID)
		}
	}
	if err := h.hub.Subscribe(s, client); err != nil {
		client.SendFrame(hub.NewErrorFrame(s.ID, "Session is gone"))
		return
	}
	*currentSessionID = s.ID
	h.storeClientSession(client.ID, s.ID)
}

func (h *Handlers) storeClientSession(clientID, sessionID string) {
	if err := h.store.SetClientSession(clientID, sessionID); err != nil {
		log.Error().Err(err).Str("clientId", clientID).Msg("failed to persist client subscription")
	}
}
