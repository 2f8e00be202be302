// ABOUTME: WebSocket streaming of live snapshots to subscribed clients
// ABOUTME: A closed stream means dropped delivery; clients reconnect for fresh state

package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/2389/courier/internal/auth"
)

const writeTimeout = 10 * time.Second

// Origin checks do not apply: access is decided by the verified token, and
// non-browser clients send no Origin at all.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// streamEnvelope frames every snapshot on the wire. Type is "messages" or
// "conversations"; a "dropped" frame precedes a server-initiated close and
// tells the client to reconnect for a fresh snapshot.
type streamEnvelope struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

func (s *Server) handleMessageStream(w http.ResponseWriter, r *http.Request) {
	user := auth.MustFromContext(r.Context())
	convID := mux.Vars(r)["id"]

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ch, unsubscribe, err := s.svc.SubscribeMessages(ctx, convID, user.UserID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	defer unsubscribe()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	s.logger.Debug("message stream opened",
		"conversation_id", convID,
		"user_id", user.UserID)
	s.pump(ctx, cancel, conn, func() (any, bool) {
		snap, ok := <-ch
		return snap, ok
	}, "messages")
}

func (s *Server) handleConversationStream(w http.ResponseWriter, r *http.Request) {
	user := auth.MustFromContext(r.Context())

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ch, unsubscribe, err := s.svc.SubscribeConversations(ctx, user.UserID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	defer unsubscribe()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	s.logger.Debug("conversation stream opened", "user_id", user.UserID)
	s.pump(ctx, cancel, conn, func() (any, bool) {
		snap, ok := <-ch
		return snap, ok
	}, "conversations")
}

// pump writes snapshots to the connection until the subscription or the
// client ends. The read loop only consumes control frames; its exit means
// the client went away.
func (s *Server) pump(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, next func() (any, bool), typ string) {
	defer conn.Close()

	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		snap, ok := next()
		if !ok {
			// Subscription ended server-side: tell the client to reconnect
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			_ = conn.WriteJSON(streamEnvelope{Type: "dropped"})
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "subscription ended"),
				time.Now().Add(writeTimeout))
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(streamEnvelope{Type: typ, Data: snap}); err != nil {
			s.logger.Debug("stream write failed, closing", "error", err)
			return
		}
	}
}
