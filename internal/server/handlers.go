// ABOUTME: REST handlers for conversations, messages, and read state
// ABOUTME: Conversation views are decorated with cached display profiles

package server

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/2389/courier/internal/auth"
	"github.com/2389/courier/internal/profile"
	"github.com/2389/courier/internal/store"
)

type createConversationRequest struct {
	PeerID string `json:"peer_id"`
}

type sendMessageRequest struct {
	Text string `json:"text"`
}

// conversationView is a conversation as one participant sees it: the peer's
// profile and that participant's own unread badge, not both counters.
type conversationView struct {
	ID          string                `json:"id"`
	Peer        *profile.Profile      `json:"peer"`
	LastMessage *store.MessageSummary `json:"last_message,omitempty"`
	Unread      int64                 `json:"unread"`
	UpdatedAt   int64                 `json:"updated_at"`
}

func (s *Server) viewOf(r *http.Request, conv *store.Conversation, userID string) conversationView {
	return conversationView{
		ID:          conv.ID,
		Peer:        s.profiles.Get(r.Context(), conv.Other(userID)),
		LastMessage: conv.LastMessage,
		Unread:      conv.UnreadFor(userID),
		UpdatedAt:   conv.UpdatedAt.UnixNano(),
	}
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	user := auth.MustFromContext(r.Context())

	var req createConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	conv, err := s.svc.GetOrCreateConversation(r.Context(), user.UserID, req.PeerID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.viewOf(r, conv, user.UserID))
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	user := auth.MustFromContext(r.Context())

	convs, err := s.svc.ListConversations(r.Context(), user.UserID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	views := make([]conversationView, 0, len(convs))
	for _, conv := range convs {
		views = append(views, s.viewOf(r, conv, user.UserID))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	user := auth.MustFromContext(r.Context())
	convID := mux.Vars(r)["id"]

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	msg, err := s.svc.Append(r.Context(), convID, user.UserID, req.Text)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	user := auth.MustFromContext(r.Context())
	convID := mux.Vars(r)["id"]

	msgs, err := s.svc.ListMessages(r.Context(), convID, user.UserID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	user := auth.MustFromContext(r.Context())
	convID := mux.Vars(r)["id"]

	transitions, err := s.svc.MarkRead(r.Context(), convID, user.UserID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"marked_read": transitions})
}

func (s *Server) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	user := auth.MustFromContext(r.Context())
	convID := mux.Vars(r)["id"]

	n, err := s.svc.UnreadCount(r.Context(), convID, user.UserID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"unread": n})
}

func (s *Server) handleTotalUnread(w http.ResponseWriter, r *http.Request) {
	user := auth.MustFromContext(r.Context())

	n, err := s.svc.TotalUnread(r.Context(), user.UserID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"total_unread": n})
}
