// ABOUTME: Store interface and data types for courier persistence
// ABOUTME: Defines Conversation, Message structs and the Store interface for database operations

package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateConversation is returned when trying to create a conversation that already exists
var ErrDuplicateConversation = errors.New("conversation already exists")

// ErrNotAParticipant is returned when an operation names a user that is not
// one of the conversation's two participants
var ErrNotAParticipant = errors.New("not a participant")

// MessageSummary is the denormalized copy of a conversation's most recent
// message, kept on the conversation row so list views never join
type MessageSummary struct {
	Text      string    `json:"text"`
	SenderID  string    `json:"sender_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation is the durable record of a two-party messaging relationship.
// Participants are stored in canonical (lexicographic) order so pair equality
// is order-independent; the ID is derived from that canonical pair.
type Conversation struct {
	ID            string          `json:"id"`
	ParticipantLo string          `json:"participant_lo"`
	ParticipantHi string          `json:"participant_hi"`
	LastMessage   *MessageSummary `json:"last_message,omitempty"` // nil until the first message
	MessageCount  int64           `json:"message_count"`
	UnreadLo      int64           `json:"unread_lo"` // messages ParticipantLo has not read yet
	UnreadHi      int64           `json:"unread_hi"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// HasParticipant reports whether userID is one of the two participants.
func (c *Conversation) HasParticipant(userID string) bool {
	return userID == c.ParticipantLo || userID == c.ParticipantHi
}

// Other returns the participant that is not userID. The caller must have
// checked HasParticipant first.
func (c *Conversation) Other(userID string) string {
	if userID == c.ParticipantLo {
		return c.ParticipantHi
	}
	return c.ParticipantLo
}

// UnreadFor returns the unread counter for userID's side of the conversation.
func (c *Conversation) UnreadFor(userID string) int64 {
	if userID == c.ParticipantLo {
		return c.UnreadLo
	}
	return c.UnreadHi
}

// Message is a single immutable message within a conversation. Seq is the
// per-conversation insertion sequence assigned inside the append transaction;
// it breaks CreatedAt ties and is the authoritative ordering key.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Seq            int64     `json:"seq"`
	SenderID       string    `json:"sender_id"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"created_at"`
	Read           bool      `json:"read"`
}

// Store defines the interface for conversation and message persistence
type Store interface {
	// Conversations
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	ListConversations(ctx context.Context, userID string, limit int) ([]*Conversation, error)

	// Messages
	AppendMessage(ctx context.Context, msg *Message) error
	ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error)

	// Read state
	MarkRead(ctx context.Context, conversationID, userID string) (int64, error)
	UnreadCount(ctx context.Context, conversationID, userID string) (int64, error)
	TotalUnread(ctx context.Context, userID string) (int64, error)

	// Close releases any resources held by the store
	Close() error
}

// IsTransient reports whether err is a retryable storage failure, such as a
// SQLite busy/locked condition under concurrent writers. Callers retry the
// whole operation; partial state is never committed.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "database is locked") ||
		strings.Contains(errStr, "database table is locked") ||
		strings.Contains(errStr, "SQLITE_BUSY")
}
