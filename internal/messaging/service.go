// ABOUTME: Central messaging service: conversation directory, message log, read state
// ABOUTME: Conversation identity is content-addressed; every mutation publishes live snapshots

package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/2389/courier/internal/fanout"
	"github.com/2389/courier/internal/store"
)

// Caller errors, surfaced immediately and never retried.
var (
	ErrInvalidParticipants = errors.New("invalid participants")
	ErrInvalidMessage      = errors.New("invalid message")

	// ErrNotAParticipant aliases the store sentinel so errors.Is works
	// regardless of which layer rejected the caller.
	ErrNotAParticipant = store.ErrNotAParticipant
)

// conversationNamespace is the fixed UUIDv5 namespace for conversation IDs.
// Changing it would re-key every conversation; never change it.
var conversationNamespace = uuid.MustParse("f1ed0c95-3b61-44a1-9f6d-6d2ae3f4b7c0")

// MessageSnapshot is the full current message list of one conversation,
// delivered to message subscribers on every relevant mutation.
type MessageSnapshot struct {
	ConversationID string           `json:"conversation_id"`
	Messages       []*store.Message `json:"messages"`
	Version        uint64           `json:"version"`
}

// ConversationSnapshot is the full current conversation list of one user,
// ordered by recency, delivered to conversation-list subscribers.
type ConversationSnapshot struct {
	UserID        string                `json:"user_id"`
	Conversations []*store.Conversation `json:"conversations"`
	TotalUnread   int64                 `json:"total_unread"`
	Version       uint64                `json:"version"`
}

// UnsubscribeFunc cancels a live subscription. Safe to call more than once
// and concurrently with an in-flight delivery.
type UnsubscribeFunc func()

// Options tunes the service. Zero values fall back to sensible defaults.
type Options struct {
	MaxMessageLength int           // in code points, default 4000
	HistoryLimit     int           // messages per snapshot/list, default 200
	RetryAttempts    int           // attempts for transient storage failures
	RetryBackoff     time.Duration // base backoff, doubled per attempt
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.MaxMessageLength <= 0 {
		out.MaxMessageLength = 4000
	}
	if out.HistoryLimit <= 0 {
		out.HistoryLimit = 200
	}
	if out.RetryAttempts <= 0 {
		out.RetryAttempts = 3
	}
	if out.RetryBackoff <= 0 {
		out.RetryBackoff = 50 * time.Millisecond
	}
	return out
}

// keyState serializes mutations and versions snapshots for one key (a
// conversation or a user). Holding mu while committing and while building the
// resulting snapshot makes version order equal data order.
type keyState struct {
	mu      sync.Mutex
	version uint64
}

// Service is the messaging core. All conversation and message mutations flow
// through here; nothing else writes the store.
type Service struct {
	store    store.Store
	messages *fanout.Broadcaster[*MessageSnapshot]      // keyed by conversation ID
	convs    *fanout.Broadcaster[*ConversationSnapshot] // keyed by user ID
	opts     Options
	logger   *slog.Logger

	mu     sync.Mutex
	states map[string]*keyState
}

// New creates a messaging service. Pass nil logger for default.
func New(st store.Store, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    st,
		messages: fanout.New[*MessageSnapshot](logger),
		convs:    fanout.New[*ConversationSnapshot](logger),
		opts:     (&opts).withDefaults(),
		logger:   logger.With("component", "messaging"),
		states:   make(map[string]*keyState),
	}
}

// Close shuts down the fan-out layer, ending all live subscriptions.
func (s *Service) Close() {
	s.messages.Close()
	s.convs.Close()
}

func (s *Service) state(key string) *keyState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[key]
	if !ok {
		st = &keyState{}
		s.states[key] = st
	}
	return st
}

// CanonicalPair sorts two distinct, non-empty user IDs into canonical order.
func CanonicalPair(userA, userB string) (lo, hi string, err error) {
	if userA == "" || userB == "" || userA == userB {
		return "", "", ErrInvalidParticipants
	}
	pair := []string{userA, userB}
	sort.Strings(pair)
	return pair[0], pair[1], nil
}

// ConversationID derives the deterministic conversation ID for a pair of
// users. Both orderings of the same pair yield the same ID, which makes
// creation idempotent without a lookup-then-insert race.
func ConversationID(userA, userB string) (string, error) {
	lo, hi, err := CanonicalPair(userA, userB)
	if err != nil {
		return "", err
	}
	return uuid.NewSHA1(conversationNamespace, []byte(lo+"\x00"+hi)).String(), nil
}

// GetOrCreateConversation returns the single conversation for the given pair,
// creating it on first contact. Safe under arbitrary concurrency: concurrent
// callers for the same pair converge on the same record.
func (s *Service) GetOrCreateConversation(ctx context.Context, userA, userB string) (*store.Conversation, error) {
	lo, hi, err := CanonicalPair(userA, userB)
	if err != nil {
		return nil, err
	}
	id, _ := ConversationID(lo, hi)

	conv, err := s.store.GetConversation(ctx, id)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("looking up conversation: %w", err)
	}

	now := time.Now().UTC()
	conv = &store.Conversation{
		ID:            id,
		ParticipantLo: lo,
		ParticipantHi: hi,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	err = s.retry(ctx, "create conversation", func() error {
		return s.store.CreateConversation(ctx, conv)
	})
	if errors.Is(err, store.ErrDuplicateConversation) {
		// Another caller won the race; the record is interchangeable
		return s.store.GetConversation(ctx, id)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Debug("conversation created", "conversation_id", id)
	s.publishConversations(ctx, lo)
	s.publishConversations(ctx, hi)
	return conv, nil
}

// GetConversation returns a conversation the user participates in.
func (s *Service) GetConversation(ctx context.Context, conversationID, userID string) (*store.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, ErrNotAParticipant
	}
	return conv, nil
}

// ListConversations returns the user's conversations, most recent first.
func (s *Service) ListConversations(ctx context.Context, userID string) ([]*store.Conversation, error) {
	return s.store.ListConversations(ctx, userID, 0)
}

// Append validates and appends a message, then publishes fresh snapshots to
// the conversation's message subscribers and both participants' list
// subscribers. The storage write is atomic; transient failures retry the
// whole operation.
func (s *Service) Append(ctx context.Context, conversationID, senderID, text string) (*store.Message, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: empty text", ErrInvalidMessage)
	}
	if utf8.RuneCountInString(text) > s.opts.MaxMessageLength {
		return nil, fmt.Errorf("%w: text exceeds %d code points", ErrInvalidMessage, s.opts.MaxMessageLength)
	}

	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(senderID) {
		return nil, ErrNotAParticipant
	}

	msg := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Text:           text,
	}

	// The conversation is the unit of serializability: appends to the same
	// conversation run one at a time, appends elsewhere proceed in parallel.
	st := s.state(conversationID)
	st.mu.Lock()
	msg.CreatedAt = time.Now().UTC()
	err = s.retry(ctx, "append message", func() error {
		return s.store.AppendMessage(ctx, msg)
	})
	if err != nil {
		st.mu.Unlock()
		return nil, err
	}
	s.publishMessagesLocked(ctx, st, conversationID)
	st.mu.Unlock()

	s.logger.Debug("message appended",
		"conversation_id", conversationID,
		"message_id", msg.ID,
		"seq", msg.Seq)

	s.publishConversations(ctx, conv.ParticipantLo)
	s.publishConversations(ctx, conv.ParticipantHi)
	return msg, nil
}

// ListMessages returns the conversation's recent messages in order, for a
// participant.
func (s *Service) ListMessages(ctx context.Context, conversationID, userID string) ([]*store.Message, error) {
	if _, err := s.GetConversation(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, conversationID, s.opts.HistoryLimit)
}

// MarkRead marks every message from the other participant as read and
// returns the number of messages that transitioned. Idempotent.
func (s *Service) MarkRead(ctx context.Context, conversationID, userID string) (int64, error) {
	st := s.state(conversationID)
	st.mu.Lock()
	var transitions int64
	err := s.retry(ctx, "mark read", func() error {
		var err error
		transitions, err = s.store.MarkRead(ctx, conversationID, userID)
		return err
	})
	if err != nil {
		st.mu.Unlock()
		return 0, err
	}
	if transitions > 0 {
		s.publishMessagesLocked(ctx, st, conversationID)
	}
	st.mu.Unlock()

	if transitions > 0 {
		s.logger.Debug("conversation marked read",
			"conversation_id", conversationID,
			"user_id", userID,
			"transitions", transitions)
		s.publishConversations(ctx, userID)
	}
	return transitions, nil
}

// UnreadCount returns the user's unread badge for one conversation.
func (s *Service) UnreadCount(ctx context.Context, conversationID, userID string) (int64, error) {
	return s.store.UnreadCount(ctx, conversationID, userID)
}

// TotalUnread returns the user's unread badge across all conversations.
func (s *Service) TotalUnread(ctx context.Context, userID string) (int64, error) {
	return s.store.TotalUnread(ctx, userID)
}

// SubscribeMessages opens a live message-list subscription for a participant.
// The full current snapshot is delivered first; every later mutation delivers
// a newer one. The channel closes when the subscription ends.
func (s *Service) SubscribeMessages(ctx context.Context, conversationID, userID string) (<-chan *MessageSnapshot, UnsubscribeFunc, error) {
	if _, err := s.GetConversation(ctx, conversationID, userID); err != nil {
		return nil, nil, err
	}

	ch, subID := s.messages.Subscribe(ctx, conversationID)

	// Build the initial snapshot under the conversation lock so its version
	// cannot be ordered after a concurrent append's snapshot.
	st := s.state(conversationID)
	st.mu.Lock()
	snap, err := s.buildMessageSnapshot(ctx, conversationID, st.version)
	st.mu.Unlock()
	if err != nil {
		s.messages.Unsubscribe(conversationID, subID)
		return nil, nil, err
	}
	s.messages.SendTo(conversationID, subID, snap.Version, snap)

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			s.messages.Unsubscribe(conversationID, subID)
		})
	}
	return ch, unsubscribe, nil
}

// SubscribeConversations opens a live conversation-list subscription for a
// user, with the same initial-snapshot and ordering guarantees as
// SubscribeMessages.
func (s *Service) SubscribeConversations(ctx context.Context, userID string) (<-chan *ConversationSnapshot, UnsubscribeFunc, error) {
	if userID == "" {
		return nil, nil, ErrInvalidParticipants
	}

	ch, subID := s.convs.Subscribe(ctx, userID)

	st := s.state("user:" + userID)
	st.mu.Lock()
	snap, err := s.buildConversationSnapshot(ctx, userID, st.version)
	st.mu.Unlock()
	if err != nil {
		s.convs.Unsubscribe(userID, subID)
		return nil, nil, err
	}
	s.convs.SendTo(userID, subID, snap.Version, snap)

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			s.convs.Unsubscribe(userID, subID)
		})
	}
	return ch, unsubscribe, nil
}

// publishMessagesLocked publishes a fresh message snapshot. The caller holds
// the conversation's keyState lock.
func (s *Service) publishMessagesLocked(ctx context.Context, st *keyState, conversationID string) {
	st.version++
	snap, err := s.buildMessageSnapshot(ctx, conversationID, st.version)
	if err != nil {
		s.logger.Error("building message snapshot failed",
			"error", err,
			"conversation_id", conversationID)
		return
	}
	s.messages.Publish(conversationID, snap.Version, snap)
}

// publishConversations publishes a fresh conversation-list snapshot for one
// user, serialized per user.
func (s *Service) publishConversations(ctx context.Context, userID string) {
	st := s.state("user:" + userID)
	st.mu.Lock()
	defer st.mu.Unlock()

	st.version++
	snap, err := s.buildConversationSnapshot(ctx, userID, st.version)
	if err != nil {
		s.logger.Error("building conversation snapshot failed",
			"error", err,
			"user_id", userID)
		return
	}
	s.convs.Publish(userID, snap.Version, snap)
}

func (s *Service) buildMessageSnapshot(ctx context.Context, conversationID string, version uint64) (*MessageSnapshot, error) {
	messages, err := s.store.ListMessages(ctx, conversationID, s.opts.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("listing messages for snapshot: %w", err)
	}
	return &MessageSnapshot{
		ConversationID: conversationID,
		Messages:       messages,
		Version:        version,
	}, nil
}

func (s *Service) buildConversationSnapshot(ctx context.Context, userID string, version uint64) (*ConversationSnapshot, error) {
	convs, err := s.store.ListConversations(ctx, userID, 0)
	if err != nil {
		return nil, fmt.Errorf("listing conversations for snapshot: %w", err)
	}
	total, err := s.store.TotalUnread(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("totaling unread for snapshot: %w", err)
	}
	return &ConversationSnapshot{
		UserID:        userID,
		Conversations: convs,
		TotalUnread:   total,
		Version:       version,
	}, nil
}

// retry runs op, retrying transient storage failures with doubling backoff.
// Caller errors and other permanent failures return immediately.
func (s *Service) retry(ctx context.Context, what string, op func() error) error {
	backoff := s.opts.RetryBackoff
	var err error
	for attempt := 1; attempt <= s.opts.RetryAttempts; attempt++ {
		err = op()
		if err == nil || !store.IsTransient(err) {
			return err
		}
		if attempt == s.opts.RetryAttempts {
			break
		}
		s.logger.Warn("transient storage failure, retrying",
			"op", what,
			"attempt", attempt,
			"error", err)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
	}
	return fmt.Errorf("%s: retries exhausted: %w", what, err)
}
