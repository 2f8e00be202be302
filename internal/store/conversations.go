// ABOUTME: SQLite operations for the conversation directory
// ABOUTME: Creation is idempotent-by-id; lookups never mutate

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CreateConversation inserts a new conversation row.
// The caller derives the ID deterministically from the canonical participant
// pair, so a UNIQUE violation means the conversation already exists and is
// reported as ErrDuplicateConversation.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	if conv.ParticipantLo >= conv.ParticipantHi {
		return fmt.Errorf("participants not in canonical order: %q, %q", conv.ParticipantLo, conv.ParticipantHi)
	}

	query := `
		INSERT INTO conversations (id, participant_lo, participant_hi, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		conv.ID,
		conv.ParticipantLo,
		conv.ParticipantHi,
		conv.CreatedAt.UnixNano(),
		conv.UpdatedAt.UnixNano(),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateConversation
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}

	s.logger.Debug("created conversation",
		"id", conv.ID,
		"participant_lo", conv.ParticipantLo,
		"participant_hi", conv.ParticipantHi)
	return nil
}

const conversationColumns = `
	id, participant_lo, participant_hi,
	last_message_text, last_message_sender, last_message_at,
	message_count, unread_lo, unread_hi, created_at, updated_at
`

// GetConversation retrieves a conversation by ID.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = ?`

	conv, err := scanConversation(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	return conv, nil
}

// ListConversations retrieves the conversations a user participates in,
// ordered by most recent activity. If limit is 0 or negative, a default
// limit of 100 is used.
func (s *SQLiteStore) ListConversations(ctx context.Context, userID string, limit int) ([]*Conversation, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE participant_lo = ? OR participant_hi = ?
		ORDER BY updated_at DESC, id ASC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, userID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning conversation row: %w", err)
		}
		convs = append(convs, conv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversation rows: %w", err)
	}

	return convs, nil
}

// rowScanner covers both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var conv Conversation
	var lastText, lastSender sql.NullString
	var lastAt sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(
		&conv.ID,
		&conv.ParticipantLo,
		&conv.ParticipantHi,
		&lastText,
		&lastSender,
		&lastAt,
		&conv.MessageCount,
		&conv.UnreadLo,
		&conv.UnreadHi,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	conv.CreatedAt = time.Unix(0, createdAt).UTC()
	conv.UpdatedAt = time.Unix(0, updatedAt).UTC()

	if lastText.Valid && lastSender.Valid && lastAt.Valid {
		conv.LastMessage = &MessageSummary{
			Text:      lastText.String,
			SenderID:  lastSender.String,
			Timestamp: time.Unix(0, lastAt.Int64).UTC(),
		}
	}

	return &conv, nil
}
