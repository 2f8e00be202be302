// ABOUTME: SQLite operations for the per-conversation message log and read state
// ABOUTME: Append commits message, summary and unread counter in one transaction

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// AppendMessage appends a message to its conversation's log. The message
// insert, the conversation's lastMessage summary, the message counter and the
// recipient's unread counter are committed as a single transaction; on any
// failure nothing is applied. The per-conversation sequence number is assigned
// here and written back to msg.Seq.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning append transaction: %w", err)
	}
	defer tx.Rollback()

	var lo, hi string
	var count int64
	err = tx.QueryRowContext(ctx,
		`SELECT participant_lo, participant_hi, message_count FROM conversations WHERE id = ?`,
		msg.ConversationID,
	).Scan(&lo, &hi, &count)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("querying conversation for append: %w", err)
	}

	if msg.SenderID != lo && msg.SenderID != hi {
		return ErrNotAParticipant
	}

	msg.Seq = count + 1

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, seq, sender_id, text, created_at, read)
		VALUES (?, ?, ?, ?, ?, ?, 0)
	`,
		msg.ID,
		msg.ConversationID,
		msg.Seq,
		msg.SenderID,
		msg.Text,
		msg.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	if s.appendFault != nil {
		if err := s.appendFault(); err != nil {
			return err
		}
	}

	// The recipient's side gains one unread message
	unreadCol := "unread_hi"
	if msg.SenderID == hi {
		unreadCol = "unread_lo"
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE conversations
		SET last_message_text = ?, last_message_sender = ?, last_message_at = ?,
		    message_count = ?, `+unreadCol+` = `+unreadCol+` + 1, updated_at = ?
		WHERE id = ?
	`,
		msg.Text,
		msg.SenderID,
		msg.CreatedAt.UnixNano(),
		msg.Seq,
		msg.CreatedAt.UnixNano(),
		msg.ConversationID,
	)
	if err != nil {
		return fmt.Errorf("updating conversation summary: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing append: %w", err)
	}

	s.logger.Debug("appended message",
		"id", msg.ID,
		"conversation_id", msg.ConversationID,
		"seq", msg.Seq)
	return nil
}

// ListMessages retrieves the most recent messages of a conversation in
// chronological order. Seq is the ordering key; it agrees with created_at and
// breaks its ties. If limit is 0 or negative, all messages are returned.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	var query string
	var args []any

	if limit > 0 {
		// Get the N most recent messages, but return them in chronological order
		query = `
			SELECT id, conversation_id, seq, sender_id, text, created_at, read
			FROM (
				SELECT id, conversation_id, seq, sender_id, text, created_at, read
				FROM messages
				WHERE conversation_id = ?
				ORDER BY seq DESC
				LIMIT ?
			)
			ORDER BY seq ASC
		`
		args = []any{conversationID, limit}
	} else {
		query = `
			SELECT id, conversation_id, seq, sender_id, text, created_at, read
			FROM messages
			WHERE conversation_id = ?
			ORDER BY seq ASC
		`
		args = []any{conversationID}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var msg Message
		var createdAt int64
		var read int64

		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Seq, &msg.SenderID, &msg.Text, &createdAt, &read); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}

		msg.CreatedAt = time.Unix(0, createdAt).UTC()
		msg.Read = read != 0

		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}

	return messages, nil
}

// MarkRead flips every unread message from the other participant to read and
// resets the caller's unread counter, in one transaction. Returns the number
// of messages that transitioned. Idempotent: a second call returns 0.
func (s *SQLiteStore) MarkRead(ctx context.Context, conversationID, userID string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning mark-read transaction: %w", err)
	}
	defer tx.Rollback()

	var lo, hi string
	err = tx.QueryRowContext(ctx,
		`SELECT participant_lo, participant_hi FROM conversations WHERE id = ?`,
		conversationID,
	).Scan(&lo, &hi)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("querying conversation for mark-read: %w", err)
	}

	if userID != lo && userID != hi {
		return 0, ErrNotAParticipant
	}

	// Only the recipient may flip the flag, and only false -> true
	result, err := tx.ExecContext(ctx, `
		UPDATE messages
		SET read = 1
		WHERE conversation_id = ? AND sender_id != ? AND read = 0
	`, conversationID, userID)
	if err != nil {
		return 0, fmt.Errorf("marking messages read: %w", err)
	}

	transitions, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}

	unreadCol := "unread_lo"
	if userID == hi {
		unreadCol = "unread_hi"
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET `+unreadCol+` = 0 WHERE id = ?`,
		conversationID,
	); err != nil {
		return 0, fmt.Errorf("resetting unread counter: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing mark-read: %w", err)
	}

	if transitions > 0 {
		s.logger.Debug("marked messages read",
			"conversation_id", conversationID,
			"user_id", userID,
			"transitions", transitions)
	}
	return transitions, nil
}

// UnreadCount returns the number of unread messages addressed to userID in
// the conversation, served from the maintained counter.
func (s *SQLiteStore) UnreadCount(ctx context.Context, conversationID, userID string) (int64, error) {
	var lo, hi string
	var unreadLo, unreadHi int64
	err := s.db.QueryRowContext(ctx,
		`SELECT participant_lo, participant_hi, unread_lo, unread_hi FROM conversations WHERE id = ?`,
		conversationID,
	).Scan(&lo, &hi, &unreadLo, &unreadHi)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("querying unread count: %w", err)
	}

	switch userID {
	case lo:
		return unreadLo, nil
	case hi:
		return unreadHi, nil
	default:
		return 0, ErrNotAParticipant
	}
}

// TotalUnread returns the sum of the user's unread counters across all
// conversations, used for the aggregate badge.
func (s *SQLiteStore) TotalUnread(ctx context.Context, userID string) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(CASE
			WHEN participant_lo = ? THEN unread_lo
			ELSE unread_hi
		END), 0)
		FROM conversations
		WHERE participant_lo = ? OR participant_hi = ?
	`, userID, userID, userID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("querying total unread: %w", err)
	}
	return total, nil
}
