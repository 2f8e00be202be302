// Package store provides persistent storage for courier using SQLite.
//
// # Data Models
//
//   - Conversation: two-party relationship with canonical participant order,
//     denormalized last-message summary and per-side unread counters
//   - Message: immutable log entry with a per-conversation sequence number
//     and a monotonic read flag
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//	PRAGMA busy_timeout=5000;
//
// Timestamps are stored as integer unix nanoseconds; message ordering is by
// the seq column, assigned inside the append transaction.
//
// # Atomicity
//
// AppendMessage writes the message row and the conversation's summary,
// message counter and unread counter in one transaction. MarkRead flips the
// read flags and resets the unread counter in one transaction. Neither
// operation can commit partially; IsTransient classifies failures the caller
// should retry as a whole.
//
// # Error Handling
//
// Common errors:
//
//   - ErrNotFound: requested entity does not exist
//   - ErrDuplicateConversation: conversation id already present
//   - ErrNotAParticipant: user is not a member of the conversation
//
// All methods accept context.Context for cancellation support.
package store
