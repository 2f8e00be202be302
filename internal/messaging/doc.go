// Package messaging is the direct-messaging core: the conversation
// directory, the per-conversation message log, per-recipient read state,
// and live snapshot fan-out.
//
// Conversation identity is content-addressed. The ID of a conversation is a
// UUIDv5 over the canonically ordered participant pair, so both users derive
// the same ID independently and first contact is idempotent under any
// interleaving.
//
// Every mutation publishes a full, freshly read snapshot to live
// subscribers. Snapshots carry versions assigned under the same lock that
// serializes the mutation, so a subscriber that applies each received
// snapshot whole always converges to current state, even when intermediate
// snapshots are dropped.
package messaging
