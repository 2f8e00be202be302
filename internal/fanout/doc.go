// Package fanout delivers live query snapshots to connected sessions.
//
// A Broadcaster keys subscriptions by an opaque string: the messaging layer
// uses conversation IDs for message-list snapshots and user IDs for
// conversation-list snapshots. Every mutation publishes the full current
// result set with a monotonically increasing version; each subscriber's
// single-slot mailbox keeps only the newest undelivered snapshot, so ordering
// holds for arbitrarily slow consumers and publishers never block.
//
// A closed subscription channel is the drop signal: the consumer re-issues
// Subscribe and receives the full current state first, so nothing is missed
// across reconnects.
package fanout
