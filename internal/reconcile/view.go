// ABOUTME: Client-side reconciler merging optimistic sends with authoritative snapshots.
// ABOUTME: Pending messages render immediately and resolve or fail without duplicates.

package reconcile

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/courier/internal/messaging"
	"github.com/2389/courier/internal/store"
)

// echoWindow bounds the heuristic match between an unconfirmed optimistic
// send and a snapshot message: same sender, same text, created within this
// span after the send.
const echoWindow = 30 * time.Second

// State of an optimistic send.
type State int

const (
	StatePending State = iota
	StateFailed
)

// Pending is an optimistic message: rendered locally before the server has
// acknowledged it.
type Pending struct {
	CorrelationID string
	SenderID      string
	Text          string
	SentAt        time.Time
	State         State

	// serverID is set once the send call returns, letting snapshots resolve
	// the pending exactly instead of heuristically.
	serverID string
}

// Entry is one row of the merged view: exactly one of Message or Pending is
// set.
type Entry struct {
	Message *store.Message
	Pending *Pending
}

// View merges the authoritative message log of one conversation with the
// local user's in-flight sends. Confirmed messages come first in server
// order, then pending sends in the order they were made.
type View struct {
	mu        sync.Mutex
	selfID    string
	confirmed []*store.Message
	pending   []*Pending
	version   uint64
	applied   bool
}

// NewView creates an empty view for the local user.
func NewView(selfID string) *View {
	return &View{selfID: selfID}
}

// Send registers an optimistic message and returns its correlation ID. The
// message appears in the view immediately.
func (v *View) Send(text string) string {
	v.mu.Lock()
	defer v.mu.Unlock()

	p := &Pending{
		CorrelationID: uuid.New().String(),
		SenderID:      v.selfID,
		Text:          text,
		SentAt:        time.Now().UTC(),
		State:         StatePending,
	}
	v.pending = append(v.pending, p)
	return p.CorrelationID
}

// Confirm binds a pending send to the server-assigned message ID, once the
// send call has returned. If a snapshot containing that ID was already
// applied, the pending resolves immediately.
func (v *View) Confirm(correlationID, serverMessageID string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	for _, p := range v.pending {
		if p.CorrelationID == correlationID {
			p.serverID = serverMessageID
			break
		}
	}
	v.resolveLocked()
}

// Fail marks a pending send as failed. It stays in the view so the user can
// see and retry it; Remove drops it.
func (v *View) Fail(correlationID string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	for _, p := range v.pending {
		if p.CorrelationID == correlationID {
			p.State = StateFailed
			return
		}
	}
}

// Remove drops a pending send from the view.
func (v *View) Remove(correlationID string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	for i, p := range v.pending {
		if p.CorrelationID == correlationID {
			v.pending = append(v.pending[:i], v.pending[i+1:]...)
			return
		}
	}
}

// Apply replaces the confirmed state with a snapshot and resolves any
// pending sends the snapshot confirms. Snapshots at or below the already
// applied version are discarded; Apply reports whether the snapshot was
// taken.
func (v *View) Apply(snap *messaging.MessageSnapshot) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.applied && snap.Version <= v.version {
		return false
	}
	v.confirmed = snap.Messages
	v.version = snap.Version
	v.applied = true
	v.resolveLocked()
	return true
}

// resolveLocked drops pending sends that the confirmed log now contains.
// Exact server-ID matches win; otherwise an unclaimed message from the local
// user with identical text close after the send time counts as the echo.
func (v *View) resolveLocked() {
	if len(v.pending) == 0 {
		return
	}

	byID := make(map[string]bool, len(v.confirmed))
	for _, m := range v.confirmed {
		byID[m.ID] = true
	}

	claimed := make(map[string]bool)
	kept := v.pending[:0]
	for _, p := range v.pending {
		if p.serverID != "" {
			if byID[p.serverID] {
				continue
			}
			kept = append(kept, p)
			continue
		}
		if m := v.matchEcho(p, claimed); m != nil {
			claimed[m.ID] = true
			continue
		}
		kept = append(kept, p)
	}
	v.pending = kept
}

func (v *View) matchEcho(p *Pending, claimed map[string]bool) *store.Message {
	for _, m := range v.confirmed {
		if claimed[m.ID] || m.SenderID != v.selfID || m.Text != p.Text {
			continue
		}
		delta := m.CreatedAt.Sub(p.SentAt)
		if delta >= -time.Second && delta <= echoWindow {
			return m
		}
	}
	return nil
}

// Messages returns the merged view: confirmed messages in server order,
// then pending sends in send order.
func (v *View) Messages() []Entry {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make([]Entry, 0, len(v.confirmed)+len(v.pending))
	for _, m := range v.confirmed {
		out = append(out, Entry{Message: m})
	}
	for _, p := range v.pending {
		cp := *p
		out = append(out, Entry{Pending: &cp})
	}
	return out
}

// Version returns the version of the last applied snapshot.
func (v *View) Version() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.version
}

// PendingCount returns how many sends are still unconfirmed or failed.
func (v *View) PendingCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.pending)
}
