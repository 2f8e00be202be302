// ABOUTME: Read-through TTL cache for display profiles keyed by user ID.
// ABOUTME: Lookup failures degrade to placeholder profiles; rendering never blocks on them.

package profile

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Profile is the display identity attached to a user ID when rendering
// conversations. It is cosmetic: message and conversation state never
// depends on it.
type Profile struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// Placeholder returns the degraded profile used when a lookup fails or has
// not completed yet. The raw user ID stands in for the display name.
func Placeholder(userID string) *Profile {
	return &Profile{UserID: userID, DisplayName: userID}
}

// Lookup resolves a user ID to a display profile. Implementations may be
// slow or fail; the cache absorbs both.
type Lookup interface {
	LookupProfile(ctx context.Context, userID string) (*Profile, error)
}

// LookupFunc adapts a function to the Lookup interface.
type LookupFunc func(ctx context.Context, userID string) (*Profile, error)

func (f LookupFunc) LookupProfile(ctx context.Context, userID string) (*Profile, error) {
	return f(ctx, userID)
}

type cacheEntry struct {
	profile   *Profile
	fetchedAt time.Time
}

// Cache is a thread-safe read-through cache over a Lookup. Entries expire
// after the TTL; an expired entry is re-fetched on next access. A failed
// fetch returns a placeholder and leaves no negative entry, so the next
// access tries again.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	lookup  Lookup
	ttl     time.Duration
	logger  *slog.Logger
}

// NewCache creates a profile cache with the given TTL.
func NewCache(lookup Lookup, ttl time.Duration, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		entries: make(map[string]*cacheEntry),
		lookup:  lookup,
		ttl:     ttl,
		logger:  logger.With("component", "profile"),
	}
}

// Get returns the profile for userID, fetching through the Lookup on a miss
// or expired entry. On fetch failure it returns Placeholder(userID) and nil
// error; callers always get something renderable.
func (c *Cache) Get(ctx context.Context, userID string) *Profile {
	c.mu.RLock()
	entry, ok := c.entries[userID]
	c.mu.RUnlock()
	if ok && time.Since(entry.fetchedAt) < c.ttl {
		return entry.profile
	}

	p, err := c.lookup.LookupProfile(ctx, userID)
	if err != nil || p == nil {
		if err != nil {
			c.logger.Warn("profile lookup failed, using placeholder",
				"user_id", userID,
				"error", err)
		}
		// A stale cached profile beats a placeholder
		if ok {
			return entry.profile
		}
		return Placeholder(userID)
	}

	c.mu.Lock()
	c.entries[userID] = &cacheEntry{profile: p, fetchedAt: time.Now()}
	c.mu.Unlock()
	return p
}

// Invalidate drops the cached entry for userID, forcing a re-fetch on the
// next Get.
func (c *Cache) Invalidate(userID string) {
	c.mu.Lock()
	delete(c.entries, userID)
	c.mu.Unlock()
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
