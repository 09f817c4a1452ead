package moderation

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RosterLoader fetches the moderator names of one collection.
type RosterLoader func(ctx context.Context, collection string) ([]string, error)

type rosterEntry struct {
	names     map[string]struct{}
	fetchedAt time.Time
}

// RosterCache per-collection moderator lists with a TTL. A failed load is
// cached as an empty roster until it expires so one broken collection does not
// trigger a request for every post.
type RosterCache struct {
	mu      sync.RWMutex
	entries map[string]rosterEntry
	load    RosterLoader
	ttl     time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

// NewRosterCache creates a cache. ttl <= 0 keeps entries until invalidated.
func NewRosterCache(load RosterLoader, ttl time.Duration, logger *zap.Logger) *RosterCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RosterCache{
		entries: make(map[string]rosterEntry),
		load:    load,
		ttl:     ttl,
		now:     time.Now,
		logger:  logger,
	}
}

// Ensure loads the roster for collection unless a fresh entry is cached.
// Returns the number of known moderators.
func (c *RosterCache) Ensure(ctx context.Context, collection string) (int, error) {
	key := strings.ToLower(collection)

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && !c.expired(e) {
		return len(e.names), nil
	}

	names, err := c.load(ctx, collection)
	entry := rosterEntry{names: make(map[string]struct{}, len(names)), fetchedAt: c.now()}
	for _, n := range names {
		entry.names[strings.ToLower(n)] = struct{}{}
	}

	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn("failed to load moderators", zap.String("collection", collection), zap.Error(err))
		return 0, err
	}
	c.logger.Info("cached moderators", zap.String("collection", collection), zap.Int("count", len(entry.names)))
	return len(entry.names), nil
}

// IsModerator consults cached rosters only; it never triggers a load.
func (c *RosterCache) IsModerator(collection, author string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[strings.ToLower(collection)]
	if !ok {
		return false
	}
	_, found := e.names[strings.ToLower(author)]
	return found
}

// Invalidate drops the cached roster of one collection.
func (c *RosterCache) Invalidate(collection string) {
	c.mu.Lock()
	delete(c.entries, strings.ToLower(collection))
	c.mu.Unlock()
}

// InvalidateAll drops every cached roster.
func (c *RosterCache) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[string]rosterEntry)
	c.mu.Unlock()
}

// Len number of collections with a cached roster.
func (c *RosterCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *RosterCache) expired(e rosterEntry) bool {
	return c.ttl > 0 && c.now().Sub(e.fetchedAt) > c.ttl
}

// StaticRoster fixed collection -> moderator names mapping.
type StaticRoster map[string][]string

// IsModerator implements Roster.
func (s StaticRoster) IsModerator(collection, author string) bool {
	for coll, names := range s {
		if !strings.EqualFold(coll, collection) {
			continue
		}
		for _, n := range names {
			if strings.EqualFold(n, author) {
				return true
			}
		}
	}
	return false
}
