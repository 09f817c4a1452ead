// Package pipeline sequences a query through cache lookup, collection,
// moderation filtering, annotation and persistence.
package pipeline

import (
	"context"
	"time"

	"mindpulse/annotate"
	"mindpulse/models"
	"mindpulse/moderation"
)

// State step of a query's lifecycle
type State string

const (
	StateReceived   State = "RECEIVED"
	StateCacheCheck State = "CACHE_CHECK"
	StateCacheHit   State = "CACHE_HIT"
	StateCacheMiss  State = "CACHE_MISS"
	StateFetching   State = "FETCHING"
	StateFiltering  State = "FILTERING"
	StateAnnotating State = "ANNOTATING"
	StatePersisting State = "PERSISTING"
	StateCaching    State = "CACHING"
	StateRespond    State = "RESPOND"
	StateFailed     State = "FAILED"
)

// PostSource external post collection.
type PostSource interface {
	Fetch(ctx context.Context, keywords []string, limit int) ([]models.Post, error)
}

// RosterProvider is implemented by sources that know moderator rosters.
type RosterProvider interface {
	Roster() moderation.Roster
}

// Annotator attaches sentiment and insight to posts.
type Annotator interface {
	Annotate(ctx context.Context, posts []models.Post) []models.Post
	Analyze(ctx context.Context, text string) (annotate.Sentiment, string)
}

// Snapshots per-query result files.
type Snapshots interface {
	Save(posts []models.Post, now time.Time) (string, error)
	Latest() ([]models.Post, string, error)
}

// Event types published to the Notifier.
const (
	EventQueryCompleted = "query.completed"
	EventCacheCleaned   = "cache.cleaned"
	EventRulesReloaded  = "rules.reloaded"
)

// Event notification pushed to live clients
type Event struct {
	Type string         `json:"type"`
	Time time.Time      `json:"time"`
	Data map[string]any `json:"data,omitempty"`
}

// Notifier receives lifecycle events. Publish must not block.
type Notifier interface {
	Publish(Event)
}

type nopNotifier struct{}

func (nopNotifier) Publish(Event) {}
