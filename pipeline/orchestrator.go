package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"mindpulse/aggregate"
	"mindpulse/annotate"
	"mindpulse/metrics"
	"mindpulse/models"
	"mindpulse/moderation"
	"mindpulse/store"
)

const previewSize = 3

// sharedFetchTimeout bounds a coalesced miss once it no longer follows a caller's context.
const sharedFetchTimeout = 2 * time.Minute

// Result outcome of one query
type Result struct {
	QueryID     string            `json:"query_id"`
	Fingerprint store.Fingerprint `json:"cache_key"`
	Count       int               `json:"count"`
	Preview     []models.Post     `json:"preview"`
	Posts       []models.Post     `json:"results"`
	File        string            `json:"file,omitempty"`
	Cached      bool              `json:"cached"`
	Message     string            `json:"message,omitempty"`
	Summary     aggregate.Summary `json:"summary"`

	// States visited, in order
	States []State `json:"-"`
}

// Analysis ad-hoc annotation of free text
type Analysis struct {
	Sentiment annotate.Sentiment `json:"sentiment"`
	Insight   string             `json:"insight"`
}

// Dashboard latest snapshot and its statistics
type Dashboard struct {
	File    string            `json:"file,omitempty"`
	Posts   []models.Post     `json:"results"`
	Summary aggregate.Summary `json:"summary"`
}

// Deps collaborators of an Orchestrator. Logger, Metrics and Notifier are optional.
type Deps struct {
	Source    PostSource
	Filter    *moderation.Filter
	Annotator Annotator
	Cache     store.Store
	Snapshots Snapshots
	Notifier  Notifier
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
}

// Orchestrator runs queries. Safe for concurrent use; concurrent misses on
// the same fingerprint share a single fetch.
type Orchestrator struct {
	source    PostSource
	filter    *moderation.Filter
	annotator Annotator
	cache     store.Store
	snapshots Snapshots
	notifier  Notifier
	logger    *zap.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	inflight singleflight.Group
}

func New(d Deps) *Orchestrator {
	o := &Orchestrator{
		source:    d.Source,
		filter:    d.Filter,
		annotator: d.Annotator,
		cache:     d.Cache,
		snapshots: d.Snapshots,
		notifier:  d.Notifier,
		logger:    d.Logger,
		metrics:   d.Metrics,
		now:       time.Now,
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	o.logger = o.logger.Named("pipeline")
	if o.notifier == nil {
		o.notifier = nopNotifier{}
	}
	return o
}

// run tracks one query's state transitions.
type run struct {
	id     string
	logger *zap.Logger
	states []State
}

func (r *run) enter(s State) {
	r.states = append(r.states, s)
	r.logger.Debug("state", zap.String("state", string(s)))
}

// Run executes a query: cache first, otherwise fetch, filter, annotate,
// persist and cache. Only validation and fetch failures are returned.
func (o *Orchestrator) Run(ctx context.Context, q models.Query) (*Result, error) {
	start := o.now()
	r := &run{id: uuid.NewString()}
	r.logger = o.logger.With(zap.String("query_id", r.id))
	r.enter(StateReceived)

	q, err := models.NewQuery(q.Keywords, q.Limit)
	if err != nil {
		r.enter(StateFailed)
		o.metrics.QueryDone("invalid", o.now().Sub(start))
		return nil, err
	}
	fp := store.KeyForQuery(q)
	r.logger = r.logger.With(zap.String("cache_key", string(fp)))

	r.enter(StateCacheCheck)
	cached, ok, err := o.cache.Get(ctx, fp)
	if err != nil {
		r.logger.Warn("cache read failed, treating as miss", zap.Error(err))
	}
	if ok && len(cached) > 0 {
		r.enter(StateCacheHit)
		o.metrics.CacheHit()
		res := o.respond(r, fp, cached, true)
		o.finish(r, res, "hit", start)
		return res, nil
	}

	r.enter(StateCacheMiss)
	o.metrics.CacheMiss()

	// The shared fetch outlives any single caller; each caller waits on its own ctx.
	ch := o.inflight.DoChan(string(fp), func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedFetchTimeout)
		defer cancel()
		return o.miss(fetchCtx, r, q, fp)
	})

	var out singleflight.Result
	select {
	case out = <-ch:
	case <-ctx.Done():
		r.logger.Warn("query abandoned while fetch in flight", zap.Error(ctx.Err()))
		o.metrics.QueryDone("canceled", o.now().Sub(start))
		return nil, ctx.Err()
	}

	if out.Err != nil {
		if r.states[len(r.states)-1] != StateFailed {
			r.enter(StateFailed)
		}
		r.logger.Error("query failed", zap.Error(out.Err))
		o.metrics.QueryDone("error", o.now().Sub(start))
		return nil, out.Err
	}

	res := *out.Val.(*Result)
	if out.Shared && res.QueryID != r.id {
		r.logger.Info("joined in-flight fetch", zap.String("leader", res.QueryID))
		res.QueryID = r.id
		res.States = append(append([]State(nil), r.states...), StateRespond)
		res.Posts = slices.Clone(res.Posts)
		res.Preview = res.Posts[:len(res.Preview)]
		res.Summary.Keywords = slices.Clone(res.Summary.Keywords)
	}
	outcome := "miss"
	if res.Count == 0 {
		outcome = "empty"
	}
	o.finish(r, &res, outcome, start)
	return &res, nil
}

func (o *Orchestrator) miss(ctx context.Context, r *run, q models.Query, fp store.Fingerprint) (*Result, error) {
	r.enter(StateFetching)
	posts, err := o.source.Fetch(ctx, q.Keywords, q.Limit)
	if err != nil {
		r.enter(StateFailed)
		if errors.Is(err, models.ErrFetch) || errors.Is(err, models.ErrValidation) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", models.ErrFetch, err)
	}

	r.enter(StateFiltering)
	var roster moderation.Roster
	if rp, ok := o.source.(RosterProvider); ok {
		roster = rp.Roster()
	}
	rep := o.filter.Partition(posts, roster)
	o.metrics.Filtered("pipeline", reasonCounts(rep.Removed))
	r.logger.Info("posts filtered", zap.Int("fetched", len(posts)), zap.Int("kept", len(rep.Kept)))

	if len(rep.Kept) == 0 {
		res := o.respond(r, fp, nil, false)
		res.Message = "No results found"
		return res, nil
	}

	r.enter(StateAnnotating)
	annotated := o.annotator.Annotate(ctx, rep.Kept)

	r.enter(StatePersisting)
	file, err := o.snapshots.Save(annotated, o.now())
	if err != nil {
		o.metrics.CacheError("snapshot")
		r.logger.Warn("failed to save snapshot", zap.Error(err))
	}

	r.enter(StateCaching)
	if err := o.cache.Put(ctx, fp, annotated); err != nil {
		r.logger.Warn("failed to cache results", zap.Error(err))
	}

	res := o.respond(r, fp, annotated, false)
	res.File = file
	return res, nil
}

func (o *Orchestrator) respond(r *run, fp store.Fingerprint, posts []models.Post, cached bool) *Result {
	r.enter(StateRespond)
	if posts == nil {
		posts = []models.Post{}
	}
	preview := posts
	if len(preview) > previewSize {
		preview = preview[:previewSize]
	}
	return &Result{
		QueryID:     r.id,
		Fingerprint: fp,
		Count:       len(posts),
		Preview:     preview,
		Posts:       posts,
		Cached:      cached,
		Summary:     aggregate.Summarize(posts, 0),
		States:      r.states,
	}
}

func (o *Orchestrator) finish(r *run, res *Result, outcome string, start time.Time) {
	elapsed := o.now().Sub(start)
	o.metrics.QueryDone(outcome, elapsed)
	r.logger.Info("query completed",
		zap.Int("count", res.Count),
		zap.Bool("cached", res.Cached),
		zap.Duration("elapsed", elapsed))
	o.notifier.Publish(Event{
		Type: EventQueryCompleted,
		Time: o.now(),
		Data: map[string]any{
			"query_id":  res.QueryID,
			"cache_key": string(res.Fingerprint),
			"count":     res.Count,
			"cached":    res.Cached,
		},
	})
}

// Analyze annotates free text outside any query.
func (o *Orchestrator) Analyze(ctx context.Context, text string) (*Analysis, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: no text provided", models.ErrValidation)
	}
	s, insight := o.annotator.Analyze(ctx, text)
	return &Analysis{Sentiment: s, Insight: insight}, nil
}

// Clean re-filters one cache entry, or all of them when fp is empty.
func (o *Orchestrator) Clean(ctx context.Context, fp store.Fingerprint) (int, error) {
	removed, err := o.cache.Clean(ctx, fp)
	if err != nil {
		return removed, err
	}
	o.notifier.Publish(Event{
		Type: EventCacheCleaned,
		Time: o.now(),
		Data: map[string]any{"cache_key": string(fp), "removed": removed},
	})
	return removed, nil
}

// ReloadRules swaps the active rules and cleans the whole cache against them.
func (o *Orchestrator) ReloadRules(ctx context.Context, rules moderation.Rules) (int, error) {
	if err := rules.Validate(); err != nil {
		return 0, fmt.Errorf("%w: %v", models.ErrValidation, err)
	}
	o.filter.SetRules(rules)
	removed, err := o.cache.Clean(ctx, "")
	if err != nil {
		return removed, err
	}
	o.logger.Info("rules reloaded", zap.Int("removed", removed))
	o.notifier.Publish(Event{
		Type: EventRulesReloaded,
		Time: o.now(),
		Data: map[string]any{"removed": removed},
	})
	return removed, nil
}

// Dashboard loads the newest snapshot. With no snapshot the dashboard is empty.
func (o *Orchestrator) Dashboard(_ context.Context) (*Dashboard, error) {
	posts, file, err := o.snapshots.Latest()
	if err != nil {
		return &Dashboard{Posts: []models.Post{}, Summary: aggregate.Summarize(nil, aggregate.DashboardTopN)}, err
	}
	if posts == nil {
		posts = []models.Post{}
	}
	return &Dashboard{
		File:    file,
		Posts:   posts,
		Summary: aggregate.Summarize(posts, aggregate.DashboardTopN),
	}, nil
}

func reasonCounts(removed map[moderation.Reason]int) map[string]int {
	out := make(map[string]int, len(removed))
	for r, n := range removed {
		out[string(r)] = n
	}
	return out
}
