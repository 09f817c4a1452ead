package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mindpulse/annotate"
	"mindpulse/models"
	"mindpulse/moderation"
	"mindpulse/store"
)

type fakeSource struct {
	posts   []models.Post
	err     error
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
}

func (f *fakeSource) Fetch(ctx context.Context, keywords []string, limit int) ([]models.Post, error) {
	f.calls.Add(1)
	if f.started != nil {
		close(f.started)
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return append([]models.Post(nil), f.posts...), nil
}

type rosterSource struct {
	fakeSource
	roster moderation.Roster
}

func (r *rosterSource) Roster() moderation.Roster { return r.roster }

type fakeAnnotator struct{}

func (fakeAnnotator) Annotate(_ context.Context, posts []models.Post) []models.Post {
	out := make([]models.Post, len(posts))
	for i, p := range posts {
		p.SentimentLabel = models.SentimentNegative
		p.SentimentScore = 0.9
		p.InsightText = "insight for " + p.Title
		out[i] = p
	}
	return out
}

func (fakeAnnotator) Analyze(_ context.Context, text string) (annotate.Sentiment, string) {
	return annotate.Sentiment{Label: models.SentimentPositive, Score: 0.7}, "insight: " + text
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Publish(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type failingSnapshots struct{}

func (failingSnapshots) Save([]models.Post, time.Time) (string, error) {
	return "", errors.New("read-only filesystem")
}

func (failingSnapshots) Latest() ([]models.Post, string, error) {
	return nil, "", errors.New("read-only filesystem")
}

type fixture struct {
	orch     *Orchestrator
	source   PostSource
	cache    *store.Cache
	results  *store.ResultFiles
	filter   *moderation.Filter
	notifier *recorder
}

func newFixture(t *testing.T, src PostSource) *fixture {
	t.Helper()
	dir := t.TempDir()
	filter := moderation.NewDefaultFilter()
	f := &fixture{
		source:   src,
		filter:   filter,
		cache:    store.NewCache(store.NewFileBackend(dir), filter, nil, nil),
		results:  store.NewResultFiles(dir, filter, nil),
		notifier: &recorder{},
	}
	f.orch = New(Deps{
		Source:    src,
		Filter:    filter,
		Annotator: fakeAnnotator{},
		Cache:     f.cache,
		Snapshots: f.results,
		Notifier:  f.notifier,
	})
	return f
}

func mustQuery(t *testing.T, keywords []string, limit int) models.Query {
	t.Helper()
	q, err := models.NewQuery(keywords, limit)
	require.NoError(t, err)
	return q
}

var (
	announcement = models.Post{Source: "reddit", CollectionID: "anxiety", Title: "[Announcement] New rules", Body: "Please read", Author: "mod1", UpvoteCount: 500, CommentCount: 1}
	anxietyPost  = models.Post{Source: "reddit", CollectionID: "anxiety", Title: "My anxiety is bad", Body: "Need help", Author: "user1", UpvoteCount: 5, CommentCount: 10}
)

func TestOrchestrator_FetchFilterAnnotatePersist(t *testing.T) {
	src := &fakeSource{posts: []models.Post{announcement, anxietyPost}}
	f := newFixture(t, src)
	ctx := context.Background()

	res, err := f.orch.Run(ctx, mustQuery(t, []string{"anxiety"}, 10))
	require.NoError(t, err)

	assert.Equal(t, 1, res.Count)
	require.Len(t, res.Posts, 1)
	assert.Equal(t, "My anxiety is bad", res.Posts[0].Title)
	assert.Equal(t, models.SentimentNegative, res.Posts[0].SentimentLabel)
	assert.Equal(t, "insight for My anxiety is bad", res.Posts[0].InsightText)
	assert.Equal(t, res.Posts, res.Preview)
	assert.False(t, res.Cached)
	assert.NotEmpty(t, res.QueryID)
	assert.True(t, strings.HasPrefix(res.File, "reddit_results_"))
	assert.Equal(t, 1, res.Summary.Sentiment.Negative)
	assert.Equal(t, []State{
		StateReceived, StateCacheCheck, StateCacheMiss, StateFetching, StateFiltering,
		StateAnnotating, StatePersisting, StateCaching, StateRespond,
	}, res.States)

	cached, ok, err := f.cache.Get(ctx, store.KeyFor([]string{"anxiety"}, 10))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, cached, 1)

	snap, name, err := f.results.Latest()
	require.NoError(t, err)
	assert.Equal(t, res.File, name)
	assert.Len(t, snap, 1)

	assert.Equal(t, []string{EventQueryCompleted}, f.notifier.types())
}

func TestOrchestrator_CacheHit(t *testing.T) {
	src := &fakeSource{posts: []models.Post{anxietyPost}}
	f := newFixture(t, src)
	ctx := context.Background()

	first, err := f.orch.Run(ctx, mustQuery(t, []string{"anxiety", "therapy"}, 5))
	require.NoError(t, err)

	second, err := f.orch.Run(ctx, mustQuery(t, []string{"Therapy", "anxiety"}, 5))
	require.NoError(t, err)

	assert.True(t, second.Cached)
	assert.Equal(t, first.Fingerprint, second.Fingerprint)
	assert.NotEqual(t, first.QueryID, second.QueryID)
	assert.Equal(t, first.Posts, second.Posts)
	assert.Empty(t, second.File)
	assert.Equal(t, []State{StateReceived, StateCacheCheck, StateCacheHit, StateRespond}, second.States)
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestOrchestrator_EmptyCacheEntryIsMiss(t *testing.T) {
	src := &fakeSource{posts: []models.Post{anxietyPost}}
	f := newFixture(t, src)
	ctx := context.Background()
	q := mustQuery(t, []string{"anxiety"}, 10)

	require.NoError(t, f.cache.Put(ctx, store.KeyForQuery(q), nil))

	res, err := f.orch.Run(ctx, q)
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestOrchestrator_Validation(t *testing.T) {
	src := &fakeSource{}
	f := newFixture(t, src)

	_, err := f.orch.Run(context.Background(), models.Query{Keywords: []string{" "}, Limit: 10})
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = f.orch.Run(context.Background(), models.Query{Keywords: []string{"anxiety"}, Limit: -1})
	assert.ErrorIs(t, err, models.ErrValidation)

	assert.Zero(t, src.calls.Load())
	assert.Empty(t, f.notifier.types())
}

func TestOrchestrator_FetchError(t *testing.T) {
	src := &fakeSource{err: errors.New("connection reset")}
	f := newFixture(t, src)
	ctx := context.Background()
	q := mustQuery(t, []string{"anxiety"}, 10)

	res, err := f.orch.Run(ctx, q)
	assert.Nil(t, res)
	require.ErrorIs(t, err, models.ErrFetch)
	assert.Contains(t, err.Error(), "connection reset")

	_, ok, err := f.cache.Get(ctx, store.KeyForQuery(q))
	require.NoError(t, err)
	assert.False(t, ok, "nothing cached on failure")

	names, err := f.results.List()
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestOrchestrator_AllFilteredOut(t *testing.T) {
	src := &fakeSource{posts: []models.Post{announcement}}
	f := newFixture(t, src)
	ctx := context.Background()
	q := mustQuery(t, []string{"rules"}, 10)

	res, err := f.orch.Run(ctx, q)
	require.NoError(t, err)
	assert.Zero(t, res.Count)
	assert.Empty(t, res.Posts)
	assert.Equal(t, "No results found", res.Message)
	assert.Equal(t, StateRespond, res.States[len(res.States)-1])
	assert.NotContains(t, res.States, StateAnnotating)

	_, ok, err := f.cache.Get(ctx, store.KeyForQuery(q))
	require.NoError(t, err)
	assert.False(t, ok)
	names, err := f.results.List()
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestOrchestrator_UsesSourceRoster(t *testing.T) {
	src := &rosterSource{
		fakeSource: fakeSource{posts: []models.Post{anxietyPost}},
		roster:     moderation.StaticRoster{"anxiety": {"USER1"}},
	}
	f := newFixture(t, src)

	res, err := f.orch.Run(context.Background(), mustQuery(t, []string{"anxiety"}, 10))
	require.NoError(t, err)
	assert.Zero(t, res.Count)
}

func TestOrchestrator_SnapshotFailureAbsorbed(t *testing.T) {
	dir := t.TempDir()
	filter := moderation.NewDefaultFilter()
	cache := store.NewCache(store.NewFileBackend(dir), filter, nil, nil)
	orch := New(Deps{
		Source:    &fakeSource{posts: []models.Post{anxietyPost}},
		Filter:    filter,
		Annotator: fakeAnnotator{},
		Cache:     cache,
		Snapshots: failingSnapshots{},
	})

	res, err := orch.Run(context.Background(), mustQuery(t, []string{"anxiety"}, 10))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)
	assert.Empty(t, res.File)

	_, ok, err := cache.Get(context.Background(), res.Fingerprint)
	require.NoError(t, err)
	assert.True(t, ok, "cache is still written")

	dash, err := orch.Dashboard(context.Background())
	assert.Error(t, err)
	require.NotNil(t, dash)
	assert.Empty(t, dash.Posts)
}

func TestOrchestrator_CoalescesConcurrentMisses(t *testing.T) {
	src := &fakeSource{
		posts:   []models.Post{anxietyPost},
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	f := newFixture(t, src)
	q := mustQuery(t, []string{"anxiety"}, 10)

	var wg sync.WaitGroup
	results := make([]*Result, 2)
	errs := make([]error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], errs[0] = f.orch.Run(context.Background(), q)
	}()
	<-src.started

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1], errs[1] = f.orch.Run(context.Background(), q)
	}()
	time.Sleep(100 * time.Millisecond)
	close(src.release)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, int32(1), src.calls.Load())
	assert.Equal(t, results[0].Posts, results[1].Posts)
	assert.NotEqual(t, results[0].QueryID, results[1].QueryID)

	// joined results own their slices
	results[1].Posts[0].Title = "edited"
	assert.Equal(t, "edited", results[1].Preview[0].Title)
	assert.Equal(t, anxietyPost.Title, results[0].Posts[0].Title)
	assert.Equal(t, anxietyPost.Title, results[0].Preview[0].Title)
}

func TestOrchestrator_CanceledCallerDoesNotFailJoiners(t *testing.T) {
	src := &fakeSource{
		posts:   []models.Post{anxietyPost},
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	f := newFixture(t, src)
	q := mustQuery(t, []string{"anxiety"}, 10)

	firstCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var firstErr error
	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		_, firstErr = f.orch.Run(firstCtx, q)
	}()
	<-src.started

	var (
		second    *Result
		secondErr error
	)
	secondDone := make(chan struct{})
	go func() {
		defer close(secondDone)
		second, secondErr = f.orch.Run(context.Background(), q)
	}()
	time.Sleep(100 * time.Millisecond)

	cancel()
	<-firstDone
	assert.ErrorIs(t, firstErr, context.Canceled)

	close(src.release)
	<-secondDone
	require.NoError(t, secondErr)
	assert.Equal(t, 1, second.Count)
	assert.Equal(t, int32(1), src.calls.Load())

	cached, ok, err := f.cache.Get(context.Background(), store.KeyForQuery(q))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, cached, 1)
}

func TestOrchestrator_Analyze(t *testing.T) {
	f := newFixture(t, &fakeSource{})

	_, err := f.orch.Analyze(context.Background(), "  ")
	assert.ErrorIs(t, err, models.ErrValidation)

	a, err := f.orch.Analyze(context.Background(), "feeling hopeful")
	require.NoError(t, err)
	assert.Equal(t, models.SentimentPositive, a.Sentiment.Label)
	assert.Equal(t, "insight: feeling hopeful", a.Insight)
}

func TestOrchestrator_ReloadRulesCleansCache(t *testing.T) {
	src := &fakeSource{posts: []models.Post{anxietyPost}}
	f := newFixture(t, src)
	ctx := context.Background()
	q := mustQuery(t, []string{"anxiety"}, 10)

	_, err := f.orch.Run(ctx, q)
	require.NoError(t, err)

	rules := moderation.DefaultRules()
	rules.Keywords = append(rules.Keywords, "need help")
	removed, err := f.orch.ReloadRules(ctx, rules)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = f.orch.ReloadRules(ctx, moderation.Rules{MaxUpvotes: -1})
	assert.ErrorIs(t, err, models.ErrValidation)

	removed, err = f.orch.Clean(ctx, "")
	require.NoError(t, err)
	assert.Zero(t, removed)

	assert.Equal(t, []string{EventQueryCompleted, EventRulesReloaded, EventCacheCleaned}, f.notifier.types())
}

func TestOrchestrator_Dashboard(t *testing.T) {
	f := newFixture(t, &fakeSource{posts: []models.Post{anxietyPost}})
	ctx := context.Background()

	dash, err := f.orch.Dashboard(ctx)
	require.NoError(t, err)
	assert.Empty(t, dash.File)
	assert.Empty(t, dash.Posts)
	assert.Zero(t, dash.Summary.Total)

	_, err = f.orch.Run(ctx, mustQuery(t, []string{"anxiety"}, 10))
	require.NoError(t, err)

	dash, err = f.orch.Dashboard(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, dash.File)
	require.Len(t, dash.Posts, 1)
	assert.Equal(t, 1, dash.Summary.Sentiment.Negative)
	assert.Equal(t, map[string]int{"anxiety": 1}, dash.Summary.Keywords.Map())
}
