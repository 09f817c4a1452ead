// Package store persists filtered post collections. Every read and write goes
// through the moderation filter so stored data never drifts from the active rules.
package store

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"mindpulse/metrics"
	"mindpulse/models"
	"mindpulse/moderation"
)

// ErrNotFound returned by a Backend when no entry exists for a fingerprint.
var ErrNotFound = errors.New("cache entry not found")

// Fingerprint deterministic digest of a normalized (keywords, limit) pair
type Fingerprint string

var fingerprintPattern = regexp.MustCompile(`^[0-9a-f]{32}$`)

// KeyFor computes the cache key. Keyword order, case, surrounding whitespace
// and duplicates do not change the result; the limit does.
func KeyFor(keywords []string, limit int) Fingerprint {
	normalized := models.NormalizeKeywords(keywords)
	sum := md5.Sum([]byte(strings.Join(normalized, ",") + "-" + strconv.Itoa(limit)))
	return Fingerprint(hex.EncodeToString(sum[:]))
}

// KeyForQuery computes the cache key of a validated query.
func KeyForQuery(q models.Query) Fingerprint {
	return KeyFor(q.Keywords, q.Limit)
}

// ParseFingerprint validates user supplied keys before they reach a backend.
func ParseFingerprint(s string) (Fingerprint, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if !fingerprintPattern.MatchString(s) {
		return "", fmt.Errorf("%w: invalid cache key %q", models.ErrValidation, s)
	}
	return Fingerprint(s), nil
}

// Backend raw key-value storage for serialized collections.
type Backend interface {
	// Load returns ErrNotFound when the entry does not exist.
	Load(ctx context.Context, fp Fingerprint) ([]byte, error)
	// Save replaces the entry atomically.
	Save(ctx context.Context, fp Fingerprint, data []byte) error
	// Keys lists every stored fingerprint.
	Keys(ctx context.Context) ([]Fingerprint, error)
	Close() error
}

// Store cache contract consumed by the pipeline.
type Store interface {
	// Get returns ok=false on a miss. Hits are re-filtered before returning.
	Get(ctx context.Context, fp Fingerprint) ([]models.Post, bool, error)
	// Put filters posts and overwrites the entry.
	Put(ctx context.Context, fp Fingerprint, posts []models.Post) error
	// Clean re-filters one entry, or all when fp is empty, and returns the
	// number of posts removed.
	Clean(ctx context.Context, fp Fingerprint) (int, error)
}

// Cache implements Store over any Backend.
type Cache struct {
	backend Backend
	filter  *moderation.Filter
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewCache creates a cache. logger and m may be nil.
func NewCache(backend Backend, filter *moderation.Filter, logger *zap.Logger, m *metrics.Metrics) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		backend: backend,
		filter:  filter,
		logger:  logger.Named("cache"),
		metrics: m,
	}
}

// Get implements Store.
func (c *Cache) Get(ctx context.Context, fp Fingerprint) ([]models.Post, bool, error) {
	posts, err := c.load(ctx, fp)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		c.metrics.CacheError("get")
		return nil, false, err
	}

	rep := c.filter.Partition(posts, nil)
	if n := rep.RemovedCount(); n > 0 {
		c.logger.Info("stripped stale noise on read", zap.String("fingerprint", string(fp)), zap.Int("removed", n))
		c.metrics.Filtered("cache_read", reasonCounts(rep.Removed))
	}
	return rep.Kept, true, nil
}

// Put implements Store.
func (c *Cache) Put(ctx context.Context, fp Fingerprint, posts []models.Post) error {
	rep := c.filter.Partition(posts, nil)
	c.metrics.Filtered("cache_write", reasonCounts(rep.Removed))
	if err := c.save(ctx, fp, rep.Kept); err != nil {
		c.metrics.CacheError("put")
		return err
	}
	c.logger.Debug("cache entry written", zap.String("fingerprint", string(fp)), zap.Int("posts", len(rep.Kept)))
	return nil
}

// Clean implements Store. A failure on one entry is logged and the pass
// continues with the rest.
func (c *Cache) Clean(ctx context.Context, fp Fingerprint) (int, error) {
	var keys []Fingerprint
	if fp != "" {
		keys = []Fingerprint{fp}
	} else {
		all, err := c.backend.Keys(ctx)
		if err != nil {
			return 0, fmt.Errorf("%w: listing cache entries: %v", models.ErrCacheIO, err)
		}
		keys = all
	}

	total := 0
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		removed, err := c.cleanOne(ctx, key)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			c.metrics.CacheError("clean")
			c.logger.Warn("failed to clean cache entry", zap.String("fingerprint", string(key)), zap.Error(err))
			continue
		}
		total += removed
	}

	c.metrics.Cleaned(total)
	c.logger.Info("cache clean finished", zap.Int("entries", len(keys)), zap.Int("removed", total))
	return total, nil
}

func (c *Cache) cleanOne(ctx context.Context, fp Fingerprint) (int, error) {
	posts, err := c.load(ctx, fp)
	if err != nil {
		return 0, err
	}
	rep := c.filter.Partition(posts, nil)
	if len(rep.Kept) >= len(posts) {
		return 0, nil
	}
	if err := c.save(ctx, fp, rep.Kept); err != nil {
		return 0, err
	}
	c.metrics.Filtered("clean", reasonCounts(rep.Removed))
	return len(posts) - len(rep.Kept), nil
}

func (c *Cache) load(ctx context.Context, fp Fingerprint) ([]models.Post, error) {
	data, err := c.backend.Load(ctx, fp)
	if errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", models.ErrCacheIO, fp, err)
	}
	posts, err := decodePosts(data)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %v", models.ErrCacheIO, fp, err)
	}
	return posts, nil
}

func (c *Cache) save(ctx context.Context, fp Fingerprint, posts []models.Post) error {
	data, err := encodePosts(posts, false)
	if err != nil {
		return fmt.Errorf("%w: encoding %s: %v", models.ErrCacheIO, fp, err)
	}
	if err := c.backend.Save(ctx, fp, data); err != nil {
		return fmt.Errorf("%w: writing %s: %v", models.ErrCacheIO, fp, err)
	}
	return nil
}

func decodePosts(data []byte) ([]models.Post, error) {
	var posts []models.Post
	if err := json.Unmarshal(data, &posts); err != nil {
		return nil, err
	}
	return posts, nil
}

func encodePosts(posts []models.Post, indent bool) ([]byte, error) {
	if posts == nil {
		posts = []models.Post{}
	}
	if indent {
		return json.MarshalIndent(posts, "", "  ")
	}
	return json.Marshal(posts)
}

func reasonCounts(removed map[moderation.Reason]int) map[string]int {
	out := make(map[string]int, len(removed))
	for r, n := range removed {
		out[string(r)] = n
	}
	return out
}
