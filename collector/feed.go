package collector

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"mindpulse/metrics"
	"mindpulse/models"
	"mindpulse/moderation"
)

// FeedSource reads each subreddit's public feed. Feeds carry no scores,
// comment counts or flair, so only the text based rules can apply.
type FeedSource struct {
	cfg     models.RedditConfig
	parser  *gofeed.Parser
	limiter *rate.Limiter
	filter  *moderation.Filter
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewFeedSource(cfg models.RedditConfig, filter *moderation.Filter, logger *zap.Logger, m *metrics.Metrics) *FeedSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	parser := gofeed.NewParser()
	parser.Client = &http.Client{
		Timeout:   time.Duration(cfg.GetTimeout()) * time.Second,
		Transport: &userAgentTransport{ua: cfg.GetUserAgent()},
	}
	return &FeedSource{
		cfg:     cfg,
		parser:  parser,
		limiter: rate.NewLimiter(rate.Limit(cfg.GetRequestsPerSecond()), 1),
		filter:  filter,
		logger:  logger.Named("feed"),
		metrics: m,
	}
}

// Fetch implements Source.
func (s *FeedSource) Fetch(ctx context.Context, keywords []string, limit int) ([]models.Post, error) {
	q, err := models.NewQuery(keywords, limit)
	if err != nil {
		return nil, err
	}

	var results []models.Post
	skipped := map[string]int{}
	for _, sub := range s.cfg.GetSubreddits() {
		if len(results) >= q.Limit {
			break
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: r/%s: %v", models.ErrFetch, sub, err)
		}

		feedURL := fmt.Sprintf("%s/r/%s/.rss", s.cfg.GetFeedBase(), url.PathEscape(sub))
		feed, err := s.parser.ParseURLWithContext(feedURL, ctx)
		if err != nil {
			errStr := err.Error()
			if strings.HasSuffix(errStr, "EOF") {
				errStr += " (server refused the request)"
			}
			return nil, fmt.Errorf("%w: r/%s: %s", models.ErrFetch, sub, errStr)
		}
		s.logger.Debug("feed parsed", zap.String("subreddit", sub), zap.Int("items", len(feed.Items)))

		for _, item := range feed.Items {
			if len(results) >= q.Limit {
				break
			}
			p := itemToPost(sub, item)
			if p.Author == "" {
				continue
			}
			if d := s.filter.Classify(p, nil); d.IsNoise() {
				skipped[string(d.Reason)]++
				continue
			}
			if q.Matches(p) {
				results = append(results, p)
			}
		}
	}

	s.metrics.Filtered("collect", skipped)
	s.metrics.Fetched(len(results))
	s.logger.Info("fetch finished", zap.Strings("keywords", q.Keywords), zap.Int("posts", len(results)))
	return results, nil
}

func itemToPost(sub string, item *gofeed.Item) models.Post {
	body := item.Content
	if body == "" {
		body = item.Description
	}

	var author string
	if item.Author != nil {
		author = item.Author.Name
	} else if len(item.Authors) > 0 && item.Authors[0] != nil {
		author = item.Authors[0].Name
	}
	author = strings.TrimPrefix(strings.TrimSpace(author), "/u/")

	var ts time.Time
	switch {
	case item.PublishedParsed != nil:
		ts = item.PublishedParsed.UTC()
	case item.UpdatedParsed != nil:
		ts = item.UpdatedParsed.UTC()
	}

	return models.Post{
		Source:       SourceReddit,
		CollectionID: sub,
		Title:        strings.TrimSpace(item.Title),
		Body:         htmlToText(body),
		Author:       author,
		Timestamp:    models.NewTimestamp(ts),
		Permalink:    item.Link,
	}
}
