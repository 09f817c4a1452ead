// Package collector fetches posts from Reddit. RedditSource uses the OAuth
// JSON API; FeedSource reads the public RSS feeds and needs no credentials.
package collector

import (
	"context"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"mindpulse/metrics"
	"mindpulse/models"
	"mindpulse/moderation"
)

// SourceReddit value of Post.Source for everything collected here
const SourceReddit = "reddit"

// maxListing largest page the listing endpoints return
const maxListing = 100

// Source fetches posts matching any keyword, at most limit of them.
type Source interface {
	Fetch(ctx context.Context, keywords []string, limit int) ([]models.Post, error)
}

// New picks the OAuth source when credentials are configured and falls back
// to the RSS source otherwise.
func New(ctx context.Context, cfg models.RedditConfig, filter *moderation.Filter, logger *zap.Logger, m *metrics.Metrics) Source {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.HasCredentials() {
		return NewRedditSource(ctx, cfg, filter, logger, m)
	}
	logger.Warn("Reddit credentials not configured, falling back to RSS feeds",
		zap.Strings("subreddits", cfg.GetSubreddits()))
	return NewFeedSource(cfg, filter, logger, m)
}

// userAgentTransport stamps every request with the configured user agent;
// Reddit throttles generic agents aggressively.
type userAgentTransport struct {
	base http.RoundTripper
	ua   string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.Header.Set("User-Agent", t.ua)
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(r)
}

// htmlToText extracts readable text from an HTML fragment, preferring the
// markdown body Reddit wraps in div.md.
func htmlToText(fragment string) string {
	if strings.TrimSpace(fragment) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return strings.TrimSpace(fragment)
	}
	sel := doc.Find("div.md")
	if sel.Length() == 0 {
		sel = doc.Selection
	}
	return strings.Join(strings.Fields(sel.Text()), " ")
}

func listingSize(limit int) int {
	n := limit * 3
	if n > maxListing {
		return maxListing
	}
	return n
}
