package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"

	"mindpulse/metrics"
	"mindpulse/models"
	"mindpulse/moderation"
)

// RedditSource walks the hot listing of each configured subreddit through
// the app-only OAuth API.
type RedditSource struct {
	cfg     models.RedditConfig
	client  *http.Client
	limiter *rate.Limiter
	filter  *moderation.Filter
	roster  *moderation.RosterCache
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewRedditSource creates an authenticated source. Tokens are fetched lazily
// on the first request and refreshed by the oauth2 transport.
func NewRedditSource(ctx context.Context, cfg models.RedditConfig, filter *moderation.Filter, logger *zap.Logger, m *metrics.Metrics) *RedditSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("reddit")

	base := &http.Client{
		Timeout:   time.Duration(cfg.GetTimeout()) * time.Second,
		Transport: &userAgentTransport{ua: cfg.GetUserAgent()},
	}
	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret.Value(),
		TokenURL:     cfg.GetTokenURL(),
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	client := cc.Client(context.WithValue(ctx, oauth2.HTTPClient, base))
	client.Timeout = base.Timeout

	s := &RedditSource{
		cfg:     cfg,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(cfg.GetRequestsPerSecond()), 1),
		filter:  filter,
		logger:  logger,
		metrics: m,
	}
	s.roster = moderation.NewRosterCache(s.moderators, time.Duration(cfg.GetRosterTTL())*time.Minute, logger)
	return s
}

// Roster moderator lists loaded so far, keyed by subreddit.
func (s *RedditSource) Roster() moderation.Roster {
	return s.roster
}

// Fetch implements Source. Authorless posts and moderator noise are skipped
// before keyword matching; any request failure aborts the whole fetch.
func (s *RedditSource) Fetch(ctx context.Context, keywords []string, limit int) ([]models.Post, error) {
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
		// A failed roster load is logged and cached as empty.
		_, _ = s.roster.Ensure(ctx, sub)

		posts, err := s.hot(ctx, sub, listingSize(q.Limit))
		if err != nil {
			return nil, fmt.Errorf("%w: r/%s: %v", models.ErrFetch, sub, err)
		}

		for _, p := range posts {
			if len(results) >= q.Limit {
				break
			}
			if p.Author == "" || p.Author == "[deleted]" {
				continue
			}
			if d := s.filter.Classify(p, s.roster); d.IsNoise() {
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

type listing struct {
	Data struct {
		Children []struct {
			Data submission `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type submission struct {
	Subreddit     string  `json:"subreddit"`
	Title         string  `json:"title"`
	Selftext      string  `json:"selftext"`
	Author        string  `json:"author"`
	CreatedUTC    float64 `json:"created_utc"`
	Permalink     string  `json:"permalink"`
	Score         int     `json:"score"`
	NumComments   int     `json:"num_comments"`
	FlairText     *string `json:"author_flair_text"`
	FlairCSSClass *string `json:"author_flair_css_class"`
	Distinguished *string `json:"distinguished"`
	Stickied      bool    `json:"stickied"`
}

func (sub submission) toPost(collection string) models.Post {
	return models.Post{
		Source:         SourceReddit,
		CollectionID:   collection,
		Title:          sub.Title,
		Body:           sub.Selftext,
		Author:         sub.Author,
		Timestamp:      models.NewTimestamp(time.Unix(int64(sub.CreatedUTC), 0).UTC()),
		Permalink:      "https://reddit.com" + sub.Permalink,
		UpvoteCount:    sub.Score,
		CommentCount:   sub.NumComments,
		ModeratorFlair: deref(sub.FlairText),
		FlairClass:     deref(sub.FlairCSSClass),
		Distinguished:  deref(sub.Distinguished),
		Stickied:       sub.Stickied,
	}
}

func (s *RedditSource) hot(ctx context.Context, sub string, n int) ([]models.Post, error) {
	endpoint := fmt.Sprintf("%s/r/%s/hot?limit=%s&raw_json=1", s.cfg.GetAPIBase(), url.PathEscape(sub), strconv.Itoa(n))
	var l listing
	if err := s.getJSON(ctx, endpoint, &l); err != nil {
		return nil, err
	}
	posts := make([]models.Post, 0, len(l.Data.Children))
	for _, c := range l.Data.Children {
		posts = append(posts, c.Data.toPost(sub))
	}
	return posts, nil
}

type userList struct {
	Data struct {
		Children []struct {
			Name string `json:"name"`
		} `json:"children"`
	} `json:"data"`
}

// moderators loads the moderator roster of one subreddit.
func (s *RedditSource) moderators(ctx context.Context, sub string) ([]string, error) {
	var ul userList
	if err := s.getJSON(ctx, fmt.Sprintf("%s/r/%s/about/moderators", s.cfg.GetAPIBase(), url.PathEscape(sub)), &ul); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ul.Data.Children))
	for _, c := range ul.Data.Children {
		names = append(names, c.Name)
	}
	return names, nil
}

func (s *RedditSource) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
