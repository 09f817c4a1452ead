package models

import (
	"fmt"
	"sort"
	"strings"
)

// SentimentLabel sentiment class attached during annotation
type SentimentLabel string

const (
	SentimentPositive SentimentLabel = "POSITIVE"
	SentimentNegative SentimentLabel = "NEGATIVE"
	SentimentNeutral  SentimentLabel = "NEUTRAL"
)

// ParseSentimentLabel maps free-form model output onto a known label.
// Anything unrecognised is neutral.
func ParseSentimentLabel(s string) SentimentLabel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "POSITIVE", "POS", "LABEL_1":
		return SentimentPositive
	case "NEGATIVE", "NEG", "LABEL_0":
		return SentimentNegative
	default:
		return SentimentNeutral
	}
}

// InsightUnavailablePrefix starts every placeholder returned instead of an insight.
const InsightUnavailablePrefix = "Analysis unavailable"

// Post a single collected post. JSON names and the zone-less "date" layout
// match the data files written by earlier releases.
type Post struct {
	Source       string    `json:"source"`
	CollectionID string    `json:"subreddit"` // subreddit / collection the post came from
	Title        string    `json:"title"`
	Body         string    `json:"content"`
	Author       string    `json:"author"`
	Timestamp    Timestamp `json:"date"`
	Permalink    string    `json:"url"`
	UpvoteCount  int       `json:"upvotes"`
	CommentCount int       `json:"comments"`

	// Moderator signals
	IsModeratorFlagged bool   `json:"is_moderator"`
	ModeratorFlair     string `json:"author_flair,omitempty"`
	FlairClass         string `json:"author_flair_css,omitempty"`
	Distinguished      string `json:"distinguished,omitempty"`
	Stickied           bool   `json:"stickied,omitempty"`

	// Annotation
	SentimentLabel SentimentLabel `json:"sentiment,omitempty"`
	SentimentScore float64        `json:"sentiment_score,omitempty"`
	InsightText    string         `json:"insight,omitempty"`
}

// Text returns the title and body as one block, the input used for annotation.
func (p Post) Text() string {
	if p.Body == "" {
		return p.Title
	}
	return p.Title + "\n\n" + p.Body
}

// HasInsight reports whether the post carries a real insight rather than a placeholder.
func (p Post) HasInsight() bool {
	return p.InsightText != "" && !strings.HasPrefix(p.InsightText, InsightUnavailablePrefix)
}

// DefaultLimit number of posts fetched when a query does not specify one
const DefaultLimit = 10

// Query a normalized search request
type Query struct {
	Keywords []string `json:"keywords"`
	Limit    int      `json:"limit"`
}

// NewQuery validates and normalizes a keyword list and limit.
// Callers substitute DefaultLimit when the limit was not supplied at all.
func NewQuery(keywords []string, limit int) (Query, error) {
	normalized := NormalizeKeywords(keywords)
	if len(normalized) == 0 {
		return Query{}, fmt.Errorf("%w: please enter keywords", ErrValidation)
	}
	if limit <= 0 {
		return Query{}, fmt.Errorf("%w: limit must be positive, got %d", ErrValidation, limit)
	}
	return Query{Keywords: normalized, Limit: limit}, nil
}

// ParseQuery builds a Query from the comma separated keyword string used by the form and CLI.
func ParseQuery(raw string, limit int) (Query, error) {
	return NewQuery(strings.Split(raw, ","), limit)
}

// NormalizeKeywords trims, lower-cases, drops empties, sorts and deduplicates.
func NormalizeKeywords(keywords []string) []string {
	seen := make(map[string]struct{}, len(keywords))
	out := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if _, ok := seen[kw]; ok {
			continue
		}
		seen[kw] = struct{}{}
		out = append(out, kw)
	}
	sort.Strings(out)
	return out
}

// Matches reports whether any keyword occurs in the post title or body, case-insensitively.
func (q Query) Matches(p Post) bool {
	content := strings.ToLower(p.Text())
	for _, kw := range q.Keywords {
		if strings.Contains(content, kw) {
			return true
		}
	}
	return false
}
