// Package aggregate derives dashboard statistics from annotated posts.
package aggregate

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"mindpulse/models"
)

// Vocabulary mental-health terms counted by TopKeywords, in tie-break order.
var Vocabulary = []string{
	"anxiety", "depression", "therapy", "stress", "trauma",
	"coping", "medication", "support", "recovery", "mental health",
	"therapist", "counseling", "self-care", "diagnosis", "symptoms",
	"treatment", "healing", "crisis", "panic", "grief",
}

// DashboardTopN number of terms shown on the dashboard
const DashboardTopN = 5

// SentimentCounts partition of posts by sentiment label
type SentimentCounts struct {
	Positive int `json:"positive"`
	Negative int `json:"negative"`
	Neutral  int `json:"neutral"`
}

// Total sum of all buckets
func (c SentimentCounts) Total() int {
	return c.Positive + c.Negative + c.Neutral
}

// CountSentiment buckets posts by label. Missing or unrecognised labels count as neutral.
func CountSentiment(posts []models.Post) SentimentCounts {
	var c SentimentCounts
	for _, p := range posts {
		switch p.SentimentLabel {
		case models.SentimentPositive:
			c.Positive++
		case models.SentimentNegative:
			c.Negative++
		default:
			c.Neutral++
		}
	}
	return c
}

// TermCount one vocabulary term and the number of posts mentioning it
type TermCount struct {
	Term  string
	Count int
}

// TermCounts ordered by count, highest first. Marshals to a JSON object whose
// key order is preserved.
type TermCounts []TermCount

// MarshalJSON implements json.Marshaler.
func (tc TermCounts) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, t := range tc {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(t.Term)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.WriteString(strconv.Itoa(t.Count))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Map unordered view, handy for lookups.
func (tc TermCounts) Map() map[string]int {
	m := make(map[string]int, len(tc))
	for _, t := range tc {
		m[t.Term] = t.Count
	}
	return m
}

// TopKeywords counts, per vocabulary term, the posts whose lower-cased title
// and body contain it, and returns the n most frequent. Terms never seen are
// omitted; equal counts keep vocabulary order. n <= 0 returns every term seen.
func TopKeywords(posts []models.Post, n int) TermCounts {
	counts := make([]int, len(Vocabulary))
	for _, p := range posts {
		text := strings.ToLower(p.Title + " " + p.Body)
		for i, term := range Vocabulary {
			if strings.Contains(text, term) {
				counts[i]++
			}
		}
	}

	out := make(TermCounts, 0, len(Vocabulary))
	for i, term := range Vocabulary {
		if counts[i] > 0 {
			out = append(out, TermCount{Term: term, Count: counts[i]})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })

	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Summary aggregate view of a post collection
type Summary struct {
	Total     int             `json:"total"`
	Sentiment SentimentCounts `json:"sentiment_counts"`
	Keywords  TermCounts      `json:"keywords"`
	Insights  int             `json:"insights"`
}

// Summarize computes counts, top n keywords and the number of posts carrying a real insight.
func Summarize(posts []models.Post, n int) Summary {
	s := Summary{
		Total:     len(posts),
		Sentiment: CountSentiment(posts),
		Keywords:  TopKeywords(posts, n),
	}
	for _, p := range posts {
		if p.HasInsight() {
			s.Insights++
		}
	}
	return s
}
