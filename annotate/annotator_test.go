package annotate

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"mindpulse/models"
)

type stubScorer struct{}

func (stubScorer) Score(_ context.Context, text string) Sentiment {
	if strings.Contains(text, "happy") {
		return Sentiment{Label: models.SentimentPositive, Score: 0.9}
	}
	return Sentiment{Label: models.SentimentNegative, Score: 0.8}
}

type failingGenerator struct{}

func (failingGenerator) Generate(context.Context, string) string {
	return Unavailable("API request timed out")
}

type slowGenerator struct {
	inFlight, peak atomic.Int32
}

func (g *slowGenerator) Generate(_ context.Context, text string) string {
	n := g.inFlight.Add(1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	g.inFlight.Add(-1)
	return "insight: " + text
}

func TestAnnotator_InsightFailureKeepsSentiment(t *testing.T) {
	a := NewAnnotator(stubScorer{}, failingGenerator{}, 2, nil)

	got := a.AnnotatePost(context.Background(), models.Post{Title: "so happy", Body: "therapy worked"})
	assert.Equal(t, models.SentimentPositive, got.SentimentLabel)
	assert.Equal(t, 0.9, got.SentimentScore)
	assert.True(t, strings.HasPrefix(got.InsightText, models.InsightUnavailablePrefix))
	assert.False(t, got.HasInsight())
}

func TestAnnotator_AnnotatePreservesOrder(t *testing.T) {
	gen := &slowGenerator{}
	a := NewAnnotator(stubScorer{}, gen, 3, nil)

	var posts []models.Post
	for _, title := range []string{"one", "two happy", "three", "four", "five", "six happy", "seven"} {
		posts = append(posts, models.Post{Title: title})
	}

	got := a.Annotate(context.Background(), posts)
	assert.Len(t, got, len(posts))
	for i, p := range got {
		assert.Equal(t, posts[i].Title, p.Title)
		assert.Equal(t, "insight: "+posts[i].Title, p.InsightText)
		assert.Empty(t, posts[i].InsightText, "input is not mutated")
	}
	assert.Equal(t, models.SentimentPositive, got[1].SentimentLabel)
	assert.Equal(t, models.SentimentNegative, got[2].SentimentLabel)
	assert.LessOrEqual(t, gen.peak.Load(), int32(3))
}

func TestAnnotator_Analyze(t *testing.T) {
	a := NewAnnotator(stubScorer{}, failingGenerator{}, 0, nil)
	s, insight := a.Analyze(context.Background(), "happy days")
	assert.Equal(t, models.SentimentPositive, s.Label)
	assert.Equal(t, Unavailable("API request timed out"), insight)
}
