package annotate

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mindpulse/models"
)

// Annotator runs both annotation collaborators over a batch of posts.
type Annotator struct {
	scorer      SentimentScorer
	insights    InsightGenerator
	concurrency int
	logger      *zap.Logger
}

// NewAnnotator creates an annotator annotating up to concurrency posts at once.
func NewAnnotator(scorer SentimentScorer, insights InsightGenerator, concurrency int, logger *zap.Logger) *Annotator {
	if concurrency <= 0 {
		concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Annotator{
		scorer:      scorer,
		insights:    insights,
		concurrency: concurrency,
		logger:      logger.Named("annotator"),
	}
}

// AnnotatePost returns a copy of p with sentiment and insight filled in.
func (a *Annotator) AnnotatePost(ctx context.Context, p models.Post) models.Post {
	text := p.Text()
	s := a.scorer.Score(ctx, text)
	p.SentimentLabel = s.Label
	p.SentimentScore = s.Score
	p.InsightText = a.insights.Generate(ctx, text)
	return p
}

// Annotate annotates posts in parallel and returns them in input order. The
// input slice is not modified.
func (a *Annotator) Annotate(ctx context.Context, posts []models.Post) []models.Post {
	out := make([]models.Post, len(posts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)

	for i := range posts {
		g.Go(func() error {
			out[i] = a.AnnotatePost(gctx, posts[i])
			return nil
		})
	}
	_ = g.Wait()

	degraded := 0
	for _, p := range out {
		if !p.HasInsight() {
			degraded++
		}
	}
	a.logger.Debug("batch annotated", zap.Int("posts", len(out)), zap.Int("without_insight", degraded))
	return out
}

// Analyze scores free text outside any query.
func (a *Annotator) Analyze(ctx context.Context, text string) (Sentiment, string) {
	return a.scorer.Score(ctx, text), a.insights.Generate(ctx, text)
}
