// Package annotate attaches sentiment and insight text to posts. Failures never
// surface as errors; they degrade to neutral sentiment or a placeholder insight.
package annotate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"mindpulse/metrics"
	"mindpulse/models"
)

// Sentiment label and confidence returned by a scorer
type Sentiment struct {
	Label models.SentimentLabel `json:"label"`
	Score float64               `json:"score"`
}

// Neutral default returned for empty input or any failure.
func Neutral() Sentiment {
	return Sentiment{Label: models.SentimentNeutral, Score: 0.5}
}

// SentimentScorer classifies text. Implementations never fail; they return Neutral instead.
type SentimentScorer interface {
	Score(ctx context.Context, text string) Sentiment
}

// HuggingFaceScorer calls the hosted inference API for a text-classification model.
type HuggingFaceScorer struct {
	cfg     models.SentimentConfig
	client  *http.Client
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewHuggingFaceScorer creates a scorer. Without an API token every call returns Neutral.
func NewHuggingFaceScorer(cfg models.SentimentConfig, logger *zap.Logger, m *metrics.Metrics) *HuggingFaceScorer {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("sentiment")
	if !cfg.APIToken.IsSet() {
		logger.Warn("sentiment API token not configured, scoring will return neutral")
	}
	return &HuggingFaceScorer{
		cfg:     cfg,
		client:  &http.Client{Timeout: time.Duration(cfg.GetTimeout()) * time.Second},
		logger:  logger,
		metrics: m,
	}
}

type classification struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Score implements SentimentScorer.
func (s *HuggingFaceScorer) Score(ctx context.Context, text string) Sentiment {
	if strings.TrimSpace(text) == "" || !s.cfg.APIToken.IsSet() {
		return Neutral()
	}
	result, err := s.score(ctx, truncate(text, s.cfg.GetMaxChars()))
	if err != nil {
		s.logger.Error("sentiment analysis failed", zap.Error(err))
		s.metrics.AnnotationFailure("sentiment")
		return Neutral()
	}
	return result
}

func (s *HuggingFaceScorer) score(ctx context.Context, text string) (Sentiment, error) {
	payload, err := json.Marshal(map[string]string{"inputs": text})
	if err != nil {
		return Sentiment{}, fmt.Errorf("%w: encode request: %v", models.ErrAnnotation, err)
	}

	url := s.cfg.GetAPIBase() + "/" + s.cfg.GetModel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return Sentiment{}, fmt.Errorf("%w: create request: %v", models.ErrAnnotation, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIToken.Value())

	resp, err := s.client.Do(req)
	if err != nil {
		return Sentiment{}, fmt.Errorf("%w: send request: %v", models.ErrAnnotation, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Sentiment{}, fmt.Errorf("%w: read response: %v", models.ErrAnnotation, err)
	}
	if resp.StatusCode != http.StatusOK {
		return Sentiment{}, fmt.Errorf("%w: status %d: %s", models.ErrAnnotation, resp.StatusCode, truncate(string(body), 200))
	}

	best, err := parseClassifications(body)
	if err != nil {
		return Sentiment{}, fmt.Errorf("%w: %v", models.ErrAnnotation, err)
	}
	return Sentiment{Label: models.ParseSentimentLabel(best.Label), Score: clamp01(best.Score)}, nil
}

// parseClassifications accepts both the nested [[...]] and flat [...] shapes
// the inference API returns and picks the highest scoring label.
func parseClassifications(body []byte) (classification, error) {
	var nested [][]classification
	if err := json.Unmarshal(body, &nested); err == nil && len(nested) > 0 {
		return pickBest(nested[0])
	}
	var flat []classification
	if err := json.Unmarshal(body, &flat); err != nil {
		return classification{}, fmt.Errorf("invalid response format: %w", err)
	}
	return pickBest(flat)
}

func pickBest(results []classification) (classification, error) {
	if len(results) == 0 {
		return classification{}, fmt.Errorf("empty classification result")
	}
	best := results[0]
	for _, r := range results[1:] {
		if r.Score > best.Score {
			best = r
		}
	}
	return best, nil
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// truncate cuts s to at most n characters without splitting a rune.
func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
