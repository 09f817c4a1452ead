package annotate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"mindpulse/metrics"
	"mindpulse/models"
)

// InsightGenerator produces a short free-text reading of a post. On any
// failure it returns a placeholder starting with models.InsightUnavailablePrefix.
type InsightGenerator interface {
	Generate(ctx context.Context, text string) string
}

// Unavailable builds the placeholder returned instead of an insight.
func Unavailable(reason string) string {
	return models.InsightUnavailablePrefix + " - " + reason
}

var harmCategories = []string{
	"HARM_CATEGORY_DANGEROUS_CONTENT",
	"HARM_CATEGORY_HATE_SPEECH",
	"HARM_CATEGORY_SEXUALLY_EXPLICIT",
	"HARM_CATEGORY_HARASSMENT",
	"HARM_CATEGORY_CIVIC_INTEGRITY",
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Parts []part `json:"parts"`
}

type safetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	SafetySettings   []safetySetting  `json:"safetySettings"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

// insightError carries the short reason shown in the placeholder.
type insightError struct {
	reason string
	cause  error
}

func (e *insightError) Error() string {
	if e.cause == nil {
		return e.reason
	}
	return e.reason + ": " + e.cause.Error()
}

func (e *insightError) Unwrap() error { return models.ErrAnnotation }

func failure(reason string, cause error) error {
	return &insightError{reason: reason, cause: cause}
}

// GeminiGenerator calls the Gemini generateContent endpoint, throttled by a
// token bucket and guarded by a circuit breaker.
type GeminiGenerator struct {
	cfg     models.InsightConfig
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewGeminiGenerator creates a generator. Without an API key every call
// returns a placeholder.
func NewGeminiGenerator(cfg models.InsightConfig, logger *zap.Logger, m *metrics.Metrics) *GeminiGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("insight")
	if !cfg.APIKey.IsSet() {
		logger.Warn("Gemini API key not configured, insights will be unavailable")
	}

	failures := uint32(cfg.GetBreakerFailures())
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "gemini",
		Timeout: time.Duration(cfg.GetBreakerCooldown()) * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &GeminiGenerator{
		cfg:     cfg,
		client:  &http.Client{Timeout: time.Duration(cfg.GetTimeout()) * time.Second},
		limiter: rate.NewLimiter(rate.Limit(cfg.GetRequestsPerSecond()), 1),
		breaker: breaker,
		logger:  logger,
		metrics: m,
	}
}

// Generate implements InsightGenerator.
func (g *GeminiGenerator) Generate(ctx context.Context, text string) string {
	if !g.cfg.APIKey.IsSet() {
		return Unavailable("API key not configured")
	}
	if strings.TrimSpace(text) == "" {
		return Unavailable("Empty content")
	}

	out, err := g.generate(ctx, text)
	if err != nil {
		g.metrics.AnnotationFailure("insight")
		g.logger.Error("insight generation failed", zap.Error(err))
		return Unavailable(reasonFor(err))
	}
	return out
}

func (g *GeminiGenerator) generate(ctx context.Context, text string) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", failure("Request cancelled", err)
	}
	res, err := g.breaker.Execute(func() (interface{}, error) {
		return g.call(ctx, text)
	})
	if err != nil {
		return "", err
	}
	return res.(string), nil
}

func (g *GeminiGenerator) call(ctx context.Context, text string) (string, error) {
	prompt := g.cfg.GetPrompt() + "\n\nPost content: " + truncate(text, g.cfg.GetMaxChars())

	reqBody := generateRequest{
		Contents: []content{{Parts: []part{{Text: prompt}}}},
		GenerationConfig: generationConfig{
			Temperature:     g.cfg.GetTemperature(),
			MaxOutputTokens: g.cfg.GetMaxOutputTokens(),
		},
	}
	for _, c := range harmCategories {
		reqBody.SafetySettings = append(reqBody.SafetySettings, safetySetting{Category: c, Threshold: "BLOCK_NONE"})
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", failure("Could not encode request", err)
	}

	endpoint := fmt.Sprintf("%s/%s:generateContent?key=%s", g.cfg.GetAPIBase(), g.cfg.GetModel(), url.QueryEscape(g.cfg.APIKey.Value()))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", failure("Could not create request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	g.logger.Debug("sending insight request", zap.Int("chars", len(text)))
	resp, err := g.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return "", failure("API request timed out", nil)
		}
		return "", failure("Could not connect to API", nil)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", failure("Could not read response", err)
	}
	if resp.StatusCode != http.StatusOK {
		g.logger.Debug("insight API error body", zap.Int("status", resp.StatusCode), zap.ByteString("body", body))
		return "", failure(fmt.Sprintf("API returned status %d", resp.StatusCode), nil)
	}

	var parsed generateResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", failure("Invalid response format", err)
	}
	if len(parsed.Candidates) == 0 {
		return "", failure("No response from API", nil)
	}
	parts := parsed.Candidates[0].Content.Parts
	if len(parts) == 0 {
		return "", failure("Malformed API response", nil)
	}
	if parts[0].Text == "" {
		return "", failure("Empty response from API", nil)
	}
	return parts[0].Text, nil
}

func reasonFor(err error) string {
	var ie *insightError
	switch {
	case errors.As(err, &ie):
		return ie.reason
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "Service temporarily disabled after repeated failures"
	default:
		return err.Error()
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
