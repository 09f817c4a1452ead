package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mindpulse/aggregate"
	"mindpulse/annotate"
	"mindpulse/metrics"
	"mindpulse/models"
	"mindpulse/pipeline"
	"mindpulse/store"
)

type fakeService struct {
	lastQuery models.Query
	lastClean store.Fingerprint
	runErr    error
	dashErr   error
}

func (f *fakeService) Run(_ context.Context, q models.Query) (*pipeline.Result, error) {
	f.lastQuery = q
	if f.runErr != nil {
		return nil, f.runErr
	}
	posts := []models.Post{{Title: "My anxiety is bad", SentimentLabel: models.SentimentNegative}}
	return &pipeline.Result{
		QueryID:     "qid",
		Fingerprint: store.KeyForQuery(q),
		Count:       1,
		Preview:     posts,
		Posts:       posts,
		Summary:     aggregate.Summarize(posts, 0),
	}, nil
}

func (f *fakeService) Analyze(_ context.Context, text string) (*pipeline.Analysis, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: no text provided", models.ErrValidation)
	}
	return &pipeline.Analysis{Sentiment: annotate.Neutral(), Insight: "ok"}, nil
}

func (f *fakeService) Clean(_ context.Context, fp store.Fingerprint) (int, error) {
	f.lastClean = fp
	return 4, nil
}

func (f *fakeService) Dashboard(context.Context) (*pipeline.Dashboard, error) {
	d := &pipeline.Dashboard{Posts: []models.Post{}, Summary: aggregate.Summarize(nil, aggregate.DashboardTopN)}
	return d, f.dashErr
}

func newTestServer(t *testing.T, svc Service) *Server {
	t.Helper()
	return New(svc, nil, prometheus.NewRegistry(), models.ServerConfig{Host: "127.0.0.1", Port: 0}, nil)
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	rec := do(t, newTestServer(t, &fakeService{}), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])
}

func TestScrape(t *testing.T) {
	svc := &fakeService{}
	s := newTestServer(t, svc)

	rec := do(t, s, http.MethodPost, "/scrape", `{"keywords":"anxiety, Therapy ,","limit":5}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode(t, rec)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, float64(1), body["count"])
	assert.Equal(t, "qid", body["query_id"])
	assert.Len(t, body["preview"], 1)
	assert.Equal(t, map[string]any{"positive": 0.0, "negative": 1.0, "neutral": 0.0}, body["sentiment_counts"])
	assert.Equal(t, []string{"anxiety", "therapy"}, svc.lastQuery.Keywords)
	assert.Equal(t, 5, svc.lastQuery.Limit)

	do(t, s, http.MethodPost, "/scrape", `{"keywords":"grief"}`)
	assert.Equal(t, models.DefaultLimit, svc.lastQuery.Limit)
}

func TestScrape_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		runErr error
		want   int
	}{
		{"empty keywords", `{"keywords":" , "}`, nil, http.StatusBadRequest},
		{"zero limit", `{"keywords":"anxiety","limit":0}`, nil, http.StatusBadRequest},
		{"malformed body", `{"keywords":`, nil, http.StatusBadRequest},
		{"fetch failure", `{"keywords":"anxiety"}`, fmt.Errorf("%w: r/anxiety: status 503", models.ErrFetch), http.StatusBadGateway},
		{"unexpected", `{"keywords":"anxiety"}`, errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, newTestServer(t, &fakeService{runErr: tt.runErr}), http.MethodPost, "/scrape", tt.body)
			assert.Equal(t, tt.want, rec.Code)
			assert.Equal(t, "error", decode(t, rec)["status"])
		})
	}
}

func TestAnalyze(t *testing.T) {
	s := newTestServer(t, &fakeService{})

	rec := do(t, s, http.MethodPost, "/analyze", `{"text":"hello"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "ok", body["insight"])
	assert.Equal(t, map[string]any{"label": "NEUTRAL", "score": 0.5}, body["sentiment"])

	rec = do(t, s, http.MethodPost, "/analyze", `{"text":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCleanCache(t *testing.T) {
	svc := &fakeService{}
	s := newTestServer(t, svc)

	rec := do(t, s, http.MethodPost, "/clean-cache", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(4), decode(t, rec)["removed"])
	assert.Empty(t, svc.lastClean)

	fp := store.KeyFor([]string{"anxiety"}, 10)
	rec = do(t, s, http.MethodPost, "/clean-cache", `{"cache_key":"`+string(fp)+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, fp, svc.lastClean)

	rec = do(t, s, http.MethodPost, "/clean-cache", `{"cache_key":"../../etc"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDashboard(t *testing.T) {
	rec := do(t, newTestServer(t, &fakeService{}), http.MethodGet, "/dashboard", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, []any{}, body["results"])

	rec = do(t, newTestServer(t, &fakeService{dashErr: errors.New("corrupt snapshot")}), http.MethodGet, "/dashboard", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "corrupt snapshot", decode(t, rec)["error"])
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.CacheHit()

	s := New(&fakeService{}, nil, reg, models.ServerConfig{}, nil)
	rec := do(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "mindpulse_cache_hits_total 1")
}

func TestWebSocketReceivesEvents(t *testing.T) {
	hub := NewHub(nil)
	s := New(&fakeService{}, hub, prometheus.NewRegistry(), models.ServerConfig{}, nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Len() == 1 }, time.Second, 10*time.Millisecond)

	hub.Publish(pipeline.Event{Type: pipeline.EventCacheCleaned, Time: time.Now(), Data: map[string]any{"removed": 2}})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got pipeline.Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, pipeline.EventCacheCleaned, got.Type)
	assert.Equal(t, float64(2), got.Data["removed"])

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.Len() == 0 }, time.Second, 10*time.Millisecond)
}
