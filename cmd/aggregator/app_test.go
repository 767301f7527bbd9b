package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aggregator/internal/api"
	"aggregator/internal/config"
	"aggregator/internal/constants"
	"aggregator/internal/logger"
)

func testConfig() *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{Port: 0},
		Database: config.DatabaseConfig{Driver: constants.DriverMemory},
		Processor: config.ProcessorConfig{
			BatchSize:        10,
			FirstItemTimeout: 50 * time.Millisecond,
			NextItemTimeout:  10 * time.Millisecond,
			FlushTimeout:     2 * time.Second,
		},
		Ingest: config.IngestConfig{
			FilterExpression: `topic != "blocked"`,
		},
		Logging: config.LoggingConfig{Level: "error", Format: "json"},
	}
}

func post(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/publish", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func getStats(t *testing.T, h http.Handler) api.StatsResponse {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var stats api.StatsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	return stats
}

func TestApp_EndToEnd(t *testing.T) {
	app := NewApp(testConfig(), logger.NopLogger())
	require.NoError(t, app.Initialize(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- app.Run(ctx) }()

	h := app.server.Handler
	require.Eventually(t, func() bool {
		return app.processor.Running()
	}, time.Second, 10*time.Millisecond)

	w := post(t, h, `[
		{"topic":"orders","event_id":"1","timestamp":"2024-01-01T00:00:00Z","source":"svc","payload":{"n":1}},
		{"topic":"orders","event_id":"1","timestamp":"2024-01-01T00:00:00Z","source":"svc","payload":{"n":1}},
		{"topic":"users","event_id":"1","timestamp":"2024-01-01T00:00:00Z","source":"svc","payload":{}}
	]`)
	require.Equal(t, http.StatusAccepted, w.Code)

	w = post(t, h, `{"topic":"blocked","event_id":"9","timestamp":"2024-01-01T00:00:00Z","source":"svc","payload":{}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	cancel()
	select {
	case err := <-runErr:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	require.NoError(t, app.Shutdown(context.Background()))

	stats := getStats(t, h)
	assert.Equal(t, int64(3), stats.Received)
	assert.Equal(t, int64(2), stats.UniqueProcessed)
	assert.Equal(t, int64(1), stats.DuplicateDropped)
	assert.ElementsMatch(t, []string{"orders", "users"}, stats.Topics)
	assert.Zero(t, stats.QueueSize)
}

func TestApp_InitializeRejectsBadFilter(t *testing.T) {
	cfg := testConfig()
	cfg.Ingest.FilterExpression = `topic +`

	app := NewApp(cfg, logger.NopLogger())
	assert.Error(t, app.Initialize(context.Background()))
}

func TestApp_RateLimitAppliesToPublishOnly(t *testing.T) {
	cfg := testConfig()
	cfg.Ingest.RateLimit = config.RateLimitConfig{Enabled: true, RPS: 0.001, Burst: 1}

	app := NewApp(cfg, logger.NopLogger())
	require.NoError(t, app.Initialize(context.Background()))
	h := app.server.Handler

	body := `{"topic":"orders","event_id":"1","timestamp":"2024-01-01T00:00:00Z","source":"svc","payload":{}}`
	require.Equal(t, http.StatusAccepted, post(t, h, body).Code)

	w := post(t, h, body)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	for i := 0; i < 5; i++ {
		for _, path := range []string{"/stats", "/events"} {
			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
			assert.Equal(t, http.StatusOK, w.Code, path)
		}
	}

	require.NoError(t, app.Shutdown(context.Background()))
}
