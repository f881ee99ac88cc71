package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kiranshivaraju/escrowhub/internal/api"
	"github.com/kiranshivaraju/escrowhub/internal/config"
	"github.com/kiranshivaraju/escrowhub/internal/escrow"
	"github.com/kiranshivaraju/escrowhub/internal/metrics"
	"github.com/kiranshivaraju/escrowhub/internal/rail"
	"github.com/kiranshivaraju/escrowhub/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ─── mock dependencies ───────────────────────────────────────────────────────

type fakePinger struct {
	pingErr error
}

func (p *fakePinger) Ping(_ context.Context) error { return p.pingErr }

func serveHealth(t *testing.T, h http.HandlerFunc) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	w := httptest.NewRecorder()
	h(w, req)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w, body
}

// ─── health handler tests ───────────────────────────────────────────────────

func TestHealthHandler_AllOK(t *testing.T) {
	w, body := serveHealth(t, healthHandler(&fakePinger{}, &fakePinger{}, &fakePinger{}))

	assert.Equal(t, http.StatusOK, w.Code)
	data := body["data"].(map[string]any)
	assert.Equal(t, "ok", data["status"])
	services := data["services"].(map[string]any)
	assert.Equal(t, "ok", services["database"])
	assert.Equal(t, "ok", services["cache"])
	assert.Equal(t, "ok", services["rail"])
}

func TestHealthHandler_CacheDisabled(t *testing.T) {
	w, body := serveHealth(t, healthHandler(&fakePinger{}, nil, &fakePinger{}))

	assert.Equal(t, http.StatusOK, w.Code)
	services := body["data"].(map[string]any)["services"].(map[string]any)
	assert.Equal(t, "disabled", services["cache"])
}

func TestHealthHandler_Degraded(t *testing.T) {
	down := &fakePinger{pingErr: errors.New("connection refused")}
	up := &fakePinger{}

	cases := []struct {
		name           string
		db, cache, rl  pinger
		degradedChecks []string
	}{
		{"database", down, up, up, []string{"database"}},
		{"cache", up, down, up, []string{"cache"}},
		{"rail", up, up, down, []string{"rail"}},
		{"all", down, down, down, []string{"database", "cache", "rail"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, body := serveHealth(t, healthHandler(tc.db, tc.cache, tc.rl))

			assert.Equal(t, http.StatusServiceUnavailable, w.Code)
			errObj := body["error"].(map[string]any)
			assert.Equal(t, "DEGRADED", errObj["code"])
			details := errObj["details"].(map[string]any)
			for _, name := range tc.degradedChecks {
				assert.Equal(t, "degraded", details[name])
			}
		})
	}
}

// ─── wiring tests ───────────────────────────────────────────────────────────

func TestNewRail_FakeMode(t *testing.T) {
	cfg := &config.Config{Rail: config.RailConfig{Mode: config.RailModeFake}}

	r, closeRail, err := newRail(context.Background(), cfg)
	require.NoError(t, err)
	defer closeRail()

	assert.IsType(t, &rail.FakeRail{}, r)
	assert.NoError(t, r.Ping(context.Background()))
}

func TestNewRail_EthModeRejectsBadKey(t *testing.T) {
	cfg := &config.Config{Rail: config.RailConfig{
		Mode:            config.RailModeEth,
		RPCURL:          "http://127.0.0.1:1",
		PrivateKey:      "not-hex",
		ContractAddress: "0x0000000000000000000000000000000000000001",
	}}

	_, _, err := newRail(context.Background(), cfg)
	assert.Error(t, err)
}

func newTestDependencies(webhookSecret string) http.Handler {
	cfg := &config.Config{
		Auth: config.AuthConfig{RateLimitPerMinute: 60},
		Rail: config.RailConfig{WebhookSecret: webhookSecret},
	}
	st := store.NewMemoryStore()
	fr := rail.NewFakeRail()
	svc := escrow.NewService(st, "arbitrator")
	dispatcher := rail.NewDispatcher(st, fr, rail.DispatcherConfig{})

	return api.NewRouter(newDependencies(cfg, st, nil, svc, dispatcher, fr, metrics.New()))
}

func TestNewDependencies_WebhookOnlyWithSecret(t *testing.T) {
	path := "/api/v1/payments/6f1c3d1e-8a4b-4f3e-9a51-1d2c3b4a5f60/confirm"

	w := httptest.NewRecorder()
	newTestDependencies("").ServeHTTP(w, httptest.NewRequest("POST", path, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	newTestDependencies("whsec").ServeHTTP(w, httptest.NewRequest("POST", path, nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestNewDependencies_PublicEndpoints(t *testing.T) {
	router := newTestDependencies("")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "escrowhub_http_requests_total")

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/jobs", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

// ─── run() config validation tests ──────────────────────────────────────────

func TestRun_FailsOnMissingConfig(t *testing.T) {
	// Clear all env vars that config.Load() requires
	for _, key := range []string{"DATABASE_URL", "ESCROW_ARBITRATOR_ID", "REDIS_URL"} {
		t.Setenv(key, "")
	}

	err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

func TestRun_FailsOnInvalidDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "not-a-valid-url")
	t.Setenv("ESCROW_ARBITRATOR_ID", "arbitrator")
	t.Setenv("REDIS_URL", "")
	t.Setenv("RAIL_MODE", "fake")

	err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect database")
}

// ─── shutdown timeout constant test ─────────────────────────────────────────

func TestShutdownTimeout(t *testing.T) {
	assert.Equal(t, 30*time.Second, shutdownTimeout)
}
