package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Poornadinethyapa/predictionm/internal/domain"
	"github.com/Poornadinethyapa/predictionm/internal/server"
	"github.com/Poornadinethyapa/predictionm/internal/server/handler"
	"github.com/Poornadinethyapa/predictionm/internal/service"
	"github.com/Poornadinethyapa/predictionm/internal/snapshot"
	"github.com/Poornadinethyapa/predictionm/internal/store/sqlite"
	"github.com/Poornadinethyapa/predictionm/internal/txn"
)

const wallet = "0xA11cE00000000000000000000000000000000001"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeContract struct {
	markets []domain.Market
}

func (f *fakeContract) MarketCount(context.Context) (uint64, error) {
	return uint64(len(f.markets)), nil
}

func (f *fakeContract) GetMarket(_ context.Context, id uint64) (domain.Market, error) {
	return f.markets[id], nil
}

func (f *fakeContract) UserStakeIn(context.Context, uint64, string, int) (*big.Int, error) {
	return new(big.Int), nil
}

type fakeSubmitter struct {
	calls atomic.Int32
}

func (s *fakeSubmitter) Submit(_ context.Context, call domain.ContractCall) (string, error) {
	s.calls.Add(1)
	return "0xfeed", nil
}

func (s *fakeSubmitter) Wait(_ context.Context, hash string) (domain.TxReceipt, error) {
	return domain.TxReceipt{Hash: hash, BlockNumber: 7, Success: true}, nil
}

func (s *fakeSubmitter) Address() string { return wallet }

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) { return false, nil }
func (denyLimiter) Wait(context.Context, string) error                              { return nil }

type env struct {
	srv       *httptest.Server
	submitter *fakeSubmitter
}

func newEnv(t *testing.T, cfg server.Config, limiter domain.RateLimiter, checks map[string]handler.HealthCheck) *env {
	t.Helper()
	logger := discardLogger()

	store, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	contract := &fakeContract{markets: []domain.Market{{
		ID:            0,
		Owner:         "0xB0b0000000000000000000000000000000000002",
		Question:      "Will it rain?",
		Outcomes:      []string{"Yes", "No"},
		Deadline:      time.Now().Add(24 * time.Hour),
		OutcomeStakes: []*big.Int{new(big.Int), new(big.Int)},
		TotalStaked:   new(big.Int),
	}}}
	refresher := snapshot.NewRefresher(snapshot.NewReader(contract, 1, logger), logger)
	svc := service.NewMarketService(refresher, nil, store, nil, nil, logger)

	sub := &fakeSubmitter{}
	orch := txn.NewOrchestrator(sub, txn.Options{
		Store:       store,
		Markets:     refresher,
		OnConfirmed: svc.RefreshWallet,
	}, logger)
	t.Cleanup(func() { _ = orch.Drain(context.Background()) })

	h := server.Routes(cfg, server.Handlers{
		Health:    handler.NewHealthHandler(checks, logger),
		Markets:   handler.NewMarketHandler(svc, logger),
		Tx:        handler.NewTxHandler(orch, svc, store, logger),
		Bookmarks: handler.NewBookmarkHandler(svc, logger),
		Archive:   handler.NewArchiveHandler(svc, logger),
	}, nil, limiter, logger)

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &env{srv: srv, submitter: sub}
}

func (e *env) do(t *testing.T, method, path, body string, hdr ...string) (*http.Response, map[string]any) {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rdr)
	require.NoError(t, err)
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(data) > 0 {
		require.NoError(t, json.Unmarshal(data, &out), string(data))
	}
	return resp, out
}

func TestHealth(t *testing.T) {
	e := newEnv(t, server.Config{APIKey: "secret"}, nil, map[string]handler.HealthCheck{
		"redis": func(context.Context) error { return nil },
	})
	resp, body := e.do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode, "health is open even with auth enabled")
	assert.Equal(t, "ok", body["status"])

	e = newEnv(t, server.Config{}, nil, map[string]handler.HealthCheck{
		"postgres": func(context.Context) error { return errors.New("down") },
	})
	resp, body = e.do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "degraded", body["status"])
}

func TestAuth(t *testing.T) {
	e := newEnv(t, server.Config{APIKey: "secret"}, nil, nil)

	resp, _ := e.do(t, http.MethodGet, "/api/markets", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = e.do(t, http.MethodGet, "/api/markets", "", "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = e.do(t, http.MethodGet, "/api/markets", "", "Authorization", "Bearer secret")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = e.do(t, http.MethodGet, "/api/markets", "", "X-API-Key", "secret")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMarketsEndpoints(t *testing.T) {
	e := newEnv(t, server.Config{}, nil, nil)

	resp, body := e.do(t, http.MethodGet, "/api/markets?status=active&sort=deadline&q=RAIN", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["count"])
	markets := body["markets"].([]any)
	first := markets[0].(map[string]any)
	assert.Equal(t, "active", first["status"])
	assert.Equal(t, []any{"50.0", "50.0"}, first["probabilities"])

	resp, body = e.do(t, http.MethodGet, "/api/markets?status=bogus", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "bogus")

	resp, _ = e.do(t, http.MethodGet, "/api/markets/0", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = e.do(t, http.MethodGet, "/api/markets/9", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = e.do(t, http.MethodGet, "/api/markets/abc", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = e.do(t, http.MethodGet, "/api/stats", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	for _, path := range []string{
		"/api/stats?viewer=garbage",
		"/api/markets?viewer=hello",
		"/api/markets/0?viewer=0x123",
		"/api/bookmarks?viewer=nobody",
	} {
		resp, body = e.do(t, http.MethodGet, path, "")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, path)
		assert.Contains(t, body["error"], "not an address", path)
	}
	resp, body = e.do(t, http.MethodGet, "/api/stats?viewer="+wallet, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "0.0", body["win_rate"])

	resp, body = e.do(t, http.MethodGet, "/api/markets/resolvable?viewer="+wallet, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 0, body["count"])

	resp, body = e.do(t, http.MethodPost, "/api/refresh", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["markets"])
}

func TestBookmarksEndpoints(t *testing.T) {
	e := newEnv(t, server.Config{}, nil, nil)

	resp, _ := e.do(t, http.MethodPut, "/api/bookmarks/0?viewer="+wallet, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = e.do(t, http.MethodPut, "/api/bookmarks/5?viewer="+wallet, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = e.do(t, http.MethodPut, "/api/bookmarks/0", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := e.do(t, http.MethodGet, "/api/bookmarks?viewer="+wallet, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []any{float64(0)}, body["market_ids"])

	resp, body = e.do(t, http.MethodGet, "/api/markets?bookmarked=true&viewer="+wallet, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["count"])

	resp, _ = e.do(t, http.MethodDelete, "/api/bookmarks/0?viewer="+wallet, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	_, body = e.do(t, http.MethodGet, "/api/bookmarks?viewer="+wallet, "")
	assert.Equal(t, []any{}, body["market_ids"])
}

func TestTxEndpoints(t *testing.T) {
	e := newEnv(t, server.Config{}, nil, nil)

	// Install the wallet's snapshot so bets are checked against it.
	resp, _ := e.do(t, http.MethodPost, "/api/refresh?viewer="+wallet, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := e.do(t, http.MethodPost, "/api/markets/0/bets?wait=true", `{"outcome":0,"amount":"0.5"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "confirmed", body["state"])
	assert.Equal(t, "0xfeed", body["hash"])
	assert.EqualValues(t, 0, body["market_id"])
	id := body["id"].(string)

	resp, body = e.do(t, http.MethodGet, "/api/tx/"+id, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "place_bet", body["action"])

	resp, body = e.do(t, http.MethodGet, "/api/tx", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["transactions"], 1)

	resp, _ = e.do(t, http.MethodGet, "/api/tx/does-not-exist", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTxValidationMakesNoCall(t *testing.T) {
	e := newEnv(t, server.Config{}, nil, nil)

	cases := []struct {
		path, body string
	}{
		{"/api/markets", `{"question":"Q?","outcomes":["only"],"deadline":"2099-01-01T00:00:00Z"}`},
		{"/api/markets", `{"question":"  ","outcomes":["a","b"],"deadline":"2099-01-01T00:00:00Z"}`},
		{"/api/markets", `{"question":"Q?","outcomes":["a","b"],"deadline":"2001-01-01T00:00:00Z"}`},
		{"/api/markets", `not json`},
		{"/api/markets/0/bets", `{"outcome":0,"amount":"0"}`},
		{"/api/markets/0/bets", `{"outcome":0,"amount":"-1"}`},
		{"/api/markets/x/bets", `{"outcome":0,"amount":"1"}`},
	}
	for _, tc := range cases {
		resp, body := e.do(t, http.MethodPost, tc.path, tc.body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "%s %s: %v", tc.path, tc.body, body)
	}
	assert.Zero(t, e.submitter.calls.Load())
}

func TestClaimAllWithNothingClaimable(t *testing.T) {
	e := newEnv(t, server.Config{}, nil, nil)
	resp, body := e.do(t, http.MethodPost, "/api/claims", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 0, body["attempted"])
	assert.EqualValues(t, 0, body["succeeded"])
}

func TestArchiveNotConfigured(t *testing.T) {
	e := newEnv(t, server.Config{}, nil, nil)
	resp, _ := e.do(t, http.MethodGet, "/api/archive", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	resp, _ = e.do(t, http.MethodGet, "/api/archive?day=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRateLimit(t *testing.T) {
	e := newEnv(t, server.Config{RateLimit: 10}, denyLimiter{}, nil)
	resp, body := e.do(t, http.MethodGet, "/api/markets", "")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, domain.ErrRateLimited.Error(), body["error"])
	assert.Equal(t, "60", resp.Header.Get("Retry-After"))
}

func TestCORSPreflight(t *testing.T) {
	e := newEnv(t, server.Config{CORSOrigins: []string{"https://app.example"}, APIKey: "secret"}, nil, nil)

	resp, _ := e.do(t, http.MethodOptions, "/api/markets", "", "Origin", "https://app.example")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://app.example", resp.Header.Get("Access-Control-Allow-Origin"))

	resp, _ = e.do(t, http.MethodOptions, "/api/markets", "", "Origin", "https://evil.example")
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}
