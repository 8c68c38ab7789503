package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/clicker-leaderboard/internal/config"
	"github.com/clicker-leaderboard/internal/domain"
	"github.com/clicker-leaderboard/internal/presence"
	"github.com/clicker-leaderboard/internal/ratelimit"
	leaderboardredis "github.com/clicker-leaderboard/internal/redis"
	"github.com/clicker-leaderboard/internal/service"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

type testServer struct {
	router http.Handler
	clock  *testClock
	redis  *miniredis.Miniredis
}

func newService(store service.Store, clock *testClock, logger *slog.Logger) *service.LeaderboardService {
	svc := service.NewLeaderboardService(
		store,
		presence.NewTracker(60*time.Second),
		ratelimit.New(10*time.Second, 15*time.Second),
		&config.LeaderboardConfig{DefaultLimit: 50, MaxLimit: 100, StorageTimeout: time.Second},
		logger,
	)
	svc.SetClock(clock.Now)
	return svc
}

func setup(t *testing.T) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clock := &testClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	svc := newService(leaderboardredis.NewStoreFromClient(client, logger), clock, logger)
	return &testServer{
		router: NewHandler(svc, nil, logger).Router(),
		clock:  clock,
		redis:  mr,
	}
}

func setupDegraded(t *testing.T) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := &testClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	svc := newService(nil, clock, logger)
	return &testServer{router: NewHandler(svc, nil, logger).Router(), clock: clock}
}

func (s *testServer) do(method, path, body, origin string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if origin != "" {
		req.Header.Set("X-Forwarded-For", origin)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestSubmitScore_UsernameValidation(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected int
	}{
		{"mixed case accepted", `{"username":"Alice_01","best_score":10}`, http.StatusOK},
		{"punctuation rejected", `{"username":"ab!","best_score":10}`, http.StatusBadRequest},
		{"too long rejected", `{"username":"` + strings.Repeat("a", 21) + `","best_score":10}`, http.StatusBadRequest},
		{"missing username", `{"best_score":10}`, http.StatusBadRequest},
		{"not json", `garbage`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := setup(t)
			rec := srv.do(http.MethodPost, "/api/leaderboard", tt.body, "")
			assert.Equal(t, tt.expected, rec.Code, rec.Body.String())
		})
	}
}

func TestSubmitScore_StoresNormalizedIdentity(t *testing.T) {
	srv := setup(t)

	rec := srv.do(http.MethodPost, "/api/leaderboard",
		`{"username":"Alice_01","best_score":250,"total_earned":900,"prestiges":1,"clicks":40,"play_time":12}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())

	rec = srv.do(http.MethodGet, "/api/leaderboard/alice_01", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var player domain.RankedRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &player))
	assert.Equal(t, "alice_01", player.Username)
	assert.Equal(t, int64(250), player.BestScore)
	assert.Equal(t, int64(900), player.TotalEarned)
	assert.Equal(t, int64(1), player.Rank)
}

func TestSubmitScore_RateLimit(t *testing.T) {
	srv := setup(t)

	rec := srv.do(http.MethodPost, "/api/leaderboard", `{"username":"carol","best_score":1}`, "203.0.113.7")
	require.Equal(t, http.StatusOK, rec.Code)

	srv.clock.now = srv.clock.now.Add(5 * time.Second)
	rec = srv.do(http.MethodPost, "/api/leaderboard", `{"username":"carol","best_score":2}`, "203.0.113.7")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, domain.ErrRateLimited.Error(), decodeError(t, rec))

	rec = srv.do(http.MethodPost, "/api/leaderboard", `{"username":"ab!"}`, "203.0.113.7")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code, "rate limit is checked before the username")

	srv.clock.now = srv.clock.now.Add(5 * time.Second)
	rec = srv.do(http.MethodPost, "/api/leaderboard", `{"username":"carol","best_score":2}`, "203.0.113.7")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSubmitScore_StorageFailure(t *testing.T) {
	srv := setup(t)
	srv.redis.SetError("ERR storage offline")

	rec := srv.do(http.MethodPost, "/api/leaderboard", `{"username":"dave","best_score":5}`, "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, domain.ErrInternalError.Error(), decodeError(t, rec))
}

func TestGetTop(t *testing.T) {
	srv := setup(t)

	for i, name := range []string{"low", "high", "mid"} {
		body := `{"username":"` + name + `","best_score":` + []string{"10", "300", "150"}[i] + `}`
		srv.clock.now = srv.clock.now.Add(11 * time.Second)
		require.Equal(t, http.StatusOK, srv.do(http.MethodPost, "/api/leaderboard", body, "").Code)
	}

	rec := srv.do(http.MethodGet, "/api/leaderboard?limit=2", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var records []domain.PlayerRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	require.Len(t, records, 2)
	assert.Equal(t, "high", records[0].Username)
	assert.Equal(t, "mid", records[1].Username)

	rec = srv.do(http.MethodGet, "/api/leaderboard?limit=abc", "", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	assert.Len(t, records, 3)

	rec = srv.do(http.MethodGet, "/api/leaderboard?limit=0", "", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	assert.Len(t, records, 1)
}

func TestGetPlayer_Unknown(t *testing.T) {
	srv := setup(t)

	for _, path := range []string{"/api/leaderboard/nobody", "/api/leaderboard/bad!name"} {
		rec := srv.do(http.MethodGet, path, "", "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "null", strings.TrimSpace(rec.Body.String()))
	}
}

func TestDeletePlayer(t *testing.T) {
	srv := setup(t)

	require.Equal(t, http.StatusOK, srv.do(http.MethodPost, "/api/leaderboard", `{"username":"erin","best_score":7}`, "").Code)

	rec := srv.do(http.MethodDelete, "/api/leaderboard/erin", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())

	rec = srv.do(http.MethodGet, "/api/leaderboard/erin", "", "")
	assert.Equal(t, "null", strings.TrimSpace(rec.Body.String()))

	rec = srv.do(http.MethodDelete, "/api/leaderboard/erin", "", "")
	assert.Equal(t, http.StatusOK, rec.Code, "delete is idempotent")
}

func TestPresence(t *testing.T) {
	srv := setup(t)

	rec := srv.do(http.MethodPost, "/api/ping", `{"username":"bob"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"online":1}`, rec.Body.String())

	rec = srv.do(http.MethodGet, "/api/online", "", "")
	assert.JSONEq(t, `{"online":1}`, rec.Body.String())

	srv.clock.now = srv.clock.now.Add(61 * time.Second)
	rec = srv.do(http.MethodGet, "/api/online", "", "")
	assert.JSONEq(t, `{"online":0}`, rec.Body.String())

	rec = srv.do(http.MethodPost, "/api/ping", `not json`, "")
	assert.Equal(t, http.StatusOK, rec.Code, "ping never fails")
	assert.JSONEq(t, `{"online":0}`, rec.Body.String())
}

func TestDegradedMode(t *testing.T) {
	srv := setupDegraded(t)

	rec := srv.do(http.MethodGet, "/api/leaderboard", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = srv.do(http.MethodGet, "/api/leaderboard/bob", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "null", strings.TrimSpace(rec.Body.String()))

	for i := 0; i < 2; i++ {
		rec = srv.do(http.MethodPost, "/api/leaderboard", `{"username":"ab!"}`, "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	}

	rec = srv.do(http.MethodDelete, "/api/leaderboard/bob", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = srv.do(http.MethodPost, "/api/ping", `{"username":"bob"}`, "")
	assert.JSONEq(t, `{"online":1}`, rec.Body.String(), "presence works without storage")

	rec = srv.do(http.MethodGet, "/ready", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = srv.do(http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReady(t *testing.T) {
	srv := setup(t)
	rec := srv.do(http.MethodGet, "/ready", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ready","storage":"up"}`, rec.Body.String())
}

func TestOriginKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "192.0.2.10:51234"
	assert.Equal(t, "192.0.2.10", originKey(req))

	req.RemoteAddr = "192.0.2.11"
	assert.Equal(t, "192.0.2.11", originKey(req))
}
