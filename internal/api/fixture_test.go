package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"kostbook/internal/config"
	"kostbook/internal/database"
	"kostbook/internal/models"
	"kostbook/internal/service"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const (
	testSecret = "test-secret"
	ownerID    = int64(900)
	kostID     = int64(1)
	roomR      = int64(10)
	roomS      = int64(11)
)

var day = time.Date(2030, 5, 10, 0, 0, 0, 0, time.UTC)

func at(hour, minute int) time.Time {
	return day.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func newTestEngine(t *testing.T) (*service.Engine, *testClock) {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.SyncKosts(context.Background(), []models.Kost{{
		ID:               kostID,
		OwnerID:          ownerID,
		Name:             "Kost Melati",
		City:             "Bandung",
		PricePerHour:     15000,
		MinDurationHours: 2,
		IsActive:         true,
		Rooms: []models.Room{
			{ID: roomR, Number: "101", Type: "standard"},
			{ID: roomS, Number: "102", Type: "deluxe"},
		},
	}}))

	engine := service.NewEngine(config.BookingConfig{
		GraceMinutes:     15,
		MaxDurationHours: 24,
		MaxAdvanceDays:   30,
		MaxRetries:       3,
		LockTimeout:      time.Second,
	}, service.Deps{Repo: db, Logger: &logger})

	clk := &testClock{t: at(8, 0)}
	engine.SetClock(clk.Now)
	return engine, clk
}

type apiFixture struct {
	engine *service.Engine
	clock  *testClock
	auth   *SessionAuth
	ts     *httptest.Server
}

func newHTTPFixture(t *testing.T, mutate func(*config.APIConfig)) *apiFixture {
	t.Helper()
	engine, clk := newTestEngine(t)

	cfg := config.APIConfig{
		Enabled: true,
		HTTP:    config.APIHTTPConfig{Enabled: true},
		JWT:     config.JWTConfig{Secret: testSecret, Issuer: "kostbook"},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	logger := zerolog.New(io.Discard)
	srv := NewHTTPServer(&cfg, engine, nil, func(context.Context) error { return nil }, &logger)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &apiFixture{engine: engine, clock: clk, auth: NewSessionAuth(cfg.JWT), ts: ts}
}

func (f *apiFixture) token(t *testing.T, s models.Session) string {
	t.Helper()
	tok, err := f.auth.IssueToken(s, time.Hour)
	require.NoError(t, err)
	return tok
}

func (f *apiFixture) do(t *testing.T, s *models.Session, method, path string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, f.ts.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s != nil {
		req.Header.Set("Authorization", "Bearer "+f.token(t, *s))
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func renterSession(id int64) *models.Session {
	return &models.Session{UserID: id, Role: models.RoleRenter}
}

func ownerSession() *models.Session {
	return &models.Session{UserID: ownerID, Role: models.RoleOwner}
}
