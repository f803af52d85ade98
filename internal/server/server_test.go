package server

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reddot-watch/newsfeed/internal/metrics"
	"reddot-watch/newsfeed/internal/models"
	"reddot-watch/newsfeed/internal/process"
	"reddot-watch/newsfeed/internal/server/api"
	"reddot-watch/newsfeed/internal/store"
)

type stubReader struct {
	pingErr error
}

func (s *stubReader) Ping(context.Context) error { return s.pingErr }
func (s *stubReader) AllPosts(context.Context) ([]models.Post, error) {
	return nil, nil
}
func (s *stubReader) ListPosts(context.Context, store.PostQuery) ([]models.Post, error) {
	return nil, nil
}
func (s *stubReader) Categories(context.Context) ([]string, error) { return []string{"Energy"}, nil }
func (s *stubReader) Events(context.Context) ([]string, error)     { return nil, nil }

type stubTrigger struct{}

func (stubTrigger) Run(context.Context) (process.Report, error) {
	return process.Report{RunID: "r"}, nil
}

func do(t *testing.T, h http.Handler, method, target string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRoutes(t *testing.T) {
	h := NewHandler(Options{Store: &stubReader{}, Logger: zerolog.Nop(), Metrics: metrics.New()})

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/v1/posts", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/v1/posts/all", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/v1/events", nil).Code)

	rec := do(t, h, http.MethodGet, "/v1/categories", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `["Energy"]`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("Request-Id"))

	rec = do(t, h, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "newsfeed_")

	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodDelete, "/v1/posts", nil).Code)
}

func TestIngestRouteOnlyWithTrigger(t *testing.T) {
	without := NewHandler(Options{Store: &stubReader{}, Logger: zerolog.Nop()})
	assert.Equal(t, http.StatusNotFound, do(t, without, http.MethodPost, "/v1/ingest?wait=true", nil).Code)

	with := NewHandler(Options{Store: &stubReader{}, Logger: zerolog.Nop(), Trigger: stubTrigger{}, RunTimeout: time.Minute})
	rec := do(t, with, http.MethodPost, "/v1/ingest?wait=true", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"run_id":"r"`)
}

func TestAPIKey(t *testing.T) {
	h := NewHandler(Options{Store: &stubReader{}, APIKey: "secret", Logger: zerolog.Nop()})

	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/v1/posts", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/v1/posts", map[string]string{"X-API-Key": "wrong"}).Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/v1/posts", map[string]string{"X-API-Key": "secret"}).Code)

	// health stays open for probes
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health", nil).Code)
}

func TestHealth(t *testing.T) {
	h := NewHandler(Options{Store: &stubReader{}, Logger: zerolog.Nop()})
	rec := do(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	h = NewHandler(Options{Store: &stubReader{pingErr: errors.New("database is locked")}, Logger: zerolog.Nop()})
	rec = do(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), api.UnavailableMessage)
	assert.NotContains(t, rec.Body.String(), "locked")
}

func TestRunShutsDownOnCancel(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	h := NewHandler(Options{Store: &stubReader{}, Logger: zerolog.Nop()})
	go func() { done <- Run(ctx, h, addr, zerolog.Nop()) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/health")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestRunReportsListenError(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	err = Run(context.Background(), http.NotFoundHandler(), l.Addr().String(), zerolog.Nop())
	assert.Error(t, err)
}
