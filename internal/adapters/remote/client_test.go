package remote

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manthysbr/umbrella/internal/core/domain"
)

func newTestClient(t *testing.T, url string, timeout time.Duration) *Client {
	t.Helper()
	reg, err := domain.NewServiceRegistry(map[domain.ServiceName]string{domain.ServiceSentiment: url})
	require.NoError(t, err)
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return NewClient(logger, reg, domain.RemoteConfig{
		Timeout:        timeout,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}, nil)
}

var fastPolicy = domain.RetryPolicy{MaxRetries: 3, InitialBackoff: time.Millisecond}

func TestCall_SuccessCarriesCorrelationID(t *testing.T) {
	var gotCID, gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCID = r.Header.Get(domain.CorrelationHeader)
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]any{"sentiment": "positive"})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, time.Second)
	out, err := c.Call(context.Background(), domain.ServiceSentiment, "analyze", map[string]any{"text": "hi"}, "cid-123", fastPolicy)

	require.NoError(t, err)
	assert.Equal(t, "positive", out["sentiment"])
	assert.Equal(t, "cid-123", gotCID)
	assert.Equal(t, "/analyze", gotPath)
	assert.Equal(t, "hi", gotBody["text"])
}

func TestCall_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, time.Second)
	out, err := c.Call(context.Background(), domain.ServiceSentiment, "analyze", nil, "cid", fastPolicy)

	require.NoError(t, err)
	assert.Equal(t, true, out["ok"])
	assert.Equal(t, int32(3), hits.Load())
}

func TestCall_ExhaustsRetries(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, time.Second)
	_, err := c.Call(context.Background(), domain.ServiceSentiment, "analyze", nil, "cid", fastPolicy)

	var rse *domain.RemoteServiceError
	require.ErrorAs(t, err, &rse)
	assert.Equal(t, 4, rse.Attempts) // initial attempt + 3 retries
	assert.Equal(t, http.StatusInternalServerError, rse.StatusCode)
	assert.True(t, rse.Transient)
	assert.Equal(t, int32(4), hits.Load())
}

func TestCall_ClientErrorIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "bad input", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, time.Second)
	_, err := c.Call(context.Background(), domain.ServiceSentiment, "analyze", nil, "cid", fastPolicy)

	var rse *domain.RemoteServiceError
	require.ErrorAs(t, err, &rse)
	assert.Equal(t, 1, rse.Attempts)
	assert.Equal(t, http.StatusBadRequest, rse.StatusCode)
	assert.False(t, rse.Transient)
	assert.Equal(t, int32(1), hits.Load())
}

func TestCall_TimeoutIsRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			select {
			case <-r.Context().Done():
			case <-time.After(time.Second):
			}
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 50*time.Millisecond)
	_, err := c.Call(context.Background(), domain.ServiceSentiment, "analyze", nil, "cid", fastPolicy)

	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
}

func TestCall_UnknownServiceMakesNoRequest(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, time.Second)
	_, err := c.Call(context.Background(), "ocr", "read", nil, "cid", fastPolicy)

	var cfgErr *domain.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, domain.ServiceName("ocr"), cfgErr.Service)
	assert.Zero(t, hits.Load())
}

func TestCall_ContextCancelStopsRetrying(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Call(ctx, domain.ServiceSentiment, "analyze", nil, "cid", domain.RetryPolicy{MaxRetries: 10, InitialBackoff: time.Second})
	var rse *domain.RemoteServiceError
	require.ErrorAs(t, err, &rse)
	assert.LessOrEqual(t, rse.Attempts, 1)
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "healthy", "dependencies": map[string]any{}})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, time.Second)
	h := c.Health(context.Background(), domain.ServiceSentiment, "cid")
	assert.Equal(t, domain.HealthStatusHealthy, h.Status)

	h = c.Health(context.Background(), "missing", "cid")
	assert.Equal(t, domain.HealthStatusUnreachable, h.Status)
	assert.NotEmpty(t, h.Error)
}
