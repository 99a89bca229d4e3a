package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/vyrodovalexey/keyrelay/internal/observability"
)

func observedLogger() (observability.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return observability.NewLoggerFromZap(zap.New(core)), logs
}

func TestRequestID(t *testing.T) {
	t.Parallel()

	engine := gin.New()
	engine.Use(RequestID())
	engine.GET("/x", func(c *gin.Context) {
		c.String(http.StatusOK, observability.RequestIDFromContext(c.Request.Context()))
	})

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", http.NoBody))
	generated := w.Header().Get(HeaderRequestID)
	assert.Len(t, generated, 36)
	assert.Equal(t, generated, w.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/x", http.NoBody)
	req.Header.Set(HeaderRequestID, "req-1")
	w = httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	assert.Equal(t, "req-1", w.Header().Get(HeaderRequestID))
	assert.Equal(t, "req-1", w.Body.String())
}

func TestRecovery(t *testing.T) {
	t.Parallel()

	logger, logs := observedLogger()
	engine := gin.New()
	engine.Use(Recovery(logger))
	engine.GET("/boom", func(*gin.Context) { panic("kaboom") })

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", http.NoBody))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var env Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, "Internal server error", env.Message)
	assert.Equal(t, 1, logs.FilterMessage("panic recovered").Len())
}

func TestLogging_OmitsQuery(t *testing.T) {
	t.Parallel()

	logger, logs := observedLogger()
	engine := gin.New()
	engine.Use(RequestID(), Logging(logger))
	engine.GET("/token", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/token?tokenId=secret", http.NoBody))

	entries := logs.FilterMessage("http request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "/token", fields["path"])
	assert.Equal(t, "/token", fields["route"])
	assert.Equal(t, int64(http.StatusNoContent), fields["status"])
	assert.NotEmpty(t, fields["request_id"])
	for _, v := range fields {
		if s, ok := v.(string); ok {
			assert.NotContains(t, s, "secret")
		}
	}
}

func TestMetrics_RecordsRouteTemplate(t *testing.T) {
	t.Parallel()

	m := observability.NewMetrics("test")
	engine := NewEngine(nil, m)
	engine.GET("/admin/key/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, path := range []string{"/admin/key/a", "/admin/key/b", "/missing"} {
		engine.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, http.NoBody))
	}

	expected := `
# HELP test_http_requests_total Total number of HTTP requests
# TYPE test_http_requests_total counter
test_http_requests_total{method="GET",route="/admin/key/:id",status="200"} 2
test_http_requests_total{method="GET",route="unmatched",status="404"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "test_http_requests_total"))
}

func TestTracing_PassesThrough(t *testing.T) {
	t.Parallel()

	engine := gin.New()
	engine.Use(Tracing())
	engine.GET("/x", func(c *gin.Context) {
		assert.NotNil(t, c.Request.Context())
		c.Status(http.StatusAccepted)
	})

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", http.NoBody))
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestClientLimiter(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	l := NewClientLimiter(1, 2, WithClientTTL(time.Minute))
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.1"))
	assert.False(t, l.Allow("10.0.0.1"), "burst exhausted")
	assert.True(t, l.Allow("10.0.0.2"), "clients are independent")

	now = now.Add(time.Second)
	assert.True(t, l.Allow("10.0.0.1"), "refilled")

	now = now.Add(2 * time.Minute)
	l.Cleanup()
	l.mu.Lock()
	assert.Empty(t, l.clients)
	l.mu.Unlock()
}

func TestClientLimiter_Middleware(t *testing.T) {
	t.Parallel()

	logger, logs := observedLogger()
	l := NewClientLimiter(0.001, 1, WithClientLimiterLogger(logger))
	l.StartCleanup(time.Hour)
	t.Cleanup(l.Stop)

	engine := gin.New()
	engine.Use(l.Middleware())
	engine.GET("/admin/keys", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/keys", http.NoBody))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/keys", http.NoBody))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get(HeaderRetryAfter))
	assert.Equal(t, 1, logs.FilterMessage("admin rate limit exceeded").Len())

	l.Stop()
}

func TestServer_StartStop(t *testing.T) {
	t.Parallel()

	engine := NewEngine(nil, nil)
	engine.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	srv := New(Config{Address: "127.0.0.1:0"}, engine, nil)
	require.NoError(t, srv.Start(context.Background()))
	assert.True(t, srv.IsRunning())
	assert.Error(t, srv.Start(context.Background()), "second start is rejected")

	resp, err := http.Get("http://" + srv.Addr() + "/ping")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))
	assert.False(t, srv.IsRunning())
}
