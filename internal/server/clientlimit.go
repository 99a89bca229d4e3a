package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/vyrodovalexey/keyrelay/internal/observability"
)

// Client limiter defaults.
const (
	DefaultClientTTL       = 10 * time.Minute
	DefaultCleanupInterval = time.Minute
)

type clientEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// ClientLimiter throttles requests per client IP with a token bucket.
// It protects the admin API; access keys are limited by the guard.
type ClientLimiter struct {
	rps       rate.Limit
	burst     int
	clientTTL time.Duration
	logger    observability.Logger
	now       func() time.Time

	mu       sync.Mutex
	clients  map[string]*clientEntry
	stopCh   chan struct{}
	stopOnce sync.Once
}

// ClientLimiterOption configures a ClientLimiter.
type ClientLimiterOption func(*ClientLimiter)

// WithClientLimiterLogger sets the logger.
func WithClientLimiterLogger(logger observability.Logger) ClientLimiterOption {
	return func(l *ClientLimiter) {
		l.logger = logger
	}
}

// WithClientTTL sets how long an idle client's bucket is kept.
func WithClientTTL(ttl time.Duration) ClientLimiterOption {
	return func(l *ClientLimiter) {
		l.clientTTL = ttl
	}
}

// NewClientLimiter creates a limiter allowing rps requests per second
// per client with the given burst.
func NewClientLimiter(rps float64, burst int, opts ...ClientLimiterOption) *ClientLimiter {
	l := &ClientLimiter{
		rps:       rate.Limit(rps),
		burst:     burst,
		clientTTL: DefaultClientTTL,
		logger:    observability.NopLogger(),
		now:       time.Now,
		clients:   make(map[string]*clientEntry),
		stopCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow reports whether client may make a request now.
func (l *ClientLimiter) Allow(client string) bool {
	now := l.now()

	l.mu.Lock()
	entry, ok := l.clients[client]
	if !ok {
		entry = &clientEntry{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.clients[client] = entry
	}
	entry.lastAccess = now
	limiter := entry.limiter
	l.mu.Unlock()

	return limiter.AllowN(now, 1)
}

// Cleanup drops buckets idle for longer than the client TTL.
func (l *ClientLimiter) Cleanup() {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for client, entry := range l.clients {
		if now.Sub(entry.lastAccess) > l.clientTTL {
			delete(l.clients, client)
			removed++
		}
	}
	if removed > 0 {
		l.logger.Debug("cleaned up idle client limiters",
			observability.Int("removed", removed),
			observability.Int("remaining", len(l.clients)),
		)
	}
}

// StartCleanup runs Cleanup every interval until Stop is called.
func (l *ClientLimiter) StartCleanup(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.Cleanup()
			case <-l.stopCh:
				return
			}
		}
	}()
}

// Stop ends the cleanup goroutine.
func (l *ClientLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

// Middleware returns a gin handler answering 429 to throttled clients.
func (l *ClientLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		client := c.ClientIP()
		if !l.Allow(client) {
			l.logger.Warn("admin rate limit exceeded",
				observability.String("client_ip", client),
				observability.String("path", c.Request.URL.Path),
			)
			c.Header(HeaderRetryAfter, "1")
			respondError(c, http.StatusTooManyRequests, "Too many requests")
			return
		}
		c.Next()
	}
}
