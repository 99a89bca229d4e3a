package tokeninfo

import (
	"context"
	"errors"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/vyrodovalexey/keyrelay/internal/observability"
)

// DefaultCacheTTL is how long a lookup result is reused.
const DefaultCacheTTL = 30 * time.Second

// ErrMissingTokenID is returned when the token id is empty.
var ErrMissingTokenID = errors.New("tokenId is required")

// Info is a token lookup result.
type Info struct {
	Platform string `json:"platform"`
	TokenID  string `json:"tokenId"`
	Message  string `json:"message"`
	Cached   bool   `json:"cached"`
}

// Service looks up token information through the factory and caches
// results per platform and token.
type Service struct {
	factory *Factory
	cache   *gocache.Cache
	logger  observability.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithCacheTTL sets the cache entry lifetime. Zero or negative disables
// caching.
func WithCacheTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl <= 0 {
			s.cache = nil
			return
		}
		s.cache = gocache.New(ttl, time.Minute)
	}
}

// NewService creates a Service.
func NewService(factory *Factory, opts ...ServiceOption) *Service {
	s := &Service{
		factory: factory,
		cache:   gocache.New(DefaultCacheTTL, time.Minute),
		logger:  observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Lookup returns the information for tokenID on platform. An empty
// platform selects binance.
func (s *Service) Lookup(ctx context.Context, platform, tokenID string) (*Info, error) {
	tokenID = strings.TrimSpace(tokenID)
	if tokenID == "" {
		return nil, ErrMissingTokenID
	}
	if platform == "" {
		platform = PlatformBinance
	}

	strategy, err := s.factory.Strategy(platform)
	if err != nil {
		return nil, err
	}

	cacheKey := strategy.Platform() + ":" + tokenID
	if s.cache != nil {
		if v, ok := s.cache.Get(cacheKey); ok {
			if info, ok := v.(Info); ok {
				info.Cached = true
				return &info, nil
			}
		}
	}

	msg, err := strategy.TokenInfo(ctx, tokenID)
	if err != nil {
		s.logger.Error("token info lookup failed",
			observability.String("platform", strategy.Platform()),
			observability.String("token_id", tokenID),
			observability.Error(err),
		)
		return nil, err
	}

	info := Info{Platform: strategy.Platform(), TokenID: tokenID, Message: msg}
	if s.cache != nil {
		s.cache.SetDefault(cacheKey, info)
	}
	return &info, nil
}
