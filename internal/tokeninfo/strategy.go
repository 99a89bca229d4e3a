// Package tokeninfo answers token information requests from
// per-platform strategies.
package tokeninfo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Supported platforms.
const (
	PlatformBinance   = "binance"
	PlatformCoingecko = "coingecko"
)

// ErrUnsupportedPlatform is returned for a platform with no strategy.
var ErrUnsupportedPlatform = errors.New("unsupported platform")

// Strategy fetches information about a token from one platform.
type Strategy interface {
	// Platform returns the platform name.
	Platform() string

	// URL returns the upstream endpoint the strategy talks to.
	URL() string

	// TokenInfo returns the information for tokenID.
	TokenInfo(ctx context.Context, tokenID string) (string, error)
}

type binanceStrategy struct {
	url string
}

// NewBinanceStrategy creates the Binance strategy.
func NewBinanceStrategy(url string) Strategy {
	if url == "" {
		url = "https://api.binance.com"
	}
	return &binanceStrategy{url: url}
}

func (s *binanceStrategy) Platform() string { return PlatformBinance }
func (s *binanceStrategy) URL() string      { return s.url }

func (s *binanceStrategy) TokenInfo(ctx context.Context, tokenID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return fmt.Sprintf("Response from binance for token=%s.", tokenID), nil
}

type coingeckoStrategy struct {
	url string
}

// NewCoingeckoStrategy creates the CoinGecko strategy.
func NewCoingeckoStrategy(url string) Strategy {
	if url == "" {
		url = "https://api.coingecko.com"
	}
	return &coingeckoStrategy{url: url}
}

func (s *coingeckoStrategy) Platform() string { return PlatformCoingecko }
func (s *coingeckoStrategy) URL() string      { return s.url }

func (s *coingeckoStrategy) TokenInfo(ctx context.Context, tokenID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return fmt.Sprintf("Response from coingecko for token=%s.", tokenID), nil
}

// Factory selects a strategy by platform name.
type Factory struct {
	strategies map[string]Strategy
}

// NewFactory creates a factory over the given strategies.
func NewFactory(strategies ...Strategy) *Factory {
	f := &Factory{strategies: make(map[string]Strategy, len(strategies))}
	for _, s := range strategies {
		f.strategies[s.Platform()] = s
	}
	return f
}

// DefaultFactory returns a factory with every built-in strategy.
func DefaultFactory(urls map[string]string) *Factory {
	return NewFactory(
		NewBinanceStrategy(urls[PlatformBinance]),
		NewCoingeckoStrategy(urls[PlatformCoingecko]),
	)
}

// Strategy returns the strategy for platform. Matching is case-insensitive.
func (f *Factory) Strategy(platform string) (Strategy, error) {
	s, ok := f.strategies[strings.ToLower(strings.TrimSpace(platform))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedPlatform, platform)
	}
	return s, nil
}

// Platforms returns the supported platform names in sorted order.
func (f *Factory) Platforms() []string {
	out := make([]string, 0, len(f.strategies))
	for name := range f.strategies {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
