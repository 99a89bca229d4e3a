package config

import (
	"fmt"
	"net"
	"strings"
)

// ValidationError is a single configuration problem.
type ValidationError struct {
	Path    string
	Message string
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// ValidationErrors collects every problem found in one pass.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "\n  %d. %s", i+1, err.Error())
	}
	return sb.String()
}

type validator struct {
	errs ValidationErrors
}

func (v *validator) add(path, format string, args ...any) {
	v.errs = append(v.errs, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

// Validate checks cfg and returns ValidationErrors listing every problem,
// or nil.
func Validate(cfg *Config) error {
	v := &validator{}
	if cfg == nil {
		v.add("", "configuration is nil")
		return v.errs
	}

	v.validateRedis(&cfg.Redis)
	v.validatePrefixes(cfg)
	v.validateEvents(&cfg.Events)
	v.validateConsumer(&cfg.Consumer)
	v.validateHTTP(&cfg.HTTP)
	v.validateAdmin(&cfg.Admin)
	v.validateObservability(&cfg.Observability)

	if cfg.RateLimit.Window.Duration() <= 0 {
		v.add("rateLimit.window", "must be positive")
	}
	if cfg.TokenInfo.CacheTTL < 0 {
		v.add("tokenInfo.cacheTTL", "must not be negative")
	}

	if len(v.errs) > 0 {
		return v.errs
	}
	return nil
}

func (v *validator) validateRedis(c *RedisConfig) {
	if c.Address == "" {
		v.add("redis.address", "is required")
	} else if _, _, err := net.SplitHostPort(c.Address); err != nil {
		v.add("redis.address", "must be host:port: %v", err)
	}
	if c.DB < 0 {
		v.add("redis.db", "must not be negative")
	}
	if c.PoolSize < 0 {
		v.add("redis.poolSize", "must not be negative")
	}
	if c.ConnectRetries < 0 {
		v.add("redis.connectRetries", "must not be negative")
	}
}

func (v *validator) validatePrefixes(cfg *Config) {
	prefixes := map[string]string{
		"authoritative.prefix": cfg.Authoritative.Prefix,
		"replica.prefix":       cfg.Replica.Prefix,
		"rateLimit.prefix":     cfg.RateLimit.Prefix,
	}
	ordered := []string{"authoritative.prefix", "replica.prefix", "rateLimit.prefix"}
	for _, path := range ordered {
		if prefixes[path] == "" {
			v.add(path, "is required")
		}
	}

	// Store roles may share one Redis, so no prefix may contain another.
	for i, a := range ordered {
		for _, b := range ordered[i+1:] {
			pa, pb := prefixes[a], prefixes[b]
			if pa == "" || pb == "" {
				continue
			}
			if strings.HasPrefix(pa, pb) || strings.HasPrefix(pb, pa) {
				v.add(b, "overlaps %s (%q, %q)", a, pa, pb)
			}
		}
	}
}

func (v *validator) validateEvents(c *EventsConfig) {
	if c.Stream == "" {
		v.add("events.stream", "is required")
	}
	if c.MaxLen < 0 {
		v.add("events.maxLen", "must not be negative")
	}
	if c.PublishRetries < 0 {
		v.add("events.publishRetries", "must not be negative")
	}
	if cb := c.CircuitBreaker; cb.Enabled {
		if cb.FailureRatio <= 0 || cb.FailureRatio > 1 {
			v.add("events.circuitBreaker.failureRatio", "must be in (0, 1]")
		}
		if cb.Threshold < 1 {
			v.add("events.circuitBreaker.threshold", "must be at least 1")
		}
	}
}

func (v *validator) validateConsumer(c *ConsumerConfig) {
	if c.Group == "" {
		v.add("consumer.group", "is required")
	}
	if c.BatchSize < 1 {
		v.add("consumer.batchSize", "must be at least 1")
	}
	if c.BlockTimeout.Duration() <= 0 {
		v.add("consumer.blockTimeout", "must be positive")
	}
	if c.ClaimMinIdle < 0 {
		v.add("consumer.claimMinIdle", "must not be negative")
	}
	if strings.ContainsAny(c.Name, " \t\r\n") {
		v.add("consumer.name", "must not contain whitespace")
	}
}

func (v *validator) validateHTTP(c *HTTPConfig) {
	if c.Address == "" {
		v.add("http.address", "is required")
	}
	if c.ShutdownTimeout.Duration() <= 0 {
		v.add("http.shutdownTimeout", "must be positive")
	}
}

func (v *validator) validateAdmin(c *AdminConfig) {
	if rl := c.RateLimit; rl.Enabled {
		if rl.RequestsPerSecond <= 0 {
			v.add("admin.rateLimit.requestsPerSecond", "must be positive")
		}
		if rl.Burst < 1 {
			v.add("admin.rateLimit.burst", "must be at least 1")
		}
	}
}

func (v *validator) validateObservability(c *ObservabilityConfig) {
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		v.add("observability.logging.level", "must be one of debug, info, warn, error")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
	default:
		v.add("observability.logging.format", "must be json or console")
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		v.add("observability.metrics.path", "must start with /")
	}
	if t := c.Tracing; t.Enabled {
		if t.SamplingRate < 0 || t.SamplingRate > 1 {
			v.add("observability.tracing.samplingRate", "must be in [0, 1]")
		}
	}
}
