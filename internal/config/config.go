// Package config defines the keyrelay configuration file, its defaults,
// validation and hot reload.
package config

import (
	"time"
)

// Config is the root configuration shared by keyadmin and keyguard.
// Each binary reads the sections it needs.
type Config struct {
	Redis         RedisConfig         `yaml:"redis" json:"redis"`
	Authoritative StoreConfig         `yaml:"authoritative" json:"authoritative"`
	Replica       StoreConfig         `yaml:"replica" json:"replica"`
	Events        EventsConfig        `yaml:"events" json:"events"`
	RateLimit     RateLimitConfig     `yaml:"rateLimit" json:"rateLimit"`
	Consumer      ConsumerConfig      `yaml:"consumer" json:"consumer"`
	HTTP          HTTPConfig          `yaml:"http" json:"http"`
	Admin         AdminConfig         `yaml:"admin" json:"admin"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
	TokenInfo     TokenInfoConfig     `yaml:"tokenInfo" json:"tokenInfo"`
}

// RedisConfig configures the Redis connection used for records, the
// event stream and rate-limit counters.
type RedisConfig struct {
	Address        string   `yaml:"address" json:"address"`
	Password       string   `yaml:"password,omitempty" json:"-"`
	DB             int      `yaml:"db,omitempty" json:"db,omitempty"`
	PoolSize       int      `yaml:"poolSize,omitempty" json:"poolSize,omitempty"`
	MinIdleConns   int      `yaml:"minIdleConns,omitempty" json:"minIdleConns,omitempty"`
	MaxRetries     int      `yaml:"maxRetries,omitempty" json:"maxRetries,omitempty"`
	DialTimeout    Duration `yaml:"dialTimeout,omitempty" json:"dialTimeout,omitempty"`
	ReadTimeout    Duration `yaml:"readTimeout,omitempty" json:"readTimeout,omitempty"`
	WriteTimeout   Duration `yaml:"writeTimeout,omitempty" json:"writeTimeout,omitempty"`
	ConnectRetries int      `yaml:"connectRetries,omitempty" json:"connectRetries,omitempty"`
	ConnectBackoff Duration `yaml:"connectBackoff,omitempty" json:"connectBackoff,omitempty"`
}

// StoreConfig configures a record store role.
type StoreConfig struct {
	Prefix string `yaml:"prefix" json:"prefix"`
}

// EventsConfig configures the event stream and publishing.
type EventsConfig struct {
	Stream         string               `yaml:"stream" json:"stream"`
	MaxLen         int64                `yaml:"maxLen,omitempty" json:"maxLen,omitempty"`
	PublishRetries int                  `yaml:"publishRetries,omitempty" json:"publishRetries,omitempty"`
	RetryBackoff   Duration             `yaml:"retryBackoff,omitempty" json:"retryBackoff,omitempty"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuitBreaker" json:"circuitBreaker"`
}

// CircuitBreakerConfig configures the breaker around publishing.
type CircuitBreakerConfig struct {
	Enabled      bool     `yaml:"enabled" json:"enabled"`
	Threshold    int      `yaml:"threshold,omitempty" json:"threshold,omitempty"`
	FailureRatio float64  `yaml:"failureRatio,omitempty" json:"failureRatio,omitempty"`
	Timeout      Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// RateLimitConfig configures per-key fixed-window counters.
type RateLimitConfig struct {
	Prefix string   `yaml:"prefix" json:"prefix"`
	Window Duration `yaml:"window,omitempty" json:"window,omitempty"`
}

// ConsumerConfig configures the replica projector's group membership.
type ConsumerConfig struct {
	Group string `yaml:"group" json:"group"`
	// Name is this member's identity within the group. It must be stable
	// across restarts of the same instance.
	Name         string   `yaml:"name,omitempty" json:"name,omitempty"`
	BatchSize    int64    `yaml:"batchSize,omitempty" json:"batchSize,omitempty"`
	BlockTimeout Duration `yaml:"blockTimeout,omitempty" json:"blockTimeout,omitempty"`
	ClaimMinIdle Duration `yaml:"claimMinIdle,omitempty" json:"claimMinIdle,omitempty"`
	ErrorBackoff Duration `yaml:"errorBackoff,omitempty" json:"errorBackoff,omitempty"`
}

// HTTPConfig configures the public HTTP listener.
type HTTPConfig struct {
	Address         string   `yaml:"address" json:"address"`
	ReadTimeout     Duration `yaml:"readTimeout,omitempty" json:"readTimeout,omitempty"`
	WriteTimeout    Duration `yaml:"writeTimeout,omitempty" json:"writeTimeout,omitempty"`
	IdleTimeout     Duration `yaml:"idleTimeout,omitempty" json:"idleTimeout,omitempty"`
	ShutdownTimeout Duration `yaml:"shutdownTimeout,omitempty" json:"shutdownTimeout,omitempty"`
}

// AdminConfig configures the admin API.
type AdminConfig struct {
	// Token, when set, must be sent in the X-Admin-Token header on
	// /admin routes.
	Token     string                `yaml:"token,omitempty" json:"-"`
	RateLimit ClientRateLimitConfig `yaml:"rateLimit" json:"rateLimit"`
}

// ClientRateLimitConfig configures per-client throttling of the admin API.
type ClientRateLimitConfig struct {
	Enabled           bool    `yaml:"enabled" json:"enabled"`
	RequestsPerSecond float64 `yaml:"requestsPerSecond,omitempty" json:"requestsPerSecond,omitempty"`
	Burst             int     `yaml:"burst,omitempty" json:"burst,omitempty"`
}

// ObservabilityConfig configures logging, metrics and tracing.
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging" json:"logging"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
	Tracing TracingConfig `yaml:"tracing" json:"tracing"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output,omitempty" json:"output,omitempty"`
}

// MetricsConfig configures the metrics and health listener.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Address string `yaml:"address" json:"address"`
	Path    string `yaml:"path" json:"path"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	ServiceName  string  `yaml:"serviceName,omitempty" json:"serviceName,omitempty"`
	OTLPEndpoint string  `yaml:"otlpEndpoint,omitempty" json:"otlpEndpoint,omitempty"`
	SamplingRate float64 `yaml:"samplingRate,omitempty" json:"samplingRate,omitempty"`
}

// TokenInfoConfig configures the token information endpoint.
type TokenInfoConfig struct {
	CacheTTL Duration          `yaml:"cacheTTL,omitempty" json:"cacheTTL,omitempty"`
	URLs     map[string]string `yaml:"urls,omitempty" json:"urls,omitempty"`
}

// Default values.
const (
	DefaultRedisAddress     = "localhost:6379"
	DefaultStream           = "access-key-events"
	DefaultGroup            = "l2-consumer-group"
	DefaultAuthoritative    = "ACCESS_KEY:"
	DefaultReplica          = "L2_ACCESS_KEY:"
	DefaultRateLimitPrefix  = "RATE_LIMIT:"
	DefaultRateLimitWindow  = time.Minute
	DefaultBatchSize        = 10
	DefaultBlockTimeout     = 5 * time.Second
	DefaultHTTPAddress      = ":3000"
	DefaultMetricsAddress   = ":9090"
	DefaultMetricsPath      = "/metrics"
	DefaultShutdownTimeout  = 30 * time.Second
	DefaultTokenInfoTTL     = 30 * time.Second
	DefaultConnectRetries   = 5
	DefaultConnectBackoff   = 500 * time.Millisecond
	DefaultAdminRequestRate = 50
	DefaultAdminBurst       = 100
)

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero-valued fields with defaults.
func (c *Config) ApplyDefaults() {
	setString(&c.Redis.Address, DefaultRedisAddress)
	setInt(&c.Redis.ConnectRetries, DefaultConnectRetries)
	setDuration(&c.Redis.ConnectBackoff, DefaultConnectBackoff)

	setString(&c.Authoritative.Prefix, DefaultAuthoritative)
	setString(&c.Replica.Prefix, DefaultReplica)

	setString(&c.Events.Stream, DefaultStream)
	setDuration(&c.Events.RetryBackoff, 100*time.Millisecond)
	if c.Events.CircuitBreaker.Threshold == 0 {
		c.Events.CircuitBreaker.Threshold = 5
	}
	if c.Events.CircuitBreaker.FailureRatio == 0 {
		c.Events.CircuitBreaker.FailureRatio = 0.5
	}
	setDuration(&c.Events.CircuitBreaker.Timeout, 30*time.Second)

	setString(&c.RateLimit.Prefix, DefaultRateLimitPrefix)
	setDuration(&c.RateLimit.Window, DefaultRateLimitWindow)

	setString(&c.Consumer.Group, DefaultGroup)
	if c.Consumer.BatchSize == 0 {
		c.Consumer.BatchSize = DefaultBatchSize
	}
	setDuration(&c.Consumer.BlockTimeout, DefaultBlockTimeout)
	setDuration(&c.Consumer.ErrorBackoff, time.Second)

	setString(&c.HTTP.Address, DefaultHTTPAddress)
	setDuration(&c.HTTP.ReadTimeout, 10*time.Second)
	setDuration(&c.HTTP.WriteTimeout, 10*time.Second)
	setDuration(&c.HTTP.IdleTimeout, 60*time.Second)
	setDuration(&c.HTTP.ShutdownTimeout, DefaultShutdownTimeout)

	if c.Admin.RateLimit.RequestsPerSecond == 0 {
		c.Admin.RateLimit.RequestsPerSecond = DefaultAdminRequestRate
	}
	setInt(&c.Admin.RateLimit.Burst, DefaultAdminBurst)

	setString(&c.Observability.Logging.Level, "info")
	setString(&c.Observability.Logging.Format, "json")
	setString(&c.Observability.Metrics.Address, DefaultMetricsAddress)
	setString(&c.Observability.Metrics.Path, DefaultMetricsPath)
	if c.Observability.Tracing.SamplingRate == 0 {
		c.Observability.Tracing.SamplingRate = 1.0
	}

	setDuration(&c.TokenInfo.CacheTTL, DefaultTokenInfoTTL)
}

func setString(dst *string, def string) {
	if *dst == "" {
		*dst = def
	}
}

func setInt(dst *int, def int) {
	if *dst == 0 {
		*dst = def
	}
}

func setDuration(dst *Duration, def time.Duration) {
	if *dst == 0 {
		*dst = Duration(def)
	}
}
