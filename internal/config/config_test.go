package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const fullConfigYAML = `
redis:
  address: redis.internal:6380
  password: ${TEST_KEYRELAY_REDIS_PASSWORD:-changeme}
  db: 2
authoritative:
  prefix: "ACCESS_KEY:"
replica:
  prefix: "L2_ACCESS_KEY:"
events:
  stream: access-key-events
  maxLen: 10000
  publishRetries: 2
  circuitBreaker:
    enabled: true
    threshold: 3
rateLimit:
  prefix: "RATE_LIMIT:"
consumer:
  group: l2-consumer-group
  name: keyguard-0
  blockTimeout: 2s
  claimMinIdle: 1m
http:
  address: ":3001"
admin:
  token: $${literal}
observability:
  logging:
    level: debug
    format: console
  metrics:
    enabled: true
tokenInfo:
  cacheTTL: 10s
  urls:
    binance: https://binance.example
`

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	assert.Equal(t, "localhost:6379", cfg.Redis.Address)
	assert.Equal(t, "ACCESS_KEY:", cfg.Authoritative.Prefix)
	assert.Equal(t, "L2_ACCESS_KEY:", cfg.Replica.Prefix)
	assert.Equal(t, "RATE_LIMIT:", cfg.RateLimit.Prefix)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window.Duration())
	assert.Equal(t, "access-key-events", cfg.Events.Stream)
	assert.Equal(t, "l2-consumer-group", cfg.Consumer.Group)
	assert.Equal(t, int64(10), cfg.Consumer.BatchSize)
	assert.Equal(t, 5*time.Second, cfg.Consumer.BlockTimeout.Duration())
	assert.Empty(t, cfg.Consumer.Name, "member identity is never invented")
	assert.Equal(t, 30*time.Second, cfg.HTTP.ShutdownTimeout.Duration())
	assert.Zero(t, cfg.Events.PublishRetries)
	assert.NoError(t, Validate(cfg))
}

func TestLoadFromReader(t *testing.T) {
	t.Setenv("TEST_KEYRELAY_REDIS_PASSWORD", "s3cret")

	cfg, err := LoadFromReader(strings.NewReader(fullConfigYAML))
	require.NoError(t, err)

	assert.Equal(t, "redis.internal:6380", cfg.Redis.Address)
	assert.Equal(t, "s3cret", cfg.Redis.Password)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, int64(10000), cfg.Events.MaxLen)
	assert.Equal(t, 2, cfg.Events.PublishRetries)
	assert.True(t, cfg.Events.CircuitBreaker.Enabled)
	assert.Equal(t, 3, cfg.Events.CircuitBreaker.Threshold)
	assert.InDelta(t, 0.5, cfg.Events.CircuitBreaker.FailureRatio, 0)
	assert.Equal(t, "keyguard-0", cfg.Consumer.Name)
	assert.Equal(t, 2*time.Second, cfg.Consumer.BlockTimeout.Duration())
	assert.Equal(t, time.Minute, cfg.Consumer.ClaimMinIdle.Duration())
	assert.Equal(t, ":3001", cfg.HTTP.Address)
	assert.Equal(t, "${literal}", cfg.Admin.Token)
	assert.Equal(t, "debug", cfg.Observability.Logging.Level)
	assert.Equal(t, "/metrics", cfg.Observability.Metrics.Path)
	assert.Equal(t, 10*time.Second, cfg.TokenInfo.CacheTTL.Duration())
	assert.Equal(t, "https://binance.example", cfg.TokenInfo.URLs["binance"])
	assert.NoError(t, Validate(cfg))
}

func TestLoadFromReader_DefaultSubstitution(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader("redis:\n  password: ${TEST_KEYRELAY_UNSET_VAR:-fallback}\n"))
	require.NoError(t, err)
	assert.Equal(t, "fallback", cfg.Redis.Password)
}

func TestLoadFromReader_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    string
	}{
		{name: "unknown field", content: "redis:\n  adress: x:1\n", want: "field adress not found"},
		{name: "bad duration", content: "consumer:\n  blockTimeout: soon\n", want: "invalid duration"},
		{name: "bad yaml", content: "redis: [\n", want: "failed to parse YAML"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := LoadFromReader(strings.NewReader(tt.content))
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestLoadFromReader_Empty(t *testing.T) {
	t.Parallel()

	cfg, err := LoadFromReader(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "keyrelay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http:\n  address: \":4000\"\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":4000", cfg.HTTP.Address)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")
}

func TestLoadAndValidate(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "keyrelay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("consumer:\n  batchSize: -1\n"), 0o600))

	_, err := LoadAndValidate(path)
	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Equal(t, "consumer.batchSize", verrs[0].Path)
}

func TestLoadAndValidate_ShippedConfig(t *testing.T) {
	t.Parallel()

	cfg, err := LoadAndValidate(filepath.Join("..", "..", "configs", "keyrelay.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultStream, cfg.Events.Stream)
	assert.Equal(t, DefaultGroup, cfg.Consumer.Group)
	assert.Equal(t, DefaultRateLimitWindow, cfg.RateLimit.Window.Duration())
	assert.True(t, cfg.Events.CircuitBreaker.Enabled)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("TEST_KEYRELAY_DOTENV=from-file\nTEST_KEYRELAY_PRESET=from-file\n"), 0o600))

	t.Setenv("TEST_KEYRELAY_PRESET", "from-env")
	t.Cleanup(func() { _ = os.Unsetenv("TEST_KEYRELAY_DOTENV") })

	require.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env"), path))
	assert.Equal(t, "from-file", os.Getenv("TEST_KEYRELAY_DOTENV"))
	assert.Equal(t, "from-env", os.Getenv("TEST_KEYRELAY_PRESET"), "existing variables win")
}

func TestResolveConsumerName(t *testing.T) {
	t.Setenv(EnvConsumerName, "from-env")

	name, err := ResolveConsumerName(" keyguard-1 ")
	require.NoError(t, err)
	assert.Equal(t, "keyguard-1", name)

	name, err = ResolveConsumerName("")
	require.NoError(t, err)
	assert.Equal(t, "from-env", name)

	t.Setenv(EnvConsumerName, "")
	host, _ := os.Hostname()
	name, err = ResolveConsumerName("")
	if host == "" {
		assert.Error(t, err)
		return
	}
	require.NoError(t, err)
	assert.Equal(t, host, name)

	again, err := ResolveConsumerName("")
	require.NoError(t, err)
	assert.Equal(t, name, again, "identity is stable")
}

func TestResolveConfigPath(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "keyrelay.yaml")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	got, err := ResolveConfigPath(path)
	require.NoError(t, err)
	assert.Equal(t, path, got)

	_, err = ResolveConfigPath(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestDuration_Encoding(t *testing.T) {
	t.Parallel()

	var holder struct {
		D Duration `yaml:"d" json:"d"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("d: 1m30s"), &holder))
	assert.Equal(t, 90*time.Second, holder.D.Duration())

	out, err := yaml.Marshal(holder)
	require.NoError(t, err)
	assert.Equal(t, "d: 1m30s\n", string(out))

	require.NoError(t, json.Unmarshal([]byte(`{"d":"250ms"}`), &holder))
	assert.Equal(t, 250*time.Millisecond, holder.D.Duration())

	require.NoError(t, json.Unmarshal([]byte(`{"d":null}`), &holder))
	assert.Zero(t, holder.D)

	b, err := json.Marshal(holder)
	require.NoError(t, err)
	assert.JSONEq(t, `{"d":"0s"}`, string(b))
}
