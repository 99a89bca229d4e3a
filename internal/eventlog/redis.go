package eventlog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// Stream defaults.
const (
	DefaultBatchSize    = 10
	DefaultBlockTimeout = 5 * time.Second
)

// fieldOrder fixes the order of known fields on the wire.
var fieldOrder = []string{FieldEvent, FieldKey, FieldRateLimitPerMin, FieldExpiresAt, FieldEnabled}

var (
	streamOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "keyrelay",
			Subsystem: "eventlog",
			Name:      "operations_total",
			Help:      "Total number of event stream operations",
		},
		[]string{"operation", "status"},
	)

	streamEntriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "keyrelay",
			Subsystem: "eventlog",
			Name:      "entries_total",
			Help:      "Total number of stream entries published, delivered or acknowledged",
		},
		[]string{"direction"},
	)
)

// Collectors returns the package metrics for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{streamOperationsTotal, streamEntriesTotal}
}

// StreamConfig addresses a Redis stream and a consumer group member.
type StreamConfig struct {
	Stream   string
	Group    string
	Consumer string

	BatchSize    int64
	BlockTimeout time.Duration

	// MaxLen caps the stream length approximately on publish. Zero
	// leaves the stream untrimmed.
	MaxLen int64
}

// RedisStream implements Publisher and Consumer on Redis Streams.
type RedisStream struct {
	client redis.UniversalClient
	cfg    StreamConfig
}

// NewRedisStream creates a stream handle on an existing client.
func NewRedisStream(client redis.UniversalClient, cfg StreamConfig) *RedisStream {
	if cfg.Stream == "" {
		cfg.Stream = DefaultStream
	}
	if cfg.Group == "" {
		cfg.Group = DefaultGroup
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = DefaultBlockTimeout
	}
	return &RedisStream{client: client, cfg: cfg}
}

// Name implements Consumer.
func (s *RedisStream) Name() string {
	return s.cfg.Consumer
}

// Stream returns the stream name.
func (s *RedisStream) Stream() string {
	return s.cfg.Stream
}

// Publish implements Publisher.
func (s *RedisStream) Publish(ctx context.Context, ev Event) (string, error) {
	fields := ev.Fields()
	values := make([]string, 0, 2*len(fields))
	for _, name := range fieldOrder {
		if v, ok := fields[name]; ok {
			values = append(values, name, v)
		}
	}

	args := &redis.XAddArgs{
		Stream: s.cfg.Stream,
		Values: values,
	}
	if s.cfg.MaxLen > 0 {
		args.MaxLen = s.cfg.MaxLen
		args.Approx = true
	}

	id, err := s.client.XAdd(ctx, args).Result()
	if err != nil {
		streamOperationsTotal.WithLabelValues("xadd", "error").Inc()
		return "", fmt.Errorf("redis xadd error: %w", err)
	}

	streamOperationsTotal.WithLabelValues("xadd", "success").Inc()
	streamEntriesTotal.WithLabelValues("published").Inc()
	return id, nil
}

// EnsureGroup implements Consumer. The group starts at the end of the
// stream; an existing group is left untouched.
func (s *RedisStream) EnsureGroup(ctx context.Context) error {
	err := s.client.XGroupCreateMkStream(ctx, s.cfg.Stream, s.cfg.Group, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		streamOperationsTotal.WithLabelValues("xgroup_create", "error").Inc()
		return fmt.Errorf("redis xgroup create error: %w", err)
	}
	streamOperationsTotal.WithLabelValues("xgroup_create", "success").Inc()
	return nil
}

// ReadPending implements Consumer.
func (s *RedisStream) ReadPending(ctx context.Context) ([]Entry, error) {
	return s.read(ctx, "0", -1, "xreadgroup_pending")
}

// ReadNew implements Consumer.
func (s *RedisStream) ReadNew(ctx context.Context) ([]Entry, error) {
	return s.read(ctx, ">", s.cfg.BlockTimeout, "xreadgroup")
}

func (s *RedisStream) read(ctx context.Context, cursor string, block time.Duration, op string) ([]Entry, error) {
	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.cfg.Group,
		Consumer: s.cfg.Consumer,
		Streams:  []string{s.cfg.Stream, cursor},
		Count:    s.cfg.BatchSize,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		streamOperationsTotal.WithLabelValues(op, "empty").Inc()
		return nil, nil
	}
	if err != nil {
		streamOperationsTotal.WithLabelValues(op, "error").Inc()
		return nil, fmt.Errorf("redis xreadgroup error: %w", err)
	}

	var entries []Entry
	for _, stream := range streams {
		entries = append(entries, toEntries(stream.Messages)...)
	}

	streamOperationsTotal.WithLabelValues(op, "success").Inc()
	streamEntriesTotal.WithLabelValues("delivered").Add(float64(len(entries)))
	return entries, nil
}

// Claim implements Consumer.
func (s *RedisStream) Claim(ctx context.Context, minIdle time.Duration) ([]Entry, error) {
	messages, _, err := s.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   s.cfg.Stream,
		Group:    s.cfg.Group,
		Consumer: s.cfg.Consumer,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    s.cfg.BatchSize,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		streamOperationsTotal.WithLabelValues("xautoclaim", "error").Inc()
		return nil, fmt.Errorf("redis xautoclaim error: %w", err)
	}

	entries := toEntries(messages)
	streamOperationsTotal.WithLabelValues("xautoclaim", "success").Inc()
	streamEntriesTotal.WithLabelValues("claimed").Add(float64(len(entries)))
	return entries, nil
}

// Ack implements Consumer.
func (s *RedisStream) Ack(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.client.XAck(ctx, s.cfg.Stream, s.cfg.Group, ids...).Err(); err != nil {
		streamOperationsTotal.WithLabelValues("xack", "error").Inc()
		return fmt.Errorf("redis xack error: %w", err)
	}
	streamOperationsTotal.WithLabelValues("xack", "success").Inc()
	streamEntriesTotal.WithLabelValues("acked").Add(float64(len(ids)))
	return nil
}

// toEntries converts stream messages. Pending entries whose payload was
// trimmed from the stream come back with no fields.
func toEntries(messages []redis.XMessage) []Entry {
	entries := make([]Entry, 0, len(messages))
	for _, msg := range messages {
		fields := make(map[string]string, len(msg.Values))
		for k, v := range msg.Values {
			switch val := v.(type) {
			case string:
				fields[k] = val
			case nil:
			default:
				fields[k] = fmt.Sprint(val)
			}
		}
		entries = append(entries, Entry{ID: msg.ID, Fields: fields})
	}
	return entries
}
