package keystore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/vyrodovalexey/keyrelay/internal/accesskey"
	"github.com/vyrodovalexey/keyrelay/internal/observability"
)

// scanBatchSize is the COUNT hint passed to SCAN by List.
const scanBatchSize = 100

var (
	storeOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "keyrelay",
			Subsystem: "keystore",
			Name:      "operations_total",
			Help:      "Total number of key store operations",
		},
		[]string{"prefix", "operation", "status"},
	)

	storeOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "keyrelay",
			Subsystem: "keystore",
			Name:      "operation_duration_seconds",
			Help:      "Duration of key store operations in seconds",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"prefix", "operation"},
	)
)

// Collectors returns the package metrics for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{storeOperationsTotal, storeOperationDuration}
}

// RedisStore implements Store with JSON values under a key prefix.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a store on an existing client.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// Prefix returns the key prefix of the store.
func (s *RedisStore) Prefix() string {
	return s.prefix
}

func (s *RedisStore) prefixKey(key string) string {
	return s.prefix + key
}

func (s *RedisStore) observe(op string, start time.Time, status string) {
	storeOperationDuration.WithLabelValues(s.prefix, op).Observe(time.Since(start).Seconds())
	storeOperationsTotal.WithLabelValues(s.prefix, op, status).Inc()
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key string) (*accesskey.Record, error) {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context error before redis get: %w", err)
	}

	data, err := s.client.Get(ctx, s.prefixKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		s.observe("get", start, "not_found")
		return nil, ErrNotFound
	}
	if err != nil {
		s.observe("get", start, "error")
		return nil, fmt.Errorf("redis get error: %w", err)
	}

	rec, err := decodeRecord(key, data)
	if err != nil {
		s.observe("get", start, "error")
		return nil, err
	}

	s.observe("get", start, "success")
	return rec, nil
}

// Set implements Store.
func (s *RedisStore) Set(ctx context.Context, rec *accesskey.Record) error {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error before redis set: %w", err)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		s.observe("set", start, "error")
		return fmt.Errorf("failed to encode record: %w", err)
	}

	if err := s.client.Set(ctx, s.prefixKey(rec.Key), data, 0).Err(); err != nil {
		s.observe("set", start, "error")
		return fmt.Errorf("redis set error: %w", err)
	}

	s.observe("set", start, "success")
	return nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error before redis del: %w", err)
	}

	if err := s.client.Del(ctx, s.prefixKey(key)).Err(); err != nil {
		s.observe("delete", start, "error")
		return fmt.Errorf("redis del error: %w", err)
	}

	s.observe("delete", start, "success")
	return nil
}

// List implements Store. It scans the prefix and fetches values in
// batches; keys removed between SCAN and MGET are skipped.
func (s *RedisStore) List(ctx context.Context) ([]*accesskey.Record, error) {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context error before redis scan: %w", err)
	}

	var (
		cursor  uint64
		records []*accesskey.Record
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", scanBatchSize).Result()
		if err != nil {
			s.observe("list", start, "error")
			return nil, fmt.Errorf("redis scan error: %w", err)
		}

		if len(keys) > 0 {
			batch, err := s.fetch(ctx, keys)
			if err != nil {
				s.observe("list", start, "error")
				return nil, err
			}
			records = append(records, batch...)
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Key < records[j].Key })

	s.observe("list", start, "success")
	return records, nil
}

func (s *RedisStore) fetch(ctx context.Context, keys []string) ([]*accesskey.Record, error) {
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget error: %w", err)
	}

	records := make([]*accesskey.Record, 0, len(values))
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		rec, err := decodeRecord(strings.TrimPrefix(keys[i], s.prefix), []byte(str))
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// decodeRecord parses a stored value. The key is taken from the storage
// key so records written without a key field still round-trip.
func decodeRecord(key string, data []byte) (*accesskey.Record, error) {
	var rec accesskey.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode record for %s: %w", observability.MaskKey(key), err)
	}
	rec.Key = key
	return &rec, nil
}
