package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"docproof/internal/document/hashing"
	"docproof/internal/document/metrics"
	"docproof/internal/document/models"
	"docproof/pkg/platform/sentinel"
)

// DefaultRedisKey is the hash that holds every record, field = record key.
const DefaultRedisKey = "docproof:documents"

// RedisStore keeps the record map in a single Redis hash with JSON values.
type RedisStore struct {
	client  redis.UniversalClient
	key     string
	metrics *metrics.Metrics
}

// NewRedisStore wraps client. An empty key selects DefaultRedisKey.
func NewRedisStore(client redis.UniversalClient, key string, m *metrics.Metrics) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{client: client, key: key, metrics: m}
}

func (s *RedisStore) IsAvailable(ctx context.Context) bool {
	if s.client == nil {
		return false
	}
	return s.client.Ping(ctx).Err() == nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (rec *models.Record, err error) {
	start := time.Now()
	defer func() { s.observe("get", start, err) }()

	data, err := s.client.HGet(ctx, s.key, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, sentinel.ErrNotFound
		}
		return nil, wrapRedisErr("get", err)
	}
	return decodeRecord(data)
}

// Put writes record under its normalized hash.
func (s *RedisStore) Put(ctx context.Context, record *models.Record) error {
	if record == nil {
		return nil
	}
	return s.Import(ctx, hashing.Normalize(record.Hash), record)
}

func (s *RedisStore) Import(ctx context.Context, key string, record *models.Record) (err error) {
	if record == nil {
		return nil
	}
	start := time.Now()
	defer func() { s.observe("put", start, err) }()

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", key, err)
	}
	if err := s.client.HSet(ctx, s.key, key, data).Err(); err != nil {
		return wrapRedisErr("put", err)
	}
	return nil
}

func (s *RedisStore) ListAll(ctx context.Context) (entries []Entry, err error) {
	start := time.Now()
	defer func() { s.observe("list", start, err) }()

	all, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, wrapRedisErr("list", err)
	}
	entries = make([]Entry, 0, len(all))
	for key, data := range all {
		rec, decodeErr := decodeRecord(data)
		if decodeErr != nil {
			// One corrupt field must not hide the rest of the map.
			s.metrics.ObserveOperation("redis", "decode", start, decodeErr)
			slog.WarnContext(ctx, "skipping undecodable record", "hash_key", s.key, "field", key, "error", decodeErr)
			continue
		}
		entries = append(entries, Entry{Key: key, Record: rec})
	}
	return entries, nil
}

func (s *RedisStore) observe(op string, start time.Time, err error) {
	if errors.Is(err, sentinel.ErrNotFound) {
		err = nil
	}
	s.metrics.ObserveOperation("redis", op, start, err)
}

func decodeRecord(data string) (*models.Record, error) {
	var rec models.Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &rec, nil
}

// wrapRedisErr marks transport failures as unavailability so dependents fail the
// operation rather than treat the record as missing.
func wrapRedisErr(op string, err error) error {
	return fmt.Errorf("redis store %s: %w: %w", op, sentinel.ErrUnavailable, err)
}
