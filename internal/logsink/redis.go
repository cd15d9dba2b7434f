package logsink

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	jsoniter "github.com/json-iterator/go"

	"github.com/oriys/nova-ric/internal/logging"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	// DefaultRedisKey is the list holding recent records.
	DefaultRedisKey = "pulsar:invocations"
	// DefaultRedisCap bounds the list length.
	DefaultRedisCap = 1000
)

// RedisSink keeps the most recent invocation records in a capped Redis list,
// newest first.
type RedisSink struct {
	client *redis.Client
	key    string
	maxLen int64
}

// NewRedisSink connects to addr. An empty key or non-positive maxLen selects the
// defaults.
func NewRedisSink(ctx context.Context, addr, password string, db int, key string, maxLen int64) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return NewRedisSinkFromClient(client, key, maxLen), nil
}

// NewRedisSinkFromClient wraps an existing client.
func NewRedisSinkFromClient(client *redis.Client, key string, maxLen int64) *RedisSink {
	if key == "" {
		key = DefaultRedisKey
	}
	if maxLen <= 0 {
		maxLen = DefaultRedisCap
	}
	return &RedisSink{client: client, key: key, maxLen: maxLen}
}

func (s *RedisSink) Save(ctx context.Context, rec *logging.InvocationRecord) error {
	return s.SaveBatch(ctx, []*logging.InvocationRecord{rec})
}

func (s *RedisSink) SaveBatch(ctx context.Context, recs []*logging.InvocationRecord) error {
	if len(recs) == 0 {
		return nil
	}
	values := make([]any, 0, len(recs))
	for _, rec := range recs {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode invocation record: %w", err)
		}
		values = append(values, data)
	}

	pipe := s.client.Pipeline()
	pipe.LPush(ctx, s.key, values...)
	pipe.LTrim(ctx, s.key, 0, s.maxLen-1)
	_, err := pipe.Exec(ctx)
	return err
}

// Recent returns up to limit records, newest first.
func (s *RedisSink) Recent(ctx context.Context, limit int) ([]*logging.InvocationRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	raw, err := s.client.LRange(ctx, s.key, 0, int64(limit)-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*logging.InvocationRecord, 0, len(raw))
	for _, item := range raw {
		rec := &logging.InvocationRecord{}
		if err := json.Unmarshal([]byte(item), rec); err != nil {
			return nil, fmt.Errorf("decode invocation record: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}
