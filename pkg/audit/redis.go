package audit

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultStream is the Redis stream the live dashboard subscribes to.
const DefaultStream = "bastion:decisions"

// streamMaxLen caps the stream so an idle dashboard cannot grow it without
// bound. Trimming is approximate (XADD MAXLEN ~).
const streamMaxLen = 10000

// RedisWriter publishes records to a Redis stream for live consumption.
// Optional: configured only when a Redis address is provided.
type RedisWriter struct {
	rdb    *redis.Client
	stream string
}

// NewRedisWriter connects to Redis and verifies the connection. An empty
// stream name selects DefaultStream.
func NewRedisWriter(ctx context.Context, addr, stream string) (*RedisWriter, error) {
	if stream == "" {
		stream = DefaultStream
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("audit: redis ping: %w", err)
	}
	return &RedisWriter{rdb: rdb, stream: stream}, nil
}

func (w *RedisWriter) Write(ctx context.Context, rec Record) error {
	values := map[string]any{
		"id":     rec.ID,
		"ts":     rec.Timestamp.UnixMilli(),
		"method": rec.Method,
		"target": rec.Target,
		"label":  rec.Label,
		"source": rec.Source,
	}
	if rec.Origin != "" {
		values["origin"] = rec.Origin
	}
	if rec.Host != "" {
		values["host"] = rec.Host
	}
	if rec.Category != "" {
		values["category"] = rec.Category
		values["matched_rule"] = rec.MatchedRule
	}
	if rec.Score != nil {
		values["score"] = *rec.Score
	}
	err := w.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: w.stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: values,
	}).Err()
	if err != nil {
		return fmt.Errorf("audit: xadd: %w", err)
	}
	return nil
}

func (w *RedisWriter) Close() error {
	return w.rdb.Close()
}
