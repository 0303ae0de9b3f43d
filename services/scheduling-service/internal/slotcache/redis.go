// Package slotcache keeps resolved availability windows in Redis.
//
// Keys carry a per-doctor generation number. Invalidation bumps the generation
// instead of deleting keys, so stale entries simply age out via TTL.
package slotcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dteedee/medix/services/scheduling-service/internal/interval"
	"github.com/redis/go-redis/v9"
)

type Redis struct {
	rdb    redis.Cmdable
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedis(rdb redis.Cmdable, ttl time.Duration, logger *slog.Logger) *Redis {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Redis{rdb: rdb, ttl: ttl, logger: logger}
}

func genKey(doctorID string) string {
	return "slots:gen:" + doctorID
}

func windowsKey(doctorID string, gen int64, date time.Time) string {
	return fmt.Sprintf("slots:v1:%s:%d:%s", doctorID, gen, date.Format(time.DateOnly))
}

type wireRange struct {
	Start time.Time `json:"s"`
	End   time.Time `json:"e"`
}

func encode(windows []interval.Range) ([]byte, error) {
	wire := make([]wireRange, 0, len(windows))
	for _, w := range windows {
		wire = append(wire, wireRange{Start: w.Start, End: w.End})
	}
	return json.Marshal(wire)
}

func decode(b []byte) ([]interval.Range, error) {
	var wire []wireRange
	if err := json.Unmarshal(b, &wire); err != nil {
		return nil, err
	}
	out := make([]interval.Range, 0, len(wire))
	for _, w := range wire {
		out = append(out, interval.Range{Start: w.Start, End: w.End})
	}
	return out, nil
}

func (c *Redis) generation(ctx context.Context, doctorID string) (int64, error) {
	gen, err := c.rdb.Get(ctx, genKey(doctorID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func (c *Redis) Get(ctx context.Context, doctorID string, date time.Time) ([]interval.Range, int64, bool) {
	gen, err := c.generation(ctx, doctorID)
	if err != nil {
		c.logger.Warn("slot cache generation lookup failed", "doctor_id", doctorID, "err", err)
		return nil, 0, false
	}
	raw, err := c.rdb.Get(ctx, windowsKey(doctorID, gen, date)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("slot cache read failed", "doctor_id", doctorID, "err", err)
		}
		return nil, gen, false
	}
	windows, err := decode(raw)
	if err != nil {
		c.logger.Warn("slot cache entry corrupt", "doctor_id", doctorID, "err", err)
		return nil, gen, false
	}
	return windows, gen, true
}

func (c *Redis) Set(ctx context.Context, doctorID string, date time.Time, gen int64, windows []interval.Range) {
	b, err := encode(windows)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, windowsKey(doctorID, gen, date), b, c.ttl).Err(); err != nil {
		c.logger.Warn("slot cache write failed", "doctor_id", doctorID, "err", err)
	}
}

func (c *Redis) Invalidate(ctx context.Context, doctorID string) error {
	return c.rdb.Incr(ctx, genKey(doctorID)).Err()
}

func ReadyCheck(rdb redis.Cmdable) func(context.Context) error {
	return func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}
}
