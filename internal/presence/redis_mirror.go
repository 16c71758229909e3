package presence

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisMirror writes presence hints to redis with a TTL, so other services
// can read "probably online" without touching this process. It is a hint,
// not an authority: every failure is logged and swallowed.
type RedisMirror struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

var _ Mirror = (*RedisMirror)(nil)

func NewRedisMirror(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisMirror {
	return &RedisMirror{
		client: client,
		ttl:    ttl,
		logger: logger.With(slog.String("component", "presence_redis_mirror")),
	}
}

func (m *RedisMirror) SetStatus(ctx context.Context, userID, status string, at time.Time) {
	opCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	key := "presence:" + userID
	var err error
	if status == StatusOffline {
		err = m.client.Del(opCtx, key).Err()
	} else {
		err = m.client.Set(opCtx, key, status, m.ttl).Err()
	}
	if err != nil {
		m.logger.Warn("presence mirror write failed",
			slog.String("userID", userID),
			slog.Any("error", err),
		)
	}
}
