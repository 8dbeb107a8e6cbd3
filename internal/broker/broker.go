// Package broker forwards domain events to an external message broker.
// Delivery is fire-and-forget; the core never waits on an acknowledgment.
package broker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/wpphub/wpphub/internal/config"
)

// Publisher is the outbound emit contract consumed by the router and the
// alert notifier.
type Publisher interface {
	Emit(pattern string, payload any)
}

// Patterns published by the core.
const (
	PatternSessionReady  = "session_ready"
	PatternMessageCreate = "message_create"
)

const emitTimeout = 5 * time.Second

// Redis publishes JSON payloads over redis pub/sub channels.
type Redis struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewRedis creates a redis-backed publisher.
func NewRedis(cfg config.RedisConfig, logger *zap.Logger) *Redis {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Redis{rdb: rdb, logger: logger}
}

// Emit publishes payload as JSON on the pattern channel. Failures are
// logged, never propagated.
func (r *Redis) Emit(pattern string, payload any) {
	b, err := json.Marshal(payload)
	if err != nil {
		r.logger.Error("broker payload marshal failed", zap.String("pattern", pattern), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), emitTimeout)
	defer cancel()
	if err := r.rdb.Publish(ctx, pattern, b).Err(); err != nil {
		r.logger.Warn("broker publish failed", zap.String("pattern", pattern), zap.Error(err))
	}
}

// Close releases the redis connection.
func (r *Redis) Close() error {
	return r.rdb.Close()
}

// Nop discards all emits; used when no broker is configured.
type Nop struct{}

func (Nop) Emit(string, any) {}
