package autoreply

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisStateKey is the key holding the shared auto-reply flag.
const RedisStateKey = "zottis:autoreply:enabled"

// State is the process-wide auto-reply switch.
type State interface {
	Enabled(ctx context.Context) bool
	SetEnabled(ctx context.Context, enabled bool) error
}

// MemoryState keeps the flag in process memory. It resets on restart.
type MemoryState struct {
	enabled atomic.Bool
	logger  *slog.Logger
}

// NewMemoryState creates a MemoryState starting at initial.
func NewMemoryState(log *slog.Logger, initial bool) *MemoryState {
	if log == nil {
		log = slog.Default()
	}
	s := &MemoryState{logger: log.With(slog.String("component", "autoreply_state"))}
	s.enabled.Store(initial)
	return s
}

func (s *MemoryState) Enabled(context.Context) bool {
	return s.enabled.Load()
}

func (s *MemoryState) SetEnabled(_ context.Context, enabled bool) error {
	s.enabled.Store(enabled)
	s.logger.Info("auto-reply toggled", slog.Bool("enabled", enabled))
	return nil
}

// RedisState shares the flag between instances through one Redis key.
// A missing key or an unreachable Redis reads as the configured default.
type RedisState struct {
	client   *redis.Client
	fallback bool
	logger   *slog.Logger
}

// NewRedisState connects to url and verifies the connection with a ping.
func NewRedisState(log *slog.Logger, url string, fallback bool) (*RedisState, error) {
	if log == nil {
		log = slog.Default()
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	c := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return &RedisState{
		client:   c,
		fallback: fallback,
		logger:   log.With(slog.String("component", "autoreply_state")),
	}, nil
}

func (s *RedisState) Enabled(ctx context.Context) bool {
	raw, err := s.client.Get(ctx, RedisStateKey).Result()
	if err == redis.Nil {
		return s.fallback
	}
	if err != nil {
		s.logger.Warn("read auto-reply flag failed", slog.Any("error", err))
		return s.fallback
	}
	enabled, err := strconv.ParseBool(raw)
	if err != nil {
		return s.fallback
	}
	return enabled
}

func (s *RedisState) SetEnabled(ctx context.Context, enabled bool) error {
	if err := s.client.Set(ctx, RedisStateKey, strconv.FormatBool(enabled), 0).Err(); err != nil {
		return fmt.Errorf("redis: set auto-reply flag: %w", err)
	}
	s.logger.Info("auto-reply toggled", slog.Bool("enabled", enabled))
	return nil
}

// Close releases the Redis connection.
func (s *RedisState) Close() error {
	return s.client.Close()
}
