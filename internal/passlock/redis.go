package passlock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/starford/postsync/internal/apperr"
)

const (
	DefaultKey = "postsync:pass-lock"
	DefaultTTL = 2 * time.Minute

	pollInterval = 100 * time.Millisecond
)

// Only the holder of the token may release or extend the lease.
var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// Redis is a Locker backed by a Redis lease (SET NX PX). The lease is
// extended while held so long passes do not lose it.
type Redis struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	logger *slog.Logger
}

var _ Locker = (*Redis)(nil)

// NewRedis connects to redisURL and checks the connection.
func NewRedis(redisURL string, ttl time.Duration, logger *slog.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("passlock: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("passlock: connect to redis: %w", err)
	}
	return NewRedisWithClient(client, ttl, logger), nil
}

// NewRedisWithClient builds a Locker on an existing client.
func NewRedisWithClient(client *redis.Client, ttl time.Duration, logger *slog.Logger) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{client: client, key: DefaultKey, ttl: ttl, logger: logger}
}

func (r *Redis) Acquire(ctx context.Context, wait bool) (func(), error) {
	token := uuid.NewString()
	for {
		ok, err := r.client.SetNX(ctx, r.key, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("passlock: acquire: %w", err)
		}
		if ok {
			return r.hold(token), nil
		}
		if !wait {
			return nil, apperr.ErrBusy
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("passlock: %w", ctx.Err())
		case <-time.After(pollInterval):
		}
	}
}

// hold keeps extending the lease until the returned func is called.
func (r *Redis) hold(token string) func() {
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(r.ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				n, err := extendScript.Run(context.Background(), r.client, []string{r.key}, token, r.ttl.Milliseconds()).Int()
				if err != nil {
					r.logger.Warn("passlock: extend lease failed", slog.String("error", err.Error()))
					continue
				}
				if n == 0 {
					r.logger.Warn("passlock: lease lost")
					return
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, r.client, []string{r.key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
				r.logger.Warn("passlock: release failed", slog.String("error", err.Error()))
			}
		})
	}
}

// Close closes the Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}
