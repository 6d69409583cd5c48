package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Shivanand-hulikatti/listening-parties/internal/lib/logger/sl"
)

// ErrNotAcquired is returned when the lock could not be taken before ctx ended.
var ErrNotAcquired = errors.New("lock not acquired")

// releaseScript deletes the key only if it still holds our token, so a lock
// that expired and was re-taken by another instance is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a lock shared by every instance pointing at the same Redis.
type Redis struct {
	log    *slog.Logger
	client redis.UniversalClient
	ttl    time.Duration
	retry  time.Duration
	prefix string
}

// NewRedis constructs a Redis locker. ttl bounds how long a crashed holder can
// keep a scope locked and must exceed the longest conflict-check-and-write.
func NewRedis(log *slog.Logger, client redis.UniversalClient, ttl time.Duration) *Redis {
	return &Redis{
		log:    log,
		client: client,
		ttl:    ttl,
		retry:  25 * time.Millisecond,
		prefix: "lp:lock:",
	}
}

// Lock polls SET NX PX until it succeeds or ctx is done.
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	const op = "lock.redis.Lock"

	k := r.prefix + key
	token := uuid.NewString()

	for {
		ok, err := r.client.SetNX(ctx, k, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if ok {
			break
		}

		t := time.NewTimer(r.retry)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, fmt.Errorf("%s: %w: %w", op, ErrNotAcquired, ctx.Err())
		case <-t.C:
		}
	}

	return func() { r.release(k, token) }, nil
}

// release drops the lock if it still holds token. A failed release leaves the
// scope locked until the TTL expires.
func (r *Redis) release(key, token string) {
	// The request context may already be done; release on a fresh one.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := releaseScript.Run(ctx, r.client, []string{key}, token).Err(); err != nil {
		r.log.Error("failed to release scope lock",
			slog.String("op", "lock.redis.release"),
			slog.String("key", key),
			slog.Duration("expires_in", r.ttl),
			sl.Err(err),
		)
	}
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}
