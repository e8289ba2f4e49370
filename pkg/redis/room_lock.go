package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const lockKeyPrefix = "lock:room:"

var ErrLockTimeout = errors.New("timed out waiting for room lock")

var errLockHeld = errors.New("lock held")

// Deletes the key only when it still holds our token, so an expired lock
// taken over by another instance is never released by us.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RoomLocker serializes work on one room across server instances.
type RoomLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
	poll   time.Duration
}

func NewRoomLocker(client *redis.Client, ttl time.Duration) *RoomLocker {
	if ttl == 0 {
		ttl = 10 * time.Second
	}
	return &RoomLocker{
		client: client,
		ttl:    ttl,
		wait:   ttl,
		poll:   20 * time.Millisecond,
	}
}

// Lock blocks until the lock for key is acquired or the wait budget runs out.
func (l *RoomLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := lockKeyPrefix + key
	token := uuid.NewString()

	operation := func() (struct{}, error) {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return struct{}{}, backoff.Permanent(fmt.Errorf("failed to acquire room lock: %w", err))
		}
		if !ok {
			return struct{}{}, errLockHeld
		}
		return struct{}{}, nil
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(l.poll)),
		backoff.WithMaxElapsedTime(l.wait),
	)
	if err != nil {
		if errors.Is(err, errLockHeld) {
			return nil, ErrLockTimeout
		}
		return nil, err
	}

	return func() {
		// The caller's context may already be cancelled.
		if err := unlockScript.Run(context.Background(), l.client, []string{redisKey}, token).Err(); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Str("lock", redisKey).Msg("failed to release room lock")
		}
	}, nil
}
