package redlock

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrHeld reports that the lock is owned by another holder. Callers that
// coordinate a shared duty, such as the dividend producer, treat it as a
// signal to stand down rather than as a failure.
var ErrHeld = errors.New("lock held by another instance")

// Release and extension only succeed when the stored value matches the
// holder's, so a lock that expired and was re-taken elsewhere cannot be
// touched by the previous owner.
const (
	releaseScript = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('del', KEYS[1]) else return 0 end"
	extendScript  = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('pexpire', KEYS[1], ARGV[2]) else return 0 end"
)

// Locker is a single-key Redis lock identified by a holder value. The
// dividend producer and the happy-hour trigger use it to ensure exactly one
// instance acts per cycle.
type Locker struct {
	client redis.UniversalClient
	key    string
	value  string
}

func NewLocker(client redis.UniversalClient, key, value string) *Locker {
	return &Locker{client: client, key: key, value: value}
}

// Lock claims the key for at most ttl. A claim already held elsewhere
// returns ErrHeld; any other error is a broker failure.
func (l *Locker) Lock(ctx context.Context, ttl time.Duration) error {
	acquired, err := l.client.SetNX(ctx, l.key, l.value, ttl).Result()
	if err != nil {
		return err
	}
	if !acquired {
		return fmt.Errorf("key %s: %w", l.key, ErrHeld)
	}
	return nil
}

func (l *Locker) Unlock(ctx context.Context) error {
	result, err := l.client.Eval(ctx, releaseScript, []string{l.key}, l.value).Result()
	if err != nil {
		return err
	}
	if result == int64(0) {
		return fmt.Errorf("unlock of %s refused: expired or not the holder", l.key)
	}
	return nil
}

func (l *Locker) ExtendLock(ctx context.Context, extension time.Duration) error {
	ms := strconv.FormatInt(extension.Milliseconds(), 10)
	result, err := l.client.Eval(ctx, extendScript, []string{l.key}, l.value, ms).Result()
	if err != nil {
		return err
	}
	if result == int64(0) {
		return fmt.Errorf("extension of %s refused: expired or not the holder", l.key)
	}
	return nil
}
