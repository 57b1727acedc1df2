package redlock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) redis.UniversalClient {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestLockIsExclusive(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	first := NewLocker(client, "cycle_lock", "instance-a")
	second := NewLocker(client, "cycle_lock", "instance-b")

	require.NoError(t, first.Lock(ctx, time.Minute))
	assert.ErrorIs(t, second.Lock(ctx, time.Minute), ErrHeld)

	require.NoError(t, first.Unlock(ctx))
	assert.NoError(t, second.Lock(ctx, time.Minute))
}

func TestUnlockRequiresHolder(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	holder := NewLocker(client, "cycle_lock", "instance-a")
	intruder := NewLocker(client, "cycle_lock", "instance-b")

	require.NoError(t, holder.Lock(ctx, time.Minute))
	assert.Error(t, intruder.Unlock(ctx))
	assert.NoError(t, holder.Unlock(ctx))
}

func TestExtendLock(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	holder := NewLocker(client, "cycle_lock", "instance-a")
	require.NoError(t, holder.Lock(ctx, time.Second))
	assert.NoError(t, holder.ExtendLock(ctx, time.Minute))

	other := NewLocker(client, "cycle_lock", "instance-b")
	assert.Error(t, other.ExtendLock(ctx, time.Minute))
}
