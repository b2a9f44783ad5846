package provision

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalClaims(t *testing.T) {
	ctx := context.Background()
	c := NewLocalClaims()

	token, ok, err := c.Acquire(ctx, "Survival", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = c.Acquire(ctx, "  survival ", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "names are compared case-insensitively")

	require.NoError(t, c.Release(ctx, "survival", "not-the-token"))
	_, ok, _ = c.Acquire(ctx, "survival", time.Minute)
	assert.False(t, ok, "a foreign token must not release the claim")

	require.NoError(t, c.Release(ctx, "survival", token))
	_, ok, _ = c.Acquire(ctx, "survival", time.Minute)
	assert.True(t, ok)
}

func newRedisClaims(t *testing.T) (*RedisClaims, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisClaims(client, "panelpilot:provision:"), mr
}

func TestRedisClaims(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedisClaims(t)

	token, ok, err := c.Acquire(ctx, "Survival", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, mr.Exists("panelpilot:provision:survival"))
	assert.Equal(t, time.Minute, mr.TTL("panelpilot:provision:survival"))

	_, ok, err = c.Acquire(ctx, "survival", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Release(ctx, "survival", "someone-else"))
	assert.True(t, mr.Exists("panelpilot:provision:survival"))

	require.NoError(t, c.Release(ctx, "survival", token))
	assert.False(t, mr.Exists("panelpilot:provision:survival"))
}

func TestRedisClaimsExpire(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedisClaims(t)

	_, ok, err := c.Acquire(ctx, "creative", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Minute)
	_, ok, err = c.Acquire(ctx, "creative", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "an expired claim can be taken again")
}

func TestRedisClaimsUnavailable(t *testing.T) {
	c, mr := newRedisClaims(t)
	mr.Close()
	_, _, err := c.Acquire(context.Background(), "creative", time.Minute)
	assert.Error(t, err)
}
