package provision

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrAlreadyProvisioning is returned when a server with the same name is
// still being followed by another monitor.
var ErrAlreadyProvisioning = errors.New("a server with this name is already being set up")

// Claims guards against two monitors for the same server name. A claim is
// identified by the token returned from Acquire.
type Claims interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, name, token string) error
}

func claimKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// LocalClaims keeps claims in process memory.
type LocalClaims struct {
	mu   sync.Mutex
	held map[string]string
}

func NewLocalClaims() *LocalClaims {
	return &LocalClaims{held: make(map[string]string)}
}

func (c *LocalClaims) Acquire(_ context.Context, name string, _ time.Duration) (string, bool, error) {
	key := claimKey(name)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, taken := c.held[key]; taken {
		return "", false, nil
	}
	token := uuid.NewString()
	c.held[key] = token
	return token, true, nil
}

func (c *LocalClaims) Release(_ context.Context, name, token string) error {
	key := claimKey(name)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.held[key] == token {
		delete(c.held, key)
	}
	return nil
}

// releaseScript deletes the key only while it still holds our token, so an
// expired claim re-acquired by someone else is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisClaims shares claims between processes through SET NX with a TTL.
type RedisClaims struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisClaims(client redis.UniversalClient, prefix string) *RedisClaims {
	return &RedisClaims{client: client, prefix: prefix}
}

func (c *RedisClaims) key(name string) string {
	return c.prefix + claimKey(name)
}

func (c *RedisClaims) Acquire(ctx context.Context, name string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := c.client.SetNX(ctx, c.key(name), token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("redis claim %q: %w", name, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (c *RedisClaims) Release(ctx context.Context, name, token string) error {
	if err := releaseScript.Run(ctx, c.client, []string{c.key(name)}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis release %q: %w", name, err)
	}
	return nil
}
