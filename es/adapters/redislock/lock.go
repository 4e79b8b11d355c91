// Package redislock provides a Redis-backed es.WriteLockStrategy,
// suitable for serializing projection runs across multiple processes or
// hosts.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/witzbould/event-store/es"
)

// releaseScript only deletes the key if it still holds the token we set,
// so a lock owner never releases a lease it no longer holds (e.g. after
// its TTL already expired and another runner acquired it).
var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	end
	return 0
`)

// Lock is a Redis SET-NX-PX advisory lock.
type Lock struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	owner  string
}

// Option configures a Lock.
type Option func(*Lock)

// WithKeyPrefix sets the prefix applied to every lock's Redis key.
// Defaults to "es:lock:".
func WithKeyPrefix(prefix string) Option {
	return func(l *Lock) { l.prefix = prefix }
}

// WithTTL sets the lease duration for acquired locks. Defaults to 30s.
// A projection runner holding a lock longer than this must renew it
// itself; this package does not auto-renew.
func WithTTL(ttl time.Duration) Option {
	return func(l *Lock) { l.ttl = ttl }
}

// New builds a Lock over client. owner identifies this process/runner in
// the lease so ReleaseLock never clears a lease another owner now holds;
// a random owner token is generated if owner is "".
func New(client *redis.Client, owner string, opts ...Option) *Lock {
	if owner == "" {
		owner = uuid.NewString()
	}
	l := &Lock{client: client, prefix: "es:lock:", ttl: 30 * time.Second, owner: owner}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Lock) key(name string) string {
	return l.prefix + name
}

// CreateLock implements es.WriteLockStrategy.
func (l *Lock) CreateLock(ctx context.Context, name string) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key(name), l.owner, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("es/redislock: acquire %q: %w", name, err)
	}
	return ok, nil
}

// ReleaseLock implements es.WriteLockStrategy.
func (l *Lock) ReleaseLock(ctx context.Context, name string) (bool, error) {
	res, err := releaseScript.Run(ctx, l.client, []string{l.key(name)}, l.owner).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("es/redislock: release %q: %w", name, err)
	}
	n, _ := res.(int64)
	return n == 1, nil
}

var _ es.WriteLockStrategy = (*Lock)(nil)
