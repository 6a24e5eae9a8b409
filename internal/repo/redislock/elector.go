// Package redislock arbitrates replication leadership between processes
// with expiring Redis leases.
package redislock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "chat-replica:leader:"

// acquireScript takes a free lease or renews one already held by ARGV[1].
var acquireScript = redis.NewScript(`
local holder = redis.call("get", KEYS[1])
if holder == ARGV[1] then
	redis.call("pexpire", KEYS[1], ARGV[2])
	return 1
end
if not holder then
	redis.call("set", KEYS[1], ARGV[1], "PX", ARGV[2])
	return 1
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

type Elector struct {
	client redis.Scripter
	holder string
	ttl    time.Duration
}

// NewElector returns an elector identified by holder. A holder that stops
// renewing loses the lease after ttl.
func NewElector(client redis.Scripter, holder string, ttl time.Duration) *Elector {
	return &Elector{client: client, holder: holder, ttl: ttl}
}

func NewClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	opts.PoolSize = 10
	opts.MinIdleConns = 2
	opts.MaxRetries = 3
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

func (e *Elector) Acquire(ctx context.Context, key string) (bool, error) {
	n, err := acquireScript.Run(ctx, e.client, []string{keyPrefix + key}, e.holder, e.ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", key, err)
	}
	return n == 1, nil
}

func (e *Elector) Release(ctx context.Context, key string) error {
	if err := releaseScript.Run(ctx, e.client, []string{keyPrefix + key}, e.holder).Err(); err != nil {
		return fmt.Errorf("release lease %s: %w", key, err)
	}
	return nil
}
