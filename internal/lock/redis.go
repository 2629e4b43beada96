package lock

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only if it still carries the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis implements Locker with SET NX PX and a compare-and-delete script.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "voteagg"
	}
	return &Redis{client: client, prefix: prefix + ":lock:"}
}

func (r *Redis) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	token := newToken()
	ok, err := r.client.SetNX(ctx, r.prefix+key, token, ttl).Result()
	if err != nil {
		return Lease{}, fmt.Errorf("%w: acquire %s: %v", ErrUnavailable, key, err)
	}
	if !ok {
		return Lease{}, ErrNotAcquired
	}
	return Lease{Key: key, Token: token, ExpiresAt: time.Now().Add(ttl)}, nil
}

func (r *Redis) Release(ctx context.Context, lease Lease) error {
	n, err := releaseScript.Run(ctx, r.client, []string{r.prefix + lease.Key}, lease.Token).Int64()
	if err != nil {
		return fmt.Errorf("%w: release %s: %v", ErrUnavailable, lease.Key, err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

var _ Locker = (*Redis)(nil)
