package ordernum

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ariefcatur/go-storefront-core/internal/redisx"
	"github.com/redis/go-redis/v9"
)

// MaxScanner reports the highest persisted sequence for a key, zero when none.
type MaxScanner interface {
	MaxSequence(ctx context.Context, key string) (int, error)
}

// ScanSequencer reads the persisted maximum on every call and proposes the
// next value. It never caches, so a retry always sees a fresh maximum.
type ScanSequencer struct {
	Store MaxScanner
}

func (s ScanSequencer) Next(ctx context.Context, key string, _ bool) (int, error) {
	top, err := s.Store.MaxSequence(ctx, key)
	if err != nil {
		return 0, err
	}
	return top + 1, nil
}

// KEYS[1] counter key
// ARGV[1] seed, empty when the caller has not scanned yet
// ARGV[2] ttl in milliseconds
// Returns -1 when the counter is missing and no seed was given.
var incrScript = redis.NewScript(`
local cur = redis.call('get', KEYS[1])
if ARGV[1] == '' then
    if not cur then
        return -1
    end
else
    local seed = tonumber(ARGV[1])
    if not cur or tonumber(cur) < seed then
        redis.call('set', KEYS[1], seed)
    end
end
local n = redis.call('incr', KEYS[1])
redis.call('pexpire', KEYS[1], ARGV[2])
return n
`)

// RedisSequencer is an atomic per-key counter. A missing or stale counter is
// seeded from the persisted maximum so a flushed Redis cannot hand out numbers
// already in use.
type RedisSequencer struct {
	Client redis.Scripter
	Seed   MaxScanner
	TTL    time.Duration
}

func (s RedisSequencer) Next(ctx context.Context, key string, resync bool) (int, error) {
	ttl := s.TTL
	if ttl <= 0 {
		ttl = redisx.TTLOrderSeq
	}
	rkey := fmt.Sprintf(redisx.KeyOrderSeq, key)

	if !resync {
		n, err := incrScript.Run(ctx, s.Client, []string{rkey}, "", ttl.Milliseconds()).Int64()
		if err != nil {
			return 0, err
		}
		if n > 0 {
			return int(n), nil
		}
	}

	top, err := s.Seed.MaxSequence(ctx, key)
	if err != nil {
		return 0, err
	}
	n, err := incrScript.Run(ctx, s.Client, []string{rkey}, strconv.Itoa(top), ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
