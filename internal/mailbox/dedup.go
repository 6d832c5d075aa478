package mailbox

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

const (
	// DefaultDedupTTL is how long a seen id is remembered.
	DefaultDedupTTL = 24 * time.Hour

	defaultKeyPrefix = "intake:seen:"
)

// redisCmdable is the slice of the go-redis client the filter uses.
type redisCmdable interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// DedupFilter remembers mailbox ids already handed to the poller so
// overlapping listings do not enqueue the same message twice.
type DedupFilter struct {
	rdb    redisCmdable
	ttl    time.Duration
	prefix string
}

// NewDedupFilter creates a filter backed by Redis. Zero ttl and empty prefix
// take the defaults.
func NewDedupFilter(rdb redisCmdable, ttl time.Duration, prefix string) *DedupFilter {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &DedupFilter{rdb: rdb, ttl: ttl, prefix: prefix}
}

// NewDedupFilterFromURL parses a redis:// URL and connects lazily.
func NewDedupFilterFromURL(redisURL string, ttl time.Duration, prefix string) (*DedupFilter, *redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, nil, eris.Wrap(err, "mailbox: parse redis url")
	}
	rdb := redis.NewClient(opts)
	return NewDedupFilter(rdb, ttl, prefix), rdb, nil
}

// IsNew reports whether id has not been seen, marking it seen atomically.
func (f *DedupFilter) IsNew(ctx context.Context, id string) (bool, error) {
	set, err := f.rdb.SetNX(ctx, f.prefix+id, 1, f.ttl).Result()
	if err != nil {
		return false, eris.Wrap(err, "mailbox: dedup setnx")
	}
	return set, nil
}

// Forget clears id so a later listing can enqueue it again.
func (f *DedupFilter) Forget(ctx context.Context, id string) error {
	if err := f.rdb.Del(ctx, f.prefix+id).Err(); err != nil {
		return eris.Wrap(err, "mailbox: dedup forget")
	}
	return nil
}
