package mailbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRedis struct {
	keys    map[string]time.Duration
	failErr error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{keys: map[string]time.Duration{}}
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, _ any, exp time.Duration) *redis.BoolCmd {
	if f.failErr != nil {
		return redis.NewBoolResult(false, f.failErr)
	}
	if _, ok := f.keys[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.keys[key] = exp
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	if f.failErr != nil {
		return redis.NewIntResult(0, f.failErr)
	}
	var n int64
	for _, k := range keys {
		if _, ok := f.keys[k]; ok {
			delete(f.keys, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func TestDedupFilter_IsNew(t *testing.T) {
	rdb := newFakeRedis()
	f := NewDedupFilter(rdb, 0, "")
	ctx := context.Background()

	first, err := f.IsNew(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, first)

	again, err := f.IsNew(ctx, "m1")
	require.NoError(t, err)
	assert.False(t, again)

	assert.Equal(t, DefaultDedupTTL, rdb.keys["intake:seen:m1"])
}

func TestDedupFilter_Forget(t *testing.T) {
	rdb := newFakeRedis()
	f := NewDedupFilter(rdb, time.Hour, "test:")
	ctx := context.Background()

	_, err := f.IsNew(ctx, "m1")
	require.NoError(t, err)
	require.NoError(t, f.Forget(ctx, "m1"))

	ok, err := f.IsNew(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, time.Hour, rdb.keys["test:m1"])
}

func TestDedupFilter_Errors(t *testing.T) {
	rdb := newFakeRedis()
	rdb.failErr = errors.New("connection refused")
	f := NewDedupFilter(rdb, 0, "")

	_, err := f.IsNew(context.Background(), "m1")
	assert.ErrorContains(t, err, "dedup setnx")
	assert.ErrorContains(t, f.Forget(context.Background(), "m1"), "dedup forget")
}

func TestNewDedupFilterFromURL(t *testing.T) {
	f, rdb, err := NewDedupFilterFromURL("redis://localhost:6379/2", time.Minute, "")
	require.NoError(t, err)
	defer rdb.Close() //nolint:errcheck
	assert.Equal(t, 2, rdb.Options().DB)
	assert.Equal(t, time.Minute, f.ttl)

	_, _, err = NewDedupFilterFromURL("://bad", 0, "")
	assert.Error(t, err)
}
