package loadercache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpapenbr/race-progress/pkg/utils/cache"
)

func TestLoaderCache_Get(t *testing.T) {
	loads := 0
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	c := New(
		WithLoader(func(_ context.Context, key string) (*int, error) {
			loads++
			v := len(key)
			return &v, nil
		}),
		WithExpiration[string, int](time.Minute),
		WithNow[string, int](func() time.Time { return now }),
	)
	ctx := context.Background()

	v, err := c.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, 3, *v)
	_, _ = c.Get(ctx, "abc")
	assert.Equal(t, 1, loads, "second get should be served from cache")

	now = now.Add(2 * time.Minute)
	_, _ = c.Get(ctx, "abc")
	assert.Equal(t, 2, loads, "expired entry should be reloaded")

	c.Invalidate(ctx, "abc")
	_, _ = c.Get(ctx, "abc")
	assert.Equal(t, 3, loads, "invalidated entry should be reloaded")
}

func TestLoaderCache_Errors(t *testing.T) {
	ctx := context.Background()
	_, err := New[string, int]().Get(ctx, "x")
	assert.ErrorIs(t, err, cache.ErrCacheMiss)

	boom := errors.New("boom")
	c := New(WithLoader(func(_ context.Context, _ string) (*int, error) {
		return nil, boom
	}))
	_, err = c.Get(ctx, "x")
	assert.ErrorIs(t, err, boom)
}
