package rediscache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestRedisCache_GetSet(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(mr.Addr())

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, PackageKey("PKG1"), []byte(`{"trackingNumber":"PKG1"}`), time.Minute))

	b, ok, err := c.Get(ctx, PackageKey("PKG1"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte(`{"trackingNumber":"PKG1"}`), b)

	_, ok, err = c.Get(ctx, PackageKey("MISSING"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisCache_TTLExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(mr.Addr())

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	mr.FastForward(2 * time.Minute)

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPackageKey(t *testing.T) {
	require.Equal(t, "package:PKG1:current", PackageKey("PKG1"))
}

func TestRateLimiter_Allow(t *testing.T) {
	mr := miniredis.RunT(t)
	rl := NewRateLimiter(mr.Addr())

	ctx := context.Background()
	ok, n, err := rl.Allow(ctx, "rl:ship24:202506021200", 2, 70*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(1), n)

	ok, n, _ = rl.Allow(ctx, "rl:ship24:202506021200", 2, 70*time.Second)
	require.True(t, ok)
	require.Equal(t, int64(2), n)

	ok, n, _ = rl.Allow(ctx, "rl:ship24:202506021200", 2, 70*time.Second)
	require.False(t, ok)
	require.Equal(t, int64(3), n)
}
