package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_GetSetDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(10)

	_, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Minute))
	val, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", string(val))

	require.NoError(t, s.Delete(ctx, "k"))
	_, ok, _ = s.Get(ctx, "k")
	assert.False(t, ok)
}

func TestMemoryStore_TTL(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(10)
	now := time.Now()
	s.now = func() time.Time { return now }

	require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Second))
	_, ok, _ := s.Get(ctx, "k")
	assert.True(t, ok)

	now = now.Add(time.Second)
	_, ok, _ = s.Get(ctx, "k")
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())
}

func TestMemoryStore_EvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(2)

	require.NoError(t, s.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, s.Set(ctx, "b", []byte("2"), 0))
	_, _, _ = s.Get(ctx, "a")
	require.NoError(t, s.Set(ctx, "c", []byte("3"), 0))

	_, ok, _ := s.Get(ctx, "b")
	assert.False(t, ok, "b was least recently used")
	_, ok, _ = s.Get(ctx, "a")
	assert.True(t, ok)
	_, ok, _ = s.Get(ctx, "c")
	assert.True(t, ok)
}

func TestMemoryStore_EvictionSkipsGuardedKeys(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(2)
	s.SetEvictionGuard(func(key string) bool { return key == "a" })

	require.NoError(t, s.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, s.Set(ctx, "b", []byte("2"), 0))
	require.NoError(t, s.Set(ctx, "c", []byte("3"), 0))

	_, ok, _ := s.Get(ctx, "a")
	assert.True(t, ok)
	_, ok, _ = s.Get(ctx, "b")
	assert.False(t, ok)
}

func TestMemoryStore_ExceedsCapacityWhenAllGuarded(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(1)
	s.SetEvictionGuard(func(string) bool { return true })

	require.NoError(t, s.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, s.Set(ctx, "b", []byte("2"), 0))

	assert.Equal(t, 2, s.Len())
}

func TestMemoryStore_CompareAndSet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(10)

	ok, err := s.CompareAndSet(ctx, "lock", nil, []byte("me"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.CompareAndSet(ctx, "lock", nil, []byte("other"), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "set-if-absent must fail while held")

	ok, _ = s.CompareAndSet(ctx, "lock", []byte("other"), []byte("x"), time.Minute)
	assert.False(t, ok)

	ok, _ = s.CompareAndSet(ctx, "lock", []byte("me"), []byte("next"), time.Minute)
	assert.True(t, ok)

	val, _, _ := s.Get(ctx, "lock")
	assert.Equal(t, "next", string(val))
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(10)

	in := []byte("abc")
	require.NoError(t, s.Set(ctx, "k", in, 0))
	in[0] = 'x'

	out, _, _ := s.Get(ctx, "k")
	assert.Equal(t, "abc", string(out))
	out[0] = 'y'

	again, _, _ := s.Get(ctx, "k")
	assert.Equal(t, "abc", string(again))
}

func TestMemoryStore_CompareAndDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(10)
	require.NoError(t, s.Set(ctx, "lock", []byte("me"), time.Minute))

	ok, err := s.CompareAndDelete(ctx, "lock", []byte("other"))
	require.NoError(t, err)
	assert.False(t, ok)
	_, held, _ := s.Get(ctx, "lock")
	assert.True(t, held)

	ok, err = s.CompareAndDelete(ctx, "lock", []byte("me"))
	require.NoError(t, err)
	assert.True(t, ok)
	_, held, _ = s.Get(ctx, "lock")
	assert.False(t, held)
}

func TestMemoryStore_EvictsExpiredBeforeLive(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(3)
	now := time.Now()
	s.now = func() time.Time { return now }

	require.NoError(t, s.Set(ctx, "old", []byte("1"), 0))
	require.NoError(t, s.Set(ctx, "short", []byte("2"), time.Second))
	require.NoError(t, s.Set(ctx, "long", []byte("3"), time.Hour))

	now = now.Add(2 * time.Second)
	require.NoError(t, s.Set(ctx, "new", []byte("4"), 0))

	assert.Equal(t, 3, s.Len())
	_, ok, _ := s.Get(ctx, "old")
	assert.True(t, ok, "expired keys go before the least recently used live key")
	_, ok, _ = s.Get(ctx, "short")
	assert.False(t, ok)
}

func TestMemoryStore_TTLUpdatesKeepExpiryOrder(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(2)
	now := time.Now()
	s.now = func() time.Time { return now }

	require.NoError(t, s.Set(ctx, "a", []byte("1"), time.Second))
	require.NoError(t, s.Set(ctx, "b", []byte("2"), time.Hour))
	// a no longer expires, b now expires first
	require.NoError(t, s.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, s.Set(ctx, "b", []byte("2"), time.Second))
	require.NoError(t, s.Delete(ctx, "missing"))

	now = now.Add(2 * time.Second)
	require.NoError(t, s.Set(ctx, "c", []byte("3"), 0))

	_, ok, _ := s.Get(ctx, "a")
	assert.True(t, ok)
	_, ok, _ = s.Get(ctx, "b")
	assert.False(t, ok)
	assert.Empty(t, s.expiries)
}
