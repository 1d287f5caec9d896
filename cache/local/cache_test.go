package local

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *LocalCache {
	c, err := NewCache(Config{GCInterval: time.Minute})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestSetNX(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	ok, err := c.SetNX(ctx, "cooldown:1", "1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.SetNX(ctx, "cooldown:1", "1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSetNX_AfterExpiry(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	ok, _ := c.SetNX(ctx, "k", "1", 20*time.Millisecond)
	require.True(t, ok)
	time.Sleep(40 * time.Millisecond)

	ok, err := c.SetNX(ctx, "k", "1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHash(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.HSet(ctx, "char:1", map[string]string{"name": "Alice", "tag": "ABC"}))
	require.NoError(t, c.HSet(ctx, "char:1", map[string]string{"tag": "XYZ"}))

	got, err := c.HGetAll(ctx, "char:1")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"name": "Alice", "tag": "XYZ"}, got)

	missing, err := c.HGetAll(ctx, "char:2")
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestExpire_Hash(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.HSet(ctx, "h", map[string]string{"a": "1"}))
	require.NoError(t, c.Expire(ctx, "h", 20*time.Millisecond))
	time.Sleep(40 * time.Millisecond)

	got, err := c.HGetAll(ctx, "h")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestExpire_Missing(t *testing.T) {
	c := newTestCache(t)
	assert.ErrorIs(t, c.Expire(context.Background(), "nope", time.Second), ErrNotFound)
}

func TestDel_AllKeyspaces(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	_, _ = c.SetNX(ctx, "k", "v", 0)
	_ = c.HSet(ctx, "h", map[string]string{"a": "1"})
	_ = c.SAdd(ctx, "s", "x")
	require.NoError(t, c.Del(ctx, "k", "h", "s"))

	ok, _ := c.SetNX(ctx, "k", "v", 0)
	assert.True(t, ok)
	h, _ := c.HGetAll(ctx, "h")
	assert.Empty(t, h)
	s, _ := c.SMembers(ctx, "s")
	assert.Empty(t, s)
}

func TestSet(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.SAdd(ctx, "presence:online", "1", "2", "3"))
	require.NoError(t, c.SRem(ctx, "presence:online", "2"))

	members, err := c.SMembers(ctx, "presence:online")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"1", "3"}, members)
}

func TestSweep_RemovesExpired(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	_, _ = c.SetNX(ctx, "k", "v", time.Millisecond)
	_ = c.HSet(ctx, "h", map[string]string{"a": "1"})
	_ = c.Expire(ctx, "h", time.Millisecond)

	c.sweep(time.Now().Add(time.Second))
	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Empty(t, c.kv)
	assert.Empty(t, c.hashes)
}
