package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/connectsphere/server/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCache_LocalFallback(t *testing.T) {
	c, err := cache.NewCache(cache.Config{})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = c.Get(ctx, "nope")
	assert.True(t, cache.IsMiss(err))

	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))
	v, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)
	assert.False(t, cache.IsMiss(err))
}

func TestNewPubSub_LocalFallback(t *testing.T) {
	ps, err := cache.NewPubSub(cache.Config{LocalPubSubBuf: 4})
	require.NoError(t, err)
	ctx := context.Background()

	ch, cancel, err := ps.Subscribe(ctx, "notify:7")
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, ps.Publish(ctx, "notify:7", `{"id":1}`))
	select {
	case msg := <-ch:
		assert.Equal(t, "notify:7", msg.Channel)
		assert.JSONEq(t, `{"id":1}`, msg.Payload)
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for message")
	}
}

func TestNewCache_UnreachableRedis(t *testing.T) {
	_, err := cache.NewCache(cache.Config{RedisAddr: "127.0.0.1:1"})
	assert.Error(t, err)
}
