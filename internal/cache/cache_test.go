package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_ParsesURLAndAddr(t *testing.T) {
	t.Parallel()
	c, err := NewClient("redis://localhost:6380/2")
	require.NoError(t, err)
	assert.Equal(t, "localhost:6380", c.Options().Addr)
	assert.Equal(t, 2, c.Options().DB)

	c, err = NewClient("localhost:6379")
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", c.Options().Addr)

	_, err = NewClient("redis://%zz")
	assert.Error(t, err)
}

func TestInitRedis_UnreachableLeavesClientNil(t *testing.T) {
	InitRedis("127.0.0.1:1")
	assert.Nil(t, GetClient())
}

func TestHandleCache_ReadThrough(t *testing.T) {
	t.Parallel()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb, err := NewClient(mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })

	calls := 0
	load := func(_ context.Context, handle string) (string, error) {
		calls++
		if handle == "ghost" {
			return "", errors.New("not found")
		}
		return "uid-" + handle, nil
	}

	hc := NewHandleCache(rdb)
	ctx := context.Background()

	uid, err := hc.Lookup(ctx, "ana", load)
	require.NoError(t, err)
	assert.Equal(t, "uid-ana", uid)
	uid, err = hc.Lookup(ctx, "ana", load)
	require.NoError(t, err)
	assert.Equal(t, "uid-ana", uid)
	assert.Equal(t, 1, calls)

	_, err = hc.Lookup(ctx, "ghost", load)
	assert.Error(t, err)
	assert.False(t, mr.Exists(HandleKey("ghost")))

	hc.Invalidate(ctx, "ana", "")
	_, err = hc.Lookup(ctx, "ana", load)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestHandleCache_NilClientAlwaysLoads(t *testing.T) {
	t.Parallel()
	calls := 0
	hc := NewHandleCache(nil)
	for i := 0; i < 2; i++ {
		_, err := hc.Lookup(context.Background(), "ana", func(context.Context, string) (string, error) {
			calls++
			return "u", nil
		})
		require.NoError(t, err)
	}
	hc.Invalidate(context.Background(), "ana")
	assert.Equal(t, 2, calls)
}
