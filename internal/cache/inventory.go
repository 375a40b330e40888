package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	HandleKeyPrefix = "handle:%s"
)

const (
	HandleTTL = 5 * time.Minute
)

func HandleKey(handle string) string {
	return fmt.Sprintf(HandleKeyPrefix, handle)
}

// HandleCache is a read-through cache of handle -> user id. Misses are not
// cached, so a freshly claimed handle resolves at once. With a nil client
// every lookup goes to the loader.
type HandleCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewHandleCache(rdb *redis.Client) *HandleCache {
	return &HandleCache{rdb: rdb, ttl: HandleTTL}
}

// Lookup returns the cached owner of handle or calls load and caches its
// result.
func (h *HandleCache) Lookup(ctx context.Context, handle string, load func(context.Context, string) (string, error)) (string, error) {
	if h.rdb == nil {
		return load(ctx, handle)
	}
	uid, err := h.rdb.Get(ctx, HandleKey(handle)).Result()
	if err == nil {
		return uid, nil
	}
	if !errors.Is(err, redis.Nil) {
		// Cache trouble degrades to a direct read.
		return load(ctx, handle)
	}
	uid, err = load(ctx, handle)
	if err != nil {
		return "", err
	}
	h.rdb.Set(ctx, HandleKey(handle), uid, h.ttl)
	return uid, nil
}

// Invalidate drops cached entries for handles.
func (h *HandleCache) Invalidate(ctx context.Context, handles ...string) {
	if h.rdb == nil {
		return
	}
	keys := make([]string, 0, len(handles))
	for _, handle := range handles {
		if handle != "" {
			keys = append(keys, HandleKey(handle))
		}
	}
	if len(keys) > 0 {
		h.rdb.Del(ctx, keys...)
	}
}
