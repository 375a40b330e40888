package notifications

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"vibesync/internal/projection"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifier_NilRedisIsNoop(t *testing.T) {
	t.Parallel()
	n := NewNotifier(nil)
	assert.False(t, n.Enabled())
	assert.NoError(t, n.PublishUser(context.Background(), "u1", "test payload"))
	assert.NoError(t, n.PublishSignOut(context.Background(), "u1", "banned"))
	assert.NoError(t, n.PublishCommentMutation(context.Background(), projection.CommentMutation{PostID: "p"}))
	assert.NoError(t, n.StartPatternSubscriber(context.Background(), func(string, string) {}))
}

func TestUserChannel(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "notifications:user:abc", UserChannel("abc"))
}

func TestCommentFanout_LocalWithoutRedis(t *testing.T) {
	t.Parallel()
	var got []projection.CommentMutation
	f := NewCommentFanout(NewNotifier(nil), func(m projection.CommentMutation) { got = append(got, m) })

	f.Publish(context.Background(), projection.CommentMutation{PostID: "p1"})
	f.Publish(context.Background(), projection.CommentMutation{})
	assert.Equal(t, []projection.CommentMutation{{PostID: "p1"}}, got)
}

func TestCommentFanout_RoundTripsThroughRedis(t *testing.T) {
	rdb := newTestRedis(t)
	n := NewNotifier(rdb)
	hub := NewHub(rdb, nil, PresenceConfig{})
	defer func() { _ = hub.Shutdown(context.Background()) }()

	var mu sync.Mutex
	var got []projection.CommentMutation
	hub.OnCommentMutation(func(m projection.CommentMutation) {
		mu.Lock()
		got = append(got, m)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, hub.StartWiring(ctx, n))

	var local int32
	f := NewCommentFanout(n, func(projection.CommentMutation) { atomic.AddInt32(&local, 1) })
	f.Publish(context.Background(), projection.CommentMutation{PostID: "p9", RootID: "r1"})

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1 && got[0].RootID == "r1"
	}, testEventuallyTimeout, testPollInterval)
	assert.Zero(t, atomic.LoadInt32(&local))
}

func TestNotifier_SubscriberStopsOnCancel(t *testing.T) {
	rdb := newTestRedis(t)
	n := NewNotifier(rdb)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var received int32
	payloads := make(chan string, 2)
	require.NoError(t, n.StartPatternSubscriber(ctx, func(_ string, payload string) {
		atomic.AddInt32(&received, 1)
		payloads <- payload
	}))

	require.NoError(t, n.PublishUser(context.Background(), "u1", "before-cancel"))
	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&received) >= 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	time.Sleep(20 * time.Millisecond)

	// Drain the pre-cancel message to avoid false positives.
	select {
	case <-payloads:
	default:
	}

	require.NoError(t, n.PublishUser(context.Background(), "u1", "after-cancel"))
	assert.Never(t, func() bool {
		select {
		case payload := <-payloads:
			return payload == "after-cancel"
		default:
			return false
		}
	}, 200*time.Millisecond, 10*time.Millisecond)
}
