package notifications

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"vibesync/internal/models"
	"vibesync/internal/projection"
	"vibesync/internal/remote"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testEventuallyTimeout = time.Second
	testPollInterval      = 10 * time.Millisecond
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

// countingStore counts presence writes on top of a MemoryStore.
type countingStore struct {
	remote.Store
	writes atomic.Int32
}

func (c *countingStore) Update(ctx context.Context, ops ...remote.Op) error {
	c.writes.Add(1)
	return c.Store.Update(ctx, ops...)
}

func newCountingStore() *countingStore {
	return &countingStore{Store: remote.NewMemoryStore()}
}

func readPresence(t *testing.T, store remote.Store, viewerID string) (models.Presence, bool) {
	t.Helper()
	snap, err := store.Get(context.Background(), remote.RecordQuery(models.CollectionPresence, viewerID))
	require.NoError(t, err)
	p, ok, err := remote.DecodeOne[models.Presence](snap)
	require.NoError(t, err)
	return p, ok
}

func TestHub_GracePeriodSuppressesOfflineOnRapidReconnect(t *testing.T) {
	store := newCountingStore()
	hub := NewHub(nil, store, PresenceConfig{Grace: 40 * time.Millisecond})
	defer func() { _ = hub.Shutdown(context.Background()) }()

	clientA, err := hub.Register("u10", nil)
	assert.NoError(t, err)

	hub.UnregisterClient(clientA)
	_, err = hub.Register("u10", nil)
	assert.NoError(t, err)

	assert.Never(t, func() bool {
		p, ok := readPresence(t, store, "u10")
		return !ok || !p.Online
	}, 20*testPollInterval, testPollInterval)
	assert.True(t, hub.IsOnline("u10"))
	assert.Equal(t, int32(1), store.writes.Load())
}

func TestHub_MultiConnectionLastDisconnectWritesOfflineOnce(t *testing.T) {
	store := newCountingStore()
	hub := NewHub(nil, store, PresenceConfig{Grace: 30 * time.Millisecond})
	defer func() { _ = hub.Shutdown(context.Background()) }()

	clientA, err := hub.Register("u15", nil)
	assert.NoError(t, err)
	clientB, err := hub.Register("u15", nil)
	assert.NoError(t, err)
	assert.Equal(t, 2, hub.Connections())

	hub.UnregisterClient(clientA)
	assert.Never(t, func() bool {
		p, _ := readPresence(t, store, "u15")
		return !p.Online
	}, 30*testPollInterval, testPollInterval)

	hub.UnregisterClient(clientB)
	assert.Eventually(t, func() bool {
		p, ok := readPresence(t, store, "u15")
		return ok && !p.Online && p.LastSeen > 0
	}, testEventuallyTimeout, testPollInterval)
	assert.False(t, hub.IsOnline("u15"))
	assert.Never(t, func() bool {
		return store.writes.Load() != 2
	}, 10*testPollInterval, testPollInterval)
}

func TestHub_PresenceWithoutStoreTracksLocally(t *testing.T) {
	t.Parallel()
	hub := NewHub(nil, nil, PresenceConfig{Grace: 10 * time.Millisecond})
	defer func() { _ = hub.Shutdown(context.Background()) }()

	c, err := hub.Register("solo", nil)
	require.NoError(t, err)
	assert.True(t, hub.IsOnline("solo"))
	hub.UnregisterClient(c)
	assert.False(t, hub.IsOnline("solo"))
}

func TestHub_ConnectionLimitPerUser(t *testing.T) {
	t.Parallel()
	hub := NewHub(nil, nil, PresenceConfig{})
	defer func() { _ = hub.Shutdown(context.Background()) }()

	for range maxConnsPerUser {
		_, err := hub.Register("busy", nil)
		require.NoError(t, err)
	}
	_, err := hub.Register("busy", nil)
	assert.ErrorIs(t, err, ErrUserFull)
}

func TestHub_BroadcastReachesOnlyTargetViewer(t *testing.T) {
	t.Parallel()
	hub := NewHub(nil, nil, PresenceConfig{})
	defer func() { _ = hub.Shutdown(context.Background()) }()

	alice, err := hub.Register("alice", nil)
	require.NoError(t, err)
	bob, err := hub.Register("bob", nil)
	require.NoError(t, err)

	hub.Broadcast("alice", []byte(`{"type":"ping"}`))
	assert.Len(t, alice.Send, 1)
	assert.Empty(t, bob.Send)

	hub.BroadcastAll([]byte(`{"type":"all"}`))
	assert.Len(t, alice.Send, 2)
	assert.Len(t, bob.Send, 1)
}

func TestHub_TrySendDropsWhenFull(t *testing.T) {
	t.Parallel()
	hub := NewHub(nil, nil, PresenceConfig{})
	defer func() { _ = hub.Shutdown(context.Background()) }()

	c, err := hub.Register("slow", nil)
	require.NoError(t, err)
	for range sendBuffer + 5 {
		c.TrySend([]byte("x"))
	}
	assert.Len(t, c.Send, sendBuffer)
}

func TestPresence_SweepMarksExpiredViewersOffline(t *testing.T) {
	rdb := newTestRedis(t)
	store := newCountingStore()
	p := NewPresence(store, rdb, PresenceConfig{SweepInterval: time.Hour})
	defer p.Stop()

	ctx := context.Background()
	require.NoError(t, store.Update(ctx, remote.Set(remote.At(models.CollectionPresence, "u44"),
		models.Presence{UserID: "u44", Online: true, LastSeen: 1})))
	// Left behind by an instance that died without disconnecting.
	require.NoError(t, rdb.SAdd(ctx, presenceViewersKey, "u44").Err())

	p.sweep(ctx)

	isMember, err := rdb.SIsMember(ctx, presenceViewersKey, "u44").Result()
	assert.NoError(t, err)
	assert.False(t, isMember)
	rec, ok := readPresence(t, store, "u44")
	require.True(t, ok)
	assert.False(t, rec.Online)
}

func TestHub_PresenceVisibleAcrossInstances(t *testing.T) {
	rdb := newTestRedis(t)
	store := newCountingStore()
	a := NewHub(rdb, store, PresenceConfig{Grace: 20 * time.Millisecond})
	b := NewHub(rdb, store, PresenceConfig{Grace: 20 * time.Millisecond})
	defer func() { _ = a.Shutdown(context.Background()) }()
	defer func() { _ = b.Shutdown(context.Background()) }()

	_, err := a.Register("carol", nil)
	require.NoError(t, err)
	assert.True(t, b.IsOnline("carol"))

	// A connection that closes on b never takes carol offline while a still
	// holds one.
	cb, err := b.Register("carol", nil)
	require.NoError(t, err)
	b.UnregisterClient(cb)
	assert.Never(t, func() bool {
		p, _ := readPresence(t, store, "carol")
		return !p.Online
	}, 10*testPollInterval, testPollInterval)
	assert.True(t, b.IsOnline("carol"))
}

func TestPresence_HeartbeatRestoresOnlineAfterRemoteSettle(t *testing.T) {
	rdb := newTestRedis(t)
	store := newCountingStore()
	p := NewPresence(store, rdb, PresenceConfig{SweepInterval: time.Hour})
	defer p.Stop()

	ctx := context.Background()
	p.Connect(ctx, "dave")

	// Another instance settled dave offline and cleared the heartbeat.
	require.NoError(t, rdb.Del(ctx, presenceHeartbeatNS+"dave").Err())
	require.NoError(t, store.Update(ctx, remote.Set(remote.At(models.CollectionPresence, "dave"),
		models.Presence{UserID: "dave", Online: false, LastSeen: 1})))

	p.Heartbeat(ctx, "dave")
	rec, ok := readPresence(t, store, "dave")
	require.True(t, ok)
	assert.True(t, rec.Online)
}

func TestHub_DispatchRoutesChannels(t *testing.T) {
	t.Parallel()
	hub := NewHub(nil, nil, PresenceConfig{})
	defer func() { _ = hub.Shutdown(context.Background()) }()

	var gotMut projection.CommentMutation
	hub.OnCommentMutation(func(m projection.CommentMutation) { gotMut = m })
	var signedOut, reason string
	hub.OnSignOut(func(uid, r string) { signedOut, reason = uid, r })

	c, err := hub.Register("erin", nil)
	require.NoError(t, err)

	hub.dispatch(commentsChannel, `{"post_id":"p1","root_id":"c1"}`)
	assert.Equal(t, projection.CommentMutation{PostID: "p1", RootID: "c1"}, gotMut)

	hub.dispatch(UserChannel("erin"), `{"type":"sign_out","reason":"banned"}`)
	assert.Equal(t, "erin", signedOut)
	assert.Equal(t, "banned", reason)
	assert.Empty(t, c.Send)

	hub.dispatch(UserChannel("erin"), `{"type":"custom"}`)
	assert.Len(t, c.Send, 1)

	hub.dispatch(commentsChannel, `not json`)
	assert.Equal(t, "p1", gotMut.PostID)
}

func TestHub_CloseUserCountsOnlyTargetConnections(t *testing.T) {
	t.Parallel()
	hub := NewHub(nil, nil, PresenceConfig{})
	defer func() { _ = hub.Shutdown(context.Background()) }()

	_, err := hub.Register("frank", nil)
	require.NoError(t, err)
	_, err = hub.Register("frank", nil)
	require.NoError(t, err)
	_, err = hub.Register("gina", nil)
	require.NoError(t, err)

	assert.Equal(t, 2, hub.CloseUser("frank", "banned"))
	assert.Zero(t, hub.CloseUser("nobody", "banned"))
}
