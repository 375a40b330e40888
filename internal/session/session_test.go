package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"vibesync/internal/models"
	"vibesync/internal/projection"
	"vibesync/internal/remote"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testEventuallyTimeout = 2 * time.Second
	testPollInterval      = 10 * time.Millisecond
	testNeverWindow       = 200 * time.Millisecond
)

type recordingSink struct {
	mu     sync.Mutex
	frames []Frame
}

func (s *recordingSink) Send(f Frame) {
	s.mu.Lock()
	s.frames = append(s.frames, f)
	s.mu.Unlock()
}

// last returns the most recent frame of the given type.
func (s *recordingSink) last(frameType string) (Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.frames) - 1; i >= 0; i-- {
		if s.frames[i].Type == frameType {
			return s.frames[i], true
		}
	}
	return Frame{}, false
}

func (s *recordingSink) count(frameType string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, f := range s.frames {
		if f.Type == frameType {
			n++
		}
	}
	return n
}

func (s *recordingSink) states() []State {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []State
	for _, f := range s.frames {
		if f.Type == FrameSession {
			out = append(out, f.Payload.(StatePayload).State)
		}
	}
	return out
}

// countingIdentity counts SignOut calls on top of a connection identity.
type countingIdentity struct {
	*ConnIdentity
	signOuts atomic.Int32
	reasons  sync.Map
}

func newCountingIdentity(uid string) *countingIdentity {
	return &countingIdentity{ConnIdentity: NewConnIdentity(uid, nil)}
}

func (c *countingIdentity) SignOut(ctx context.Context, reason string) error {
	c.signOuts.Add(1)
	c.reasons.Store(reason, true)
	return c.ConnIdentity.SignOut(ctx, reason)
}

type stubActions struct {
	markReadFn func(ctx context.Context, viewerID string, ids []string) error
	chatFn     func(ctx context.Context, viewerID, friendID string) (models.Conversation, error)
}

func (s *stubActions) MarkRead(ctx context.Context, viewerID string, ids []string) error {
	return s.markReadFn(ctx, viewerID, ids)
}

func (s *stubActions) GetOrCreateConversation(ctx context.Context, viewerID, friendID string) (models.Conversation, error) {
	return s.chatFn(ctx, viewerID, friendID)
}

type stubAlerts struct {
	deliverFn func(ctx context.Context, viewerID string, n models.Notification) (bool, error)
}

func (s *stubAlerts) DeliverAlert(ctx context.Context, viewerID string, n models.Notification) (bool, error) {
	return s.deliverFn(ctx, viewerID, n)
}

func completeUser(id string, friends ...string) models.User {
	return models.User{ID: id, DisplayName: "User " + id, Handle: id, Friends: models.NewIDSet(friends...)}
}

func put(t *testing.T, store remote.Store, ops ...remote.Op) {
	t.Helper()
	require.NoError(t, store.Update(context.Background(), ops...))
}

func startSession(t *testing.T, store remote.Store, identity Identity, deps Deps) (*Session, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	deps.Store = store
	deps.Identity = identity
	deps.Sink = sink
	s := New("test-session", Config{FeedPageSize: 25, CommentPageSize: 20, StoryTick: time.Hour}, deps)
	s.Start()
	t.Cleanup(s.Close)
	return s, sink
}

func waitForState(t *testing.T, s *Session, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return s.State() == want },
		testEventuallyTimeout, testPollInterval, "session never reached %s", want)
}

func TestSession_BanMidSessionSignsOutOnce(t *testing.T) {
	t.Parallel()
	store := remote.NewMemoryStore()
	put(t, store, remote.Set(remote.At(models.CollectionUsers, "me"), completeUser("me")))
	identity := newCountingIdentity("me")
	s, sink := startSession(t, store, identity, Deps{})

	waitForState(t, s, Active)
	require.Eventually(t, func() bool { return store.Subscriptions() > 1 },
		testEventuallyTimeout, testPollInterval)

	put(t, store, remote.Set(remote.At(models.CollectionUsers, "me").Child("is_banned"), true))

	waitForState(t, s, Unauthenticated)
	require.Eventually(t, func() bool { return identity.signOuts.Load() == 1 },
		testEventuallyTimeout, testPollInterval)
	assert.Never(t, func() bool { return identity.signOuts.Load() > 1 },
		testNeverWindow, testPollInterval)

	_, banned := identity.reasons.Load(ReasonBanned)
	assert.True(t, banned)
	assert.Empty(t, identity.UID())
	assert.Contains(t, sink.states(), Banned)
	assert.Equal(t, Unauthenticated, sink.states()[len(sink.states())-1])
	assert.Eventually(t, func() bool { return store.Subscriptions() == 0 },
		testEventuallyTimeout, testPollInterval, "every subscription is torn down")
}

func TestSession_IncompleteProfileBecomesActive(t *testing.T) {
	t.Parallel()
	store := remote.NewMemoryStore()
	s, sink := startSession(t, store, NewConnIdentity("me", nil), Deps{})

	waitForState(t, s, ProfileIncomplete)
	assert.Equal(t, 1, store.Subscriptions(), "only the profile is watched before the profile is complete")

	put(t, store, remote.Set(remote.At(models.CollectionUsers, "me"), models.User{ID: "me", DisplayName: "Me"}))
	assert.Never(t, func() bool { return s.State() == Active }, testNeverWindow, testPollInterval)

	put(t, store, remote.Set(remote.At(models.CollectionUsers, "me").Child("handle"), "me"))
	waitForState(t, s, Active)
	require.Eventually(t, func() bool {
		_, ok := sink.last(FrameFeed)
		return ok
	}, testEventuallyTimeout, testPollInterval)

	// Clearing the handle tears the viewer subscriptions down again.
	put(t, store, remote.Remove(remote.At(models.CollectionUsers, "me").Child("handle")))
	waitForState(t, s, ProfileIncomplete)
	assert.Eventually(t, func() bool { return store.Subscriptions() == 1 },
		testEventuallyTimeout, testPollInterval)
}

func TestSession_SignOutTearsDownSynchronously(t *testing.T) {
	t.Parallel()
	store := remote.NewMemoryStore()
	put(t, store, remote.Set(remote.At(models.CollectionUsers, "me"), completeUser("me")))
	identity := NewConnIdentity("me", nil)
	s, _ := startSession(t, store, identity, Deps{})
	waitForState(t, s, Active)

	require.NoError(t, identity.SignOut(context.Background(), "user"))
	waitForState(t, s, Unauthenticated)
	assert.Equal(t, 0, store.Subscriptions())
	assert.Empty(t, s.ViewerID())
}

// failingStore fails every read of the users collection.
type failingStore struct {
	*remote.MemoryStore
}

func (f failingStore) Subscribe(ctx context.Context, q remote.Query, fn func(remote.Snapshot, error)) (func(), error) {
	if q.Collection == models.CollectionUsers {
		go fn(remote.Snapshot{}, errors.New("permission denied"))
		return func() {}, nil
	}
	return f.MemoryStore.Subscribe(ctx, q, fn)
}

func TestSession_ProfileReadErrorIsFatal(t *testing.T) {
	t.Parallel()
	identity := newCountingIdentity("me")
	s, sink := startSession(t, failingStore{remote.NewMemoryStore()}, identity, Deps{})

	require.Eventually(t, func() bool {
		f, ok := sink.last(FrameError)
		return ok && f.Code == models.CodeSessionTerminated
	}, testEventuallyTimeout, testPollInterval)
	assert.Equal(t, Unauthenticated, s.State())
	assert.Eventually(t, func() bool { return identity.signOuts.Load() == 1 },
		testEventuallyTimeout, testPollInterval)
	_, failed := identity.reasons.Load(ReasonProfileReadFailed)
	assert.True(t, failed)
}

func feedFrame(sink *recordingSink) (projection.FeedView, bool) {
	f, ok := sink.last(FrameFeed)
	if !ok {
		return projection.FeedView{}, false
	}
	return f.Payload.(projection.FeedView), true
}

func TestSession_FeedPagination(t *testing.T) {
	t.Parallel()
	store := remote.NewMemoryStore()
	put(t, store,
		remote.Set(remote.At(models.CollectionUsers, "me"), completeUser("me")),
		remote.Set(remote.At(models.CollectionUsers, "author"), completeUser("author")),
	)
	ops := make([]remote.Op, 0, 30)
	public := models.PrivacyPublic
	for i := 1; i <= 30; i++ {
		p := models.Post{ID: fmt.Sprintf("p%02d", i), OwnerID: "author", Privacy: &public, CreatedAt: int64(i * 1000)}
		ops = append(ops, remote.Set(remote.At(models.CollectionPosts, p.ID), p))
	}
	put(t, store, ops...)

	s, sink := startSession(t, store, NewConnIdentity("me", nil), Deps{})
	waitForState(t, s, Active)

	require.Eventually(t, func() bool {
		v, ok := feedFrame(sink)
		return ok && len(v.Items) == 25 && v.Items[0].Author != nil
	}, testEventuallyTimeout, testPollInterval)
	v, _ := feedFrame(sink)
	assert.True(t, v.HasMore)

	s.Handle(Intent{Type: IntentLoadMoreFeed})
	require.Eventually(t, func() bool {
		v, ok := feedFrame(sink)
		return ok && len(v.Items) == 30 && !v.Loading
	}, testEventuallyTimeout, testPollInterval)
	v, _ = feedFrame(sink)
	assert.False(t, v.HasMore)
	assert.Equal(t, "p01", v.Items[29].Post.ID)
}

func TestSession_AlertsOnlyInBackground(t *testing.T) {
	t.Parallel()
	store := remote.NewMemoryStore()
	put(t, store,
		remote.Set(remote.At(models.CollectionUsers, "me"), completeUser("me", "bob")),
		remote.Set(remote.At(models.CollectionUsers, "bob"), completeUser("bob", "me")),
		remote.Set(remote.At(models.NotificationsPath("me"), "n0"),
			models.Notification{SenderID: "bob", Kind: models.NotificationLike, CreatedAt: 1}),
	)

	var delivered sync.Map
	alerts := &stubAlerts{deliverFn: func(_ context.Context, viewerID string, n models.Notification) (bool, error) {
		_, dup := delivered.LoadOrStore(viewerID+"/"+n.ID, true)
		return !dup, nil
	}}
	s, sink := startSession(t, store, NewConnIdentity("me", nil), Deps{Alerts: alerts})
	waitForState(t, s, Active)
	require.Eventually(t, func() bool {
		f, ok := sink.last(FrameNotifications)
		return ok && f.Payload.(projection.NotificationsView).Unread == 1
	}, testEventuallyTimeout, testPollInterval)

	// Foreground arrival: counted but no alert.
	put(t, store, remote.Set(remote.At(models.NotificationsPath("me"), "n1"),
		models.Notification{SenderID: "bob", Kind: models.NotificationComment, CreatedAt: 2}))
	require.Eventually(t, func() bool {
		f, ok := sink.last(FrameNotifications)
		return ok && f.Payload.(projection.NotificationsView).Unread == 2
	}, testEventuallyTimeout, testPollInterval)
	assert.Zero(t, sink.count(FrameAlert))

	background := false
	s.Handle(Intent{Type: IntentSetForeground, Foreground: &background})
	put(t, store,
		remote.Set(remote.At(models.NotificationsPath("me"), "n2"),
			models.Notification{SenderID: "bob", Kind: models.NotificationMention, CreatedAt: 3}),
		remote.Set(remote.At(models.NotificationsPath("me"), "n3"),
			models.Notification{SenderID: "me", Kind: models.NotificationLike, CreatedAt: 4}),
	)
	require.Eventually(t, func() bool { return sink.count(FrameAlert) == 1 },
		testEventuallyTimeout, testPollInterval)
	alert, _ := sink.last(FrameAlert)
	item := alert.Payload.(projection.NotificationItem)
	assert.Equal(t, "n2", item.ID)
	assert.Equal(t, "bob", item.Sender.ID)

	// An unrelated change redelivers the window without new alerts.
	put(t, store, remote.Set(remote.At(models.NotificationsPath("me"), "n0").Child("read"), true))
	assert.Never(t, func() bool { return sink.count(FrameAlert) > 1 }, testNeverWindow, testPollInterval)
}

func TestSession_MarkReadAndStartChat(t *testing.T) {
	t.Parallel()
	store := remote.NewMemoryStore()
	put(t, store,
		remote.Set(remote.At(models.CollectionUsers, "me"), completeUser("me", "bob")),
		remote.Set(remote.At(models.CollectionUsers, "bob"), completeUser("bob", "me")),
		remote.Set(remote.At(models.NotificationsPath("me"), "n1"),
			models.Notification{SenderID: "bob", Kind: models.NotificationLike, CreatedAt: 1}),
	)

	var marked atomic.Value
	actions := &stubActions{
		markReadFn: func(ctx context.Context, viewerID string, ids []string) error {
			marked.Store(ids)
			ops := make([]remote.Op, 0, len(ids))
			for _, id := range ids {
				ops = append(ops, remote.Set(remote.At(models.NotificationsPath(viewerID), id).Child("read"), true))
			}
			return store.Update(ctx, ops...)
		},
		chatFn: func(_ context.Context, viewerID, friendID string) (models.Conversation, error) {
			return models.NewConversation(viewerID, friendID, 1), nil
		},
	}
	s, sink := startSession(t, store, NewConnIdentity("me", nil), Deps{Actions: actions})
	waitForState(t, s, Active)
	require.Eventually(t, func() bool {
		f, ok := sink.last(FrameNotifications)
		return ok && f.Payload.(projection.NotificationsView).Unread == 1
	}, testEventuallyTimeout, testPollInterval)

	s.Handle(Intent{Type: IntentMarkRead})
	require.Eventually(t, func() bool {
		f, ok := sink.last(FrameNotifications)
		return ok && f.Payload.(projection.NotificationsView).Unread == 0
	}, testEventuallyTimeout, testPollInterval)
	assert.Equal(t, []string{"n1"}, marked.Load())

	s.Handle(Intent{Type: IntentStartChat, FriendID: "stranger"})
	require.Eventually(t, func() bool {
		f, ok := sink.last(FrameError)
		return ok && f.Code == models.CodeForbidden
	}, testEventuallyTimeout, testPollInterval)

	s.Handle(Intent{Type: IntentStartChat, FriendID: "bob"})
	require.Eventually(t, func() bool {
		f, ok := sink.last(FrameChatOpened)
		return ok && f.Payload.(models.Conversation).ID == models.ConversationID("me", "bob")
	}, testEventuallyTimeout, testPollInterval)
}

func TestSession_CommentSheetRefetchesOnWrite(t *testing.T) {
	t.Parallel()
	store := remote.NewMemoryStore()
	put(t, store,
		remote.Set(remote.At(models.CollectionUsers, "me"), completeUser("me")),
		remote.Set(remote.At(models.CollectionPosts, "p1"), models.Post{OwnerID: "me", CreatedAt: 1}),
		remote.Set(remote.At(models.CommentsPath("p1"), "c1"), models.Comment{PostID: "p1", OwnerID: "me", CreatedAt: 2}),
	)
	s, sink := startSession(t, store, NewConnIdentity("me", nil), Deps{})
	waitForState(t, s, Active)

	commentIDs := func() []string {
		f, ok := sink.last(FrameComments)
		if !ok || f.Payload == nil {
			return nil
		}
		var ids []string
		for _, n := range f.Payload.(projection.CommentSheetView).Nodes {
			ids = append(ids, n.Comment.ID)
			for _, r := range n.Replies {
				ids = append(ids, r.Comment.ID)
			}
		}
		return ids
	}

	s.Handle(Intent{Type: IntentOpenComments, PostID: "p1"})
	require.Eventually(t, func() bool { return assert.ObjectsAreEqual([]string{"c1"}, commentIDs()) },
		testEventuallyTimeout, testPollInterval)

	s.Handle(Intent{Type: IntentExpandReplies, CommentID: "c1"})
	require.Eventually(t, func() bool {
		f, ok := sink.last(FrameComments)
		if !ok || f.Payload == nil {
			return false
		}
		nodes := f.Payload.(projection.CommentSheetView).Nodes
		return len(nodes) == 1 && nodes[0].RepliesLoaded
	}, testEventuallyTimeout, testPollInterval)
	put(t, store,
		remote.Set(remote.At(models.RepliesPath("p1", "c1"), "r1"),
			models.Comment{PostID: "p1", OwnerID: "me", ParentID: "c1", CreatedAt: 3}),
		remote.Add(remote.At(models.CommentsPath("p1"), "c1").Child("reply_count"), 1),
		remote.Add(remote.At(models.CollectionPosts, "p1").Child("comment_count"), 1),
	)
	require.Eventually(t, func() bool { return assert.ObjectsAreEqual([]string{"c1", "r1"}, commentIDs()) },
		testEventuallyTimeout, testPollInterval)

	// Edits do not touch the post, so they arrive as explicit mutations.
	put(t, store, remote.Set(remote.At(models.CommentsPath("p1"), "c2"),
		models.Comment{PostID: "p1", OwnerID: "me", CreatedAt: 4}))
	s.InvalidateComments(projection.CommentMutation{PostID: "p1"})
	require.Eventually(t, func() bool { return assert.ObjectsAreEqual([]string{"c2", "c1", "r1"}, commentIDs()) },
		testEventuallyTimeout, testPollInterval)

	s.Handle(Intent{Type: IntentCloseComments})
	require.Eventually(t, func() bool {
		f, ok := sink.last(FrameComments)
		return ok && f.Payload == nil
	}, testEventuallyTimeout, testPollInterval)
}

// heldStore reads a snapshot at call time but holds the next Get on one
// collection until release, so a fetch can finish after a newer one.
type heldStore struct {
	remote.Store
	collection string

	mu       sync.Mutex
	next     chan struct{}
	held     atomic.Int32
	finished atomic.Int32
}

func (h *heldStore) holdNext() chan struct{} {
	gate := make(chan struct{})
	h.mu.Lock()
	h.next = gate
	h.mu.Unlock()
	return gate
}

func (h *heldStore) Get(ctx context.Context, q remote.Query) (remote.Snapshot, error) {
	if q.Collection != h.collection {
		return h.Store.Get(ctx, q)
	}
	h.mu.Lock()
	gate := h.next
	h.next = nil
	h.mu.Unlock()

	snap, err := h.Store.Get(ctx, q)
	if gate == nil {
		return snap, err
	}
	h.held.Add(1)
	defer h.finished.Add(1)
	select {
	case <-gate:
		return snap, err
	case <-ctx.Done():
		return remote.Snapshot{}, ctx.Err()
	}
}

func TestSession_LateCommentFetchDoesNotOverwriteNewer(t *testing.T) {
	t.Parallel()
	mem := remote.NewMemoryStore()
	put(t, mem,
		remote.Set(remote.At(models.CollectionUsers, "me"), completeUser("me")),
		remote.Set(remote.At(models.CollectionPosts, "p1"), models.Post{OwnerID: "me", CreatedAt: 1}),
		remote.Set(remote.At(models.CommentsPath("p1"), "c1"), models.Comment{PostID: "p1", OwnerID: "me", CreatedAt: 2}),
	)
	store := &heldStore{Store: mem, collection: models.CommentsPath("p1")}
	s, sink := startSession(t, store, NewConnIdentity("me", nil), Deps{})
	waitForState(t, s, Active)

	topIDs := func() []string {
		f, ok := sink.last(FrameComments)
		if !ok || f.Payload == nil {
			return nil
		}
		var ids []string
		for _, n := range f.Payload.(projection.CommentSheetView).Nodes {
			ids = append(ids, n.Comment.ID)
		}
		return ids
	}

	s.Handle(Intent{Type: IntentOpenComments, PostID: "p1"})
	require.Eventually(t, func() bool { return assert.ObjectsAreEqual([]string{"c1"}, topIDs()) },
		testEventuallyTimeout, testPollInterval)

	gate := store.holdNext()
	s.InvalidateComments(projection.CommentMutation{PostID: "p1"})
	require.Eventually(t, func() bool { return store.held.Load() == 1 },
		testEventuallyTimeout, testPollInterval)

	put(t, mem, remote.Set(remote.At(models.CommentsPath("p1"), "c2"),
		models.Comment{PostID: "p1", OwnerID: "me", CreatedAt: 3}))
	s.InvalidateComments(projection.CommentMutation{PostID: "p1"})
	require.Eventually(t, func() bool { return assert.ObjectsAreEqual([]string{"c2", "c1"}, topIDs()) },
		testEventuallyTimeout, testPollInterval)

	close(gate)
	require.Eventually(t, func() bool { return store.finished.Load() == 1 },
		testEventuallyTimeout, testPollInterval)
	assert.Never(t, func() bool { return !assert.ObjectsAreEqual([]string{"c2", "c1"}, topIDs()) },
		testNeverWindow, testPollInterval)
}

func TestSession_IntentsRequireActiveSession(t *testing.T) {
	t.Parallel()
	s, sink := startSession(t, remote.NewMemoryStore(), NewConnIdentity("me", nil), Deps{})
	waitForState(t, s, ProfileIncomplete)

	s.Handle(Intent{Type: IntentLoadMoreFeed})
	require.Eventually(t, func() bool {
		f, ok := sink.last(FrameError)
		return ok && f.Code == models.CodeUnauthorized
	}, testEventuallyTimeout, testPollInterval)
}

func TestManager(t *testing.T) {
	t.Parallel()
	m := NewManager()
	store := remote.NewMemoryStore()
	s := New("a", Config{}, Deps{Store: store, Identity: NewConnIdentity("", nil)})
	s.Start()
	m.Add(s)
	assert.Equal(t, 1, m.Len())

	m.InvalidateComments(projection.CommentMutation{PostID: "p1"})
	m.Remove(s)
	assert.Equal(t, 0, m.Len())
	select {
	case <-s.Done():
	case <-time.After(testEventuallyTimeout):
		t.Fatal("session loop did not stop")
	}
	m.CloseAll()
}
