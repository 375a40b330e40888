package seed

import (
	"context"
	"testing"

	"vibesync/internal/models"
	"vibesync/internal/remote"
	"vibesync/internal/service"
	"vibesync/internal/testutil"
	"vibesync/internal/validation"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSeeder(t *testing.T, seed int64) (*Seeder, *remote.MemoryStore) {
	t.Helper()
	store := remote.NewMemoryStore()
	media := service.NewMediaService(testutil.NewUploaderStub(), nil)
	return NewSeeder(Services{
		Profiles: service.NewProfileService(store, media),
		Friends:  service.NewFriendService(store),
		Posts:    service.NewPostService(store, media),
		Comments: service.NewCommentService(store),
		Chat:     service.NewChatService(store, media),
	}, seed), store
}

func TestHandle(t *testing.T) {
	tests := []struct {
		name string
		n    int
		want string
	}{
		{"Alice", 0, "alice_0"},
		{"Jean-Luc", 12, "jeanluc_12"},
		{"Maximiliansebastian", 99999, "maximilianseba_99999"},
		{"Ωμέγα", 3, "user_3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Handle(tt.name, tt.n)
			assert.Equal(t, tt.want, got)
			assert.NoError(t, validation.ValidateHandle(got))
		})
	}
}

func TestFactory_IsDeterministicForSeed(t *testing.T) {
	a := NewFactory(42).Profile("u1", 1)
	b := NewFactory(42).Profile("u1", 1)
	assert.Equal(t, a.DisplayName, b.DisplayName)
	assert.Equal(t, a.Handle, b.Handle)

	post := NewFactory(42).Post("u1", func(in *service.CreatePostInput) { in.Privacy = models.PrivacyFriends })
	assert.Equal(t, models.PrivacyFriends, post.Privacy)
	assert.NotEmpty(t, post.Content)
}

func TestSeeder_Run(t *testing.T) {
	s, store := newTestSeeder(t, 7)
	ctx := context.Background()

	res, err := s.Run(ctx, Options{NumUsers: 8, NumPosts: 12, FriendsPerUser: 3, CommentsPerPost: 4})
	require.NoError(t, err)

	require.Len(t, res.Users, 8)
	assert.Len(t, res.Posts, 12)
	assert.GreaterOrEqual(t, res.Reactions, 0)

	snap, err := store.Get(ctx, remote.Collection(models.CollectionUsers))
	require.NoError(t, err)
	users, errs := remote.DecodeAll[models.User](snap)
	require.Empty(t, errs)
	require.Len(t, users, 8)

	// Friendship is always mutual.
	byID := make(map[string]models.User, len(users))
	for _, u := range users {
		assert.True(t, u.IsComplete())
		byID[u.ID] = u
	}
	friendships := 0
	for _, u := range users {
		for _, f := range u.Friends.Keys() {
			assert.True(t, byID[f].Friends.Has(u.ID), "%s -> %s is one-sided", u.ID, f)
			friendships++
		}
	}
	assert.Equal(t, res.Friendships*2, friendships)
}
