package service

import (
	"context"
	"sync"
	"testing"

	"vibesync/internal/models"
	"vibesync/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatService_GetOrCreateConversationIsIdempotent(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.seedUser(t, "alice")
	f.seedUser(t, "bob")
	f.befriend(t, "alice", "bob")
	svc := NewChatService(f.store, f.media)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]models.Conversation, 8)
	errs := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			viewer, friend := "alice", "bob"
			if i%2 == 1 {
				viewer, friend = friend, viewer
			}
			results[i], errs[i] = svc.GetOrCreateConversation(ctx, viewer, friend)
		}(i)
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0].ID, results[i].ID)
		assert.Equal(t, results[0].CreatedAt, results[i].CreatedAt)
	}
	assert.Equal(t, models.ConversationID("alice", "bob"), results[0].ID)
	assert.True(t, results[0].Members.Has("alice"))
	assert.True(t, results[0].Members.Has("bob"))
}

func TestChatService_GetOrCreateConversationRequiresFriendship(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.seedUser(t, "alice")
	f.seedUser(t, "bob")
	svc := NewChatService(f.store, f.media)
	ctx := context.Background()

	_, err := svc.GetOrCreateConversation(ctx, "alice", "bob")
	assert.True(t, models.IsCode(err, models.CodeForbidden))
	_, err = svc.GetOrCreateConversation(ctx, "alice", "alice")
	assert.True(t, models.IsCode(err, models.CodeValidation))
}

func TestChatService_SendMessageUpdatesPreview(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.seedUser(t, "alice")
	f.seedUser(t, "bob")
	f.seedUser(t, "carol")
	f.befriend(t, "alice", "bob")
	svc := NewChatService(f.store, f.media)
	ctx := context.Background()

	conv, err := svc.GetOrCreateConversation(ctx, "alice", "bob")
	require.NoError(t, err)

	msg, err := svc.SendMessage(ctx, SendMessageInput{SenderID: "alice", ConversationID: conv.ID, Text: " hi bob "})
	require.NoError(t, err)
	assert.Equal(t, "hi bob", msg.Text)

	withMedia, err := svc.SendMessage(ctx, SendMessageInput{
		SenderID:       "bob",
		ConversationID: conv.ID,
		Upload:         &UploadInput{ContentType: "image/png", Content: testutil.TinyPNG(t, 20, 20)},
	})
	require.NoError(t, err)
	require.NotNil(t, withMedia.Media)

	stored, ok, err := getRecord[models.Conversation](ctx, f.store, models.CollectionConversations, conv.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, stored.LastMessage)
	assert.Equal(t, "bob", stored.LastMessage.SenderID)
	assert.Equal(t, models.MediaImage, stored.LastMessage.MediaKind)
	assert.Equal(t, withMedia.CreatedAt, stored.LastActivity())

	msgs, err := svc.ListMessages(ctx, "alice", conv.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, msg.ID, msgs[0].ID)

	_, err = svc.SendMessage(ctx, SendMessageInput{SenderID: "carol", ConversationID: conv.ID, Text: "let me in"})
	assert.True(t, models.IsCode(err, models.CodeNotFound))
	_, err = svc.ListMessages(ctx, "carol", conv.ID, 10, 0)
	assert.True(t, models.IsCode(err, models.CodeNotFound))
	_, err = svc.SendMessage(ctx, SendMessageInput{SenderID: "alice", ConversationID: conv.ID})
	assert.True(t, models.IsCode(err, models.CodeValidation))
}
