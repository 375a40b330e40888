package service

import (
	"context"
	"testing"

	"vibesync/internal/models"
	"vibesync/internal/remote"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupCommentTest(t *testing.T) (*fixture, *CommentService, models.Post) {
	t.Helper()
	f := newFixture(t)
	f.seedUser(t, "alice")
	f.seedUser(t, "bob")
	f.seedUser(t, "carol")
	post, err := NewPostService(f.store, f.media).CreatePost(context.Background(), CreatePostInput{OwnerID: "alice", Content: "post"})
	require.NoError(t, err)
	return f, NewCommentService(f.store), post
}

func (f *fixture) post(t *testing.T, id string) models.Post {
	t.Helper()
	p, ok, err := getRecord[models.Post](context.Background(), f.store, models.CollectionPosts, id)
	require.NoError(t, err)
	require.True(t, ok)
	return p
}

func TestCommentService_CreateRootAndReplies(t *testing.T) {
	t.Parallel()
	f, svc, post := setupCommentTest(t)
	ctx := context.Background()

	root, mut, err := svc.CreateComment(ctx, CreateCommentInput{AuthorID: "bob", PostID: post.ID, Content: "nice"})
	require.NoError(t, err)
	assert.Empty(t, root.ParentID)
	assert.Equal(t, post.ID, mut.PostID)
	assert.Empty(t, mut.RootID)

	reply, mut, err := svc.CreateComment(ctx, CreateCommentInput{AuthorID: "carol", PostID: post.ID, ParentID: root.ID, Content: "agreed"})
	require.NoError(t, err)
	assert.Equal(t, root.ID, reply.ParentID)
	assert.Empty(t, reply.ReplyToID)
	assert.Equal(t, root.ID, mut.RootID)

	// A reply to a reply is stored under the top-level comment.
	nested, _, err := svc.CreateComment(ctx, CreateCommentInput{AuthorID: "bob", PostID: post.ID, ParentID: reply.ID, RootID: root.ID, Content: "thanks"})
	require.NoError(t, err)
	assert.Equal(t, root.ID, nested.ParentID)
	assert.Equal(t, reply.ID, nested.ReplyToID)

	replies, err := listRecords[models.Comment](ctx, f.store, remote.Collection(models.RepliesPath(post.ID, root.ID)))
	require.NoError(t, err)
	assert.Len(t, replies, 2)

	stored, ok, err := getRecord[models.Comment](ctx, f.store, models.CommentsPath(post.ID), root.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 2, stored.ReplyCount)
	assert.EqualValues(t, 3, f.post(t, post.ID).CommentCount)

	// alice (post owner) hears about all three, bob about carol's reply.
	assert.Len(t, f.notifications(t, "alice"), 3)
	bobNotes := f.notifications(t, "bob")
	require.Len(t, bobNotes, 1)
	assert.Equal(t, "carol", bobNotes[0].SenderID)
	carolNotes := f.notifications(t, "carol")
	require.Len(t, carolNotes, 1)
	assert.Equal(t, models.NotificationComment, carolNotes[0].Kind)
}

func TestCommentService_Mentions(t *testing.T) {
	t.Parallel()
	f, svc, post := setupCommentTest(t)
	ctx := context.Background()
	require.NoError(t, f.store.Update(ctx, remote.Set(remote.At(models.CollectionHandles, "carol"), handleClaim{OwnerID: "carol"})))

	_, _, err := svc.CreateComment(ctx, CreateCommentInput{AuthorID: "bob", PostID: post.ID, Content: "hey @Carol and @nobody"})
	require.NoError(t, err)

	notes := f.notifications(t, "carol")
	require.Len(t, notes, 1)
	assert.Equal(t, models.NotificationMention, notes[0].Kind)
	assert.Equal(t, post.ID, notes[0].PostID)
}

func TestCommentService_CreateRejections(t *testing.T) {
	t.Parallel()
	f, svc, post := setupCommentTest(t)
	ctx := context.Background()

	_, _, err := svc.CreateComment(ctx, CreateCommentInput{AuthorID: "bob", PostID: post.ID, Content: "  "})
	assert.True(t, models.IsCode(err, models.CodeValidation))

	_, _, err = svc.CreateComment(ctx, CreateCommentInput{AuthorID: "bob", PostID: "missing", Content: "x"})
	assert.True(t, models.IsCode(err, models.CodeNotFound))

	_, _, err = svc.CreateComment(ctx, CreateCommentInput{AuthorID: "bob", PostID: post.ID, ParentID: "missing", Content: "x"})
	assert.True(t, models.IsCode(err, models.CodeNotFound))

	require.NoError(t, f.store.Update(ctx, remote.Set(postRef(post.ID).Child("comments_disabled"), true)))
	_, _, err = svc.CreateComment(ctx, CreateCommentInput{AuthorID: "bob", PostID: post.ID, Content: "x"})
	assert.True(t, models.IsCode(err, models.CodeForbidden))

	require.NoError(t, f.store.Update(ctx,
		remote.Set(postRef(post.ID).Child("comments_disabled"), false),
		remote.Set(userRef("alice").Child("blocked").Child("carol"), true),
	))
	_, _, err = svc.CreateComment(ctx, CreateCommentInput{AuthorID: "carol", PostID: post.ID, Content: "x"})
	assert.Error(t, err)
}

func TestCommentService_UpdateOwnerOnly(t *testing.T) {
	t.Parallel()
	_, svc, post := setupCommentTest(t)
	ctx := context.Background()

	c, _, err := svc.CreateComment(ctx, CreateCommentInput{AuthorID: "bob", PostID: post.ID, Content: "typo"})
	require.NoError(t, err)

	_, _, err = svc.UpdateComment(ctx, UpdateCommentInput{ActorID: "alice", PostID: post.ID, CommentID: c.ID, Content: "edit"})
	assert.True(t, models.IsCode(err, models.CodeForbidden))

	updated, mut, err := svc.UpdateComment(ctx, UpdateCommentInput{ActorID: "bob", PostID: post.ID, CommentID: c.ID, Content: "fixed"})
	require.NoError(t, err)
	assert.Equal(t, "fixed", updated.Content)
	assert.NotZero(t, updated.UpdatedAt)
	assert.Equal(t, post.ID, mut.PostID)
}

func TestCommentService_DeleteAdjustsCounts(t *testing.T) {
	t.Parallel()
	f, svc, post := setupCommentTest(t)
	ctx := context.Background()

	root, _, err := svc.CreateComment(ctx, CreateCommentInput{AuthorID: "bob", PostID: post.ID, Content: "root"})
	require.NoError(t, err)
	r1, _, err := svc.CreateComment(ctx, CreateCommentInput{AuthorID: "carol", PostID: post.ID, ParentID: root.ID, Content: "r1"})
	require.NoError(t, err)
	_, _, err = svc.CreateComment(ctx, CreateCommentInput{AuthorID: "carol", PostID: post.ID, ParentID: root.ID, Content: "r2"})
	require.NoError(t, err)
	other, _, err := svc.CreateComment(ctx, CreateCommentInput{AuthorID: "carol", PostID: post.ID, Content: "other"})
	require.NoError(t, err)
	assert.EqualValues(t, 4, f.post(t, post.ID).CommentCount)

	// bob cannot delete carol's reply; alice owns the post and can.
	_, err = svc.DeleteComment(ctx, DeleteCommentInput{ActorID: "bob", PostID: post.ID, RootID: root.ID, CommentID: r1.ID})
	assert.True(t, models.IsCode(err, models.CodeForbidden))
	mut, err := svc.DeleteComment(ctx, DeleteCommentInput{ActorID: "alice", PostID: post.ID, RootID: root.ID, CommentID: r1.ID})
	require.NoError(t, err)
	assert.Equal(t, root.ID, mut.RootID)
	assert.EqualValues(t, 3, f.post(t, post.ID).CommentCount)

	stored, _, err := getRecord[models.Comment](ctx, f.store, models.CommentsPath(post.ID), root.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stored.ReplyCount)

	// Deleting a root takes its replies with it.
	_, err = svc.DeleteComment(ctx, DeleteCommentInput{ActorID: "bob", PostID: post.ID, CommentID: root.ID})
	require.NoError(t, err)
	assert.EqualValues(t, 1, f.post(t, post.ID).CommentCount)
	snap, err := f.store.Get(ctx, remote.Collection(models.RepliesPath(post.ID, root.ID)))
	require.NoError(t, err)
	assert.True(t, snap.Empty())

	_, err = svc.DeleteComment(ctx, DeleteCommentInput{ActorID: "carol", PostID: post.ID, CommentID: other.ID})
	require.NoError(t, err)
	assert.EqualValues(t, 0, f.post(t, post.ID).CommentCount)
}
