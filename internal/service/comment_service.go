package service

import (
	"context"
	"strings"

	"vibesync/internal/models"
	"vibesync/internal/observability"
	"vibesync/internal/privacy"
	"vibesync/internal/projection"
	"vibesync/internal/remote"
	"vibesync/internal/validation"
)

type CommentService struct {
	w storeWriter
}

// CreateCommentInput creates a top-level comment when ParentID is empty.
// Replies name the comment they answer in ParentID; a reply to a reply also
// names the top-level comment in RootID.
type CreateCommentInput struct {
	AuthorID string `validate:"required"`
	PostID   string `validate:"required"`
	ParentID string
	RootID   string
	Content  string `validate:"notblank,max=2000"`
}

type UpdateCommentInput struct {
	ActorID   string `validate:"required"`
	PostID    string `validate:"required"`
	RootID    string
	CommentID string `validate:"required"`
	Content   string `validate:"notblank,max=2000"`
}

type DeleteCommentInput struct {
	ActorID   string `validate:"required"`
	PostID    string `validate:"required"`
	RootID    string
	CommentID string `validate:"required"`
}

func NewCommentService(store remote.Store) *CommentService {
	return &CommentService{w: newStoreWriter(store, "comment_service")}
}

// CreateComment writes a comment or reply together with the denormalized
// counts and the notifications it triggers, in one atomic update. Replies to
// replies are stored under their top-level comment.
func (s *CommentService) CreateComment(ctx context.Context, in CreateCommentInput) (models.Comment, projection.CommentMutation, error) {
	span, ctx := observability.StartServiceSpan(ctx, "CommentService", "CreateComment")
	defer span.End()

	if err := validation.ValidateStruct(in); err != nil {
		return models.Comment{}, projection.CommentMutation{}, err
	}
	actor, err := loadActor(ctx, s.w.store, in.AuthorID)
	if err != nil {
		return models.Comment{}, projection.CommentMutation{}, err
	}
	post, err := s.commentablePost(ctx, actor, in.PostID)
	if err != nil {
		return models.Comment{}, projection.CommentMutation{}, err
	}

	now := models.NowMillis()
	comment := models.Comment{
		ID:        models.NewID(),
		PostID:    post.ID,
		OwnerID:   actor.ID,
		Content:   strings.TrimSpace(in.Content),
		CreatedAt: now,
	}
	recipients := []string{post.OwnerID}
	ops := []remote.Op{remote.Add(postRef(post.ID).Child("comment_count"), 1)}
	mutation := projection.CommentMutation{PostID: post.ID}

	var ref remote.Ref
	if in.ParentID == "" {
		ref = remote.At(models.CommentsPath(post.ID), comment.ID)
	} else {
		root, parent, err := s.resolveParent(ctx, post.ID, in.ParentID, in.RootID)
		if err != nil {
			return models.Comment{}, projection.CommentMutation{}, err
		}
		comment.ParentID = root.ID
		if parent.ID != root.ID {
			comment.ReplyToID = parent.ID
		}
		ref = remote.At(models.RepliesPath(post.ID, root.ID), comment.ID)
		ops = append(ops, remote.Add(remote.At(models.CommentsPath(post.ID), root.ID).Child("reply_count"), 1))
		recipients = append(recipients, parent.OwnerID)
		mutation.RootID = root.ID
	}
	ops = append([]remote.Op{remote.Set(ref, comment)}, ops...)

	ops = append(ops, notificationOps(recipients, models.Notification{
		SenderID:  actor.ID,
		Kind:      models.NotificationComment,
		PostID:    post.ID,
		CreatedAt: now,
	})...)
	mentioned, err := s.mentionedUsers(ctx, comment.Content, recipients)
	if err != nil {
		return models.Comment{}, projection.CommentMutation{}, err
	}
	ops = append(ops, notificationOps(mentioned, models.Notification{
		SenderID:  actor.ID,
		Kind:      models.NotificationMention,
		PostID:    post.ID,
		CreatedAt: now,
	})...)

	if err := s.w.update(ctx, "create comment", map[string]interface{}{
		"post_id":    post.ID,
		"comment_id": comment.ID,
		"root_id":    mutation.RootID,
	}, ops...); err != nil {
		span.SetError(err)
		return models.Comment{}, projection.CommentMutation{}, err
	}
	return comment, mutation, nil
}

func (s *CommentService) UpdateComment(ctx context.Context, in UpdateCommentInput) (models.Comment, projection.CommentMutation, error) {
	span, ctx := observability.StartServiceSpan(ctx, "CommentService", "UpdateComment")
	defer span.End()

	if err := validation.ValidateStruct(in); err != nil {
		return models.Comment{}, projection.CommentMutation{}, err
	}
	actor, err := loadActor(ctx, s.w.store, in.ActorID)
	if err != nil {
		return models.Comment{}, projection.CommentMutation{}, err
	}
	comment, ref, err := s.loadComment(ctx, in.PostID, in.RootID, in.CommentID)
	if err != nil {
		return models.Comment{}, projection.CommentMutation{}, err
	}
	if comment.OwnerID != actor.ID {
		return models.Comment{}, projection.CommentMutation{}, models.NewForbiddenError("You can only edit your own comments")
	}

	comment.Content = strings.TrimSpace(in.Content)
	comment.UpdatedAt = models.NowMillis()
	if err := s.w.update(ctx, "update comment", map[string]interface{}{"comment_id": comment.ID},
		remote.Set(ref.Child("content"), comment.Content),
		remote.Set(ref.Child("updated_at"), comment.UpdatedAt),
	); err != nil {
		span.SetError(err)
		return models.Comment{}, projection.CommentMutation{}, err
	}
	return comment, projection.CommentMutation{PostID: in.PostID, RootID: in.RootID}, nil
}

// DeleteComment removes a comment. Deleting a top-level comment removes its
// replies too. The author, the post owner and admins may delete.
func (s *CommentService) DeleteComment(ctx context.Context, in DeleteCommentInput) (projection.CommentMutation, error) {
	span, ctx := observability.StartServiceSpan(ctx, "CommentService", "DeleteComment")
	defer span.End()

	if err := validation.ValidateStruct(in); err != nil {
		return projection.CommentMutation{}, err
	}
	actor, err := loadActor(ctx, s.w.store, in.ActorID)
	if err != nil {
		return projection.CommentMutation{}, err
	}
	comment, ref, err := s.loadComment(ctx, in.PostID, in.RootID, in.CommentID)
	if err != nil {
		return projection.CommentMutation{}, err
	}
	post, postExists, err := getRecord[models.Post](ctx, s.w.store, models.CollectionPosts, in.PostID)
	if err != nil {
		return projection.CommentMutation{}, err
	}
	if comment.OwnerID != actor.ID && !actor.IsAdmin() && !(postExists && post.OwnerID == actor.ID) {
		return projection.CommentMutation{}, models.NewForbiddenError("You cannot delete this comment")
	}

	removed := int64(1)
	ops := []remote.Op{remote.Remove(ref)}
	if in.RootID == "" {
		replies, err := listRecords[models.Comment](ctx, s.w.store, remote.Collection(models.RepliesPath(in.PostID, comment.ID)))
		if err != nil {
			return projection.CommentMutation{}, err
		}
		for _, r := range replies {
			ops = append(ops, remote.Remove(remote.At(models.RepliesPath(in.PostID, comment.ID), r.ID)))
		}
		removed += int64(len(replies))
	} else {
		ops = append(ops, remote.Add(remote.At(models.CommentsPath(in.PostID), in.RootID).Child("reply_count"), -1))
	}
	if postExists {
		ops = append(ops, remote.Add(postRef(in.PostID).Child("comment_count"), -removed))
	}

	if err := s.w.update(ctx, "delete comment", map[string]interface{}{"comment_id": comment.ID, "removed": removed}, ops...); err != nil {
		span.SetError(err)
		return projection.CommentMutation{}, err
	}
	return projection.CommentMutation{PostID: in.PostID, RootID: in.RootID}, nil
}

func (s *CommentService) commentablePost(ctx context.Context, actor models.User, postID string) (models.Post, error) {
	post, ok, err := getRecord[models.Post](ctx, s.w.store, models.CollectionPosts, postID)
	if err != nil {
		return models.Post{}, err
	}
	if !ok || !privacy.IsPostVisible(models.NewViewer(actor), post) {
		return models.Post{}, models.NewNotFoundError("Post", postID)
	}
	if post.CommentsDisabled {
		return models.Post{}, models.NewForbiddenError("Comments are disabled for this post")
	}
	if post.OwnerID != actor.ID {
		owner, ok, err := getRecord[models.User](ctx, s.w.store, models.CollectionUsers, post.OwnerID)
		if err != nil {
			return models.Post{}, err
		}
		if ok && owner.Blocked.Has(actor.ID) {
			return models.Post{}, models.NewForbiddenError("You cannot comment on this post")
		}
	}
	return post, nil
}

// resolveParent finds the top-level comment a reply belongs under and the
// comment it answers.
func (s *CommentService) resolveParent(ctx context.Context, postID, parentID, rootID string) (root, parent models.Comment, err error) {
	if rootID == "" || rootID == parentID {
		root, ok, err := getRecord[models.Comment](ctx, s.w.store, models.CommentsPath(postID), parentID)
		if err != nil {
			return models.Comment{}, models.Comment{}, err
		}
		if !ok {
			return models.Comment{}, models.Comment{}, models.NewNotFoundError("Comment", parentID)
		}
		return root, root, nil
	}

	root, ok, err := getRecord[models.Comment](ctx, s.w.store, models.CommentsPath(postID), rootID)
	if err != nil {
		return models.Comment{}, models.Comment{}, err
	}
	if !ok {
		return models.Comment{}, models.Comment{}, models.NewNotFoundError("Comment", rootID)
	}
	parent, ok, err = getRecord[models.Comment](ctx, s.w.store, models.RepliesPath(postID, rootID), parentID)
	if err != nil {
		return models.Comment{}, models.Comment{}, err
	}
	if !ok {
		return models.Comment{}, models.Comment{}, models.NewNotFoundError("Comment", parentID)
	}
	return root, parent, nil
}

func (s *CommentService) loadComment(ctx context.Context, postID, rootID, commentID string) (models.Comment, remote.Ref, error) {
	path := models.CommentsPath(postID)
	if rootID != "" {
		path = models.RepliesPath(postID, rootID)
	}
	comment, ok, err := getRecord[models.Comment](ctx, s.w.store, path, commentID)
	if err != nil {
		return models.Comment{}, remote.Ref{}, err
	}
	if !ok {
		return models.Comment{}, remote.Ref{}, models.NewNotFoundError("Comment", commentID)
	}
	return comment, remote.At(path, commentID), nil
}

// mentionedUsers resolves @handles in text to user ids, leaving out users
// already notified by the comment itself.
func (s *CommentService) mentionedUsers(ctx context.Context, text string, already []string) ([]string, error) {
	skip := models.NewIDSet(already...)
	var out []string
	for _, handle := range validation.ExtractMentions(text) {
		claim, ok, err := getRecord[handleClaim](ctx, s.w.store, models.CollectionHandles, handle)
		if err != nil {
			return nil, err
		}
		if !ok || skip.Has(claim.OwnerID) {
			continue
		}
		skip[claim.OwnerID] = true
		out = append(out, claim.OwnerID)
	}
	return out, nil
}
