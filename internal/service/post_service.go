package service

import (
	"context"
	"strings"

	"vibesync/internal/models"
	"vibesync/internal/observability"
	"vibesync/internal/privacy"
	"vibesync/internal/remote"
	"vibesync/internal/validation"
)

type PostService struct {
	w     storeWriter
	media *MediaService
}

type CreatePostInput struct {
	OwnerID          string         `validate:"required"`
	Content          string         `validate:"max=5000"`
	Privacy          models.Privacy `validate:"omitempty,oneof=public friends private"`
	CommentsDisabled bool
	Uploads          []UploadInput `validate:"max=4"`
}

type UpdatePostInput struct {
	ActorID          string          `validate:"required"`
	PostID           string          `validate:"required"`
	Content          *string         `validate:"omitempty,max=5000"`
	Privacy          *models.Privacy `validate:"omitempty,oneof=public friends private"`
	CommentsDisabled *bool
}

func NewPostService(store remote.Store, media *MediaService) *PostService {
	return &PostService{w: newStoreWriter(store, "post_service"), media: media}
}

// CreatePost uploads the attachments and then writes the post. A cancelled
// context after the uploads leaves no post behind.
func (s *PostService) CreatePost(ctx context.Context, in CreatePostInput) (models.Post, error) {
	span, ctx := observability.StartServiceSpan(ctx, "PostService", "CreatePost")
	defer span.End()

	in.Content = strings.TrimSpace(in.Content)
	if err := validation.ValidateStruct(in); err != nil {
		return models.Post{}, err
	}
	if in.Content == "" && len(in.Uploads) == 0 {
		return models.Post{}, models.NewValidationError("Content or media is required")
	}
	if _, err := loadActor(ctx, s.w.store, in.OwnerID); err != nil {
		return models.Post{}, err
	}

	for i := range in.Uploads {
		in.Uploads[i].OwnerID = in.OwnerID
	}
	media, err := s.media.UploadAll(ctx, PurposePost, in.Uploads)
	if err != nil {
		span.SetError(err)
		return models.Post{}, err
	}
	if err := ctx.Err(); err != nil {
		return models.Post{}, models.NewWriteError("create post", err)
	}

	privacyLevel := in.Privacy
	if privacyLevel == "" {
		privacyLevel = models.PrivacyPublic
	}
	post := models.Post{
		ID:               models.NewID(),
		OwnerID:          in.OwnerID,
		Content:          in.Content,
		Media:            media,
		Privacy:          &privacyLevel,
		CommentsDisabled: in.CommentsDisabled,
		CreatedAt:        models.NowMillis(),
	}
	if err := s.w.update(ctx, "create post", map[string]interface{}{"post_id": post.ID, "media": len(media)},
		remote.Set(postRef(post.ID), post)); err != nil {
		span.SetError(err)
		return models.Post{}, err
	}
	return post, nil
}

// GetPost returns a post the viewer may see. Hidden posts are reported as
// missing.
func (s *PostService) GetPost(ctx context.Context, viewerID, postID string) (models.Post, error) {
	post, ok, err := getRecord[models.Post](ctx, s.w.store, models.CollectionPosts, postID)
	if err != nil {
		return models.Post{}, err
	}
	if !ok {
		return models.Post{}, models.NewNotFoundError("Post", postID)
	}
	viewer, err := loadUser(ctx, s.w.store, viewerID)
	if err != nil {
		return models.Post{}, err
	}
	if !privacy.IsPostVisible(models.NewViewer(viewer), post) {
		return models.Post{}, models.NewNotFoundError("Post", postID)
	}
	return post, nil
}

func (s *PostService) UpdatePost(ctx context.Context, in UpdatePostInput) (models.Post, error) {
	span, ctx := observability.StartServiceSpan(ctx, "PostService", "UpdatePost")
	defer span.End()

	if in.Content != nil {
		trimmed := strings.TrimSpace(*in.Content)
		in.Content = &trimmed
	}
	if err := validation.ValidateStruct(in); err != nil {
		return models.Post{}, err
	}
	post, err := s.ownedPost(ctx, in.ActorID, in.PostID)
	if err != nil {
		return models.Post{}, err
	}

	ref := postRef(post.ID)
	var ops []remote.Op
	if in.Content != nil {
		if *in.Content == "" && len(post.Media) == 0 {
			return models.Post{}, models.NewValidationError("Content or media is required")
		}
		post.Content = *in.Content
		ops = append(ops, remote.Set(ref.Child("content"), post.Content))
	}
	if in.Privacy != nil {
		level := *in.Privacy
		post.Privacy = &level
		ops = append(ops, remote.Set(ref.Child("privacy"), level))
	}
	if in.CommentsDisabled != nil {
		post.CommentsDisabled = *in.CommentsDisabled
		ops = append(ops, remote.Set(ref.Child("comments_disabled"), post.CommentsDisabled))
	}
	if len(ops) == 0 {
		return post, nil
	}
	post.UpdatedAt = models.NowMillis()
	ops = append(ops, remote.Set(ref.Child("updated_at"), post.UpdatedAt))

	if err := s.w.update(ctx, "update post", map[string]interface{}{"post_id": post.ID}, ops...); err != nil {
		span.SetError(err)
		return models.Post{}, err
	}
	return post, nil
}

// DeletePost removes a post with its comments and replies. The owner and
// admins may delete.
func (s *PostService) DeletePost(ctx context.Context, actorID, postID string) error {
	span, ctx := observability.StartServiceSpan(ctx, "PostService", "DeletePost")
	defer span.End()

	post, err := s.ownedPost(ctx, actorID, postID)
	if err != nil {
		return err
	}

	ops := []remote.Op{remote.Remove(postRef(post.ID))}
	roots, err := listRecords[models.Comment](ctx, s.w.store, remote.Collection(models.CommentsPath(post.ID)))
	if err != nil {
		return err
	}
	for _, root := range roots {
		ops = append(ops, remote.Remove(remote.At(models.CommentsPath(post.ID), root.ID)))
		replies, err := listRecords[models.Comment](ctx, s.w.store, remote.Collection(models.RepliesPath(post.ID, root.ID)))
		if err != nil {
			return err
		}
		for _, r := range replies {
			ops = append(ops, remote.Remove(remote.At(models.RepliesPath(post.ID, root.ID), r.ID)))
		}
	}

	if err := s.w.update(ctx, "delete post", map[string]interface{}{"post_id": post.ID, "records": len(ops)}, ops...); err != nil {
		span.SetError(err)
		return err
	}
	return nil
}

// ToggleReaction flips the actor's reaction of kind on a post and reports
// whether it is now set. Setting a like notifies the owner.
func (s *PostService) ToggleReaction(ctx context.Context, actorID, postID string, kind models.ReactionKind) (bool, error) {
	span, ctx := observability.StartServiceSpan(ctx, "PostService", "ToggleReaction")
	defer span.End()

	if kind == "" {
		kind = models.ReactionLike
	}
	actor, err := loadActor(ctx, s.w.store, actorID)
	if err != nil {
		return false, err
	}
	post, err := s.visiblePost(ctx, actor, postID)
	if err != nil {
		return false, err
	}

	ref := postRef(post.ID).Child("reactions").Child(string(kind)).Child(actorID)
	if post.Reactions[kind].Has(actorID) {
		return false, s.w.update(ctx, "remove reaction", map[string]interface{}{"post_id": post.ID, "kind": kind},
			remote.Remove(ref))
	}

	ops := []remote.Op{remote.Set(ref, true)}
	ops = append(ops, notificationOps([]string{post.OwnerID}, models.Notification{
		SenderID:  actorID,
		Kind:      models.NotificationLike,
		PostID:    post.ID,
		CreatedAt: models.NowMillis(),
	})...)
	if err := s.w.update(ctx, "add reaction", map[string]interface{}{"post_id": post.ID, "kind": kind}, ops...); err != nil {
		return false, err
	}
	return true, nil
}

// ToggleBookmark flips a bookmark on the actor's profile and reports whether
// it is now set.
func (s *PostService) ToggleBookmark(ctx context.Context, actorID, postID string) (bool, error) {
	actor, err := loadActor(ctx, s.w.store, actorID)
	if err != nil {
		return false, err
	}
	if _, err := s.visiblePost(ctx, actor, postID); err != nil {
		return false, err
	}
	ref := userRef(actorID).Child("bookmarks").Child(postID)
	if actor.Bookmarks.Has(postID) {
		return false, s.w.update(ctx, "remove bookmark", map[string]interface{}{"post_id": postID}, remote.Remove(ref))
	}
	return true, s.w.update(ctx, "add bookmark", map[string]interface{}{"post_id": postID}, remote.Set(ref, true))
}

func (s *PostService) visiblePost(ctx context.Context, actor models.User, postID string) (models.Post, error) {
	post, ok, err := getRecord[models.Post](ctx, s.w.store, models.CollectionPosts, postID)
	if err != nil {
		return models.Post{}, err
	}
	if !ok || !privacy.IsPostVisible(models.NewViewer(actor), post) {
		return models.Post{}, models.NewNotFoundError("Post", postID)
	}
	return post, nil
}

func (s *PostService) ownedPost(ctx context.Context, actorID, postID string) (models.Post, error) {
	actor, err := loadActor(ctx, s.w.store, actorID)
	if err != nil {
		return models.Post{}, err
	}
	post, ok, err := getRecord[models.Post](ctx, s.w.store, models.CollectionPosts, postID)
	if err != nil {
		return models.Post{}, err
	}
	switch {
	case !ok:
		return models.Post{}, models.NewNotFoundError("Post", postID)
	case post.OwnerID == actorID || actor.IsAdmin():
		return post, nil
	case privacy.IsPostVisible(models.NewViewer(actor), post):
		return models.Post{}, models.NewForbiddenError("You can only modify your own posts")
	default:
		return models.Post{}, models.NewNotFoundError("Post", postID)
	}
}
