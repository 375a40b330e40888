package service

import (
	"context"

	"vibesync/internal/models"
	"vibesync/internal/observability"
	"vibesync/internal/privacy"
	"vibesync/internal/remote"
)

// StoryService writes 24 hour stories. Expiry is evaluated by readers; an
// expired story stays stored until its owner deletes it.
type StoryService struct {
	w     storeWriter
	media *MediaService
	now   func() int64
}

func NewStoryService(store remote.Store, media *MediaService) *StoryService {
	return &StoryService{w: newStoreWriter(store, "story_service"), media: media, now: models.NowMillis}
}

func (s *StoryService) CreateStory(ctx context.Context, ownerID string, upload UploadInput) (models.Story, error) {
	span, ctx := observability.StartServiceSpan(ctx, "StoryService", "CreateStory")
	defer span.End()

	if _, err := loadActor(ctx, s.w.store, ownerID); err != nil {
		return models.Story{}, err
	}
	upload.OwnerID = ownerID
	media, err := s.media.Upload(ctx, PurposeStory, upload)
	if err != nil {
		span.SetError(err)
		return models.Story{}, err
	}
	story := models.Story{
		ID:        models.NewID(),
		OwnerID:   ownerID,
		ImageURL:  media.URL,
		CreatedAt: s.now(),
	}
	if err := s.w.update(ctx, "create story", map[string]interface{}{"story_id": story.ID},
		remote.Set(remote.At(models.CollectionStories, story.ID), story)); err != nil {
		span.SetError(err)
		return models.Story{}, err
	}
	return story, nil
}

// ViewStory records that viewerID saw a story. Owners viewing their own
// story are not counted.
func (s *StoryService) ViewStory(ctx context.Context, viewerID, storyID string) error {
	viewer, story, err := s.visibleStory(ctx, viewerID, storyID)
	if err != nil {
		return err
	}
	if story.OwnerID == viewer.ID || story.Views.Has(viewer.ID) {
		return nil
	}
	return s.w.update(ctx, "view story", map[string]interface{}{"story_id": storyID},
		remote.Set(remote.At(models.CollectionStories, storyID).Child("views").Child(viewerID), true))
}

// ToggleStoryLike flips the viewer's like and reports whether it is now set.
func (s *StoryService) ToggleStoryLike(ctx context.Context, viewerID, storyID string) (bool, error) {
	_, story, err := s.visibleStory(ctx, viewerID, storyID)
	if err != nil {
		return false, err
	}
	ref := remote.At(models.CollectionStories, storyID).Child("likes").Child(viewerID)
	if story.Likes.Has(viewerID) {
		return false, s.w.update(ctx, "unlike story", map[string]interface{}{"story_id": storyID}, remote.Remove(ref))
	}
	return true, s.w.update(ctx, "like story", map[string]interface{}{"story_id": storyID}, remote.Set(ref, true))
}

func (s *StoryService) DeleteStory(ctx context.Context, actorID, storyID string) error {
	actor, err := loadActor(ctx, s.w.store, actorID)
	if err != nil {
		return err
	}
	story, ok, err := getRecord[models.Story](ctx, s.w.store, models.CollectionStories, storyID)
	if err != nil {
		return err
	}
	if !ok {
		return models.NewNotFoundError("Story", storyID)
	}
	if story.OwnerID != actorID && !actor.IsAdmin() {
		return models.NewForbiddenError("You can only delete your own stories")
	}
	return s.w.update(ctx, "delete story", map[string]interface{}{"story_id": storyID},
		remote.Remove(remote.At(models.CollectionStories, storyID)))
}

func (s *StoryService) visibleStory(ctx context.Context, viewerID, storyID string) (models.User, models.Story, error) {
	viewer, err := loadActor(ctx, s.w.store, viewerID)
	if err != nil {
		return models.User{}, models.Story{}, err
	}
	story, ok, err := getRecord[models.Story](ctx, s.w.store, models.CollectionStories, storyID)
	if err != nil {
		return models.User{}, models.Story{}, err
	}
	if !ok || !privacy.IsStoryVisible(models.NewViewer(viewer), story, s.now()) {
		return models.User{}, models.Story{}, models.NewNotFoundError("Story", storyID)
	}
	return viewer, story, nil
}
