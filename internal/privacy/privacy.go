// Package privacy decides what a viewer may see. Every function is pure and
// is evaluated against the viewer snapshot of the current tick, never cached
// on the entity.
package privacy

import "vibesync/internal/models"

// IsPostVisible reports whether viewer may see post. Owners always see their
// own posts. A blocked owner hides the post whatever its privacy level.
func IsPostVisible(viewer models.Viewer, post models.Post) bool {
	if post.OwnerID == viewer.ID {
		return true
	}
	if viewer.HasBlocked(post.OwnerID) {
		return false
	}
	switch post.ResolvedPrivacy() {
	case models.PrivacyPublic:
		return true
	case models.PrivacyFriends:
		return viewer.IsFriend(post.OwnerID)
	default:
		return false
	}
}

// IsUserVisible reports whether viewer may see user's profile. A block in
// either direction hides it.
func IsUserVisible(viewer models.Viewer, user models.User) bool {
	if user.ID == viewer.ID {
		return true
	}
	if viewer.HasBlocked(user.ID) || user.Blocked.Has(viewer.ID) {
		return false
	}
	return user.ResolvedPublic()
}

// IsStoryActive reports whether story is still inside its 24 hour window.
func IsStoryActive(story models.Story, nowMs int64) bool {
	return nowMs-story.CreatedAt < models.StoryLifetimeMillis
}

// IsStoryVisible reports whether viewer should see story in the story tray:
// it must be active and belong to the viewer or an unblocked friend.
func IsStoryVisible(viewer models.Viewer, story models.Story, nowMs int64) bool {
	if !IsStoryActive(story, nowMs) {
		return false
	}
	if story.OwnerID == viewer.ID {
		return true
	}
	return viewer.IsFriend(story.OwnerID) && !viewer.HasBlocked(story.OwnerID)
}
