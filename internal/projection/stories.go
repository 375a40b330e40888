package projection

import (
	"cmp"
	"slices"

	"vibesync/internal/models"
	"vibesync/internal/observability"
	"vibesync/internal/privacy"
)

// StoryGroup is one owner's active stories, oldest first.
type StoryGroup struct {
	OwnerID string         `json:"owner_id"`
	Owner   *models.User   `json:"owner,omitempty"`
	Stories []models.Story `json:"stories"`
	Unseen  bool           `json:"unseen"`
	Latest  int64          `json:"latest"`
}

// ProjectStories groups the stories visible to viewer at nowMs. The viewer's
// own group comes first, then groups with unseen stories, then by most recent
// story. Membership depends on nowMs, so callers re-run this on a timer as
// well as on every snapshot.
func ProjectStories(viewer models.Viewer, stories []models.Story, users Directory, nowMs int64) []StoryGroup {
	defer observability.TrackProjection("stories")()

	byOwner := make(map[string]*StoryGroup)
	for _, s := range stories {
		if !privacy.IsStoryVisible(viewer, s, nowMs) {
			continue
		}
		owner, ok := users.resolve(s.OwnerID)
		if !ok {
			continue
		}
		g := byOwner[s.OwnerID]
		if g == nil {
			g = &StoryGroup{OwnerID: s.OwnerID, Owner: owner}
			byOwner[s.OwnerID] = g
		}
		g.Stories = append(g.Stories, s)
		g.Latest = max(g.Latest, s.CreatedAt)
		if !s.Views.Has(viewer.ID) {
			g.Unseen = true
		}
	}

	groups := make([]StoryGroup, 0, len(byOwner))
	for _, g := range byOwner {
		slices.SortFunc(g.Stories, func(a, b models.Story) int {
			if a.CreatedAt != b.CreatedAt {
				return cmp.Compare(a.CreatedAt, b.CreatedAt)
			}
			return cmp.Compare(a.ID, b.ID)
		})
		if g.OwnerID == viewer.ID {
			g.Unseen = false
		}
		groups = append(groups, *g)
	}

	slices.SortFunc(groups, func(a, b StoryGroup) int {
		switch {
		case a.OwnerID == viewer.ID:
			return -1
		case b.OwnerID == viewer.ID:
			return 1
		case a.Unseen != b.Unseen:
			if a.Unseen {
				return -1
			}
			return 1
		case a.Latest != b.Latest:
			return cmp.Compare(b.Latest, a.Latest)
		}
		return cmp.Compare(a.OwnerID, b.OwnerID)
	})
	return groups
}
