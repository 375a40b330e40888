package projection

import (
	"testing"

	"vibesync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProjectStories(t *testing.T) {
	t.Parallel()
	const now = int64(10 * 86_400_000)
	viewer := models.Viewer{ID: "me", Friends: models.NewIDSet("seen", "fresh", "old", "blocked"), Blocked: models.NewIDSet("blocked")}
	stories := []models.Story{
		{ID: "s1", OwnerID: "me", CreatedAt: now - 1000},
		{ID: "s2", OwnerID: "seen", CreatedAt: now - 10, Views: models.NewIDSet("me")},
		{ID: "s3", OwnerID: "fresh", CreatedAt: now - 500},
		{ID: "s4", OwnerID: "fresh", CreatedAt: now - 900, Views: models.NewIDSet("me")},
		{ID: "s5", OwnerID: "old", CreatedAt: now - models.StoryLifetimeMillis - 1},
		{ID: "s6", OwnerID: "blocked", CreatedAt: now - 1},
		{ID: "s7", OwnerID: "stranger", CreatedAt: now - 1},
	}

	groups := ProjectStories(viewer, stories, directoryOf("me", "seen", "fresh", "old", "blocked", "stranger"), now)

	require.Len(t, groups, 3)
	assert.Equal(t, "me", groups[0].OwnerID)
	assert.False(t, groups[0].Unseen)

	assert.Equal(t, "fresh", groups[1].OwnerID)
	assert.True(t, groups[1].Unseen)
	require.Len(t, groups[1].Stories, 2)
	assert.Equal(t, "s4", groups[1].Stories[0].ID, "stories inside a group play oldest first")
	assert.Equal(t, now-500, groups[1].Latest)

	assert.Equal(t, "seen", groups[2].OwnerID)
	assert.False(t, groups[2].Unseen)
}

func TestProjectStories_ExpiresWithClock(t *testing.T) {
	t.Parallel()
	viewer := models.Viewer{ID: "me"}
	stories := []models.Story{{ID: "s1", OwnerID: "me", CreatedAt: 1000}}

	assert.Len(t, ProjectStories(viewer, stories, Directory{}, 1000+models.StoryLifetimeMillis-1), 1)
	assert.Empty(t, ProjectStories(viewer, stories, Directory{}, 1000+models.StoryLifetimeMillis))
}
