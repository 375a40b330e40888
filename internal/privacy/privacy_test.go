package privacy

import (
	"math/rand/v2"
	"testing"

	"vibesync/internal/models"

	"github.com/stretchr/testify/assert"
)

func privacyPtr(p models.Privacy) *models.Privacy { return &p }

func boolPtr(b bool) *bool { return &b }

func TestIsPostVisible(t *testing.T) {
	t.Parallel()
	viewer := models.Viewer{
		ID:      "me",
		Friends: models.NewIDSet("friend", "blocked-friend"),
		Blocked: models.NewIDSet("blocked", "blocked-friend"),
	}

	tests := []struct {
		name    string
		owner   string
		privacy *models.Privacy
		want    bool
	}{
		{"own private post", "me", privacyPtr(models.PrivacyPrivate), true},
		{"legacy post defaults to public", "stranger", nil, true},
		{"unknown privacy defaults to public", "stranger", privacyPtr("secret"), true},
		{"public stranger", "stranger", privacyPtr(models.PrivacyPublic), true},
		{"friends-only from stranger", "stranger", privacyPtr(models.PrivacyFriends), false},
		{"friends-only from friend", "friend", privacyPtr(models.PrivacyFriends), true},
		{"private from friend", "friend", privacyPtr(models.PrivacyPrivate), false},
		{"public from blocked", "blocked", privacyPtr(models.PrivacyPublic), false},
		{"block overrides friendship", "blocked-friend", privacyPtr(models.PrivacyFriends), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			post := models.Post{ID: "p", OwnerID: tt.owner, Privacy: tt.privacy}
			assert.Equal(t, tt.want, IsPostVisible(viewer, post))
		})
	}
}

// TestIsPostVisible_Randomized checks the rule against an independent
// statement of it over random viewers and posts.
func TestIsPostVisible_Randomized(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewPCG(42, 7))
	users := []string{"u0", "u1", "u2", "u3", "u4", "u5"}
	levels := []*models.Privacy{nil, privacyPtr(models.PrivacyPublic), privacyPtr(models.PrivacyFriends), privacyPtr(models.PrivacyPrivate)}

	randomSet := func() models.IDSet {
		s := models.IDSet{}
		for _, u := range users {
			if rng.IntN(3) == 0 {
				s[u] = true
			}
		}
		return s
	}

	for range 5000 {
		viewer := models.Viewer{
			ID:      users[rng.IntN(len(users))],
			Friends: randomSet(),
			Blocked: randomSet(),
		}
		post := models.Post{
			OwnerID: users[rng.IntN(len(users))],
			Privacy: levels[rng.IntN(len(levels))],
		}

		var privacyAllows bool
		switch {
		case post.Privacy == nil || *post.Privacy == models.PrivacyPublic:
			privacyAllows = true
		case *post.Privacy == models.PrivacyFriends:
			privacyAllows = viewer.Friends[post.OwnerID]
		}
		want := post.OwnerID == viewer.ID || (!viewer.Blocked[post.OwnerID] && privacyAllows)

		if !assert.Equal(t, want, IsPostVisible(viewer, post), "viewer=%+v post=%+v", viewer, post) {
			return
		}
	}
}

func TestIsUserVisible(t *testing.T) {
	t.Parallel()
	viewer := models.Viewer{ID: "me", Blocked: models.NewIDSet("blocked")}

	assert.True(t, IsUserVisible(viewer, models.User{ID: "me", IsPublic: boolPtr(false)}))
	assert.True(t, IsUserVisible(viewer, models.User{ID: "legacy"}))
	assert.True(t, IsUserVisible(viewer, models.User{ID: "open", IsPublic: boolPtr(true)}))
	assert.False(t, IsUserVisible(viewer, models.User{ID: "closed", IsPublic: boolPtr(false)}))
	assert.False(t, IsUserVisible(viewer, models.User{ID: "blocked"}))
	assert.False(t, IsUserVisible(viewer, models.User{ID: "blocker", Blocked: models.NewIDSet("me")}))
}

func TestIsStoryActive_Boundary(t *testing.T) {
	t.Parallel()
	now := int64(1_700_000_000_000)

	assert.False(t, IsStoryActive(models.Story{CreatedAt: now - 86_400_001}, now))
	assert.False(t, IsStoryActive(models.Story{CreatedAt: now - 86_400_000}, now))
	assert.True(t, IsStoryActive(models.Story{CreatedAt: now - 86_399_999}, now))
	assert.True(t, IsStoryActive(models.Story{CreatedAt: now}, now))
}

func TestIsStoryVisible(t *testing.T) {
	t.Parallel()
	now := int64(1_700_000_000_000)
	viewer := models.Viewer{
		ID:      "me",
		Friends: models.NewIDSet("friend", "muted"),
		Blocked: models.NewIDSet("muted"),
	}

	assert.True(t, IsStoryVisible(viewer, models.Story{OwnerID: "me", CreatedAt: now}, now))
	assert.True(t, IsStoryVisible(viewer, models.Story{OwnerID: "friend", CreatedAt: now - 1000}, now))
	assert.False(t, IsStoryVisible(viewer, models.Story{OwnerID: "friend", CreatedAt: now - 86_400_001}, now))
	assert.False(t, IsStoryVisible(viewer, models.Story{OwnerID: "stranger", CreatedAt: now}, now))
	assert.False(t, IsStoryVisible(viewer, models.Story{OwnerID: "muted", CreatedAt: now}, now))
}
