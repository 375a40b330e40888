package service

import (
	"context"
	"testing"

	"vibesync/internal/models"
	"vibesync/internal/remote"
	"vibesync/internal/testutil"

	"github.com/stretchr/testify/require"
)

type fixture struct {
	store    *remote.MemoryStore
	uploader *testutil.UploaderStub
	media    *MediaService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	up := testutil.NewUploaderStub()
	return &fixture{
		store:    remote.NewMemoryStore(),
		uploader: up,
		media:    NewMediaService(up, nil),
	}
}

// seedUser writes a complete profile.
func (f *fixture) seedUser(t *testing.T, id string, mutate ...func(*models.User)) models.User {
	t.Helper()
	u := models.User{
		ID:          id,
		DisplayName: "User " + id,
		Handle:      id,
		CreatedAt:   models.NowMillis(),
	}
	for _, m := range mutate {
		m(&u)
	}
	require.NoError(t, f.store.Update(context.Background(), remote.Set(userRef(id), u)))
	return u
}

func (f *fixture) befriend(t *testing.T, a, b string) {
	t.Helper()
	require.NoError(t, f.store.Update(context.Background(),
		remote.Set(userRef(a).Child("friends").Child(b), true),
		remote.Set(userRef(b).Child("friends").Child(a), true),
	))
}

func (f *fixture) user(t *testing.T, id string) models.User {
	t.Helper()
	u, ok, err := getRecord[models.User](context.Background(), f.store, models.CollectionUsers, id)
	require.NoError(t, err)
	require.True(t, ok, "user %s missing", id)
	return u
}

func (f *fixture) notifications(t *testing.T, recipient string) []models.Notification {
	t.Helper()
	out, err := listRecords[models.Notification](context.Background(), f.store, remote.Collection(models.NotificationsPath(recipient)))
	require.NoError(t, err)
	return out
}

func asAdmin(u *models.User) { u.Role = models.RoleAdmin }

func private(u *models.User) {
	f := false
	u.IsPublic = &f
}

func privacyPtr(p models.Privacy) *models.Privacy { return &p }
