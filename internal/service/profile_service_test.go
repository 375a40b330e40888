package service

import (
	"context"
	"testing"

	"vibesync/internal/models"
	"vibesync/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfileService_CompleteProfileClaimsHandle(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	svc := NewProfileService(f.store, f.media)
	ctx := context.Background()

	u, err := svc.CompleteProfile(ctx, CompleteProfileInput{
		UserID:      "uid-1",
		DisplayName: " Alice ",
		Handle:      "@Alice_W",
		Avatar:      &UploadInput{ContentType: "image/png", Content: testutil.TinyPNG(t, 64, 32)},
	})
	require.NoError(t, err)
	assert.Equal(t, "alice_w", u.Handle)
	assert.Equal(t, "Alice", u.DisplayName)
	assert.True(t, u.IsComplete())
	assert.Contains(t, u.AvatarURL, "avatars/uid-1/")

	stored := f.user(t, "uid-1")
	assert.Equal(t, "alice_w", stored.Handle)
	assert.NotZero(t, stored.CreatedAt)

	owner, err := svc.LookupHandle(ctx, "ALICE_W")
	require.NoError(t, err)
	assert.Equal(t, "uid-1", owner)

	// Re-claiming your own handle is allowed.
	_, err = svc.CompleteProfile(ctx, CompleteProfileInput{UserID: "uid-1", DisplayName: "Alice", Handle: "alice_w"})
	require.NoError(t, err)

	_, err = svc.CompleteProfile(ctx, CompleteProfileInput{UserID: "uid-2", DisplayName: "Imposter", Handle: "alice_w"})
	require.Error(t, err)
	assert.True(t, models.IsCode(err, models.CodeValidation))
}

func TestProfileService_ChangingHandleReleasesOldClaim(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	svc := NewProfileService(f.store, f.media)
	ctx := context.Background()

	_, err := svc.CompleteProfile(ctx, CompleteProfileInput{UserID: "uid-1", DisplayName: "A", Handle: "first"})
	require.NoError(t, err)
	_, err = svc.CompleteProfile(ctx, CompleteProfileInput{UserID: "uid-1", DisplayName: "A", Handle: "second"})
	require.NoError(t, err)

	_, err = svc.LookupHandle(ctx, "first")
	assert.True(t, models.IsCode(err, models.CodeNotFound))

	_, err = svc.CompleteProfile(ctx, CompleteProfileInput{UserID: "uid-2", DisplayName: "B", Handle: "first"})
	assert.NoError(t, err)
}

func TestProfileService_CompleteProfileValidation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	svc := NewProfileService(f.store, f.media)
	ctx := context.Background()

	for _, handle := range []string{"ab", "has space", "_lead", "admin"} {
		_, err := svc.CompleteProfile(ctx, CompleteProfileInput{UserID: "uid-1", DisplayName: "A", Handle: handle})
		assert.True(t, models.IsCode(err, models.CodeValidation), "handle %q", handle)
	}
	_, err := svc.CompleteProfile(ctx, CompleteProfileInput{UserID: "uid-1", DisplayName: "   ", Handle: "valid"})
	assert.True(t, models.IsCode(err, models.CodeValidation))
}

func TestProfileService_UpdateProfile(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.seedUser(t, "alice")
	svc := NewProfileService(f.store, f.media)

	name := "Alice Cooper"
	bio := "  hi  "
	public := false
	u, err := svc.UpdateProfile(context.Background(), UpdateProfileInput{UserID: "alice", DisplayName: &name, Bio: &bio, IsPublic: &public})
	require.NoError(t, err)
	assert.Equal(t, "Alice Cooper", u.DisplayName)

	stored := f.user(t, "alice")
	assert.Equal(t, "hi", stored.Bio)
	assert.False(t, stored.ResolvedPublic())
	assert.Equal(t, "alice", stored.Handle)
}

func TestProfileService_GetProfile(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.seedUser(t, "alice", private)
	f.seedUser(t, "bob")
	f.seedUser(t, "carol")
	f.befriend(t, "alice", "bob")
	svc := NewProfileService(f.store, f.media)
	ctx := context.Background()

	u, err := svc.GetProfile(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.Nil(t, u.Friends)

	_, err = svc.GetProfile(ctx, "carol", "alice")
	assert.True(t, models.IsCode(err, models.CodeNotFound))

	self, err := svc.GetProfile(ctx, "alice", "alice")
	require.NoError(t, err)
	assert.True(t, self.Friends.Has("bob"))
}
