package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"vibesync/internal/models"
	"vibesync/internal/observability"
	"vibesync/internal/privacy"
	"vibesync/internal/remote"
	"vibesync/internal/validation"
)

// handleClaim is the record under handles/<handle>. The claim makes handles
// unique across users.
type handleClaim struct {
	Handle  string `json:"-"`
	OwnerID string `json:"owner_id"`
}

func (h *handleClaim) SetID(id string) { h.Handle = id }

// ProfileService manages the viewer's own profile record.
type ProfileService struct {
	w     storeWriter
	media *MediaService
}

type CompleteProfileInput struct {
	UserID      string `validate:"required"`
	DisplayName string `validate:"notblank,max=60"`
	Handle      string `validate:"required,handle"`
	Bio         string `validate:"max=300"`
	IsPublic    *bool
	Avatar      *UploadInput
}

type UpdateProfileInput struct {
	UserID      string  `validate:"required"`
	DisplayName *string `validate:"omitempty,notblank,max=60"`
	Bio         *string `validate:"omitempty,max=300"`
	IsPublic    *bool
	Avatar      *UploadInput
}

func NewProfileService(store remote.Store, media *MediaService) *ProfileService {
	return &ProfileService{w: newStoreWriter(store, "profile_service"), media: media}
}

// CompleteProfile claims the handle and fills in the fields that make the
// profile complete. Calling it again with a new handle moves the claim.
func (s *ProfileService) CompleteProfile(ctx context.Context, in CompleteProfileInput) (models.User, error) {
	span, ctx := observability.StartServiceSpan(ctx, "ProfileService", "CompleteProfile")
	defer span.End()

	in.Handle = validation.NormalizeHandle(in.Handle)
	in.DisplayName = strings.TrimSpace(in.DisplayName)
	if err := validation.ValidateStruct(in); err != nil {
		return models.User{}, err
	}

	current, exists, err := getRecord[models.User](ctx, s.w.store, models.CollectionUsers, in.UserID)
	if err != nil {
		return models.User{}, err
	}
	if exists && current.IsBanned {
		return models.User{}, models.NewForbiddenError("Account is banned")
	}

	if err := s.claimHandle(ctx, in.UserID, in.Handle); err != nil {
		span.SetError(err)
		return models.User{}, err
	}

	avatarURL := current.AvatarURL
	if in.Avatar != nil {
		in.Avatar.OwnerID = in.UserID
		media, err := s.media.Upload(ctx, PurposeAvatar, *in.Avatar)
		if err != nil {
			return models.User{}, err
		}
		avatarURL = media.URL
	}

	ref := userRef(in.UserID)
	var ops []remote.Op
	user := current
	user.ID = in.UserID
	user.DisplayName = in.DisplayName
	user.Handle = in.Handle
	user.Bio = in.Bio
	user.AvatarURL = avatarURL
	if in.IsPublic != nil {
		public := *in.IsPublic
		user.IsPublic = &public
	}
	if !exists {
		user.CreatedAt = models.NowMillis()
		ops = append(ops, remote.Set(ref, user))
	} else {
		ops = append(ops,
			remote.Set(ref.Child("display_name"), user.DisplayName),
			remote.Set(ref.Child("handle"), user.Handle),
			remote.Set(ref.Child("bio"), user.Bio),
			remote.Set(ref.Child("avatar_url"), user.AvatarURL),
		)
		if user.IsPublic != nil {
			ops = append(ops, remote.Set(ref.Child("is_public"), *user.IsPublic))
		}
	}
	if exists && current.Handle != "" && current.Handle != user.Handle {
		ops = append(ops, remote.Remove(remote.At(models.CollectionHandles, current.Handle)))
	}

	if err := s.w.update(ctx, "complete profile", map[string]interface{}{"handle": user.Handle}, ops...); err != nil {
		span.SetError(err)
		return models.User{}, err
	}
	return user, nil
}

// UpdateProfile changes the optional profile fields. The handle can only be
// changed through CompleteProfile.
func (s *ProfileService) UpdateProfile(ctx context.Context, in UpdateProfileInput) (models.User, error) {
	span, ctx := observability.StartServiceSpan(ctx, "ProfileService", "UpdateProfile")
	defer span.End()

	if in.DisplayName != nil {
		trimmed := strings.TrimSpace(*in.DisplayName)
		in.DisplayName = &trimmed
	}
	if err := validation.ValidateStruct(in); err != nil {
		return models.User{}, err
	}
	user, err := loadActor(ctx, s.w.store, in.UserID)
	if err != nil {
		return models.User{}, err
	}

	ref := userRef(in.UserID)
	var ops []remote.Op
	if in.DisplayName != nil {
		user.DisplayName = *in.DisplayName
		ops = append(ops, remote.Set(ref.Child("display_name"), user.DisplayName))
	}
	if in.Bio != nil {
		user.Bio = strings.TrimSpace(*in.Bio)
		ops = append(ops, remote.Set(ref.Child("bio"), user.Bio))
	}
	if in.IsPublic != nil {
		public := *in.IsPublic
		user.IsPublic = &public
		ops = append(ops, remote.Set(ref.Child("is_public"), public))
	}
	if in.Avatar != nil {
		in.Avatar.OwnerID = in.UserID
		media, err := s.media.Upload(ctx, PurposeAvatar, *in.Avatar)
		if err != nil {
			return models.User{}, err
		}
		user.AvatarURL = media.URL
		ops = append(ops, remote.Set(ref.Child("avatar_url"), user.AvatarURL))
	}

	if err := s.w.update(ctx, "update profile", map[string]interface{}{"fields": len(ops)}, ops...); err != nil {
		span.SetError(err)
		return models.User{}, err
	}
	return user, nil
}

// GetProfile returns userID's profile as viewerID may see it.
func (s *ProfileService) GetProfile(ctx context.Context, viewerID, userID string) (models.User, error) {
	viewer, err := loadUser(ctx, s.w.store, viewerID)
	if err != nil {
		return models.User{}, err
	}
	user, err := loadUser(ctx, s.w.store, userID)
	if err != nil {
		return models.User{}, err
	}
	if !privacy.IsUserVisible(models.NewViewer(viewer), user) && !models.NewViewer(viewer).IsFriend(userID) {
		return models.User{}, models.NewNotFoundError("User", userID)
	}
	if viewerID != userID {
		user.Friends, user.Blocked, user.Bookmarks = nil, nil, nil
	}
	return user, nil
}

// LookupHandle returns the user id holding handle.
func (s *ProfileService) LookupHandle(ctx context.Context, handle string) (string, error) {
	handle = validation.NormalizeHandle(handle)
	claim, ok, err := getRecord[handleClaim](ctx, s.w.store, models.CollectionHandles, handle)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", models.NewNotFoundError("Handle", handle)
	}
	return claim.OwnerID, nil
}

func (s *ProfileService) claimHandle(ctx context.Context, userID, handle string) error {
	return s.w.transact(ctx, "claim handle", remote.At(models.CollectionHandles, handle), func(current []byte, exists bool) (any, error) {
		if exists {
			var claim handleClaim
			if err := json.Unmarshal(current, &claim); err != nil {
				return nil, fmt.Errorf("decode handle claim: %w", err)
			}
			if claim.OwnerID == userID {
				return nil, nil
			}
			return nil, models.NewValidationError("Handle is already taken")
		}
		return handleClaim{OwnerID: userID}, nil
	})
}
