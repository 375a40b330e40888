package server

import (
	"vibesync/internal/middleware"
	"vibesync/internal/service"
	"vibesync/internal/validation"

	"github.com/gofiber/fiber/v2"
)

type profileRequest struct {
	DisplayName *string `json:"display_name" form:"display_name"`
	Handle      string  `json:"handle" form:"handle"`
	Bio         *string `json:"bio" form:"bio"`
	IsPublic    *bool   `json:"is_public" form:"is_public"`
}

// GetMyProfile handles GET /api/profile. A 404 means the profile still has
// to be completed.
func (s *Server) GetMyProfile(c *fiber.Ctx) error {
	uid := middleware.UserID(c)
	user, err := s.svc.Profiles.GetProfile(c.UserContext(), uid, uid)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(user)
}

// CompleteProfile handles PUT /api/profile (JSON or multipart with an
// "avatar" file).
func (s *Server) CompleteProfile(c *fiber.Ctx) error {
	ctx := c.UserContext()
	uid := middleware.UserID(c)

	var req profileRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	avatar, err := readUpload(c, "avatar", uid)
	if err != nil {
		return respondError(c, err)
	}

	previous := ""
	if current, err := s.svc.Profiles.GetProfile(ctx, uid, uid); err == nil {
		previous = current.Handle
	}

	in := service.CompleteProfileInput{
		UserID:   uid,
		Handle:   req.Handle,
		IsPublic: req.IsPublic,
		Avatar:   avatar,
	}
	if req.DisplayName != nil {
		in.DisplayName = *req.DisplayName
	}
	if req.Bio != nil {
		in.Bio = *req.Bio
	}

	user, err := s.svc.Profiles.CompleteProfile(ctx, in)
	if err != nil {
		return respondError(c, err)
	}
	s.handles.Invalidate(ctx, previous, user.Handle)
	return c.JSON(user)
}

// UpdateProfile handles PATCH /api/profile.
func (s *Server) UpdateProfile(c *fiber.Ctx) error {
	uid := middleware.UserID(c)

	var req profileRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	avatar, err := readUpload(c, "avatar", uid)
	if err != nil {
		return respondError(c, err)
	}

	user, err := s.svc.Profiles.UpdateProfile(c.UserContext(), service.UpdateProfileInput{
		UserID:      uid,
		DisplayName: req.DisplayName,
		Bio:         req.Bio,
		IsPublic:    req.IsPublic,
		Avatar:      avatar,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(user)
}

// GetUserProfile handles GET /api/users/:id.
func (s *Server) GetUserProfile(c *fiber.Ctx) error {
	user, err := s.svc.Profiles.GetProfile(c.UserContext(), middleware.UserID(c), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(user)
}

// LookupHandle handles GET /api/handles/:handle and resolves it to the
// profile the viewer may see.
func (s *Server) LookupHandle(c *fiber.Ctx) error {
	ctx := c.UserContext()
	handle := validation.NormalizeHandle(c.Params("handle"))
	uid, err := s.handles.Lookup(ctx, handle, s.svc.Profiles.LookupHandle)
	if err != nil {
		return respondError(c, err)
	}
	user, err := s.svc.Profiles.GetProfile(ctx, middleware.UserID(c), uid)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(user)
}
