package server

import (
	"vibesync/internal/middleware"
	"vibesync/internal/models"

	"github.com/gofiber/fiber/v2"
)

// CreateStory handles POST /api/stories with a multipart "media" file.
func (s *Server) CreateStory(c *fiber.Ctx) error {
	uid := middleware.UserID(c)
	upload, err := readUpload(c, "media", uid)
	if err != nil {
		return respondError(c, err)
	}
	if upload == nil {
		return respondError(c, models.NewValidationError("A story needs a media file"))
	}
	story, err := s.svc.Stories.CreateStory(c.UserContext(), uid, *upload)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(story)
}

// ViewStory handles POST /api/stories/:id/view
func (s *Server) ViewStory(c *fiber.Ctx) error {
	if err := s.svc.Stories.ViewStory(c.UserContext(), middleware.UserID(c), c.Params("id")); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ToggleStoryLike handles POST /api/stories/:id/like
func (s *Server) ToggleStoryLike(c *fiber.Ctx) error {
	liked, err := s.svc.Stories.ToggleStoryLike(c.UserContext(), middleware.UserID(c), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"active": liked})
}

// DeleteStory handles DELETE /api/stories/:id
func (s *Server) DeleteStory(c *fiber.Ctx) error {
	if err := s.svc.Stories.DeleteStory(c.UserContext(), middleware.UserID(c), c.Params("id")); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
