package server

import (
	"vibesync/internal/middleware"
	"vibesync/internal/models"
	"vibesync/internal/service"

	"github.com/gofiber/fiber/v2"
)

type postRequest struct {
	Content          *string         `json:"content" form:"content"`
	Privacy          *models.Privacy `json:"privacy" form:"privacy"`
	CommentsDisabled *bool           `json:"comments_disabled" form:"comments_disabled"`
}

// CreatePost handles POST /api/posts. Attachments are posted as multipart
// "media" files.
func (s *Server) CreatePost(c *fiber.Ctx) error {
	uid := middleware.UserID(c)

	var req postRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	uploads, err := readUploads(c, "media", uid)
	if err != nil {
		return respondError(c, err)
	}

	in := service.CreatePostInput{OwnerID: uid, Uploads: uploads}
	if req.Content != nil {
		in.Content = *req.Content
	}
	if req.Privacy != nil {
		in.Privacy = *req.Privacy
	}
	if req.CommentsDisabled != nil {
		in.CommentsDisabled = *req.CommentsDisabled
	}

	post, err := s.svc.Posts.CreatePost(c.UserContext(), in)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(post)
}

// GetPost handles GET /api/posts/:id
func (s *Server) GetPost(c *fiber.Ctx) error {
	post, err := s.svc.Posts.GetPost(c.UserContext(), middleware.UserID(c), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(post)
}

// UpdatePost handles PATCH /api/posts/:id
func (s *Server) UpdatePost(c *fiber.Ctx) error {
	var req postRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	post, err := s.svc.Posts.UpdatePost(c.UserContext(), service.UpdatePostInput{
		ActorID:          middleware.UserID(c),
		PostID:           c.Params("id"),
		Content:          req.Content,
		Privacy:          req.Privacy,
		CommentsDisabled: req.CommentsDisabled,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(post)
}

// DeletePost handles DELETE /api/posts/:id
func (s *Server) DeletePost(c *fiber.Ctx) error {
	postID := c.Params("id")
	if err := s.svc.Posts.DeletePost(c.UserContext(), middleware.UserID(c), postID); err != nil {
		return respondError(c, err)
	}
	s.comments.Publish(c.UserContext(), projectionForPost(postID))
	return c.SendStatus(fiber.StatusNoContent)
}

// ToggleReaction handles POST /api/posts/:id/reactions
func (s *Server) ToggleReaction(c *fiber.Ctx) error {
	var req struct {
		Kind models.ReactionKind `json:"kind"`
	}
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	active, err := s.svc.Posts.ToggleReaction(c.UserContext(), middleware.UserID(c), c.Params("id"), req.Kind)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"active": active})
}

// ToggleBookmark handles POST /api/posts/:id/bookmark
func (s *Server) ToggleBookmark(c *fiber.Ctx) error {
	active, err := s.svc.Posts.ToggleBookmark(c.UserContext(), middleware.UserID(c), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"active": active})
}
