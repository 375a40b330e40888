package server

import (
	"vibesync/internal/middleware"

	"github.com/gofiber/fiber/v2"
)

type moderationRequest struct {
	Reason string `json:"reason"`
}

// BanUser handles POST /api/admin/users/:id/ban. The target's open
// sessions are signed out right away; their projectors would also observe
// the flag on the next user snapshot.
func (s *Server) BanUser(c *fiber.Ctx) error {
	var req moderationRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	target := c.Params("id")
	if err := s.svc.Moderation.BanUser(c.UserContext(), middleware.UserID(c), target, req.Reason); err != nil {
		return respondError(c, err)
	}
	s.signOut(c.UserContext(), target, "banned")
	return c.SendStatus(fiber.StatusNoContent)
}

// UnbanUser handles DELETE /api/admin/users/:id/ban
func (s *Server) UnbanUser(c *fiber.Ctx) error {
	var req moderationRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	if err := s.svc.Moderation.UnbanUser(c.UserContext(), middleware.UserID(c), c.Params("id"), req.Reason); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// AdminDeletePost handles DELETE /api/admin/posts/:id
func (s *Server) AdminDeletePost(c *fiber.Ctx) error {
	var req moderationRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	postID := c.Params("id")
	if err := s.svc.Moderation.DeletePost(c.UserContext(), middleware.UserID(c), postID, req.Reason); err != nil {
		return respondError(c, err)
	}
	s.comments.Publish(c.UserContext(), projectionForPost(postID))
	return c.SendStatus(fiber.StatusNoContent)
}

// GetAudit handles GET /api/admin/audit?target=&limit=
func (s *Server) GetAudit(c *fiber.Ctx) error {
	entries, err := s.svc.Moderation.ListAudit(c.UserContext(), middleware.UserID(c), c.Query("target"),
		parseLimit(c, defaultPageLimit))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(entries)
}
