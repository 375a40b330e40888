package server

import (
	"vibesync/internal/middleware"

	"github.com/gofiber/fiber/v2"
)

// GetNotifications handles GET /api/notifications
func (s *Server) GetNotifications(c *fiber.Ctx) error {
	items, err := s.svc.Notifications.List(c.UserContext(), middleware.UserID(c), parseLimit(c, defaultPageLimit))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(items)
}

// MarkNotificationsRead handles POST /api/notifications/read
func (s *Server) MarkNotificationsRead(c *fiber.Ctx) error {
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	if err := s.svc.Notifications.MarkRead(c.UserContext(), middleware.UserID(c), req.IDs); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// MarkAllNotificationsRead handles POST /api/notifications/read-all
func (s *Server) MarkAllNotificationsRead(c *fiber.Ctx) error {
	if err := s.svc.Notifications.MarkAllRead(c.UserContext(), middleware.UserID(c)); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
