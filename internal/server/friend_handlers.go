package server

import (
	"vibesync/internal/middleware"

	"github.com/gofiber/fiber/v2"
)

// GetPendingRequests handles GET /api/friends/requests
func (s *Server) GetPendingRequests(c *fiber.Ctx) error {
	requests, err := s.svc.Friends.ListIncoming(c.UserContext(), middleware.UserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(requests)
}

// SendFriendRequest handles POST /api/friends/requests/:userId
func (s *Server) SendFriendRequest(c *fiber.Ctx) error {
	if err := s.svc.Friends.SendRequest(c.UserContext(), middleware.UserID(c), c.Params("userId")); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusCreated)
}

// AcceptFriendRequest handles POST /api/friends/requests/:userId/accept.
// userId is the sender.
func (s *Server) AcceptFriendRequest(c *fiber.Ctx) error {
	if err := s.svc.Friends.AcceptRequest(c.UserContext(), middleware.UserID(c), c.Params("userId")); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// RejectFriendRequest handles POST /api/friends/requests/:userId/reject
func (s *Server) RejectFriendRequest(c *fiber.Ctx) error {
	if err := s.svc.Friends.RejectRequest(c.UserContext(), middleware.UserID(c), c.Params("userId")); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// CancelFriendRequest handles DELETE /api/friends/requests/:userId.
// userId is the recipient.
func (s *Server) CancelFriendRequest(c *fiber.Ctx) error {
	if err := s.svc.Friends.CancelRequest(c.UserContext(), middleware.UserID(c), c.Params("userId")); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// RemoveFriend handles DELETE /api/friends/:userId
func (s *Server) RemoveFriend(c *fiber.Ctx) error {
	if err := s.svc.Friends.RemoveFriend(c.UserContext(), middleware.UserID(c), c.Params("userId")); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// BlockUser handles POST /api/friends/:userId/block
func (s *Server) BlockUser(c *fiber.Ctx) error {
	if err := s.svc.Friends.Block(c.UserContext(), middleware.UserID(c), c.Params("userId")); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// UnblockUser handles DELETE /api/friends/:userId/block
func (s *Server) UnblockUser(c *fiber.Ctx) error {
	if err := s.svc.Friends.Unblock(c.UserContext(), middleware.UserID(c), c.Params("userId")); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
