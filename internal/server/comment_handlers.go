package server

import (
	"vibesync/internal/middleware"
	"vibesync/internal/projection"
	"vibesync/internal/service"

	"github.com/gofiber/fiber/v2"
)

type commentRequest struct {
	Content  string `json:"content"`
	ParentID string `json:"parent_id"`
	RootID   string `json:"root_id"`
}

// CreateComment handles POST /api/posts/:id/comments. Sessions with the
// post's sheet open refetch the changed level.
func (s *Server) CreateComment(c *fiber.Ctx) error {
	var req commentRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	comment, mut, err := s.svc.Comments.CreateComment(c.UserContext(), service.CreateCommentInput{
		AuthorID: middleware.UserID(c),
		PostID:   c.Params("id"),
		ParentID: req.ParentID,
		RootID:   req.RootID,
		Content:  req.Content,
	})
	if err != nil {
		return respondError(c, err)
	}
	s.comments.Publish(c.UserContext(), mut)
	return c.Status(fiber.StatusCreated).JSON(comment)
}

// UpdateComment handles PATCH /api/posts/:id/comments/:commentId
func (s *Server) UpdateComment(c *fiber.Ctx) error {
	var req commentRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	comment, mut, err := s.svc.Comments.UpdateComment(c.UserContext(), service.UpdateCommentInput{
		ActorID:   middleware.UserID(c),
		PostID:    c.Params("id"),
		RootID:    req.RootID,
		CommentID: c.Params("commentId"),
		Content:   req.Content,
	})
	if err != nil {
		return respondError(c, err)
	}
	s.comments.Publish(c.UserContext(), mut)
	return c.JSON(comment)
}

// DeleteComment handles DELETE /api/posts/:id/comments/:commentId?root_id=
func (s *Server) DeleteComment(c *fiber.Ctx) error {
	mut, err := s.svc.Comments.DeleteComment(c.UserContext(), service.DeleteCommentInput{
		ActorID:   middleware.UserID(c),
		PostID:    c.Params("id"),
		RootID:    c.Query("root_id"),
		CommentID: c.Params("commentId"),
	})
	if err != nil {
		return respondError(c, err)
	}
	s.comments.Publish(c.UserContext(), mut)
	return c.SendStatus(fiber.StatusNoContent)
}

// projectionForPost is the mutation for a post whose whole thread changed.
func projectionForPost(postID string) projection.CommentMutation {
	return projection.CommentMutation{PostID: postID}
}
