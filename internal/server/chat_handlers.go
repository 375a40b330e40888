package server

import (
	"vibesync/internal/middleware"
	"vibesync/internal/service"

	"github.com/gofiber/fiber/v2"
)

// OpenConversation handles POST /api/conversations/:friendId. The
// conversation id is derived from the two members, so this is idempotent.
func (s *Server) OpenConversation(c *fiber.Ctx) error {
	conv, err := s.svc.Chat.GetOrCreateConversation(c.UserContext(), middleware.UserID(c), c.Params("friendId"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(conv)
}

// GetMessages handles GET /api/conversations/:id/messages?limit=&before=
func (s *Server) GetMessages(c *fiber.Ctx) error {
	before := int64(c.QueryInt("before", 0))
	messages, err := s.svc.Chat.ListMessages(c.UserContext(), middleware.UserID(c), c.Params("id"),
		parseLimit(c, defaultPageLimit*2), before)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(messages)
}

// SendMessage handles POST /api/conversations/:id/messages. An image may be
// attached as a multipart "upload" file.
func (s *Server) SendMessage(c *fiber.Ctx) error {
	uid := middleware.UserID(c)

	var req struct {
		Text string `json:"text" form:"text"`
	}
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	upload, err := readUpload(c, "upload", uid)
	if err != nil {
		return respondError(c, err)
	}

	msg, err := s.svc.Chat.SendMessage(c.UserContext(), service.SendMessageInput{
		SenderID:       uid,
		ConversationID: c.Params("id"),
		Text:           req.Text,
		Upload:         upload,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(msg)
}
