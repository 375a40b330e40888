package session

import (
	"context"
	"fmt"

	"vibesync/internal/models"
	"vibesync/internal/realtime"
)

// Intent types sent by the client.
const (
	IntentLoadMoreFeed     = "load_more_feed"
	IntentOpenComments     = "open_comments"
	IntentCloseComments    = "close_comments"
	IntentLoadMoreComments = "load_more_comments"
	IntentExpandReplies    = "expand_replies"
	IntentCollapseReplies  = "collapse_replies"
	IntentSetForeground    = "set_foreground"
	IntentMarkRead         = "mark_read"
	IntentStartChat        = "start_chat"
)

// Intent is one client-to-server message.
type Intent struct {
	Type       string `json:"type"`
	PostID     string `json:"post_id,omitempty"`
	CommentID  string `json:"comment_id,omitempty"`
	FriendID   string `json:"friend_id,omitempty"`
	Foreground *bool  `json:"foreground,omitempty"`
}

// Handle queues in on the session loop.
func (s *Session) Handle(in Intent) {
	s.loop.Post(func() { s.handle(in) })
}

func (s *Session) handle(in Intent) {
	// Foreground state is tracked even before the session is active so the
	// first notification snapshot sees it.
	if in.Type == IntentSetForeground {
		if in.Foreground == nil {
			s.sendError(models.NewValidationError("foreground is required"))
			return
		}
		s.foreground = *in.Foreground
		return
	}
	if !s.active() {
		s.sendError(models.NewUnauthorizedError("session is not active"))
		return
	}

	switch in.Type {
	case IntentLoadMoreFeed:
		if req, ok := s.feed.NextPage(); ok {
			s.mark(viewFeed)
			s.fetchPage(s.feed, req)
		}
	case IntentOpenComments:
		if in.PostID == "" {
			s.sendError(models.NewValidationError("post_id is required"))
			return
		}
		s.openComments(in.PostID)
	case IntentCloseComments:
		s.closeSheet()
	case IntentLoadMoreComments:
		if s.sheet == nil {
			return
		}
		if f, ok := s.sheet.LoadMore(); ok {
			s.fetchLevel(s.sheet, f)
		}
	case IntentExpandReplies, IntentCollapseReplies:
		if s.sheet == nil || in.CommentID == "" {
			s.sendError(models.NewValidationError("comment_id requires an open comment sheet"))
			return
		}
		if in.Type == IntentCollapseReplies {
			s.sheet.Collapse(in.CommentID)
			s.mark(viewComments)
			return
		}
		s.fetchLevel(s.sheet, s.sheet.Expand(in.CommentID))
	case IntentMarkRead:
		s.markRead()
	case IntentStartChat:
		s.startChat(in.FriendID)
	default:
		s.sendError(models.NewValidationError(fmt.Sprintf("unknown intent %q", in.Type)))
	}
}

func (s *Session) markRead() {
	ids := s.notifs.UnreadIDs()
	if len(ids) == 0 {
		return
	}
	if s.deps.Actions == nil {
		s.sendError(models.NewForbiddenError("mark read is not available"))
		return
	}
	uid := s.viewer.ID
	realtime.Run(s.reg, "mark_read",
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, s.deps.Actions.MarkRead(ctx, uid, ids)
		},
		func(_ struct{}, err error) {
			if err != nil {
				s.sendError(err)
			}
		})
}

func (s *Session) startChat(friendID string) {
	switch {
	case friendID == "":
		s.sendError(models.NewValidationError("friend_id is required"))
		return
	case !s.viewer.IsFriend(friendID) || s.viewer.HasBlocked(friendID):
		s.sendError(models.NewForbiddenError("you can only message friends"))
		return
	case s.deps.Actions == nil:
		s.sendError(models.NewForbiddenError("chat is not available"))
		return
	}
	uid := s.viewer.ID
	realtime.Run(s.reg, "start_chat",
		func(ctx context.Context) (models.Conversation, error) {
			return s.deps.Actions.GetOrCreateConversation(ctx, uid, friendID)
		},
		func(conv models.Conversation, err error) {
			if err != nil {
				s.sendError(err)
				return
			}
			s.send(Frame{Type: FrameChatOpened, Payload: conv})
		})
}
