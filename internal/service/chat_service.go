package service

import (
	"context"
	"strings"

	"vibesync/internal/models"
	"vibesync/internal/observability"
	"vibesync/internal/remote"
	"vibesync/internal/validation"
)

// ChatService manages direct-message conversations between friends.
type ChatService struct {
	w     storeWriter
	media *MediaService
}

type SendMessageInput struct {
	SenderID       string `validate:"required"`
	ConversationID string `validate:"required"`
	Text           string `validate:"max=4000"`
	Upload         *UploadInput
}

func NewChatService(store remote.Store, media *MediaService) *ChatService {
	return &ChatService{w: newStoreWriter(store, "chat_service"), media: media}
}

// GetOrCreateConversation returns the conversation between viewerID and
// friendID, creating it on first contact. Concurrent callers from both sides
// end up with the same record.
func (s *ChatService) GetOrCreateConversation(ctx context.Context, viewerID, friendID string) (models.Conversation, error) {
	span, ctx := observability.StartServiceSpan(ctx, "ChatService", "GetOrCreateConversation")
	defer span.End()

	if viewerID == friendID {
		return models.Conversation{}, models.NewValidationError("Cannot start a conversation with yourself")
	}
	viewer, err := loadActor(ctx, s.w.store, viewerID)
	if err != nil {
		return models.Conversation{}, err
	}
	if !viewer.Friends.Has(friendID) || viewer.Blocked.Has(friendID) {
		return models.Conversation{}, models.NewForbiddenError("You can only message friends")
	}
	friend, err := loadUser(ctx, s.w.store, friendID)
	if err != nil {
		return models.Conversation{}, err
	}
	if friend.Blocked.Has(viewerID) {
		return models.Conversation{}, models.NewForbiddenError("You can only message friends")
	}

	id := models.ConversationID(viewerID, friendID)
	ref := remote.At(models.CollectionConversations, id)
	err = s.w.transact(ctx, "create conversation", ref, func(_ []byte, exists bool) (any, error) {
		if exists {
			return nil, nil
		}
		return models.NewConversation(viewerID, friendID, models.NowMillis()), nil
	})
	if err != nil {
		span.SetError(err)
		return models.Conversation{}, err
	}

	conv, ok, err := getRecord[models.Conversation](ctx, s.w.store, models.CollectionConversations, id)
	if err != nil {
		return models.Conversation{}, err
	}
	if !ok {
		return models.Conversation{}, models.NewNotFoundError("Conversation", id)
	}
	return conv, nil
}

// SendMessage uploads the attachment, then writes the message and the
// conversation's last-message preview in one update.
func (s *ChatService) SendMessage(ctx context.Context, in SendMessageInput) (models.Message, error) {
	span, ctx := observability.StartServiceSpan(ctx, "ChatService", "SendMessage")
	defer span.End()

	in.Text = strings.TrimSpace(in.Text)
	if err := validation.ValidateStruct(in); err != nil {
		return models.Message{}, err
	}
	if in.Text == "" && in.Upload == nil {
		return models.Message{}, models.NewValidationError("Message text or media is required")
	}
	if _, err := loadActor(ctx, s.w.store, in.SenderID); err != nil {
		return models.Message{}, err
	}
	conv, err := s.memberConversation(ctx, in.SenderID, in.ConversationID)
	if err != nil {
		return models.Message{}, err
	}
	if other, err := loadUser(ctx, s.w.store, conv.Other(in.SenderID)); err == nil && other.Blocked.Has(in.SenderID) {
		return models.Message{}, models.NewForbiddenError("You cannot message this user")
	}

	msg := models.Message{
		ID:             models.NewID(),
		ConversationID: conv.ID,
		SenderID:       in.SenderID,
		Text:           in.Text,
	}
	if in.Upload != nil {
		in.Upload.OwnerID = in.SenderID
		media, err := s.media.Upload(ctx, PurposeMessage, *in.Upload)
		if err != nil {
			span.SetError(err)
			return models.Message{}, err
		}
		msg.Media = &media
	}
	msg.CreatedAt = models.NowMillis()

	convRef := remote.At(models.CollectionConversations, conv.ID)
	if err := s.w.update(ctx, "send message", map[string]interface{}{"conversation_id": conv.ID, "message_id": msg.ID},
		remote.Set(remote.At(models.MessagesPath(conv.ID), msg.ID), msg),
		remote.Set(convRef.Child("last_message"), msg.Preview()),
		remote.Set(convRef.Child("updated_at"), msg.CreatedAt),
	); err != nil {
		span.SetError(err)
		return models.Message{}, err
	}
	return msg, nil
}

// ListMessages returns up to limit messages of a conversation, oldest first.
// A non-zero before pages back from that timestamp.
func (s *ChatService) ListMessages(ctx context.Context, viewerID, conversationID string, limit int, before int64) ([]models.Message, error) {
	if _, err := s.memberConversation(ctx, viewerID, conversationID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := remote.Latest(models.MessagesPath(conversationID), models.FieldCreatedAt, limit)
	if before > 0 {
		q = q.Before(before)
	}
	return listRecords[models.Message](ctx, s.w.store, q)
}

func (s *ChatService) memberConversation(ctx context.Context, viewerID, conversationID string) (models.Conversation, error) {
	conv, ok, err := getRecord[models.Conversation](ctx, s.w.store, models.CollectionConversations, conversationID)
	if err != nil {
		return models.Conversation{}, err
	}
	if !ok || !conv.Members.Has(viewerID) {
		return models.Conversation{}, models.NewNotFoundError("Conversation", conversationID)
	}
	return conv, nil
}
