package models

import "strings"

// MessagePreview is the denormalized last message kept on a conversation.
type MessagePreview struct {
	Text      string    `json:"text,omitempty"`
	MediaKind MediaKind `json:"media_kind,omitempty"`
	SenderID  string    `json:"sender_id"`
	CreatedAt int64     `json:"created_at"`
}

// Conversation is a direct-message thread between exactly two users.
type Conversation struct {
	ID           string          `json:"id"`
	Participants []string        `json:"participants"`
	Members      IDSet           `json:"members"`
	LastMessage  *MessagePreview `json:"last_message,omitempty"`
	CreatedAt    int64           `json:"created_at"`
	UpdatedAt    int64           `json:"updated_at,omitempty"`
}

// SetID implements the record decoder's key hook.
func (c *Conversation) SetID(id string) { c.ID = id }

// ConversationID returns the id shared by both orderings of a participant pair.
func ConversationID(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "_" + b
}

// NewConversation builds the record stored on first contact between a and b.
func NewConversation(a, b string, now int64) Conversation {
	if a > b {
		a, b = b, a
	}
	return Conversation{
		ID:           ConversationID(a, b),
		Participants: []string{a, b},
		Members:      NewIDSet(a, b),
		CreatedAt:    now,
	}
}

// Other returns the participant that is not viewerID.
func (c Conversation) Other(viewerID string) string {
	for _, p := range c.Participants {
		if p != viewerID {
			return p
		}
	}
	// Legacy ids carry the pair when participants are missing.
	for _, p := range strings.SplitN(c.ID, "_", 2) {
		if p != viewerID {
			return p
		}
	}
	return ""
}

// LastActivity returns the timestamp of the last message, or 0 when there is none.
func (c Conversation) LastActivity() int64 {
	if c.LastMessage == nil {
		return 0
	}
	return c.LastMessage.CreatedAt
}

// Message is a record under messages/<conversationID>.
type Message struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	Text           string `json:"text,omitempty"`
	Media          *Media `json:"media,omitempty"`
	CreatedAt      int64  `json:"created_at"`
}

// SetID implements the record decoder's key hook.
func (m *Message) SetID(id string) { m.ID = id }

// Preview returns the denormalized form stored on the conversation.
func (m Message) Preview() MessagePreview {
	p := MessagePreview{Text: m.Text, SenderID: m.SenderID, CreatedAt: m.CreatedAt}
	if m.Media != nil {
		p.MediaKind = m.Media.Kind
	}
	return p
}

// MessagesPath is the collection holding a conversation's messages.
func MessagesPath(conversationID string) string { return "messages/" + conversationID }
