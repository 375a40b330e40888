package models

// NotificationKind classifies what triggered a notification.
type NotificationKind string

const (
	NotificationLike          NotificationKind = "like"
	NotificationComment       NotificationKind = "comment"
	NotificationMention       NotificationKind = "mention"
	NotificationFriendRequest NotificationKind = "friend_request"
	NotificationFriendAccept  NotificationKind = "friend_accept"
)

// Notification is a record under notifications/<recipientID>. Read only ever
// flips from false to true.
type Notification struct {
	ID          string           `json:"id"`
	RecipientID string           `json:"recipient_id"`
	SenderID    string           `json:"sender_id"`
	Kind        NotificationKind `json:"kind"`
	PostID      string           `json:"post_id,omitempty"`
	Read        bool             `json:"read"`
	CreatedAt   int64            `json:"created_at"`
}

// SetID implements the record decoder's key hook.
func (n *Notification) SetID(id string) { n.ID = id }

// NotificationsPath is the collection holding a user's notifications.
func NotificationsPath(userID string) string { return "notifications/" + userID }
