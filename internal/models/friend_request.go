package models

// FriendRequest is a pending edge stored at friend_requests/<recipientID>/<senderID>.
// Existence is the whole signal: there is no status field, and a resolved
// request is simply deleted.
type FriendRequest struct {
	SenderID  string `json:"sender_id"`
	CreatedAt int64  `json:"created_at"`
}

// SetID implements the record decoder's key hook. The record key is the sender.
func (r *FriendRequest) SetID(id string) { r.SenderID = id }

// FriendRequestsPath is the collection of requests pending for recipientID.
func FriendRequestsPath(recipientID string) string { return "friend_requests/" + recipientID }
