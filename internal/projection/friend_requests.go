package projection

import (
	"vibesync/internal/models"
)

// IncomingRequest is a pending friend request joined to its sender.
type IncomingRequest struct {
	SenderID  string       `json:"sender_id"`
	Sender    *models.User `json:"sender,omitempty"`
	CreatedAt int64        `json:"created_at"`
}

// ProjectFriendRequests lists pending requests newest first. Requests from
// blocked users, from existing friends and from missing profiles are left out.
func ProjectFriendRequests(viewer models.Viewer, requests []models.FriendRequest, users Directory) []IncomingRequest {
	out := make([]IncomingRequest, 0, len(requests))
	for _, r := range requests {
		if r.SenderID == viewer.ID || viewer.HasBlocked(r.SenderID) || viewer.IsFriend(r.SenderID) {
			continue
		}
		sender, ok := users.resolve(r.SenderID)
		if !ok {
			continue
		}
		out = append(out, IncomingRequest{SenderID: r.SenderID, Sender: sender, CreatedAt: r.CreatedAt})
	}
	SortNewestFirst(out, func(r IncomingRequest) (int64, string) { return r.CreatedAt, r.SenderID })
	return out
}
