package projection

import (
	"cmp"
	"slices"

	"vibesync/internal/models"
	"vibesync/internal/observability"
)

// ChatRow is one friend in the chats list. Placeholder rows have no
// conversation yet; opening one runs get-or-create.
type ChatRow struct {
	FriendID       string                 `json:"friend_id"`
	Friend         *models.User           `json:"friend,omitempty"`
	ConversationID string                 `json:"conversation_id"`
	LastMessage    *models.MessagePreview `json:"last_message,omitempty"`
	LastActivity   int64                  `json:"last_activity"`
	Placeholder    bool                   `json:"placeholder"`
	Online         bool                   `json:"online"`
	LastSeen       int64                  `json:"last_seen,omitempty"`
}

// ProjectConversations emits exactly one row per friend, joined to the
// conversation for that pair when one exists. Rows are ordered by last
// activity, most recent first; rows with equal activity, including every
// placeholder, keep friend id order.
func ProjectConversations(viewer models.Viewer, convs []models.Conversation, users Directory, presence map[string]models.Presence) []ChatRow {
	defer observability.TrackProjection("conversations")()

	byID := make(map[string]models.Conversation, len(convs))
	for _, c := range convs {
		byID[c.ID] = c
	}

	rows := make([]ChatRow, 0, viewer.Friends.Len())
	for _, friendID := range viewer.Friends.Keys() {
		if friendID == viewer.ID || viewer.HasBlocked(friendID) {
			continue
		}
		friend, ok := users.resolve(friendID)
		if !ok {
			continue
		}
		row := ChatRow{
			FriendID:       friendID,
			Friend:         friend,
			ConversationID: models.ConversationID(viewer.ID, friendID),
			Placeholder:    true,
		}
		if c, found := byID[row.ConversationID]; found {
			row.Placeholder = false
			row.LastMessage = c.LastMessage
			row.LastActivity = c.LastActivity()
		}
		if p, found := presence[friendID]; found {
			row.Online = p.Online
			row.LastSeen = p.LastSeen
		}
		rows = append(rows, row)
	}

	slices.SortStableFunc(rows, func(a, b ChatRow) int {
		return cmp.Compare(b.LastActivity, a.LastActivity)
	})
	return rows
}
