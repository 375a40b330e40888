package models

// Comment is a record under comments/<postID> (top-level) or
// replies/<postID>/<rootID> (replies).
type Comment struct {
	ID      string `json:"id"`
	PostID  string `json:"post_id"`
	OwnerID string `json:"owner_id"`
	Content string `json:"content"`
	// ParentID is empty for top-level comments.
	ParentID string `json:"parent_id,omitempty"`
	// ReplyToID keeps the original target when a reply to a reply is
	// attached to its top-level root.
	ReplyToID  string    `json:"reply_to_id,omitempty"`
	ReplyCount int       `json:"reply_count"`
	Reactions  Reactions `json:"reactions,omitempty"`
	CreatedAt  int64     `json:"created_at"`
	UpdatedAt  int64     `json:"updated_at,omitempty"`
}

// SetID implements the record decoder's key hook.
func (c *Comment) SetID(id string) { c.ID = id }

// IsTopLevel reports whether the comment has no parent.
func (c Comment) IsTopLevel() bool { return c.ParentID == "" }

// CommentsPath is the collection holding a post's top-level comments.
func CommentsPath(postID string) string { return "comments/" + postID }

// RepliesPath is the collection holding the replies under one top-level comment.
func RepliesPath(postID, rootID string) string { return "replies/" + postID + "/" + rootID }
