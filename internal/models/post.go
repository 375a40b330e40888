package models

// Privacy controls who may see a post.
type Privacy string

const (
	// PrivacyPublic posts are visible to everyone who has not been blocked.
	PrivacyPublic Privacy = "public"
	// PrivacyFriends posts are visible to the owner's mutual friends.
	PrivacyFriends Privacy = "friends"
	// PrivacyPrivate posts are visible to the owner only.
	PrivacyPrivate Privacy = "private"
)

// Valid reports whether p is one of the known levels.
func (p Privacy) Valid() bool {
	switch p {
	case PrivacyPublic, PrivacyFriends, PrivacyPrivate:
		return true
	}
	return false
}

// MediaKind is the type of an attachment.
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
)

// Media is an uploaded attachment.
type Media struct {
	URL  string    `json:"url"`
	Kind MediaKind `json:"kind"`
}

// ReactionKind names a reaction such as "like".
type ReactionKind string

// ReactionLike is the default reaction.
const ReactionLike ReactionKind = "like"

// Reactions maps a reaction kind to the set of users who reacted with it.
type Reactions map[ReactionKind]IDSet

// Count returns the total number of reactions across kinds.
func (r Reactions) Count() int {
	n := 0
	for _, users := range r {
		n += users.Len()
	}
	return n
}

// Post is a record under the posts collection.
type Post struct {
	ID      string  `json:"id"`
	OwnerID string  `json:"owner_id"`
	Content string  `json:"content"`
	Media   []Media `json:"media,omitempty"`
	// Privacy is absent on legacy records; see ResolvedPrivacy.
	Privacy          *Privacy  `json:"privacy,omitempty"`
	CommentsDisabled bool      `json:"comments_disabled,omitempty"`
	CommentCount     int       `json:"comment_count"`
	Reactions        Reactions `json:"reactions,omitempty"`
	CreatedAt        int64     `json:"created_at"`
	UpdatedAt        int64     `json:"updated_at,omitempty"`
}

// SetID implements the record decoder's key hook.
func (p *Post) SetID(id string) { p.ID = id }

// ResolvedPrivacy returns the post's privacy, treating absent or unknown
// values as public.
func (p Post) ResolvedPrivacy() Privacy {
	if p.Privacy == nil || !p.Privacy.Valid() {
		return PrivacyPublic
	}
	return *p.Privacy
}
