package models

// Viewer is the signed-in actor whose friend and block state gates every
// projection. It is an immutable snapshot; a new one is built on every profile
// change.
type Viewer struct {
	ID        string
	Friends   IDSet
	Blocked   IDSet
	Bookmarks IDSet
	Role      Role
	Banned    bool
}

// NewViewer snapshots the viewer's own profile record.
func NewViewer(u User) Viewer {
	return Viewer{
		ID:        u.ID,
		Friends:   u.Friends.Clone(),
		Blocked:   u.Blocked.Clone(),
		Bookmarks: u.Bookmarks.Clone(),
		Role:      u.ResolvedRole(),
		Banned:    u.IsBanned,
	}
}

// IsFriend reports whether id is a mutual friend.
func (v Viewer) IsFriend(id string) bool { return v.Friends.Has(id) }

// HasBlocked reports whether the viewer blocked id.
func (v Viewer) HasBlocked(id string) bool { return v.Blocked.Has(id) }

// IsAdmin reports whether the viewer may use moderation tools.
func (v Viewer) IsAdmin() bool { return v.Role == RoleAdmin }
