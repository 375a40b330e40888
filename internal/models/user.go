package models

// Role is the viewer's permission level.
type Role string

const (
	RoleStandard Role = "standard"
	RoleAdmin    Role = "admin"
)

// User is a profile record under the users collection.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Handle      string `json:"handle"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Bio         string `json:"bio,omitempty"`
	// IsPublic is absent on legacy records; see ResolvedPublic.
	IsPublic  *bool `json:"is_public,omitempty"`
	Role      Role  `json:"role,omitempty"`
	IsBanned  bool  `json:"is_banned,omitempty"`
	Friends   IDSet `json:"friends,omitempty"`
	Blocked   IDSet `json:"blocked,omitempty"`
	Bookmarks IDSet `json:"bookmarks,omitempty"`
	CreatedAt int64 `json:"created_at"`
}

// SetID implements the record decoder's key hook.
func (u *User) SetID(id string) { u.ID = id }

// ResolvedPublic returns the profile visibility, treating an absent flag as public.
func (u User) ResolvedPublic() bool {
	if u.IsPublic == nil {
		return true
	}
	return *u.IsPublic
}

// ResolvedRole returns the role, treating an absent role as standard.
func (u User) ResolvedRole() Role {
	if u.Role == "" {
		return RoleStandard
	}
	return u.Role
}

// IsComplete reports whether the profile has the fields required to use the app.
func (u User) IsComplete() bool {
	return u.DisplayName != "" && u.Handle != ""
}

// IsAdmin reports whether the user carries the admin role.
func (u User) IsAdmin() bool {
	return u.ResolvedRole() == RoleAdmin
}
