package models

// StoryLifetimeMillis is how long a story stays in the active set.
const StoryLifetimeMillis int64 = 86_400_000

// Story is a record under the stories collection.
type Story struct {
	ID        string `json:"id"`
	OwnerID   string `json:"owner_id"`
	ImageURL  string `json:"image_url"`
	CreatedAt int64  `json:"created_at"`
	Views     IDSet  `json:"views,omitempty"`
	Likes     IDSet  `json:"likes,omitempty"`
}

// SetID implements the record decoder's key hook.
func (s *Story) SetID(id string) { s.ID = id }
