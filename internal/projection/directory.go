// Package projection derives view models from raw collections. Projectors
// hold no locks: they are owned by a session loop and re-run on every
// relevant snapshot, producing a correct result from whatever subset of
// their inputs has arrived.
package projection

import "vibesync/internal/models"

// Directory is the user profile collection indexed for joins.
type Directory struct {
	byID   map[string]models.User
	loaded bool
}

// NewDirectory indexes a delivered users snapshot.
func NewDirectory(users []models.User) Directory {
	byID := make(map[string]models.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}
	return Directory{byID: byID, loaded: true}
}

// Loaded reports whether a users snapshot has arrived.
func (d Directory) Loaded() bool { return d.loaded }

// Lookup returns the profile for id.
func (d Directory) Lookup(id string) (models.User, bool) {
	u, ok := d.byID[id]
	return u, ok
}

// resolve returns the author to attach to an item. ok is false only when
// the directory is loaded and the profile is missing, meaning the item
// should be skipped.
func (d Directory) resolve(id string) (*models.User, bool) {
	if u, found := d.byID[id]; found {
		return &u, true
	}
	return nil, !d.loaded
}
