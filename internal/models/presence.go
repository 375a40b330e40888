package models

// Presence is the online state written by the websocket gateway.
type Presence struct {
	UserID   string `json:"user_id"`
	Online   bool   `json:"online"`
	LastSeen int64  `json:"last_seen"`
}

// SetID implements the record decoder's key hook.
func (p *Presence) SetID(id string) { p.UserID = id }
