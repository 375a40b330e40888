// Package session runs one viewer's realtime session: it gates every live
// subscription on the signed-in identity and profile, drives the projectors
// on a single event loop and pushes rendered views to a sink.
package session

// State is the top-level session state the rest of the app renders from.
type State int

const (
	Unauthenticated State = iota
	ProfileIncomplete
	Banned
	Active
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case ProfileIncomplete:
		return "profile_incomplete"
	case Banned:
		return "banned"
	case Active:
		return "active"
	}
	return "unknown"
}

// MarshalText encodes the state by name in frames and logs.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }
