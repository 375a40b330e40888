package session

import (
	"context"
	"fmt"
	"time"

	"vibesync/internal/models"
	"vibesync/internal/observability"
	"vibesync/internal/realtime"
	"vibesync/internal/remote"
)

const (
	// ReasonBanned is the sign-out reason when the profile carries a ban.
	ReasonBanned = "banned"
	// ReasonProfileReadFailed is the sign-out reason after a fatal store error.
	ReasonProfileReadFailed = "profile_read_failed"

	signOutTimeout = 10 * time.Second
)

// Transition describes one state change.
type Transition struct {
	From    State
	To      State
	Profile models.User
}

// Listener receives state changes. Both methods run on the session loop.
type Listener interface {
	SessionChanged(t Transition)
	SessionTerminated(err error)
}

// Projector decides the session state from the identity and the viewer's
// profile record. All methods except Start must run on the registry's loop.
type Projector struct {
	reg      *realtime.Registry
	identity Identity
	listener Listener
	logger   *observability.SessionLogger

	state      State
	uid        string
	profile    models.User
	profileSub *realtime.Subscription
	signedOut  bool
	stopped    bool
	stopWatch  func()
}

// NewProjector creates a projector in the Unauthenticated state.
func NewProjector(reg *realtime.Registry, identity Identity, listener Listener, logger *observability.SessionLogger) *Projector {
	p := &Projector{reg: reg, identity: identity, listener: listener, logger: logger}
	reg.SetFatalHandler(p.fail)
	observability.SessionsActive.WithLabelValues(Unauthenticated.String()).Inc()
	return p
}

// Start begins following the identity. Changes are posted onto the loop.
func (p *Projector) Start() {
	loop := p.reg.Loop()
	stop := p.identity.OnIdentityChange(func(uid string) {
		loop.Post(func() { p.IdentityChanged(uid) })
	})
	loop.Post(func() {
		if p.stopped {
			stop()
			return
		}
		p.stopWatch = stop
	})
}

// Stop detaches from the identity and tears down every subscription.
func (p *Projector) Stop() {
	if p.stopped {
		return
	}
	p.stopped = true
	if p.stopWatch != nil {
		p.stopWatch()
	}
	p.setState(Unauthenticated, models.User{})
	p.reg.Close()
	observability.SessionsActive.WithLabelValues(Unauthenticated.String()).Dec()
}

// State returns the current state.
func (p *Projector) State() State { return p.state }

// UID returns the signed-in uid, empty when there is none.
func (p *Projector) UID() string { return p.uid }

// Profile returns the last delivered profile of the viewer.
func (p *Projector) Profile() models.User { return p.profile }

// IdentityChanged handles a new uid from the identity collaborator. Every
// subscription of the previous identity is cancelled before anything is
// opened for the new one.
func (p *Projector) IdentityChanged(uid string) {
	if p.stopped || (uid == p.uid && (uid == "" || p.profileSub != nil)) {
		return
	}
	p.setState(Unauthenticated, models.User{})
	p.reg.Reset()
	p.profileSub = nil
	p.uid = uid
	p.signedOut = false
	if uid == "" {
		return
	}

	sub, err := realtime.SubscribeRecord[models.User](p.reg, "profile",
		remote.RecordQuery(models.CollectionUsers, uid), p.profileChanged)
	if err != nil {
		p.fail(err)
		return
	}
	p.profileSub = sub
}

func (p *Projector) profileChanged(u models.User, exists bool) {
	switch {
	case exists && u.IsBanned:
		p.setState(Banned, u)
		p.forceSignOut(ReasonBanned)
		p.setState(Unauthenticated, models.User{})
		p.reg.Reset()
		p.profileSub = nil
	case !exists || !u.IsComplete():
		p.setState(ProfileIncomplete, u)
	default:
		p.setState(Active, u)
	}
}

// fail ends the session after a store read error.
func (p *Projector) fail(err error) {
	if p.stopped {
		return
	}
	appErr := models.NewSessionError("your session ended, please sign in again", err)
	p.logger.LogEvent("session_terminated", map[string]interface{}{
		"viewer_id": p.uid,
		"error":     err.Error(),
	})
	p.setState(Unauthenticated, models.User{})
	p.reg.Reset()
	p.profileSub = nil
	if p.uid != "" {
		p.forceSignOut(ReasonProfileReadFailed)
	}
	p.listener.SessionTerminated(appErr)
}

// forceSignOut asks the identity to sign out, at most once per identity.
func (p *Projector) forceSignOut(reason string) {
	if p.signedOut {
		return
	}
	p.signedOut = true

	uid := p.uid
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), signOutTimeout)
		defer cancel()
		err := p.identity.SignOut(ctx, reason)
		if err != nil {
			err = fmt.Errorf("sign out: %w", err)
		}
		p.logger.LogSignOut(uid, reason, err)
	}()
}

func (p *Projector) setState(to State, profile models.User) {
	from := p.state
	p.profile = profile
	if from == to && to != Active && to != ProfileIncomplete {
		return
	}
	p.state = to
	if from != to {
		observability.SessionsActive.WithLabelValues(from.String()).Dec()
		observability.SessionsActive.WithLabelValues(to.String()).Inc()
		p.logger.LogTransition(p.uid, from.String(), to.String())
	}
	p.listener.SessionChanged(Transition{From: from, To: to, Profile: profile})
}
