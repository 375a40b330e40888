package session

import (
	"context"
	"sync"
)

// Identity is the external authentication collaborator. OnIdentityChange
// reports the current uid immediately and then every change; an empty uid
// means signed out.
type Identity interface {
	OnIdentityChange(fn func(uid string)) (cancel func())
	SignOut(ctx context.Context, reason string) error
}

// ConnIdentity is the identity of one authenticated connection. The uid is
// fixed when the connection's token is verified; signing out clears it and
// runs the revoke hook, which typically closes the connection.
type ConnIdentity struct {
	mu        sync.Mutex
	uid       string
	listeners map[int]func(string)
	next      int
	revoke    func(ctx context.Context, reason string) error
}

// NewConnIdentity creates an identity for uid. revoke may be nil.
func NewConnIdentity(uid string, revoke func(ctx context.Context, reason string) error) *ConnIdentity {
	return &ConnIdentity{uid: uid, listeners: make(map[int]func(string)), revoke: revoke}
}

// UID returns the current uid, empty once signed out.
func (c *ConnIdentity) UID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.uid
}

func (c *ConnIdentity) OnIdentityChange(fn func(uid string)) func() {
	c.mu.Lock()
	id := c.next
	c.next++
	c.listeners[id] = fn
	uid := c.uid
	c.mu.Unlock()

	fn(uid)
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

func (c *ConnIdentity) SignOut(ctx context.Context, reason string) error {
	c.mu.Lock()
	if c.uid == "" {
		c.mu.Unlock()
		return nil
	}
	c.uid = ""
	listeners := make([]func(string), 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.mu.Unlock()

	for _, fn := range listeners {
		fn("")
	}
	if c.revoke != nil {
		return c.revoke(ctx, reason)
	}
	return nil
}
