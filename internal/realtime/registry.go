package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"vibesync/internal/observability"
	"vibesync/internal/remote"
)

// ErrRegistryClosed is returned when subscribing through a closed registry.
var ErrRegistryClosed = errors.New("realtime: registry closed")

// Registry owns every subscription of one session. Reset cancels them all and
// advances the generation, so callbacks still in flight for the previous
// viewer are recognised and dropped.
type Registry struct {
	store remote.Store
	loop  *Loop

	mu      sync.Mutex
	gen     uint64
	ctx     context.Context
	cancel  context.CancelFunc
	subs    map[*Subscription]struct{}
	closed  bool
	onFatal func(error)
}

// NewRegistry creates a registry delivering on loop.
func NewRegistry(store remote.Store, loop *Loop) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		store:  store,
		loop:   loop,
		gen:    1,
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[*Subscription]struct{}),
	}
}

// Store returns the store subscriptions are opened on.
func (r *Registry) Store() remote.Store { return r.store }

// Loop returns the loop callbacks run on.
func (r *Registry) Loop() *Loop { return r.loop }

// SetFatalHandler installs the callback for store read errors. It runs on the loop.
func (r *Registry) SetFatalHandler(fn func(error)) {
	r.mu.Lock()
	r.onFatal = fn
	r.mu.Unlock()
}

// Generation returns the current generation token.
func (r *Registry) Generation() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gen
}

// Current reports whether gen is still the live generation.
func (r *Registry) Current(gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.closed && gen == r.gen
}

// Context is cancelled when the current generation ends.
func (r *Registry) Context() context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ctx
}

// Len returns the number of open subscriptions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// Reset synchronously cancels every open subscription and starts a new
// generation.
func (r *Registry) Reset() {
	r.mu.Lock()
	subs := r.subs
	r.subs = make(map[*Subscription]struct{})
	r.gen++
	r.cancel()
	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.mu.Unlock()

	for sub := range subs {
		sub.stop()
	}
	if n := len(subs); n > 0 {
		observability.GlobalLogger.Debug("subscriptions reset", slog.Int("count", n))
	}
}

// Close resets the registry and refuses further subscriptions.
func (r *Registry) Close() {
	r.Reset()
	r.mu.Lock()
	r.closed = true
	r.cancel()
	r.mu.Unlock()
}

func (r *Registry) track(sub *Subscription) (context.Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRegistryClosed
	}
	sub.gen = r.gen
	r.subs[sub] = struct{}{}
	return r.ctx, nil
}

func (r *Registry) untrack(sub *Subscription) {
	r.mu.Lock()
	delete(r.subs, sub)
	r.mu.Unlock()
}

func (r *Registry) fatal(err error) {
	r.mu.Lock()
	fn := r.onFatal
	r.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// Run executes work off the loop with the generation's context and posts
// done back onto the loop, unless the generation ended meanwhile.
func Run[T any](r *Registry, name string, work func(context.Context) (T, error), done func(T, error)) {
	gen := r.Generation()
	ctx := r.Context()
	go func() {
		result, err := work(ctx)
		r.loop.Post(func() {
			if !r.Current(gen) {
				observability.StaleDeliveriesDropped.WithLabelValues(name).Inc()
				return
			}
			done(result, err)
		})
	}()
}
