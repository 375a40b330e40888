package realtime

import (
	"log/slog"
	"sync"

	"vibesync/internal/observability"
	"vibesync/internal/remote"
)

// Collection is the decoded content of one snapshot, in store order.
type Collection[T any] struct {
	Items []T
	IDs   []string
	index map[string]int
}

func newCollection[T any](items []T, ids []string) Collection[T] {
	index := make(map[string]int, len(ids))
	for i, id := range ids {
		index[id] = i
	}
	return Collection[T]{Items: items, IDs: ids, index: index}
}

// Len returns the number of items.
func (c Collection[T]) Len() int { return len(c.Items) }

// Get returns the item stored under id.
func (c Collection[T]) Get(id string) (T, bool) {
	if i, ok := c.index[id]; ok {
		return c.Items[i], true
	}
	var zero T
	return zero, false
}

// Subscription is one live query owned by a registry.
type Subscription struct {
	name   string
	reg    *Registry
	gen    uint64
	mu     sync.Mutex
	cancel func()
	closed bool
}

// Name identifies the subscription in logs and metrics.
func (s *Subscription) Name() string { return s.name }

// Close cancels the subscription. Deliveries already queued are dropped.
func (s *Subscription) Close() {
	s.reg.untrack(s)
	s.stop()
}

func (s *Subscription) stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		observability.SubscriptionsOpen.Dec()
	}
}

func (s *Subscription) live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && s.reg.Current(s.gen)
}

func open(r *Registry, name string, q remote.Query, deliver func(remote.Snapshot, error)) (*Subscription, error) {
	sub := &Subscription{name: name, reg: r}
	ctx, err := r.track(sub)
	if err != nil {
		return nil, err
	}

	cancel, err := r.store.Subscribe(ctx, q, func(snap remote.Snapshot, err error) {
		r.loop.Post(func() {
			if !sub.live() {
				observability.StaleDeliveriesDropped.WithLabelValues(name).Inc()
				return
			}
			observability.SnapshotsDelivered.WithLabelValues(name).Inc()
			deliver(snap, err)
		})
	})
	if err != nil {
		r.untrack(sub)
		return nil, err
	}

	sub.mu.Lock()
	if sub.closed {
		// Reset raced with the store call.
		sub.mu.Unlock()
		cancel()
		return sub, nil
	}
	sub.cancel = cancel
	sub.mu.Unlock()
	observability.SubscriptionsOpen.Inc()
	return sub, nil
}

// Subscribe opens a collection subscription. onChange runs on the loop with
// the full decoded collection every time the store reports a change. Read
// errors go to the registry's fatal handler instead.
func Subscribe[T any, PT remote.Keyed[T]](r *Registry, name string, q remote.Query, onChange func(Collection[T])) (*Subscription, error) {
	return open(r, name, q, func(snap remote.Snapshot, err error) {
		if err != nil {
			r.fatal(err)
			return
		}
		onChange(decodeCollection[T, PT](name, snap))
	})
}

// SubscribeRecord opens a single-record subscription. exists is false when
// the record is absent.
func SubscribeRecord[T any, PT remote.Keyed[T]](r *Registry, name string, q remote.Query, onChange func(item T, exists bool)) (*Subscription, error) {
	return open(r, name, q, func(snap remote.Snapshot, err error) {
		if err != nil {
			r.fatal(err)
			return
		}
		item, exists, err := remote.DecodeOne[T, PT](snap)
		if err != nil {
			r.fatal(err)
			return
		}
		onChange(item, exists)
	})
}

func decodeCollection[T any, PT remote.Keyed[T]](name string, snap remote.Snapshot) Collection[T] {
	items := make([]T, 0, len(snap.Records))
	ids := make([]string, 0, len(snap.Records))
	for _, rec := range snap.Records {
		item, err := remote.DecodeRecord[T, PT](rec)
		if err != nil {
			observability.GlobalLogger.Warn("skipping malformed record",
				slog.String("subscription", name),
				slog.String("record_id", rec.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		items = append(items, item)
		ids = append(ids, rec.ID)
	}
	return newCollection(items, ids)
}

// FromItems builds a collection outside a subscription, e.g. from a
// one-shot query.
func FromItems[T any](items []T, id func(T) string) Collection[T] {
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = id(it)
	}
	return newCollection(items, ids)
}
