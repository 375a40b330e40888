package remote

import (
	"context"
	"sync"
)

type loader func(ctx context.Context, q Query) (Snapshot, error)

// watcher re-runs one query whenever its collection is poked and delivers
// results serially. Pokes that arrive while a delivery is in flight collapse
// into one reload, so the subscriber always ends on the latest state.
type watcher struct {
	q      Query
	fn     func(Snapshot, error)
	load   loader
	notify chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
}

func (w *watcher) poke() {
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

func (w *watcher) run() {
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.notify:
		}
		snap, err := w.load(w.ctx, w.q)
		if w.ctx.Err() != nil {
			return
		}
		w.fn(snap, err)
	}
}

// watchSet tracks live watchers by collection.
type watchSet struct {
	mu     sync.Mutex
	nextID int
	byPath map[string]map[int]*watcher
}

func newWatchSet() *watchSet {
	return &watchSet{byPath: make(map[string]map[int]*watcher)}
}

func (s *watchSet) add(ctx context.Context, q Query, load loader, fn func(Snapshot, error)) func() {
	wctx, cancel := context.WithCancel(ctx)
	w := &watcher{q: q, fn: fn, load: load, notify: make(chan struct{}, 1), ctx: wctx, cancel: cancel}

	s.mu.Lock()
	s.nextID++
	id := s.nextID
	if s.byPath[q.Collection] == nil {
		s.byPath[q.Collection] = make(map[int]*watcher)
	}
	s.byPath[q.Collection][id] = w
	s.mu.Unlock()

	w.poke()
	go w.run()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			s.mu.Lock()
			delete(s.byPath[q.Collection], id)
			if len(s.byPath[q.Collection]) == 0 {
				delete(s.byPath, q.Collection)
			}
			s.mu.Unlock()
		})
	}
}

func (s *watchSet) pokeCollection(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.byPath[path] {
		w.poke()
	}
}

func (s *watchSet) pokeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ws := range s.byPath {
		for _, w := range ws {
			w.poke()
		}
	}
}

func (s *watchSet) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ws := range s.byPath {
		n += len(ws)
	}
	return n
}
