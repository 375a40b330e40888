// Package realtime turns store subscriptions into typed collections delivered
// on a single session event loop, and discards deliveries that belong to an
// earlier viewer generation.
package realtime

import (
	"log/slog"
	"runtime/debug"
	"sync"

	"vibesync/internal/observability"
)

// Loop runs posted tasks one at a time on a single goroutine. All projector
// state of a session is owned by its loop.
type Loop struct {
	mu     sync.Mutex
	queue  []func()
	closed bool
	wake   chan struct{}
	stop   chan struct{}
	done   chan struct{}
}

// NewLoop starts a loop.
func NewLoop() *Loop {
	l := &Loop{
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go l.run()
	return l
}

// Post queues fn. It never blocks and reports false once the loop is closed.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Do runs fn on the loop and waits for it. It must not be called from the
// loop itself.
func (l *Loop) Do(fn func()) bool {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return false
	}
	select {
	case <-finished:
		return true
	case <-l.done:
		return false
	}
}

// Close stops the loop. Queued tasks that have not started are dropped.
func (l *Loop) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.queue = nil
	l.mu.Unlock()
	close(l.stop)
	<-l.done
}

// Done is closed when the loop goroutine has exited.
func (l *Loop) Done() <-chan struct{} { return l.done }

func (l *Loop) run() {
	defer close(l.done)
	for {
		select {
		case <-l.stop:
			return
		case <-l.wake:
		}
		for {
			l.mu.Lock()
			if l.closed || len(l.queue) == 0 {
				l.mu.Unlock()
				break
			}
			task := l.queue[0]
			l.queue[0] = nil
			l.queue = l.queue[1:]
			l.mu.Unlock()
			l.runTask(task)
		}
	}
}

func (l *Loop) runTask(task func()) {
	defer func() {
		if r := recover(); r != nil {
			observability.GlobalLogger.Error("panic in session loop",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()
	task()
}
