package flow

import (
	"sync"
	"time"
)

// Latest is a single-slot mailbox. A send overwrites whatever value is
// still pending, so a receiver always observes the newest value and never
// works through a stale backlog. This is the hand-off used between
// pipeline stages where only the freshest frame matters.
type Latest[T any] struct {
	mu      sync.Mutex
	value   T
	present bool
	closed  bool
	drops   uint64

	notify chan struct{}
	done   chan struct{}
}

// NewLatest returns an empty, open mailbox.
func NewLatest[T any]() *Latest[T] {
	return &Latest[T]{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Send stores value as the pending one, replacing any value not yet
// received. It never blocks. Sending on a closed mailbox is a no-op.
func (l *Latest[T]) Send(value T) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	if l.present {
		l.drops++
	}
	l.value = value
	l.present = true
	l.mu.Unlock()

	select {
	case l.notify <- struct{}{}:
	default:
	}
}

// Recv blocks until a value is pending, the mailbox is closed, or timeout
// elapses. A value that was pending when Close was called is still
// delivered; after that Recv returns ErrClosed immediately.
func (l *Latest[T]) Recv(timeout time.Duration) (T, error) {
	var zero T
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		l.mu.Lock()
		if l.present {
			value := l.value
			l.value = zero
			l.present = false
			l.mu.Unlock()
			return value, nil
		}
		closed := l.closed
		l.mu.Unlock()

		if closed {
			return zero, ErrClosed
		}

		select {
		case <-l.notify:
		case <-l.done:
		case <-timer.C:
			return zero, ErrTimeout
		}
	}
}

// Close wakes all blocked receivers. It is safe to call more than once.
func (l *Latest[T]) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.mu.Unlock()
	close(l.done)
}

// Drops returns how many pending values were overwritten before anyone
// received them.
func (l *Latest[T]) Drops() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.drops
}
