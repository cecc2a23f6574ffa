package flow

import (
	"sync"
	"time"
)

// Keyed is a channel whose values are addressed by an explicit key instead
// of strict FIFO order. Values that nobody claims within the channel's
// timeout are swept out on the next access, so a key that never arrives
// cannot pin memory forever. Each instance gets its own timeout; audio and
// video channels are tuned independently.
type Keyed[K comparable, V any] struct {
	mu      sync.Mutex
	buf     TimedBuffer[K, V]
	timeout time.Duration
	closed  bool
	expired uint64

	notify chan struct{}
	done   chan struct{}
}

// NewKeyed returns an open keyed channel whose unclaimed entries expire
// after timeout.
func NewKeyed[K comparable, V any](timeout time.Duration) *Keyed[K, V] {
	return &Keyed[K, V]{
		timeout: timeout,
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Send inserts value under key. It never blocks and is bounded only by the
// eviction timeout, not by a capacity. Sending on a closed channel is a
// no-op.
func (k *Keyed[K, V]) Send(key K, value V) {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return
	}
	k.sweepLocked()
	k.buf.Insert(key, value)
	k.mu.Unlock()

	select {
	case k.notify <- struct{}{}:
	default:
	}
}

// Recv blocks until an entry stored under key arrives or timeout elapses,
// then removes and returns it. Duplicate keys are drained oldest-first
// across repeated calls.
func (k *Keyed[K, V]) Recv(key K, timeout time.Duration) (V, error) {
	return k.recv(timeout, func() (V, bool) {
		return k.buf.Remove(key)
	})
}

// RecvAny removes and returns the oldest entry regardless of key.
func (k *Keyed[K, V]) RecvAny(timeout time.Duration) (V, error) {
	return k.recv(timeout, func() (V, bool) {
		_, value, ok := k.buf.RemoveAny()
		return value, ok
	})
}

func (k *Keyed[K, V]) recv(timeout time.Duration, take func() (V, bool)) (V, error) {
	var zero V
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		k.mu.Lock()
		k.sweepLocked()
		if value, ok := take(); ok {
			k.mu.Unlock()
			return value, nil
		}
		closed := k.closed
		k.mu.Unlock()

		if closed {
			return zero, ErrClosed
		}

		select {
		case <-k.notify:
		case <-k.done:
		case <-timer.C:
			return zero, ErrTimeout
		}
	}
}

// sweepLocked drops entries older than the channel timeout. Piggy-backed
// on every send and receive so unmatched keys never accumulate.
func (k *Keyed[K, V]) sweepLocked() {
	if dropped := k.buf.RemoveExpired(k.timeout); len(dropped) > 0 {
		k.expired += uint64(len(dropped))
	}
}

// Close wakes all blocked receivers; entries still buffered at close time
// are delivered before receivers start seeing ErrClosed. Safe to call more
// than once.
func (k *Keyed[K, V]) Close() {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return
	}
	k.closed = true
	k.mu.Unlock()
	close(k.done)
}

// Expired returns how many entries were swept out unclaimed.
func (k *Keyed[K, V]) Expired() uint64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.expired
}

// Len returns the number of entries currently buffered.
func (k *Keyed[K, V]) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.buf.Len()
}
