package flow

import "time"

type timedEntry[K comparable, V any] struct {
	key        K
	value      V
	insertedAt time.Time
}

// TimedBuffer is an insertion-ordered collection of keyed values that
// remembers when each value was added. Duplicate keys are allowed; keyed
// removal always takes the oldest match. TimedBuffer is not safe for
// concurrent use, the channels in this package wrap it with their own
// locking.
type TimedBuffer[K comparable, V any] struct {
	entries []timedEntry[K, V]
}

// Insert appends value under key, stamped with the current time.
func (b *TimedBuffer[K, V]) Insert(key K, value V) {
	b.insertAt(key, value, time.Now())
}

func (b *TimedBuffer[K, V]) insertAt(key K, value V, at time.Time) {
	b.entries = append(b.entries, timedEntry[K, V]{key: key, value: value, insertedAt: at})
}

// RemoveAny removes and returns the oldest entry regardless of key.
func (b *TimedBuffer[K, V]) RemoveAny() (K, V, bool) {
	if len(b.entries) == 0 {
		var key K
		var value V
		return key, value, false
	}
	entry := b.entries[0]
	b.entries[0] = timedEntry[K, V]{}
	b.entries = b.entries[1:]
	return entry.key, entry.value, true
}

// Remove removes and returns the oldest entry stored under key.
func (b *TimedBuffer[K, V]) Remove(key K) (V, bool) {
	for i, entry := range b.entries {
		if entry.key == key {
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
			return entry.value, true
		}
	}
	var value V
	return value, false
}

// RemoveExpired removes every entry older than timeout and returns their
// values, preserving insertion order. The scan works on the buffer as it
// was when the call started, so removal never skips over entries.
func (b *TimedBuffer[K, V]) RemoveExpired(timeout time.Duration) []V {
	deadline := time.Now().Add(-timeout)
	var expired []V
	kept := b.entries[:0]
	for _, entry := range b.entries {
		if entry.insertedAt.Before(deadline) {
			expired = append(expired, entry.value)
		} else {
			kept = append(kept, entry)
		}
	}
	// zero the tail so removed values don't pin memory
	for i := len(kept); i < len(b.entries); i++ {
		b.entries[i] = timedEntry[K, V]{}
	}
	b.entries = kept
	return expired
}

// Len returns the number of buffered entries.
func (b *TimedBuffer[K, V]) Len() int {
	return len(b.entries)
}
