// Package flow provides the channel primitives the streaming pipeline is
// built from: a single-slot mailbox that always holds the newest value, a
// keyed timed channel that drops values nobody claims in time, and a
// non-blocking signal bus for shutdown notifications.
package flow

import "errors"

var (
	// ErrTimeout is returned by receive operations when the deadline
	// elapses before a value arrives.
	ErrTimeout = errors.New("flow: receive timed out")

	// ErrClosed is returned by receive operations on a closed channel
	// once any pending values have been drained.
	ErrClosed = errors.New("flow: channel closed")
)
