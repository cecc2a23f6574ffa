package flow

import (
	"sync"
	"time"
)

// signalBusCapacity bounds how many undelivered signals the bus holds.
// Senders re-raising a shutdown reason past this point add nothing the
// consumer doesn't already know, so overflow is dropped.
const signalBusCapacity = 16

// SignalBus is a multi-producer, single-consumer notification channel.
// Send never blocks; signals are observed in send order. Closing the bus
// models all producers going away, which receivers see as ErrClosed once
// pending signals are drained.
type SignalBus[T any] struct {
	signals chan T
	done    chan struct{}
	once    sync.Once
}

// NewSignalBus returns an open bus.
func NewSignalBus[T any]() *SignalBus[T] {
	return &SignalBus[T]{
		signals: make(chan T, signalBusCapacity),
		done:    make(chan struct{}),
	}
}

// Send queues signal for the consumer without blocking. Signals sent after
// Close, or past the bus capacity, are dropped.
func (b *SignalBus[T]) Send(signal T) {
	select {
	case <-b.done:
		return
	default:
	}
	select {
	case b.signals <- signal:
	default:
	}
}

// Recv blocks until a signal arrives, the bus is closed, or timeout
// elapses. Signals queued before Close are still delivered.
func (b *SignalBus[T]) Recv(timeout time.Duration) (T, error) {
	var zero T

	select {
	case signal := <-b.signals:
		return signal, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case signal := <-b.signals:
		return signal, nil
	case <-b.done:
		// a signal may have raced in just before the close
		select {
		case signal := <-b.signals:
			return signal, nil
		default:
		}
		return zero, ErrClosed
	case <-timer.C:
		return zero, ErrTimeout
	}
}

// TryRecv is Recv with a zero deadline: it returns immediately with a
// pending signal, ErrClosed, or ErrTimeout when the bus is simply empty.
func (b *SignalBus[T]) TryRecv() (T, error) {
	var zero T
	select {
	case signal := <-b.signals:
		return signal, nil
	default:
	}
	select {
	case <-b.done:
		return zero, ErrClosed
	default:
	}
	return zero, ErrTimeout
}

// Close marks the producer side disconnected and wakes the consumer. Safe
// to call more than once.
func (b *SignalBus[T]) Close() {
	b.once.Do(func() { close(b.done) })
}
