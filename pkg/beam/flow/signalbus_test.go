package flow

import (
	"errors"
	"testing"
	"time"
)

func TestSignalBusPreservesSendOrder(t *testing.T) {
	b := NewSignalBus[int]()

	b.Send(1)
	b.Send(2)
	b.Send(3)

	for _, want := range []int{1, 2, 3} {
		got, err := b.Recv(time.Second)
		if err != nil {
			t.Fatalf("Recv() error: %v", err)
		}
		if got != want {
			t.Errorf("Recv() = %d, want %d", got, want)
		}
	}
}

func TestSignalBusRecvTimeout(t *testing.T) {
	b := NewSignalBus[int]()

	start := time.Now()
	_, err := b.Recv(50 * time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Recv() error = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("Recv() returned after %v, before the deadline", elapsed)
	}
}

func TestSignalBusRecvWakesOnSend(t *testing.T) {
	b := NewSignalBus[string]()

	go func() {
		time.Sleep(30 * time.Millisecond)
		b.Send("stop")
	}()

	got, err := b.Recv(2 * time.Second)
	if err != nil || got != "stop" {
		t.Fatalf("Recv() = %q, %v, want stop", got, err)
	}
}

func TestSignalBusCloseDrainsPendingFirst(t *testing.T) {
	b := NewSignalBus[int]()
	b.Send(7)
	b.Close()

	if got, err := b.Recv(time.Second); err != nil || got != 7 {
		t.Fatalf("Recv() = %d, %v, want queued signal before ErrClosed", got, err)
	}
	if _, err := b.Recv(time.Second); !errors.Is(err, ErrClosed) {
		t.Errorf("Recv() after drain error = %v, want ErrClosed", err)
	}
}

func TestSignalBusCloseWakesBlockedReceiver(t *testing.T) {
	b := NewSignalBus[int]()

	go func() {
		time.Sleep(30 * time.Millisecond)
		b.Close()
	}()

	start := time.Now()
	_, err := b.Recv(5 * time.Second)
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("Recv() error = %v, want ErrClosed", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Recv() took %v to notice the close", elapsed)
	}
}

func TestSignalBusTryRecv(t *testing.T) {
	b := NewSignalBus[int]()

	if _, err := b.TryRecv(); !errors.Is(err, ErrTimeout) {
		t.Errorf("TryRecv() on empty bus error = %v, want ErrTimeout", err)
	}

	b.Send(1)
	if got, err := b.TryRecv(); err != nil || got != 1 {
		t.Errorf("TryRecv() = %d, %v, want 1", got, err)
	}

	b.Close()
	if _, err := b.TryRecv(); !errors.Is(err, ErrClosed) {
		t.Errorf("TryRecv() after close error = %v, want ErrClosed", err)
	}
}

func TestSignalBusSendNeverBlocks(t *testing.T) {
	b := NewSignalBus[int]()

	// no consumer: pushing far past capacity must still return promptly
	start := time.Now()
	for i := 0; i < signalBusCapacity*4; i++ {
		b.Send(i)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("sends took %v, Send must not block", elapsed)
	}

	b.Close()
	b.Send(999) // after close: dropped, no panic
}
