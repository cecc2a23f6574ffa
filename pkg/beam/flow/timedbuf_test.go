package flow

import (
	"testing"
	"time"
)

func TestTimedBufferRemoveAnyIsFIFO(t *testing.T) {
	var buf TimedBuffer[int, string]

	// keys deliberately out of order to show ordering is by insertion,
	// not by key
	buf.Insert(3, "first")
	buf.Insert(1, "second")
	buf.Insert(2, "third")

	want := []string{"first", "second", "third"}
	for i, expected := range want {
		_, value, ok := buf.RemoveAny()
		if !ok {
			t.Fatalf("RemoveAny() #%d returned no entry", i)
		}
		if value != expected {
			t.Errorf("RemoveAny() #%d = %q, want %q", i, value, expected)
		}
	}

	if _, _, ok := buf.RemoveAny(); ok {
		t.Error("RemoveAny() on empty buffer returned an entry")
	}
}

func TestTimedBufferRemoveDrainsDuplicatesOldestFirst(t *testing.T) {
	var buf TimedBuffer[string, int]

	buf.Insert("seq", 1)
	buf.Insert("other", 99)
	buf.Insert("seq", 2)

	if v, ok := buf.Remove("seq"); !ok || v != 1 {
		t.Fatalf("first Remove(seq) = %d, %v, want 1, true", v, ok)
	}
	if v, ok := buf.Remove("seq"); !ok || v != 2 {
		t.Fatalf("second Remove(seq) = %d, %v, want 2, true", v, ok)
	}
	if _, ok := buf.Remove("seq"); ok {
		t.Error("third Remove(seq) found an entry, want none")
	}
	if v, ok := buf.Remove("other"); !ok || v != 99 {
		t.Errorf("Remove(other) = %d, %v, want 99, true", v, ok)
	}
}

func TestTimedBufferRemoveMissingKey(t *testing.T) {
	var buf TimedBuffer[string, int]
	buf.Insert("present", 1)

	if _, ok := buf.Remove("absent"); ok {
		t.Error("Remove(absent) found an entry, want none")
	}
	if buf.Len() != 1 {
		t.Errorf("Len() = %d after failed Remove, want 1", buf.Len())
	}
}

func TestTimedBufferRemoveExpired(t *testing.T) {
	var buf TimedBuffer[int, string]
	now := time.Now()

	// two stale entries sandwiching a fresh one: expiry must preserve
	// relative order of the removed values and keep the fresh entry
	buf.insertAt(1, "stale-a", now.Add(-time.Second))
	buf.insertAt(2, "fresh", now)
	buf.insertAt(3, "stale-b", now.Add(-900*time.Millisecond))

	expired := buf.RemoveExpired(500 * time.Millisecond)
	if len(expired) != 2 || expired[0] != "stale-a" || expired[1] != "stale-b" {
		t.Fatalf("RemoveExpired() = %v, want [stale-a stale-b]", expired)
	}

	if buf.Len() != 1 {
		t.Fatalf("Len() = %d after sweep, want 1", buf.Len())
	}
	if v, ok := buf.Remove(2); !ok || v != "fresh" {
		t.Errorf("fresh entry lost by sweep: got %q, %v", v, ok)
	}

	// a second sweep over the already-clean buffer removes nothing
	if again := buf.RemoveExpired(500 * time.Millisecond); len(again) != 0 {
		t.Errorf("second RemoveExpired() = %v, want empty", again)
	}
}

func TestTimedBufferRemoveExpiredKeepsYoungEntries(t *testing.T) {
	var buf TimedBuffer[int, int]
	for i := 0; i < 5; i++ {
		buf.Insert(i, i)
	}

	if expired := buf.RemoveExpired(time.Minute); len(expired) != 0 {
		t.Errorf("RemoveExpired(1m) on fresh entries = %v, want empty", expired)
	}
	if buf.Len() != 5 {
		t.Errorf("Len() = %d, want 5", buf.Len())
	}
}

// Every inserted entry must leave the buffer through exactly one door: an
// explicit removal or an expiry sweep.
func TestTimedBufferNoEntryLost(t *testing.T) {
	var buf TimedBuffer[int, int]
	now := time.Now()

	total := 20
	for i := 0; i < total; i++ {
		age := time.Duration(i) * 100 * time.Millisecond
		buf.insertAt(i, i, now.Add(-age+time.Second))
	}

	seen := make(map[int]bool)
	for i := 0; i < 7; i++ {
		_, v, ok := buf.RemoveAny()
		if !ok {
			t.Fatal("RemoveAny() ran dry early")
		}
		seen[v] = true
	}
	for _, v := range buf.RemoveExpired(-2 * time.Second) { // everything qualifies
		seen[v] = true
	}

	if len(seen) != total {
		t.Errorf("saw %d distinct values, want %d", len(seen), total)
	}
	if buf.Len() != 0 {
		t.Errorf("Len() = %d after draining, want 0", buf.Len())
	}
}
