package kmutex

import (
	"sync"
	"testing"
)

// Holders of the same key serialize; the counter never sees a torn update.
func TestKeyedMutex_SerializesPerKey(t *testing.T) {
	k := New()

	const workers = 100
	counter := 0

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			k.Lock("key")
			counter++
			k.Unlock("key")
		}()
	}
	wg.Wait()

	if counter != workers {
		t.Fatalf("expected counter %d, got %d", workers, counter)
	}
}

// Different keys do not block each other: a goroutine holding key A must
// not prevent key B from being acquired.
func TestKeyedMutex_IndependentKeys(t *testing.T) {
	k := New()

	k.Lock("a")
	done := make(chan struct{})
	go func() {
		k.Lock("b")
		k.Unlock("b")
		close(done)
	}()
	<-done
	k.Unlock("a")
}

// Entries are removed once released, so the map does not accumulate keys.
func TestKeyedMutex_EntriesReclaimed(t *testing.T) {
	k := New()

	for i := 0; i < 10; i++ {
		k.Lock("key")
		k.Unlock("key")
	}

	k.mu.Lock()
	n := len(k.locks)
	k.mu.Unlock()
	if n != 0 {
		t.Fatalf("expected no retained entries, got %d", n)
	}
}
