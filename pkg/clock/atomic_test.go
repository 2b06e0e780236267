package clock

import (
	"sync"
	"testing"
)

func TestNextIsMonotonic(t *testing.T) {
	ac := NewAtomic(10)
	if got := ac.Next(); got != 11 {
		t.Fatalf("Next() = %d, want 11", got)
	}
	if ac.Observe(5) {
		t.Fatalf("Observe(5) moved the clock back")
	}
	if !ac.Observe(20) || ac.Val() != 20 {
		t.Fatalf("Observe(20): val = %d", ac.Val())
	}
	if got := ac.Next(); got != 21 {
		t.Fatalf("Next() after observe = %d, want 21", got)
	}
}

func TestConcurrentNextIsUnique(t *testing.T) {
	ac := NewAtomic(0)
	const workers, perWorker = 8, 1000

	var mu sync.Mutex
	seen := make(map[uint64]struct{}, workers*perWorker)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]uint64, 0, perWorker)
			for j := 0; j < perWorker; j++ {
				local = append(local, ac.Next())
				ac.Observe(uint64(j))
			}
			mu.Lock()
			for _, v := range local {
				seen[v] = struct{}{}
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(seen) != workers*perWorker {
		t.Fatalf("got %d unique values, want %d", len(seen), workers*perWorker)
	}
}
