package id

import (
	"sort"
	"sync"
	"testing"
)

func TestNextSubscriptionID_Monotonic(t *testing.T) {
	prev := NextSubscriptionID()
	for i := 0; i < 100; i++ {
		next := NextSubscriptionID()
		if next <= prev {
			t.Fatalf("NextSubscriptionID() = %d, want > %d", next, prev)
		}
		prev = next
	}
}

func TestNextSubscriptionID_ConcurrentUniqueness(t *testing.T) {
	const goroutines = 16
	const perGoroutine = 500

	var wg sync.WaitGroup
	results := make(chan int64, goroutines*perGoroutine)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				results <- NextSubscriptionID()
			}
		}()
	}
	wg.Wait()
	close(results)

	ids := make([]int64, 0, goroutines*perGoroutine)
	for id := range results {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for i := 1; i < len(ids); i++ {
		if ids[i] == ids[i-1] {
			t.Fatalf("duplicate subscription ID generated: %d", ids[i])
		}
	}
}
