package inbox

import (
	"sync"
	"testing"
)

func TestQueue_FIFO(t *testing.T) {
	q := New()
	for _, v := range []int64{3, 1, 4, 1, 5} {
		q.Push(v)
	}

	if q.Len() != 5 {
		t.Fatalf("Expected length 5, got %d", q.Len())
	}

	want := []int64{3, 1, 4, 1, 5}
	for i, w := range want {
		v, remaining, ok := q.Pop()
		if !ok {
			t.Fatalf("Pop %d: queue unexpectedly empty", i)
		}
		if v != w {
			t.Errorf("Pop %d = %d, want %d", i, v, w)
		}
		if remaining != len(want)-i-1 {
			t.Errorf("Pop %d remaining = %d, want %d", i, remaining, len(want)-i-1)
		}
	}

	if _, _, ok := q.Pop(); ok {
		t.Error("Expected empty queue")
	}
}

func TestQueue_Snapshot(t *testing.T) {
	q := New()
	q.Push(5)
	snap := q.Snapshot()
	if len(snap) != 1 || snap[0] != 5 {
		t.Fatalf("Expected [5], got %v", snap)
	}

	snap[0] = 99
	if v, _, _ := q.Pop(); v != 5 {
		t.Error("Modifying a snapshot should not affect the queue")
	}
}

func TestQueue_CompactsConsumedPrefix(t *testing.T) {
	q := New()
	for i := 0; i < 1000; i++ {
		q.Push(int64(i))
	}
	for i := 0; i < 990; i++ {
		v, _, _ := q.Pop()
		if v != int64(i) {
			t.Fatalf("Pop %d = %d", i, v)
		}
	}
	if q.Len() != 10 {
		t.Fatalf("Expected 10 left, got %d", q.Len())
	}
	if len(q.values) > 200 {
		t.Errorf("Expected consumed prefix to be reclaimed, backing length %d", len(q.values))
	}
	for i := 990; i < 1000; i++ {
		v, _, _ := q.Pop()
		if v != int64(i) {
			t.Fatalf("Pop after compaction = %d, want %d", v, i)
		}
	}
}

// TestQueue_ConcurrentProducers checks that two producers and one consumer
// never lose or duplicate values and that each producer's order survives.
func TestQueue_ConcurrentProducers(t *testing.T) {
	q := New()
	const perProducer = 5000

	var wg sync.WaitGroup
	for p := 0; p < 2; p++ {
		wg.Add(1)
		go func(base int64) {
			defer wg.Done()
			for i := int64(0); i < perProducer; i++ {
				q.Push(base + i)
			}
		}(int64(p) * 1_000_000)
	}

	last := map[int64]int64{0: -1, 1_000_000: 999_999}
	received := 0
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	drain := func() {
		for {
			v, _, ok := q.Pop()
			if !ok {
				return
			}
			base := (v / 1_000_000) * 1_000_000
			if v <= last[base] {
				t.Errorf("producer %d out of order: %d after %d", base, v, last[base])
			}
			last[base] = v
			received++
		}
	}

	for {
		select {
		case <-done:
			drain()
			if received != 2*perProducer {
				t.Fatalf("Expected %d values, got %d", 2*perProducer, received)
			}
			if q.Len() != 0 {
				t.Errorf("Len() = %d after drain", q.Len())
			}
			return
		default:
			drain()
		}
	}
}
