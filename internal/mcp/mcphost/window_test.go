package mcphost

import (
	"sync"
	"testing"
)

func TestRollingWindowEmpty(t *testing.T) {
	t.Parallel()
	w := newRollingWindow(10)

	if w.P50() != 0 || w.P99() != 0 {
		t.Errorf("percentiles of empty window = %d, %d; want 0, 0", w.P50(), w.P99())
	}
	if w.ErrorRate() != 0 {
		t.Errorf("ErrorRate = %v, want 0", w.ErrorRate())
	}
	if w.Count() != 0 {
		t.Errorf("Count = %d, want 0", w.Count())
	}
}

func TestRollingWindowPercentiles(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		samples []int64
		p50     int64
		p99     int64
	}{
		{name: "single", samples: []int64{42}, p50: 42, p99: 42},
		{name: "unsorted five", samples: []int64{50, 10, 40, 20, 30}, p50: 30, p99: 50},
		{name: "one to hundred", samples: seq(1, 100), p50: 51, p99: 99},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			w := newRollingWindow(100)
			for _, s := range tt.samples {
				w.Record(s, false)
			}
			if got := w.P50(); got != tt.p50 {
				t.Errorf("P50 = %d, want %d", got, tt.p50)
			}
			if got := w.P99(); got != tt.p99 {
				t.Errorf("P99 = %d, want %d", got, tt.p99)
			}
		})
	}
}

func TestRollingWindowEvictsOldest(t *testing.T) {
	t.Parallel()
	w := newRollingWindow(3)

	w.Record(1000, true)
	w.Record(1000, true)
	w.Record(1000, true)
	for range 3 {
		w.Record(10, false)
	}

	if got := w.P99(); got != 10 {
		t.Errorf("P99 = %d, want 10 after eviction", got)
	}
	if got := w.ErrorRate(); got != 0 {
		t.Errorf("ErrorRate = %v, want 0 after eviction", got)
	}
	if got := w.Count(); got != 6 {
		t.Errorf("Count = %d, want 6", got)
	}
}

func TestRollingWindowErrorRate(t *testing.T) {
	t.Parallel()
	w := newRollingWindow(10)

	for i := range 4 {
		w.Record(1, i == 0)
	}
	if got := w.ErrorRate(); got != 0.25 {
		t.Errorf("ErrorRate = %v, want 0.25", got)
	}
}

func TestRollingWindowDefaultSize(t *testing.T) {
	t.Parallel()
	w := newRollingWindow(0)
	if w.size != defaultWindowSize {
		t.Errorf("size = %d, want %d", w.size, defaultWindowSize)
	}
}

func TestRollingWindowConcurrent(t *testing.T) {
	t.Parallel()
	w := newRollingWindow(50)

	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 100 {
				w.Record(int64(i), g%2 == 0)
				w.P50()
				w.ErrorRate()
			}
		}()
	}
	wg.Wait()

	if got := w.Count(); got != 800 {
		t.Errorf("Count = %d, want 800", got)
	}
}

func seq(lo, hi int64) []int64 {
	out := make([]int64, 0, hi-lo+1)
	for i := lo; i <= hi; i++ {
		out = append(out, i)
	}
	return out
}
