package guard

import "sync"

// BusyGauge counts in-flight analyses. The count never drops below zero.
type BusyGauge struct {
	mu       sync.Mutex
	count    int
	onChange func(count int)
}

// NewBusyGauge creates a gauge. onChange, if non-nil, is called with the
// new count after every transition of the busy flag and after Reset.
func NewBusyGauge(onChange func(count int)) *BusyGauge {
	return &BusyGauge{onChange: onChange}
}

// Inc records the start of an analysis.
func (b *BusyGauge) Inc() {
	b.set(func(n int) int { return n + 1 })
}

// Dec records the end of an analysis.
func (b *BusyGauge) Dec() {
	b.set(func(n int) int {
		if n <= 0 {
			return 0
		}
		return n - 1
	})
}

// Reset forces the gauge back to idle.
func (b *BusyGauge) Reset() {
	b.mu.Lock()
	b.count = 0
	b.mu.Unlock()
	if b.onChange != nil {
		b.onChange(0)
	}
}

// Count returns the current number of in-flight analyses.
func (b *BusyGauge) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Busy reports whether any analysis is in flight.
func (b *BusyGauge) Busy() bool {
	return b.Count() > 0
}

func (b *BusyGauge) set(next func(int) int) {
	b.mu.Lock()
	prev := b.count
	b.count = next(prev)
	cur := b.count
	b.mu.Unlock()
	if b.onChange != nil && cur != prev {
		b.onChange(cur)
	}
}
