package guard

import "sync"

// Debounce tracks conversations with an analysis in flight.
type Debounce struct {
	mu       sync.Mutex
	inFlight map[string]uint64
	seq      uint64
}

// NewDebounce creates an empty Debounce set.
func NewDebounce() *Debounce {
	return &Debounce{inFlight: make(map[string]uint64)}
}

// TryAcquire marks id as in flight. It returns ok=false without blocking
// when id is already held. release is idempotent and only clears the
// acquisition it was returned for, so a release that outlives a Reset
// leaves a newer holder of id in place.
func (d *Debounce) TryAcquire(id string) (release func(), ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, held := d.inFlight[id]; held {
		return func() {}, false
	}
	d.seq++
	token := d.seq
	d.inFlight[id] = token

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			if d.inFlight[id] == token {
				delete(d.inFlight, id)
			}
			d.mu.Unlock()
		})
	}, true
}

// Held reports whether id is in flight.
func (d *Debounce) Held(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.inFlight[id]
	return ok
}

// Len returns the number of in-flight ids.
func (d *Debounce) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inFlight)
}

// Reset clears the set after a failed batch.
func (d *Debounce) Reset() {
	d.mu.Lock()
	d.inFlight = make(map[string]uint64)
	d.mu.Unlock()
}
