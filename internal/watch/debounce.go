package watch

import (
	"sort"
	"sync"
	"time"
)

// DefaultDebounce is the quiet period before a batch of changes fires.
const DefaultDebounce = 300 * time.Millisecond

// Debouncer coalesces changes into batches. Each Add restarts the quiet
// period; when it elapses every path added since the last batch is
// delivered at once.
type Debouncer struct {
	delay time.Duration

	mu      sync.Mutex
	pending map[string]struct{}
	timer   *time.Timer
	stopped bool

	out chan []string
}

// NewDebouncer creates a debouncer. A non-positive delay means DefaultDebounce.
func NewDebouncer(delay time.Duration) *Debouncer {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	return &Debouncer{
		delay:   delay,
		pending: make(map[string]struct{}),
		out:     make(chan []string, 1),
	}
}

// C delivers batches of changed paths, sorted.
func (d *Debouncer) C() <-chan []string { return d.out }

// Add records a change to path.
func (d *Debouncer) Add(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.pending[path] = struct{}{}
	if d.timer == nil {
		d.timer = time.AfterFunc(d.delay, d.fire)
		return
	}
	d.timer.Reset(d.delay)
}

// Pending returns how many paths are waiting for the next batch.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Stop discards pending changes and stops delivering batches.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	clear(d.pending)
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped || len(d.pending) == 0 {
		return
	}

	// The previous batch has not been taken yet: merge into it.
	select {
	case prev := <-d.out:
		for _, p := range prev {
			d.pending[p] = struct{}{}
		}
	default:
	}

	batch := make([]string, 0, len(d.pending))
	for p := range d.pending {
		batch = append(batch, p)
	}
	sort.Strings(batch)
	clear(d.pending)
	d.out <- batch
}
