// Package ringbuf provides a fixed-capacity rolling window of closed bars.
// Pushing beyond capacity evicts the oldest bar, so long-running sessions
// keep bounded memory no matter how many candles stream in. Not safe for
// concurrent use; callers guard it with their own lock.
package ringbuf

import "perptrader/internal/model"

// Window holds the most recent bars in arrival order.
type Window struct {
	buf  []model.Bar
	head int // index of the oldest bar
	n    int
}

// New creates a window. Minimum capacity is 2.
func New(capacity int) *Window {
	if capacity < 2 {
		capacity = 2
	}
	return &Window{buf: make([]model.Bar, capacity)}
}

// Push appends a bar, evicting the oldest when the window is full.
func (w *Window) Push(b model.Bar) {
	if w.n < len(w.buf) {
		w.buf[(w.head+w.n)%len(w.buf)] = b
		w.n++
		return
	}
	w.buf[w.head] = b
	w.head = (w.head + 1) % len(w.buf)
}

// Len returns the number of bars currently held.
func (w *Window) Len() int { return w.n }

// Cap returns the window capacity.
func (w *Window) Cap() int { return len(w.buf) }

// Latest returns the most recently pushed bar, or false when empty.
func (w *Window) Latest() (model.Bar, bool) {
	if w.n == 0 {
		return model.Bar{}, false
	}
	return w.buf[(w.head+w.n-1)%len(w.buf)], true
}

// Last returns up to n of the most recent bars, oldest first. The returned
// slice is freshly allocated.
func (w *Window) Last(n int) []model.Bar {
	if n > w.n {
		n = w.n
	}
	out := make([]model.Bar, n)
	start := w.head + w.n - n
	for i := 0; i < n; i++ {
		out[i] = w.buf[(start+i)%len(w.buf)]
	}
	return out
}

// Reset drops all bars without releasing the backing array.
func (w *Window) Reset() {
	w.head = 0
	w.n = 0
}
