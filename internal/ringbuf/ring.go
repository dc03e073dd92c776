// Package ringbuf provides a fixed-capacity FIFO that overwrites its oldest
// element when full.
package ringbuf

// Ring is not safe for concurrent use; callers guard it with their own lock.
type Ring[T any] struct {
	buf   []T
	head  int // index of the oldest element
	count int
}

// New returns an empty ring. Capacities below 1 are raised to 1.
func New[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

func (r *Ring[T]) Len() int { return r.count }

func (r *Ring[T]) Cap() int { return len(r.buf) }

// Push appends v. When the ring is full the oldest element is overwritten and
// returned with dropped set.
func (r *Ring[T]) Push(v T) (evicted T, dropped bool) {
	if r.count < len(r.buf) {
		r.buf[(r.head+r.count)%len(r.buf)] = v
		r.count++
		return evicted, false
	}
	evicted = r.buf[r.head]
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
	return evicted, true
}

// Items returns a copy of the contents, oldest first.
func (r *Ring[T]) Items() []T {
	out := make([]T, r.count)
	for i := range r.count {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}

// Last returns the newest element.
func (r *Ring[T]) Last() (T, bool) {
	var zero T
	if r.count == 0 {
		return zero, false
	}
	return r.buf[(r.head+r.count-1)%len(r.buf)], true
}

// Drain empties the ring and returns what it held, oldest first.
func (r *Ring[T]) Drain() []T {
	out := r.Items()
	r.Reset()
	return out
}

// Reset empties the ring and releases references held by the backing array.
func (r *Ring[T]) Reset() {
	clear(r.buf)
	r.head = 0
	r.count = 0
}
