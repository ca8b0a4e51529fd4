package drift

// ring is a fixed-capacity buffer with oldest-first eviction. Ingestion
// order is preserved; no unbounded growth.
type ring[T any] struct {
	buf   []T
	head  int
	count int
}

func newRing[T any](capacity int) *ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &ring[T]{buf: make([]T, capacity)}
}

// Push appends v, evicting the oldest element when full.
func (r *ring[T]) Push(v T) {
	if r.count < len(r.buf) {
		r.buf[(r.head+r.count)%len(r.buf)] = v
		r.count++
		return
	}
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
}

func (r *ring[T]) Len() int { return r.count }

func (r *ring[T]) Cap() int { return len(r.buf) }

// Items returns elements oldest-first.
func (r *ring[T]) Items() []T {
	out := make([]T, 0, r.count)
	for i := 0; i < r.count; i++ {
		out = append(out, r.buf[(r.head+i)%len(r.buf)])
	}
	return out
}

// Last returns up to n newest elements, oldest-first.
func (r *ring[T]) Last(n int) []T {
	if n >= r.count {
		return r.Items()
	}
	out := make([]T, 0, n)
	for i := r.count - n; i < r.count; i++ {
		out = append(out, r.buf[(r.head+i)%len(r.buf)])
	}
	return out
}

func (r *ring[T]) Clear() {
	r.head = 0
	r.count = 0
}
