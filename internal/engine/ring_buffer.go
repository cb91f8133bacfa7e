package engine

// RingBuffer keeps the most recent size values.
type RingBuffer[T any] struct {
	values []T
	size   int
	index  int
	filled bool
}

func NewRingBuffer[T any](size int) *RingBuffer[T] {
	if size <= 0 {
		size = 1
	}
	return &RingBuffer[T]{
		values: make([]T, size),
		size:   size,
	}
}

func (r *RingBuffer[T]) Add(value T) {
	r.values[r.index] = value
	r.index = (r.index + 1) % r.size
	if r.index == 0 {
		r.filled = true
	}
}

func (r *RingBuffer[T]) Len() int {
	if r.filled {
		return r.size
	}
	return r.index
}

// Values returns the buffered values, oldest first.
func (r *RingBuffer[T]) Values() []T {
	length := r.Len()
	result := make([]T, 0, length)
	if length == 0 {
		return result
	}
	if r.filled {
		result = append(result, r.values[r.index:]...)
		result = append(result, r.values[:r.index]...)
		return result
	}
	return append(result, r.values[:r.index]...)
}
