package capture

// Ring is a fixed-capacity circular buffer of mono samples with
// overwrite-oldest semantics. It is not synchronised; [Capture] guards it
// with its own mutex.
type Ring struct {
	buf    []float32
	write  int
	filled int
}

// NewRing returns a Ring holding up to capacity samples (at least one).
func NewRing(capacity int) *Ring {
	return &Ring{buf: make([]float32, max(1, capacity))}
}

// Cap returns the fixed capacity in samples.
func (r *Ring) Cap() int { return len(r.buf) }

// Len returns the number of valid samples, at most Cap.
func (r *Ring) Len() int { return r.filled }

// Write appends block, overwriting the oldest samples once full. A block at
// least as large as the capacity replaces the whole buffer with its trailing
// Cap samples and resets the write cursor to zero.
func (r *Ring) Write(block []float32) {
	n := len(block)
	capacity := len(r.buf)
	if n == 0 {
		return
	}
	if n >= capacity {
		copy(r.buf, block[n-capacity:])
		r.write = 0
		r.filled = capacity
		return
	}

	first := copy(r.buf[r.write:], block)
	if first < n {
		copy(r.buf, block[first:])
	}
	r.write = (r.write + n) % capacity
	r.filled = min(capacity, r.filled+n)
}

// Latest returns a copy of the most recent n samples in arrival order. It
// returns fewer samples when fewer are buffered and an empty, non-nil slice
// when the buffer is empty or n is not positive.
func (r *Ring) Latest(n int) []float32 {
	take := min(n, r.filled)
	if take <= 0 {
		return []float32{}
	}
	out := make([]float32, take)

	// The newest sample sits just before the write cursor.
	start := r.write - take
	if start >= 0 {
		copy(out, r.buf[start:r.write])
		return out
	}
	start += len(r.buf)
	k := copy(out, r.buf[start:])
	copy(out[k:], r.buf[:r.write])
	return out
}
