package telemetry

// DefaultCapacity is the number of samples kept for charting.
const DefaultCapacity = 120

// Ring is a fixed-capacity buffer of samples in arrival order. The oldest
// sample is evicted when a push would exceed the capacity. A Ring is not
// safe for concurrent use; its owner serializes access.
type Ring struct {
	buf   []Sample
	start int
	n     int
}

// NewRing allocates a ring. capacity < 1 selects DefaultCapacity.
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Ring{buf: make([]Sample, capacity)}
}

// Push appends s, evicting the oldest sample when full.
func (r *Ring) Push(s Sample) {
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = s
		r.n++
		return
	}
	r.buf[r.start] = s
	r.start = (r.start + 1) % len(r.buf)
}

// Len reports the number of samples held.
func (r *Ring) Len() int { return r.n }

// Cap reports the capacity.
func (r *Ring) Cap() int { return len(r.buf) }

// Latest returns the most recent sample.
func (r *Ring) Latest() (Sample, bool) {
	if r.n == 0 {
		return Sample{}, false
	}
	return r.buf[(r.start+r.n-1)%len(r.buf)], true
}

// Snapshot copies the samples, oldest first.
func (r *Ring) Snapshot() []Sample {
	out := make([]Sample, r.n)
	for i := range r.n {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

// Reset drops every sample.
func (r *Ring) Reset() {
	clear(r.buf)
	r.start, r.n = 0, 0
}
