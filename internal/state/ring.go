package state

import "github.com/quantfeed/venuelink/internal/schema"

// quoteRing is a fixed-size circular buffer of quotes. Oldest entries are
// evicted first once the capacity is reached; the buffer never resizes.
type quoteRing struct {
	data     []schema.Quote
	capacity int
	index    int
	size     int
}

func newQuoteRing(capacity int) *quoteRing {
	if capacity <= 0 {
		capacity = 1000
	}
	return &quoteRing{
		data:     make([]schema.Quote, capacity),
		capacity: capacity,
		index:    0,
		size:     0,
	}
}

func (r *quoteRing) append(q schema.Quote) {
	r.data[r.index] = q
	r.index = (r.index + 1) % r.capacity
	if r.size < r.capacity {
		r.size++
	}
}

// snapshot returns the buffered quotes oldest first.
func (r *quoteRing) snapshot() []schema.Quote {
	if r.size == 0 {
		return nil
	}
	out := make([]schema.Quote, 0, r.size)
	start := 0
	if r.size == r.capacity {
		start = r.index
	}
	for i := 0; i < r.size; i++ {
		out = append(out, r.data[(start+i)%r.capacity])
	}
	return out
}

func (r *quoteRing) reset() {
	r.index = 0
	r.size = 0
}
