package window

import (
	log "github.com/sirupsen/logrus"
)

const (
	// Samples at or beyond this magnitude are treated as clipped.
	ClipLevel = 32500

	// Log at most one clipping warning per this many clipped samples.
	clipLogInterval = 10000
)

// A Window is a fixed-capacity ring of the most recent samples. Index 0
// addresses the oldest sample held. Pushing evicts the oldest sample once
// the window is full; the window never grows.
type Window struct {
	buf  []int16
	head int
	fill int

	clipped uint64
}

func New(size int) *Window {
	return &Window{buf: make([]int16, size)}
}

func (w *Window) Size() int {
	return len(w.buf)
}

// Full reports whether the window has seen at least Size samples.
func (w *Window) Full() bool {
	return w.fill == len(w.buf)
}

func (w *Window) Push(v int16) {
	w.buf[w.head] = v
	w.head++
	if w.head == len(w.buf) {
		w.head = 0
	}
	if w.fill < len(w.buf) {
		w.fill++
	}
}

// At returns the sample at offset idx from the oldest sample held.
func (w *Window) At(idx int) int16 {
	if w.fill < len(w.buf) {
		return w.buf[idx]
	}
	idx += w.head
	if idx >= len(w.buf) {
		idx -= len(w.buf)
	}
	return w.buf[idx]
}

// Average computes the mean amplitude of the segment [begin, end).
func (w *Window) Average(begin, end int) float64 {
	var sum int64
	for idx := begin; idx < end; idx++ {
		sum += int64(w.At(idx))
	}
	return float64(sum) / float64(end-begin)
}

// Range computes max-min over the segment [begin, end). Saturated samples
// indicate the receiver gain is too high; they are counted and reported
// through a rate-limited warning, never as a decode failure.
func (w *Window) Range(begin, end int) float64 {
	mn, mx := int16(32767), int16(-32768)
	for idx := begin; idx < end; idx++ {
		v := w.At(idx)
		if v < mn {
			mn = v
		}
		if v > mx {
			mx = v
		}
	}

	if mx > ClipLevel || mn < -ClipLevel {
		w.clipped++
		if w.clipped%clipLogInterval == 1 {
			log.Error("clipped signal detected, reduce receiver gain")
		}
	}

	return float64(mx) - float64(mn)
}

// Clipped returns the number of segment probes that contained a saturated
// sample.
func (w *Window) Clipped() uint64 {
	return w.clipped
}
