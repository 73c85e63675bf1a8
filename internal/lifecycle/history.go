package lifecycle

import "time"

// DefaultHistoryLength is the number of ticks kept for charts.
const DefaultHistoryLength = 100

// Point is one charted tick.
type Point struct {
	Timestamp    time.Time `json:"timestamp"`
	Voltage      float64   `json:"voltage"`
	Current      float64   `json:"current"`
	Power        float64   `json:"power"`
	AnomalyScore float64   `json:"anomaly_score"`
	Threshold    float64   `json:"threshold"`
}

// history is a fixed-size ring of points, oldest first. Not safe for
// concurrent use; the controller guards it.
type history struct {
	points []Point
	next   int
	full   bool
}

func newHistory(size int) *history {
	if size <= 0 {
		size = DefaultHistoryLength
	}
	return &history{points: make([]Point, size)}
}

func (h *history) add(p Point) {
	// the same reading polled twice is charted once
	if n := h.len(); n > 0 && h.last().Timestamp.Equal(p.Timestamp) {
		return
	}
	h.points[h.next] = p
	h.next = (h.next + 1) % len(h.points)
	if h.next == 0 {
		h.full = true
	}
}

func (h *history) len() int {
	if h.full {
		return len(h.points)
	}
	return h.next
}

func (h *history) last() Point {
	i := h.next - 1
	if i < 0 {
		i = len(h.points) - 1
	}
	return h.points[i]
}

func (h *history) snapshot() []Point {
	out := make([]Point, 0, h.len())
	if h.full {
		out = append(out, h.points[h.next:]...)
	}
	return append(out, h.points[:h.next]...)
}
