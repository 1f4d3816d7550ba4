package agents

// HistorySize is how many pre-move positions an agent remembers.
const HistorySize = 5

// Point is an arena coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// History is a fixed-capacity ring of recent positions; the oldest entry is
// evicted once full.
type History struct {
	buf   [HistorySize]Point
	start int
	n     int
}

// Push appends p, evicting the oldest point when full.
func (h *History) Push(p Point) {
	if h.n < HistorySize {
		h.buf[(h.start+h.n)%HistorySize] = p
		h.n++
		return
	}
	h.buf[h.start] = p
	h.start = (h.start + 1) % HistorySize
}

// Len returns the number of stored points.
func (h *History) Len() int { return h.n }

// Last returns the most recently pushed point.
func (h *History) Last() (Point, bool) {
	if h.n == 0 {
		return Point{}, false
	}
	return h.buf[(h.start+h.n-1)%HistorySize], true
}

// Points returns the stored points, oldest first.
func (h *History) Points() []Point {
	out := make([]Point, h.n)
	for i := 0; i < h.n; i++ {
		out[i] = h.buf[(h.start+i)%HistorySize]
	}
	return out
}
