package galaxyprops

import "math"

// histogram3 is a weighted 3-D histogram with the same number of bins on
// every axis. Each axis spans the range of the data, widened to a unit
// interval when all values coincide. Values on the upper edge fall into
// the last bin.
type histogram3 struct {
	bins  int
	lo    Vec3
	step  Vec3
	table []float64 // index ix*bins*bins + iy*bins + iz
}

func newHistogram3(positions []Vec3, weights []float64, bins int) *histogram3 {
	h := &histogram3{bins: bins, table: make([]float64, bins*bins*bins)}

	lo, hi := positions[0], positions[0]
	for _, p := range positions[1:] {
		for k := 0; k < 3; k++ {
			lo[k] = math.Min(lo[k], p[k])
			hi[k] = math.Max(hi[k], p[k])
		}
	}
	for k := 0; k < 3; k++ {
		if lo[k] == hi[k] {
			lo[k] -= 0.5
			hi[k] += 0.5
		}
		h.lo[k] = lo[k]
		h.step[k] = (hi[k] - lo[k]) / float64(bins)
	}

	for i, p := range positions {
		ix, iy, iz := h.binIndex(p, 0), h.binIndex(p, 1), h.binIndex(p, 2)
		h.table[(ix*bins+iy)*bins+iz] += weights[i]
	}
	return h
}

func (h *histogram3) binIndex(p Vec3, dim int) int {
	i := int(math.Floor((p[dim] - h.lo[dim]) / h.step[dim]))
	if i < 0 {
		return 0
	}
	if i >= h.bins {
		return h.bins - 1
	}
	return i
}

func (h *histogram3) edge(dim, i int) float64 {
	return h.lo[dim] + float64(i)*h.step[dim]
}

func (h *histogram3) binCenter(ix, iy, iz int) Vec3 {
	return Vec3{
		0.5 * (h.edge(0, ix) + h.edge(0, ix+1)),
		0.5 * (h.edge(1, iy) + h.edge(1, iy+1)),
		0.5 * (h.edge(2, iz) + h.edge(2, iz+1)),
	}
}

// minStep is the smallest bin width over the three axes.
func (h *histogram3) minStep() float64 {
	return math.Min(h.step[0], math.Min(h.step[1], h.step[2]))
}

// peakCenter returns the geometric center of the heaviest bin.
func (h *histogram3) peakCenter(tie TieBreak) Vec3 {
	maxVal := math.Inf(-1)
	for _, v := range h.table {
		if v > maxVal {
			maxVal = v
		}
	}

	var sum Vec3
	n := 0
	for ix := 0; ix < h.bins; ix++ {
		for iy := 0; iy < h.bins; iy++ {
			for iz := 0; iz < h.bins; iz++ {
				if h.table[(ix*h.bins+iy)*h.bins+iz] != maxVal {
					continue
				}
				c := h.binCenter(ix, iy, iz)
				if tie == TieFirst {
					return c
				}
				for k := range sum {
					sum[k] += c[k]
				}
				n++
			}
		}
	}
	return Vec3{sum[0] / float64(n), sum[1] / float64(n), sum[2] / float64(n)}
}
