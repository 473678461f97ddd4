package explain

import (
	"gonum.org/v1/gonum/stat"
)

// Heatmap is a row-major 2D grid of float32 values.
type Heatmap struct {
	Height, Width int
	Values        []float32
}

// NewHeatmap allocates a zero heatmap.
func NewHeatmap(h, w int) *Heatmap {
	return &Heatmap{Height: h, Width: w, Values: make([]float32, h*w)}
}

// At returns the value at row y, column x.
func (m *Heatmap) At(y, x int) float32 {
	return m.Values[y*m.Width+x]
}

// Max returns the largest value, or 0 for an empty map.
func (m *Heatmap) Max() float32 {
	if len(m.Values) == 0 {
		return 0
	}
	peak := m.Values[0]
	for _, v := range m.Values[1:] {
		peak = max(peak, v)
	}
	return peak
}

// MeanStd returns the mean and population standard deviation.
func (m *Heatmap) MeanStd() (mean, std float64) {
	return stat.PopMeanStdDev(toFloat64(m.Values), nil)
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
