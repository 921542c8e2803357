package common

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Statistical helpers shared by the analysis stages, backed by gonum.

// Mean calculates the arithmetic mean of a slice using gonum
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0.0
	}
	return stat.Mean(data, nil)
}

// Median returns the middle value of data. For even lengths the two central
// values are averaged, which stat.Quantile does not do.
func Median(data []float64) float64 {
	n := len(data)
	if n == 0 {
		return 0.0
	}

	sorted := make([]float64, n)
	copy(sorted, data)
	sort.Float64s(sorted)

	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// RMS calculates root mean square
func RMS(data []float64) float64 {
	if len(data) == 0 {
		return 0.0
	}
	return math.Sqrt(floats.Dot(data, data) / float64(len(data)))
}

// RemoveDC writes data minus its mean into dst and returns dst.
// dst may alias data.
func RemoveDC(dst, data []float64) []float64 {
	if len(dst) < len(data) {
		dst = make([]float64, len(data))
	}
	dst = dst[:len(data)]
	mean := Mean(data)
	for i, v := range data {
		dst[i] = v - mean
	}
	return dst
}

// LinRegression performs simple linear regression and returns slope, intercept, r²
func LinRegression(x, y []float64) (slope, intercept, rSquared float64) {
	if len(x) != len(y) || len(x) < 2 {
		return 0, 0, 0
	}

	alpha, beta := stat.LinearRegression(x, y, nil, false)
	rSquared = stat.RSquared(x, y, nil, alpha, beta)
	if math.IsNaN(rSquared) || math.IsInf(rSquared, 0) {
		rSquared = 0.0
	}

	return beta, alpha, rSquared
}

// ParabolicVertex fits a parabola through three equally spaced samples
// centred on index 0 and returns the vertex offset in [-1, 1] and its value.
// Flat or degenerate input yields a zero offset.
func ParabolicVertex(left, center, right float64) (offset, value float64) {
	denom := left - 2*center + right
	if denom == 0 || math.IsNaN(denom) {
		return 0, center
	}
	offset = 0.5 * (left - right) / denom
	if offset > 1 {
		offset = 1
	} else if offset < -1 {
		offset = -1
	}
	value = center - 0.25*(left-right)*offset
	return offset, value
}

// Cents returns the interval from ref to f in cents.
func Cents(f, ref float64) float64 {
	if f <= 0 || ref <= 0 {
		return math.NaN()
	}
	return 1200 * math.Log2(f/ref)
}

// Clamp constrains a value to a range
func Clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
