package utils

import "math"

// NormalizeL2 normalizes the slice in place to unit L2 norm and reports
// whether it could. A zero or non-finite norm leaves the slice unchanged
// and returns false.
func NormalizeL2(x []float32) bool {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	if sum == 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return false
	}
	norm := 1.0 / math.Sqrt(sum)
	for i := range x {
		x[i] = float32(float64(x[i]) * norm)
	}
	return true
}

// Dot returns the inner product of a and b accumulated in float64.
// It panics if the lengths differ.
func Dot(a, b []float32) float64 {
	if len(a) != len(b) {
		panic("utils.Dot: length mismatch")
	}
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
