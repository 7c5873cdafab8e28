package utils

import "math"

// NormalizeL2 scales x in place to unit L2 norm so that dot products against
// other normalized vectors equal cosine similarity. A zero vector is left
// untouched.
func NormalizeL2(x []float32) {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	inv := 1.0 / math.Sqrt(sum)
	for i, v := range x {
		x[i] = float32(float64(v) * inv)
	}
}
