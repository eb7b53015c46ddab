package internal

import "math"

// Neighbor is one k-nearest-neighbor hit. Distance is the angular distance
// sqrt(2-2cos) between the query and the stored vector, in [0, 2].
type Neighbor struct {
	ItemID   int64
	Distance float32
}

// Score maps the angular distance onto 0-1, higher is better.
func (n Neighbor) Score() float32 {
	return 1.0 - n.Distance/2.0
}

// CosineDistance returns 1 - cos(a, b). Zero-norm inputs are treated as
// orthogonal to everything.
func CosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

// AngularDistance returns sqrt(2-2cos(a, b)), the metric the index ranks by.
func AngularDistance(a, b []float32) float32 {
	return float32(math.Sqrt(max(0, 2*CosineDistance(a, b))))
}

// AngularToCosine converts an angular index distance sqrt(2-2cos) back to 1-cos.
func AngularToCosine(d float32) float64 {
	return float64(d) * float64(d) / 2
}

func l2Normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}

	norm := math.Sqrt(sum)
	if norm == 0 {
		return vec
	}

	result := make([]float32, len(vec))
	for i, v := range vec {
		result[i] = float32(float64(v) / norm)
	}

	return result
}

// Centroid returns the L2-normalised mean of vecs, or nil when vecs is empty.
func Centroid(vecs [][]float32) []float32 {
	if len(vecs) == 0 {
		return nil
	}

	sum := make([]float64, len(vecs[0]))
	for _, v := range vecs {
		for i := range sum {
			sum[i] += float64(v[i])
		}
	}

	mean := make([]float32, len(sum))
	for i, s := range sum {
		mean[i] = float32(s / float64(len(vecs)))
	}
	return l2Normalize(mean)
}
