package internal

import (
	"fmt"
	"math"
	"slices"
)

// OutlierResult is a chunk whose cosine distance to its document is
// unusually large.
type OutlierResult struct {
	ItemID   int64   `json:"item_id"`
	Distance float64 `json:"distance"`
}

// DefaultOutlierMultiplier is the IQR fence multiplier.
const DefaultOutlierMultiplier = math.Phi

// OutlierDetector flags chunks above Q3 + Multiplier*IQR of the chunk to
// document distances. A zero Multiplier means phi.
type OutlierDetector struct {
	Multiplier float64
}

func (d OutlierDetector) multiplier() float64 {
	if d.Multiplier == 0 {
		return DefaultOutlierMultiplier
	}
	return d.Multiplier
}

// Detect returns the outlying chunks ordered by id.
func (d OutlierDetector) Detect(doc []float32, chunks map[int64][]float32) ([]OutlierResult, error) {
	if len(chunks) == 0 {
		return nil, ErrNoChunks
	}

	distances := make(map[int64]float64, len(chunks))
	for id, vec := range chunks {
		if len(vec) != len(doc) {
			return nil, fmt.Errorf("%w: chunk %d has %d, document has %d", ErrDimensionMismatch, id, len(vec), len(doc))
		}
		distances[id] = CosineDistance(doc, vec)
	}

	return IQROutliers(distances, d.multiplier()), nil
}

// IQROutliers returns the entries strictly above Q3 + m*(Q3-Q1), ordered by id.
func IQROutliers(distances map[int64]float64, m float64) []OutlierResult {
	if len(distances) == 0 {
		return nil
	}

	values := make([]float64, 0, len(distances))
	for _, v := range distances {
		values = append(values, v)
	}
	slices.Sort(values)

	q1 := percentile(values, 25)
	q3 := percentile(values, 75)
	threshold := q3 + m*(q3-q1)

	var out []OutlierResult
	for id, v := range distances {
		if v > threshold {
			out = append(out, OutlierResult{ItemID: id, Distance: v})
		}
	}
	slices.SortFunc(out, func(a, b OutlierResult) int {
		switch {
		case a.ItemID < b.ItemID:
			return -1
		case a.ItemID > b.ItemID:
			return 1
		}
		return 0
	})
	return out
}

// percentile interpolates linearly between closest ranks of sorted values.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	return sorted[lo] + (sorted[hi]-sorted[lo])*(pos-float64(lo))
}
