// Package similarity holds the vector primitives the scoring model is built from.
package similarity

import (
	"errors"
	"math"
)

var (
	ErrDimensionMismatch = errors.New("similarity: vector dimensions differ")
	ErrEmptyVector       = errors.New("similarity: empty vector")
	ErrZeroVector        = errors.New("similarity: zero-magnitude vector")
)

// Scores is the similarity of one content vector to one query vector.
type Scores struct {
	Cosine    float64 `json:"cosine"`
	Euclidean float64 `json:"euclidean"`
	Chamfer   float64 `json:"chamfer"`
}

// Cosine returns the normalized dot product of a and b, in [-1, 1].
func Cosine(a, b []float64) (float64, error) {
	if err := checkPair(a, b); err != nil {
		return 0, err
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0, ErrZeroVector
	}
	c := dot / (math.Sqrt(na) * math.Sqrt(nb))
	// float drift can push |c| just past 1
	return math.Max(-1, math.Min(1, c)), nil
}

// Euclidean returns the L2 distance between a and b.
func Euclidean(a, b []float64) (float64, error) {
	if err := checkPair(a, b); err != nil {
		return 0, err
	}
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum), nil
}

// Chamfer measures bidirectional nearest-neighbour coverage between two vector sets:
// the mean best match of every a in setA against setB, averaged with the mean best
// match of every b in setB against setA. An empty set on either side yields 0.
func Chamfer[V ~[]float64](setA, setB []V) (float64, error) {
	if len(setA) == 0 || len(setB) == 0 {
		return 0, nil
	}
	ab, err := meanBest(setA, setB)
	if err != nil {
		return 0, err
	}
	ba, err := meanBest(setB, setA)
	if err != nil {
		return 0, err
	}
	return (ab + ba) / 2, nil
}

// Compare scores a single content/query pair. Chamfer over two one-element sets is
// the cosine itself.
func Compare(content, query []float64) (Scores, error) {
	cos, err := Cosine(content, query)
	if err != nil {
		return Scores{}, err
	}
	dist, err := Euclidean(content, query)
	if err != nil {
		return Scores{}, err
	}
	return Scores{Cosine: cos, Euclidean: dist, Chamfer: cos}, nil
}

func meanBest[V ~[]float64](from, to []V) (float64, error) {
	var total float64
	for _, a := range from {
		best := math.Inf(-1)
		for _, b := range to {
			c, err := Cosine(a, b)
			if err != nil {
				return 0, err
			}
			if c > best {
				best = c
			}
		}
		total += best
	}
	return total / float64(len(from)), nil
}

func checkPair(a, b []float64) error {
	if len(a) == 0 || len(b) == 0 {
		return ErrEmptyVector
	}
	if len(a) != len(b) {
		return ErrDimensionMismatch
	}
	return nil
}
