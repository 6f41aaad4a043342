package similarity

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float64
		want float64
	}{
		{"identical", []float64{1, 2, 3}, []float64{1, 2, 3}, 1},
		{"scaled", []float64{1, 2, 3}, []float64{2, 4, 6}, 1},
		{"orthogonal", []float64{1, 0}, []float64{0, 1}, 0},
		{"opposite", []float64{1, 1}, []float64{-1, -1}, -1},
		{"partial", []float64{0.6, 0.8}, []float64{1, 0}, 0.6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Cosine(tt.a, tt.b)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-12)
			assert.GreaterOrEqual(t, got, -1.0)
			assert.LessOrEqual(t, got, 1.0)

			rev, err := Cosine(tt.b, tt.a)
			require.NoError(t, err)
			assert.InDelta(t, got, rev, 1e-12)
		})
	}
}

func TestCosineErrors(t *testing.T) {
	_, err := Cosine([]float64{1, 2}, []float64{1, 2, 3})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = Cosine([]float64{0, 0}, []float64{1, 2})
	assert.ErrorIs(t, err, ErrZeroVector)

	_, err = Cosine(nil, []float64{1})
	assert.ErrorIs(t, err, ErrEmptyVector)
}

func TestCosineSelfIsOne(t *testing.T) {
	for _, v := range [][]float64{{0.1}, {3, -4}, {1e-8, 2e-8, 3e-8}, {1000, 0.001, -7}} {
		got, err := Cosine(v, v)
		require.NoError(t, err)
		assert.InDelta(t, 1.0, got, 1e-12)
	}
}

func TestEuclidean(t *testing.T) {
	d, err := Euclidean([]float64{0, 0}, []float64{3, 4})
	require.NoError(t, err)
	assert.Equal(t, 5.0, d)

	d, err = Euclidean([]float64{1, 1}, []float64{1, 1})
	require.NoError(t, err)
	assert.Zero(t, d)

	_, err = Euclidean([]float64{1}, []float64{1, 2})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestChamferEmptySets(t *testing.T) {
	got, err := Chamfer(nil, [][]float64{{1, 0}})
	require.NoError(t, err)
	assert.Zero(t, got)

	got, err = Chamfer([][]float64{{1, 0}}, [][]float64{})
	require.NoError(t, err)
	assert.Zero(t, got)
}

func TestChamferSelfIsOne(t *testing.T) {
	set := [][]float64{{1, 0, 0}, {0.2, 0.9, 0.1}, {0.5, 0.5, 0.5}}
	got, err := Chamfer(set, set)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, got, 1e-12)
}

func TestChamferBidirectional(t *testing.T) {
	content := [][]float64{{1, 0}, {0, 1}}
	queries := [][]float64{{1, 0}}
	// content->queries: (1 + 0) / 2, queries->content: 1
	got, err := Chamfer(content, queries)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, got, 1e-12)
}

func TestChamferAveragesDirectionsForUnequalSets(t *testing.T) {
	one := [][]float64{{1, 0}}
	three := [][]float64{{1, 0}, {0, 1}, {0, 1}}
	// one->three: 1, three->one: (1 + 0 + 0) / 3. Each direction weighs half no matter
	// how many vectors it holds; pooling all four maxima would give 0.5.
	got, err := Chamfer(one, three)
	require.NoError(t, err)
	assert.InDelta(t, 2.0/3.0, got, 1e-12)

	swapped, err := Chamfer(three, one)
	require.NoError(t, err)
	assert.InDelta(t, got, swapped, 1e-12)
}

func TestChamferNonRedundantGrowth(t *testing.T) {
	queries := [][]float64{{1, 0, 0}, {0, 1, 0}}
	small := [][]float64{{1, 0, 0}}
	grown := [][]float64{{1, 0, 0}, {0, 1, 0}}

	before, err := Chamfer(small, queries)
	require.NoError(t, err)
	after, err := Chamfer(grown, queries)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, after, before)
}

func TestChamferPropagatesMismatch(t *testing.T) {
	_, err := Chamfer([][]float64{{1, 0}}, [][]float64{{1, 0, 0}})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestCompare(t *testing.T) {
	s, err := Compare([]float64{0.6, 0.8}, []float64{1, 0})
	require.NoError(t, err)
	assert.InDelta(t, 0.6, s.Cosine, 1e-12)
	assert.Equal(t, s.Cosine, s.Chamfer)
	assert.InDelta(t, math.Sqrt(0.16+0.64), s.Euclidean, 1e-12)
}
