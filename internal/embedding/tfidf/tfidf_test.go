package tfidf

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web-shredder/chunk-daddy-sub002/internal/similarity"
)

func TestEmbedRequiresPrepare(t *testing.T) {
	_, err := NewEmbedder().Embed(context.Background(), []string{"hello"})
	assert.Error(t, err)
}

func TestPrepareRejectsEmpty(t *testing.T) {
	e := NewEmbedder()
	assert.Error(t, e.Prepare(nil))
	assert.Error(t, e.Prepare([]string{"the and of"}))
}

func TestEmbedIsNormalizedAndRanked(t *testing.T) {
	corpus := []string{
		"Solar panels convert sunlight into electricity.",
		"Battery storage keeps solar power for the night.",
		"Sourdough bread needs a mature starter.",
		"solar panels",
	}
	e := NewEmbedder()
	require.NoError(t, e.Prepare(corpus))
	assert.Greater(t, e.Dimension(), 0)

	vecs, err := e.Embed(context.Background(), corpus)
	require.NoError(t, err)
	require.Len(t, vecs, len(corpus))

	norm := 0.0
	for _, v := range vecs[0] {
		norm += v * v
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-9)

	query := vecs[3]
	solar, err := similarity.Cosine(vecs[0], query)
	require.NoError(t, err)
	bread, err := similarity.Cosine(vecs[2], query)
	require.NoError(t, err)
	assert.Greater(t, solar, bread)
}

func TestEmbedUnknownTermsIsZero(t *testing.T) {
	e := NewEmbedder()
	require.NoError(t, e.Prepare([]string{"alpha beta"}))
	vecs, err := e.Embed(context.Background(), []string{"gamma"})
	require.NoError(t, err)
	for _, v := range vecs[0] {
		assert.Zero(t, v)
	}
}
