package embedding

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web-shredder/chunk-daddy-sub002/internal/apperr"
	"github.com/web-shredder/chunk-daddy-sub002/internal/domain"
)

// echoProvider encodes each text's first byte so order can be checked.
type echoProvider struct {
	calls   [][]string
	failOn  int
	err     error
	short   bool
	prepped []string
}

func (p *echoProvider) Name() string { return "echo" }

func (p *echoProvider) Embed(_ context.Context, texts []string) ([]domain.Vector, error) {
	p.calls = append(p.calls, append([]string(nil), texts...))
	if p.err != nil && len(p.calls) == p.failOn {
		return nil, p.err
	}
	out := make([]domain.Vector, len(texts))
	for i, t := range texts {
		if t == "" {
			out[i] = domain.Vector{}
			continue
		}
		out[i] = domain.Vector{float64(t[0]), 1}
	}
	if p.short {
		out = out[:len(out)-1]
	}
	return out, nil
}

type preparingProvider struct {
	echoProvider
}

func (p *preparingProvider) Prepare(corpus []string) error {
	p.prepped = append([]string(nil), corpus...)
	return nil
}

func TestEmbedAllPreservesOrderAcrossPages(t *testing.T) {
	p := &echoProvider{}
	c := NewBatchClient(p, WithBatchSize(2))

	vecs, err := c.EmbedAll(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, float64('a'), vecs[0][0])
	assert.Equal(t, float64('b'), vecs[1][0])
	assert.Equal(t, float64('c'), vecs[2][0])
	assert.Equal(t, [][]string{{"a", "b"}, {"c"}}, p.calls)
}

func TestEmbedAllFailsAtomically(t *testing.T) {
	p := &echoProvider{failOn: 2, err: errors.New("boom")}
	c := NewBatchClient(p, WithBatchSize(1))

	vecs, err := c.EmbedAll(context.Background(), []string{"a", "b", "c"})
	require.Error(t, err)
	assert.Nil(t, vecs)
	assert.Equal(t, apperr.KindUpstream, apperr.KindOf(err))
}

func TestEmbedAllRetriesRateLimit(t *testing.T) {
	p := &echoProvider{failOn: 1, err: apperr.FromStatus("embed", 429, nil)}
	c := NewBatchClient(p, WithRetries(2))

	vecs, err := c.EmbedAll(context.Background(), []string{"x"})
	require.NoError(t, err)
	assert.Len(t, vecs, 1)
	assert.Len(t, p.calls, 2)
}

func TestEmbedAllQuotaNotRetried(t *testing.T) {
	p := &echoProvider{failOn: 1, err: apperr.FromStatus("embed", 402, nil)}
	c := NewBatchClient(p, WithRetries(5))

	_, err := c.EmbedAll(context.Background(), []string{"x"})
	assert.Equal(t, apperr.KindQuotaExhausted, apperr.KindOf(err))
	assert.Len(t, p.calls, 1)
}

func TestEmbedAllCountMismatch(t *testing.T) {
	c := NewBatchClient(&echoProvider{short: true})
	_, err := c.EmbedAll(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 vectors for 2 texts")
}

func TestEmbedAllPreparesOnWholeCall(t *testing.T) {
	p := &preparingProvider{}
	c := NewBatchClient(p, WithBatchSize(1))
	_, err := c.EmbedAll(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, p.prepped)
}

func TestEmbedRequestUnzipsByRole(t *testing.T) {
	req := NewRequest().
		Add(RoleOptimized, "c1", "opt").
		Add(RoleOriginal, "c1", "orig").
		Add(RoleQuery, "q1", "query").
		Add(RoleOriginal, "c2", "").
		Add(RoleOptimized, "c1", "new")
	assert.Equal(t, 4, req.Len())

	p := &echoProvider{}
	res, err := NewBatchClient(p, WithBatchSize(3)).EmbedRequest(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, p.calls, 1)
	assert.NotContains(t, p.calls[0], "", "blank texts are not sent")

	v, ok := res.Get(RoleOptimized, "c1")
	require.True(t, ok)
	assert.Equal(t, float64('n'), v[0])

	v, ok = res.Get(RoleOriginal, "c1")
	require.True(t, ok)
	assert.Equal(t, float64('o'), v[0])

	_, ok = res.Get(RoleOriginal, "c2")
	assert.False(t, ok, "blank text reads as missing")
	_, ok = res.Get(RoleQuery, "nope")
	assert.False(t, ok)

	assert.Len(t, res.Role(RoleOriginal), 1)

	vecs, missing := res.Collect(RoleOriginal, []string{"c1", "c2"})
	assert.Len(t, vecs, 1)
	assert.Equal(t, []string{"c2"}, missing)
}

func TestEmbedRequestSkipsBlankTexts(t *testing.T) {
	req := NewRequest().
		Add(RoleOptimized, "c1", "   \n\t").
		Add(RoleQuery, "q1", "query")

	p := &echoProvider{}
	res, err := NewBatchClient(p).EmbedRequest(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"query"}}, p.calls)

	_, ok := res.Get(RoleOptimized, "c1")
	assert.False(t, ok)
	_, ok = res.Get(RoleQuery, "q1")
	assert.True(t, ok)
}

func TestEmbedRequestAllBlankSkipsProvider(t *testing.T) {
	p := &echoProvider{}
	res, err := NewBatchClient(p).EmbedRequest(context.Background(), NewRequest().Add(RoleQuery, "q1", " "))
	require.NoError(t, err)
	assert.Empty(t, p.calls)
	assert.Empty(t, res.Role(RoleQuery))
}

func TestResultTreatsZeroVectorAsMissing(t *testing.T) {
	res := NewResult(map[Key]domain.Vector{
		{Role: RoleQuery, ID: "zero"}: {0, 0, 0},
		{Role: RoleQuery, ID: "ok"}:   {0, 1, 0},
	})
	_, ok := res.Get(RoleQuery, "zero")
	assert.False(t, ok)

	vecs, missing := res.Collect(RoleQuery, []string{"zero", "ok"})
	assert.Equal(t, []domain.Vector{{0, 1, 0}}, vecs)
	assert.Equal(t, []string{"zero"}, missing)
	assert.Len(t, res.Role(RoleQuery), 1)
}
