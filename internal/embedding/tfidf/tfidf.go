// Package tfidf is an offline embedding provider. Its vectors are lexical: two texts
// are similar when they share weighted terms, which is enough to exercise the pipeline
// without a network provider.
package tfidf

import (
	"context"
	"errors"
	"maps"
	"math"
	"regexp"
	"slices"
	"strings"
	"sync"

	"github.com/web-shredder/chunk-daddy-sub002/internal/domain"
)

var tokenPattern = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`)

// Embedder fits a vocabulary with smoothed IDF weights and produces L2-normalized,
// sublinear TF-IDF vectors. Vectors are comparable only within one fitted corpus; the
// batch client refits before every call.
type Embedder struct {
	mu         sync.RWMutex
	vocabulary map[string]int
	idf        []float64
	stopwords  map[string]struct{}
}

// NewEmbedder creates an unfitted embedder.
func NewEmbedder() *Embedder {
	return &Embedder{stopwords: defaultStopwords()}
}

func (e *Embedder) Name() string { return "tfidf" }

// Prepare fits the vocabulary and IDF values to corpus.
func (e *Embedder) Prepare(corpus []string) error {
	if len(corpus) == 0 {
		return errors.New("empty corpus for TF-IDF prepare")
	}
	df := make(map[string]int)
	for _, text := range corpus {
		for term := range e.termCounts(text) {
			df[term]++
		}
	}
	if len(df) == 0 {
		return errors.New("no terms found in corpus")
	}

	terms := slices.Sorted(maps.Keys(df))
	vocab := make(map[string]int, len(terms))
	idf := make([]float64, len(terms))
	n := float64(len(corpus))
	for i, term := range terms {
		vocab[term] = i
		idf[i] = math.Log((1+n)/(1+float64(df[term]))) + 1
	}

	e.mu.Lock()
	e.vocabulary, e.idf = vocab, idf
	e.mu.Unlock()
	return nil
}

// Dimension is the vocabulary size, or 0 before Prepare.
func (e *Embedder) Dimension() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.idf)
}

// Embed vectorizes texts against the fitted vocabulary. A text with no known terms
// gets an all-zero vector.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([]domain.Vector, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.vocabulary == nil {
		return nil, errors.New("tfidf embedder not prepared")
	}
	out := make([]domain.Vector, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.vectorize(t)
	}
	return out, nil
}

func (e *Embedder) vectorize(text string) domain.Vector {
	vec := make(domain.Vector, len(e.idf))
	var norm float64
	for term, count := range e.termCounts(text) {
		idx, ok := e.vocabulary[term]
		if !ok {
			continue
		}
		w := (1 + math.Log(float64(count))) * e.idf[idx]
		vec[idx] = w
		norm += w * w
	}
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}

// termCounts counts lower-cased terms, skipping stopwords and markdown markup.
func (e *Embedder) termCounts(text string) map[string]int {
	counts := make(map[string]int)
	for _, tok := range tokenPattern.FindAllString(strings.ToLower(text), -1) {
		if _, stop := e.stopwords[tok]; stop {
			continue
		}
		counts[tok]++
	}
	return counts
}

func defaultStopwords() map[string]struct{} {
	words := strings.Fields(`a an the and or but if then else for to of in on at by with as
		is are was were be been being it its this that these those from up down over under
		again further than so such into about between through during before after above
		below out off own same too very can will just don should now how what which who why
		do does you your we our`)
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
