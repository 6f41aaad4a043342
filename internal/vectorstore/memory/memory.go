// Package memory is a brute-force vector store held in process memory. It backs query
// assignment, where the corpus is one document's chunks.
package memory

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/web-shredder/chunk-daddy-sub002/internal/domain"
	"github.com/web-shredder/chunk-daddy-sub002/internal/similarity"
	"github.com/web-shredder/chunk-daddy-sub002/internal/vectorstore"
)

type entry struct {
	chunk  domain.Chunk
	vector domain.Vector
}

// Storage ranks chunks by cosine similarity.
type Storage struct {
	mu        sync.RWMutex
	dimension int
	entries   []entry
	byID      map[string]int
}

var _ vectorstore.Storage = (*Storage)(nil)

func NewStorage() *Storage { return &Storage{byID: make(map[string]int)} }

// Init fixes the vector dimension and drops anything stored.
func (s *Storage) Init(dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("invalid dimension %d", dimension)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dimension = dimension
	s.entries = nil
	s.byID = make(map[string]int)
	return nil
}

// Upsert stores chunks, replacing any stored chunk with the same ChunkID. Nothing is
// stored when any vector has the wrong dimension.
func (s *Storage) Upsert(chunks []domain.Chunk, vectors []domain.Vector) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("%d chunks for %d vectors", len(chunks), len(vectors))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range vectors {
		if len(v) != s.dimension {
			return similarity.ErrDimensionMismatch
		}
	}
	for i, c := range chunks {
		e := entry{chunk: c, vector: vectors[i]}
		if j, ok := s.byID[c.ChunkID]; ok {
			s.entries[j] = e
			continue
		}
		s.byID[c.ChunkID] = len(s.entries)
		s.entries = append(s.entries, e)
	}
	return nil
}

// Search returns the topK chunks most similar to vector, best first; ties keep
// insertion order. A zero vector on either side scores 0 rather than failing.
func (s *Storage) Search(vector domain.Vector, topK int) ([]vectorstore.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.dimension != 0 && len(vector) != s.dimension {
		return nil, similarity.ErrDimensionMismatch
	}
	if topK <= 0 {
		topK = 5
	}
	results := make([]vectorstore.SearchResult, 0, len(s.entries))
	for _, e := range s.entries {
		score, err := similarity.Cosine(e.vector, vector)
		if err != nil && !errors.Is(err, similarity.ErrZeroVector) {
			return nil, err
		}
		results = append(results, vectorstore.SearchResult{Chunk: e.chunk, Score: score})
	}
	slices.SortStableFunc(results, func(a, b vectorstore.SearchResult) int {
		return cmp.Compare(b.Score, a.Score)
	})
	return results[:min(topK, len(results))], nil
}

// Clear drops every stored chunk but keeps the dimension.
func (s *Storage) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	s.byID = make(map[string]int)
	return nil
}
