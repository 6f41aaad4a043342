package vectorstore

import "github.com/web-shredder/chunk-daddy-sub002/internal/domain"

// SearchResult is a chunk with its similarity to the searched vector.
type SearchResult struct {
	Chunk domain.Chunk
	Score float64
}

// Storage holds chunk vectors for nearest-neighbour search.
type Storage interface {
	Init(dimension int) error
	Upsert(chunks []domain.Chunk, vectors []domain.Vector) error
	Search(vector domain.Vector, topK int) ([]SearchResult, error)
	Clear() error
}
