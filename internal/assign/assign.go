// Package assign decides which chunk owns each target query. The orchestrator treats
// the resulting Assignment as opaque input; Assigner is the default way to build one.
package assign

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/web-shredder/chunk-daddy-sub002/internal/domain"
	"github.com/web-shredder/chunk-daddy-sub002/internal/embedding"
	"github.com/web-shredder/chunk-daddy-sub002/internal/logger"
	"github.com/web-shredder/chunk-daddy-sub002/internal/vectorstore"
	"github.com/web-shredder/chunk-daddy-sub002/internal/vectorstore/memory"
)

// Assignment maps chunk ids to the queries they own. Unassigned queries have no chunk
// that covers them adequately.
type Assignment struct {
	ChunkQueries map[string][]string `json:"chunk_queries"`
	Unassigned   []string            `json:"unassigned,omitempty"`
}

// QueriesFor returns the queries owned by chunkID.
func (a Assignment) QueriesFor(chunkID string) []string {
	return a.ChunkQueries[chunkID]
}

// HasUnassigned reports whether any query needs new content.
func (a Assignment) HasUnassigned() bool { return len(a.Unassigned) > 0 }

// Assigner gives each query to its most similar chunk.
type Assigner struct {
	embedder  *embedding.BatchClient
	newStore  func() vectorstore.Storage
	minCosine float64
	logger    *zap.Logger
}

// NewAssigner returns an assigner that leaves a query unassigned when its best chunk
// cosine is below minCosine.
func NewAssigner(embedder *embedding.BatchClient, minCosine float64, log *zap.Logger) *Assigner {
	return &Assigner{
		embedder:  embedder,
		newStore:  func() vectorstore.Storage { return memory.NewStorage() },
		minCosine: minCosine,
		logger:    logger.OrNop(log),
	}
}

// Assign embeds chunks (with their heading cascade) and queries in one call and
// places each query on its nearest chunk.
func (a *Assigner) Assign(ctx context.Context, chunks []domain.Chunk, queries []string) (Assignment, error) {
	out := Assignment{ChunkQueries: make(map[string][]string)}
	if len(queries) == 0 {
		return out, nil
	}
	if len(chunks) == 0 {
		out.Unassigned = append(out.Unassigned, queries...)
		return out, nil
	}

	req := embedding.NewRequest()
	for _, c := range chunks {
		req.Add(embedding.RoleChunk, c.ChunkID, c.WithCascade())
	}
	for _, q := range queries {
		req.Add(embedding.RoleQuery, q, q)
	}
	res, err := a.embedder.EmbedRequest(ctx, req)
	if err != nil {
		return Assignment{}, fmt.Errorf("embed for assignment: %w", err)
	}

	var (
		stored  []domain.Chunk
		vectors []domain.Vector
	)
	for _, c := range chunks {
		if v, ok := res.Get(embedding.RoleChunk, c.ChunkID); ok {
			stored = append(stored, c)
			vectors = append(vectors, v)
		}
	}
	if len(stored) == 0 {
		out.Unassigned = append(out.Unassigned, queries...)
		return out, nil
	}
	store := a.newStore()
	if err := store.Init(len(vectors[0])); err != nil {
		return Assignment{}, err
	}
	if err := store.Upsert(stored, vectors); err != nil {
		return Assignment{}, err
	}

	for _, q := range queries {
		qv, ok := res.Get(embedding.RoleQuery, q)
		if !ok {
			a.logger.Warn("no vector for query, leaving unassigned", zap.String("query", q))
			out.Unassigned = append(out.Unassigned, q)
			continue
		}
		hits, err := store.Search(qv, 1)
		if err != nil {
			return Assignment{}, err
		}
		if len(hits) == 0 || hits[0].Score < a.minCosine {
			out.Unassigned = append(out.Unassigned, q)
			continue
		}
		id := hits[0].Chunk.ChunkID
		out.ChunkQueries[id] = append(out.ChunkQueries[id], q)
	}
	return out, nil
}
