// Package analysis scores a single content body against a keyword list. It is the
// exploratory sibling of the optimizer: one embedding call, raw similarity scores, and
// no document-level chamfer.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/web-shredder/chunk-daddy-sub002/internal/apperr"
	"github.com/web-shredder/chunk-daddy-sub002/internal/domain"
	"github.com/web-shredder/chunk-daddy-sub002/internal/embedding"
	"github.com/web-shredder/chunk-daddy-sub002/internal/logger"
	"github.com/web-shredder/chunk-daddy-sub002/internal/metrics"
	"github.com/web-shredder/chunk-daddy-sub002/internal/scoring"
	"github.com/web-shredder/chunk-daddy-sub002/internal/similarity"
)

const documentID = "document"

// Request describes one analysis.
type Request struct {
	Content string
	// OptimizedContent, when set, is chunked the same way and compared by chunk index.
	OptimizedContent string
	Keywords         []string
	// Chunker overrides the runner's default strategy.
	Chunker domain.Chunker
	// CompareNoCascade also scores each chunk body without its heading cascade.
	CompareNoCascade bool
}

// ChunkScore is one chunk's identity with its scores per keyword.
type ChunkScore struct {
	ChunkID         string                       `json:"chunk_id"`
	Index           int                          `json:"index"`
	Text            string                       `json:"text"`
	Headings        []string                     `json:"headings,omitempty"`
	WordCount       int                          `json:"word_count"`
	CharCount       int                          `json:"char_count"`
	Scores          map[string]similarity.Scores `json:"scores"`
	NoCascadeScores map[string]similarity.Scores `json:"no_cascade_scores,omitempty"`
}

// ImprovementResult is the cosine change for one (chunk, keyword) pair.
type ImprovementResult struct {
	ChunkID  string  `json:"chunk_id"`
	Index    int     `json:"index"`
	Keyword  string  `json:"keyword"`
	Baseline float64 `json:"baseline"`
	Score    float64 `json:"score"`
	scoring.Improvement
}

// Result is the immutable outcome of a run. A re-analysis produces a new Result.
type Result struct {
	RunID           string                       `json:"run_id"`
	Document        map[string]similarity.Scores `json:"document"`
	Chunks          []ChunkScore                 `json:"chunks"`
	OptimizedChunks []ChunkScore                 `json:"optimized_chunks,omitempty"`
	// VsDocument compares every chunk with the whole original document.
	VsDocument []ImprovementResult `json:"vs_document"`
	// VsOriginal compares optimized chunk i with original chunk i.
	VsOriginal []ImprovementResult `json:"vs_original,omitempty"`
}

// Runner runs analyses.
type Runner struct {
	embedder *embedding.BatchClient
	chunker  domain.Chunker
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

func NewRunner(embedder *embedding.BatchClient, chunker domain.Chunker, log *zap.Logger, m *metrics.Metrics) *Runner {
	return &Runner{embedder: embedder, chunker: chunker, logger: logger.OrNop(log), metrics: m}
}

// Run chunks, embeds everything in one call and scores every chunk against every keyword.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	if len(req.Keywords) == 0 {
		return nil, apperr.New(apperr.KindInvalidInput, "analysis", "at least one keyword is required")
	}
	ch := req.Chunker
	if ch == nil {
		ch = r.chunker
	}
	original, err := ch.Chunk(domain.Document{ID: "orig", Content: req.Content})
	if err != nil {
		return nil, fmt.Errorf("chunk content: %w", err)
	}
	if len(original) == 0 {
		return nil, apperr.New(apperr.KindInvalidInput, "analysis", "content produced no chunks")
	}
	var optimized []domain.Chunk
	if req.OptimizedContent != "" {
		optimized, err = ch.Chunk(domain.Document{ID: "opt", Content: req.OptimizedContent})
		if err != nil {
			return nil, fmt.Errorf("chunk optimized content: %w", err)
		}
	}

	embReq := embedding.NewRequest().Add(embedding.RoleDocument, documentID, req.Content)
	for _, c := range original {
		embReq.Add(embedding.RoleChunk, c.ChunkID, c.WithCascade())
		if req.CompareNoCascade {
			embReq.Add(embedding.RoleChunkNoCascade, c.ChunkID, c.Text)
		}
	}
	for _, c := range optimized {
		embReq.Add(embedding.RoleOptimized, c.ChunkID, c.WithCascade())
	}
	for _, k := range req.Keywords {
		embReq.Add(embedding.RoleQuery, k, k)
	}
	vecs, err := r.embedder.EmbedRequest(ctx, embReq)
	if err != nil {
		return nil, fmt.Errorf("embed analysis batch: %w", err)
	}

	res := &Result{RunID: uuid.NewString(), Document: make(map[string]similarity.Scores, len(req.Keywords))}
	docVec, docOK := vecs.Get(embedding.RoleDocument, documentID)
	for _, k := range req.Keywords {
		qv, qOK := vecs.Get(embedding.RoleQuery, k)
		res.Document[k] = r.score(docVec, docOK, qv, qOK, zap.String("chunk", documentID), zap.String("keyword", k))
	}

	res.Chunks = r.scoreChunks(original, embedding.RoleChunk, vecs, req.Keywords, req.CompareNoCascade)
	for _, cs := range res.Chunks {
		for _, k := range req.Keywords {
			res.VsDocument = append(res.VsDocument, improvement(cs, k, res.Document[k].Cosine, cs.Scores[k].Cosine))
		}
	}

	if len(optimized) > 0 {
		res.OptimizedChunks = r.scoreChunks(optimized, embedding.RoleOptimized, vecs, req.Keywords, false)
		for i, oc := range res.OptimizedChunks {
			if i >= len(res.Chunks) {
				r.logger.Info("optimized content has more chunks than the original", zap.Int("index", i))
				break
			}
			for _, k := range req.Keywords {
				res.VsOriginal = append(res.VsOriginal, improvement(oc, k, res.Chunks[i].Scores[k].Cosine, oc.Scores[k].Cosine))
			}
		}
	}
	return res, nil
}

func (r *Runner) scoreChunks(chunks []domain.Chunk, role embedding.Role, vecs *embedding.Result, keywords []string, noCascade bool) []ChunkScore {
	out := make([]ChunkScore, len(chunks))
	for i, c := range chunks {
		cs := ChunkScore{
			ChunkID:   c.ChunkID,
			Index:     c.Index,
			Text:      c.Text,
			Headings:  c.Headings,
			WordCount: c.WordCount,
			CharCount: c.CharCount,
			Scores:    make(map[string]similarity.Scores, len(keywords)),
		}
		if noCascade {
			cs.NoCascadeScores = make(map[string]similarity.Scores, len(keywords))
		}
		cv, cOK := vecs.Get(role, c.ChunkID)
		nv, nOK := vecs.Get(embedding.RoleChunkNoCascade, c.ChunkID)
		for _, k := range keywords {
			qv, qOK := vecs.Get(embedding.RoleQuery, k)
			cs.Scores[k] = r.score(cv, cOK, qv, qOK, zap.String("chunk", c.ChunkID), zap.String("keyword", k))
			if noCascade {
				cs.NoCascadeScores[k] = r.score(nv, nOK, qv, qOK, zap.String("chunk", c.ChunkID+"#nocascade"), zap.String("keyword", k))
			}
		}
		out[i] = cs
	}
	return out
}

// score treats a missing vector or a zero vector as a zero cell.
func (r *Runner) score(content domain.Vector, contentOK bool, query domain.Vector, queryOK bool, fields ...zap.Field) similarity.Scores {
	if !contentOK || !queryOK {
		r.metrics.ZeroCell()
		r.logger.Warn("missing embedding, scoring cell as zero", fields...)
		return similarity.Scores{}
	}
	s, err := similarity.Compare(content, query)
	if err != nil {
		r.metrics.ZeroCell()
		lvl := r.logger.Warn
		if errors.Is(err, similarity.ErrZeroVector) {
			lvl = r.logger.Debug
		}
		lvl("cannot compare vectors, scoring cell as zero", append(fields, zap.Error(err))...)
		return similarity.Scores{}
	}
	return s
}

func improvement(cs ChunkScore, keyword string, baseline, score float64) ImprovementResult {
	return ImprovementResult{
		ChunkID:     cs.ChunkID,
		Index:       cs.Index,
		Keyword:     keyword,
		Baseline:    baseline,
		Score:       score,
		Improvement: scoring.CalculateImprovement(baseline, score),
	}
}

// ChunkLabel is a short human label for a chunk: its innermost heading or its position.
func ChunkLabel(cs ChunkScore) string {
	if n := len(cs.Headings); n > 0 {
		return cs.Headings[n-1]
	}
	return "Chunk " + strconv.Itoa(cs.Index+1)
}
