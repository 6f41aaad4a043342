// Package service wires chunking, assignment, analysis and the optimization pipeline
// into the operations the command line exposes.
package service

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/web-shredder/chunk-daddy-sub002/internal/analysis"
	"github.com/web-shredder/chunk-daddy-sub002/internal/apperr"
	"github.com/web-shredder/chunk-daddy-sub002/internal/assign"
	"github.com/web-shredder/chunk-daddy-sub002/internal/chunker"
	"github.com/web-shredder/chunk-daddy-sub002/internal/domain"
	"github.com/web-shredder/chunk-daddy-sub002/internal/logger"
	"github.com/web-shredder/chunk-daddy-sub002/internal/optimizer"
)

// Deps are the components a Service drives.
type Deps struct {
	Chunker    domain.Chunker
	Analyzer   *analysis.Runner
	Assigner   *assign.Assigner
	Optimizer  *optimizer.Orchestrator
	Summarizer domain.Summarizer
	Logger     *zap.Logger
}

// Service is the application core.
type Service struct {
	chunker    domain.Chunker
	analyzer   *analysis.Runner
	assigner   *assign.Assigner
	optimizer  *optimizer.Orchestrator
	summarizer domain.Summarizer
	logger     *zap.Logger
}

func New(d Deps) *Service {
	return &Service{
		chunker:    d.Chunker,
		analyzer:   d.Analyzer,
		assigner:   d.Assigner,
		optimizer:  d.Optimizer,
		summarizer: d.Summarizer,
		logger:     logger.OrNop(d.Logger),
	}
}

// LoadDocument reads a markdown, text or HTML file. HTML is flattened to markdown so
// its heading structure survives chunking.
func (s *Service) LoadDocument(path string) (domain.Document, error) {
	ext := strings.ToLower(filepath.Ext(path))
	var content string
	switch ext {
	case ".md", ".markdown", ".txt":
		data, err := os.ReadFile(path)
		if err != nil {
			return domain.Document{}, err
		}
		content = string(data)
	case ".html", ".htm":
		f, err := os.Open(path)
		if err != nil {
			return domain.Document{}, err
		}
		defer f.Close()
		content, err = chunker.FromHTML(f)
		if err != nil {
			return domain.Document{}, err
		}
	default:
		return domain.Document{}, apperr.New(apperr.KindInvalidInput, "load", fmt.Sprintf("unsupported file type %q", ext))
	}
	if strings.TrimSpace(content) == "" {
		return domain.Document{}, apperr.New(apperr.KindInvalidInput, "load", path+" has no content")
	}
	return domain.Document{ID: hashString(path), Path: path, Content: content}, nil
}

// Synopsis is a short extractive summary of doc.
func (s *Service) Synopsis(doc domain.Document, maxSentences int) string {
	if s.summarizer == nil {
		return ""
	}
	out, err := s.summarizer.Summarize(doc.Content, maxSentences)
	if err != nil {
		s.logger.Warn("synopsis failed", zap.String("document", doc.Path), zap.Error(err))
		return ""
	}
	return out
}

// Analyze scores doc, and optionally an optimized version of it, against keywords.
func (s *Service) Analyze(ctx context.Context, doc domain.Document, optimized string, keywords []string) (*analysis.Result, error) {
	return s.analyzer.Run(ctx, analysis.Request{
		Content:          doc.Content,
		OptimizedContent: optimized,
		Keywords:         keywords,
		CompareNoCascade: true,
	})
}

// OptimizeRequest is one optimization of a loaded document.
type OptimizeRequest struct {
	SessionID string
	Document  domain.Document
	Queries   []string
	Mode      optimizer.Mode
}

// Optimize chunks the document, gives every query to a chunk, measures the current
// scores and runs the pipeline.
func (s *Service) Optimize(ctx context.Context, req OptimizeRequest) (*optimizer.Result, error) {
	queries := dedupe(req.Queries)
	if len(queries) == 0 {
		return nil, apperr.New(apperr.KindInvalidInput, "optimize", "at least one target query is required")
	}
	chunks, err := s.chunker.Chunk(req.Document)
	if err != nil {
		return nil, fmt.Errorf("chunk document: %w", err)
	}
	if len(chunks) == 0 {
		return nil, apperr.New(apperr.KindInvalidInput, "optimize", "document produced no chunks")
	}

	assignment, err := s.assigner.Assign(ctx, chunks, queries)
	if err != nil {
		return nil, fmt.Errorf("assign queries: %w", err)
	}
	s.logger.Info("queries assigned",
		zap.Int("chunks", len(chunks)),
		zap.Int("assigned_chunks", len(assignment.ChunkQueries)),
		zap.Strings("unassigned", assignment.Unassigned))

	return s.optimizer.Optimize(ctx, optimizer.Request{
		SessionID:     req.SessionID,
		Content:       req.Document.Content,
		Chunks:        chunks,
		Queries:       queries,
		CurrentScores: s.currentScores(ctx, req.Document, chunks, queries),
		Mode:          req.Mode,
		Assignment:    assignment,
	})
}

// currentScores gives the analysis stage each chunk's cosine against each query on a
// 0-100 scale. It is context only, so a failure leaves it empty.
func (s *Service) currentScores(ctx context.Context, doc domain.Document, chunks []domain.Chunk, queries []string) map[string]map[string]float64 {
	if s.analyzer == nil {
		return nil
	}
	res, err := s.analyzer.Run(ctx, analysis.Request{Content: doc.Content, Keywords: queries, Chunker: s.chunker})
	if err != nil {
		s.logger.Warn("current scores unavailable", zap.Error(err))
		return nil
	}
	out := make(map[string]map[string]float64, len(chunks))
	for _, cs := range res.Chunks {
		if cs.Index < 0 || cs.Index >= len(chunks) {
			continue
		}
		row := make(map[string]float64, len(queries))
		for q, sc := range cs.Scores {
			row[q] = math.Round(sc.Cosine*1000) / 10
		}
		out[chunks[cs.Index].ChunkID] = row
	}
	return out
}

// State returns the pipeline state of a session.
func (s *Service) State(sessionID string) optimizer.State {
	return s.optimizer.State(sessionID)
}

// Reset returns a finished session to idle.
func (s *Service) Reset(sessionID string) error {
	return s.optimizer.Reset(sessionID)
}

func dedupe(queries []string) []string {
	seen := make(map[string]bool, len(queries))
	out := make([]string, 0, len(queries))
	for _, q := range queries {
		q = strings.TrimSpace(q)
		if q == "" || seen[q] {
			continue
		}
		seen[q] = true
		out = append(out, q)
	}
	return out
}

func hashString(s string) string {
	h := sha1.Sum([]byte(s))
	return hex.EncodeToString(h[:8])
}
