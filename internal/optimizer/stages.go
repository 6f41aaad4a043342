package optimizer

import (
	"cmp"
	"context"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/web-shredder/chunk-daddy-sub002/internal/apperr"
	"github.com/web-shredder/chunk-daddy-sub002/internal/batch"
	"github.com/web-shredder/chunk-daddy-sub002/internal/domain"
	"github.com/web-shredder/chunk-daddy-sub002/internal/embedding"
	"github.com/web-shredder/chunk-daddy-sub002/internal/llm"
	"github.com/web-shredder/chunk-daddy-sub002/internal/scoring"
	"github.com/web-shredder/chunk-daddy-sub002/internal/similarity"
)

// rewrite is a provider rewrite of one chunk before it is scored.
type rewrite struct {
	position int
	chunk    domain.Chunk
	queries  []string
	text     string
	changes  []ChangeApplied
}

// generate calls the provider, retrying rate limits, and decodes into out.
func (o *Orchestrator) generate(ctx context.Context, req llm.Request, out any) error {
	var raw []byte
	err := batch.Retry(ctx, o.cfg.MaxRetries, func(ctx context.Context) error {
		r, err := o.generator.Generate(ctx, req)
		raw = r
		return apperr.Classify(req.Tool.Name, err)
	})
	if err != nil {
		return err
	}
	return llm.Decode(raw, out)
}

var priorityRank = map[string]int{"high": 0, "medium": 1, "low": 2}

func (o *Orchestrator) analyze(ctx context.Context, req Request) (ContentAnalysis, error) {
	var a ContentAnalysis
	if err := o.generate(ctx, analyzePrompt(req), &a); err != nil {
		return ContentAnalysis{}, err
	}
	slices.SortStableFunc(a.Opportunities, func(x, y Opportunity) int {
		return cmp.Compare(rank(x.Priority), rank(y.Priority))
	})
	return a, nil
}

func rank(priority string) int {
	if r, ok := priorityRank[strings.ToLower(priority)]; ok {
		return r
	}
	return len(priorityRank)
}

// rewriteFocused rewrites each chunk that owns queries, one request per chunk.
func (o *Orchestrator) rewriteFocused(ctx context.Context, req Request, analysis ContentAnalysis) ([]rewrite, error) {
	var out []rewrite
	for i, c := range req.Chunks {
		queries := req.Assignment.QueriesFor(c.ChunkID)
		if len(queries) == 0 {
			continue
		}
		var p rewriteChunkPayload
		if err := o.generate(ctx, rewriteChunkPrompt(i+1, c, queries, analysis), &p); err != nil {
			return nil, err
		}
		out = append(out, rewrite{
			position: i,
			chunk:    c,
			queries:  queries,
			text:     stripHeadings(p.OptimizedText, c.Headings),
			changes:  p.Changes,
		})
	}
	if len(out) == 0 {
		return nil, apperr.New(apperr.KindInvalidInput, "optimizing", "no chunk has assigned queries; run global optimization instead")
	}
	return out, nil
}

// rewriteGlobal sends the whole content in one request and maps results by chunk number.
func (o *Orchestrator) rewriteGlobal(ctx context.Context, req Request, analysis ContentAnalysis) ([]rewrite, error) {
	var p rewriteContentPayload
	if err := o.generate(ctx, rewriteContentPrompt(req, analysis), &p); err != nil {
		return nil, err
	}
	seen := make(map[int]bool)
	var out []rewrite
	for _, oc := range p.Chunks {
		pos := oc.ChunkNumber - 1
		if pos < 0 || pos >= len(req.Chunks) || seen[pos] {
			o.logger.Warn("ignoring rewrite for unknown or repeated chunk", zap.Int("chunk_number", oc.ChunkNumber))
			continue
		}
		seen[pos] = true
		c := req.Chunks[pos]
		queries := req.Assignment.QueriesFor(c.ChunkID)
		if len(queries) == 0 {
			queries = req.Queries
		}
		out = append(out, rewrite{
			position: pos,
			chunk:    c,
			queries:  queries,
			text:     stripHeadings(oc.OptimizedText, c.Headings),
			changes:  oc.Changes,
		})
	}
	if len(out) == 0 {
		return nil, apperr.New(apperr.KindMalformed, "optimizing", "the AI response did not match any chunk")
	}
	slices.SortFunc(out, func(a, b rewrite) int { return cmp.Compare(a.position, b.position) })
	return out, nil
}

// stripHeadings drops heading lines the provider repeated at the top of a body.
func stripHeadings(text string, headings []string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	for len(lines) > 0 {
		first := strings.TrimSpace(lines[0])
		if first == "" {
			lines = lines[1:]
			continue
		}
		title := strings.TrimSpace(strings.TrimLeft(first, "#"))
		if !strings.HasPrefix(first, "#") || !slices.ContainsFunc(headings, func(h string) bool { return strings.EqualFold(h, title) }) {
			break
		}
		lines = lines[1:]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// generateBriefs asks for one brief per unassigned query in throttled batches. Failed
// items are dropped and reported by query. The error is set only when ctx ended the
// run early; the briefs produced before that are still returned.
func (o *Orchestrator) generateBriefs(ctx context.Context, req Request) ([]ContentBrief, []string, error) {
	queries := req.Assignment.Unassigned
	runner := batch.Runner{
		Size:    o.cfg.BriefBatchSize,
		Delay:   o.cfg.BriefBatchDelay,
		Retries: o.cfg.MaxRetries,
		Logger:  o.logger,
	}
	results, err := batch.Run(ctx, runner, queries, func(ctx context.Context, q string) (ContentBrief, error) {
		r, err := o.generator.Generate(ctx, briefPrompt(q, req.Chunks))
		if err != nil {
			return ContentBrief{}, apperr.Classify("brief", err)
		}
		var b ContentBrief
		if err := llm.Decode(r, &b); err != nil {
			return ContentBrief{}, err
		}
		if b.Query == "" {
			b.Query = q
		}
		return b, nil
	})
	if err != nil {
		o.logger.Warn("brief generation stopped early", zap.Error(err))
	}

	var dropped []string
	for _, res := range results {
		if res.Err != nil {
			dropped = append(dropped, queries[res.Index])
			o.metrics.BriefDropped()
			o.logger.Warn("dropping content brief",
				zap.String("query", queries[res.Index]),
				zap.String("kind", string(apperr.KindItemDropped)),
				zap.Error(res.Err))
		}
	}
	return batch.Values(results), dropped, err
}

// score embeds originals, rewrites and queries in one call and scores both versions
// of every rewritten chunk. Both versions of a chunk carry the same heading prefix.
// Blank or all-zero vectors are absent from the result and score as zero cells.
func (o *Orchestrator) score(ctx context.Context, req Request, rewrites []rewrite, res *Result) error {
	embReq := embedding.NewRequest()
	for _, c := range req.Chunks {
		embReq.Add(embedding.RoleOriginal, c.ChunkID, domain.WithPrefix(c.HeadingPrefix(), c.Text))
	}
	for _, rw := range rewrites {
		embReq.Add(embedding.RoleOptimized, rw.chunk.ChunkID, domain.WithPrefix(rw.chunk.HeadingPrefix(), rw.text))
	}
	for _, q := range req.Queries {
		embReq.Add(embedding.RoleQuery, q, q)
	}
	vecs, err := o.embedder.EmbedRequest(ctx, embReq)
	if err != nil {
		return err
	}

	ids := make([]string, len(req.Chunks))
	for i, c := range req.Chunks {
		ids[i] = c.ChunkID
	}
	originalSet, missing := vecs.Collect(embedding.RoleOriginal, ids)
	for _, id := range missing {
		o.logger.Warn("missing original chunk vector", zap.String("chunk", id), zap.String("kind", string(apperr.KindDataIntegrity)))
	}

	// the optimized document is every rewrite plus the chunks left unchanged
	rewritten := make(map[string]bool, len(rewrites))
	for _, rw := range rewrites {
		rewritten[rw.chunk.ChunkID] = true
	}
	var optimizedSet []domain.Vector
	for _, id := range ids {
		role := embedding.RoleOriginal
		if rewritten[id] {
			role = embedding.RoleOptimized
		}
		if v, ok := vecs.Get(role, id); ok {
			optimizedSet = append(optimizedSet, v)
		} else if role == embedding.RoleOptimized {
			o.logger.Warn("missing optimized chunk vector", zap.String("chunk", id), zap.String("kind", string(apperr.KindDataIntegrity)))
		}
	}
	// unusable vectors stay out of both sets so one bad text cannot void the document chamfer
	querySet, missingQueries := vecs.Collect(embedding.RoleQuery, req.Queries)
	for _, q := range missingQueries {
		o.logger.Warn("missing query vector", zap.String("query", q), zap.String("kind", string(apperr.KindDataIntegrity)))
	}

	res.OriginalChamfer = o.chamfer("original", originalSet, querySet)
	res.OptimizedChamfer = o.chamfer("optimized", optimizedSet, querySet)

	res.Chunks = make([]ValidatedChunk, 0, len(rewrites))
	res.Scores = nil
	for _, rw := range rewrites {
		id := rw.chunk.ChunkID
		vc := ValidatedChunk{
			ChunkID:       id,
			ChunkNumber:   rw.position + 1,
			Headings:      rw.chunk.Headings,
			OriginalText:  rw.chunk.Text,
			OptimizedText: rw.text,
			TargetQueries: rw.queries,
			ActualScores:  make(map[string]ScorePair, len(rw.queries)),
		}
		origVec, origOK := vecs.Get(embedding.RoleOriginal, id)
		optVec, optOK := vecs.Get(embedding.RoleOptimized, id)
		for _, q := range rw.queries {
			qv, qOK := vecs.Get(embedding.RoleQuery, q)
			orig := o.cell(origVec, origOK, qv, qOK, res.OriginalChamfer, id, q, "original")
			opt := o.cell(optVec, optOK, qv, qOK, res.OptimizedChamfer, id, q, "optimized")
			pair := ScorePair{
				Original:    orig,
				Optimized:   opt,
				Improvement: scoring.CalculateImprovement(orig.PassageScore, opt.PassageScore),
			}
			vc.ActualScores[q] = pair
			res.Scores = append(res.Scores, ChunkScoreData{
				ChunkID:     id,
				ChunkNumber: vc.ChunkNumber,
				Query:       q,
				Original:    orig,
				Optimized:   opt,
				Improvement: pair.Improvement,
			})
		}
		vc.Changes = validateChanges(vc.ChunkNumber, rw.changes, rw.queries, vc.ActualScores)
		res.Chunks = append(res.Chunks, vc)
	}
	return nil
}

func (o *Orchestrator) chamfer(version string, content, queries []domain.Vector) float64 {
	c, err := similarity.Chamfer(content, queries)
	if err != nil {
		o.logger.Warn("document chamfer failed, using zero", zap.String("version", version), zap.Error(err))
		return 0
	}
	return c
}

// cell scores one (chunk, query) pair. A missing vector scores zero and is logged.
func (o *Orchestrator) cell(content domain.Vector, contentOK bool, query domain.Vector, queryOK bool, docChamfer float64, chunkID, q, version string) scoring.QueryScore {
	zero := scoring.QueryScore{Chamfer: docChamfer, Tier: scoring.TierPoor}
	if !contentOK || !queryOK {
		o.metrics.ZeroCell()
		o.logger.Warn("missing embedding, scoring cell as zero",
			zap.String("chunk", chunkID), zap.String("query", q), zap.String("version", version),
			zap.String("kind", string(apperr.KindDataIntegrity)))
		return zero
	}
	cos, err := similarity.Cosine(content, query)
	if err != nil {
		o.metrics.ZeroCell()
		o.logger.Warn("cannot compare vectors, scoring cell as zero",
			zap.String("chunk", chunkID), zap.String("query", q), zap.String("version", version), zap.Error(err))
		return zero
	}
	return scoring.NewQueryScore(cos, docChamfer)
}

func (o *Orchestrator) explain(ctx context.Context, chunks []ValidatedChunk) ([]Explanation, error) {
	known := make(map[string]bool)
	for _, c := range chunks {
		for _, ch := range c.Changes {
			known[ch.ChangeID] = true
		}
	}
	if len(known) == 0 {
		return nil, nil
	}
	var p explainPayload
	if err := o.generate(ctx, explainPrompt(chunks), &p); err != nil {
		return nil, err
	}
	out := p.Explanations[:0]
	for _, e := range p.Explanations {
		if !known[e.ChangeID] {
			o.logger.Warn("dropping explanation for unknown change", zap.String("change_id", e.ChangeID))
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
