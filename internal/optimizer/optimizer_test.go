package optimizer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web-shredder/chunk-daddy-sub002/internal/apperr"
	"github.com/web-shredder/chunk-daddy-sub002/internal/assign"
	"github.com/web-shredder/chunk-daddy-sub002/internal/domain"
	"github.com/web-shredder/chunk-daddy-sub002/internal/embedding"
	"github.com/web-shredder/chunk-daddy-sub002/internal/llm"
	"github.com/web-shredder/chunk-daddy-sub002/internal/metrics"
	"github.com/web-shredder/chunk-daddy-sub002/internal/scoring"
)

// tableProvider returns fixed vectors by text and a neutral vector otherwise.
type tableProvider struct {
	vectors map[string]domain.Vector
	calls   atomic.Int32
}

func (p *tableProvider) Name() string { return "table" }

func (p *tableProvider) Embed(_ context.Context, texts []string) ([]domain.Vector, error) {
	p.calls.Add(1)
	out := make([]domain.Vector, len(texts))
	for i, t := range texts {
		// OpenAI-compatible endpoints refuse blank input for the whole call
		if strings.TrimSpace(t) == "" {
			return nil, apperr.FromStatus("embed", http.StatusBadRequest, errors.New("'$.input' is invalid"))
		}
		if v, ok := p.vectors[t]; ok {
			out[i] = v
		} else {
			out[i] = domain.Vector{0.5, 0.5}
		}
	}
	return out, nil
}

func newProvider() *tableProvider {
	return &tableProvider{vectors: map[string]domain.Vector{
		"q1":             {1, 0},
		"original body":  {0.6, 0.8},
		"optimized body": {0.8, 0.6},
	}}
}

// scripted answers each tool by name; a missing entry is an upstream failure.
type scripted struct {
	mu        sync.Mutex
	responses map[string]func(ctx context.Context, req llm.Request) (json.RawMessage, error)
	calls     map[string]int
}

func (s *scripted) Generate(ctx context.Context, req llm.Request) (json.RawMessage, error) {
	s.mu.Lock()
	if s.calls == nil {
		s.calls = make(map[string]int)
	}
	s.calls[req.Tool.Name]++
	fn, ok := s.responses[req.Tool.Name]
	s.mu.Unlock()
	if !ok {
		return nil, errors.New("no response scripted for " + req.Tool.Name)
	}
	return fn(ctx, req)
}

func (s *scripted) count(tool string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[tool]
}

func fixed(body string) func(context.Context, llm.Request) (json.RawMessage, error) {
	return func(context.Context, llm.Request) (json.RawMessage, error) {
		return json.RawMessage(body), nil
	}
}

func happyScript() *scripted {
	return &scripted{responses: map[string]func(context.Context, llm.Request) (json.RawMessage, error){
		analyzeTool.Name: fixed(`{"topic_segments":[{"topic":"basics","chunk_numbers":[1]}],
			"opportunities":[{"chunk_number":1,"issue":"wordy","priority":"low"},
			{"chunk_number":1,"issue":"misses the query","priority":"high"}]}`),
		rewriteChunkTool.Name: fixed(`{"optimized_text":"optimized body","changes_applied":[
			{"change_type":"clarified","before":"original","after":"optimized","reason":"direct","expected_improvement":"answers Q1 directly"}]}`),
		explainTool.Name: fixed(`{"explanations":[{"change_id":"c1-1","explanation":"made it direct"},
			{"change_id":"c9-9","explanation":"not a real change"}]}`),
	}}
}

func baseRequest() Request {
	return Request{
		SessionID: "s1",
		Content:   "original body",
		Chunks:    []domain.Chunk{domain.NewChunk("doc", "doc:0", 0, "original body", nil)},
		Queries:   []string{"q1"},
		Mode:      ModeFocused,
		Assignment: assign.Assignment{
			ChunkQueries: map[string][]string{"doc:0": {"q1"}},
		},
	}
}

func newOrchestrator(gen llm.Generator, p embedding.Provider, cfg Config, opts ...Option) *Orchestrator {
	return New(gen, embedding.NewBatchClient(p), cfg, opts...)
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func stageOutcome(t *testing.T, reg *prometheus.Registry, stage, outcome string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "chunkdaddy_stage_outcomes_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := make(map[string]string)
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["stage"] == stage && labels["outcome"] == outcome {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestOptimizeFocusedWithSummaryFallback(t *testing.T) {
	gen := happyScript()
	provider := newProvider()
	reg := prometheus.NewRegistry()

	var (
		mu     sync.Mutex
		states []State
	)
	o := newOrchestrator(gen, provider, Config{}, WithMetrics(metrics.New(reg)),
		WithObserver(func(_ string, s State) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		}))

	res, err := o.Optimize(context.Background(), baseRequest())
	require.NoError(t, err)
	require.NotNil(t, res)

	// analysis is ranked high first
	require.Len(t, res.Analysis.Opportunities, 2)
	assert.Equal(t, "high", res.Analysis.Opportunities[0].Priority)

	assert.InDelta(t, 0.6, res.OriginalChamfer, 1e-9)
	assert.InDelta(t, 0.8, res.OptimizedChamfer, 1e-9)

	require.Len(t, res.Chunks, 1)
	chunk := res.Chunks[0]
	assert.Equal(t, "optimized body", chunk.OptimizedText)
	pair := chunk.ActualScores["q1"]
	assert.InDelta(t, 60, pair.Original.PassageScore, 1e-9)
	assert.InDelta(t, 80, pair.Optimized.PassageScore, 1e-9)
	assert.Equal(t, scoring.TierModerate, pair.Original.Tier)
	assert.Equal(t, scoring.TierGood, pair.Optimized.Tier)

	require.Len(t, chunk.Changes, 1)
	change := chunk.Changes[0]
	assert.Equal(t, "c1-1", change.ChangeID)
	assert.Equal(t, "q1", change.TargetQuery)
	assert.InDelta(t, 20, change.ActualDelta, 1e-9)
	assert.InDelta(t, 33.333, change.ActualPercent, 1e-3)

	require.Len(t, res.Explanations, 1)
	assert.Equal(t, "c1-1", res.Explanations[0].ChangeID)

	assert.Equal(t, SummaryFallback, res.Summary.Source)
	assert.InDelta(t, 60, res.Summary.OriginalAverage, 1e-9)
	assert.InDelta(t, 80, res.Summary.OptimizedAverage, 1e-9)
	assert.InDelta(t, 33.333, res.Summary.OverallPercentChange, 1e-3)
	require.Len(t, res.Summary.Entries, 1)
	assert.Contains(t, res.Summary.Entries[0].Explanation, "rose")
	assert.Equal(t, 1.0, counterValue(t, reg, "chunkdaddy_summary_fallbacks_total"))

	// one embedding call covers originals, rewrites and queries
	assert.Equal(t, int32(1), provider.calls.Load())

	st := o.State("s1")
	assert.Equal(t, StepComplete, st.Step)
	assert.Equal(t, 100, st.Progress)
	assert.Same(t, res, st.Result)

	mu.Lock()
	defer mu.Unlock()
	var steps []Step
	for i, s := range states {
		if i > 0 {
			assert.GreaterOrEqual(t, s.Progress, states[i-1].Progress, "progress went backwards at %d", i)
		}
		if len(steps) == 0 || steps[len(steps)-1] != s.Step {
			steps = append(steps, s.Step)
		}
	}
	assert.Equal(t, []Step{StepAnalyzing, StepOptimizing, StepScoring, StepExplaining, StepComplete}, steps)
}

func TestOptimizeSummaryFromProvider(t *testing.T) {
	gen := happyScript()
	gen.responses[summaryTool.Name] = fixed(`{"entries":[{"chunk_number":1,"query":"q1","explanation":"clearer answer"}],
		"further_suggestions":["add examples"],"trade_off_considerations":[]}`)

	res, err := newOrchestrator(gen, newProvider(), Config{}).Optimize(context.Background(), baseRequest())
	require.NoError(t, err)

	assert.Equal(t, SummaryAI, res.Summary.Source)
	assert.InDelta(t, 33.333, res.Summary.OverallPercentChange, 1e-3)
	require.Len(t, res.Summary.Entries, 1)
	assert.Equal(t, "clearer answer", res.Summary.Entries[0].Explanation)
	assert.InDelta(t, 80, res.Summary.Entries[0].OptimizedScore, 1e-9)
	assert.Equal(t, []string{"add examples"}, res.Summary.FurtherSuggestions)
}

func TestOptimizeAnalysisFailureEntersError(t *testing.T) {
	gen := &scripted{responses: map[string]func(context.Context, llm.Request) (json.RawMessage, error){
		analyzeTool.Name: func(context.Context, llm.Request) (json.RawMessage, error) {
			return nil, &openai.APIError{HTTPStatusCode: http.StatusPaymentRequired, Message: "no credits"}
		},
	}}
	o := newOrchestrator(gen, newProvider(), Config{MaxRetries: 2})

	res, err := o.Optimize(context.Background(), baseRequest())
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Equal(t, apperr.KindStageFailed, apperr.KindOf(err))
	assert.True(t, apperr.Is(err, apperr.KindQuotaExhausted))

	st := o.State("s1")
	assert.Equal(t, StepError, st.Step)
	assert.Equal(t, apperr.KindQuotaExhausted, st.ErrorKind)
	assert.True(t, strings.HasPrefix(st.Error, "Analysis failed:"), st.Error)
	assert.Nil(t, st.Result)
	// quota errors are not retried
	assert.Equal(t, 1, gen.count(analyzeTool.Name))
	assert.Equal(t, 0, gen.count(rewriteChunkTool.Name))
}

func TestOptimizeRetriesRateLimit(t *testing.T) {
	gen := happyScript()
	var attempts atomic.Int32
	ok := gen.responses[analyzeTool.Name]
	gen.responses[analyzeTool.Name] = func(ctx context.Context, req llm.Request) (json.RawMessage, error) {
		if attempts.Add(1) == 1 {
			return nil, &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests}
		}
		return ok(ctx, req)
	}

	res, err := newOrchestrator(gen, newProvider(), Config{MaxRetries: 1}).Optimize(context.Background(), baseRequest())
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestOptimizeStageTimeout(t *testing.T) {
	gen := &scripted{responses: map[string]func(context.Context, llm.Request) (json.RawMessage, error){
		analyzeTool.Name: func(ctx context.Context, _ llm.Request) (json.RawMessage, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}}
	o := newOrchestrator(gen, newProvider(), Config{StageTimeout: 30 * time.Millisecond})

	_, err := o.Optimize(context.Background(), baseRequest())
	require.Error(t, err)
	st := o.State("s1")
	assert.Equal(t, StepError, st.Step)
	assert.Equal(t, apperr.KindTimeout, st.ErrorKind)
}

func TestOptimizeExplainFailureIsFatal(t *testing.T) {
	gen := happyScript()
	delete(gen.responses, explainTool.Name)
	o := newOrchestrator(gen, newProvider(), Config{})

	res, err := o.Optimize(context.Background(), baseRequest())
	require.Error(t, err)
	assert.Nil(t, res)
	st := o.State("s1")
	assert.Equal(t, StepError, st.Step)
	assert.True(t, strings.HasPrefix(st.Error, "Explanation failed:"), st.Error)
}

func TestOptimizeDropsFailedBriefs(t *testing.T) {
	gen := happyScript()
	gen.responses[briefTool.Name] = func(_ context.Context, req llm.Request) (json.RawMessage, error) {
		if strings.Contains(req.User, "broken query") {
			return nil, errors.New("provider hiccup")
		}
		return json.RawMessage(`{"query":"new topic","suggested_heading":"New Topic","key_points":["what it is"]}`), nil
	}
	req := baseRequest()
	req.Queries = append(req.Queries, "new topic", "broken query")
	req.Assignment.Unassigned = []string{"new topic", "broken query"}

	res, err := newOrchestrator(gen, newProvider(), Config{BriefBatchSize: 1}).Optimize(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Briefs, 1)
	assert.Equal(t, "New Topic", res.Briefs[0].SuggestedHeading)
	assert.Equal(t, []string{"broken query"}, res.DroppedBriefs)
	assert.Contains(t, strings.Join(res.Summary.FurtherSuggestions, "\n"), "New Topic")
}

func TestOptimizeGlobalIgnoresUnknownChunks(t *testing.T) {
	gen := happyScript()
	gen.responses[rewriteContentTool.Name] = fixed(`{"optimized_chunks":[
		{"chunk_number":1,"optimized_text":"optimized body","changes_applied":[]},
		{"chunk_number":7,"optimized_text":"nowhere","changes_applied":[]}]}`)
	req := baseRequest()
	req.Mode = ModeGlobal
	req.Assignment = assign.Assignment{}

	res, err := newOrchestrator(gen, newProvider(), Config{}).Optimize(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Chunks, 1)
	assert.Equal(t, []string{"q1"}, res.Chunks[0].TargetQueries)
	assert.Empty(t, res.Explanations)
	// nothing to explain, so the provider is never asked
	assert.Equal(t, 0, gen.count(explainTool.Name))
}

func TestOptimizeMissingVectorScoresZero(t *testing.T) {
	provider := newProvider()
	provider.vectors["optimized body"] = domain.Vector{}

	res, err := newOrchestrator(happyScript(), provider, Config{}).Optimize(context.Background(), baseRequest())
	require.NoError(t, err)
	pair := res.Chunks[0].ActualScores["q1"]
	assert.Zero(t, pair.Optimized.PassageScore)
	assert.Equal(t, scoring.TierPoor, pair.Optimized.Tier)
	assert.InDelta(t, 60, pair.Original.PassageScore, 1e-9)
}

func TestOptimizeZeroQueryVectorKeepsChamfer(t *testing.T) {
	provider := newProvider()
	provider.vectors["how to do it"] = domain.Vector{0, 0}
	req := baseRequest()
	req.Queries = []string{"q1", "how to do it"}

	res, err := newOrchestrator(happyScript(), provider, Config{}).Optimize(context.Background(), req)
	require.NoError(t, err)
	assert.InDelta(t, 0.6, res.OriginalChamfer, 1e-9)
	assert.InDelta(t, 0.8, res.OptimizedChamfer, 1e-9)

	pair := res.Chunks[0].ActualScores["q1"]
	assert.InDelta(t, 60, pair.Original.PassageScore, 1e-9)
	assert.InDelta(t, 80, pair.Optimized.PassageScore, 1e-9)
}

func TestOptimizeZeroChunkVectorScoresOnlyItsCells(t *testing.T) {
	provider := newProvider()
	provider.vectors["optimized body"] = domain.Vector{0, 0}
	reg := prometheus.NewRegistry()

	res, err := newOrchestrator(happyScript(), provider, Config{}, WithMetrics(metrics.New(reg))).
		Optimize(context.Background(), baseRequest())
	require.NoError(t, err)
	assert.InDelta(t, 0.6, res.OriginalChamfer, 1e-9)
	assert.Zero(t, res.OptimizedChamfer)

	pair := res.Chunks[0].ActualScores["q1"]
	assert.InDelta(t, 60, pair.Original.PassageScore, 1e-9)
	assert.Zero(t, pair.Optimized.PassageScore)
	assert.Equal(t, 1.0, counterValue(t, reg, "chunkdaddy_zero_score_cells_total"))
}

func TestOptimizeBlankRewriteIsZeroCell(t *testing.T) {
	gen := happyScript()
	gen.responses[rewriteChunkTool.Name] = fixed(`{"optimized_text":"   ","changes_applied":[]}`)

	o := newOrchestrator(gen, newProvider(), Config{})
	res, err := o.Optimize(context.Background(), baseRequest())
	require.NoError(t, err)
	assert.Equal(t, StepComplete, o.State("s1").Step)

	require.Len(t, res.Chunks, 1)
	assert.Empty(t, res.Chunks[0].OptimizedText)
	pair := res.Chunks[0].ActualScores["q1"]
	assert.InDelta(t, 60, pair.Original.PassageScore, 1e-9)
	assert.Zero(t, pair.Optimized.PassageScore)
	assert.Equal(t, scoring.TierPoor, pair.Optimized.Tier)
}

func TestOptimizeBriefDeadlineKeepsPartialBriefs(t *testing.T) {
	gen := happyScript()
	gen.responses[briefTool.Name] = func(_ context.Context, req llm.Request) (json.RawMessage, error) {
		return json.RawMessage(`{"query":"first topic","suggested_heading":"First Topic","key_points":["basics"]}`), nil
	}
	req := baseRequest()
	req.Queries = append(req.Queries, "first topic", "second topic")
	req.Assignment.Unassigned = []string{"first topic", "second topic"}
	reg := prometheus.NewRegistry()

	cfg := Config{BriefBatchSize: 1, BriefBatchDelay: time.Minute, StageTimeout: 200 * time.Millisecond}
	o := newOrchestrator(gen, newProvider(), cfg, WithMetrics(metrics.New(reg)))
	res, err := o.Optimize(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, res.Briefs, 1)
	assert.Equal(t, "First Topic", res.Briefs[0].SuggestedHeading)
	assert.Equal(t, []string{"second topic"}, res.DroppedBriefs)
	assert.Equal(t, 1.0, stageOutcome(t, reg, "generating_briefs", string(apperr.KindTimeout)))
	assert.Zero(t, stageOutcome(t, reg, "generating_briefs", "ok"))
	assert.Equal(t, StepComplete, o.State("s1").Step)
}

func TestOptimizeSingleFlightPerSession(t *testing.T) {
	gen := happyScript()
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	ok := gen.responses[analyzeTool.Name]
	gen.responses[analyzeTool.Name] = func(ctx context.Context, req llm.Request) (json.RawMessage, error) {
		entered <- struct{}{}
		<-release
		return ok(ctx, req)
	}
	o := newOrchestrator(gen, newProvider(), Config{})

	var wg sync.WaitGroup
	results := make([]*Result, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], _ = o.Optimize(context.Background(), baseRequest())
	}()
	<-entered
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1], _ = o.Optimize(context.Background(), baseRequest())
	}()
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, 1, gen.count(analyzeTool.Name))
	require.NotNil(t, results[0])
	assert.Same(t, results[0], results[1])
}

func TestOptimizeRejectsInvalidRequest(t *testing.T) {
	o := newOrchestrator(happyScript(), newProvider(), Config{})
	req := baseRequest()
	req.Queries = nil

	_, err := o.Optimize(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, apperr.KindInvalidInput, o.State("s1").ErrorKind)
}

func TestResetAndRerun(t *testing.T) {
	o := newOrchestrator(happyScript(), newProvider(), Config{})
	_, err := o.Optimize(context.Background(), baseRequest())
	require.NoError(t, err)

	require.NoError(t, o.Reset("s1"))
	st := o.State("s1")
	assert.Equal(t, StepIdle, st.Step)
	assert.Zero(t, st.Progress)
	assert.Error(t, o.Reset("s1"), "idle cannot move to idle")

	// a finished session may start again without an explicit reset
	_, err = o.Optimize(context.Background(), baseRequest())
	require.NoError(t, err)
	_, err = o.Optimize(context.Background(), baseRequest())
	require.NoError(t, err)
	assert.Equal(t, StepComplete, o.State("s1").Step)
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Step
		want     bool
	}{
		{StepIdle, StepAnalyzing, true},
		{StepIdle, StepScoring, false},
		{StepOptimizing, StepGeneratingBriefs, true},
		{StepOptimizing, StepScoring, true},
		{StepGeneratingBriefs, StepScoring, true},
		{StepScoring, StepOptimizing, false},
		{StepExplaining, StepComplete, true},
		{StepComplete, StepIdle, true},
		{StepError, StepIdle, true},
		{StepScoring, StepError, true},
		{StepIdle, StepError, true},
		{StepError, StepError, false},
		{StepComplete, StepAnalyzing, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestValidateChangesPicksMentionedQuery(t *testing.T) {
	scores := map[string]ScorePair{
		"solar panels": {Original: scoring.QueryScore{PassageScore: 40}, Optimized: scoring.QueryScore{PassageScore: 50},
			Improvement: scoring.CalculateImprovement(40, 50)},
		"battery life": {Original: scoring.QueryScore{PassageScore: 70}, Optimized: scoring.QueryScore{PassageScore: 63},
			Improvement: scoring.CalculateImprovement(70, 63)},
	}
	queries := []string{"solar panels", "battery life"}
	changes := []ChangeApplied{
		{ChangeType: "clarified", ExpectedImprovement: "Helps BATTERY LIFE queries"},
		{ChangeType: "added_context", ExpectedImprovement: "general readability"},
	}

	got := validateChanges(3, changes, queries, scores)
	require.Len(t, got, 2)
	assert.Equal(t, "c3-1", got[0].ChangeID)
	assert.Equal(t, "battery life", got[0].TargetQuery)
	assert.InDelta(t, -7, got[0].ActualDelta, 1e-9)
	assert.InDelta(t, -10, got[0].ActualPercent, 1e-9)
	assert.Equal(t, "c3-2", got[1].ChangeID)
	assert.Equal(t, "solar panels", got[1].TargetQuery)
	assert.InDelta(t, 25, got[1].ActualPercent, 1e-9)
}

func TestFallbackSummaryEmpty(t *testing.T) {
	s := fallbackSummary(nil, nil)
	assert.Zero(t, s.OriginalAverage)
	assert.Zero(t, s.OverallPercentChange)
	assert.Empty(t, s.Entries)
	assert.Equal(t, SummaryFallback, s.Source)
}

func TestFallbackSummaryTradeOffs(t *testing.T) {
	s := fallbackSummary([]ChunkScoreData{{
		ChunkNumber: 2, Query: "q",
		Original:    scoring.QueryScore{PassageScore: 70},
		Optimized:   scoring.QueryScore{PassageScore: 50},
		Improvement: scoring.CalculateImprovement(70, 50),
	}}, nil)
	require.Len(t, s.TradeOffConsiderations, 1)
	require.Len(t, s.FurtherSuggestions, 1)
	assert.Contains(t, s.Entries[0].Explanation, "fell")
}

func TestStripHeadings(t *testing.T) {
	assert.Equal(t, "Body text.", stripHeadings("## Setup\n\nBody text.", []string{"Guide", "setup"}))
	assert.Equal(t, "## Other\nBody.", stripHeadings("## Other\nBody.", []string{"Setup"}))
	assert.Equal(t, "Plain.", stripHeadings("  Plain.  ", nil))
}
