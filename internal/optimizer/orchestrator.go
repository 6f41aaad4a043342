// Package optimizer runs the content optimization pipeline: analyze, rewrite, brief,
// re-score, explain and summarize, as a per-session state machine.
package optimizer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/web-shredder/chunk-daddy-sub002/internal/apperr"
	"github.com/web-shredder/chunk-daddy-sub002/internal/assign"
	"github.com/web-shredder/chunk-daddy-sub002/internal/domain"
	"github.com/web-shredder/chunk-daddy-sub002/internal/embedding"
	"github.com/web-shredder/chunk-daddy-sub002/internal/llm"
	"github.com/web-shredder/chunk-daddy-sub002/internal/logger"
	"github.com/web-shredder/chunk-daddy-sub002/internal/metrics"
)

// Config holds the pipeline knobs.
type Config struct {
	BriefBatchSize  int
	BriefBatchDelay time.Duration
	// StageTimeout bounds every stage separately.
	StageTimeout time.Duration
	MaxRetries   int
}

func (c Config) withDefaults() Config {
	if c.BriefBatchSize <= 0 {
		c.BriefBatchSize = 5
	}
	if c.BriefBatchDelay < 0 {
		c.BriefBatchDelay = 0
	}
	if c.StageTimeout <= 0 {
		c.StageTimeout = 2 * time.Minute
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	return c
}

// Request is one optimization run.
type Request struct {
	SessionID string
	Content   string
	Chunks    []domain.Chunk
	Queries   []string
	// CurrentScores is passed to the analysis stage as context: chunk id -> query -> passage score.
	CurrentScores map[string]map[string]float64
	Mode          Mode
	Assignment    assign.Assignment
}

// Observer receives a snapshot after every state write.
type Observer func(sessionID string, s State)

type session struct {
	mu    sync.RWMutex
	state State
}

// Orchestrator owns the pipeline state of every session.
type Orchestrator struct {
	generator llm.Generator
	embedder  *embedding.BatchClient
	cfg       Config
	logger    *zap.Logger
	metrics   *metrics.Metrics
	observer  Observer

	mu       sync.Mutex
	sessions map[string]*session
	flight   singleflight.Group
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger.OrNop(l) }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithObserver registers fn to receive state snapshots. It is called synchronously
// from the running pipeline and must not block.
func WithObserver(fn Observer) Option {
	return func(o *Orchestrator) { o.observer = fn }
}

func New(gen llm.Generator, emb *embedding.BatchClient, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		generator: gen,
		embedder:  emb,
		cfg:       cfg.withDefaults(),
		logger:    zap.NewNop(),
		sessions:  make(map[string]*session),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns a snapshot of the session's state. Unknown sessions are idle.
func (o *Orchestrator) State(sessionID string) State {
	s := o.session(sessionID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Reset moves a finished session back to idle.
func (o *Orchestrator) Reset(sessionID string) error {
	return o.transition(sessionID, StepIdle, nil)
}

// Optimize runs the pipeline for req. Only one run per session is ever in flight: a
// concurrent call for the same session waits for the running one and receives its
// outcome instead of starting a second run.
func (o *Orchestrator) Optimize(ctx context.Context, req Request) (*Result, error) {
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	v, err, shared := o.flight.Do(req.SessionID, func() (any, error) {
		return o.run(ctx, req)
	})
	if shared {
		o.logger.Debug("joined in-flight run", zap.String("session", req.SessionID))
	}
	res, _ := v.(*Result)
	return res, err
}

func (o *Orchestrator) run(ctx context.Context, req Request) (*Result, error) {
	if req.Mode == "" {
		req.Mode = ModeFocused
	}
	log := o.logger.With(zap.String("session", req.SessionID), zap.String("mode", string(req.Mode)))

	if cur := o.State(req.SessionID).Step; cur.Terminal() {
		if err := o.transition(req.SessionID, StepIdle, nil); err != nil {
			return nil, err
		}
	}
	if err := validateRequest(req); err != nil {
		return nil, o.fail(req.SessionID, req.Mode, "validate", err)
	}

	res := &Result{
		RunID:     uuid.NewString(),
		SessionID: req.SessionID,
		Mode:      req.Mode,
		StartedAt: time.Now(),
	}
	log = log.With(zap.String("run", res.RunID))
	log.Info("optimization started", zap.Int("chunks", len(req.Chunks)), zap.Int("queries", len(req.Queries)))

	// analyzing
	if err := o.enter(req.SessionID, StepAnalyzing, progressAnalyzing); err != nil {
		return nil, err
	}
	if err := o.stage(ctx, "analyzing", func(ctx context.Context) error {
		a, err := o.analyze(ctx, req)
		res.Analysis = a
		return err
	}); err != nil {
		return nil, o.fail(req.SessionID, req.Mode, "analysis", err)
	}

	// optimizing
	if err := o.enter(req.SessionID, StepOptimizing, progressOptimizing); err != nil {
		return nil, err
	}
	var rewrites []rewrite
	if err := o.stage(ctx, "optimizing", func(ctx context.Context) error {
		var err error
		if req.Mode == ModeGlobal {
			rewrites, err = o.rewriteGlobal(ctx, req, res.Analysis)
		} else {
			rewrites, err = o.rewriteFocused(ctx, req, res.Analysis)
		}
		return err
	}); err != nil {
		return nil, o.fail(req.SessionID, req.Mode, "optimization", err)
	}

	// generating_briefs, only for queries no chunk owns
	if req.Assignment.HasUnassigned() {
		if err := o.enter(req.SessionID, StepGeneratingBriefs, progressBriefs); err != nil {
			return nil, err
		}
		// a stage deadline keeps the briefs finished so far; the outcome is still recorded
		_ = o.stage(ctx, "generating_briefs", func(ctx context.Context) error {
			var err error
			res.Briefs, res.DroppedBriefs, err = o.generateBriefs(ctx, req)
			return err
		})
		if err := ctx.Err(); err != nil {
			return nil, o.fail(req.SessionID, req.Mode, "brief generation", apperr.Classify("generating_briefs", err))
		}
	}

	// scoring
	if err := o.enter(req.SessionID, StepScoring, progressScoring); err != nil {
		return nil, err
	}
	if err := o.stage(ctx, "scoring", func(ctx context.Context) error {
		return o.score(ctx, req, rewrites, res)
	}); err != nil {
		return nil, o.fail(req.SessionID, req.Mode, "scoring", err)
	}
	o.advance(req.SessionID, progressScored)

	// explaining
	if err := o.enter(req.SessionID, StepExplaining, progressExplaining); err != nil {
		return nil, err
	}
	if err := o.stage(ctx, "explaining", func(ctx context.Context) error {
		ex, err := o.explain(ctx, res.Chunks)
		res.Explanations = ex
		return err
	}); err != nil {
		return nil, o.fail(req.SessionID, req.Mode, "explanation", err)
	}

	// summarize never fails the run
	o.advance(req.SessionID, progressSummarizing)
	_ = o.stage(ctx, "summarizing", func(ctx context.Context) error {
		res.Summary = o.summarize(ctx, res, log)
		return nil
	})

	res.FinishedAt = time.Now()
	if err := o.transition(req.SessionID, StepComplete, func(s *State) {
		s.Progress = progressComplete
		s.Result = res
	}); err != nil {
		return nil, err
	}
	o.metrics.RunFinished(string(req.Mode), string(StepComplete))
	log.Info("optimization complete",
		zap.Int("rewritten", len(res.Chunks)),
		zap.Int("briefs", len(res.Briefs)),
		zap.Float64("overall_percent_change", res.Summary.OverallPercentChange),
		zap.String("summary_source", string(res.Summary.Source)))
	return res, nil
}

// stage runs fn under its own deadline and records its duration and outcome.
func (o *Orchestrator) stage(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	sctx, cancel := context.WithTimeout(ctx, o.cfg.StageTimeout)
	defer cancel()

	start := time.Now()
	err := fn(sctx)
	if err != nil && ctx.Err() == nil && errors.Is(sctx.Err(), context.DeadlineExceeded) {
		err = &apperr.Error{
			Kind:    apperr.KindTimeout,
			Op:      name,
			Message: fmt.Sprintf("%s did not finish within %s", name, o.cfg.StageTimeout),
			Err:     err,
		}
	}
	outcome := "ok"
	if err != nil {
		outcome = string(apperr.KindOf(apperr.Classify(name, err)))
	}
	o.metrics.ObserveStage(name, time.Since(start), outcome)
	return err
}

func (o *Orchestrator) session(id string) *session {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.sessions[id]
	if !ok {
		s = &session{state: State{Step: StepIdle}}
		o.sessions[id] = s
	}
	return s
}

// transition moves the session to step and applies mutate under the same lock.
func (o *Orchestrator) transition(sessionID string, to Step, mutate func(*State)) error {
	s := o.session(sessionID)
	s.mu.Lock()
	from := s.state.Step
	if !CanTransition(from, to) {
		s.mu.Unlock()
		return &transitionError{from: from, to: to}
	}
	s.state.Step = to
	switch to {
	case StepIdle:
		s.state.Progress = 0
		s.state.Error = ""
		s.state.ErrorKind = ""
	case StepError:
		s.state.Result = nil
	}
	if mutate != nil {
		mutate(&s.state)
	}
	snap := s.state
	s.mu.Unlock()

	o.notify(sessionID, snap)
	return nil
}

func (o *Orchestrator) enter(sessionID string, step Step, progress int) error {
	return o.transition(sessionID, step, func(s *State) {
		s.Progress = max(s.Progress, progress)
	})
}

// advance raises progress inside the current step.
func (o *Orchestrator) advance(sessionID string, progress int) {
	s := o.session(sessionID)
	s.mu.Lock()
	if progress <= s.state.Progress {
		s.mu.Unlock()
		return
	}
	s.state.Progress = progress
	snap := s.state
	s.mu.Unlock()
	o.notify(sessionID, snap)
}

func (o *Orchestrator) notify(sessionID string, snap State) {
	if o.observer != nil {
		o.observer(sessionID, snap)
	}
}

// fail moves the session into error with a human readable message and returns the
// tagged error for the caller.
func (o *Orchestrator) fail(sessionID string, mode Mode, what string, cause error) error {
	cause = apperr.Classify(what, cause)
	kind := rootKind(cause)
	msg := fmt.Sprintf("%s failed: %s", capitalize(what), apperr.UserMessage(cause))
	err := &apperr.Error{Kind: apperr.KindStageFailed, Op: what, Message: msg, Err: cause}

	o.logger.Error("optimization failed",
		zap.String("session", sessionID),
		zap.String("stage", what),
		zap.String("kind", string(kind)),
		zap.Error(cause))
	if terr := o.transition(sessionID, StepError, func(s *State) {
		s.Error = msg
		s.ErrorKind = kind
	}); terr != nil {
		o.logger.Error("cannot enter error state", zap.Error(terr))
	}
	o.metrics.RunFinished(string(mode), string(StepError))
	return err
}

func validateRequest(req Request) error {
	switch {
	case req.Mode != ModeFocused && req.Mode != ModeGlobal:
		return apperr.New(apperr.KindInvalidInput, "validate", fmt.Sprintf("unknown mode %q", req.Mode))
	case len(req.Chunks) == 0:
		return apperr.New(apperr.KindInvalidInput, "validate", "content has no chunks to optimize")
	case len(req.Queries) == 0:
		return apperr.New(apperr.KindInvalidInput, "validate", "at least one target query is required")
	}
	return nil
}

// rootKind is the innermost tagged kind, which names the actual cause.
func rootKind(err error) apperr.Kind {
	var kind apperr.Kind
	for err != nil {
		var e *apperr.Error
		if !errors.As(err, &e) {
			break
		}
		kind = e.Kind
		err = e.Err
	}
	return kind
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
