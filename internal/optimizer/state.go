package optimizer

import (
	"fmt"
	"slices"

	"github.com/web-shredder/chunk-daddy-sub002/internal/apperr"
)

// Step is a node of the pipeline state machine.
type Step string

const (
	StepIdle             Step = "idle"
	StepAnalyzing        Step = "analyzing"
	StepOptimizing       Step = "optimizing"
	StepGeneratingBriefs Step = "generating_briefs"
	StepScoring          Step = "scoring"
	StepExplaining       Step = "explaining"
	StepComplete         Step = "complete"
	StepError            Step = "error"
)

func (s Step) String() string { return string(s) }

// Terminal reports whether a run has ended in s.
func (s Step) Terminal() bool { return s == StepComplete || s == StepError }

// forward lists the legal successors of each step. Any step may also move to error.
var forward = map[Step][]Step{
	StepIdle:             {StepAnalyzing},
	StepAnalyzing:        {StepOptimizing},
	StepOptimizing:       {StepGeneratingBriefs, StepScoring},
	StepGeneratingBriefs: {StepScoring},
	StepScoring:          {StepExplaining},
	StepExplaining:       {StepComplete},
	StepComplete:         {StepIdle},
	StepError:            {StepIdle},
}

// CanTransition reports whether the machine may move from one step to another.
func CanTransition(from, to Step) bool {
	if to == StepError {
		return from != StepError
	}
	return slices.Contains(forward[from], to)
}

// Progress checkpoints. Progress never decreases within a run.
const (
	progressAnalyzing   = 10
	progressOptimizing  = 25
	progressBriefs      = 45
	progressScoring     = 55
	progressScored      = 70
	progressExplaining  = 85
	progressSummarizing = 95
	progressComplete    = 100
)

// State is the snapshot of one session's pipeline. Only the orchestrator writes it.
type State struct {
	Step      Step        `json:"step"`
	Progress  int         `json:"progress"`
	Error     string      `json:"error,omitempty"`
	ErrorKind apperr.Kind `json:"error_kind,omitempty"`
	Result    *Result     `json:"result,omitempty"`
}

// transitionError is returned when code attempts an illegal move.
type transitionError struct {
	from, to Step
}

func (e *transitionError) Error() string {
	return fmt.Sprintf("invalid pipeline transition %s -> %s", e.from, e.to)
}
