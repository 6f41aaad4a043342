package optimizer

import (
	"time"

	"github.com/web-shredder/chunk-daddy-sub002/internal/scoring"
)

// Mode selects how the rewrite stage works.
type Mode string

const (
	// ModeFocused rewrites each chunk against only the queries assigned to it.
	ModeFocused Mode = "focused"
	// ModeGlobal rewrites the whole content against every query in one request.
	ModeGlobal Mode = "global"
)

// TopicSegment groups chunks that cover one topic.
type TopicSegment struct {
	Topic        string `json:"topic" validate:"required"`
	ChunkNumbers []int  `json:"chunk_numbers"`
	Summary      string `json:"summary"`
}

// Opportunity is a ranked improvement suggested by the analysis stage.
type Opportunity struct {
	ChunkNumber    int    `json:"chunk_number"`
	Query          string `json:"query"`
	Issue          string `json:"issue" validate:"required"`
	Recommendation string `json:"recommendation"`
	Priority       string `json:"priority" validate:"required"`
}

// ContentAnalysis is the structured output of the analysis stage.
type ContentAnalysis struct {
	Segments      []TopicSegment `json:"topic_segments" validate:"dive"`
	Opportunities []Opportunity  `json:"opportunities" validate:"dive"`
}

// ChangeApplied is one atomic edit the provider claims it made.
type ChangeApplied struct {
	ChangeType          string `json:"change_type" validate:"required"`
	Before              string `json:"before"`
	After               string `json:"after"`
	Reason              string `json:"reason"`
	ExpectedImprovement string `json:"expected_improvement"`
}

// OptimizedChunk is a proposed rewrite of one chunk body. ChunkNumber is 1-based.
type OptimizedChunk struct {
	ChunkNumber   int             `json:"chunk_number" validate:"gte=1"`
	OptimizedText string          `json:"optimized_text" validate:"required"`
	Changes       []ChangeApplied `json:"changes_applied" validate:"dive"`
}

// ScorePair holds the original and optimized scores of one (chunk, query) cell.
type ScorePair struct {
	Original    scoring.QueryScore  `json:"original"`
	Optimized   scoring.QueryScore  `json:"optimized"`
	Improvement scoring.Improvement `json:"improvement"`
}

// ValidatedChange is a claimed change with the score delta measured for the query it
// is about.
type ValidatedChange struct {
	ChangeID string `json:"change_id"`
	ChangeApplied
	TargetQuery   string  `json:"target_query"`
	ScoreBefore   float64 `json:"score_before"`
	ScoreAfter    float64 `json:"score_after"`
	ActualDelta   float64 `json:"actual_delta"`
	ActualPercent float64 `json:"actual_percent"`
}

// ValidatedChunk is a rewrite decorated with measured scores.
type ValidatedChunk struct {
	ChunkID       string               `json:"chunk_id"`
	ChunkNumber   int                  `json:"chunk_number"`
	Headings      []string             `json:"headings,omitempty"`
	OriginalText  string               `json:"original_text"`
	OptimizedText string               `json:"optimized_text"`
	TargetQueries []string             `json:"target_queries"`
	Changes       []ValidatedChange    `json:"changes"`
	ActualScores  map[string]ScorePair `json:"actual_scores"`
}

// ContentBrief proposes new content for a query no chunk covers.
type ContentBrief struct {
	Query            string   `json:"query" validate:"required"`
	SuggestedHeading string   `json:"suggested_heading" validate:"required"`
	Placement        string   `json:"placement"`
	KeyPoints        []string `json:"key_points" validate:"min=1"`
	TargetWordCount  int      `json:"target_word_count"`
	Rationale        string   `json:"rationale"`
}

// Explanation describes one validated change for a reader.
type Explanation struct {
	ChangeID    string `json:"change_id" validate:"required"`
	Title       string `json:"title"`
	Explanation string `json:"explanation" validate:"required"`
	Impact      string `json:"impact"`
}

// ChunkScoreData is the flat (chunk, query) score row the summary is computed from.
type ChunkScoreData struct {
	ChunkID     string              `json:"chunk_id"`
	ChunkNumber int                 `json:"chunk_number"`
	Query       string              `json:"query"`
	Original    scoring.QueryScore  `json:"original"`
	Optimized   scoring.QueryScore  `json:"optimized"`
	Improvement scoring.Improvement `json:"improvement"`
}

// SummarySource tells whether the narrative came from the provider or was computed.
type SummarySource string

const (
	SummaryAI       SummarySource = "ai"
	SummaryFallback SummarySource = "fallback"
)

// SummaryEntry is one (chunk, query) line of the summary.
type SummaryEntry struct {
	ChunkNumber    int     `json:"chunk_number"`
	Query          string  `json:"query"`
	OriginalScore  float64 `json:"original_score"`
	OptimizedScore float64 `json:"optimized_score"`
	PercentChange  float64 `json:"percent_change"`
	Explanation    string  `json:"explanation"`
}

// Summary has the same shape whichever path produced it.
type Summary struct {
	OriginalAverage        float64        `json:"original_average"`
	OptimizedAverage       float64        `json:"optimized_average"`
	OverallPercentChange   float64        `json:"overall_percent_change"`
	Entries                []SummaryEntry `json:"entries"`
	FurtherSuggestions     []string       `json:"further_suggestions"`
	TradeOffConsiderations []string       `json:"trade_off_considerations"`
	Source                 SummarySource  `json:"source"`
}

// Result is everything one completed run produced. It is not modified after the run
// reaches complete.
type Result struct {
	RunID            string           `json:"run_id"`
	SessionID        string           `json:"session_id"`
	Mode             Mode             `json:"mode"`
	Analysis         ContentAnalysis  `json:"analysis"`
	Chunks           []ValidatedChunk `json:"chunks"`
	Briefs           []ContentBrief   `json:"briefs,omitempty"`
	DroppedBriefs    []string         `json:"dropped_briefs,omitempty"`
	Scores           []ChunkScoreData `json:"scores"`
	OriginalChamfer  float64          `json:"original_chamfer"`
	OptimizedChamfer float64          `json:"optimized_chamfer"`
	Explanations     []Explanation    `json:"explanations"`
	Summary          Summary          `json:"summary"`
	StartedAt        time.Time        `json:"started_at"`
	FinishedAt       time.Time        `json:"finished_at"`
}
