package tui

import (
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web-shredder/chunk-daddy-sub002/internal/optimizer"
	"github.com/web-shredder/chunk-daddy-sub002/internal/scoring"
)

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	out, ok := next.(Model)
	require.True(t, ok)
	return out
}

func sized() Model {
	m := New("guide.md", "Solar panels convert sunlight.")
	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	return next.(Model)
}

func TestViewBeforeSize(t *testing.T) {
	assert.Equal(t, "Loading...", New("x", "").View())
}

func TestStateMessagesUpdateProgress(t *testing.T) {
	m := sized()
	m = update(t, m, StateMsg{Step: optimizer.StepOptimizing, Progress: 25})
	assert.Equal(t, 25, m.state.Progress)
	assert.Contains(t, m.View(), "rewriting chunks")

	// a stale snapshot of the same step is ignored
	m = update(t, m, StateMsg{Step: optimizer.StepOptimizing, Progress: 10})
	assert.Equal(t, 25, m.state.Progress)
}

func TestDoneRendersResult(t *testing.T) {
	m := sized()
	res := &optimizer.Result{
		Chunks: []optimizer.ValidatedChunk{{
			ChunkNumber:   1,
			Headings:      []string{"Solar"},
			OptimizedText: "Panels are great. Solar panels convert sunlight.",
			TargetQueries: []string{"solar panels"},
			ActualScores: map[string]optimizer.ScorePair{"solar panels": {
				Original:    scoring.NewQueryScore(0.6, 0.6),
				Optimized:   scoring.NewQueryScore(0.8, 0.8),
				Improvement: scoring.CalculateImprovement(60, 80),
			}},
		}},
		Briefs:  []optimizer.ContentBrief{{Query: "wind", SuggestedHeading: "Wind power"}},
		Summary: optimizer.Summary{OriginalAverage: 60, OptimizedAverage: 80, OverallPercentChange: 33.3, Source: optimizer.SummaryFallback},
	}
	m = update(t, m, DoneMsg{Result: res})

	assert.True(t, m.done)
	content := m.renderResult()
	assert.Contains(t, content, "60.0 → 80.0")
	assert.Contains(t, content, "Chunk 1")
	assert.Contains(t, content, "Wind power")
	assert.Contains(t, m.View(), "complete")
}

func TestDoneWithError(t *testing.T) {
	m := sized()
	m = update(t, m, StateMsg{Step: optimizer.StepError, Error: "Analysis failed: quota"})
	m = update(t, m, DoneMsg{Err: errors.New("stage failed")})
	assert.Contains(t, m.View(), "Analysis failed: quota")
	assert.Contains(t, m.renderResult(), "No results")
}

func TestQuitKeys(t *testing.T) {
	_, cmd := sized().Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestHighlightBestSentence(t *testing.T) {
	out := highlightBestSentence("Cats nap. Solar panels shine.", "solar panels")
	assert.Contains(t, out, "Cats nap.")
	assert.Contains(t, out, "Solar panels shine.")
	assert.Equal(t, "Plain text", highlightBestSentence("Plain text", ""))
}
