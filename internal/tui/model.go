package tui

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/web-shredder/chunk-daddy-sub002/internal/optimizer"
	"github.com/web-shredder/chunk-daddy-sub002/internal/scoring"
)

// StateMsg carries a pipeline state snapshot into the program.
type StateMsg optimizer.State

// DoneMsg ends the run. Err is set when the pipeline failed.
type DoneMsg struct {
	Result *optimizer.Result
	Err    error
}

// Model is the Bubble Tea model showing one optimization run. It only renders
// snapshots; it never drives the pipeline.
type Model struct {
	title    string
	synopsis string
	spinner  spinner.Model
	bar      progress.Model
	viewport viewport.Model
	state    optimizer.State
	result   *optimizer.Result
	err      error
	done     bool
	ready    bool
}

// New creates a progress view for the document named title.
func New(title, synopsis string) Model {
	sp := spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(accentStyle))
	bar := progress.New(progress.WithDefaultGradient(), progress.WithWidth(40))
	return Model{
		title:    title,
		synopsis: synopsis,
		spinner:  sp,
		bar:      bar,
		viewport: viewport.New(0, 0),
		state:    optimizer.State{Step: optimizer.StepIdle},
	}
}

// Init starts the spinner.
func (m Model) Init() tea.Cmd { return m.spinner.Tick }

// Update handles pipeline snapshots, key and window events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, fh := resultBoxStyle.GetFrameSize()
		m.viewport.Width = max(20, msg.Width-4)
		m.viewport.Height = max(3, msg.Height-headerLines-fh)
		m.bar.Width = min(60, max(10, msg.Width-20))
		m.viewport.SetContent(m.renderResult())
		return m, nil
	case StateMsg:
		st := optimizer.State(msg)
		// snapshots may arrive out of order from the observer goroutine
		if st.Step == m.state.Step && st.Progress < m.state.Progress {
			return m, nil
		}
		m.state = st
		return m, nil
	case DoneMsg:
		m.done = true
		m.result, m.err = msg.Result, msg.Err
		if msg.Result != nil {
			m.state.Step, m.state.Progress = optimizer.StepComplete, 100
		}
		m.viewport.SetContent(m.renderResult())
		return m, nil
	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "ctrl+d", "q", "esc":
			return m, tea.Quit
		}
	}
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

const headerLines = 5

// View renders the header, the progress line and, once finished, the results.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := titleStyle.Render("chunkdaddy · " + m.title)
	synopsis := mutedStyle.Render(truncate(m.synopsis, m.viewport.Width))
	status := m.statusLine()
	body := resultBoxStyle.Render(m.viewport.View())
	help := mutedStyle.Render("↑/↓ scroll · q quit")
	return strings.Join([]string{header, synopsis, status, body, help}, "\n")
}

func (m Model) statusLine() string {
	switch {
	case m.err != nil || m.state.Step == optimizer.StepError:
		msg := m.state.Error
		if msg == "" && m.err != nil {
			msg = m.err.Error()
		}
		return errorStyle.Render("✗ " + msg)
	case m.done:
		return accentStyle.Render("✓ complete ") + m.bar.ViewAs(1)
	}
	return fmt.Sprintf("%s %-18s %s", m.spinner.View(), stepLabel(m.state.Step), m.bar.ViewAs(float64(m.state.Progress)/100))
}

func stepLabel(s optimizer.Step) string {
	switch s {
	case optimizer.StepAnalyzing:
		return "analyzing content"
	case optimizer.StepOptimizing:
		return "rewriting chunks"
	case optimizer.StepGeneratingBriefs:
		return "drafting briefs"
	case optimizer.StepScoring:
		return "re-scoring"
	case optimizer.StepExplaining:
		return "explaining changes"
	case optimizer.StepComplete:
		return "complete"
	default:
		return "waiting"
	}
}

func (m Model) renderResult() string {
	if m.result == nil {
		if m.err != nil {
			return "The run stopped. No results were kept."
		}
		return "Working..."
	}
	r := m.result
	var b strings.Builder
	s := r.Summary
	fmt.Fprintf(&b, "Average passage score %.1f → %.1f (%+.1f%%)  [summary: %s]\n",
		s.OriginalAverage, s.OptimizedAverage, s.OverallPercentChange, s.Source)
	fmt.Fprintf(&b, "Document chamfer %.3f → %.3f\n", r.OriginalChamfer, r.OptimizedChamfer)

	for _, c := range r.Chunks {
		b.WriteString("\n")
		b.WriteString(titleStyle.Render(fmt.Sprintf("Chunk %d", c.ChunkNumber)))
		if len(c.Headings) > 0 {
			b.WriteString(mutedStyle.Render("  " + strings.Join(c.Headings, " › ")))
		}
		b.WriteString("\n")
		for _, q := range c.TargetQueries {
			p := c.ActualScores[q]
			fmt.Fprintf(&b, "  %-30s %5.1f %s → %5.1f %s  %s\n", truncate(q, 30),
				p.Original.PassageScore, tierBadge(p.Original.Tier),
				p.Optimized.PassageScore, tierBadge(p.Optimized.Tier),
				delta(p.Improvement))
		}
		query := ""
		if len(c.TargetQueries) > 0 {
			query = c.TargetQueries[0]
		}
		b.WriteString("  " + highlightBestSentence(c.OptimizedText, query) + "\n")
	}

	if len(r.Briefs) > 0 {
		b.WriteString("\n" + titleStyle.Render("New content briefs") + "\n")
		for _, br := range r.Briefs {
			fmt.Fprintf(&b, "  %s  (%s)\n", br.SuggestedHeading, br.Query)
		}
	}
	if len(r.DroppedBriefs) > 0 {
		b.WriteString(mutedStyle.Render(fmt.Sprintf("  %d brief(s) could not be generated\n", len(r.DroppedBriefs))))
	}
	if len(s.FurtherSuggestions) > 0 {
		b.WriteString("\n" + titleStyle.Render("Suggestions") + "\n")
		for _, line := range s.FurtherSuggestions {
			b.WriteString("  • " + line + "\n")
		}
	}
	return b.String()
}

func tierBadge(t scoring.Tier) string {
	return tierStyles[t].Render(t.Label())
}

func delta(imp scoring.Improvement) string {
	text := fmt.Sprintf("%+.1f%%", imp.Percent)
	if imp.NewCoverage {
		text = "new"
	}
	if imp.Percent < 0 {
		return errorStyle.Render(text)
	}
	return accentStyle.Render(text)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 1 || len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

var (
	titleStyle     = lipgloss.NewStyle().Bold(true)
	mutedStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	accentStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	resultBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	tierStyles     = map[scoring.Tier]lipgloss.Style{
		scoring.TierExcellent: lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		scoring.TierGood:      lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
		scoring.TierModerate:  lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		scoring.TierWeak:      lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
		scoring.TierPoor:      lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
	}
	unicodeWordRe = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)
	sentenceRe    = regexp.MustCompile(`[^.!?]+[.!?]+`)
)

// highlightBestSentence marks the sentence sharing the most words with query.
func highlightBestSentence(text, query string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	sentences := sentenceRe.FindAllString(text, -1)
	if len(sentences) == 0 {
		sentences = []string{strings.TrimSpace(text)}
	}
	qTokens := toTokenSet(query)
	if len(qTokens) == 0 {
		return strings.Join(trimAll(sentences), " ")
	}
	bestIdx, bestScore := 0, -1
	for i, s := range sentences {
		if score := tokenOverlapScore(qTokens, s); score > bestScore {
			bestIdx, bestScore = i, score
		}
	}
	out := trimAll(sentences)
	out[bestIdx] = highlightStyle.Render(out[bestIdx])
	return strings.Join(out, " ")
}

func trimAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.TrimSpace(s)
	}
	return out
}

func toTokenSet(s string) map[string]struct{} {
	tokens := unicodeWordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

func tokenOverlapScore(queryTokens map[string]struct{}, sentence string) int {
	score := 0
	seen := make(map[string]struct{})
	for _, t := range unicodeWordRe.FindAllString(strings.ToLower(sentence), -1) {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := queryTokens[t]; ok {
			score++
		}
	}
	return score
}
