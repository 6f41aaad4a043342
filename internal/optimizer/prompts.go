package optimizer

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/web-shredder/chunk-daddy-sub002/internal/domain"
	"github.com/web-shredder/chunk-daddy-sub002/internal/llm"
)

const (
	analyzeSystem = `You analyze web content for retrieval quality. Segment it into topics and list ` +
		`the most valuable opportunities to make chunks answer the target queries. Rank by priority.`
	rewriteChunkSystem = `You rewrite one passage so it answers its target queries directly and specifically. ` +
		`The heading context is shown for orientation only: never repeat or rewrite headings. ` +
		`Return only the new body. Do not stuff keywords.`
	rewriteContentSystem = `You rewrite numbered chunks of a document so that together they answer the ` +
		`target queries. Only return chunks you changed. Keep headings out of optimized_text.`
	briefSystem = `You plan new content. No existing passage answers the query; propose a section ` +
		`that would, and where it belongs in the document.`
	explainSystem = `You explain edits to a content author. Each change comes with its measured score ` +
		`delta; describe what the change did and be honest when the measured effect is small or negative.`
	summarySystem = `You summarize an optimization run for a content author. Scores are measured and ` +
		`final; write an explanation per entry, further suggestions, and trade-offs to consider.`
)

type numberedChunk struct {
	Number   int      `json:"chunk_number"`
	Headings []string `json:"headings,omitempty"`
	Text     string   `json:"text"`
}

func numbered(chunks []domain.Chunk) []numberedChunk {
	out := make([]numberedChunk, len(chunks))
	for i, c := range chunks {
		out[i] = numberedChunk{Number: i + 1, Headings: c.Headings, Text: c.Text}
	}
	return out
}

func payload(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

func analyzePrompt(req Request) llm.Request {
	return llm.Request{
		System: analyzeSystem,
		User: payload(map[string]any{
			"content":        req.Content,
			"chunks":         numbered(req.Chunks),
			"queries":        req.Queries,
			"current_scores": req.CurrentScores,
		}),
		Tool: analyzeTool,
	}
}

func rewriteChunkPrompt(number int, chunk domain.Chunk, queries []string, analysis ContentAnalysis) llm.Request {
	var notes []Opportunity
	for _, o := range analysis.Opportunities {
		if o.ChunkNumber == number {
			notes = append(notes, o)
		}
	}
	var b strings.Builder
	b.WriteString("HEADING CONTEXT (do not rewrite or repeat):\n")
	if prefix := chunk.HeadingPrefix(); prefix != "" {
		b.WriteString(prefix)
	} else {
		b.WriteString("(none)\n")
	}
	b.WriteString("\nBODY TO REWRITE:\n")
	b.WriteString(chunk.Text)
	b.WriteString("\n\nTARGET QUERIES:\n")
	b.WriteString(payload(queries))
	if len(notes) > 0 {
		b.WriteString("\n\nANALYSIS NOTES:\n")
		b.WriteString(payload(notes))
	}
	return llm.Request{System: rewriteChunkSystem, User: b.String(), Tool: rewriteChunkTool}
}

func rewriteContentPrompt(req Request, analysis ContentAnalysis) llm.Request {
	return llm.Request{
		System: rewriteContentSystem,
		User: payload(map[string]any{
			"chunks":        numbered(req.Chunks),
			"queries":       req.Queries,
			"opportunities": analysis.Opportunities,
		}),
		Tool: rewriteContentTool,
	}
}

func briefPrompt(query string, chunks []domain.Chunk) llm.Request {
	outline := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if n := len(c.Headings); n > 0 {
			outline = append(outline, strings.Join(c.Headings, " > "))
		}
	}
	return llm.Request{
		System: briefSystem,
		User:   payload(map[string]any{"query": query, "document_outline": outline}),
		Tool:   briefTool,
	}
}

type changeForExplanation struct {
	ChangeID      string  `json:"change_id"`
	ChunkNumber   int     `json:"chunk_number"`
	ChangeType    string  `json:"change_type"`
	Before        string  `json:"before"`
	After         string  `json:"after"`
	Reason        string  `json:"reason"`
	TargetQuery   string  `json:"target_query"`
	ScoreBefore   float64 `json:"score_before"`
	ScoreAfter    float64 `json:"score_after"`
	ActualPercent float64 `json:"actual_percent"`
}

func explainPrompt(chunks []ValidatedChunk) llm.Request {
	var changes []changeForExplanation
	for _, c := range chunks {
		for _, ch := range c.Changes {
			changes = append(changes, changeForExplanation{
				ChangeID:      ch.ChangeID,
				ChunkNumber:   c.ChunkNumber,
				ChangeType:    ch.ChangeType,
				Before:        ch.Before,
				After:         ch.After,
				Reason:        ch.Reason,
				TargetQuery:   ch.TargetQuery,
				ScoreBefore:   ch.ScoreBefore,
				ScoreAfter:    ch.ScoreAfter,
				ActualPercent: ch.ActualPercent,
			})
		}
	}
	return llm.Request{System: explainSystem, User: payload(map[string]any{"changes": changes}), Tool: explainTool}
}

func summaryPrompt(s Summary, briefs []ContentBrief) llm.Request {
	return llm.Request{
		System: summarySystem,
		User: payload(map[string]any{
			"original_average":       s.OriginalAverage,
			"optimized_average":      s.OptimizedAverage,
			"overall_percent_change": s.OverallPercentChange,
			"entries":                s.Entries,
			"new_content_briefs":     len(briefs),
		}),
		Tool: summaryTool,
	}
}
