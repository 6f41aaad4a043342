package optimizer

import (
	"encoding/json"

	"github.com/web-shredder/chunk-daddy-sub002/internal/llm"
)

var changeTypes = []string{
	"added_context", "improved_specificity", "added_keywords",
	"restructured", "clarified", "removed_redundancy", "other",
}

var changeSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"change_type":          map[string]any{"type": "string", "enum": changeTypes},
		"before":               map[string]any{"type": "string"},
		"after":                map[string]any{"type": "string"},
		"reason":               map[string]any{"type": "string"},
		"expected_improvement": map[string]any{"type": "string", "description": "Which query this change helps and how"},
	},
	"required": []string{"change_type", "before", "after", "reason", "expected_improvement"},
}

var (
	analyzeTool = tool("report_content_analysis", "Report topic segments and ranked optimization opportunities", map[string]any{
		"type": "object",
		"properties": map[string]any{
			"topic_segments": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"topic":         map[string]any{"type": "string"},
						"chunk_numbers": map[string]any{"type": "array", "items": map[string]any{"type": "integer"}},
						"summary":       map[string]any{"type": "string"},
					},
					"required": []string{"topic", "chunk_numbers"},
				},
			},
			"opportunities": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"chunk_number":   map[string]any{"type": "integer"},
						"query":          map[string]any{"type": "string"},
						"issue":          map[string]any{"type": "string"},
						"recommendation": map[string]any{"type": "string"},
						"priority":       map[string]any{"type": "string", "enum": []string{"high", "medium", "low"}},
					},
					"required": []string{"chunk_number", "issue", "priority"},
				},
			},
		},
		"required": []string{"topic_segments", "opportunities"},
	})

	rewriteChunkTool = tool("report_chunk_rewrite", "Report the rewritten body of one chunk and the changes made", map[string]any{
		"type": "object",
		"properties": map[string]any{
			"optimized_text":  map[string]any{"type": "string", "description": "Rewritten body only, without headings"},
			"changes_applied": map[string]any{"type": "array", "items": changeSchema},
		},
		"required": []string{"optimized_text", "changes_applied"},
	})

	rewriteContentTool = tool("report_content_rewrite", "Report rewritten chunks of the content and the changes made", map[string]any{
		"type": "object",
		"properties": map[string]any{
			"optimized_chunks": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"chunk_number":    map[string]any{"type": "integer"},
						"optimized_text":  map[string]any{"type": "string"},
						"changes_applied": map[string]any{"type": "array", "items": changeSchema},
					},
					"required": []string{"chunk_number", "optimized_text", "changes_applied"},
				},
			},
		},
		"required": []string{"optimized_chunks"},
	})

	briefTool = tool("report_content_brief", "Report a brief for a new section answering one query", map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query":             map[string]any{"type": "string"},
			"suggested_heading": map[string]any{"type": "string"},
			"placement":         map[string]any{"type": "string"},
			"key_points":        map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"target_word_count": map[string]any{"type": "integer"},
			"rationale":         map[string]any{"type": "string"},
		},
		"required": []string{"query", "suggested_heading", "key_points"},
	})

	explainTool = tool("report_change_explanations", "Explain each validated change by id", map[string]any{
		"type": "object",
		"properties": map[string]any{
			"explanations": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"change_id":   map[string]any{"type": "string"},
						"title":       map[string]any{"type": "string"},
						"explanation": map[string]any{"type": "string"},
						"impact":      map[string]any{"type": "string", "enum": []string{"positive", "neutral", "negative"}},
					},
					"required": []string{"change_id", "explanation"},
				},
			},
		},
		"required": []string{"explanations"},
	})

	summaryTool = tool("report_optimization_summary", "Summarize the measured results of the optimization", map[string]any{
		"type": "object",
		"properties": map[string]any{
			"entries": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"chunk_number": map[string]any{"type": "integer"},
						"query":        map[string]any{"type": "string"},
						"explanation":  map[string]any{"type": "string"},
					},
					"required": []string{"chunk_number", "query", "explanation"},
				},
			},
			"further_suggestions":      map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"trade_off_considerations": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
		"required": []string{"entries", "further_suggestions", "trade_off_considerations"},
	})
)

func tool(name, description string, schema map[string]any) llm.Tool {
	raw, err := json.Marshal(schema)
	if err != nil {
		panic(err)
	}
	return llm.Tool{Name: name, Description: description, Schema: raw}
}

type rewriteChunkPayload struct {
	OptimizedText string          `json:"optimized_text" validate:"required"`
	Changes       []ChangeApplied `json:"changes_applied" validate:"dive"`
}

type rewriteContentPayload struct {
	Chunks []OptimizedChunk `json:"optimized_chunks" validate:"required,min=1,dive"`
}

type explainPayload struct {
	Explanations []Explanation `json:"explanations" validate:"dive"`
}

type summaryPayload struct {
	Entries []struct {
		ChunkNumber int    `json:"chunk_number"`
		Query       string `json:"query"`
		Explanation string `json:"explanation" validate:"required"`
	} `json:"entries" validate:"dive"`
	FurtherSuggestions     []string `json:"further_suggestions"`
	TradeOffConsiderations []string `json:"trade_off_considerations"`
}
