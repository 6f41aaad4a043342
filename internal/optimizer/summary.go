package optimizer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/web-shredder/chunk-daddy-sub002/internal/apperr"
	"github.com/web-shredder/chunk-daddy-sub002/internal/scoring"
)

// moderateThreshold is the passage score below which a cell still needs work.
const moderateThreshold = 60

type entryKey struct {
	chunk int
	query string
}

// summarize asks the provider for the narrative of a run. The numbers always come
// from the measured scores; any provider failure falls back to a computed narrative.
func (o *Orchestrator) summarize(ctx context.Context, res *Result, log *zap.Logger) Summary {
	base := fallbackSummary(res.Scores, res.Briefs)

	var p summaryPayload
	err := o.generate(ctx, summaryPrompt(base, res.Briefs), &p)
	if err != nil {
		o.metrics.SummaryFallback()
		log.Warn("summary generation failed, using computed summary",
			zap.String("kind", string(apperr.KindStageFallback)),
			zap.Error(err))
		return base
	}

	notes := make(map[entryKey]string, len(p.Entries))
	for _, e := range p.Entries {
		notes[entryKey{e.ChunkNumber, e.Query}] = e.Explanation
	}
	s := base
	s.Entries = make([]SummaryEntry, len(base.Entries))
	for i, e := range base.Entries {
		if text, ok := notes[entryKey{e.ChunkNumber, e.Query}]; ok {
			e.Explanation = text
		}
		s.Entries[i] = e
	}
	if len(p.FurtherSuggestions) > 0 {
		s.FurtherSuggestions = p.FurtherSuggestions
	}
	if len(p.TradeOffConsiderations) > 0 {
		s.TradeOffConsiderations = p.TradeOffConsiderations
	}
	s.Source = SummaryAI
	return s
}

// fallbackSummary computes the summary from scores alone.
func fallbackSummary(scores []ChunkScoreData, briefs []ContentBrief) Summary {
	s := Summary{
		Entries:                make([]SummaryEntry, 0, len(scores)),
		FurtherSuggestions:     []string{},
		TradeOffConsiderations: []string{},
		Source:                 SummaryFallback,
	}
	var origSum, optSum float64
	for _, sc := range scores {
		orig, opt := sc.Original.PassageScore, sc.Optimized.PassageScore
		origSum += orig
		optSum += opt
		s.Entries = append(s.Entries, SummaryEntry{
			ChunkNumber:    sc.ChunkNumber,
			Query:          sc.Query,
			OriginalScore:  orig,
			OptimizedScore: opt,
			PercentChange:  sc.Improvement.Percent,
			Explanation:    describeChange(orig, opt, sc.Improvement.Percent),
		})
		if opt < moderateThreshold {
			s.FurtherSuggestions = append(s.FurtherSuggestions,
				fmt.Sprintf("Chunk %d still scores %.1f for %q; consider a dedicated section for it.", sc.ChunkNumber, opt, sc.Query))
		}
		if opt < orig {
			s.TradeOffConsiderations = append(s.TradeOffConsiderations,
				fmt.Sprintf("Chunk %d lost %.1f points for %q; review whether the rewrite dropped relevant detail.", sc.ChunkNumber, orig-opt, sc.Query))
		}
	}
	if n := float64(len(scores)); n > 0 {
		s.OriginalAverage = origSum / n
		s.OptimizedAverage = optSum / n
	}
	s.OverallPercentChange = scoring.CalculateImprovement(s.OriginalAverage, s.OptimizedAverage).Percent
	for _, b := range briefs {
		s.FurtherSuggestions = append(s.FurtherSuggestions,
			fmt.Sprintf("Add a section %q to cover %q.", b.SuggestedHeading, b.Query))
	}
	return s
}

func describeChange(orig, opt, percent float64) string {
	switch {
	case opt > orig:
		return fmt.Sprintf("Score rose from %.1f to %.1f (%+.1f%%), now %s.", orig, opt, percent, scoring.TierFor(opt).Label())
	case opt < orig:
		return fmt.Sprintf("Score fell from %.1f to %.1f (%+.1f%%), now %s.", orig, opt, percent, scoring.TierFor(opt).Label())
	default:
		return fmt.Sprintf("Score unchanged at %.1f.", opt)
	}
}
