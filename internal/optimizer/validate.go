package optimizer

import (
	"fmt"
	"strings"
)

// validateChanges attaches the measured delta to every claimed change. A change is
// attributed to the first target query its expected_improvement mentions, compared
// case-insensitively, or to the chunk's first target query.
func validateChanges(chunkNumber int, changes []ChangeApplied, queries []string, scores map[string]ScorePair) []ValidatedChange {
	out := make([]ValidatedChange, 0, len(changes))
	for i, ch := range changes {
		vc := ValidatedChange{
			ChangeID:      fmt.Sprintf("c%d-%d", chunkNumber, i+1),
			ChangeApplied: ch,
			TargetQuery:   targetQuery(ch.ExpectedImprovement, queries),
		}
		if pair, ok := scores[vc.TargetQuery]; ok {
			vc.ScoreBefore = pair.Original.PassageScore
			vc.ScoreAfter = pair.Optimized.PassageScore
			vc.ActualDelta = vc.ScoreAfter - vc.ScoreBefore
			vc.ActualPercent = pair.Improvement.Percent
		}
		out = append(out, vc)
	}
	return out
}

func targetQuery(expected string, queries []string) string {
	if len(queries) == 0 {
		return ""
	}
	lower := strings.ToLower(expected)
	for _, q := range queries {
		if q != "" && strings.Contains(lower, strings.ToLower(q)) {
			return q
		}
	}
	return queries[0]
}
