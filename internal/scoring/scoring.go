// Package scoring turns similarity values into the 0-100 Passage Score and its tier.
package scoring

import "math"

const (
	CosineWeight  = 0.7
	ChamferWeight = 0.3

	// MaxImprovementPercent caps the change reported when the baseline is zero.
	MaxImprovementPercent = 999.0
)

// Tier is one of five ordered quality bands derived from a Passage Score.
type Tier string

const (
	TierExcellent Tier = "excellent"
	TierGood      Tier = "good"
	TierModerate  Tier = "moderate"
	TierWeak      Tier = "weak"
	TierPoor      Tier = "poor"
)

// Label is the display form of the tier.
func (t Tier) Label() string {
	switch t {
	case TierExcellent:
		return "Excellent"
	case TierGood:
		return "Good"
	case TierModerate:
		return "Moderate"
	case TierWeak:
		return "Weak"
	default:
		return "Poor"
	}
}

var breakpoints = []struct {
	min  float64
	tier Tier
}{
	{90, TierExcellent},
	{75, TierGood},
	{60, TierModerate},
	{40, TierWeak},
}

// PassageScore blends chunk cosine and document chamfer into a score in [0, 100].
func PassageScore(cosine, documentChamfer float64) float64 {
	s := (cosine*CosineWeight + documentChamfer*ChamferWeight) * 100
	if math.IsNaN(s) {
		return 0
	}
	return math.Max(0, math.Min(100, s))
}

// TierFor maps any score to exactly one tier. NaN is Poor.
func TierFor(score float64) Tier {
	for _, bp := range breakpoints {
		if score >= bp.min {
			return bp.tier
		}
	}
	return TierPoor
}

// Improvement is the relative change between two scores.
type Improvement struct {
	Percent float64 `json:"percent"`
	// NewCoverage marks a change from a zero baseline, where Percent is the capped sentinel.
	NewCoverage bool `json:"new_coverage,omitempty"`
}

// CalculateImprovement returns ((new-old)/|old|)*100. A zero baseline reports 0 when
// nothing changed and otherwise ±MaxImprovementPercent with NewCoverage set.
func CalculateImprovement(old, new float64) Improvement {
	if old == 0 {
		switch {
		case new > 0:
			return Improvement{Percent: MaxImprovementPercent, NewCoverage: true}
		case new < 0:
			return Improvement{Percent: -MaxImprovementPercent, NewCoverage: true}
		default:
			return Improvement{}
		}
	}
	p := (new - old) / math.Abs(old) * 100
	if math.IsNaN(p) || math.IsInf(p, 0) {
		return Improvement{}
	}
	return Improvement{Percent: p}
}

// QueryScore is the scored relationship between one chunk and one query.
type QueryScore struct {
	Cosine       float64 `json:"cosine"`
	Chamfer      float64 `json:"chamfer"`
	PassageScore float64 `json:"passage_score"`
	Tier         Tier    `json:"tier"`
}

// NewQueryScore scores a chunk cosine against the document chamfer shared by its version.
func NewQueryScore(cosine, documentChamfer float64) QueryScore {
	s := PassageScore(cosine, documentChamfer)
	return QueryScore{
		Cosine:       cosine,
		Chamfer:      documentChamfer,
		PassageScore: s,
		Tier:         TierFor(s),
	}
}
