// Package summarizer builds a short extractive synopsis of a document, shown next to
// the pipeline progress so the author can confirm what is being optimized.
package summarizer

import (
	"cmp"
	"math"
	"regexp"
	"slices"
	"strings"
)

var (
	tokenPattern    = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)
	sentencePattern = regexp.MustCompile(`[^.!?\n]+[.!?]+`)
	// markdown structure that is never part of a sentence
	headingLine = regexp.MustCompile(`(?m)^\s{0,3}#{1,6}\s.*$`)
	listMarker  = regexp.MustCompile(`(?m)^\s*(?:[-*+>]|\d+[.)])\s+`)
)

// FrequencySummarizer ranks sentences by word frequency (stopwords filtered).
type FrequencySummarizer struct {
	stopwords map[string]struct{}
}

// NewFrequencySummarizer creates a frequency-based sentence ranker summarizer.
func NewFrequencySummarizer() *FrequencySummarizer {
	return &FrequencySummarizer{stopwords: defaultStopwords()}
}

// Summarize returns up to maxSentences of the highest ranked sentences in document
// order. Markdown headings and list markers are ignored.
func (s *FrequencySummarizer) Summarize(text string, maxSentences int) (string, error) {
	if maxSentences <= 0 {
		maxSentences = 5
	}
	body := listMarker.ReplaceAllString(headingLine.ReplaceAllString(text, ""), "")
	sentences := sentencePattern.FindAllString(body, -1)
	if len(sentences) == 0 {
		return strings.Join(strings.Fields(body), " "), nil
	}

	tokens := make([][]string, len(sentences))
	freq := map[string]float64{}
	maxF := 0.0
	for i, sent := range sentences {
		tokens[i] = s.tokens(sent)
		for _, tok := range tokens[i] {
			freq[tok]++
			maxF = max(maxF, freq[tok])
		}
	}

	type ranked struct {
		idx   int
		score float64
	}
	scores := make([]ranked, len(sentences))
	for i, toks := range tokens {
		var sc float64
		for _, tok := range toks {
			sc += freq[tok] / maxF
		}
		// long sentences would otherwise always win
		if n := len(toks); n > 0 {
			sc /= math.Sqrt(float64(n))
		}
		scores[i] = ranked{i, sc}
	}
	slices.SortStableFunc(scores, func(a, b ranked) int { return cmp.Compare(b.score, a.score) })

	keep := min(maxSentences, len(scores))
	selected := make([]int, keep)
	for i := range keep {
		selected[i] = scores[i].idx
	}
	slices.Sort(selected)
	out := make([]string, 0, keep)
	for _, idx := range selected {
		out = append(out, strings.TrimSpace(sentences[idx]))
	}
	return strings.Join(out, " "), nil
}

// tokens returns the lower-cased words of text without stopwords.
func (s *FrequencySummarizer) tokens(text string) []string {
	all := tokenPattern.FindAllString(strings.ToLower(text), -1)
	return slices.DeleteFunc(all, func(t string) bool {
		_, stop := s.stopwords[t]
		return stop
	})
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now", "you", "your", "we", "our",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
