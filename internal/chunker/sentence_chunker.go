package chunker

import (
	"regexp"
	"strings"

	"github.com/web-shredder/chunk-daddy-sub002/internal/domain"
)

var sentenceEnd = regexp.MustCompile(`[^.!?]+[.!?]+`)

// SentenceChunker cuts content into windows of whole sentences that overlap by a fixed
// number of sentences. It ignores markdown structure, so its chunks carry no cascade.
type SentenceChunker struct {
	size    int
	overlap int
}

// NewSentenceChunker defaults to five sentences per window.
func NewSentenceChunker(sentencesPerChunk, overlapSentences int) *SentenceChunker {
	if sentencesPerChunk <= 0 {
		sentencesPerChunk = 5
	}
	return &SentenceChunker{size: sentencesPerChunk, overlap: max(0, overlapSentences)}
}

func (c *SentenceChunker) Chunk(document domain.Document) ([]domain.Chunk, error) {
	sentences := splitSentences(document.Content)
	// an overlap as large as the window still moves forward one sentence
	step := max(1, c.size-c.overlap)

	var chunks []domain.Chunk
	for start := 0; start < len(sentences); start += step {
		end := min(start+c.size, len(sentences))
		idx := len(chunks)
		chunks = append(chunks, domain.NewChunk(document.ID, chunkID(document.ID, idx), idx, strings.Join(sentences[start:end], " "), nil))
		if end == len(sentences) {
			break
		}
	}
	return chunks, nil
}

// splitSentences keeps a trailing fragment without terminal punctuation as its own sentence.
func splitSentences(text string) []string {
	var out []string
	last := 0
	for _, loc := range sentenceEnd.FindAllStringIndex(text, -1) {
		if s := strings.TrimSpace(text[loc[0]:loc[1]]); s != "" {
			out = append(out, s)
		}
		last = loc[1]
	}
	if tail := strings.TrimSpace(text[last:]); tail != "" {
		out = append(out, tail)
	}
	return out
}
