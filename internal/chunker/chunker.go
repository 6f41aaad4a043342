package chunker

import (
	"fmt"

	"github.com/web-shredder/chunk-daddy-sub002/internal/domain"
)

// Options carries the knobs shared by every strategy.
type Options struct {
	SentencesPerChunk int
	OverlapSentences  int
	MaxWords          int
}

// New returns the chunker registered under strategy.
func New(strategy string, opts Options) (domain.Chunker, error) {
	switch strategy {
	case "heading", "":
		return NewHeadingChunker(opts.MaxWords), nil
	case "sentence":
		return NewSentenceChunker(opts.SentencesPerChunk, opts.OverlapSentences), nil
	default:
		return nil, fmt.Errorf("unknown chunker: %s", strategy)
	}
}
