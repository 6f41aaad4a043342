package domain

import "strings"

// Document represents a single content body loaded into a session.
type Document struct {
	ID      string
	Path    string
	Content string
}

// Chunk is one addressable unit of document content that can be scored and rewritten
// on its own. Headings holds the cascade of section headings above the body, outermost first.
type Chunk struct {
	DocumentID string
	ChunkID    string
	Index      int
	Text       string
	Headings   []string
	WordCount  int
	CharCount  int
}

// HeadingPrefix renders the heading cascade as markdown heading lines.
func (c Chunk) HeadingPrefix() string {
	if len(c.Headings) == 0 {
		return ""
	}
	var b strings.Builder
	for i, h := range c.Headings {
		b.WriteString(strings.Repeat("#", min(i+1, 6)))
		b.WriteByte(' ')
		b.WriteString(h)
		b.WriteByte('\n')
	}
	return b.String()
}

// WithCascade returns the body with its heading cascade prepended.
func (c Chunk) WithCascade() string {
	return WithPrefix(c.HeadingPrefix(), c.Text)
}

// WithPrefix joins a heading prefix and a body the same way for every version of a chunk.
func WithPrefix(prefix, body string) string {
	if prefix == "" {
		return body
	}
	return prefix + "\n" + body
}

// NewChunk fills in counts for a chunk body.
func NewChunk(docID, chunkID string, index int, text string, headings []string) Chunk {
	return Chunk{
		DocumentID: docID,
		ChunkID:    chunkID,
		Index:      index,
		Text:       text,
		Headings:   headings,
		WordCount:  len(strings.Fields(text)),
		CharCount:  len([]rune(text)),
	}
}

// Vector is an embedding produced for exactly one input text.
type Vector []float64

// Chunker splits documents into chunks suitable for scoring.
type Chunker interface {
	Chunk(document Document) ([]Chunk, error)
}

// Summarizer produces a brief summary of the provided text.
type Summarizer interface {
	Summarize(text string, maxSentences int) (string, error)
}
