package chunker

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/web-shredder/chunk-daddy-sub002/internal/domain"
)

// HeadingChunker splits markdown into one chunk per section body. Each chunk records
// the cascade of headings above it (h1 > h2 > ...), so a chunk can be embedded with
// or without its context.
type HeadingChunker struct {
	// MaxWords splits long sections on paragraph breaks. Zero disables splitting.
	MaxWords int
}

func NewHeadingChunker(maxWords int) *HeadingChunker {
	return &HeadingChunker{MaxWords: maxWords}
}

func (c *HeadingChunker) Chunk(document domain.Document) ([]domain.Chunk, error) {
	var (
		chunks   []domain.Chunk
		levels   []int
		headings []string
		body     strings.Builder
		inFence  bool
	)
	flush := func() {
		text := strings.TrimSpace(body.String())
		body.Reset()
		if text == "" {
			return
		}
		cascade := append([]string(nil), headings...)
		for _, part := range c.split(text) {
			idx := len(chunks)
			chunks = append(chunks, domain.NewChunk(document.ID, chunkID(document.ID, idx), idx, part, cascade))
		}
	}

	scanner := bufio.NewScanner(strings.NewReader(document.Content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
		}
		if level, title, ok := parseHeading(line); ok && !inFence {
			flush()
			for len(levels) > 0 && levels[len(levels)-1] >= level {
				levels = levels[:len(levels)-1]
				headings = headings[:len(headings)-1]
			}
			levels = append(levels, level)
			headings = append(headings, title)
			continue
		}
		if body.Len() > 0 {
			body.WriteByte('\n')
		}
		body.WriteString(line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", document.ID, err)
	}
	flush()
	return chunks, nil
}

func (c *HeadingChunker) split(text string) []string {
	if c.MaxWords <= 0 || len(strings.Fields(text)) <= c.MaxWords {
		return []string{text}
	}
	var (
		parts []string
		cur   []string
		words int
	)
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		n := len(strings.Fields(para))
		if words > 0 && words+n > c.MaxWords {
			parts = append(parts, strings.Join(cur, "\n\n"))
			cur, words = nil, 0
		}
		cur = append(cur, para)
		words += n
	}
	if len(cur) > 0 {
		parts = append(parts, strings.Join(cur, "\n\n"))
	}
	return parts
}

// parseHeading recognizes ATX headings: one to six '#' followed by a space.
func parseHeading(line string) (int, string, bool) {
	trimmed := strings.TrimLeft(line, " ")
	if len(line)-len(trimmed) > 3 {
		return 0, "", false
	}
	level := 0
	for level < len(trimmed) && trimmed[level] == '#' {
		level++
	}
	if level == 0 || level > 6 {
		return 0, "", false
	}
	rest := trimmed[level:]
	if rest != "" && rest[0] != ' ' && rest[0] != '\t' {
		return 0, "", false
	}
	title := strings.TrimSpace(strings.TrimRight(strings.TrimSpace(rest), "#"))
	if title == "" {
		return 0, "", false
	}
	return level, title, true
}

func chunkID(docID string, idx int) string {
	if docID == "" {
		return "chunk-" + strconv.Itoa(idx)
	}
	return docID + ":" + strconv.Itoa(idx)
}
