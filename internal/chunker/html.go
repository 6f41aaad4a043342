package chunker

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// FromHTML flattens an HTML page into markdown-style text so the heading chunker can
// recover its section cascade. Only headings, paragraphs, list items and block quotes
// inside <body> are kept; scripts, styles and navigation are dropped.
func FromHTML(r io.Reader) (string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	doc.Find("script, style, noscript, nav, header, footer, aside").Remove()

	root := doc.Find("article").First()
	if root.Length() == 0 {
		root = doc.Find("body")
	}

	var b strings.Builder
	root.Find("h1, h2, h3, h4, h5, h6, p, li, blockquote").Each(func(_ int, s *goquery.Selection) {
		// nested matches are emitted by their own iteration
		if s.ParentsFiltered("li, blockquote").Length() > 0 && !s.Is("li") {
			return
		}
		text := strings.Join(strings.Fields(s.Text()), " ")
		if text == "" {
			return
		}
		switch tag := goquery.NodeName(s); tag {
		case "h1", "h2", "h3", "h4", "h5", "h6":
			b.WriteString(strings.Repeat("#", int(tag[1]-'0')))
			b.WriteByte(' ')
		case "li":
			b.WriteString("- ")
		case "blockquote":
			b.WriteString("> ")
		}
		b.WriteString(text)
		b.WriteString("\n\n")
	})
	return strings.TrimSpace(b.String()), nil
}
