// ABOUTME: Markdown rendering of assistant replies for HTML clients
// ABOUTME: Uses goldmark with GFM; raw HTML in model output is not passed through

package server

import (
	"bytes"
	"html"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

type markdownRenderer struct {
	md goldmark.Markdown
}

func newMarkdownRenderer() *markdownRenderer {
	return &markdownRenderer{
		md: goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}
}

// Render converts markdown to HTML. On failure the source is returned
// escaped inside a paragraph along with the error.
func (m *markdownRenderer) Render(src string) (string, error) {
	var buf bytes.Buffer
	if err := m.md.Convert([]byte(src), &buf); err != nil {
		return "<p>" + html.EscapeString(src) + "</p>", err
	}
	return buf.String(), nil
}
