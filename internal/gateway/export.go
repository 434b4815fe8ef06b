// ABOUTME: Thread export as a markdown transcript or a standalone HTML page
// ABOUTME: HTML is rendered from the same markdown with goldmark

package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/2389/assistant-gateway/internal/thread"
)

var exportMarkdownRenderer = goldmark.New(goldmark.WithExtensions(extension.GFM))

var exportPage = template.Must(template.New("export").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 52rem; margin: 2rem auto; padding: 0 1rem; line-height: 1.5; }
pre { background: #f5f5f5; padding: 0.75rem; overflow-x: auto; }
h3 { margin-bottom: 0.25rem; }
</style>
</head>
<body>
{{.Body}}
</body>
</html>
`))

// exportMarkdown renders a thread's completed turns as a markdown transcript.
func exportMarkdown(t *thread.Thread) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", t.Title)
	fmt.Fprintf(&b, "_Last updated %s_\n", t.LastUpdated.UTC().Format("2006-01-02 15:04 MST"))

	for i, item := range t.UIMessages {
		fmt.Fprintf(&b, "\n---\n\n## Turn %d\n\n", i+1)
		fmt.Fprintf(&b, "### You\n\n%s\n\n", item.Human)
		fmt.Fprintf(&b, "### Assistant\n\n%s\n", item.AI)

		if results := indentedResults(item.QueryResults); results != "" {
			fmt.Fprintf(&b, "\n#### Query results\n\n```json\n%s\n```\n", results)
		}
	}
	return b.String()
}

// indentedResults pretty-prints non-empty query results.
func indentedResults(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "[]" || string(trimmed) == "null" {
		return ""
	}
	var out bytes.Buffer
	if err := json.Indent(&out, trimmed, "", "  "); err != nil {
		return string(trimmed)
	}
	return out.String()
}

// exportHTML converts a markdown transcript into a standalone page. Raw HTML
// in messages is dropped by the renderer.
func exportHTML(title, md string) ([]byte, error) {
	var body bytes.Buffer
	if err := exportMarkdownRenderer.Convert([]byte(md), &body); err != nil {
		return nil, fmt.Errorf("converting markdown: %w", err)
	}

	var page bytes.Buffer
	err := exportPage.Execute(&page, struct {
		Title string
		Body  template.HTML
	}{
		Title: title,
		Body:  template.HTML(body.String()),
	})
	if err != nil {
		return nil, fmt.Errorf("rendering export page: %w", err)
	}
	return page.Bytes(), nil
}
