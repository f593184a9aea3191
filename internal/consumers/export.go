package consumers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
)

const exportTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", sans-serif; max-width: 960px; margin: 2rem auto; padding: 0 1rem; color: #1f2328; }
table { border-collapse: collapse; width: 100%; }
th, td { border: 1px solid #d0d7de; padding: 6px 10px; text-align: left; }
tr:nth-child(even) { background: #f6f8fa; }
pre { padding: 12px; overflow: auto; border-radius: 6px; }
</style>
</head>
<body>
{{.Body}}
</body>
</html>
`

var exportTmpl = template.Must(template.New("export").Parse(exportTemplate))

// newMarkdown returns the goldmark converter used for exports. Raw HTML in
// notification content is escaped.
func newMarkdown() goldmark.Markdown {
	return goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			highlighting.NewHighlighting(
				highlighting.WithStyle("github"),
			),
		),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
	)
}

// PageMarkdown renders the page as a GitHub-flavoured markdown document.
func PageMarkdown(p Page) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Notifications\n\n%d unread, showing %s.\n\n", p.Unread, p.Filter)
	if len(p.Items) == 0 {
		b.WriteString("_No notifications._\n")
		return b.String()
	}

	b.WriteString("| | Priority | Type | Title | Created |\n")
	b.WriteString("|---|---|---|---|---|\n")
	for _, n := range p.Items {
		marker := ""
		if !n.Read {
			marker = "**new**"
		}
		title := cell(n.Title)
		if n.ActionURL != "" {
			title = fmt.Sprintf("[%s](<%s>)", title, n.ActionURL)
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s |\n",
			marker, n.Priority, cell(string(n.Type)), title, n.CreatedAt.UTC().Format(time.DateTime))
	}

	for _, n := range p.Items {
		if n.Message == "" && len(n.Metadata) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n## %s\n\n", cell(n.Title))
		if n.Message != "" {
			b.WriteString(n.Message + "\n")
		}
		if len(n.Metadata) > 0 {
			meta, _ := json.MarshalIndent(n.Metadata, "", "  ")
			fmt.Fprintf(&b, "\n```json\n%s\n```\n", meta)
		}
	}
	if p.HasMore {
		b.WriteString("\n_More notifications are available on the server._\n")
	}
	return b.String()
}

// RenderHTML writes the page as a standalone HTML document.
func RenderHTML(w io.Writer, p Page) error {
	var body bytes.Buffer
	if err := newMarkdown().Convert([]byte(PageMarkdown(p)), &body); err != nil {
		return fmt.Errorf("converting markdown: %w", err)
	}
	return exportTmpl.Execute(w, struct {
		Title string
		Body  template.HTML
	}{
		Title: fmt.Sprintf("Notifications (%d unread)", p.Unread),
		Body:  template.HTML(body.String()),
	})
}

func cell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}
