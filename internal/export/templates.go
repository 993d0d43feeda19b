package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var letterTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
	}

	templateContent, err := templateFS.ReadFile("templates/letter.html")
	if err != nil {
		// Fallback to built-in template if file not found
		letterTemplate = template.Must(template.New("letter").Funcs(funcMap).Parse(fallbackTemplate))
		return
	}

	letterTemplate = template.Must(template.New("letter").Funcs(funcMap).Parse(string(templateContent)))
}

// TemplateData holds data for letter template rendering
type TemplateData struct {
	CaseTitle string
	Version   int
	BodyHTML  template.HTML
	Author    string
	SavedAt   time.Time
}

// contentToHTML converts plain draft text into paragraph markup.
// Blank lines separate paragraphs; single newlines become <br>.
func contentToHTML(text string) template.HTML {
	var buf strings.Builder
	paragraphs := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n")
	for _, p := range paragraphs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		buf.WriteString("<p>")
		lines := strings.Split(p, "\n")
		for i, line := range lines {
			if i > 0 {
				buf.WriteString("<br>")
			}
			buf.WriteString(template.HTMLEscapeString(line))
		}
		buf.WriteString("</p>\n")
	}
	return template.HTML(buf.String())
}

// RenderLetterHTML renders the letter template with provided data
func RenderLetterHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := letterTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// fallbackTemplate is used if the embedded template fails to load
const fallbackTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.CaseTitle}}</title>
  <style>
    body { font-family: Georgia, serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
  </style>
</head>
<body>
  <h1>{{.CaseTitle}}</h1>
  <div class="meta">Version {{.Version}}{{if .Author}} | {{.Author}}{{end}}{{if not .SavedAt.IsZero}} | {{.SavedAt.Format "Jan 2, 2006"}}{{end}}</div>
  <div>{{.BodyHTML}}</div>
</body>
</html>`
