package export

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var resultTemplate = template.Must(
	template.New("result.html").Funcs(template.FuncMap{
		"join": strings.Join,
		"pct":  formatPercent,
		"formatDate": func(t time.Time, layout string) string {
			return t.UTC().Format(layout)
		},
	}).ParseFS(templateFS, "templates/result.html"),
)

// TemplateData holds data for result template rendering
type TemplateData struct {
	Report
	Title       string
	GeneratedAt time.Time
}

// RenderResultHTML renders the result template with provided data
func RenderResultHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := resultTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render result template: %w", err)
	}
	return buf.String(), nil
}

func formatPercent(p *float64) string {
	if p == nil {
		return ""
	}
	return fmt.Sprintf("%.1f%%", *p)
}

func itoa(n int) string {
	return fmt.Sprintf("%d", n)
}
