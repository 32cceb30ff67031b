package export

import (
	"context"
	"time"
)

type pdfRenderer func(ctx context.Context, html string) ([]byte, error)

// Service renders result reports.
type Service struct {
	renderPDF pdfRenderer
	now       func() time.Time
}

// NewService creates a new export service backed by headless Chrome.
func NewService() *Service {
	return &Service{renderPDF: renderPDF, now: time.Now}
}

// Export generates a report in the requested format
func (s *Service) Export(ctx context.Context, report Report, format Format) (*Result, error) {
	html, err := RenderResultHTML(TemplateData{
		Report:      report,
		Title:       report.View.Title,
		GeneratedAt: s.now(),
	})
	if err != nil {
		return nil, err
	}

	base := sanitizeFilename(report.View.Title) + "-result"
	switch format {
	case FormatHTML:
		return &Result{Data: []byte(html), Filename: base + ".html", MimeType: "text/html; charset=utf-8"}, nil
	case FormatPDF:
		data, err := s.renderPDF(ctx, html)
		if err != nil {
			return nil, err
		}
		return &Result{Data: data, Filename: base + ".pdf", MimeType: "application/pdf"}, nil
	default:
		return nil, ErrUnsupportedFormat
	}
}
