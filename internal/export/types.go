// Package export renders proposal results as HTML and PDF reports.
package export

import (
	"errors"
	"time"

	"gavel/api/internal/decision"
)

// Format represents the export output format
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatHTML Format = "html"
)

func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatPDF, FormatHTML:
		return Format(s), nil
	default:
		return "", ErrUnsupportedFormat
	}
}

// Report is everything needed to render one proposal's result. View must
// already honour the proposal's disclosure policy.
type Report struct {
	View        decision.View
	Description string
	ScopeLabel  string
	ModeSummary string
	ClosedAt    time.Time
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	ErrUnsupportedFormat = errors.New("unsupported export format")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)

// ModeSummary describes a vote mode in one line for report headers.
func ModeSummary(m decision.VoteMode) string {
	switch v := m.(type) {
	case decision.Percentage:
		return "percentage vote, " + itoa(v.Threshold) + "% required"
	case decision.Piecewise:
		return "count vote, " + itoa(v.RequiredYes) + " yes votes required"
	case decision.Plurality:
		return "plurality vote between " + itoa(len(v.Options)) + " options"
	default:
		return ""
	}
}
