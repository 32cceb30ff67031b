// Package email provides email sending capabilities via SMTP.
package email

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
)

var ErrNotConfigured = errors.New("email not configured")

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Service provides email sending
type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   sendFunc
}

// NewService creates a new email service
func NewService(config Config) *Service {
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
		send:   smtp.SendMail,
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// SendHTMLEmail sends a multipart email with a plain text fallback.
func (s *Service) SendHTMLEmail(to []string, subject, textBody, htmlBody string) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}
	if len(to) == 0 {
		return nil
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	boundary := "boundary-gavel"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", headerSafe(subject))
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", textBody)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", htmlBody)
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	if err := s.send(s.server, s.auth, s.config.From, to, msg.Bytes()); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

// OutcomeData is the content of a "your proposal was closed" notice.
type OutcomeData struct {
	AppName       string
	RecipientName string
	Title         string
	Passed        bool
	Summary       string
	ResultURL     string
}

// OpenedData announces a proposal that members can vote on.
type OpenedData struct {
	AppName     string
	Title       string
	Scope       string
	AvailableAt string
	ProposalURL string
}

// SendOutcomeNotice tells the proposer how their proposal was decided.
func (s *Service) SendOutcomeNotice(to string, data OutcomeData) error {
	if data.AppName == "" {
		data.AppName = "Gavel"
	}
	verdict := "did not pass"
	if data.Passed {
		verdict = "passed"
	}
	subject := fmt.Sprintf("%q %s", data.Title, verdict)
	html, err := renderTemplate(outcomeEmailTemplate, data)
	if err != nil {
		return fmt.Errorf("render outcome template: %w", err)
	}
	text := fmt.Sprintf("Voting on %q has closed. It %s.\n%s\n%s", data.Title, verdict, data.Summary, data.ResultURL)
	return s.SendHTMLEmail([]string{to}, subject, text, html)
}

// SendOpenedNotice announces a newly opened proposal.
func (s *Service) SendOpenedNotice(to []string, data OpenedData) error {
	if data.AppName == "" {
		data.AppName = "Gavel"
	}
	subject := "New proposal: " + data.Title
	html, err := renderTemplate(openedEmailTemplate, data)
	if err != nil {
		return fmt.Errorf("render opened template: %w", err)
	}
	text := fmt.Sprintf("%q is open for voting from %s.\n%s", data.Title, data.AvailableAt, data.ProposalURL)
	return s.SendHTMLEmail(to, subject, text, html)
}

func headerSafe(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}

func renderTemplate(tmpl string, data interface{}) (string, error) {
	t := template.Must(template.New("email").Parse(tmpl))
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const outcomeEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.Title}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #0066cc; padding-bottom: 10px; margin-bottom: 20px; }
        .passed { color: #1b6e2a; }
        .failed { color: #9b1c1c; }
        .button { display: inline-block; padding: 12px 24px; background: #0066cc; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <p>Hi {{.RecipientName}},</p>

    <p>Voting on <strong>{{.Title}}</strong> has closed.</p>
    <h2 class="{{if .Passed}}passed{{else}}failed{{end}}">{{if .Passed}}Passed{{else}}Did not pass{{end}}</h2>
    {{if .Summary}}<p>{{.Summary}}</p>{{end}}

    {{if .ResultURL}}<p><a href="{{.ResultURL}}" class="button">View result</a></p>{{end}}
</body>
</html>`

const openedEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.Title}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #0066cc; padding-bottom: 10px; margin-bottom: 20px; }
        .button { display: inline-block; padding: 12px 24px; background: #0066cc; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <p>A new {{.Scope}} proposal is open for voting from {{.AvailableAt}}:</p>
    <h2>{{.Title}}</h2>

    {{if .ProposalURL}}<p><a href="{{.ProposalURL}}" class="button">Review and vote</a></p>{{end}}
</body>
</html>`
