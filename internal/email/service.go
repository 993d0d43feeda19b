// Package email provides email sending capabilities via SMTP.
package email

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
)

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

// Service provides email sending
type Service struct {
	config Config
	server string
	auth   smtp.Auth
}

// NewService creates a new email service
func NewService(config Config) *Service {
	auth := smtp.PlainAuth("", config.Username, config.Password, config.Host)

	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// SendEmail sends a plain text email
func (s *Service) SendEmail(to []string, subject, body string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	msg := []byte(fmt.Sprintf(
		"To: %s\r\n"+
			"From: %s\r\n"+
			"Subject: %s\r\n"+
			"Content-Type: text/plain; charset=UTF-8\r\n"+
			"\r\n"+
			"%s",
		strings.Join(to, ", "),
		from,
		subject,
		body,
	))

	return smtp.SendMail(s.server, s.auth, s.config.From, to, msg)
}

// SendHTMLEmail sends an HTML email
func (s *Service) SendHTMLEmail(to []string, subject, htmlBody string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	// Simple multipart message
	boundary := "boundary-casedesk"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&msg, "\r\n")

	// Plain text part (fallback)
	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "Please view this email in an HTML-capable email client.\r\n")
	fmt.Fprintf(&msg, "\r\n")

	// HTML part
	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", htmlBody)
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return smtp.SendMail(s.server, s.auth, s.config.From, to, msg.Bytes())
}

// MembershipAddedData holds data for the membership notification template
type MembershipAddedData struct {
	AppName   string
	UserName  string
	CaseTitle string
	AddedBy   string
	CaseURL   string
}

// DraftSavedData holds data for the draft saved notification template
type DraftSavedData struct {
	AppName   string
	UserName  string
	CaseTitle string
	Version   int
	SavedBy   string
	CaseURL   string
}

// SendMembershipAddedEmail notifies a user they were added to a case
func (s *Service) SendMembershipAddedEmail(to, userName, caseTitle, addedBy, caseURL string) error {
	data := MembershipAddedData{
		AppName:   "Casedesk",
		UserName:  userName,
		CaseTitle: caseTitle,
		AddedBy:   addedBy,
		CaseURL:   caseURL,
	}

	subject := fmt.Sprintf("You were added to case %q", caseTitle)
	html, err := renderTemplate(membershipAddedEmailTemplate, data)
	if err != nil {
		return fmt.Errorf("render membership template: %w", err)
	}

	return s.SendHTMLEmail([]string{to}, subject, html)
}

// SendDraftSavedEmail notifies a case member that a draft version was saved
func (s *Service) SendDraftSavedEmail(to, userName, caseTitle string, version int, savedBy, caseURL string) error {
	data := DraftSavedData{
		AppName:   "Casedesk",
		UserName:  userName,
		CaseTitle: caseTitle,
		Version:   version,
		SavedBy:   savedBy,
		CaseURL:   caseURL,
	}

	subject := fmt.Sprintf("Draft v%d saved on case %q", version, caseTitle)
	html, err := renderTemplate(draftSavedEmailTemplate, data)
	if err != nil {
		return fmt.Errorf("render draft saved template: %w", err)
	}

	return s.SendHTMLEmail([]string{to}, subject, html)
}

func renderTemplate(tmpl string, data interface{}) (string, error) {
	t := template.Must(template.New("email").Parse(tmpl))
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const membershipAddedEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>You were added to a case</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #0066cc; padding-bottom: 10px; margin-bottom: 20px; }
        .button { display: inline-block; padding: 12px 24px; background: #0066cc; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
        .link { word-break: break-all; color: #0066cc; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <h2>Hi {{.UserName}},</h2>

    <p>{{.AddedBy}} added you to the case <strong>{{.CaseTitle}}</strong>. You can now view the case, work on drafts, and keep your own notes.</p>

    <p>
        <a href="{{.CaseURL}}" class="button">Open Case</a>
    </p>

    <p>Or copy and paste this link into your browser:</p>
    <p class="link">{{.CaseURL}}</p>

    <div class="footer">
        <p>You receive this email because you are a member of a {{.AppName}} organization.</p>
    </div>
</body>
</html>`

const draftSavedEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Draft saved</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #0066cc; padding-bottom: 10px; margin-bottom: 20px; }
        .button { display: inline-block; padding: 12px 24px; background: #0066cc; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
        .link { word-break: break-all; color: #0066cc; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <h2>Hi {{.UserName}},</h2>

    <p>{{.SavedBy}} saved <strong>version {{.Version}}</strong> of the draft on case <strong>{{.CaseTitle}}</strong>.</p>

    <p>
        <a href="{{.CaseURL}}" class="button">Review Draft</a>
    </p>

    <p>Or copy and paste this link into your browser:</p>
    <p class="link">{{.CaseURL}}</p>

    <div class="footer">
        <p>You receive this email because you are a member of this case.</p>
    </div>
</body>
</html>`
