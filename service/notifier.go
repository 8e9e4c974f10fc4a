package service

import (
	"fmt"
	"log/slog"
	"net/smtp"
	"sync"

	"github.com/Finn-ML/aermuse-backend/config"
	"github.com/jordan-wright/email"
)

// Notification template names
const (
	TemplateSignatureRequested = "signature_requested"
	TemplateSignatureReminder  = "signature_reminder"
	TemplateNextSigner         = "next_signer"
	TemplateRequestCompleted   = "request_completed"
	TemplateRequestCancelled   = "request_cancelled"
)

// NotificationDispatcher sends templated emails at workflow transitions.
// Dispatch is best-effort: failures are logged and never propagated.
type NotificationDispatcher interface {
	Send(templateName, recipientEmail string, vars map[string]string)
}

// MailTransport delivers a composed message
type MailTransport interface {
	SendMail(msg *email.Email) error
}

// SMTPTransport delivers over plain SMTP with optional auth
type SMTPTransport struct {
	addr string
	auth smtp.Auth
}

func NewSMTPTransport(cfg *config.SMTPConfig) *SMTPTransport {
	var auth smtp.Auth
	if cfg.User != "" {
		auth = smtp.PlainAuth("", cfg.User, cfg.Pass, cfg.Host)
	}
	return &SMTPTransport{
		addr: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		auth: auth,
	}
}

func (t *SMTPTransport) SendMail(msg *email.Email) error {
	return msg.Send(t.addr, t.auth)
}

// MockTransport records sent mail for tests
type MockTransport struct {
	mu   sync.Mutex
	sent []*email.Email
	Err  error
}

func NewMockTransport() *MockTransport {
	return &MockTransport{}
}

func (t *MockTransport) SendMail(msg *email.Email) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Err != nil {
		return t.Err
	}
	t.sent = append(t.sent, msg)
	return nil
}

func (t *MockTransport) SentMails() []*email.Email {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*email.Email(nil), t.sent...)
}

// Notifier composes and dispatches workflow emails
type Notifier struct {
	sender    string
	transport MailTransport
}

func NewNotifier(sender string, transport MailTransport) *Notifier {
	return &Notifier{sender: sender, transport: transport}
}

// Send composes the named template and dispatches it. Unknown template
// names and transport failures are logged, not returned.
func (n *Notifier) Send(templateName, recipientEmail string, vars map[string]string) {
	subject, body, ok := composeTemplate(templateName, vars)
	if !ok {
		slog.Error("unknown notification template", "template", templateName)
		return
	}

	msg := email.NewEmail()
	msg.From = n.sender
	msg.To = []string{recipientEmail}
	msg.Subject = subject
	msg.Text = []byte(body)

	if err := n.transport.SendMail(msg); err != nil {
		slog.Error("failed to send notification",
			"template", templateName,
			"recipient", recipientEmail,
			"error", err,
		)
		return
	}

	slog.Info("notification sent", "template", templateName, "recipient", recipientEmail)
}

func composeTemplate(templateName string, vars map[string]string) (subject, body string, ok bool) {
	title := vars["contract_title"]
	switch templateName {
	case TemplateSignatureRequested:
		subject = fmt.Sprintf("Signature requested: %s", title)
		body = fmt.Sprintf("Hi %s,\n\nYou have been asked to sign \"%s\".\n\nSign here: %s\n\n%s",
			vars["name"], title, vars["signing_url"], vars["message"])
	case TemplateSignatureReminder:
		subject = fmt.Sprintf("Reminder: %s is waiting for your signature", title)
		body = fmt.Sprintf("Hi %s,\n\nThis is a reminder to sign \"%s\".\n\nSign here: %s",
			vars["name"], title, vars["signing_url"])
	case TemplateNextSigner:
		subject = fmt.Sprintf("Your turn to sign: %s", title)
		body = fmt.Sprintf("Hi %s,\n\nIt is now your turn to sign \"%s\".\n\nSign here: %s",
			vars["name"], title, vars["signing_url"])
	case TemplateRequestCompleted:
		subject = fmt.Sprintf("Fully signed: %s", title)
		body = fmt.Sprintf("Hi %s,\n\nAll parties have signed \"%s\".\n\nDownload the executed document: %s",
			vars["name"], title, vars["document_url"])
	case TemplateRequestCancelled:
		subject = fmt.Sprintf("Cancelled: %s", title)
		body = fmt.Sprintf("Hi %s,\n\nThe signature request for \"%s\" was cancelled. The signing link is no longer valid.",
			vars["name"], title)
	default:
		return "", "", false
	}
	return subject, body, true
}
