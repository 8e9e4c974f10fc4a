package service

import (
	"errors"
	"strings"
	"testing"
)

func TestNotifierSend(t *testing.T) {
	transport := NewMockTransport()
	n := NewNotifier("noreply@aermuse.com", transport)

	n.Send(TemplateSignatureRequested, "signer@example.com", map[string]string{
		"name":           "Alice Artist",
		"contract_title": "Session Agreement",
		"signing_url":    "https://sign.example/t/abc",
		"message":        "Please review.",
	})

	sent := transport.SentMails()
	if len(sent) != 1 {
		t.Fatalf("Expected 1 mail, got %d", len(sent))
	}
	msg := sent[0]
	if msg.From != "noreply@aermuse.com" {
		t.Errorf("Unexpected sender: %s", msg.From)
	}
	if len(msg.To) != 1 || msg.To[0] != "signer@example.com" {
		t.Errorf("Unexpected recipients: %v", msg.To)
	}
	if !strings.Contains(msg.Subject, "Session Agreement") {
		t.Errorf("Expected contract title in subject, got %q", msg.Subject)
	}
	body := string(msg.Text)
	if !strings.Contains(body, "Alice Artist") || !strings.Contains(body, "https://sign.example/t/abc") {
		t.Errorf("Expected name and signing URL in body, got %q", body)
	}
}

func TestNotifierUnknownTemplate(t *testing.T) {
	transport := NewMockTransport()
	n := NewNotifier("noreply@aermuse.com", transport)

	n.Send("no_such_template", "signer@example.com", nil)

	if len(transport.SentMails()) != 0 {
		t.Error("Expected no mail for unknown template")
	}
}

func TestNotifierTransportFailureIsSwallowed(t *testing.T) {
	transport := NewMockTransport()
	transport.Err = errors.New("dial tcp: connection refused")
	n := NewNotifier("noreply@aermuse.com", transport)

	// Must not panic or propagate
	n.Send(TemplateRequestCancelled, "signer@example.com", map[string]string{
		"name":           "Bob",
		"contract_title": "Agreement",
	})

	if len(transport.SentMails()) != 0 {
		t.Error("Expected no recorded mail when transport fails")
	}
}

func TestComposeTemplateCoversAllTemplates(t *testing.T) {
	vars := map[string]string{
		"name":           "Alice",
		"contract_title": "Agreement",
		"signing_url":    "https://sign.example/t/abc",
		"document_url":   "contracts/u/c/signed.pdf",
		"message":        "hi",
	}
	for _, name := range []string{
		TemplateSignatureRequested,
		TemplateSignatureReminder,
		TemplateNextSigner,
		TemplateRequestCompleted,
		TemplateRequestCancelled,
	} {
		subject, body, ok := composeTemplate(name, vars)
		if !ok {
			t.Errorf("Template %s not composable", name)
			continue
		}
		if subject == "" || body == "" {
			t.Errorf("Template %s produced empty output", name)
		}
		if !strings.Contains(body, "Alice") {
			t.Errorf("Template %s missing recipient name", name)
		}
	}
}
