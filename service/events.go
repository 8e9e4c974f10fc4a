package service

import (
	"encoding/json"
	"fmt"

	"github.com/Finn-ML/aermuse-backend/model"
)

// Webhook event kinds emitted by the signing provider
const (
	EventSignatureCompleted = "signature.completed"
	EventNextSignerReady    = "signature.next_signer_ready"
	EventDocumentCompleted  = "document.completed"
)

// WebhookEvent is the parsed provider callback payload
type WebhookEvent struct {
	Kind            string `json:"event"`
	DocumentID      string `json:"document_id"`
	SignerRequestID string `json:"request_id,omitempty"`
}

// ParseWebhookEvent decodes and validates a provider callback payload
func ParseWebhookEvent(payload []byte) (*WebhookEvent, error) {
	var ev WebhookEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, &ValidationError{Field: "payload", Message: fmt.Sprintf("invalid JSON: %v", err)}
	}
	if ev.DocumentID == "" {
		return nil, &ValidationError{Field: "document_id", Message: "required"}
	}
	switch ev.Kind {
	case EventSignatureCompleted, EventNextSignerReady:
		if ev.SignerRequestID == "" {
			return nil, &ValidationError{Field: "request_id", Message: "required"}
		}
	case EventDocumentCompleted:
	default:
		return nil, &ValidationError{Field: "event", Message: fmt.Sprintf("unknown event kind %q", ev.Kind)}
	}
	return &ev, nil
}

// SideEffect is a notification to dispatch after a committed transition.
// Transitions are computed first and effects dispatched only for the
// transitions that actually happened, so a duplicate delivery produces
// no duplicate mail.
type SideEffect struct {
	Template  string
	Recipient string
	Vars      map[string]string
}

// nextActivatableOrdinal returns the lowest waiting ordinal whose
// predecessors have all signed, or 0 when there is nothing to advance.
// Only sequential requests ever advance. Computing this from the full
// chain rather than from the ordinal that just signed keeps the advance
// idempotent: any delivery, original or redelivered, lands on the same
// answer.
func nextActivatableOrdinal(req *model.SignatureRequest) int {
	if req.SigningOrder != model.OrderSequential {
		return 0
	}
	for ord := 1; ; ord++ {
		sig := req.SignatoryByOrder(ord)
		if sig == nil {
			return 0
		}
		switch sig.Status {
		case model.SignatoryStatusSigned:
		case model.SignatoryStatusWaiting:
			return ord
		default:
			// An unsigned predecessor is still pending; nothing to do
			return 0
		}
	}
}

// signerEffect builds the notification for one signatory
func signerEffect(template string, req *model.SignatureRequest, sig *model.Signatory, contractTitle, message string) SideEffect {
	return SideEffect{
		Template:  template,
		Recipient: sig.Email,
		Vars: map[string]string{
			"name":           sig.Name,
			"contract_title": contractTitle,
			"signing_url":    sig.SigningURL,
			"message":        message,
		},
	}
}
