package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/Finn-ML/aermuse-backend/model"
)

const testWebhookSecret = "whsec_test"

func newWebhookEnv(t *testing.T) (*testEnv, *WebhookProcessor) {
	t.Helper()
	env := newTestEnv(t)
	proc := NewWebhookProcessor(env.store, env.contracts, env.provider, env.storage, env.notifier, testWebhookSecret)
	return env, proc
}

func signedPayload(t *testing.T, ev WebhookEvent) ([]byte, string) {
	t.Helper()
	payload, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("Failed to marshal event: %v", err)
	}
	return payload, SignWebhookPayload(testWebhookSecret, payload)
}

func deliver(t *testing.T, proc *WebhookProcessor, ev WebhookEvent) error {
	t.Helper()
	payload, sig := signedPayload(t, ev)
	return proc.Process(context.Background(), payload, sig)
}

func TestWebhookSequentialFlow(t *testing.T) {
	env, proc := newWebhookEnv(t)
	req, err := env.orch.CreateRequest(context.Background(), alicePrincipal(), CreateRequestInput{
		ContractID: "contract-1",
		Signers:    twoSigners(),
		Order:      model.OrderSequential,
	})
	if err != nil {
		t.Fatalf("CreateRequest failed: %v", err)
	}
	first := req.SignatoryByOrder(1)
	second := req.SignatoryByOrder(2)

	// Signer 1 signs
	if err := deliver(t, proc, WebhookEvent{
		Kind:            EventSignatureCompleted,
		DocumentID:      req.ProviderDocumentID,
		SignerRequestID: first.ProviderRequestID,
	}); err != nil {
		t.Fatalf("signature.completed for signer 1 failed: %v", err)
	}

	fresh := env.store.Get(req.ID)
	if fresh.SignatoryByOrder(1).Status != model.SignatoryStatusSigned {
		t.Errorf("Expected signer 1 signed, got %s", fresh.SignatoryByOrder(1).Status)
	}
	if fresh.SignatoryByOrder(2).Status != model.SignatoryStatusPending {
		t.Errorf("Expected signer 2 activated, got %s", fresh.SignatoryByOrder(2).Status)
	}
	if got := env.notifier.sentTo(TemplateNextSigner, second.Email); got != 1 {
		t.Errorf("Expected 1 next-signer notification, got %d", got)
	}

	// Signer 2 signs
	if err := deliver(t, proc, WebhookEvent{
		Kind:            EventSignatureCompleted,
		DocumentID:      req.ProviderDocumentID,
		SignerRequestID: second.ProviderRequestID,
	}); err != nil {
		t.Fatalf("signature.completed for signer 2 failed: %v", err)
	}

	// Document completed
	if err := deliver(t, proc, WebhookEvent{
		Kind:       EventDocumentCompleted,
		DocumentID: req.ProviderDocumentID,
	}); err != nil {
		t.Fatalf("document.completed failed: %v", err)
	}

	fresh = env.store.Get(req.ID)
	if fresh.Status != model.RequestStatusCompleted {
		t.Errorf("Expected completed, got %s", fresh.Status)
	}
	if fresh.CompletedAt == nil {
		t.Error("Expected CompletedAt set")
	}
	wantPath := SignedDocumentPath("alice", "contract-1")
	if fresh.SignedDocumentPath != wantPath {
		t.Errorf("Expected signed document path %s, got %s", wantPath, fresh.SignedDocumentPath)
	}
	if _, err := env.storage.Get(context.Background(), wantPath); err != nil {
		t.Errorf("Expected signed PDF archived: %v", err)
	}

	// Everyone hears about completion
	if got := env.notifier.sentTo(TemplateRequestCompleted, "alice@example.com"); got != 1 {
		t.Errorf("Expected completion notice to initiator, got %d", got)
	}
	for _, sig := range fresh.Signatories {
		if got := env.notifier.sentTo(TemplateRequestCompleted, sig.Email); got != 1 {
			t.Errorf("Expected completion notice to %s, got %d", sig.Email, got)
		}
	}
}

func TestWebhookDuplicateDeliveryIsIdempotent(t *testing.T) {
	env, proc := newWebhookEnv(t)
	req, err := env.orch.CreateRequest(context.Background(), alicePrincipal(), CreateRequestInput{
		ContractID: "contract-1",
		Signers:    twoSigners(),
		Order:      model.OrderSequential,
	})
	if err != nil {
		t.Fatalf("CreateRequest failed: %v", err)
	}
	first := req.SignatoryByOrder(1)
	second := req.SignatoryByOrder(2)

	ev := WebhookEvent{
		Kind:            EventSignatureCompleted,
		DocumentID:      req.ProviderDocumentID,
		SignerRequestID: first.ProviderRequestID,
	}
	for i := 0; i < 3; i++ {
		if err := deliver(t, proc, ev); err != nil {
			t.Fatalf("Delivery %d failed: %v", i+1, err)
		}
	}

	// One transition, one notification, no matter how many deliveries
	if got := env.notifier.sentTo(TemplateNextSigner, second.Email); got != 1 {
		t.Errorf("Expected exactly 1 next-signer notification after redeliveries, got %d", got)
	}
	fresh := env.store.Get(req.ID)
	if fresh.SignatoryByOrder(1).Status != model.SignatoryStatusSigned {
		t.Errorf("Expected signer 1 signed, got %s", fresh.SignatoryByOrder(1).Status)
	}
}

func TestWebhookOutOfOrderSignatureCompletedConverges(t *testing.T) {
	env, proc := newWebhookEnv(t)
	req, err := env.orch.CreateRequest(context.Background(), alicePrincipal(), CreateRequestInput{
		ContractID: "contract-1",
		Signers: []SignerInput{
			{Name: "One", Email: "one@example.com"},
			{Name: "Two", Email: "two@example.com"},
			{Name: "Three", Email: "three@example.com"},
		},
		Order: model.OrderSequential,
	})
	if err != nil {
		t.Fatalf("CreateRequest failed: %v", err)
	}

	completed := func(order int) WebhookEvent {
		return WebhookEvent{
			Kind:            EventSignatureCompleted,
			DocumentID:      req.ProviderDocumentID,
			SignerRequestID: req.SignatoryByOrder(order).ProviderRequestID,
		}
	}

	// Signer 2's event lands first: recorded, but signer 3 must not
	// activate while signer 1 is unsigned.
	if err := deliver(t, proc, completed(2)); err != nil {
		t.Fatalf("completed(2) failed: %v", err)
	}
	if env.store.Get(req.ID).SignatoryByOrder(3).Status != model.SignatoryStatusWaiting {
		t.Fatal("Expected signer 3 still waiting behind unsigned signer 1")
	}

	// Signer 1's event closes the gap and the advance jumps to signer 3
	if err := deliver(t, proc, completed(1)); err != nil {
		t.Fatalf("completed(1) failed: %v", err)
	}
	if got := env.store.Get(req.ID).SignatoryByOrder(3).Status; got != model.SignatoryStatusPending {
		t.Fatalf("Expected signer 3 activated after the chain closed, got %s", got)
	}

	// Redeliveries of both events change nothing further
	if err := deliver(t, proc, completed(2)); err != nil {
		t.Fatalf("redelivered completed(2) failed: %v", err)
	}
	if err := deliver(t, proc, completed(1)); err != nil {
		t.Fatalf("redelivered completed(1) failed: %v", err)
	}
	if got := env.notifier.sentTo(TemplateNextSigner, "three@example.com"); got != 1 {
		t.Errorf("Expected exactly 1 next-signer notification to signer 3, got %d", got)
	}
}

func TestWebhookBadSignature(t *testing.T) {
	env, proc := newWebhookEnv(t)
	req, err := env.orch.CreateRequest(context.Background(), alicePrincipal(), CreateRequestInput{
		ContractID: "contract-1",
		Signers:    twoSigners(),
	})
	if err != nil {
		t.Fatalf("CreateRequest failed: %v", err)
	}

	payload, _ := signedPayload(t, WebhookEvent{
		Kind:            EventSignatureCompleted,
		DocumentID:      req.ProviderDocumentID,
		SignerRequestID: req.SignatoryByOrder(1).ProviderRequestID,
	})
	err = proc.Process(context.Background(), payload, "sha256=deadbeef")
	if !errors.Is(err, ErrAuthenticity) {
		t.Fatalf("Expected ErrAuthenticity, got %v", err)
	}

	// Nothing moved
	fresh := env.store.Get(req.ID)
	if fresh.SignatoryByOrder(1).Status != model.SignatoryStatusPending {
		t.Errorf("Expected signer 1 untouched, got %s", fresh.SignatoryByOrder(1).Status)
	}
}

func TestWebhookAfterCancelIsNoOp(t *testing.T) {
	env, proc := newWebhookEnv(t)
	req, err := env.orch.CreateRequest(context.Background(), alicePrincipal(), CreateRequestInput{
		ContractID: "contract-1",
		Signers:    twoSigners(),
	})
	if err != nil {
		t.Fatalf("CreateRequest failed: %v", err)
	}
	if _, err := env.orch.CancelRequest(context.Background(), alicePrincipal(), req.ID); err != nil {
		t.Fatalf("CancelRequest failed: %v", err)
	}
	mails := len(env.notifier.sent)

	if err := deliver(t, proc, WebhookEvent{
		Kind:            EventSignatureCompleted,
		DocumentID:      req.ProviderDocumentID,
		SignerRequestID: req.SignatoryByOrder(1).ProviderRequestID,
	}); err != nil {
		t.Fatalf("Expected webhook on cancelled request acknowledged, got %v", err)
	}

	fresh := env.store.Get(req.ID)
	if fresh.Status != model.RequestStatusCancelled {
		t.Errorf("Expected request to stay cancelled, got %s", fresh.Status)
	}
	if fresh.SignatoryByOrder(1).Status == model.SignatoryStatusSigned {
		t.Error("Expected no signatory transition on cancelled request")
	}
	if len(env.notifier.sent) != mails {
		t.Errorf("Expected no mail from late webhook, got %d extra", len(env.notifier.sent)-mails)
	}
}

func TestWebhookOutOfOrderNextSignerReady(t *testing.T) {
	env, proc := newWebhookEnv(t)
	req, err := env.orch.CreateRequest(context.Background(), alicePrincipal(), CreateRequestInput{
		ContractID: "contract-1",
		Signers:    twoSigners(),
		Order:      model.OrderSequential,
	})
	if err != nil {
		t.Fatalf("CreateRequest failed: %v", err)
	}

	// Signer 1 has not signed; activating signer 2 must fail so the
	// provider redelivers after the earlier event lands.
	err = deliver(t, proc, WebhookEvent{
		Kind:            EventNextSignerReady,
		DocumentID:      req.ProviderDocumentID,
		SignerRequestID: req.SignatoryByOrder(2).ProviderRequestID,
	})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Expected ErrInvalidTransition, got %v", err)
	}
	if env.store.Get(req.ID).SignatoryByOrder(2).Status != model.SignatoryStatusWaiting {
		t.Error("Expected signer 2 still waiting")
	}
}

func TestWebhookUnknownDocument(t *testing.T) {
	_, proc := newWebhookEnv(t)

	err := deliver(t, proc, WebhookEvent{
		Kind:       EventDocumentCompleted,
		DocumentID: "doc-unknown",
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func TestWebhookInvalidPayload(t *testing.T) {
	_, proc := newWebhookEnv(t)

	payload := []byte("{not json")
	err := proc.Process(context.Background(), payload, SignWebhookPayload(testWebhookSecret, payload))
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("Expected ValidationError, got %v", err)
	}
}

func TestWebhookDocumentCompletedStorageFailure(t *testing.T) {
	env, proc := newWebhookEnv(t)
	req, err := env.orch.CreateRequest(context.Background(), alicePrincipal(), CreateRequestInput{
		ContractID: "contract-1",
		Signers:    twoSigners(),
		Order:      model.OrderParallel,
	})
	if err != nil {
		t.Fatalf("CreateRequest failed: %v", err)
	}

	ev := WebhookEvent{Kind: EventDocumentCompleted, DocumentID: req.ProviderDocumentID}

	env.storage.putErr = &StorageError{Path: "x", Err: errors.New("bucket unavailable")}
	if err := deliver(t, proc, ev); err == nil {
		t.Fatal("Expected error when archive fails")
	}
	if env.store.Get(req.ID).Status != model.RequestStatusInProgress {
		t.Errorf("Expected request still in flight after failed archive, got %s", env.store.Get(req.ID).Status)
	}

	// Redelivery after storage recovers converges
	env.storage.putErr = nil
	if err := deliver(t, proc, ev); err != nil {
		t.Fatalf("Expected redelivery to succeed, got %v", err)
	}
	if env.store.Get(req.ID).Status != model.RequestStatusCompleted {
		t.Errorf("Expected completed after redelivery, got %s", env.store.Get(req.ID).Status)
	}
}

func TestWebhookDocumentCompletedDownloadFailure(t *testing.T) {
	env, proc := newWebhookEnv(t)
	req, err := env.orch.CreateRequest(context.Background(), alicePrincipal(), CreateRequestInput{
		ContractID: "contract-1",
		Signers:    twoSigners(),
		Order:      model.OrderParallel,
	})
	if err != nil {
		t.Fatalf("CreateRequest failed: %v", err)
	}

	env.provider.downloadErr = &ProviderError{StatusCode: 502, Message: "provider down"}
	err = deliver(t, proc, WebhookEvent{Kind: EventDocumentCompleted, DocumentID: req.ProviderDocumentID})
	if err == nil {
		t.Fatal("Expected error when download fails")
	}
	if env.store.Get(req.ID).Status == model.RequestStatusCompleted {
		t.Error("Expected request not completed after failed download")
	}
}

func TestParseWebhookEvent(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{"signature completed", `{"event":"signature.completed","document_id":"d1","request_id":"r1"}`, false},
		{"next signer ready", `{"event":"signature.next_signer_ready","document_id":"d1","request_id":"r1"}`, false},
		{"document completed", `{"event":"document.completed","document_id":"d1"}`, false},
		{"missing document id", `{"event":"document.completed"}`, true},
		{"missing request id", `{"event":"signature.completed","document_id":"d1"}`, true},
		{"unknown kind", `{"event":"document.viewed","document_id":"d1"}`, true},
		{"bad json", `{`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseWebhookEvent([]byte(tt.payload))
			if tt.wantErr {
				var validationErr *ValidationError
				if !errors.As(err, &validationErr) {
					t.Errorf("Expected ValidationError, got %v", err)
				}
			} else if err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}
}
