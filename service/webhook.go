package service

import (
	"context"
	"fmt"

	"github.com/Finn-ML/aermuse-backend/model"
	"github.com/Finn-ML/aermuse-backend/pkg/logger"
)

// WebhookProcessor applies provider callbacks to local state.
//
// Delivery is at-least-once, so every transition is a compare-and-set
// in the store: a duplicate or late event observes the already-advanced
// state and acknowledges without changing anything. Failures after
// signature verification surface as errors so the HTTP layer returns
// 5xx and the provider redelivers.
type WebhookProcessor struct {
	store     *SignatureStore
	contracts *ContractStore
	provider  SigningProvider
	storage   FileStorage
	notifier  NotificationDispatcher
	secret    string
}

func NewWebhookProcessor(store *SignatureStore, contracts *ContractStore, provider SigningProvider, storage FileStorage, notifier NotificationDispatcher, secret string) *WebhookProcessor {
	return &WebhookProcessor{
		store:     store,
		contracts: contracts,
		provider:  provider,
		storage:   storage,
		notifier:  notifier,
		secret:    secret,
	}
}

// Process verifies and applies one provider callback. The returned
// error maps to the HTTP response: ErrAuthenticity to 401,
// ValidationError to 400, ErrNotFound to 404, anything else to 5xx.
// A nil return means accepted, including idempotent no-ops.
func (p *WebhookProcessor) Process(ctx context.Context, payload []byte, signature string) error {
	log := logger.WithContext(ctx)

	if !VerifyWebhookSignature(p.secret, payload, signature) {
		log.Warn("webhook signature mismatch")
		return ErrAuthenticity
	}

	event, err := ParseWebhookEvent(payload)
	if err != nil {
		return err
	}

	req := p.store.GetByProviderDocument(event.DocumentID)
	if req == nil {
		return fmt.Errorf("document %s: %w", event.DocumentID, ErrNotFound)
	}

	// Terminal requests never transition again; duplicate and
	// late-arriving deliveries stop here.
	if req.IsTerminal() {
		log.Info("webhook for terminal request ignored",
			"request_id", req.ID,
			"status", req.Status,
			"event", event.Kind,
		)
		return nil
	}

	var effects []SideEffect
	switch event.Kind {
	case EventSignatureCompleted:
		effects, err = p.applySignatureCompleted(req, event)
	case EventNextSignerReady:
		effects, err = p.applyNextSignerReady(req, event)
	case EventDocumentCompleted:
		effects, err = p.applyDocumentCompleted(ctx, req)
	}
	if err != nil {
		return err
	}

	for _, effect := range effects {
		p.notifier.Send(effect.Template, effect.Recipient, effect.Vars)
	}
	return nil
}

// applySignatureCompleted records one signer's signature and, for
// sequential requests, activates the lowest signable ordinal.
func (p *WebhookProcessor) applySignatureCompleted(req *model.SignatureRequest, event *WebhookEvent) ([]SideEffect, error) {
	sig := req.SignatoryByProviderID(event.SignerRequestID)
	if sig == nil {
		return nil, fmt.Errorf("signer request %s: %w", event.SignerRequestID, ErrNotFound)
	}

	_, err := p.store.MarkSigned(req.ID, sig.SigningOrder)
	if err == ErrConflict {
		// Lost the race against a concurrent terminal transition
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	// Attempt the advance on every delivery, not only the one that
	// committed the mark. Events arrive in any order, so an earlier
	// delivery may have recorded a later signer while its predecessor
	// was still unsigned; the redelivery is what moves the chain.
	fresh := p.store.Get(req.ID)
	next := nextActivatableOrdinal(fresh)
	if next == 0 {
		return nil, nil
	}
	return p.activateOrdinal(fresh, next)
}

// applyNextSignerReady activates the named signer. The provider may
// emit this independently of signature.completed; both paths converge
// on the same activate-if-waiting transition.
func (p *WebhookProcessor) applyNextSignerReady(req *model.SignatureRequest, event *WebhookEvent) ([]SideEffect, error) {
	sig := req.SignatoryByProviderID(event.SignerRequestID)
	if sig == nil {
		return nil, fmt.Errorf("signer request %s: %w", event.SignerRequestID, ErrNotFound)
	}
	return p.activateOrdinal(req, sig.SigningOrder)
}

func (p *WebhookProcessor) activateOrdinal(req *model.SignatureRequest, order int) ([]SideEffect, error) {
	changed, err := p.store.ActivateSignatory(req.ID, order)
	if err == ErrConflict {
		return nil, nil
	}
	if err != nil {
		// ErrInvalidTransition: an earlier ordinal has not signed yet,
		// likely out-of-order delivery. Fail so the provider retries
		// after the earlier event lands.
		return nil, err
	}
	if !changed {
		return nil, nil
	}

	sig := req.SignatoryByOrder(order)
	return []SideEffect{
		signerEffect(TemplateNextSigner, req, sig, p.contractTitle(req), req.Message),
	}, nil
}

// applyDocumentCompleted archives the executed PDF and terminalizes the
// request.
func (p *WebhookProcessor) applyDocumentCompleted(ctx context.Context, req *model.SignatureRequest) ([]SideEffect, error) {
	pdf, err := p.provider.DownloadSignedDocument(ctx, req.ProviderDocumentID)
	if err != nil {
		return nil, fmt.Errorf("failed to download signed document: %w", err)
	}

	path := SignedDocumentPath(req.InitiatorID, req.ContractID)
	if err := p.storage.Put(ctx, path, pdf, "application/pdf"); err != nil {
		return nil, err
	}

	changed, err := p.store.CompleteRequest(req.ID, path)
	if err == ErrConflict {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, nil
	}

	title := p.contractTitle(req)
	effects := make([]SideEffect, 0, len(req.Signatories)+1)
	if req.InitiatorEmail != "" {
		effects = append(effects, SideEffect{
			Template:  TemplateRequestCompleted,
			Recipient: req.InitiatorEmail,
			Vars: map[string]string{
				"name":           req.InitiatorID,
				"contract_title": title,
				"document_url":   path,
			},
		})
	}
	for _, sig := range req.Signatories {
		effects = append(effects, SideEffect{
			Template:  TemplateRequestCompleted,
			Recipient: sig.Email,
			Vars: map[string]string{
				"name":           sig.Name,
				"contract_title": title,
				"document_url":   path,
			},
		})
	}
	return effects, nil
}

func (p *WebhookProcessor) contractTitle(req *model.SignatureRequest) string {
	if c := p.contracts.Get(req.ContractID); c != nil {
		return c.Title
	}
	return req.ContractID
}
