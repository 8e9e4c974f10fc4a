package service

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/Finn-ML/aermuse-backend/config"
	"github.com/Finn-ML/aermuse-backend/model"
	"github.com/Finn-ML/aermuse-backend/pkg/logger"
	"github.com/google/uuid"
)

const (
	minSigners = 2
	maxSigners = 10

	defaultRequestTTL = 30 * 24 * time.Hour
)

// SignerInput is one party on a new signature request
type SignerInput struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// CreateRequestInput carries the parameters of a new signing workflow
type CreateRequestInput struct {
	ContractID string        `json:"contract_id"`
	Signers    []SignerInput `json:"signers"`
	Order      string        `json:"signing_order"`
	Message    string        `json:"message"`
	ExpiresAt  *time.Time    `json:"expires_at"`
}

// Orchestrator drives the e-signature workflow: it creates signature
// requests from a contract and an ordered signer list, persists local
// state and exposes cancel/remind operations. Webhook-driven
// transitions live in WebhookProcessor; both share the store's
// check-and-set discipline.
type Orchestrator struct {
	store     *SignatureStore
	contracts *ContractStore
	assembler DocumentAssembler
	provider  SigningProvider
	notifier  NotificationDispatcher
	documents URLSigner
}

func NewOrchestrator(store *SignatureStore, contracts *ContractStore, assembler DocumentAssembler, provider SigningProvider, notifier NotificationDispatcher, documents URLSigner) *Orchestrator {
	return &Orchestrator{
		store:     store,
		contracts: contracts,
		assembler: assembler,
		provider:  provider,
		notifier:  notifier,
		documents: documents,
	}
}

// CreateRequest starts a signing workflow. Creation is all-or-nothing:
// the contract is rendered and uploaded and the provider batch is
// created before anything is persisted locally, so a failure at any
// step leaves zero local rows. An uploaded provider document is cleaned
// up best-effort when a later step aborts.
func (o *Orchestrator) CreateRequest(ctx context.Context, principal model.Principal, input CreateRequestInput) (*model.SignatureRequest, error) {
	log := logger.WithContext(ctx)

	if err := validateSigners(input.Signers); err != nil {
		return nil, err
	}
	order := input.Order
	if order == "" {
		order = model.OrderSequential
	}
	if order != model.OrderSequential && order != model.OrderParallel {
		return nil, &ValidationError{Field: "signing_order", Message: "must be sequential or parallel"}
	}

	contract := o.contracts.Get(input.ContractID)
	if contract == nil {
		return nil, fmt.Errorf("contract %s: %w", input.ContractID, ErrNotFound)
	}
	if contract.OwnerID != principal.UserID {
		return nil, ErrForbidden
	}

	expiresAt := time.Now().Add(defaultRequestTTL)
	if input.ExpiresAt != nil {
		if input.ExpiresAt.Before(time.Now()) {
			return nil, &ValidationError{Field: "expires_at", Message: "must be in the future"}
		}
		expiresAt = *input.ExpiresAt
	}

	// Render before any provider call so a bad contract leaves no
	// orphaned external state
	pdf, err := o.assembler.Render(contract)
	if err != nil {
		return nil, err
	}

	doc, err := o.provider.UploadDocument(ctx, pdf, contract.Title+".pdf")
	if err != nil {
		return nil, err
	}

	batchSigners := make([]BatchSigner, len(input.Signers))
	for i, s := range input.Signers {
		batchSigners[i] = BatchSigner{Name: s.Name, Email: s.Email, Order: i + 1}
	}

	batch, err := o.provider.CreateBatchSignatureRequests(ctx, doc.ID, batchSigners, expiresAt)
	if err != nil {
		o.cleanupDocument(ctx, doc.ID)
		return nil, err
	}

	byOrder := make(map[int]ProviderSigner, len(batch.Signers))
	for _, ps := range batch.Signers {
		byOrder[ps.Order] = ps
	}

	req := &model.SignatureRequest{
		ID:                 uuid.New().String(),
		ContractID:         contract.ID,
		InitiatorID:        principal.UserID,
		InitiatorEmail:     principal.Email,
		ProviderDocumentID: doc.ID,
		Status:             model.RequestStatusPending,
		SigningOrder:       order,
		Message:            input.Message,
		ExpiresAt:          expiresAt,
	}
	for i, s := range input.Signers {
		ps, ok := byOrder[i+1]
		if !ok {
			o.cleanupDocument(ctx, doc.ID)
			return nil, &ProviderError{StatusCode: 502, Message: fmt.Sprintf("batch response missing signer at position %d", i+1)}
		}
		sig := &model.Signatory{
			ID:                uuid.New().String(),
			SignatureRequest:  req.ID,
			ProviderRequestID: ps.RequestID,
			SigningToken:      ps.SigningToken,
			SigningURL:        ps.SigningURL,
			Email:             s.Email,
			Name:              s.Name,
			SigningOrder:      i + 1,
			Status:            model.SignatoryStatusWaiting,
		}
		if u := o.lookupUserID(s.Email); u != "" {
			sig.UserID = u
		}
		req.Signatories = append(req.Signatories, sig)
	}

	if err := o.store.Create(req); err != nil {
		o.cleanupDocument(ctx, doc.ID)
		return nil, err
	}

	// Activate signer #1 in sequential mode, everyone in parallel mode
	activeOrders := []int{1}
	if order == model.OrderParallel {
		activeOrders = activeOrders[:0]
		for i := range input.Signers {
			activeOrders = append(activeOrders, i+1)
		}
	}
	for _, ord := range activeOrders {
		if _, err := o.store.ActivateSignatory(req.ID, ord); err != nil {
			log.Error("failed to activate signatory", "request_id", req.ID, "order", ord, "error", err)
		}
	}

	result := o.store.Get(req.ID)
	for _, sig := range result.ActiveSignatories() {
		effect := signerEffect(TemplateSignatureRequested, result, sig, contract.Title, req.Message)
		o.notifier.Send(effect.Template, effect.Recipient, effect.Vars)
	}

	log.Info("signature request created",
		"request_id", req.ID,
		"contract_id", contract.ID,
		"signing_order", order,
		"signers", len(input.Signers),
	)
	return result, nil
}

// CancelRequest terminalizes a running request. Only the initiator may
// cancel. The provider is not told; issued signing links simply become
// invalid locally and any later webhook for the request is a no-op.
func (o *Orchestrator) CancelRequest(ctx context.Context, principal model.Principal, requestID string) (*model.SignatureRequest, error) {
	req := o.getFresh(requestID)
	if req == nil {
		return nil, ErrNotFound
	}
	if req.InitiatorID != principal.UserID {
		return nil, ErrForbidden
	}

	changed, err := o.store.CancelRequest(requestID)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, ErrConflict
	}

	result := o.store.Get(requestID)
	title := o.contractTitle(result)
	for _, sig := range result.Signatories {
		if sig.Status == model.SignatoryStatusSigned {
			continue
		}
		o.notifier.Send(TemplateRequestCancelled, sig.Email, map[string]string{
			"name":           sig.Name,
			"contract_title": title,
		})
	}

	logger.WithContext(ctx).Info("signature request cancelled", "request_id", requestID)
	return result, nil
}

// Remind resends the signing-request email to one pending signatory.
// Returns ErrNotActive when that signatory is not currently allowed to
// sign, which the HTTP layer reports as a user-visible warning.
func (o *Orchestrator) Remind(ctx context.Context, principal model.Principal, requestID, signatoryID string) error {
	req := o.getFresh(requestID)
	if req == nil {
		return ErrNotFound
	}
	if req.InitiatorID != principal.UserID {
		return ErrForbidden
	}
	if req.IsTerminal() {
		return ErrConflict
	}

	var target *model.Signatory
	for _, sig := range req.Signatories {
		if sig.ID == signatoryID {
			target = sig
			break
		}
	}
	if target == nil {
		return fmt.Errorf("signatory %s: %w", signatoryID, ErrNotFound)
	}
	if target.Status != model.SignatoryStatusPending {
		return ErrNotActive
	}

	o.notifier.Send(TemplateSignatureReminder, target.Email, map[string]string{
		"name":           target.Name,
		"contract_title": o.contractTitle(req),
		"signing_url":    target.SigningURL,
	})
	logger.WithContext(ctx).Info("signature reminder sent", "request_id", requestID, "signatory_id", signatoryID)
	return nil
}

// GetRequest returns one request; the caller must be the initiator or a
// signatory.
func (o *Orchestrator) GetRequest(ctx context.Context, principal model.Principal, requestID string) (*model.SignatureRequest, error) {
	req := o.getFresh(requestID)
	if req == nil {
		return nil, ErrNotFound
	}
	if req.InitiatorID == principal.UserID {
		return req, nil
	}
	for _, sig := range req.Signatories {
		if sig.Email == principal.Email {
			return req, nil
		}
	}
	return nil, ErrNotFound
}

// SignedDocumentURL returns an expiring download link for the executed
// PDF of a completed request. The caller must be the initiator or a
// signatory.
func (o *Orchestrator) SignedDocumentURL(ctx context.Context, principal model.Principal, requestID string) (string, error) {
	req, err := o.GetRequest(ctx, principal, requestID)
	if err != nil {
		return "", err
	}
	if req.Status != model.RequestStatusCompleted || req.SignedDocumentPath == "" {
		return "", ErrNotCompleted
	}

	url, err := o.documents.GetPresignedURL(ctx, req.SignedDocumentPath)
	if err != nil {
		return "", fmt.Errorf("failed to sign document URL: %w", err)
	}
	return url, nil
}

// ListPending returns the caller's requests still in flight
func (o *Orchestrator) ListPending(ctx context.Context, principal model.Principal) []*model.SignatureRequest {
	var result []*model.SignatureRequest
	for _, req := range o.store.ListByInitiator(principal.UserID) {
		fresh := o.getFresh(req.ID)
		if fresh == nil || fresh.IsTerminal() {
			continue
		}
		result = append(result, fresh)
	}
	return result
}

// ListToSign returns running requests on which the caller is an active
// signatory.
func (o *Orchestrator) ListToSign(ctx context.Context, principal model.Principal) []*model.SignatureRequest {
	var result []*model.SignatureRequest
	for _, req := range o.store.ListBySignerEmail(principal.Email) {
		fresh := o.getFresh(req.ID)
		if fresh == nil || fresh.IsTerminal() {
			continue
		}
		for _, sig := range fresh.Signatories {
			if sig.Email == principal.Email && sig.Status == model.SignatoryStatusPending {
				result = append(result, fresh)
				break
			}
		}
	}
	return result
}

// getFresh reads a request with lazy expiry applied: a running request
// past its deadline is written back as expired before being returned.
func (o *Orchestrator) getFresh(requestID string) *model.SignatureRequest {
	o.store.ExpireIfPast(requestID, time.Now())
	return o.store.Get(requestID)
}

// cleanupDocument removes an orphaned provider document after an
// aborted creation. Best-effort: a failed cleanup is logged and the
// document leaks on the provider side.
func (o *Orchestrator) cleanupDocument(ctx context.Context, providerDocumentID string) {
	if err := o.provider.DeleteDocument(ctx, providerDocumentID); err != nil {
		logger.WithContext(ctx).Error("failed to clean up provider document",
			"provider_document_id", providerDocumentID,
			"error", err,
		)
	}
}

func (o *Orchestrator) contractTitle(req *model.SignatureRequest) string {
	if c := o.contracts.Get(req.ContractID); c != nil {
		return c.Title
	}
	return req.ContractID
}

// lookupUserID back-references a signer email to a platform account.
// Purely informational; signers do not need an account.
func (o *Orchestrator) lookupUserID(email string) string {
	if config.GlobalConfig == nil {
		return ""
	}
	if u := config.GlobalConfig.FindUserByEmail(email); u != nil {
		return u.Username
	}
	return ""
}

func validateSigners(signers []SignerInput) error {
	if len(signers) < minSigners {
		return &ValidationError{Field: "signers", Message: fmt.Sprintf("at least %d signers required", minSigners)}
	}
	if len(signers) > maxSigners {
		return &ValidationError{Field: "signers", Message: fmt.Sprintf("at most %d signers allowed", maxSigners)}
	}

	seen := make(map[string]bool, len(signers))
	for i, s := range signers {
		if strings.TrimSpace(s.Name) == "" {
			return &ValidationError{Field: fmt.Sprintf("signers[%d].name", i), Message: "required"}
		}
		addr, err := mail.ParseAddress(s.Email)
		if err != nil || addr.Address != s.Email {
			return &ValidationError{Field: fmt.Sprintf("signers[%d].email", i), Message: "invalid email address"}
		}
		key := strings.ToLower(s.Email)
		if seen[key] {
			return &ValidationError{Field: fmt.Sprintf("signers[%d].email", i), Message: "duplicate email"}
		}
		seen[key] = true
	}
	return nil
}
