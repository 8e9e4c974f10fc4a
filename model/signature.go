package model

import (
	"time"
)

// SignatureRequest represents one contract-signing workflow.
type SignatureRequest struct {
	ID                 string       `json:"id"`
	ContractID         string       `json:"contract_id"`
	InitiatorID        string       `json:"initiator_id"`
	InitiatorEmail     string       `json:"initiator_email,omitempty"`
	ProviderDocumentID string       `json:"provider_document_id,omitempty"`
	Status             string       `json:"status"` // pending, in_progress, completed, expired, cancelled
	SigningOrder       string       `json:"signing_order"`
	Message            string       `json:"message,omitempty"`
	ExpiresAt          time.Time    `json:"expires_at"`
	CompletedAt        *time.Time   `json:"completed_at,omitempty"`
	SignedDocumentPath string       `json:"signed_document_path,omitempty"`
	Signatories        []*Signatory `json:"signatories"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

// Signatory is one party on a signature request. Membership is fixed at
// creation; signing_order is the 1-based position in the signing sequence.
type Signatory struct {
	ID                string     `json:"id"`
	SignatureRequest  string     `json:"signature_request_id"`
	ProviderRequestID string     `json:"provider_request_id,omitempty"`
	SigningToken      string     `json:"-"`
	SigningURL        string     `json:"signing_url,omitempty"`
	Email             string     `json:"email"`
	Name              string     `json:"name"`
	UserID            string     `json:"user_id,omitempty"`
	SigningOrder      int        `json:"signing_order"`
	Status            string     `json:"status"` // waiting, pending, signed
	SignedAt          *time.Time `json:"signed_at,omitempty"`
}

// SignatureRequest status constants
const (
	RequestStatusPending    = "pending"
	RequestStatusInProgress = "in_progress"
	RequestStatusCompleted  = "completed"
	RequestStatusExpired    = "expired"
	RequestStatusCancelled  = "cancelled"
)

// Signing order modes
const (
	OrderSequential = "sequential"
	OrderParallel   = "parallel"
)

// Signatory status constants
const (
	SignatoryStatusWaiting = "waiting"
	SignatoryStatusPending = "pending"
	SignatoryStatusSigned  = "signed"
)

// IsTerminal reports whether the request has reached a final state.
// Terminal requests never transition again.
func (r *SignatureRequest) IsTerminal() bool {
	switch r.Status {
	case RequestStatusCompleted, RequestStatusExpired, RequestStatusCancelled:
		return true
	}
	return false
}

// IsExpired reports whether the request deadline has passed for a
// still-running request.
func (r *SignatureRequest) IsExpired(now time.Time) bool {
	if r.IsTerminal() {
		return false
	}
	return now.After(r.ExpiresAt)
}

// SignatoryByOrder returns the signatory at the given 1-based position,
// or nil if no such position exists.
func (r *SignatureRequest) SignatoryByOrder(order int) *Signatory {
	for _, s := range r.Signatories {
		if s.SigningOrder == order {
			return s
		}
	}
	return nil
}

// SignatoryByProviderID returns the signatory with the given
// provider-issued request ID, or nil.
func (r *SignatureRequest) SignatoryByProviderID(providerRequestID string) *Signatory {
	for _, s := range r.Signatories {
		if s.ProviderRequestID == providerRequestID {
			return s
		}
	}
	return nil
}

// ActiveSignatories returns the signatories currently allowed to sign.
func (r *SignatureRequest) ActiveSignatories() []*Signatory {
	var active []*Signatory
	for _, s := range r.Signatories {
		if s.Status == SignatoryStatusPending {
			active = append(active, s)
		}
	}
	return active
}

// AllSigned reports whether every signatory has signed.
func (r *SignatureRequest) AllSigned() bool {
	for _, s := range r.Signatories {
		if s.Status != SignatoryStatusSigned {
			return false
		}
	}
	return len(r.Signatories) > 0
}
