package service

import (
	"sync"
	"time"

	"github.com/Finn-ML/aermuse-backend/model"
)

// SignatureStore is an in-memory store for signature requests and their
// signatories. In production, this should be replaced with a database.
//
// Requests and signatories are written by exactly two call paths, the
// orchestrator and the webhook processor; every check-then-transition
// runs under the store lock so a duplicate webhook delivery observes
// the already-advanced state and becomes a no-op.
type SignatureStore struct {
	mu            sync.RWMutex
	requests      map[string]*model.SignatureRequest
	byProviderDoc map[string]string // provider document ID -> request ID
}

func NewSignatureStore() *SignatureStore {
	return &SignatureStore{
		requests:      make(map[string]*model.SignatureRequest),
		byProviderDoc: make(map[string]string),
	}
}

// Create inserts a request together with all its signatories. Signatory
// membership is immutable afterwards; ordinals must be unique per
// request.
func (s *SignatureStore) Create(req *model.SignatureRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.requests[req.ID]; exists {
		return ErrConflict
	}
	seen := make(map[int]bool, len(req.Signatories))
	for _, sig := range req.Signatories {
		if sig.SigningOrder < 1 || seen[sig.SigningOrder] {
			return ErrInvalidTransition
		}
		seen[sig.SigningOrder] = true
	}

	now := time.Now()
	req.CreatedAt = now
	req.UpdatedAt = now
	s.requests[req.ID] = req
	if req.ProviderDocumentID != "" {
		s.byProviderDoc[req.ProviderDocumentID] = req.ID
	}
	return nil
}

// Get returns a copy of the request, or nil if it does not exist.
func (s *SignatureStore) Get(id string) *model.SignatureRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneRequest(s.requests[id])
}

// GetByProviderDocument resolves a request by the provider's document ID
func (s *SignatureStore) GetByProviderDocument(providerDocumentID string) *model.SignatureRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byProviderDoc[providerDocumentID]
	if !ok {
		return nil
	}
	return cloneRequest(s.requests[id])
}

// ListByInitiator returns all requests started by the given user
func (s *SignatureStore) ListByInitiator(userID string) []*model.SignatureRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*model.SignatureRequest
	for _, r := range s.requests {
		if r.InitiatorID == userID {
			result = append(result, cloneRequest(r))
		}
	}
	return result
}

// ListBySignerEmail returns all requests on which the given email is a
// signatory.
func (s *SignatureStore) ListBySignerEmail(email string) []*model.SignatureRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*model.SignatureRequest
	for _, r := range s.requests {
		for _, sig := range r.Signatories {
			if sig.Email == email {
				result = append(result, cloneRequest(r))
				break
			}
		}
	}
	return result
}

// ActivateSignatory flips the signatory at the given ordinal from
// waiting to pending and moves the request to in_progress. Returns
// false with no error when the signatory is already pending or signed,
// which makes duplicate activations safe no-ops.
func (s *SignatureStore) ActivateSignatory(requestID string, order int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[requestID]
	if !ok {
		return false, ErrNotFound
	}
	if req.IsTerminal() {
		return false, ErrConflict
	}

	sig := req.SignatoryByOrder(order)
	if sig == nil {
		return false, ErrNotFound
	}
	if sig.Status != model.SignatoryStatusWaiting {
		// Already pending or signed: duplicate advance, nothing to do
		return false, nil
	}

	if req.SigningOrder == model.OrderSequential {
		for _, other := range req.Signatories {
			if other.SigningOrder < order && other.Status != model.SignatoryStatusSigned {
				return false, ErrInvalidTransition
			}
		}
	}

	sig.Status = model.SignatoryStatusPending
	req.Status = model.RequestStatusInProgress
	req.UpdatedAt = time.Now()
	return true, nil
}

// MarkSigned records that a signatory has signed. Signed-to-signed is a
// safe no-op (false, nil).
func (s *SignatureStore) MarkSigned(requestID string, order int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[requestID]
	if !ok {
		return false, ErrNotFound
	}
	if req.IsTerminal() {
		return false, ErrConflict
	}

	sig := req.SignatoryByOrder(order)
	if sig == nil {
		return false, ErrNotFound
	}
	if sig.Status == model.SignatoryStatusSigned {
		return false, nil
	}

	now := time.Now()
	sig.Status = model.SignatoryStatusSigned
	sig.SignedAt = &now
	req.UpdatedAt = now
	return true, nil
}

// CompleteRequest terminalizes a request as completed and records the
// archived document path.
func (s *SignatureStore) CompleteRequest(requestID, signedDocumentPath string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[requestID]
	if !ok {
		return false, ErrNotFound
	}
	if req.Status == model.RequestStatusCompleted {
		return false, nil
	}
	if req.IsTerminal() {
		return false, ErrConflict
	}

	now := time.Now()
	req.Status = model.RequestStatusCompleted
	req.CompletedAt = &now
	req.SignedDocumentPath = signedDocumentPath
	req.UpdatedAt = now
	return true, nil
}

// CancelRequest terminalizes a non-terminal request as cancelled
func (s *SignatureStore) CancelRequest(requestID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[requestID]
	if !ok {
		return false, ErrNotFound
	}
	if req.IsTerminal() {
		return false, ErrConflict
	}

	req.Status = model.RequestStatusCancelled
	req.UpdatedAt = time.Now()
	return true, nil
}

// ExpireIfPast writes back expired status for a running request whose
// deadline has passed. Expiry is evaluated lazily on read.
func (s *SignatureStore) ExpireIfPast(requestID string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[requestID]
	if !ok {
		return false
	}
	if !req.IsExpired(now) {
		return false
	}

	req.Status = model.RequestStatusExpired
	req.UpdatedAt = now
	return true
}

// Count returns the number of stored requests
func (s *SignatureStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.requests)
}

func cloneRequest(r *model.SignatureRequest) *model.SignatureRequest {
	if r == nil {
		return nil
	}
	out := *r
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		out.CompletedAt = &t
	}
	out.Signatories = make([]*model.Signatory, len(r.Signatories))
	for i, s := range r.Signatories {
		sc := *s
		if s.SignedAt != nil {
			t := *s.SignedAt
			sc.SignedAt = &t
		}
		out.Signatories[i] = &sc
	}
	return &out
}
