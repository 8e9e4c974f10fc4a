package service

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"mime/multipart"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/Finn-ML/aermuse-backend/config"
)

// SigningProvider is the surface of the external signing service used by
// the orchestrator and the webhook processor.
type SigningProvider interface {
	UploadDocument(ctx context.Context, pdf []byte, filename string) (*ProviderDocument, error)
	CreateBatchSignatureRequests(ctx context.Context, providerDocumentID string, signers []BatchSigner, expiresAt time.Time) (*BatchResponse, error)
	GetSignatureRequest(ctx context.Context, providerRequestID string) (*ProviderRequestStatus, error)
	DownloadSignedDocument(ctx context.Context, providerDocumentID string) ([]byte, error)
	DeleteDocument(ctx context.Context, providerDocumentID string) error
}

// ProviderClient is the HTTP client for the signing provider API.
type ProviderClient struct {
	config     *config.ProviderConfig
	httpClient *http.Client
}

// ProviderDocument is a document accepted by the provider for signing
type ProviderDocument struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
}

// BatchSigner is one signer in a batch signature-request creation call
type BatchSigner struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Order int    `json:"order"`
}

// ProviderSigner is the provider's response for one signer
type ProviderSigner struct {
	RequestID    string `json:"request_id"`
	SigningToken string `json:"signing_token"`
	SigningURL   string `json:"signing_url"`
	Order        int    `json:"order"`
}

// BatchResponse is the provider's response to a batch creation call
type BatchResponse struct {
	DocumentID string           `json:"document_id"`
	Signers    []ProviderSigner `json:"signers"`
}

// ProviderRequestStatus is the provider-side view of one signature request
type ProviderRequestStatus struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"` // pending, signed, expired
	SignedAt  string `json:"signed_at,omitempty"`
}

type batchCreateRequest struct {
	Signers   []BatchSigner `json:"signers"`
	ExpiresAt string        `json:"expires_at"`
	Callback  string        `json:"callback,omitempty"`
}

type registerWebhookRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
}

const retryBaseDelay = 500 * time.Millisecond

func NewProviderClient(cfg *config.ProviderConfig) *ProviderClient {
	return &ProviderClient{
		config: cfg,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSecs) * time.Second,
		},
	}
}

// UploadDocument uploads a rendered PDF via multipart form and returns
// the provider's document reference.
func (s *ProviderClient) UploadDocument(ctx context.Context, pdf []byte, filename string) (*ProviderDocument, error) {
	build := func() (*http.Request, error) {
		var buf bytes.Buffer
		writer := multipart.NewWriter(&buf)
		part, err := writer.CreateFormFile("file", filename)
		if err != nil {
			return nil, fmt.Errorf("failed to create form file: %w", err)
		}
		if _, err := part.Write(pdf); err != nil {
			return nil, fmt.Errorf("failed to write form file: %w", err)
		}
		if err := writer.Close(); err != nil {
			return nil, fmt.Errorf("failed to close multipart writer: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, "POST", s.config.APIURL+"/documents", &buf)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", writer.FormDataContentType())
		return req, nil
	}

	body, err := s.doWithRetry("upload document", build)
	if err != nil {
		return nil, err
	}

	var result ProviderDocument
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w, body: %s", err, string(body))
	}
	if result.ID == "" {
		return nil, &ProviderError{StatusCode: http.StatusBadGateway, Message: "upload response missing document id"}
	}

	return &result, nil
}

// CreateBatchSignatureRequests creates one signature request per signer
// for an uploaded document. The provider issues one signing URL and
// token per signer; signers are matched back by ordinal position.
func (s *ProviderClient) CreateBatchSignatureRequests(ctx context.Context, providerDocumentID string, signers []BatchSigner, expiresAt time.Time) (*BatchResponse, error) {
	reqBody := batchCreateRequest{
		Signers:   signers,
		ExpiresAt: expiresAt.UTC().Format(time.RFC3339),
		Callback:  s.config.CallbackURL,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	build := func() (*http.Request, error) {
		url := fmt.Sprintf("%s/documents/%s/signature-requests/batch", s.config.APIURL, providerDocumentID)
		req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonData))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}

	body, err := s.doWithRetry("create batch signature requests", build)
	if err != nil {
		return nil, err
	}

	var result BatchResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w, body: %s", err, string(body))
	}
	if len(result.Signers) != len(signers) {
		return nil, &ProviderError{
			StatusCode: http.StatusBadGateway,
			Message:    fmt.Sprintf("expected %d signers in response, got %d", len(signers), len(result.Signers)),
		}
	}

	return &result, nil
}

// GetSignatureRequest queries the provider-side status of one request
func (s *ProviderClient) GetSignatureRequest(ctx context.Context, providerRequestID string) (*ProviderRequestStatus, error) {
	build := func() (*http.Request, error) {
		url := fmt.Sprintf("%s/signature-requests/%s", s.config.APIURL, providerRequestID)
		req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		return req, nil
	}

	body, err := s.doWithRetry("get signature request", build)
	if err != nil {
		return nil, err
	}

	var result ProviderRequestStatus
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return &result, nil
}

// DownloadSignedDocument fetches the fully-executed PDF
func (s *ProviderClient) DownloadSignedDocument(ctx context.Context, providerDocumentID string) ([]byte, error) {
	build := func() (*http.Request, error) {
		url := fmt.Sprintf("%s/documents/%s/signed", s.config.APIURL, providerDocumentID)
		req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		return req, nil
	}

	return s.doWithRetry("download signed document", build)
}

// DeleteDocument removes an uploaded document from the provider. Used
// for best-effort cleanup when local creation aborts after upload.
func (s *ProviderClient) DeleteDocument(ctx context.Context, providerDocumentID string) error {
	build := func() (*http.Request, error) {
		url := fmt.Sprintf("%s/documents/%s", s.config.APIURL, providerDocumentID)
		req, err := http.NewRequestWithContext(ctx, "DELETE", url, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		return req, nil
	}

	_, err := s.doWithRetry("delete document", build)
	return err
}

// RegisterWebhook subscribes the callback URL to provider events
func (s *ProviderClient) RegisterWebhook(ctx context.Context, url string, events []string) error {
	jsonData, err := json.Marshal(registerWebhookRequest{URL: url, Events: events})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	build := func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, "POST", s.config.APIURL+"/webhooks", bytes.NewReader(jsonData))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}

	_, err = s.doWithRetry("register webhook", build)
	return err
}

// VerifyWebhookSignature checks the HMAC signature header on a webhook
// payload against the shared secret.
func (s *ProviderClient) VerifyWebhookSignature(payload []byte, signature string) bool {
	return VerifyWebhookSignature(s.config.WebhookSecret, payload, signature)
}

// VerifyWebhookSignature verifies an HMAC-SHA256 signature over the raw
// payload. The header value may carry a "sha256=" prefix. Comparison is
// constant-time.
func VerifyWebhookSignature(secret string, payload []byte, signature string) bool {
	sig := strings.TrimSpace(signature)
	if sig == "" || secret == "" {
		return false
	}
	if strings.HasPrefix(strings.ToLower(sig), "sha256=") {
		sig = sig[len("sha256="):]
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(got, mac.Sum(nil))
}

// SignWebhookPayload computes the signature header value for a payload
func SignWebhookPayload(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// doWithRetry sends a request with a bounded retry loop. Only 5xx
// responses, connection errors and timeouts are retried; 4xx responses
// surface immediately as a ProviderError. The request is rebuilt on
// every attempt so bodies can be re-read.
func (s *ProviderClient) doWithRetry(op string, build func() (*http.Request, error)) ([]byte, error) {
	maxAttempts := s.config.MaxRetries
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(backoffDelay(attempt))
		}

		req, err := build()
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+s.config.APIToken)
		req.Header.Set("Accept", "application/json")

		resp, err := s.httpClient.Do(req)
		if err != nil {
			if !isRetryable(err) {
				return nil, fmt.Errorf("%s: %w", op, err)
			}
			lastErr = err
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response: %w", err)
			continue
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return body, nil
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
			continue
		default:
			return nil, &ProviderError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
		}
	}

	return nil, &TimeoutError{Op: op, Attempts: maxAttempts, Err: lastErr}
}

// backoffDelay returns the exponential backoff with jitter before the
// given attempt (attempt >= 1).
func backoffDelay(attempt int) time.Duration {
	base := retryBaseDelay << (attempt - 1)
	jitter := time.Duration(rand.Int63n(int64(base) / 2))
	return base + jitter
}

// isRetryable reports whether a transport error is worth another
// attempt: timeouts and dropped connections are; everything else
// (cancelled caller, DNS failures, TLS errors) surfaces immediately.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}
