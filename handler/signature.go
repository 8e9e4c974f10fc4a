package handler

import (
	"errors"
	"net/http"

	"github.com/Finn-ML/aermuse-backend/middleware"
	"github.com/Finn-ML/aermuse-backend/pkg/logger"
	"github.com/Finn-ML/aermuse-backend/service"
	"github.com/gin-gonic/gin"
)

type SignatureHandler struct {
	orchestrator *service.Orchestrator
}

func NewSignatureHandler(orchestrator *service.Orchestrator) *SignatureHandler {
	return &SignatureHandler{orchestrator: orchestrator}
}

// Create starts a new signing workflow for a contract
func (h *SignatureHandler) Create(c *gin.Context) {
	principal := middleware.GetPrincipal(c)

	var input service.CreateRequestInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	req, err := h.orchestrator.CreateRequest(c.Request.Context(), principal, input)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, req)
}

// Get returns one signature request with its signatories
func (h *SignatureHandler) Get(c *gin.Context) {
	principal := middleware.GetPrincipal(c)

	req, err := h.orchestrator.GetRequest(c.Request.Context(), principal, c.Param("id"))
	if err != nil {
		writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, req)
}

// ListPending returns the caller's in-flight requests
func (h *SignatureHandler) ListPending(c *gin.Context) {
	principal := middleware.GetPrincipal(c)
	requests := h.orchestrator.ListPending(c.Request.Context(), principal)
	c.JSON(http.StatusOK, gin.H{"requests": requests})
}

// ListToSign returns requests waiting on the caller's signature
func (h *SignatureHandler) ListToSign(c *gin.Context) {
	principal := middleware.GetPrincipal(c)
	requests := h.orchestrator.ListToSign(c.Request.Context(), principal)
	c.JSON(http.StatusOK, gin.H{"requests": requests})
}

// Cancel terminalizes a running request
func (h *SignatureHandler) Cancel(c *gin.Context) {
	principal := middleware.GetPrincipal(c)

	req, err := h.orchestrator.CancelRequest(c.Request.Context(), principal, c.Param("id"))
	if err != nil {
		writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, req)
}

// Download returns an expiring link to the executed PDF
func (h *SignatureHandler) Download(c *gin.Context) {
	principal := middleware.GetPrincipal(c)

	url, err := h.orchestrator.SignedDocumentURL(c.Request.Context(), principal, c.Param("id"))
	if errors.Is(err, service.ErrNotCompleted) {
		c.JSON(http.StatusConflict, gin.H{"error": "The request is not completed yet"})
		return
	}
	if err != nil {
		writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": url})
}

type RemindRequest struct {
	SignatoryID string `json:"signatory_id" binding:"required"`
}

// Remind resends the signing email to one signatory
func (h *SignatureHandler) Remind(c *gin.Context) {
	principal := middleware.GetPrincipal(c)

	var body RemindRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "signatory_id is required"})
		return
	}

	err := h.orchestrator.Remind(c.Request.Context(), principal, c.Param("id"), body.SignatoryID)
	if errors.Is(err, service.ErrNotActive) {
		c.JSON(http.StatusOK, gin.H{"warning": "This signatory is not currently active; no reminder was sent."})
		return
	}
	if err != nil {
		writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Reminder sent"})
}

// writeServiceError maps service errors to HTTP responses. Provider and
// timeout failures return a generic message; the cause stays in the
// server log.
func writeServiceError(c *gin.Context, err error) {
	var validationErr *service.ValidationError
	var providerErr *service.ProviderError
	var timeoutErr *service.TimeoutError
	var renderErr *service.RenderError

	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": validationErr.Message, "field": validationErr.Field})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	case errors.Is(err, service.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
	case errors.Is(err, service.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "Request is already in a terminal state"})
	case errors.As(err, &timeoutErr):
		logger.WithContext(c.Request.Context()).Error("provider call timed out", "error", err)
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "The signing service is unavailable. Please try again."})
	case errors.As(err, &providerErr):
		logger.WithContext(c.Request.Context()).Error("provider rejected call", "status", providerErr.StatusCode, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "The signing service rejected the request. Please try again."})
	case errors.As(err, &renderErr):
		logger.WithContext(c.Request.Context()).Error("failed to render contract", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to prepare the document"})
	default:
		logger.WithContext(c.Request.Context()).Error("unexpected error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
