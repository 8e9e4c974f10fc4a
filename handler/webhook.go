package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/Finn-ML/aermuse-backend/pkg/logger"
	"github.com/Finn-ML/aermuse-backend/service"
	"github.com/gin-gonic/gin"
)

// SignatureHeader carries the provider's HMAC over the raw body
const SignatureHeader = "X-Signature"

const maxWebhookBodyBytes = 1 << 20 // 1MB

type WebhookHandler struct {
	processor *service.WebhookProcessor
}

func NewWebhookHandler(processor *service.WebhookProcessor) *WebhookHandler {
	return &WebhookHandler{processor: processor}
}

// HandleProviderEvent receives callbacks from the signing provider.
// 200 means accepted (including idempotent no-ops), 401 a bad
// signature, 4xx a payload the provider should not redeliver, 5xx a
// transient failure that the provider's redelivery will retry.
func (h *WebhookHandler) HandleProviderEvent(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read body"})
		return
	}

	err = h.processor.Process(c.Request.Context(), body, c.GetHeader(SignatureHeader))
	if err == nil {
		c.JSON(http.StatusOK, gin.H{"message": "Event received"})
		return
	}

	var validationErr *service.ValidationError
	switch {
	case errors.Is(err, service.ErrAuthenticity):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid signature"})
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": validationErr.Error()})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown document"})
	default:
		// Transient processing failure; the provider redelivers
		logger.WithContext(c.Request.Context()).Error("webhook processing failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Processing failed"})
	}
}
