package service

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/Finn-ML/aermuse-backend/model"
)

func TestRenderProducesPDF(t *testing.T) {
	svc := NewAssemblyService()

	pdf, err := svc.Render(&model.Contract{
		ID:           "contract-1",
		Title:        "Session Musician Agreement",
		Counterparty: "Blue Note Records",
		Body:         "The artist agrees to perform three sessions.\n\nPayment is due within 30 days.",
		CreatedAt:    time.Now(),
	})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !bytes.HasPrefix(pdf, []byte("%PDF-")) {
		t.Error("Expected output to start with the PDF magic header")
	}
}

func TestRenderNilContract(t *testing.T) {
	svc := NewAssemblyService()

	_, err := svc.Render(nil)
	var renderErr *RenderError
	if !errors.As(err, &renderErr) {
		t.Fatalf("Expected RenderError, got %v", err)
	}
}

func TestRenderEmptyBody(t *testing.T) {
	svc := NewAssemblyService()

	_, err := svc.Render(&model.Contract{ID: "contract-1", Title: "Empty", Body: "   \n  "})
	var renderErr *RenderError
	if !errors.As(err, &renderErr) {
		t.Fatalf("Expected RenderError, got %v", err)
	}
	if renderErr.ContractID != "contract-1" {
		t.Errorf("Expected contract ID in error, got %q", renderErr.ContractID)
	}
}
