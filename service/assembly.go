package service

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/Finn-ML/aermuse-backend/model"
	"github.com/go-pdf/fpdf"
)

// DocumentAssembler renders a contract record into a signable PDF.
type DocumentAssembler interface {
	Render(contract *model.Contract) ([]byte, error)
}

// RenderError reports a failed PDF render
type RenderError struct {
	ContractID string
	Err        error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("failed to render contract %s: %v", e.ContractID, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// AssemblyService renders contracts with a fixed one-column layout:
// title, parties line, body paragraphs, signature blocks per party.
type AssemblyService struct{}

func NewAssemblyService() *AssemblyService {
	return &AssemblyService{}
}

// Render produces the signable PDF for a contract
func (s *AssemblyService) Render(contract *model.Contract) ([]byte, error) {
	if contract == nil {
		return nil, &RenderError{Err: fmt.Errorf("contract is nil")}
	}
	if strings.TrimSpace(contract.Body) == "" {
		return nil, &RenderError{ContractID: contract.ID, Err: fmt.Errorf("contract body is empty")}
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(contract.Title, true)
	pdf.SetMargins(20, 20, 20)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.MultiCell(0, 8, contract.Title, "", "C", false)
	pdf.Ln(4)

	if contract.Counterparty != "" {
		pdf.SetFont("Helvetica", "I", 10)
		pdf.MultiCell(0, 5, fmt.Sprintf("Between the artist and %s", contract.Counterparty), "", "C", false)
		pdf.Ln(4)
	}

	pdf.SetFont("Helvetica", "", 11)
	for _, paragraph := range strings.Split(contract.Body, "\n\n") {
		paragraph = strings.TrimSpace(paragraph)
		if paragraph == "" {
			continue
		}
		pdf.MultiCell(0, 5.5, paragraph, "", "L", false)
		pdf.Ln(3)
	}

	pdf.Ln(8)
	pdf.SetFont("Helvetica", "", 9)
	pdf.MultiCell(0, 5, fmt.Sprintf("Generated %s", time.Now().Format("2006-01-02")), "", "L", false)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, &RenderError{ContractID: contract.ID, Err: err}
	}
	return buf.Bytes(), nil
}
