package handler

import (
	"net/http"
	"time"

	"github.com/Finn-ML/aermuse-backend/middleware"
	"github.com/Finn-ML/aermuse-backend/model"
	"github.com/Finn-ML/aermuse-backend/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type ContractHandler struct {
	store *service.ContractStore
}

func NewContractHandler() *ContractHandler {
	return &ContractHandler{
		store: service.GetContractStore(),
	}
}

type CreateContractRequest struct {
	Title        string `json:"title" binding:"required"`
	Counterparty string `json:"counterparty"`
	Body         string `json:"body" binding:"required"`
}

// Create authors a new contract record
func (h *ContractHandler) Create(c *gin.Context) {
	principal := middleware.GetPrincipal(c)

	var req CreateContractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title and body are required"})
		return
	}

	contract := &model.Contract{
		ID:           uuid.New().String(),
		OwnerID:      principal.UserID,
		Title:        req.Title,
		Counterparty: req.Counterparty,
		Body:         req.Body,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	h.store.Save(contract)

	c.JSON(http.StatusOK, contract)
}

// List returns all contracts owned by the current user
func (h *ContractHandler) List(c *gin.Context) {
	principal := middleware.GetPrincipal(c)
	contracts := h.store.GetByOwner(principal.UserID)

	result := make([]gin.H, len(contracts))
	for i, contract := range contracts {
		result[i] = gin.H{
			"id":           contract.ID,
			"title":        contract.Title,
			"counterparty": contract.Counterparty,
			"created_at":   contract.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
			"updated_at":   contract.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
		}
	}

	c.JSON(http.StatusOK, gin.H{"contracts": result})
}

// Get returns a single contract
func (h *ContractHandler) Get(c *gin.Context) {
	principal := middleware.GetPrincipal(c)
	id := c.Param("id")

	contract := h.store.Get(id)
	if contract == nil || contract.OwnerID != principal.UserID {
		c.JSON(http.StatusNotFound, gin.H{"error": "Contract not found"})
		return
	}

	c.JSON(http.StatusOK, contract)
}
