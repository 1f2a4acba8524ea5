package handler

import (
	"net/http"

	"github.com/boxsignal/repricer/internal/credits"
	"github.com/boxsignal/repricer/internal/pkg/apperrors"
	"github.com/boxsignal/repricer/internal/pkg/logger"
	"github.com/gin-gonic/gin"
)

type CreditHandler struct {
	ledger credits.Ledger
}

func NewCreditHandler(ledger credits.Ledger) *CreditHandler {
	return &CreditHandler{ledger: ledger}
}

func (h *CreditHandler) Balance(c *gin.Context) {
	orgID := c.Param("org")
	if orgID == "" {
		c.Error(apperrors.NewInvalidRequest("organization id is required"))
		return
	}

	balance, err := h.ledger.Balance(c.Request.Context(), orgID)
	if err != nil {
		c.Error(apperrors.New(apperrors.ErrInternal, err.Error(), err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"organization_id": orgID, "balance": balance})
}

type topUpRequest struct {
	Amount int64 `json:"amount" binding:"required,gt=0"`
}

// TopUp credits an organization's balance. Admin surface; only available
// when the configured ledger supports direct credits.
func (h *CreditHandler) TopUp(c *gin.Context) {
	orgID := c.Param("org")
	if orgID == "" {
		c.Error(apperrors.NewInvalidRequest("organization id is required"))
		return
	}

	var req topUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidRequest("amount must be a positive integer"))
		return
	}

	admin, ok := h.ledger.(credits.AdminLedger)
	if !ok {
		c.Error(apperrors.New(apperrors.ErrInternal, "configured ledger does not support top-ups", nil))
		return
	}

	balance, err := admin.Credit(c.Request.Context(), orgID, req.Amount)
	if err != nil {
		c.Error(apperrors.New(apperrors.ErrInternal, err.Error(), err))
		return
	}
	logger.Info("credits topped up", "org", orgID, "amount", req.Amount, "balance", balance)
	c.JSON(http.StatusOK, gin.H{"organization_id": orgID, "balance": balance})
}
