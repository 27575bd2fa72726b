package handler

import (
	"net/http"

	"github.com/cuongbtq/pyrx-compute/internal/api/dto"
	"github.com/cuongbtq/pyrx-compute/internal/compute/domain"
	"github.com/gin-gonic/gin"
)

const maxLedgerEntries = 200

// GetUser handles GET /api/v1/users/:wallet
func (h *AccountHandler) GetUser(c *gin.Context) {
	user, err := h.engine.Balance(c.Request.Context(), c.Param("wallet"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewUserDTO(user))
}

// GetLedger handles GET /api/v1/users/:wallet/ledger
// Returns the wallet's balance mutations, newest first
func (h *AccountHandler) GetLedger(c *gin.Context) {
	var req dto.LedgerRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		badRequest(c, "invalid query parameters")
		return
	}
	if req.Limit <= 0 || req.Limit > maxLedgerEntries {
		req.Limit = maxLedgerEntries
	}

	user, err := h.engine.Balance(c.Request.Context(), c.Param("wallet"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	entries, err := h.engine.Ledger(c.Request.Context(), user.Wallet, req.Limit)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewLedgerResponse(user.Wallet, entries))
}

// GetPricing handles GET /api/v1/pricing
func (h *AccountHandler) GetPricing(c *gin.Context) {
	c.JSON(http.StatusOK, dto.NewPricingResponse(h.engine.Estimator().Table()))
}

// GrantCredits handles POST /api/v1/admin/users/:wallet/credits
func (h *AccountHandler) GrantCredits(c *gin.Context) {
	var req dto.GrantCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "amount is required")
		return
	}

	wallet, err := domain.NormalizeWallet(c.Param("wallet"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	balance, err := h.engine.Grant(c.Request.Context(), wallet, *req.Amount)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, dto.GrantCreditsResponse{
		WalletAddress: wallet,
		Granted:       *req.Amount,
		Credits:       balance,
	})
}
