package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/convoca/sealedbid/internal/services"
)

type AccountHandler struct {
	accounts          *services.AccountService
	passwordMinLength int
	logger            *zap.Logger
}

func NewAccountHandler(accounts *services.AccountService, passwordMinLength int, logger *zap.Logger) *AccountHandler {
	return &AccountHandler{
		accounts:          accounts,
		passwordMinLength: passwordMinLength,
		logger:            logger.With(zap.String("handler", "accounts")),
	}
}

type createAccountRequest struct {
	BidderID string `json:"bidder_id" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *AccountHandler) Create(c *gin.Context) {
	var req createAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.String(http.StatusBadRequest, "bidder_id and password are required")
		return
	}
	if len(req.Password) < h.passwordMinLength {
		c.String(http.StatusBadRequest, "password too short")
		return
	}

	if err := h.accounts.Create(c.Request.Context(), req.BidderID, req.Password); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"ok": true, "created": req.BidderID})
}

func (h *AccountHandler) List(c *gin.Context) {
	ids, err := h.accounts.List(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	accounts := make([]gin.H, 0, len(ids))
	for _, id := range ids {
		accounts = append(accounts, gin.H{"bidder_id": id})
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "accounts": accounts})
}
