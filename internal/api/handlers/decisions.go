package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/convoca/sealedbid/internal/services"
)

type DecisionHandler struct {
	decisions *services.DecisionService
	logger    *zap.Logger
}

func NewDecisionHandler(decisions *services.DecisionService, logger *zap.Logger) *DecisionHandler {
	return &DecisionHandler{
		decisions: decisions,
		logger:    logger.With(zap.String("handler", "decisions")),
	}
}

type selectRequest struct {
	CallID       string `json:"call_id" form:"call_id" binding:"required"`
	SubmissionID string `json:"submission_id" form:"submission_id" binding:"required"`
	Notes        string `json:"notes" form:"notes"`
}

// Select records the exclusive winner. An AlreadyDecided outcome
// returns 409 with the standing decision so a losing concurrent caller
// can tell the expected race result from a server fault.
func (h *DecisionHandler) Select(c *gin.Context) {
	var req selectRequest
	if err := c.ShouldBind(&req); err != nil {
		c.String(http.StatusBadRequest, "call_id and submission_id are required")
		return
	}

	decision, err := h.decisions.Select(c.Request.Context(), req.CallID, req.SubmissionID, req.Notes)
	if err != nil {
		if errors.Is(err, services.ErrAlreadyDecided) {
			existing, getErr := h.decisions.GetDecision(c.Request.Context(), req.CallID)
			if getErr == nil {
				c.JSON(http.StatusConflict, gin.H{
					"ok":    false,
					"error": "already decided",
					"decision": gin.H{
						"call_id":       existing.CallID,
						"submission_id": existing.SubmissionID,
						"decided_at":    existing.DecidedAt,
					},
				})
				return
			}
		}
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok": true,
		"decision": gin.H{
			"call_id":       decision.CallID,
			"submission_id": decision.SubmissionID,
			"notes":         decision.Notes,
			"decided_at":    decision.DecidedAt,
		},
	})
}
