package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/convoca/sealedbid/internal/db/models"
	"github.com/convoca/sealedbid/internal/services"
)

type NotificationHandler struct {
	notifications *services.NotificationService
	accounts      *services.AccountService
	logger        *zap.Logger
}

func NewNotificationHandler(notifications *services.NotificationService, accounts *services.AccountService, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{
		notifications: notifications,
		accounts:      accounts,
		logger:        logger.With(zap.String("handler", "notifications")),
	}
}

type notificationView struct {
	CallID       string    `json:"call_id"`
	SubmissionID string    `json:"submission_id"`
	Decision     string    `json:"decision"`
	Notes        string    `json:"notes,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func notificationViews(rows []models.Notification) []notificationView {
	views := make([]notificationView, 0, len(rows))
	for _, n := range rows {
		views = append(views, notificationView{
			CallID:       n.CallID,
			SubmissionID: n.SubmissionID,
			Decision:     string(n.Decision),
			Notes:        n.Notes,
			CreatedAt:    n.CreatedAt,
		})
	}
	return views
}

// ListSelection serves GET /api/notifications/selection?bidder_id=&call_id=.
// Basic auth, when supplied, must match the bidder's account; it scopes
// the view only and is not an authorization boundary.
func (h *NotificationHandler) ListSelection(c *gin.Context) {
	bidderID := c.Query("bidder_id")
	if bidderID == "" {
		c.String(http.StatusBadRequest, "bidder_id is required")
		return
	}

	if user, pass, hasAuth := c.Request.BasicAuth(); hasAuth {
		ok, err := h.accounts.Authenticate(c.Request.Context(), user, pass)
		if err != nil {
			respondError(c, h.logger, err)
			return
		}
		if !ok || user != bidderID {
			c.String(http.StatusUnauthorized, "invalid credentials")
			return
		}
	}

	rows, err := h.notifications.ListForBidder(c.Request.Context(), bidderID, c.Query("call_id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "notifications": notificationViews(rows)})
}

// ListForBidder serves GET /api/:bidder_id/notifications?call_id=.
func (h *NotificationHandler) ListForBidder(c *gin.Context) {
	rows, err := h.notifications.ListForBidder(c.Request.Context(), c.Param("bidder_id"), c.Query("call_id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "notifications": notificationViews(rows)})
}

// ByCall serves the per-call summary with the selected submission and
// per-submission decisions.
func (h *NotificationHandler) ByCall(c *gin.Context) {
	summary, err := h.notifications.ListForCall(c.Request.Context(), c.Param("call_id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "summary": summary})
}
