package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/convoca/sealedbid/internal/db/models"
	"github.com/convoca/sealedbid/internal/ws"
)

type NotificationService struct {
	db     *gorm.DB
	logger *zap.Logger
	hub    *ws.Hub
}

type SubmissionResult struct {
	SubmissionID string               `json:"submission_id"`
	BidderID     string               `json:"bidder_identifier"`
	Decision     models.DecisionValue `json:"decision"`
}

type CallSummary struct {
	CallID   string             `json:"call_id"`
	Selected string             `json:"selected"`
	Notes    string             `json:"notes,omitempty"`
	Results  []SubmissionResult `json:"results"`
}

func NewNotificationService(db *gorm.DB, logger *zap.Logger, hub *ws.Hub) *NotificationService {
	return &NotificationService{
		db:     db,
		logger: logger.With(zap.String("service", "notification_service")),
		hub:    hub,
	}
}

// FanOut appends one notification row per distinct bidder among the
// call's submissions, then pushes best-effort live events. Rows are the
// durable record; a dropped event is recoverable by re-reading them.
func (ns *NotificationService) FanOut(ctx context.Context, decision *models.Decision, submissions []models.Submission) error {
	decided := make(map[string]models.DecisionValue)
	for _, sub := range submissions {
		if sub.BidderID == "" {
			continue
		}
		if sub.SubmissionID == decision.SubmissionID {
			decided[sub.BidderID] = models.DecisionAccepted
		} else if _, ok := decided[sub.BidderID]; !ok {
			decided[sub.BidderID] = models.DecisionRejected
		}
	}

	for bidderID, value := range decided {
		row := &models.Notification{
			NotificationID: uuid.New().String(),
			BidderID:       bidderID,
			CallID:         decision.CallID,
			SubmissionID:   decision.SubmissionID,
			Decision:       value,
			Notes:          decision.Notes,
		}
		if err := ns.db.WithContext(ctx).Create(row).Error; err != nil {
			return fmt.Errorf("notification insert for %s: %w", bidderID, err)
		}
	}

	ns.logger.Info("Decision fan-out complete",
		zap.String("call_id", decision.CallID),
		zap.String("selected", decision.SubmissionID),
		zap.Int("bidders", len(decided)))

	if ns.hub != nil {
		for bidderID, value := range decided {
			ns.hub.SendToBidder(bidderID, ws.Event{
				Type:         ws.EventAccepted,
				CallID:       decision.CallID,
				SubmissionID: decision.SubmissionID,
				BidderID:     bidderID,
				Decision:     string(value),
			})
		}
	}
	return nil
}

// ListForBidder returns a bidder's notifications, optionally filtered
// by call.
func (ns *NotificationService) ListForBidder(ctx context.Context, bidderID, callID string) ([]models.Notification, error) {
	query := ns.db.WithContext(ctx).Where("bidder_id = ?", bidderID)
	if callID != "" {
		query = query.Where("call_id = ?", callID)
	}
	var rows []models.Notification
	if err := query.Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ListForCall builds the per-call summary: the selected submission and
// each submission's decision.
func (ns *NotificationService) ListForCall(ctx context.Context, callID string) (*CallSummary, error) {
	var decision models.Decision
	err := ns.db.WithContext(ctx).Where("call_id = ?", callID).First(&decision).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: no decision for call %s", ErrNotFound, callID)
	}
	if err != nil {
		return nil, err
	}

	var subs []models.Submission
	if err := ns.db.WithContext(ctx).
		Where("call_id = ?", callID).
		Order("created_at ASC").
		Find(&subs).Error; err != nil {
		return nil, err
	}

	summary := &CallSummary{
		CallID:   callID,
		Selected: decision.SubmissionID,
		Notes:    decision.Notes,
		Results:  make([]SubmissionResult, 0, len(subs)),
	}
	for _, sub := range subs {
		value := models.DecisionRejected
		if sub.SubmissionID == decision.SubmissionID {
			value = models.DecisionAccepted
		}
		summary.Results = append(summary.Results, SubmissionResult{
			SubmissionID: sub.SubmissionID,
			BidderID:     sub.BidderID,
			Decision:     value,
		})
	}
	return summary, nil
}
