package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/convoca/sealedbid/internal/db/models"
	"github.com/convoca/sealedbid/pkg/metrics"
)

// DecisionService runs the per-call OPEN -> DECIDED transition. Select
// is exclusive and non-retractable: the first caller wins, concurrent
// callers on the same call get ErrAlreadyDecided.
type DecisionService struct {
	db            *gorm.DB
	logger        *zap.Logger
	metrics       *metrics.MetricsCollector
	notifications *NotificationService

	// Per-call mutexes serialize the decision transition.
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func NewDecisionService(db *gorm.DB, logger *zap.Logger, metricsCollector *metrics.MetricsCollector, notifications *NotificationService) *DecisionService {
	return &DecisionService{
		db:            db,
		logger:        logger.With(zap.String("service", "decision_service")),
		metrics:       metricsCollector,
		notifications: notifications,
		locks:         make(map[string]*sync.Mutex),
	}
}

func (ds *DecisionService) callLock(callID string) *sync.Mutex {
	ds.locksMu.Lock()
	defer ds.locksMu.Unlock()
	lock, ok := ds.locks[callID]
	if !ok {
		lock = &sync.Mutex{}
		ds.locks[callID] = lock
	}
	return lock
}

// Select records the winner. In one transaction the chosen submission
// becomes ACCEPTED, every other submission of the call REJECTED, the
// decision row is inserted and the call is marked decided; notification
// fan-out runs synchronously before Select returns.
func (ds *DecisionService) Select(ctx context.Context, callID, submissionID, notes string) (*models.Decision, error) {
	start := time.Now()

	lock := ds.callLock(callID)
	lock.Lock()
	defer lock.Unlock()

	var call models.Call
	err := ds.db.WithContext(ctx).Where("call_id = ?", callID).First(&call).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: call %s", ErrNotFound, callID)
	}
	if err != nil {
		return nil, err
	}
	if call.DecidedAt != nil {
		return nil, ErrAlreadyDecided
	}

	var winner models.Submission
	err = ds.db.WithContext(ctx).
		Where("call_id = ? AND submission_id = ?", callID, submissionID).
		First(&winner).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: submission %s", ErrNotFound, submissionID)
	}
	if err != nil {
		return nil, err
	}

	decision := &models.Decision{
		CallID:       callID,
		SubmissionID: submissionID,
		Notes:        notes,
		DecidedAt:    time.Now().UTC(),
	}

	txErr := ds.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Submission{}).
			Where("call_id = ? AND submission_id = ?", callID, submissionID).
			Update("status", models.StatusAccepted).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.Submission{}).
			Where("call_id = ? AND submission_id <> ?", callID, submissionID).
			Update("status", models.StatusRejected).Error; err != nil {
			return err
		}
		if err := tx.Create(decision).Error; err != nil {
			return err
		}
		now := decision.DecidedAt
		return tx.Model(&models.Call{}).
			Where("call_id = ?", callID).
			Update("decided_at", &now).Error
	})
	if txErr != nil {
		return nil, txErr
	}

	var subs []models.Submission
	if err := ds.db.WithContext(ctx).Where("call_id = ?", callID).Find(&subs).Error; err != nil {
		return nil, err
	}
	if err := ds.notifications.FanOut(ctx, decision, subs); err != nil {
		// The decision is committed; surface the fan-out failure rather
		// than pretending it happened.
		return decision, err
	}

	ds.metrics.IncrementCounter("decision_service.selected", nil)
	ds.metrics.ObserveLatency("decision_service.select", time.Since(start))
	ds.logger.Info("Winner selected",
		zap.String("call_id", callID),
		zap.String("submission_id", submissionID))

	return decision, nil
}

// GetDecision returns the call's decision, if any.
func (ds *DecisionService) GetDecision(ctx context.Context, callID string) (*models.Decision, error) {
	var decision models.Decision
	err := ds.db.WithContext(ctx).Where("call_id = ?", callID).First(&decision).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: no decision for call %s", ErrNotFound, callID)
	}
	if err != nil {
		return nil, err
	}
	return &decision, nil
}
