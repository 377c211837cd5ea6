package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/convoca/sealedbid/internal/db/models"
	"github.com/convoca/sealedbid/internal/envelope"
	"github.com/convoca/sealedbid/pkg/metrics"
)

type SubmissionService struct {
	db      *gorm.DB
	logger  *zap.Logger
	metrics *metrics.MetricsCollector
	timeout time.Duration
}

type PartInfo struct {
	Name string
	Size int64
}

type SubmissionSummary struct {
	SubmissionID string
	BidderID     string
	Status       models.SubmissionStatus
	CreatedAt    time.Time
	Files        []PartInfo
}

func NewSubmissionService(db *gorm.DB, logger *zap.Logger, metricsCollector *metrics.MetricsCollector, timeout time.Duration) *SubmissionService {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &SubmissionService{
		db:      db,
		logger:  logger.With(zap.String("service", "submission_service")),
		metrics: metricsCollector,
		timeout: timeout,
	}
}

// Accept validates and durably stores one sealed bid. The submission id
// is derived from the envelope content, so byte-identical resubmission
// returns the existing id instead of creating a second row. Nothing is
// stored unless validation passes.
func (ss *SubmissionService) Accept(ctx context.Context, callID string, env *envelope.Envelope) (string, error) {
	start := time.Now()

	var call models.Call
	err := ss.db.WithContext(ctx).Where("call_id = ?", callID).First(&call).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("%w: call %s", ErrNotFound, callID)
	}
	if err != nil {
		return "", err
	}

	if env.Meta.CallID != callID {
		return "", fmt.Errorf("%w: meta.json call_id %q does not match %q",
			envelope.ErrMalformedEnvelope, env.Meta.CallID, callID)
	}

	// Hash and signature checks are CPU-bound over caller-supplied
	// bytes; bound them by wall clock like the decryption path.
	validated := make(chan error, 1)
	go func() { validated <- env.Validate() }()
	select {
	case err := <-validated:
		if err != nil {
			ss.metrics.IncrementCounter("submission_service.rejected", map[string]string{"call": callID})
			return "", err
		}
	case <-time.After(ss.timeout):
		return "", ErrTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}

	submissionID := env.SubmissionID()

	var existing models.Submission
	err = ss.db.WithContext(ctx).
		Where("call_id = ? AND submission_id = ?", callID, submissionID).
		First(&existing).Error
	if err == nil {
		ss.logger.Info("Idempotent resubmission",
			zap.String("call_id", callID),
			zap.String("submission_id", submissionID))
		return submissionID, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", err
	}

	sub := &models.Submission{
		SubmissionID:     submissionID,
		CallID:           callID,
		BidderID:         env.Meta.BidderIdentifier,
		Status:           models.StatusReceived,
		PayloadSHA256:    env.Meta.PayloadSHA256,
		ContentZipSHA256: env.Meta.ContentZipSHA256,
		SealedZipSHA256:  env.Meta.SealedZipSHA256,
		SignerPKHex:      env.Meta.SignerPKHex,
	}

	txErr := ss.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(sub).Error; err != nil {
			return err
		}
		for name, data := range env.Parts() {
			part := &models.SubmissionPart{
				CallID:        callID,
				SubmissionRef: submissionID,
				Name:          name,
				Size:          int64(len(data)),
				Data:          data,
			}
			if err := tx.Create(part).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if txErr != nil {
		// A concurrent byte-identical submission may have won the race.
		var raced models.Submission
		if ss.db.WithContext(ctx).
			Where("call_id = ? AND submission_id = ?", callID, submissionID).
			First(&raced).Error == nil {
			return submissionID, nil
		}
		return "", txErr
	}

	ss.metrics.IncrementCounter("submission_service.accepted", map[string]string{"call": callID})
	ss.metrics.ObserveSize("submission_service.payload_bytes", float64(len(env.Payload)))
	ss.metrics.ObserveLatency("submission_service.accept", time.Since(start))
	ss.logger.Info("Submission accepted",
		zap.String("call_id", callID),
		zap.String("submission_id", submissionID),
		zap.String("bidder", env.Meta.BidderIdentifier))

	return submissionID, nil
}

// List returns summaries ordered by creation time ascending, with part
// names and sizes but never plaintext.
func (ss *SubmissionService) List(ctx context.Context, callID string) ([]SubmissionSummary, error) {
	var call models.Call
	err := ss.db.WithContext(ctx).Where("call_id = ?", callID).First(&call).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: call %s", ErrNotFound, callID)
	}
	if err != nil {
		return nil, err
	}

	var subs []models.Submission
	if err := ss.db.WithContext(ctx).
		Where("call_id = ?", callID).
		Order("created_at ASC, id ASC").
		Find(&subs).Error; err != nil {
		return nil, err
	}

	summaries := make([]SubmissionSummary, 0, len(subs))
	for _, sub := range subs {
		var parts []models.SubmissionPart
		if err := ss.db.WithContext(ctx).
			Select("name", "size").
			Where("call_id = ? AND submission_ref = ?", callID, sub.SubmissionID).
			Order("name ASC").
			Find(&parts).Error; err != nil {
			return nil, err
		}
		files := make([]PartInfo, 0, len(parts))
		for _, p := range parts {
			files = append(files, PartInfo{Name: p.Name, Size: p.Size})
		}
		summaries = append(summaries, SubmissionSummary{
			SubmissionID: sub.SubmissionID,
			BidderID:     sub.BidderID,
			Status:       sub.Status,
			CreatedAt:    sub.CreatedAt,
			Files:        files,
		})
	}
	return summaries, nil
}

// GetPart reads back the raw bytes of one stored part.
func (ss *SubmissionService) GetPart(ctx context.Context, callID, submissionID, name string) ([]byte, error) {
	var part models.SubmissionPart
	err := ss.db.WithContext(ctx).
		Where("call_id = ? AND submission_ref = ? AND name = ?", callID, submissionID, name).
		First(&part).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: part %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	return part.Data, nil
}

// GetSubmission loads one submission row.
func (ss *SubmissionService) GetSubmission(ctx context.Context, callID, submissionID string) (*models.Submission, error) {
	var sub models.Submission
	err := ss.db.WithContext(ctx).
		Where("call_id = ? AND submission_id = ?", callID, submissionID).
		First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: submission %s", ErrNotFound, submissionID)
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}
