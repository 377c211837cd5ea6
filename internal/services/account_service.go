package services

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/convoca/sealedbid/internal/db/models"
)

// AccountService manages bidder credential records. Accounts only scope
// notification views; they are not an authorization boundary for the
// decision engine or the decryption service.
type AccountService struct {
	db         *gorm.DB
	logger     *zap.Logger
	bcryptCost int
}

func NewAccountService(db *gorm.DB, logger *zap.Logger, bcryptCost int) *AccountService {
	if bcryptCost == 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	return &AccountService{
		db:         db,
		logger:     logger.With(zap.String("service", "account_service")),
		bcryptCost: bcryptCost,
	}
}

func (as *AccountService) Create(ctx context.Context, bidderID, password string) error {
	var existing models.Account
	err := as.db.WithContext(ctx).Where("bidder_id = ?", bidderID).First(&existing).Error
	if err == nil {
		return ErrDuplicateAccount
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), as.bcryptCost)
	if err != nil {
		return err
	}

	account := &models.Account{BidderID: bidderID, PasswordHash: string(hash)}
	if err := as.db.WithContext(ctx).Create(account).Error; err != nil {
		return err
	}

	as.logger.Info("Account created", zap.String("bidder_id", bidderID))
	return nil
}

func (as *AccountService) List(ctx context.Context) ([]string, error) {
	var accounts []models.Account
	if err := as.db.WithContext(ctx).Order("bidder_id ASC").Find(&accounts).Error; err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(accounts))
	for _, a := range accounts {
		ids = append(ids, a.BidderID)
	}
	return ids, nil
}

// Authenticate checks a bidder's password. Used by the notification
// endpoints when credentials are supplied.
func (as *AccountService) Authenticate(ctx context.Context, bidderID, password string) (bool, error) {
	var account models.Account
	err := as.db.WithContext(ctx).Where("bidder_id = ?", bidderID).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return false, nil
	}
	return true, nil
}
