package services

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/convoca/sealedbid/internal/db/models"
	"github.com/convoca/sealedbid/pkg/metrics"
)

// KeyService is the key registry: it owns per-call RSA keypairs,
// publishes public keys, and hands the private key to the issuer
// exactly once at call creation. Private keys are never persisted.
type KeyService struct {
	db      *gorm.DB
	logger  *zap.Logger
	metrics *metrics.MetricsCollector
	keyBits int
}

func NewKeyService(db *gorm.DB, logger *zap.Logger, metricsCollector *metrics.MetricsCollector, keyBits int) *KeyService {
	if keyBits < 2048 {
		// OAEP-SHA256 wrapping of a 256-bit key needs a 2048-bit modulus minimum.
		keyBits = 2048
	}
	return &KeyService{
		db:      db,
		logger:  logger.With(zap.String("service", "key_service")),
		metrics: metricsCollector,
		keyBits: keyBits,
	}
}

// CreateCall registers a new call and generates its keypair. The
// returned private key PEM is the only copy; callers must keep it.
func (ks *KeyService) CreateCall(ctx context.Context, callID, keyID string) (*models.Call, []byte, []byte, error) {
	if callID == "" {
		return nil, nil, nil, fmt.Errorf("call_id is required")
	}
	if keyID == "" {
		keyID = "default"
	}

	var existing models.Call
	err := ks.db.WithContext(ctx).Where("call_id = ?", callID).First(&existing).Error
	if err == nil {
		return nil, nil, nil, ErrDuplicateCall
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, nil, err
	}

	// Key ids are globally unique so /keys/{key_id}/rsa_pub.pem stays
	// unambiguous; scope a taken id to the call.
	var taken int64
	if err := ks.db.WithContext(ctx).Model(&models.Call{}).Where("key_id = ?", keyID).Count(&taken).Error; err != nil {
		return nil, nil, nil, err
	}
	if taken > 0 {
		keyID = callID + "-" + keyID
	}

	priv, err := rsa.GenerateKey(rand.Reader, ks.keyBits)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("keypair generation failed: %w", err)
	}

	pubBytes, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, nil, nil, err
	}
	publicPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes})

	privBytes, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, nil, nil, err
	}
	privatePEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privBytes})

	call := &models.Call{
		CallID:       callID,
		KeyID:        keyID,
		PublicKeyPEM: publicPEM,
	}
	if err := ks.db.WithContext(ctx).Create(call).Error; err != nil {
		return nil, nil, nil, err
	}

	ks.metrics.IncrementCounter("key_service.calls_created", nil)
	ks.logger.Info("Call created",
		zap.String("call_id", callID),
		zap.String("key_id", keyID),
		zap.Int("key_bits", ks.keyBits))

	return call, publicPEM, privatePEM, nil
}

// GetPublicKey is a pure read of the PEM-exported public key.
func (ks *KeyService) GetPublicKey(ctx context.Context, keyID string) ([]byte, error) {
	var call models.Call
	err := ks.db.WithContext(ctx).Where("key_id = ?", keyID).First(&call).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return call.PublicKeyPEM, nil
}

func (ks *KeyService) GetCall(ctx context.Context, callID string) (*models.Call, error) {
	var call models.Call
	err := ks.db.WithContext(ctx).Where("call_id = ?", callID).First(&call).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &call, nil
}

func (ks *KeyService) ListCalls(ctx context.Context) ([]models.Call, error) {
	var calls []models.Call
	if err := ks.db.WithContext(ctx).Order("created_at DESC").Find(&calls).Error; err != nil {
		return nil, err
	}
	return calls, nil
}

// MostRecentCall replaces the clients' global "active call" shortcut
// with an explicit query.
func (ks *KeyService) MostRecentCall(ctx context.Context) (*models.Call, error) {
	var call models.Call
	err := ks.db.WithContext(ctx).Order("created_at DESC").First(&call).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &call, nil
}
