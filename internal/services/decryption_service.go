package services

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/convoca/sealedbid/internal/db/models"
	"github.com/convoca/sealedbid/internal/envelope"
	"github.com/convoca/sealedbid/pkg/metrics"
)

// DecryptionService is a stateless function over (stored ciphertext,
// caller-supplied private key). The key is used for the single request
// and discarded; it is never persisted or logged. Decrypted content is
// recomputed fresh per request, never cached.
type DecryptionService struct {
	db      *gorm.DB
	logger  *zap.Logger
	metrics *metrics.MetricsCollector
	timeout time.Duration
}

type ContentEntry struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

type DecryptResult struct {
	Plaintext []byte
	Content   []ContentEntry
}

func NewDecryptionService(db *gorm.DB, logger *zap.Logger, metricsCollector *metrics.MetricsCollector, timeout time.Duration) *DecryptionService {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &DecryptionService{
		db:      db,
		logger:  logger.With(zap.String("service", "decryption_service")),
		metrics: metricsCollector,
		timeout: timeout,
	}
}

func (ds *DecryptionService) loadEnvelope(ctx context.Context, callID, submissionID string) (*envelope.Envelope, error) {
	var parts []models.SubmissionPart
	if err := ds.db.WithContext(ctx).
		Where("call_id = ? AND submission_ref = ?", callID, submissionID).
		Find(&parts).Error; err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: submission %s", ErrNotFound, submissionID)
	}

	byName := make(map[string][]byte, len(parts))
	for _, p := range parts {
		byName[p.Name] = p.Data
	}
	return envelope.DecodeParts(
		byName[envelope.PartMeta],
		byName[envelope.PartPayload],
		byName[envelope.PartWrappedKey],
		byName[envelope.PartNonce],
		byName[envelope.PartTag],
		byName[envelope.PartContentZip],
	)
}

// run bounds CPU-bound crypto work with a wall-clock timeout so
// adversarial inputs cannot hang a worker.
func (ds *DecryptionService) run(ctx context.Context, fn func() (*DecryptResult, error)) (*DecryptResult, error) {
	type outcome struct {
		result *DecryptResult
		err    error
	}
	resultChan := make(chan outcome, 1)

	go func() {
		result, err := fn()
		resultChan <- outcome{result, err}
	}()

	select {
	case out := <-resultChan:
		return out.result, out.err
	case <-time.After(ds.timeout):
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Decrypt unwraps the content key with the supplied private key and
// opens the payload. Unwrap failure reports envelope.ErrKeyMismatch,
// distinct from tag verification failure on the AEAD.
func (ds *DecryptionService) Decrypt(ctx context.Context, callID, submissionID string, privateKeyPEM []byte) (*DecryptResult, error) {
	start := time.Now()
	env, err := ds.loadEnvelope(ctx, callID, submissionID)
	if err != nil {
		return nil, err
	}

	result, err := ds.run(ctx, func() (*DecryptResult, error) {
		key, err := envelope.UnwrapKey(privateKeyPEM, env.WrappedKey)
		if err != nil {
			return nil, err
		}
		plaintext, err := envelope.OpenPayload(key, env.Nonce, env.Tag, env.Payload)
		if err != nil {
			return nil, err
		}
		res := &DecryptResult{Plaintext: plaintext}
		if len(env.ContentZip) > 0 {
			contentZip, err := envelope.OpenContentZip(key, env.ContentZip)
			if err != nil {
				return nil, err
			}
			entries, err := listZipEntries(contentZip)
			if err != nil {
				return nil, err
			}
			res.Content = entries
		}
		return res, nil
	})
	if err != nil {
		if errors.Is(err, envelope.ErrKeyMismatch) || errors.Is(err, envelope.ErrTagVerificationFailed) {
			// Log the failure class only; no key material, no partial plaintext.
			ds.logger.Warn("Decryption failed",
				zap.String("call_id", callID),
				zap.String("submission_id", submissionID),
				zap.String("reason", err.Error()))
			ds.metrics.IncrementCounter("decryption_service.failures", nil)
		}
		return nil, err
	}

	ds.metrics.ObserveLatency("decryption_service.decrypt", time.Since(start))
	return result, nil
}

// ListContent enumerates the decrypted content.zip entries as relative
// paths and sizes.
func (ds *DecryptionService) ListContent(ctx context.Context, callID, submissionID string, privateKeyPEM []byte) ([]ContentEntry, error) {
	result, err := ds.Decrypt(ctx, callID, submissionID, privateKeyPEM)
	if err != nil {
		return nil, err
	}
	if result.Content == nil {
		return nil, fmt.Errorf("%w: submission has no content.zip", ErrNotFound)
	}
	return result.Content, nil
}

// GetContentFile decrypts the content zip and returns one entry's bytes
// by relative path. Path traversal is rejected.
func (ds *DecryptionService) GetContentFile(ctx context.Context, callID, submissionID string, privateKeyPEM []byte, relPath string) ([]byte, error) {
	if err := checkRelPath(relPath); err != nil {
		return nil, err
	}

	env, err := ds.loadEnvelope(ctx, callID, submissionID)
	if err != nil {
		return nil, err
	}
	if len(env.ContentZip) == 0 {
		return nil, fmt.Errorf("%w: submission has no content.zip", ErrNotFound)
	}

	var fileBytes []byte
	_, err = ds.run(ctx, func() (*DecryptResult, error) {
		key, err := envelope.UnwrapKey(privateKeyPEM, env.WrappedKey)
		if err != nil {
			return nil, err
		}
		contentZip, err := envelope.OpenContentZip(key, env.ContentZip)
		if err != nil {
			return nil, err
		}
		data, err := readZipEntry(contentZip, relPath)
		if err != nil {
			return nil, err
		}
		fileBytes = data
		return &DecryptResult{}, nil
	})
	if err != nil {
		return nil, err
	}
	return fileBytes, nil
}

func checkRelPath(relPath string) error {
	if relPath == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	if strings.HasPrefix(relPath, "/") || strings.HasPrefix(relPath, "\\") {
		return fmt.Errorf("%w: absolute paths not allowed", ErrInvalidPath)
	}
	cleaned := path.Clean(relPath)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return fmt.Errorf("%w: path traversal not allowed", ErrInvalidPath)
	}
	return nil
}

func listZipEntries(contentZip []byte) ([]ContentEntry, error) {
	zr, err := zip.NewReader(bytes.NewReader(contentZip), int64(len(contentZip)))
	if err != nil {
		return nil, fmt.Errorf("%w: content.zip is not a readable archive", envelope.ErrMalformedEnvelope)
	}
	entries := make([]ContentEntry, 0, len(zr.File))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		entries = append(entries, ContentEntry{Path: f.Name, Size: int64(f.UncompressedSize64)})
	}
	return entries, nil
}

func readZipEntry(contentZip []byte, relPath string) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(contentZip), int64(len(contentZip)))
	if err != nil {
		return nil, fmt.Errorf("%w: content.zip is not a readable archive", envelope.ErrMalformedEnvelope)
	}
	for _, f := range zr.File {
		if f.Name != relPath {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, fmt.Errorf("%w: content file %s", ErrNotFound, relPath)
}
