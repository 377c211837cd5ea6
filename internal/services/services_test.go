package services

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/convoca/sealedbid/internal/db"
	"github.com/convoca/sealedbid/internal/envelope"
	"github.com/convoca/sealedbid/pkg/metrics"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	database, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	// A pooled second connection to :memory: would see a different,
	// empty database.
	sqlDB, err := database.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.Migrate(database))
	return database
}

type testEnv struct {
	db            *gorm.DB
	keys          *KeyService
	submissions   *SubmissionService
	decryption    *DecryptionService
	decisions     *DecisionService
	notifications *NotificationService
	accounts      *AccountService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	database := newTestDB(t)
	logger := zap.NewNop()
	collector := metrics.NewMetricsCollector()

	notifications := NewNotificationService(database, logger, nil)
	return &testEnv{
		db:            database,
		keys:          NewKeyService(database, logger, collector, 2048),
		submissions:   NewSubmissionService(database, logger, collector, 0),
		decryption:    NewDecryptionService(database, logger, collector, 0),
		decisions:     NewDecisionService(database, logger, collector, notifications),
		notifications: notifications,
		accounts:      NewAccountService(database, logger, 4),
	}
}

func sealFor(t *testing.T, publicPEM []byte, callID, bidderID string, payload []byte) *envelope.Envelope {
	t.Helper()
	env, err := envelope.Seal(publicPEM, payload, envelope.SealOptions{
		CallID:           callID,
		KeyID:            "default",
		BidderIdentifier: bidderID,
	})
	require.NoError(t, err)
	return env
}

func TestCreateCallAndDuplicate(t *testing.T) {
	te := newTestEnv(t)
	ctx := context.Background()

	call, publicPEM, privatePEM, err := te.keys.CreateCall(ctx, "OBRA-001", "")
	require.NoError(t, err)
	require.Equal(t, "OBRA-001", call.CallID)
	require.Equal(t, "default", call.KeyID)
	require.Contains(t, string(publicPEM), "PUBLIC KEY")
	require.Contains(t, string(privatePEM), "PRIVATE KEY")

	_, _, _, err = te.keys.CreateCall(ctx, "OBRA-001", "other")
	require.ErrorIs(t, err, ErrDuplicateCall)
}

func TestCreateCallScopesTakenKeyID(t *testing.T) {
	te := newTestEnv(t)
	ctx := context.Background()

	first, _, _, err := te.keys.CreateCall(ctx, "OBRA-001", "default")
	require.NoError(t, err)
	require.Equal(t, "default", first.KeyID)

	second, _, _, err := te.keys.CreateCall(ctx, "OBRA-002", "default")
	require.NoError(t, err)
	require.Equal(t, "OBRA-002-default", second.KeyID)

	pem1, err := te.keys.GetPublicKey(ctx, "default")
	require.NoError(t, err)
	pem2, err := te.keys.GetPublicKey(ctx, "OBRA-002-default")
	require.NoError(t, err)
	require.NotEqual(t, pem1, pem2)
}

func TestGetPublicKeyNotFound(t *testing.T) {
	te := newTestEnv(t)
	_, err := te.keys.GetPublicKey(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMostRecentCall(t *testing.T) {
	te := newTestEnv(t)
	ctx := context.Background()

	_, _, _, err := te.keys.CreateCall(ctx, "OBRA-001", "")
	require.NoError(t, err)
	_, _, _, err = te.keys.CreateCall(ctx, "OBRA-002", "k2")
	require.NoError(t, err)

	// Nudge ordering: sqlite timestamps can collide within a test.
	require.NoError(t, te.db.Exec(
		`UPDATE calls SET created_at = datetime('now', '+1 hour') WHERE call_id = 'OBRA-002'`).Error)

	recent, err := te.keys.MostRecentCall(ctx)
	require.NoError(t, err)
	require.Equal(t, "OBRA-002", recent.CallID)
}

func TestAcceptStoresAndIsIdempotent(t *testing.T) {
	te := newTestEnv(t)
	ctx := context.Background()

	_, publicPEM, _, err := te.keys.CreateCall(ctx, "OBRA-001", "")
	require.NoError(t, err)

	env := sealFor(t, publicPEM, "OBRA-001", "bidder-a", []byte("oferta"))

	id, err := te.submissions.Accept(ctx, "OBRA-001", env)
	require.NoError(t, err)
	require.Equal(t, env.SubmissionID(), id)

	again, err := te.submissions.Accept(ctx, "OBRA-001", env)
	require.NoError(t, err)
	require.Equal(t, id, again)

	summaries, err := te.submissions.List(ctx, "OBRA-001")
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	require.Equal(t, "bidder-a", summaries[0].BidderID)
	require.Equal(t, "RECEIVED", string(summaries[0].Status))

	names := make([]string, 0, len(summaries[0].Files))
	for _, f := range summaries[0].Files {
		names = append(names, f.Name)
	}
	require.Contains(t, names, envelope.PartMeta)
	require.Contains(t, names, envelope.PartPayload)
	require.Contains(t, names, envelope.PartWrappedKey)
	require.Contains(t, names, envelope.PartNonce)
	require.Contains(t, names, envelope.PartTag)
}

func TestAcceptRejectsHashMismatchBeforeStorage(t *testing.T) {
	te := newTestEnv(t)
	ctx := context.Background()

	_, publicPEM, _, err := te.keys.CreateCall(ctx, "OBRA-001", "")
	require.NoError(t, err)

	env := sealFor(t, publicPEM, "OBRA-001", "bidder-a", []byte("oferta"))
	env.Payload[0] ^= 0x01 // breaks the declared payload_sha256

	_, err = te.submissions.Accept(ctx, "OBRA-001", env)
	require.ErrorIs(t, err, envelope.ErrHashMismatch)

	summaries, err := te.submissions.List(ctx, "OBRA-001")
	require.NoError(t, err)
	require.Empty(t, summaries)
}

func TestAcceptUnknownCallAndMismatchedMeta(t *testing.T) {
	te := newTestEnv(t)
	ctx := context.Background()

	_, publicPEM, _, err := te.keys.CreateCall(ctx, "OBRA-001", "")
	require.NoError(t, err)
	env := sealFor(t, publicPEM, "OBRA-001", "bidder-a", []byte("oferta"))

	_, err = te.submissions.Accept(ctx, "OBRA-999", env)
	require.ErrorIs(t, err, ErrNotFound)

	_, _, _, err = te.keys.CreateCall(ctx, "OBRA-002", "k2")
	require.NoError(t, err)
	_, err = te.submissions.Accept(ctx, "OBRA-002", env)
	require.ErrorIs(t, err, envelope.ErrMalformedEnvelope)
}

func TestAcceptSameCanonicalBytesUnderTwoCalls(t *testing.T) {
	te := newTestEnv(t)
	ctx := context.Background()

	_, publicPEM, _, err := te.keys.CreateCall(ctx, "OBRA-001", "")
	require.NoError(t, err)
	_, _, _, err = te.keys.CreateCall(ctx, "OBRA-002", "k2")
	require.NoError(t, err)

	envA := sealFor(t, publicPEM, "OBRA-001", "bidder-a", []byte("oferta"))
	idA, err := te.submissions.Accept(ctx, "OBRA-001", envA)
	require.NoError(t, err)

	// Same canonical bytes, rewritten meta for the second call. The
	// submission id is derived from the canonical bytes only, so both
	// calls store the same id.
	var meta envelope.Meta
	require.NoError(t, json.Unmarshal(envA.RawMeta, &meta))
	meta.CallID = "OBRA-002"
	rawMetaB, err := json.Marshal(meta)
	require.NoError(t, err)
	envB, err := envelope.DecodeParts(rawMetaB, envA.Payload, envA.WrappedKey, envA.Nonce, envA.Tag, nil)
	require.NoError(t, err)

	idB, err := te.submissions.Accept(ctx, "OBRA-002", envB)
	require.NoError(t, err)
	require.Equal(t, idA, idB)

	for _, callID := range []string{"OBRA-001", "OBRA-002"} {
		summaries, err := te.submissions.List(ctx, callID)
		require.NoError(t, err)
		require.Len(t, summaries, 1)
		require.Len(t, summaries[0].Files, 5)
	}

	// Each call keeps its own meta.json.
	metaA, err := te.submissions.GetPart(ctx, "OBRA-001", idA, envelope.PartMeta)
	require.NoError(t, err)
	metaB, err := te.submissions.GetPart(ctx, "OBRA-002", idB, envelope.PartMeta)
	require.NoError(t, err)
	require.Equal(t, envA.RawMeta, metaA)
	require.Equal(t, rawMetaB, metaB)
}

func TestAcceptValidationTimeout(t *testing.T) {
	te := newTestEnv(t)
	ctx := context.Background()

	_, publicPEM, _, err := te.keys.CreateCall(ctx, "OBRA-001", "")
	require.NoError(t, err)

	// A payload big enough that hashing takes measurable wall time.
	payload := bytes.Repeat([]byte("oferta "), 1<<20)
	env := sealFor(t, publicPEM, "OBRA-001", "bidder-a", payload)

	impatient := NewSubmissionService(te.db, zap.NewNop(), metrics.NewMetricsCollector(), time.Nanosecond)
	_, err = impatient.Accept(ctx, "OBRA-001", env)
	require.ErrorIs(t, err, ErrTimeout)

	summaries, err := te.submissions.List(ctx, "OBRA-001")
	require.NoError(t, err)
	require.Empty(t, summaries)
}

func TestGetPart(t *testing.T) {
	te := newTestEnv(t)
	ctx := context.Background()

	_, publicPEM, _, err := te.keys.CreateCall(ctx, "OBRA-001", "")
	require.NoError(t, err)
	env := sealFor(t, publicPEM, "OBRA-001", "bidder-a", []byte("oferta"))
	id, err := te.submissions.Accept(ctx, "OBRA-001", env)
	require.NoError(t, err)

	payload, err := te.submissions.GetPart(ctx, "OBRA-001", id, envelope.PartPayload)
	require.NoError(t, err)
	require.Equal(t, env.Payload, payload)

	_, err = te.submissions.GetPart(ctx, "OBRA-001", id, "no-such-part.bin")
	require.ErrorIs(t, err, ErrNotFound)
}
