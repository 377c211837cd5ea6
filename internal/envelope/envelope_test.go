package envelope

import (
	"archive/zip"
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateKeyPEMs(t *testing.T) (publicPEM, privatePEM []byte) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	pubBytes, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	require.NoError(t, err)
	publicPEM = pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes})

	privBytes, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)
	privatePEM = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privBytes})
	return publicPEM, privatePEM
}

func sealTestEnvelope(t *testing.T, publicPEM []byte, plaintext []byte, opts SealOptions) *Envelope {
	t.Helper()
	env, err := Seal(publicPEM, plaintext, opts)
	require.NoError(t, err)
	require.NoError(t, env.Validate())
	return env
}

func TestSealDecryptRoundTrip(t *testing.T) {
	publicPEM, privatePEM := generateKeyPEMs(t)
	plaintext := []byte("oferta economica: 1.250.000")

	env := sealTestEnvelope(t, publicPEM, plaintext, SealOptions{CallID: "OBRA-001", KeyID: "default"})

	key, err := UnwrapKey(privatePEM, env.WrappedKey)
	require.NoError(t, err)

	recovered, err := OpenPayload(key, env.Nonce, env.Tag, env.Payload)
	require.NoError(t, err)
	assert.Equal(t, plaintext, recovered)
}

func TestDecryptWithWrongKeyFailsAsKeyMismatch(t *testing.T) {
	publicPEM, _ := generateKeyPEMs(t)
	_, otherPrivatePEM := generateKeyPEMs(t)

	env := sealTestEnvelope(t, publicPEM, []byte("secret"), SealOptions{CallID: "OBRA-001", KeyID: "default"})

	_, err := UnwrapKey(otherPrivatePEM, env.WrappedKey)
	assert.ErrorIs(t, err, ErrKeyMismatch)
}

func TestTamperedTagAndPayloadFailVerification(t *testing.T) {
	publicPEM, privatePEM := generateKeyPEMs(t)
	env := sealTestEnvelope(t, publicPEM, []byte("secret"), SealOptions{CallID: "OBRA-001", KeyID: "default"})

	key, err := UnwrapKey(privatePEM, env.WrappedKey)
	require.NoError(t, err)

	flippedTag := append([]byte(nil), env.Tag...)
	flippedTag[0] ^= 0x01
	_, err = OpenPayload(key, env.Nonce, flippedTag, env.Payload)
	assert.ErrorIs(t, err, ErrTagVerificationFailed)

	flippedPayload := append([]byte(nil), env.Payload...)
	flippedPayload[len(flippedPayload)-1] ^= 0x01
	_, err = OpenPayload(key, env.Nonce, env.Tag, flippedPayload)
	assert.ErrorIs(t, err, ErrTagVerificationFailed)
}

func TestArchiveAndPartsFormsAreEquivalent(t *testing.T) {
	publicPEM, _ := generateKeyPEMs(t)
	env := sealTestEnvelope(t, publicPEM, []byte("payload bytes"), SealOptions{
		CallID:           "OBRA-002",
		KeyID:            "default",
		BidderIdentifier: "bidder-a",
	})

	sealed, err := env.EncodeArchive()
	require.NoError(t, err)

	fromArchive, err := DecodeArchive(sealed)
	require.NoError(t, err)

	assert.Equal(t, env.RawMeta, fromArchive.RawMeta)
	assert.Equal(t, env.Payload, fromArchive.Payload)
	assert.Equal(t, env.WrappedKey, fromArchive.WrappedKey)
	assert.Equal(t, env.Nonce, fromArchive.Nonce)
	assert.Equal(t, env.Tag, fromArchive.Tag)
	assert.Equal(t, env.SubmissionID(), fromArchive.SubmissionID())
}

func TestArchiveCarriesExtraEntries(t *testing.T) {
	publicPEM, _ := generateKeyPEMs(t)
	env := sealTestEnvelope(t, publicPEM, []byte("payload"), SealOptions{
		CallID: "OBRA-002",
		KeyID:  "default",
	})
	env.Extra = map[string][]byte{
		PartManifest: []byte(`{"files":["docs/propuesta.txt"]}`),
		PartResult:   []byte(`{"score":null}`),
	}

	sealed, err := env.EncodeArchive()
	require.NoError(t, err)

	decoded, err := DecodeArchive(sealed)
	require.NoError(t, err)
	require.NoError(t, decoded.Validate())
	assert.Equal(t, env.Extra[PartManifest], decoded.Extra[PartManifest])
	assert.Equal(t, env.Extra[PartResult], decoded.Extra[PartResult])
	assert.Equal(t, env.SubmissionID(), decoded.SubmissionID())

	parts := decoded.Parts()
	assert.Contains(t, parts, PartManifest)
	assert.Contains(t, parts, PartResult)
}

func TestSubmissionIDIsDeterministic(t *testing.T) {
	publicPEM, _ := generateKeyPEMs(t)
	env := sealTestEnvelope(t, publicPEM, []byte("payload"), SealOptions{CallID: "OBRA-003", KeyID: "default"})

	again, err := DecodeParts(env.RawMeta, env.Payload, env.WrappedKey, env.Nonce, env.Tag, nil)
	require.NoError(t, err)
	assert.Equal(t, env.SubmissionID(), again.SubmissionID())
	assert.Len(t, env.SubmissionID(), 32)
}

func TestDecodeRejectsMissingParts(t *testing.T) {
	publicPEM, _ := generateKeyPEMs(t)
	env := sealTestEnvelope(t, publicPEM, []byte("payload"), SealOptions{CallID: "OBRA-004", KeyID: "default"})

	_, err := DecodeParts(env.RawMeta, nil, env.WrappedKey, env.Nonce, env.Tag, nil)
	assert.ErrorIs(t, err, ErrMalformedEnvelope)

	_, err = DecodeParts([]byte("not json"), env.Payload, env.WrappedKey, env.Nonce, env.Tag, nil)
	assert.ErrorIs(t, err, ErrMalformedEnvelope)

	_, err = DecodeParts(env.RawMeta, env.Payload, env.WrappedKey, []byte("short"), env.Tag, nil)
	assert.ErrorIs(t, err, ErrMalformedEnvelope)

	_, err = DecodeArchive([]byte("definitely not a zip"))
	assert.ErrorIs(t, err, ErrMalformedEnvelope)
}

func TestDecodeArchiveRejectsIncompleteZip(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(PartMeta)
	require.NoError(t, err)
	_, err = w.Write([]byte(`{"call_id":"X","payload_sha256":"00"}`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	_, err = DecodeArchive(buf.Bytes())
	assert.ErrorIs(t, err, ErrMalformedEnvelope)
}

func TestValidateDetectsHashMismatch(t *testing.T) {
	publicPEM, _ := generateKeyPEMs(t)
	env := sealTestEnvelope(t, publicPEM, []byte("payload"), SealOptions{CallID: "OBRA-005", KeyID: "default"})

	var meta Meta
	require.NoError(t, json.Unmarshal(env.RawMeta, &meta))
	meta.PayloadSHA256 = "deadbeef" + meta.PayloadSHA256[8:]
	rawMeta, err := json.Marshal(meta)
	require.NoError(t, err)

	tampered, err := DecodeParts(rawMeta, env.Payload, env.WrappedKey, env.Nonce, env.Tag, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, tampered.Validate(), ErrHashMismatch)
}

func TestValidateVerifiesDetachedSignature(t *testing.T) {
	publicPEM, _ := generateKeyPEMs(t)
	_, signingKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	env := sealTestEnvelope(t, publicPEM, []byte("signed payload"), SealOptions{
		CallID:     "OBRA-006",
		KeyID:      "default",
		SigningKey: signingKey,
	})
	require.NotEmpty(t, env.Meta.SignerPKHex)

	// A different payload invalidates the signature over the canonical bytes.
	flipped := append([]byte(nil), env.Payload...)
	flipped[0] ^= 0x01

	var meta Meta
	require.NoError(t, json.Unmarshal(env.RawMeta, &meta))
	meta.PayloadSHA256 = sha256Hex(flipped)
	rawMeta, err := json.Marshal(meta)
	require.NoError(t, err)

	tampered, err := DecodeParts(rawMeta, flipped, env.WrappedKey, env.Nonce, env.Tag, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, tampered.Validate(), ErrSignatureInvalid)
}

func TestContentZipRoundTrip(t *testing.T) {
	publicPEM, privatePEM := generateKeyPEMs(t)

	var zipBuf bytes.Buffer
	zw := zip.NewWriter(&zipBuf)
	w, err := zw.Create("docs/propuesta.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("detalle tecnico"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	env := sealTestEnvelope(t, publicPEM, []byte("payload"), SealOptions{
		CallID:     "OBRA-007",
		KeyID:      "default",
		ContentZip: zipBuf.Bytes(),
	})
	require.NotEmpty(t, env.Meta.ContentZipSHA256)

	key, err := UnwrapKey(privatePEM, env.WrappedKey)
	require.NoError(t, err)

	recovered, err := OpenContentZip(key, env.ContentZip)
	require.NoError(t, err)
	assert.Equal(t, zipBuf.Bytes(), recovered)
}
