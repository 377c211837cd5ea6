// Package envelope implements the sealed-bid wire format: a hybrid
// RSA-OAEP + AES-256-GCM envelope transmitted either as five discrete
// parts or as a single sealed.zip archive bundling the same entries.
package envelope

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
)

// Canonical part names shared by the five-part form and the archive form.
const (
	PartMeta       = "meta.json"
	PartPayload    = "payload.enc"
	PartWrappedKey = "wrapped_key.bin"
	PartNonce      = "nonce.bin"
	PartTag        = "tag.bin"
	PartContentZip = "content.zip"
	PartSignature  = "signature.bin"
	PartManifest   = "manifest.json"
	PartResult     = "result.json"
)

const (
	// KeySize is the AES content-encryption key size.
	KeySize = 32
	// NonceSize is the GCM nonce size (96 bits).
	NonceSize = 12
	// TagSize is the GCM authentication tag size (128 bits).
	TagSize = 16
)

var (
	ErrMalformedEnvelope     = errors.New("malformed envelope")
	ErrHashMismatch          = errors.New("declared hash does not match part content")
	ErrSignatureInvalid      = errors.New("detached signature verification failed")
	ErrKeyMismatch           = errors.New("wrapped key cannot be unwrapped with the supplied key")
	ErrTagVerificationFailed = errors.New("authentication tag verification failed")
)

// Meta is the meta.json descriptor accompanying the encrypted parts.
type Meta struct {
	CallID           string `json:"call_id"`
	KeyID            string `json:"key_id"`
	BidderIdentifier string `json:"bidder_identifier,omitempty"`
	PayloadSHA256    string `json:"payload_sha256"`
	ContentZipSHA256 string `json:"content_zip_sha256,omitempty"`
	SealedZipSHA256  string `json:"sealed_zip_sha256,omitempty"`
	SignerPKHex      string `json:"signer_pk_hex,omitempty"`
	SignatureB64     string `json:"signature_b64,omitempty"`
}

// Envelope is the canonical in-memory form both wire adapters converge
// on. RawMeta keeps the exact bytes received so archive re-encoding and
// the content-derived submission id are stable.
type Envelope struct {
	Meta       Meta
	RawMeta    []byte
	Payload    []byte
	WrappedKey []byte
	Nonce      []byte
	Tag        []byte
	ContentZip []byte // optional, nonce||ciphertext||tag under the same content key

	// Extra holds other named archive entries (manifest.json,
	// result.json, ...). Stored and listed verbatim; never interpreted.
	Extra map[string][]byte
}

// DecodeParts builds an envelope from the five discrete parts plus the
// optional content.zip blob (nil when absent).
func DecodeParts(meta, payload, wrappedKey, nonce, tag, contentZip []byte) (*Envelope, error) {
	env := &Envelope{
		RawMeta:    meta,
		Payload:    payload,
		WrappedKey: wrappedKey,
		Nonce:      nonce,
		Tag:        tag,
		ContentZip: contentZip,
	}
	if err := env.normalize(); err != nil {
		return nil, err
	}
	return env, nil
}

// DecodeArchive builds an envelope from a sealed.zip containing the
// same named entries. Behaviorally equivalent to DecodeParts.
func DecodeArchive(sealed []byte) (*Envelope, error) {
	zr, err := zip.NewReader(bytes.NewReader(sealed), int64(len(sealed)))
	if err != nil {
		return nil, fmt.Errorf("%w: not a readable zip archive", ErrMalformedEnvelope)
	}

	entries := make(map[string][]byte, len(zr.File))
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: cannot open entry %s", ErrMalformedEnvelope, f.Name)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: cannot read entry %s", ErrMalformedEnvelope, f.Name)
		}
		entries[f.Name] = data
	}

	env, err := DecodeParts(
		entries[PartMeta],
		entries[PartPayload],
		entries[PartWrappedKey],
		entries[PartNonce],
		entries[PartTag],
		entries[PartContentZip],
	)
	if err != nil {
		return nil, err
	}

	known := map[string]bool{
		PartMeta: true, PartPayload: true, PartWrappedKey: true,
		PartNonce: true, PartTag: true, PartContentZip: true,
		PartSignature: true,
	}
	for name, data := range entries {
		if known[name] {
			continue
		}
		if env.Extra == nil {
			env.Extra = make(map[string][]byte)
		}
		env.Extra[name] = data
	}
	return env, nil
}

func (e *Envelope) normalize() error {
	required := []struct {
		name string
		data []byte
	}{
		{PartMeta, e.RawMeta},
		{PartPayload, e.Payload},
		{PartWrappedKey, e.WrappedKey},
		{PartNonce, e.Nonce},
		{PartTag, e.Tag},
	}
	for _, part := range required {
		if len(part.data) == 0 {
			return fmt.Errorf("%w: missing or empty part %s", ErrMalformedEnvelope, part.name)
		}
	}

	if len(e.Nonce) != NonceSize {
		return fmt.Errorf("%w: nonce must be %d bytes, got %d", ErrMalformedEnvelope, NonceSize, len(e.Nonce))
	}
	if len(e.Tag) != TagSize {
		return fmt.Errorf("%w: tag must be %d bytes, got %d", ErrMalformedEnvelope, TagSize, len(e.Tag))
	}

	if err := json.Unmarshal(e.RawMeta, &e.Meta); err != nil {
		return fmt.Errorf("%w: meta.json is not valid JSON", ErrMalformedEnvelope)
	}
	if e.Meta.CallID == "" {
		return fmt.Errorf("%w: meta.json missing call_id", ErrMalformedEnvelope)
	}
	if e.Meta.PayloadSHA256 == "" {
		return fmt.Errorf("%w: meta.json missing payload_sha256", ErrMalformedEnvelope)
	}
	return nil
}

// CanonicalBytes is the fixed-order concatenation the submission id and
// the optional detached signature are computed over.
func (e *Envelope) CanonicalBytes() []byte {
	buf := make([]byte, 0, len(e.Payload)+len(e.WrappedKey)+len(e.Nonce)+len(e.Tag))
	buf = append(buf, e.Payload...)
	buf = append(buf, e.WrappedKey...)
	buf = append(buf, e.Nonce...)
	buf = append(buf, e.Tag...)
	return buf
}

// SubmissionID derives the stable content identifier: the first 16
// bytes of sha256 over the canonical bytes, hex-encoded.
func (e *Envelope) SubmissionID() string {
	sum := sha256.Sum256(e.CanonicalBytes())
	return hex.EncodeToString(sum[:16])
}

// EncodeArchive re-emits the canonical sealed.zip form. Parts round-trip
// byte-identical through DecodeArchive.
func (e *Envelope) EncodeArchive() ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	parts := []struct {
		name string
		data []byte
	}{
		{PartMeta, e.RawMeta},
		{PartPayload, e.Payload},
		{PartWrappedKey, e.WrappedKey},
		{PartNonce, e.Nonce},
		{PartTag, e.Tag},
	}
	if len(e.ContentZip) > 0 {
		parts = append(parts, struct {
			name string
			data []byte
		}{PartContentZip, e.ContentZip})
	}

	extraNames := make([]string, 0, len(e.Extra))
	for name := range e.Extra {
		extraNames = append(extraNames, name)
	}
	sort.Strings(extraNames)
	for _, name := range extraNames {
		parts = append(parts, struct {
			name string
			data []byte
		}{name, e.Extra[name]})
	}

	for _, part := range parts {
		w, err := zw.Create(part.name)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(part.data); err != nil {
			return nil, err
		}
	}

	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Parts returns every stored part by canonical name, for persistence.
func (e *Envelope) Parts() map[string][]byte {
	parts := map[string][]byte{
		PartMeta:       e.RawMeta,
		PartPayload:    e.Payload,
		PartWrappedKey: e.WrappedKey,
		PartNonce:      e.Nonce,
		PartTag:        e.Tag,
	}
	if len(e.ContentZip) > 0 {
		parts[PartContentZip] = e.ContentZip
	}
	if e.Meta.SignatureB64 != "" {
		if sig, err := decodeB64(e.Meta.SignatureB64); err == nil {
			parts[PartSignature] = sig
		}
	}
	for name, data := range e.Extra {
		parts[name] = data
	}
	return parts
}
