package envelope

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func hexEncode(data []byte) string {
	return hex.EncodeToString(data)
}

// Validate is the sole gate to the RECEIVED state. It recomputes the
// declared content hashes over the raw part bytes and, when a detached
// signature is supplied, verifies it over the canonical bytes.
// Signatures are optional; their absence is not an error.
func (e *Envelope) Validate() error {
	if !strings.EqualFold(e.Meta.PayloadSHA256, sha256Hex(e.Payload)) {
		return fmt.Errorf("%w: payload_sha256", ErrHashMismatch)
	}

	if e.Meta.ContentZipSHA256 != "" {
		if len(e.ContentZip) == 0 {
			return fmt.Errorf("%w: content_zip_sha256 declared but content.zip absent", ErrHashMismatch)
		}
		if !strings.EqualFold(e.Meta.ContentZipSHA256, sha256Hex(e.ContentZip)) {
			return fmt.Errorf("%w: content_zip_sha256", ErrHashMismatch)
		}
	}

	if e.Meta.SignatureB64 != "" || e.Meta.SignerPKHex != "" {
		if err := e.verifySignature(); err != nil {
			return err
		}
	}
	return nil
}

func (e *Envelope) verifySignature() error {
	if e.Meta.SignatureB64 == "" || e.Meta.SignerPKHex == "" {
		return fmt.Errorf("%w: signer_pk_hex and signature_b64 must both be present", ErrSignatureInvalid)
	}

	pub, err := hex.DecodeString(e.Meta.SignerPKHex)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: signer_pk_hex is not a valid Ed25519 public key", ErrSignatureInvalid)
	}

	sig, err := decodeB64(e.Meta.SignatureB64)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("%w: signature_b64 is not a valid signature", ErrSignatureInvalid)
	}

	if !ed25519.Verify(ed25519.PublicKey(pub), e.CanonicalBytes(), sig) {
		return ErrSignatureInvalid
	}
	return nil
}
