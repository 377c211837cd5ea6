package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
)

func decodeB64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

// ParsePublicKeyPEM accepts SPKI ("PUBLIC KEY") or PKCS#1 ("RSA PUBLIC
// KEY") encodings.
func ParsePublicKeyPEM(pemBytes []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("invalid public key PEM")
	}
	if pub, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		rsaPub, ok := pub.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("public key is not RSA")
		}
		return rsaPub, nil
	}
	return x509.ParsePKCS1PublicKey(block.Bytes)
}

// ParsePrivateKeyPEM accepts PKCS#8 ("PRIVATE KEY") or PKCS#1 ("RSA
// PRIVATE KEY") encodings.
func ParsePrivateKeyPEM(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("invalid private key PEM")
	}
	if priv, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaPriv, ok := priv.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("private key is not RSA")
		}
		return rsaPriv, nil
	}
	return x509.ParsePKCS1PrivateKey(block.Bytes)
}

// WrapKey encrypts the content key under the call's RSA public key with
// OAEP-SHA256.
func WrapKey(pub *rsa.PublicKey, key []byte) ([]byte, error) {
	return rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, key, nil)
}

// UnwrapKey recovers the content key with the supplied private key.
// Any unwrap failure, or a recovered key of the wrong size, reports
// ErrKeyMismatch so callers can tell a wrong key from a tampered
// ciphertext.
func UnwrapKey(privateKeyPEM, wrapped []byte) ([]byte, error) {
	priv, err := ParsePrivateKeyPEM(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyMismatch, err)
	}
	key, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, wrapped, nil)
	if err != nil {
		return nil, ErrKeyMismatch
	}
	if len(key) != KeySize {
		return nil, ErrKeyMismatch
	}
	return key, nil
}

// OpenPayload decrypts payload.enc with the recovered content key. The
// tag travels detached on the wire; GCM expects ciphertext||tag.
func OpenPayload(key, nonce, tag, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrTagVerificationFailed
	}
	return plaintext, nil
}

// OpenContentZip decrypts the self-contained content.zip blob
// (nonce||ciphertext||tag under the same content key).
func OpenContentZip(key, blob []byte) ([]byte, error) {
	if len(blob) < NonceSize+TagSize {
		return nil, ErrTagVerificationFailed
	}
	nonce := blob[:NonceSize]
	body := blob[NonceSize:]
	ciphertext := body[:len(body)-TagSize]
	tag := body[len(body)-TagSize:]
	return OpenPayload(key, nonce, tag, ciphertext)
}

// SealOptions carries the caller-side inputs for Seal.
type SealOptions struct {
	CallID           string
	KeyID            string
	BidderIdentifier string
	ContentZip       []byte             // optional plaintext zip of supporting files
	SigningKey       ed25519.PrivateKey // optional detached signature key
}

// Seal builds a complete envelope client-side: fresh 256-bit content
// key, AES-GCM over the payload (and content zip, each under its own
// nonce), OAEP-SHA256 wrap under the call's public key, declared
// hashes, and the optional Ed25519 detached signature over the
// canonical bytes.
func Seal(publicKeyPEM, plaintext []byte, opts SealOptions) (*Envelope, error) {
	pub, err := ParsePublicKeyPEM(publicKeyPEM)
	if err != nil {
		return nil, err
	}

	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	ciphertext := sealed[:len(sealed)-TagSize]
	tag := sealed[len(sealed)-TagSize:]

	wrapped, err := WrapKey(pub, key)
	if err != nil {
		return nil, err
	}

	meta := Meta{
		CallID:           opts.CallID,
		KeyID:            opts.KeyID,
		BidderIdentifier: opts.BidderIdentifier,
		PayloadSHA256:    sha256Hex(ciphertext),
	}

	var contentBlob []byte
	if len(opts.ContentZip) > 0 {
		contentNonce := make([]byte, NonceSize)
		if _, err := rand.Read(contentNonce); err != nil {
			return nil, err
		}
		contentSealed := gcm.Seal(nil, contentNonce, opts.ContentZip, nil)
		contentBlob = append(contentBlob, contentNonce...)
		contentBlob = append(contentBlob, contentSealed...)
		meta.ContentZipSHA256 = sha256Hex(contentBlob)
	}

	if opts.SigningKey != nil {
		canonical := make([]byte, 0, len(ciphertext)+len(wrapped)+len(nonce)+len(tag))
		canonical = append(canonical, ciphertext...)
		canonical = append(canonical, wrapped...)
		canonical = append(canonical, nonce...)
		canonical = append(canonical, tag...)
		sig := ed25519.Sign(opts.SigningKey, canonical)
		pubKey := opts.SigningKey.Public().(ed25519.PublicKey)
		meta.SignerPKHex = hexEncode(pubKey)
		meta.SignatureB64 = base64.StdEncoding.EncodeToString(sig)
	}

	rawMeta, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}

	return DecodeParts(rawMeta, ciphertext, wrapped, nonce, tag, contentBlob)
}
