package handlers

import (
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/convoca/sealedbid/internal/services"
)

// DecryptHandler exposes the stateless decryption surface. The private
// key travels base64-encoded in the request and is discarded after use;
// it is never echoed, stored or logged.
type DecryptHandler struct {
	decryption *services.DecryptionService
	logger     *zap.Logger
}

func NewDecryptHandler(decryption *services.DecryptionService, logger *zap.Logger) *DecryptHandler {
	return &DecryptHandler{
		decryption: decryption,
		logger:     logger.With(zap.String("handler", "decrypt")),
	}
}

type decryptRequest struct {
	PrivateKeyPEMB64 string `json:"private_key_pem_b64" form:"private_key_pem_b64"`
}

func (h *DecryptHandler) privateKeyFrom(c *gin.Context) ([]byte, bool) {
	var req decryptRequest
	_ = c.ShouldBind(&req)
	if req.PrivateKeyPEMB64 == "" {
		req.PrivateKeyPEMB64 = c.Query("private_key_pem_b64")
	}
	if req.PrivateKeyPEMB64 == "" {
		c.String(http.StatusBadRequest, "private_key_pem_b64 is required")
		return nil, false
	}
	pemBytes, err := base64.StdEncoding.DecodeString(req.PrivateKeyPEMB64)
	if err != nil {
		c.String(http.StatusBadRequest, "private_key_pem_b64 is not valid base64")
		return nil, false
	}
	return pemBytes, true
}

func (h *DecryptHandler) Decrypt(c *gin.Context) {
	pemBytes, ok := h.privateKeyFrom(c)
	if !ok {
		return
	}

	result, err := h.decryption.Decrypt(
		c.Request.Context(),
		c.Param("call_id"),
		c.Param("submission_id"),
		pemBytes,
	)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	response := gin.H{
		"ok":            true,
		"plaintext_b64": base64.StdEncoding.EncodeToString(result.Plaintext),
	}
	if result.Content != nil {
		response["files"] = result.Content
	}
	c.JSON(http.StatusOK, response)
}

func (h *DecryptHandler) ListContent(c *gin.Context) {
	pemBytes, ok := h.privateKeyFrom(c)
	if !ok {
		return
	}

	entries, err := h.decryption.ListContent(
		c.Request.Context(),
		c.Param("call_id"),
		c.Param("submission_id"),
		pemBytes,
	)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "files": entries})
}

// Content dispatches on the catch-all rel_path: empty lists the
// decrypted tree, anything else serves one file's bytes.
func (h *DecryptHandler) Content(c *gin.Context) {
	pemBytes, ok := h.privateKeyFrom(c)
	if !ok {
		return
	}

	relPath := strings.TrimPrefix(c.Param("rel_path"), "/")
	if relPath == "" {
		entries, err := h.decryption.ListContent(
			c.Request.Context(),
			c.Param("call_id"),
			c.Param("submission_id"),
			pemBytes,
		)
		if err != nil {
			respondError(c, h.logger, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true, "files": entries})
		return
	}
	data, err := h.decryption.GetContentFile(
		c.Request.Context(),
		c.Param("call_id"),
		c.Param("submission_id"),
		pemBytes,
		relPath,
	)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", data)
}
