package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/convoca/sealedbid/internal/envelope"
	"github.com/convoca/sealedbid/internal/services"
)

// respondError maps the protocol error taxonomy onto 4xx responses with
// plain messages. Anything unrecognized is a genuine server fault.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, services.ErrDuplicateCall),
		errors.Is(err, services.ErrDuplicateAccount):
		c.String(http.StatusConflict, err.Error())
	case errors.Is(err, services.ErrAlreadyDecided):
		// An expected race outcome, not a fault; 409 distinguishes it.
		c.String(http.StatusConflict, err.Error())
	case errors.Is(err, services.ErrNotFound):
		c.String(http.StatusNotFound, err.Error())
	case errors.Is(err, services.ErrTimeout):
		c.String(http.StatusRequestTimeout, err.Error())
	case errors.Is(err, services.ErrInvalidPath),
		errors.Is(err, envelope.ErrMalformedEnvelope),
		errors.Is(err, envelope.ErrHashMismatch),
		errors.Is(err, envelope.ErrSignatureInvalid),
		errors.Is(err, envelope.ErrKeyMismatch),
		errors.Is(err, envelope.ErrTagVerificationFailed):
		c.String(http.StatusBadRequest, err.Error())
	default:
		logger.Error("Request failed", zap.Error(err))
		c.String(http.StatusInternalServerError, "internal server error")
	}
}
