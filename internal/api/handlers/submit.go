package handlers

import (
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/convoca/sealedbid/internal/envelope"
	"github.com/convoca/sealedbid/internal/services"
	"github.com/convoca/sealedbid/internal/ws"
)

type SubmitHandler struct {
	submissions *services.SubmissionService
	hub         *ws.Hub
	logger      *zap.Logger
}

func NewSubmitHandler(submissions *services.SubmissionService, hub *ws.Hub, logger *zap.Logger) *SubmitHandler {
	return &SubmitHandler{
		submissions: submissions,
		hub:         hub,
		logger:      logger.With(zap.String("handler", "submit")),
	}
}

func readFormFile(c *gin.Context, field string) ([]byte, error) {
	header, err := c.FormFile(field)
	if err != nil {
		return nil, err
	}
	return readMultipartFile(header)
}

func readMultipartFile(header *multipart.FileHeader) ([]byte, error) {
	f, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// Submit accepts the sealed bid either as the single `sealed` archive
// field or as the five discrete part fields (`meta`, `payload`,
// `wrapped_key`, `nonce`, `tag`, optional `content`). Both forms decode
// to the same envelope; validation failures are 4xx with a plain body.
func (h *SubmitHandler) Submit(c *gin.Context) {
	env, err := h.decodeForm(c)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	submissionID, err := h.submissions.Accept(c.Request.Context(), env.Meta.CallID, env)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	if h.hub != nil {
		h.hub.Broadcast(ws.Event{
			Type:         ws.EventSubmitted,
			CallID:       env.Meta.CallID,
			SubmissionID: submissionID,
			BidderID:     env.Meta.BidderIdentifier,
		})
	}

	c.JSON(http.StatusCreated, gin.H{"ok": true, "submission_id": submissionID})
}

func (h *SubmitHandler) decodeForm(c *gin.Context) (*envelope.Envelope, error) {
	if sealed, err := readFormFile(c, "sealed"); err == nil {
		return envelope.DecodeArchive(sealed)
	}

	var parts [5][]byte
	for i, field := range []string{"meta", "payload", "wrapped_key", "nonce", "tag"} {
		data, err := readFormFile(c, field)
		if err != nil {
			return nil, envelope.ErrMalformedEnvelope
		}
		parts[i] = data
	}

	var contentZip []byte
	if data, err := readFormFile(c, "content"); err == nil {
		contentZip = data
	}

	return envelope.DecodeParts(parts[0], parts[1], parts[2], parts[3], parts[4], contentZip)
}
