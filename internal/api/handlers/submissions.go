package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/convoca/sealedbid/internal/services"
)

type SubmissionHandler struct {
	submissions *services.SubmissionService
	logger      *zap.Logger
}

func NewSubmissionHandler(submissions *services.SubmissionService, logger *zap.Logger) *SubmissionHandler {
	return &SubmissionHandler{
		submissions: submissions,
		logger:      logger.With(zap.String("handler", "submissions")),
	}
}

type fileView struct {
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	DownloadURL string `json:"download_url"`
}

type submissionView struct {
	SubmissionID     string     `json:"submission_id"`
	CreatedAt        time.Time  `json:"created_at"`
	BidderIdentifier string     `json:"bidder_identifier,omitempty"`
	Status           string     `json:"status"`
	Files            []fileView `json:"files"`
}

func (h *SubmissionHandler) List(c *gin.Context) {
	callID := c.Param("call_id")
	summaries, err := h.submissions.List(c.Request.Context(), callID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	views := make([]submissionView, 0, len(summaries))
	for _, s := range summaries {
		files := make([]fileView, 0, len(s.Files))
		for _, f := range s.Files {
			files = append(files, fileView{
				Name: f.Name,
				Size: f.Size,
				DownloadURL: fmt.Sprintf("/api/calls/%s/submissions/%s/files/%s",
					callID, s.SubmissionID, f.Name),
			})
		}
		views = append(views, submissionView{
			SubmissionID:     s.SubmissionID,
			CreatedAt:        s.CreatedAt,
			BidderIdentifier: s.BidderID,
			Status:           string(s.Status),
			Files:            files,
		})
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "submissions": views})
}

func (h *SubmissionHandler) GetFile(c *gin.Context) {
	data, err := h.submissions.GetPart(
		c.Request.Context(),
		c.Param("call_id"),
		c.Param("submission_id"),
		c.Param("name"),
	)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", data)
}
