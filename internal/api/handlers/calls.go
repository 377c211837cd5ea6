package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/convoca/sealedbid/internal/db/models"
	"github.com/convoca/sealedbid/internal/services"
	"github.com/convoca/sealedbid/internal/ws"
)

type CallHandler struct {
	keyService *services.KeyService
	hub        *ws.Hub
	logger     *zap.Logger
}

func NewCallHandler(keyService *services.KeyService, hub *ws.Hub, logger *zap.Logger) *CallHandler {
	return &CallHandler{
		keyService: keyService,
		hub:        hub,
		logger:     logger.With(zap.String("handler", "calls")),
	}
}

type createCallRequest struct {
	CallID string `json:"call_id" form:"call_id"`
	KeyID  string `json:"key_id" form:"key_id"`
}

type callView struct {
	CallID       string     `json:"call_id"`
	KeyID        string     `json:"key_id"`
	CreatedAt    time.Time  `json:"created_at"`
	DecidedAt    *time.Time `json:"decided_at,omitempty"`
	RSAPubPEMURL string     `json:"rsa_pub_pem_url"`
}

func viewOf(call *models.Call) callView {
	return callView{
		CallID:       call.CallID,
		KeyID:        call.KeyID,
		CreatedAt:    call.CreatedAt,
		DecidedAt:    call.DecidedAt,
		RSAPubPEMURL: fmt.Sprintf("/api/keys/%s/rsa_pub.pem", call.KeyID),
	}
}

// CreateCall accepts the parameters as JSON body or query/form values
// (the clients use both styles). The private key PEM appears in this
// response and nowhere else, ever.
func (h *CallHandler) CreateCall(c *gin.Context) {
	var req createCallRequest
	if err := c.ShouldBind(&req); err != nil && c.ContentType() == "application/json" {
		c.String(http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CallID == "" {
		req.CallID = c.Query("call_id")
	}
	if req.KeyID == "" {
		req.KeyID = c.Query("key_id")
	}
	if req.CallID == "" {
		c.String(http.StatusBadRequest, "call_id is required")
		return
	}

	call, _, privatePEM, err := h.keyService.CreateCall(c.Request.Context(), req.CallID, req.KeyID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	if h.hub != nil {
		h.hub.Broadcast(ws.Event{Type: ws.EventNewCall, CallID: call.CallID})
	}

	view := viewOf(call)
	c.JSON(http.StatusCreated, gin.H{
		"ok":              true,
		"call_id":         view.CallID,
		"key_id":          view.KeyID,
		"rsa_pub_pem_url": view.RSAPubPEMURL,
		"private_key_pem": string(privatePEM),
	})
}

func (h *CallHandler) ListCalls(c *gin.Context) {
	calls, err := h.keyService.ListCalls(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	views := make([]callView, 0, len(calls))
	for i := range calls {
		views = append(views, viewOf(&calls[i]))
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "calls": views})
}

func (h *CallHandler) GetCall(c *gin.Context) {
	call, err := h.keyService.GetCall(c.Request.Context(), c.Param("call_id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "call": viewOf(call)})
}

// ActiveCall is the explicit most-recent-call query.
func (h *CallHandler) ActiveCall(c *gin.Context) {
	call, err := h.keyService.MostRecentCall(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "call": viewOf(call)})
}

func (h *CallHandler) GetPublicKeyPEM(c *gin.Context) {
	pemBytes, err := h.keyService.GetPublicKey(c.Request.Context(), c.Param("key_id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Data(http.StatusOK, "application/x-pem-file", pemBytes)
}
