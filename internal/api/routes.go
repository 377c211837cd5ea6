package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/convoca/sealedbid/internal/api/handlers"
	"github.com/convoca/sealedbid/internal/api/middleware"
	"github.com/convoca/sealedbid/internal/config"
	"github.com/convoca/sealedbid/internal/services"
	"github.com/convoca/sealedbid/internal/ws"
	"github.com/convoca/sealedbid/pkg/metrics"
)

type Router struct {
	engine              *gin.Engine
	logger              *zap.Logger
	metrics             *metrics.MetricsCollector
	hub                 *ws.Hub
	ingestSecret        string
	callHandler         *handlers.CallHandler
	submitHandler       *handlers.SubmitHandler
	submissionHandler   *handlers.SubmissionHandler
	decryptHandler      *handlers.DecryptHandler
	decisionHandler     *handlers.DecisionHandler
	notificationHandler *handlers.NotificationHandler
	accountHandler      *handlers.AccountHandler
}

func NewRouter(
	cfg *config.Configuration,
	logger *zap.Logger,
	metricsCollector *metrics.MetricsCollector,
	hub *ws.Hub,
	keyService *services.KeyService,
	submissionService *services.SubmissionService,
	decryptionService *services.DecryptionService,
	decisionService *services.DecisionService,
	notificationService *services.NotificationService,
	accountService *services.AccountService,
) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.MaxMultipartMemory = cfg.Crypto.MaxEnvelopeMB << 20

	reqMiddleware := middleware.NewRequestMiddleware(logger)
	engine.Use(reqMiddleware.ProcessRequest())
	engine.Use(reqMiddleware.RecoverPanic())

	return &Router{
		engine:              engine,
		logger:              logger,
		metrics:             metricsCollector,
		hub:                 hub,
		ingestSecret:        cfg.Security.IngestSecret,
		callHandler:         handlers.NewCallHandler(keyService, hub, logger),
		submitHandler:       handlers.NewSubmitHandler(submissionService, hub, logger),
		submissionHandler:   handlers.NewSubmissionHandler(submissionService, logger),
		decryptHandler:      handlers.NewDecryptHandler(decryptionService, logger),
		decisionHandler:     handlers.NewDecisionHandler(decisionService, logger),
		notificationHandler: handlers.NewNotificationHandler(notificationService, accountService, logger),
		accountHandler:      handlers.NewAccountHandler(accountService, cfg.Security.PasswordMinLength, logger),
	}
}

func (r *Router) SetupRoutes() {
	r.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "up", "name": "sealedbid"})
	})

	r.engine.GET("/metrics", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"counters":  r.metrics.GetCounters(),
			"latencies": r.metrics.GetLatencies(),
			"sizes":     r.metrics.GetSizes(),
		})
	})

	api := r.engine.Group("/api")
	{
		api.POST("/calls", r.callHandler.CreateCall)
		api.POST("/calls/create", r.callHandler.CreateCall)
		api.GET("/calls", r.callHandler.ListCalls)
		api.GET("/calls/active", r.callHandler.ActiveCall)
		api.GET("/calls/:call_id", r.callHandler.GetCall)
		api.GET("/keys/:key_id/rsa_pub.pem", r.callHandler.GetPublicKeyPEM)

		api.POST("/submit", r.submitHandler.Submit)
		api.GET("/calls/:call_id/submissions", r.submissionHandler.List)
		api.GET("/calls/:call_id/submissions/:submission_id/files/:name", r.submissionHandler.GetFile)

		api.POST("/submissions/:call_id/:submission_id/decrypt", r.decryptHandler.Decrypt)
		// One catch-all route: an empty rel_path lists the decrypted
		// tree, anything else serves a single file.
		api.GET("/calls/:call_id/submissions/:submission_id/content/*rel_path", r.decryptHandler.Content)

		api.POST("/decisions/select", r.decisionHandler.Select)

		api.GET("/notifications/selection", r.notificationHandler.ListSelection)
		api.GET("/notifications/by-call/:call_id", r.notificationHandler.ByCall)
		api.GET("/:bidder_id/notifications", r.notificationHandler.ListForBidder)

		api.POST("/accounts", r.accountHandler.Create)
		api.GET("/accounts", r.accountHandler.List)
	}

	// Operational back door for out-of-band test submissions; the same
	// five-part form behind a constant-time secret check.
	r.engine.POST("/internal/receive-proposal",
		middleware.RequireSecret(r.ingestSecret, r.logger),
		r.submitHandler.Submit)

	r.engine.GET("/ws", func(c *gin.Context) {
		bidderID := c.Query("bidder_id")
		if bidderID == "" {
			c.String(http.StatusBadRequest, "bidder_id is required")
			return
		}
		ws.ServeWs(r.hub, c.Writer, c.Request, bidderID)
	})
}

func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}

func (r *Router) Run(addr string) error {
	r.logger.Info("Starting HTTP server", zap.String("address", addr))
	return r.engine.Run(addr)
}
