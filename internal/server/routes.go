package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/offerflow/internal/logging"
	"github.com/mbd888/offerflow/internal/metrics"
	"github.com/mbd888/offerflow/internal/offers"
	"github.com/mbd888/offerflow/internal/security"
	"github.com/mbd888/offerflow/internal/validation"
)

func (s *Server) setupRouter() {
	if !s.cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()
}

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins for the ops surface)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		ctx := logging.WithLogger(c.Request.Context(), s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// WebSocket for real-time offer activity streaming
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	// V1 API group (read-only operational views)
	v1 := s.router.Group("/v1")
	v1.GET("/queue", s.queueHandler)
	v1.GET("/reservations", s.reservationsHandler)
	v1.GET("/inventory", s.inventoryHandler)
	v1.GET("/realtime/stats", s.realtimeStatsHandler)

	// Simulation controls, only exposed when running against the in-process
	// gateway in development mode.
	if s.demo != nil {
		demo := s.router.Group("/demo")
		// Validate :id URL params on all demo routes (no-op when param absent)
		demo.Use(validation.OfferIDParamMiddleware())
		demo.POST("/offers", s.demoInjectOfferHandler)
		demo.POST("/offers/:id/state", s.demoSetStateHandler)
		demo.POST("/items", s.demoAddItemsHandler)
	}
}

// -----------------------------------------------------------------------------
// Health handlers
// -----------------------------------------------------------------------------

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, statuses := s.healthReg.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, gin.H{
		"status":    status,
		"checks":    statuses,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// -----------------------------------------------------------------------------
// Operational views
// -----------------------------------------------------------------------------

func (s *Server) queueHandler(c *gin.Context) {
	ids, inFlight := s.manager.QueueSnapshot()
	c.JSON(http.StatusOK, gin.H{
		"offerIds": ids,
		"inFlight": inFlight,
		"depth":    len(ids),
	})
}

func (s *Server) reservationsHandler(c *gin.Context) {
	assetIDs := s.tracker.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"assetIds": assetIDs,
		"count":    len(assetIDs),
	})
}

func (s *Server) inventoryHandler(c *gin.Context) {
	items := s.inv.Items()
	c.JSON(http.StatusOK, gin.H{
		"items": items,
		"count": len(items),
	})
}

func (s *Server) realtimeStatsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.realtimeHub.Stats())
}

// -----------------------------------------------------------------------------
// Demo simulation controls
// -----------------------------------------------------------------------------

type demoOfferRequest struct {
	Partner        string        `json:"partner" binding:"required"`
	ItemsToGive    []offers.Item `json:"itemsToGive"`
	ItemsToReceive []offers.Item `json:"itemsToReceive"`
}

func (s *Server) demoInjectOfferHandler(c *gin.Context) {
	var req demoOfferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	o := s.demo.ReceiveOffer(c.Request.Context(), req.Partner, req.ItemsToGive, req.ItemsToReceive)
	c.JSON(http.StatusCreated, gin.H{"offerId": o.ID, "state": o.State})
}

type demoStateRequest struct {
	State offers.State `json:"state" binding:"required"`
}

func (s *Server) demoSetStateHandler(c *gin.Context) {
	var req demoStateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	s.demo.SetOfferState(c.Request.Context(), c.Param("id"), req.State)
	c.JSON(http.StatusOK, gin.H{"offerId": c.Param("id"), "state": req.State})
}

type demoItemsRequest struct {
	Items []offers.Item `json:"items" binding:"required"`
}

func (s *Server) demoAddItemsHandler(c *gin.Context) {
	var req demoItemsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	s.demo.AddItems(req.Items...)
	c.JSON(http.StatusOK, gin.H{"count": len(req.Items)})
}
