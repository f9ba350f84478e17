package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"
	"time"

	"rental-service/internal/models"
	"rental-service/internal/service"
	"rental-service/internal/store"
	"rental-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// CallbackDeduper remembers confirmation callbacks that were already handled
type CallbackDeduper interface {
	MarkCallbackSeen(ctx context.Context, callbackID string, ttl time.Duration) (bool, error)
	ForgetCallback(ctx context.Context, callbackID string) error
}

// ActionQueue hands operator decisions to the resolution worker
type ActionQueue interface {
	PublishActionRequested(ctx context.Context, event *models.OrderActionRequestedEvent) error
}

// CallbackAnswerer acknowledges a pressed confirmation button
type CallbackAnswerer interface {
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// Config holds the HTTP surface settings
type Config struct {
	AdminToken    string
	WebhookSecret string
	ChatID        string
	CallbackTTL   time.Duration
	CatalogFile   string
}

// Deps are the services behind the HTTP surface. Callbacks, Actions, Bot
// and Ready are optional.
type Deps struct {
	Orders       *service.OrderService
	Inventory    *service.InventoryService
	Availability *service.Availability
	Pool         *service.UnitPool
	Callbacks    CallbackDeduper
	Actions      ActionQueue
	Bot          CallbackAnswerer
	Ready        func(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(cfg Config, deps Deps) *Handler {
	if cfg.CallbackTTL <= 0 {
		cfg.CallbackTTL = 24 * time.Hour
	}
	return &Handler{
		cfg:    cfg,
		deps:   deps,
		logger: util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		api.GET("/products", h.listProducts)
		api.GET("/products/:id/availability", h.getAvailability)
		api.GET("/products/:id/occupancy", h.getOccupancy)
		api.POST("/orders", h.createOrder)
		api.GET("/orders/:id", h.getOrder)

		api.POST("/telegram/webhook", h.telegramWebhook)
	}

	admin := router.Group("/api/admin", h.adminAuth())
	{
		admin.GET("/products", h.adminListProducts)
		admin.POST("/products", h.adminCreateProduct)
		admin.PUT("/products/:id", h.adminUpdateProduct)
		admin.DELETE("/products/:id", h.adminDeactivateProduct)
		admin.POST("/catalog/restore", h.adminRestoreCatalog)
		admin.GET("/product-units", h.adminProductUnits)

		admin.GET("/bookings", h.adminListBookings)
		admin.POST("/bookings", h.adminCreateBooking)
		admin.DELETE("/bookings/:id", h.adminDeleteBooking)

		admin.GET("/orders", h.adminListOrders)
		admin.POST("/orders/:id/accept", h.adminResolve(models.ActionAccept))
		admin.POST("/orders/:id/decline", h.adminResolve(models.ActionDecline))
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	if h.deps.Ready != nil {
		if err := h.deps.Ready(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// adminAuth checks the static bearer token. An empty token disables the admin API.
func (h *Handler) adminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.cfg.AdminToken == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Admin API is disabled"})
			return
		}
		token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(h.cfg.AdminToken)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Next()
	}
}

// writeError maps service and store errors to HTTP responses
func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case service.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case service.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case store.IsRetryable(err):
		h.logger.Warn("Store temporarily unavailable", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Service temporarily unavailable, retry later"})
	default:
		h.logger.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
	}
}

func writeShortage(c *gin.Context, message string, s *service.Shortage) {
	c.JSON(http.StatusConflict, gin.H{
		"error":     message,
		"shortage":  s,
		"available": s.Available,
		"total":     s.Total,
	})
}

func bindError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "Invalid request body",
		"details": err.Error(),
	})
}

func paramID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + name})
		return 0, false
	}
	return id, true
}

func queryID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Query(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid or missing " + name})
		return 0, false
	}
	return id, true
}

// parseInstant accepts RFC 3339 timestamps and plain dates (midnight UTC)
func parseInstant(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.ParseInLocation("2006-01-02", s, time.UTC)
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
