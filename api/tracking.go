package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"order-tracker/lang"
	"order-tracker/logger"
	"order-tracker/models"
	"order-tracker/services"

	"github.com/gin-gonic/gin"
)

// Tracker is the tracking session the handlers drive.
type Tracker interface {
	Snapshot() services.Snapshot
	Search(ctx context.Context, orderNumber, email string) (*models.Order, error)
	Resume(ctx context.Context) (*models.Order, error)
	Clear(ctx context.Context) error
}

type IdentitySource interface {
	Identity() models.ClientIdentity
}

// Pinger checks the backend; *pgxpool.Pool satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

type TrackingHandler struct {
	tracker  Tracker
	identity IdentitySource
	db       Pinger
	throttle *services.SearchThrottle
	lang     string
	log      logger.Logger
}

// NewTrackingHandler wires the handlers. db and throttle may be nil.
func NewTrackingHandler(tracker Tracker, identity IdentitySource, db Pinger, throttle *services.SearchThrottle, langCode string, log logger.Logger) *TrackingHandler {
	return &TrackingHandler{tracker: tracker, identity: identity, db: db, throttle: throttle, lang: langCode, log: log}
}

func RegisterRoutes(r *gin.Engine, h *TrackingHandler) {
	r.GET("/healthz", h.Health)
	api := r.Group("/api")
	{
		api.GET("/tracking", h.Current)
		api.POST("/tracking/search", h.Search)
		api.POST("/tracking/resume", h.Resume)
		api.DELETE("/tracking", h.Clear)
		api.GET("/identity", h.Identity)
	}
}

type searchRequest struct {
	OrderNumber   string `json:"orderNumber" binding:"required"`
	CustomerEmail string `json:"customerEmail" binding:"required"`
}

func (h *TrackingHandler) Current(c *gin.Context) {
	c.JSON(http.StatusOK, h.tracker.Snapshot())
}

func (h *TrackingHandler) Search(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.OrderNumber) == "" || strings.TrimSpace(req.CustomerEmail) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": services.ErrInvalidCriteria.Error()})
		return
	}
	key := c.ClientIP()
	if h.throttle != nil {
		if wait := h.throttle.WaitSeconds(key); wait > 0 {
			c.Header("Retry-After", strconv.Itoa(wait))
			c.JSON(http.StatusTooManyRequests, gin.H{"error": fmt.Sprintf(lang.T(h.lang, "search_throttled"), wait)})
			return
		}
	}
	_, err := h.tracker.Search(c.Request.Context(), req.OrderNumber, req.CustomerEmail)
	if h.throttle != nil {
		switch {
		case err == nil:
			h.throttle.RecordSuccess(key)
		case errors.Is(err, services.ErrNotFound):
			h.throttle.RecordFailed(key)
		}
	}
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.tracker.Snapshot())
}

// Resume answers with the snapshot even when nothing was cached; the order
// field is then null.
func (h *TrackingHandler) Resume(c *gin.Context) {
	if _, err := h.tracker.Resume(c.Request.Context()); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.tracker.Snapshot())
}

func (h *TrackingHandler) Clear(c *gin.Context) {
	if err := h.tracker.Clear(c.Request.Context()); err != nil {
		h.log.WithContext(c.Request.Context()).Error("clear tracking", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not clear tracked order"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *TrackingHandler) Identity(c *gin.Context) {
	c.JSON(http.StatusOK, h.identity.Identity())
}

func (h *TrackingHandler) Health(c *gin.Context) {
	if h.db != nil {
		if err := h.db.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *TrackingHandler) writeError(c *gin.Context, err error) {
	var lerr *services.LookupError
	switch {
	case errors.Is(err, services.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": lang.T(h.lang, "order_not_found")})
	case errors.Is(err, services.ErrInvalidCriteria):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.As(err, &lerr):
		h.log.WithContext(c.Request.Context()).Warn("order lookup failed", logger.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": lang.T(h.lang, "lookup_failed")})
	default:
		h.log.WithContext(c.Request.Context()).Error("tracking request failed", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
