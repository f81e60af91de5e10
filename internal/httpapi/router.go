// Package httpapi serves the dashboard API: run control, log replay and streaming,
// and read access to stored emails and heuristic decisions.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mixelka/jobmail-ingest/internal/database"
	"github.com/mixelka/jobmail-ingest/internal/eventlog"
	"github.com/mixelka/jobmail-ingest/internal/ingest"
)

// Handler holds the dependencies of all endpoints
type Handler struct {
	db      *database.DB
	events  *eventlog.Log
	service *ingest.Service
	logger  *slog.Logger
}

// NewHandler creates a new Handler
func NewHandler(db *database.DB, events *eventlog.Log, service *ingest.Service, logger *slog.Logger) *Handler {
	return &Handler{
		db:      db,
		events:  events,
		service: service,
		logger:  logger.With("component", "http"),
	}
}

// NewRouter builds the gin engine with every route registered
func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), h.requestLogger())

	r.GET("/health", h.Health)

	// Run control
	r.POST("/ingest", h.Ingest)
	r.POST("/cancel", h.Cancel)
	r.GET("/runs", h.Runs)
	r.GET("/stats", h.Stats)

	// Event log
	r.GET("/stream", h.Stream)
	r.GET("/logs", h.Logs)
	r.GET("/skipped", h.Skipped)

	// Emails
	r.GET("/recent", h.Recent)
	r.GET("/detail", h.Detail)
	r.POST("/retry", h.Retry)
	r.POST("/delete-all", h.DeleteAll)

	// Heuristics
	r.GET("/header-cache", h.HeaderCache)
	r.POST("/header-cache/promote", h.Promote)

	backfill := r.Group("/backfill")
	{
		backfill.GET("", h.Backfill)
		backfill.POST("/start", h.StartBackfill)
		backfill.POST("/stop", h.StopBackfill)
	}

	return r
}

// requestLogger logs each request at debug level, failures at warn
func (h *Handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		level := slog.LevelDebug
		if status >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		h.logger.Log(c.Request.Context(), level, "HTTP request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", status,
			"duration", time.Since(start),
		)
	}
}
