package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mixelka/jobmail-ingest/pkg/models"
)

const defaultInitial = 100

// GET /stream?initial=N
// Stream sends an "init" event with the last N log entries, then one "append" event per
// new entry until the client goes away. Entries a slow client missed are read back from
// storage, so the stream never skips an id.
func (h *Handler) Stream(c *gin.Context) {
	initial := defaultInitial
	if raw := c.Query("initial"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "initial must be a positive integer"})
			return
		}
		initial = n
	}
	ctx := c.Request.Context()

	// Subscribe first so nothing appended while reading the tail is lost
	sub := h.events.Subscribe()
	defer h.events.Unsubscribe(sub)

	tail, err := h.events.Tail(ctx, initial)
	if err != nil {
		h.internalError(c, "failed to read log", err)
		return
	}
	if tail == nil {
		tail = []*models.IngestLogEntry{}
	}
	var cursor int64
	if n := len(tail); n > 0 {
		cursor = tail[n-1].ID
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	c.SSEvent("init", tail)
	c.Writer.Flush()

	err = h.events.Follow(ctx, sub, cursor, func(e *models.IngestLogEntry) error {
		c.SSEvent("append", e)
		c.Writer.Flush()
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		h.logger.Warn("Stream ended", "error", err)
	}
	if dropped := sub.Dropped(); dropped > 0 {
		h.logger.Debug("Stream subscriber lagged", "dropped", dropped)
	}
}
