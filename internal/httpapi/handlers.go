package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mixelka/jobmail-ingest/internal/database"
	"github.com/mixelka/jobmail-ingest/internal/ingest"
	"github.com/mixelka/jobmail-ingest/pkg/models"
)

const maxListLimit = 1000

// StatsResponse is the dashboard summary: email counters, usage totals and the run metrics
type StatsResponse struct {
	*database.EmailStats
	Run         ingest.Metrics `json:"run"`
	Subscribers int            `json:"subscribers"`
}

// DetailResponse is one email with its LLM call history
type DetailResponse struct {
	Email   *models.Email        `json:"email"`
	Calls   []*models.OpenAICall `json:"calls"`
	CostUSD float64              `json:"cost_usd"`
}

// GET /health
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"mailbox":     h.service.Mailbox(),
		"in_progress": h.service.InProgress(),
	})
}

// POST /ingest
// Ingest starts a run and returns without waiting for it
func (h *Handler) Ingest(c *gin.Context) {
	id, err := h.service.Trigger()
	switch {
	case errors.Is(err, ingest.ErrRunInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case errors.Is(err, ingest.ErrShuttingDown):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	case err != nil:
		h.internalError(c, "failed to start run", err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"run_id": id, "status": "started"})
}

// POST /cancel
func (h *Handler) Cancel(c *gin.Context) {
	if err := h.service.Cancel(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "cancelling"})
}

// GET /runs?limit=N
func (h *Handler) Runs(c *gin.Context) {
	limit, ok := queryLimit(c, 20)
	if !ok {
		return
	}
	runs, err := h.db.ListRuns(c.Request.Context(), limit)
	if err != nil {
		h.internalError(c, "failed to list runs", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// GET /stats
func (h *Handler) Stats(c *gin.Context) {
	stats, err := h.db.GetEmailStats(c.Request.Context())
	if err != nil {
		h.internalError(c, "failed to compute stats", err)
		return
	}
	c.JSON(http.StatusOK, StatsResponse{
		EmailStats:  stats,
		Run:         h.service.Status(),
		Subscribers: h.events.Subscribers(),
	})
}

// GET /logs?limit=N[&after=cursor]
// Logs is the polling fallback of /stream. Without a cursor it returns the tail.
func (h *Handler) Logs(c *gin.Context) {
	limit, ok := queryLimit(c, 100)
	if !ok {
		return
	}

	var (
		entries []*models.IngestLogEntry
		err     error
	)
	if raw := c.Query("after"); raw != "" {
		cursor, perr := strconv.ParseInt(raw, 10, 64)
		if perr != nil || cursor < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid after cursor"})
			return
		}
		entries, err = h.events.Replay(c.Request.Context(), cursor, limit)
	} else {
		entries, err = h.events.Tail(c.Request.Context(), limit)
	}
	if err != nil {
		h.internalError(c, "failed to read log", err)
		return
	}
	if entries == nil {
		entries = []*models.IngestLogEntry{}
	}

	var cursor int64
	if n := len(entries); n > 0 {
		cursor = entries[n-1].ID
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "cursor": cursor})
}

// GET /skipped?limit=N
func (h *Handler) Skipped(c *gin.Context) {
	limit, ok := queryLimit(c, 100)
	if !ok {
		return
	}
	entries, err := h.db.ListLogByStatus(c.Request.Context(), models.PhaseFetch, models.StatusSkipNonRelevant, limit)
	if err != nil {
		h.internalError(c, "failed to list skipped", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// GET /recent?status=&limit=N
func (h *Handler) Recent(c *gin.Context) {
	limit, ok := queryLimit(c, 50)
	if !ok {
		return
	}

	var status models.ParseStatus
	if raw := c.Query("status"); raw != "" {
		st, valid := models.ParseParseStatus(raw)
		if !valid {
			c.JSON(http.StatusBadRequest, gin.H{"error": "status must be pending, parsed or error"})
			return
		}
		status = st
	}

	emails, err := h.db.ListEmails(c.Request.Context(), status, limit)
	if err != nil {
		h.internalError(c, "failed to list emails", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"emails": emails})
}

// GET /detail?id=N
func (h *Handler) Detail(c *gin.Context) {
	id, ok := queryID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	e, err := h.db.GetEmailByID(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "email not found"})
		return
	}
	if err != nil {
		h.internalError(c, "failed to get email", err)
		return
	}

	calls, err := h.db.ListCallsByEmail(ctx, id)
	if err != nil {
		h.internalError(c, "failed to list calls", err)
		return
	}
	cost, err := h.db.SumCostByEmail(ctx, id)
	if err != nil {
		h.internalError(c, "failed to sum cost", err)
		return
	}

	c.JSON(http.StatusOK, DetailResponse{Email: e, Calls: calls, CostUSD: cost})
}

// POST /retry?id=N
func (h *Handler) Retry(c *gin.Context) {
	id, ok := queryID(c)
	if !ok {
		return
	}
	err := h.service.Retry(c.Request.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no email in error state with this id"})
		return
	}
	if err != nil {
		h.internalError(c, "failed to reset email", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "parse_status": models.ParsePending})
}

// POST /delete-all
// DeleteAll purges every ingestion table. Refused while a run or backfill holds the mailbox.
func (h *Handler) DeleteAll(c *gin.Context) {
	ctx := c.Request.Context()

	bf, err := h.service.Backfill(ctx)
	if err != nil {
		h.internalError(c, "failed to read backfill state", err)
		return
	}
	if h.service.InProgress() || bf.Running {
		c.JSON(http.StatusConflict, gin.H{"error": "a run is in progress"})
		return
	}

	if err := h.db.DeleteAll(ctx); err != nil {
		h.internalError(c, "failed to delete data", err)
		return
	}
	h.logger.Warn("All ingestion data deleted", "remote", c.ClientIP())
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// GET /header-cache?decision=&limit=N
func (h *Handler) HeaderCache(c *gin.Context) {
	limit, ok := queryLimit(c, 100)
	if !ok {
		return
	}

	var decision models.Decision
	if raw := c.Query("decision"); raw != "" {
		d, valid := models.ParseDecision(raw)
		if !valid {
			c.JSON(http.StatusBadRequest, gin.H{"error": "decision must be relevant, ambiguous or skip"})
			return
		}
		decision = d
	}

	entries, err := h.db.ListHeaderCache(c.Request.Context(), decision, limit)
	if err != nil {
		h.internalError(c, "failed to list header cache", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// POST /header-cache/promote?uid=N&decision=
func (h *Handler) Promote(c *gin.Context) {
	uid, err := strconv.ParseUint(c.Query("uid"), 10, 32)
	if err != nil || uid == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid uid"})
		return
	}
	decision, valid := models.ParseDecision(c.DefaultQuery("decision", string(models.DecisionRelevant)))
	if !valid {
		c.JSON(http.StatusBadRequest, gin.H{"error": "decision must be relevant, ambiguous or skip"})
		return
	}

	err = h.service.Promote(c.Request.Context(), uint32(uid), decision)
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "uid has no cached verdict"})
		return
	}
	if err != nil {
		h.internalError(c, "failed to promote", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"uid": uid, "decision": decision, "promoted": true})
}

// GET /backfill
func (h *Handler) Backfill(c *gin.Context) {
	st, err := h.service.Backfill(c.Request.Context())
	if err != nil {
		h.internalError(c, "failed to read backfill state", err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// POST /backfill/start
func (h *Handler) StartBackfill(c *gin.Context) {
	err := h.service.StartBackfill(c.Request.Context())
	switch {
	case errors.Is(err, ingest.ErrBackfillActive),
		errors.Is(err, ingest.ErrBackfillNotReady),
		errors.Is(err, ingest.ErrBackfillExhausted):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case errors.Is(err, ingest.ErrShuttingDown):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	case err != nil:
		h.internalError(c, "failed to start backfill", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "started"})
}

// POST /backfill/stop
func (h *Handler) StopBackfill(c *gin.Context) {
	err := h.service.StopBackfill(c.Request.Context())
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusConflict, gin.H{"error": "no backfill window yet"})
		return
	}
	if err != nil {
		h.internalError(c, "failed to stop backfill", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

func (h *Handler) internalError(c *gin.Context, msg string, err error) {
	h.logger.Error(msg, "path", c.FullPath(), "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
}

// queryLimit reads ?limit, writing a 400 when it is not a positive number
func queryLimit(c *gin.Context, def int) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return 0, false
	}
	return min(n, maxListLimit), true
}

func queryID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Query("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}
