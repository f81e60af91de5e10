package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mixelka/jobmail-ingest/internal/database"
	"github.com/mixelka/jobmail-ingest/internal/email"
	"github.com/mixelka/jobmail-ingest/internal/eventlog"
	"github.com/mixelka/jobmail-ingest/internal/ingest"
	"github.com/mixelka/jobmail-ingest/internal/relevance"
	"github.com/mixelka/jobmail-ingest/internal/testutil"
	"github.com/mixelka/jobmail-ingest/pkg/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// emptyMailbox has no messages. Connect waits on block when it is set.
type emptyMailbox struct {
	block chan struct{}
}

func (m *emptyMailbox) Connect(ctx context.Context) error {
	if m.block == nil {
		return nil
	}
	select {
	case <-m.block:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *emptyMailbox) Select(_ context.Context, mailbox string) (*imap.MailboxStatus, error) {
	return imap.NewMailboxStatus(mailbox, nil), nil
}

func (m *emptyMailbox) SearchUIDs(context.Context, uint32, uint32) ([]uint32, error) {
	return nil, nil
}

func (m *emptyMailbox) FetchHeaders(context.Context, []uint32) ([]*email.Header, error) {
	return nil, nil
}

func (m *emptyMailbox) FetchMessage(context.Context, uint32) (*email.Message, error) {
	return nil, nil
}

func (m *emptyMailbox) Close() error {
	return nil
}

type testEnv struct {
	db      *database.DB
	events  *eventlog.Log
	service *ingest.Service
	router  *gin.Engine
	mailbox *emptyMailbox
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := testutil.NewTestDB(t)
	events := eventlog.New(db, eventlog.Options{ReplayMax: 500, Buffer: 16}, testutil.Logger())
	mb := &emptyMailbox{}
	service := ingest.NewService(db, events, func() ingest.Mailbox { return mb }, nil, nil, ingest.Options{
		Mailbox:    "INBOX",
		BatchLimit: 10,
		Relevance:  relevance.DefaultOptions(),
	}, testutil.Logger())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = service.Shutdown(ctx)
	})

	return &testEnv{
		db:      db,
		events:  events,
		service: service,
		router:  NewRouter(NewHandler(db, events, service, testutil.Logger())),
		mailbox: mb,
	}
}

func (e *testEnv) do(t *testing.T, method, target string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func (e *testEnv) storeEmail(t *testing.T, uid uint32, subject string) *models.Email {
	t.Helper()

	stored := &models.Email{
		MessageID: "<" + subject + "@test.example>",
		UID:       uid,
		Mailbox:   "INBOX",
		Date:      time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC),
		Subject:   subject,
		FromEmail: "no-reply@greenhouse.io",
		Body:      "We would like to schedule an interview.",
	}
	require.NoError(t, e.db.CreateEmail(context.Background(), stored))
	return stored
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	decode(t, w, &body)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "INBOX", body["mailbox"])
	assert.Equal(t, false, body["in_progress"])
}

func TestIngest(t *testing.T) {
	env := newTestEnv(t)
	env.mailbox.block = make(chan struct{})

	w := env.do(t, http.MethodPost, "/ingest")
	require.Equal(t, http.StatusAccepted, w.Code)
	var started struct {
		RunID string `json:"run_id"`
	}
	decode(t, w, &started)
	assert.NotEmpty(t, started.RunID)

	// a second trigger while the first run holds the mailbox is rejected
	w = env.do(t, http.MethodPost, "/ingest")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, http.MethodGet, "/stats")
	require.Equal(t, http.StatusOK, w.Code)
	var stats struct {
		Total int            `json:"total"`
		Run   ingest.Metrics `json:"run"`
	}
	decode(t, w, &stats)
	assert.True(t, stats.Run.InProgress)
	assert.Equal(t, started.RunID, stats.Run.RunID)

	close(env.mailbox.block)
	require.Eventually(t, func() bool { return !env.service.InProgress() }, 5*time.Second, 10*time.Millisecond)

	w = env.do(t, http.MethodGet, "/runs?limit=5")
	require.Equal(t, http.StatusOK, w.Code)
	var runs struct {
		Runs []*models.IngestRun `json:"runs"`
	}
	decode(t, w, &runs)
	require.Len(t, runs.Runs, 1)
	assert.Equal(t, started.RunID, runs.Runs[0].ID)
	assert.Equal(t, "done", runs.Runs[0].Status)
}

func TestCancel_NoRun(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/cancel")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestLogs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		env.events.Record(ctx, models.PhaseFetch, models.StatusStored, func(e *models.IngestLogEntry) {
			e.UID = uint32(100 + i)
		})
	}

	w := env.do(t, http.MethodGet, "/logs?limit=2")
	require.Equal(t, http.StatusOK, w.Code)
	var tail struct {
		Entries []*models.IngestLogEntry `json:"entries"`
		Cursor  int64                    `json:"cursor"`
	}
	decode(t, w, &tail)
	require.Len(t, tail.Entries, 2)
	assert.Equal(t, uint32(103), tail.Entries[0].UID)
	assert.Equal(t, uint32(104), tail.Entries[1].UID)
	assert.Equal(t, tail.Entries[1].ID, tail.Cursor)

	// polling from a cursor returns exactly what followed it
	w = env.do(t, http.MethodGet, "/logs?after=2&limit=10")
	require.Equal(t, http.StatusOK, w.Code)
	var after struct {
		Entries []*models.IngestLogEntry `json:"entries"`
	}
	decode(t, w, &after)
	require.Len(t, after.Entries, 3)
	assert.Equal(t, int64(3), after.Entries[0].ID)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/logs?limit=zero").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/logs?after=-1").Code)
}

func TestRecentAndDetail(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	stored := env.storeEmail(t, 101, "interview")
	require.NoError(t, env.db.RecordOpenAICall(ctx, &models.OpenAICall{
		EmailID:     stored.ID,
		Model:       "gpt-4o-mini",
		TotalTokens: 1200,
		CostUSD:     0.0004,
	}))

	w := env.do(t, http.MethodGet, "/recent?status=pending")
	require.Equal(t, http.StatusOK, w.Code)
	var recent struct {
		Emails []*models.Email `json:"emails"`
	}
	decode(t, w, &recent)
	require.Len(t, recent.Emails, 1)
	assert.Equal(t, stored.ID, recent.Emails[0].ID)

	w = env.do(t, http.MethodGet, "/recent?status=parsed")
	decode(t, w, &recent)
	assert.Empty(t, recent.Emails)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/recent?status=bogus").Code)

	w = env.do(t, http.MethodGet, "/detail?id="+itoa(stored.ID))
	require.Equal(t, http.StatusOK, w.Code)
	var detail DetailResponse
	decode(t, w, &detail)
	assert.Equal(t, "interview", detail.Email.Subject)
	require.Len(t, detail.Calls, 1)
	assert.InDelta(t, 0.0004, detail.CostUSD, 1e-9)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/detail?id=999").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/detail?id=abc").Code)
}

func TestRetry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	stored := env.storeEmail(t, 102, "broken")

	// only emails in error state can be retried
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/retry?id="+itoa(stored.ID)).Code)

	require.NoError(t, env.db.MarkEmailParseError(ctx, stored.ID, "gpt-4o-mini", "not json", "schema validation failed"))
	w := env.do(t, http.MethodPost, "/retry?id="+itoa(stored.ID))
	require.Equal(t, http.StatusOK, w.Code)

	e, err := env.db.GetEmailByID(ctx, stored.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ParsePending, e.ParseStatus)

	entries, err := env.db.ListLogByStatus(ctx, models.PhaseParse, models.StatusRetry, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestHeaderCacheAndPromote(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for uid, decision := range map[uint32]models.Decision{
		100: models.DecisionSkip,
		101: models.DecisionRelevant,
		102: models.DecisionSkip,
	} {
		require.NoError(t, env.db.SaveHeaderCache(ctx, &models.HeaderCacheEntry{
			Mailbox:      "INBOX",
			UID:          uid,
			Subject:      "subject",
			Date:         time.Now(),
			Decision:     decision,
			ModelVersion: "h1",
		}))
	}

	w := env.do(t, http.MethodGet, "/header-cache?decision=skip")
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Entries []*models.HeaderCacheEntry `json:"entries"`
	}
	decode(t, w, &list)
	require.Len(t, list.Entries, 2)
	assert.Equal(t, uint32(102), list.Entries[0].UID)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/header-cache?decision=maybe").Code)

	w = env.do(t, http.MethodPost, "/header-cache/promote?uid=100&decision=relevant")
	require.Equal(t, http.StatusOK, w.Code)

	entry, err := env.db.GetHeaderCache(ctx, "INBOX", 100)
	require.NoError(t, err)
	assert.True(t, entry.Promoted)
	assert.Equal(t, models.DecisionRelevant, entry.Decision)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/header-cache/promote?uid=555").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/header-cache/promote?uid=x").Code)
}

func TestSkipped(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.events.Record(ctx, models.PhaseFetch, models.StatusSkipNonRelevant, func(e *models.IngestLogEntry) {
		e.UID = 7
		e.Subject = "Weekly digest"
	})
	env.events.Record(ctx, models.PhaseFetch, models.StatusStored, nil)

	w := env.do(t, http.MethodGet, "/skipped")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Entries []*models.IngestLogEntry `json:"entries"`
	}
	decode(t, w, &body)
	require.Len(t, body.Entries, 1)
	assert.Equal(t, "Weekly digest", body.Entries[0].Subject)
}

func TestStats(t *testing.T) {
	env := newTestEnv(t)
	env.storeEmail(t, 1, "first")
	env.storeEmail(t, 2, "second")

	w := env.do(t, http.MethodGet, "/stats")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	decode(t, w, &body)
	assert.EqualValues(t, 2, body["total"])
	assert.EqualValues(t, 2, body["pending"])
	assert.Contains(t, body, "run")
	assert.Contains(t, body, "cost_usd")

	run := body["run"].(map[string]any)
	runEnv := run["env"].(map[string]any)
	assert.Equal(t, "INBOX", runEnv["mailbox"])
}

func TestDeleteAll(t *testing.T) {
	env := newTestEnv(t)
	env.storeEmail(t, 1, "first")

	w := env.do(t, http.MethodPost, "/delete-all")
	require.Equal(t, http.StatusOK, w.Code)

	stats, err := env.db.GetEmailStats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Total)
}

func TestDeleteAll_RefusedDuringRun(t *testing.T) {
	env := newTestEnv(t)
	env.mailbox.block = make(chan struct{})

	require.Equal(t, http.StatusAccepted, env.do(t, http.MethodPost, "/ingest").Code)
	assert.Equal(t, http.StatusConflict, env.do(t, http.MethodPost, "/delete-all").Code)

	close(env.mailbox.block)
	require.Eventually(t, func() bool { return !env.service.InProgress() }, 5*time.Second, 10*time.Millisecond)
}

func TestBackfillEndpoints(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/backfill")
	require.Equal(t, http.StatusOK, w.Code)
	var st ingest.BackfillStatus
	decode(t, w, &st)
	assert.Nil(t, st.State)
	assert.False(t, st.Running)

	// nothing to walk before the first live sync
	assert.Equal(t, http.StatusConflict, env.do(t, http.MethodPost, "/backfill/start").Code)
	assert.Equal(t, http.StatusConflict, env.do(t, http.MethodPost, "/backfill/stop").Code)
}

func TestStream(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		env.events.Record(ctx, models.PhaseFetch, models.StatusStored, func(e *models.IngestLogEntry) {
			e.UID = uint32(i + 1)
		})
	}

	srv := httptest.NewServer(env.router)
	defer srv.Close()

	reqCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, srv.URL+"/stream?initial=2", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	name, data := readEvent(t, reader)
	require.Equal(t, "init", name)
	var initial []*models.IngestLogEntry
	require.NoError(t, json.Unmarshal([]byte(data), &initial))
	require.Len(t, initial, 2)
	assert.Equal(t, uint32(2), initial[0].UID)
	assert.Equal(t, uint32(3), initial[1].UID)

	require.Eventually(t, func() bool { return env.events.Subscribers() == 1 }, 5*time.Second, 10*time.Millisecond)
	env.events.Record(ctx, models.PhaseParse, models.StatusParsed, func(e *models.IngestLogEntry) {
		e.UID = 4
		e.Subject = "Offer letter"
	})

	name, data = readEvent(t, reader)
	require.Equal(t, "append", name)
	var appended models.IngestLogEntry
	require.NoError(t, json.Unmarshal([]byte(data), &appended))
	assert.Equal(t, int64(4), appended.ID)
	assert.Equal(t, "Offer letter", appended.Subject)
}

func TestStream_BadInitial(t *testing.T) {
	env := newTestEnv(t)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/stream?initial=-3").Code)
}

// readEvent reads one server-sent event and returns its name and data
func readEvent(t *testing.T, r *bufio.Reader) (string, string) {
	t.Helper()

	var name, data string
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if name != "" || data != "" {
				return name, data
			}
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data += strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
