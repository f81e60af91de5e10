package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mixelka/jobmail-ingest/internal/database"
	"github.com/mixelka/jobmail-ingest/internal/eventlog"
	"github.com/mixelka/jobmail-ingest/internal/llm"
	"github.com/mixelka/jobmail-ingest/internal/relevance"
	"github.com/mixelka/jobmail-ingest/internal/testutil"
	"github.com/mixelka/jobmail-ingest/pkg/models"
)

const (
	recruiter = "no-reply@greenhouse.io"
	interview = "Hi Alex, thank you for applying to Acme. We would like to schedule an interview " +
		"for the Backend Engineer role. Please pick a slot that works for you. "
)

func newService(t *testing.T, db *database.DB, mb *fakeMailbox, completer llm.ChatCompleter, mutate func(*Options)) *Service {
	t.Helper()

	events := eventlog.New(db, eventlog.Options{}, testutil.Logger())
	opts := Options{
		Mailbox:      "INBOX",
		BatchLimit:   50,
		FetchRetries: 2,
		FetchBackoff: time.Millisecond,
		ParseWorkers: 1,
		Relevance:    relevance.DefaultOptions(),
	}
	if mutate != nil {
		mutate(&opts)
	}

	var extractor Extractor
	if completer != nil {
		extractor = llm.NewExtractor(completer, llm.NewPricing(llm.Rate{}), "gpt-4o-mini", 4000, testutil.Logger())
	}

	s := NewService(db, events, func() Mailbox { return mb }, extractor, nil, opts, testutil.Logger())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s
}

// seedScenario adds a promotion, an interview invite and a message the LLM cannot answer
func seedScenario(mb *fakeMailbox) {
	promo := mb.add(100, "deals@shop.example", "50% off everything this weekend", "Big sale on shoes. Unsubscribe here.")
	promo.ListUnsubscribe = "<mailto:unsub@shop.example>"
	mb.add(101, recruiter, "Interview invitation", interview+"ref-101")
	mb.add(102, recruiter, "Interview availability", interview+markerInvalid)
}

func phases(t *testing.T, db *database.DB) []string {
	t.Helper()

	entries, err := db.ListLogAfter(context.Background(), 0, 1000)
	require.NoError(t, err)

	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, string(e.Phase)+":"+e.Status)
	}
	return out
}

func lastUID(t *testing.T, db *database.DB) uint32 {
	t.Helper()

	state, err := db.GetSyncState(context.Background(), "INBOX")
	if errors.Is(err, database.ErrNotFound) {
		return 0
	}
	require.NoError(t, err)
	return state.LastUID
}

func emailByUID(t *testing.T, db *database.DB, uid uint32) *models.Email {
	t.Helper()

	var e models.Email
	err := db.GetContext(context.Background(), &e, `SELECT * FROM emails WHERE mailbox = ? AND uid = ?`, "INBOX", uid)
	require.NoError(t, err)
	return &e
}

func countEmails(t *testing.T, db *database.DB) int {
	t.Helper()

	var n int
	require.NoError(t, db.GetContext(context.Background(), &n, `SELECT COUNT(*) FROM emails`))
	return n
}

func resetCursor(t *testing.T, db *database.DB) {
	t.Helper()

	_, err := db.ExecContext(context.Background(), `DELETE FROM mailbox_sync_state`)
	require.NoError(t, err)
}

func TestRun_FullPipeline(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDB(t)
	mb := newFakeMailbox()
	seedScenario(mb)
	completer := &scriptedCompleter{}
	s := newService(t, db, mb, completer, nil)

	rec, err := s.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, "done", rec.Status)
	assert.Equal(t, models.RunLive, rec.Kind)
	assert.Equal(t, 2, rec.Stored)
	assert.Equal(t, 1, rec.Skipped)
	assert.Equal(t, 1, rec.Parsed)
	assert.Equal(t, 1, rec.Errors)
	assert.Equal(t, 3*1100, rec.Tokens)
	assert.Greater(t, rec.CostUSD, 0.0)
	assert.Equal(t, uint32(102), lastUID(t, db))

	assert.Equal(t, []string{
		"schema_ensure:done",
		"run_start:start",
		"imap_connect:start",
		"imap_connect:done",
		"mailbox_open:start",
		"mailbox_open:done",
		"search:start",
		"search:done",
		"fetch:start",
		"fetch:skip_header",
		"fetch:stored",
		"fetch:stored",
		"fetch:done",
		"parse:start",
		"parse:parsed",
		"parse:error",
		"parse:done",
		"run_end:done",
	}, phases(t, db))

	// the promotion is decided on headers alone
	assert.Equal(t, []uint32{101, 102}, mb.fetchedUIDs())
	cached, err := db.GetHeaderCache(ctx, "INBOX", 100)
	require.NoError(t, err)
	assert.Equal(t, models.DecisionSkip, cached.Decision)

	parsed := emailByUID(t, db, 101)
	assert.Equal(t, models.ParseParsed, parsed.ParseStatus)
	assert.Equal(t, models.ClassInterview, parsed.Class)
	assert.Equal(t, "Acme", parsed.Vendor)
	assert.Contains(t, parsed.ParsedJSON, `"role":"Backend Engineer"`)

	failed := emailByUID(t, db, 102)
	assert.Equal(t, models.ParseError, failed.ParseStatus)
	assert.Equal(t, "I think this is an interview!", failed.ParseRaw)

	calls, err := db.ListCallsByEmail(ctx, failed.ID)
	require.NoError(t, err)
	assert.Len(t, calls, 2)
	assert.Equal(t, 3, completer.callCount())

	runs, err := db.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, rec.ID, runs[0].ID)

	m := s.Status()
	assert.False(t, m.InProgress)
	assert.Equal(t, "done", m.Status)
	assert.Equal(t, 3, m.Fetch.Candidates)
	assert.Equal(t, 1, m.Fetch.SkippedHeader)
	assert.Equal(t, 3, m.OpenAI.Calls)
}

func TestRun_IdempotentRerun(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDB(t)
	mb := newFakeMailbox()
	seedScenario(mb)
	completer := &scriptedCompleter{}
	s := newService(t, db, mb, completer, nil)

	_, err := s.Run(ctx)
	require.NoError(t, err)
	fetched := len(mb.fetchedUIDs())

	rec, err := s.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, "done", rec.Status)
	assert.Zero(t, rec.Stored)
	assert.Zero(t, rec.Parsed)
	assert.Equal(t, uint32(102), lastUID(t, db))
	assert.Equal(t, 2, countEmails(t, db))
	assert.Len(t, mb.fetchedUIDs(), fetched)
	assert.Equal(t, 3, completer.callCount())
}

func TestRun_CachedVerdictsAreReused(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDB(t)
	mb := newFakeMailbox()
	seedScenario(mb)
	mb.failFetch[101] = 2 // pins the cursor at 100
	s := newService(t, db, mb, nil, nil)

	_, err := s.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, uint32(100), lastUID(t, db))
	headerFetches := mb.headerFetchCount()

	// 101 and 102 come back as candidates and are decided from the cache
	rec, err := s.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, headerFetches, mb.headerFetchCount())
	assert.Equal(t, 1, rec.Stored)
	assert.Equal(t, 1, s.Status().Fetch.Duplicates)
	assert.Equal(t, uint32(102), lastUID(t, db))
}

func TestRun_PromotedSkipIsRevisited(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDB(t)
	mb := newFakeMailbox()
	seedScenario(mb)
	s := newService(t, db, mb, nil, nil)

	_, err := s.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, uint32(102), lastUID(t, db))
	assert.NotContains(t, mb.fetchedUIDs(), uint32(100))

	// promoting to skip leaves nothing to fetch
	require.NoError(t, s.Promote(ctx, 101, models.DecisionSkip))
	require.NoError(t, s.Promote(ctx, 100, models.DecisionRelevant))
	cached, err := db.GetHeaderCache(ctx, "INBOX", 100)
	require.NoError(t, err)
	assert.True(t, cached.PromotedPending)

	rec, err := s.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, rec.Stored)
	assert.Equal(t, 1, s.Status().Fetch.Promoted)
	assert.Contains(t, mb.fetchedUIDs(), uint32(100))
	assert.Equal(t, 3, countEmails(t, db))
	assert.Equal(t, uint32(102), lastUID(t, db))
	assert.Contains(t, phases(t, db), "fetch:promoted")

	cached, err = db.GetHeaderCache(ctx, "INBOX", 100)
	require.NoError(t, err)
	assert.False(t, cached.PromotedPending)

	// handled once
	fetched := len(mb.fetchedUIDs())
	rec, err = s.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, rec.Stored)
	assert.Len(t, mb.fetchedUIDs(), fetched)
}

func TestRun_PromotedFetchFailureIsRetried(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDB(t)
	mb := newFakeMailbox()
	seedScenario(mb)
	s := newService(t, db, mb, nil, nil)

	_, err := s.Run(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Promote(ctx, 100, models.DecisionAmbiguous))

	mb.failFetch[100] = 2
	rec, err := s.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Errors)
	cached, err := db.GetHeaderCache(ctx, "INBOX", 100)
	require.NoError(t, err)
	assert.True(t, cached.PromotedPending)

	// the content gate still judges an ambiguous promotion
	rec, err = s.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, rec.Errors)
	assert.Contains(t, phases(t, db), "fetch:skip_non_relevant")
	cached, err = db.GetHeaderCache(ctx, "INBOX", 100)
	require.NoError(t, err)
	assert.False(t, cached.PromotedPending)
	assert.Equal(t, uint32(102), lastUID(t, db))
}

func TestRun_NewModelVersionRescores(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDB(t)
	mb := newFakeMailbox()
	seedScenario(mb)

	_, err := newService(t, db, mb, nil, nil).Run(ctx)
	require.NoError(t, err)
	before := mb.headerFetchCount()

	resetCursor(t, db)
	s := newService(t, db, mb, nil, func(o *Options) { o.Relevance.ModelVersion = "h2" })
	_, err = s.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, before+3, mb.headerFetchCount())
	cached, err := db.GetHeaderCache(ctx, "INBOX", 100)
	require.NoError(t, err)
	assert.Equal(t, "h2", cached.ModelVersion)
}

func TestRun_ConnectFailure(t *testing.T) {
	db := testutil.NewTestDB(t)
	mb := newFakeMailbox()
	seedScenario(mb)
	mb.connectErr = errors.New("dial tcp: connection refused")
	s := newService(t, db, mb, &scriptedCompleter{}, nil)

	rec, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "error", rec.Status)
	assert.Contains(t, rec.Error, "connection refused")
	assert.Equal(t, []string{
		"schema_ensure:done",
		"run_start:start",
		"imap_connect:start",
		"imap_connect:error",
		"run_end:error",
	}, phases(t, db))
	assert.Zero(t, lastUID(t, db))
	assert.Zero(t, countEmails(t, db))
	assert.False(t, s.InProgress())
}

func TestRun_FetchErrorPinsCursor(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDB(t)
	mb := newFakeMailbox()
	seedScenario(mb)
	mb.failFetch[101] = 2
	s := newService(t, db, mb, nil, nil)

	rec, err := s.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, "done", rec.Status)
	assert.Equal(t, 1, rec.Stored)
	assert.Equal(t, 1, rec.Errors)
	assert.Equal(t, uint32(100), lastUID(t, db))
	assert.Contains(t, phases(t, db), "fetch:retry")
	assert.Contains(t, phases(t, db), "fetch:error")

	// the failed uid is picked up again and the stored one is recognised
	rec, err = s.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, rec.Stored)
	assert.Zero(t, rec.Errors)
	assert.Equal(t, 1, s.Status().Fetch.Duplicates)
	assert.Equal(t, uint32(102), lastUID(t, db))
	assert.Equal(t, 2, countEmails(t, db))
}

func TestRun_Conflict(t *testing.T) {
	db := testutil.NewTestDB(t)
	mb := newFakeMailbox()
	seedScenario(mb)
	mb.block = make(chan struct{})
	s := newService(t, db, mb, nil, nil)

	id, err := s.Trigger()
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.True(t, s.InProgress())

	_, err = s.Trigger()
	assert.ErrorIs(t, err, ErrRunInProgress)
	_, err = s.Run(context.Background())
	assert.ErrorIs(t, err, ErrRunInProgress)

	assert.Equal(t, id, s.Status().RunID)
	assert.True(t, s.Status().InProgress)

	close(mb.block)
	require.Eventually(t, func() bool { return !s.InProgress() }, 5*time.Second, 10*time.Millisecond)

	runs, err := db.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, id, runs[0].ID)
	assert.Equal(t, "done", runs[0].Status)
}

func TestRun_Cancel(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDB(t)
	mb := newFakeMailbox()
	seedScenario(mb)
	mb.add(102, recruiter, "Interview availability", interview+"ref-102")
	s := newService(t, db, mb, &scriptedCompleter{}, nil)

	assert.ErrorIs(t, s.Cancel(), ErrNoActiveRun)

	mb.onFetch = func(uid uint32) {
		if uid == 101 {
			_ = s.Cancel()
		}
	}
	rec, err := s.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, "cancelled", rec.Status)
	assert.Equal(t, 1, rec.Stored)
	assert.Zero(t, rec.Parsed)
	assert.Equal(t, uint32(101), lastUID(t, db))
	assert.NotContains(t, mb.fetchedUIDs(), uint32(102))
	assert.Contains(t, phases(t, db), "fetch:cancelled")
	assert.Equal(t, models.ParsePending, emailByUID(t, db, 101).ParseStatus)

	mb.onFetch = nil
	rec, err = s.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, "done", rec.Status)
	assert.Equal(t, 1, rec.Stored)
	assert.Equal(t, 2, rec.Parsed)
	assert.Equal(t, uint32(102), lastUID(t, db))
}

func TestRun_PanicReachesRunEnd(t *testing.T) {
	db := testutil.NewTestDB(t)
	mb := newFakeMailbox()
	seedScenario(mb)
	mb.panicOnOpen = true
	s := newService(t, db, mb, nil, nil)

	rec, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "error", rec.Status)
	assert.Contains(t, rec.Error, "select exploded")
	got := phases(t, db)
	assert.Equal(t, "run_end:error", got[len(got)-1])
	assert.False(t, s.InProgress())

	// the lock was released
	mb.panicOnOpen = false
	rec, err = s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "done", rec.Status)
}

func TestRun_ExtractionPanicLeavesEmailPending(t *testing.T) {
	db := testutil.NewTestDB(t)
	mb := newFakeMailbox()
	mb.add(101, recruiter, "Interview invitation", interview)
	s := newService(t, db, mb, &scriptedCompleter{panic: true}, nil)

	rec, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "done", rec.Status)
	assert.Equal(t, 1, rec.Errors)
	assert.Equal(t, models.ParsePending, emailByUID(t, db, 101).ParseStatus)
}

func TestRun_TransientExtractionFailureStaysPending(t *testing.T) {
	db := testutil.NewTestDB(t)
	mb := newFakeMailbox()
	mb.add(101, recruiter, "Interview invitation", interview+markerTimeout)
	s := newService(t, db, mb, &scriptedCompleter{}, nil)

	rec, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "done", rec.Status)
	assert.Zero(t, rec.Errors)
	assert.Equal(t, 1, s.Status().Parse.Retried)
	assert.Equal(t, 1, s.Status().Parse.PendingQueue)
	assert.Contains(t, phases(t, db), "parse:retry")
	assert.Equal(t, models.ParsePending, emailByUID(t, db, 101).ParseStatus)
}

func TestRun_RejectedCorrectionKeepsEarlierReply(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDB(t)
	mb := newFakeMailbox()
	mb.add(101, recruiter, "Interview invitation", interview+markerRejected)
	completer := &scriptedCompleter{}
	s := newService(t, db, mb, completer, nil)

	rec, err := s.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, rec.Errors)
	assert.Equal(t, 2, completer.callCount())
	assert.Contains(t, phases(t, db), "parse:error")

	failed := emailByUID(t, db, 101)
	assert.Equal(t, models.ParseError, failed.ParseStatus)
	assert.Equal(t, "Looks like an interview to me.", failed.ParseRaw)
	assert.Contains(t, failed.ParseError, "400")

	calls, err := db.ListCallsByEmail(ctx, failed.ID)
	require.NoError(t, err)
	assert.Len(t, calls, 2)
}

func TestRun_InitialSyncWindow(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDB(t)
	mb := newFakeMailbox()
	for uid := uint32(1); uid <= 10; uid++ {
		mb.add(uid, recruiter, "Interview invitation", interview)
	}
	s := newService(t, db, mb, nil, func(o *Options) {
		o.MaxInitialSync = 4
		o.BatchLimit = 3
	})

	rec, err := s.Run(ctx)
	require.NoError(t, err)

	// newest four are the window, the batch limit takes the oldest three of them
	assert.Equal(t, 3, rec.Stored)
	assert.Equal(t, []uint32{7, 8, 9}, mb.fetchedUIDs())
	assert.Equal(t, uint32(9), lastUID(t, db))

	state, err := db.GetBackfillState(ctx, "INBOX")
	require.NoError(t, err)
	assert.Equal(t, uint32(7), state.LowestUIDProcessed)
	assert.Equal(t, uint32(10), state.HighestUIDSeen)
}

func TestBackfill(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDB(t)
	mb := newFakeMailbox()
	for uid := uint32(1); uid <= 10; uid++ {
		msg := mb.add(uid, "deals@shop.example", "50% off everything this weekend", "Big sale. Unsubscribe here.")
		msg.ListUnsubscribe = "<mailto:unsub@shop.example>"
	}
	s := newService(t, db, mb, nil, func(o *Options) {
		o.MaxInitialSync = 3
		o.BatchLimit = 3
	})

	assert.ErrorIs(t, s.StartBackfill(ctx), ErrBackfillNotReady)

	_, err := s.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(10), lastUID(t, db))

	st, err := s.Backfill(ctx)
	require.NoError(t, err)
	require.NotNil(t, st.State)
	assert.Equal(t, uint32(8), st.State.LowestUIDProcessed)
	assert.False(t, st.Running)

	require.NoError(t, s.StartBackfill(ctx))
	require.Eventually(t, func() bool { return !s.locks.Held(s.backfillKey()) }, 5*time.Second, 10*time.Millisecond)

	st, err = s.Backfill(ctx)
	require.NoError(t, err)
	assert.True(t, st.Exhausted)
	assert.False(t, st.State.Active)
	assert.Equal(t, uint32(1), st.State.LowestUIDProcessed)
	assert.Equal(t, models.RunBackfill, st.Run.Kind)

	uids := []uint32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	cached, err := db.GetHeaderCacheMany(ctx, "INBOX", uids)
	require.NoError(t, err)
	assert.Len(t, cached, 10)

	// backfill never moves the live cursor
	assert.Equal(t, uint32(10), lastUID(t, db))

	runs, err := db.ListRuns(ctx, 10)
	require.NoError(t, err)
	backfills := 0
	for _, r := range runs {
		if r.Kind == models.RunBackfill {
			backfills++
		}
	}
	assert.Equal(t, 3, backfills)

	got := phases(t, db)
	assert.Contains(t, got, "backfill:start")
	assert.Equal(t, "backfill:done", got[len(got)-1])

	assert.ErrorIs(t, s.StartBackfill(ctx), ErrBackfillExhausted)
}

func TestBackfill_Stop(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDB(t)
	mb := newFakeMailbox()
	for uid := uint32(1); uid <= 10; uid++ {
		mb.add(uid, "deals@shop.example", "Weekly newsletter", "Read more. Unsubscribe here.")
	}
	s := newService(t, db, mb, nil, func(o *Options) {
		o.MaxInitialSync = 2
		o.BatchLimit = 2
	})
	_, err := s.Run(ctx)
	require.NoError(t, err)

	// hold the backfill inside its first batch until stop is requested
	mb.block = make(chan struct{})
	require.NoError(t, s.StartBackfill(ctx))
	assert.ErrorIs(t, s.StartBackfill(ctx), ErrBackfillActive)
	require.Eventually(t, func() bool { return s.status(models.RunBackfill).InProgress }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, s.StopBackfill(ctx))
	close(mb.block)
	require.Eventually(t, func() bool { return !s.locks.Held(s.backfillKey()) }, 5*time.Second, 10*time.Millisecond)

	st, err := s.Backfill(ctx)
	require.NoError(t, err)
	assert.False(t, st.State.Active)
	assert.False(t, st.Exhausted)
	assert.Equal(t, "cancelled", st.Run.Status)

	got := phases(t, db)
	assert.Equal(t, "backfill:cancelled", got[len(got)-1])
}

func TestShutdown_RejectsNewRuns(t *testing.T) {
	db := testutil.NewTestDB(t)
	s := newService(t, db, newFakeMailbox(), nil, nil)

	require.NoError(t, s.Shutdown(context.Background()))

	_, err := s.Trigger()
	assert.ErrorIs(t, err, ErrShuttingDown)
	_, err = s.Run(context.Background())
	assert.ErrorIs(t, err, ErrShuttingDown)
	assert.ErrorIs(t, s.StartBackfill(context.Background()), ErrShuttingDown)
	assert.Zero(t, countEmails(t, db))
}

func TestShutdown_WaitsForSynchronousRun(t *testing.T) {
	db := testutil.NewTestDB(t)
	mb := newFakeMailbox()
	seedScenario(mb)
	mb.block = make(chan struct{})
	s := newService(t, db, mb, nil, nil)

	runDone := make(chan *models.IngestRun, 1)
	go func() {
		rec, _ := s.Run(context.Background())
		runDone <- rec
	}()
	require.Eventually(t, func() bool { return s.Status().InProgress }, 5*time.Second, 10*time.Millisecond)

	shutdownDone := make(chan error, 1)
	go func() {
		shutdownDone <- s.Shutdown(context.Background())
	}()

	select {
	case <-shutdownDone:
		t.Fatal("shutdown returned while a run was still executing")
	case <-time.After(100 * time.Millisecond):
	}

	close(mb.block)
	require.NoError(t, <-shutdownDone)

	rec := <-runDone
	require.NotNil(t, rec)
	assert.Equal(t, "cancelled", rec.Status)
	assert.False(t, s.InProgress())
}

func TestRunLock(t *testing.T) {
	l := NewRunLock()

	release, ok := l.TryAcquire("INBOX")
	require.True(t, ok)
	assert.True(t, l.Held("INBOX"))

	_, ok = l.TryAcquire("INBOX")
	assert.False(t, ok)

	other, ok := l.TryAcquire("backfill:INBOX")
	require.True(t, ok)
	other()

	release()
	release()
	assert.False(t, l.Held("INBOX"))

	_, ok = l.TryAcquire("INBOX")
	assert.True(t, ok)
}

func TestMessageIDFallback(t *testing.T) {
	mb := newFakeMailbox()
	msg := mb.add(7, recruiter, "Interview", interview)
	msg.MessageID = " "

	id := messageID(msg, "Job Search")
	assert.True(t, strings.HasPrefix(id, "<uid-7.Job_Search@"))
}
