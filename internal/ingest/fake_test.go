package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"

	"github.com/mixelka/jobmail-ingest/internal/email"
	"github.com/mixelka/jobmail-ingest/internal/llm"
	"github.com/mixelka/jobmail-ingest/pkg/models"
)

// fakeMailbox is an in-memory IMAP mailbox
type fakeMailbox struct {
	mu          sync.Mutex
	messages    map[uint32]*email.Message
	connectErr  error
	failFetch   map[uint32]int // remaining FetchMessage failures per uid
	block       chan struct{}  // when set, Connect waits on it
	onFetch     func(uid uint32)
	panicOnOpen bool

	connects      int
	headerFetches []uint32
	fetched       []uint32
}

func newFakeMailbox() *fakeMailbox {
	return &fakeMailbox{messages: map[uint32]*email.Message{}, failFetch: map[uint32]int{}}
}

func (f *fakeMailbox) add(uid uint32, from, subject, body string) *email.Message {
	f.mu.Lock()
	defer f.mu.Unlock()

	msg := &email.Message{
		Header: email.Header{
			UID:       uid,
			MessageID: fmt.Sprintf("<%d@test.example>", uid),
			Subject:   subject,
			From:      email.Address{Address: from},
			Date:      time.Date(2026, 10, 1, 9, 0, int(uid%60), 0, time.UTC),
			Size:      uint32(len(body)),
		},
		To:       []email.Address{{Address: "me@example.com"}},
		BodyText: body,
	}
	f.messages[uid] = msg
	return msg
}

func (f *fakeMailbox) Connect(ctx context.Context) error {
	f.mu.Lock()
	block := f.block
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	return f.connectErr
}

func (f *fakeMailbox) Select(_ context.Context, mailbox string) (*imap.MailboxStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.panicOnOpen {
		panic("select exploded")
	}

	status := imap.NewMailboxStatus(mailbox, nil)
	status.Messages = uint32(len(f.messages))
	status.UidValidity = 1
	for uid := range f.messages {
		if uid >= status.UidNext {
			status.UidNext = uid + 1
		}
	}
	return status, nil
}

func (f *fakeMailbox) SearchUIDs(_ context.Context, from, to uint32) ([]uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var uids []uint32
	for uid := range f.messages {
		if uid >= from && (to == 0 || uid <= to) {
			uids = append(uids, uid)
		}
	}
	sortUIDs(uids)
	return uids, nil
}

func (f *fakeMailbox) FetchHeaders(_ context.Context, uids []uint32) ([]*email.Header, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*email.Header
	for _, uid := range uids {
		f.headerFetches = append(f.headerFetches, uid)
		if msg, ok := f.messages[uid]; ok {
			h := msg.Header
			out = append(out, &h)
		}
	}
	return out, nil
}

func (f *fakeMailbox) FetchMessage(_ context.Context, uid uint32) (*email.Message, error) {
	f.mu.Lock()
	hook := f.onFetch
	f.fetched = append(f.fetched, uid)
	if f.failFetch[uid] > 0 {
		f.failFetch[uid]--
		f.mu.Unlock()
		return nil, errors.New("connection reset by peer")
	}
	msg, ok := f.messages[uid]
	f.mu.Unlock()

	if hook != nil {
		hook(uid)
	}
	if !ok {
		return nil, fmt.Errorf("message uid %d not found", uid)
	}
	cp := *msg
	return &cp, nil
}

func (f *fakeMailbox) Close() error {
	return nil
}

func (f *fakeMailbox) fetchedUIDs() []uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint32(nil), f.fetched...)
}

func (f *fakeMailbox) headerFetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.headerFetches)
}

func sortUIDs(uids []uint32) {
	for i := 1; i < len(uids); i++ {
		for j := i; j > 0 && uids[j] < uids[j-1]; j-- {
			uids[j], uids[j-1] = uids[j-1], uids[j]
		}
	}
}

// scriptedCompleter answers with a valid job event unless the email body contains a
// marker that makes it reply with garbage or fail
type scriptedCompleter struct {
	mu    sync.Mutex
	calls int
	panic bool
}

const (
	markerInvalid  = "[invalid-json]"
	markerTimeout  = "[timeout]"
	markerRejected = "[rejected]" // garbage first, then a 400 on the correction
)

func (c *scriptedCompleter) Complete(_ context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()

	if c.panic {
		panic("completer exploded")
	}

	user := req.Messages[1].Content
	reply := `{"company":"Acme","role":"Backend Engineer","next_action":"Pick a slot","action_date":"2026-10-20",` +
		`"sentiment":"positive","summary":"Interview invitation from Acme.","class":"interview","confidence":0.9,"reason":"invite"}`
	switch {
	case strings.Contains(user, markerInvalid):
		reply = "I think this is an interview!"
	case strings.Contains(user, markerTimeout):
		return nil, context.DeadlineExceeded
	case strings.Contains(user, markerRejected):
		if len(req.Messages) > 2 {
			return nil, &llm.APIError{StatusCode: 400, Body: `{"error":{"message":"context too long"}}`}
		}
		reply = "Looks like an interview to me."
	}

	return &llm.ChatResponse{
		Model:   req.Model,
		Content: reply,
		Usage:   llm.Usage{PromptTokens: 1000, CompletionTokens: 100, TotalTokens: 1100},
		Raw:     []byte(`{"id":"chatcmpl-test"}`),
	}, nil
}

func (c *scriptedCompleter) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// fakeNotifier records notifications
type fakeNotifier struct {
	mu     sync.Mutex
	runs   []*models.IngestRun
	emails []*models.Email
}

func (n *fakeNotifier) RunFinished(_ context.Context, run *models.IngestRun) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.runs = append(n.runs, run)
}

func (n *fakeNotifier) EmailClassified(_ context.Context, e *models.Email) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.emails = append(n.emails, e)
}
