package ingest

import (
	"context"

	"github.com/emersion/go-imap"

	"github.com/mixelka/jobmail-ingest/internal/email"
	"github.com/mixelka/jobmail-ingest/internal/llm"
	"github.com/mixelka/jobmail-ingest/pkg/models"
)

// Mailbox is the IMAP session a run works against. *email.Client implements it.
type Mailbox interface {
	Connect(ctx context.Context) error
	Select(ctx context.Context, mailbox string) (*imap.MailboxStatus, error)
	SearchUIDs(ctx context.Context, from, to uint32) ([]uint32, error)
	FetchHeaders(ctx context.Context, uids []uint32) ([]*email.Header, error)
	FetchMessage(ctx context.Context, uid uint32) (*email.Message, error)
	Close() error
}

// Dialer creates a fresh, unconnected Mailbox for each run
type Dialer func() Mailbox

// Extractor runs the LLM extraction for one email. *llm.Extractor implements it.
type Extractor interface {
	Extract(ctx context.Context, in *llm.Input) *llm.Result
	Model() string
}

// Notifier is told about finished runs and notable emails
type Notifier interface {
	RunFinished(ctx context.Context, run *models.IngestRun)
	EmailClassified(ctx context.Context, e *models.Email)
}
