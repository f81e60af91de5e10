package telegram

import (
	"context"
	"time"

	"github.com/mixelka/jobmail-ingest/internal/formatter"
	appmodels "github.com/mixelka/jobmail-ingest/pkg/models"
)

const notifyTimeout = 10 * time.Second

// RunFinished sends the run summary. Quiet runs that stored nothing and failed nothing are not reported.
func (b *Bot) RunFinished(ctx context.Context, run *appmodels.IngestRun) {
	if run.Status == "done" && run.Stored == 0 && run.Parsed == 0 && run.Errors == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()

	b.sendMessageWithKeyboard(ctx, b.chatID, 0, b.formatter.FormatRun(run), formatter.BuildControlKeyboard(false))
}

// EmailClassified alerts about an email the pipeline considers worth a look
func (b *Bot) EmailClassified(ctx context.Context, e *appmodels.Email) {
	ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()

	if _, err := b.sendMessage(ctx, b.chatID, 0, b.formatter.FormatEmail(e)); err == nil {
		b.logger.Info("email alert sent", "email_id", e.ID, "class", e.Class)
	}
}
