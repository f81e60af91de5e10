package formatter

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mixelka/jobmail-ingest/internal/database"
	"github.com/mixelka/jobmail-ingest/internal/ingest"
	"github.com/mixelka/jobmail-ingest/internal/llm"
	"github.com/mixelka/jobmail-ingest/pkg/models"
)

// TelegramFormatter formats ingestion events for Telegram
type TelegramFormatter struct {
	maxLength int
}

// NewTelegramFormatter creates a new Telegram formatter
func NewTelegramFormatter() *TelegramFormatter {
	return &TelegramFormatter{
		maxLength: 4000, // Leave room for markup
	}
}

var classTitles = map[models.Class]string{
	models.ClassInterview: "Приглашение на интервью",
	models.ClassOffer:     "Оффер",
	models.ClassRejection: "Отказ",
	models.ClassApplied:   "Отклик получен",
	models.ClassOther:     "Письмо по поиску работы",
}

var runTitles = map[string]string{
	"done":      "Прогон завершён",
	"error":     "Прогон завершён с ошибкой",
	"cancelled": "Прогон остановлен",
}

// FormatRun formats a finished run summary
func (f *TelegramFormatter) FormatRun(run *models.IngestRun) string {
	var sb strings.Builder

	title, ok := runTitles[run.Status]
	if !ok {
		title = "Прогон: " + run.Status
	}
	fmt.Fprintf(&sb, "<b>%s</b>", title)
	if run.Kind == models.RunBackfill {
		sb.WriteString(" (backfill)")
	}
	sb.WriteString("\n")

	fmt.Fprintf(&sb, "<b>Ящик:</b> %s\n", f.escapeHTML(run.Mailbox))
	fmt.Fprintf(&sb, "<b>Сохранено:</b> %d, <b>пропущено:</b> %d\n", run.Stored, run.Skipped)
	fmt.Fprintf(&sb, "<b>Разобрано:</b> %d, <b>ошибок:</b> %d\n", run.Parsed, run.Errors)
	if run.Tokens > 0 {
		fmt.Fprintf(&sb, "<b>Токены:</b> %d, <b>стоимость:</b> $%.4f\n", run.Tokens, run.CostUSD)
	}
	if !run.StartedAt.IsZero() && !run.EndedAt.IsZero() {
		fmt.Fprintf(&sb, "<b>Длительность:</b> %s\n", run.EndedAt.Sub(run.StartedAt).Round(time.Second))
	}
	if run.Error != "" {
		fmt.Fprintf(&sb, "\n<code>%s</code>", f.escapeHTML(f.truncate(run.Error, 500)))
	}

	return strings.TrimRight(sb.String(), "\n")
}

// FormatEmail formats an alert for a classified email. Extraction details come from
// the stored parsed JSON when it is present.
func (f *TelegramFormatter) FormatEmail(e *models.Email) string {
	var sb strings.Builder

	title, ok := classTitles[e.Class]
	if !ok {
		title = classTitles[models.ClassOther]
	}
	fmt.Fprintf(&sb, "<b>%s</b>\n", title)

	var x llm.Extraction
	hasExtraction := e.ParsedJSON != "" && json.Unmarshal([]byte(e.ParsedJSON), &x) == nil

	company := e.Vendor
	if hasExtraction && x.Company != "" {
		company = x.Company
	}
	if company != "" {
		fmt.Fprintf(&sb, "<b>Компания:</b> %s\n", f.escapeHTML(company))
	}
	if hasExtraction && x.Role != "" {
		fmt.Fprintf(&sb, "<b>Позиция:</b> %s\n", f.escapeHTML(x.Role))
	}
	fmt.Fprintf(&sb, "<b>От:</b> %s\n", f.escapeHTML(e.FromEmail))
	fmt.Fprintf(&sb, "<b>Тема:</b> %s\n", f.escapeHTML(e.Subject))
	if !e.Date.IsZero() {
		fmt.Fprintf(&sb, "<b>Дата:</b> %s\n", e.Date.Format("02.01.2006 15:04"))
	}

	if hasExtraction {
		if x.NextAction != "" {
			fmt.Fprintf(&sb, "\n<b>Следующий шаг:</b> %s", f.escapeHTML(x.NextAction))
			if x.ActionDate != "" {
				fmt.Fprintf(&sb, " (до %s)", f.escapeHTML(x.ActionDate))
			}
			sb.WriteString("\n")
		}
		if x.Summary != "" {
			sb.WriteString("\n")
			sb.WriteString(f.escapeHTML(f.truncate(x.Summary, f.maxLength-sb.Len()-50)))
		}
	}

	return strings.TrimRight(sb.String(), "\n")
}

// FormatStatus formats the current run state and the email counters
func (f *TelegramFormatter) FormatStatus(m ingest.Metrics, stats *database.EmailStats) string {
	var sb strings.Builder

	sb.WriteString("<b>Статус</b>\n")
	fmt.Fprintf(&sb, "<b>Ящик:</b> %s\n", f.escapeHTML(m.Env.Mailbox))

	switch {
	case m.InProgress:
		fmt.Fprintf(&sb, "<b>Прогон:</b> идёт, фаза <code>%s</code>\n", m.CurrentPhase)
		fmt.Fprintf(&sb, "Сохранено %d из %d кандидатов, разобрано %d\n", m.Fetch.Stored, m.Fetch.Candidates, m.Parse.Parsed)
	case m.RunID != "":
		fmt.Fprintf(&sb, "<b>Последний прогон:</b> %s", m.Status)
		if m.End != nil {
			fmt.Fprintf(&sb, " в %s", m.End.Format("02.01.2006 15:04"))
		}
		sb.WriteString("\n")
	default:
		sb.WriteString("<b>Прогон:</b> ещё не запускался\n")
	}

	if stats != nil {
		sb.WriteString("\n")
		fmt.Fprintf(&sb, "<b>Писем:</b> %d (разобрано %d, в очереди %d, ошибок %d)\n",
			stats.Total, stats.Parsed, stats.Pending, stats.Error)
		fmt.Fprintf(&sb, "<b>LLM:</b> %d вызовов, %d токенов, $%.4f\n", stats.Calls, stats.Tokens, stats.CostUSD)
		if stats.LastEmailAt != nil {
			fmt.Fprintf(&sb, "<b>Последнее письмо:</b> %s\n", stats.LastEmailAt.Format("02.01.2006 15:04"))
		}
	}

	return strings.TrimRight(sb.String(), "\n")
}

// escapeHTML escapes HTML special characters for Telegram
func (f *TelegramFormatter) escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

// truncate truncates text to maxLen characters
func (f *TelegramFormatter) truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = 100
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "…"
}
